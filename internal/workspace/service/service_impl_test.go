package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/sbomify/sbomify/internal/billing/domain"
	"github.com/sbomify/sbomify/internal/config"
	identitydomain "github.com/sbomify/sbomify/internal/identity/domain"
	identityrepo "github.com/sbomify/sbomify/internal/identity/repository"
	identityservice "github.com/sbomify/sbomify/internal/identity/service"
	"github.com/sbomify/sbomify/internal/providers/email"
	"github.com/sbomify/sbomify/internal/storage"
	"github.com/sbomify/sbomify/internal/workspace/domain"
	"github.com/sbomify/sbomify/internal/workspace/repository"
	"github.com/sbomify/sbomify/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc   domain.Service
	users identitydomain.Service
	db    *gorm.DB
	node  *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dbConn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	err = dbConn.AutoMigrate(
		&identitydomain.User{}, &identitydomain.Session{}, &identitydomain.AccessToken{},
		&domain.Workspace{}, &domain.Member{}, &domain.Invitation{},
	)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}

	cfg := config.Config{
		AppSecret:      "test-secret",
		TokenIssuer:    "sbomify",
		AppBaseURL:     "http://localhost:8000",
		BillingEnabled: true,
	}
	catalog, err := config.NewPlanCatalogHolder()
	if err != nil {
		t.Fatalf("failed to build plan catalog: %v", err)
	}

	users := identityservice.NewService(dbConn, identityrepo.NewRepository(dbConn), node, nil, cfg, zap.NewNop())
	store, err := storage.NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	svc := NewService(dbConn, repository.NewRepository(dbConn), identityrepo.NewRepository(dbConn), node, cfg, catalog, &email.NoOpProvider{}, store, zap.NewNop())

	return &fixture{svc: svc, users: users, db: dbConn, node: node}
}

func (f *fixture) newUser(t *testing.T, externalID, address string) snowflake.ID {
	t.Helper()
	err := f.users.HandleProviderEvent(context.Background(), identitydomain.ProviderEvent{
		Kind:       identitydomain.ProviderEventLogin,
		ExternalID: externalID,
		Email:      address,
		Name:       "User " + externalID,
	})
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	user, err := f.users.GetUserByEmail(context.Background(), address)
	if err != nil {
		t.Fatalf("failed to load user: %v", err)
	}
	return user.ID
}

func TestCreateWorkspaceOwnerAndSnapshot(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "ext-1", "alice@example.com")

	ws, err := f.svc.Create(context.Background(), alice, domain.CreateWorkspaceRequest{Name: "Acme"})
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	if ws.BillingPlanKey != config.PlanCommunity {
		t.Fatalf("expected community plan, got %s", ws.BillingPlanKey)
	}
	if ws.Key == "" || ws.Key == ws.ID {
		t.Fatal("expected an obfuscated workspace key")
	}

	stored, err := f.svc.GetByKey(context.Background(), ws.Key)
	if err != nil {
		t.Fatalf("failed to load workspace: %v", err)
	}
	var limits billingdomain.PlanLimits
	if err := json.Unmarshal(stored.PlanLimits, &limits); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if limits.MaxComponents == nil || *limits.MaxComponents != 5 {
		t.Fatalf("expected community max_components=5, got %v", limits.MaxComponents)
	}

	member, err := f.svc.GetMember(context.Background(), stored.ID, alice)
	if err != nil {
		t.Fatalf("failed to load member: %v", err)
	}
	if member.Role != domain.RoleOwner || !member.IsDefault {
		t.Fatalf("expected default owner membership, got %+v", member)
	}
}

func TestBrandingLogoRoundTrip(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "ext-1", "alice@example.com")
	bob := f.newUser(t, "ext-2", "bob@example.com")

	ws, err := f.svc.Create(context.Background(), alice, domain.CreateWorkspaceRequest{Name: "Acme"})
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}

	logo := []byte("<svg xmlns=\"http://www.w3.org/2000/svg\"/>")
	if _, err := f.svc.UploadLogo(context.Background(), bob, ws.Key, "image/svg+xml", logo); err != domain.ErrNotAuthorized {
		t.Fatalf("expected not_authorized for outsider, got %v", err)
	}
	if _, err := f.svc.UploadLogo(context.Background(), alice, ws.Key, "text/plain", logo); err != domain.ErrUnsupportedMedia {
		t.Fatalf("expected unsupported_media, got %v", err)
	}

	filename, err := f.svc.UploadLogo(context.Background(), alice, ws.Key, "image/svg+xml", logo)
	if err != nil {
		t.Fatalf("failed to upload logo: %v", err)
	}
	if filename == "" {
		t.Fatal("expected a stored filename")
	}

	content, contentType, err := f.svc.GetLogo(context.Background(), ws.Key)
	if err != nil {
		t.Fatalf("failed to read logo: %v", err)
	}
	if contentType != "image/svg+xml" || string(content) != string(logo) {
		t.Fatalf("logo round trip mismatch: %s %q", contentType, content)
	}
}

func TestSetDefaultSingleDefaultInvariant(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "ext-1", "alice@example.com")

	first, _ := f.svc.Create(context.Background(), alice, domain.CreateWorkspaceRequest{Name: "First"})
	second, _ := f.svc.Create(context.Background(), alice, domain.CreateWorkspaceRequest{Name: "Second"})

	if err := f.svc.SetDefault(context.Background(), alice, second.Key); err != nil {
		t.Fatalf("failed to set default: %v", err)
	}
	// Idempotent.
	if err := f.svc.SetDefault(context.Background(), alice, second.Key); err != nil {
		t.Fatalf("second set default failed: %v", err)
	}

	items, err := f.svc.ListMemberships(context.Background(), alice)
	if err != nil {
		t.Fatalf("failed to list memberships: %v", err)
	}
	defaults := 0
	for _, item := range items {
		if item.IsDefault {
			defaults++
			if item.WorkspaceKey != second.Key {
				t.Fatalf("expected %s default, got %s", second.Key, item.WorkspaceKey)
			}
		}
	}
	if defaults != 1 {
		t.Fatalf("expected exactly one default, got %d", defaults)
	}
	_ = first
}

func TestDeleteWorkspaceGuards(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "ext-1", "alice@example.com")

	only, _ := f.svc.Create(context.Background(), alice, domain.CreateWorkspaceRequest{Name: "Only"})
	if err := f.svc.Delete(context.Background(), alice, only.Key); err != domain.ErrDefaultWorkspace {
		t.Fatalf("expected ErrDefaultWorkspace, got %v", err)
	}

	second, _ := f.svc.Create(context.Background(), alice, domain.CreateWorkspaceRequest{Name: "Second"})
	if err := f.svc.SetDefault(context.Background(), alice, second.Key); err != nil {
		t.Fatalf("failed to set default: %v", err)
	}

	// Not default anymore and another membership exists, so it goes.
	if err := f.svc.Delete(context.Background(), alice, only.Key); err != nil {
		t.Fatalf("failed to delete workspace: %v", err)
	}

	if err := f.svc.Delete(context.Background(), alice, second.Key); err != domain.ErrDefaultWorkspace {
		t.Fatalf("expected ErrDefaultWorkspace on remaining default, got %v", err)
	}
}

func TestRemoveMemberLastOwnerGuard(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "ext-1", "alice@example.com")

	ws, _ := f.svc.Create(context.Background(), alice, domain.CreateWorkspaceRequest{Name: "Acme"})

	if err := f.svc.RemoveMember(context.Background(), alice, ws.Key, alice); err != domain.ErrLastOwner {
		t.Fatalf("expected ErrLastOwner, got %v", err)
	}
}

func TestInvitationLifecycle(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "ext-1", "alice@example.com")
	bob := f.newUser(t, "ext-2", "bob@example.com")

	ws, _ := f.svc.Create(context.Background(), alice, domain.CreateWorkspaceRequest{Name: "Acme"})

	if _, err := f.svc.Invite(context.Background(), bob, ws.Key, domain.InviteRequest{Email: "x@example.com", Role: "member"}); err != domain.ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized for non-member inviter, got %v", err)
	}

	inv, err := f.svc.Invite(context.Background(), alice, ws.Key, domain.InviteRequest{Email: "bob@example.com", Role: "member"})
	if err != nil {
		t.Fatalf("failed to invite: %v", err)
	}

	var stored domain.Invitation
	if err := f.db.First(&stored, "id = ?", inv.ID).Error; err != nil {
		t.Fatalf("failed to load invitation: %v", err)
	}

	carol := f.newUser(t, "ext-3", "carol@example.com")
	if _, err := f.svc.AcceptInvitation(context.Background(), carol, stored.Token); err != domain.ErrEmailMismatch {
		t.Fatalf("expected ErrEmailMismatch, got %v", err)
	}

	item, err := f.svc.AcceptInvitation(context.Background(), bob, stored.Token)
	if err != nil {
		t.Fatalf("failed to accept invitation: %v", err)
	}
	if item.Role != domain.RoleMember {
		t.Fatalf("expected member role, got %s", item.Role)
	}

	// Consumed invitations are deleted.
	if _, err := f.svc.AcceptInvitation(context.Background(), bob, stored.Token); err != domain.ErrInvitationNotFound {
		t.Fatalf("expected ErrInvitationNotFound, got %v", err)
	}
}

func TestAcceptInvitationExpired(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "ext-1", "alice@example.com")
	bob := f.newUser(t, "ext-2", "bob@example.com")

	ws, _ := f.svc.Create(context.Background(), alice, domain.CreateWorkspaceRequest{Name: "Acme"})
	inv, err := f.svc.Invite(context.Background(), alice, ws.Key, domain.InviteRequest{Email: "bob@example.com", Role: "member"})
	if err != nil {
		t.Fatalf("failed to invite: %v", err)
	}

	var stored domain.Invitation
	if err := f.db.First(&stored, "id = ?", inv.ID).Error; err != nil {
		t.Fatalf("failed to load invitation: %v", err)
	}
	if err := f.db.Model(&domain.Invitation{}).
		Where("id = ?", stored.ID).
		Update("expires_at", time.Now().Add(-time.Hour)).Error; err != nil {
		t.Fatalf("failed to expire invitation: %v", err)
	}

	if _, err := f.svc.AcceptInvitation(context.Background(), bob, stored.Token); err != domain.ErrInvitationExpired {
		t.Fatalf("expected ErrInvitationExpired, got %v", err)
	}
}

func TestAcceptInvitationSeatLimit(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "ext-1", "alice@example.com")

	// Community allows 2 users.
	ws, _ := f.svc.Create(context.Background(), alice, domain.CreateWorkspaceRequest{Name: "Acme"})

	bob := f.newUser(t, "ext-2", "bob@example.com")
	invBob, _ := f.svc.Invite(context.Background(), alice, ws.Key, domain.InviteRequest{Email: "bob@example.com", Role: "member"})
	var storedBob domain.Invitation
	f.db.First(&storedBob, "id = ?", invBob.ID)
	if _, err := f.svc.AcceptInvitation(context.Background(), bob, storedBob.Token); err != nil {
		t.Fatalf("failed to accept: %v", err)
	}

	carol := f.newUser(t, "ext-3", "carol@example.com")
	invCarol, _ := f.svc.Invite(context.Background(), alice, ws.Key, domain.InviteRequest{Email: "carol@example.com", Role: "member"})
	var storedCarol domain.Invitation
	f.db.First(&storedCarol, "id = ?", invCarol.ID)
	if _, err := f.svc.AcceptInvitation(context.Background(), carol, storedCarol.Token); err != domain.ErrSeatLimit {
		t.Fatalf("expected ErrSeatLimit, got %v", err)
	}
}

func TestUpsertGuestIdempotent(t *testing.T) {
	f := newFixture(t)
	alice := f.newUser(t, "ext-1", "alice@example.com")
	bob := f.newUser(t, "ext-2", "bob@example.com")

	ws, _ := f.svc.Create(context.Background(), alice, domain.CreateWorkspaceRequest{Name: "Acme"})
	stored, _ := f.svc.GetByKey(context.Background(), ws.Key)

	for i := 0; i < 3; i++ {
		if err := f.svc.UpsertGuest(context.Background(), stored.ID, bob); err != nil {
			t.Fatalf("failed to upsert guest: %v", err)
		}
	}

	member, err := f.svc.GetMember(context.Background(), stored.ID, bob)
	if err != nil {
		t.Fatalf("failed to load member: %v", err)
	}
	if member.Role != domain.RoleGuest {
		t.Fatalf("expected guest role, got %s", member.Role)
	}
}
