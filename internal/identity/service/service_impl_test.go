package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sbomify/sbomify/internal/config"
	"github.com/sbomify/sbomify/internal/identity/domain"
	"github.com/sbomify/sbomify/internal/identity/repository"
	"github.com/sbomify/sbomify/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()

	dbConn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := dbConn.AutoMigrate(&domain.User{}, &domain.Session{}, &domain.AccessToken{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}

	cfg := config.Config{AppSecret: "test-secret", TokenIssuer: "sbomify"}
	svc := NewService(dbConn, repository.NewRepository(dbConn), node, nil, cfg, zap.NewNop())
	return svc, dbConn
}

func login(t *testing.T, svc domain.Service, externalID, email, sessionID string) {
	t.Helper()
	err := svc.HandleProviderEvent(context.Background(), domain.ProviderEvent{
		Kind:       domain.ProviderEventLogin,
		ExternalID: externalID,
		Email:      email,
		Name:       "Test User",
		SessionID:  sessionID,
	})
	if err != nil {
		t.Fatalf("failed to handle login event: %v", err)
	}
}

func TestResolveSession(t *testing.T) {
	svc, _ := newTestService(t)
	login(t, svc, "ext-1", "alice@example.com", "sess-1")

	user, err := svc.ResolveSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("failed to resolve session: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("expected alice@example.com, got %s", user.Email)
	}
}

func TestResolveSessionUnknown(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.ResolveSession(context.Background(), "nope"); err != domain.ErrInvalidSession {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestResolveSessionExpired(t *testing.T) {
	svc, dbConn := newTestService(t)
	login(t, svc, "ext-1", "alice@example.com", "sess-1")

	if err := dbConn.Model(&domain.Session{}).
		Where("id = ?", "sess-1").
		Update("expires_at", time.Now().Add(-time.Hour)).Error; err != nil {
		t.Fatalf("failed to expire session: %v", err)
	}

	if _, err := svc.ResolveSession(context.Background(), "sess-1"); err != domain.ErrSessionExpired {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}

	// The expired row is reaped, so a second resolve no longer
	// distinguishes expiry from absence.
	if _, err := svc.ResolveSession(context.Background(), "sess-1"); err != domain.ErrInvalidSession {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestCreateAndResolveBearer(t *testing.T) {
	svc, _ := newTestService(t)
	login(t, svc, "ext-1", "alice@example.com", "sess-1")

	alice, err := svc.ResolveSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("failed to resolve session: %v", err)
	}

	minted, err := svc.CreateToken(context.Background(), alice.ID, domain.CreateTokenRequest{Description: "ci"})
	if err != nil {
		t.Fatalf("failed to create token: %v", err)
	}
	if minted.Token == "" {
		t.Fatal("expected token value on mint")
	}

	user, err := svc.ResolveBearer(context.Background(), minted.Token)
	if err != nil {
		t.Fatalf("failed to resolve bearer: %v", err)
	}
	if user.ID != alice.ID {
		t.Fatalf("expected user %s, got %s", alice.ID, user.ID)
	}
}

func TestResolveBearerTampered(t *testing.T) {
	svc, _ := newTestService(t)
	login(t, svc, "ext-1", "alice@example.com", "sess-1")

	alice, _ := svc.ResolveSession(context.Background(), "sess-1")
	minted, err := svc.CreateToken(context.Background(), alice.ID, domain.CreateTokenRequest{Description: "ci"})
	if err != nil {
		t.Fatalf("failed to create token: %v", err)
	}

	tampered := minted.Token[:len(minted.Token)-2] + "xx"
	if _, err := svc.ResolveBearer(context.Background(), tampered); err != domain.ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := svc.ResolveBearer(context.Background(), "garbage"); err != domain.ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestResolveBearerRevoked(t *testing.T) {
	svc, _ := newTestService(t)
	login(t, svc, "ext-1", "alice@example.com", "sess-1")

	alice, _ := svc.ResolveSession(context.Background(), "sess-1")
	minted, err := svc.CreateToken(context.Background(), alice.ID, domain.CreateTokenRequest{Description: "ci"})
	if err != nil {
		t.Fatalf("failed to create token: %v", err)
	}

	tokenID, err := snowflake.ParseString(minted.ID)
	if err != nil {
		t.Fatalf("failed to parse token id: %v", err)
	}
	if err := svc.DeleteToken(context.Background(), alice.ID, tokenID); err != nil {
		t.Fatalf("failed to delete token: %v", err)
	}

	// A valid signature does not survive revocation.
	if _, err := svc.ResolveBearer(context.Background(), minted.Token); err != domain.ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestListTokensOmitsValue(t *testing.T) {
	svc, _ := newTestService(t)
	login(t, svc, "ext-1", "alice@example.com", "sess-1")

	alice, _ := svc.ResolveSession(context.Background(), "sess-1")
	if _, err := svc.CreateToken(context.Background(), alice.ID, domain.CreateTokenRequest{Description: "ci"}); err != nil {
		t.Fatalf("failed to create token: %v", err)
	}

	tokens, err := svc.ListTokens(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("failed to list tokens: %v", err)
	}
	if len(tokens) != 1 {
		t.Fatalf("expected 1 token, got %d", len(tokens))
	}
	if tokens[0].Token != "" {
		t.Fatal("expected token value to be omitted on list")
	}
}

func TestDeleteAccountDeactivates(t *testing.T) {
	svc, _ := newTestService(t)
	login(t, svc, "ext-1", "alice@example.com", "sess-1")

	alice, _ := svc.ResolveSession(context.Background(), "sess-1")
	minted, err := svc.CreateToken(context.Background(), alice.ID, domain.CreateTokenRequest{Description: "ci"})
	if err != nil {
		t.Fatalf("failed to create token: %v", err)
	}

	err = svc.HandleProviderEvent(context.Background(), domain.ProviderEvent{
		Kind:       domain.ProviderEventDeleteAccount,
		ExternalID: "ext-1",
	})
	if err != nil {
		t.Fatalf("failed to handle delete event: %v", err)
	}

	if _, err := svc.ResolveSession(context.Background(), "sess-1"); err != domain.ErrInvalidSession {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
	if _, err := svc.ResolveBearer(context.Background(), minted.Token); err != domain.ErrUserInactive {
		t.Fatalf("expected ErrUserInactive, got %v", err)
	}
}

func TestUpdateProfileUpserts(t *testing.T) {
	svc, _ := newTestService(t)
	login(t, svc, "ext-1", "alice@example.com", "sess-1")

	err := svc.HandleProviderEvent(context.Background(), domain.ProviderEvent{
		Kind:       domain.ProviderEventUpdateProfile,
		ExternalID: "ext-1",
		Email:      "alice+new@example.com",
		Name:       "Alice Renamed",
	})
	if err != nil {
		t.Fatalf("failed to handle update event: %v", err)
	}

	user, err := svc.GetUserByEmail(context.Background(), "alice+new@example.com")
	if err != nil {
		t.Fatalf("failed to get user by email: %v", err)
	}
	if user.Name != "Alice Renamed" {
		t.Fatalf("expected renamed user, got %s", user.Name)
	}
}

func TestHandleProviderEventUnknownKind(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.HandleProviderEvent(context.Background(), domain.ProviderEvent{
		Kind:       "SOMETHING_ELSE",
		ExternalID: "ext-1",
	})
	if err != domain.ErrInvalidEvent {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}
