package domains

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/sbomify/sbomify/internal/config"
	workspacedomain "github.com/sbomify/sbomify/internal/workspace/domain"
	workspacerepo "github.com/sbomify/sbomify/internal/workspace/repository"
	"github.com/sbomify/sbomify/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func fixture(t *testing.T) (*Service, workspacedomain.Repository, *gorm.DB, *snowflake.Node) {
	t.Helper()
	dbConn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := dbConn.AutoMigrate(&workspacedomain.Workspace{}, &workspacedomain.Member{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create node: %v", err)
	}
	cfg := config.Config{
		AppName:           "sbomify",
		AppBaseURL:        "https://app.sbomify.com",
		ExtraAllowedHosts: []string{"testserver"},
		Region:            "test",
	}
	repo := workspacerepo.NewRepository(dbConn)
	return NewService(cfg, repo, zap.NewNop()), repo, dbConn, node
}

func seedWorkspace(t *testing.T, dbConn *gorm.DB, node *snowflake.Node, planKey, domain string) *workspacedomain.Workspace {
	t.Helper()
	ws := &workspacedomain.Workspace{
		ID:             node.Generate(),
		Key:            "ws_" + planKey,
		Name:           "Acme",
		BillingPlanKey: planKey,
		PlanLimits:     []byte("{}"),
	}
	if domain != "" {
		ws.CustomDomain = &domain
	}
	if err := dbConn.Create(ws).Error; err != nil {
		t.Fatalf("failed to seed workspace: %v", err)
	}
	return ws
}

func TestAdmitMainAndCustom(t *testing.T) {
	svc, _, dbConn, node := fixture(t)
	ws := seedWorkspace(t, dbConn, node, "business", "trust.acme.com")

	for _, host := range []string{"app.sbomify.com", "APP.SBOMIFY.COM:443", "localhost:8000", "testserver"} {
		admission, err := svc.Admit(context.Background(), host)
		if err != nil {
			t.Fatalf("%s: expected main admission, got %v", host, err)
		}
		if admission.Kind != KindMain {
			t.Fatalf("%s: expected main kind", host)
		}
	}

	admission, err := svc.Admit(context.Background(), "trust.acme.com:443")
	if err != nil {
		t.Fatalf("expected custom admission, got %v", err)
	}
	if admission.Kind != KindCustom || admission.Workspace.ID != ws.ID {
		t.Fatalf("expected workspace %s attached", ws.ID)
	}
}

func TestAdmitRejections(t *testing.T) {
	svc, _, _, _ := fixture(t)

	invalid := []string{"", "bad_host!", "tru st.acme.com", "[::1", "10.0.0.1", "[2001:db8::1]:443", "a..b"}
	for _, host := range invalid {
		if _, err := svc.Admit(context.Background(), host); !errors.Is(err, ErrInvalidHost) {
			t.Fatalf("%q: expected ErrInvalidHost, got %v", host, err)
		}
	}

	if _, err := svc.Admit(context.Background(), "unknown.example.com"); !errors.Is(err, ErrUnknownHost) {
		t.Fatalf("expected ErrUnknownHost, got %v", err)
	}
}

func TestNegativeCaching(t *testing.T) {
	svc, _, dbConn, node := fixture(t)

	if _, err := svc.Admit(context.Background(), "late.acme.com"); !errors.Is(err, ErrUnknownHost) {
		t.Fatalf("expected ErrUnknownHost, got %v", err)
	}

	// The workspace appears after the miss was cached; admission keeps
	// rejecting until the negative entry ages out.
	seedWorkspace(t, dbConn, node, "business", "late.acme.com")
	if _, err := svc.Admit(context.Background(), "late.acme.com"); !errors.Is(err, ErrUnknownHost) {
		t.Fatalf("expected cached rejection, got %v", err)
	}

	svc.lookups.Purge()
	if _, err := svc.Admit(context.Background(), "late.acme.com"); err != nil {
		t.Fatalf("expected admission after cache purge, got %v", err)
	}
}

func TestProbeMarksDomainValidated(t *testing.T) {
	svc, repo, dbConn, node := fixture(t)
	ws := seedWorkspace(t, dbConn, node, "business", "trust.acme.com")
	if ws.CustomDomainValidated {
		t.Fatal("seed should start unvalidated")
	}

	probe, err := svc.Probe(context.Background(), "trust.acme.com")
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if !probe.OK || probe.Domain != "trust.acme.com" || probe.Service != "sbomify" {
		t.Fatalf("unexpected probe payload: %+v", probe)
	}

	reloaded, err := repo.FindWorkspaceByID(context.Background(), ws.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !reloaded.CustomDomainValidated {
		t.Fatal("expected custom_domain_validated after probe")
	}
	if reloaded.CustomDomainLastCheckedAt == nil {
		t.Fatal("expected last-checked timestamp")
	}
	if reloaded.CustomDomainVerificationFailures != 0 {
		t.Fatal("expected failure counter reset")
	}
}

func TestEdgeCheckRequiresPaidPlan(t *testing.T) {
	svc, _, dbConn, node := fixture(t)
	seedWorkspace(t, dbConn, node, "business", "paid.acme.com")
	seedWorkspace(t, dbConn, node, config.PlanCommunity, "free.acme.com")

	if !svc.EdgeCheck(context.Background(), "app.sbomify.com") {
		t.Fatal("expected edge check to pass for the main host")
	}
	if !svc.EdgeCheck(context.Background(), "paid.acme.com") {
		t.Fatal("expected edge check to pass for a paid custom domain")
	}
	if svc.EdgeCheck(context.Background(), "free.acme.com") {
		t.Fatal("expected edge check to fail for a community custom domain")
	}
	if svc.EdgeCheck(context.Background(), "unknown.acme.com") {
		t.Fatal("expected edge check to fail for an unknown host")
	}
}

func TestSetCustomDomain(t *testing.T) {
	svc, repo, dbConn, node := fixture(t)
	ws := seedWorkspace(t, dbConn, node, "business", "")
	owner := node.Generate()
	if err := dbConn.Create(&workspacedomain.Member{
		ID: node.Generate(), WorkspaceID: ws.ID, UserID: owner, Role: workspacedomain.RoleOwner,
	}).Error; err != nil {
		t.Fatalf("failed to seed member: %v", err)
	}

	updated, err := svc.SetCustomDomain(context.Background(), owner, ws.Key, "Trust.Acme.Com")
	if err != nil {
		t.Fatalf("set custom domain failed: %v", err)
	}
	if updated.CustomDomain == nil || *updated.CustomDomain != "trust.acme.com" {
		t.Fatalf("expected normalized domain, got %v", updated.CustomDomain)
	}
	if updated.CustomDomainValidated {
		t.Fatal("a fresh domain must start unvalidated")
	}

	// The base host can never become someone's custom domain.
	if _, err := svc.SetCustomDomain(context.Background(), owner, ws.Key, "app.sbomify.com"); !errors.Is(err, ErrInvalidHost) {
		t.Fatalf("expected ErrInvalidHost, got %v", err)
	}

	outsider := node.Generate()
	if _, err := svc.SetCustomDomain(context.Background(), outsider, ws.Key, "other.acme.com"); !errors.Is(err, workspacedomain.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}

	// Community plans cannot attach a domain.
	free := seedWorkspace(t, dbConn, node, config.PlanCommunity, "")
	if err := dbConn.Create(&workspacedomain.Member{
		ID: node.Generate(), WorkspaceID: free.ID, UserID: owner, Role: workspacedomain.RoleOwner,
	}).Error; err != nil {
		t.Fatalf("failed to seed member: %v", err)
	}
	if _, err := svc.SetCustomDomain(context.Background(), owner, free.Key, "free.acme.com"); !errors.Is(err, workspacedomain.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for community plan, got %v", err)
	}

	// Clearing drops the domain and its cache entry.
	cleared, err := svc.SetCustomDomain(context.Background(), owner, ws.Key, "")
	if err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if cleared.CustomDomain != nil {
		t.Fatal("expected domain cleared")
	}
	reloaded, err := repo.FindWorkspaceByKey(context.Background(), ws.Key)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.CustomDomain != nil {
		t.Fatal("expected cleared domain persisted")
	}
}
