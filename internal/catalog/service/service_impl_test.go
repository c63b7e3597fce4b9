package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/sbomify/sbomify/internal/billing/domain"
	billingservice "github.com/sbomify/sbomify/internal/billing/service"
	"github.com/sbomify/sbomify/internal/catalog/domain"
	"github.com/sbomify/sbomify/internal/catalog/repository"
	"github.com/sbomify/sbomify/internal/config"
	"github.com/sbomify/sbomify/internal/events"
	identitydomain "github.com/sbomify/sbomify/internal/identity/domain"
	identityrepo "github.com/sbomify/sbomify/internal/identity/repository"
	identityservice "github.com/sbomify/sbomify/internal/identity/service"
	"github.com/sbomify/sbomify/internal/providers/email"
	releasedomain "github.com/sbomify/sbomify/internal/release/domain"
	"github.com/sbomify/sbomify/internal/storage"
	workspacedomain "github.com/sbomify/sbomify/internal/workspace/domain"
	workspacerepo "github.com/sbomify/sbomify/internal/workspace/repository"
	workspaceservice "github.com/sbomify/sbomify/internal/workspace/service"
	"github.com/sbomify/sbomify/pkg/db"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fixture struct {
	svc    domain.Service
	repo   domain.Repository
	wsRepo workspacedomain.Repository
	users  identitydomain.Service
	db     *gorm.DB
	node   *snowflake.Node

	owner     snowflake.ID
	workspace *workspacedomain.Workspace
}

func newFixture(t *testing.T, planKey string) *fixture {
	t.Helper()

	dbConn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, dbConn.AutoMigrate(
		&identitydomain.User{}, &identitydomain.Session{},
		&workspacedomain.Workspace{}, &workspacedomain.Member{}, &workspacedomain.Invitation{},
		&domain.Product{}, &domain.Project{}, &domain.Component{},
		&domain.SBOM{}, &domain.Document{},
		&releasedomain.Release{}, &releasedomain.ReleaseArtifact{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.Config{
		AppSecret:      "test-secret",
		AppBaseURL:     "http://localhost:8000",
		BillingEnabled: true,
	}
	catalog, err := config.NewPlanCatalogHolder()
	require.NoError(t, err)

	users := identityservice.NewService(dbConn, identityrepo.NewRepository(dbConn), node, nil, cfg, zap.NewNop())
	wsRepo := workspacerepo.NewRepository(dbConn)
	store, err := storage.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	workspaces := workspaceservice.NewService(dbConn, wsRepo, identityrepo.NewRepository(dbConn), node, cfg, catalog, &email.NoOpProvider{}, store, zap.NewNop())

	repo := repository.NewRepository(dbConn)
	billing := billingservice.NewService(
		dbConn, wsRepo, users, nil, repo, catalog, cfg, &email.NoOpProvider{}, nil, zap.NewNop(),
	)

	svc := NewService(dbConn, repo, wsRepo, billing, store, events.NoOpBroadcaster{}, nil, node, cfg, zap.NewNop())

	f := &fixture{svc: svc, repo: repo, wsRepo: wsRepo, users: users, db: dbConn, node: node}

	require.NoError(t, users.HandleProviderEvent(context.Background(), identitydomain.ProviderEvent{
		Kind:       identitydomain.ProviderEventLogin,
		ExternalID: "owner",
		Email:      "owner@example.com",
		Name:       "Owner",
	}))
	owner, err := users.GetUserByEmail(context.Background(), "owner@example.com")
	require.NoError(t, err)
	f.owner = owner.ID

	created, err := workspaces.Create(context.Background(), owner.ID, workspacedomain.CreateWorkspaceRequest{Name: "Acme"})
	require.NoError(t, err)
	ws, err := wsRepo.FindWorkspaceByKey(context.Background(), created.Key)
	require.NoError(t, err)

	if planKey != config.PlanCommunity {
		plan, ok := catalog.Get().Find(planKey)
		require.True(t, ok)
		snapshot := billingdomain.SnapshotFromPlan(plan, billingdomain.StatusActive, time.Now().UTC())
		raw, err := json.Marshal(snapshot)
		require.NoError(t, err)
		ws.BillingPlanKey = planKey
		ws.PlanLimits = datatypes.JSON(raw)
		require.NoError(t, wsRepo.UpdateWorkspace(context.Background(), ws))
	}
	f.workspace = ws
	return f
}

func cycloneDX(version, name, componentVersion string) []byte {
	return []byte(fmt.Sprintf(`{
		"bomFormat": "CycloneDX",
		"specVersion": %q,
		"version": 1,
		"metadata": {
			"component": {"type": "application", "name": %q, "version": %q},
			"supplier": {"name": "Acme Corp", "url": ["https://acme.example"]},
			"authors": [{"name": "Build Bot", "email": "build@acme.example"}],
			"licenses": [{"expression": "Apache-2.0"}]
		},
		"components": []
	}`, version, name, componentVersion))
}

func spdx(version, name string) []byte {
	return []byte(fmt.Sprintf(`{
		"spdxVersion": %q,
		"SPDXID": "SPDXRef-DOCUMENT",
		"name": %q,
		"dataLicense": "CC0-1.0",
		"creationInfo": {"created": "2026-01-01T00:00:00Z", "creators": ["Tool: acme-ci"]},
		"packages": [{"name": %q, "versionInfo": "2.0.1", "supplier": "Organization: Acme Corp", "licenseDeclared": "MIT"}]
	}`, version, name, name))
}

func TestCreateComponentVisibilityRules(t *testing.T) {
	community := newFixture(t, config.PlanCommunity)

	// The free plan may never hold non-public items.
	_, err := community.svc.CreateComponent(context.Background(), community.owner, community.workspace.ID, domain.CreateComponentRequest{
		Name:       "backend",
		Visibility: domain.VisibilityGated,
	})
	require.ErrorIs(t, err, domain.ErrPlanRestricted)

	_, err = community.svc.CreateComponent(context.Background(), community.owner, community.workspace.ID, domain.CreateComponentRequest{
		Name:       "backend",
		Visibility: domain.VisibilityPublic,
	})
	require.NoError(t, err)

	business := newFixture(t, "business")
	_, err = business.svc.CreateComponent(context.Background(), business.owner, business.workspace.ID, domain.CreateComponentRequest{
		Name:       "backend",
		Visibility: domain.VisibilityGated,
	})
	require.NoError(t, err)
}

func TestComponentPlanLimit(t *testing.T) {
	f := newFixture(t, config.PlanCommunity)

	// Community caps components at five.
	for i := 0; i < 5; i++ {
		_, err := f.svc.CreateComponent(context.Background(), f.owner, f.workspace.ID, domain.CreateComponentRequest{
			Name:       fmt.Sprintf("component-%d", i),
			Visibility: domain.VisibilityPublic,
		})
		require.NoError(t, err)
	}

	_, err := f.svc.CreateComponent(context.Background(), f.owner, f.workspace.ID, domain.CreateComponentRequest{
		Name:       "one-too-many",
		Visibility: domain.VisibilityPublic,
	})
	var limitErr *billingdomain.PlanLimitError
	require.ErrorAs(t, err, &limitErr)
	require.Equal(t, int64(5), limitErr.Limit)
}

func TestDuplicateNameRejected(t *testing.T) {
	f := newFixture(t, "business")

	_, err := f.svc.CreateProduct(context.Background(), f.owner, f.workspace.ID, domain.CreateProductRequest{Name: "Widget"})
	require.NoError(t, err)
	_, err = f.svc.CreateProduct(context.Background(), f.owner, f.workspace.ID, domain.CreateProductRequest{Name: "Widget"})
	require.ErrorIs(t, err, domain.ErrDuplicateName)
}

func TestPublicContainmentInvariants(t *testing.T) {
	f := newFixture(t, "business")
	ctx := context.Background()

	project, err := f.svc.CreateProject(ctx, f.owner, f.workspace.ID, domain.CreateProjectRequest{Name: "core", IsPublic: true})
	require.NoError(t, err)
	private, err := f.svc.CreateComponent(ctx, f.owner, f.workspace.ID, domain.CreateComponentRequest{
		Name: "internal-lib", Visibility: domain.VisibilityPrivate,
	})
	require.NoError(t, err)

	// A public project may not take a private component.
	err = f.svc.AssignComponent(ctx, f.owner, project.ID, private.ID)
	require.ErrorIs(t, err, domain.ErrVisibilityViolation)

	public, err := f.svc.CreateComponent(ctx, f.owner, f.workspace.ID, domain.CreateComponentRequest{
		Name: "public-lib", Visibility: domain.VisibilityPublic,
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.AssignComponent(ctx, f.owner, project.ID, public.ID))

	// A contained component cannot go non-public afterwards either.
	gated := domain.VisibilityGated
	_, err = f.svc.UpdateComponent(ctx, f.owner, public.ID, domain.UpdateComponentRequest{Visibility: &gated})
	require.ErrorIs(t, err, domain.ErrVisibilityViolation)

	// Nor can a public product take a non-public project.
	product, err := f.svc.CreateProduct(ctx, f.owner, f.workspace.ID, domain.CreateProductRequest{Name: "Widget", IsPublic: true})
	require.NoError(t, err)
	hidden, err := f.svc.CreateProject(ctx, f.owner, f.workspace.ID, domain.CreateProjectRequest{Name: "hidden"})
	require.NoError(t, err)
	err = f.svc.AssignProject(ctx, f.owner, product.ID, hidden.ID)
	require.ErrorIs(t, err, domain.ErrVisibilityViolation)

	// And a contained project cannot go private under a public product.
	require.NoError(t, f.svc.AssignProject(ctx, f.owner, product.ID, project.ID))
	notPublic := false
	_, err = f.svc.UpdateProject(ctx, f.owner, project.ID, domain.UpdateProjectRequest{IsPublic: &notPublic})
	require.ErrorIs(t, err, domain.ErrVisibilityViolation)
}

func TestUploadSBOMFormats(t *testing.T) {
	f := newFixture(t, "business")
	ctx := context.Background()

	component, err := f.svc.CreateComponent(ctx, f.owner, f.workspace.ID, domain.CreateComponentRequest{
		Name: "backend", Visibility: domain.VisibilityPublic,
	})
	require.NoError(t, err)

	record, err := f.svc.UploadSBOM(ctx, f.owner, component.ID, cycloneDX("1.5", "backend", "1.2.3"), "api")
	require.NoError(t, err)
	require.Equal(t, domain.FormatCycloneDX, record.Format)
	require.Equal(t, "1.5", record.FormatVersion)
	require.Equal(t, "1.2.3", record.Version)

	// Same (component, version, format) is a conflict.
	_, err = f.svc.UploadSBOM(ctx, f.owner, component.ID, cycloneDX("1.5", "backend", "1.2.3"), "api")
	require.ErrorIs(t, err, domain.ErrDuplicateSBOM)

	spdxRecord, err := f.svc.UploadSBOM(ctx, f.owner, component.ID, spdx("SPDX-2.3", "backend"), "api")
	require.NoError(t, err)
	require.Equal(t, domain.FormatSPDX, spdxRecord.Format)
	require.Equal(t, "2.0.1", spdxRecord.Version)

	// Round trip through the object store.
	raw, err := f.svc.DownloadSBOM(ctx, record.ID)
	require.NoError(t, err)
	require.JSONEq(t, string(cycloneDX("1.5", "backend", "1.2.3")), string(raw))
}

func TestUploadSBOMErrorKinds(t *testing.T) {
	f := newFixture(t, "business")
	ctx := context.Background()

	component, err := f.svc.CreateComponent(ctx, f.owner, f.workspace.ID, domain.CreateComponentRequest{
		Name: "backend", Visibility: domain.VisibilityPublic,
	})
	require.NoError(t, err)

	_, err = f.svc.UploadSBOM(ctx, f.owner, component.ID, []byte("not json"), "api")
	require.ErrorIs(t, err, domain.ErrInvalidFormat)

	_, err = f.svc.UploadSBOM(ctx, f.owner, component.ID, cycloneDX("1.1", "backend", "1.0.0"), "api")
	require.ErrorIs(t, err, domain.ErrUnsupportedVersion)

	_, err = f.svc.UploadSBOM(ctx, f.owner, component.ID, spdx("SPDX-9.9", "backend"), "api")
	require.ErrorIs(t, err, domain.ErrUnsupportedVersion)

	_, err = f.svc.UploadSBOM(ctx, f.owner, component.ID, []byte(`{"some":"json"}`), "api")
	require.ErrorIs(t, err, domain.ErrInvalidFormat)
}

func TestDeleteComponentCascades(t *testing.T) {
	f := newFixture(t, "business")
	ctx := context.Background()

	component, err := f.svc.CreateComponent(ctx, f.owner, f.workspace.ID, domain.CreateComponentRequest{
		Name: "backend", Visibility: domain.VisibilityPublic,
	})
	require.NoError(t, err)
	record, err := f.svc.UploadSBOM(ctx, f.owner, component.ID, cycloneDX("1.6", "backend", "2.0.0"), "api")
	require.NoError(t, err)

	// Seed a release artifact referencing the SBOM.
	release := &releasedomain.Release{ID: f.node.Generate(), ProductID: f.node.Generate(), Name: "v1", Slug: "v1"}
	require.NoError(t, f.db.Create(release).Error)
	require.NoError(t, f.db.Create(&releasedomain.ReleaseArtifact{
		ID: f.node.Generate(), ReleaseID: release.ID, SBOMID: &record.ID,
	}).Error)

	require.NoError(t, f.svc.DeleteComponent(ctx, f.owner, component.ID))

	var sboms, artifacts int64
	require.NoError(t, f.db.Model(&domain.SBOM{}).Where("component_id = ?", component.ID).Count(&sboms).Error)
	require.NoError(t, f.db.Model(&releasedomain.ReleaseArtifact{}).Count(&artifacts).Error)
	require.Zero(t, sboms)
	require.Zero(t, artifacts)
	_, err = f.svc.GetComponent(ctx, component.ID)
	require.ErrorIs(t, err, domain.ErrComponentNotFound)
}

func TestMergedMetadata(t *testing.T) {
	f := newFixture(t, "business")
	ctx := context.Background()

	component, err := f.svc.CreateComponent(ctx, f.owner, f.workspace.ID, domain.CreateComponentRequest{
		Name:       "backend",
		Visibility: domain.VisibilityPublic,
		Metadata: &domain.Metadata{
			Manufacturer: &domain.Entity{Name: "Acme Manufacturing"},
			Licenses:     []string{"GPL-3.0"},
		},
	})
	require.NoError(t, err)
	record, err := f.svc.UploadSBOM(ctx, f.owner, component.ID, cycloneDX("1.5", "backend", "1.2.3"), "api")
	require.NoError(t, err)

	// Default mode: the SBOM wins where it has data, yields where
	// it is empty.
	merged, err := f.svc.MergedMetadata(ctx, component.ID, record.ID, false)
	require.NoError(t, err)
	require.Equal(t, "Acme Corp", merged.Supplier.Name)
	require.Equal(t, []string{"Apache-2.0"}, merged.Licenses)
	require.Equal(t, "Acme Manufacturing", merged.Manufacturer.Name)

	componentWins, err := f.svc.MergedMetadata(ctx, component.ID, record.ID, true)
	require.NoError(t, err)
	require.Equal(t, []string{"GPL-3.0"}, componentWins.Licenses)
	require.Equal(t, "Acme Corp", componentWins.Supplier.Name)
}

func TestFetchNDAReturnsPinnedHash(t *testing.T) {
	f := newFixture(t, "business")
	ctx := context.Background()

	component, err := f.svc.CreateComponent(ctx, f.owner, f.workspace.ID, domain.CreateComponentRequest{
		Name:          "legal",
		Visibility:    domain.VisibilityPublic,
		ComponentType: domain.ComponentTypeDocument,
		IsGlobal:      true,
	})
	require.NoError(t, err)

	content := []byte("mutual nda v1")
	doc, err := f.svc.UploadDocument(ctx, f.owner, domain.UploadDocumentRequest{
		ComponentID:  component.ID,
		Name:         "Mutual NDA",
		DocumentType: "nda",
		ContentType:  "application/pdf",
		Content:      content,
	})
	require.NoError(t, err)

	hash, fetched, err := f.svc.FetchNDA(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, doc.ContentHash, hash)
	require.Equal(t, content, fetched)
}

func TestEffectiveComponentVisibility(t *testing.T) {
	f := newFixture(t, "business")
	ctx := context.Background()

	component, err := f.svc.CreateComponent(ctx, f.owner, f.workspace.ID, domain.CreateComponentRequest{
		Name: "backend", Visibility: domain.VisibilityPublic,
	})
	require.NoError(t, err)

	// Unassigned public component is public.
	visibility, err := f.svc.EffectiveComponentVisibility(ctx, component.ID)
	require.NoError(t, err)
	require.Equal(t, domain.VisibilityPublic, visibility)

	// Inside a private project it is effectively private.
	project, err := f.svc.CreateProject(ctx, f.owner, f.workspace.ID, domain.CreateProjectRequest{Name: "core"})
	require.NoError(t, err)
	require.NoError(t, f.svc.AssignComponent(ctx, f.owner, project.ID, component.ID))
	visibility, err = f.svc.EffectiveComponentVisibility(ctx, component.ID)
	require.NoError(t, err)
	require.Equal(t, domain.VisibilityPrivate, visibility)

	// Making the chain public restores it.
	isPublic := true
	_, err = f.svc.UpdateProject(ctx, f.owner, project.ID, domain.UpdateProjectRequest{IsPublic: &isPublic})
	require.NoError(t, err)
	visibility, err = f.svc.EffectiveComponentVisibility(ctx, component.ID)
	require.NoError(t, err)
	require.Equal(t, domain.VisibilityPublic, visibility)
}

// countingGate stands in for the billing service and records the
// count the plan gate saw on each call.
type countingGate struct {
	billingdomain.Service

	limit int64
	seen  []int64
}

func (g *countingGate) CanCreateCounted(_ context.Context, ws *workspacedomain.Workspace, kind billingdomain.ResourceKind, current int64) error {
	g.seen = append(g.seen, current)
	if current+1 > g.limit {
		return &billingdomain.PlanLimitError{Kind: kind, Current: current, Limit: g.limit, PlanKey: ws.BillingPlanKey}
	}
	return nil
}

func TestCreateCountsUnderWorkspaceLock(t *testing.T) {
	f := newFixture(t, "business")
	gate := &countingGate{limit: 1}
	store, err := storage.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	svc := NewService(
		f.db, f.repo, f.wsRepo, gate, store, events.NoOpBroadcaster{}, nil, f.node,
		config.Config{AppSecret: "test-secret", BillingEnabled: true}, zap.NewNop(),
	)
	ctx := context.Background()

	_, err = svc.CreateProduct(ctx, f.owner, f.workspace.ID, domain.CreateProductRequest{Name: "Widget"})
	require.NoError(t, err)

	_, err = svc.CreateProduct(ctx, f.owner, f.workspace.ID, domain.CreateProductRequest{Name: "Gadget"})
	var limitErr *billingdomain.PlanLimitError
	require.ErrorAs(t, err, &limitErr)

	// The gate sees the count taken inside the insert transaction,
	// so the committed winner is visible to the loser's check.
	require.Equal(t, []int64{0, 1}, gate.seen)

	count, err := f.repo.CountResources(ctx, f.workspace.ID, billingdomain.ResourceProducts)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}
