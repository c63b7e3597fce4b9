package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sbomify/sbomify/internal/accessrequest"
	accessrequestdomain "github.com/sbomify/sbomify/internal/accessrequest/domain"
	"github.com/sbomify/sbomify/internal/authorization"
	"github.com/sbomify/sbomify/internal/billing"
	billingdomain "github.com/sbomify/sbomify/internal/billing/domain"
	"github.com/sbomify/sbomify/internal/catalog"
	catalogdomain "github.com/sbomify/sbomify/internal/catalog/domain"
	"github.com/sbomify/sbomify/internal/config"
	"github.com/sbomify/sbomify/internal/domains"
	"github.com/sbomify/sbomify/internal/events"
	"github.com/sbomify/sbomify/internal/identity"
	identitydomain "github.com/sbomify/sbomify/internal/identity/domain"
	"github.com/sbomify/sbomify/internal/migration"
	"github.com/sbomify/sbomify/internal/observability"
	obsmiddleware "github.com/sbomify/sbomify/internal/observability/logger"
	obsmetrics "github.com/sbomify/sbomify/internal/observability/metrics"
	obstracing "github.com/sbomify/sbomify/internal/observability/tracing"
	"github.com/sbomify/sbomify/internal/providers/email"
	"github.com/sbomify/sbomify/internal/release"
	releasedomain "github.com/sbomify/sbomify/internal/release/domain"
	"github.com/sbomify/sbomify/internal/signedurl"
	"github.com/sbomify/sbomify/internal/storage"
	"github.com/sbomify/sbomify/internal/workspace"
	workspacedomain "github.com/sbomify/sbomify/internal/workspace/domain"
	"github.com/sbomify/sbomify/pkg/db"
	"github.com/sbomify/sbomify/pkg/redisconn"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	config.Module,
	observability.Module,
	db.Module,
	redisconn.Module,
	migration.Module,
	fx.Provide(newNode),
	fx.Provide(registerGin),
	authorization.Module,
	events.Module,
	storage.Module,
	email.Module,
	identity.Module,
	workspace.Module,
	billing.Module,
	catalog.Module,
	accessrequest.Module,
	signedurl.Module,
	release.Module,
	domains.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func newNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    ":8000",
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	log          *zap.Logger
	identitySvc  identitydomain.Service
	workspaceSvc workspacedomain.Service
	billingSvc   billingdomain.Service
	catalogSvc   catalogdomain.Service
	accessReqSvc accessrequestdomain.Service
	releaseSvc   releasedomain.Service
	domainsSvc   *domains.Service
	authzSvc     authorization.Service
	signer       *signedurl.Signer
	hub          *events.Hub
	metrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	Log          *zap.Logger
	IdentitySvc  identitydomain.Service
	WorkspaceSvc workspacedomain.Service
	BillingSvc   billingdomain.Service
	CatalogSvc   catalogdomain.Service
	AccessReqSvc accessrequestdomain.Service
	ReleaseSvc   releasedomain.Service
	DomainsSvc   *domains.Service
	AuthzSvc     authorization.Service
	Signer       *signedurl.Signer
	Hub          *events.Hub
	Metrics      *obsmetrics.Metrics
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		log:          p.Log.Named("http.server"),
		identitySvc:  p.IdentitySvc,
		workspaceSvc: p.WorkspaceSvc,
		billingSvc:   p.BillingSvc,
		catalogSvc:   p.CatalogSvc,
		accessReqSvc: p.AccessReqSvc,
		releaseSvc:   p.ReleaseSvc,
		domainsSvc:   p.DomainsSvc,
		authzSvc:     p.AuthzSvc,
		signer:       p.Signer,
		hub:          p.Hub,
		metrics:      p.Metrics,
	}

	s.registerWellKnownRoutes()
	s.registerAPIRoutes()
	s.registerPublicRoutes()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWellKnownRoutes() {
	s.engine.GET("/.well-known/com.sbomify.domain-check", s.DomainCheck)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")
	api.Use(s.HostAdmission())

	// Edge layer. Unauthenticated, protected by network policy.
	api.GET("/internal/domains", s.EdgeDomainCheck)

	// Inbound webhooks authenticate themselves.
	api.POST("/billing/webhook", s.BillingWebhook)
	api.POST("/identity/webhook", s.IdentityWebhook)

	// -------- Artifact reads (resolver-gated, anonymous allowed) --------
	api.GET("/sboms/:sbom_id", s.AuthOptional(), s.GetSBOM)
	api.GET("/sboms/:sbom_id/download", s.AuthOptional(), s.DownloadSBOM)
	api.GET("/sboms/:sbom_id/download/signed", s.DownloadSBOMSigned)
	api.GET("/documents/:document_id", s.AuthOptional(), s.GetDocument)
	api.GET("/documents/:document_id/download", s.AuthOptional(), s.DownloadDocument)
	api.GET("/documents/:document_id/download/signed", s.DownloadDocumentSigned)

	// -------- Artifact uploads --------
	api.POST("/artifact/cyclonedx/:component_id", s.AuthRequired(), s.UploadCycloneDX)
	api.POST("/artifact/spdx/:component_id", s.AuthRequired(), s.UploadSPDX)
	api.POST("/components/:id/documents", s.AuthRequired(), s.UploadDocument)

	// -------- Catalog --------
	api.GET("/workspaces/:key/products", s.AuthRequired(), s.ListProducts)
	api.POST("/workspaces/:key/products", s.AuthRequired(), s.CreateProduct)
	api.GET("/products/:id", s.AuthOptional(), s.GetProduct)
	api.PATCH("/products/:id", s.AuthRequired(), s.UpdateProduct)
	api.DELETE("/products/:id", s.AuthRequired(), s.DeleteProduct)
	api.POST("/products/:id/projects/:project_id", s.AuthRequired(), s.AssignProject)
	api.DELETE("/products/:id/projects/:project_id", s.AuthRequired(), s.UnassignProject)

	api.GET("/workspaces/:key/projects", s.AuthRequired(), s.ListProjects)
	api.POST("/workspaces/:key/projects", s.AuthRequired(), s.CreateProject)
	api.PATCH("/projects/:id", s.AuthRequired(), s.UpdateProject)
	api.DELETE("/projects/:id", s.AuthRequired(), s.DeleteProject)
	api.POST("/projects/:id/components/:component_id", s.AuthRequired(), s.AssignComponent)
	api.DELETE("/projects/:id/components/:component_id", s.AuthRequired(), s.UnassignComponent)

	api.GET("/workspaces/:key/components", s.AuthRequired(), s.ListComponents)
	api.POST("/workspaces/:key/components", s.AuthRequired(), s.CreateComponent)
	api.GET("/components/:id", s.AuthRequired(), s.GetComponent)
	api.PATCH("/components/:id", s.AuthRequired(), s.UpdateComponent)
	api.DELETE("/components/:id", s.AuthRequired(), s.DeleteComponent)
	api.GET("/components/:id/sboms", s.AuthRequired(), s.ListComponentSBOMs)
	api.GET("/components/:id/documents", s.AuthRequired(), s.ListComponentDocuments)
	api.GET("/components/:id/metadata", s.AuthRequired(), s.MergedComponentMetadata)

	// -------- Releases --------
	api.GET("/products/:id/releases", s.AuthOptional(), s.ListReleases)
	api.POST("/products/:id/releases", s.AuthRequired(), s.CreateRelease)
	api.GET("/products/:id/releases/:slug", s.AuthOptional(), s.GetReleaseBySlug)
	api.GET("/releases/:id", s.AuthOptional(), s.GetRelease)
	api.PATCH("/releases/:id", s.AuthRequired(), s.UpdateRelease)
	api.DELETE("/releases/:id", s.AuthRequired(), s.DeleteRelease)
	api.GET("/releases/:id/artifacts", s.AuthOptional(), s.ListReleaseArtifacts)
	api.POST("/releases/:id/artifacts", s.AuthRequired(), s.AddReleaseArtifact)
	api.DELETE("/releases/:id/artifacts/:artifact_id", s.AuthRequired(), s.RemoveReleaseArtifact)
	api.GET("/releases/:id/download", s.AuthOptional(), s.DownloadRelease)

	// -------- Access requests --------
	api.POST("/teams/:team_key/access-request", s.AuthOptional(), s.CreateAccessRequest)
	api.GET("/teams/:team_key/access-request", s.AuthRequired(), s.GetOwnAccessRequest)
	api.POST("/teams/:team_key/access-request/:id/sign-nda", s.AuthRequired(), s.SignNDA)
	api.POST("/access-requests/:id/approve", s.AuthRequired(), s.ApproveAccessRequest)
	api.POST("/access-requests/:id/reject", s.AuthRequired(), s.RejectAccessRequest)
	api.POST("/access-requests/:id/revoke", s.AuthRequired(), s.RevokeAccessRequest)
	api.GET("/workspaces/:key/access-requests", s.AuthRequired(), s.ListAccessRequests)
	api.GET("/workspaces/:key/access-requests/pending-count", s.AuthRequired(), s.PendingAccessRequests)

	// -------- Workspaces --------
	api.POST("/workspaces", s.AuthRequired(), s.CreateWorkspace)
	api.GET("/workspaces", s.AuthRequired(), s.ListMemberships)
	api.GET("/workspaces/:key", s.AuthRequired(), s.GetWorkspace)
	api.PATCH("/workspaces/:key", s.AuthRequired(), s.RenameWorkspace)
	api.DELETE("/workspaces/:key", s.AuthRequired(), s.DeleteWorkspace)
	api.POST("/workspaces/:key/default", s.AuthRequired(), s.SetDefaultWorkspace)
	api.PATCH("/workspaces/:key/members/:user_id", s.AuthRequired(), s.ChangeMemberRole)
	api.DELETE("/workspaces/:key/members/:user_id", s.AuthRequired(), s.RemoveMember)
	api.POST("/workspaces/:key/invitations", s.AuthRequired(), s.InviteMember)
	api.GET("/workspaces/:key/invitations", s.AuthRequired(), s.ListInvitations)
	api.POST("/invitations/:token/accept", s.AuthRequired(), s.AcceptInvitation)
	api.POST("/invitations/:token/decline", s.DeclineInvitation)
	api.PUT("/workspaces/:key/branding", s.AuthRequired(), s.UpdateBranding)
	api.PUT("/workspaces/:key/branding/logo", s.AuthRequired(), s.UploadBrandingLogo)
	api.GET("/workspaces/:key/branding/logo", s.BrandingLogo)
	api.PUT("/workspaces/:key/nda-document", s.AuthRequired(), s.SetCompanyNDADocument)
	api.PUT("/workspaces/:key/custom-domain", s.AuthRequired(), s.SetCustomDomain)
	api.GET("/workspaces/:key/events", s.AuthRequired(), s.WorkspaceEvents)

	// -------- Billing --------
	api.GET("/workspaces/:key/billing", s.AuthRequired(), s.BillingOverview)
	api.GET("/billing/return", s.AuthRequired(), s.CheckoutReturn)

	// -------- Identity --------
	api.GET("/me", s.AuthRequired(), s.Me)
	api.GET("/tokens", s.AuthRequired(), s.ListTokens)
	api.POST("/tokens", s.AuthRequired(), s.CreateToken)
	api.DELETE("/tokens/:id", s.AuthRequired(), s.DeleteToken)
}

func (s *Server) registerPublicRoutes() {
	// Clean URLs on admitted custom domains; the ID form serves the
	// same page on the main host.
	s.engine.GET("/product/:slug", s.HostAdmission(), s.AuthOptional(), s.PublicProductBySlug)
	s.engine.GET("/public/product/:id", s.HostAdmission(), s.AuthOptional(), s.PublicProductByID)
}
