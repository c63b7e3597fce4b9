package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	accessrequestdomain "github.com/sbomify/sbomify/internal/accessrequest/domain"
	catalogdomain "github.com/sbomify/sbomify/internal/catalog/domain"
	"github.com/sbomify/sbomify/internal/config"
	"github.com/sbomify/sbomify/internal/events"
	"github.com/sbomify/sbomify/internal/observability/metrics"
	"github.com/sbomify/sbomify/internal/release/domain"
	"github.com/sbomify/sbomify/internal/signedurl"
	workspacedomain "github.com/sbomify/sbomify/internal/workspace/domain"
	pkgdb "github.com/sbomify/sbomify/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// latestSlug is reserved for the implicit rolling release.
const latestSlug = "latest"

type service struct {
	db         *gorm.DB
	repo       domain.Repository
	catalog    catalogdomain.Repository
	visibility catalogdomain.Service
	workspaces workspacedomain.Repository
	requests   accessrequestdomain.Repository
	signer     *signedurl.Signer
	broadcast  events.Broadcaster
	metrics    *metrics.Metrics
	node       *snowflake.Node
	cfg        config.Config
	log        *zap.Logger
}

func NewService(
	gormDB *gorm.DB,
	repo domain.Repository,
	catalog catalogdomain.Repository,
	visibility catalogdomain.Service,
	workspaces workspacedomain.Repository,
	requests accessrequestdomain.Repository,
	signer *signedurl.Signer,
	broadcast events.Broadcaster,
	m *metrics.Metrics,
	node *snowflake.Node,
	cfg config.Config,
	log *zap.Logger,
) domain.Service {
	return &service{
		db:         gormDB,
		repo:       repo,
		catalog:    catalog,
		visibility: visibility,
		workspaces: workspaces,
		requests:   requests,
		signer:     signer,
		broadcast:  broadcast,
		metrics:    m,
		node:       node,
		cfg:        cfg,
		log:        log.Named("release.service"),
	}
}

func (s *service) Create(ctx context.Context, actorID, productID snowflake.ID, req domain.CreateReleaseRequest) (*domain.Release, error) {
	product, err := s.catalog.FindProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, actorID, product.WorkspaceID, workspacedomain.ActionManageCatalog); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidArgument
	}
	releaseSlug := slug.Make(name)
	if releaseSlug == latestSlug {
		return nil, domain.ErrInvalidArgument
	}

	release := &domain.Release{
		ID:           s.node.Generate(),
		ProductID:    productID,
		Name:         name,
		Slug:         releaseSlug,
		Description:  strings.TrimSpace(req.Description),
		IsPrerelease: req.IsPrerelease,
	}
	if err := s.repo.CreateRelease(ctx, release); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateName
		}
		return nil, err
	}
	s.emit(ctx, product.WorkspaceID, events.TypeReleaseCreated, map[string]any{
		"release_id": release.ID.String(),
		"product_id": productID.String(),
		"name":       release.Name,
	})
	return release, nil
}

func (s *service) Update(ctx context.Context, actorID, releaseID snowflake.ID, req domain.UpdateReleaseRequest) (*domain.Release, error) {
	release, product, err := s.releaseWithProduct(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	if release.IsLatest {
		return nil, domain.ErrLatestProtected
	}
	if _, err := s.requireRole(ctx, actorID, product.WorkspaceID, workspacedomain.ActionManageCatalog); err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidArgument
		}
		newSlug := slug.Make(name)
		if newSlug == latestSlug {
			return nil, domain.ErrInvalidArgument
		}
		release.Name = name
		release.Slug = newSlug
	}
	if req.Description != nil {
		release.Description = strings.TrimSpace(*req.Description)
	}
	if req.IsPrerelease != nil {
		release.IsPrerelease = *req.IsPrerelease
	}

	release.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateRelease(ctx, release); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateName
		}
		return nil, err
	}
	s.emit(ctx, product.WorkspaceID, events.TypeReleaseUpdated, map[string]any{
		"release_id": release.ID.String(),
		"product_id": release.ProductID.String(),
	})
	return release, nil
}

func (s *service) Delete(ctx context.Context, actorID, releaseID snowflake.ID) error {
	release, product, err := s.releaseWithProduct(ctx, releaseID)
	if err != nil {
		return err
	}
	if release.IsLatest {
		return domain.ErrLatestProtected
	}
	if _, err := s.requireRole(ctx, actorID, product.WorkspaceID, workspacedomain.ActionManageCatalog); err != nil {
		return err
	}
	if err := s.repo.DeleteRelease(ctx, releaseID); err != nil {
		return err
	}
	s.emit(ctx, product.WorkspaceID, events.TypeReleaseDeleted, map[string]any{
		"release_id": release.ID.String(),
		"product_id": release.ProductID.String(),
	})
	return nil
}

func (s *service) Get(ctx context.Context, releaseID snowflake.ID) (*domain.Release, error) {
	return s.repo.FindReleaseByID(ctx, releaseID)
}

func (s *service) GetBySlug(ctx context.Context, productID snowflake.ID, releaseSlug string) (*domain.Release, error) {
	if releaseSlug == latestSlug {
		return s.Latest(ctx, productID)
	}
	return s.repo.FindReleaseBySlug(ctx, productID, releaseSlug)
}

func (s *service) List(ctx context.Context, productID snowflake.ID) ([]domain.Release, error) {
	if _, err := s.Latest(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListReleasesByProduct(ctx, productID)
}

// Latest materializes the rolling release row on first read. Its
// artifact set is never stored; reads resolve the newest SBOM per
// (component, format) at query time.
func (s *service) Latest(ctx context.Context, productID snowflake.ID) (*domain.Release, error) {
	release, err := s.repo.FindLatestRelease(ctx, productID)
	if err == nil {
		return release, nil
	}
	if !errors.Is(err, domain.ErrReleaseNotFound) {
		return nil, err
	}

	if _, err := s.catalog.FindProductByID(ctx, productID); err != nil {
		return nil, err
	}
	release = &domain.Release{
		ID:          s.node.Generate(),
		ProductID:   productID,
		Name:        "Latest",
		Slug:        latestSlug,
		Description: "Rolling release tracking the newest upload per component.",
		IsLatest:    true,
	}
	if err := s.repo.CreateRelease(ctx, release); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			// Lost the materialization race; the winner's row serves.
			return s.repo.FindLatestRelease(ctx, productID)
		}
		return nil, err
	}
	return release, nil
}

func (s *service) AddArtifact(ctx context.Context, actorID, releaseID snowflake.ID, req domain.AddArtifactRequest) (*domain.ReleaseArtifact, error) {
	release, product, err := s.releaseWithProduct(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	if release.IsLatest {
		return nil, domain.ErrLatestProtected
	}
	if _, err := s.requireRole(ctx, actorID, product.WorkspaceID, workspacedomain.ActionManageCatalog); err != nil {
		return nil, err
	}
	if (req.SBOMID == nil) == (req.DocumentID == nil) {
		return nil, domain.ErrInvalidArgument
	}

	artifact := &domain.ReleaseArtifact{
		ID:        s.node.Generate(),
		ReleaseID: releaseID,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		catalog := s.catalog.WithTx(tx)

		var existing *domain.ReleaseArtifact
		switch {
		case req.SBOMID != nil:
			sbom, err := catalog.FindSBOMByID(ctx, *req.SBOMID)
			if err != nil {
				return err
			}
			if err := s.checkOwnership(ctx, catalog, sbom.ComponentID, product.WorkspaceID); err != nil {
				return err
			}
			artifact.SBOMID = req.SBOMID
			existing, err = repo.FindSBOMArtifact(ctx, releaseID, sbom.ComponentID, sbom.Format)
			if err != nil && !errors.Is(err, domain.ErrArtifactNotFound) {
				return err
			}

		case req.DocumentID != nil:
			doc, err := catalog.FindDocumentByID(ctx, *req.DocumentID)
			if err != nil {
				return err
			}
			if err := s.checkOwnership(ctx, catalog, doc.ComponentID, product.WorkspaceID); err != nil {
				return err
			}
			artifact.DocumentID = req.DocumentID
			existing, err = repo.FindDocumentArtifact(ctx, releaseID, doc.ComponentID, doc.DocumentType)
			if err != nil && !errors.Is(err, domain.ErrArtifactNotFound) {
				return err
			}
		}

		if existing != nil {
			if !req.Replace {
				return domain.ErrArtifactExists
			}
			if err := repo.DeleteArtifact(ctx, existing.ID); err != nil {
				return err
			}
		}
		return repo.CreateArtifact(ctx, artifact)
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, product.WorkspaceID, events.TypeReleaseUpdated, map[string]any{
		"release_id":  release.ID.String(),
		"artifact_id": artifact.ID.String(),
	})
	return artifact, nil
}

func (s *service) RemoveArtifact(ctx context.Context, actorID, releaseID, artifactID snowflake.ID) error {
	release, product, err := s.releaseWithProduct(ctx, releaseID)
	if err != nil {
		return err
	}
	if release.IsLatest {
		return domain.ErrLatestProtected
	}
	if _, err := s.requireRole(ctx, actorID, product.WorkspaceID, workspacedomain.ActionManageCatalog); err != nil {
		return err
	}
	artifact, err := s.repo.FindArtifactByID(ctx, artifactID)
	if err != nil {
		return err
	}
	if artifact.ReleaseID != releaseID {
		return domain.ErrArtifactNotFound
	}
	if err := s.repo.DeleteArtifact(ctx, artifactID); err != nil {
		return err
	}
	s.emit(ctx, product.WorkspaceID, events.TypeReleaseUpdated, map[string]any{
		"release_id":  release.ID.String(),
		"artifact_id": artifactID.String(),
	})
	return nil
}

// ListArtifacts synthesizes rows for the rolling release, whose
// artifact set exists only as a query.
func (s *service) ListArtifacts(ctx context.Context, releaseID snowflake.ID) ([]domain.ReleaseArtifact, error) {
	release, err := s.repo.FindReleaseByID(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	if !release.IsLatest {
		return s.repo.ListArtifactsByRelease(ctx, releaseID)
	}

	leaves, err := s.repo.ListLatestSBOMLeaves(ctx, release.ProductID)
	if err != nil {
		return nil, err
	}
	artifacts := make([]domain.ReleaseArtifact, 0, len(leaves))
	for i := range leaves {
		sbomID := leaves[i].SBOM.ID
		artifacts = append(artifacts, domain.ReleaseArtifact{
			ReleaseID: releaseID,
			SBOMID:    &sbomID,
			CreatedAt: leaves[i].SBOM.CreatedAt,
		})
	}
	return artifacts, nil
}

func (s *service) releaseWithProduct(ctx context.Context, releaseID snowflake.ID) (*domain.Release, *catalogdomain.Product, error) {
	release, err := s.repo.FindReleaseByID(ctx, releaseID)
	if err != nil {
		return nil, nil, err
	}
	product, err := s.catalog.FindProductByID(ctx, release.ProductID)
	if err != nil {
		return nil, nil, err
	}
	return release, product, nil
}

func (s *service) checkOwnership(ctx context.Context, catalog catalogdomain.Repository, componentID, workspaceID snowflake.ID) error {
	component, err := catalog.FindComponentByID(ctx, componentID)
	if err != nil {
		return err
	}
	if component.WorkspaceID != workspaceID {
		return domain.ErrInvalidArgument
	}
	return nil
}

func (s *service) requireRole(ctx context.Context, actorID, workspaceID snowflake.ID, action workspacedomain.Action) (*workspacedomain.Workspace, error) {
	ws, err := s.workspaces.FindWorkspaceByID(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	member, err := s.workspaces.FindMember(ctx, workspaceID, actorID)
	if err != nil {
		if errors.Is(err, workspacedomain.ErrMemberNotFound) {
			return nil, domain.ErrNotAuthorized
		}
		return nil, err
	}
	if !member.Role.Allows(action) {
		return nil, domain.ErrNotAuthorized
	}
	return ws, nil
}

func (s *service) emit(ctx context.Context, workspaceID snowflake.ID, eventType string, payload map[string]any) {
	ws, err := s.workspaces.FindWorkspaceByID(ctx, workspaceID)
	if err != nil {
		s.log.Warn("resolve workspace for event", zap.Error(err))
		return
	}
	s.broadcast.Send(ctx, ws.Key, eventType, payload)
}
