package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	billingdomain "github.com/sbomify/sbomify/internal/billing/domain"
	"github.com/sbomify/sbomify/internal/catalog/domain"
	"github.com/sbomify/sbomify/internal/config"
	"github.com/sbomify/sbomify/internal/events"
	"github.com/sbomify/sbomify/internal/observability/metrics"
	"github.com/sbomify/sbomify/internal/storage"
	workspacedomain "github.com/sbomify/sbomify/internal/workspace/domain"
	pkgdb "github.com/sbomify/sbomify/pkg/db"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type service struct {
	db         *gorm.DB
	repo       domain.Repository
	workspaces workspacedomain.Repository
	billing    billingdomain.Service
	store      storage.ObjectStore
	broadcast  events.Broadcaster
	metrics    *metrics.Metrics
	node       *snowflake.Node
	cfg        config.Config
	log        *zap.Logger
}

func NewService(
	gormDB *gorm.DB,
	repo domain.Repository,
	workspaces workspacedomain.Repository,
	billing billingdomain.Service,
	store storage.ObjectStore,
	broadcast events.Broadcaster,
	m *metrics.Metrics,
	node *snowflake.Node,
	cfg config.Config,
	log *zap.Logger,
) domain.Service {
	return &service{
		db:         gormDB,
		repo:       repo,
		workspaces: workspaces,
		billing:    billing,
		store:      store,
		broadcast:  broadcast,
		metrics:    m,
		node:       node,
		cfg:        cfg,
		log:        log.Named("catalog.service"),
	}
}

// createWithPlanGate runs the plan gate and the insert in one
// transaction behind the workspace row lock, so competing creates
// cannot both pass the gate at the cap.
func (s *service) createWithPlanGate(ctx context.Context, workspaceID snowflake.ID, kind billingdomain.ResourceKind, insert func(repo domain.Repository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ws, err := s.workspaces.WithTx(tx).FindWorkspaceByIDForUpdate(ctx, workspaceID)
		if err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)
		current, err := repo.CountResources(ctx, workspaceID, kind)
		if err != nil {
			return err
		}
		if err := s.billing.CanCreateCounted(ctx, ws, kind, current); err != nil {
			return err
		}
		return insert(repo)
	})
}

func (s *service) CreateProduct(ctx context.Context, actorID, workspaceID snowflake.ID, req domain.CreateProductRequest) (*domain.Product, error) {
	ws, err := s.requireRole(ctx, actorID, workspaceID, workspacedomain.ActionManageCatalog)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidArgument
	}
	if err := s.checkVisibilityPlan(ws, req.IsPublic); err != nil {
		return nil, err
	}
	product := &domain.Product{
		ID:          s.node.Generate(),
		WorkspaceID: workspaceID,
		Name:        name,
		Slug:        slug.Make(name),
		Description: strings.TrimSpace(req.Description),
		IsPublic:    req.IsPublic,
	}
	err = s.createWithPlanGate(ctx, workspaceID, billingdomain.ResourceProducts, func(repo domain.Repository) error {
		return repo.CreateProduct(ctx, product)
	})
	if err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateName
		}
		return nil, err
	}
	return product, nil
}

func (s *service) UpdateProduct(ctx context.Context, actorID, productID snowflake.ID, req domain.UpdateProductRequest) (*domain.Product, error) {
	product, err := s.repo.FindProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	ws, err := s.requireRole(ctx, actorID, product.WorkspaceID, workspacedomain.ActionManageCatalog)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidArgument
		}
		product.Name = name
		product.Slug = slug.Make(name)
	}
	if req.Description != nil {
		product.Description = strings.TrimSpace(*req.Description)
	}
	if req.IsPublic != nil && *req.IsPublic != product.IsPublic {
		if err := s.checkVisibilityPlan(ws, *req.IsPublic); err != nil {
			return nil, err
		}
		if *req.IsPublic {
			// A public product may not contain non-public projects.
			projects, err := s.repo.ListProjectsByProduct(ctx, product.ID)
			if err != nil {
				return nil, err
			}
			for _, project := range projects {
				if !project.IsPublic {
					return nil, domain.ErrVisibilityViolation
				}
			}
		}
		product.IsPublic = *req.IsPublic
	}

	product.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateProduct(ctx, product); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateName
		}
		return nil, err
	}
	return product, nil
}

func (s *service) DeleteProduct(ctx context.Context, actorID, productID snowflake.ID) error {
	product, err := s.repo.FindProductByID(ctx, productID)
	if err != nil {
		return err
	}
	if _, err := s.requireRole(ctx, actorID, product.WorkspaceID, workspacedomain.ActionManageCatalog); err != nil {
		return err
	}
	return s.repo.DeleteProduct(ctx, productID)
}

func (s *service) GetProduct(ctx context.Context, productID snowflake.ID) (*domain.Product, error) {
	return s.repo.FindProductByID(ctx, productID)
}

func (s *service) GetProductBySlug(ctx context.Context, workspaceID snowflake.ID, productSlug string) (*domain.Product, error) {
	return s.repo.FindProductBySlug(ctx, workspaceID, productSlug)
}

func (s *service) ListProducts(ctx context.Context, workspaceID snowflake.ID) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, workspaceID)
}

func (s *service) AssignProject(ctx context.Context, actorID, productID, projectID snowflake.ID) error {
	product, err := s.repo.FindProductByID(ctx, productID)
	if err != nil {
		return err
	}
	project, err := s.repo.FindProjectByID(ctx, projectID)
	if err != nil {
		return err
	}
	if product.WorkspaceID != project.WorkspaceID {
		return domain.ErrInvalidArgument
	}
	if _, err := s.requireRole(ctx, actorID, product.WorkspaceID, workspacedomain.ActionManageCatalog); err != nil {
		return err
	}
	if product.IsPublic && !project.IsPublic {
		return domain.ErrVisibilityViolation
	}
	return s.repo.AddProjectToProduct(ctx, productID, projectID)
}

func (s *service) UnassignProject(ctx context.Context, actorID, productID, projectID snowflake.ID) error {
	product, err := s.repo.FindProductByID(ctx, productID)
	if err != nil {
		return err
	}
	if _, err := s.requireRole(ctx, actorID, product.WorkspaceID, workspacedomain.ActionManageCatalog); err != nil {
		return err
	}
	return s.repo.RemoveProjectFromProduct(ctx, productID, projectID)
}

func (s *service) CreateProject(ctx context.Context, actorID, workspaceID snowflake.ID, req domain.CreateProjectRequest) (*domain.Project, error) {
	ws, err := s.requireRole(ctx, actorID, workspaceID, workspacedomain.ActionManageCatalog)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidArgument
	}
	if err := s.checkVisibilityPlan(ws, req.IsPublic); err != nil {
		return nil, err
	}
	project := &domain.Project{
		ID:          s.node.Generate(),
		WorkspaceID: workspaceID,
		Name:        name,
		Slug:        slug.Make(name),
		IsPublic:    req.IsPublic,
	}
	err = s.createWithPlanGate(ctx, workspaceID, billingdomain.ResourceProjects, func(repo domain.Repository) error {
		return repo.CreateProject(ctx, project)
	})
	if err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateName
		}
		return nil, err
	}
	return project, nil
}

func (s *service) UpdateProject(ctx context.Context, actorID, projectID snowflake.ID, req domain.UpdateProjectRequest) (*domain.Project, error) {
	project, err := s.repo.FindProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	ws, err := s.requireRole(ctx, actorID, project.WorkspaceID, workspacedomain.ActionManageCatalog)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidArgument
		}
		project.Name = name
		project.Slug = slug.Make(name)
	}
	if req.IsPublic != nil && *req.IsPublic != project.IsPublic {
		if err := s.checkVisibilityPlan(ws, *req.IsPublic); err != nil {
			return nil, err
		}
		if *req.IsPublic {
			// A public project may not contain private or gated
			// components.
			components, err := s.repo.ListComponentsByProject(ctx, project.ID)
			if err != nil {
				return nil, err
			}
			for _, component := range components {
				if component.Visibility != domain.VisibilityPublic {
					return nil, domain.ErrVisibilityViolation
				}
			}
		} else {
			// A project cannot go non-public while a public product
			// still contains it.
			products, err := s.repo.ListProductsContainingProject(ctx, project.ID)
			if err != nil {
				return nil, err
			}
			for _, product := range products {
				if product.IsPublic {
					return nil, domain.ErrVisibilityViolation
				}
			}
		}
		project.IsPublic = *req.IsPublic
	}

	project.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateProject(ctx, project); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateName
		}
		return nil, err
	}
	return project, nil
}

func (s *service) DeleteProject(ctx context.Context, actorID, projectID snowflake.ID) error {
	project, err := s.repo.FindProjectByID(ctx, projectID)
	if err != nil {
		return err
	}
	if _, err := s.requireRole(ctx, actorID, project.WorkspaceID, workspacedomain.ActionManageCatalog); err != nil {
		return err
	}
	return s.repo.DeleteProject(ctx, projectID)
}

func (s *service) GetProject(ctx context.Context, projectID snowflake.ID) (*domain.Project, error) {
	return s.repo.FindProjectByID(ctx, projectID)
}

func (s *service) ListProjects(ctx context.Context, workspaceID snowflake.ID) ([]domain.Project, error) {
	return s.repo.ListProjects(ctx, workspaceID)
}

func (s *service) AssignComponent(ctx context.Context, actorID, projectID, componentID snowflake.ID) error {
	project, err := s.repo.FindProjectByID(ctx, projectID)
	if err != nil {
		return err
	}
	component, err := s.repo.FindComponentByID(ctx, componentID)
	if err != nil {
		return err
	}
	if project.WorkspaceID != component.WorkspaceID {
		return domain.ErrInvalidArgument
	}
	if _, err := s.requireRole(ctx, actorID, project.WorkspaceID, workspacedomain.ActionManageCatalog); err != nil {
		return err
	}
	if project.IsPublic && component.Visibility != domain.VisibilityPublic {
		return domain.ErrVisibilityViolation
	}
	return s.repo.AddComponentToProject(ctx, projectID, componentID)
}

func (s *service) UnassignComponent(ctx context.Context, actorID, projectID, componentID snowflake.ID) error {
	project, err := s.repo.FindProjectByID(ctx, projectID)
	if err != nil {
		return err
	}
	if _, err := s.requireRole(ctx, actorID, project.WorkspaceID, workspacedomain.ActionManageCatalog); err != nil {
		return err
	}
	return s.repo.RemoveComponentFromProject(ctx, projectID, componentID)
}

func (s *service) CreateComponent(ctx context.Context, actorID, workspaceID snowflake.ID, req domain.CreateComponentRequest) (*domain.Component, error) {
	ws, err := s.requireRole(ctx, actorID, workspaceID, workspacedomain.ActionManageCatalog)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidArgument
	}
	visibility := req.Visibility
	if visibility == "" {
		visibility = domain.VisibilityPrivate
	}
	if !visibility.Valid() {
		return nil, domain.ErrInvalidVisibility
	}
	componentType := req.ComponentType
	if componentType == "" {
		componentType = domain.ComponentTypeSBOM
	}
	if err := s.checkVisibilityPlan(ws, visibility == domain.VisibilityPublic); err != nil {
		return nil, err
	}
	metadata := datatypes.JSON("{}")
	if req.Metadata != nil {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, err
		}
		metadata = datatypes.JSON(raw)
	}

	component := &domain.Component{
		ID:            s.node.Generate(),
		WorkspaceID:   workspaceID,
		Name:          name,
		Slug:          slug.Make(name),
		Visibility:    visibility,
		ComponentType: componentType,
		IsGlobal:      req.IsGlobal,
		Metadata:      metadata,
	}
	err = s.createWithPlanGate(ctx, workspaceID, billingdomain.ResourceComponents, func(repo domain.Repository) error {
		return repo.CreateComponent(ctx, component)
	})
	if err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateName
		}
		return nil, err
	}
	return component, nil
}

func (s *service) UpdateComponent(ctx context.Context, actorID, componentID snowflake.ID, req domain.UpdateComponentRequest) (*domain.Component, error) {
	component, err := s.repo.FindComponentByID(ctx, componentID)
	if err != nil {
		return nil, err
	}
	ws, err := s.requireRole(ctx, actorID, component.WorkspaceID, workspacedomain.ActionManageCatalog)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidArgument
		}
		component.Name = name
		component.Slug = slug.Make(name)
	}
	if req.Visibility != nil && *req.Visibility != component.Visibility {
		if !req.Visibility.Valid() {
			return nil, domain.ErrInvalidVisibility
		}
		if err := s.checkVisibilityPlan(ws, *req.Visibility == domain.VisibilityPublic); err != nil {
			return nil, err
		}
		if *req.Visibility != domain.VisibilityPublic {
			// A component cannot go non-public while a public
			// project still contains it.
			projects, err := s.repo.ListProjectsContainingComponent(ctx, component.ID)
			if err != nil {
				return nil, err
			}
			for _, project := range projects {
				if project.IsPublic {
					return nil, domain.ErrVisibilityViolation
				}
			}
		}
		component.Visibility = *req.Visibility
	}
	if req.IsGlobal != nil {
		component.IsGlobal = *req.IsGlobal
	}
	if req.Metadata != nil {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, err
		}
		component.Metadata = datatypes.JSON(raw)
	}

	component.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateComponent(ctx, component); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateName
		}
		return nil, err
	}
	return component, nil
}

func (s *service) DeleteComponent(ctx context.Context, actorID, componentID snowflake.ID) error {
	component, err := s.repo.FindComponentByID(ctx, componentID)
	if err != nil {
		return err
	}
	if _, err := s.requireRole(ctx, actorID, component.WorkspaceID, workspacedomain.ActionManageCatalog); err != nil {
		return err
	}

	// Cascade artifacts and release references in one transaction.
	// Stored bytes stay behind: the store is content-addressed and
	// blobs may be shared.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM release_artifacts WHERE sbom_id IN (SELECT id FROM sboms WHERE component_id = ?)", componentID).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM release_artifacts WHERE document_id IN (SELECT id FROM documents WHERE component_id = ?)", componentID).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM sboms WHERE component_id = ?", componentID).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM documents WHERE component_id = ?", componentID).Error; err != nil {
			return err
		}
		return s.repo.WithTx(tx).DeleteComponent(ctx, componentID)
	})
	if err != nil {
		return err
	}

	s.emit(ctx, component.WorkspaceID, events.TypeSBOMDeleted, map[string]any{
		"component_id": component.ID.String(),
	})
	return nil
}

func (s *service) GetComponent(ctx context.Context, componentID snowflake.ID) (*domain.Component, error) {
	return s.repo.FindComponentByID(ctx, componentID)
}

func (s *service) ListComponents(ctx context.Context, workspaceID snowflake.ID) ([]domain.Component, error) {
	return s.repo.ListComponents(ctx, workspaceID)
}

func (s *service) UploadSBOM(ctx context.Context, actorID, componentID snowflake.ID, raw []byte, source string) (*domain.SBOM, error) {
	component, err := s.repo.FindComponentByID(ctx, componentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, actorID, component.WorkspaceID, workspacedomain.ActionUploadArtifact); err != nil {
		return nil, err
	}

	info, err := parseSBOM(raw)
	if err != nil {
		return nil, err
	}

	filename, err := s.store.Put(ctx, storage.BucketSBOMs, raw)
	if err != nil {
		return nil, err
	}

	name := info.Name
	if name == "" {
		name = component.Name
	}
	record := &domain.SBOM{
		ID:              s.node.Generate(),
		ComponentID:     component.ID,
		Name:            name,
		Version:         info.Version,
		Format:          info.Format,
		FormatVersion:   info.FormatVersion,
		StorageFilename: filename,
		Source:          source,
	}
	if err := s.repo.CreateSBOM(ctx, record); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateSBOM
		}
		return nil, err
	}

	s.metrics.RecordSBOMUpload(ctx, string(info.Format))
	s.emit(ctx, component.WorkspaceID, events.TypeSBOMUploaded, map[string]any{
		"sbom_id":      record.ID.String(),
		"component_id": component.ID.String(),
		"format":       string(info.Format),
		"version":      record.Version,
	})
	return record, nil
}

func (s *service) GetSBOM(ctx context.Context, sbomID snowflake.ID) (*domain.SBOM, error) {
	return s.repo.FindSBOMByID(ctx, sbomID)
}

func (s *service) DownloadSBOM(ctx context.Context, sbomID snowflake.ID) ([]byte, error) {
	record, err := s.repo.FindSBOMByID(ctx, sbomID)
	if err != nil {
		return nil, err
	}
	return s.store.Get(ctx, storage.BucketSBOMs, record.StorageFilename)
}

func (s *service) DeleteSBOM(ctx context.Context, actorID, sbomID snowflake.ID) error {
	record, err := s.repo.FindSBOMByID(ctx, sbomID)
	if err != nil {
		return err
	}
	component, err := s.repo.FindComponentByID(ctx, record.ComponentID)
	if err != nil {
		return err
	}
	if _, err := s.requireRole(ctx, actorID, component.WorkspaceID, workspacedomain.ActionManageCatalog); err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM release_artifacts WHERE sbom_id = ?", sbomID).Error; err != nil {
			return err
		}
		return s.repo.WithTx(tx).DeleteSBOM(ctx, sbomID)
	})
	if err != nil {
		return err
	}

	s.emit(ctx, component.WorkspaceID, events.TypeSBOMDeleted, map[string]any{
		"sbom_id":      record.ID.String(),
		"component_id": component.ID.String(),
	})
	return nil
}

func (s *service) ListSBOMsByComponent(ctx context.Context, componentID snowflake.ID) ([]domain.SBOM, error) {
	return s.repo.ListSBOMsByComponent(ctx, componentID)
}

func (s *service) UploadDocument(ctx context.Context, actorID snowflake.ID, req domain.UploadDocumentRequest) (*domain.Document, error) {
	component, err := s.repo.FindComponentByID(ctx, req.ComponentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, actorID, component.WorkspaceID, workspacedomain.ActionUploadArtifact); err != nil {
		return nil, err
	}
	if len(req.Content) == 0 || strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.DocumentType) == "" {
		return nil, domain.ErrInvalidArgument
	}

	filename, err := s.store.Put(ctx, storage.BucketDocuments, req.Content)
	if err != nil {
		return nil, err
	}

	// The filename doubles as the hash pin: it is the hex SHA-256 of
	// the stored bytes, set once and never recomputed.
	record := &domain.Document{
		ID:                    s.node.Generate(),
		ComponentID:           component.ID,
		Name:                  strings.TrimSpace(req.Name),
		Version:               strings.TrimSpace(req.Version),
		DocumentType:          strings.TrimSpace(req.DocumentType),
		ComplianceSubcategory: strings.TrimSpace(req.ComplianceSubcategory),
		StorageFilename:       filename,
		ContentHash:           filename,
		ContentType:           req.ContentType,
		FileSize:              int64(len(req.Content)),
		Source:                req.Source,
	}
	if err := s.repo.CreateDocument(ctx, record); err != nil {
		return nil, err
	}

	s.emit(ctx, component.WorkspaceID, events.TypeDocumentUploaded, map[string]any{
		"document_id":   record.ID.String(),
		"component_id":  component.ID.String(),
		"document_type": record.DocumentType,
	})
	return record, nil
}

func (s *service) GetDocument(ctx context.Context, documentID snowflake.ID) (*domain.Document, error) {
	return s.repo.FindDocumentByID(ctx, documentID)
}

func (s *service) DownloadDocument(ctx context.Context, documentID snowflake.ID) ([]byte, error) {
	record, err := s.repo.FindDocumentByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return s.store.Get(ctx, storage.BucketDocuments, record.StorageFilename)
}

func (s *service) DeleteDocument(ctx context.Context, actorID, documentID snowflake.ID) error {
	record, err := s.repo.FindDocumentByID(ctx, documentID)
	if err != nil {
		return err
	}
	component, err := s.repo.FindComponentByID(ctx, record.ComponentID)
	if err != nil {
		return err
	}
	if _, err := s.requireRole(ctx, actorID, component.WorkspaceID, workspacedomain.ActionManageCatalog); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM release_artifacts WHERE document_id = ?", documentID).Error; err != nil {
			return err
		}
		return s.repo.WithTx(tx).DeleteDocument(ctx, documentID)
	})
}

func (s *service) ListDocumentsByComponent(ctx context.Context, componentID snowflake.ID) ([]domain.Document, error) {
	return s.repo.ListDocumentsByComponent(ctx, componentID)
}

func (s *service) MergedMetadata(ctx context.Context, componentID, sbomID snowflake.ID, componentWins bool) (domain.Metadata, error) {
	component, err := s.repo.FindComponentByID(ctx, componentID)
	if err != nil {
		return domain.Metadata{}, err
	}
	componentMeta, err := domain.DecodeMetadata(component.Metadata)
	if err != nil {
		return domain.Metadata{}, err
	}

	raw, err := s.DownloadSBOM(ctx, sbomID)
	if err != nil {
		return domain.Metadata{}, err
	}
	info, err := parseSBOM(raw)
	if err != nil {
		return domain.Metadata{}, err
	}
	return domain.MergeMetadata(componentMeta, info.Metadata, componentWins), nil
}

func (s *service) FetchNDA(ctx context.Context, documentID snowflake.ID) (string, []byte, error) {
	record, err := s.repo.FindDocumentByID(ctx, documentID)
	if err != nil {
		return "", nil, err
	}
	content, err := s.store.Get(ctx, storage.BucketDocuments, record.StorageFilename)
	if err != nil {
		return "", nil, err
	}
	return record.ContentHash, content, nil
}

// EffectiveComponentVisibility is the least-privileged label along
// the containment chain: a public component counts as public only
// when some fully public project/product path reaches it, or when it
// is global or unassigned.
func (s *service) EffectiveComponentVisibility(ctx context.Context, componentID snowflake.ID) (domain.Visibility, error) {
	component, err := s.repo.FindComponentByID(ctx, componentID)
	if err != nil {
		return "", err
	}
	if component.Visibility != domain.VisibilityPublic {
		return component.Visibility, nil
	}
	if component.IsGlobal {
		return domain.VisibilityPublic, nil
	}

	projects, err := s.repo.ListProjectsContainingComponent(ctx, component.ID)
	if err != nil {
		return "", err
	}
	if len(projects) == 0 {
		return domain.VisibilityPublic, nil
	}
	for _, project := range projects {
		if !project.IsPublic {
			continue
		}
		products, err := s.repo.ListProductsContainingProject(ctx, project.ID)
		if err != nil {
			return "", err
		}
		if len(products) == 0 {
			return domain.VisibilityPublic, nil
		}
		for _, product := range products {
			if product.IsPublic {
				return domain.VisibilityPublic, nil
			}
		}
	}
	return domain.VisibilityPrivate, nil
}

// checkVisibilityPlan rejects non-public items on the free plan.
func (s *service) checkVisibilityPlan(ws *workspacedomain.Workspace, isPublic bool) error {
	if isPublic {
		return nil
	}
	if ws.BillingPlanKey == config.PlanCommunity {
		return domain.ErrPlanRestricted
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
