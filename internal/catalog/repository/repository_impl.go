package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/sbomify/sbomify/internal/billing/domain"
	"github.com/sbomify/sbomify/internal/catalog/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

// CountResources backs the billing plan gate.
func (r *repository) CountResources(ctx context.Context, workspaceID snowflake.ID, kind billingdomain.ResourceKind) (int64, error) {
	var (
		count int64
		model any
	)
	switch kind {
	case billingdomain.ResourceProducts:
		model = &domain.Product{}
	case billingdomain.ResourceProjects:
		model = &domain.Project{}
	case billingdomain.ResourceComponents:
		model = &domain.Component{}
	default:
		return 0, domain.ErrInvalidArgument
	}
	err := r.db.WithContext(ctx).Model(model).Where("workspace_id = ?", workspaceID).Count(&count).Error
	return count, err
}

func (r *repository) CreateProduct(ctx context.Context, p *domain.Product) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *repository) FindProductByID(ctx context.Context, id snowflake.ID) (*domain.Product, error) {
	var p domain.Product
	if err := r.first(ctx, &p, domain.ErrProductNotFound, "id = ?", id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repository) FindProductBySlug(ctx context.Context, workspaceID snowflake.ID, slug string) (*domain.Product, error) {
	var p domain.Product
	if err := r.first(ctx, &p, domain.ErrProductNotFound, "workspace_id = ? AND slug = ?", workspaceID, slug); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repository) UpdateProduct(ctx context.Context, p *domain.Product) error {
	return r.db.WithContext(ctx).Omit("Projects").Save(p).Error
}

func (r *repository) DeleteProduct(ctx context.Context, id snowflake.ID) error {
	tx := r.db.WithContext(ctx)
	if err := tx.Exec("DELETE FROM product_projects WHERE product_id = ?", id).Error; err != nil {
		return err
	}
	return tx.Delete(&domain.Product{}, "id = ?", id).Error
}

func (r *repository) ListProducts(ctx context.Context, workspaceID snowflake.ID) ([]domain.Product, error) {
	var products []domain.Product
	err := r.db.WithContext(ctx).Where("workspace_id = ?", workspaceID).Order("name").Find(&products).Error
	return products, err
}

func (r *repository) AddProjectToProduct(ctx context.Context, productID, projectID snowflake.ID) error {
	return r.db.WithContext(ctx).
		Model(&domain.Product{ID: productID}).
		Association("Projects").
		Append(&domain.Project{ID: projectID})
}

func (r *repository) RemoveProjectFromProduct(ctx context.Context, productID, projectID snowflake.ID) error {
	return r.db.WithContext(ctx).
		Model(&domain.Product{ID: productID}).
		Association("Projects").
		Delete(&domain.Project{ID: projectID})
}

func (r *repository) ListProjectsByProduct(ctx context.Context, productID snowflake.ID) ([]domain.Project, error) {
	var projects []domain.Project
	err := r.db.WithContext(ctx).
		Joins("JOIN product_projects pp ON pp.project_id = projects.id").
		Where("pp.product_id = ?", productID).
		Order("projects.name").
		Find(&projects).Error
	return projects, err
}

func (r *repository) ListProductsContainingProject(ctx context.Context, projectID snowflake.ID) ([]domain.Product, error) {
	var products []domain.Product
	err := r.db.WithContext(ctx).
		Joins("JOIN product_projects pp ON pp.product_id = products.id").
		Where("pp.project_id = ?", projectID).
		Find(&products).Error
	return products, err
}

func (r *repository) CreateProject(ctx context.Context, p *domain.Project) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *repository) FindProjectByID(ctx context.Context, id snowflake.ID) (*domain.Project, error) {
	var p domain.Project
	if err := r.first(ctx, &p, domain.ErrProjectNotFound, "id = ?", id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repository) UpdateProject(ctx context.Context, p *domain.Project) error {
	return r.db.WithContext(ctx).Omit("Components").Save(p).Error
}

func (r *repository) DeleteProject(ctx context.Context, id snowflake.ID) error {
	tx := r.db.WithContext(ctx)
	if err := tx.Exec("DELETE FROM product_projects WHERE project_id = ?", id).Error; err != nil {
		return err
	}
	if err := tx.Exec("DELETE FROM project_components WHERE project_id = ?", id).Error; err != nil {
		return err
	}
	return tx.Delete(&domain.Project{}, "id = ?", id).Error
}

func (r *repository) ListProjects(ctx context.Context, workspaceID snowflake.ID) ([]domain.Project, error) {
	var projects []domain.Project
	err := r.db.WithContext(ctx).Where("workspace_id = ?", workspaceID).Order("name").Find(&projects).Error
	return projects, err
}

func (r *repository) AddComponentToProject(ctx context.Context, projectID, componentID snowflake.ID) error {
	return r.db.WithContext(ctx).
		Model(&domain.Project{ID: projectID}).
		Association("Components").
		Append(&domain.Component{ID: componentID})
}

func (r *repository) RemoveComponentFromProject(ctx context.Context, projectID, componentID snowflake.ID) error {
	return r.db.WithContext(ctx).
		Model(&domain.Project{ID: projectID}).
		Association("Components").
		Delete(&domain.Component{ID: componentID})
}

func (r *repository) ListComponentsByProject(ctx context.Context, projectID snowflake.ID) ([]domain.Component, error) {
	var components []domain.Component
	err := r.db.WithContext(ctx).
		Joins("JOIN project_components pc ON pc.component_id = components.id").
		Where("pc.project_id = ?", projectID).
		Order("components.name").
		Find(&components).Error
	return components, err
}

func (r *repository) ListProjectsContainingComponent(ctx context.Context, componentID snowflake.ID) ([]domain.Project, error) {
	var projects []domain.Project
	err := r.db.WithContext(ctx).
		Joins("JOIN project_components pc ON pc.project_id = projects.id").
		Where("pc.component_id = ?", componentID).
		Find(&projects).Error
	return projects, err
}

func (r *repository) CreateComponent(ctx context.Context, c *domain.Component) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *repository) FindComponentByID(ctx context.Context, id snowflake.ID) (*domain.Component, error) {
	var c domain.Component
	if err := r.first(ctx, &c, domain.ErrComponentNotFound, "id = ?", id); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repository) UpdateComponent(ctx context.Context, c *domain.Component) error {
	return r.db.WithContext(ctx).Save(c).Error
}

func (r *repository) DeleteComponent(ctx context.Context, id snowflake.ID) error {
	tx := r.db.WithContext(ctx)
	if err := tx.Exec("DELETE FROM project_components WHERE component_id = ?", id).Error; err != nil {
		return err
	}
	return tx.Delete(&domain.Component{}, "id = ?", id).Error
}

func (r *repository) ListComponents(ctx context.Context, workspaceID snowflake.ID) ([]domain.Component, error) {
	var components []domain.Component
	err := r.db.WithContext(ctx).Where("workspace_id = ?", workspaceID).Order("name").Find(&components).Error
	return components, err
}

func (r *repository) CreateSBOM(ctx context.Context, s *domain.SBOM) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *repository) FindSBOMByID(ctx context.Context, id snowflake.ID) (*domain.SBOM, error) {
	var s domain.SBOM
	if err := r.first(ctx, &s, domain.ErrSBOMNotFound, "id = ?", id); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repository) DeleteSBOM(ctx context.Context, id snowflake.ID) error {
	return r.db.WithContext(ctx).Delete(&domain.SBOM{}, "id = ?", id).Error
}

func (r *repository) ListSBOMsByComponent(ctx context.Context, componentID snowflake.ID) ([]domain.SBOM, error) {
	var sboms []domain.SBOM
	err := r.db.WithContext(ctx).Where("component_id = ?", componentID).Order("created_at DESC").Find(&sboms).Error
	return sboms, err
}

func (r *repository) CreateDocument(ctx context.Context, d *domain.Document) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *repository) FindDocumentByID(ctx context.Context, id snowflake.ID) (*domain.Document, error) {
	var d domain.Document
	if err := r.first(ctx, &d, domain.ErrDocumentNotFound, "id = ?", id); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repository) DeleteDocument(ctx context.Context, id snowflake.ID) error {
	return r.db.WithContext(ctx).Delete(&domain.Document{}, "id = ?", id).Error
}

func (r *repository) ListDocumentsByComponent(ctx context.Context, componentID snowflake.ID) ([]domain.Document, error) {
	var documents []domain.Document
	err := r.db.WithContext(ctx).Where("component_id = ?", componentID).Order("created_at DESC").Find(&documents).Error
	return documents, err
}

func (r *repository) first(ctx context.Context, out any, notFound error, query string, args ...any) error {
	err := r.db.WithContext(ctx).Where(query, args...).First(out).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound
		}
		return err
	}
	return nil
}
