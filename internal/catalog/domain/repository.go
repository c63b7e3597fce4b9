package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/sbomify/sbomify/internal/billing/domain"
	"gorm.io/gorm"
)

// Repository persists the catalog. It doubles as the billing
// ResourceCounter so plan gates count live rows.
type Repository interface {
	billingdomain.ResourceCounter

	WithTx(tx *gorm.DB) Repository

	CreateProduct(ctx context.Context, p *Product) error
	FindProductByID(ctx context.Context, id snowflake.ID) (*Product, error)
	FindProductBySlug(ctx context.Context, workspaceID snowflake.ID, slug string) (*Product, error)
	UpdateProduct(ctx context.Context, p *Product) error
	DeleteProduct(ctx context.Context, id snowflake.ID) error
	ListProducts(ctx context.Context, workspaceID snowflake.ID) ([]Product, error)
	AddProjectToProduct(ctx context.Context, productID, projectID snowflake.ID) error
	RemoveProjectFromProduct(ctx context.Context, productID, projectID snowflake.ID) error
	ListProjectsByProduct(ctx context.Context, productID snowflake.ID) ([]Project, error)
	ListProductsContainingProject(ctx context.Context, projectID snowflake.ID) ([]Product, error)

	CreateProject(ctx context.Context, p *Project) error
	FindProjectByID(ctx context.Context, id snowflake.ID) (*Project, error)
	UpdateProject(ctx context.Context, p *Project) error
	DeleteProject(ctx context.Context, id snowflake.ID) error
	ListProjects(ctx context.Context, workspaceID snowflake.ID) ([]Project, error)
	AddComponentToProject(ctx context.Context, projectID, componentID snowflake.ID) error
	RemoveComponentFromProject(ctx context.Context, projectID, componentID snowflake.ID) error
	ListComponentsByProject(ctx context.Context, projectID snowflake.ID) ([]Component, error)
	ListProjectsContainingComponent(ctx context.Context, componentID snowflake.ID) ([]Project, error)

	CreateComponent(ctx context.Context, c *Component) error
	FindComponentByID(ctx context.Context, id snowflake.ID) (*Component, error)
	UpdateComponent(ctx context.Context, c *Component) error
	DeleteComponent(ctx context.Context, id snowflake.ID) error
	ListComponents(ctx context.Context, workspaceID snowflake.ID) ([]Component, error)

	CreateSBOM(ctx context.Context, s *SBOM) error
	FindSBOMByID(ctx context.Context, id snowflake.ID) (*SBOM, error)
	DeleteSBOM(ctx context.Context, id snowflake.ID) error
	ListSBOMsByComponent(ctx context.Context, componentID snowflake.ID) ([]SBOM, error)

	CreateDocument(ctx context.Context, d *Document) error
	FindDocumentByID(ctx context.Context, id snowflake.ID) (*Document, error)
	DeleteDocument(ctx context.Context, id snowflake.ID) error
	ListDocumentsByComponent(ctx context.Context, componentID snowflake.ID) ([]Document, error)
}
