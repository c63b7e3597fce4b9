package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateProductRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPublic    bool   `json:"is_public"`
}

type UpdateProductRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IsPublic    *bool   `json:"is_public,omitempty"`
}

type CreateProjectRequest struct {
	Name     string `json:"name"`
	IsPublic bool   `json:"is_public"`
}

type UpdateProjectRequest struct {
	Name     *string `json:"name,omitempty"`
	IsPublic *bool   `json:"is_public,omitempty"`
}

type CreateComponentRequest struct {
	Name          string        `json:"name"`
	Visibility    Visibility    `json:"visibility"`
	ComponentType ComponentType `json:"component_type"`
	IsGlobal      bool          `json:"is_global"`
	Metadata      *Metadata     `json:"metadata,omitempty"`
}

type UpdateComponentRequest struct {
	Name       *string     `json:"name,omitempty"`
	Visibility *Visibility `json:"visibility,omitempty"`
	IsGlobal   *bool       `json:"is_global,omitempty"`
	Metadata   *Metadata   `json:"metadata,omitempty"`
}

type UploadDocumentRequest struct {
	ComponentID           snowflake.ID
	Name                  string
	Version               string
	DocumentType          string
	ComplianceSubcategory string
	ContentType           string
	Content               []byte
	Source                string
}

// Service owns the artifact catalog. Creation paths run plan-limit
// and visibility checks inside one transaction before inserting.
type Service interface {
	CreateProduct(ctx context.Context, actorID, workspaceID snowflake.ID, req CreateProductRequest) (*Product, error)
	UpdateProduct(ctx context.Context, actorID, productID snowflake.ID, req UpdateProductRequest) (*Product, error)
	DeleteProduct(ctx context.Context, actorID, productID snowflake.ID) error
	GetProduct(ctx context.Context, productID snowflake.ID) (*Product, error)
	GetProductBySlug(ctx context.Context, workspaceID snowflake.ID, slug string) (*Product, error)
	ListProducts(ctx context.Context, workspaceID snowflake.ID) ([]Product, error)
	AssignProject(ctx context.Context, actorID, productID, projectID snowflake.ID) error
	UnassignProject(ctx context.Context, actorID, productID, projectID snowflake.ID) error

	CreateProject(ctx context.Context, actorID, workspaceID snowflake.ID, req CreateProjectRequest) (*Project, error)
	UpdateProject(ctx context.Context, actorID, projectID snowflake.ID, req UpdateProjectRequest) (*Project, error)
	DeleteProject(ctx context.Context, actorID, projectID snowflake.ID) error
	GetProject(ctx context.Context, projectID snowflake.ID) (*Project, error)
	ListProjects(ctx context.Context, workspaceID snowflake.ID) ([]Project, error)
	AssignComponent(ctx context.Context, actorID, projectID, componentID snowflake.ID) error
	UnassignComponent(ctx context.Context, actorID, projectID, componentID snowflake.ID) error

	CreateComponent(ctx context.Context, actorID, workspaceID snowflake.ID, req CreateComponentRequest) (*Component, error)
	UpdateComponent(ctx context.Context, actorID, componentID snowflake.ID, req UpdateComponentRequest) (*Component, error)
	DeleteComponent(ctx context.Context, actorID, componentID snowflake.ID) error
	GetComponent(ctx context.Context, componentID snowflake.ID) (*Component, error)
	ListComponents(ctx context.Context, workspaceID snowflake.ID) ([]Component, error)

	// UploadSBOM detects the format and version from the payload
	// itself, validates it, content-addresses the bytes and records
	// the row.
	UploadSBOM(ctx context.Context, actorID, componentID snowflake.ID, raw []byte, source string) (*SBOM, error)
	GetSBOM(ctx context.Context, sbomID snowflake.ID) (*SBOM, error)
	DownloadSBOM(ctx context.Context, sbomID snowflake.ID) ([]byte, error)
	DeleteSBOM(ctx context.Context, actorID, sbomID snowflake.ID) error
	ListSBOMsByComponent(ctx context.Context, componentID snowflake.ID) ([]SBOM, error)

	UploadDocument(ctx context.Context, actorID snowflake.ID, req UploadDocumentRequest) (*Document, error)
	GetDocument(ctx context.Context, documentID snowflake.ID) (*Document, error)
	DownloadDocument(ctx context.Context, documentID snowflake.ID) ([]byte, error)
	DeleteDocument(ctx context.Context, actorID, documentID snowflake.ID) error
	ListDocumentsByComponent(ctx context.Context, componentID snowflake.ID) ([]Document, error)

	// MergedMetadata combines the component row's metadata with the
	// metadata embedded in one of its SBOMs.
	MergedMetadata(ctx context.Context, componentID, sbomID snowflake.ID, componentWins bool) (Metadata, error)

	// FetchNDA serves the access-request flow: the document's
	// recorded content hash plus its stored bytes.
	FetchNDA(ctx context.Context, documentID snowflake.ID) (string, []byte, error)

	// EffectiveVisibility resolves the least-privileged label along
	// the item's containment chain.
	EffectiveComponentVisibility(ctx context.Context, componentID snowflake.ID) (Visibility, error)
}

var (
	ErrProductNotFound     = errors.New("product_not_found")
	ErrProjectNotFound     = errors.New("project_not_found")
	ErrComponentNotFound   = errors.New("component_not_found")
	ErrSBOMNotFound        = errors.New("sbom_not_found")
	ErrDocumentNotFound    = errors.New("document_not_found")
	ErrDuplicateName       = errors.New("duplicate_name")
	ErrDuplicateSBOM       = errors.New("duplicate_sbom")
	ErrInvalidFormat       = errors.New("invalid_format")
	ErrUnsupportedVersion  = errors.New("unsupported_version")
	ErrVisibilityViolation = errors.New("visibility_violation")
	ErrPlanRestricted      = errors.New("plan_restricted")
	ErrNotAuthorized       = errors.New("not_authorized")
	ErrInvalidArgument     = errors.New("invalid_argument")
)
