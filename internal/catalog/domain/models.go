// Package domain contains persistence models and contracts for the
// artifact catalog: products, projects, components, SBOMs and
// documents.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ComponentType distinguishes what a component's artifacts are.
type ComponentType string

const (
	ComponentTypeSBOM     ComponentType = "sbom"
	ComponentTypeDocument ComponentType = "document"
)

// SBOMFormat is the artifact interchange format.
type SBOMFormat string

const (
	FormatCycloneDX SBOMFormat = "cyclonedx"
	FormatSPDX      SBOMFormat = "spdx"
)

// Product groups projects for an outward-facing trust-center page.
type Product struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	WorkspaceID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_products_workspace_name,priority:1;uniqueIndex:ux_products_workspace_slug,priority:1" json:"workspace_id"`
	Name        string       `gorm:"type:text;not null;uniqueIndex:ux_products_workspace_name,priority:2" json:"name"`
	Slug        string       `gorm:"type:text;not null;uniqueIndex:ux_products_workspace_slug,priority:2" json:"slug"`
	Description string       `gorm:"type:text" json:"description"`
	IsPublic    bool         `gorm:"not null;default:false" json:"is_public"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	Projects []Project `gorm:"many2many:product_projects" json:"projects,omitempty"`
}

// TableName sets the database table name.
func (Product) TableName() string { return "products" }

// Project groups components inside a product.
type Project struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	WorkspaceID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_projects_workspace_name,priority:1;uniqueIndex:ux_projects_workspace_slug,priority:1" json:"workspace_id"`
	Name        string       `gorm:"type:text;not null;uniqueIndex:ux_projects_workspace_name,priority:2" json:"name"`
	Slug        string       `gorm:"type:text;not null;uniqueIndex:ux_projects_workspace_slug,priority:2" json:"slug"`
	IsPublic    bool         `gorm:"not null;default:false" json:"is_public"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	Components []Component `gorm:"many2many:project_components" json:"components,omitempty"`
}

// TableName sets the database table name.
func (Project) TableName() string { return "projects" }

// Component owns artifacts. A global document component serves its
// documents workspace-wide, bypassing project scoping.
type Component struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	WorkspaceID   snowflake.ID   `gorm:"not null;index;uniqueIndex:ux_components_workspace_name,priority:1;uniqueIndex:ux_components_workspace_slug,priority:1" json:"workspace_id"`
	Name          string         `gorm:"type:text;not null;uniqueIndex:ux_components_workspace_name,priority:2" json:"name"`
	Slug          string         `gorm:"type:text;not null;uniqueIndex:ux_components_workspace_slug,priority:2" json:"slug"`
	Visibility    Visibility     `gorm:"type:text;not null;default:'private'" json:"visibility"`
	ComponentType ComponentType  `gorm:"type:text;not null;default:'sbom'" json:"component_type"`
	IsGlobal      bool           `gorm:"not null;default:false" json:"is_global"`
	Metadata      datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Component) TableName() string { return "components" }

// SBOM is one uploaded bill of materials. Bytes live in the object
// store under StorageFilename.
type SBOM struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	ComponentID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_sboms_component_version_format,priority:1" json:"component_id"`
	Name            string       `gorm:"type:text;not null" json:"name"`
	Version         string       `gorm:"type:text;not null;uniqueIndex:ux_sboms_component_version_format,priority:2" json:"version"`
	Format          SBOMFormat   `gorm:"type:text;not null;uniqueIndex:ux_sboms_component_version_format,priority:3" json:"format"`
	FormatVersion   string       `gorm:"type:text;not null" json:"format_version"`
	StorageFilename string       `gorm:"type:text;not null" json:"-"`
	Source          string       `gorm:"type:text" json:"source"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (SBOM) TableName() string { return "sboms" }

// Document is one uploaded compliance or policy document.
// ContentHash is set once at upload and never recomputed; NDA
// signature pins compare against it.
type Document struct {
	ID                    snowflake.ID `gorm:"primaryKey" json:"id"`
	ComponentID           snowflake.ID `gorm:"not null;index" json:"component_id"`
	Name                  string       `gorm:"type:text;not null" json:"name"`
	Version               string       `gorm:"type:text" json:"version"`
	DocumentType          string       `gorm:"type:text;not null" json:"document_type"`
	ComplianceSubcategory string       `gorm:"type:text" json:"compliance_subcategory,omitempty"`
	StorageFilename       string       `gorm:"type:text;not null" json:"-"`
	ContentHash           string       `gorm:"type:text;not null" json:"content_hash"`
	ContentType           string       `gorm:"type:text;not null" json:"content_type"`
	FileSize              int64        `gorm:"not null" json:"file_size"`
	Source                string       `gorm:"type:text" json:"source"`
	CreatedAt             time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Document) TableName() string { return "documents" }
