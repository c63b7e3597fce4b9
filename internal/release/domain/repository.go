package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/sbomify/sbomify/internal/catalog/domain"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateRelease(ctx context.Context, r *Release) error
	FindReleaseByID(ctx context.Context, id snowflake.ID) (*Release, error)
	FindReleaseBySlug(ctx context.Context, productID snowflake.ID, slug string) (*Release, error)
	FindLatestRelease(ctx context.Context, productID snowflake.ID) (*Release, error)
	UpdateRelease(ctx context.Context, r *Release) error
	DeleteRelease(ctx context.Context, id snowflake.ID) error
	ListReleasesByProduct(ctx context.Context, productID snowflake.ID) ([]Release, error)

	CreateArtifact(ctx context.Context, a *ReleaseArtifact) error
	FindArtifactByID(ctx context.Context, id snowflake.ID) (*ReleaseArtifact, error)
	DeleteArtifact(ctx context.Context, id snowflake.ID) error
	ListArtifactsByRelease(ctx context.Context, releaseID snowflake.ID) ([]ReleaseArtifact, error)

	// FindSBOMArtifact resolves the per-release uniqueness key for
	// SBOM leaves: at most one SBOM per (component, format).
	FindSBOMArtifact(ctx context.Context, releaseID, componentID snowflake.ID, format catalogdomain.SBOMFormat) (*ReleaseArtifact, error)
	// FindDocumentArtifact resolves the document key: at most one
	// document per (component, document type).
	FindDocumentArtifact(ctx context.Context, releaseID, componentID snowflake.ID, documentType string) (*ReleaseArtifact, error)

	// ListSBOMLeaves joins pinned SBOM artifacts with their owning
	// components, skipping rows whose artifact has since been deleted.
	ListSBOMLeaves(ctx context.Context, releaseID snowflake.ID) ([]SBOMLeaf, error)
	ListDocumentLeaves(ctx context.Context, releaseID snowflake.ID) ([]DocumentLeaf, error)

	// ListLatestSBOMLeaves resolves the implicit rolling release: the
	// newest SBOM per (component, format) across every component
	// reachable from the product's projects.
	ListLatestSBOMLeaves(ctx context.Context, productID snowflake.ID) ([]SBOMLeaf, error)
}
