package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/sbomify/sbomify/internal/catalog/domain"
)

type CreateReleaseRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	IsPrerelease bool   `json:"is_prerelease"`
}

type UpdateReleaseRequest struct {
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	IsPrerelease *bool   `json:"is_prerelease,omitempty"`
}

// AddArtifactRequest pins one SBOM or one Document (never both) into
// a release. Replace resolves collisions on the per-release
// uniqueness keys instead of failing them.
type AddArtifactRequest struct {
	SBOMID     *snowflake.ID `json:"sbom_id,omitempty"`
	DocumentID *snowflake.ID `json:"document_id,omitempty"`
	Replace    bool          `json:"replace"`
}

// SBOMLeaf is one composable SBOM artifact with its owning component.
type SBOMLeaf struct {
	SBOM      catalogdomain.SBOM
	Component catalogdomain.Component
}

// DocumentLeaf is one composable document artifact with its owning
// component.
type DocumentLeaf struct {
	Document  catalogdomain.Document
	Component catalogdomain.Component
}

// Service owns release lifecycles and on-demand composition. The
// "latest" release of a product is materialized lazily and its
// artifact set is resolved at read time, so it cannot be edited.
type Service interface {
	Create(ctx context.Context, actorID, productID snowflake.ID, req CreateReleaseRequest) (*Release, error)
	Update(ctx context.Context, actorID, releaseID snowflake.ID, req UpdateReleaseRequest) (*Release, error)
	Delete(ctx context.Context, actorID, releaseID snowflake.ID) error
	Get(ctx context.Context, releaseID snowflake.ID) (*Release, error)
	GetBySlug(ctx context.Context, productID snowflake.ID, slug string) (*Release, error)
	List(ctx context.Context, productID snowflake.ID) ([]Release, error)

	// Latest returns the product's implicit rolling release,
	// materializing the row on first read.
	Latest(ctx context.Context, productID snowflake.ID) (*Release, error)

	AddArtifact(ctx context.Context, actorID, releaseID snowflake.ID, req AddArtifactRequest) (*ReleaseArtifact, error)
	RemoveArtifact(ctx context.Context, actorID, releaseID, artifactID snowflake.ID) error
	ListArtifacts(ctx context.Context, releaseID snowflake.ID) ([]ReleaseArtifact, error)

	// Compose builds the aggregate bill of materials for the caller.
	// callerID zero means anonymous. Leaves the caller cannot read are
	// omitted, not errored.
	Compose(ctx context.Context, callerID, releaseID snowflake.ID) ([]byte, error)
}

var (
	ErrReleaseNotFound  = errors.New("release_not_found")
	ErrArtifactNotFound = errors.New("artifact_not_found")
	ErrArtifactExists   = errors.New("artifact_exists")
	ErrDuplicateName    = errors.New("duplicate_name")
	ErrLatestProtected  = errors.New("latest_release_protected")
	ErrNotAuthorized    = errors.New("not_authorized")
	ErrInvalidArgument  = errors.New("invalid_argument")
)
