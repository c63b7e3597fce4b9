package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/sbomify/sbomify/internal/catalog/domain"
	"github.com/sbomify/sbomify/internal/release/domain"
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

func (r *repository) CreateRelease(ctx context.Context, rel *domain.Release) error {
	return r.db.WithContext(ctx).Create(rel).Error
}

func (r *repository) FindReleaseByID(ctx context.Context, id snowflake.ID) (*domain.Release, error) {
	var rel domain.Release
	if err := r.first(ctx, &rel, domain.ErrReleaseNotFound, "id = ?", id); err != nil {
		return nil, err
	}
	return &rel, nil
}

func (r *repository) FindReleaseBySlug(ctx context.Context, productID snowflake.ID, slug string) (*domain.Release, error) {
	var rel domain.Release
	if err := r.first(ctx, &rel, domain.ErrReleaseNotFound, "product_id = ? AND slug = ?", productID, slug); err != nil {
		return nil, err
	}
	return &rel, nil
}

func (r *repository) FindLatestRelease(ctx context.Context, productID snowflake.ID) (*domain.Release, error) {
	var rel domain.Release
	if err := r.first(ctx, &rel, domain.ErrReleaseNotFound, "product_id = ? AND is_latest = ?", productID, true); err != nil {
		return nil, err
	}
	return &rel, nil
}

func (r *repository) UpdateRelease(ctx context.Context, rel *domain.Release) error {
	return r.db.WithContext(ctx).Save(rel).Error
}

func (r *repository) DeleteRelease(ctx context.Context, id snowflake.ID) error {
	tx := r.db.WithContext(ctx)
	if err := tx.Exec("DELETE FROM release_artifacts WHERE release_id = ?", id).Error; err != nil {
		return err
	}
	return tx.Delete(&domain.Release{}, "id = ?", id).Error
}

func (r *repository) ListReleasesByProduct(ctx context.Context, productID snowflake.ID) ([]domain.Release, error) {
	var releases []domain.Release
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("created_at DESC").
		Find(&releases).Error
	return releases, err
}

func (r *repository) CreateArtifact(ctx context.Context, a *domain.ReleaseArtifact) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *repository) FindArtifactByID(ctx context.Context, id snowflake.ID) (*domain.ReleaseArtifact, error) {
	var a domain.ReleaseArtifact
	if err := r.first(ctx, &a, domain.ErrArtifactNotFound, "id = ?", id); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repository) DeleteArtifact(ctx context.Context, id snowflake.ID) error {
	return r.db.WithContext(ctx).Delete(&domain.ReleaseArtifact{}, "id = ?", id).Error
}

func (r *repository) ListArtifactsByRelease(ctx context.Context, releaseID snowflake.ID) ([]domain.ReleaseArtifact, error) {
	var artifacts []domain.ReleaseArtifact
	err := r.db.WithContext(ctx).
		Where("release_id = ?", releaseID).
		Order("created_at").
		Find(&artifacts).Error
	return artifacts, err
}

func (r *repository) FindSBOMArtifact(ctx context.Context, releaseID, componentID snowflake.ID, format catalogdomain.SBOMFormat) (*domain.ReleaseArtifact, error) {
	var a domain.ReleaseArtifact
	err := r.db.WithContext(ctx).
		Joins("JOIN sboms s ON s.id = release_artifacts.sbom_id").
		Where("release_artifacts.release_id = ? AND s.component_id = ? AND s.format = ?", releaseID, componentID, format).
		First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrArtifactNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *repository) FindDocumentArtifact(ctx context.Context, releaseID, componentID snowflake.ID, documentType string) (*domain.ReleaseArtifact, error) {
	var a domain.ReleaseArtifact
	err := r.db.WithContext(ctx).
		Joins("JOIN documents d ON d.id = release_artifacts.document_id").
		Where("release_artifacts.release_id = ? AND d.component_id = ? AND d.document_type = ?", releaseID, componentID, documentType).
		First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrArtifactNotFound
		}
		return nil, err
	}
	return &a, nil
}

// Leaves whose artifact row dangles (component since deleted) are
// dropped rather than errored.
func (r *repository) ListSBOMLeaves(ctx context.Context, releaseID snowflake.ID) ([]domain.SBOMLeaf, error) {
	var sboms []catalogdomain.SBOM
	err := r.db.WithContext(ctx).
		Model(&catalogdomain.SBOM{}).
		Joins("JOIN release_artifacts ra ON ra.sbom_id = sboms.id").
		Where("ra.release_id = ?", releaseID).
		Find(&sboms).Error
	if err != nil {
		return nil, err
	}
	return r.attachSBOMComponents(ctx, sboms)
}

func (r *repository) ListDocumentLeaves(ctx context.Context, releaseID snowflake.ID) ([]domain.DocumentLeaf, error) {
	var documents []catalogdomain.Document
	err := r.db.WithContext(ctx).
		Model(&catalogdomain.Document{}).
		Joins("JOIN release_artifacts ra ON ra.document_id = documents.id").
		Where("ra.release_id = ?", releaseID).
		Find(&documents).Error
	if err != nil {
		return nil, err
	}

	leaves := make([]domain.DocumentLeaf, 0, len(documents))
	components := map[snowflake.ID]*catalogdomain.Component{}
	for _, doc := range documents {
		component, err := r.component(ctx, components, doc.ComponentID)
		if err != nil {
			return nil, err
		}
		if component == nil {
			continue
		}
		leaves = append(leaves, domain.DocumentLeaf{Document: doc, Component: *component})
	}
	return leaves, nil
}

func (r *repository) ListLatestSBOMLeaves(ctx context.Context, productID snowflake.ID) ([]domain.SBOMLeaf, error) {
	// Newest upload wins per (component, format); ties broken by id so
	// the result is stable.
	var sboms []catalogdomain.SBOM
	err := r.db.WithContext(ctx).
		Model(&catalogdomain.SBOM{}).
		Where(`sboms.id IN (
			SELECT (
				SELECT s2.id FROM sboms s2
				WHERE s2.component_id = s.component_id AND s2.format = s.format
				ORDER BY s2.created_at DESC, s2.id DESC LIMIT 1
			)
			FROM sboms s
			JOIN project_components pc ON pc.component_id = s.component_id
			JOIN product_projects pp ON pp.project_id = pc.project_id
			WHERE pp.product_id = ?
			GROUP BY s.component_id, s.format
		)`, productID).
		Find(&sboms).Error
	if err != nil {
		return nil, err
	}
	return r.attachSBOMComponents(ctx, sboms)
}

func (r *repository) attachSBOMComponents(ctx context.Context, sboms []catalogdomain.SBOM) ([]domain.SBOMLeaf, error) {
	leaves := make([]domain.SBOMLeaf, 0, len(sboms))
	components := map[snowflake.ID]*catalogdomain.Component{}
	for _, s := range sboms {
		component, err := r.component(ctx, components, s.ComponentID)
		if err != nil {
			return nil, err
		}
		if component == nil {
			continue
		}
		leaves = append(leaves, domain.SBOMLeaf{SBOM: s, Component: *component})
	}
	return leaves, nil
}

func (r *repository) component(ctx context.Context, cache map[snowflake.ID]*catalogdomain.Component, id snowflake.ID) (*catalogdomain.Component, error) {
	if c, ok := cache[id]; ok {
		return c, nil
	}
	var c catalogdomain.Component
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cache[id] = nil
			return nil, nil
		}
		return nil, err
	}
	cache[id] = &c
	return &c, nil
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
