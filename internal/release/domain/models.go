// Package domain contains persistence models and contracts for
// releases and release composition.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Release is a named, time-pinned grouping of artifacts under a
// product. Every product carries one implicit "latest" release,
// materialized lazily on first read.
type Release struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	ProductID    snowflake.ID `gorm:"not null;index;uniqueIndex:ux_releases_product_slug,priority:1" json:"product_id"`
	Name         string       `gorm:"type:text;not null" json:"name"`
	Slug         string       `gorm:"type:text;not null;uniqueIndex:ux_releases_product_slug,priority:2" json:"slug"`
	Description  string       `gorm:"type:text" json:"description"`
	IsPrerelease bool         `gorm:"not null;default:false" json:"is_prerelease"`
	IsLatest     bool         `gorm:"not null;default:false" json:"is_latest"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Release) TableName() string { return "releases" }

// ReleaseArtifact links one SBOM or one document (never both) into a
// release.
type ReleaseArtifact struct {
	ID         snowflake.ID  `gorm:"primaryKey" json:"id"`
	ReleaseID  snowflake.ID  `gorm:"not null;index" json:"release_id"`
	SBOMID     *snowflake.ID `gorm:"column:sbom_id;index" json:"sbom_id,omitempty"`
	DocumentID *snowflake.ID `gorm:"index" json:"document_id,omitempty"`
	CreatedAt  time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (ReleaseArtifact) TableName() string { return "release_artifacts" }
