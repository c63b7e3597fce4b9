// Package domain contains persistence models for identities and
// personal access tokens.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User mirrors the identity provider's view of an account. Rows are
// written by the provider webhook, never by interactive flows.
type User struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	ExternalID string       `gorm:"type:text;not null;uniqueIndex:ux_users_external_id" json:"external_id"`
	Email      string       `gorm:"type:text;not null;uniqueIndex:ux_users_email" json:"email"`
	Name       string       `gorm:"type:text;not null" json:"name"`
	IsActive   bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// Session is a server-side cookie session.
type Session struct {
	ID        string       `gorm:"primaryKey;type:text" json:"id"`
	UserID    snowflake.ID `gorm:"not null;index" json:"user_id"`
	ExpiresAt time.Time    `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Session) TableName() string { return "sessions" }

// AccessToken is a personal bearer token. Only the signed envelope is
// stored; authorization is re-derived from the user on every call.
type AccessToken struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID       snowflake.ID `gorm:"not null;index" json:"user_id"`
	EncodedToken string       `gorm:"type:text;not null;uniqueIndex:ux_access_tokens_encoded" json:"-"`
	Description  string       `gorm:"type:text;not null" json:"description"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (AccessToken) TableName() string { return "access_tokens" }
