// Package domain contains persistence models for workspaces,
// memberships and invitations.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Workspace represents a tenant. Key is the obfuscated identifier
// exposed in URLs; the numeric ID never leaves the database layer.
type Workspace struct {
	ID             snowflake.ID   `gorm:"primaryKey" json:"id"`
	Key            string         `gorm:"type:text;not null;uniqueIndex:ux_workspaces_key" json:"key"`
	Name           string         `gorm:"type:text;not null" json:"name"`
	BillingPlanKey string         `gorm:"type:text;not null" json:"billing_plan_key"`
	PlanLimits     datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'" json:"plan_limits"`

	// Denormalized from the plan-limits snapshot so webhook lookups
	// by customer do not need JSON queries.
	StripeCustomerID     string `gorm:"type:text;index" json:"-"`
	StripeSubscriptionID string `gorm:"type:text;index" json:"-"`

	CustomDomain                     *string    `gorm:"type:text;uniqueIndex:ux_workspaces_custom_domain" json:"custom_domain,omitempty"`
	CustomDomainValidated            bool       `gorm:"not null;default:false" json:"custom_domain_validated"`
	CustomDomainLastCheckedAt        *time.Time `json:"custom_domain_last_checked_at,omitempty"`
	CustomDomainVerificationFailures int        `gorm:"not null;default:0" json:"custom_domain_verification_failures"`

	Branding             datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"branding"`
	CompanyNDADocumentID *snowflake.ID     `gorm:"column:company_nda_document_id" json:"company_nda_document_id,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Workspace) TableName() string { return "workspaces" }

// Member represents membership of a user in a workspace. At most one
// membership per user carries IsDefault across all workspaces.
type Member struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	WorkspaceID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_members_workspace_user,priority:1" json:"workspace_id"`
	UserID      snowflake.ID `gorm:"not null;index;uniqueIndex:ux_members_workspace_user,priority:2" json:"user_id"`
	Role        Role         `gorm:"type:text;not null" json:"role"`
	IsDefault   bool         `gorm:"not null;default:false" json:"is_default"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Member) TableName() string { return "members" }

// Invitation tracks a pending invite to a workspace. Terminal
// transitions delete the row.
type Invitation struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	WorkspaceID snowflake.ID `gorm:"not null;index" json:"workspace_id"`
	Email       string       `gorm:"type:text;not null" json:"email"`
	Role        Role         `gorm:"type:text;not null" json:"role"`
	Token       string       `gorm:"type:text;not null;uniqueIndex:ux_invitations_token" json:"-"`
	InvitedBy   snowflake.ID `gorm:"column:invited_by;not null" json:"invited_by"`
	ExpiresAt   time.Time    `gorm:"not null" json:"expires_at"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Invitation) TableName() string { return "invitations" }
