package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateWorkspace(ctx context.Context, ws *Workspace) error
	FindWorkspaceByID(ctx context.Context, id snowflake.ID) (*Workspace, error)
	// FindWorkspaceByIDForUpdate takes a row lock; call inside a
	// transaction only.
	FindWorkspaceByIDForUpdate(ctx context.Context, id snowflake.ID) (*Workspace, error)
	FindWorkspaceByKey(ctx context.Context, key string) (*Workspace, error)
	FindWorkspaceByCustomDomain(ctx context.Context, hostname string) (*Workspace, error)
	FindWorkspaceByStripeCustomerID(ctx context.Context, customerID string) (*Workspace, error)
	UpdateWorkspace(ctx context.Context, ws *Workspace) error
	DeleteWorkspace(ctx context.Context, id snowflake.ID) error

	CreateMember(ctx context.Context, member Member) error
	FindMember(ctx context.Context, workspaceID, userID snowflake.ID) (*Member, error)
	FindDefaultMember(ctx context.Context, userID snowflake.ID) (*Member, error)
	UpdateMember(ctx context.Context, member Member) error
	DeleteMember(ctx context.Context, workspaceID, userID snowflake.ID) error
	ClearDefault(ctx context.Context, userID snowflake.ID) error
	ListMembershipsByUser(ctx context.Context, userID snowflake.ID) ([]MembershipRow, error)
	ListMembersByWorkspace(ctx context.Context, workspaceID snowflake.ID) ([]Member, error)
	CountMembers(ctx context.Context, workspaceID snowflake.ID) (int64, error)
	CountMembersByRole(ctx context.Context, workspaceID snowflake.ID, role Role) (int64, error)
	CountMembershipsByUser(ctx context.Context, userID snowflake.ID) (int64, error)

	CreateInvitation(ctx context.Context, inv Invitation) error
	FindInvitationByToken(ctx context.Context, token string) (*Invitation, error)
	DeleteInvitation(ctx context.Context, id snowflake.ID) error
	ListInvitationsByWorkspace(ctx context.Context, workspaceID snowflake.ID) ([]Invitation, error)
}

// MembershipRow joins a membership with its workspace for listing.
type MembershipRow struct {
	Member
	WorkspaceKey  string
	WorkspaceName string
}
