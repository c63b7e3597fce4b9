package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CreateWorkspaceRequest struct {
	Name string `json:"name"`
}

type WorkspaceResponse struct {
	ID                    string    `json:"id"`
	Key                   string    `json:"key"`
	Name                  string    `json:"name"`
	BillingPlanKey        string    `json:"billing_plan_key"`
	CustomDomain          string    `json:"custom_domain,omitempty"`
	CustomDomainValidated bool      `json:"custom_domain_validated"`
	CreatedAt             time.Time `json:"created_at"`
}

type MembershipItem struct {
	WorkspaceID  string    `json:"workspace_id"`
	WorkspaceKey string    `json:"workspace_key"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	IsDefault    bool      `json:"is_default"`
	CreatedAt    time.Time `json:"created_at"`
}

type InviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type InvitationResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service owns workspaces, memberships, roles, invitations and
// default-workspace election.
type Service interface {
	Create(ctx context.Context, userID snowflake.ID, req CreateWorkspaceRequest) (*WorkspaceResponse, error)
	// CreateDefault provisions the personal workspace minted when the
	// identity provider first announces a user.
	CreateDefault(ctx context.Context, userID snowflake.ID, userName string) (*WorkspaceResponse, error)
	Rename(ctx context.Context, actorID snowflake.ID, workspaceKey, name string) (*WorkspaceResponse, error)
	Delete(ctx context.Context, actorID snowflake.ID, workspaceKey string) error

	GetByKey(ctx context.Context, key string) (*Workspace, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Workspace, error)

	SetDefault(ctx context.Context, userID snowflake.ID, workspaceKey string) error
	ListMemberships(ctx context.Context, userID snowflake.ID) ([]MembershipItem, error)
	GetMember(ctx context.Context, workspaceID, userID snowflake.ID) (*Member, error)
	ChangeMemberRole(ctx context.Context, actorID snowflake.ID, workspaceKey string, targetUserID snowflake.ID, role Role) error
	RemoveMember(ctx context.Context, actorID snowflake.ID, workspaceKey string, targetUserID snowflake.ID) error
	// UpsertGuest adds or keeps a guest membership; used when an
	// access request is approved.
	UpsertGuest(ctx context.Context, workspaceID, userID snowflake.ID) error

	Invite(ctx context.Context, actorID snowflake.ID, workspaceKey string, req InviteRequest) (*InvitationResponse, error)
	AcceptInvitation(ctx context.Context, userID snowflake.ID, token string) (*MembershipItem, error)
	DeclineInvitation(ctx context.Context, token string) error
	ListInvitations(ctx context.Context, actorID snowflake.ID, workspaceKey string) ([]InvitationResponse, error)

	UpdateBranding(ctx context.Context, actorID snowflake.ID, workspaceKey string, branding map[string]any) error
	// UploadLogo stores the image bytes and records the object name in
	// the branding blob. Returns the stored filename.
	UploadLogo(ctx context.Context, actorID snowflake.ID, workspaceKey, contentType string, content []byte) (string, error)
	// GetLogo serves the stored logo for public branding pages.
	GetLogo(ctx context.Context, workspaceKey string) ([]byte, string, error)
	SetCompanyNDADocument(ctx context.Context, actorID snowflake.ID, workspaceKey string, documentID *snowflake.ID) error
}

var (
	ErrWorkspaceNotFound  = errors.New("workspace_not_found")
	ErrMemberNotFound     = errors.New("member_not_found")
	ErrNotAuthorized      = errors.New("not_authorized")
	ErrDefaultWorkspace   = errors.New("default_workspace")
	ErrLastWorkspace      = errors.New("last_workspace")
	ErrLastOwner          = errors.New("last_owner")
	ErrAlreadyMember      = errors.New("already_member")
	ErrSeatLimit          = errors.New("seat_limit")
	ErrInvitationNotFound = errors.New("invitation_not_found")
	ErrInvitationExpired  = errors.New("invitation_expired")
	ErrEmailMismatch      = errors.New("email_mismatch")
	ErrInvalidRole        = errors.New("invalid_role")
	ErrUnsupportedMedia   = errors.New("unsupported_media")
	ErrLogoNotFound       = errors.New("logo_not_found")
	ErrInvalidName        = errors.New("invalid_name")
	ErrInvalidArgument    = errors.New("invalid_argument")
)
