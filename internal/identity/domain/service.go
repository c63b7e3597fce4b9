package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Provider webhook event kinds.
const (
	ProviderEventLogin         = "LOGIN"
	ProviderEventLogout        = "LOGOUT"
	ProviderEventUpdateProfile = "UPDATE_PROFILE"
	ProviderEventDeleteAccount = "DELETE_ACCOUNT"
)

// ProviderEvent is a verified identity-provider webhook payload.
type ProviderEvent struct {
	Kind       string `json:"kind"`
	ExternalID string `json:"external_id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	SessionID  string `json:"session_id,omitempty"`
}

type CreateTokenRequest struct {
	Description string `json:"description"`
}

type TokenResponse struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Token       string    `json:"token,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Service resolves callers and manages personal tokens. It makes no
// authorization decisions.
type Service interface {
	ResolveSession(ctx context.Context, sessionID string) (*User, error)
	ResolveBearer(ctx context.Context, raw string) (*User, error)
	GetUser(ctx context.Context, id snowflake.ID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	CreateToken(ctx context.Context, userID snowflake.ID, req CreateTokenRequest) (*TokenResponse, error)
	ListTokens(ctx context.Context, userID snowflake.ID) ([]TokenResponse, error)
	DeleteToken(ctx context.Context, userID, tokenID snowflake.ID) error

	HandleProviderEvent(ctx context.Context, evt ProviderEvent) error
}

// WorkspaceProvisioner creates the default workspace for a user who
// logs in for the first time. Implemented by the workspace package;
// declared here so the dependency points one way only.
type WorkspaceProvisioner interface {
	ProvisionDefaultWorkspace(ctx context.Context, userID snowflake.ID, userName string) error
}

var (
	ErrInvalidToken    = errors.New("invalid_token")
	ErrInvalidSession  = errors.New("invalid_session")
	ErrSessionExpired  = errors.New("session_expired")
	ErrUserNotFound    = errors.New("user_not_found")
	ErrUserInactive    = errors.New("user_inactive")
	ErrInvalidEvent    = errors.New("invalid_event")
	ErrTokenNotFound   = errors.New("token_not_found")
	ErrInvalidArgument = errors.New("invalid_argument")
)
