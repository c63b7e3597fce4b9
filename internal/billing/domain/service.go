package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	workspacedomain "github.com/sbomify/sbomify/internal/workspace/domain"
)

// ResourceKind names a plan-limited resource type.
type ResourceKind string

const (
	ResourceProducts   ResourceKind = "products"
	ResourceProjects   ResourceKind = "projects"
	ResourceComponents ResourceKind = "components"
)

// ResourceCounter reports how many resources of a kind a workspace
// currently holds. Implemented by the catalog store.
type ResourceCounter interface {
	CountResources(ctx context.Context, workspaceID snowflake.ID, kind ResourceKind) (int64, error)
}

// CheckoutResult is returned by the checkout-return endpoint.
type CheckoutResult struct {
	WorkspaceKey  string `json:"workspace_key"`
	PlanKey       string `json:"plan_key"`
	AlreadyActive bool   `json:"already_active"`
}

// Overview is the billing state shown on the workspace billing page.
type Overview struct {
	PlanKey    string     `json:"plan_key"`
	PlanName   string     `json:"plan_name"`
	Limits     PlanLimits `json:"limits"`
	CanUpgrade bool       `json:"can_upgrade"`
}

// Service reconciles workspace entitlements with the payments
// provider and gates resource creation against the snapshot.
type Service interface {
	// HandleWebhook verifies the provider signature and applies one
	// event. Unrecognized event types are logged and ignored.
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error

	// HandleCheckoutReturn applies the session the user returned
	// with. Re-applying an already recorded subscription is a no-op.
	HandleCheckoutReturn(ctx context.Context, workspaceKey, sessionID string) (*CheckoutResult, error)

	// RefreshSubscription silently patches a drifted snapshot from
	// the provider's current state.
	RefreshSubscription(ctx context.Context, workspaceID snowflake.ID) error

	// CanCreate is the pre-creation plan gate.
	CanCreate(ctx context.Context, workspaceID snowflake.ID, kind ResourceKind) error

	// CanCreateCounted applies the plan gate to a workspace row the
	// caller already locked, with the resource count taken through
	// the caller's own transaction. Read-only.
	CanCreateCounted(ctx context.Context, ws *workspacedomain.Workspace, kind ResourceKind, current int64) error

	GetOverview(ctx context.Context, workspaceID snowflake.ID) (*Overview, error)
}

// PlanLimitError carries the concrete count and cap for the 403 body.
type PlanLimitError struct {
	Kind    ResourceKind
	Current int64
	Limit   int64
	PlanKey string
}

func (e *PlanLimitError) Error() string {
	return fmt.Sprintf("plan_limit: %s at %d of %d on %s", e.Kind, e.Current, e.Limit, e.PlanKey)
}

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrUnknownPlan      = errors.New("unknown_plan")
	ErrSessionNotPaid   = errors.New("session_not_paid")
)
