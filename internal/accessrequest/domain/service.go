package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// NDASource fetches the workspace NDA document's recorded content
// hash together with its stored bytes. Implemented by the catalog
// service on top of the object store.
type NDASource interface {
	FetchNDA(ctx context.Context, documentID snowflake.ID) (recordedHash string, content []byte, err error)
}

// SignNDAInput carries one signing attempt.
type SignNDAInput struct {
	RequestID  snowflake.ID
	UserID     snowflake.ID
	SignedName string
	Consent    bool
	IPAddress  string
	UserAgent  string
}

// RequestView is an access request decorated with what the requester
// still has to do.
type RequestView struct {
	Request       *AccessRequest `json:"request"`
	Signature     *NDASignature  `json:"signature,omitempty"`
	NDARequired   bool           `json:"nda_required"`
	NDADocumentID *snowflake.ID  `json:"nda_document_id,omitempty"`
}

// Service drives the access-request lifecycle. All status mutations
// take a row lock first; status checks happen after the lock.
type Service interface {
	// Create requests access to a workspace. Rejected and revoked
	// rows flip back to pending; approved and pending rows are
	// returned as-is.
	Create(ctx context.Context, workspaceID, userID snowflake.ID) (*RequestView, error)

	// CreateByEmail is Create for unauthenticated requesters who
	// identify themselves by address. The address must belong to a
	// known user.
	CreateByEmail(ctx context.Context, workspaceID snowflake.ID, email string) (*RequestView, error)

	// SignNDA records a signature pinned to the exact bytes the
	// signer saw. Admins are notified here, not at Create.
	SignNDA(ctx context.Context, input SignNDAInput) (*RequestView, error)

	// Get returns the caller's own request for a workspace.
	Get(ctx context.Context, workspaceID, userID snowflake.ID) (*RequestView, error)

	Approve(ctx context.Context, actorID, requestID snowflake.ID) error
	Reject(ctx context.Context, actorID, requestID snowflake.ID) error
	// Revoke additionally removes the guest membership and the
	// signature, so a re-request starts from a clean slate.
	Revoke(ctx context.Context, actorID, requestID snowflake.ID) error

	ListByWorkspace(ctx context.Context, actorID, workspaceID snowflake.ID, status *RequestStatus) ([]RequestView, error)

	// PendingCount is cached per workspace for the admin badge.
	PendingCount(ctx context.Context, actorID, workspaceID snowflake.ID) (int64, error)
}

var (
	ErrRequestNotFound  = errors.New("access_request_not_found")
	ErrNotPending       = errors.New("access_request_not_pending")
	ErrNotAuthorized    = errors.New("not_authorized")
	ErrConsentRequired  = errors.New("consent_required")
	ErrNDANotConfigured = errors.New("nda_not_configured")
	ErrDocumentModified = errors.New("nda_document_modified")
	ErrInvalidArgument  = errors.New("invalid_argument")
)
