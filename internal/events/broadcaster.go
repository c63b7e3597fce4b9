// Package events pushes workspace-scoped notifications to whatever
// transport is configured. Sends are fire-and-forget: a broken
// transport is logged, never surfaced to the caller.
package events

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event types emitted by the platform.
const (
	TypeSBOMUploaded         = "sbom_uploaded"
	TypeSBOMDeleted          = "sbom_deleted"
	TypeDocumentUploaded     = "document_uploaded"
	TypeReleaseCreated       = "release_created"
	TypeReleaseUpdated       = "release_updated"
	TypeReleaseDeleted       = "release_deleted"
	TypeScanComplete         = "scan_complete"
	TypeAssessmentComplete   = "assessment_complete"
	TypeAccessRequestUpdated = "access_request_updated"
)

// Event is one broadcast payload.
type Event struct {
	ID           string         `json:"id"`
	WorkspaceKey string         `json:"workspace_key"`
	Type         string         `json:"type"`
	Payload      map[string]any `json:"payload,omitempty"`
	EmittedAt    time.Time      `json:"emitted_at"`
}

// Broadcaster delivers events for one workspace. Implementations must
// swallow their own failures.
type Broadcaster interface {
	Send(ctx context.Context, workspaceKey, eventType string, payload map[string]any)
}

func newEvent(workspaceKey, eventType string, payload map[string]any) Event {
	now := time.Now().UTC()
	return Event{
		ID:           ulid.MustNew(ulid.Timestamp(now), ulid.Monotonic(rand.Reader, 0)).String(),
		WorkspaceKey: workspaceKey,
		Type:         eventType,
		Payload:      payload,
		EmittedAt:    now,
	}
}

// NoOpBroadcaster drops every event. A valid backend for installs
// without a realtime transport.
type NoOpBroadcaster struct{}

func (NoOpBroadcaster) Send(ctx context.Context, workspaceKey, eventType string, payload map[string]any) {
}
