// Package access decides, for any artifact read, whether the caller
// may see it. Evaluate is pure: everything it consults arrives in the
// input, so the same input always yields the same decision.
package access

import (
	"github.com/bwmarrin/snowflake"
	accessrequestdomain "github.com/sbomify/sbomify/internal/accessrequest/domain"
	catalogdomain "github.com/sbomify/sbomify/internal/catalog/domain"
	workspacedomain "github.com/sbomify/sbomify/internal/workspace/domain"
)

// Verdict is the outcome class of an evaluation.
type Verdict int

const (
	VerdictAllow Verdict = iota
	VerdictDeny
	VerdictRequireNDA
)

func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "allow"
	case VerdictDeny:
		return "deny"
	case VerdictRequireNDA:
		return "require_nda"
	}
	return "unknown"
}

// DenyReason narrows a deny verdict for the error mapping.
type DenyReason string

const (
	ReasonPaymentSuspended DenyReason = "payment_suspended"
	ReasonNotAuthorized    DenyReason = "not_authorized"
	ReasonAccessRequired   DenyReason = "access_required"
	ReasonAccessPending    DenyReason = "access_pending"
)

// Decision is the resolver output. NDADocumentID is set only for
// VerdictRequireNDA.
type Decision struct {
	Verdict       Verdict
	Reason        DenyReason
	NDADocumentID snowflake.ID
}

func (d Decision) Allowed() bool { return d.Verdict == VerdictAllow }

func allow() Decision                      { return Decision{Verdict: VerdictAllow} }
func deny(reason DenyReason) Decision      { return Decision{Verdict: VerdictDeny, Reason: reason} }
func requireNDA(doc snowflake.ID) Decision { return Decision{Verdict: VerdictRequireNDA, NDADocumentID: doc} }

// NDAInfo describes the workspace's current company NDA.
type NDAInfo struct {
	DocumentID  snowflake.ID
	ContentHash string
}

// SignatureInfo is the caller's pinned NDA signature, if any.
type SignatureInfo struct {
	DocumentID  snowflake.ID
	ContentHash string
}

// RequestInfo is the caller's access request in the owning workspace.
type RequestInfo struct {
	Status    accessrequestdomain.RequestStatus
	Signature *SignatureInfo
}

// Input carries everything Evaluate needs. Role is nil for callers
// with no membership in the owning workspace, anonymous included.
type Input struct {
	Role *workspacedomain.Role

	// PaymentRestricted mirrors the workspace snapshot's
	// subscription_status being past_due or suspended.
	PaymentRestricted bool

	// EffectiveVisibility is the least-privileged label along the
	// containment chain (a public leaf in a private container reads
	// as private here).
	EffectiveVisibility catalogdomain.Visibility

	// IsGlobalDocument marks workspace-wide trust-center documents
	// that bypass project scoping.
	IsGlobalDocument bool

	CompanyNDA *NDAInfo
	Request    *RequestInfo
}

// Evaluate applies the gating rules top-down; the first matching rule
// wins.
func Evaluate(in Input) Decision {
	isAdmin := in.Role != nil && in.Role.IsAdmin()

	// Payment-restricted workspaces stay readable for owners and
	// admins so billing can be fixed.
	if in.PaymentRestricted && !isAdmin {
		return deny(ReasonPaymentSuspended)
	}

	visibility := in.EffectiveVisibility
	if in.IsGlobalDocument {
		visibility = catalogdomain.VisibilityPublic
	}

	if visibility == catalogdomain.VisibilityPublic {
		return allow()
	}

	if isAdmin {
		return allow()
	}

	if visibility == catalogdomain.VisibilityPrivate {
		return deny(ReasonNotAuthorized)
	}

	return evaluateGated(in)
}

// evaluateGated handles the gated state. Workspace members read gated
// items outright; guests and outsiders go through the access-request
// and NDA pins.
func evaluateGated(in Input) Decision {
	if in.Role != nil && *in.Role == workspacedomain.RoleMember {
		return allow()
	}

	req := in.Request
	if req == nil {
		return deny(ReasonAccessRequired)
	}

	switch req.Status {
	case accessrequestdomain.StatusApproved:
		if in.CompanyNDA == nil {
			return allow()
		}
		if signatureValid(req.Signature, in.CompanyNDA) {
			return allow()
		}
		return requireNDA(in.CompanyNDA.DocumentID)

	case accessrequestdomain.StatusPending:
		if in.CompanyNDA != nil && !signatureValid(req.Signature, in.CompanyNDA) {
			// Let the UI progress to the signing step instead of a
			// dead-end pending message.
			return requireNDA(in.CompanyNDA.DocumentID)
		}
		return deny(ReasonAccessPending)

	default: // rejected, revoked
		return deny(ReasonAccessRequired)
	}
}

// signatureValid applies the hash pin: a signature counts only for
// the exact document and bytes it was made against.
func signatureValid(sig *SignatureInfo, nda *NDAInfo) bool {
	if sig == nil {
		return false
	}
	return sig.DocumentID == nda.DocumentID && sig.ContentHash == nda.ContentHash
}
