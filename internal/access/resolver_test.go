package access

import (
	"testing"

	accessrequestdomain "github.com/sbomify/sbomify/internal/accessrequest/domain"
	catalogdomain "github.com/sbomify/sbomify/internal/catalog/domain"
	workspacedomain "github.com/sbomify/sbomify/internal/workspace/domain"
)

func rolePtr(r workspacedomain.Role) *workspacedomain.Role { return &r }

func TestEvaluateRules(t *testing.T) {
	nda := &NDAInfo{DocumentID: 42, ContentHash: "h1"}

	tests := []struct {
		name    string
		in      Input
		verdict Verdict
		reason  DenyReason
		ndaDoc  int64
	}{
		{
			name:    "anonymous public allow",
			in:      Input{EffectiveVisibility: catalogdomain.VisibilityPublic},
			verdict: VerdictAllow,
		},
		{
			name: "payment restricted blocks member",
			in: Input{
				Role:                rolePtr(workspacedomain.RoleMember),
				PaymentRestricted:   true,
				EffectiveVisibility: catalogdomain.VisibilityPublic,
			},
			verdict: VerdictDeny,
			reason:  ReasonPaymentSuspended,
		},
		{
			name: "payment restricted spares admin",
			in: Input{
				Role:                rolePtr(workspacedomain.RoleAdmin),
				PaymentRestricted:   true,
				EffectiveVisibility: catalogdomain.VisibilityPrivate,
			},
			verdict: VerdictAllow,
		},
		{
			name: "global document reads as public",
			in: Input{
				EffectiveVisibility: catalogdomain.VisibilityPrivate,
				IsGlobalDocument:    true,
			},
			verdict: VerdictAllow,
		},
		{
			name:    "owner short-circuit on private",
			in:      Input{Role: rolePtr(workspacedomain.RoleOwner), EffectiveVisibility: catalogdomain.VisibilityPrivate},
			verdict: VerdictAllow,
		},
		{
			name:    "guest denied private",
			in:      Input{Role: rolePtr(workspacedomain.RoleGuest), EffectiveVisibility: catalogdomain.VisibilityPrivate},
			verdict: VerdictDeny,
			reason:  ReasonNotAuthorized,
		},
		{
			name:    "member denied private",
			in:      Input{Role: rolePtr(workspacedomain.RoleMember), EffectiveVisibility: catalogdomain.VisibilityPrivate},
			verdict: VerdictDeny,
			reason:  ReasonNotAuthorized,
		},
		{
			name:    "member reads gated",
			in:      Input{Role: rolePtr(workspacedomain.RoleMember), EffectiveVisibility: catalogdomain.VisibilityGated},
			verdict: VerdictAllow,
		},
		{
			name:    "anonymous gated without request",
			in:      Input{EffectiveVisibility: catalogdomain.VisibilityGated},
			verdict: VerdictDeny,
			reason:  ReasonAccessRequired,
		},
		{
			name: "approved without company nda",
			in: Input{
				EffectiveVisibility: catalogdomain.VisibilityGated,
				Request:             &RequestInfo{Status: accessrequestdomain.StatusApproved},
			},
			verdict: VerdictAllow,
		},
		{
			name: "approved with valid signature",
			in: Input{
				EffectiveVisibility: catalogdomain.VisibilityGated,
				CompanyNDA:          nda,
				Request: &RequestInfo{
					Status:    accessrequestdomain.StatusApproved,
					Signature: &SignatureInfo{DocumentID: 42, ContentHash: "h1"},
				},
			},
			verdict: VerdictAllow,
		},
		{
			name: "approved with stale signature hash",
			in: Input{
				EffectiveVisibility: catalogdomain.VisibilityGated,
				CompanyNDA:          nda,
				Request: &RequestInfo{
					Status:    accessrequestdomain.StatusApproved,
					Signature: &SignatureInfo{DocumentID: 42, ContentHash: "h0"},
				},
			},
			verdict: VerdictRequireNDA,
			ndaDoc:  42,
		},
		{
			name: "approved signed against older document",
			in: Input{
				EffectiveVisibility: catalogdomain.VisibilityGated,
				CompanyNDA:          nda,
				Request: &RequestInfo{
					Status:    accessrequestdomain.StatusApproved,
					Signature: &SignatureInfo{DocumentID: 7, ContentHash: "h1"},
				},
			},
			verdict: VerdictRequireNDA,
			ndaDoc:  42,
		},
		{
			name: "approved without signature",
			in: Input{
				EffectiveVisibility: catalogdomain.VisibilityGated,
				CompanyNDA:          nda,
				Request:             &RequestInfo{Status: accessrequestdomain.StatusApproved},
			},
			verdict: VerdictRequireNDA,
			ndaDoc:  42,
		},
		{
			name: "pending without nda",
			in: Input{
				EffectiveVisibility: catalogdomain.VisibilityGated,
				Request:             &RequestInfo{Status: accessrequestdomain.StatusPending},
			},
			verdict: VerdictDeny,
			reason:  ReasonAccessPending,
		},
		{
			name: "pending with unsigned nda surfaces signing step",
			in: Input{
				EffectiveVisibility: catalogdomain.VisibilityGated,
				CompanyNDA:          nda,
				Request:             &RequestInfo{Status: accessrequestdomain.StatusPending},
			},
			verdict: VerdictRequireNDA,
			ndaDoc:  42,
		},
		{
			name: "pending already signed",
			in: Input{
				EffectiveVisibility: catalogdomain.VisibilityGated,
				CompanyNDA:          nda,
				Request: &RequestInfo{
					Status:    accessrequestdomain.StatusPending,
					Signature: &SignatureInfo{DocumentID: 42, ContentHash: "h1"},
				},
			},
			verdict: VerdictDeny,
			reason:  ReasonAccessPending,
		},
		{
			name: "revoked request",
			in: Input{
				EffectiveVisibility: catalogdomain.VisibilityGated,
				Request:             &RequestInfo{Status: accessrequestdomain.StatusRevoked},
			},
			verdict: VerdictDeny,
			reason:  ReasonAccessRequired,
		},
		{
			name: "rejected request",
			in: Input{
				EffectiveVisibility: catalogdomain.VisibilityGated,
				Request:             &RequestInfo{Status: accessrequestdomain.StatusRejected},
			},
			verdict: VerdictDeny,
			reason:  ReasonAccessRequired,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(tc.in)
			if got.Verdict != tc.verdict {
				t.Fatalf("expected verdict %v, got %v", tc.verdict, got.Verdict)
			}
			if tc.verdict == VerdictDeny && got.Reason != tc.reason {
				t.Fatalf("expected reason %s, got %s", tc.reason, got.Reason)
			}
			if tc.verdict == VerdictRequireNDA && got.NDADocumentID.Int64() != tc.ndaDoc {
				t.Fatalf("expected nda document %d, got %d", tc.ndaDoc, got.NDADocumentID.Int64())
			}
		})
	}
}

func TestEvaluatePure(t *testing.T) {
	in := Input{
		Role:                rolePtr(workspacedomain.RoleGuest),
		EffectiveVisibility: catalogdomain.VisibilityGated,
		CompanyNDA:          &NDAInfo{DocumentID: 1, ContentHash: "h"},
		Request:             &RequestInfo{Status: accessrequestdomain.StatusApproved},
	}
	first := Evaluate(in)
	second := Evaluate(in)
	if first != second {
		t.Fatalf("expected identical decisions, got %+v vs %+v", first, second)
	}
}
