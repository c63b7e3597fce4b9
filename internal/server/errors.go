package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	accessrequestdomain "github.com/sbomify/sbomify/internal/accessrequest/domain"
	"github.com/sbomify/sbomify/internal/authorization"
	billingdomain "github.com/sbomify/sbomify/internal/billing/domain"
	catalogdomain "github.com/sbomify/sbomify/internal/catalog/domain"
	"github.com/sbomify/sbomify/internal/domains"
	identitydomain "github.com/sbomify/sbomify/internal/identity/domain"
	releasedomain "github.com/sbomify/sbomify/internal/release/domain"
	"github.com/sbomify/sbomify/internal/signedurl"
	"github.com/sbomify/sbomify/internal/storage"
	workspacedomain "github.com/sbomify/sbomify/internal/workspace/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Detail  map[string]any `json:"detail,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
)

// ErrorHandlingMiddleware turns the last recorded gin error into the
// JSON error envelope. Handlers that already wrote a body win.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var planErr *billingdomain.PlanLimitError
	if errors.As(err, &planErr) {
		return http.StatusForbidden, errorPayload{
			Type:    "plan_limit",
			Message: planErr.Error(),
			Detail: map[string]any{
				"kind":    planErr.Kind,
				"current": planErr.Current,
				"limit":   planErr.Limit,
				"plan":    planErr.PlanKey,
			},
		}
	}

	switch {
	case isInvalidInput(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_input",
			Message: err.Error(),
		}
	case isNotAuthenticated(err):
		return http.StatusUnauthorized, errorPayload{
			Type:    "not_authenticated",
			Message: "authentication required",
		}
	case isNotAuthorized(err):
		return http.StatusForbidden, errorPayload{
			Type:    "not_authorized",
			Message: err.Error(),
		}
	case isNotFound(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflict(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, billingdomain.ErrProvider):
		return http.StatusBadGateway, errorPayload{
			Type:    "provider_error",
			Message: "payments provider unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isInvalidInput(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, catalogdomain.ErrInvalidArgument),
		errors.Is(err, catalogdomain.ErrInvalidFormat),
		errors.Is(err, catalogdomain.ErrUnsupportedVersion),
		errors.Is(err, catalogdomain.ErrVisibilityViolation),
		errors.Is(err, workspacedomain.ErrInvalidArgument),
		errors.Is(err, workspacedomain.ErrInvalidName),
		errors.Is(err, workspacedomain.ErrInvalidRole),
		errors.Is(err, workspacedomain.ErrEmailMismatch),
		errors.Is(err, workspacedomain.ErrUnsupportedMedia),
		errors.Is(err, identitydomain.ErrInvalidArgument),
		errors.Is(err, identitydomain.ErrInvalidEvent),
		errors.Is(err, accessrequestdomain.ErrInvalidArgument),
		errors.Is(err, releasedomain.ErrInvalidArgument),
		errors.Is(err, billingdomain.ErrInvalidPayload),
		errors.Is(err, billingdomain.ErrUnknownPlan),
		errors.Is(err, billingdomain.ErrSessionNotPaid),
		errors.Is(err, domains.ErrInvalidHost):
		return true
	}
	return false
}

func isNotAuthenticated(err error) bool {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, identitydomain.ErrInvalidSession),
		errors.Is(err, identitydomain.ErrSessionExpired),
		errors.Is(err, identitydomain.ErrInvalidToken),
		errors.Is(err, identitydomain.ErrUserInactive):
		return true
	}
	return false
}

func isNotAuthorized(err error) bool {
	switch {
	case errors.Is(err, workspacedomain.ErrNotAuthorized),
		errors.Is(err, catalogdomain.ErrNotAuthorized),
		errors.Is(err, catalogdomain.ErrPlanRestricted),
		errors.Is(err, accessrequestdomain.ErrNotAuthorized),
		errors.Is(err, accessrequestdomain.ErrConsentRequired),
		errors.Is(err, accessrequestdomain.ErrNDANotConfigured),
		errors.Is(err, releasedomain.ErrNotAuthorized),
		errors.Is(err, releasedomain.ErrLatestProtected),
		errors.Is(err, billingdomain.ErrInvalidSignature),
		errors.Is(err, signedurl.ErrInvalidToken),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, workspacedomain.ErrSeatLimit):
		return true
	}
	return false
}

func isNotFound(err error) bool {
	switch {
	case errors.Is(err, catalogdomain.ErrProductNotFound),
		errors.Is(err, catalogdomain.ErrProjectNotFound),
		errors.Is(err, catalogdomain.ErrComponentNotFound),
		errors.Is(err, catalogdomain.ErrSBOMNotFound),
		errors.Is(err, catalogdomain.ErrDocumentNotFound),
		errors.Is(err, workspacedomain.ErrWorkspaceNotFound),
		errors.Is(err, workspacedomain.ErrMemberNotFound),
		errors.Is(err, workspacedomain.ErrInvitationNotFound),
		errors.Is(err, workspacedomain.ErrLogoNotFound),
		errors.Is(err, identitydomain.ErrUserNotFound),
		errors.Is(err, identitydomain.ErrTokenNotFound),
		errors.Is(err, accessrequestdomain.ErrRequestNotFound),
		errors.Is(err, releasedomain.ErrReleaseNotFound),
		errors.Is(err, releasedomain.ErrArtifactNotFound),
		errors.Is(err, storage.ErrObjectNotFound),
		errors.Is(err, domains.ErrUnknownHost),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	}
	return false
}

func isConflict(err error) bool {
	switch {
	case errors.Is(err, catalogdomain.ErrDuplicateName),
		errors.Is(err, catalogdomain.ErrDuplicateSBOM),
		errors.Is(err, releasedomain.ErrDuplicateName),
		errors.Is(err, releasedomain.ErrArtifactExists),
		errors.Is(err, workspacedomain.ErrAlreadyMember),
		errors.Is(err, workspacedomain.ErrLastOwner),
		errors.Is(err, workspacedomain.ErrLastWorkspace),
		errors.Is(err, workspacedomain.ErrDefaultWorkspace),
		errors.Is(err, workspacedomain.ErrInvitationExpired),
		errors.Is(err, accessrequestdomain.ErrNotPending),
		errors.Is(err, accessrequestdomain.ErrDocumentModified):
		return true
	}
	return false
}

// classifyErrorForLog feeds the request logger's error fields.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= 500:
		return "server_error", payload.Type
	case status >= 400:
		return "client_error", payload.Type
	default:
		return "", payload.Type
	}
}
