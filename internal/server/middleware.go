package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/sbomify/sbomify/internal/domains"
	identitydomain "github.com/sbomify/sbomify/internal/identity/domain"
	"github.com/sbomify/sbomify/pkg/tenantctx"
)

const (
	sessionCookieName = "sessionid"

	contextAdmissionKey = "host_admission"
)

// HostAdmission gates every request on the Host header. Unknown and
// malformed hosts never reach a handler.
func (s *Server) HostAdmission() gin.HandlerFunc {
	return func(c *gin.Context) {
		admission, err := s.domainsSvc.Admit(c.Request.Context(), c.Request.Host)
		if err != nil {
			AbortWithError(c, domains.ErrInvalidHost)
			return
		}
		c.Set(contextAdmissionKey, admission)
		if admission.Workspace != nil {
			ctx := tenantctx.WithWorkspaceID(c.Request.Context(), admission.Workspace.ID)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

func admissionFrom(c *gin.Context) *domains.Admission {
	v, ok := c.Get(contextAdmissionKey)
	if !ok {
		return nil
	}
	admission, _ := v.(*domains.Admission)
	return admission
}

// AuthRequired resolves the caller from the session cookie or a
// bearer personal token.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := s.resolveCaller(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Request = c.Request.WithContext(tenantctx.WithUserID(c.Request.Context(), user.ID))
		c.Next()
	}
}

// AuthOptional resolves the caller when credentials are present and
// lets anonymous requests through. Used on public artifact reads
// where the access resolver decides per item.
func (s *Server) AuthOptional() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := s.resolveCaller(c)
		if err == nil {
			c.Request = c.Request.WithContext(tenantctx.WithUserID(c.Request.Context(), user.ID))
		}
		c.Next()
	}
}

func (s *Server) resolveCaller(c *gin.Context) (*identitydomain.User, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if raw == "" || raw == header {
			return nil, ErrUnauthorized
		}
		return s.identitySvc.ResolveBearer(c.Request.Context(), raw)
	}

	sid, err := c.Cookie(sessionCookieName)
	if err != nil || strings.TrimSpace(sid) == "" {
		return nil, ErrUnauthorized
	}
	return s.identitySvc.ResolveSession(c.Request.Context(), sid)
}

// currentUserID returns the authenticated caller, zero for anonymous.
func currentUserID(c *gin.Context) snowflake.ID {
	id, ok := tenantctx.UserID(c.Request.Context())
	if !ok {
		return 0
	}
	return id
}

func idParam(c *gin.Context, name string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(c.Param(name))
	if err != nil {
		return 0, ErrInvalidRequest
	}
	return id, nil
}
