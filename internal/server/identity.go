package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	identitydomain "github.com/sbomify/sbomify/internal/identity/domain"
	"go.uber.org/zap"
)

const identityWebhookHeader = "X-Webhook-Secret"

// IdentityWebhook ingests identity-provider lifecycle events. The
// provider authenticates with a shared header secret.
func (s *Server) IdentityWebhook(c *gin.Context) {
	secret := s.cfg.IdentityWebhookSecret
	got := c.GetHeader(identityWebhookHeader)
	if secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(got)) != 1 {
		s.log.Warn("identity webhook rejected", zap.String("remote", c.ClientIP()))
		c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Error: errorPayload{
			Type:    "not_authorized",
			Message: "invalid webhook secret",
		}})
		return
	}

	var evt identitydomain.ProviderEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if err := s.identitySvc.HandleProviderEvent(c.Request.Context(), evt); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func (s *Server) Me(c *gin.Context) {
	user, err := s.identitySvc.GetUser(c.Request.Context(), currentUserID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) ListTokens(c *gin.Context) {
	tokens, err := s.identitySvc.ListTokens(c.Request.Context(), currentUserID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": tokens})
}

func (s *Server) CreateToken(c *gin.Context) {
	var req identitydomain.CreateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	token, err := s.identitySvc.CreateToken(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, token)
}

func (s *Server) DeleteToken(c *gin.Context) {
	tokenID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.identitySvc.DeleteToken(c.Request.Context(), currentUserID(c), tokenID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
