package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sbomify/sbomify/internal/authorization"
)

const maxWebhookBytes = 1 << 20

// BillingWebhook ingests payments-provider events. The provider signs
// the raw payload; signature failures are forbidden, not bad input.
func (s *Server) BillingWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if err := s.billingSvc.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// CheckoutReturn applies the checkout session the user came back
// with. Re-applying an already recorded subscription is a no-op.
func (s *Server) CheckoutReturn(c *gin.Context) {
	sessionID := c.Query("session_id")
	workspaceKey := c.Query("workspace")
	if sessionID == "" || workspaceKey == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	result, err := s.billingSvc.HandleCheckoutReturn(c.Request.Context(), workspaceKey, sessionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) BillingOverview(c *gin.Context) {
	wsID, ok := s.workspaceFromKey(c)
	if !ok {
		return
	}
	if !s.authorize(c, wsID, authorization.ObjectBilling, authorization.ActionView) {
		return
	}
	overview, err := s.billingSvc.GetOverview(c.Request.Context(), wsID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}
