package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/sbomify/sbomify/internal/domains"
)

// DomainCheck is the probe the edge/TLS layer hits before issuing a
// certificate. A successful probe on a custom domain marks it
// validated.
func (s *Server) DomainCheck(c *gin.Context) {
	probe, err := s.domainsSvc.Probe(c.Request.Context(), c.Request.Host)
	if err != nil {
		AbortWithError(c, domains.ErrInvalidHost)
		return
	}
	c.JSON(http.StatusOK, probe)
}

// EdgeDomainCheck answers the edge router's "should I serve this
// host" question. Secured by network policy, not credentials.
func (s *Server) EdgeDomainCheck(c *gin.Context) {
	host := c.Query("domain")
	if host == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if !s.domainsSvc.EdgeCheck(c.Request.Context(), host) {
		c.JSON(http.StatusNotFound, gin.H{"ok": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// PublicProductBySlug serves the clean custom-domain URL form. The
// owning workspace comes from the admitted host.
func (s *Server) PublicProductBySlug(c *gin.Context) {
	admission := admissionFrom(c)
	if admission == nil || admission.Kind != domains.KindCustom || admission.Workspace == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: errorPayload{
			Type:    "not_found",
			Message: "not found",
		}})
		return
	}
	product, err := s.catalogSvc.GetProductBySlug(c.Request.Context(), admission.Workspace.ID, c.Param("slug"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.writePublicProduct(c, product.ID)
}

// PublicProductByID serves the main-domain form of the trust-center
// page.
func (s *Server) PublicProductByID(c *gin.Context) {
	productID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.writePublicProduct(c, productID)
}

// writePublicProduct renders the outward-facing product page payload:
// the product, its releases and the workspace branding. Private
// products are hidden, not forbidden.
func (s *Server) writePublicProduct(c *gin.Context, productID snowflake.ID) {
	ctx := c.Request.Context()
	product, err := s.catalogSvc.GetProduct(ctx, productID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !product.IsPublic {
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: errorPayload{
			Type:    "not_found",
			Message: "not found",
		}})
		return
	}
	ws, err := s.workspaceSvc.GetByID(ctx, product.WorkspaceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	releases, err := s.releaseSvc.List(ctx, product.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product":  product,
		"releases": releases,
		"branding": ws.Branding,
		"team_key": ws.Key,
	})
}
