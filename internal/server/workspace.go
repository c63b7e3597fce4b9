package server

import (
	"io"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/sbomify/sbomify/internal/authorization"
	workspacedomain "github.com/sbomify/sbomify/internal/workspace/domain"
)

// authorize runs the caller through the policy engine for one object
// class in one workspace.
func (s *Server) authorize(c *gin.Context, workspaceID snowflake.ID, object, action string) bool {
	if err := s.authzSvc.Authorize(c.Request.Context(), currentUserID(c), workspaceID, object, action); err != nil {
		AbortWithError(c, err)
		return false
	}
	return true
}

func (s *Server) CreateWorkspace(c *gin.Context) {
	var req workspacedomain.CreateWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	ws, err := s.workspaceSvc.Create(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ws)
}

func (s *Server) ListMemberships(c *gin.Context) {
	items, err := s.workspaceSvc.ListMemberships(c.Request.Context(), currentUserID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) GetWorkspace(c *gin.Context) {
	ws, err := s.workspaceSvc.GetByKey(c.Request.Context(), c.Param("key"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.authorize(c, ws.ID, authorization.ObjectWorkspace, authorization.ActionView) {
		return
	}
	c.JSON(http.StatusOK, ws)
}

type renameWorkspaceBody struct {
	Name string `json:"name"`
}

func (s *Server) RenameWorkspace(c *gin.Context) {
	var body renameWorkspaceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	ws, err := s.workspaceSvc.Rename(c.Request.Context(), currentUserID(c), c.Param("key"), body.Name)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, ws)
}

func (s *Server) DeleteWorkspace(c *gin.Context) {
	if err := s.workspaceSvc.Delete(c.Request.Context(), currentUserID(c), c.Param("key")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) SetDefaultWorkspace(c *gin.Context) {
	if err := s.workspaceSvc.SetDefault(c.Request.Context(), currentUserID(c), c.Param("key")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type changeRoleBody struct {
	Role string `json:"role"`
}

func (s *Server) ChangeMemberRole(c *gin.Context) {
	targetID, err := idParam(c, "user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var body changeRoleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	err = s.workspaceSvc.ChangeMemberRole(c.Request.Context(), currentUserID(c), c.Param("key"), targetID, workspacedomain.Role(body.Role))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) RemoveMember(c *gin.Context) {
	targetID, err := idParam(c, "user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.workspaceSvc.RemoveMember(c.Request.Context(), currentUserID(c), c.Param("key"), targetID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) InviteMember(c *gin.Context) {
	var req workspacedomain.InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	invitation, err := s.workspaceSvc.Invite(c.Request.Context(), currentUserID(c), c.Param("key"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, invitation)
}

func (s *Server) ListInvitations(c *gin.Context) {
	items, err := s.workspaceSvc.ListInvitations(c.Request.Context(), currentUserID(c), c.Param("key"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) AcceptInvitation(c *gin.Context) {
	membership, err := s.workspaceSvc.AcceptInvitation(c.Request.Context(), currentUserID(c), c.Param("token"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, membership)
}

func (s *Server) DeclineInvitation(c *gin.Context) {
	if err := s.workspaceSvc.DeclineInvitation(c.Request.Context(), c.Param("token")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) UpdateBranding(c *gin.Context) {
	var branding map[string]any
	if err := c.ShouldBindJSON(&branding); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if err := s.workspaceSvc.UpdateBranding(c.Request.Context(), currentUserID(c), c.Param("key"), branding); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

const maxLogoBytes = 2 << 20

// UploadBrandingLogo accepts a multipart image and records it in the
// workspace branding blob.
func (s *Server) UploadBrandingLogo(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxLogoBytes+1))
	if err != nil || len(content) > maxLogoBytes {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	filename, err := s.workspaceSvc.UploadLogo(c.Request.Context(), currentUserID(c), c.Param("key"), header.Header.Get("Content-Type"), content)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"filename": filename})
}

// BrandingLogo serves the stored logo bytes. Unauthenticated, the
// logo shows on public product pages.
func (s *Server) BrandingLogo(c *gin.Context) {
	content, contentType, err := s.workspaceSvc.GetLogo(c.Request.Context(), c.Param("key"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, contentType, content)
}

type ndaDocumentBody struct {
	DocumentID *string `json:"document_id"`
}

func (s *Server) SetCompanyNDADocument(c *gin.Context) {
	var body ndaDocumentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	var documentID *snowflake.ID
	if body.DocumentID != nil && *body.DocumentID != "" {
		id, err := snowflake.ParseString(*body.DocumentID)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		documentID = &id
	}
	if err := s.workspaceSvc.SetCompanyNDADocument(c.Request.Context(), currentUserID(c), c.Param("key"), documentID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type customDomainBody struct {
	Domain string `json:"domain"`
}

func (s *Server) SetCustomDomain(c *gin.Context) {
	var body customDomainBody
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	ws, err := s.domainsSvc.SetCustomDomain(c.Request.Context(), currentUserID(c), c.Param("key"), body.Domain)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, ws)
}
