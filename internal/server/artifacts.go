package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/sbomify/sbomify/internal/access"
	accessrequestdomain "github.com/sbomify/sbomify/internal/accessrequest/domain"
	billingdomain "github.com/sbomify/sbomify/internal/billing/domain"
	catalogdomain "github.com/sbomify/sbomify/internal/catalog/domain"
	workspacedomain "github.com/sbomify/sbomify/internal/workspace/domain"
)

const maxArtifactBytes = 32 << 20

// artifactDecision gathers everything the access resolver needs for
// one component and evaluates it for the current caller.
func (s *Server) artifactDecision(c *gin.Context, component *catalogdomain.Component, globalDocument bool) (access.Decision, error) {
	ctx := c.Request.Context()
	callerID := currentUserID(c)

	visibility, err := s.catalogSvc.EffectiveComponentVisibility(ctx, component.ID)
	if err != nil {
		return access.Decision{}, err
	}

	ws, err := s.workspaceSvc.GetByID(ctx, component.WorkspaceID)
	if err != nil {
		return access.Decision{}, err
	}

	in := access.Input{
		EffectiveVisibility: visibility,
		IsGlobalDocument:    globalDocument,
	}

	var limits billingdomain.PlanLimits
	if len(ws.PlanLimits) > 0 {
		if err := json.Unmarshal(ws.PlanLimits, &limits); err == nil {
			in.PaymentRestricted = limits.SubscriptionStatus == billingdomain.StatusPastDue ||
				limits.SubscriptionStatus == billingdomain.StatusSuspended
		}
	}

	if ws.CompanyNDADocumentID != nil {
		doc, err := s.catalogSvc.GetDocument(ctx, *ws.CompanyNDADocumentID)
		if err == nil {
			in.CompanyNDA = &access.NDAInfo{
				DocumentID:  doc.ID,
				ContentHash: doc.ContentHash,
			}
		}
	}

	if callerID != 0 {
		member, err := s.workspaceSvc.GetMember(ctx, ws.ID, callerID)
		if err == nil {
			role := member.Role
			in.Role = &role
		} else if !errors.Is(err, workspacedomain.ErrMemberNotFound) {
			return access.Decision{}, err
		}

		view, err := s.accessReqSvc.Get(ctx, ws.ID, callerID)
		if err == nil {
			info := &access.RequestInfo{Status: view.Request.Status}
			if view.Signature != nil {
				info.Signature = &access.SignatureInfo{
					DocumentID:  view.Signature.NDADocumentID,
					ContentHash: view.Signature.NDAContentHash,
				}
			}
			in.Request = info
		} else if !errors.Is(err, accessrequestdomain.ErrRequestNotFound) {
			return access.Decision{}, err
		}
	}

	decision := access.Evaluate(in)
	s.metrics.RecordAccessDecision(ctx, decision.Verdict.String())
	return decision, nil
}

// writeDenied renders a resolver outcome other than allow.
func (s *Server) writeDenied(c *gin.Context, d access.Decision) {
	if d.Verdict == access.VerdictRequireNDA {
		c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Error: errorPayload{
			Type:    "access_nda_required",
			Message: "an NDA signature is required before this artifact can be read",
			Detail:  map[string]any{"nda_document_id": d.NDADocumentID.String()},
		}})
		return
	}
	c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Error: errorPayload{
		Type:    string(d.Reason),
		Message: "access denied",
	}})
}

func (s *Server) guardSBOM(c *gin.Context) (*catalogdomain.SBOM, bool) {
	sbomID, err := idParam(c, "sbom_id")
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	sbom, err := s.catalogSvc.GetSBOM(c.Request.Context(), sbomID)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	component, err := s.catalogSvc.GetComponent(c.Request.Context(), sbom.ComponentID)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	decision, err := s.artifactDecision(c, component, false)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	if !decision.Allowed() {
		s.writeDenied(c, decision)
		return nil, false
	}
	return sbom, true
}

func (s *Server) GetSBOM(c *gin.Context) {
	sbom, ok := s.guardSBOM(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sbom)
}

func (s *Server) DownloadSBOM(c *gin.Context) {
	sbom, ok := s.guardSBOM(c)
	if !ok {
		return
	}
	raw, err := s.catalogSvc.DownloadSBOM(c.Request.Context(), sbom.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+sbom.Name+".json\"")
	c.Data(http.StatusOK, "application/json", raw)
}

// DownloadSBOMSigned serves a signed-URL grant without a session. The
// token was minted after a full access evaluation, so verification is
// the only gate here.
func (s *Server) DownloadSBOMSigned(c *gin.Context) {
	sbomID, err := idParam(c, "sbom_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if _, err := s.signer.Verify(c.Request.Context(), sbomID, c.Query("token")); err != nil {
		AbortWithError(c, err)
		return
	}
	raw, err := s.catalogSvc.DownloadSBOM(c.Request.Context(), sbomID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

func (s *Server) guardDocument(c *gin.Context) (*catalogdomain.Document, bool) {
	documentID, err := idParam(c, "document_id")
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	doc, err := s.catalogSvc.GetDocument(c.Request.Context(), documentID)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	component, err := s.catalogSvc.GetComponent(c.Request.Context(), doc.ComponentID)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	decision, err := s.artifactDecision(c, component, component.IsGlobal)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	if !decision.Allowed() {
		s.writeDenied(c, decision)
		return nil, false
	}
	return doc, true
}

func (s *Server) GetDocument(c *gin.Context) {
	doc, ok := s.guardDocument(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) DownloadDocument(c *gin.Context) {
	doc, ok := s.guardDocument(c)
	if !ok {
		return
	}
	raw, err := s.catalogSvc.DownloadDocument(c.Request.Context(), doc.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+doc.Name+"\"")
	c.Data(http.StatusOK, doc.ContentType, raw)
}

func (s *Server) DownloadDocumentSigned(c *gin.Context) {
	documentID, err := idParam(c, "document_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if _, err := s.signer.Verify(c.Request.Context(), documentID, c.Query("token")); err != nil {
		AbortWithError(c, err)
		return
	}
	doc, err := s.catalogSvc.GetDocument(c.Request.Context(), documentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	raw, err := s.catalogSvc.DownloadDocument(c.Request.Context(), documentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, doc.ContentType, raw)
}

func (s *Server) UploadCycloneDX(c *gin.Context) {
	s.uploadSBOM(c, catalogdomain.FormatCycloneDX)
}

func (s *Server) UploadSPDX(c *gin.Context) {
	s.uploadSBOM(c, catalogdomain.FormatSPDX)
}

func (s *Server) uploadSBOM(c *gin.Context, want catalogdomain.SBOMFormat) {
	componentID, err := idParam(c, "component_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxArtifactBytes))
	if err != nil || len(raw) == 0 {
		AbortWithError(c, catalogdomain.ErrInvalidFormat)
		return
	}
	sbom, err := s.catalogSvc.UploadSBOM(c.Request.Context(), currentUserID(c), componentID, raw, "api")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	// The payload decides its own format; posting SPDX to the
	// CycloneDX endpoint is a caller mistake even when it parses.
	if sbom.Format != want {
		_ = s.catalogSvc.DeleteSBOM(c.Request.Context(), currentUserID(c), sbom.ID)
		AbortWithError(c, catalogdomain.ErrInvalidFormat)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": sbom.ID.String()})
}

type uploadDocumentBody struct {
	Name                  string `form:"name"`
	Version               string `form:"version"`
	DocumentType          string `form:"document_type"`
	ComplianceSubcategory string `form:"compliance_subcategory"`
}

func (s *Server) UploadDocument(c *gin.Context) {
	componentID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var body uploadDocumentBody
	if err := c.ShouldBind(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	defer file.Close()
	content, err := io.ReadAll(io.LimitReader(file, maxArtifactBytes))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	doc, err := s.catalogSvc.UploadDocument(c.Request.Context(), currentUserID(c), catalogdomain.UploadDocumentRequest{
		ComponentID:           componentID,
		Name:                  body.Name,
		Version:               body.Version,
		DocumentType:          body.DocumentType,
		ComplianceSubcategory: body.ComplianceSubcategory,
		ContentType:           fileHeader.Header.Get("Content-Type"),
		Content:               content,
		Source:                "api",
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": doc.ID.String()})
}

func (s *Server) MergedComponentMetadata(c *gin.Context) {
	componentID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	sbomID, err := snowflake.ParseString(c.Query("sbom_id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	componentWins := c.Query("precedence") == "component"
	merged, err := s.catalogSvc.MergedMetadata(c.Request.Context(), componentID, sbomID, componentWins)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, merged)
}
