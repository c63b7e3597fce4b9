package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	releasedomain "github.com/sbomify/sbomify/internal/release/domain"
)

func (s *Server) CreateRelease(c *gin.Context) {
	productID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req releasedomain.CreateReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	rel, err := s.releaseSvc.Create(c.Request.Context(), currentUserID(c), productID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rel)
}

func (s *Server) ListReleases(c *gin.Context) {
	productID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	releases, err := s.releaseSvc.List(c.Request.Context(), productID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	page, info, err := paginate(c, releases, func(r releasedomain.Release) string { return r.ID.String() })
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": page, "page_info": info})
}

func (s *Server) GetRelease(c *gin.Context) {
	releaseID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	rel, err := s.releaseSvc.Get(c.Request.Context(), releaseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rel)
}

func (s *Server) GetReleaseBySlug(c *gin.Context) {
	productID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	rel, err := s.releaseSvc.GetBySlug(c.Request.Context(), productID, c.Param("slug"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rel)
}

func (s *Server) UpdateRelease(c *gin.Context) {
	releaseID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req releasedomain.UpdateReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	rel, err := s.releaseSvc.Update(c.Request.Context(), currentUserID(c), releaseID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rel)
}

func (s *Server) DeleteRelease(c *gin.Context) {
	releaseID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.releaseSvc.Delete(c.Request.Context(), currentUserID(c), releaseID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ListReleaseArtifacts(c *gin.Context) {
	releaseID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	artifacts, err := s.releaseSvc.ListArtifacts(c.Request.Context(), releaseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": artifacts})
}

type addArtifactBody struct {
	SBOMID     *string `json:"sbom_id"`
	DocumentID *string `json:"document_id"`
	Replace    bool    `json:"replace"`
}

func (s *Server) AddReleaseArtifact(c *gin.Context) {
	releaseID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var body addArtifactBody
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req := releasedomain.AddArtifactRequest{Replace: body.Replace}
	if body.SBOMID != nil {
		id, err := snowflake.ParseString(*body.SBOMID)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		req.SBOMID = &id
	}
	if body.DocumentID != nil {
		id, err := snowflake.ParseString(*body.DocumentID)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		req.DocumentID = &id
	}
	artifact, err := s.releaseSvc.AddArtifact(c.Request.Context(), currentUserID(c), releaseID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, artifact)
}

func (s *Server) RemoveReleaseArtifact(c *gin.Context) {
	releaseID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	artifactID, err := idParam(c, "artifact_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.releaseSvc.RemoveArtifact(c.Request.Context(), currentUserID(c), releaseID, artifactID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DownloadRelease composes the aggregate bill of materials for the
// caller. Anonymous callers get the public subset.
func (s *Server) DownloadRelease(c *gin.Context) {
	releaseID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	bom, err := s.releaseSvc.Compose(c.Request.Context(), currentUserID(c), releaseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="release.cdx.json"`)
	c.Data(http.StatusOK, "application/json", bom)
}
