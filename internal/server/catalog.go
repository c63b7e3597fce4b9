package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	catalogdomain "github.com/sbomify/sbomify/internal/catalog/domain"
)

// workspaceFromKey resolves the :key path segment.
func (s *Server) workspaceFromKey(c *gin.Context) (snowflake.ID, bool) {
	ws, err := s.workspaceSvc.GetByKey(c.Request.Context(), c.Param("key"))
	if err != nil {
		AbortWithError(c, err)
		return 0, false
	}
	return ws.ID, true
}

func (s *Server) CreateProduct(c *gin.Context) {
	wsID, ok := s.workspaceFromKey(c)
	if !ok {
		return
	}
	var req catalogdomain.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	product, err := s.catalogSvc.CreateProduct(c.Request.Context(), currentUserID(c), wsID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (s *Server) ListProducts(c *gin.Context) {
	wsID, ok := s.workspaceFromKey(c)
	if !ok {
		return
	}
	products, err := s.catalogSvc.ListProducts(c.Request.Context(), wsID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	page, info, err := paginate(c, products, func(p catalogdomain.Product) string { return p.ID.String() })
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": page, "page_info": info})
}

func (s *Server) GetProduct(c *gin.Context) {
	productID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	product, err := s.catalogSvc.GetProduct(c.Request.Context(), productID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (s *Server) UpdateProduct(c *gin.Context) {
	productID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req catalogdomain.UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	product, err := s.catalogSvc.UpdateProduct(c.Request.Context(), currentUserID(c), productID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (s *Server) DeleteProduct(c *gin.Context) {
	productID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.catalogSvc.DeleteProduct(c.Request.Context(), currentUserID(c), productID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) AssignProject(c *gin.Context) {
	productID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	projectID, err := idParam(c, "project_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.catalogSvc.AssignProject(c.Request.Context(), currentUserID(c), productID, projectID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) UnassignProject(c *gin.Context) {
	productID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	projectID, err := idParam(c, "project_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.catalogSvc.UnassignProject(c.Request.Context(), currentUserID(c), productID, projectID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) CreateProject(c *gin.Context) {
	wsID, ok := s.workspaceFromKey(c)
	if !ok {
		return
	}
	var req catalogdomain.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	project, err := s.catalogSvc.CreateProject(c.Request.Context(), currentUserID(c), wsID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

func (s *Server) ListProjects(c *gin.Context) {
	wsID, ok := s.workspaceFromKey(c)
	if !ok {
		return
	}
	projects, err := s.catalogSvc.ListProjects(c.Request.Context(), wsID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	page, info, err := paginate(c, projects, func(p catalogdomain.Project) string { return p.ID.String() })
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": page, "page_info": info})
}

func (s *Server) UpdateProject(c *gin.Context) {
	projectID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req catalogdomain.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	project, err := s.catalogSvc.UpdateProject(c.Request.Context(), currentUserID(c), projectID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (s *Server) DeleteProject(c *gin.Context) {
	projectID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.catalogSvc.DeleteProject(c.Request.Context(), currentUserID(c), projectID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) AssignComponent(c *gin.Context) {
	projectID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	componentID, err := idParam(c, "component_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.catalogSvc.AssignComponent(c.Request.Context(), currentUserID(c), projectID, componentID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) UnassignComponent(c *gin.Context) {
	projectID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	componentID, err := idParam(c, "component_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.catalogSvc.UnassignComponent(c.Request.Context(), currentUserID(c), projectID, componentID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) CreateComponent(c *gin.Context) {
	wsID, ok := s.workspaceFromKey(c)
	if !ok {
		return
	}
	var req catalogdomain.CreateComponentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	component, err := s.catalogSvc.CreateComponent(c.Request.Context(), currentUserID(c), wsID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, component)
}

func (s *Server) ListComponents(c *gin.Context) {
	wsID, ok := s.workspaceFromKey(c)
	if !ok {
		return
	}
	components, err := s.catalogSvc.ListComponents(c.Request.Context(), wsID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	page, info, err := paginate(c, components, func(cm catalogdomain.Component) string { return cm.ID.String() })
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": page, "page_info": info})
}

func (s *Server) GetComponent(c *gin.Context) {
	componentID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	component, err := s.catalogSvc.GetComponent(c.Request.Context(), componentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, component)
}

func (s *Server) UpdateComponent(c *gin.Context) {
	componentID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req catalogdomain.UpdateComponentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	component, err := s.catalogSvc.UpdateComponent(c.Request.Context(), currentUserID(c), componentID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, component)
}

func (s *Server) DeleteComponent(c *gin.Context) {
	componentID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.catalogSvc.DeleteComponent(c.Request.Context(), currentUserID(c), componentID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ListComponentSBOMs(c *gin.Context) {
	componentID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	sboms, err := s.catalogSvc.ListSBOMsByComponent(c.Request.Context(), componentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": sboms})
}

func (s *Server) ListComponentDocuments(c *gin.Context) {
	componentID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	docs, err := s.catalogSvc.ListDocumentsByComponent(c.Request.Context(), componentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": docs})
}
