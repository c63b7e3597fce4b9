package server

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	accessrequestdomain "github.com/sbomify/sbomify/internal/accessrequest/domain"
)

type createAccessRequestBody struct {
	Email string `json:"email"`
}

// CreateAccessRequest accepts both authenticated callers and
// anonymous callers who identify themselves by email in the body.
func (s *Server) CreateAccessRequest(c *gin.Context) {
	ws, err := s.workspaceSvc.GetByKey(c.Request.Context(), c.Param("team_key"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var view *accessrequestdomain.RequestView
	if userID := currentUserID(c); userID != 0 {
		view, err = s.accessReqSvc.Create(c.Request.Context(), ws.ID, userID)
	} else {
		var body createAccessRequestBody
		if bindErr := c.ShouldBindJSON(&body); bindErr != nil || body.Email == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		view, err = s.accessReqSvc.CreateByEmail(c.Request.Context(), ws.ID, body.Email)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (s *Server) GetOwnAccessRequest(c *gin.Context) {
	ws, err := s.workspaceSvc.GetByKey(c.Request.Context(), c.Param("team_key"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	view, err := s.accessReqSvc.Get(c.Request.Context(), ws.ID, currentUserID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type signNDABody struct {
	SignedName string `json:"signed_name"`
	Consent    bool   `json:"consent"`
}

func (s *Server) SignNDA(c *gin.Context) {
	requestID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var body signNDABody
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	view, err := s.accessReqSvc.SignNDA(c.Request.Context(), accessrequestdomain.SignNDAInput{
		RequestID:  requestID,
		UserID:     currentUserID(c),
		SignedName: body.SignedName,
		Consent:    body.Consent,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) ApproveAccessRequest(c *gin.Context) {
	decideAccessRequest(c, s.accessReqSvc.Approve)
}

func (s *Server) RejectAccessRequest(c *gin.Context) {
	decideAccessRequest(c, s.accessReqSvc.Reject)
}

func (s *Server) RevokeAccessRequest(c *gin.Context) {
	decideAccessRequest(c, s.accessReqSvc.Revoke)
}

func decideAccessRequest(c *gin.Context, decide func(ctx context.Context, actorID, requestID snowflake.ID) error) {
	requestID, err := idParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := decide(c.Request.Context(), currentUserID(c), requestID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ListAccessRequests(c *gin.Context) {
	wsID, ok := s.workspaceFromKey(c)
	if !ok {
		return
	}
	var status *accessrequestdomain.RequestStatus
	if raw := c.Query("status"); raw != "" {
		st := accessrequestdomain.RequestStatus(raw)
		status = &st
	}
	views, err := s.accessReqSvc.ListByWorkspace(c.Request.Context(), currentUserID(c), wsID, status)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": views})
}

func (s *Server) PendingAccessRequests(c *gin.Context) {
	wsID, ok := s.workspaceFromKey(c)
	if !ok {
		return
	}
	count, err := s.accessReqSvc.PendingCount(c.Request.Context(), currentUserID(c), wsID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": count})
}
