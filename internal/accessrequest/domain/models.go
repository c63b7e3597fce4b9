// Package domain contains persistence models for the access-request
// and NDA lifecycle.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// RequestStatus is the access-request lifecycle state.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
	StatusRevoked  RequestStatus = "revoked"
)

// AccessRequest tracks one user's standing with a workspace. The
// (workspace, user) pair is unique for the row's whole life; rejected
// and revoked rows are reused on re-request rather than replaced.
type AccessRequest struct {
	ID          snowflake.ID  `gorm:"primaryKey" json:"id"`
	WorkspaceID snowflake.ID  `gorm:"not null;index;uniqueIndex:ux_access_requests_workspace_user,priority:1" json:"workspace_id"`
	UserID      snowflake.ID  `gorm:"not null;index;uniqueIndex:ux_access_requests_workspace_user,priority:2" json:"user_id"`
	Status      RequestStatus `gorm:"type:text;not null" json:"status"`
	RequestedAt time.Time     `gorm:"not null" json:"requested_at"`
	DecidedAt   *time.Time    `json:"decided_at,omitempty"`
	DecidedBy   *snowflake.ID `json:"decided_by,omitempty"`
	RevokedAt   *time.Time    `json:"revoked_at,omitempty"`
	RevokedBy   *snowflake.ID `json:"revoked_by,omitempty"`
}

// TableName sets the database table name.
func (AccessRequest) TableName() string { return "access_requests" }

// NDASignature pins an access request to the exact NDA bytes that
// were presented at signing time. One per request; re-signing
// replaces the row.
type NDASignature struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	AccessRequestID snowflake.ID `gorm:"not null;uniqueIndex:ux_nda_signatures_request" json:"access_request_id"`
	NDADocumentID   snowflake.ID `gorm:"column:nda_document_id;not null" json:"nda_document_id"`
	NDAContentHash  string       `gorm:"column:nda_content_hash;type:text;not null" json:"nda_content_hash"`
	SignedName      string       `gorm:"type:text;not null" json:"signed_name"`
	SignedAt        time.Time    `gorm:"not null" json:"signed_at"`
	IPAddress       string       `gorm:"type:text" json:"ip_address"`
	UserAgent       string       `gorm:"type:text" json:"user_agent"`
}

// TableName sets the database table name.
func (NDASignature) TableName() string { return "nda_signatures" }
