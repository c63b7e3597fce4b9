package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateRequest(ctx context.Context, req *AccessRequest) error
	FindRequestByID(ctx context.Context, id snowflake.ID) (*AccessRequest, error)
	// FindRequestByIDForUpdate takes a row lock; call inside a
	// transaction only.
	FindRequestByIDForUpdate(ctx context.Context, id snowflake.ID) (*AccessRequest, error)
	FindRequest(ctx context.Context, workspaceID, userID snowflake.ID) (*AccessRequest, error)
	FindRequestForUpdate(ctx context.Context, workspaceID, userID snowflake.ID) (*AccessRequest, error)
	UpdateRequest(ctx context.Context, req *AccessRequest) error
	ListRequestsByWorkspace(ctx context.Context, workspaceID snowflake.ID, status *RequestStatus) ([]AccessRequest, error)
	CountPending(ctx context.Context, workspaceID snowflake.ID) (int64, error)

	UpsertSignature(ctx context.Context, sig *NDASignature) error
	FindSignatureByRequest(ctx context.Context, requestID snowflake.ID) (*NDASignature, error)
	DeleteSignatureByRequest(ctx context.Context, requestID snowflake.ID) error
}
