package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/sbomify/sbomify/internal/accessrequest/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) CreateRequest(ctx context.Context, req *domain.AccessRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *repository) FindRequestByID(ctx context.Context, id snowflake.ID) (*domain.AccessRequest, error) {
	return r.findRequest(ctx, r.db, "id = ?", id)
}

func (r *repository) FindRequestByIDForUpdate(ctx context.Context, id snowflake.ID) (*domain.AccessRequest, error) {
	return r.findRequest(ctx, r.locking(), "id = ?", id)
}

func (r *repository) FindRequest(ctx context.Context, workspaceID, userID snowflake.ID) (*domain.AccessRequest, error) {
	return r.findRequest(ctx, r.db, "workspace_id = ? AND user_id = ?", workspaceID, userID)
}

func (r *repository) FindRequestForUpdate(ctx context.Context, workspaceID, userID snowflake.ID) (*domain.AccessRequest, error) {
	return r.findRequest(ctx, r.locking(), "workspace_id = ? AND user_id = ?", workspaceID, userID)
}

func (r *repository) UpdateRequest(ctx context.Context, req *domain.AccessRequest) error {
	return r.db.WithContext(ctx).Save(req).Error
}

func (r *repository) ListRequestsByWorkspace(ctx context.Context, workspaceID snowflake.ID, status *domain.RequestStatus) ([]domain.AccessRequest, error) {
	var requests []domain.AccessRequest
	tx := r.db.WithContext(ctx).Where("workspace_id = ?", workspaceID)
	if status != nil {
		tx = tx.Where("status = ?", *status)
	}
	if err := tx.Order("requested_at DESC").Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *repository) CountPending(ctx context.Context, workspaceID snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.AccessRequest{}).
		Where("workspace_id = ? AND status = ?", workspaceID, domain.StatusPending).
		Count(&count).Error
	return count, err
}

func (r *repository) UpsertSignature(ctx context.Context, sig *domain.NDASignature) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "access_request_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"nda_document_id", "nda_content_hash", "signed_name", "signed_at", "ip_address", "user_agent",
		}),
	}).Create(sig).Error
}

func (r *repository) FindSignatureByRequest(ctx context.Context, requestID snowflake.ID) (*domain.NDASignature, error) {
	var sig domain.NDASignature
	err := r.db.WithContext(ctx).Where("access_request_id = ?", requestID).First(&sig).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRequestNotFound
		}
		return nil, err
	}
	return &sig, nil
}

func (r *repository) DeleteSignatureByRequest(ctx context.Context, requestID snowflake.ID) error {
	return r.db.WithContext(ctx).Where("access_request_id = ?", requestID).Delete(&domain.NDASignature{}).Error
}

func (r *repository) locking() *gorm.DB {
	// sqlite serializes writers itself and rejects FOR UPDATE.
	if r.db.Dialector.Name() == "sqlite" {
		return r.db
	}
	return r.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *repository) findRequest(ctx context.Context, tx *gorm.DB, query string, args ...any) (*domain.AccessRequest, error) {
	var req domain.AccessRequest
	err := tx.WithContext(ctx).Where(query, args...).First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRequestNotFound
		}
		return nil, err
	}
	return &req, nil
}
