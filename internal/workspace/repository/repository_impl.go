package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/sbomify/sbomify/internal/workspace/domain"
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

func (r *repository) CreateWorkspace(ctx context.Context, ws *domain.Workspace) error {
	return r.db.WithContext(ctx).Create(ws).Error
}

func (r *repository) FindWorkspaceByID(ctx context.Context, id snowflake.ID) (*domain.Workspace, error) {
	return r.findWorkspace(ctx, r.db, "id = ?", id)
}

func (r *repository) FindWorkspaceByIDForUpdate(ctx context.Context, id snowflake.ID) (*domain.Workspace, error) {
	tx := r.db
	// sqlite serializes writers itself and rejects FOR UPDATE.
	if tx.Dialector.Name() != "sqlite" {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.findWorkspace(ctx, tx, "id = ?", id)
}

func (r *repository) FindWorkspaceByKey(ctx context.Context, key string) (*domain.Workspace, error) {
	return r.findWorkspace(ctx, r.db, "key = ?", strings.TrimSpace(key))
}

func (r *repository) FindWorkspaceByCustomDomain(ctx context.Context, hostname string) (*domain.Workspace, error) {
	return r.findWorkspace(ctx, r.db, "custom_domain = ?", strings.ToLower(strings.TrimSpace(hostname)))
}

func (r *repository) FindWorkspaceByStripeCustomerID(ctx context.Context, customerID string) (*domain.Workspace, error) {
	return r.findWorkspace(ctx, r.db, "stripe_customer_id = ?", strings.TrimSpace(customerID))
}

func (r *repository) findWorkspace(ctx context.Context, db *gorm.DB, query string, arg any) (*domain.Workspace, error) {
	var ws domain.Workspace
	err := db.WithContext(ctx).First(&ws, query, arg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrWorkspaceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

func (r *repository) UpdateWorkspace(ctx context.Context, ws *domain.Workspace) error {
	return r.db.WithContext(ctx).Save(ws).Error
}

func (r *repository) DeleteWorkspace(ctx context.Context, id snowflake.ID) error {
	return r.db.WithContext(ctx).Delete(&domain.Workspace{}, "id = ?", id).Error
}

func (r *repository) CreateMember(ctx context.Context, member domain.Member) error {
	return r.db.WithContext(ctx).Create(&member).Error
}

func (r *repository) FindMember(ctx context.Context, workspaceID, userID snowflake.ID) (*domain.Member, error) {
	var member domain.Member
	err := r.db.WithContext(ctx).
		First(&member, "workspace_id = ? AND user_id = ?", workspaceID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *repository) FindDefaultMember(ctx context.Context, userID snowflake.ID) (*domain.Member, error) {
	var member domain.Member
	err := r.db.WithContext(ctx).
		First(&member, "user_id = ? AND is_default", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *repository) UpdateMember(ctx context.Context, member domain.Member) error {
	return r.db.WithContext(ctx).Save(&member).Error
}

func (r *repository) DeleteMember(ctx context.Context, workspaceID, userID snowflake.ID) error {
	res := r.db.WithContext(ctx).
		Delete(&domain.Member{}, "workspace_id = ? AND user_id = ?", workspaceID, userID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrMemberNotFound
	}
	return nil
}

func (r *repository) ClearDefault(ctx context.Context, userID snowflake.ID) error {
	return r.db.WithContext(ctx).
		Model(&domain.Member{}).
		Where("user_id = ? AND is_default", userID).
		Update("is_default", false).Error
}

func (r *repository) ListMembershipsByUser(ctx context.Context, userID snowflake.ID) ([]domain.MembershipRow, error) {
	var rows []domain.MembershipRow
	err := r.db.WithContext(ctx).
		Table("members").
		Select("members.*, workspaces.key AS workspace_key, workspaces.name AS workspace_name").
		Joins("JOIN workspaces ON workspaces.id = members.workspace_id").
		Where("members.user_id = ?", userID).
		Order("members.created_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListMembersByWorkspace(ctx context.Context, workspaceID snowflake.ID) ([]domain.Member, error) {
	var members []domain.Member
	err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at ASC").
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *repository) CountMembers(ctx context.Context, workspaceID snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Member{}).
		Where("workspace_id = ?", workspaceID).
		Count(&count).Error
	return count, err
}

func (r *repository) CountMembersByRole(ctx context.Context, workspaceID snowflake.ID, role domain.Role) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Member{}).
		Where("workspace_id = ? AND role = ?", workspaceID, role).
		Count(&count).Error
	return count, err
}

func (r *repository) CountMembershipsByUser(ctx context.Context, userID snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Member{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

func (r *repository) CreateInvitation(ctx context.Context, inv domain.Invitation) error {
	return r.db.WithContext(ctx).Create(&inv).Error
}

func (r *repository) FindInvitationByToken(ctx context.Context, token string) (*domain.Invitation, error) {
	var inv domain.Invitation
	err := r.db.WithContext(ctx).First(&inv, "token = ?", strings.TrimSpace(token)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrInvitationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *repository) DeleteInvitation(ctx context.Context, id snowflake.ID) error {
	return r.db.WithContext(ctx).Delete(&domain.Invitation{}, "id = ?", id).Error
}

func (r *repository) ListInvitationsByWorkspace(ctx context.Context, workspaceID snowflake.ID) ([]domain.Invitation, error) {
	var invs []domain.Invitation
	err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at ASC").
		Find(&invs).Error
	if err != nil {
		return nil, err
	}
	return invs, nil
}
