package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/sbomify/sbomify/internal/billing/domain"
	"github.com/sbomify/sbomify/internal/config"
	identitydomain "github.com/sbomify/sbomify/internal/identity/domain"
	"github.com/sbomify/sbomify/internal/providers/email"
	"github.com/sbomify/sbomify/internal/storage"
	"github.com/sbomify/sbomify/internal/workspace/domain"
	"github.com/sbomify/sbomify/pkg/db"
	"github.com/sbomify/sbomify/pkg/secrets"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const invitationTTL = 7 * 24 * time.Hour

type service struct {
	db      *gorm.DB
	repo    domain.Repository
	users   identitydomain.Repository
	genID   *snowflake.Node
	cfg     config.Config
	catalog *config.PlanCatalogHolder
	mail    email.Provider
	store   storage.ObjectStore
	log     *zap.Logger
	keySeed []byte
}

func NewService(
	gormDB *gorm.DB,
	repo domain.Repository,
	users identitydomain.Repository,
	genID *snowflake.Node,
	cfg config.Config,
	catalog *config.PlanCatalogHolder,
	mail email.Provider,
	store storage.ObjectStore,
	log *zap.Logger,
) domain.Service {
	return &service{
		db:      gormDB,
		repo:    repo,
		users:   users,
		genID:   genID,
		cfg:     cfg,
		catalog: catalog,
		mail:    mail,
		store:   store,
		log:     log.Named("workspace.service"),
		keySeed: secrets.DeriveKey(cfg.AppSecret, "workspace-key"),
	}
}

func (s *service) Create(ctx context.Context, userID snowflake.ID, req domain.CreateWorkspaceRequest) (*domain.WorkspaceResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	return s.create(ctx, userID, name)
}

func (s *service) CreateDefault(ctx context.Context, userID snowflake.ID, userName string) (*domain.WorkspaceResponse, error) {
	name := "My Workspace"
	if trimmed := strings.TrimSpace(userName); trimmed != "" {
		name = fmt.Sprintf("%s's Workspace", trimmed)
	}
	return s.create(ctx, userID, name)
}

func (s *service) create(ctx context.Context, userID snowflake.ID, name string) (*domain.WorkspaceResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidArgument
	}

	plan, ok := s.catalog.Get().Find(config.PlanCommunity)
	if !ok {
		return nil, domain.ErrInvalidArgument
	}

	now := time.Now().UTC()
	snapshot := billingdomain.SnapshotFromPlan(plan, billingdomain.StatusActive, now)
	rawLimits, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}

	wsID := s.genID.Generate()
	ws := domain.Workspace{
		ID:             wsID,
		Key:            domain.DeriveWorkspaceKey(s.keySeed, wsID),
		Name:           name,
		BillingPlanKey: plan.Key,
		PlanLimits:     datatypes.JSON(rawLimits),
		Branding:       datatypes.JSONMap{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateWorkspace(ctx, &ws); err != nil {
			return err
		}

		hasDefault := true
		if _, err := repo.FindDefaultMember(ctx, userID); err == domain.ErrMemberNotFound {
			hasDefault = false
		} else if err != nil {
			return err
		}

		member := domain.Member{
			ID:          s.genID.Generate(),
			WorkspaceID: wsID,
			UserID:      userID,
			Role:        domain.RoleOwner,
			IsDefault:   !hasDefault,
			CreatedAt:   now,
		}
		return repo.CreateMember(ctx, member)
	})
	if err != nil {
		return nil, err
	}

	return workspaceResponse(&ws), nil
}

func (s *service) Rename(ctx context.Context, actorID snowflake.ID, workspaceKey, name string) (*domain.WorkspaceResponse, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	ws, _, err := s.requireRole(ctx, actorID, workspaceKey, domain.ActionManageCatalog)
	if err != nil {
		return nil, err
	}

	ws.Name = name
	ws.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateWorkspace(ctx, ws); err != nil {
		return nil, err
	}
	return workspaceResponse(ws), nil
}

func (s *service) Delete(ctx context.Context, actorID snowflake.ID, workspaceKey string) error {
	ws, member, err := s.requireRole(ctx, actorID, workspaceKey, domain.ActionDeleteWorkspace)
	if err != nil {
		return err
	}
	if member.IsDefault {
		return domain.ErrDefaultWorkspace
	}

	count, err := s.repo.CountMembershipsByUser(ctx, actorID)
	if err != nil {
		return err
	}
	if count <= 1 {
		return domain.ErrLastWorkspace
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		members, err := repo.ListMembersByWorkspace(ctx, ws.ID)
		if err != nil {
			return err
		}
		for _, m := range members {
			if err := repo.DeleteMember(ctx, ws.ID, m.UserID); err != nil {
				return err
			}
			if m.IsDefault {
				if err := s.electDefault(ctx, repo, m.UserID); err != nil {
					return err
				}
			}
		}
		return repo.DeleteWorkspace(ctx, ws.ID)
	})
}

func (s *service) GetByKey(ctx context.Context, key string) (*domain.Workspace, error) {
	return s.repo.FindWorkspaceByKey(ctx, key)
}

func (s *service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Workspace, error) {
	return s.repo.FindWorkspaceByID(ctx, id)
}

func (s *service) SetDefault(ctx context.Context, userID snowflake.ID, workspaceKey string) error {
	ws, err := s.repo.FindWorkspaceByKey(ctx, workspaceKey)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		member, err := repo.FindMember(ctx, ws.ID, userID)
		if err != nil {
			return err
		}
		if member.IsDefault {
			return nil
		}
		if err := repo.ClearDefault(ctx, userID); err != nil {
			return err
		}
		member.IsDefault = true
		return repo.UpdateMember(ctx, *member)
	})
}

func (s *service) ListMemberships(ctx context.Context, userID snowflake.ID) ([]domain.MembershipItem, error) {
	rows, err := s.repo.ListMembershipsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	items := make([]domain.MembershipItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, domain.MembershipItem{
			WorkspaceID:  row.WorkspaceID.String(),
			WorkspaceKey: row.WorkspaceKey,
			Name:         row.WorkspaceName,
			Role:         row.Role,
			IsDefault:    row.IsDefault,
			CreatedAt:    row.CreatedAt,
		})
	}
	return items, nil
}

func (s *service) GetMember(ctx context.Context, workspaceID, userID snowflake.ID) (*domain.Member, error) {
	return s.repo.FindMember(ctx, workspaceID, userID)
}

func (s *service) ChangeMemberRole(ctx context.Context, actorID snowflake.ID, workspaceKey string, targetUserID snowflake.ID, role domain.Role) error {
	if !role.Valid() {
		return domain.ErrInvalidRole
	}

	ws, _, err := s.requireRole(ctx, actorID, workspaceKey, domain.ActionManageMembers)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		target, err := repo.FindMember(ctx, ws.ID, targetUserID)
		if err != nil {
			return err
		}
		if target.Role == role {
			return nil
		}
		if target.Role == domain.RoleOwner {
			owners, err := repo.CountMembersByRole(ctx, ws.ID, domain.RoleOwner)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return domain.ErrLastOwner
			}
		}
		target.Role = role
		return repo.UpdateMember(ctx, *target)
	})
}

func (s *service) RemoveMember(ctx context.Context, actorID snowflake.ID, workspaceKey string, targetUserID snowflake.ID) error {
	ws, actor, err := s.member(ctx, actorID, workspaceKey)
	if err != nil {
		return err
	}
	if actorID != targetUserID && !actor.Role.Allows(domain.ActionManageMembers) {
		return domain.ErrNotAuthorized
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		target, err := repo.FindMember(ctx, ws.ID, targetUserID)
		if err != nil {
			return err
		}
		if target.Role == domain.RoleOwner {
			owners, err := repo.CountMembersByRole(ctx, ws.ID, domain.RoleOwner)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return domain.ErrLastOwner
			}
		}
		if err := repo.DeleteMember(ctx, ws.ID, targetUserID); err != nil {
			return err
		}
		if target.IsDefault {
			return s.electDefault(ctx, repo, targetUserID)
		}
		return nil
	})
}

func (s *service) UpsertGuest(ctx context.Context, workspaceID, userID snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindMember(ctx, workspaceID, userID); err == nil {
			return nil
		} else if err != domain.ErrMemberNotFound {
			return err
		}

		hasDefault := true
		if _, err := repo.FindDefaultMember(ctx, userID); err == domain.ErrMemberNotFound {
			hasDefault = false
		} else if err != nil {
			return err
		}

		member := domain.Member{
			ID:          s.genID.Generate(),
			WorkspaceID: workspaceID,
			UserID:      userID,
			Role:        domain.RoleGuest,
			IsDefault:   !hasDefault,
			CreatedAt:   time.Now().UTC(),
		}
		if err := repo.CreateMember(ctx, member); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return nil
			}
			return err
		}
		return nil
	})
}

func (s *service) Invite(ctx context.Context, actorID snowflake.ID, workspaceKey string, req domain.InviteRequest) (*domain.InvitationResponse, error) {
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		return nil, err
	}
	address := strings.ToLower(strings.TrimSpace(req.Email))
	if address == "" {
		return nil, domain.ErrInvalidArgument
	}

	ws, _, err := s.requireRole(ctx, actorID, workspaceKey, domain.ActionManageMembers)
	if err != nil {
		return nil, err
	}

	token, err := randomToken()
	if err != nil {
		return nil, err
	}

	inv := domain.Invitation{
		ID:          s.genID.Generate(),
		WorkspaceID: ws.ID,
		Email:       address,
		Role:        role,
		Token:       token,
		InvitedBy:   actorID,
		ExpiresAt:   time.Now().UTC().Add(invitationTTL),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.CreateInvitation(ctx, inv); err != nil {
		return nil, err
	}

	s.sendInviteMail(ws, inv)

	return &domain.InvitationResponse{
		ID:        inv.ID.String(),
		Email:     inv.Email,
		Role:      inv.Role,
		ExpiresAt: inv.ExpiresAt,
	}, nil
}

func (s *service) AcceptInvitation(ctx context.Context, userID snowflake.ID, token string) (*domain.MembershipItem, error) {
	inv, err := s.repo.FindInvitationByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if time.Now().After(inv.ExpiresAt) {
		if err := s.repo.DeleteInvitation(ctx, inv.ID); err != nil {
			s.log.Warn("delete expired invitation", zap.Error(err))
		}
		return nil, domain.ErrInvitationExpired
	}

	user, err := s.users.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(user.Email, inv.Email) {
		return nil, domain.ErrEmailMismatch
	}

	ws, err := s.repo.FindWorkspaceByID(ctx, inv.WorkspaceID)
	if err != nil {
		return nil, err
	}

	var member domain.Member
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if _, err := repo.FindMember(ctx, ws.ID, userID); err == nil {
			return domain.ErrAlreadyMember
		} else if err != domain.ErrMemberNotFound {
			return err
		}

		if err := s.checkSeatLimit(ctx, repo, ws); err != nil {
			return err
		}

		hasDefault := true
		if _, err := repo.FindDefaultMember(ctx, userID); err == domain.ErrMemberNotFound {
			hasDefault = false
		} else if err != nil {
			return err
		}

		member = domain.Member{
			ID:          s.genID.Generate(),
			WorkspaceID: ws.ID,
			UserID:      userID,
			Role:        inv.Role,
			IsDefault:   !hasDefault,
			CreatedAt:   time.Now().UTC(),
		}
		if err := repo.CreateMember(ctx, member); err != nil {
			return err
		}
		return repo.DeleteInvitation(ctx, inv.ID)
	})
	if err != nil {
		return nil, err
	}

	return &domain.MembershipItem{
		WorkspaceID:  ws.ID.String(),
		WorkspaceKey: ws.Key,
		Name:         ws.Name,
		Role:         member.Role,
		IsDefault:    member.IsDefault,
		CreatedAt:    member.CreatedAt,
	}, nil
}

func (s *service) DeclineInvitation(ctx context.Context, token string) error {
	inv, err := s.repo.FindInvitationByToken(ctx, token)
	if err != nil {
		return err
	}
	return s.repo.DeleteInvitation(ctx, inv.ID)
}

func (s *service) ListInvitations(ctx context.Context, actorID snowflake.ID, workspaceKey string) ([]domain.InvitationResponse, error) {
	ws, _, err := s.requireRole(ctx, actorID, workspaceKey, domain.ActionManageMembers)
	if err != nil {
		return nil, err
	}

	invs, err := s.repo.ListInvitationsByWorkspace(ctx, ws.ID)
	if err != nil {
		return nil, err
	}

	out := make([]domain.InvitationResponse, 0, len(invs))
	for _, inv := range invs {
		out = append(out, domain.InvitationResponse{
			ID:        inv.ID.String(),
			Email:     inv.Email,
			Role:      inv.Role,
			ExpiresAt: inv.ExpiresAt,
		})
	}
	return out, nil
}

func (s *service) UpdateBranding(ctx context.Context, actorID snowflake.ID, workspaceKey string, branding map[string]any) error {
	ws, _, err := s.requireRole(ctx, actorID, workspaceKey, domain.ActionManageCatalog)
	if err != nil {
		return err
	}

	ws.Branding = datatypes.JSONMap(branding)
	ws.UpdatedAt = time.Now().UTC()
	return s.repo.UpdateWorkspace(ctx, ws)
}

var logoContentTypes = map[string]struct{}{
	"image/png":     {},
	"image/jpeg":    {},
	"image/svg+xml": {},
	"image/webp":    {},
}

func (s *service) UploadLogo(ctx context.Context, actorID snowflake.ID, workspaceKey, contentType string, content []byte) (string, error) {
	ws, _, err := s.requireRole(ctx, actorID, workspaceKey, domain.ActionManageCatalog)
	if err != nil {
		return "", err
	}
	if _, ok := logoContentTypes[contentType]; !ok || len(content) == 0 {
		return "", domain.ErrUnsupportedMedia
	}

	filename, err := s.store.Put(ctx, storage.BucketMedia, content)
	if err != nil {
		return "", err
	}

	if ws.Branding == nil {
		ws.Branding = datatypes.JSONMap{}
	}
	ws.Branding["logo"] = filename
	ws.Branding["logo_content_type"] = contentType
	ws.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateWorkspace(ctx, ws); err != nil {
		return "", err
	}
	return filename, nil
}

func (s *service) GetLogo(ctx context.Context, workspaceKey string) ([]byte, string, error) {
	ws, err := s.repo.FindWorkspaceByKey(ctx, workspaceKey)
	if err != nil {
		return nil, "", err
	}
	filename, _ := ws.Branding["logo"].(string)
	if filename == "" {
		return nil, "", domain.ErrLogoNotFound
	}
	contentType, _ := ws.Branding["logo_content_type"].(string)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	content, err := s.store.Get(ctx, storage.BucketMedia, filename)
	if err != nil {
		return nil, "", err
	}
	return content, contentType, nil
}

func (s *service) SetCompanyNDADocument(ctx context.Context, actorID snowflake.ID, workspaceKey string, documentID *snowflake.ID) error {
	ws, _, err := s.requireRole(ctx, actorID, workspaceKey, domain.ActionDecideAccess)
	if err != nil {
		return err
	}

	ws.CompanyNDADocumentID = documentID
	ws.UpdatedAt = time.Now().UTC()
	return s.repo.UpdateWorkspace(ctx, ws)
}

func (s *service) member(ctx context.Context, actorID snowflake.ID, workspaceKey string) (*domain.Workspace, *domain.Member, error) {
	ws, err := s.repo.FindWorkspaceByKey(ctx, workspaceKey)
	if err != nil {
		return nil, nil, err
	}
	member, err := s.repo.FindMember(ctx, ws.ID, actorID)
	if err == domain.ErrMemberNotFound {
		return nil, nil, domain.ErrNotAuthorized
	}
	if err != nil {
		return nil, nil, err
	}
	return ws, member, nil
}

func (s *service) requireRole(ctx context.Context, actorID snowflake.ID, workspaceKey string, action domain.Action) (*domain.Workspace, *domain.Member, error) {
	ws, member, err := s.member(ctx, actorID, workspaceKey)
	if err != nil {
		return nil, nil, err
	}
	if !member.Role.Allows(action) {
		return nil, nil, domain.ErrNotAuthorized
	}
	return ws, member, nil
}

// electDefault keeps the single-default invariant when a user's
// default membership goes away.
func (s *service) electDefault(ctx context.Context, repo domain.Repository, userID snowflake.ID) error {
	rows, err := repo.ListMembershipsByUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	next := rows[0].Member
	next.IsDefault = true
	return repo.UpdateMember(ctx, next)
}

func (s *service) checkSeatLimit(ctx context.Context, repo domain.Repository, ws *domain.Workspace) error {
	if !s.cfg.BillingEnabled {
		return nil
	}
	var limits billingdomain.PlanLimits
	if err := json.Unmarshal(ws.PlanLimits, &limits); err != nil {
		return err
	}
	maxUsers := limits.MaxUsers
	if maxUsers == nil {
		if plan, ok := s.catalog.Get().Find(ws.BillingPlanKey); ok && plan.MaxUsers != nil {
			v := int64(*plan.MaxUsers)
			maxUsers = &v
		}
	}
	if maxUsers == nil || ws.BillingPlanKey == config.PlanEnterprise {
		return nil
	}

	count, err := repo.CountMembers(ctx, ws.ID)
	if err != nil {
		return err
	}
	if count+1 > *maxUsers {
		return domain.ErrSeatLimit
	}
	return nil
}

func (s *service) sendInviteMail(ws *domain.Workspace, inv domain.Invitation) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := s.mail.SendTemplate(ctx, []string{inv.Email}, "invite_member", map[string]any{
			"subject":        fmt.Sprintf("You're invited to join %s", ws.Name),
			"workspace_name": ws.Name,
			"role":           string(inv.Role),
			"accept_url":     fmt.Sprintf("%s/invitations/%s/accept", s.cfg.AppBaseURL, inv.Token),
			"expires_at":     inv.ExpiresAt.Format(time.RFC1123),
		})
		if err != nil {
			s.log.Warn("send invitation email", zap.Error(err), zap.String("workspace_key", ws.Key))
		}
	}()
}

func workspaceResponse(ws *domain.Workspace) *domain.WorkspaceResponse {
	resp := &domain.WorkspaceResponse{
		ID:                    ws.ID.String(),
		Key:                   ws.Key,
		Name:                  ws.Name,
		BillingPlanKey:        ws.BillingPlanKey,
		CustomDomainValidated: ws.CustomDomainValidated,
		CreatedAt:             ws.CreatedAt,
	}
	if ws.CustomDomain != nil {
		resp.CustomDomain = *ws.CustomDomain
	}
	return resp
}

func randomToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
