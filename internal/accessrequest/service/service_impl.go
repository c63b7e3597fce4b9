package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/sbomify/sbomify/internal/accessrequest/domain"
	"github.com/sbomify/sbomify/internal/config"
	"github.com/sbomify/sbomify/internal/events"
	identitydomain "github.com/sbomify/sbomify/internal/identity/domain"
	"github.com/sbomify/sbomify/internal/providers/email"
	workspacedomain "github.com/sbomify/sbomify/internal/workspace/domain"
	pkgdb "github.com/sbomify/sbomify/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const pendingCountTTL = 5 * time.Minute

type service struct {
	db           *gorm.DB
	repo         domain.Repository
	workspaces   workspacedomain.Repository
	memberships  workspacedomain.Service
	users        identitydomain.Service
	nda          domain.NDASource
	broadcaster  events.Broadcaster
	pending      pendingCounter
	node         *snowflake.Node
	cfg          config.Config
	mail         email.Provider
	log          *zap.Logger
}

func NewService(
	gormDB *gorm.DB,
	repo domain.Repository,
	workspaces workspacedomain.Repository,
	memberships workspacedomain.Service,
	users identitydomain.Service,
	nda domain.NDASource,
	broadcaster events.Broadcaster,
	rdb *redis.Client,
	node *snowflake.Node,
	cfg config.Config,
	mail email.Provider,
	log *zap.Logger,
) domain.Service {
	log = log.Named("accessrequest.service")
	return &service{
		db:          gormDB,
		repo:        repo,
		workspaces:  workspaces,
		memberships: memberships,
		users:       users,
		nda:         nda,
		broadcaster: broadcaster,
		pending:     newPendingCounter(rdb, log),
		node:        node,
		cfg:         cfg,
		mail:        mail,
		log:         log,
	}
}

func (s *service) Create(ctx context.Context, workspaceID, userID snowflake.ID) (*domain.RequestView, error) {
	ws, err := s.workspaces.FindWorkspaceByID(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	var req *domain.AccessRequest
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		existing, err := repo.FindRequestForUpdate(ctx, workspaceID, userID)
		if err == nil {
			req = existing
			switch existing.Status {
			case domain.StatusApproved, domain.StatusPending:
				return nil
			case domain.StatusRejected, domain.StatusRevoked:
				// Row re-use keeps the (workspace, user) audit key
				// stable across repeat requests.
				existing.Status = domain.StatusPending
				existing.RequestedAt = time.Now().UTC()
				existing.DecidedAt = nil
				existing.DecidedBy = nil
				existing.RevokedAt = nil
				existing.RevokedBy = nil
				return repo.UpdateRequest(ctx, existing)
			}
			return nil
		}
		if !errors.Is(err, domain.ErrRequestNotFound) {
			return err
		}

		fresh := &domain.AccessRequest{
			ID:          s.node.Generate(),
			WorkspaceID: workspaceID,
			UserID:      userID,
			Status:      domain.StatusPending,
			RequestedAt: time.Now().UTC(),
		}
		if err := repo.CreateRequest(ctx, fresh); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				// Lost the insert race; the winner's row is ours now.
				raced, ferr := repo.FindRequestForUpdate(ctx, workspaceID, userID)
				if ferr != nil {
					return ferr
				}
				req = raced
				return nil
			}
			return err
		}
		req = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.pending.Invalidate(ctx, workspaceID)
	return s.view(ctx, ws, req)
}

func (s *service) CreateByEmail(ctx context.Context, workspaceID snowflake.ID, address string) (*domain.RequestView, error) {
	user, err := s.users.GetUserByEmail(ctx, address)
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, workspaceID, user.ID)
}

func (s *service) SignNDA(ctx context.Context, input domain.SignNDAInput) (*domain.RequestView, error) {
	if !input.Consent {
		return nil, domain.ErrConsentRequired
	}
	if strings.TrimSpace(input.SignedName) == "" {
		return nil, domain.ErrInvalidArgument
	}

	var (
		ws  *workspacedomain.Workspace
		req *domain.AccessRequest
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		locked, err := repo.FindRequestByIDForUpdate(ctx, input.RequestID)
		if err != nil {
			return err
		}
		if locked.UserID != input.UserID {
			return domain.ErrNotAuthorized
		}
		req = locked

		ws, err = s.workspaces.WithTx(tx).FindWorkspaceByID(ctx, locked.WorkspaceID)
		if err != nil {
			return err
		}
		if ws.CompanyNDADocumentID == nil {
			return domain.ErrNDANotConfigured
		}

		recordedHash, content, err := s.nda.FetchNDA(ctx, *ws.CompanyNDADocumentID)
		if err != nil {
			return err
		}
		// Hash the bytes actually presented; a mismatch means the
		// document changed between fetch and sign.
		sum := sha256.Sum256(content)
		signedHash := hex.EncodeToString(sum[:])
		if signedHash != recordedHash {
			return domain.ErrDocumentModified
		}

		return repo.UpsertSignature(ctx, &domain.NDASignature{
			ID:              s.node.Generate(),
			AccessRequestID: locked.ID,
			NDADocumentID:   *ws.CompanyNDADocumentID,
			NDAContentHash:  signedHash,
			SignedName:      strings.TrimSpace(input.SignedName),
			SignedAt:        time.Now().UTC(),
			IPAddress:       input.IPAddress,
			UserAgent:       input.UserAgent,
		})
	})
	if err != nil {
		return nil, err
	}

	s.pending.Invalidate(ctx, req.WorkspaceID)
	s.broadcaster.Send(ctx, ws.Key, events.TypeAccessRequestUpdated, map[string]any{
		"request_id": req.ID.String(),
		"status":     string(req.Status),
		"signed":     true,
	})
	// Admins hear about a request only once it is actionable.
	s.notifyAdmins(ws, req, "access_requested")

	return s.view(ctx, ws, req)
}

func (s *service) Get(ctx context.Context, workspaceID, userID snowflake.ID) (*domain.RequestView, error) {
	ws, err := s.workspaces.FindWorkspaceByID(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	req, err := s.repo.FindRequest(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, ws, req)
}

func (s *service) Approve(ctx context.Context, actorID, requestID snowflake.ID) error {
	ws, req, err := s.decide(ctx, actorID, requestID, domain.StatusApproved)
	if err != nil {
		return err
	}

	s.broadcaster.Send(ctx, ws.Key, events.TypeAccessRequestUpdated, map[string]any{
		"request_id": req.ID.String(),
		"status":     string(domain.StatusApproved),
	})
	s.notifyRequester(ws, req, "access_approved")
	return nil
}

func (s *service) Reject(ctx context.Context, actorID, requestID snowflake.ID) error {
	ws, req, err := s.decide(ctx, actorID, requestID, domain.StatusRejected)
	if err != nil {
		return err
	}

	s.broadcaster.Send(ctx, ws.Key, events.TypeAccessRequestUpdated, map[string]any{
		"request_id": req.ID.String(),
		"status":     string(domain.StatusRejected),
	})
	return nil
}

func (s *service) Revoke(ctx context.Context, actorID, requestID snowflake.ID) error {
	var (
		ws  *workspacedomain.Workspace
		req *domain.AccessRequest
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		locked, err := repo.FindRequestByIDForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		req = locked

		ws, err = s.requireAdmin(ctx, tx, actorID, locked.WorkspaceID)
		if err != nil {
			return err
		}
		if locked.Status != domain.StatusApproved {
			return domain.ErrNotPending
		}

		now := time.Now().UTC()
		locked.Status = domain.StatusRevoked
		locked.RevokedAt = &now
		locked.RevokedBy = &actorID
		if err := repo.UpdateRequest(ctx, locked); err != nil {
			return err
		}

		// A future re-request must re-prompt the NDA.
		if err := repo.DeleteSignatureByRequest(ctx, locked.ID); err != nil {
			return err
		}

		wsRepo := s.workspaces.WithTx(tx)
		member, err := wsRepo.FindMember(ctx, locked.WorkspaceID, locked.UserID)
		if err == nil && member.Role == workspacedomain.RoleGuest {
			return wsRepo.DeleteMember(ctx, locked.WorkspaceID, locked.UserID)
		}
		if err != nil && !errors.Is(err, workspacedomain.ErrMemberNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.pending.Invalidate(ctx, req.WorkspaceID)
	s.broadcaster.Send(ctx, ws.Key, events.TypeAccessRequestUpdated, map[string]any{
		"request_id": req.ID.String(),
		"status":     string(domain.StatusRevoked),
	})
	return nil
}

func (s *service) ListByWorkspace(ctx context.Context, actorID, workspaceID snowflake.ID, status *domain.RequestStatus) ([]domain.RequestView, error) {
	ws, err := s.requireAdmin(ctx, s.db, actorID, workspaceID)
	if err != nil {
		return nil, err
	}

	requests, err := s.repo.ListRequestsByWorkspace(ctx, workspaceID, status)
	if err != nil {
		return nil, err
	}

	views := make([]domain.RequestView, 0, len(requests))
	for i := range requests {
		view, err := s.view(ctx, ws, &requests[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, nil
}

func (s *service) PendingCount(ctx context.Context, actorID, workspaceID snowflake.ID) (int64, error) {
	if _, err := s.requireAdmin(ctx, s.db, actorID, workspaceID); err != nil {
		return 0, err
	}

	if count, ok := s.pending.Get(ctx, workspaceID); ok {
		return count, nil
	}
	count, err := s.repo.CountPending(ctx, workspaceID)
	if err != nil {
		return 0, err
	}
	s.pending.Set(ctx, workspaceID, count)
	return count, nil
}

// decide applies an admin decision to a pending request under its
// row lock.
func (s *service) decide(ctx context.Context, actorID, requestID snowflake.ID, status domain.RequestStatus) (*workspacedomain.Workspace, *domain.AccessRequest, error) {
	var (
		ws  *workspacedomain.Workspace
		req *domain.AccessRequest
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		locked, err := repo.FindRequestByIDForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		req = locked

		ws, err = s.requireAdmin(ctx, tx, actorID, locked.WorkspaceID)
		if err != nil {
			return err
		}
		if locked.Status != domain.StatusPending {
			return domain.ErrNotPending
		}

		now := time.Now().UTC()
		locked.Status = status
		locked.DecidedAt = &now
		locked.DecidedBy = &actorID
		return repo.UpdateRequest(ctx, locked)
	})
	if err != nil {
		return nil, nil, err
	}

	if status == domain.StatusApproved {
		if err := s.memberships.UpsertGuest(ctx, req.WorkspaceID, req.UserID); err != nil {
			return nil, nil, err
		}
	}

	s.pending.Invalidate(ctx, req.WorkspaceID)
	return ws, req, nil
}

func (s *service) requireAdmin(ctx context.Context, tx *gorm.DB, actorID, workspaceID snowflake.ID) (*workspacedomain.Workspace, error) {
	repo := s.workspaces
	if tx != s.db {
		repo = s.workspaces.WithTx(tx)
	}

	ws, err := repo.FindWorkspaceByID(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	member, err := repo.FindMember(ctx, workspaceID, actorID)
	if err != nil {
		if errors.Is(err, workspacedomain.ErrMemberNotFound) {
			return nil, domain.ErrNotAuthorized
		}
		return nil, err
	}
	if !member.Role.IsAdmin() {
		return nil, domain.ErrNotAuthorized
	}
	return ws, nil
}

func (s *service) view(ctx context.Context, ws *workspacedomain.Workspace, req *domain.AccessRequest) (*domain.RequestView, error) {
	view := &domain.RequestView{Request: req}
	if ws.CompanyNDADocumentID == nil {
		return view, nil
	}

	view.NDADocumentID = ws.CompanyNDADocumentID
	sig, err := s.repo.FindSignatureByRequest(ctx, req.ID)
	if err != nil {
		if errors.Is(err, domain.ErrRequestNotFound) {
			view.NDARequired = true
			return view, nil
		}
		return nil, err
	}

	view.Signature = sig
	recordedHash, _, err := s.nda.FetchNDA(ctx, *ws.CompanyNDADocumentID)
	if err != nil {
		return nil, err
	}
	// A stale pin reads as unsigned so the UI re-prompts.
	view.NDARequired = sig.NDADocumentID != *ws.CompanyNDADocumentID || sig.NDAContentHash != recordedHash
	return view, nil
}

func (s *service) notifyAdmins(ws *workspacedomain.Workspace, req *domain.AccessRequest, template string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		requester, err := s.users.GetUser(ctx, req.UserID)
		if err != nil {
			s.log.Warn("load requester for notification", zap.Error(err))
			return
		}
		members, err := s.workspaces.ListMembersByWorkspace(ctx, ws.ID)
		if err != nil {
			s.log.Warn("list members for notification", zap.Error(err))
			return
		}

		data := map[string]any{
			"subject":         "New access request for " + ws.Name,
			"workspace_name":  ws.Name,
			"requester_name":  requester.Name,
			"requester_email": requester.Email,
			"requests_url":    s.cfg.AppBaseURL + "/workspace/" + ws.Key + "/access-requests",
		}
		for _, member := range members {
			if !member.Role.IsAdmin() {
				continue
			}
			admin, err := s.users.GetUser(ctx, member.UserID)
			if err != nil {
				continue
			}
			if err := s.mail.SendTemplate(ctx, []string{admin.Email}, template, data); err != nil {
				s.log.Warn("send admin notification", zap.Error(err))
			}
		}
	}()
}

func (s *service) notifyRequester(ws *workspacedomain.Workspace, req *domain.AccessRequest, template string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		requester, err := s.users.GetUser(ctx, req.UserID)
		if err != nil {
			s.log.Warn("load requester for notification", zap.Error(err))
			return
		}
		data := map[string]any{
			"subject":        "Access granted to " + ws.Name,
			"workspace_name": ws.Name,
			"workspace_url":  s.cfg.AppBaseURL + "/workspace/" + ws.Key,
		}
		if err := s.mail.SendTemplate(ctx, []string{requester.Email}, template, data); err != nil {
			s.log.Warn("send requester notification", zap.Error(err))
		}
	}()
}
