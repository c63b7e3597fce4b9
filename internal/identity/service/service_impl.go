package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sbomify/sbomify/internal/config"
	"github.com/sbomify/sbomify/internal/identity/domain"
	"github.com/sbomify/sbomify/pkg/secrets"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type service struct {
	db          *gorm.DB
	repo        domain.Repository
	node        *snowflake.Node
	provisioner domain.WorkspaceProvisioner
	log         *zap.Logger
	tokenKey    []byte
	issuer      string
}

func NewService(db *gorm.DB, repo domain.Repository, node *snowflake.Node, provisioner domain.WorkspaceProvisioner, cfg config.Config, log *zap.Logger) domain.Service {
	return &service{
		db:          db,
		repo:        repo,
		node:        node,
		provisioner: provisioner,
		log:         log,
		tokenKey:    secrets.DeriveKey(cfg.AppSecret, "access-token"),
		issuer:      cfg.TokenIssuer,
	}
}

func (s *service) ResolveSession(ctx context.Context, sessionID string) (*domain.User, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, domain.ErrInvalidSession
	}

	session, err := s.repo.FindSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if time.Now().After(session.ExpiresAt) {
		// Expired rows are reaped lazily on first touch.
		if err := s.repo.DeleteSession(ctx, session.ID); err != nil {
			s.log.Warn("delete expired session", zap.Error(err))
		}
		return nil, domain.ErrSessionExpired
	}

	return s.activeUser(ctx, session.UserID)
}

func (s *service) ResolveBearer(ctx context.Context, raw string) (*domain.User, error) {
	claims, err := domain.DecodeToken(s.tokenKey, s.issuer, raw)
	if err != nil {
		return nil, err
	}

	// The signature alone is not enough: the row must still exist so
	// that token revocation takes effect immediately.
	token, err := s.repo.FindAccessTokenByEncoded(ctx, strings.TrimSpace(raw))
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	userID, err := snowflake.ParseString(claims.Sub)
	if err != nil || userID != token.UserID {
		return nil, domain.ErrInvalidToken
	}

	return s.activeUser(ctx, token.UserID)
}

func (s *service) GetUser(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	return s.repo.FindUserByID(ctx, id)
}

func (s *service) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	if strings.TrimSpace(email) == "" {
		return nil, domain.ErrInvalidArgument
	}
	return s.repo.FindUserByEmail(ctx, email)
}

func (s *service) CreateToken(ctx context.Context, userID snowflake.ID, req domain.CreateTokenRequest) (*domain.TokenResponse, error) {
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return nil, domain.ErrInvalidArgument
	}
	if _, err := s.activeUser(ctx, userID); err != nil {
		return nil, err
	}

	encoded, err := domain.EncodeToken(s.tokenKey, s.issuer, userID)
	if err != nil {
		return nil, err
	}

	token := domain.AccessToken{
		ID:           s.node.Generate(),
		UserID:       userID,
		EncodedToken: encoded,
		Description:  description,
		CreatedAt:    time.Now(),
	}
	if err := s.repo.CreateAccessToken(ctx, token); err != nil {
		return nil, err
	}

	return &domain.TokenResponse{
		ID:          token.ID.String(),
		Description: token.Description,
		Token:       encoded,
		CreatedAt:   token.CreatedAt,
	}, nil
}

func (s *service) ListTokens(ctx context.Context, userID snowflake.ID) ([]domain.TokenResponse, error) {
	tokens, err := s.repo.ListAccessTokens(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]domain.TokenResponse, 0, len(tokens))
	for _, t := range tokens {
		// The envelope is shown once at mint time and never again.
		out = append(out, domain.TokenResponse{
			ID:          t.ID.String(),
			Description: t.Description,
			CreatedAt:   t.CreatedAt,
		})
	}
	return out, nil
}

func (s *service) DeleteToken(ctx context.Context, userID, tokenID snowflake.ID) error {
	return s.repo.DeleteAccessToken(ctx, userID, tokenID)
}

func (s *service) HandleProviderEvent(ctx context.Context, evt domain.ProviderEvent) error {
	if strings.TrimSpace(evt.ExternalID) == "" {
		return domain.ErrInvalidEvent
	}

	switch evt.Kind {
	case domain.ProviderEventLogin, domain.ProviderEventUpdateProfile:
		return s.upsertFromEvent(ctx, evt)
	case domain.ProviderEventLogout:
		if strings.TrimSpace(evt.SessionID) == "" {
			return domain.ErrInvalidEvent
		}
		return s.repo.DeleteSession(ctx, evt.SessionID)
	case domain.ProviderEventDeleteAccount:
		return s.deactivateFromEvent(ctx, evt)
	default:
		return domain.ErrInvalidEvent
	}
}

func (s *service) upsertFromEvent(ctx context.Context, evt domain.ProviderEvent) error {
	if strings.TrimSpace(evt.Email) == "" {
		return domain.ErrInvalidEvent
	}

	var stored *domain.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		user := &domain.User{
			ID:         s.node.Generate(),
			ExternalID: strings.TrimSpace(evt.ExternalID),
			Email:      strings.ToLower(strings.TrimSpace(evt.Email)),
			Name:       strings.TrimSpace(evt.Name),
			IsActive:   true,
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		}
		if err := repo.UpsertUser(ctx, user); err != nil {
			return err
		}

		found, err := repo.FindUserByExternalID(ctx, evt.ExternalID)
		if err != nil {
			return err
		}
		stored = found

		if evt.Kind == domain.ProviderEventLogin && strings.TrimSpace(evt.SessionID) != "" {
			session := domain.Session{
				ID:        strings.TrimSpace(evt.SessionID),
				UserID:    stored.ID,
				ExpiresAt: time.Now().Add(14 * 24 * time.Hour),
				CreatedAt: time.Now(),
			}
			if err := repo.CreateSession(ctx, session); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Every login funnels through here, so a user is guaranteed a
	// workspace to land in. The provisioner is a no-op for users who
	// already have a default membership.
	if evt.Kind == domain.ProviderEventLogin && s.provisioner != nil {
		if err := s.provisioner.ProvisionDefaultWorkspace(ctx, stored.ID, stored.Name); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) deactivateFromEvent(ctx context.Context, evt domain.ProviderEvent) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		user, err := repo.FindUserByExternalID(ctx, evt.ExternalID)
		if err != nil {
			return err
		}
		if err := repo.DeactivateUser(ctx, user.ID); err != nil {
			return err
		}
		return repo.DeleteSessionsByUser(ctx, user.ID)
	})
}

func (s *service) activeUser(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	user, err := s.repo.FindUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, domain.ErrUserInactive
	}
	return user, nil
}
