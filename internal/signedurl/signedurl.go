// Package signedurl mints and verifies expiring download tokens for
// non-public artifacts. Tokens are scoped to one artifact and one
// user; rotating the installation secret invalidates all of them at
// once.
package signedurl

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sbomify/sbomify/internal/config"
	identitydomain "github.com/sbomify/sbomify/internal/identity/domain"
	"github.com/sbomify/sbomify/pkg/secrets"
	"go.uber.org/zap"
)

// ErrInvalidToken is the single externally visible failure. Expired,
// forged and malformed tokens are indistinguishable to the caller so
// the endpoint cannot be used as an oracle; the concrete reason goes
// to the log instead.
var ErrInvalidToken = errors.New("invalid_token")

type claims struct {
	ArtifactID string `json:"artifact_id"`
	UserID     string `json:"user_id"`
	IssuedAt   int64  `json:"issued_at"`
	ExpiresAt  int64  `json:"expires_at"`
}

// Signer issues and checks tokens.
type Signer struct {
	key   []byte
	ttl   time.Duration
	users identitydomain.Service
	log   *zap.Logger
	now   func() time.Time
}

// NewSigner derives the signing key from the installation secret.
func NewSigner(cfg config.Config, users identitydomain.Service, log *zap.Logger) *Signer {
	return &Signer{
		key:   secrets.DeriveKey(cfg.AppSecret, "signed-url"),
		ttl:   cfg.SignedURLTTL,
		users: users,
		log:   log.Named("signedurl"),
		now:   time.Now,
	}
}

// Mint returns a token granting the user a read of the artifact until
// the expiry.
func (s *Signer) Mint(artifactID, userID snowflake.ID) (string, time.Time, error) {
	return s.MintAt(artifactID, userID, s.now())
}

// MintAt mints with an explicit issue time. The release composer uses
// a quantized time here so repeated compositions of unchanged state
// stay byte-identical.
func (s *Signer) MintAt(artifactID, userID snowflake.ID, issuedAt time.Time) (string, time.Time, error) {
	now := issuedAt.UTC()
	expires := now.Add(s.ttl)
	payload, err := json.Marshal(claims{
		ArtifactID: artifactID.String(),
		UserID:     userID.String(),
		IssuedAt:   now.Unix(),
		ExpiresAt:  expires.Unix(),
	})
	if err != nil {
		return "", time.Time{}, err
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + s.sign(body), expires, nil
}

// Verify checks the token against the artifact in the URL path and
// returns the user it was minted for. Every check precedes any lookup
// that could leak whether the artifact exists.
func (s *Signer) Verify(ctx context.Context, artifactID snowflake.ID, token string) (snowflake.ID, error) {
	parts := strings.SplitN(strings.TrimSpace(token), ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return 0, s.reject(artifactID, "malformed token")
	}
	if !hmac.Equal([]byte(parts[1]), []byte(s.sign(parts[0]))) {
		return 0, s.reject(artifactID, "signature mismatch")
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return 0, s.reject(artifactID, "bad body encoding")
	}
	var c claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return 0, s.reject(artifactID, "bad claims payload")
	}

	if s.now().UTC().Unix() >= c.ExpiresAt {
		return 0, s.reject(artifactID, "token expired")
	}
	if c.ArtifactID != artifactID.String() {
		return 0, s.reject(artifactID, "artifact mismatch")
	}

	userID, err := snowflake.ParseString(c.UserID)
	if err != nil {
		return 0, s.reject(artifactID, "bad user id")
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil || !user.IsActive {
		return 0, s.reject(artifactID, "user inactive or gone")
	}
	return userID, nil
}

func (s *Signer) sign(body string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (s *Signer) reject(artifactID snowflake.ID, reason string) error {
	s.log.Warn("rejected download token",
		zap.String("artifact_id", artifactID.String()),
		zap.String("reason", reason),
	)
	return ErrInvalidToken
}
