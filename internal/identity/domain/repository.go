package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindUserByID(ctx context.Context, id snowflake.ID) (*User, error)
	FindUserByExternalID(ctx context.Context, externalID string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	UpsertUser(ctx context.Context, user *User) error
	DeactivateUser(ctx context.Context, id snowflake.ID) error

	FindSession(ctx context.Context, id string) (*Session, error)
	CreateSession(ctx context.Context, session Session) error
	DeleteSession(ctx context.Context, id string) error
	DeleteSessionsByUser(ctx context.Context, userID snowflake.ID) error

	CreateAccessToken(ctx context.Context, token AccessToken) error
	FindAccessTokenByEncoded(ctx context.Context, encoded string) (*AccessToken, error)
	ListAccessTokens(ctx context.Context, userID snowflake.ID) ([]AccessToken, error)
	DeleteAccessToken(ctx context.Context, userID, tokenID snowflake.ID) error
}
