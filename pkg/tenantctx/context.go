package tenantctx

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type keyType string

const (
	workspaceIDKey keyType = "workspace_id"
	userIDKey      keyType = "user_id"
)

func WithWorkspaceID(ctx context.Context, id snowflake.ID) context.Context {
	return context.WithValue(ctx, workspaceIDKey, id)
}

func WorkspaceID(ctx context.Context) (snowflake.ID, bool) {
	id, ok := ctx.Value(workspaceIDKey).(snowflake.ID)
	return id, ok
}

func WithUserID(ctx context.Context, id snowflake.ID) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

func UserID(ctx context.Context) (snowflake.ID, bool) {
	id, ok := ctx.Value(userIDKey).(snowflake.ID)
	return id, ok
}
