package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/sbomify/sbomify/internal/identity/domain"
	"github.com/sbomify/sbomify/internal/workspace/domain"
)

type defaultProvisioner struct {
	workspaces domain.Service
	repo       domain.Repository
}

// NewDefaultProvisioner adapts the workspace service for first-login
// provisioning. Idempotent: users who already hold a default
// membership are left alone.
func NewDefaultProvisioner(workspaces domain.Service, repo domain.Repository) identitydomain.WorkspaceProvisioner {
	return &defaultProvisioner{workspaces: workspaces, repo: repo}
}

func (p *defaultProvisioner) ProvisionDefaultWorkspace(ctx context.Context, userID snowflake.ID, userName string) error {
	_, err := p.repo.FindDefaultMember(ctx, userID)
	if err == nil {
		return nil
	}
	if err != domain.ErrMemberNotFound {
		return err
	}
	_, err = p.workspaces.CreateDefault(ctx, userID, userName)
	return err
}
