// Package authorization answers "may this user perform this action in
// this workspace" for the admin API surface. Role assignments live in
// the members table; casbin holds the role-to-capability matrix and
// the per-workspace groupings derived from memberships.
//
// Artifact reads do NOT go through here; they are decided by the
// access resolver, which also understands visibility, access requests
// and NDA pins.
package authorization

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectWorkspace     = "workspace"
	ObjectMember        = "member"
	ObjectInvitation    = "invitation"
	ObjectCatalog       = "catalog"
	ObjectArtifact      = "artifact"
	ObjectRelease       = "release"
	ObjectAccessRequest = "access_request"
	ObjectBilling       = "billing"
	ObjectDomain        = "domain"
	ObjectBranding      = "branding"
)

const (
	ActionView   = "view"
	ActionManage = "manage"
	ActionUpload = "upload"
	ActionDecide = "decide"
	ActionDelete = "delete"
)

var (
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidActor     = errors.New("invalid_actor")
	ErrInvalidWorkspace = errors.New("invalid_workspace")
)

type Service interface {
	// Authorize returns nil when the user may perform the action on
	// the object class within the workspace, ErrForbidden otherwise.
	Authorize(ctx context.Context, userID, workspaceID snowflake.ID, object, action string) error
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type serviceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &serviceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *serviceImpl) Authorize(ctx context.Context, userID, workspaceID snowflake.ID, object, action string) error {
	if userID == 0 {
		return ErrInvalidActor
	}
	if workspaceID == 0 {
		return ErrInvalidWorkspace
	}
	object = strings.TrimSpace(object)
	action = strings.TrimSpace(action)
	if object == "" || action == "" {
		return ErrForbidden
	}

	role, err := s.roleForUser(ctx, workspaceID, userID)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("user:%s", userID)
	roleName := fmt.Sprintf("role:%s", strings.ToLower(role))
	domain := fmt.Sprintf("workspace:%s", workspaceID)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("subject", subject),
			zap.String("workspace", domain),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func (s *serviceImpl) roleForUser(ctx context.Context, workspaceID, userID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM members
		 WHERE workspace_id = ? AND user_id = ?
		 LIMIT 1`,
		workspaceID,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.TrimSpace(row.Role)
	if role == "" {
		return "", ErrForbidden
	}
	return role, nil
}

// ensureGrouping keeps the casbin grouping in step with the members
// table, which is the source of truth for roles. A stale grouping
// from a role change or removal is replaced on the next check.
func (s *serviceImpl) ensureGrouping(subject, roleName, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Guests see what their approved access request grants; the
		// admin surface gives them nothing beyond viewing the catalog.
		{"role:guest", ObjectCatalog, ActionView},
		{"role:guest", ObjectArtifact, ActionView},

		{"role:member", ObjectCatalog, ActionView},
		{"role:member", ObjectArtifact, ActionView},
		{"role:member", ObjectArtifact, ActionUpload},
		{"role:member", ObjectRelease, ActionView},
		{"role:member", ObjectMember, ActionView},

		{"role:admin", ObjectCatalog, ActionView},
		{"role:admin", ObjectCatalog, ActionManage},
		{"role:admin", ObjectArtifact, ActionView},
		{"role:admin", ObjectArtifact, ActionUpload},
		{"role:admin", ObjectArtifact, ActionDelete},
		{"role:admin", ObjectRelease, ActionView},
		{"role:admin", ObjectRelease, ActionManage},
		{"role:admin", ObjectAccessRequest, ActionView},
		{"role:admin", ObjectAccessRequest, ActionDecide},
		{"role:admin", ObjectMember, ActionView},
		{"role:admin", ObjectMember, ActionManage},
		{"role:admin", ObjectInvitation, ActionManage},
		{"role:admin", ObjectBilling, ActionView},
		{"role:admin", ObjectBilling, ActionManage},
		{"role:admin", ObjectDomain, ActionManage},
		{"role:admin", ObjectBranding, ActionManage},

		{"role:owner", ObjectCatalog, ActionView},
		{"role:owner", ObjectCatalog, ActionManage},
		{"role:owner", ObjectArtifact, ActionView},
		{"role:owner", ObjectArtifact, ActionUpload},
		{"role:owner", ObjectArtifact, ActionDelete},
		{"role:owner", ObjectRelease, ActionView},
		{"role:owner", ObjectRelease, ActionManage},
		{"role:owner", ObjectAccessRequest, ActionView},
		{"role:owner", ObjectAccessRequest, ActionDecide},
		{"role:owner", ObjectMember, ActionView},
		{"role:owner", ObjectMember, ActionManage},
		{"role:owner", ObjectInvitation, ActionManage},
		{"role:owner", ObjectBilling, ActionView},
		{"role:owner", ObjectBilling, ActionManage},
		{"role:owner", ObjectDomain, ActionManage},
		{"role:owner", ObjectBranding, ActionManage},
		{"role:owner", ObjectWorkspace, ActionDelete},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy[0], policy[1], policy[2])
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy[0], policy[1], policy[2]); err != nil {
			return err
		}
	}
	return nil
}

// Module provides the enforcer and the authorization service.
var Module = fx.Module("authorization.service",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
)
