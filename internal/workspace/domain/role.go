package domain

// Role is the membership role within a workspace. Anonymous callers
// have no role at all; use a nil *Role for them.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleGuest  Role = "guest"
)

// Action is a workspace-scoped capability checked against a Role.
type Action string

const (
	ActionViewPrivate     Action = "view_private"
	ActionUploadArtifact  Action = "upload_artifact"
	ActionManageCatalog   Action = "manage_catalog"
	ActionManageMembers   Action = "manage_members"
	ActionManageBilling   Action = "manage_billing"
	ActionDecideAccess    Action = "decide_access"
	ActionDeleteWorkspace Action = "delete_workspace"
)

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleGuest:
		return true
	}
	return false
}

// IsAdmin reports whether the role carries workspace administration.
func (r Role) IsAdmin() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Allows is total over all role/action pairs.
func (r Role) Allows(a Action) bool {
	switch a {
	case ActionViewPrivate:
		return r == RoleOwner || r == RoleAdmin || r == RoleMember
	case ActionUploadArtifact, ActionManageCatalog:
		return r == RoleOwner || r == RoleAdmin || r == RoleMember
	case ActionManageMembers, ActionDecideAccess, ActionManageBilling:
		return r == RoleOwner || r == RoleAdmin
	case ActionDeleteWorkspace:
		return r == RoleOwner
	}
	return false
}

// ParseRole validates a wire value.
func ParseRole(raw string) (Role, error) {
	r := Role(raw)
	if !r.Valid() {
		return "", ErrInvalidRole
	}
	return r, nil
}
