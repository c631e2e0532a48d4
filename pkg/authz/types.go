package authz

import (
	"errors"
	"strings"
	"time"
)

// ErrEmptyCapability is returned when an evaluation names neither roles nor
// permissions. It maps to a 400 at the HTTP boundary.
var ErrEmptyCapability = errors.New("capability must name at least one role or permission")

// RoleGrant ties an actor to a named role within a tenant. There is no
// expiry; deactivation is the only removal path.
type RoleGrant struct {
	ID            int64      `json:"id"`
	ActorID       int64      `json:"actor_id"`
	TenantCode    string     `json:"tenant_code"`
	RoleName      string     `json:"role_name"`
	GrantedBy     *int64     `json:"granted_by,omitempty"`
	GrantedAt     time.Time  `json:"granted_at"`
	Active        bool       `json:"active"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

// PermissionGrant ties an actor to a discrete permission code within a
// tenant. A grant is effective iff it is active and not expired; expiry is
// evaluated at query time and the row is never touched on read.
type PermissionGrant struct {
	ID             int64      `json:"id"`
	ActorID        int64      `json:"actor_id"`
	TenantCode     string     `json:"tenant_code"`
	PermissionCode string     `json:"permission_code"`
	Category       string     `json:"category,omitempty"`
	GrantedBy      *int64     `json:"granted_by,omitempty"`
	GrantedAt      time.Time  `json:"granted_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Active         bool       `json:"active"`
	DeactivatedAt  *time.Time `json:"deactivated_at,omitempty"`
}

// Capability is what a caller must hold to proceed. Roles and permissions
// are alternates: holding any listed role OR any listed permission
// authorizes. At least one list must be non-empty.
type Capability struct {
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Empty reports whether the capability names nothing
func (c Capability) Empty() bool {
	return len(c.Roles) == 0 && len(c.Permissions) == 0
}

// Verdict is the outcome of an authorization evaluation
type Verdict struct {
	Authorized bool   `json:"authorized"`
	Reason     string `json:"reason"`
}

// Verdict reasons. Stable strings; clients and audit records key off them.
const (
	ReasonGlobalAdmin     = "global_admin"
	ReasonRoleMatch       = "role_match"
	ReasonPermissionMatch = "permission_match"
	ReasonNoGrant         = "no_matching_grant"
	ReasonTenantInactive  = "tenant_inactive"
	ReasonTenantUnknown   = "tenant_unknown"
)

// Role seniority ranks, highest first. Derived from name substrings for
// compatibility with grants already in the wild; used for display ordering
// only, never for authorization decisions.
const (
	LevelAdmin    = 40
	LevelDirector = 30
	LevelLead     = 20
	LevelBase     = 10
)

// RoleLevel derives a display rank from a role name. The substring match is
// knowingly fragile (a role name that happens to contain "admin" ranks as
// admin); replacing it with an explicit rank field requires a data
// migration and sign-off on the changed ordering.
func RoleLevel(roleName string) int {
	name := strings.ToLower(roleName)
	switch {
	case strings.Contains(name, "admin"):
		return LevelAdmin
	case strings.Contains(name, "director"):
		return LevelDirector
	case strings.Contains(name, "liaison"),
		strings.Contains(name, "coordinator"),
		strings.Contains(name, "manager"):
		return LevelLead
	default:
		return LevelBase
	}
}
