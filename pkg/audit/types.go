package audit

import "time"

// Event action names. One namespace per package that emits them.
const (
	ActionActorResolve       = "identity.resolve"
	ActionDuplicateSubject   = "identity.duplicate_subject"
	ActionRoleChange         = "authz.role_change"
	ActionPermissionGrant    = "authz.permission_grant"
	ActionPermissionRevoke   = "authz.permission_revoke"
	ActionBreakGlass         = "authz.break_glass"
	ActionTenantCreate       = "tenant.create"
	ActionTenantStatusChange = "tenant.status_change"
	ActionKeyIssue           = "apikey.issue"
	ActionKeyRevoke          = "apikey.revoke"
	ActionImpersonateStart   = "impersonation.start"
	ActionImpersonateStop    = "impersonation.stop"
)

// Event is a single audit record. ActorID is the effective acting
// identity, the impersonated actor while an overlay is live; only the
// impersonation start/stop events carry the real admin id. TargetID is
// the affected resource, free-form per action.
type Event struct {
	ID         int64                  `json:"id"`
	Action     string                 `json:"action"`
	ActorID    *int64                 `json:"actor_id,omitempty"`
	TenantCode string                 `json:"tenant_code,omitempty"`
	TargetID   string                 `json:"target_id,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}
