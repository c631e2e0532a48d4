package authz

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/caseworks/authcore/pkg/audit"
	"github.com/caseworks/authcore/pkg/db"
	"github.com/caseworks/authcore/pkg/observability"
)

// ErrRoleNotInVocabulary reports a role name outside the allowed set
type ErrRoleNotInVocabulary struct {
	TenantCode string
	RoleName   string
}

func (e *ErrRoleNotInVocabulary) Error() string {
	return fmt.Sprintf("role %q is not in the vocabulary for tenant %q", e.RoleName, e.TenantCode)
}

// RoleService owns grant mutations: it validates role names, delegates the
// storage work, and records the audit trail. Read-side evaluation lives on
// the Evaluator.
type RoleService struct {
	store   *Store
	vocab   *Vocabulary
	audit   audit.Logger
	logger  *observability.Logger
	metrics *observability.Metrics
}

func NewRoleService(store *Store, vocab *Vocabulary, auditLogger audit.Logger, logger *observability.Logger, metrics *observability.Metrics) *RoleService {
	return &RoleService{
		store:   store,
		vocab:   vocab,
		audit:   auditLogger,
		logger:  logger,
		metrics: metrics,
	}
}

// ReplaceRoles swaps the actor's role set in the tenant for exactly the
// given names. Names must come from the tenant's vocabulary or already
// appear in that tenant's grants; the union keeps historical role names
// assignable after a vocabulary edit. Blank and duplicate names are
// dropped before validation.
func (s *RoleService) ReplaceRoles(ctx context.Context, actorID int64, tenantCode string, roleNames []string, grantedBy *int64) error {
	seen := make(map[string]bool, len(roleNames))
	cleaned := make([]string, 0, len(roleNames))
	for _, name := range roleNames {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		cleaned = append(cleaned, name)
	}

	observed, err := s.store.ObservedRoleNames(ctx, tenantCode)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(observed))
	for _, name := range observed {
		known[name] = true
	}
	for _, name := range cleaned {
		if known[name] || s.vocab.Allows(tenantCode, name) {
			continue
		}
		return &ErrRoleNotInVocabulary{TenantCode: tenantCode, RoleName: name}
	}

	if err := s.setRolesRetrying(ctx, actorID, tenantCode, cleaned, grantedBy); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RoleReplacesTotal.WithLabelValues(tenantCode, "ok").Inc()
	}
	if err := s.audit.Log(ctx, &audit.Event{
		Action:     audit.ActionRoleChange,
		ActorID:    grantedBy,
		TenantCode: tenantCode,
		TargetID:   fmt.Sprintf("actor:%d", actorID),
		Details:    map[string]interface{}{"roles": cleaned},
	}); err != nil {
		s.logger.WithError(err).Error("Failed to record role change audit event")
	}
	return nil
}

// setRolesAttempts bounds re-runs of a replacement that keeps losing the
// serialization race.
const setRolesAttempts = 3

// setRolesRetrying re-runs the whole replacement when the serializable
// transaction is aborted by a concurrent one. The loser of the race saw
// none of its own effects, so restarting from scratch is safe.
func (s *RoleService) setRolesRetrying(ctx context.Context, actorID int64, tenantCode string, roleNames []string, grantedBy *int64) error {
	var err error
	for try := 0; try <= setRolesAttempts; try++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.store.SetRoles(ctx, actorID, tenantCode, roleNames, grantedBy)
		if err == nil || !db.IsSerializationFailure(err) {
			return err
		}
		s.logger.WithFields(map[string]interface{}{
			"tenant":   tenantCode,
			"actor_id": actorID,
			"attempt":  try + 1,
		}).Warn("Role replacement lost a serialization race, retrying")
	}
	return err
}

// GrantPermission records a permission grant with an optional expiry
func (s *RoleService) GrantPermission(ctx context.Context, actorID int64, tenantCode, permissionCode, category string, grantedBy *int64, expiresAt *time.Time) (*PermissionGrant, error) {
	grant, err := s.store.GrantPermission(ctx, actorID, tenantCode, permissionCode, category, grantedBy, expiresAt)
	if err != nil {
		return nil, err
	}
	if err := s.audit.Log(ctx, &audit.Event{
		Action:     audit.ActionPermissionGrant,
		ActorID:    grantedBy,
		TenantCode: tenantCode,
		TargetID:   fmt.Sprintf("actor:%d", actorID),
		Details:    map[string]interface{}{"permission": permissionCode, "expires_at": expiresAt},
	}); err != nil {
		s.logger.WithError(err).Error("Failed to record permission grant audit event")
	}
	return grant, nil
}

// RevokePermission deactivates active grants of the permission code
func (s *RoleService) RevokePermission(ctx context.Context, actorID int64, tenantCode, permissionCode string, revokedBy *int64) error {
	if err := s.store.RevokePermission(ctx, actorID, tenantCode, permissionCode); err != nil {
		return err
	}
	if err := s.audit.Log(ctx, &audit.Event{
		Action:     audit.ActionPermissionRevoke,
		ActorID:    revokedBy,
		TenantCode: tenantCode,
		TargetID:   fmt.Sprintf("actor:%d", actorID),
		Details:    map[string]interface{}{"permission": permissionCode},
	}); err != nil {
		s.logger.WithError(err).Error("Failed to record permission revoke audit event")
	}
	return nil
}

// Grants bundles an actor's full grant rows in a tenant for admin display,
// roles ordered by derived seniority.
type Grants struct {
	Roles       []*RoleGrant       `json:"roles"`
	Permissions []*PermissionGrant `json:"permissions"`
}

// ListGrants returns every grant row, inactive and expired included
func (s *RoleService) ListGrants(ctx context.Context, actorID int64, tenantCode string) (*Grants, error) {
	roles, err := s.store.ListRoleGrants(ctx, actorID, tenantCode)
	if err != nil {
		return nil, err
	}
	perms, err := s.store.ListPermissionGrants(ctx, actorID, tenantCode)
	if err != nil {
		return nil, err
	}
	sortRolesBySeniority(roles)
	return &Grants{Roles: roles, Permissions: perms}, nil
}

func sortRolesBySeniority(roles []*RoleGrant) {
	sort.SliceStable(roles, func(i, j int) bool {
		return RoleLevel(roles[i].RoleName) > RoleLevel(roles[j].RoleName)
	})
}
