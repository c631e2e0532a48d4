package authz

import (
	"context"
	"errors"
	"strings"

	"github.com/caseworks/authcore/pkg/audit"
	"github.com/caseworks/authcore/pkg/db"
	"github.com/caseworks/authcore/pkg/identity"
	"github.com/caseworks/authcore/pkg/observability"
	"github.com/caseworks/authcore/pkg/tenants"
)

// TenantLookup is the slice of the tenant registry the evaluator needs
type TenantLookup interface {
	GetTenant(ctx context.Context, code string) (*tenants.Tenant, error)
}

// Evaluator answers whether an actor may exercise a capability in a tenant.
// Deny verdicts carry a reason; store failures are errors, not verdicts,
// and the caller fails closed.
type Evaluator struct {
	store       *Store
	tenants     TenantLookup
	audit       audit.Logger
	logger      *observability.Logger
	metrics     *observability.Metrics
	adminEmails map[string]bool
	retries     int
}

// NewEvaluator builds an evaluator. adminEmails is the break-glass
// allow-list; matching is case-insensitive on the whole address.
func NewEvaluator(store *Store, registry TenantLookup, auditLogger audit.Logger, logger *observability.Logger, metrics *observability.Metrics, adminEmails []string, storeRetries int) *Evaluator {
	admins := make(map[string]bool, len(adminEmails))
	for _, email := range adminEmails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email != "" {
			admins[email] = true
		}
	}
	if storeRetries < 1 {
		storeRetries = 1
	}
	return &Evaluator{
		store:       store,
		tenants:     registry,
		audit:       auditLogger,
		logger:      logger,
		metrics:     metrics,
		adminEmails: admins,
		retries:     storeRetries,
	}
}

// Evaluate decides the capability for the actor in the tenant. The
// break-glass allow-list is consulted first and authorizes without touching
// the store or the tenant registry, so platform operators keep access even
// when grant data is broken. Everyone else needs an active tenant and at
// least one matching role or permission.
func (e *Evaluator) Evaluate(ctx context.Context, actor *identity.Actor, tenantCode string, capability Capability) (Verdict, error) {
	if capability.Empty() {
		return Verdict{}, ErrEmptyCapability
	}

	if actor.Email != "" && e.adminEmails[strings.ToLower(actor.Email)] {
		e.logger.WithFields(map[string]interface{}{
			"actor_id": actor.ID,
			"tenant":   tenantCode,
		}).Warn("Break-glass authorization via admin allow-list")
		if e.metrics != nil {
			e.metrics.BreakGlassTotal.Inc()
		}
		if err := e.audit.Log(ctx, &audit.Event{
			Action:     audit.ActionBreakGlass,
			ActorID:    &actor.ID,
			TenantCode: tenantCode,
			Details:    map[string]interface{}{"roles": capability.Roles, "permissions": capability.Permissions},
		}); err != nil {
			e.logger.WithError(err).Error("Failed to record break-glass audit event")
		}
		return e.verdict(tenantCode, Verdict{Authorized: true, Reason: ReasonGlobalAdmin}), nil
	}

	tenant, err := e.getTenant(ctx, tenantCode)
	if err != nil {
		if errors.Is(err, tenants.ErrTenantNotFound) {
			return e.verdict(tenantCode, Verdict{Reason: ReasonTenantUnknown}), nil
		}
		return Verdict{}, err
	}
	// An inactive tenant denies exactly like an unknown one
	if !tenant.Active {
		return e.verdict(tenantCode, Verdict{Reason: ReasonTenantInactive}), nil
	}

	if len(capability.Roles) > 0 {
		held, err := e.effectiveRoles(ctx, actor.ID, tenantCode)
		if err != nil {
			return Verdict{}, err
		}
		for _, want := range capability.Roles {
			if held[want] {
				return e.verdict(tenantCode, Verdict{Authorized: true, Reason: ReasonRoleMatch}), nil
			}
		}
	}

	if len(capability.Permissions) > 0 {
		held, err := e.effectivePermissions(ctx, actor.ID, tenantCode)
		if err != nil {
			return Verdict{}, err
		}
		for _, want := range capability.Permissions {
			if held[want] {
				return e.verdict(tenantCode, Verdict{Authorized: true, Reason: ReasonPermissionMatch}), nil
			}
		}
	}

	return e.verdict(tenantCode, Verdict{Reason: ReasonNoGrant}), nil
}

func (e *Evaluator) verdict(tenantCode string, v Verdict) Verdict {
	if e.metrics != nil {
		outcome := "denied"
		if v.Authorized {
			outcome = "authorized"
		}
		e.metrics.EvaluationsTotal.WithLabelValues(tenantCode, outcome).Inc()
	}
	return v
}

func (e *Evaluator) getTenant(ctx context.Context, code string) (*tenants.Tenant, error) {
	var tenant *tenants.Tenant
	err := db.Retry(ctx, e.retries, func() error {
		var err error
		tenant, err = e.tenants.GetTenant(ctx, code)
		return err
	})
	return tenant, err
}

func (e *Evaluator) effectiveRoles(ctx context.Context, actorID int64, tenantCode string) (map[string]bool, error) {
	var names []string
	err := db.Retry(ctx, e.retries, func() error {
		var err error
		names, err = e.store.EffectiveRoles(ctx, actorID, tenantCode)
		return err
	})
	if err != nil {
		return nil, err
	}
	held := make(map[string]bool, len(names))
	for _, name := range names {
		held[name] = true
	}
	return held, nil
}

func (e *Evaluator) effectivePermissions(ctx context.Context, actorID int64, tenantCode string) (map[string]bool, error) {
	var codes []string
	err := db.Retry(ctx, e.retries, func() error {
		var err error
		codes, err = e.store.EffectivePermissions(ctx, actorID, tenantCode)
		return err
	})
	if err != nil {
		return nil, err
	}
	held := make(map[string]bool, len(codes))
	for _, code := range codes {
		held[code] = true
	}
	return held, nil
}
