// Package impersonation lets an authorized admin act as another actor for a
// bounded window. Sessions live out-of-band in Redis with a TTL and never
// touch the grant tables, so expiry is automatic and nothing needs cleanup.
package impersonation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/caseworks/authcore/pkg/audit"
	"github.com/caseworks/authcore/pkg/authz"
	"github.com/caseworks/authcore/pkg/identity"
	"github.com/caseworks/authcore/pkg/observability"
)

// PermissionImpersonate gates starting a session. Evaluated against the
// admin's REAL identity, never an already-effective one.
const PermissionImpersonate = "impersonation.start"

// StartCapability is what an admin must hold to impersonate: a senior
// role or the explicit permission, either suffices.
var StartCapability = authz.Capability{
	Roles:       []string{"admin", "system_admin"},
	Permissions: []string{PermissionImpersonate},
}

// DefaultSessionTTL bounds how long an overlay lasts without a restart
const DefaultSessionTTL = time.Hour

// ErrNotAuthorized means the admin may not impersonate in that tenant
var ErrNotAuthorized = errors.New("not authorized to impersonate")

// ErrSelfImpersonation rejects an admin targeting themselves
var ErrSelfImpersonation = errors.New("cannot impersonate yourself")

// Overlay manages impersonation sessions. One target per admin; starting a
// second session replaces the first.
type Overlay struct {
	redis     *redis.Client
	evaluator *authz.Evaluator
	actors    *identity.Store
	audit     audit.Logger
	logger    *observability.Logger
	metrics   *observability.Metrics
	ttl       time.Duration
}

func NewOverlay(redisClient *redis.Client, evaluator *authz.Evaluator, actors *identity.Store, auditLogger audit.Logger, logger *observability.Logger, metrics *observability.Metrics, ttl time.Duration) *Overlay {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Overlay{
		redis:     redisClient,
		evaluator: evaluator,
		actors:    actors,
		audit:     auditLogger,
		logger:    logger,
		metrics:   metrics,
		ttl:       ttl,
	}
}

func sessionKey(adminActorID int64) string {
	return fmt.Sprintf("impersonation:admin:%d", adminActorID)
}

// Start opens a session for admin to act as target within the tenant. The
// admin's own grants decide eligibility; the target just has to exist.
func (o *Overlay) Start(ctx context.Context, admin *identity.Actor, tenantCode string, targetActorID int64) error {
	if admin.ID == targetActorID {
		return ErrSelfImpersonation
	}

	verdict, err := o.evaluator.Evaluate(ctx, admin, tenantCode, StartCapability)
	if err != nil {
		return err
	}
	if !verdict.Authorized {
		return ErrNotAuthorized
	}

	if _, err := o.actors.GetActor(ctx, targetActorID); err != nil {
		return err
	}

	if err := o.redis.Set(ctx, sessionKey(admin.ID), targetActorID, o.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store impersonation session: %w", err)
	}

	if o.metrics != nil {
		o.metrics.ImpersonationStartsTotal.Inc()
	}
	if err := o.audit.Log(ctx, &audit.Event{
		Action:     audit.ActionImpersonateStart,
		ActorID:    &admin.ID,
		TenantCode: tenantCode,
		TargetID:   fmt.Sprintf("actor:%d", targetActorID),
	}); err != nil {
		o.logger.WithError(err).Error("Failed to record impersonation start audit event")
	}
	return nil
}

// EffectiveActorID returns the actor id requests should run as: the
// session's target when one is live, otherwise the admin's own id.
func (o *Overlay) EffectiveActorID(ctx context.Context, adminActorID int64) (int64, error) {
	val, err := o.redis.Get(ctx, sessionKey(adminActorID)).Result()
	if err == redis.Nil {
		return adminActorID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read impersonation session: %w", err)
	}
	target, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse impersonation session: %w", err)
	}
	return target, nil
}

// Stop ends the admin's session. Stopping without one is a no-op.
func (o *Overlay) Stop(ctx context.Context, adminActorID int64) error {
	removed, err := o.redis.Del(ctx, sessionKey(adminActorID)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete impersonation session: %w", err)
	}
	if removed == 0 {
		return nil
	}

	if o.metrics != nil {
		o.metrics.ImpersonationStopsTotal.Inc()
	}
	if err := o.audit.Log(ctx, &audit.Event{
		Action:  audit.ActionImpersonateStop,
		ActorID: &adminActorID,
	}); err != nil {
		o.logger.WithError(err).Error("Failed to record impersonation stop audit event")
	}
	return nil
}
