package api

import (
	"net/http"

	"github.com/caseworks/authcore/pkg/audit"
	"github.com/caseworks/authcore/pkg/httputil"
	"github.com/caseworks/authcore/pkg/middleware"
	"github.com/caseworks/authcore/pkg/tenants"
)

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	list, err := s.registry.ListActiveTenants(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return
	}
	tenant, err := s.registry.GetTenant(r.Context(), code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// An inactive tenant looks exactly like a missing one unless the
	// caller could manage it anyway.
	if !tenant.Active {
		actor, ok := middleware.EffectiveActorFromContext(r.Context())
		if !ok {
			httputil.WriteNotFoundError(w, "tenant not found")
			return
		}
		verdict, err := s.evaluator.Evaluate(r.Context(), actor, code, capManageTenant)
		if err != nil || !verdict.Authorized {
			httputil.WriteNotFoundError(w, "tenant not found")
			return
		}
	}
	httputil.WriteSuccess(w, tenant)
}

type createTenantRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// handleCreateTenant provisions a tenant. Only the break-glass allow-list
// can pass the capability check here, since the tenant does not exist yet.
func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Code, "code") || !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}
	creator, ok := s.requireCapability(w, r, req.Code, capManageTenant)
	if !ok {
		return
	}

	tenant := &tenants.Tenant{Code: req.Code, Name: req.Name, Active: true}
	if err := s.registry.CreateTenant(r.Context(), tenant); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.auditLog.Log(r.Context(), &audit.Event{
		Action:     audit.ActionTenantCreate,
		ActorID:    &creator.ID,
		TenantCode: tenant.Code,
	}); err != nil {
		s.logger.WithError(err).Error("Failed to record tenant create audit event")
	}
	httputil.WriteCreated(w, tenant)
}

type tenantStatusRequest struct {
	Active bool `json:"active"`
}

func (s *Server) handleSetTenantStatus(w http.ResponseWriter, r *http.Request) {
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return
	}
	actor, ok := s.requireCapability(w, r, code, capManageTenant)
	if !ok {
		return
	}

	var req tenantStatusRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := s.registry.SetActive(r.Context(), code, req.Active); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.auditLog.Log(r.Context(), &audit.Event{
		Action:     audit.ActionTenantStatusChange,
		ActorID:    &actor.ID,
		TenantCode: code,
		Details:    map[string]interface{}{"active": req.Active},
	}); err != nil {
		s.logger.WithError(err).Error("Failed to record tenant status audit event")
	}
	httputil.WriteNoContent(w)
}
