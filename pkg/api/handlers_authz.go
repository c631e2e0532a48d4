package api

import (
	"net/http"
	"time"

	"github.com/caseworks/authcore/pkg/authz"
	"github.com/caseworks/authcore/pkg/httputil"
	"github.com/caseworks/authcore/pkg/middleware"
)

type evaluateRequest struct {
	TenantCode  string   `json:"tenant_code"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// handleEvaluate answers a capability question for the effective actor.
// Deny is a 200 with Authorized false; only malformed requests and store
// trouble get error statuses.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.EffectiveActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "no resolved actor")
		return
	}

	var req evaluateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.TenantCode, "tenant_code") {
		return
	}

	verdict, err := s.evaluator.Evaluate(r.Context(), actor, req.TenantCode, authz.Capability{
		Roles:       req.Roles,
		Permissions: req.Permissions,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, verdict)
}

func (s *Server) handleListGrants(w http.ResponseWriter, r *http.Request) {
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return
	}
	actorID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := s.requireCapability(w, r, code, capManageGrants); !ok {
		return
	}

	grants, err := s.roles.ListGrants(r.Context(), actorID, code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, grants)
}

type replaceRolesRequest struct {
	Roles []string `json:"roles"`
}

func (s *Server) handleReplaceRoles(w http.ResponseWriter, r *http.Request) {
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return
	}
	actorID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	granter, ok := s.requireCapability(w, r, code, capManageGrants)
	if !ok {
		return
	}

	var req replaceRolesRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Roles == nil {
		httputil.WriteValidationError(w, "roles is required; send an empty list to clear")
		return
	}

	if err := s.roles.ReplaceRoles(r.Context(), actorID, code, req.Roles, &granter.ID); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

type grantPermissionRequest struct {
	PermissionCode string     `json:"permission_code"`
	Category       string     `json:"category,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

func (s *Server) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return
	}
	actorID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	granter, ok := s.requireCapability(w, r, code, capManageGrants)
	if !ok {
		return
	}

	var req grantPermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.PermissionCode, "permission_code") {
		return
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		httputil.WriteValidationError(w, "expires_at must be in the future")
		return
	}

	grant, err := s.roles.GrantPermission(r.Context(), actorID, code, req.PermissionCode, req.Category, &granter.ID, req.ExpiresAt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteCreated(w, grant)
}

func (s *Server) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return
	}
	actorID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	permission, ok := httputil.ParsePathStringOrError(w, r, "permission")
	if !ok {
		return
	}
	revoker, ok := s.requireCapability(w, r, code, capManageGrants)
	if !ok {
		return
	}

	if err := s.roles.RevokePermission(r.Context(), actorID, code, permission, &revoker.ID); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
