package api

import (
	"errors"
	"net/http"

	"github.com/caseworks/authcore/pkg/httputil"
	"github.com/caseworks/authcore/pkg/impersonation"
	"github.com/caseworks/authcore/pkg/middleware"
)

type startImpersonationRequest struct {
	TenantCode    string `json:"tenant_code"`
	TargetActorID int64  `json:"target_actor_id"`
}

// handleStartImpersonation opens an overlay session. Eligibility is judged
// on the caller's REAL identity; an impersonating admin cannot chain
// sessions through the target's grants.
func (s *Server) handleStartImpersonation(w http.ResponseWriter, r *http.Request) {
	admin, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "no resolved actor")
		return
	}

	var req startImpersonationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.TenantCode, "tenant_code") {
		return
	}
	if req.TargetActorID <= 0 {
		httputil.WriteValidationError(w, "target_actor_id is required")
		return
	}

	err := s.overlay.Start(r.Context(), admin, req.TenantCode, req.TargetActorID)
	if err != nil {
		switch {
		case errors.Is(err, impersonation.ErrNotAuthorized):
			httputil.WriteForbidden(w, "not authorized to impersonate")
		case errors.Is(err, impersonation.ErrSelfImpersonation):
			httputil.WriteValidationError(w, err.Error())
		default:
			s.writeError(w, err)
		}
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) handleStopImpersonation(w http.ResponseWriter, r *http.Request) {
	admin, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "no resolved actor")
		return
	}
	if err := s.overlay.Stop(r.Context(), admin.ID); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
