package api

import (
	"net/http"

	"github.com/caseworks/authcore/pkg/httputil"
	"github.com/caseworks/authcore/pkg/identity"
	"github.com/caseworks/authcore/pkg/middleware"
)

type whoAmIResponse struct {
	Actor         *identity.Actor `json:"actor"`
	Impersonating bool            `json:"impersonating"`
	RealActorID   int64           `json:"real_actor_id,omitempty"`
}

// handleWhoAmI reports the effective identity. When an impersonation
// session is live the real admin id rides along so UIs can show the
// overlay banner.
func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	real, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "no resolved actor")
		return
	}
	effective, ok := middleware.EffectiveActorFromContext(r.Context())
	if !ok {
		effective = real
	}

	resp := whoAmIResponse{Actor: effective}
	if effective.ID != real.ID {
		resp.Impersonating = true
		resp.RealActorID = real.ID
	}
	httputil.WriteSuccess(w, resp)
}
