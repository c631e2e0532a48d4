package api

import (
	"net/http"

	"github.com/caseworks/authcore/pkg/apikeys"
	"github.com/caseworks/authcore/pkg/httputil"
	"github.com/caseworks/authcore/pkg/middleware"
	"github.com/caseworks/authcore/pkg/tenants"
)

type machineTenantResponse struct {
	Tenant *tenants.Tenant `json:"tenant"`
	Key    *apikeys.Key    `json:"key"`
}

// handleMachineTenant tells a machine caller which tenant its credential
// is bound to, with the key's own metadata (never the secret).
func (s *Server) handleMachineTenant(w http.ResponseWriter, r *http.Request) {
	key, ok := middleware.APIKeyFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "no validated credential")
		return
	}
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "no tenant bound to credential")
		return
	}
	httputil.WriteSuccess(w, machineTenantResponse{Tenant: tenant, Key: key})
}
