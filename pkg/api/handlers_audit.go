package api

import (
	"net/http"

	"github.com/caseworks/authcore/pkg/httputil"
)

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	tenantCode := r.URL.Query().Get("tenant")
	if !httputil.RequireNonEmpty(w, tenantCode, "tenant") {
		return
	}
	if _, ok := s.requireCapability(w, r, tenantCode, capReadAudit); !ok {
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := s.auditLog.List(r.Context(), tenantCode, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, events)
}
