package api

import (
	"net/http"
	"time"

	"github.com/caseworks/authcore/pkg/apikeys"
	"github.com/caseworks/authcore/pkg/httputil"
)

type issueKeyRequest struct {
	Description        string     `json:"description,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute,omitempty"`
}

// handleIssueKey mints a machine credential for the tenant. The response
// is the only place the plaintext secret ever appears.
func (s *Server) handleIssueKey(w http.ResponseWriter, r *http.Request) {
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return
	}
	issuer, ok := s.requireCapability(w, r, code, capManageKeys)
	if !ok {
		return
	}

	var req issueKeyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		httputil.WriteValidationError(w, "expires_at must be in the future")
		return
	}
	if req.RateLimitPerMinute < 0 {
		httputil.WriteValidationError(w, "rate_limit_per_minute must not be negative")
		return
	}

	issued, err := s.authenticator.Issue(r.Context(), code, &issuer.ID, apikeys.IssueOptions{
		Description:        req.Description,
		ExpiresAt:          req.ExpiresAt,
		RateLimitPerMinute: req.RateLimitPerMinute,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteCreated(w, issued)
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return
	}
	if _, ok := s.requireCapability(w, r, code, capManageKeys); !ok {
		return
	}

	keys, err := s.authenticator.ListByTenant(r.Context(), code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, keys)
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	keyID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	// The key's tenant decides who may revoke it
	key, err := s.authenticator.GetKey(r.Context(), keyID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	revoker, ok := s.requireCapability(w, r, key.TenantCode, capManageKeys)
	if !ok {
		return
	}

	if err := s.authenticator.Revoke(r.Context(), keyID, &revoker.ID); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
