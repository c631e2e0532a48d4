package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/caseworks/authcore/pkg/contextkeys"
)

// RequestIDHeader is echoed back to callers for log correlation
const RequestIDHeader = "X-Request-Id"

// RequestID assigns each request a UUID, honoring one supplied by a
// trusted upstream proxy.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(contextkeys.WithRequestID(r.Context(), id)))
	})
}
