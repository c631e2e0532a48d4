// Package api is the HTTP surface. Handlers are thin mux adapters over the
// domain components and own no authorization logic themselves; every
// decision flows through the evaluator.
package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/caseworks/authcore/pkg/apikeys"
	"github.com/caseworks/authcore/pkg/audit"
	"github.com/caseworks/authcore/pkg/authz"
	"github.com/caseworks/authcore/pkg/db"
	"github.com/caseworks/authcore/pkg/httputil"
	"github.com/caseworks/authcore/pkg/identity"
	"github.com/caseworks/authcore/pkg/impersonation"
	"github.com/caseworks/authcore/pkg/middleware"
	"github.com/caseworks/authcore/pkg/observability"
	"github.com/caseworks/authcore/pkg/tenants"
)

// Capabilities gating the administrative routes
var (
	capManageGrants = authz.Capability{Roles: []string{"admin"}, Permissions: []string{"authz.manage_grants"}}
	capManageTenant = authz.Capability{Roles: []string{"admin"}, Permissions: []string{"tenants.manage"}}
	capManageKeys   = authz.Capability{Roles: []string{"admin"}, Permissions: []string{"apikeys.manage"}}
	capReadAudit    = authz.Capability{Roles: []string{"admin"}, Permissions: []string{"audit.read"}}
)

// Server wires the domain components onto routes
type Server struct {
	evaluator     *authz.Evaluator
	roles         *authz.RoleService
	registry      *tenants.Registry
	authenticator *apikeys.Authenticator
	overlay       *impersonation.Overlay
	auditLog      audit.Logger
	logger        *observability.Logger

	identityMW      *middleware.Identity
	impersonationMW *middleware.Impersonation
	apiKeyMW        *middleware.APIKey

	verboseErrors bool
}

type Options struct {
	Evaluator     *authz.Evaluator
	Roles         *authz.RoleService
	Registry      *tenants.Registry
	Authenticator *apikeys.Authenticator
	Overlay       *impersonation.Overlay
	AuditLog      audit.Logger
	Logger        *observability.Logger

	IdentityMW      *middleware.Identity
	ImpersonationMW *middleware.Impersonation
	APIKeyMW        *middleware.APIKey

	VerboseErrors bool
}

func NewServer(opts Options) *Server {
	return &Server{
		evaluator:       opts.Evaluator,
		roles:           opts.Roles,
		registry:        opts.Registry,
		authenticator:   opts.Authenticator,
		overlay:         opts.Overlay,
		auditLog:        opts.AuditLog,
		logger:          opts.Logger,
		identityMW:      opts.IdentityMW,
		impersonationMW: opts.ImpersonationMW,
		apiKeyMW:        opts.APIKeyMW,
		verboseErrors:   opts.VerboseErrors,
	}
}

// Handler builds the full router: request id and logging everywhere, the
// identity chain on the staff surface, the credential chain on the machine
// surface.
func (s *Server) Handler(metrics *observability.Metrics) http.Handler {
	root := mux.NewRouter()
	root.Use(middleware.RequestID)
	root.Use(middleware.Logging(s.logger))
	if metrics != nil {
		root.Use(metrics.HTTPMiddleware)
	}

	// The machine prefix is more specific and must register first
	machine := root.PathPrefix("/v1/machine").Subrouter()
	machine.Use(s.apiKeyMW.Middleware)
	s.registerMachineRoutes(machine)

	staff := root.PathPrefix("/v1").Subrouter()
	staff.Use(s.identityMW.Middleware)
	staff.Use(s.impersonationMW.Middleware)
	s.registerStaffRoutes(staff)

	return otelhttp.NewHandler(root, "authcore")
}

func (s *Server) registerStaffRoutes(r *mux.Router) {
	r.HandleFunc("/identity/me", s.handleWhoAmI).Methods(http.MethodGet)

	r.HandleFunc("/authz/evaluate", s.handleEvaluate).Methods(http.MethodPost)

	r.HandleFunc("/tenants", s.handleListTenants).Methods(http.MethodGet)
	r.HandleFunc("/tenants", s.handleCreateTenant).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{code}", s.handleGetTenant).Methods(http.MethodGet)
	r.HandleFunc("/tenants/{code}/status", s.handleSetTenantStatus).Methods(http.MethodPut)

	r.HandleFunc("/tenants/{code}/actors/{id:[0-9]+}/grants", s.handleListGrants).Methods(http.MethodGet)
	r.HandleFunc("/tenants/{code}/actors/{id:[0-9]+}/roles", s.handleReplaceRoles).Methods(http.MethodPut)
	r.HandleFunc("/tenants/{code}/actors/{id:[0-9]+}/permissions", s.handleGrantPermission).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{code}/actors/{id:[0-9]+}/permissions/{permission}", s.handleRevokePermission).Methods(http.MethodDelete)

	r.HandleFunc("/tenants/{code}/apikeys", s.handleIssueKey).Methods(http.MethodPost)
	r.HandleFunc("/tenants/{code}/apikeys", s.handleListKeys).Methods(http.MethodGet)
	r.HandleFunc("/apikeys/{id:[0-9]+}", s.handleRevokeKey).Methods(http.MethodDelete)

	r.HandleFunc("/impersonation", s.handleStartImpersonation).Methods(http.MethodPost)
	r.HandleFunc("/impersonation", s.handleStopImpersonation).Methods(http.MethodDelete)

	r.HandleFunc("/audit", s.handleListAudit).Methods(http.MethodGet)
}

func (s *Server) registerMachineRoutes(r *mux.Router) {
	r.HandleFunc("/tenant", s.handleMachineTenant).Methods(http.MethodGet)
}

// requireCapability gates an admin route: the effective actor must hold
// the capability in the tenant. Returns the actor on success; on failure
// the response is already written.
func (s *Server) requireCapability(w http.ResponseWriter, r *http.Request, tenantCode string, capability authz.Capability) (*identity.Actor, bool) {
	actor, ok := middleware.EffectiveActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "no resolved actor")
		return nil, false
	}
	verdict, err := s.evaluator.Evaluate(r.Context(), actor, tenantCode, capability)
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	if !verdict.Authorized {
		httputil.WriteErrorReason(w, http.StatusForbidden, verdict.Reason, "not authorized")
		return nil, false
	}
	return actor, true
}

// writeError maps domain errors onto statuses. Internal detail leaks only
// when verbose errors are switched on for a trusted environment.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tenants.ErrTenantNotFound):
		httputil.WriteNotFoundError(w, "tenant not found")
	case errors.Is(err, identity.ErrActorNotFound):
		httputil.WriteNotFoundError(w, "actor not found")
	case errors.Is(err, apikeys.ErrKeyNotFound):
		httputil.WriteNotFoundError(w, "api key not found")
	case errors.Is(err, authz.ErrEmptyCapability):
		httputil.WriteBadRequest(w, err.Error())
	case db.IsUnavailable(err):
		httputil.WriteServiceUnavailable(w, "store unavailable")
	default:
		var vocabErr *authz.ErrRoleNotInVocabulary
		if errors.As(err, &vocabErr) {
			httputil.WriteValidationError(w, vocabErr.Error())
			return
		}
		s.logger.WithError(err).Error("Unhandled error in request")
		if s.verboseErrors {
			httputil.WriteInternalError(w, err)
			return
		}
		httputil.WriteInternalError(w, errors.New("internal error"))
	}
}
