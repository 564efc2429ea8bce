package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/carebridge/pkg/audit"
	"github.com/platinummonkey/carebridge/pkg/httputil"
	"github.com/platinummonkey/carebridge/pkg/middleware"
	"github.com/platinummonkey/carebridge/pkg/observability"
	"github.com/platinummonkey/carebridge/pkg/provision"
	"github.com/platinummonkey/carebridge/pkg/rbac"
	"github.com/platinummonkey/carebridge/pkg/users"
)

// maxBodyBytes caps JSON request bodies on the user endpoints
const maxBodyBytes = 64 << 10

// Limiter is a rate limiting middleware
type Limiter interface {
	Handler(next http.Handler) http.Handler
}

// Deps are the collaborators the server routes to. Audit, Webhooks, Health,
// Limiter, Metrics and Registry are optional; each missing one drops its
// routes or middleware.
type Deps struct {
	Auth     *middleware.AuthMiddleware
	Users    users.Store
	Engine   *provision.Engine
	Guard    *rbac.Guard
	Recorder audit.Recorder

	Audit    *audit.Handlers
	Webhooks http.Handler
	Health   *observability.HealthChecker
	Limiter  Limiter

	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Logger   *observability.Logger
}

// Server represents our API server
type Server struct {
	deps   Deps
	router *mux.Router
	logger *observability.Logger
	track  *audit.Middleware
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	if deps.Recorder == nil {
		deps.Recorder = audit.NopRecorder{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	s := &Server{
		deps:   deps,
		router: mux.NewRouter(),
		logger: logger.Component("api"),
		track:  audit.NewMiddleware(deps.Recorder),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.deps.Metrics != nil {
		s.router.Use(mux.MiddlewareFunc(observability.HTTPMetricsMiddleware(s.deps.Metrics, routeTemplate)))
	}

	// Health and metrics
	if s.deps.Health != nil {
		s.router.HandleFunc("/health/live", s.deps.Health.Liveness).Methods(http.MethodGet)
		s.router.HandleFunc("/health/ready", s.deps.Health.Readiness).Methods(http.MethodGet)
	}
	if s.deps.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.deps.Registry)).Methods(http.MethodGet)
	}

	// Identity provider callbacks carry their own signature, not a bearer token
	if s.deps.Webhooks != nil {
		s.router.Handle("/api/webhooks/identity", s.limit(s.deps.Webhooks)).Methods(http.MethodPost)
	}

	a := s.deps.Auth
	body := httputil.MaxBytesMiddleware(maxBodyBytes)

	s.router.Handle("/api/auth/me",
		s.limit(a.RequireAuth(http.HandlerFunc(s.me)))).Methods(http.MethodGet)
	s.router.Handle("/api/auth/select-role",
		s.limit(body(a.RequireAuth(http.HandlerFunc(s.selectRole))))).Methods(http.MethodPost)

	s.router.Handle("/api/users/{id}/profile", httputil.Chain(
		a.RequireAuth,
		s.deps.Guard.RequireOwnershipOrPermission(rbac.OwnershipRule{
			OwnerID:            pathID,
			OverridePermission: rbac.PermissionUsersReadAny,
			Relationship:       s.deps.Users.HasCareRelationship,
		}),
		s.track.Track(audit.TrackOptions{
			Action:       audit.ActionProfileViewed,
			ResourceType: audit.ResourceUser,
			Risk:         audit.RiskLow,
			ResourceID:   pathID,
		}),
	)(http.HandlerFunc(s.getProfile))).Methods(http.MethodGet)

	// Admin API: authenticated, admin role, then the endpoint permission table
	admin := s.router.PathPrefix("/api/admin").Subrouter()
	admin.Use(
		mux.MiddlewareFunc(a.RequireAuth),
		mux.MiddlewareFunc(s.deps.Guard.RequireRole([]users.Role{users.RoleAdmin, users.RoleSuperAdmin})),
		mux.MiddlewareFunc(s.deps.Guard.RequireEndpointPermission()),
	)
	admin.HandleFunc("/users/{id}", s.adminGetUser).Methods(http.MethodGet)
	admin.Handle("/users/{id}/status", httputil.Chain(
		body,
		s.track.Track(audit.TrackOptions{
			Action:       audit.ActionUserUpdated,
			ResourceType: audit.ResourceUser,
			Risk:         audit.RiskHigh,
			ResourceID:   pathID,
		}),
	)(http.HandlerFunc(s.adminUpdateStatus))).Methods(http.MethodPut)
	admin.Handle("/professionals/{id}/verify", s.track.Track(audit.TrackOptions{
		Action:       audit.ActionProfessionalVerified,
		ResourceType: audit.ResourceUser,
		Risk:         audit.RiskHigh,
		ResourceID:   pathID,
	})(http.HandlerFunc(s.adminVerifyProfessional))).Methods(http.MethodPost)
	if s.deps.Audit != nil {
		s.deps.Audit.RegisterRoutes(admin)
	}
}

func (s *Server) limit(h http.Handler) http.Handler {
	if s.deps.Limiter == nil {
		return h
	}
	return s.deps.Limiter.Handler(h)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the router wrapped in the outer middleware stack
func (s *Server) Handler() http.Handler {
	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(s.logger),
		httputil.LoggingMiddleware(s.logger),
	)
	return otelhttp.NewHandler(chain(s.router), "carebridge",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + routeTemplate(r)
		}),
	)
}

// routeTemplate labels a request by its matched mux route
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

func pathID(r *http.Request) string {
	return httputil.PathVar(r, "id")
}
