package rbac

import (
	"context"
	"net/http"
	"time"

	"github.com/platinummonkey/carebridge/pkg/apperrors"
	"github.com/platinummonkey/carebridge/pkg/audit"
	"github.com/platinummonkey/carebridge/pkg/auth"
	"github.com/platinummonkey/carebridge/pkg/httputil"
	"github.com/platinummonkey/carebridge/pkg/observability"
	"github.com/platinummonkey/carebridge/pkg/users"
)

// CustomCheck is a caller predicate evaluated before permission membership.
// Returning false denies the request.
type CustomCheck func(u *users.User, r *http.Request) bool

// RelationshipCheck reports whether a professional is linked to a patient
type RelationshipCheck func(ctx context.Context, professionalID, patientID string) (bool, error)

// Guard builds permission-enforcing middleware over a Model
type Guard struct {
	model    *Model
	recorder audit.Recorder
	now      func() time.Time
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// GuardOption configures a Guard
type GuardOption func(*Guard)

// WithGuardClock overrides time.Now for time-window policies
func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// WithGuardObservability sets the logger and metrics
func WithGuardObservability(logger *observability.Logger, metrics *observability.Metrics) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger.Component("rbac")
		}
		g.metrics = metrics
	}
}

func NewGuard(model *Model, recorder audit.Recorder, opts ...GuardOption) *Guard {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	g := &Guard{
		model:    model,
		recorder: recorder,
		now:      time.Now,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Model returns the model the guard enforces
func (g *Guard) Model() *Model { return g.model }

// currentUser writes a 401 and returns nil when the request carries no
// resolved local user
func currentUser(w http.ResponseWriter, r *http.Request) *users.User {
	ac, ok := auth.FromContext(r.Context())
	if !ok || ac.User == nil {
		httputil.WriteUnauthorized(w, "Authentication required")
		return nil
	}
	return ac.User
}

func (g *Guard) event(r *http.Request, u *users.User, action audit.Action, risk audit.RiskLevel) *audit.Event {
	return audit.NewEvent(action, risk).
		WithMeta(audit.MetaFromRequest(r)).
		ForUser(u.ID).
		On(audit.ResourceEndpoint, r.Method+" "+r.URL.Path).
		With("role", string(u.Role))
}

func (g *Guard) denyPermission(w http.ResponseWriter, r *http.Request, u *users.User, policy, reason, message string, perms []Permission) {
	g.metrics.RecordDecision(policy, false, reason)
	g.recorder.Record(r.Context(), g.event(r, u, audit.ActionPermissionDenied, audit.RiskMedium).
		With("policy", policy).
		With("reason", reason).
		With("required_permissions", permissionStrings(perms)).
		Failed(nil))
	httputil.WriteAppError(w, apperrors.Authorization(message, permissionStrings(perms)...))
}

// PermissionRule configures RequirePermission
type PermissionRule struct {
	Permissions []Permission
	// Strict requires every permission instead of any one
	Strict bool
	Custom CustomCheck
}

// RequirePermission gates on the user's role holding rule.Permissions
func (g *Guard) RequirePermission(rule PermissionRule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := currentUser(w, r)
			if u == nil {
				return
			}
			if !g.allowPermission(w, r, u, "permission", rule) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guard) allowPermission(w http.ResponseWriter, r *http.Request, u *users.User, policy string, rule PermissionRule) bool {
	if rule.Custom != nil && !rule.Custom(u, r) {
		g.denyPermission(w, r, u, policy, "custom_check", "Insufficient permissions", rule.Permissions)
		return false
	}
	if !g.model.Check(u.Role, rule.Permissions, rule.Strict) {
		g.denyPermission(w, r, u, policy, "missing_permission", "Insufficient permissions", rule.Permissions)
		return false
	}
	g.metrics.RecordDecision(policy, true, "granted")
	return true
}

type roleConfig struct {
	strict        bool
	adminOverride bool
}

// RoleOption configures RequireRole
type RoleOption func(*roleConfig)

// StrictRoles disables the admin override
func StrictRoles() RoleOption {
	return func(c *roleConfig) { c.strict = true }
}

// WithoutAdminOverride keeps admins to the listed roles without making the
// policy strict in other respects
func WithoutAdminOverride() RoleOption {
	return func(c *roleConfig) { c.adminOverride = false }
}

// RequireRole passes users whose role is listed. Unless strict, admins and
// super admins pass as well and the override is audited.
func (g *Guard) RequireRole(roles []users.Role, opts ...RoleOption) func(http.Handler) http.Handler {
	cfg := roleConfig{adminOverride: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	allowed := make(map[users.Role]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := currentUser(w, r)
			if u == nil {
				return
			}

			switch {
			case allowed[u.Role]:
				g.grantRole(r, u, roles, false)
			case !cfg.strict && cfg.adminOverride && u.Role.IsAdmin():
				g.grantRole(r, u, roles, true)
			default:
				g.metrics.RecordDecision("role", false, "role_not_allowed")
				g.recorder.Record(r.Context(), g.event(r, u, audit.ActionAuthorizationFailed, audit.RiskMedium).
					With("required_roles", roleStrings(roles)).
					Failed(nil))
				httputil.WriteAppError(w, apperrors.RoleRequired("Insufficient role", roleStrings(roles)...))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guard) grantRole(r *http.Request, u *users.User, roles []users.Role, override bool) {
	risk, reason := audit.RiskLow, "role_allowed"
	if override {
		risk, reason = audit.RiskMedium, "admin_override"
	}
	g.metrics.RecordDecision("role", true, reason)
	g.recorder.Record(r.Context(), g.event(r, u, audit.ActionAccessGranted, risk).
		With("required_roles", roleStrings(roles)).
		With("override", override))
}

// OwnershipRule configures RequireOwnershipOrPermission
type OwnershipRule struct {
	// OwnerID extracts the owning user id from the request
	OwnerID func(r *http.Request) string
	// OverridePermission lets holders access any owner's resource
	OverridePermission Permission
	AdminBypass        bool
	// Relationship, when set, lets a professional reach a linked patient's
	// resource
	Relationship RelationshipCheck
}

// RequireOwnershipOrPermission passes the resource owner and the bypasses
// configured in rule
func (g *Guard) RequireOwnershipOrPermission(rule OwnershipRule) func(http.Handler) http.Handler {
	var required []Permission
	if rule.OverridePermission != "" {
		required = []Permission{rule.OverridePermission}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := currentUser(w, r)
			if u == nil {
				return
			}

			owner := ""
			if rule.OwnerID != nil {
				owner = rule.OwnerID(r)
			}
			if owner == "" {
				httputil.WriteAppError(w, apperrors.Validation("resource owner is required"))
				return
			}

			switch {
			case rule.AdminBypass && u.Role.IsAdmin():
				g.metrics.RecordDecision("ownership", true, "admin_bypass")
			case rule.OverridePermission != "" && g.model.HasPermission(u.Role, rule.OverridePermission):
				g.metrics.RecordDecision("ownership", true, "override_permission")
			case u.ID == owner:
				g.metrics.RecordDecision("ownership", true, "owner")
			case u.Role == users.RoleProfessional && rule.Relationship != nil:
				linked, err := rule.Relationship(r.Context(), u.ID, owner)
				if err != nil {
					g.logger.WithError(err).WithField("user_id", u.ID).Error("relationship check failed")
					g.denyPermission(w, r, u, "ownership", "relationship_error", "Access denied", required)
					return
				}
				if !linked {
					g.denyPermission(w, r, u, "ownership", "no_relationship", "Access denied", required)
					return
				}
				g.metrics.RecordDecision("ownership", true, "care_relationship")
				g.logger.WithFields(map[string]interface{}{
					"user_id":  u.ID,
					"owner_id": owner,
				}).Warn("professional accessed patient resource")
				g.recorder.Record(r.Context(), g.event(r, u, audit.ActionOwnershipBypass, audit.RiskMedium).
					With("owner_id", owner))
			default:
				g.denyPermission(w, r, u, "ownership", "not_owner", "Access denied", required)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TimeWindow bounds the hours and weekdays a permission may be used.
// StartHour <= hour < EndHour; a StartHour after EndHour wraps past
// midnight. Empty Days means every day.
type TimeWindow struct {
	StartHour int
	EndHour   int
	Days      []time.Weekday
	// Location defaults to the server's local time zone
	Location *time.Location
}

// Contains reports whether t falls inside the window
func (tw TimeWindow) Contains(t time.Time) bool {
	loc := tw.Location
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)

	if len(tw.Days) > 0 {
		dayOK := false
		for _, d := range tw.Days {
			if t.Weekday() == d {
				dayOK = true
				break
			}
		}
		if !dayOK {
			return false
		}
	}

	h := t.Hour()
	if tw.StartHour <= tw.EndHour {
		return h >= tw.StartHour && h < tw.EndHour
	}
	return h >= tw.StartHour || h < tw.EndHour
}

// RequireTimeBasedPermission refuses requests outside window, then applies
// the permission rule
func (g *Guard) RequireTimeBasedPermission(window TimeWindow, rule PermissionRule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := currentUser(w, r)
			if u == nil {
				return
			}
			if !window.Contains(g.now()) {
				g.denyPermission(w, r, u, "time_window", "outside_window", "outside permitted time window", rule.Permissions)
				return
			}
			if !g.allowPermission(w, r, u, "time_window", rule) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireEndpointPermission looks up the request's method and path in the
// model's endpoint rules. Any one listed permission suffices, and a rule
// with no permissions admits every authenticated user.
func (g *Guard) RequireEndpointPermission() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := currentUser(w, r)
			if u == nil {
				return
			}

			perms, res := g.model.EndpointPermissions(r.Method, r.URL.Path)
			switch res {
			case ResolutionDefaultAllow:
				g.metrics.RecordDecision("endpoint", true, string(res))
			case ResolutionDefaultDeny:
				g.denyPermission(w, r, u, "endpoint", string(res), "No permission rule for endpoint", nil)
				return
			default:
				if !g.model.Check(u.Role, perms, false) {
					g.denyPermission(w, r, u, "endpoint", string(res), "Insufficient permissions", perms)
					return
				}
				g.metrics.RecordDecision("endpoint", true, string(res))
			}
			next.ServeHTTP(w, r)
		})
	}
}
