package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/carebridge/pkg/apperrors"
	"github.com/platinummonkey/carebridge/pkg/audit"
	"github.com/platinummonkey/carebridge/pkg/auth"
	"github.com/platinummonkey/carebridge/pkg/httputil"
	"github.com/platinummonkey/carebridge/pkg/identity"
	"github.com/platinummonkey/carebridge/pkg/observability"
	"github.com/platinummonkey/carebridge/pkg/provision"
	"github.com/platinummonkey/carebridge/pkg/users"
)

// Client-facing messages
const (
	MsgAuthRequired    = "Authentication required"
	MsgAccountInactive = "Account is not active"
)

// UserResolver loads the local user for a principal. EnsureLocalUser
// creates it on first login.
type UserResolver interface {
	GetByID(ctx context.Context, id string) (*users.User, error)
}

// LocalUserSyncer provisions a local user on first login
type LocalUserSyncer interface {
	EnsureLocalUser(ctx context.Context, principalID string) (*users.User, error)
}

// TokenAuthenticator verifies bearer tokens
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string, meta audit.RequestMeta) (*identity.Principal, error)
}

// AuthMiddleware authenticates bearer tokens and attaches the local user
type AuthMiddleware struct {
	authn    TokenAuthenticator
	users    UserResolver
	syncer   LocalUserSyncer
	recorder audit.Recorder
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// AuthOption configures an AuthMiddleware
type AuthOption func(*AuthMiddleware)

// WithAuthObservability sets the logger and metrics
func WithAuthObservability(logger *observability.Logger, metrics *observability.Metrics) AuthOption {
	return func(m *AuthMiddleware) {
		if logger != nil {
			m.logger = logger.Component("middleware.auth")
		}
		m.metrics = metrics
	}
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(authn TokenAuthenticator, resolver UserResolver, syncer LocalUserSyncer, recorder audit.Recorder, opts ...AuthOption) *AuthMiddleware {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	m := &AuthMiddleware{
		authn:    authn,
		users:    resolver,
		syncer:   syncer,
		recorder: recorder,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RequireAuth rejects requests without a valid token and an active local user
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta := audit.MetaFromRequest(r)

		token, ok := bearerToken(r)
		if !ok {
			reason := "missing_token"
			if r.Header.Get("Authorization") != "" {
				reason = "malformed_header"
			}
			m.metrics.RecordAuthFailure(reason)
			m.recorder.Record(r.Context(), audit.NewEvent(audit.ActionLoginFailed, audit.RiskMedium).
				On(audit.ResourceSession, "").
				WithMeta(meta).
				With("reason", reason).
				With("path", r.URL.Path).
				Failed(nil))
			httputil.WriteUnauthorized(w, MsgAuthRequired)
			return
		}

		ac, err := m.resolve(r.Context(), token, meta)
		if err != nil {
			m.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithAuthContext(r.Context(), ac)))
	})
}

// OptionalAuth attaches the user when a valid token is present and passes
// anonymous requests through. Invalid tokens are still rejected.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		ac, err := m.resolve(r.Context(), token, audit.MetaFromRequest(r))
		if err != nil {
			m.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithAuthContext(r.Context(), ac)))
	})
}

func (m *AuthMiddleware) resolve(ctx context.Context, token string, meta audit.RequestMeta) (*auth.AuthContext, error) {
	principal, err := m.authn.Authenticate(ctx, token, meta)
	if err != nil {
		return nil, err
	}

	user, err := m.users.GetByID(ctx, principal.Subject)
	if errors.Is(err, users.ErrNotFound) && m.syncer != nil {
		user, err = m.syncer.EnsureLocalUser(ctx, principal.Subject)
	}
	switch {
	case err == nil:
	case apperrors.KindOf(err) != apperrors.KindInternal:
		return nil, err
	case errors.Is(err, users.ErrNotFound):
		return nil, apperrors.Authentication(provision.MsgSyncFailed).Wrap(err)
	default:
		m.logger.WithError(err).WithField("subject", principal.Subject).Error("failed to load local user")
		return nil, err
	}

	if !user.Status.CanAuthenticate() {
		m.metrics.RecordAuthFailure("inactive_account")
		m.recorder.Record(ctx, audit.NewEvent(audit.ActionLoginFailed, audit.RiskMedium).
			ForUser(user.ID).
			On(audit.ResourceUser, user.ID).
			WithMeta(meta).
			With("reason", "inactive_account").
			With("status", string(user.Status)).
			Failed(nil))
		return nil, apperrors.Authorization(MsgAccountInactive)
	}

	return &auth.AuthContext{Principal: principal, User: user}, nil
}

func (m *AuthMiddleware) writeError(w http.ResponseWriter, err error) {
	if apperrors.KindOf(err) == apperrors.KindInternal {
		httputil.WriteInternalError(w, "Authentication failed")
		return
	}
	httputil.WriteAppError(w, err)
}

// bearerToken extracts the token from "Authorization: Bearer <token>"
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
