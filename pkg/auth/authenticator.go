package auth

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/carebridge/pkg/apperrors"
	"github.com/platinummonkey/carebridge/pkg/audit"
	"github.com/platinummonkey/carebridge/pkg/authcache"
	"github.com/platinummonkey/carebridge/pkg/identity"
	"github.com/platinummonkey/carebridge/pkg/observability"
)

// MsgInvalidToken is the client-facing message for every verification failure
const MsgInvalidToken = "Invalid or expired token"

// Authenticator verifies bearer tokens with a principal cache in front of
// the identity provider
type Authenticator struct {
	verifier identity.TokenVerifier
	cache    authcache.Store
	recorder audit.Recorder
	group    singleflight.Group
	now      func() time.Time
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// Option configures an Authenticator
type Option func(*Authenticator)

// WithClock overrides time.Now for principal expiry checks
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

// WithObservability sets the logger and metrics
func WithObservability(logger *observability.Logger, metrics *observability.Metrics) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger.Component("auth")
		}
		a.metrics = metrics
	}
}

func NewAuthenticator(verifier identity.TokenVerifier, cache authcache.Store, recorder audit.Recorder, opts ...Option) *Authenticator {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	a := &Authenticator{
		verifier: verifier,
		cache:    cache,
		recorder: recorder,
		now:      time.Now,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate returns the principal for token. Failures are audited and
// returned as authentication errors; they are never retried.
func (a *Authenticator) Authenticate(ctx context.Context, token string, meta audit.RequestMeta) (p *identity.Principal, err error) {
	ctx, span := observability.Tracer().Start(ctx, "Authenticator.Authenticate")
	defer func() { observability.EndSpan(span, err) }()

	key := authcache.Fingerprint(token)

	if cached := a.lookup(ctx, key); cached != nil {
		span.SetAttributes(attribute.Bool("auth.cache_hit", true))
		return cached, nil
	}
	span.SetAttributes(attribute.Bool("auth.cache_hit", false))

	// the shared verification outlives any one caller's cancellation
	ch := a.group.DoChan(key, func() (interface{}, error) {
		return a.verify(context.WithoutCancel(ctx), key, token, meta)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*identity.Principal), nil
	}
}

func (a *Authenticator) lookup(ctx context.Context, key string) *identity.Principal {
	p, ok, err := a.cache.Get(ctx, key)
	if err != nil {
		a.logger.WithError(err).Warn("auth cache lookup failed")
		ok = false
	}
	if ok && p.Expired(a.now()) {
		_ = a.cache.Delete(ctx, key)
		ok = false
	}
	a.metrics.RecordCacheLookup(ok)
	if !ok {
		return nil
	}

	a.logger.WithFields(map[string]interface{}{
		"subject":     p.Subject,
		"fingerprint": key[:8],
	}).Debug("auth cache hit")
	return p
}

func (a *Authenticator) verify(ctx context.Context, key, token string, meta audit.RequestMeta) (*identity.Principal, error) {
	start := a.now()
	p, err := a.verifier.VerifyToken(ctx, token)
	a.metrics.ObserveTokenVerify(time.Since(start))

	if err != nil {
		a.metrics.RecordAuthFailure("invalid_token")
		a.logger.WithError(err).Debug("token verification failed")
		a.recorder.Record(ctx, audit.NewEvent(audit.ActionLoginFailed, audit.RiskMedium).
			On(audit.ResourceSession, "").
			WithMeta(meta).
			With("reason", "invalid_token").
			Failed(err))
		return nil, apperrors.Authentication(MsgInvalidToken).Wrap(err)
	}

	if err := a.cache.Set(ctx, key, p); err != nil {
		a.logger.WithError(err).Warn("failed to cache principal")
	}
	return p, nil
}

// Invalidate drops the cached principal for token
func (a *Authenticator) Invalidate(ctx context.Context, token string) error {
	return a.cache.Delete(ctx, authcache.Fingerprint(token))
}
