package provision

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/carebridge/pkg/apperrors"
	"github.com/platinummonkey/carebridge/pkg/audit"
	"github.com/platinummonkey/carebridge/pkg/identity"
	"github.com/platinummonkey/carebridge/pkg/observability"
	"github.com/platinummonkey/carebridge/pkg/users"
)

// MsgSyncFailed is returned to clients when a first-login sync fails
const MsgSyncFailed = "user not found and auto-sync failed"

// Sync sources used for metrics and audit details
const (
	SourceAuth    = "auth"
	SourceWebhook = "webhook"
)

// RoleDetails carries the optional fields collected at role selection
type RoleDetails struct {
	LicenseNumber string `json:"license_number,omitempty"`
	Specialty     string `json:"specialty,omitempty"`
}

// Engine synchronizes provider identities into the local user store
type Engine struct {
	store    users.Store
	profiles identity.ProfileFetcher
	recorder audit.Recorder
	group    singleflight.Group
	validate bool
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// Option configures an Engine
type Option func(*Engine)

// WithValidation runs ValidateConsistency after each first-login sync
func WithValidation(enabled bool) Option {
	return func(e *Engine) { e.validate = enabled }
}

// WithObservability sets the logger and metrics
func WithObservability(logger *observability.Logger, metrics *observability.Metrics) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger.Component("provision")
		}
		e.metrics = metrics
	}
}

func NewEngine(store users.Store, profiles identity.ProfileFetcher, recorder audit.Recorder, opts ...Option) *Engine {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	e := &Engine{
		store:    store,
		profiles: profiles,
		recorder: recorder,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EnsureLocalUser returns the local user for principalID, creating it from
// the provider profile when it does not exist. Concurrent calls for the
// same id share one sync, and concurrent writers in other processes are
// resolved by the insert conflict clause.
func (e *Engine) EnsureLocalUser(ctx context.Context, principalID string) (*users.User, error) {
	if principalID == "" {
		return nil, apperrors.Validation("principal id is required")
	}

	// the shared sync outlives any one caller's cancellation
	ch := e.group.DoChan(principalID, func() (interface{}, error) {
		return e.ensure(context.WithoutCancel(ctx), principalID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*users.User), nil
	}
}

func (e *Engine) ensure(ctx context.Context, id string) (u *users.User, err error) {
	ctx, span := observability.Tracer().Start(ctx, "Engine.EnsureLocalUser")
	defer func() { observability.EndSpan(span, err) }()

	var created bool
	err = e.store.WithTx(ctx, func(tx users.Tx) error {
		existing, err := tx.GetByID(ctx, id)
		if err == nil {
			u = existing
			return nil
		}
		if !errors.Is(err, users.ErrNotFound) {
			return err
		}

		profile, err := e.profiles.GetUserProfile(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to fetch provider profile: %w", err)
		}
		// the provider is authoritative for everything but the id
		profile.ID = id

		candidate := userFromProfile(profile)
		inserted, err := tx.InsertUser(ctx, candidate)
		if err != nil {
			return err
		}
		if !inserted {
			u, err = tx.GetByID(ctx, id)
			return err
		}

		if err := insertProfileRow(ctx, tx, id, candidate.Role, RoleDetails{}); err != nil {
			return err
		}
		u, created = candidate, true
		return nil
	})

	if err != nil {
		e.metrics.RecordSync(SourceAuth, "failure")
		e.logger.WithError(err).WithField("user_id", id).Error("auto-sync failed")
		e.recorder.Record(ctx, audit.NewEvent(audit.ActionUserSyncFailed, audit.RiskHigh).
			On(audit.ResourceUser, id).
			With("source", SourceAuth).
			Failed(err))
		return nil, apperrors.Authentication(MsgSyncFailed).Wrap(err)
	}

	if !created {
		return u, nil
	}

	e.metrics.RecordSync(SourceAuth, "created")
	e.logger.WithFields(map[string]interface{}{
		"user_id": id,
		"role":    string(u.Role),
	}).Info("local user created from provider profile")
	e.recorder.Record(ctx, audit.NewEvent(audit.ActionUserSynced, audit.RiskLow).
		ForUser(id).
		On(audit.ResourceUser, id).
		With("source", SourceAuth).
		With("role", string(u.Role)))

	if e.validate {
		if _, verr := e.ValidateConsistency(ctx, id); verr != nil {
			e.logger.WithError(verr).WithField("user_id", id).Warn("consistency check failed")
		}
	}
	return u, nil
}
