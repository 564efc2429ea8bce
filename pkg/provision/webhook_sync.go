package provision

import (
	"context"
	"errors"

	"github.com/platinummonkey/carebridge/pkg/apperrors"
	"github.com/platinummonkey/carebridge/pkg/audit"
	"github.com/platinummonkey/carebridge/pkg/identity"
	"github.com/platinummonkey/carebridge/pkg/observability"
	"github.com/platinummonkey/carebridge/pkg/users"
)

// UpsertFromProvider applies a user.created or user.updated event. New
// users get a profile row; existing users only have email and display name
// refreshed, so a locally selected role or a pending validation survives.
func (e *Engine) UpsertFromProvider(ctx context.Context, profile *identity.Profile) (u *users.User, created bool, err error) {
	if profile == nil || profile.ID == "" {
		return nil, false, apperrors.Validation("profile id is required")
	}

	ctx, span := observability.Tracer().Start(ctx, "Engine.UpsertFromProvider")
	defer func() { observability.EndSpan(span, err) }()

	err = e.store.WithTx(ctx, func(tx users.Tx) error {
		existing, err := tx.GetByID(ctx, profile.ID)
		switch {
		case errors.Is(err, users.ErrNotFound):
			candidate := userFromProfile(profile)
			inserted, err := tx.InsertUser(ctx, candidate)
			if err != nil {
				return err
			}
			if !inserted {
				// a first-login sync won the race; fall through to an update
				existing, err = tx.GetByID(ctx, profile.ID)
				if err != nil {
					return err
				}
				break
			}
			if err := insertProfileRow(ctx, tx, candidate.ID, candidate.Role, RoleDetails{}); err != nil {
				return err
			}
			u, created = candidate, true
			return nil
		case err != nil:
			return err
		}

		email := profile.Email
		if email == "" {
			email = existing.Email
		}
		if err := tx.UpdateIdentity(ctx, existing.ID, email, profile.DisplayName()); err != nil {
			return err
		}
		u, err = tx.GetByID(ctx, existing.ID)
		return err
	})
	if err != nil {
		e.metrics.RecordSync(SourceWebhook, "failure")
		e.recorder.Record(ctx, audit.NewEvent(audit.ActionUserSyncFailed, audit.RiskHigh).
			On(audit.ResourceUser, profile.ID).
			With("source", SourceWebhook).
			Failed(err))
		return nil, false, err
	}

	action, result := audit.ActionUserUpdated, "updated"
	if created {
		action, result = audit.ActionUserSynced, "created"
	}
	e.metrics.RecordSync(SourceWebhook, result)
	e.recorder.Record(ctx, audit.NewEvent(action, audit.RiskLow).
		ForUser(u.ID).
		On(audit.ResourceUser, u.ID).
		With("source", SourceWebhook))
	return u, created, nil
}

// DeleteFromProvider applies a user.deleted event
func (e *Engine) DeleteFromProvider(ctx context.Context, subjectID string) (err error) {
	if subjectID == "" {
		return apperrors.Validation("subject id is required")
	}

	ctx, span := observability.Tracer().Start(ctx, "Engine.DeleteFromProvider")
	defer func() { observability.EndSpan(span, err) }()

	err = e.store.WithTx(ctx, func(tx users.Tx) error {
		if err := deleteProfileRows(ctx, tx, subjectID); err != nil {
			return err
		}
		removed, err := tx.DeleteUser(ctx, subjectID)
		if err != nil {
			return err
		}
		if !removed {
			return apperrors.NotFound("user not found")
		}
		return nil
	})
	if err != nil {
		if !apperrors.IsKind(err, apperrors.KindNotFound) {
			e.metrics.RecordSync(SourceWebhook, "failure")
		}
		return err
	}

	e.metrics.RecordSync(SourceWebhook, "deleted")
	e.logger.WithField("user_id", subjectID).Info("local user deleted")
	e.recorder.Record(ctx, audit.NewEvent(audit.ActionUserDeleted, audit.RiskHigh).
		On(audit.ResourceUser, subjectID).
		With("source", SourceWebhook))
	return nil
}
