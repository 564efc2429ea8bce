package provision

import (
	"context"
	"errors"

	"github.com/platinummonkey/carebridge/pkg/apperrors"
	"github.com/platinummonkey/carebridge/pkg/audit"
	"github.com/platinummonkey/carebridge/pkg/users"
)

// SelectRole switches a user between patient and professional, swapping the
// profile row in the same transaction
func (e *Engine) SelectRole(ctx context.Context, userID string, role users.Role, details RoleDetails) (*users.User, error) {
	if !role.Selectable() {
		return nil, apperrors.Validation("role must be patient or professional")
	}

	var (
		u    *users.User
		from users.Role
	)
	err := e.store.WithTx(ctx, func(tx users.Tx) error {
		current, err := tx.GetByID(ctx, userID)
		if errors.Is(err, users.ErrNotFound) {
			return apperrors.NotFound("user not found")
		}
		if err != nil {
			return err
		}
		if current.Role == role {
			return apperrors.Conflict("role already selected")
		}
		if current.Role.IsAdmin() {
			return apperrors.Validation("administrators cannot select a marketplace role")
		}
		from = current.Role

		if err := deleteProfileRows(ctx, tx, userID); err != nil {
			return err
		}
		if err := insertProfileRow(ctx, tx, userID, role, details); err != nil {
			return err
		}
		if err := tx.UpdateRoleStatus(ctx, userID, role, StatusFor(role)); err != nil {
			return err
		}
		u, err = tx.GetByID(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.recorder.Record(ctx, audit.NewEvent(audit.ActionRoleSelected, audit.RiskLow).
		ForUser(userID).
		On(audit.ResourceUser, userID).
		With("from", string(from)).
		With("to", string(role)))
	return u, nil
}
