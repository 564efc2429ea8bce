package users

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_InsertIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var first, second bool
	require.NoError(t, store.WithTx(ctx, func(tx Tx) error {
		var err error
		first, err = tx.InsertUser(ctx, &User{ID: "user_1", Email: "a@example.com", Role: RolePatient, Status: StatusActive})
		return err
	}))
	require.NoError(t, store.WithTx(ctx, func(tx Tx) error {
		var err error
		second, err = tx.InsertUser(ctx, &User{ID: "user_1", Email: "other@example.com", Role: RoleAdmin, Status: StatusActive})
		return err
	}))

	assert.True(t, first)
	assert.False(t, second)

	u, err := store.GetByID(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", u.Email)
	assert.Equal(t, RolePatient, u.Role)
}

func TestMemoryStore_RollbackRestoresSnapshot(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.InsertUser(ctx, &User{ID: "user_1", Role: RolePatient, Status: StatusActive}); err != nil {
			return err
		}
		if err := tx.InsertPatient(ctx, &Patient{UserID: "user_1"}); err != nil {
			return err
		}
		return errors.New("provider fetch failed")
	})
	require.Error(t, err)

	_, err = store.GetByID(ctx, "user_1")
	assert.ErrorIs(t, err, ErrNotFound)
	u, p, pa := store.Counts()
	assert.Equal(t, [3]int{0, 0, 0}, [3]int{u, p, pa})
}

func TestMemoryStore_RollbackOnPanic(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	assert.Panics(t, func() {
		store.WithTx(ctx, func(tx Tx) error {
			tx.InsertUser(ctx, &User{ID: "user_1"})
			panic("boom")
		})
	})

	_, err := store.GetByID(ctx, "user_1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_DeleteUserCascades(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.WithTx(ctx, func(tx Tx) error {
		tx.InsertUser(ctx, &User{ID: "pro_1", Role: RoleProfessional, Status: StatusPendingValidation})
		tx.InsertUser(ctx, &User{ID: "pat_1", Role: RolePatient, Status: StatusActive})
		return tx.InsertProfessional(ctx, &Professional{UserID: "pro_1"})
	}))
	require.NoError(t, store.AddCareRelationship(ctx, "pro_1", "pat_1"))

	var deleted bool
	require.NoError(t, store.WithTx(ctx, func(tx Tx) error {
		var err error
		deleted, err = tx.DeleteUser(ctx, "pro_1")
		return err
	}))

	assert.True(t, deleted)
	_, err := store.GetProfessional(ctx, "pro_1")
	assert.ErrorIs(t, err, ErrNotFound)
	linked, err := store.HasCareRelationship(ctx, "pro_1", "pat_1")
	require.NoError(t, err)
	assert.False(t, linked)
}

func TestRoleAndStatusPredicates(t *testing.T) {
	assert.True(t, RoleSuperAdmin.Valid())
	assert.False(t, Role("doctor").Valid())
	assert.True(t, RoleProfessional.Selectable())
	assert.False(t, RoleAdmin.Selectable())
	assert.True(t, RoleSuperAdmin.IsAdmin())
	assert.False(t, StatusSuspended.CanAuthenticate())
	assert.False(t, StatusInactive.CanAuthenticate())
	assert.True(t, StatusPendingValidation.CanAuthenticate())
}
