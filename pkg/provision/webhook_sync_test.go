package provision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/carebridge/pkg/apperrors"
	"github.com/platinummonkey/carebridge/pkg/audit"
	"github.com/platinummonkey/carebridge/pkg/users"
)

func TestUpsertFromProvider_CreateThenUpdate(t *testing.T) {
	store := users.NewMemoryStore()
	events := audit.NewMemoryStore()
	engine := NewEngine(store, newFakeProfiles(), audit.SyncRecorder{Sink: events})
	ctx := context.Background()

	p := alice()
	p.Role = "professional"
	u, created, err := engine.UpsertFromProvider(ctx, p)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, users.StatusPendingValidation, u.Status)

	updated := alice()
	updated.Email = "alice@wonderland.example"
	updated.Role = "patient"
	u, created, err = engine.UpsertFromProvider(ctx, updated)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "alice@wonderland.example", u.Email)
	assert.Equal(t, users.RoleProfessional, u.Role, "webhook updates never change the role")
	assert.Equal(t, users.StatusPendingValidation, u.Status)

	_, err = store.GetProfessional(ctx, "user_alice")
	assert.NoError(t, err)

	assert.Len(t, eventsOf(events, audit.ActionUserSynced), 1)
	assert.Len(t, eventsOf(events, audit.ActionUserUpdated), 1)
}

func TestUpsertFromProvider_Idempotent(t *testing.T) {
	store := users.NewMemoryStore()
	engine := NewEngine(store, newFakeProfiles(), nil)

	for i := 0; i < 3; i++ {
		_, _, err := engine.UpsertFromProvider(context.Background(), alice())
		require.NoError(t, err)
	}
	nUsers, _, nPatients := store.Counts()
	assert.Equal(t, 1, nUsers)
	assert.Equal(t, 1, nPatients)

	_, _, err := engine.UpsertFromProvider(context.Background(), nil)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestDeleteFromProvider(t *testing.T) {
	store := users.NewMemoryStore()
	events := audit.NewMemoryStore()
	engine := NewEngine(store, newFakeProfiles(), audit.SyncRecorder{Sink: events})
	ctx := context.Background()

	_, _, err := engine.UpsertFromProvider(ctx, alice())
	require.NoError(t, err)

	require.NoError(t, engine.DeleteFromProvider(ctx, "user_alice"))
	nUsers, nPros, nPatients := store.Counts()
	assert.Zero(t, nUsers+nPros+nPatients)

	deleted := eventsOf(events, audit.ActionUserDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, audit.RiskHigh, deleted[0].RiskLevel)

	err = engine.DeleteFromProvider(ctx, "user_alice")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestSelectRole(t *testing.T) {
	store := users.NewMemoryStore()
	events := audit.NewMemoryStore()
	engine := NewEngine(store, newFakeProfiles(), audit.SyncRecorder{Sink: events})
	ctx := context.Background()

	_, _, err := engine.UpsertFromProvider(ctx, alice())
	require.NoError(t, err)

	u, err := engine.SelectRole(ctx, "user_alice", users.RoleProfessional, RoleDetails{LicenseNumber: "MD-123", Specialty: "cardiology"})
	require.NoError(t, err)
	assert.Equal(t, users.RoleProfessional, u.Role)
	assert.Equal(t, users.StatusPendingValidation, u.Status)

	_, nPros, nPatients := store.Counts()
	assert.Equal(t, 1, nPros)
	assert.Equal(t, 0, nPatients)
	pro, err := store.GetProfessional(ctx, "user_alice")
	require.NoError(t, err)
	assert.Equal(t, "MD-123", pro.LicenseNumber)

	_, err = engine.SelectRole(ctx, "user_alice", users.RoleProfessional, RoleDetails{})
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))

	_, err = engine.SelectRole(ctx, "user_alice", users.RoleAdmin, RoleDetails{})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	_, err = engine.SelectRole(ctx, "user_ghost", users.RolePatient, RoleDetails{})
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	selected := eventsOf(events, audit.ActionRoleSelected)
	require.Len(t, selected, 1)
	assert.Equal(t, "patient", selected[0].Details["from"])
	assert.Equal(t, "professional", selected[0].Details["to"])
}
