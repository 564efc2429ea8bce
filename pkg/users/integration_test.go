//go:build integration

package users

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/carebridge/pkg/database"
)

func startPostgres(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("carebridge"),
		postgres.WithUsername("carebridge"),
		postgres.WithPassword("carebridge"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.Open(database.Config{URL: dsn, MaxConns: 10, Timeout: 10 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPostgresStore_ConcurrentInsertSingleRow(t *testing.T) {
	db := startPostgres(t)
	store := NewPostgresStore(db)
	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx))

	const writers = 8
	var wg sync.WaitGroup
	created := make(chan bool, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithTx(ctx, func(tx Tx) error {
				inserted, err := tx.InsertUser(ctx, &User{ID: "user_race", Email: "r@example.com", Role: RolePatient, Status: StatusActive})
				if err != nil {
					return err
				}
				created <- inserted
				if inserted {
					return tx.InsertPatient(ctx, &Patient{UserID: "user_race"})
				}
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	close(created)

	wins := 0
	for c := range created {
		if c {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	var users, patients int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE id = 'user_race'`).Scan(&users))
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patients WHERE user_id = 'user_race'`).Scan(&patients))
	assert.Equal(t, 1, users)
	assert.Equal(t, 1, patients)
}
