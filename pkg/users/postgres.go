package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/carebridge/pkg/database"
)

// PostgresStore implements Store over PostgreSQL
type PostgresStore struct {
	db  *database.DB
	now func() time.Time
}

// NewPostgresStore creates a new PostgreSQL-backed user store
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS professionals (
	user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	license_number TEXT NOT NULL DEFAULT '',
	specialty TEXT NOT NULL DEFAULT '',
	license_verified BOOLEAN NOT NULL DEFAULT FALSE,
	identity_verified BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS patients (
	user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS care_relationships (
	professional_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	patient_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (professional_id, patient_id)
);

CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);
`

// EnsureSchema creates the user tables if they do not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create user tables: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*User, error) {
	return (&pgTx{q: s.db, now: s.now}).GetByID(ctx, id)
}

func (s *PostgresStore) GetProfessional(ctx context.Context, userID string) (*Professional, error) {
	return (&pgTx{q: s.db, now: s.now}).GetProfessional(ctx, userID)
}

// WithTx runs fn in a single database transaction
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	return s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		return fn(&pgTx{q: tx, now: s.now})
	})
}

func (s *PostgresStore) HasCareRelationship(ctx context.Context, professionalID, patientID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM care_relationships
			WHERE professional_id = $1 AND patient_id = $2
		)
	`, professionalID, patientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check care relationship: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) AddCareRelationship(ctx context.Context, professionalID, patientID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO care_relationships (professional_id, patient_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (professional_id, patient_id) DO NOTHING
	`, professionalID, patientID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add care relationship: %w", err)
	}
	return nil
}

// pgTx runs user queries against either the pool or an open transaction
type pgTx struct {
	q   database.Querier
	now func() time.Time
}

func (t *pgTx) GetByID(ctx context.Context, id string) (*User, error) {
	u := &User{}
	err := t.q.QueryRowContext(ctx, `
		SELECT id, email, display_name, role, status, created_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (t *pgTx) InsertUser(ctx context.Context, u *User) (bool, error) {
	now := t.now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	result, err := t.q.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, u.ID, u.Email, u.DisplayName, u.Role, u.Status, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert user: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n == 1, nil
}

func (t *pgTx) UpdateIdentity(ctx context.Context, id, email, displayName string) error {
	return t.execOne(ctx, "update user identity", `
		UPDATE users SET email = $1, display_name = $2, updated_at = $3
		WHERE id = $4
	`, email, displayName, t.now().UTC(), id)
}

func (t *pgTx) UpdateRoleStatus(ctx context.Context, id string, role Role, status Status) error {
	return t.execOne(ctx, "update user role", `
		UPDATE users SET role = $1, status = $2, updated_at = $3
		WHERE id = $4
	`, role, status, t.now().UTC(), id)
}

func (t *pgTx) InsertProfessional(ctx context.Context, p *Professional) error {
	now := t.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	_, err := t.q.ExecContext(ctx, `
		INSERT INTO professionals (user_id, license_number, specialty, license_verified, identity_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO NOTHING
	`, p.UserID, p.LicenseNumber, p.Specialty, p.LicenseVerified, p.IdentityVerified, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert professional profile: %w", err)
	}
	return nil
}

func (t *pgTx) InsertPatient(ctx context.Context, p *Patient) error {
	p.CreatedAt = t.now().UTC()

	_, err := t.q.ExecContext(ctx, `
		INSERT INTO patients (user_id, created_at)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, p.UserID, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert patient profile: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteProfessional(ctx context.Context, userID string) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM professionals WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete professional profile: %w", err)
	}
	return nil
}

func (t *pgTx) DeletePatient(ctx context.Context, userID string) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM patients WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete patient profile: %w", err)
	}
	return nil
}

func (t *pgTx) GetProfessional(ctx context.Context, userID string) (*Professional, error) {
	p := &Professional{}
	err := t.q.QueryRowContext(ctx, `
		SELECT user_id, license_number, specialty, license_verified, identity_verified, created_at, updated_at
		FROM professionals WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.LicenseNumber, &p.Specialty, &p.LicenseVerified, &p.IdentityVerified, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get professional profile: %w", err)
	}
	return p, nil
}

func (t *pgTx) DeleteUser(ctx context.Context, id string) (bool, error) {
	result, err := t.q.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return n > 0, nil
}

// execOne runs an UPDATE and maps zero affected rows to ErrNotFound
func (t *pgTx) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	result, err := t.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
