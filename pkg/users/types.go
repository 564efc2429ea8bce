// Package users holds the local user model mirrored from the identity
// provider, and its relational stores.
package users

import (
	"context"
	"errors"
	"time"
)

// Role is the marketplace role of a local user
type Role string

const (
	RolePatient      Role = "patient"
	RoleProfessional Role = "professional"
	RoleAdmin        Role = "admin"
	RoleSuperAdmin   Role = "super_admin"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleProfessional, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Selectable reports whether a user may pick r for themselves
func (r Role) Selectable() bool {
	return r == RolePatient || r == RoleProfessional
}

// IsAdmin is true for admin and super_admin
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Status is the lifecycle state of a local user
type Status string

const (
	StatusActive            Status = "active"
	StatusInactive          Status = "inactive"
	StatusPendingValidation Status = "pending_validation"
	StatusSuspended         Status = "suspended"
)

// CanAuthenticate is false for suspended and inactive users
func (s Status) CanAuthenticate() bool {
	return s != StatusSuspended && s != StatusInactive
}

// User is the local mirror of a provider subject. ID is the provider
// subject id.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Professional exists iff the user's role is professional
type Professional struct {
	UserID           string    `json:"user_id"`
	LicenseNumber    string    `json:"license_number,omitempty"`
	Specialty        string    `json:"specialty,omitempty"`
	LicenseVerified  bool      `json:"license_verified"`
	IdentityVerified bool      `json:"identity_verified"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Patient exists iff the user's role is patient
type Patient struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("users: not found")

// Tx is the set of operations available inside one transaction
type Tx interface {
	GetByID(ctx context.Context, id string) (*User, error)
	// InsertUser inserts u unless a row with the same id exists. It reports
	// whether this call created the row.
	InsertUser(ctx context.Context, u *User) (bool, error)
	UpdateIdentity(ctx context.Context, id, email, displayName string) error
	UpdateRoleStatus(ctx context.Context, id string, role Role, status Status) error
	InsertProfessional(ctx context.Context, p *Professional) error
	InsertPatient(ctx context.Context, p *Patient) error
	DeleteProfessional(ctx context.Context, userID string) error
	DeletePatient(ctx context.Context, userID string) error
	GetProfessional(ctx context.Context, userID string) (*Professional, error)
	// DeleteUser reports whether a row was removed
	DeleteUser(ctx context.Context, id string) (bool, error)
}

// Store is the user repository
type Store interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetProfessional(ctx context.Context, userID string) (*Professional, error)
	// WithTx runs fn in a transaction, committing only when fn returns nil
	WithTx(ctx context.Context, fn func(Tx) error) error
	// HasCareRelationship reports whether professionalID is linked to patientID
	HasCareRelationship(ctx context.Context, professionalID, patientID string) (bool, error)
	AddCareRelationship(ctx context.Context, professionalID, patientID string) error
}
