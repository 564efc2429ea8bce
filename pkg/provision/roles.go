package provision

import (
	"context"
	"strings"

	"github.com/platinummonkey/carebridge/pkg/identity"
	"github.com/platinummonkey/carebridge/pkg/users"
)

// MapRole converts the provider's public_metadata role to a local role.
// Empty and unknown values map to patient.
func MapRole(providerRole string) users.Role {
	role := users.Role(strings.ToLower(strings.TrimSpace(providerRole)))
	if role.Valid() {
		return role
	}
	return users.RolePatient
}

// StatusFor returns the initial status for role. Professionals wait for
// license validation.
func StatusFor(role users.Role) users.Status {
	if role == users.RoleProfessional {
		return users.StatusPendingValidation
	}
	return users.StatusActive
}

func userFromProfile(p *identity.Profile) *users.User {
	role := MapRole(p.Role)
	return &users.User{
		ID:          p.ID,
		Email:       p.Email,
		DisplayName: p.DisplayName(),
		Role:        role,
		Status:      StatusFor(role),
	}
}

// insertProfileRow creates the role-specific row. Admin roles have none.
func insertProfileRow(ctx context.Context, tx users.Tx, userID string, role users.Role, details RoleDetails) error {
	switch role {
	case users.RoleProfessional:
		return tx.InsertProfessional(ctx, &users.Professional{
			UserID:        userID,
			LicenseNumber: details.LicenseNumber,
			Specialty:     details.Specialty,
		})
	case users.RolePatient:
		return tx.InsertPatient(ctx, &users.Patient{UserID: userID})
	}
	return nil
}

// deleteProfileRows removes both role-specific rows
func deleteProfileRows(ctx context.Context, tx users.Tx, userID string) error {
	if err := tx.DeleteProfessional(ctx, userID); err != nil {
		return err
	}
	return tx.DeletePatient(ctx, userID)
}
