package rbac

import (
	"github.com/platinummonkey/carebridge/pkg/users"
)

// Permission is a "resource:action" grant
type Permission string

// PermissionAll satisfies every permission check
const PermissionAll Permission = "system:all"

const (
	PermissionProfileRead        Permission = "profile:read"
	PermissionProfileUpdate      Permission = "profile:update"
	PermissionAppointmentsRead   Permission = "appointments:read"
	PermissionAppointmentsCreate Permission = "appointments:create"
	PermissionAppointmentsCancel Permission = "appointments:cancel"
	PermissionProfessionalsRead  Permission = "professionals:read"

	PermissionAvailabilityManage  Permission = "availability:manage"
	PermissionPatientsRead        Permission = "patients:read"
	PermissionMedicalRecordsRead  Permission = "medical_records:read"
	PermissionMedicalRecordsWrite Permission = "medical_records:write"

	PermissionUsersReadAny        Permission = "users:read_any"
	PermissionUsersManage         Permission = "users:manage"
	PermissionProfessionalsVerify Permission = "professionals:verify"
	PermissionAuditRead           Permission = "audit:read"

	PermissionAuditManage Permission = "audit:manage"
)

func permissionStrings(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

func roleStrings(roles []users.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// RoleDefinition is one node of the hierarchy
type RoleDefinition struct {
	Inherits    []users.Role `yaml:"inherits,omitempty" json:"inherits,omitempty"`
	Permissions []Permission `yaml:"permissions" json:"permissions"`
}

// Hierarchy maps each role to its definition
type Hierarchy map[users.Role]RoleDefinition

// DefaultHierarchy returns the built-in marketplace roles
func DefaultHierarchy() Hierarchy {
	return Hierarchy{
		users.RolePatient: {
			Permissions: []Permission{
				PermissionProfileRead,
				PermissionProfileUpdate,
				PermissionAppointmentsRead,
				PermissionAppointmentsCreate,
				PermissionAppointmentsCancel,
				PermissionProfessionalsRead,
			},
		},
		users.RoleProfessional: {
			Inherits: []users.Role{users.RolePatient},
			Permissions: []Permission{
				PermissionAvailabilityManage,
				PermissionPatientsRead,
				PermissionMedicalRecordsRead,
				PermissionMedicalRecordsWrite,
			},
		},
		users.RoleAdmin: {
			Inherits: []users.Role{users.RoleProfessional},
			Permissions: []Permission{
				PermissionUsersReadAny,
				PermissionUsersManage,
				PermissionProfessionalsVerify,
				PermissionAuditRead,
			},
		},
		users.RoleSuperAdmin: {
			Inherits:    []users.Role{users.RoleAdmin},
			Permissions: []Permission{PermissionAll, PermissionAuditManage},
		},
	}
}
