package model

import "strings"

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionAttemptsTake allows starting, answering and submitting own attempts.
	PermissionAttemptsTake Permission = "attempts:take"

	// PermissionAttemptsAbandon allows closing any attempt without grading.
	PermissionAttemptsAbandon Permission = "attempts:abandon"

	// PermissionGradingRead allows viewing grade records of any attempt.
	PermissionGradingRead Permission = "grading:read"

	// PermissionGradingWrite allows recording manual scores and finalizing attempts.
	PermissionGradingWrite Permission = "grading:write"

	// PermissionReportsRead allows viewing analytics and live monitors.
	PermissionReportsRead Permission = "reports:read"

	// PermissionCatalogRefresh allows reloading cached assessment definitions.
	PermissionCatalogRefresh Permission = "catalog:refresh"

	// PermissionSystemRead allows viewing worker queues and runtime metrics.
	PermissionSystemRead Permission = "system:read"
)

// Role is the coarse identity-provider role of a caller.
type Role string

const (
	RoleLearner Role = "learner"
	RoleGrader  Role = "grader"
	RoleAdmin   Role = "admin"
)

// RolePermissions maps each role to the permissions it grants.
var RolePermissions = map[Role][]Permission{
	RoleLearner: {
		PermissionAttemptsTake,
	},
	RoleGrader: {
		PermissionGradingRead,
		PermissionGradingWrite,
		PermissionAttemptsAbandon,
		PermissionReportsRead,
	},
	RoleAdmin: {
		PermissionGradingRead,
		PermissionGradingWrite,
		PermissionAttemptsAbandon,
		PermissionReportsRead,
		PermissionCatalogRefresh,
		PermissionSystemRead,
	},
}

// PermissionsFor returns the permission codes of a role as strings.
func PermissionsFor(role Role) []string {
	perms := RolePermissions[role]
	codes := make([]string, len(perms))
	for i, p := range perms {
		codes[i] = string(p)
	}
	return codes
}

// ParseRole maps identity-provider role names onto engine roles.
// Unknown names fall back to learner.
func ParseRole(name string) Role {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "admin", "administrator":
		return RoleAdmin
	case "grader", "teacher", "instructor", "proctor":
		return RoleGrader
	default:
		return RoleLearner
	}
}
