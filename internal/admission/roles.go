package admission

import "slices"

// Role is the tier a user is resolved to for a single request.
type Role string

const (
	RoleAdmin    Role = "admin"
	RolePremium  Role = "premium"
	RoleStandard Role = "standard"
)

// Limits holds the per-role concurrency widths.
type Limits struct {
	Admin    int
	Premium  int
	Standard int
}

// DefaultCapacity is the width every role resolves to out of the box.
const DefaultCapacity = 3

// DefaultLimits returns Limits with every role at DefaultCapacity.
func DefaultLimits() Limits {
	return Limits{Admin: DefaultCapacity, Premium: DefaultCapacity, Standard: DefaultCapacity}
}

// RoleOf resolves the role of userID. Admin membership wins over premium.
func RoleOf(userID int64, premium bool, admins []int64) Role {
	if slices.Contains(admins, userID) {
		return RoleAdmin
	}
	if premium {
		return RolePremium
	}
	return RoleStandard
}

// Capacity maps role to its concurrency width. Widths below one are raised
// to one so a misconfigured tier can never wedge its users.
func Capacity(role Role, limits Limits) int {
	var width int
	switch role {
	case RoleAdmin:
		width = limits.Admin
	case RolePremium:
		width = limits.Premium
	default:
		width = limits.Standard
	}
	if width < 1 {
		return 1
	}
	return width
}
