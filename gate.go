package goGuard

import "slices"

// Gate is a predicate over the store-authoritative role.
type Gate func(role string) bool

// roleRank orders the built-in roles. Unknown roles rank below user.
var roleRank = map[string]int{
	RoleUser:        1,
	RoleAdmin:       2,
	RoleMasterAdmin: 3,
}

// AnyAuthenticated admits every subject that reached the role check.
func AnyAuthenticated() Gate {
	return func(string) bool { return true }
}

// AdminOrHigher admits admin and master_admin.
func AdminOrHigher() Gate {
	return func(role string) bool { return roleRank[role] >= roleRank[RoleAdmin] }
}

// MasterAdminOnly admits master_admin.
func MasterAdminOnly() Gate {
	return func(role string) bool { return role == RoleMasterAdmin }
}

// RequireRoles admits exactly the listed roles.
func RequireRoles(roles ...string) Gate {
	allowed := slices.Clone(roles)
	return func(role string) bool { return slices.Contains(allowed, role) }
}

// AllOf admits a role only if every gate does. With no gates it admits everything.
func AllOf(gates ...Gate) Gate {
	return func(role string) bool {
		for _, g := range gates {
			if g != nil && !g(role) {
				return false
			}
		}
		return true
	}
}

// AnyOf admits a role if at least one gate does. With no gates it admits nothing.
func AnyOf(gates ...Gate) Gate {
	return func(role string) bool {
		for _, g := range gates {
			if g != nil && g(role) {
				return true
			}
		}
		return false
	}
}
