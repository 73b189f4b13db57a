package rbac

// Permissions for field operations.
const (
	PermissionUpdateMilestone = "milestone:update"
	PermissionBulkUpdate      = "milestone:bulk_update"
	PermissionResolveConflict = "conflict:resolve"
)

// Field roles carried in the JWT role claim.
const (
	RoleViewer  = "viewer"
	RoleCraft   = "craft"
	RoleForeman = "foreman"
	RoleAdmin   = "admin"
)

var rolePermissions = map[string][]string{
	RoleViewer: {},
	RoleCraft: {
		PermissionUpdateMilestone,
	},
	RoleForeman: {
		PermissionUpdateMilestone,
		PermissionBulkUpdate,
		PermissionResolveConflict,
	},
	RoleAdmin: {
		PermissionUpdateMilestone,
		PermissionBulkUpdate,
		PermissionResolveConflict,
	},
}

// HasPermission reports whether the role grants the permission. An
// empty role defaults to craft so pre-role tokens keep working.
func HasPermission(role, permission string) bool {
	if role == "" {
		role = RoleCraft
	}
	permissions, ok := rolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission returns a PermissionDeniedError when the role lacks
// the permission.
func CheckPermission(role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{Role: role, Permission: permission}
	}
	return nil
}

type PermissionDeniedError struct {
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}
