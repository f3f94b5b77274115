package auth

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermMatrixRead      Permission = "matrix:read"
	PermMatrixOperate   Permission = "matrix:operate"
	PermMatrixConfigure Permission = "matrix:configure"
	PermAuditRead       Permission = "audit:read"
	PermSystemAdmin     Permission = "system:admin"
	PermSystemDangerous Permission = "system:dangerous"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RolePanel: {
		PermMatrixRead,
		PermMatrixOperate,
	},
	RoleUser: {
		PermMatrixRead,
		PermMatrixOperate,
	},
	RoleAdmin: {
		PermMatrixRead,
		PermMatrixOperate,
		PermMatrixConfigure,
		PermAuditRead,
		PermSystemAdmin,
	},
	RoleOwner: {
		PermMatrixRead,
		PermMatrixOperate,
		PermMatrixConfigure,
		PermAuditRead,
		PermSystemAdmin,
		PermSystemDangerous,
	},
}

// operateCommands are the everyday commands a panel or user may send.
var operateCommands = map[string]struct{}{
	"switch":        {},
	"switch_all":    {},
	"preset_recall": {},
	"power":         {},
	"cec":           {},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}

// CommandPermission returns the permission needed to run a matrix command.
// Routing, presets, power and CEC are everyday operation; reboot is
// dangerous; everything else changes installer settings.
func CommandPermission(command string) Permission {
	if _, ok := operateCommands[command]; ok {
		return PermMatrixOperate
	}
	if command == "reboot" {
		return PermSystemDangerous
	}
	return PermMatrixConfigure
}
