package rbac

// Role constants
const (
	RoleEmployee = "employee"
	RoleManager  = "manager"
	RoleAdmin    = "admin"
)

// Permission constants
const (
	PermManageOwnConsent = "manage_own_consent"
	PermRecordLocation   = "record_location"
	PermViewLocations    = "view_locations"
	PermExportLocations  = "export_locations"
	PermViewConsentList  = "view_consent_list"
	PermViewAudit        = "view_audit"
)

// RolePermissions defines what each role can do.
var RolePermissions = map[string][]string{
	RoleEmployee: {
		PermManageOwnConsent, PermRecordLocation,
	},
	RoleManager: {
		PermManageOwnConsent, PermRecordLocation,
		PermViewLocations, PermExportLocations, PermViewConsentList,
		// Manager CANNOT: PermViewAudit
	},
	RoleAdmin: {
		PermManageOwnConsent, PermRecordLocation,
		PermViewLocations, PermExportLocations, PermViewConsentList,
		PermViewAudit,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// IsOperator reports whether role may read other subjects' location data.
func IsOperator(role string) bool {
	return HasPermission(role, PermViewLocations)
}
