package roles

// Capability keys grantable independently of role power.
const (
	CapManageUsers   = "manage_users"
	CapManageRoles   = "manage_roles"
	CapManagePricing = "manage_pricing"
	CapManageEntries = "manage_entries"
	CapModerateAlco  = "moderate_alco"
	CapModeratePetra = "moderate_petra"
	CapViewAudit     = "view_audit"
)

// BuiltinCapabilities lists every capability the service understands.
var BuiltinCapabilities = []string{
	CapManageUsers,
	CapManageRoles,
	CapManagePricing,
	CapManageEntries,
	CapModerateAlco,
	CapModeratePetra,
	CapViewAudit,
}
