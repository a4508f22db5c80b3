package rbac

// grants is the complete access table. A missing resource means LevelNone.
var grants = map[Role]map[Resource]Level{
	RoleOwner: {
		ResourceUsage:    LevelView,
		ResourceBilling:  LevelView,
		ResourceInvoices: LevelView,
		ResourceCoupons:  LevelEdit,
		ResourcePlans:    LevelEdit,
	},
	RoleAdmin: {
		ResourceUsage:    LevelView,
		ResourceBilling:  LevelView,
		ResourceInvoices: LevelView,
		ResourceCoupons:  LevelEdit,
		ResourcePlans:    LevelEdit,
	},
	RoleManager: {
		ResourceUsage: LevelView,
	},
	RoleWorker: {},
	RoleViewer: {
		ResourceUsage:    LevelView,
		ResourceBilling:  LevelView,
		ResourceInvoices: LevelView,
	},
	RoleSuperAdmin: {
		ResourceUsage:    LevelAdmin,
		ResourceBilling:  LevelAdmin,
		ResourceInvoices: LevelAdmin,
		ResourceCoupons:  LevelAdmin,
		ResourcePlans:    LevelAdmin,
		ResourceAccounts: LevelAdmin,
		ResourceJobs:     LevelAdmin,
	},
}

// Granted returns the level a role holds on a resource.
func Granted(role Role, resource Resource) Level {
	return grants[role][resource]
}

// Can reports whether role holds at least required on resource.
func Can(role Role, resource Resource, required Level) bool {
	return Granted(role, resource) >= required
}
