package rbac

import (
	"fmt"
	"strings"
)

// Resource is a billing capability area.
type Resource string

const (
	ResourceUsage    Resource = "usage"
	ResourceBilling  Resource = "billing"
	ResourceInvoices Resource = "invoices"
	ResourceCoupons  Resource = "coupons"
	ResourcePlans    Resource = "plans"
	ResourceAccounts Resource = "accounts"
	ResourceJobs     Resource = "jobs"
)

// Level is an ordered access level.
type Level int

const (
	LevelNone Level = iota
	LevelView
	LevelEdit
	LevelAdmin
)

func (l Level) String() string {
	switch l {
	case LevelView:
		return "view"
	case LevelEdit:
		return "edit"
	case LevelAdmin:
		return "admin"
	default:
		return "none"
	}
}

// Role is a tenant membership role, or the platform super admin.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleWorker     Role = "worker"
	RoleViewer     Role = "viewer"
	RoleSuperAdmin Role = "super_admin"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := grants[r]; !ok {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

// Principal is the authenticated caller. Identity is established upstream;
// this service only authorizes.
type Principal struct {
	UserID    string
	Role      Role
	CompanyID int64
}

// IsSuperAdmin reports whether the principal may act across tenants.
func (p *Principal) IsSuperAdmin() bool {
	return p != nil && p.Role == RoleSuperAdmin
}

// Actor renders the principal for the billing event log.
func (p *Principal) Actor() string {
	if p == nil {
		return ""
	}
	if p.UserID == "" {
		return string(p.Role)
	}
	return string(p.Role) + ":" + p.UserID
}
