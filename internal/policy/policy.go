// Package policy is the single role-capability table consulted before
// every gated operation, by the HTTP layer and the coordinator alike.
package policy

import "github.com/iliyamo/license-panel/internal/model"

// Operation names a gated capability.
type Operation string

const (
	ViewDashboard Operation = "viewDashboard"
	ViewDevices   Operation = "viewDevices"
	ManageDevices Operation = "manageDevices"
	ViewLogs      Operation = "viewLogs"
	ManageUsers   Operation = "manageUsers"
)

// Operations lists every known operation.
var Operations = []Operation{ViewDashboard, ViewDevices, ManageDevices, ViewLogs, ManageUsers}

// Decision is the outcome of an authorization check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// grants holds only the allowed pairs.  Anything missing is denied.
var grants = map[string]map[Operation]bool{
	model.RoleAdmin: {
		ViewDashboard: true,
		ViewDevices:   true,
		ManageDevices: true,
		ViewLogs:      true,
		ManageUsers:   true,
	},
	model.RoleStaff: {
		ViewDashboard: true,
		ViewDevices:   true,
		ManageDevices: true,
		ViewLogs:      true,
	},
	model.RoleUser: {
		ViewDashboard: true,
		ViewLogs:      true,
	},
}

// Authorize decides whether id may perform op.  A nil identity, an
// unknown role or an unknown operation is always denied.
func Authorize(id *model.Identity, op Operation) Decision {
	if id == nil || id.Username == "" {
		return Deny
	}
	if grants[id.Role][op] {
		return Allow
	}
	return Deny
}

// Allowed is Authorize reduced to a bool.
func Allowed(id *model.Identity, op Operation) bool { return Authorize(id, op) == Allow }
