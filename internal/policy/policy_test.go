package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/license-panel/internal/model"
)

func TestAuthorizeFullTable(t *testing.T) {
	want := map[string]map[Operation]Decision{
		model.RoleAdmin: {ViewDashboard: Allow, ViewDevices: Allow, ManageDevices: Allow, ViewLogs: Allow, ManageUsers: Allow},
		model.RoleStaff: {ViewDashboard: Allow, ViewDevices: Allow, ManageDevices: Allow, ViewLogs: Allow, ManageUsers: Deny},
		model.RoleUser:  {ViewDashboard: Allow, ViewDevices: Deny, ManageDevices: Deny, ViewLogs: Allow, ManageUsers: Deny},
	}
	for role, ops := range want {
		id := &model.Identity{Username: "someone", Role: role}
		for _, op := range Operations {
			assert.Equal(t, ops[op], Authorize(id, op), "%s/%s", role, op)
		}
	}
}

func TestAuthorizeDeniesUnknowns(t *testing.T) {
	for _, op := range Operations {
		assert.Equal(t, Deny, Authorize(nil, op), "nil identity for %s", op)
		assert.Equal(t, Deny, Authorize(&model.Identity{}, op), "anonymous for %s", op)
		assert.Equal(t, Deny, Authorize(&model.Identity{Username: "x", Role: "Admin"}, op), "role is case-sensitive")
		assert.Equal(t, Deny, Authorize(&model.Identity{Username: "x", Role: "root"}, op))
	}
	assert.Equal(t, Deny, Authorize(&model.Identity{Username: "x", Role: model.RoleAdmin}, Operation("dropTables")))
}

func TestScenarioDecisions(t *testing.T) {
	assert.False(t, Allowed(&model.Identity{Username: "u", Role: model.RoleUser}, ManageDevices))
	assert.True(t, Allowed(&model.Identity{Username: "s", Role: model.RoleStaff}, ManageDevices))
	assert.False(t, Allowed(nil, ViewDashboard))
	assert.Equal(t, "allow", Allow.String())
	assert.Equal(t, "deny", Deny.String())
}
