package workflow

import "github.com/apexfin/invoiceflow/internal/domain/entity"

// rolePolicy maps each trigger to the roles allowed to fire it. Triggers
// absent from the map are open to any role.
var rolePolicy = map[Trigger]map[string]bool{
	TriggerSubmit: {
		entity.RoleClerk: true,
		entity.RoleAdmin: true,
	},
	TriggerApprove: {
		entity.RoleManager: true,
		entity.RoleAdmin:   true,
	},
	TriggerReject: {
		entity.RoleManager: true,
		entity.RoleAdmin:   true,
	},
	TriggerDelete: {
		entity.RoleAdmin: true,
	},
}

// RoleMayFire reports whether an actor with the given role is allowed to fire
// the trigger, independent of the current status.
func RoleMayFire(role string, trigger Trigger) bool {
	allowed, restricted := rolePolicy[trigger]
	if !restricted {
		return true
	}
	return allowed[role]
}

// RoleMayEdit reports whether the role may mutate invoice header fields.
// The status gate is separate: State.IsEditable.
func RoleMayEdit(role string) bool {
	return role == entity.RoleClerk || role == entity.RoleAdmin
}
