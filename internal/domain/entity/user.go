package entity

import "time"

// Role constants for User. The set is closed; the users.role column carries a
// CHECK constraint mirroring it.
const (
	RoleClerk   = "clerk"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

// User is an actor in the approval workflow, referenced by invoices as
// assignee or approver.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

var validRoles = map[string]bool{
	RoleClerk:   true,
	RoleManager: true,
	RoleAdmin:   true,
}

// IsValidRole reports whether role is one of the defined roles.
func IsValidRole(role string) bool {
	return validRoles[role]
}
