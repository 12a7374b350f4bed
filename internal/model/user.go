package model

import "time"

// Role names accepted in the users.role column.  The set is closed: any
// other value is treated as "no capabilities" by the authorization policy.
const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
	RoleUser  = "user"
)

// ValidRole reports whether r is one of the known role names.  Role names
// are case-sensitive, matching how they are stored.
func ValidRole(r string) bool {
	switch r {
	case RoleAdmin, RoleStaff, RoleUser:
		return true
	}
	return false
}

// User represents a staff account as stored in the `users` table.  The
// password hash never leaves the repository and auth layers; handlers
// and the coordinator work with Identity instead.
//
// Fields:
//
//	ID           – primary key identifier of the user.
//	Username     – unique, case-sensitive login name.
//	PasswordHash – bcrypt (or legacy SHA-256 hex) digest of the password.
//	Role         – one of admin, staff or user.
//	CreatedAt    – timestamp of creation.
type User struct {
	ID           uint64    // users.id
	Username     string    // users.username
	PasswordHash string    // users.password_hash
	Role         string    // users.role
	CreatedAt    time.Time // users.created_at
}

// Identity is the authenticated principal: who is acting and with which
// role.  It is what the credential verifier returns and what every gated
// operation receives as its actor.
type Identity struct {
	ID        uint64    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity strips the credential material from a user record.
func (u User) Identity() Identity {
	return Identity{ID: u.ID, Username: u.Username, Role: u.Role, CreatedAt: u.CreatedAt}
}
