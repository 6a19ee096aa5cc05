package models

// UserRole represents the roles that receive realtime events.
type UserRole string

const (
	RoleStudent   UserRole = "STUDENT"
	RoleTeacher   UserRole = "TEACHER"
	RolePrincipal UserRole = "PRINCIPAL"
)

// Valid reports whether the role is one the agent can act for.
func (r UserRole) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RolePrincipal:
		return true
	default:
		return false
	}
}

// Scope identifies whose data the data source should return.
type Scope struct {
	UserID string
	Role   UserRole
}
