package auth

import "time"

type Role string

const (
	RoleLearner Role = "learner"
	RoleTutor   Role = "tutor"
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
)

// IsStaff reports whether the role may review and resolve disputes.
func (r Role) IsStaff() bool {
	return r == RoleStaff || r == RoleAdmin
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleLearner, RoleTutor, RoleStaff, RoleAdmin:
		return true
	default:
		return false
	}
}

// User is the domain representation of a marketplace participant.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID        string
	Email     string
	FullName  string
	Role      Role
	CreatedAt time.Time
}

// Identity is the verified caller of a request.
type Identity struct {
	UserID string
	Role   Role
}
