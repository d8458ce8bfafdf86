package types

import "strings"

// Role is the authorization level of an account.
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// ParseRole normalizes a role name. Unknown names report false.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleUser:
		return RoleUser, true
	default:
		return "", false
	}
}

// User represents an account in the system.
// It contains identity, role, and display metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Username is the login name. Uniqueness is enforced case-insensitively.
	Username string `json:"username" db:"username"`

	// Role indicates the user's authorization level.
	Role Role `json:"role" db:"role"`

	// FirstName is the optional given name.
	FirstName string `json:"firstName,omitempty" db:"first_name"`

	// LastName is the optional family name.
	LastName string `json:"lastName,omitempty" db:"last_name"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`
}

// DisplayName assembles "first last" with empty-string fallbacks.
func (u User) DisplayName() string {
	return u.FirstName + " " + u.LastName
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// IsZero reports whether no caller is authenticated.
func (p Principal) IsZero() bool {
	return p.Username == ""
}
