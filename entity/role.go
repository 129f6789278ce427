package entity

import "fmt"

// Role is a participant's moderation role within one conversation.
type Role string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// ParseRole parses a wire role string into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleMember, RoleModerator, RoleAdmin:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// AtLeast reports whether the role ranks at or above other.
func (r Role) AtLeast(other Role) bool {
	return r.level() >= other.level()
}

func (r Role) level() int {
	switch r {
	case RoleAdmin:
		return 2
	case RoleModerator:
		return 1
	default:
		return 0
	}
}
