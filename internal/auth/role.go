package auth

import "fmt"

// Role is a position in the account role hierarchy. Roles form a total
// order: owner > admin > member > viewer. The zero value means "no role"
// (a token without tenant context).
type Role int

const (
	RoleNone Role = iota
	RoleViewer
	RoleMember
	RoleAdmin
	RoleOwner
)

// ParseRole converts a stored role string to a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "viewer":
		return RoleViewer, nil
	case "member":
		return RoleMember, nil
	case "admin":
		return RoleAdmin, nil
	case "owner":
		return RoleOwner, nil
	}
	return RoleNone, fmt.Errorf("unknown role %q", s)
}

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleMember:
		return "member"
	case RoleAdmin:
		return "admin"
	case RoleOwner:
		return "owner"
	}
	return ""
}

// Level returns the role's position in the total order. Higher levels
// include the privileges of lower ones.
func (r Role) Level() int {
	return int(r)
}

// Valid reports whether the role is one of the four defined roles.
func (r Role) Valid() bool {
	return r >= RoleViewer && r <= RoleOwner
}
