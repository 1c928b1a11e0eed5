package rbac

import "fmt"

// Role is a caller's role. The zero value is not a valid role and is denied everything.
type Role uint8

const (
	roleInvalid Role = iota
	RoleAdmin
	RoleWorker
	RoleClient

	numRoles
)

// Role names. Keep these stable; they are stored in the accounts table and in tokens.
var roleNames = [numRoles]string{
	RoleAdmin:  "admin",
	RoleWorker: "worker",
	RoleClient: "client",
}

func (r Role) String() string {
	if r.Valid() {
		return roleNames[r]
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

func (r Role) Valid() bool { return r > roleInvalid && r < numRoles }

// ParseRole resolves a stored role name.
func ParseRole(s string) (Role, error) {
	for r := RoleAdmin; r < numRoles; r++ {
		if roleNames[r] == s {
			return r, nil
		}
	}
	return roleInvalid, fmt.Errorf("rbac: unknown role %q", s)
}

// Roles lists every valid role.
func Roles() []Role {
	out := make([]Role, 0, numRoles-1)
	for r := RoleAdmin; r < numRoles; r++ {
		out = append(out, r)
	}
	return out
}
