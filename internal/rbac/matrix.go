package rbac

// actionSet is a bitset over Action. numActions must stay below 64.
type actionSet uint64

func setOf(actions ...Action) actionSet {
	var s actionSet
	for _, a := range actions {
		s |= 1 << a
	}
	return s
}

func (s actionSet) has(a Action) bool { return s&(1<<a) != 0 }

var allActions = func() actionSet {
	var s actionSet
	for a := ActionViewDashboard; a < numActions; a++ {
		s |= 1 << a
	}
	return s
}()

// matrix is indexed by Role; roles without an entry (the invalid role) get the empty set,
// so Can is defined for every (role, action) pair.
var matrix = [numRoles]actionSet{
	RoleAdmin: allActions,
	RoleWorker: setOf(
		ActionViewDashboard,
		ActionViewAllChantiers,
		ActionViewChantier,
		ActionUpdateChantier,
		ActionViewStock,
		ActionManageStock,
		ActionViewAttachment,
		ActionUploadAttachment,
	),
	RoleClient: setOf(
		ActionViewDashboard,
	),
}

// Can reports whether role may perform action unconditionally.
func Can(role Role, action Action) bool {
	if !role.Valid() || !action.Valid() {
		return false
	}
	return matrix[role].has(action)
}

// Permissions lists the actions role holds unconditionally, in declaration order.
func Permissions(role Role) []Action {
	var out []Action
	for _, a := range Actions() {
		if Can(role, a) {
			out = append(out, a)
		}
	}
	return out
}
