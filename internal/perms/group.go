package perms

// group is a named bag of permission-node decisions with a priority and a
// display prefix. Group identity is case-sensitive; the default-group guard
// and primary-group sorting compare case-insensitively. All fields are
// guarded by the owning Service's lock; callers only ever see GroupInfo
// snapshots.
type group struct {
	name        string
	priority    int
	prefix      string
	permissions map[string]Decision
}

func newGroup(name string) *group {
	return &group{
		name:        name,
		priority:    0,
		prefix:      "",
		permissions: make(map[string]Decision),
	}
}

func (g *group) snapshot() GroupInfo {
	permissions := make(map[string]Decision, len(g.permissions))
	for node, decision := range g.permissions {
		permissions[node] = decision
	}
	return GroupInfo{
		Name:        g.name,
		Priority:    g.priority,
		Prefix:      g.prefix,
		Permissions: permissions,
	}
}

// GroupInfo is a point-in-time copy of a group's state.
type GroupInfo struct {
	Name        string
	Priority    int
	Prefix      string
	Permissions map[string]Decision
}
