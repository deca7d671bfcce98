package perms

import "github.com/google/uuid"

// Resolver is the decision surface a host integration consumes on every
// authorization check.
type Resolver interface {
	Decide(id uuid.UUID, node string) Decision
}

// Adapter bridges a resolver to a host expecting a boolean check. An explicit
// Allow or Deny wins; NotSet falls through to the host's own default.
type Adapter struct {
	resolver    Resolver
	hostDefault func(id uuid.UUID, node string) bool
}

func NewAdapter(resolver Resolver, hostDefault func(id uuid.UUID, node string) bool) *Adapter {
	return &Adapter{
		resolver:    resolver,
		hostDefault: hostDefault,
	}
}

func (a *Adapter) Has(id uuid.UUID, node string) bool {
	switch a.resolver.Decide(id, node) {
	case Allow:
		return true
	case Deny:
		return false
	default:
		if a.hostDefault != nil {
			return a.hostDefault(id, node)
		}
		return false
	}
}
