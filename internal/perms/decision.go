package perms

// Decision is the three-valued outcome of a permission lookup. NotSet means
// "no opinion": the consuming layer falls through to the host's own default.
type Decision int

const (
	Allow Decision = iota
	Deny
	NotSet
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "not_set"
	}
}

// EncodeDecision maps a decision to its persisted integer form.
func EncodeDecision(d Decision) int {
	switch d {
	case Allow:
		return 0
	case Deny:
		return 1
	default:
		return 2
	}
}

// DecodeDecision maps a persisted integer back to a decision. Unknown or
// garbled values decode to NotSet, since permission absence is a safe default.
func DecodeDecision(raw int) Decision {
	switch raw {
	case 0:
		return Allow
	case 1:
		return Deny
	default:
		return NotSet
	}
}
