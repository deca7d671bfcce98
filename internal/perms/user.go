package perms

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// user tracks a principal's permanent group names and temporary memberships
// with their expiry instants. Guarded by the owning Service's lock. Users are
// created lazily on first reference and never deleted.
type user struct {
	id         uuid.UUID
	groups     map[string]struct{}
	tempGroups map[string]time.Time
}

func newUser(id uuid.UUID) *user {
	return &user{
		id:         id,
		groups:     make(map[string]struct{}),
		tempGroups: make(map[string]time.Time),
	}
}

// purgeExpired drops every temporary membership whose expiry is not strictly
// after now and reports whether anything was removed.
func (u *user) purgeExpired(now time.Time) bool {
	purged := false
	for name, expiresAt := range u.tempGroups {
		if !expiresAt.After(now) {
			delete(u.tempGroups, name)
			purged = true
		}
	}
	return purged
}

func (u *user) isGroupless() bool {
	return len(u.groups) == 0 && len(u.tempGroups) == 0
}

// activeGroupNames returns the union of permanent and temporary group names.
func (u *user) activeGroupNames() map[string]struct{} {
	out := make(map[string]struct{}, len(u.groups)+len(u.tempGroups))
	for name := range u.groups {
		out[name] = struct{}{}
	}
	for name := range u.tempGroups {
		out[name] = struct{}{}
	}
	return out
}

// removeGroupFold removes every permanent and temporary membership matching
// name case-insensitively. Returns what was removed.
func (u *user) removeGroupFold(name string) (permanent, temporary bool) {
	for g := range u.groups {
		if strings.EqualFold(g, name) {
			delete(u.groups, g)
			permanent = true
		}
	}
	for g := range u.tempGroups {
		if strings.EqualFold(g, name) {
			delete(u.tempGroups, g)
			temporary = true
		}
	}
	return permanent, temporary
}
