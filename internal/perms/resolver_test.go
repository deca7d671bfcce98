package perms

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type staticResolver struct {
	decision Decision
}

func (r staticResolver) Decide(uuid.UUID, string) Decision {
	return r.decision
}

func TestAdapterHas(t *testing.T) {
	id := uuid.New()
	hostAllows := func(uuid.UUID, string) bool { return true }

	assert.True(t, NewAdapter(staticResolver{Allow}, nil).Has(id, "fly.enable"))
	assert.False(t, NewAdapter(staticResolver{Deny}, hostAllows).Has(id, "fly.enable"),
		"explicit deny beats the host default")
	assert.True(t, NewAdapter(staticResolver{NotSet}, hostAllows).Has(id, "fly.enable"),
		"NotSet falls through to the host default")
	assert.False(t, NewAdapter(staticResolver{NotSet}, nil).Has(id, "fly.enable"))
}

func TestAdapterWithService(t *testing.T) {
	s := newTestService()
	id := uuid.New()

	assert.True(t, s.CreateGroup("vip"))
	assert.NoError(t, s.AddGroupPermission("vip", "fly.*", Allow))
	_, err := s.UserAddGroup(id, "vip")
	assert.NoError(t, err)

	adapter := NewAdapter(s, func(uuid.UUID, string) bool { return false })
	assert.True(t, adapter.Has(id, "fly.enable"))
	assert.False(t, adapter.Has(id, "build.anything"))
}
