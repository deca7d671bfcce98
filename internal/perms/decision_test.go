package perms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "allow", Allow.String())
	assert.Equal(t, "deny", Deny.String())
	assert.Equal(t, "not_set", NotSet.String())
}

func TestDecodeDecisionDefensive(t *testing.T) {
	assert.Equal(t, Allow, DecodeDecision(0))
	assert.Equal(t, Deny, DecodeDecision(1))
	assert.Equal(t, NotSet, DecodeDecision(2))

	// garbled values degrade to NotSet instead of failing
	assert.Equal(t, NotSet, DecodeDecision(-1))
	assert.Equal(t, NotSet, DecodeDecision(42))
}
