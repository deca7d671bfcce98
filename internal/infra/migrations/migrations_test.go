package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMigrationName(t *testing.T) {
	version, name, ok := parseMigrationName("001_init.sql")
	require.True(t, ok)
	assert.Equal(t, 1, version)
	assert.Equal(t, "init", name)

	version, name, ok = parseMigrationName("042_add_indexes.sql")
	require.True(t, ok)
	assert.Equal(t, 42, version)
	assert.Equal(t, "add_indexes", name)

	for _, bad := range []string{"init.sql", "001_.sql", "abc_init.sql", "001_init.txt", "001_init"} {
		_, _, ok := parseMigrationName(bad)
		assert.False(t, ok, bad)
	}
}

func TestEmbeddedMigrationsAreDiscovered(t *testing.T) {
	toApply, err := getMigrationsToApply(map[int]bool{})
	require.NoError(t, err)
	require.NotEmpty(t, toApply, "embedded migration files must be picked up")

	assert.Equal(t, 1, toApply[0].Version)
	assert.Equal(t, "init", toApply[0].Name)
	assert.True(t, strings.Contains(toApply[0].SQL, "perm_groups"))

	// already-applied versions are filtered out
	toApply, err = getMigrationsToApply(map[int]bool{1: true})
	require.NoError(t, err)
	assert.Empty(t, toApply)
}
