package integration_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Alexander-D-Karpov/permd/internal/common/config"
	"github.com/Alexander-D-Karpov/permd/internal/infra/db"
	"github.com/Alexander-D-Karpov/permd/internal/perms"
)

func setupTestDB(t *testing.T) *db.Manager {
	if os.Getenv("PERMD_TEST_DB") == "" {
		t.Skip("PERMD_TEST_DB not set, skipping integration test")
	}

	cfg := config.Database{
		Host:            envOr("DB_HOST", "localhost"),
		Port:            5432,
		User:            envOr("DB_USER", "postgres"),
		Password:        envOr("DB_PASSWORD", "postgres"),
		Database:        envOr("DB_NAME", "permd_test"),
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
	}

	manager := db.NewManager(cfg, zap.NewNop())
	require.NoError(t, manager.Connect(context.Background()))

	cleanupTestData(t, manager)
	return manager
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func cleanupTestData(t *testing.T, manager *db.Manager) {
	ctx := context.Background()
	tables := []string{
		"perm_user_temp_groups",
		"perm_user_groups",
		"perm_users",
		"perm_group_permissions",
		"perm_groups",
	}
	for _, table := range tables {
		_, err := manager.Pool().Exec(ctx, "DELETE FROM "+table)
		if err != nil {
			t.Logf("cleanup %s: %v", table, err)
		}
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	manager := setupTestDB(t)
	defer manager.Close()

	ctx := context.Background()
	logger := zap.NewNop()

	repo := perms.NewRepository(manager, logger, nil)
	require.NoError(t, repo.Migrate(ctx))
	cleanupTestData(t, manager)

	service := perms.NewService(logger, repo, nil)
	require.NoError(t, service.LoadAllFromStorage(ctx))

	p := uuid.New()
	require.True(t, service.CreateGroup("vip"))
	require.NoError(t, service.SetGroupPriority("vip", 5))
	require.NoError(t, service.SetGroupPrefix("vip", "<gold>VIP"))
	require.NoError(t, service.AddGroupPermission("vip", "fly.*", perms.Allow))

	changed, err := service.UserAddGroup(p, "vip")
	require.NoError(t, err)
	require.True(t, changed)
	require.NoError(t, service.UserAddTemporaryGroup(p, perms.DefaultGroupName, time.Hour))

	// writes are fire-and-forget; give the executor a moment to flush
	time.Sleep(500 * time.Millisecond)

	// a fresh service hydrated from the same storage sees identical state
	reloaded := perms.NewService(logger, repo, nil)
	require.NoError(t, reloaded.LoadAllFromStorage(ctx))
	require.NoError(t, reloaded.LoadUserFromStorage(ctx, p))

	g, ok := reloaded.GetGroup("vip")
	require.True(t, ok)
	assert.Equal(t, 5, g.Priority)
	assert.Equal(t, "<gold>VIP", g.Prefix)

	assert.Equal(t, perms.Allow, reloaded.Decide(p, "fly.enable"))
	assert.Equal(t, perms.NotSet, reloaded.Decide(p, "build.anything"))
	assert.Equal(t, "vip", reloaded.GetUserPrimaryGroupName(p))
	assert.True(t, reloaded.UserHasPermanentGroup(p, "vip"))
	assert.True(t, reloaded.UserHasTemporaryGroup(p, perms.DefaultGroupName))
}

func TestDeleteGroupCascadesInStorage(t *testing.T) {
	manager := setupTestDB(t)
	defer manager.Close()

	ctx := context.Background()
	logger := zap.NewNop()

	repo := perms.NewRepository(manager, logger, nil)
	require.NoError(t, repo.Migrate(ctx))
	cleanupTestData(t, manager)

	service := perms.NewService(logger, repo, nil)
	require.NoError(t, service.LoadAllFromStorage(ctx))

	p := uuid.New()
	require.True(t, service.CreateGroup("temp"))
	require.NoError(t, service.AddGroupPermission("temp", "a.b", perms.Deny))
	_, err := service.UserAddGroup(p, "temp")
	require.NoError(t, err)

	time.Sleep(500 * time.Millisecond)
	require.True(t, service.DeleteGroup("temp"))
	time.Sleep(500 * time.Millisecond)

	for _, q := range []string{
		"SELECT COUNT(*) FROM perm_groups WHERE name = 'temp'",
		"SELECT COUNT(*) FROM perm_group_permissions WHERE group_name = 'temp'",
		"SELECT COUNT(*) FROM perm_user_groups WHERE group_name = 'temp'",
		"SELECT COUNT(*) FROM perm_user_temp_groups WHERE group_name = 'temp'",
	} {
		var count int
		require.NoError(t, manager.Pool().QueryRow(ctx, q).Scan(&count))
		assert.Zero(t, count, q)
	}
}
