package perms

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Alexander-D-Karpov/permd/internal/infra/db"
	"github.com/Alexander-D-Karpov/permd/internal/infra/migrations"
	"github.com/Alexander-D-Karpov/permd/internal/observability"
)

type GroupRow struct {
	Name     string
	Priority int
	Prefix   string
}

type GroupPermissionRow struct {
	GroupName string
	Node      string
	Decision  Decision
}

type TempGroupRow struct {
	GroupName string
	ExpiresAt time.Time
}

// Repository translates engine operations into durable storage operations.
// Reads are synchronous and waited on by the caller (startup and per-user
// hydration). Writes run fire-and-forget on the connection manager's async
// executor; failures are logged here and never reach the mutation path --
// in-memory state is the source of truth for the running session.
type Repository struct {
	db      *db.Manager
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewRepository(manager *db.Manager, logger *zap.Logger, metrics *observability.Metrics) *Repository {
	return &Repository{
		db:      manager,
		logger:  logger,
		metrics: metrics,
	}
}

// Migrate creates the five permission relations if absent. Idempotent.
func (r *Repository) Migrate(ctx context.Context) error {
	pool := r.db.Pool()
	if pool == nil {
		return fmt.Errorf("no database pool installed")
	}
	return migrations.Run(ctx, pool)
}

func (r *Repository) LoadAllGroups(ctx context.Context) ([]GroupRow, error) {
	pool := r.db.Pool()
	if pool == nil {
		return nil, fmt.Errorf("no database pool installed")
	}

	rows, err := pool.Query(ctx, "SELECT name, priority, prefix FROM perm_groups")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupRow
	for rows.Next() {
		var row GroupRow
		if err := rows.Scan(&row.Name, &row.Priority, &row.Prefix); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *Repository) LoadAllGroupPermissions(ctx context.Context) ([]GroupPermissionRow, error) {
	pool := r.db.Pool()
	if pool == nil {
		return nil, fmt.Errorf("no database pool installed")
	}

	rows, err := pool.Query(ctx, "SELECT group_name, node, decision FROM perm_group_permissions")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupPermissionRow
	for rows.Next() {
		var row GroupPermissionRow
		var decision int
		if err := rows.Scan(&row.GroupName, &row.Node, &decision); err != nil {
			return nil, err
		}
		row.Decision = DecodeDecision(decision)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *Repository) LoadUserPermanentGroups(ctx context.Context, id uuid.UUID) ([]string, error) {
	pool := r.db.Pool()
	if pool == nil {
		return nil, fmt.Errorf("no database pool installed")
	}

	rows, err := pool.Query(ctx,
		"SELECT group_name FROM perm_user_groups WHERE uuid = $1",
		id.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (r *Repository) LoadUserActiveTempGroups(ctx context.Context, id uuid.UUID, asOf time.Time) ([]TempGroupRow, error) {
	pool := r.db.Pool()
	if pool == nil {
		return nil, fmt.Errorf("no database pool installed")
	}

	rows, err := pool.Query(ctx,
		"SELECT group_name, expires_at FROM perm_user_temp_groups WHERE uuid = $1 AND expires_at > $2",
		id.String(), asOf.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TempGroupRow
	for rows.Next() {
		var row TempGroupRow
		var expiresMs int64
		if err := rows.Scan(&row.GroupName, &expiresMs); err != nil {
			return nil, err
		}
		row.ExpiresAt = time.UnixMilli(expiresMs)
		out = append(out, row)
	}
	return out, rows.Err()
}

// EnsureUserRow makes sure the principal exists in perm_users. Synchronous;
// part of the waited hydration path.
func (r *Repository) EnsureUserRow(ctx context.Context, id uuid.UUID) error {
	pool := r.db.Pool()
	if pool == nil {
		return fmt.Errorf("no database pool installed")
	}

	_, err := pool.Exec(ctx,
		"INSERT INTO perm_users (uuid) VALUES ($1) ON CONFLICT (uuid) DO NOTHING",
		id.String(),
	)
	return err
}

// InsertGroupIfAbsent seeds a group row without overwriting an existing one.
// Used only for the default group so a customized row is never clobbered.
func (r *Repository) InsertGroupIfAbsent(name string, priority int, prefix string) *db.Promise {
	return r.submit("insert_group_if_absent", func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx,
			"INSERT INTO perm_groups (name, priority, prefix) VALUES ($1, $2, $3) ON CONFLICT (name) DO NOTHING",
			name, priority, prefix,
		)
		return err
	})
}

func (r *Repository) UpsertGroup(name string, priority int, prefix string) *db.Promise {
	return r.submit("upsert_group", func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx,
			`INSERT INTO perm_groups (name, priority, prefix) VALUES ($1, $2, $3)
			 ON CONFLICT (name) DO UPDATE SET priority = EXCLUDED.priority, prefix = EXCLUDED.prefix`,
			name, priority, prefix,
		)
		return err
	})
}

func (r *Repository) UpsertGroupPermission(groupName, node string, decision Decision) *db.Promise {
	return r.submit("upsert_group_permission", func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx,
			`INSERT INTO perm_group_permissions (group_name, node, decision) VALUES ($1, $2, $3)
			 ON CONFLICT (group_name, node) DO UPDATE SET decision = EXCLUDED.decision`,
			groupName, node, EncodeDecision(decision),
		)
		return err
	})
}

// DeleteGroup cascades across all four dependent relations.
func (r *Repository) DeleteGroup(name string) *db.Promise {
	return r.submit("delete_group", func(ctx context.Context, pool *pgxpool.Pool) error {
		statements := []string{
			"DELETE FROM perm_group_permissions WHERE group_name = $1",
			"DELETE FROM perm_user_groups WHERE group_name = $1",
			"DELETE FROM perm_user_temp_groups WHERE group_name = $1",
			"DELETE FROM perm_groups WHERE name = $1",
		}
		for _, stmt := range statements {
			if _, err := pool.Exec(ctx, stmt, name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) DeleteGroupPermission(groupName, node string) *db.Promise {
	return r.submit("delete_group_permission", func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx,
			"DELETE FROM perm_group_permissions WHERE group_name = $1 AND node = $2",
			groupName, node,
		)
		return err
	})
}

func (r *Repository) AddUserGroup(id uuid.UUID, groupName string) *db.Promise {
	return r.submit("add_user_group", func(ctx context.Context, pool *pgxpool.Pool) error {
		if _, err := pool.Exec(ctx,
			"INSERT INTO perm_users (uuid) VALUES ($1) ON CONFLICT (uuid) DO NOTHING",
			id.String(),
		); err != nil {
			return err
		}
		_, err := pool.Exec(ctx,
			"INSERT INTO perm_user_groups (uuid, group_name) VALUES ($1, $2) ON CONFLICT (uuid, group_name) DO NOTHING",
			id.String(), groupName,
		)
		return err
	})
}

func (r *Repository) RemoveUserGroup(id uuid.UUID, groupName string) *db.Promise {
	return r.submit("remove_user_group", func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx,
			"DELETE FROM perm_user_groups WHERE uuid = $1 AND group_name = $2",
			id.String(), groupName,
		)
		return err
	})
}

func (r *Repository) UpsertUserTempGroup(id uuid.UUID, groupName string, expiresAt time.Time) *db.Promise {
	return r.submit("upsert_user_temp_group", func(ctx context.Context, pool *pgxpool.Pool) error {
		if _, err := pool.Exec(ctx,
			"INSERT INTO perm_users (uuid) VALUES ($1) ON CONFLICT (uuid) DO NOTHING",
			id.String(),
		); err != nil {
			return err
		}
		_, err := pool.Exec(ctx,
			`INSERT INTO perm_user_temp_groups (uuid, group_name, expires_at) VALUES ($1, $2, $3)
			 ON CONFLICT (uuid, group_name) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
			id.String(), groupName, expiresAt.UnixMilli(),
		)
		return err
	})
}

func (r *Repository) DeleteUserTempGroup(id uuid.UUID, groupName string) *db.Promise {
	return r.submit("delete_user_temp_group", func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx,
			"DELETE FROM perm_user_temp_groups WHERE uuid = $1 AND group_name = $2",
			id.String(), groupName,
		)
		return err
	})
}

func (r *Repository) CleanupExpiredTempGroups(id uuid.UUID, asOf time.Time) *db.Promise {
	return r.submit("cleanup_expired_temp_groups", func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx,
			"DELETE FROM perm_user_temp_groups WHERE uuid = $1 AND expires_at <= $2",
			id.String(), asOf.UnixMilli(),
		)
		return err
	})
}

// submit schedules a write on the async executor. The error is captured and
// logged here, at the write site; it reaches a caller only if one chooses to
// wait on the promise.
func (r *Repository) submit(op string, fn func(ctx context.Context, pool *pgxpool.Pool) error) *db.Promise {
	return r.db.Submit(func(ctx context.Context) error {
		pool := r.db.Pool()
		if pool == nil {
			err := fmt.Errorf("no database pool installed")
			r.logger.Warn("database write skipped", zap.String("op", op), zap.Error(err))
			r.metrics.RecordWriteFailure(op)
			return err
		}

		if err := fn(ctx, pool); err != nil {
			r.logger.Warn("database write failed", zap.String("op", op), zap.Error(err))
			r.metrics.RecordWriteFailure(op)
			return err
		}
		return nil
	})
}
