package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Alexander-D-Karpov/permd/internal/common/config"
)

// Manager owns the pooled connection resource and the async SQL executor.
// The pool reference is swapped atomically under the lock on reconnect so
// concurrent readers never observe a missing pool during normal operation.
type Manager struct {
	cfg    config.Database
	logger *zap.Logger

	mu   sync.RWMutex
	pool *pgxpool.Pool
	exec *Executor

	monitorStop chan struct{}
	monitorOnce sync.Once
}

func NewManager(cfg config.Database, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		logger:      logger,
		monitorStop: make(chan struct{}),
	}
}

// Connect builds a brand-new pool, installs it, resizes the executor to match
// the pool's connection budget, then closes the previous pool. Safe to call
// again after a connectivity failure.
func (m *Manager) Connect(ctx context.Context) error {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		m.cfg.Host, m.cfg.Port, m.cfg.User, m.cfg.Password, m.cfg.Database,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse pool config: %w", err)
	}

	poolConfig.MaxConns = int32(m.cfg.MaxConns)
	poolConfig.MinConns = int32(m.cfg.MinConns)
	poolConfig.MaxConnLifetime = m.cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = m.cfg.MaxConnIdleTime

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	m.swapInNewPool(pool)
	return nil
}

func (m *Manager) swapInNewPool(pool *pgxpool.Pool) {
	m.mu.Lock()
	old := m.pool
	m.pool = pool
	m.adjustExecutorLocked(int(pool.Config().MaxConns))
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

// adjustExecutorLocked replaces the executor when the computed target differs
// from the current configuration. Called with m.mu held.
func (m *Manager) adjustExecutorLocked(maxPoolSize int) {
	workers, queueCap := executorSizeFor(maxPoolSize)

	current := m.exec
	if current != nil && current.Workers() == workers && current.QueueCap() == queueCap {
		return
	}

	m.exec = NewExecutor(workers, queueCap)
	if current != nil {
		// drain the old executor off the swap path
		go current.Close()
	}
}

// Pool returns the currently installed pool, or nil before the first Connect.
func (m *Manager) Pool() *pgxpool.Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pool
}

// Submit runs a task on the async executor and returns its completion handle.
func (m *Manager) Submit(fn Task) *Promise {
	m.mu.RLock()
	exec := m.exec
	m.mu.RUnlock()

	if exec == nil {
		p := newPromise()
		p.complete(fmt.Errorf("database manager is not connected"))
		return p
	}
	return exec.Submit(fn)
}

// Health pings the current pool with a short timeout.
func (m *Manager) Health(ctx context.Context) error {
	pool := m.Pool()
	if pool == nil {
		return fmt.Errorf("no pool installed")
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return pool.Ping(ctx)
}

// StartMonitor polls connection validity on a fixed interval. On failure it
// rebuilds the pool; each tick is itself the retry, there is no backoff.
func (m *Manager) StartMonitor(ctx context.Context, interval time.Duration, onReconnect func(ok bool)) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.Health(ctx); err == nil {
					continue
				} else {
					m.logger.Error("database connection is not valid, attempting to reconnect",
						zap.Error(err),
					)
				}

				if err := m.Connect(ctx); err != nil {
					m.logger.Error("database reconnect failed", zap.Error(err))
					if onReconnect != nil {
						onReconnect(false)
					}
					continue
				}

				ok := m.Health(ctx) == nil
				if ok {
					m.logger.Info("database connection has been re-established")
				} else {
					m.logger.Error("database connection could not be re-established")
				}
				if onReconnect != nil {
					onReconnect(ok)
				}
			case <-m.monitorStop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close drains the executor and closes the pool.
func (m *Manager) Close() {
	m.monitorOnce.Do(func() {
		close(m.monitorStop)
	})

	m.mu.Lock()
	exec := m.exec
	pool := m.pool
	m.exec = nil
	m.pool = nil
	m.mu.Unlock()

	if exec != nil {
		exec.Close()
	}
	if pool != nil {
		pool.Close()
	}
}
