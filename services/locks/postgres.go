package locks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresLocker holds a session-level advisory lock on a dedicated pooled connection.
type PostgresLocker struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresLocker(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresLocker{pool: pool, logger: logger}
}

func (l *PostgresLocker) Acquire(ctx context.Context, key string) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for lock %s: %w", key, err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, key); err != nil {
		conn.Release()
		if ctx.Err() != nil {
			return nil, errors.Join(ErrLockTimeout, ctx.Err())
		}
		return nil, fmt.Errorf("advisory lock %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := conn.Exec(rctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key); err != nil {
				// A connection that may still hold the lock must not go back to the pool.
				l.logger.Warn("advisory unlock failed", zap.String("key", key), zap.Error(err))
				_ = conn.Conn().Close(rctx)
			}
			conn.Release()
		})
	}, nil
}
