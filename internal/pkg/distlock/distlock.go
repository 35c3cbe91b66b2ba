// Package distlock provides distributed locking for the worker fleet.
// Redis (SET NX with TTL) is used when available; without Redis the lock
// falls back to PostgreSQL advisory locks, which release automatically
// when the holding connection drops.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is the distributed lock contract. A Lock instance belongs to one
// goroutine; concurrent holders need separate instances.
type Lock interface {
	// TryAcquire attempts to take the lock without blocking.
	TryAcquire(ctx context.Context) (bool, error)
	// Release releases the lock if this instance still owns it.
	Release(ctx context.Context) error
}

// New creates a lock using the best available backend.
func New(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) Lock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewAdvisoryLock(db, key)
}

// AdvisoryLock implements Lock over pg_try_advisory_lock. The lock id is
// derived deterministically from the key string. Advisory locks are
// session-scoped, so acquire and release must run on the same connection:
// the lock pins one from the pool for its lifetime.
type AdvisoryLock struct {
	db     *sql.DB
	conn   *sql.Conn
	lockID int64
}

// NewAdvisoryLock creates a Postgres advisory lock for the given key.
func NewAdvisoryLock(db *sql.DB, key string) *AdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &AdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

// TryAcquire attempts the advisory lock; non-blocking.
func (l *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&ok); err != nil {
		conn.Close()
		return false, err
	}
	if !ok {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release unlocks on the holding connection and returns it to the pool.
func (l *AdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	l.conn.Close()
	l.conn = nil
	return err
}
