// Package distlock provides the scanner lease. Exactly one engine instance
// per deployment may scan at a time; a second replica observing the same due
// prospect in the same tick window would double-send. The lease is taken per
// tick and released when the tick finishes, with a TTL bounding how long a
// crashed holder can block its replicas.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lease is a non-blocking, single-holder distributed lease. Instances are
// not goroutine-safe; each scanner goroutine owns its own Lease.
type Lease interface {
	// TryAcquire attempts to take the lease without blocking. False means
	// another holder has it.
	TryAcquire(ctx context.Context) (bool, error)
	// Release gives the lease up if this instance still holds it.
	Release(ctx context.Context) error
}

// New picks the best available lease backend: Redis when a client is
// configured (cross-host, TTL-bounded), otherwise a Postgres advisory lock
// (session-scoped, released when the connection drops).
func New(redisClient *redis.Client, db *sql.DB, name string, ttl time.Duration) Lease {
	if redisClient != nil {
		return NewRedisLease(redisClient, name, ttl)
	}
	return NewAdvisoryLease(db, name)
}

// AdvisoryLease holds a Postgres advisory lock. There is no TTL; the lock
// dies with the database session, which covers the crashed-holder case.
//
// Advisory locks are session-scoped, so acquire and release must run on the
// same connection. The lease pins one *sql.Conn out of the pool for as long
// as it is held; unlocking through the pooled *sql.DB could land on a
// different session and leave the lock stuck on an idle connection.
type AdvisoryLease struct {
	db     *sql.DB
	conn   *sql.Conn
	lockID int64
}

// NewAdvisoryLease derives a stable 64-bit advisory lock id from the lease
// name so every instance contends on the same lock.
func NewAdvisoryLease(db *sql.DB, name string) *AdvisoryLease {
	h := fnv.New64a()
	h.Write([]byte("outreach:lease:" + name))
	return &AdvisoryLease{db: db, lockID: int64(h.Sum64())}
}

func (l *AdvisoryLease) TryAcquire(ctx context.Context) (bool, error) {
	if l.conn == nil {
		conn, err := l.db.Conn(ctx)
		if err != nil {
			return false, err
		}
		l.conn = conn
	}
	var held bool
	if err := l.conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&held); err != nil {
		l.dropConn()
		return false, err
	}
	if !held {
		l.dropConn()
	}
	return held, nil
}

func (l *AdvisoryLease) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	l.dropConn()
	return err
}

func (l *AdvisoryLease) dropConn() {
	l.conn.Close()
	l.conn = nil
}
