package lease

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// PGAdvisoryLeaser implements Leaser with PostgreSQL session advisory locks.
// The lock lives as long as the dedicated connection, so ttl is not
// enforced; a crashed holder frees the lock when its session ends.
type PGAdvisoryLeaser struct {
	db *sql.DB
}

func NewPGAdvisoryLeaser(db *sql.DB) *PGAdvisoryLeaser {
	return &PGAdvisoryLeaser{db: db}
}

func (l *PGAdvisoryLeaser) TryAcquire(ctx context.Context, key string, _ time.Duration) (func(), bool, error) {
	lockID := hashToInt64(key)

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("lease connection for %s: %w", key, err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !acquired {
		conn.Close()
		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", lockID)
			conn.Close()
		})
	}
	return release, true, nil
}

// hashToInt64 maps a key to a non-negative advisory lock id using FNV-1a
func hashToInt64(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}
