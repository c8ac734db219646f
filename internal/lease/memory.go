package lease

import (
	"context"
	"sync"
	"time"
)

// MemoryLeaser implements Leaser for tests and single-process deployments.
// Expired leases are reclaimed lazily on the next TryAcquire.
type MemoryLeaser struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	now    func() time.Time
	seq    uint64
}

type memoryLease struct {
	token     uint64
	expiresAt time.Time
}

func NewMemoryLeaser() *MemoryLeaser {
	return NewMemoryLeaserWithClock(time.Now)
}

func NewMemoryLeaserWithClock(now func() time.Time) *MemoryLeaser {
	return &MemoryLeaser{leases: make(map[string]memoryLease), now: now}
}

func (l *MemoryLeaser) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.leases[key]; ok && now.Before(held.expiresAt) {
		return nil, false, nil
	}

	l.seq++
	token := l.seq
	l.leases[key] = memoryLease{token: token, expiresAt: now.Add(ttl)}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// only the current holder may release
			if held, ok := l.leases[key]; ok && held.token == token {
				delete(l.leases, key)
			}
		})
	}
	return release, true, nil
}

// Held reports whether key is currently leased
func (l *MemoryLeaser) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	held, ok := l.leases[key]
	return ok && l.now().Before(held.expiresAt)
}
