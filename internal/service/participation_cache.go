package service

import (
	"context"
	"sync"
	"time"
)

// ParticipationCache remembers which (user, sale) pairs already hold a
// reservation so repeat attempts can be rejected before touching stock.
// It is an optimization only: the ledger's unique index stays authoritative,
// so a cold or lossy cache is always safe.
type ParticipationCache interface {
	Seen(ctx context.Context, userID, saleWindowID uint) (bool, error)
	Mark(ctx context.Context, userID, saleWindowID uint, ttl time.Duration) error
}

type NoopParticipationCache struct{}

func NewNoopParticipationCache() *NoopParticipationCache { return &NoopParticipationCache{} }

func (*NoopParticipationCache) Seen(context.Context, uint, uint) (bool, error) { return false, nil }
func (*NoopParticipationCache) Mark(context.Context, uint, uint, time.Duration) error {
	return nil
}

// InMemoryParticipationCache is a process-local fallback for single-node
// deployments and tests. Entries expire lazily on read.
type InMemoryParticipationCache struct {
	mu      sync.RWMutex
	entries map[participationKey]time.Time
	now     func() time.Time
}

type participationKey struct {
	userID       uint
	saleWindowID uint
}

func NewInMemoryParticipationCache() *InMemoryParticipationCache {
	return &InMemoryParticipationCache{
		entries: make(map[participationKey]time.Time),
		now:     time.Now,
	}
}

func (c *InMemoryParticipationCache) Seen(_ context.Context, userID, saleWindowID uint) (bool, error) {
	key := participationKey{userID: userID, saleWindowID: saleWindowID}

	c.mu.RLock()
	deadline, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if c.now().After(deadline) {
		c.mu.Lock()
		if d, still := c.entries[key]; still && c.now().After(d) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (c *InMemoryParticipationCache) Mark(_ context.Context, userID, saleWindowID uint, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	key := participationKey{userID: userID, saleWindowID: saleWindowID}
	c.mu.Lock()
	c.entries[key] = c.now().Add(ttl)
	c.mu.Unlock()
	return nil
}
