package quiz

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quest-party-service/internal/domain"
)

// PoolLoader fetches the global question pool from a backing store.
type PoolLoader interface {
	LoadPool(ctx context.Context) ([]domain.PoolQuestion, error)
}

// PoolCache caches the pool with a TTL so session creation does not hammer
// the backing store. Concurrent misses collapse into a single load.
type PoolCache struct {
	loader PoolLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu        sync.RWMutex
	pool      []domain.PoolQuestion
	expiresAt time.Time
}

func NewPoolCache(loader PoolLoader, ttl time.Duration) *PoolCache {
	return &PoolCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *PoolCache) LoadPool(ctx context.Context) ([]domain.PoolQuestion, error) {
	now := c.clock()

	c.mu.RLock()
	if c.pool != nil && c.expiresAt.After(now) {
		pool := c.pool
		c.mu.RUnlock()
		return pool, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do("pool", func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if c.pool != nil && c.expiresAt.After(now) {
			pool := c.pool
			c.mu.RUnlock()
			return pool, nil
		}
		c.mu.RUnlock()

		pool, err := c.loader.LoadPool(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.pool = pool
		c.expiresAt = now.Add(c.ttlWithJitter())
		c.mu.Unlock()
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.PoolQuestion), nil
}

func (c *PoolCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticPoolLoader serves a fixed pool (tests, demos, no-Postgres setups).
type StaticPoolLoader struct {
	pool []domain.PoolQuestion
}

func NewStaticPoolLoader(pool []domain.PoolQuestion) *StaticPoolLoader {
	return &StaticPoolLoader{pool: pool}
}

func (l *StaticPoolLoader) LoadPool(_ context.Context) ([]domain.PoolQuestion, error) {
	return l.pool, nil
}
