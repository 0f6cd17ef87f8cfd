package usercache

import (
	"context"
	"sync"
	"time"

	"match-service/internal/models"
)

// Lookup is the slice of the user repository the cache needs.
type Lookup interface {
	GetByFID(ctx context.Context, fid int64) (*models.User, error)
	GetManyByFID(ctx context.Context, fids []int64) (map[int64]*models.User, error)
}

// Cache is a TTL cache for player display data. It is constructed and
// injected explicitly; the orchestration core never depends on it directly.
type Cache struct {
	lookup Lookup
	ttl    time.Duration

	mu      sync.Mutex
	entries map[int64]entry

	now func() time.Time
}

type entry struct {
	user      *models.User
	expiresAt time.Time
}

func New(lookup Lookup, ttl time.Duration) *Cache {
	return &Cache{
		lookup:  lookup,
		ttl:     ttl,
		entries: make(map[int64]entry),
		now:     time.Now,
	}
}

func (c *Cache) Get(ctx context.Context, fid int64) (*models.User, error) {
	c.mu.Lock()
	if e, ok := c.entries[fid]; ok && c.now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.user, nil
	}
	c.mu.Unlock()

	user, err := c.lookup.GetByFID(ctx, fid)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[fid] = entry{user: user, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return user, nil
}

// GetMany returns the requested profiles, serving cached entries and
// fetching the misses in one batched lookup. Fids with no profile row are
// simply absent from the result.
func (c *Cache) GetMany(ctx context.Context, fids []int64) (map[int64]*models.User, error) {
	users := make(map[int64]*models.User, len(fids))
	var misses []int64

	c.mu.Lock()
	now := c.now()
	for _, fid := range fids {
		if e, ok := c.entries[fid]; ok && now.Before(e.expiresAt) {
			users[fid] = e.user
		} else {
			misses = append(misses, fid)
		}
	}
	c.mu.Unlock()

	if len(misses) == 0 {
		return users, nil
	}

	fetched, err := c.lookup.GetManyByFID(ctx, misses)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	expiresAt := c.now().Add(c.ttl)
	for fid, user := range fetched {
		c.entries[fid] = entry{user: user, expiresAt: expiresAt}
		users[fid] = user
	}
	c.mu.Unlock()
	return users, nil
}

// Invalidate drops a cached profile, e.g. after the identity subsystem
// reports a profile change.
func (c *Cache) Invalidate(fid int64) {
	c.mu.Lock()
	delete(c.entries, fid)
	c.mu.Unlock()
}
