package worker

import (
	"context"
	"time"

	"skillswap-backend/internal/domain"
	"skillswap-backend/pkg/cache"
)

// CachedDirectory remembers contact lookups so a burst of missed calls for
// the same user hits the directory once. Unknown users are not cached.
type CachedDirectory struct {
	next  ContactDirectory
	cache *cache.MemoryCache[*domain.Contact]
}

// NewCachedDirectory wraps next with a TTL cache of at most maxSize entries
func NewCachedDirectory(next ContactDirectory, ttl time.Duration, maxSize int) *CachedDirectory {
	return &CachedDirectory{
		next:  next,
		cache: cache.NewMemoryCache[*domain.Contact](ttl, maxSize),
	}
}

// GetContact implements ContactDirectory
func (d *CachedDirectory) GetContact(ctx context.Context, userID string) (*domain.Contact, error) {
	if c, ok := d.cache.Get(userID); ok {
		return c, nil
	}
	c, err := d.next.GetContact(ctx, userID)
	if err != nil || c == nil {
		return c, err
	}
	d.cache.Set(userID, c, 0)
	return c, nil
}

// StartCleanup sweeps expired entries until the returned function is called
func (d *CachedDirectory) StartCleanup(interval time.Duration) func() {
	return d.cache.StartCleanup(interval)
}
