package profile

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const defaultCacheTTL = 15 * time.Minute

// Cache memoizes schema summaries by dataset fingerprint. Entries expire after
// the TTL and can be dropped explicitly when a dataset changes.
type Cache struct {
	ttl   time.Duration
	items *ttlcache.Cache[string, *SchemaSummary]
}

// NewCache builds a cache. A non-positive ttl uses 15 minutes.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{
		ttl:   ttl,
		items: ttlcache.New(ttlcache.WithTTL[string, *SchemaSummary](ttl)),
	}
}

func (c *Cache) Get(fingerprint string) (*SchemaSummary, bool) {
	item := c.items.Get(fingerprint)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

func (c *Cache) Set(fingerprint string, s *SchemaSummary) {
	c.items.Set(fingerprint, s, c.ttl)
}

// Invalidate drops the summary for a fingerprint.
func (c *Cache) Invalidate(fingerprint string) {
	c.items.Delete(fingerprint)
}

func (c *Cache) Len() int { return c.items.Len() }
