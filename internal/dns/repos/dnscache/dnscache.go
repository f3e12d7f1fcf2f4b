package dnscache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmhodges/clock"

	"github.com/haukened/rr-dnsctl/internal/dns/domain"
	"github.com/haukened/rr-dnsctl/internal/dns/services/resolver"
)

// Stats reports cache occupancy and lookup counters.
type Stats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

type entry struct {
	records  []domain.ResourceRecord
	storedAt time.Time
}

// dnsCache is an in-memory TTL-aware cache using an LRU strategy to store DNS resource records.
// Each key holds a whole record set. TTLs count down from the moment the set
// was stored; the set expires when its smallest TTL reaches zero.
type dnsCache struct {
	lru    *lru.Cache[string, entry]
	clk    clock.Clock
	hits   atomic.Uint64
	misses atomic.Uint64
}

// New returns a new dnsCache instance of the given size using an LRU backing store.
// A nil clock means the system clock.
func New(size int, clk clock.Clock) (*dnsCache, error) {
	cache, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	return &dnsCache{lru: cache, clk: clk}, nil
}

// Set replaces the existing records for key. Empty sets and sets with a zero
// TTL are not stored.
func (c *dnsCache) Set(key string, records []domain.ResourceRecord) error {
	if len(records) == 0 || domain.MinTTL(records) == 0 {
		return nil
	}
	cp := make([]domain.ResourceRecord, len(records))
	copy(cp, records)
	c.lru.Add(key, entry{records: cp, storedAt: c.clk.Now()})
	return nil
}

// Get returns the records stored under key with their TTLs reduced by the
// time spent in the cache. Expired sets are removed and reported as a miss.
func (c *dnsCache) Get(key string) ([]domain.ResourceRecord, bool) {
	e, found := c.lru.Get(key)
	if !found {
		c.misses.Add(1)
		return nil, false
	}
	elapsed := c.clk.Since(e.storedAt)
	out := make([]domain.ResourceRecord, len(e.records))
	for i, rr := range e.records {
		ttl := rr.AgedTTL(elapsed)
		if ttl == 0 {
			c.lru.Remove(key)
			c.misses.Add(1)
			return nil, false
		}
		out[i] = rr.WithTTL(ttl)
	}
	c.hits.Add(1)
	return out, true
}

// Delete removes the entry for the given key from the cache.
func (c *dnsCache) Delete(key string) {
	c.lru.Remove(key)
}

// Len returns the number of cache entries (keys) currently stored in the cache.
func (c *dnsCache) Len() int {
	return c.lru.Len()
}

// Keys returns a slice of all current cache keys.
func (c *dnsCache) Keys() []string {
	return c.lru.Keys()
}

// Purge drops every entry.
func (c *dnsCache) Purge() {
	c.lru.Purge()
}

func (c *dnsCache) Stats() Stats {
	return Stats{Entries: c.lru.Len(), Hits: c.hits.Load(), Misses: c.misses.Load()}
}

var _ resolver.Cache = (*dnsCache)(nil)
