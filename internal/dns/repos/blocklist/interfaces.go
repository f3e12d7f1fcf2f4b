package blocklist

import "github.com/haukened/rr-dnsctl/internal/dns/domain"

// BloomSizer computes Bloom filter parameters from capacity (n) and target FP rate (p).
// It returns m (number of bits) and k (number of hash functions).
type BloomSizer interface {
	Size(n uint64, p float64) (m uint64, k uint8)
}

// BloomFilter is the minimal interface the repository needs from Bloom filters.
type BloomFilter interface {
	Add(key []byte)
	MightContain(key []byte) bool
}

// BloomFactory builds a filter sized for capacity keys at the given false
// positive rate.
type BloomFactory interface {
	New(capacity uint64, fpRate float64) BloomFilter
}

// DecisionCache caches block decisions by canonical name with basic metrics.
type DecisionCache interface {
	Get(name string) (domain.BlockDecision, bool)
	Put(name string, d domain.BlockDecision)
	Len() int
	Purge()
	Stats() (hits, misses, evictions uint64)
}

// Store abstracts the persistent index.
//   - GetFirstMatch: the rule that blocks name, exact rules first, then the
//     most specific suffix rule
//   - RebuildAll: replace every rule and the metadata in one transaction
//   - Rules: every stored rule, for listing
type Store interface {
	GetFirstMatch(name string) (domain.BlockRule, bool, error)
	RebuildAll(rules []domain.BlockRule, version uint64, updatedUnix int64) error
	Rules() ([]domain.BlockRule, error)
	Stats() StoreStats
	Close() error
}

// RepoStats exposes repository-level counters and underlying store stats.
type RepoStats struct {
	Cache CacheStats `json:"cache"`
	Store StoreStats `json:"store"`
}

// Repository is the composition layer that wires cache → bloom → store.
// Decide returns a value-type BlockDecision for the canonical name.
// UpdateAll rebuilds the store, refreshes Bloom, and clears the cache.
type Repository interface {
	Decide(name string) domain.BlockDecision
	UpdateAll(rules []domain.BlockRule, version uint64, updatedUnix int64) error
	RepoStats() RepoStats
	Close() error
}
