package blocklist

import (
	"sync"

	"github.com/haukened/rr-dnsctl/internal/dns/common/utils"
	"github.com/haukened/rr-dnsctl/internal/dns/domain"
)

// DefaultFPRate is the Bloom false-positive target used when none is given.
const DefaultFPRate = 0.01

// repository implements the Repository interface by composing a Store,
// a Bloom filter (via factory), and a DecisionCache. It applies a bloom → cache → store pipeline
// on reads and performs atomic snapshot updates on writes.
type repository struct {
	mu      sync.RWMutex
	store   Store
	cache   DecisionCache
	bloom   BloomFilter
	factory BloomFactory
	fpRate  float64
	gen     uint64 // bumped by UpdateAll; stale decisions are not cached
}

// NewRepository constructs a Repository.
// fpRate is the target false-positive rate for the Bloom filter when rebuilding.
// Until the first UpdateAll there is no filter and every lookup reaches the store.
func NewRepository(store Store, cache DecisionCache, factory BloomFactory, fpRate float64) Repository {
	if !(fpRate > 0 && fpRate < 1) {
		fpRate = DefaultFPRate
	}
	return &repository{store: store, cache: cache, factory: factory, fpRate: fpRate}
}

// Decide returns a BlockDecision for the provided domain name.
// Policy: on internal errors, prefer Allow (not blocked).
func (r *repository) Decide(name string) domain.BlockDecision {
	cn := utils.CanonicalDNSName(name)
	if cn == "" {
		return domain.EmptyDecision()
	}
	// 1) checkBloom: early-allow if definitively negative
	if !r.checkBloom(cn) {
		return domain.EmptyDecision()
	}
	// 2) checkCache
	d, gen, ok := r.checkCache(cn)
	if ok {
		return d
	}
	// 3) checkStore
	dec := r.checkStore(cn)
	// 4) updateCache
	r.updateCache(cn, dec, gen)
	return dec
}

// UpdateAll performs an atomic snapshot update across store, bloom, and cache.
func (r *repository) UpdateAll(rules []domain.BlockRule, version uint64, updatedUnix int64) error {
	// 1) Rebuild the persistent store first.
	if err := r.store.RebuildAll(rules, version, updatedUnix); err != nil {
		return err
	}

	// 2) Build a fresh Bloom filter sized for the dataset.
	var n uint64
	for _, ru := range rules {
		if ru.IsExact() || ru.IsSuffix() {
			n++
		}
	}
	bf := r.factory.New(n, r.fpRate)
	for _, ru := range rules {
		switch ru.Kind {
		case domain.BlockRuleExact:
			bf.Add([]byte(ru.Name))
		case domain.BlockRuleSuffix:
			bf.Add([]byte(reverseString(ru.Name)))
		}
	}

	// 3) Swap bloom and purge decision cache under lock.
	r.mu.Lock()
	r.bloom = bf
	r.gen++
	r.cache.Purge()
	r.mu.Unlock()
	return nil
}

// RepoStats reports cache counters and store metadata.
func (r *repository) RepoStats() RepoStats {
	hits, misses, evictions := r.cache.Stats()
	return RepoStats{
		Cache: CacheStats{Size: r.cache.Len(), Hits: hits, Misses: misses, Evictions: evictions},
		Store: r.store.Stats(),
	}
}

// Close releases the store.
func (r *repository) Close() error { return r.store.Close() }

// reverseString reverses the string bytes. Must match the store's reversal logic
// used for suffix anchors to keep Bloom keys aligned with Bolt keys.
func reverseString(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

// ReverseName is the key form of a suffix anchor.
func ReverseName(name string) string { return reverseString(name) }

// checkBloom returns true if we should consult the store (maybe-positive),
// or false if we can early-allow (definitely negative). If no bloom is loaded,
// returns true to allow authoritative checking.
func (r *repository) checkBloom(cn string) bool {
	r.mu.RLock()
	bf := r.bloom
	r.mu.RUnlock()
	if bf == nil {
		return true
	}
	if bf.MightContain([]byte(cn)) {
		return true
	}
	// reversed anchors of the parents; a suffix rule never covers its own apex
	for _, anchor := range utils.ParentSuffixes(cn) {
		if bf.MightContain([]byte(reverseString(anchor))) {
			return true
		}
	}
	return false
}

// checkCache returns a cached decision when present.
func (r *repository) checkCache(cn string) (domain.BlockDecision, uint64, bool) {
	r.mu.RLock()
	d, ok := r.cache.Get(cn)
	gen := r.gen
	r.mu.RUnlock()
	return d, gen, ok
}

// checkStore consults the authoritative store and materializes a decision.
// On any error or miss, returns Allow (EmptyDecision).
func (r *repository) checkStore(cn string) domain.BlockDecision {
	rule, ok, err := r.store.GetFirstMatch(cn)
	if err == nil && ok {
		return domain.BlockDecision{Blocked: true, MatchedRule: rule.Name, Source: rule.Source, Kind: rule.Kind}
	}
	return domain.EmptyDecision()
}

// updateCache writes the final decision unless a snapshot swap happened
// since the lookup started.
func (r *repository) updateCache(cn string, dec domain.BlockDecision, gen uint64) {
	r.mu.Lock()
	if r.gen == gen {
		r.cache.Put(cn, dec)
	}
	r.mu.Unlock()
}
