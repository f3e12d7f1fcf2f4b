package blocklist

// CacheStats reports lightweight cache metrics.
// All fields are best-effort snapshots and may be updated concurrently.
type CacheStats struct {
	Size      int    `json:"size"`      // current number of entries
	Hits      uint64 `json:"hits"`      // total cache hits since construction
	Misses    uint64 `json:"misses"`    // total cache misses since construction
	Evictions uint64 `json:"evictions"` // total evictions since construction
}

// StoreStats reports lightweight store metrics and metadata.
// Values are read from the store in a cheap, read-only transaction.
type StoreStats struct {
	Version     uint64 `json:"version"`      // snapshot version (0 if unknown)
	UpdatedUnix int64  `json:"updated_unix"` // last updated unix time (0 if unknown)
	ExactKeys   uint64 `json:"exact_keys"`   // number of exact keys
	SuffixKeys  uint64 `json:"suffix_keys"`  // number of suffix keys
}
