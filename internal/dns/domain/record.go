package domain

import (
	"fmt"
	"time"
)

// ResourceRecord is a single record as it appears on the wire. Data is the
// raw rdata; any names embedded in it are already uncompressed.
type ResourceRecord struct {
	Name  string
	Type  RRType
	Class RRClass
	TTL   uint32
	Data  []byte
}

// NewResourceRecord constructs a record and validates it.
func NewResourceRecord(name string, rrtype RRType, class RRClass, ttl uint32, data []byte) (ResourceRecord, error) {
	rr := ResourceRecord{
		Name:  Fqdn(name),
		Type:  rrtype,
		Class: class,
		TTL:   ttl,
		Data:  data,
	}
	if err := rr.Validate(); err != nil {
		return ResourceRecord{}, err
	}
	return rr, nil
}

// Validate checks whether the ResourceRecord fields are valid.
func (rr ResourceRecord) Validate() error {
	if rr.Name == "" {
		return fmt.Errorf("record name must not be empty")
	}
	if rr.Type == 0 {
		return fmt.Errorf("record type must not be zero")
	}
	if len(rr.Data) > 0xFFFF {
		return fmt.Errorf("rdata too long: %d bytes", len(rr.Data))
	}
	return nil
}

// CacheKey returns a cache key derived from the record's name, type, and class.
func (rr ResourceRecord) CacheKey() string {
	return GenerateCacheKey(rr.Name, rr.Type, rr.Class)
}

// WithTTL returns a copy carrying a different TTL. Data is shared.
func (rr ResourceRecord) WithTTL(ttl uint32) ResourceRecord {
	rr.TTL = ttl
	return rr
}

// AgedTTL returns the TTL left after elapsed time, floored at zero.
func (rr ResourceRecord) AgedTTL(elapsed time.Duration) uint32 {
	secs := int64(elapsed / time.Second)
	if secs <= 0 {
		return rr.TTL
	}
	if secs >= int64(rr.TTL) {
		return 0
	}
	return rr.TTL - uint32(secs)
}

// MinTTL returns the smallest TTL of a record set, or 0 for an empty set.
func MinTTL(records []ResourceRecord) uint32 {
	if len(records) == 0 {
		return 0
	}
	lowest := records[0].TTL
	for _, r := range records[1:] {
		if r.TTL < lowest {
			lowest = r.TTL
		}
	}
	return lowest
}
