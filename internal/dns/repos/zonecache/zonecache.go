package zonecache

import (
	"sort"
	"sync"

	"github.com/haukened/rr-dnsctl/internal/dns/common/utils"
	"github.com/haukened/rr-dnsctl/internal/dns/domain"
	"github.com/haukened/rr-dnsctl/internal/dns/services/resolver"
)

type zone struct {
	records map[string][]domain.ResourceRecord // CacheKey → records
	owners  map[string][]domain.ResourceRecord // canonical owner → every record it owns
	names   map[string]struct{}                // owners plus empty non-terminals
}

// ZoneCache is an in-memory implementation of resolver.ZoneCache.
// It provides fast access to authoritative DNS records with concurrent safety.
type ZoneCache struct {
	mu    sync.RWMutex
	zones map[string]*zone // canonical zone root → zone
}

// New creates a new ZoneCache instance
func New() *ZoneCache {
	return &ZoneCache{
		zones: make(map[string]*zone),
	}
}

// FindRecords answers q from the most specific loaded zone containing it.
// A CNAME at the name stands in for a missing type. ANY returns every
// record the name owns.
func (zc *ZoneCache) FindRecords(q domain.Question) ([]domain.ResourceRecord, resolver.ZoneResult) {
	zc.mu.RLock()
	defer zc.mu.RUnlock()

	cn := utils.CanonicalDNSName(q.Name)
	z := zc.zoneFor(cn)
	if z == nil {
		return nil, resolver.ZoneOutside
	}

	if q.Type == domain.RRTypeANY {
		if recs := z.owners[cn]; len(recs) > 0 {
			return copyRecords(recs), resolver.ZoneAnswer
		}
	} else if recs, ok := z.records[q.CacheKey()]; ok {
		return copyRecords(recs), resolver.ZoneAnswer
	}

	if q.Type != domain.RRTypeCNAME {
		cname := domain.GenerateCacheKey(q.Name, domain.RRTypeCNAME, q.Class)
		if recs, ok := z.records[cname]; ok {
			return copyRecords(recs), resolver.ZoneAnswer
		}
	}

	if _, ok := z.names[cn]; ok {
		return nil, resolver.ZoneNoData
	}
	return nil, resolver.ZoneNameError
}

// zoneFor walks from the name toward the root and returns the first zone hit.
func (zc *ZoneCache) zoneFor(cn string) *zone {
	for _, anchor := range utils.Suffixes(cn) {
		if z, ok := zc.zones[anchor]; ok {
			return z
		}
	}
	return nil
}

// PutZone replaces all records for a zone with new records. Records outside
// the zone are ignored.
func (zc *ZoneCache) PutZone(zoneRoot string, records []domain.ResourceRecord) {
	zoneRoot = utils.CanonicalDNSName(zoneRoot)

	z := &zone{
		records: make(map[string][]domain.ResourceRecord),
		owners:  make(map[string][]domain.ResourceRecord),
		names:   map[string]struct{}{zoneRoot: {}},
	}
	for _, record := range records {
		owner := utils.CanonicalDNSName(record.Name)
		if !inZone(owner, zoneRoot) {
			continue
		}
		z.records[record.CacheKey()] = append(z.records[record.CacheKey()], record)
		z.owners[owner] = append(z.owners[owner], record)
		for _, anc := range utils.Suffixes(owner) {
			z.names[anc] = struct{}{}
			if anc == zoneRoot {
				break
			}
		}
	}

	zc.mu.Lock()
	defer zc.mu.Unlock()
	zc.zones[zoneRoot] = z
}

// ReplaceAll swaps in a whole set of zones at once.
func (zc *ZoneCache) ReplaceAll(zones map[string][]domain.ResourceRecord) {
	fresh := New()
	for root, recs := range zones {
		fresh.PutZone(root, recs)
	}
	zc.mu.Lock()
	zc.zones = fresh.zones
	zc.mu.Unlock()
}

// RemoveZone removes all records for a zone
func (zc *ZoneCache) RemoveZone(zoneRoot string) {
	zoneRoot = utils.CanonicalDNSName(zoneRoot)

	zc.mu.Lock()
	defer zc.mu.Unlock()

	delete(zc.zones, zoneRoot)
}

// Zones returns the zone roots currently cached, sorted.
func (zc *ZoneCache) Zones() []string {
	zc.mu.RLock()
	defer zc.mu.RUnlock()

	zones := make([]string, 0, len(zc.zones))
	for zoneRoot := range zc.zones {
		zones = append(zones, zoneRoot)
	}
	sort.Strings(zones)
	return zones
}

// Count returns the total number of records across all zones
func (zc *ZoneCache) Count() int {
	zc.mu.RLock()
	defer zc.mu.RUnlock()

	count := 0
	for _, z := range zc.zones {
		for _, recs := range z.records {
			count += len(recs)
		}
	}
	return count
}

func inZone(owner, root string) bool {
	if owner == root {
		return true
	}
	return len(owner) > len(root) && owner[len(owner)-len(root)-1] == '.' && owner[len(owner)-len(root):] == root
}

func copyRecords(in []domain.ResourceRecord) []domain.ResourceRecord {
	out := make([]domain.ResourceRecord, len(in))
	copy(out, in)
	return out
}

// Ensure ZoneCache implements resolver.ZoneCache at compile time
var _ resolver.ZoneCache = (*ZoneCache)(nil)
