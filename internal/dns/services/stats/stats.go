// Package stats keeps query analytics: totals, per-domain and per-client
// hit counts, and a bounded ring of recent queries.
package stats

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmhodges/clock"

	"github.com/haukened/rr-dnsctl/internal/dns/common/log"
	"github.com/haukened/rr-dnsctl/internal/dns/common/utils"
	"github.com/haukened/rr-dnsctl/internal/dns/domain"
	"github.com/haukened/rr-dnsctl/internal/dns/services/resolver"
)

const (
	DefaultRecent     = 500
	DefaultMaxTracked = 10000
	DefaultTop        = 10
	DefaultLogLimit   = 100
)

// Options configures a Collector. Zero values take the defaults.
type Options struct {
	// Recent bounds the recent-query ring.
	Recent int
	// MaxTracked bounds each per-domain and per-client table; the least
	// recently seen keys are dropped first.
	MaxTracked int
	// File, when set, receives every recorded query as a JSON line and is
	// emptied by Clear.
	File   *QueryLogFile
	Clock  clock.Clock
	Logger log.Logger
}

// Hit is one row of a top list.
type Hit struct {
	Key   string `json:"key"`
	Count uint64 `json:"count"`
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Since       time.Time                      `json:"since"`
	Queries     uint64                         `json:"queries"`
	Blocked     uint64                         `json:"blocked"`
	Sources     map[domain.AnswerSource]uint64 `json:"sources"`
	RCodes      map[string]uint64              `json:"rcodes"`
	TopDomains  []Hit                          `json:"top_domains"`
	TopBlocked  []Hit                          `json:"top_blocked"`
	TopApexes   []Hit                          `json:"top_apexes"`
	TopClients  []Hit                          `json:"top_clients"`
	RecentCount int                            `json:"recent_count"`
}

// Collector implements resolver.StatsRecorder.
type Collector struct {
	clk    clock.Clock
	file   *QueryLogFile
	logger log.Logger

	mu      sync.Mutex
	since   time.Time
	queries uint64
	blocked uint64
	sources map[domain.AnswerSource]uint64
	rcodes  map[string]uint64
	domains *lru.Cache[string, uint64]
	blocks  *lru.Cache[string, uint64]
	apexes  *lru.Cache[string, uint64]
	clients *lru.Cache[string, uint64]

	// recent is a ring; head is the next write position.
	recent []domain.QueryLog
	head   int
	size   int
}

// New builds an empty Collector.
func New(opts Options) (*Collector, error) {
	if opts.Recent <= 0 {
		opts.Recent = DefaultRecent
	}
	if opts.MaxTracked <= 0 {
		opts.MaxTracked = DefaultMaxTracked
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	c := &Collector{
		clk:    opts.Clock,
		file:   opts.File,
		logger: opts.Logger.With(map[string]any{"component": "stats"}),
		recent: make([]domain.QueryLog, opts.Recent),
	}
	tables := []**lru.Cache[string, uint64]{&c.domains, &c.blocks, &c.apexes, &c.clients}
	for _, tbl := range tables {
		t, err := lru.New[string, uint64](opts.MaxTracked)
		if err != nil {
			return nil, err
		}
		*tbl = t
	}
	c.resetCountersLocked()
	return c, nil
}

// Record adds one query to every counter and the recent ring.
func (c *Collector) Record(e domain.QueryLog) {
	if e.Time.IsZero() {
		e.Time = c.clk.Now()
	}
	name := utils.CanonicalDNSName(e.Name)
	if c.file != nil {
		if err := c.file.Append(e); err != nil {
			c.logger.Warn(map[string]any{"path": c.file.Path(), "error": err.Error()}, "Query log write failed")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries++
	c.sources[e.Source]++
	if e.RCode != "" {
		c.rcodes[e.RCode]++
	}
	if name != "" {
		bump(c.domains, name)
		bump(c.apexes, utils.GetApexDomain(name))
	}
	if e.Blocked {
		c.blocked++
		if name != "" {
			bump(c.blocks, name)
		}
	}
	if e.Client != "" {
		bump(c.clients, e.Client)
	}

	c.recent[c.head] = e
	c.head = (c.head + 1) % len(c.recent)
	if c.size < len(c.recent) {
		c.size++
	}
}

// Snapshot copies the counters with top lists of length top (DefaultTop
// when top <= 0).
func (c *Collector) Snapshot(top int) Snapshot {
	if top <= 0 {
		top = DefaultTop
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Since:       c.since,
		Queries:     c.queries,
		Blocked:     c.blocked,
		Sources:     make(map[domain.AnswerSource]uint64, len(c.sources)),
		RCodes:      make(map[string]uint64, len(c.rcodes)),
		TopDomains:  topN(c.domains, top),
		TopBlocked:  topN(c.blocks, top),
		TopApexes:   topN(c.apexes, top),
		TopClients:  topN(c.clients, top),
		RecentCount: c.size,
	}
	for k, v := range c.sources {
		s.Sources[k] = v
	}
	for k, v := range c.rcodes {
		s.RCodes[k] = v
	}
	return s
}

// Recent returns up to limit entries, oldest first and most recent last.
// limit <= 0 returns everything held.
func (c *Collector) Recent(limit int) []domain.QueryLog {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 || limit > c.size {
		limit = c.size
	}
	out := make([]domain.QueryLog, limit)
	start := c.head - limit
	if start < 0 {
		start += len(c.recent)
	}
	for i := 0; i < limit; i++ {
		out[i] = c.recent[(start+i)%len(c.recent)]
	}
	return out
}

// Clear empties the recent ring and the query log file. Counters keep
// running.
func (c *Collector) Clear() {
	c.mu.Lock()
	clear(c.recent)
	c.head, c.size = 0, 0
	c.mu.Unlock()
	if c.file != nil {
		if err := c.file.Truncate(); err != nil {
			c.logger.Warn(map[string]any{"path": c.file.Path(), "error": err.Error()}, "Query log truncate failed")
		}
	}
}

// Reset zeroes every counter and the recent ring.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetCountersLocked()
	clear(c.recent)
	c.head, c.size = 0, 0
}

func (c *Collector) resetCountersLocked() {
	c.since = c.clk.Now()
	c.queries, c.blocked = 0, 0
	c.sources = make(map[domain.AnswerSource]uint64)
	c.rcodes = make(map[string]uint64)
	c.domains.Purge()
	c.blocks.Purge()
	c.apexes.Purge()
	c.clients.Purge()
}

func bump(tbl *lru.Cache[string, uint64], key string) {
	n, _ := tbl.Get(key)
	tbl.Add(key, n+1)
}

// topN sorts by count, then key, and keeps the first n.
func topN(tbl *lru.Cache[string, uint64], n int) []Hit {
	keys := tbl.Keys()
	hits := make([]Hit, 0, len(keys))
	for _, k := range keys {
		if v, ok := tbl.Peek(k); ok {
			hits = append(hits, Hit{Key: k, Count: v})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Count != hits[j].Count {
			return hits[i].Count > hits[j].Count
		}
		return hits[i].Key < hits[j].Key
	})
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits
}

var _ resolver.StatsRecorder = (*Collector)(nil)
