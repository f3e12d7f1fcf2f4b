package transport

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// clientLimiter keeps a token bucket per client IP. The table is an LRU so a
// flood of spoofed sources cannot grow it without bound.
type clientLimiter struct {
	limit rate.Limit
	burst int
	table *lru.Cache[string, *rate.Limiter]
}

// newClientLimiter returns nil when qps is not positive; a nil limiter
// allows everything.
func newClientLimiter(qps float64, burst, clients int) (*clientLimiter, error) {
	if qps <= 0 {
		return nil, nil
	}
	table, err := lru.New[string, *rate.Limiter](clients)
	if err != nil {
		return nil, err
	}
	return &clientLimiter{limit: rate.Limit(qps), burst: burst, table: table}, nil
}

// Allow reports whether client may send another query at now.
func (l *clientLimiter) Allow(client string, now time.Time) bool {
	if l == nil {
		return true
	}
	lim, ok := l.table.Get(client)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		if prev, found, _ := l.table.PeekOrAdd(client, lim); found {
			lim = prev
		}
	}
	return lim.AllowN(now, 1)
}
