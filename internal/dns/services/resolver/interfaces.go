package resolver

import (
	"context"

	"github.com/haukened/rr-dnsctl/internal/dns/domain"
)

// Resolver answers a single question. Failures that map onto a response
// code are returned as *domain.ResolveError; any other error is answered
// with SERVFAIL by the query engine.
type Resolver interface {
	Resolve(ctx context.Context, q domain.Question) (domain.Answer, error)
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func(ctx context.Context, q domain.Question) (domain.Answer, error)

func (f ResolverFunc) Resolve(ctx context.Context, q domain.Question) (domain.Answer, error) {
	return f(ctx, q)
}

// UpstreamClient forwards a question to recursive servers.
type UpstreamClient interface {
	Resolve(ctx context.Context, q domain.Question) (domain.Answer, error)
}

// Blocklist decides whether a name is blocked.
type Blocklist interface {
	Decide(name string) domain.BlockDecision
}

// ZoneResult classifies an authoritative lookup.
type ZoneResult uint8

const (
	// ZoneOutside means no loaded zone contains the name.
	ZoneOutside ZoneResult = iota
	// ZoneNameError means the name is inside a zone but has no records.
	ZoneNameError
	// ZoneNoData means the name exists but not with the requested type.
	ZoneNoData
	// ZoneAnswer means records were found.
	ZoneAnswer
)

// ZoneCache serves records for zones loaded from disk.
type ZoneCache interface {
	FindRecords(q domain.Question) ([]domain.ResourceRecord, ZoneResult)
}

// Cache stores upstream answers keyed by question cache key. Get returns
// records with their TTLs already aged.
type Cache interface {
	Get(key string) ([]domain.ResourceRecord, bool)
	Set(key string, records []domain.ResourceRecord) error
}

// StatsRecorder receives one entry per resolved question.
type StatsRecorder interface {
	Record(entry domain.QueryLog)
}

// AliasResolver expands CNAME chains found in authoritative data.
type AliasResolver interface {
	Chase(ctx context.Context, q domain.Question, initial []domain.ResourceRecord) ([]domain.ResourceRecord, error)
}
