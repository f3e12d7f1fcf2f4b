package resolver

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/jmhodges/clock"

	"github.com/haukened/rr-dnsctl/internal/dns/common/log"
	"github.com/haukened/rr-dnsctl/internal/dns/domain"
)

var (
	// ErrBlocked is wrapped by the ResolveError returned for blocked names.
	ErrBlocked = errors.New("name is blocked")
	// ErrNoUpstream is returned when nothing in the chain can answer.
	ErrNoUpstream = errors.New("no upstream configured")
	// ErrNameNotInZone is wrapped for names inside a served zone with no records.
	ErrNameNotInZone = errors.New("name does not exist in zone")
)

// defaultBlockTTL is used for synthesized block answers when the policy has none.
const defaultBlockTTL = 60

// defaultRedirectIP is the redirect target when the policy names none.
var defaultRedirectIP = net.IPv4(127, 0, 0, 1)

// Service is the resolution chain: blocklist, authoritative zones, answer
// cache, upstream. Every dependency is optional.
type Service struct {
	blocklist Blocklist
	zoneCache ZoneCache
	cache     Cache
	upstream  UpstreamClient
	alias     AliasResolver
	stats     StatsRecorder
	clock     clock.Clock
	logger    log.Logger

	mu     sync.RWMutex
	policy domain.BlockPolicy
}

type ResolverOptions struct {
	Blocklist     Blocklist
	ZoneCache     ZoneCache
	UpstreamCache Cache
	Upstream      UpstreamClient
	Stats         StatsRecorder
	Clock         clock.Clock
	Logger        log.Logger
	Policy        domain.BlockPolicy
	// MaxAliasDepth bounds CNAME chains followed from zone data.
	MaxAliasDepth int
}

// NewResolver builds the chain from opts.
func NewResolver(opts ResolverOptions) *Service {
	s := &Service{
		blocklist: opts.Blocklist,
		zoneCache: opts.ZoneCache,
		cache:     opts.UpstreamCache,
		upstream:  opts.Upstream,
		stats:     opts.Stats,
		clock:     opts.Clock,
		logger:    opts.Logger,
		policy:    opts.Policy,
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.logger == nil {
		s.logger = log.NewNoopLogger()
	}
	if s.policy.Mode == "" {
		s.policy.Mode = domain.BlockModeNX
	}
	if s.zoneCache != nil {
		s.alias = NewAliasChaser(s.zoneCache, ResolverFunc(s.resolveRecursive), s.logger, opts.MaxAliasDepth)
	}
	return s
}

// Policy returns the active block policy.
func (s *Service) Policy() domain.BlockPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// SetPolicy replaces the block policy used for subsequent queries.
func (s *Service) SetPolicy(p domain.BlockPolicy) {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
	s.logger.Info(map[string]any{"mode": string(p.Mode), "block_ip": p.BlockIP.String()}, "Block policy updated")
}

// Resolve implements Resolver.
func (s *Service) Resolve(ctx context.Context, q domain.Question) (domain.Answer, error) {
	start := s.clock.Now()
	ans, src, blocked, err := s.resolve(ctx, q)
	if s.stats != nil {
		rcode := ans.RCode
		if err != nil {
			rcode = domain.RCodeForError(err)
		}
		s.stats.Record(domain.QueryLog{
			Time:     start,
			Client:   domain.ClientIP(ctx),
			Name:     q.Name,
			Type:     q.Type.String(),
			RCode:    rcode.String(),
			Blocked:  blocked,
			Source:   src,
			Duration: s.clock.Since(start),
		})
	}
	return ans, err
}

func (s *Service) resolve(ctx context.Context, q domain.Question) (domain.Answer, domain.AnswerSource, bool, error) {
	if s.blocklist != nil {
		if dec := s.blocklist.Decide(q.Name); dec.Blocked {
			s.logger.Debug(map[string]any{"name": q.Name, "rule": dec.MatchedRule, "source": dec.Source}, "Query blocked")
			ans, err := s.blockedAnswer(q)
			return ans, domain.SourceBlocklist, true, err
		}
	}
	if s.zoneCache != nil {
		if ans, ok, err := s.authoritative(ctx, q); ok {
			return ans, domain.SourceZone, false, err
		}
	}
	if s.cache != nil {
		if recs, ok := s.cache.Get(q.CacheKey()); ok {
			return domain.Answer{Records: recs}, domain.SourceCache, false, nil
		}
	}
	ans, err := s.forward(ctx, q)
	if err != nil && errors.Is(err, ErrNoUpstream) {
		return ans, domain.SourceNone, false, err
	}
	return ans, domain.SourceUpstream, false, err
}

// authoritative answers from zone data. ok is false when the name lies
// outside every loaded zone.
func (s *Service) authoritative(ctx context.Context, q domain.Question) (domain.Answer, bool, error) {
	recs, res := s.zoneCache.FindRecords(q)
	switch res {
	case ZoneNameError:
		return domain.Answer{Authoritative: true}, true, domain.NewResolveError(domain.ResolveNotFound, ErrNameNotInZone)
	case ZoneNoData:
		return domain.Answer{Authoritative: true}, true, nil
	case ZoneAnswer:
		chain, err := s.alias.Chase(ctx, q, recs)
		if err != nil {
			if errors.Is(err, ErrAliasDepthExceeded) || errors.Is(err, ErrAliasLoopDetected) {
				return domain.Answer{Authoritative: true}, true, err
			}
			s.logger.Debug(map[string]any{"name": q.Name, "error": err.Error()}, "Partial alias chain")
		}
		return domain.Answer{Records: chain, Authoritative: true}, true, nil
	}
	return domain.Answer{}, false, nil
}

// resolveRecursive is the non-authoritative half of the chain, used for
// alias targets outside the loaded zones.
func (s *Service) resolveRecursive(ctx context.Context, q domain.Question) (domain.Answer, error) {
	if s.cache != nil {
		if recs, ok := s.cache.Get(q.CacheKey()); ok {
			return domain.Answer{Records: recs}, nil
		}
	}
	return s.forward(ctx, q)
}

func (s *Service) forward(ctx context.Context, q domain.Question) (domain.Answer, error) {
	if s.upstream == nil {
		return domain.Answer{}, domain.NewResolveError(domain.ResolveUpstreamFailure, ErrNoUpstream)
	}
	ans, err := s.upstream.Resolve(ctx, q)
	if err != nil {
		return ans, err
	}
	if s.cache != nil && len(ans.Records) > 0 {
		if cerr := s.cache.Set(q.CacheKey(), ans.Records); cerr != nil {
			s.logger.Warn(map[string]any{"name": q.Name, "error": cerr.Error()}, "Failed to cache upstream answer")
		}
	}
	return ans, nil
}

// blockedAnswer synthesizes the response for a blocked name under the
// current policy.
func (s *Service) blockedAnswer(q domain.Question) (domain.Answer, error) {
	p := s.Policy()
	ttl := p.TTL
	if ttl == 0 {
		ttl = defaultBlockTTL
	}
	switch p.Mode {
	case domain.BlockModeRefused:
		return domain.Answer{}, domain.NewResolveError(domain.ResolveRefused, ErrBlocked)
	case domain.BlockModeNull:
		return sinkholeAnswer(q, net.IPv4zero, net.IPv6zero, ttl), nil
	case domain.BlockModeRedirect:
		ip := p.BlockIP
		if ip == nil {
			ip = defaultRedirectIP
		}
		if v4 := ip.To4(); v4 != nil {
			return sinkholeAnswer(q, v4, nil, ttl), nil
		}
		return sinkholeAnswer(q, nil, ip, ttl), nil
	default:
		return domain.Answer{}, domain.NewResolveError(domain.ResolveNotFound, ErrBlocked)
	}
}

// sinkholeAnswer answers A and ANY with an A record for v4, and AAAA with v6.
// Other types, or a family without an address, get an empty NOERROR answer.
func sinkholeAnswer(q domain.Question, v4, v6 net.IP, ttl uint32) domain.Answer {
	var data []byte
	rrType := q.Type
	switch {
	case (q.Type == domain.RRTypeA || q.Type == domain.RRTypeANY) && v4 != nil:
		data = []byte(v4.To4())
		rrType = domain.RRTypeA
	case q.Type == domain.RRTypeAAAA && v6 != nil:
		data = []byte(v6.To16())
	default:
		return domain.Answer{}
	}
	return domain.Answer{Records: []domain.ResourceRecord{{
		Name:  q.Name,
		Type:  rrType,
		Class: q.Class,
		TTL:   ttl,
		Data:  data,
	}}}
}

var _ Resolver = (*Service)(nil)
