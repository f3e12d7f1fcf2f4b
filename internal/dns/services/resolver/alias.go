package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/haukened/rr-dnsctl/internal/dns/common/log"
	"github.com/haukened/rr-dnsctl/internal/dns/domain"
	"github.com/haukened/rr-dnsctl/internal/dns/gateways/wire"
)

var (
	// ErrAliasDepthExceeded is returned when a chain has more CNAME hops than
	// the configured maximum.
	ErrAliasDepthExceeded = errors.New("alias resolution max depth exceeded")
	// ErrAliasLoopDetected is returned when an owner name repeats in a chain.
	ErrAliasLoopDetected = errors.New("alias loop detected")
	// ErrAliasTargetInvalid indicates the CNAME rdata did not hold a name.
	ErrAliasTargetInvalid = errors.New("alias target invalid")
)

// DefaultMaxAliasDepth bounds CNAME chains when no limit is configured.
const DefaultMaxAliasDepth = 8

// aliasChaser follows CNAMEs found in zone data. Each hop is looked up in the
// zones first; targets outside every zone go to next, which is the
// cache/upstream half of the chain.
type aliasChaser struct {
	zone     ZoneCache
	next     Resolver
	logger   log.Logger
	maxDepth int
}

// NewAliasChaser returns an AliasResolver. next may be nil, in which case
// chains stop at the first target outside the loaded zones.
func NewAliasChaser(zone ZoneCache, next Resolver, logger log.Logger, maxDepth int) AliasResolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxAliasDepth
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &aliasChaser{zone: zone, next: next, logger: logger, maxDepth: maxDepth}
}

type chaseState struct {
	query   domain.Question
	chain   []domain.ResourceRecord
	visited map[string]struct{}
	depth   int
	current []domain.ResourceRecord
}

// Chase expands the chain that starts at initial. The result is the CNAME
// hops in order followed by the terminal record set, if one was found. On
// error the chain gathered so far is returned with it.
func (a *aliasChaser) Chase(ctx context.Context, q domain.Question, initial []domain.ResourceRecord) ([]domain.ResourceRecord, error) {
	if !shouldChase(q, initial) {
		return initial, nil
	}
	st := &chaseState{
		query:   q,
		chain:   make([]domain.ResourceRecord, 0, len(initial)+4),
		visited: map[string]struct{}{},
		current: initial,
	}
	for isHeadCNAME(st.current) {
		head := st.current[0]
		if err := a.guard(st, head); err != nil {
			st.chain = append(st.chain, head)
			return st.chain, err
		}
		st.chain = append(st.chain, head)

		target, _, err := wire.NameFromWire(head.Data)
		if err != nil || target == "." {
			return st.chain, fmt.Errorf("%w: %s", ErrAliasTargetInvalid, head.Name)
		}
		next, final, found := a.lookup(ctx, st, target)
		if !found {
			break
		}
		if final || !isHeadCNAME(next) {
			st.chain = append(st.chain, next...)
			break
		}
		st.current = next
	}
	return st.chain, nil
}

func shouldChase(q domain.Question, initial []domain.ResourceRecord) bool {
	return q.Type != domain.RRTypeCNAME && q.Type != domain.RRTypeANY && isHeadCNAME(initial)
}

func isHeadCNAME(rrs []domain.ResourceRecord) bool {
	return len(rrs) > 0 && rrs[0].Type == domain.RRTypeCNAME
}

func (a *aliasChaser) guard(st *chaseState, head domain.ResourceRecord) error {
	st.depth++
	fields := map[string]any{
		"query":       st.query.String(),
		"alias_name":  head.Name,
		"alias_depth": st.depth,
	}
	if st.depth > a.maxDepth {
		a.logger.Warn(fields, "Alias depth exceeded")
		return ErrAliasDepthExceeded
	}
	name := strings.ToLower(head.Name)
	if _, ok := st.visited[name]; ok {
		a.logger.Warn(fields, "Alias loop detected")
		return ErrAliasLoopDetected
	}
	st.visited[name] = struct{}{}
	return nil
}

// lookup resolves the next hop from zone data, or from next when the target
// lies outside every zone. Zone lookups return a CNAME in place of a missing
// type, which keeps the chain going. final is set for answers from next,
// which arrive with their own chain already followed.
func (a *aliasChaser) lookup(ctx context.Context, st *chaseState, target string) (recs []domain.ResourceRecord, final, found bool) {
	q := domain.Question{Name: target, Type: st.query.Type, Class: st.query.Class}
	if a.zone != nil {
		zr, res := a.zone.FindRecords(q)
		switch res {
		case ZoneAnswer:
			return zr, false, true
		case ZoneNoData, ZoneNameError:
			return nil, false, false
		}
	}
	if a.next == nil {
		return nil, false, false
	}
	ans, err := a.next.Resolve(ctx, q)
	if err != nil {
		a.logger.Debug(map[string]any{"error": err.Error(), "target": target}, "Alias target lookup failed")
		return nil, false, false
	}
	return ans.Records, true, len(ans.Records) > 0
}

var _ AliasResolver = (*aliasChaser)(nil)
