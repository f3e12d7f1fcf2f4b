package blocklist

import (
	"github.com/haukened/rr-dnsctl/internal/dns/domain"
	"github.com/haukened/rr-dnsctl/internal/dns/services/resolver"
)

// NoopBlocklist blocks nothing. It stands in when blocking is disabled.
type NoopBlocklist struct{}

func (n *NoopBlocklist) Decide(string) domain.BlockDecision {
	return domain.EmptyDecision()
}

var _ resolver.Blocklist = (*NoopBlocklist)(nil)
