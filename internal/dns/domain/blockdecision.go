package domain

import (
	"fmt"
	"net"
	"strings"
)

// BlockDecision is the outcome of evaluating a name against the blocklist.
type BlockDecision struct {
	Blocked     bool
	MatchedRule string
	Source      string
	Kind        BlockRuleKind
}

// EmptyDecision returns a not-blocked decision.
func EmptyDecision() BlockDecision { return BlockDecision{} }

// BlockMode selects how a blocked query is answered.
type BlockMode string

const (
	// BlockModeNX answers NXDOMAIN.
	BlockModeNX BlockMode = "nx"
	// BlockModeNull answers A 0.0.0.0 / AAAA ::.
	BlockModeNull BlockMode = "null"
	// BlockModeRedirect answers with the configured block page address.
	BlockModeRedirect BlockMode = "redirect"
	// BlockModeRefused answers REFUSED.
	BlockModeRefused BlockMode = "refused"
)

// ParseBlockMode accepts the mode names case-insensitively.
func ParseBlockMode(s string) (BlockMode, error) {
	m := BlockMode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case BlockModeNX, BlockModeNull, BlockModeRedirect, BlockModeRefused:
		return m, nil
	}
	return "", fmt.Errorf("unsupported block mode %q", s)
}

// BlockPolicy pairs a mode with the redirect target used by BlockModeRedirect.
// A redirect policy without BlockIP answers with 127.0.0.1.
type BlockPolicy struct {
	Mode    BlockMode
	BlockIP net.IP
	TTL     uint32
}
