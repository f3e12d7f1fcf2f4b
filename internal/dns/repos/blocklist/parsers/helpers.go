package parsers

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/haukened/rr-dnsctl/internal/dns/common/utils"
	"github.com/haukened/rr-dnsctl/internal/dns/domain"
)

// Reasons a list token yields no rule.
var (
	ErrAddressToken = errors.New("token is an IP address")
	ErrReservedName = errors.New("reserved local name")
	ErrInvalidName  = errors.New("not a blockable domain name")
)

// reservedNames ship in every stock hosts file and must never be blocked.
var reservedNames = map[string]struct{}{
	"localhost":             {},
	"localhost.localdomain": {},
	"local":                 {},
	"broadcasthost":         {},
}

// ParsePattern turns one list token into a rule. "*.name" and ".name" are
// suffix rules covering the subdomains of name; a '*' anywhere else is
// invalid. IP literals and reserved local names are refused.
func ParsePattern(token, source string, now time.Time) (domain.BlockRule, error) {
	token = strings.TrimSpace(token)
	if net.ParseIP(token) != nil {
		return domain.BlockRule{}, ErrAddressToken
	}
	kind := ruleKindFromRaw(token)
	raw := stripSuffixMarker(token)
	if strings.ContainsAny(raw, "*/\\@") {
		return domain.BlockRule{}, fmt.Errorf("%w: %q", ErrInvalidName, token)
	}
	name := utils.CanonicalDNSName(raw)
	if isReservedName(name) {
		return domain.BlockRule{}, fmt.Errorf("%w: %q", ErrReservedName, name)
	}
	if !isValidFQDN(name) {
		return domain.BlockRule{}, fmt.Errorf("%w: %q", ErrInvalidName, token)
	}
	return domain.NewBlockRule(name, kind, source, now)
}

// SplitItems breaks free-form user input on commas and whitespace.
func SplitItems(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ',', ' ', '\t', '\n', '\r':
			return true
		}
		return false
	})
}

// lineTokens returns the name tokens of a list line. When the first field is
// an IP address the rest of the line names hosts, so an address-only line
// yields nothing. Otherwise every field is a name.
func lineTokens(line string) []string {
	fields := strings.Fields(stripInlineComment(line))
	if len(fields) > 0 && net.ParseIP(fields[0]) != nil {
		return fields[1:]
	}
	return fields
}

func ruleKindFromRaw(raw string) domain.BlockRuleKind {
	if strings.HasPrefix(raw, "*.") || strings.HasPrefix(raw, ".") {
		return domain.BlockRuleSuffix
	}
	return domain.BlockRuleExact
}

func stripSuffixMarker(raw string) string {
	if s, ok := strings.CutPrefix(raw, "*."); ok {
		return s
	}
	return strings.TrimPrefix(raw, ".")
}

// isReservedName matches loopback names, the ip6-* aliases and ffNN
// multicast markers found in distribution hosts files.
func isReservedName(name string) bool {
	if _, ok := reservedNames[name]; ok {
		return true
	}
	if strings.HasPrefix(name, "ip6-") {
		return true
	}
	first, _, _ := strings.Cut(name, ".")
	return len(first) == 4 && strings.HasPrefix(first, "ff") && isHex(first)
}

// isValidFQDN wants two or more labels of letters, digits, '-' or '_', each
// 1-63 bytes and not starting with '-', within 253 bytes overall.
func isValidFQDN(name string) bool {
	if len(name) == 0 || len(name) > 253 {
		return false
	}
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 || label[0] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			if !isLabelByte(label[i]) {
				return false
			}
		}
	}
	return true
}

func isLabelByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' || c == '_'
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// stripLineBOM removes a UTF-8 byte order mark from the start of a line.
func stripLineBOM(line string) string {
	return strings.TrimPrefix(line, "\uFEFF")
}

// classifyLine reports whether line is blank or a whole-line '#' comment.
func classifyLine(line string) (isEmpty, isComment bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true, false
	}
	return false, strings.HasPrefix(trimmed, "#")
}

// stripInlineComment cuts everything from the first '#'.
func stripInlineComment(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		return line[:idx]
	}
	return line
}
