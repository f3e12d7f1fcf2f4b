package parsers

import (
	"io"
	"net"
	"strings"
	"time"

	logpkg "github.com/haukened/rr-dnsctl/internal/dns/common/log"
	"github.com/haukened/rr-dnsctl/internal/dns/domain"
)

// ParseHostsFile reads /etc/hosts-style lists: "<ip> <name> [<name>...]".
// The address is ignored and every name becomes a rule. Wildcard names are
// accepted as suffix rules, as in plain lists. The loopback and multicast
// aliases that stock hosts files carry (localhost, ip6-*, ff02 and friends)
// are dropped.
func ParseHostsFile(r io.Reader, source string, logger logpkg.Logger, now time.Time) ([]domain.BlockRule, error) {
	return scanRules(r, source, FormatHosts, logger, now)
}

// isHostsLine reports whether a data line starts with an IP address.
func isHostsLine(line string) bool {
	fields := strings.Fields(stripInlineComment(line))
	return len(fields) > 0 && net.ParseIP(fields[0]) != nil
}
