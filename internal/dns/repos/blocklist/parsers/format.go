package parsers

import (
	"bufio"
	"bytes"
	"io"
	"time"

	logpkg "github.com/haukened/rr-dnsctl/internal/dns/common/log"
	"github.com/haukened/rr-dnsctl/internal/dns/domain"
)

// Format names a list file syntax.
type Format uint8

const (
	FormatPlain Format = iota
	FormatHosts
)

func (f Format) String() string {
	if f == FormatHosts {
		return "hosts"
	}
	return "plain"
}

// DetectFormat looks at the first data line: a leading IP address means
// hosts, anything else is a plain list.
func DetectFormat(data []byte) Format {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := stripLineBOM(scanner.Text())
		if isEmpty, isComment := classifyLine(line); isEmpty || isComment {
			continue
		}
		if isHostsLine(line) {
			return FormatHosts
		}
		return FormatPlain
	}
	return FormatPlain
}

// Parse reads a whole list and dispatches on DetectFormat.
func Parse(r io.Reader, source string, logger logpkg.Logger, now time.Time) ([]domain.BlockRule, Format, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, FormatPlain, err
	}
	format := DetectFormat(data)
	var rules []domain.BlockRule
	if format == FormatHosts {
		rules, err = ParseHostsFile(bytes.NewReader(data), source, logger, now)
	} else {
		rules, err = ParsePlainList(bytes.NewReader(data), source, logger, now)
	}
	return rules, format, err
}
