package parsers

import (
	"bufio"
	"errors"
	"io"
	"time"

	logpkg "github.com/haukened/rr-dnsctl/internal/dns/common/log"
	"github.com/haukened/rr-dnsctl/internal/dns/domain"
)

// maxLineBytes bounds a single list line; longer lines fail the parse.
const maxLineBytes = 1 << 20

// ParsePlainList reads a list of one or more names per line. "*.name" and
// ".name" are suffix rules; everything else is exact. A line led by an IP
// address is read the hosts way, so mixed files parse cleanly.
func ParsePlainList(r io.Reader, source string, logger logpkg.Logger, now time.Time) ([]domain.BlockRule, error) {
	return scanRules(r, source, FormatPlain, logger, now)
}

// scanRules is the line reader shared by both formats. Comments, blank lines,
// address-only lines, IP tokens and reserved names are skipped; rules are
// de-duplicated by pattern in first-seen order.
func scanRules(r io.Reader, source string, format Format, logger logpkg.Logger, now time.Time) ([]domain.BlockRule, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lg := logger.With(map[string]any{"source": source, "format": format.String()})
	seen := make(map[string]struct{})
	out := make([]domain.BlockRule, 0, 256)
	skipped := 0

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := stripLineBOM(scanner.Text())
		if isEmpty, isComment := classifyLine(line); isEmpty || isComment {
			continue
		}
		tokens := lineTokens(line)
		if len(tokens) == 0 {
			lg.Debug(map[string]any{"line": lineNum}, "Skipping address-only line")
			continue
		}
		for _, tok := range tokens {
			rule, err := ParsePattern(tok, source, now)
			if err != nil {
				if !errors.Is(err, ErrAddressToken) {
					skipped++
				}
				lg.Debug(map[string]any{"line": lineNum, "token": tok, "error": err.Error()}, "Skipping list token")
				continue
			}
			key := rule.Pattern()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, rule)
		}
	}
	if err := scanner.Err(); err != nil {
		lg.Warn(map[string]any{"line": lineNum, "error": err.Error()}, "List read failed")
		return nil, err
	}
	lg.Debug(map[string]any{"rules": len(out), "skipped": skipped}, "List parsed")
	return out, nil
}
