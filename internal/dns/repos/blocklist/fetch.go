package blocklist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/jmhodges/clock"

	logpkg "github.com/haukened/rr-dnsctl/internal/dns/common/log"
	"github.com/haukened/rr-dnsctl/internal/dns/domain"
	"github.com/haukened/rr-dnsctl/internal/dns/repos/blocklist/parsers"
)

const (
	// DefaultFetchTimeout bounds one remote list download.
	DefaultFetchTimeout = 15 * time.Second
	// DefaultFetchMaxBytes caps the size of a remote list.
	DefaultFetchMaxBytes = 64 << 20
	// SampleSize is how many patterns Fetched.Sample keeps.
	SampleSize = 10
)

var (
	ErrUnsupportedURL = errors.New("list URL must be http or https")
	ErrListTooLarge   = errors.New("remote list exceeds size limit")
)

// FetcherOptions configures a Fetcher. Zero values take the defaults above.
type FetcherOptions struct {
	Client   *http.Client
	Timeout  time.Duration
	MaxBytes int64
	Clock    clock.Clock
	Logger   logpkg.Logger
}

// Fetcher downloads remote hosts or plain lists for import and validation.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	clk      clock.Clock
	logger   logpkg.Logger
}

// Fetched is a parsed remote list.
type Fetched struct {
	URL      string   `json:"url"`
	Format   string   `json:"format"`
	Count    int      `json:"count"`
	Sample   []string `json:"sample"`
	Patterns []string `json:"-"`
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFetchTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultFetchMaxBytes
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNoopLogger()
	}
	return &Fetcher{
		client:   opts.Client,
		maxBytes: opts.MaxBytes,
		clk:      opts.Clock,
		logger:   opts.Logger.With(map[string]any{"component": "list_fetcher"}),
	}
}

// Fetch downloads rawURL and parses it with the list parsers.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Fetched, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Fetched{}, fmt.Errorf("%w: %q", ErrUnsupportedURL, rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Fetched{}, err
	}
	start := f.clk.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return Fetched{}, fmt.Errorf("fetch %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Fetched{}, fmt.Errorf("fetch %s: unexpected status %s", u.Redacted(), resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return Fetched{}, fmt.Errorf("fetch %s: %w", u.Redacted(), err)
	}
	if int64(len(body)) > f.maxBytes {
		return Fetched{}, fmt.Errorf("%w: %s", ErrListTooLarge, u.Redacted())
	}

	rules, format, err := parsers.Parse(bytes.NewReader(body), u.Hostname(), f.logger, f.clk.Now())
	if err != nil {
		return Fetched{}, fmt.Errorf("parse %s: %w", u.Redacted(), err)
	}
	out := Fetched{
		URL:      u.Redacted(),
		Format:   format.String(),
		Count:    len(rules),
		Patterns: patternsOf(rules),
	}
	out.Sample = out.Patterns[:min(SampleSize, len(out.Patterns))]
	f.logger.Info(map[string]any{
		"url":      out.URL,
		"format":   out.Format,
		"rules":    out.Count,
		"bytes":    len(body),
		"duration": f.clk.Since(start).String(),
	}, "remote list fetched")
	return out, nil
}

// ListNameFromURL derives a list name from the last path element without its
// extension, falling back to the host name.
func ListNameFromURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	base = strings.TrimSuffix(base, path.Ext(base))
	if base == "" || base == "." || base == "/" {
		base = u.Hostname()
	}
	return base
}

func patternsOf(rules []domain.BlockRule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.Pattern()
	}
	return out
}
