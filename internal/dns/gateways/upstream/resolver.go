package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/haukened/rr-dnsctl/internal/dns/common/log"
	"github.com/haukened/rr-dnsctl/internal/dns/domain"
	"github.com/haukened/rr-dnsctl/internal/dns/gateways/wire"
	"github.com/haukened/rr-dnsctl/internal/dns/services/resolver"
)

// Error message constants for consistent error handling
const (
	errNoServersProvided = "no upstream DNS servers provided"
	errServerFailed      = "server %s: %w"
	errAllServersFailed  = "all %d upstream servers failed"
	errQueryTimeout      = "query timeout after %v"
	errExchangeFailed    = "exchange failed: %w"
	errPackFailed        = "pack failed: %w"
	errDecodeFailed      = "decode failed: %w"
	errServerRCode       = "server answered %s"
)

// DefaultTimeout applies when the caller's context carries no deadline.
const DefaultTimeout = 5 * time.Second

// Resolver forwards questions to external DNS servers over UDP. Messages are
// built and exchanged with miekg/dns; replies are re-read through the wire
// codec so the records handed back use the same representation as the rest
// of the service.
type Resolver struct {
	servers  []string      // upstream servers, e.g. "1.1.1.1:53"
	timeout  time.Duration // used when ctx has no deadline
	codec    wire.Codec
	parallel bool
	exchange ExchangeFunc
	logger   log.Logger
}

// ExchangeFunc sends m to server and returns the reply.
type ExchangeFunc func(ctx context.Context, m *dns.Msg, server string) (*dns.Msg, error)

// Options defines configuration parameters for the upstream DNS resolver.
type Options struct {
	// required parameters
	Servers  []string
	Timeout  time.Duration
	Parallel bool
	// options to inject for testing purposes
	Codec    wire.Codec
	Exchange ExchangeFunc
	Logger   log.Logger
}

// NewResolver creates a new upstream resolver with the specified options.
// Returns an error if the server list is empty. The timeout defaults to
// DefaultTimeout and the codec to an uncompressed UDP codec.
func NewResolver(opts Options) (*Resolver, error) {
	if len(opts.Servers) == 0 {
		return nil, errors.New(errNoServersProvided)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Codec == nil {
		opts.Codec = wire.NewUDPCodec()
	}
	if opts.Exchange == nil {
		opts.Exchange = exchangeUDP
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	servers := make([]string, len(opts.Servers))
	copy(servers, opts.Servers)
	return &Resolver{
		servers:  servers,
		timeout:  opts.Timeout,
		codec:    opts.Codec,
		parallel: opts.Parallel,
		exchange: opts.Exchange,
		logger:   opts.Logger.With(map[string]any{"component": "upstream"}),
	}, nil
}

// Servers returns the configured upstream addresses.
func (r *Resolver) Servers() []string {
	out := make([]string, len(r.servers))
	copy(out, r.servers)
	return out
}

// exchangeUDP uses a fresh client per call; the client's timeout is taken
// from the context deadline.
func exchangeUDP(ctx context.Context, m *dns.Msg, server string) (*dns.Msg, error) {
	c := &dns.Client{Net: "udp"}
	if deadline, ok := ctx.Deadline(); ok {
		c.Timeout = time.Until(deadline)
	}
	resp, _, err := c.Exchange(m, server)
	return resp, err
}

// ensureContextDeadline ensures the context has a deadline, adding the resolver's default timeout if needed.
func (r *Resolver) ensureContextDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); !ok {
		return context.WithTimeout(ctx, r.timeout)
	}
	return ctx, func() {}
}

// Resolve forwards q upstream. Serial mode tries each server in order;
// parallel mode asks all of them and takes the first usable reply. An
// NXDOMAIN from any server is final.
func (r *Resolver) Resolve(ctx context.Context, q domain.Question) (domain.Answer, error) {
	ctx, cancel := r.ensureContextDeadline(ctx)
	defer cancel()

	if r.parallel {
		return r.resolveParallel(ctx, q)
	}
	return r.resolveSerial(ctx, q)
}

func (r *Resolver) resolveSerial(ctx context.Context, q domain.Question) (domain.Answer, error) {
	var lastErr error
	for _, server := range r.servers {
		ans, err := r.queryServer(ctx, server, q)
		if err == nil || isFinal(err) {
			return ans, err
		}
		r.logger.Debug(map[string]any{"server": server, "question": q.String(), "error": err.Error()}, "Upstream server failed")
		lastErr = fmt.Errorf(errServerFailed, server, err)
		if ctx.Err() != nil {
			return domain.Answer{}, timeoutError(ctx, r.timeout)
		}
	}
	return domain.Answer{}, fmt.Errorf(errAllServersFailed+": %w", len(r.servers), lastErr)
}

type serverResult struct {
	server string
	ans    domain.Answer
	err    error
}

func (r *Resolver) resolveParallel(ctx context.Context, q domain.Question) (domain.Answer, error) {
	// Results for servers that lose the race are dropped once ctx is cancelled.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan serverResult, len(r.servers))
	for _, server := range r.servers {
		go func(srv string) {
			ans, err := r.queryServer(ctx, srv, q)
			results <- serverResult{server: srv, ans: ans, err: err}
		}(server)
	}

	var errs []error
	for i := 0; i < len(r.servers); i++ {
		select {
		case res := <-results:
			if res.err == nil || isFinal(res.err) {
				return res.ans, res.err
			}
			r.logger.Debug(map[string]any{"server": res.server, "question": q.String(), "error": res.err.Error()}, "Upstream server failed")
			errs = append(errs, fmt.Errorf(errServerFailed, res.server, res.err))
		case <-ctx.Done():
			return domain.Answer{}, timeoutError(ctx, r.timeout)
		}
	}
	return domain.Answer{}, fmt.Errorf(errAllServersFailed+": %w", len(r.servers), errors.Join(errs...))
}

// queryServer runs one exchange and converts the reply.
func (r *Resolver) queryServer(ctx context.Context, server string, q domain.Question) (domain.Answer, error) {
	m := new(dns.Msg)
	m.SetQuestion(q.Name, uint16(q.Type))
	m.Question[0].Qclass = uint16(q.Class)
	m.RecursionDesired = true

	type result struct {
		resp *dns.Msg
		err  error
	}
	resultChan := make(chan result, 1)
	go func() {
		resp, err := r.exchange(ctx, m, server)
		resultChan <- result{resp: resp, err: err}
	}()

	var resp *dns.Msg
	select {
	case res := <-resultChan:
		if res.err != nil {
			if ctx.Err() != nil {
				return domain.Answer{}, timeoutError(ctx, r.timeout)
			}
			var ne net.Error
			if errors.As(res.err, &ne) && ne.Timeout() {
				return domain.Answer{}, domain.NewResolveError(domain.ResolveTimeout, fmt.Errorf(errExchangeFailed, res.err))
			}
			return domain.Answer{}, domain.NewResolveError(domain.ResolveUpstreamFailure, fmt.Errorf(errExchangeFailed, res.err))
		}
		resp = res.resp
	case <-ctx.Done():
		return domain.Answer{}, timeoutError(ctx, r.timeout)
	}
	return r.convert(resp)
}

// convert maps an upstream reply onto an Answer or a ResolveError.
func (r *Resolver) convert(resp *dns.Msg) (domain.Answer, error) {
	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return domain.Answer{}, domain.NewResolveError(domain.ResolveNotFound, fmt.Errorf(errServerRCode, dns.RcodeToString[resp.Rcode]))
	case dns.RcodeRefused:
		return domain.Answer{}, domain.NewResolveError(domain.ResolveRefused, fmt.Errorf(errServerRCode, dns.RcodeToString[resp.Rcode]))
	default:
		return domain.Answer{}, domain.NewResolveError(domain.ResolveUpstreamFailure, fmt.Errorf(errServerRCode, dns.RcodeToString[resp.Rcode]))
	}

	packed, err := resp.Pack()
	if err != nil {
		return domain.Answer{}, domain.NewResolveError(domain.ResolveUpstreamFailure, fmt.Errorf(errPackFailed, err))
	}
	msg, err := r.codec.Decode(packed)
	if err != nil {
		return domain.Answer{}, domain.NewResolveError(domain.ResolveUpstreamFailure, fmt.Errorf(errDecodeFailed, err))
	}
	return domain.Answer{
		Records:   msg.Answers,
		Authority: msg.Authority,
	}, nil
}

func isFinal(err error) bool {
	var re *domain.ResolveError
	return errors.As(err, &re) && re.Kind == domain.ResolveNotFound
}

func timeoutError(ctx context.Context, timeout time.Duration) error {
	return domain.NewResolveError(domain.ResolveTimeout, fmt.Errorf(errQueryTimeout+": %w", timeout, ctx.Err()))
}

var (
	_ resolver.UpstreamClient = (*Resolver)(nil)
	_ resolver.Resolver       = (*Resolver)(nil)
)
