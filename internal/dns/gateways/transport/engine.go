package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmhodges/clock"

	"github.com/haukened/rr-dnsctl/internal/dns/common/log"
	"github.com/haukened/rr-dnsctl/internal/dns/domain"
	"github.com/haukened/rr-dnsctl/internal/dns/gateways/wire"
	"github.com/haukened/rr-dnsctl/internal/dns/services/resolver"
)

var errResolverPanic = errors.New("resolver panicked")

// UDPEngine serves DNS over UDP (RFC 1035). It owns the socket from Bind
// until it reaches StateClosed, runs one receive loop and one goroutine per
// admitted query, and tracks those goroutines so Drain can wait for them.
type UDPEngine struct {
	codec    wire.Codec
	resolver resolver.Resolver
	opts     Options
	clock    clock.Clock
	logger   log.Logger
	limiter  *clientLimiter

	mu    sync.Mutex
	state State
	conn  *net.UDPConn

	ctx       context.Context
	cancel    context.CancelFunc
	loopDone  chan struct{}
	closeOnce sync.Once
	closeErr  error

	// in-flight set
	wg       sync.WaitGroup
	sem      chan struct{}
	inFlight atomic.Int64

	draining  atomic.Bool
	abandoned atomic.Bool

	received     atomic.Uint64
	answered     atomic.Uint64
	dropped      atomic.Uint64
	rateLimited  atomic.Uint64
	decodeErrors atomic.Uint64
	ignored      atomic.Uint64
	sendErrors   atomic.Uint64
	abandonedN   atomic.Uint64
}

// NewUDPEngine creates an idle engine.
func NewUDPEngine(codec wire.Codec, res resolver.Resolver, opts Options) (*UDPEngine, error) {
	if codec == nil || res == nil {
		return nil, errors.New("codec and resolver are required")
	}
	opts = opts.withDefaults()
	limiter, err := newClientLimiter(opts.RateLimit, opts.RateBurst, opts.RateClients)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &UDPEngine{
		codec:    codec,
		resolver: res,
		opts:     opts,
		clock:    opts.Clock,
		logger:   opts.Logger.With(map[string]any{"transport": "udp"}),
		limiter:  limiter,
		ctx:      ctx,
		cancel:   cancel,
		loopDone: make(chan struct{}),
	}
	if opts.MaxInFlight > 0 {
		e.sem = make(chan struct{}, opts.MaxInFlight)
	}
	return e, nil
}

// Bind acquires the UDP socket. Failures are *domain.BindError.
func (e *UDPEngine) Bind(addr domain.BindAddress) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return fmt.Errorf("%w: bind while %s", ErrInvalidState, e.state)
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr.String())
	if err != nil {
		return &domain.BindError{Kind: domain.BindInvalidAddress, Addr: addr.String(), Err: err}
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return &domain.BindError{Kind: domain.ClassifyBindError(err), Addr: addr.String(), Err: err}
	}
	e.conn = conn
	e.state = StateBound
	e.logger.Debug(map[string]any{"address": conn.LocalAddr().String()}, "UDP socket bound")
	return nil
}

// Serve starts the receive loop and returns immediately.
func (e *UDPEngine) Serve() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateBound {
		return fmt.Errorf("%w: serve while %s", ErrInvalidState, e.state)
	}
	e.state = StateServing
	go e.receiveLoop()
	e.logger.Info(map[string]any{"address": e.conn.LocalAddr().String()}, "DNS transport started")
	return nil
}

// Addr returns the bound socket address, or nil before Bind.
func (e *UDPEngine) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	return e.conn.LocalAddr()
}

// State returns the current lifecycle state.
func (e *UDPEngine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats returns a snapshot of the engine counters.
func (e *UDPEngine) Stats() EngineStats {
	return EngineStats{
		Received:     e.received.Load(),
		Answered:     e.answered.Load(),
		Dropped:      e.dropped.Load(),
		RateLimited:  e.rateLimited.Load(),
		DecodeErrors: e.decodeErrors.Load(),
		Ignored:      e.ignored.Load(),
		SendErrors:   e.sendErrors.Load(),
		Abandoned:    e.abandonedN.Load(),
		InFlight:     e.inFlight.Load(),
	}
}

// Drain stops accepting datagrams, waits for in-flight queries to finish or
// ctx to expire, then releases the socket. Queries still running when ctx
// expires are abandoned: their resolvers see a cancelled context and their
// responses are never sent. Drain on a Bound engine closes it directly and
// Drain on a Closed engine is a no-op.
func (e *UDPEngine) Drain(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case StateIdle:
		e.state = StateClosed
		e.mu.Unlock()
		return nil
	case StateBound:
		e.mu.Unlock()
		return e.Close()
	case StateServing:
		e.state = StateDraining
		e.mu.Unlock()
	default:
		st := e.state
		e.mu.Unlock()
		if st == StateClosed {
			return nil
		}
		return fmt.Errorf("%w: drain while %s", ErrInvalidState, st)
	}

	e.draining.Store(true)
	// Wake the blocked read; the loop exits on the first error it sees.
	_ = e.conn.SetReadDeadline(time.Now())
	<-e.loopDone

	var err error
	if !e.waitInFlight(ctx) {
		n := e.inFlight.Load()
		e.abandoned.Store(true)
		e.abandonedN.Add(uint64(n))
		e.logger.Warn(map[string]any{"abandoned": n}, "Drain deadline reached with queries in flight")
		err = ctx.Err()
	}
	e.cancel()
	if cerr := e.closeConn(); err == nil {
		err = cerr
	}

	e.mu.Lock()
	e.state = StateClosed
	e.mu.Unlock()
	e.logger.Info(nil, "DNS transport stopped")
	return err
}

func (e *UDPEngine) waitInFlight(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close releases the socket immediately from any state. In-flight queries
// are abandoned.
func (e *UDPEngine) Close() error {
	e.mu.Lock()
	prev := e.state
	e.state = StateClosed
	e.mu.Unlock()
	if prev == StateClosed || prev == StateIdle {
		return nil
	}
	e.draining.Store(true)
	e.abandoned.Store(true)
	e.cancel()
	err := e.closeConn()
	if prev == StateServing || prev == StateDraining {
		<-e.loopDone
	}
	return err
}

func (e *UDPEngine) closeConn() error {
	e.closeOnce.Do(func() {
		if e.conn != nil {
			e.closeErr = e.conn.Close()
		}
	})
	return e.closeErr
}

func (e *UDPEngine) receiveLoop() {
	defer close(e.loopDone)
	buf := make([]byte, readBufferSize)
	for {
		n, client, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if e.draining.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			e.logger.Warn(map[string]any{"error": err.Error()}, "Failed to read UDP packet")
			continue
		}
		e.received.Add(1)
		now := e.clock.Now()

		if !e.limiter.Allow(client.IP.String(), now) {
			e.rateLimited.Add(1)
			continue
		}
		if !e.acquire() {
			e.dropped.Add(1)
			e.logger.Debug(map[string]any{"client": client.String()}, "Query dropped: too many in flight")
			continue
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])
		e.wg.Add(1)
		e.inFlight.Add(1)
		go e.handle(QueryContext{
			Data:       packet,
			Client:     client,
			ReceivedAt: now,
			Deadline:   now.Add(e.opts.QueryTimeout),
		})
	}
}

func (e *UDPEngine) acquire() bool {
	if e.sem == nil {
		return true
	}
	select {
	case e.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *UDPEngine) release() {
	if e.sem != nil {
		<-e.sem
	}
}

// handle runs one query from datagram to response.
func (e *UDPEngine) handle(qc QueryContext) {
	defer func() {
		e.inFlight.Add(-1)
		e.release()
		e.wg.Done()
	}()

	msg, err := e.codec.Decode(qc.Data)
	if err != nil {
		e.decodeErrors.Add(1)
		e.logger.Debug(map[string]any{
			"client": qc.Client.String(),
			"size":   len(qc.Data),
			"error":  err.Error(),
		}, "Failed to decode DNS query")
		return
	}
	if msg.IsResponse() {
		e.ignored.Add(1)
		return
	}

	reply := domain.NewReply(msg)
	reply.Flags.RA = e.opts.RecursionAvailable
	switch {
	case msg.Flags.Opcode != domain.OpcodeQuery:
		reply.Flags.RCode = domain.RCodeNotImp
	case len(msg.Questions) == 0:
		reply.Flags.RCode = domain.RCodeFormErr
	default:
		e.resolveAll(qc, msg, &reply)
	}
	e.send(qc, reply)
}

// resolveAll fills reply from one Resolve call per question. The first
// failure decides the rcode and empties every record section.
func (e *UDPEngine) resolveAll(qc QueryContext, msg domain.Message, reply *domain.Message) {
	ctx, cancel := context.WithTimeout(e.ctx, e.opts.QueryTimeout)
	defer cancel()
	ctx = domain.WithClientAddr(ctx, qc.Client)

	authoritative := true
	for _, q := range msg.Questions {
		ans, err := e.resolveOne(ctx, q)
		authoritative = authoritative && ans.Authoritative
		if err != nil {
			reply.Flags.RCode = domain.RCodeForError(err)
			reply.Flags.AA = authoritative
			reply.Answers, reply.Authority, reply.Additional = nil, nil, nil
			e.logger.Debug(map[string]any{
				"client":   qc.Client.String(),
				"query_id": msg.ID,
				"question": q.String(),
				"rcode":    reply.Flags.RCode.String(),
				"error":    err.Error(),
			}, "Question failed")
			return
		}
		if ans.RCode != domain.RCodeNoError && reply.Flags.RCode == domain.RCodeNoError {
			reply.Flags.RCode = ans.RCode
		}
		reply.Answers = append(reply.Answers, ans.Records...)
		reply.Authority = append(reply.Authority, ans.Authority...)
		reply.Additional = append(reply.Additional, ans.Additional...)
	}
	reply.Flags.AA = authoritative
}

type resolveResult struct {
	ans domain.Answer
	err error
}

// resolveOne calls the resolver on its own goroutine so a resolver that
// ignores ctx cannot hold the query past its deadline. A late result is
// discarded.
func (e *UDPEngine) resolveOne(ctx context.Context, q domain.Question) (domain.Answer, error) {
	ch := make(chan resolveResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error(map[string]any{"question": q.String(), "panic": fmt.Sprint(r)}, "Resolver panic recovered")
				ch <- resolveResult{err: fmt.Errorf("%w: %v", errResolverPanic, r)}
			}
		}()
		ans, err := e.resolver.Resolve(ctx, q)
		ch <- resolveResult{ans: ans, err: err}
	}()
	select {
	case r := <-ch:
		return r.ans, r.err
	case <-ctx.Done():
		return domain.Answer{}, domain.NewResolveError(domain.ResolveTimeout, ctx.Err())
	}
}

// send encodes and writes the reply. Oversize responses go out with TC set
// and no records; encode failures become SERVFAIL.
func (e *UDPEngine) send(qc QueryContext, reply domain.Message) {
	data, err := e.codec.Encode(reply)
	if err != nil {
		e.logger.Error(map[string]any{"client": qc.Client.String(), "query_id": reply.ID, "error": err.Error()}, "Failed to encode DNS response")
		reply.Flags.RCode = domain.RCodeServFail
		reply.Flags.AA = false
		reply.Answers, reply.Authority, reply.Additional = nil, nil, nil
		if data, err = e.codec.Encode(reply); err != nil {
			return
		}
	}
	if len(data) > e.opts.MaxUDPSize {
		reply.Flags.TC = true
		reply.Answers, reply.Authority, reply.Additional = nil, nil, nil
		if data, err = e.codec.Encode(reply); err != nil {
			return
		}
	}
	if e.abandoned.Load() {
		return
	}
	if _, err := e.conn.WriteToUDP(data, qc.Client); err != nil {
		e.sendErrors.Add(1)
		e.logger.Debug(map[string]any{"client": qc.Client.String(), "query_id": reply.ID, "error": err.Error()}, "Failed to send DNS response")
		return
	}
	e.answered.Add(1)
	e.logger.Debug(map[string]any{
		"client":   qc.Client.String(),
		"query_id": reply.ID,
		"rcode":    reply.Flags.RCode.String(),
		"answers":  len(reply.Answers),
		"size":     len(data),
		"elapsed":  e.clock.Since(qc.ReceivedAt).String(),
	}, "Sent DNS response")
}
