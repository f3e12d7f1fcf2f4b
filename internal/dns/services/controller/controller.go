// Package controller owns the service lifecycle: one UDP query engine and
// one service HTTP listener, started and stopped together.
package controller

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/jmhodges/clock"

	"github.com/haukened/rr-dnsctl/internal/dns/common/log"
	"github.com/haukened/rr-dnsctl/internal/dns/domain"
	"github.com/haukened/rr-dnsctl/internal/dns/gateways/transport"
)

// DefaultGrace bounds Stop when no grace period is configured.
const DefaultGrace = 5 * time.Second

// Engine is the query engine lifecycle the controller drives.
// *transport.UDPEngine satisfies it.
type Engine interface {
	Bind(addr domain.BindAddress) error
	Serve() error
	Drain(ctx context.Context) error
	Close() error
	Addr() net.Addr
	Stats() transport.EngineStats
}

// Listener is a running service HTTP listener.
type Listener interface {
	Addr() net.Addr
	Shutdown(ctx context.Context) error
}

// EngineFactory builds a fresh, idle engine for each Start.
type EngineFactory func() (Engine, error)

// ListenerFactory binds and starts the service HTTP listener. Bind failures
// must be returned synchronously.
type ListenerFactory func(addr domain.BindAddress) (Listener, error)

// Options configures a Controller.
type Options struct {
	Engines   EngineFactory
	Listeners ListenerFactory
	Grace     time.Duration
	Clock     clock.Clock
	Logger    log.Logger
}

// Snapshot describes the controller at one instant.
type Snapshot struct {
	State    string                 `json:"state"`
	HTTPAddr string                 `json:"http_addr,omitempty"`
	UDPAddr  string                 `json:"udp_addr,omitempty"`
	Since    time.Time              `json:"since"`
	Engine   *transport.EngineStats `json:"engine,omitempty"`
}

// Controller is the single owner of the running service. The mutex guards
// state and the running resources only; binding, serving and draining
// happen outside it.
type Controller struct {
	engines   EngineFactory
	listeners ListenerFactory
	grace     time.Duration
	clk       clock.Clock
	logger    log.Logger

	mu       sync.Mutex
	state    State
	since    time.Time
	engine   Engine
	listener Listener
}

// New builds a stopped Controller.
func New(opts Options) (*Controller, error) {
	if opts.Engines == nil || opts.Listeners == nil {
		return nil, errors.New("controller requires engine and listener factories")
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Controller{
		engines:   opts.Engines,
		listeners: opts.Listeners,
		grace:     opts.Grace,
		clk:       opts.Clock,
		logger:    opts.Logger.With(map[string]any{"component": "controller"}),
		state:     StateStopped,
		since:     opts.Clock.Now(),
	}, nil
}

// Start binds the UDP engine on udpBind and the service HTTP listener on
// httpAddr. Any failure releases whatever was acquired and leaves the
// controller Stopped.
func (c *Controller) Start(httpAddr, udpBind string) Status {
	c.mu.Lock()
	if c.state != StateStopped {
		st := c.state
		c.mu.Unlock()
		c.logger.Debug(map[string]any{"state": st.String()}, "Start rejected")
		return StatusAlreadyRunning
	}
	c.setStateLocked(StateStarting)
	c.mu.Unlock()

	engine, listener, status := c.acquire(httpAddr, udpBind)

	c.mu.Lock()
	defer c.mu.Unlock()
	if status != StatusSuccess {
		c.setStateLocked(StateStopped)
		return status
	}
	c.engine, c.listener = engine, listener
	c.setStateLocked(StateRunning)
	c.logger.Info(map[string]any{
		"udp":  engine.Addr().String(),
		"http": listener.Addr().String(),
	}, "Service started")
	return StatusSuccess
}

func (c *Controller) acquire(httpAddr, udpBind string) (Engine, Listener, Status) {
	udpAddr, err := domain.ParseBindAddress("udp", udpBind)
	if err != nil {
		c.logger.Warn(map[string]any{"udp_bind": udpBind, "error": err.Error()}, "Invalid UDP bind address")
		return nil, nil, StatusInvalidAddress
	}
	tcpAddr, err := domain.ParseBindAddress("tcp", httpAddr)
	if err != nil {
		c.logger.Warn(map[string]any{"http_addr": httpAddr, "error": err.Error()}, "Invalid HTTP address")
		return nil, nil, StatusInvalidAddress
	}

	engine, err := c.engines()
	if err != nil {
		c.logger.Error(map[string]any{"error": err.Error()}, "Failed to build query engine")
		return nil, nil, StatusBindFailed
	}
	if err := engine.Bind(udpAddr); err != nil {
		_ = engine.Close()
		c.logger.Error(map[string]any{"udp_bind": udpBind, "error": err.Error()}, "UDP bind failed")
		return nil, nil, statusForBindError(err)
	}
	if err := engine.Serve(); err != nil {
		_ = engine.Close()
		c.logger.Error(map[string]any{"error": err.Error()}, "Query engine failed to serve")
		return nil, nil, StatusBindFailed
	}

	listener, err := c.listeners(tcpAddr)
	if err != nil {
		_ = engine.Close()
		c.logger.Error(map[string]any{"http_addr": httpAddr, "error": err.Error()}, "HTTP listener failed")
		return nil, nil, statusForBindError(err)
	}
	return engine, listener, StatusSuccess
}

// Stop shuts the HTTP listener and drains the engine concurrently, both
// under one grace deadline, so the UDP socket is closed no later than grace
// after the call.
func (c *Controller) Stop() Status {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return StatusNotRunning
	}
	c.setStateLocked(StateStopping)
	engine, listener := c.engine, c.listener
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.grace)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := listener.Shutdown(ctx); err != nil {
			c.logger.Warn(map[string]any{"error": err.Error()}, "HTTP listener shutdown incomplete")
		}
	}()
	if err := engine.Drain(ctx); err != nil {
		c.logger.Warn(map[string]any{"error": err.Error()}, "Query engine drain incomplete")
	}
	wg.Wait()

	c.mu.Lock()
	c.engine, c.listener = nil, nil
	c.setStateLocked(StateStopped)
	c.mu.Unlock()
	c.logger.Info(nil, "Service stopped")
	return StatusSuccess
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot reports the state, bound addresses and engine counters. Addresses
// and counters are filled while the service is Running or Stopping, and are
// empty while Starting or Stopped.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{State: c.state.String(), Since: c.since}
	engine, listener := c.engine, c.listener
	c.mu.Unlock()

	if engine != nil {
		if a := engine.Addr(); a != nil {
			s.UDPAddr = a.String()
		}
		st := engine.Stats()
		s.Engine = &st
	}
	if listener != nil {
		if a := listener.Addr(); a != nil {
			s.HTTPAddr = a.String()
		}
	}
	return s
}

func (c *Controller) setStateLocked(s State) {
	c.state = s
	c.since = c.clk.Now()
}

func statusForBindError(err error) Status {
	var be *domain.BindError
	if errors.As(err, &be) && be.Kind == domain.BindInvalidAddress {
		return StatusInvalidAddress
	}
	return StatusBindFailed
}
