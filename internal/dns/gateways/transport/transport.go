// Package transport owns the network side of the DNS service: the UDP socket,
// the receive loop, admission control and graceful drain. Resolution itself is
// delegated to a resolver.Resolver; the transport only sees domain messages.
package transport

import (
	"errors"
	"net"
	"time"

	"github.com/jmhodges/clock"

	"github.com/haukened/rr-dnsctl/internal/dns/common/log"
)

// TransportType represents the different types of DNS transport protocols supported.
type TransportType string

const (
	// TransportUDP represents standard DNS over UDP (RFC 1035)
	TransportUDP TransportType = "udp"

	// TransportDoH represents DNS over HTTPS (RFC 8484) - not implemented
	TransportDoH TransportType = "doh"

	// TransportDoT represents DNS over TLS (RFC 7858) - not implemented
	TransportDoT TransportType = "dot"
)

// ErrInvalidState is returned when a lifecycle method is called out of order.
var ErrInvalidState = errors.New("engine in wrong state")

// State is the lifecycle position of an engine.
// Transitions only move forward: Idle, Bound, Serving, Draining, Closed.
type State uint32

const (
	StateIdle State = iota
	StateBound
	StateServing
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBound:
		return "bound"
	case StateServing:
		return "serving"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options tunes a UDPEngine. Zero values select the defaults below.
type Options struct {
	// MaxInFlight caps concurrently handled queries; datagrams beyond it are
	// dropped. 0 means unbounded.
	MaxInFlight int
	// QueryTimeout bounds each Resolve call.
	QueryTimeout time.Duration
	// MaxUDPSize is the largest response sent before truncating.
	MaxUDPSize int
	// RecursionAvailable sets RA on every response.
	RecursionAvailable bool
	// RateLimit is queries per second per client IP; 0 disables limiting.
	RateLimit float64
	RateBurst int
	// RateClients is how many client limiters are remembered.
	RateClients int

	Clock  clock.Clock
	Logger log.Logger
}

const (
	DefaultQueryTimeout = 4 * time.Second
	DefaultMaxUDPSize   = 512
	defaultRateClients  = 4096
	readBufferSize      = 65535
)

func (o Options) withDefaults() Options {
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = DefaultQueryTimeout
	}
	if o.MaxUDPSize < DefaultMaxUDPSize {
		o.MaxUDPSize = DefaultMaxUDPSize
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 1
	}
	if o.RateClients <= 0 {
		o.RateClients = defaultRateClients
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = log.NewNoopLogger()
	}
	return o
}

// EngineStats is a snapshot of engine counters.
type EngineStats struct {
	Received     uint64 `json:"received"`
	Answered     uint64 `json:"answered"`
	Dropped      uint64 `json:"dropped"`
	RateLimited  uint64 `json:"rate_limited"`
	DecodeErrors uint64 `json:"decode_errors"`
	Ignored      uint64 `json:"ignored"`
	SendErrors   uint64 `json:"send_errors"`
	Abandoned    uint64 `json:"abandoned"`
	InFlight     int64  `json:"in_flight"`
}

// QueryContext is everything known about one datagram. It belongs to the
// goroutine handling that query.
type QueryContext struct {
	Data       []byte
	Client     *net.UDPAddr
	ReceivedAt time.Time
	Deadline   time.Time
}
