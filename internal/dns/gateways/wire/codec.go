// Package wire provides encoding and decoding of DNS messages in the
// RFC 1035 wire format.
package wire

import (
	"github.com/haukened/rr-dnsctl/internal/dns/domain"
)

const (
	// HeaderLen is the fixed size of the DNS header.
	HeaderLen = 12
	// MaxUDPSize is the classic DNS-over-UDP payload limit.
	MaxUDPSize = 512

	minQuestionLen = 5  // root name + type + class
	minRecordLen   = 11 // root name + type + class + ttl + rdlength
)

// Codec converts between domain messages and wire bytes. Implementations are
// stateless and safe for concurrent use.
type Codec interface {
	Decode(data []byte) (domain.Message, error)
	Encode(msg domain.Message) ([]byte, error)
}

// UDPCodec implements Codec for DNS over UDP.
type UDPCodec struct {
	compress bool
}

// Option configures a UDPCodec.
type Option func(*UDPCodec)

// WithCompression toggles owner-name compression on encode. Enabled by default.
func WithCompression(enabled bool) Option {
	return func(c *UDPCodec) { c.compress = enabled }
}

// NewUDPCodec returns a codec with compression enabled unless overridden.
func NewUDPCodec(opts ...Option) *UDPCodec {
	c := &UDPCodec{compress: true}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ Codec = (*UDPCodec)(nil)
