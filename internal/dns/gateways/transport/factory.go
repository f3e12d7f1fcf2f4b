package transport

import (
	"fmt"

	"github.com/haukened/rr-dnsctl/internal/dns/gateways/wire"
	"github.com/haukened/rr-dnsctl/internal/dns/services/resolver"
)

// NewEngine creates an idle engine for the given transport type. Only UDP is
// implemented; the other types are reserved names.
func NewEngine(transportType TransportType, codec wire.Codec, res resolver.Resolver, opts Options) (*UDPEngine, error) {
	switch transportType {
	case TransportUDP:
		return NewUDPEngine(codec, res, opts)

	case TransportDoH:
		return nil, fmt.Errorf("DNS over HTTPS transport not yet implemented")

	case TransportDoT:
		return nil, fmt.Errorf("DNS over TLS transport not yet implemented")

	default:
		return nil, fmt.Errorf("unsupported transport type: %s", transportType)
	}
}

// GetSupportedTransports returns a list of currently supported transport types.
func GetSupportedTransports() []TransportType {
	return []TransportType{TransportUDP}
}

// IsTransportSupported checks if a given transport type is currently supported.
func IsTransportSupported(transportType TransportType) bool {
	for _, t := range GetSupportedTransports() {
		if t == transportType {
			return true
		}
	}
	return false
}
