package domain

import (
	"net"
	"strconv"
)

// BindAddress is a parsed "host:port" listen address. An empty Host means
// all interfaces and Port 0 asks the kernel for an ephemeral port.
type BindAddress struct {
	Network string
	Host    string
	Port    int
}

// ParseBindAddress validates a listen address for the given network
// ("udp" or "tcp"). The host, when present, must be a literal IP or a name
// that resolves; resolution is left to the socket layer.
func ParseBindAddress(network, addr string) (BindAddress, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return BindAddress{}, &BindError{Kind: BindInvalidAddress, Addr: addr, Err: err}
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return BindAddress{}, &BindError{Kind: BindInvalidAddress, Addr: addr, Err: err}
	}
	if host != "" && net.ParseIP(host) == nil && !validHostname(host) {
		return BindAddress{}, &BindError{Kind: BindInvalidAddress, Addr: addr}
	}
	return BindAddress{Network: network, Host: host, Port: int(port)}, nil
}

// String renders the address back into "host:port" form.
func (a BindAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

func validHostname(h string) bool {
	if len(h) > 253 {
		return false
	}
	label := 0
	for i := 0; i < len(h); i++ {
		c := h[i]
		switch {
		case c == '.':
			if label == 0 {
				return false
			}
			label = 0
		case c == '-' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
			label++
			if label > 63 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
