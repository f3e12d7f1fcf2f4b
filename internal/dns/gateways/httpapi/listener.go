// Package httpapi serves the two HTTP surfaces: the always-on control
// endpoint that starts and stops the service, and the service listener that
// exposes stats, the query log and blocklist management while it runs.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/haukened/rr-dnsctl/internal/dns/common/log"
	"github.com/haukened/rr-dnsctl/internal/dns/domain"
)

const readHeaderTimeout = 5 * time.Second

// Listener is an HTTP server bound to one address.
type Listener struct {
	ln     net.Listener
	srv    *http.Server
	logger log.Logger
	done   chan struct{}
}

// Listen binds addr and serves h on its own goroutine. The socket is acquired
// before Listen returns, so bind failures are reported here as
// *domain.BindError.
func Listen(addr domain.BindAddress, h http.Handler, logger log.Logger) (*Listener, error) {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	ln, err := net.Listen("tcp", addr.String())
	if err != nil {
		return nil, &domain.BindError{Kind: domain.ClassifyBindError(err), Addr: addr.String(), Err: err}
	}
	l := &Listener{
		ln:     ln,
		srv:    &http.Server{Handler: h, ReadHeaderTimeout: readHeaderTimeout},
		logger: logger.With(map[string]any{"address": ln.Addr().String()}),
		done:   make(chan struct{}),
	}
	go l.serve()
	return l, nil
}

func (l *Listener) serve() {
	defer close(l.done)
	l.logger.Debug(nil, "HTTP listener serving")
	if err := l.srv.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.logger.Error(map[string]any{"error": err.Error()}, "HTTP listener stopped")
	}
}

// Addr is the bound address, with the kernel-chosen port when 0 was asked.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done, then closes whatever is left.
func (l *Listener) Shutdown(ctx context.Context) error {
	err := l.srv.Shutdown(ctx)
	if err != nil {
		_ = l.srv.Close()
	}
	<-l.done
	return err
}
