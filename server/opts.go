package server

import (
	"net"
	"strings"

	"github.com/omalloc/chunksync/contrib/log"
)

// Option configures an HTTPServer.
type Option func(*HTTPServer)

// WithStatus adds a named section to GET /status.
func WithStatus(name string, fn func() any) Option {
	return func(s *HTTPServer) {
		s.sections[name] = fn
	}
}

// WithListener serves on ln instead of listening on the configured address.
func WithListener(ln net.Listener) Option {
	return func(s *HTTPServer) {
		s.listener = ln
	}
}

// WithCleanup runs fn when the server stops.
func WithCleanup(fn func() error) Option {
	return func(s *HTTPServer) {
		s.cleanups = append(s.cleanups, fn)
	}
}

func (s *HTTPServer) listen() error {
	if s.listener == nil {
		var (
			ln  net.Listener
			err error
		)

		// normal listen
		listen := net.Listen
		if s.flip != nil {
			// graceful listen
			listen = s.flip.Listen
		}

		// normal network
		network := "tcp"
		if strings.HasSuffix(s.Server.Addr, ".sock") {
			// unix socket
			network = "unix"
		}

		ln, err = listen(network, s.Server.Addr)
		if err != nil {
			return err
		}

		s.listener = ln
		log.Infof("admin server listening on %s://%s", network, ln.Addr())
		return nil
	}

	return nil
}
