package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/cloudflare/tableflip"

	pluginv1 "github.com/omalloc/chunksync/api/defined/v1/plugin"
	"github.com/omalloc/chunksync/conf"
	"github.com/omalloc/chunksync/contrib/log"
	"github.com/omalloc/chunksync/contrib/transport"
	"github.com/omalloc/chunksync/controller"
	xhttp "github.com/omalloc/chunksync/pkg/x/http"
	"github.com/omalloc/chunksync/server/middleware/recovery"
	"github.com/omalloc/chunksync/server/mod"
)

var _ transport.Server = (*HTTPServer)(nil)

// Cache is what the admin API serves from.
type Cache interface {
	pluginv1.Cache
	Status() controller.Status
}

// HTTPServer is the admin API of the cache.
type HTTPServer struct {
	*http.Server

	opt      *conf.Server
	cache    Cache
	plugins  []pluginv1.Plugin
	recovery *recovery.Recovery
	sections map[string]func() any

	flip     *tableflip.Upgrader
	listener net.Listener
	cleanups []func() error
}

// NewServer builds the admin server. flip may be nil.
func NewServer(c *conf.Server, flip *tableflip.Upgrader, cache Cache, plugins []pluginv1.Plugin, opts ...Option) *HTTPServer {
	s := &HTTPServer{
		Server: &http.Server{
			Addr:              c.Addr,
			ReadTimeout:       c.ReadTimeout,
			WriteTimeout:      c.WriteTimeout,
			IdleTimeout:       c.IdleTimeout,
			ReadHeaderTimeout: c.ReadHeaderTimeout,
			MaxHeaderBytes:    c.MaxHeaderBytes,
		},
		opt:      c,
		cache:    cache,
		plugins:  plugins,
		recovery: recovery.New(c.Recovery),
		sections: make(map[string]func() any),
		flip:     flip,
		cleanups: make([]func() error, 0),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Server.Handler = s.buildHandler()
	s.cleanups = append(s.cleanups, func() error {
		s.recovery.Close()
		return nil
	})
	return s
}

// Start implements transport.Server. It blocks until the server stops.
func (s *HTTPServer) Start(ctx context.Context) error {
	if err := s.listen(); err != nil {
		return err
	}

	s.BaseContext = func(net.Listener) context.Context {
		return ctx
	}

	if err := s.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop implements transport.Server.
func (s *HTTPServer) Stop(ctx context.Context) error {
	err := s.Shutdown(ctx)

	errs := []error{err}
	for _, fn := range s.cleanups {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}

// Addr returns the bound address once the server listens.
func (s *HTTPServer) Addr() string {
	if s.listener == nil {
		return s.Server.Addr
	}
	return s.listener.Addr().String()
}

// buildHandler chains the plugin handlers, request metrics, recovery and
// the access log around the router.
func (s *HTTPServer) buildHandler() http.Handler {
	mux := s.newServeMux()

	next := http.HandlerFunc(mux.ServeHTTP)
	for i := len(s.plugins) - 1; i >= 0; i-- {
		if h := s.plugins[i].HandleFunc(next); h != nil {
			next = h
		}
	}

	next = s.countRequests(next)
	next = s.recovery.Handle(next)
	next = mod.HandleAccessLog(s.opt.AccessLog, next)

	if log.Enabled(log.LevelDebug) {
		xhttp.PrintRoutes(mux)
	}
	return next
}

func (s *HTTPServer) countRequests(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		next(w, req)

		if rec, ok := w.(*xhttp.ResponseRecorder); ok {
			_metricRequestsTotal.WithLabelValues(req.Proto, statusText(rec.Status())).Inc()
		}
		if errors.Is(req.Context().Err(), context.Canceled) {
			_metricRequestUnexpectedClosed.WithLabelValues(req.Proto, req.Method).Inc()
		}
	}
}

func (s *HTTPServer) newServeMux() *http.ServeMux {
	mux := http.NewServeMux()

	s.routes(mux)

	for _, p := range s.plugins {
		p.AddRouter(mux)
	}
	return mux
}
