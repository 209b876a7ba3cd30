package listener

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/omalloc/chunksync/contrib/log"
	"github.com/omalloc/chunksync/contrib/transport"
	"github.com/omalloc/chunksync/internal/constants"
)

var _ transport.Server = (*WebsocketSource)(nil)

const (
	defaultPingInterval = 30 * time.Second
	pongWait            = 60 * time.Second
	writeTimeout        = 10 * time.Second
)

// WebsocketOption configures a WebsocketSource.
type WebsocketOption func(*WebsocketSource)

// WithReconnect sets the reconnect delay range.
func WithReconnect(initial, max time.Duration) WebsocketOption {
	return func(s *WebsocketSource) {
		s.retryInitial = initial
		s.retryMax = max
	}
}

// WithPingInterval sets how often a ping is sent to the server.
func WithPingInterval(d time.Duration) WebsocketOption {
	return func(s *WebsocketSource) {
		s.pingInterval = d
	}
}

// WithHeader adds headers to the handshake request.
func WithHeader(h http.Header) WebsocketOption {
	return func(s *WebsocketSource) {
		s.header = h
	}
}

// WebsocketSource reads notifications from a websocket push endpoint and
// reconnects with exponential backoff. Every reconnect after the first
// session triggers a full reload.
type WebsocketSource struct {
	url          string
	listener     *Listener
	dialer       *websocket.Dialer
	header       http.Header
	pingInterval time.Duration
	retryInitial time.Duration
	retryMax     time.Duration
	log          *log.Helper

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool
	sessions  int
}

// NewWebsocketSource returns a source for url feeding l.
func NewWebsocketSource(url string, l *Listener, opts ...WebsocketOption) *WebsocketSource {
	s := &WebsocketSource{
		url:          url,
		listener:     l,
		dialer:       websocket.DefaultDialer,
		pingInterval: defaultPingInterval,
		retryInitial: 500 * time.Millisecond,
		retryMax:     30 * time.Second,
		log:          log.NewHelper(log.With(log.GetLogger(), "module", "listener/websocket")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start connects in the background and returns immediately.
func (s *WebsocketSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
	return nil
}

// Stop closes the connection and waits for the reader to exit.
func (s *WebsocketSource) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected reports whether a session is open.
func (s *WebsocketSource) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *WebsocketSource) run(ctx context.Context) {
	defer close(s.done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInitial
	b.MaxInterval = s.retryMax
	b.Reset()

	for {
		opened, err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if opened {
			b.Reset()
		}

		next := b.NextBackOff()
		s.log.Warnf("push channel %s closed: %v, reconnect in %s", s.url, err, next)

		t := time.NewTimer(next)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// session dials once and reads until the connection breaks. opened reports
// whether the handshake succeeded.
func (s *WebsocketSource) session(ctx context.Context) (opened bool, err error) {
	header := s.header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set(constants.RequestIDKey, uuid.NewString())

	conn, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return false, fmt.Errorf("dial: %w", err)
	}

	s.mu.Lock()
	s.connected = true
	s.sessions++
	reconnect := s.sessions > 1
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
		_ = conn.Close()
	}()

	s.log.Infof("push channel %s connected", s.url)
	if reconnect {
		s.listener.OnReconnect()
	}

	stop := make(chan struct{})
	defer close(stop)
	go s.ping(ctx, conn, stop)

	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return true, err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return true, err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		s.listener.OnPayload(msg)
	}
}

// ping keeps the session alive and closes the connection when ctx ends,
// which unblocks the reader.
func (s *WebsocketSource) ping(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				s.log.Debugf("ping %s failed: %v", s.url, err)
				_ = conn.Close()
				return
			}
		}
	}
}
