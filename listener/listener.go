package listener

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulbellamy/ratecounter"
	"github.com/samber/lo"

	"github.com/omalloc/chunksync/api/defined/v1/chunk"
	"github.com/omalloc/chunksync/api/defined/v1/event"
	"github.com/omalloc/chunksync/contrib/log"
)

// Reloader is the part of the controller the listener drives.
type Reloader interface {
	Reload(ctx context.Context) error
	ReloadKeys(ctx context.Context, keys []string) error
}

// Stats is a point-in-time view of the listener counters.
type Stats struct {
	Received   int64 `json:"received"`
	Malformed  int64 `json:"malformed"`
	Batches    int64 `json:"batches"`
	Failed     int64 `json:"failed"`
	Reconnects int64 `json:"reconnects"`
	Pending    int   `json:"pending"`
	// Rate is the number of keys received during the last second.
	Rate int64 `json:"rate"`
}

// Listener turns change notifications into targeted reloads. Keys reported
// within one window are forwarded together.
type Listener struct {
	reloader Reloader
	window   time.Duration
	log      *log.Helper

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	closed  bool

	rate       *ratecounter.RateCounter
	received   atomic.Int64
	malformed  atomic.Int64
	batches    atomic.Int64
	failed     atomic.Int64
	reconnects atomic.Int64
}

// New returns a Listener forwarding to r.
func New(r Reloader, opts ...Option) *Listener {
	o := options{
		window: DefaultWindow,
		logger: log.GetLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		reloader: r,
		window:   o.window,
		log:      log.NewHelper(log.With(o.logger, "module", "listener")),
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]struct{}),
		rate:     ratecounter.NewRateCounter(time.Second),
	}
}

// OnNotification queues keys for a targeted reload. Malformed sets are
// logged and dropped.
func (l *Listener) OnNotification(keys []string) {
	if len(keys) == 0 {
		l.drop(&chunk.MalformedNotificationError{Reason: "empty key set"})
		return
	}

	valid := lo.Compact(keys)
	if n := len(keys) - len(valid); n > 0 {
		l.drop(&chunk.MalformedNotificationError{Reason: "empty key"})
	}
	if len(valid) == 0 {
		return
	}

	l.received.Add(int64(len(valid)))
	l.rate.Incr(int64(len(valid)))
	_metricNotifications.WithLabelValues("received").Add(float64(len(valid)))

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	for _, k := range valid {
		l.pending[k] = struct{}{}
	}

	if l.window <= 0 {
		l.flushLocked()
		return
	}
	if l.timer == nil {
		l.timer = time.AfterFunc(l.window, l.flush)
	}
}

// OnReconnect asks for a full reload. Notifications may have been missed
// while the push channel was down.
func (l *Listener) OnReconnect() {
	l.reconnects.Add(1)
	_metricReconnects.Inc()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.log.Infof("push channel reconnected, reloading everything")
		if err := l.reloader.Reload(l.ctx); err != nil && !expected(err) {
			l.log.Warnf("full reload after reconnect failed: %v", err)
		}
	}()
}

// Subscribe feeds change sets published on bus into the listener.
func (l *Listener) Subscribe(bus *event.Bus) error {
	return event.Subscribe(bus, event.ChunkChangedTopic, func(_ context.Context, ev event.ChunkChanged) {
		if l.log.Enabled(log.LevelDebug) {
			l.log.Debugf("%d keys changed via %s", len(ev.Keys), ev.Source)
		}
		l.OnNotification(ev.Keys)
	})
}

// Stats returns the listener counters.
func (l *Listener) Stats() Stats {
	l.mu.Lock()
	pending := len(l.pending)
	l.mu.Unlock()

	return Stats{
		Received:   l.received.Load(),
		Malformed:  l.malformed.Load(),
		Batches:    l.batches.Load(),
		Failed:     l.failed.Load(),
		Reconnects: l.reconnects.Load(),
		Pending:    pending,
		Rate:       l.rate.Rate(),
	}
}

// Close drops pending keys and waits for forwarded batches to finish.
func (l *Listener) Close(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	clear(l.pending)
	l.mu.Unlock()

	l.cancel()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Listener) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timer = nil
	if l.closed {
		return
	}
	l.flushLocked()
}

func (l *Listener) flushLocked() {
	if len(l.pending) == 0 {
		return
	}
	keys := lo.Keys(l.pending)
	clear(l.pending)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.forward(keys)
	}()
}

func (l *Listener) forward(keys []string) {
	l.batches.Add(1)
	err := l.reloader.ReloadKeys(l.ctx, keys)
	if err == nil {
		_metricBatches.WithLabelValues("ok").Inc()
		return
	}

	_metricBatches.WithLabelValues("error").Inc()
	if expected(err) {
		l.log.Debugf("reload of %d keys skipped: %v", len(keys), err)
		return
	}
	l.failed.Add(1)
	l.log.Warnf("reload of %d keys failed: %v", len(keys), err)
}

func (l *Listener) drop(err *chunk.MalformedNotificationError) {
	l.malformed.Add(1)
	_metricNotifications.WithLabelValues("malformed").Inc()
	l.log.Warnf("drop notification: %v", err)
}

// expected reports errors caused by shutdown.
func expected(err error) bool {
	return errors.Is(err, chunk.ErrStopped) ||
		errors.Is(err, chunk.ErrLoadAborted) ||
		errors.Is(err, context.Canceled)
}
