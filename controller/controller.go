package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/samber/lo"

	"github.com/omalloc/chunksync/api/defined/v1/chunk"
	"github.com/omalloc/chunksync/api/defined/v1/event"
	"github.com/omalloc/chunksync/contrib/log"
	"github.com/omalloc/chunksync/loader"
	"github.com/omalloc/chunksync/storage/chunkstore"
)

// LookupFunc observes lookups.
type LookupFunc func(key string, hit bool)

// Status is a point-in-time view of a Controller.
type Status struct {
	State       string              `json:"state"`
	Chunks      int                 `json:"chunks"`
	LastError   string              `json:"last_error,omitempty"`
	LastLoad    time.Time           `json:"last_load"`
	LastSummary *loader.LoadSummary `json:"last_summary,omitempty"`
	Failures    int                 `json:"failures"`
	Pending     int                 `json:"pending"`
	Staged      bool                `json:"staged"`
}

// batch is a unit of work for the worker. Requests arriving while a batch
// runs are merged into the next one.
type batch struct {
	full    bool
	keys    map[string]struct{}
	waiters []chan error
}

func (b *batch) merge(full bool, keys []string) {
	if full {
		b.full = true
		b.keys = nil
	}
	if b.full {
		return
	}
	for _, k := range keys {
		b.keys[k] = struct{}{}
	}
}

// Controller owns a chunk store and keeps it in sync with an authority.
//
// All reloads run on a single worker goroutine, so at most one request to
// the authority is in flight per batch and concurrent callers share the
// result of the batch their request was merged into.
type Controller struct {
	store  *chunkstore.Store
	loader *loader.Loader
	opts   options
	log    *log.Helper

	publishState   func(context.Context, event.StateChanged)
	publishApplied func(context.Context, event.ChunkApplied)
	lookups        atomic.Pointer[[]LookupFunc]

	mu          sync.Mutex
	state       chunk.State
	stopping    bool
	started     bool
	warmed      bool
	pending     *batch
	lastErr     error
	lastLoad    time.Time
	lastSummary *loader.LoadSummary
	failures    int
	failBackoff *backoff.ExponentialBackOff
	retryTimer  *time.Timer

	ctx    context.Context
	cancel context.CancelCauseFunc
	wake   chan struct{}
	done   chan struct{}
}

// New returns a Controller loading from authority.
func New(authority chunk.Authority, opts ...Option) *Controller {
	o := options{
		logger:         log.GetLogger(),
		failBackoff:    DefaultFailBackoff,
		failBackoffMax: DefaultFailBackoffMax,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = chunkstore.New()
	}
	if o.bus == nil {
		o.bus = event.NewBus()
	}

	fb := backoff.NewExponentialBackOff()
	fb.InitialInterval = o.failBackoff
	fb.MaxInterval = o.failBackoffMax
	fb.Multiplier = 2
	fb.RandomizationFactor = 0.2
	fb.Reset()

	ctx, cancel := context.WithCancelCause(context.Background())
	c := &Controller{
		store:          o.store,
		opts:           o,
		log:            log.NewHelper(log.With(o.logger, "module", "controller")),
		publishState:   event.NewPublish(o.bus, event.ChunkStateTopic),
		publishApplied: event.NewPublish(o.bus, event.ChunkAppliedTopic),
		state:          chunk.StateUninitialized,
		failBackoff:    fb,
		ctx:            ctx,
		cancel:         cancel,
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
	}

	loaderOpts := append([]loader.Option{loader.WithLogger(o.logger)}, o.loaderOpts...)
	loaderOpts = append(loaderOpts, loader.WithApplyFunc(c.applied))
	c.loader = loader.New(authority, c.store, loaderOpts...)

	_metricState.Set(float64(chunk.StateUninitialized))
	return c
}

// Bus returns the event bus the controller publishes on.
func (c *Controller) Bus() *event.Bus {
	return c.opts.bus
}

// Start warms the store from the snapshot, if any, and runs the first full
// load. It returns nil once READY and the load error when the controller
// went FAILED; the retry loop keeps running in the background. A Shutdown
// during the load makes it return chunk.ErrLoadAborted.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return chunk.ErrStopped
	}
	first := !c.started
	c.started = true
	c.mu.Unlock()

	if !first {
		if c.State() == chunk.StateReady {
			return nil
		}
		return c.submit(ctx, true, nil)
	}

	c.restore(c.ctx)
	go c.worker()

	ch := make(chan error, 1)
	if err := c.enqueue(true, nil, ch); err != nil {
		// shut down before the first load was queued
		return fmt.Errorf("%w: %w", chunk.ErrLoadAborted, err)
	}
	return wait(ctx, ch)
}

// Reload clears the store and loads every chunk again.
func (c *Controller) Reload(ctx context.Context) error {
	if err := c.checkStarted(); err != nil {
		return err
	}
	return c.submit(ctx, true, nil)
}

// ReloadKeys refreshes keys from the authority without changing the state.
func (c *Controller) ReloadKeys(ctx context.Context, keys []string) error {
	if err := c.checkStarted(); err != nil {
		return err
	}
	keys = lo.Uniq(lo.Compact(keys))
	if len(keys) == 0 {
		return nil
	}
	return c.submit(ctx, false, keys)
}

func (c *Controller) checkStarted() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping {
		return chunk.ErrStopped
	}
	if !c.started {
		return errors.New("controller: not started")
	}
	return nil
}

// Lookup returns the current chunk for key. It never blocks on a reload.
func (c *Controller) Lookup(key string) (*chunk.Chunk, bool) {
	ch, ok := c.store.Get(key)
	if ok {
		_metricLookupsTotal.WithLabelValues("hit").Inc()
	} else {
		_metricLookupsTotal.WithLabelValues("miss").Inc()
	}
	if fns := c.lookups.Load(); fns != nil {
		for _, fn := range *fns {
			fn(key, ok)
		}
	}
	return ch, ok
}

// ObserveLookups registers fn to be called on every Lookup.
func (c *Controller) ObserveLookups(fn func(key string, hit bool)) {
	for {
		old := c.lookups.Load()
		var next []LookupFunc
		if old != nil {
			next = append(next, *old...)
		}
		next = append(next, fn)
		if c.lookups.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Keys returns the held keys.
func (c *Controller) Keys() []string {
	return c.store.Keys()
}

// Len returns the number of held chunks.
func (c *Controller) Len() int {
	return c.store.Len()
}

// State returns the current state.
func (c *Controller) State() chunk.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:       c.state.String(),
		Chunks:      c.store.Len(),
		LastLoad:    c.lastLoad,
		LastSummary: c.lastSummary,
		Failures:    c.failures,
		Staged:      c.opts.staged,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	if c.pending != nil {
		st.Pending = len(c.pending.waiters)
	}
	return st
}

// Shutdown cancels any load in flight, waits for the worker to exit,
// persists the snapshot and moves to STOPPED. No request reaches the
// authority after it returns. When ctx expires first the controller still
// moves to STOPPED and the snapshot is closed, unsaved, once the worker exits.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	running := c.started
	ready := c.state == chunk.StateReady
	c.stopRetryLocked()
	c.mu.Unlock()

	c.cancel(chunk.ErrStopped)

	var errs []error
	exited := true
	if running {
		select {
		case <-c.done:
		case <-ctx.Done():
			exited = false
			errs = append(errs, fmt.Errorf("controller: wait worker: %w", ctx.Err()))
		}
	}

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	if pending != nil {
		for _, w := range pending.waiters {
			w <- chunk.ErrLoadAborted
		}
	}

	if s := c.opts.snapshot; s != nil {
		switch {
		case exited:
			if ready {
				if err := c.persist(ctx); err != nil {
					errs = append(errs, err)
				}
			}
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		default:
			// the worker may still write the snapshot; close it once it is gone.
			go func() {
				<-c.done
				if err := s.Close(); err != nil {
					c.log.Warnf("close snapshot failed: %v", err)
				}
			}()
		}
	}

	c.setState(chunk.StateStopped, nil)
	return errors.Join(errs...)
}

// submit merges a request into the pending batch and waits for its result.
func (c *Controller) submit(ctx context.Context, full bool, keys []string) error {
	ch := make(chan error, 1)
	if err := c.enqueue(full, keys, ch); err != nil {
		return err
	}
	return wait(ctx, ch)
}

func wait(ctx context.Context, ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) enqueue(full bool, keys []string, waiter chan error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopping {
		return chunk.ErrStopped
	}

	if c.pending == nil {
		c.pending = &batch{keys: make(map[string]struct{})}
	}
	c.pending.merge(full, keys)
	if waiter != nil {
		c.pending.waiters = append(c.pending.waiters, waiter)
	}

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

func (c *Controller) worker() {
	defer close(c.done)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}

		c.mu.Lock()
		b := c.pending
		c.pending = nil
		c.mu.Unlock()

		if b == nil {
			continue
		}
		if c.ctx.Err() != nil {
			for _, w := range b.waiters {
				w <- chunk.ErrLoadAborted
			}
			return
		}

		var err error
		if b.full {
			err = c.runFull()
		} else {
			err = c.runKeys(lo.Keys(b.keys))
		}

		for _, w := range b.waiters {
			w <- err
		}
	}
}

func (c *Controller) runFull() error {
	c.setState(chunk.StateLoading, nil)

	c.mu.Lock()
	staged := c.opts.staged || c.warmed
	c.warmed = false
	c.mu.Unlock()

	var (
		summary *loader.LoadSummary
		err     error
	)
	if staged {
		staging := chunkstore.New()
		summary, err = c.loader.LoadAllInto(c.ctx, staging, 0, 0)
		if err == nil {
			c.store.ReplaceAll(staging)
		}
	} else {
		c.store.Clear()
		summary, err = c.loader.LoadAll(c.ctx, 0, 0)
	}

	_metricStoreSize.Set(float64(c.store.Len()))
	if summary != nil {
		_metricLoadDuration.WithLabelValues("full").Observe(summary.Duration.Seconds())
	}

	if err != nil {
		if errors.Is(err, chunk.ErrLoadAborted) || c.ctx.Err() != nil {
			_metricLoadsTotal.WithLabelValues("full", "aborted").Inc()
			c.log.Infof("full load aborted: %v", err)
			return abortErr(err)
		}

		_metricLoadsTotal.WithLabelValues("full", "error").Inc()
		c.fail(err)
		return err
	}

	_metricLoadsTotal.WithLabelValues("full", "ok").Inc()

	c.mu.Lock()
	c.lastSummary = summary
	c.lastLoad = time.Now()
	c.failures = 0
	c.failBackoff.Reset()
	c.stopRetryLocked()
	c.mu.Unlock()

	c.setState(chunk.StateReady, nil)

	if c.opts.snapshot != nil && c.opts.persistOnLoad {
		if err := c.persist(c.ctx); err != nil {
			c.log.Warnf("persist snapshot failed: %v", err)
		}
	}
	return nil
}

func (c *Controller) runKeys(keys []string) error {
	summary, err := c.loader.LoadKeys(c.ctx, keys)

	_metricStoreSize.Set(float64(c.store.Len()))
	if summary != nil {
		_metricLoadDuration.WithLabelValues("keys").Observe(summary.Duration.Seconds())
	}

	if err != nil {
		if errors.Is(err, chunk.ErrLoadAborted) || c.ctx.Err() != nil {
			_metricLoadsTotal.WithLabelValues("keys", "aborted").Inc()
			return abortErr(err)
		}
		_metricLoadsTotal.WithLabelValues("keys", "error").Inc()
		c.log.Errorf("reload %d keys failed: %v", len(keys), err)

		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		return err
	}

	_metricLoadsTotal.WithLabelValues("keys", "ok").Inc()
	if c.log.Enabled(log.LevelDebug) {
		c.log.Debugf("reloaded %d keys: %v", len(keys), summary.Outcomes())
	}
	return nil
}

// fail moves to FAILED and arms the retry loop.
func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.failures++
	next := c.failBackoff.NextBackOff()
	if !c.stopping {
		c.armRetryLocked(next)
	}
	failures := c.failures
	c.mu.Unlock()

	c.log.Errorf("full load failed (%d in a row), retry in %s: %v", failures, next, err)
	c.setState(chunk.StateFailed, err)
}

// armRetryLocked replaces the retry timer. A timer that fires after it was
// replaced or stopped does nothing. c.mu must be held.
func (c *Controller) armRetryLocked(d time.Duration) {
	c.stopRetryLocked()

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		c.mu.Lock()
		current := c.retryTimer == t
		if current {
			c.retryTimer = nil
		}
		c.mu.Unlock()

		if !current {
			return
		}
		if err := c.enqueue(true, nil, nil); err == nil {
			c.log.Infof("retrying full load after failure")
		}
	})
	c.retryTimer = t
}

// stopRetryLocked disarms the retry timer. c.mu must be held.
func (c *Controller) stopRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Controller) setState(to chunk.State, err error) {
	c.mu.Lock()
	from := c.state
	if from == chunk.StateStopped {
		c.mu.Unlock()
		return
	}
	c.state = to
	c.lastErr = err
	c.mu.Unlock()

	_metricState.Set(float64(to))
	if from == to {
		return
	}

	c.log.Infof("state %s -> %s", from, to)
	c.publishState(context.Background(), event.StateChanged{
		From: from.String(),
		To:   to.String(),
		Err:  err,
		At:   time.Now(),
	})
}

// applied forwards store writes to the bus.
func (c *Controller) applied(ch *chunk.Chunk, res chunk.PutResult, full bool) {
	if !res.Applied() {
		return
	}
	c.publishApplied(context.Background(), event.ChunkApplied{
		Key:         ch.Key,
		EncodedHash: ch.EncodedHash,
		LastUpdate:  ch.LastUpdate,
		Data:        bytes.Clone(ch.EncodedData),
		Deleted:     res == chunk.PutDeleted,
		Full:        full,
	})
}

func abortErr(err error) error {
	if errors.Is(err, chunk.ErrLoadAborted) {
		return err
	}
	return fmt.Errorf("%w: %w", chunk.ErrLoadAborted, err)
}
