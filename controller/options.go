package controller

import (
	"time"

	"github.com/omalloc/chunksync/api/defined/v1/event"
	"github.com/omalloc/chunksync/contrib/log"
	"github.com/omalloc/chunksync/loader"
	"github.com/omalloc/chunksync/storage/chunkstore"
	"github.com/omalloc/chunksync/storage/snapshot"
)

const (
	DefaultFailBackoff    = time.Second
	DefaultFailBackoffMax = time.Minute
)

type options struct {
	logger         log.Logger
	bus            *event.Bus
	store          *chunkstore.Store
	loaderOpts     []loader.Option
	staged         bool
	failBackoff    time.Duration
	failBackoffMax time.Duration
	snapshot       snapshot.Snapshot
	persistOnLoad  bool
}

// Option configures a Controller.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBus publishes state changes and applied chunks on bus.
func WithBus(bus *event.Bus) Option {
	return func(o *options) {
		o.bus = bus
	}
}

// WithStore uses store instead of a fresh one. The controller becomes its
// only writer.
func WithStore(store *chunkstore.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithLoaderOptions configures the paged loader.
func WithLoaderOptions(opts ...loader.Option) Option {
	return func(o *options) {
		o.loaderOpts = append(o.loaderOpts, opts...)
	}
}

// WithStagedReload makes full reloads fill a staging store that replaces
// the live one only when the load succeeded.
func WithStagedReload(staged bool) Option {
	return func(o *options) {
		o.staged = staged
	}
}

// WithFailBackoff sets the delay range of the retry loop after a failed full load.
func WithFailBackoff(initial, max time.Duration) Option {
	return func(o *options) {
		if initial > 0 {
			o.failBackoff = initial
		}
		if max > 0 {
			o.failBackoffMax = max
		}
	}
}

// WithSnapshot warms the store from s on Start and persists it on Shutdown.
// With persistOnLoad the snapshot is also written after every full load.
func WithSnapshot(s snapshot.Snapshot, persistOnLoad bool) Option {
	return func(o *options) {
		o.snapshot = s
		o.persistOnLoad = persistOnLoad
	}
}
