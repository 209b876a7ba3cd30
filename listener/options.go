package listener

import (
	"time"

	"github.com/omalloc/chunksync/contrib/log"
)

// DefaultWindow is the coalescing window of notifications.
const DefaultWindow = 100 * time.Millisecond

type options struct {
	window time.Duration
	logger log.Logger
}

// Option configures a Listener.
type Option func(*options)

// WithWindow sets how long notifications are collected before one
// ReloadKeys call. Zero forwards every notification on its own.
func WithWindow(d time.Duration) Option {
	return func(o *options) {
		o.window = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
