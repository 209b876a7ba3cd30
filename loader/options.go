package loader

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/omalloc/chunksync/api/defined/v1/chunk"
	"github.com/omalloc/chunksync/contrib/log"
)

const (
	DefaultPageSize     = 500
	DefaultMaxParallel  = 4
	DefaultPageTimeout  = 10 * time.Second
	DefaultMaxRetries   = 5
	DefaultRetryInitial = 200 * time.Millisecond
	DefaultRetryMax     = 5 * time.Second
)

// ApplyFunc observes every chunk written to the store.
type ApplyFunc func(c *chunk.Chunk, res chunk.PutResult, full bool)

type options struct {
	pageSize     int
	maxParallel  int
	pageTimeout  time.Duration
	maxRetries   int
	retryInitial time.Duration
	retryMax     time.Duration
	limiter      *rate.Limiter
	logger       log.Logger
	onApply      ApplyFunc
}

// Option configures a Loader.
type Option func(*options)

// WithPageSize sets the default page size.
func WithPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithMaxParallel sets the default number of pages in flight.
func WithMaxParallel(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxParallel = n
		}
	}
}

// WithPageTimeout bounds every single fetch attempt.
func WithPageTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pageTimeout = d
		}
	}
}

// WithRetry sets the retry budget of one page and its backoff interval range.
// maxRetries counts retries, so a page is tried at most maxRetries+1 times.
func WithRetry(maxRetries int, initial, max time.Duration) Option {
	return func(o *options) {
		if maxRetries >= 0 {
			o.maxRetries = maxRetries
		}
		if initial > 0 {
			o.retryInitial = initial
		}
		if max > 0 {
			o.retryMax = max
		}
	}
}

// WithRateLimit caps authority requests per second. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *options) {
		if rps <= 0 {
			o.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithApplyFunc installs a hook called after every Put.
func WithApplyFunc(fn ApplyFunc) Option {
	return func(o *options) {
		o.onApply = fn
	}
}
