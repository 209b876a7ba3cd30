package recovery

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/omalloc/chunksync/conf"
	"github.com/omalloc/chunksync/contrib/log"
	"github.com/omalloc/chunksync/pkg/x/runtime"
)

// Recovery turns handler panics into 500 responses. Too many panics within
// one window mark the process unhealthy until the window rolls over.
type Recovery struct {
	threshold int64
	failCount atomic.Int64
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// New starts the window ticker of a Recovery.
func New(opt *conf.ServerRecovery) *Recovery {
	r := &Recovery{stopCh: make(chan struct{})}
	if opt == nil {
		return r
	}
	r.threshold = opt.FailCountThreshold

	if opt.FailWindow > 0 {
		go r.tick(opt.FailWindow)
	}
	return r
}

func (r *Recovery) tick(window time.Duration) {
	windowTicker := time.NewTicker(window)
	defer windowTicker.Stop()

	for {
		select {
		case <-windowTicker.C:
			r.failCount.Store(0)
		case <-r.stopCh:
			return
		}
	}
}

// Handle wraps next.
func (r *Recovery) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			log.Context(req.Context()).Errorf("handler recovery: %v \n%s", rec, runtime.PrintStackTrace(4))
			_metricPanics.Inc()

			if n := r.failCount.Add(1); r.threshold > 0 && n == r.threshold {
				log.Context(req.Context()).Errorf("handler recovery: reached fail count threshold (%d), healthy now fail.", r.threshold)
			}
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}()

		next(w, req)
	}
}

// Healthy reports whether the panic count stayed below the threshold.
func (r *Recovery) Healthy() bool {
	return r.threshold <= 0 || r.failCount.Load() < r.threshold
}

// Close stops the window ticker.
func (r *Recovery) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}
