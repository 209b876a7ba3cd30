package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/omalloc/chunksync/api/defined/v1/chunk"
	"github.com/omalloc/chunksync/contrib/log"
)

const (
	kindPage = "page"
	kindKeys = "keys"
)

// LoadSummary describes a finished load.
type LoadSummary struct {
	Pages     int                     `json:"pages"`
	Chunks    int                     `json:"chunks"`
	Results   map[chunk.PutResult]int `json:"-"`
	Retries   int                     `json:"retries"`
	Total     int                     `json:"total"`
	StartedAt time.Time               `json:"started_at"`
	Duration  time.Duration           `json:"duration"`
}

// Count returns how many writes ended with res.
func (s *LoadSummary) Count(res chunk.PutResult) int {
	return s.Results[res]
}

// Outcomes returns the write outcomes keyed by name.
func (s *LoadSummary) Outcomes() map[string]int {
	out := make(map[string]int, len(s.Results))
	for k, v := range s.Results {
		out[k.String()] = v
	}
	return out
}

type tally struct {
	mu      sync.Mutex
	pages   int
	chunks  int
	retries atomic.Int64
	results map[chunk.PutResult]int
}

func (t *tally) add(pages int, results map[chunk.PutResult]int, chunks int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pages += pages
	t.chunks += chunks
	for k, v := range results {
		t.results[k] += v
	}
}

func (t *tally) summary(started time.Time, total int) *LoadSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &LoadSummary{
		Pages:     t.pages,
		Chunks:    t.chunks,
		Results:   t.results,
		Retries:   int(t.retries.Load()),
		Total:     total,
		StartedAt: started,
		Duration:  time.Since(started),
	}
}

// Loader pages chunks out of an authority into a store.
type Loader struct {
	authority chunk.Authority
	store     chunk.Store
	opts      options
	log       *log.Helper
}

// New returns a Loader that fills store from authority.
func New(authority chunk.Authority, store chunk.Store, opts ...Option) *Loader {
	o := options{
		pageSize:     DefaultPageSize,
		maxParallel:  DefaultMaxParallel,
		pageTimeout:  DefaultPageTimeout,
		maxRetries:   DefaultMaxRetries,
		retryInitial: DefaultRetryInitial,
		retryMax:     DefaultRetryMax,
		logger:       log.GetLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Loader{
		authority: authority,
		store:     store,
		opts:      o,
		log:       log.NewHelper(log.With(o.logger, "module", "loader")),
	}
}

// PageSize returns the configured page size.
func (l *Loader) PageSize() int { return l.opts.pageSize }

// MaxParallel returns the configured number of pages in flight.
func (l *Loader) MaxParallel() int { return l.opts.maxParallel }

// LoadAll pages through the authority into the store of l.
// Values <= 0 fall back to the configured defaults.
func (l *Loader) LoadAll(ctx context.Context, pageSize, maxParallelPages int) (*LoadSummary, error) {
	return l.LoadAllInto(ctx, l.store, pageSize, maxParallelPages)
}

// LoadAllInto is LoadAll writing into dst.
//
// Pages are issued at offsets 0, P, 2P, ... with at most maxParallelPages
// in flight. A page shorter than P marks the end of the data. A count from
// a chunk.Counter is only a hint: pages past it are still fetched, one at
// a time, until a short page shows up. When ctx is
// cancelled no further page starts, the attempts in flight are cancelled,
// and the error wraps chunk.ErrLoadAborted. A page that was fetched is
// always applied as a whole.
func (l *Loader) LoadAllInto(ctx context.Context, dst chunk.Store, pageSize, maxParallelPages int) (*LoadSummary, error) {
	if pageSize <= 0 {
		pageSize = l.opts.pageSize
	}
	if maxParallelPages <= 0 {
		maxParallelPages = l.opts.maxParallel
	}

	started := time.Now()
	t := &tally{results: make(map[chunk.PutResult]int)}
	if ctx.Err() != nil {
		return t.summary(started, -1), l.wrapAbort(ctx, ctx.Err())
	}

	total := -1
	if counter, ok := l.authority.(chunk.Counter); ok {
		n, err := l.count(ctx, counter, t)
		if err != nil {
			return t.summary(started, total), l.wrapAbort(ctx, err)
		}
		total = n
	}

	cursor := newCursor(pageSize, total)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelPages)

	// one page at a time past the reported count
	tail := make(chan struct{}, 1)

	for gctx.Err() == nil {
		offset, ok := cursor.advance()
		if !ok {
			break
		}

		probing := cursor.pastTotal(offset)
		if probing {
			select {
			case tail <- struct{}{}:
			case <-gctx.Done():
			}
			if gctx.Err() != nil {
				break
			}
		}

		// blocks while maxParallelPages are in flight
		g.Go(func() error {
			if probing {
				defer func() { <-tail }()
			}
			if cursor.behindEnd(offset) || gctx.Err() != nil {
				return nil
			}

			chunks, attempts, err := l.fetch(gctx, kindPage, t, func(actx context.Context) ([]*chunk.Chunk, error) {
				return l.authority.FetchPage(actx, offset, pageSize)
			})
			if err != nil {
				_metricPagesTotal.WithLabelValues(kindPage, "error").Inc()
				return &chunk.PageFetchError{
					Offset:   offset,
					Count:    pageSize,
					Attempts: attempts,
					Err:      err,
				}
			}
			_metricPagesTotal.WithLabelValues(kindPage, "ok").Inc()

			if len(chunks) < pageSize {
				cursor.short(offset, len(chunks))
			}

			t.add(1, l.apply(dst, chunks, true), len(chunks))
			cursor.complete(offset)

			if l.log.Enabled(log.LevelDebug) {
				l.log.Debugf("page offset=%d count=%d got %d chunks", offset, pageSize, len(chunks))
			}
			return nil
		})
	}

	err := g.Wait()
	summary := t.summary(started, total)
	if err == nil && ctx.Err() != nil {
		err = context.Cause(ctx)
	}
	if err != nil {
		l.log.Warnf("load aborted at page %d (%d completed): %v", cursor.Offset()/pageSize, cursor.Completed(), err)
		return summary, l.wrapAbort(ctx, err)
	}

	l.log.Infof("loaded %d chunks in %d pages (%s)", summary.Chunks, summary.Pages, summary.Duration)
	return summary, nil
}

// LoadKeys fetches keys from the authority in batches of the page size
// and applies them to the store of l.
func (l *Loader) LoadKeys(ctx context.Context, keys []string) (*LoadSummary, error) {
	started := time.Now()
	t := &tally{results: make(map[chunk.PutResult]int)}

	keys = lo.Uniq(lo.Compact(keys))
	if len(keys) == 0 {
		return t.summary(started, -1), nil
	}
	if ctx.Err() != nil {
		return t.summary(started, len(keys)), l.wrapAbort(ctx, ctx.Err())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.maxParallel)

	for _, batch := range lo.Chunk(keys, l.opts.pageSize) {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			chunks, attempts, err := l.fetch(gctx, kindKeys, t, func(actx context.Context) ([]*chunk.Chunk, error) {
				return l.authority.FetchKeys(actx, batch)
			})
			if err != nil {
				_metricPagesTotal.WithLabelValues(kindKeys, "error").Inc()
				return &chunk.PageFetchError{
					Count:    len(batch),
					Keys:     batch,
					Attempts: attempts,
					Err:      err,
				}
			}
			_metricPagesTotal.WithLabelValues(kindKeys, "ok").Inc()

			t.add(1, l.apply(l.store, chunks, false), len(chunks))
			return nil
		})
	}

	err := g.Wait()
	summary := t.summary(started, len(keys))
	if err == nil && ctx.Err() != nil {
		err = context.Cause(ctx)
	}
	if err != nil {
		return summary, l.wrapAbort(ctx, err)
	}
	return summary, nil
}

func (l *Loader) count(ctx context.Context, counter chunk.Counter, t *tally) (int, error) {
	n, err := backoff.Retry(ctx, func() (int, error) {
		actx, cancel := context.WithTimeout(ctx, l.opts.pageTimeout)
		defer cancel()
		n, err := counter.Count(actx)
		if err != nil && ctx.Err() != nil {
			return 0, backoff.Permanent(ctx.Err())
		}
		return n, err
	}, l.retryOptions(kindPage, t)...)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// fetch runs one request with per-attempt timeout and bounded retries.
func (l *Loader) fetch(ctx context.Context, kind string, t *tally, do func(ctx context.Context) ([]*chunk.Chunk, error)) ([]*chunk.Chunk, int, error) {
	attempts := 0
	chunks, err := backoff.Retry(ctx, func() ([]*chunk.Chunk, error) {
		attempts++
		if l.opts.limiter != nil {
			if err := l.opts.limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}

		actx, cancel := context.WithTimeout(ctx, l.opts.pageTimeout)
		defer cancel()

		chunks, err := do(actx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		return chunks, nil
	}, l.retryOptions(kind, t)...)
	return chunks, attempts, err
}

func (l *Loader) retryOptions(kind string, t *tally) []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.opts.retryInitial
	b.MaxInterval = l.opts.retryMax

	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(l.opts.maxRetries + 1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			t.retries.Add(1)
			_metricPageRetries.WithLabelValues(kind).Inc()
			l.log.Warnf("%s fetch failed, retry in %s: %v", kind, next, err)
		}),
	}
}

// apply writes one fetched page. It never looks at ctx.
func (l *Loader) apply(dst chunk.Store, chunks []*chunk.Chunk, full bool) map[chunk.PutResult]int {
	results := make(map[chunk.PutResult]int, 4)
	for _, c := range chunks {
		if c == nil || c.Key == "" {
			continue
		}
		res := dst.Put(c)
		results[res]++
		_metricPutResults.WithLabelValues(res.String()).Inc()

		if res == chunk.PutStale && l.log.Enabled(log.LevelDebug) {
			l.log.Debugf("stale write rejected key=%s last_update=%s", c.Key, c.LastUpdate)
		}
		if l.opts.onApply != nil {
			l.opts.onApply(c, res, full)
		}
	}
	return results
}

func (l *Loader) wrapAbort(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		if errors.Is(err, chunk.ErrLoadAborted) {
			return err
		}
		return fmt.Errorf("%w: %w", chunk.ErrLoadAborted, context.Cause(ctx))
	}
	return err
}
