// Package memory is an in-process chunk.Authority backed by an ordered key space.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/samber/lo"

	"github.com/omalloc/chunksync/api/defined/v1/chunk"
)

var (
	_ chunk.Authority = (*Authority)(nil)
	_ chunk.Counter   = (*Authority)(nil)
)

// RequestKind names a call recorded in the request log.
type RequestKind string

const (
	RequestPage  RequestKind = "page"
	RequestKeys  RequestKind = "keys"
	RequestCount RequestKind = "count"
)

// Request is one entry of the request log.
type Request struct {
	Kind   RequestKind
	Offset int
	Count  int
	Keys   []string
	At     time.Time
}

// FailFunc decides whether a request fails. A nil error lets it through.
type FailFunc func(req Request) error

// Authority keeps chunks sorted by key and serves pages out of that order.
type Authority struct {
	mu      sync.RWMutex
	items   map[string]*chunk.Chunk
	deleted map[string]string
	order   []string
	seq     int64

	logMu    sync.Mutex
	requests []Request

	fail      atomic.Pointer[FailFunc]
	latency   atomic.Int64
	inflight  atomic.Int32
	peak      atomic.Int32
	watchers  []func(keys []string)
	watcherMu sync.RWMutex
}

// New returns an authority holding chunks.
func New(chunks ...*chunk.Chunk) *Authority {
	a := &Authority{
		items:   make(map[string]*chunk.Chunk),
		deleted: make(map[string]string),
	}
	for _, c := range chunks {
		a.put(c)
	}
	return a
}

// Generate returns an authority with n chunks named prefix-000000 and up.
func Generate(prefix string, n int) *Authority {
	a := New()
	for i := 0; i < n; i++ {
		a.Set(prefix+"-"+leftPad(i), []byte("payload-"+strconv.Itoa(i)))
	}
	return a
}

func leftPad(i int) string {
	s := strconv.Itoa(i)
	for len(s) < 6 {
		s = "0" + s
	}
	return s
}

// Hash is the content hash used by Set.
func Hash(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// Set stores data under key with a fresh version and notifies watchers.
func (a *Authority) Set(key string, data []byte) *chunk.Chunk {
	a.mu.Lock()
	a.seq++
	c := &chunk.Chunk{
		Key:         key,
		EncodedData: append([]byte(nil), data...),
		EncodedHash: Hash(data),
		LastUpdate:  strconv.FormatInt(a.seq, 10),
	}
	a.putLocked(c)
	a.mu.Unlock()

	a.notify([]string{key})
	return c.Clone()
}

// Delete removes key with a fresh version and notifies watchers.
func (a *Authority) Delete(key string) {
	a.mu.Lock()
	a.seq++
	a.putLocked(&chunk.Chunk{Key: key, LastUpdate: strconv.FormatInt(a.seq, 10)})
	a.mu.Unlock()

	a.notify([]string{key})
}

// Put stores c verbatim, version included. Watchers are not notified.
func (a *Authority) Put(c *chunk.Chunk) {
	a.put(c)
}

func (a *Authority) put(c *chunk.Chunk) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, err := strconv.ParseInt(c.LastUpdate, 10, 64); err == nil && v > a.seq {
		a.seq = v
	}
	a.putLocked(c.Clone())
}

func (a *Authority) putLocked(c *chunk.Chunk) {
	if c.IsTombstone() {
		if _, ok := a.items[c.Key]; ok {
			delete(a.items, c.Key)
			idx, _ := slices.BinarySearch(a.order, c.Key)
			a.order = slices.Delete(a.order, idx, idx+1)
		}
		a.deleted[c.Key] = c.LastUpdate
		return
	}

	if _, ok := a.items[c.Key]; !ok {
		idx, _ := slices.BinarySearch(a.order, c.Key)
		a.order = slices.Insert(a.order, idx, c.Key)
	}
	delete(a.deleted, c.Key)
	a.items[c.Key] = c
}

// Len returns the number of live chunks.
func (a *Authority) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.order)
}

// Keys returns the live keys in page order.
func (a *Authority) Keys() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.order)
}

// Get returns the live chunk for key.
func (a *Authority) Get(key string) (*chunk.Chunk, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.items[key]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Watch registers fn to receive the keys changed by Set and Delete.
func (a *Authority) Watch(fn func(keys []string)) {
	a.watcherMu.Lock()
	defer a.watcherMu.Unlock()
	a.watchers = append(a.watchers, fn)
}

func (a *Authority) notify(keys []string) {
	a.watcherMu.RLock()
	defer a.watcherMu.RUnlock()
	for _, fn := range a.watchers {
		fn(keys)
	}
}

// SetLatency delays every request by d.
func (a *Authority) SetLatency(d time.Duration) {
	a.latency.Store(int64(d))
}

// SetFailure installs fn to decide request failures. nil clears it.
func (a *Authority) SetFailure(fn FailFunc) {
	if fn == nil {
		a.fail.Store(nil)
		return
	}
	a.fail.Store(&fn)
}

// FailTimes makes the next n requests matching kind fail with err.
func (a *Authority) FailTimes(kind RequestKind, n int, err error) {
	var left atomic.Int32
	left.Store(int32(n))
	a.SetFailure(func(req Request) error {
		if req.Kind != kind {
			return nil
		}
		if left.Add(-1) >= 0 {
			return err
		}
		return nil
	})
}

// Requests returns a copy of the request log.
func (a *Authority) Requests() []Request {
	a.logMu.Lock()
	defer a.logMu.Unlock()
	return slices.Clone(a.requests)
}

// RequestsOf returns the logged requests of one kind.
func (a *Authority) RequestsOf(kind RequestKind) []Request {
	return lo.Filter(a.Requests(), func(r Request, _ int) bool { return r.Kind == kind })
}

// ResetRequests empties the request log and the in-flight peak.
func (a *Authority) ResetRequests() {
	a.logMu.Lock()
	defer a.logMu.Unlock()
	a.requests = nil
	a.peak.Store(a.inflight.Load())
}

// PeakInFlight returns the highest number of concurrent requests observed.
func (a *Authority) PeakInFlight() int {
	return int(a.peak.Load())
}

func (a *Authority) begin(ctx context.Context, req Request) (func(), error) {
	req.At = time.Now()
	a.logMu.Lock()
	a.requests = append(a.requests, req)
	a.logMu.Unlock()

	n := a.inflight.Add(1)
	for {
		p := a.peak.Load()
		if n <= p || a.peak.CompareAndSwap(p, n) {
			break
		}
	}
	done := func() { a.inflight.Add(-1) }

	if d := time.Duration(a.latency.Load()); d > 0 {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			done()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	if fn := a.fail.Load(); fn != nil {
		if err := (*fn)(req); err != nil {
			done()
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		done()
		return nil, err
	}
	return done, nil
}

// FetchPage implements chunk.Authority.
func (a *Authority) FetchPage(ctx context.Context, offset, count int) ([]*chunk.Chunk, error) {
	done, err := a.begin(ctx, Request{Kind: RequestPage, Offset: offset, Count: count})
	if err != nil {
		return nil, err
	}
	defer done()

	a.mu.RLock()
	defer a.mu.RUnlock()

	if offset >= len(a.order) || count <= 0 {
		return []*chunk.Chunk{}, nil
	}
	end := min(offset+count, len(a.order))
	out := make([]*chunk.Chunk, 0, end-offset)
	for _, k := range a.order[offset:end] {
		out = append(out, a.items[k].Clone())
	}
	return out, nil
}

// FetchKeys implements chunk.Authority.
func (a *Authority) FetchKeys(ctx context.Context, keys []string) ([]*chunk.Chunk, error) {
	done, err := a.begin(ctx, Request{Kind: RequestKeys, Keys: slices.Clone(keys)})
	if err != nil {
		return nil, err
	}
	defer done()

	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]*chunk.Chunk, 0, len(keys))
	for _, k := range keys {
		if c, ok := a.items[k]; ok {
			out = append(out, c.Clone())
			continue
		}
		out = append(out, &chunk.Chunk{Key: k, LastUpdate: a.deleted[k]})
	}
	return out, nil
}

// Count implements chunk.Counter.
func (a *Authority) Count(ctx context.Context) (int, error) {
	done, err := a.begin(ctx, Request{Kind: RequestCount})
	if err != nil {
		return 0, err
	}
	defer done()
	return a.Len(), nil
}
