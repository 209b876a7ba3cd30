package controller_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/chunksync/api/defined/v1/chunk"
	"github.com/omalloc/chunksync/api/defined/v1/event"
	"github.com/omalloc/chunksync/authority/memory"
	"github.com/omalloc/chunksync/controller"
	"github.com/omalloc/chunksync/loader"
)

func fast() controller.Option {
	return controller.WithLoaderOptions(loader.WithRetry(0, time.Millisecond, time.Millisecond))
}

func newStarted(t *testing.T, remote *memory.Authority, opts ...controller.Option) *controller.Controller {
	t.Helper()
	c := controller.New(remote, opts...)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	return c
}

func TestStartLoadsEverything(t *testing.T) {
	remote := memory.New(
		&chunk.Chunk{Key: "g1", EncodedData: []byte("A"), EncodedHash: "h1", LastUpdate: "1"},
		&chunk.Chunk{Key: "g2", EncodedData: []byte("B"), EncodedHash: "h2", LastUpdate: "1"},
	)
	c := newStarted(t, remote, controller.WithLoaderOptions(loader.WithPageSize(1)))

	assert.Equal(t, chunk.StateReady, c.State())

	g1, ok := c.Lookup("g1")
	require.True(t, ok)
	assert.Equal(t, "A", string(g1.EncodedData))

	g2, ok := c.Lookup("g2")
	require.True(t, ok)
	assert.Equal(t, "B", string(g2.EncodedData))

	_, ok = c.Lookup("g3")
	assert.False(t, ok)

	st := c.Status()
	assert.Equal(t, "READY", st.State)
	assert.Equal(t, 2, st.Chunks)
	require.NotNil(t, st.LastSummary)
	assert.Equal(t, 2, st.LastSummary.Count(chunk.PutStored))
}

func TestStartTwiceIsNoop(t *testing.T) {
	remote := memory.Generate("g", 3)
	c := newStarted(t, remote)

	remote.ResetRequests()
	require.NoError(t, c.Start(context.Background()))
	assert.Empty(t, remote.Requests())
}

func TestReloadKeysRejectsStaleWrite(t *testing.T) {
	remote := memory.New(&chunk.Chunk{Key: "g1", EncodedData: []byte("v5"), EncodedHash: "h5", LastUpdate: "5"})
	c := newStarted(t, remote)

	// the authority now serves an older version
	remote.Put(&chunk.Chunk{Key: "g1", EncodedData: []byte("v3"), EncodedHash: "h3", LastUpdate: "3"})

	require.NoError(t, c.ReloadKeys(context.Background(), []string{"g1"}))

	g1, ok := c.Lookup("g1")
	require.True(t, ok)
	assert.Equal(t, "5", g1.LastUpdate)
	assert.Equal(t, "v5", string(g1.EncodedData))
	assert.Equal(t, chunk.StateReady, c.State())
}

func TestReloadKeysAppliesUpdatesAndDeletes(t *testing.T) {
	remote := memory.Generate("g", 3)
	c := newStarted(t, remote)

	remote.Set("g-000001", []byte("fresh"))
	remote.Delete("g-000002")
	remote.Set("g-000009", []byte("new"))

	require.NoError(t, c.ReloadKeys(context.Background(), []string{"g-000001", "g-000002", "g-000009"}))

	got, ok := c.Lookup("g-000001")
	require.True(t, ok)
	assert.Equal(t, "fresh", string(got.EncodedData))

	_, ok = c.Lookup("g-000002")
	assert.False(t, ok)

	_, ok = c.Lookup("g-000009")
	assert.True(t, ok)
	assert.Equal(t, []string{"g-000000", "g-000001", "g-000009"}, c.Keys())
}

func TestShutdownDuringStart(t *testing.T) {
	remote := memory.Generate("g", 200)
	remote.SetLatency(20 * time.Millisecond)

	c := controller.New(remote, controller.WithLoaderOptions(
		loader.WithPageSize(5),
		loader.WithMaxParallel(2),
	))

	result := make(chan error, 1)
	go func() { result <- c.Start(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Shutdown(context.Background()))
	calls := len(remote.Requests())

	err := <-result
	assert.ErrorIs(t, err, chunk.ErrLoadAborted)
	assert.Equal(t, chunk.StateStopped, c.State())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, calls, len(remote.Requests()), "no request may reach the authority after shutdown")
	assert.Less(t, c.Len(), 200)
}

func TestStoppedRejectsOperations(t *testing.T) {
	remote := memory.Generate("g", 1)
	c := newStarted(t, remote)
	require.NoError(t, c.Shutdown(context.Background()))
	require.NoError(t, c.Shutdown(context.Background()))

	ctx := context.Background()
	assert.ErrorIs(t, c.Start(ctx), chunk.ErrStopped)
	assert.ErrorIs(t, c.Reload(ctx), chunk.ErrStopped)
	assert.ErrorIs(t, c.ReloadKeys(ctx, []string{"g-000000"}), chunk.ErrStopped)

	// lookups keep serving what the store holds
	_, ok := c.Lookup("g-000000")
	assert.True(t, ok)
}

func TestConcurrentReloadKeysCoalesce(t *testing.T) {
	remote := memory.New(
		&chunk.Chunk{Key: "a", EncodedData: []byte("a1"), EncodedHash: "ha1", LastUpdate: "1"},
		&chunk.Chunk{Key: "b", EncodedData: []byte("b1"), EncodedHash: "hb1", LastUpdate: "1"},
	)
	c := newStarted(t, remote)

	remote.Set("a", []byte("a2"))
	remote.Set("b", []byte("b2"))
	remote.ResetRequests()
	remote.SetLatency(20 * time.Millisecond)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, key := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = c.ReloadKeys(context.Background(), []string{key})
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	a, _ := c.Lookup("a")
	b, _ := c.Lookup("b")
	assert.Equal(t, "a2", string(a.EncodedData))
	assert.Equal(t, "b2", string(b.EncodedData))

	seen := make(map[string]int)
	for _, req := range remote.RequestsOf(memory.RequestKeys) {
		for _, k := range req.Keys {
			seen[k]++
		}
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, seen)
	assert.Equal(t, 1, remote.PeakInFlight())
	assert.Equal(t, chunk.StateReady, c.State())
}

func TestRequestsMergeWhileBusy(t *testing.T) {
	remote := memory.Generate("g", 5)
	c := newStarted(t, remote)

	remote.ResetRequests()
	remote.SetLatency(40 * time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.ReloadKeys(context.Background(), []string{"g-000000"}))
	}()
	time.Sleep(10 * time.Millisecond)

	for _, key := range []string{"g-000001", "g-000002", "g-000001", "g-000003"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.ReloadKeys(context.Background(), []string{key}))
		}()
	}
	wg.Wait()

	reqs := remote.RequestsOf(memory.RequestKeys)
	require.Len(t, reqs, 2)
	assert.Equal(t, []string{"g-000000"}, reqs[0].Keys)

	merged := slices.Clone(reqs[1].Keys)
	slices.Sort(merged)
	assert.Equal(t, []string{"g-000001", "g-000002", "g-000003"}, merged)
}

func TestFullReloadSubsumesKeys(t *testing.T) {
	remote := memory.Generate("g", 5)
	c := newStarted(t, remote)

	remote.ResetRequests()
	remote.SetLatency(30 * time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.ReloadKeys(context.Background(), []string{"g-000000"}))
	}()
	time.Sleep(10 * time.Millisecond)

	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.ReloadKeys(context.Background(), []string{"g-000004"}))
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, c.Reload(context.Background()))
	}()
	wg.Wait()

	assert.Len(t, remote.RequestsOf(memory.RequestKeys), 1)
	assert.NotEmpty(t, remote.RequestsOf(memory.RequestPage))
	assert.Equal(t, 5, c.Len())
}

func TestReloadDropsRemovedKeys(t *testing.T) {
	remote := memory.Generate("g", 4)
	c := newStarted(t, remote)

	remote.Delete("g-000003")
	require.NoError(t, c.Reload(context.Background()))

	assert.Equal(t, 3, c.Len())
	_, ok := c.Lookup("g-000003")
	assert.False(t, ok)
}

func TestFailedStartRetriesInBackground(t *testing.T) {
	remote := memory.Generate("g", 3)
	remote.FailTimes(memory.RequestPage, 2, errors.New("authority down"))

	c := controller.New(remote, fast(), controller.WithFailBackoff(10*time.Millisecond, 20*time.Millisecond))
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	err := c.Start(context.Background())
	var pfe *chunk.PageFetchError
	require.ErrorAs(t, err, &pfe)
	assert.NotErrorIs(t, err, chunk.ErrLoadAborted)
	assert.Equal(t, chunk.StateFailed, c.State())
	assert.NotEmpty(t, c.Status().LastError)

	assert.Eventually(t, func() bool {
		return c.State() == chunk.StateReady
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, c.Len())
	assert.Zero(t, c.Status().Failures)
}

func TestTargetedFailureKeepsState(t *testing.T) {
	remote := memory.Generate("g", 2)
	c := newStarted(t, remote, fast())

	remote.FailTimes(memory.RequestKeys, 5, errors.New("flaky"))
	err := c.ReloadKeys(context.Background(), []string{"g-000000"})

	var pfe *chunk.PageFetchError
	require.ErrorAs(t, err, &pfe)
	assert.Equal(t, chunk.StateReady, c.State())
	assert.Equal(t, 2, c.Len())
}

func TestStagedReloadKeepsServing(t *testing.T) {
	remote := memory.Generate("g", 10)
	c := newStarted(t, remote, fast(),
		controller.WithStagedReload(true),
		controller.WithFailBackoff(time.Hour, time.Hour),
		controller.WithLoaderOptions(loader.WithPageSize(2), loader.WithMaxParallel(1)),
	)

	remote.Delete("g-000000")
	remote.SetLatency(10 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- c.Reload(context.Background()) }()

	assert.Eventually(t, func() bool { return c.State() == chunk.StateLoading }, time.Second, time.Millisecond)
	assert.Equal(t, 10, c.Len(), "live store must stay intact while staging")

	require.NoError(t, <-done)
	assert.Equal(t, 9, c.Len())

	// a failed staged reload leaves the live store alone
	remote.FailTimes(memory.RequestPage, 1, errors.New("down"))
	assert.Error(t, c.Reload(context.Background()))
	assert.Equal(t, chunk.StateFailed, c.State())
	assert.Equal(t, 9, c.Len())
}

func TestStateEvents(t *testing.T) {
	remote := memory.Generate("g", 1)
	bus := event.NewBus()
	c := controller.New(remote, controller.WithBus(bus))
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	var (
		mu          sync.Mutex
		transitions []string
		applied     []string
	)
	require.NoError(t, event.Subscribe(bus, event.ChunkStateTopic, func(_ context.Context, ev event.StateChanged) {
		mu.Lock()
		transitions = append(transitions, ev.From+">"+ev.To)
		mu.Unlock()
	}))
	require.NoError(t, event.Subscribe(bus, event.ChunkAppliedTopic, func(_ context.Context, ev event.ChunkApplied) {
		mu.Lock()
		applied = append(applied, ev.Key)
		mu.Unlock()
	}))

	require.NoError(t, c.Start(context.Background()))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return slices.Contains(transitions, "LOADING>READY") && len(applied) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "UNINITIALIZED>LOADING", transitions[0])
	assert.Equal(t, []string{"g-000000"}, applied)
	mu.Unlock()
}

func TestLookupObserver(t *testing.T) {
	c := newStarted(t, memory.Generate("g", 1))

	hits, misses := 0, 0
	c.ObserveLookups(func(_ string, hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	})

	c.Lookup("g-000000")
	c.Lookup("g-000000")
	c.Lookup("nope")

	assert.Equal(t, 2, hits)
	assert.Equal(t, 1, misses)
}

func TestReloadBeforeStart(t *testing.T) {
	c := controller.New(memory.Generate("g", 1))
	assert.Error(t, c.Reload(context.Background()))
	assert.Error(t, c.ReloadKeys(context.Background(), []string{"x"}))
	assert.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, chunk.StateStopped, c.State())
}

func TestRecoveryDisarmsFailureRetry(t *testing.T) {
	remote := memory.Generate("g", 3)
	remote.FailTimes(memory.RequestPage, 1, errors.New("authority down"))

	c := controller.New(remote, fast(), controller.WithFailBackoff(100*time.Millisecond, 100*time.Millisecond))
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	require.Error(t, c.Start(context.Background()))
	require.Equal(t, chunk.StateFailed, c.State())

	require.NoError(t, c.Reload(context.Background()))
	require.Equal(t, chunk.StateReady, c.State())
	remote.ResetRequests()

	// well past the armed backoff
	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, remote.Requests())
	assert.Equal(t, chunk.StateReady, c.State())
	assert.Equal(t, 3, c.Len())
}

func TestShutdownTimeoutStillStops(t *testing.T) {
	remote := memory.Generate("g", 2)
	snap := &memSnapshot{}
	c := newStarted(t, remote, controller.WithSnapshot(snap, false))

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	remote.SetFailure(func(memory.Request) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	go func() { _ = c.Reload(context.Background()) }()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("reload never reached the authority")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Shutdown(ctx), context.DeadlineExceeded)
	assert.Equal(t, chunk.StateStopped, c.State())
	assert.NoError(t, c.Shutdown(context.Background()))

	close(release)
	assert.Eventually(t, func() bool {
		snap.mu.Lock()
		defer snap.mu.Unlock()
		return snap.closed
	}, time.Second, 5*time.Millisecond)

	snap.mu.Lock()
	assert.Zero(t, snap.persisted)
	snap.mu.Unlock()
	assert.Equal(t, chunk.StateStopped, c.State())
}

// reusingAuthority hands out pages backed by one shared buffer.
type reusingAuthority struct {
	*memory.Authority
	buf []byte
}

func (a *reusingAuthority) FetchPage(ctx context.Context, offset, count int) ([]*chunk.Chunk, error) {
	chunks, err := a.Authority.FetchPage(ctx, offset, count)
	for _, ch := range chunks {
		ch.EncodedData = a.buf
	}
	return chunks, err
}

func TestAppliedEventOwnsPayload(t *testing.T) {
	remote := &reusingAuthority{
		Authority: memory.New(&chunk.Chunk{Key: "g1", EncodedData: []byte("AAAA"), EncodedHash: "h1", LastUpdate: "1"}),
		buf:       []byte("AAAA"),
	}
	bus := event.NewBus()
	c := controller.New(remote, controller.WithBus(bus))
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	// keeps the payload as handed over, the way a queued consumer would.
	got := make(chan []byte, 1)
	require.NoError(t, event.Subscribe(bus, event.ChunkAppliedTopic, func(_ context.Context, ev event.ChunkApplied) {
		got <- ev.Data
	}))

	require.NoError(t, c.Start(context.Background()))
	copy(remote.buf, "ZZZZ")

	select {
	case data := <-got:
		assert.Equal(t, "AAAA", string(data))
	case <-time.After(time.Second):
		t.Fatal("no applied event")
	}

	stored, ok := c.Lookup("g1")
	require.True(t, ok)
	assert.Equal(t, "AAAA", string(stored.EncodedData))
}
