package listener_test

import (
	"context"
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
	"github.com/omalloc/chunksync/listener"
)

type fakeReloader struct {
	mu      sync.Mutex
	batches [][]string
	full    int
	err     error
}

func (f *fakeReloader) Reload(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.full++
	return f.err
}

func (f *fakeReloader) ReloadKeys(_ context.Context, keys []string) error {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, sorted)
	return f.err
}

func (f *fakeReloader) snapshot() ([][]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.batches), f.full
}

func newListener(t *testing.T, r listener.Reloader, opts ...listener.Option) *listener.Listener {
	t.Helper()
	l := listener.New(r, opts...)
	t.Cleanup(func() { _ = l.Close(context.Background()) })
	return l
}

func TestNotificationsCoalesce(t *testing.T) {
	r := &fakeReloader{}
	l := newListener(t, r, listener.WithWindow(30*time.Millisecond))

	l.OnNotification([]string{"a"})
	l.OnNotification([]string{"b", "a"})
	l.OnNotification([]string{"a"})

	assert.Equal(t, 2, l.Stats().Pending)

	assert.Eventually(t, func() bool {
		batches, _ := r.snapshot()
		return len(batches) == 1
	}, time.Second, 5*time.Millisecond)

	batches, _ := r.snapshot()
	assert.Equal(t, []string{"a", "b"}, batches[0])

	st := l.Stats()
	assert.EqualValues(t, 4, st.Received)
	assert.EqualValues(t, 1, st.Batches)
	assert.Zero(t, st.Pending)
}

func TestSeparateWindows(t *testing.T) {
	r := &fakeReloader{}
	l := newListener(t, r, listener.WithWindow(10*time.Millisecond))

	l.OnNotification([]string{"a"})
	assert.Eventually(t, func() bool {
		batches, _ := r.snapshot()
		return len(batches) == 1
	}, time.Second, time.Millisecond)

	l.OnNotification([]string{"a"})
	assert.Eventually(t, func() bool {
		batches, _ := r.snapshot()
		return len(batches) == 2
	}, time.Second, time.Millisecond)
}

func TestMalformedNotificationsDropped(t *testing.T) {
	r := &fakeReloader{}
	l := newListener(t, r, listener.WithWindow(0))

	l.OnNotification(nil)
	l.OnNotification([]string{""})
	l.OnNotification([]string{"", "k"})

	assert.Eventually(t, func() bool {
		batches, _ := r.snapshot()
		return len(batches) == 1
	}, time.Second, time.Millisecond)

	batches, _ := r.snapshot()
	assert.Equal(t, []string{"k"}, batches[0])
	assert.EqualValues(t, 3, l.Stats().Malformed)
}

func TestOnPayload(t *testing.T) {
	r := &fakeReloader{}
	l := newListener(t, r, listener.WithWindow(20*time.Millisecond))

	l.OnPayload([]byte(`{"keys":["x","y"]}`))
	l.OnPayload([]byte(` ["z"] `))
	l.OnPayload([]byte(`{"keys":`))
	l.OnPayload(nil)

	assert.Eventually(t, func() bool {
		batches, _ := r.snapshot()
		return len(batches) == 1
	}, time.Second, 5*time.Millisecond)

	batches, _ := r.snapshot()
	assert.Equal(t, []string{"x", "y", "z"}, batches[0])
	assert.EqualValues(t, 2, l.Stats().Malformed)
}

func TestDecodeNotification(t *testing.T) {
	keys, err := listener.DecodeNotification([]byte(`{"keys":["a"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys)

	keys, err = listener.DecodeNotification([]byte(`["a","b"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	_, err = listener.DecodeNotification([]byte(`nope`))
	var mne *chunk.MalformedNotificationError
	require.ErrorAs(t, err, &mne)
	assert.Equal(t, "decode notification", mne.Reason)
}

func TestOnReconnectReloadsEverything(t *testing.T) {
	r := &fakeReloader{}
	l := newListener(t, r)

	l.OnReconnect()
	assert.Eventually(t, func() bool {
		_, full := r.snapshot()
		return full == 1
	}, time.Second, time.Millisecond)
	assert.EqualValues(t, 1, l.Stats().Reconnects)
}

func TestSubscribeBus(t *testing.T) {
	bus := event.NewBus()
	publish := event.NewPublish(bus, event.ChunkChangedTopic)

	r := &fakeReloader{}
	l := newListener(t, r, listener.WithWindow(10*time.Millisecond))
	require.NoError(t, l.Subscribe(bus))

	publish(context.Background(), event.ChunkChanged{Keys: []string{"k1", "k2"}, Source: "test"})

	assert.Eventually(t, func() bool {
		batches, _ := r.snapshot()
		return len(batches) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribeControllerBus(t *testing.T) {
	ctrl := controller.New(memory.Generate("g", 1))
	t.Cleanup(func() { _ = ctrl.Shutdown(context.Background()) })

	r := &fakeReloader{}
	l := newListener(t, r, listener.WithWindow(10*time.Millisecond))
	// no push source has published on this bus yet.
	require.NoError(t, l.Subscribe(ctrl.Bus()))

	publish := event.NewPublish(ctrl.Bus(), event.ChunkChangedTopic)
	publish(context.Background(), event.ChunkChanged{Keys: []string{"g/0"}, Source: "test"})

	assert.Eventually(t, func() bool {
		batches, _ := r.snapshot()
		return len(batches) == 1 && slices.Equal(batches[0], []string{"g/0"})
	}, time.Second, 5*time.Millisecond)
}

func TestCloseDropsPending(t *testing.T) {
	r := &fakeReloader{}
	l := listener.New(r, listener.WithWindow(20*time.Millisecond))

	l.OnNotification([]string{"a"})
	require.NoError(t, l.Close(context.Background()))
	l.OnNotification([]string{"b"})

	time.Sleep(40 * time.Millisecond)
	batches, _ := r.snapshot()
	assert.Empty(t, batches)
}

func TestFailedBatchCounted(t *testing.T) {
	r := &fakeReloader{err: assert.AnError}
	l := newListener(t, r, listener.WithWindow(0))

	l.OnNotification([]string{"a"})
	assert.Eventually(t, func() bool {
		return l.Stats().Failed == 1
	}, time.Second, time.Millisecond)

	r.mu.Lock()
	r.err = chunk.ErrStopped
	r.mu.Unlock()

	l.OnNotification([]string{"b"})
	assert.Eventually(t, func() bool {
		return l.Stats().Batches == 2
	}, time.Second, time.Millisecond)
	assert.EqualValues(t, 1, l.Stats().Failed)
}
