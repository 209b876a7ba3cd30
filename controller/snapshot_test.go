package controller_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/chunksync/api/defined/v1/chunk"
	"github.com/omalloc/chunksync/authority/memory"
	"github.com/omalloc/chunksync/controller"
)

type memSnapshot struct {
	mu        sync.Mutex
	chunks    []*chunk.Chunk
	persisted int
	closed    bool
}

func (s *memSnapshot) Persist(_ context.Context, chunks []*chunk.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = chunks
	s.persisted++
	return nil
}

func (s *memSnapshot) Restore(_ context.Context, fn func(c *chunk.Chunk) error) error {
	s.mu.Lock()
	chunks := s.chunks
	s.mu.Unlock()
	for _, c := range chunks {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *memSnapshot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memSnapshot) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.chunks))
	for _, c := range s.chunks {
		keys = append(keys, c.Key)
	}
	return keys
}

func TestSnapshotWarmStart(t *testing.T) {
	snap := &memSnapshot{chunks: []*chunk.Chunk{
		{Key: "gone", EncodedData: []byte("x"), EncodedHash: "hx", LastUpdate: "1"},
		{Key: "g-000000", EncodedData: []byte("old"), EncodedHash: "ho", LastUpdate: "0"},
	}}
	remote := memory.Generate("g", 3)
	remote.SetLatency(30 * time.Millisecond)

	c := controller.New(remote, controller.WithSnapshot(snap, false))

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()

	assert.Eventually(t, func() bool { return c.State() == chunk.StateLoading }, time.Second, time.Millisecond)
	_, ok := c.Lookup("gone")
	assert.True(t, ok, "snapshot chunks serve lookups while the first load runs")

	require.NoError(t, <-done)
	_, ok = c.Lookup("gone")
	assert.False(t, ok)
	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Status().Staged)

	require.NoError(t, c.Shutdown(context.Background()))
	assert.ElementsMatch(t, []string{"g-000000", "g-000001", "g-000002"}, snap.keys())
	assert.True(t, snap.closed)
}

func TestSnapshotPersistOnLoad(t *testing.T) {
	snap := &memSnapshot{}
	c := controller.New(memory.Generate("g", 2), controller.WithSnapshot(snap, true))
	require.NoError(t, c.Start(context.Background()))

	snap.mu.Lock()
	assert.Equal(t, 1, snap.persisted)
	snap.mu.Unlock()

	require.NoError(t, c.Shutdown(context.Background()))
	snap.mu.Lock()
	assert.Equal(t, 2, snap.persisted)
	snap.mu.Unlock()
}

func TestSnapshotSkippedWhenNotReady(t *testing.T) {
	snap := &memSnapshot{}
	remote := memory.Generate("g", 50)
	remote.SetLatency(50 * time.Millisecond)

	c := controller.New(remote, controller.WithSnapshot(snap, false))
	go func() { _ = c.Start(context.Background()) }()

	assert.Eventually(t, func() bool { return c.State() == chunk.StateLoading }, time.Second, time.Millisecond)
	require.NoError(t, c.Shutdown(context.Background()))

	snap.mu.Lock()
	defer snap.mu.Unlock()
	assert.Zero(t, snap.persisted)
	assert.True(t, snap.closed)
}
