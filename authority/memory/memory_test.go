package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/chunksync/api/defined/v1/chunk"
	"github.com/omalloc/chunksync/authority/memory"
)

func TestFetchPageOrdered(t *testing.T) {
	a := memory.New(
		&chunk.Chunk{Key: "c", EncodedData: []byte("3"), EncodedHash: "h3", LastUpdate: "1"},
		&chunk.Chunk{Key: "a", EncodedData: []byte("1"), EncodedHash: "h1", LastUpdate: "1"},
		&chunk.Chunk{Key: "b", EncodedData: []byte("2"), EncodedHash: "h2", LastUpdate: "1"},
	)

	page, err := a.FetchPage(context.Background(), 1, 5)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].Key)
	assert.Equal(t, "c", page[1].Key)

	page, err = a.FetchPage(context.Background(), 3, 5)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestFetchKeysTombstones(t *testing.T) {
	a := memory.Generate("g", 3)
	a.Delete("g-000001")

	got, err := a.FetchKeys(context.Background(), []string{"g-000000", "g-000001", "nope"})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.False(t, got[0].IsTombstone())
	assert.True(t, got[1].IsTombstone())
	assert.Equal(t, "4", got[1].LastUpdate)
	assert.True(t, got[2].IsTombstone())
	assert.Empty(t, got[2].LastUpdate)
	assert.Equal(t, 2, a.Len())
}

func TestSetBumpsVersion(t *testing.T) {
	a := memory.New()
	c1 := a.Set("k", []byte("one"))
	c2 := a.Set("k", []byte("two"))

	assert.Equal(t, 1, chunk.CompareVersion(c2.LastUpdate, c1.LastUpdate))
	assert.NotEqual(t, c1.EncodedHash, c2.EncodedHash)
	assert.Equal(t, memory.Hash([]byte("two")), c2.EncodedHash)
}

func TestFailTimes(t *testing.T) {
	a := memory.Generate("g", 2)
	boom := errors.New("boom")
	a.FailTimes(memory.RequestPage, 2, boom)

	_, err := a.FetchPage(context.Background(), 0, 1)
	assert.ErrorIs(t, err, boom)
	_, err = a.FetchKeys(context.Background(), []string{"g-000000"})
	assert.NoError(t, err)
	_, err = a.FetchPage(context.Background(), 0, 1)
	assert.ErrorIs(t, err, boom)
	_, err = a.FetchPage(context.Background(), 0, 1)
	assert.NoError(t, err)

	assert.Len(t, a.RequestsOf(memory.RequestPage), 3)
	assert.Len(t, a.Requests(), 4)
}

func TestLatencyRespectsContext(t *testing.T) {
	a := memory.Generate("g", 1)
	a.SetLatency(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := a.FetchPage(ctx, 0, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWatch(t *testing.T) {
	a := memory.New()
	var got []string
	a.Watch(func(keys []string) { got = append(got, keys...) })

	a.Set("x", []byte("1"))
	a.Delete("x")
	a.Put(&chunk.Chunk{Key: "y", EncodedData: []byte("v"), EncodedHash: "h", LastUpdate: "9"})

	assert.Equal(t, []string{"x", "x"}, got)
}
