package chunk_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/omalloc/chunksync/api/defined/v1/chunk"
)

func TestCompareVersion(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1", "1", 0},
		{"2", "10", -1},
		{"10", "2", 1},
		{"-1", "0", -1},
		{"2024-01-01T00:00:00Z", "2024-01-01T00:00:01Z", -1},
		{"2024-01-01T01:00:00+01:00", "2024-01-01T00:00:00Z", 0},
		{"2024-01-02T00:00:00Z", "2024-01-01T23:59:59.999Z", 1},
		{"b", "a", 1},
		{"5", "abc", -1},
		{"", "1", -1},
	}

	for _, c := range cases {
		t.Run(fmt.Sprintf("%s_%s", c.a, c.b), func(t *testing.T) {
			assert.Equal(t, c.want, chunk.CompareVersion(c.a, c.b))
		})
	}
}

func TestChunkClone(t *testing.T) {
	c := &chunk.Chunk{Key: "g1", EncodedData: []byte("A"), EncodedHash: "h1", LastUpdate: "1"}
	cp := c.Clone()
	cp.EncodedData[0] = 'B'

	assert.Equal(t, "A", string(c.EncodedData))
	assert.False(t, c.IsTombstone())
	assert.True(t, (&chunk.Chunk{Key: "g1"}).IsTombstone())
}

func TestPageFetchErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	var err error = fmt.Errorf("load: %w", &chunk.PageFetchError{Offset: 10, Count: 5, Attempts: 3, Err: cause})

	var pfe *chunk.PageFetchError
	assert.True(t, errors.As(err, &pfe))
	assert.Equal(t, 10, pfe.Offset)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "offset=10")
}

func TestPutResultString(t *testing.T) {
	assert.Equal(t, "stale", chunk.PutStale.String())
	assert.True(t, chunk.PutDeleted.Applied())
	assert.False(t, chunk.PutUnchanged.Applied())
}
