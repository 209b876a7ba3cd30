package nutsdb_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/chunksync/api/defined/v1/chunk"
	"github.com/omalloc/chunksync/storage/snapshot"
	_ "github.com/omalloc/chunksync/storage/snapshot/nutsdb"
)

func open(t *testing.T) snapshot.Snapshot {
	t.Helper()
	s, err := snapshot.Create(&snapshot.Option{
		Driver:    "nutsdb",
		Path:      t.TempDir(),
		Compress:  "brotli",
		CodecName: "json",
		Options:   map[string]any{"batch_size": 7},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func chunks(n int, version string) []*chunk.Chunk {
	out := make([]*chunk.Chunk, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &chunk.Chunk{
			Key:         fmt.Sprintf("n%03d", i),
			EncodedData: []byte(fmt.Sprintf("payload-%d-%s", i, version)),
			EncodedHash: fmt.Sprintf("h%d-%s", i, version),
			LastUpdate:  version,
		})
	}
	return out
}

func restore(t *testing.T, s snapshot.Snapshot) map[string]*chunk.Chunk {
	t.Helper()
	got := make(map[string]*chunk.Chunk)
	require.NoError(t, s.Restore(context.Background(), func(c *chunk.Chunk) error {
		got[c.Key] = c
		return nil
	}))
	return got
}

func TestPersistRestore(t *testing.T) {
	s := open(t)

	// 30 records span several batches.
	require.NoError(t, s.Persist(context.Background(), chunks(30, "1")))

	got := restore(t, s)
	assert.Len(t, got, 30)
	assert.Equal(t, "payload-29-1", string(got["n029"].EncodedData))
	assert.Equal(t, "h3-1", got["n003"].EncodedHash)
}

func TestPersistReplaces(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx, chunks(30, "1")))
	require.NoError(t, s.Persist(ctx, chunks(4, "2")))

	got := restore(t, s)
	assert.Len(t, got, 4)
	for _, c := range got {
		assert.Equal(t, "2", c.LastUpdate)
	}
}

func TestRestoreEmpty(t *testing.T) {
	s := open(t)
	assert.Empty(t, restore(t, s))
}

func TestPersistCanceled(t *testing.T) {
	s := open(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Persist(ctx, chunks(30, "1")), context.Canceled)
}
