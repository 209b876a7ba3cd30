package chunk

import "context"

// Authority is the remote owner of the chunk set.
type Authority interface {
	// FetchPage returns up to count chunks starting at offset.
	// A short or empty page marks the end of the data.
	FetchPage(ctx context.Context, offset, count int) ([]*Chunk, error)
	// FetchKeys returns the current chunks for keys. Keys unknown to the
	// authority come back as tombstones.
	FetchKeys(ctx context.Context, keys []string) ([]*Chunk, error)
}

// Counter is implemented by authorities that can report the total chunk count.
type Counter interface {
	Count(ctx context.Context) (int, error)
}
