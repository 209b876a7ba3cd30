package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/omalloc/chunksync/api/defined/v1/chunk"
)

// restore warms the store from the snapshot. A warmed store is kept
// readable during the first full load, which then runs staged.
func (c *Controller) restore(ctx context.Context) {
	s := c.opts.snapshot
	if s == nil {
		return
	}

	start := time.Now()
	n := 0
	err := s.Restore(ctx, func(ch *chunk.Chunk) error {
		if c.store.Put(ch).Applied() {
			n++
		}
		return nil
	})
	if err != nil {
		c.log.Warnf("restore snapshot failed after %d chunks: %v", n, err)
	}
	if n == 0 {
		return
	}

	c.mu.Lock()
	c.warmed = true
	c.mu.Unlock()

	_metricStoreSize.Set(float64(c.store.Len()))
	c.log.Infof("restored %d chunks from snapshot in %s", n, time.Since(start))
}

func (c *Controller) persist(ctx context.Context) error {
	chunks := make([]*chunk.Chunk, 0, c.store.Len())
	c.store.Range(func(ch *chunk.Chunk) bool {
		chunks = append(chunks, ch)
		return true
	})

	if err := c.opts.snapshot.Persist(ctx, chunks); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	c.log.Infof("persisted %d chunks to snapshot", len(chunks))
	return nil
}
