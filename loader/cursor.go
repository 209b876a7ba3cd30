package loader

import (
	"sync"
	"sync/atomic"

	"github.com/kelindar/bitmap"
)

// Cursor is the transient position of one paged load.
type Cursor struct {
	// Count is the page size.
	Count int
	// Total is the chunk count the authority reported before paging, -1
	// when it cannot tell. Only a short page ends the load.
	Total int

	next atomic.Int64 // next offset to hand out
	end  atomic.Int64 // first offset known to be past the data

	mu   sync.Mutex
	done bitmap.Bitmap
}

const unknownEnd = int64(^uint64(0) >> 1)

func newCursor(count, total int) *Cursor {
	c := &Cursor{Count: count, Total: total}
	c.end.Store(unknownEnd)
	return c
}

// pastTotal reports whether a page at offset starts at or after the
// reported count.
func (c *Cursor) pastTotal(offset int) bool {
	return c.Total >= 0 && offset >= c.Total
}

// Offset returns the offset of the next page to start.
func (c *Cursor) Offset() int {
	return int(c.next.Load())
}

// advance hands out the next page offset, or false when the end is known
// to be behind it.
func (c *Cursor) advance() (int, bool) {
	off := c.next.Load()
	if off >= c.end.Load() {
		return 0, false
	}
	c.next.Store(off + int64(c.Count))
	return int(off), true
}

// behindEnd reports whether a page at offset is past the end.
func (c *Cursor) behindEnd(offset int) bool {
	return int64(offset) >= c.end.Load()
}

// short records a page at offset that returned n < Count chunks.
func (c *Cursor) short(offset, n int) {
	end := int64(offset + n)
	for {
		cur := c.end.Load()
		if end >= cur || c.end.CompareAndSwap(cur, end) {
			return
		}
	}
}

func (c *Cursor) complete(offset int) {
	c.mu.Lock()
	c.done.Set(uint32(offset / c.Count))
	c.mu.Unlock()
}

// Completed returns the number of finished pages.
func (c *Cursor) Completed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done.Count()
}

// IsCompleted reports whether the page with index page was applied.
func (c *Cursor) IsCompleted(page int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done.Contains(uint32(page))
}

// Pending returns the page indexes below the known end that are not done.
func (c *Cursor) Pending() []int {
	last := c.end.Load()
	if last == unknownEnd {
		last = c.next.Load()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]int, 0)
	for off := int64(0); off < last; off += int64(c.Count) {
		page := uint32(off / int64(c.Count))
		if !c.done.Contains(page) {
			out = append(out, int(page))
		}
	}
	return out
}
