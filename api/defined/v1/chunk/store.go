package chunk

// PutResult is the outcome of Store.Put.
type PutResult uint8

const (
	// PutStored means the chunk was inserted or replaced an older one.
	PutStored PutResult = iota
	// PutDeleted means a tombstone removed the key.
	PutDeleted
	// PutUnchanged means the stored chunk already had the same hash.
	PutUnchanged
	// PutStale means the incoming lastUpdate was not newer than the stored one
	// and the write was dropped.
	PutStale
)

var putResultNames = [...]string{
	PutStored:    "stored",
	PutDeleted:   "deleted",
	PutUnchanged: "unchanged",
	PutStale:     "stale",
}

func (r PutResult) String() string {
	if int(r) < len(putResultNames) {
		return putResultNames[r]
	}
	return "unknown"
}

// Applied reports whether the write changed the store.
func (r PutResult) Applied() bool {
	return r == PutStored || r == PutDeleted
}

// Store holds the latest known chunk per key.
//
// Implementations must be safe for concurrent use, and a reader must
// never observe a partially written chunk.
type Store interface {
	// Put inserts or replaces c. Empty data removes the key.
	Put(c *Chunk) PutResult
	// Get returns the stored chunk. Absent is not an error.
	Get(key string) (*Chunk, bool)
	// Keys returns a snapshot of the held keys.
	Keys() []string
	// Clear empties the store.
	Clear()
	// Len returns the number of held keys.
	Len() int
	// Range calls fn for every held chunk until fn returns false.
	Range(fn func(c *Chunk) bool)
}
