package chunkstore

import (
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/omalloc/chunksync/api/defined/v1/chunk"
)

var _ chunk.Store = (*Store)(nil)

const defaultShards = 32

// Store is a sharded in-memory chunk.Store.
//
// Stored chunks are private copies that are never mutated after insert, so
// a *chunk.Chunk returned by Get stays valid after later writes. Tombstones
// leave a grave carrying the deleted version, which keeps an older live
// write from resurrecting the key.
type Store struct {
	shards []*shard
	mask   uint64
}

type shard struct {
	mu     sync.RWMutex
	items  map[string]*chunk.Chunk
	graves map[string]string
}

// Option configures a Store.
type Option func(*Store)

// WithShards sets the shard count, rounded up to a power of two.
func WithShards(n int) Option {
	return func(s *Store) {
		size := 1
		for size < n {
			size <<= 1
		}
		s.shards = make([]*shard, size)
	}
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{shards: make([]*shard, defaultShards)}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i] = newShard()
	}
	s.mask = uint64(len(s.shards) - 1)
	return s
}

func newShard() *shard {
	return &shard{
		items:  make(map[string]*chunk.Chunk),
		graves: make(map[string]string),
	}
}

func (s *Store) shard(key string) *shard {
	return s.shards[xxhash.Sum64String(key)&s.mask]
}

// Put implements chunk.Store.
func (s *Store) Put(c *chunk.Chunk) chunk.PutResult {
	sh := s.shard(c.Key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur, ok := sh.items[c.Key]
	if ok {
		if cur.EncodedHash == c.EncodedHash && !c.IsTombstone() {
			return chunk.PutUnchanged
		}
		if chunk.CompareVersion(c.LastUpdate, cur.LastUpdate) <= 0 {
			return chunk.PutStale
		}
	} else if grave, dead := sh.graves[c.Key]; dead {
		if chunk.CompareVersion(c.LastUpdate, grave) <= 0 {
			if c.IsTombstone() {
				return chunk.PutUnchanged
			}
			return chunk.PutStale
		}
	}

	if c.IsTombstone() {
		if !ok {
			// never stored; remember the version anyway so a late page
			// cannot bring it back.
			sh.graves[c.Key] = c.LastUpdate
			return chunk.PutUnchanged
		}
		delete(sh.items, c.Key)
		sh.graves[c.Key] = c.LastUpdate
		return chunk.PutDeleted
	}

	delete(sh.graves, c.Key)
	sh.items[c.Key] = c.Clone()
	return chunk.PutStored
}

// Get implements chunk.Store.
func (s *Store) Get(key string) (*chunk.Chunk, bool) {
	sh := s.shard(key)

	sh.mu.RLock()
	c, ok := sh.items[key]
	sh.mu.RUnlock()
	return c, ok
}

// Keys implements chunk.Store. The result is sorted.
func (s *Store) Keys() []string {
	keys := make([]string, 0, s.Len())
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k := range sh.items {
			keys = append(keys, k)
		}
		sh.mu.RUnlock()
	}
	slices.Sort(keys)
	return keys
}

// Len implements chunk.Store.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.items)
		sh.mu.RUnlock()
	}
	return n
}

// Range implements chunk.Store. fn runs without any shard lock held.
func (s *Store) Range(fn func(c *chunk.Chunk) bool) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		batch := make([]*chunk.Chunk, 0, len(sh.items))
		for _, c := range sh.items {
			batch = append(batch, c)
		}
		sh.mu.RUnlock()

		for _, c := range batch {
			if !fn(c) {
				return
			}
		}
	}
}

// Clear implements chunk.Store. Graves are dropped as well.
func (s *Store) Clear() {
	s.lockAll()
	defer s.unlockAll()

	for _, sh := range s.shards {
		sh.items = make(map[string]*chunk.Chunk)
		sh.graves = make(map[string]string)
	}
}

// ReplaceAll atomically swaps the content of s with the content of other.
// other must not be used afterwards.
func (s *Store) ReplaceAll(other *Store) {
	if len(other.shards) != len(s.shards) {
		// re-shard into a compatible layout first
		tmp := New(WithShards(len(s.shards)))
		other.Range(func(c *chunk.Chunk) bool {
			tmp.shard(c.Key).items[c.Key] = c
			return true
		})
		other = tmp
	}

	s.lockAll()
	defer s.unlockAll()

	for i, sh := range s.shards {
		src := other.shards[i]
		src.mu.Lock()
		sh.items, src.items = src.items, make(map[string]*chunk.Chunk)
		sh.graves, src.graves = src.graves, make(map[string]string)
		src.mu.Unlock()
	}
}

func (s *Store) lockAll() {
	for _, sh := range s.shards {
		sh.mu.Lock()
	}
}

func (s *Store) unlockAll() {
	for i := len(s.shards) - 1; i >= 0; i-- {
		s.shards[i].mu.Unlock()
	}
}
