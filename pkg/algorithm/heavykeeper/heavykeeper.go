package heavykeeper

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// HeavyKeeper is a probabilistic data structure for top-k items.
type HeavyKeeper struct {
	buckets [][]bucket
	depth   int
	width   int
	decay   float64
	mu      sync.RWMutex
}

type bucket struct {
	fingerprint uint64
	count       uint32
}

// New creates a new HeavyKeeper.
// depth: number of arrays (hash functions)
// width: number of buckets per array
// decay: base of the decay probability, decay^count
func New(depth, width int, decay float64) *HeavyKeeper {
	hk := &HeavyKeeper{
		buckets: make([][]bucket, depth),
		depth:   depth,
		width:   width,
		decay:   decay,
	}

	for i := range hk.buckets {
		hk.buckets[i] = make([]bucket, width)
	}

	return hk
}

// Add counts one occurrence of key and returns its new estimate.
func (hk *HeavyKeeper) Add(key string) uint32 {
	fingerprint, h2 := hashes(key)

	hk.mu.Lock()
	defer hk.mu.Unlock()

	var est uint32
	for i := 0; i < hk.depth; i++ {
		b := &hk.buckets[i][hk.index(fingerprint, h2, i)]

		switch {
		case b.count == 0:
			b.fingerprint = fingerprint
			b.count = 1
		case b.fingerprint == fingerprint:
			b.count++
		case rand.Float64() < math.Pow(hk.decay, float64(b.count)):
			b.count--
			if b.count == 0 {
				b.fingerprint = fingerprint
				b.count = 1
			}
		}

		if b.fingerprint == fingerprint && b.count > est {
			est = b.count
		}
	}
	return est
}

// Query returns the estimated count for the key.
func (hk *HeavyKeeper) Query(key string) uint32 {
	fingerprint, h2 := hashes(key)

	hk.mu.RLock()
	defer hk.mu.RUnlock()

	var maxCount uint32
	for i := 0; i < hk.depth; i++ {
		b := &hk.buckets[i][hk.index(fingerprint, h2, i)]
		if b.fingerprint == fingerprint && b.count > maxCount {
			maxCount = b.count
		}
	}
	return maxCount
}

// Clear resets the HeavyKeeper.
func (hk *HeavyKeeper) Clear() {
	hk.mu.Lock()
	defer hk.mu.Unlock()

	for i := range hk.buckets {
		clear(hk.buckets[i])
	}
}

// double hashing: idx = (h1 + i*h2) % width
func (hk *HeavyKeeper) index(h1, h2 uint64, i int) uint64 {
	return (h1 + uint64(i)*h2) % uint64(hk.width)
}

func hashes(key string) (uint64, uint64) {
	h1 := xxhash.Sum64String(key)

	// splitmix64 finalizer of h1 as the second hash
	h2 := h1 + 0x9e3779b97f4a7c15
	h2 = (h2 ^ (h2 >> 30)) * 0xbf58476d1ce4e5b9
	h2 = (h2 ^ (h2 >> 27)) * 0x94d049bb133111eb
	h2 ^= h2 >> 31
	return h1, h2 | 1
}
