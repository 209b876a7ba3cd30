package heavykeeper

import (
	"slices"
	"sync"
)

// Item is a key with its estimated count.
type Item struct {
	Key   string `json:"key"`
	Count uint32 `json:"count"`
}

// TopK keeps the k keys with the highest HeavyKeeper estimates.
type TopK struct {
	hk *HeavyKeeper
	k  int

	mu    sync.Mutex
	items map[string]uint32
}

// NewTopK tracks the k heaviest keys.
func NewTopK(k, depth, width int, decay float64) *TopK {
	return &TopK{
		hk:    New(depth, width, decay),
		k:     k,
		items: make(map[string]uint32, k+1),
	}
}

// Add counts key.
func (t *TopK) Add(key string) {
	est := t.hk.Add(key)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.items[key]; ok || len(t.items) < t.k {
		t.items[key] = est
		return
	}

	minKey, minCount := "", uint32(0)
	for k, c := range t.items {
		if minKey == "" || c < minCount {
			minKey, minCount = k, c
		}
	}
	if est > minCount {
		delete(t.items, minKey)
		t.items[key] = est
	}
}

// List returns the tracked keys, heaviest first.
func (t *TopK) List() []Item {
	t.mu.Lock()
	out := make([]Item, 0, len(t.items))
	for k, c := range t.items {
		out = append(out, Item{Key: k, Count: c})
	}
	t.mu.Unlock()

	slices.SortFunc(out, func(a, b Item) int {
		if a.Count != b.Count {
			return int(b.Count) - int(a.Count)
		}
		if a.Key < b.Key {
			return -1
		}
		return 1
	})
	return out
}

// Keys returns the tracked keys, heaviest first.
func (t *TopK) Keys() []string {
	items := t.List()
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = it.Key
	}
	return keys
}

// Reset forgets every key.
func (t *TopK) Reset() {
	t.hk.Clear()

	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.items)
}
