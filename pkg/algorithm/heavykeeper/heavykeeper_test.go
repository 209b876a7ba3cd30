package heavykeeper

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeavyKeeper_AddAndQuery(t *testing.T) {
	hk := New(3, 1024, 0.9)

	for i := 0; i < 100; i++ {
		hk.Add("test-key")
	}

	// allow some error due to decay/collision
	assert.GreaterOrEqual(t, hk.Query("test-key"), uint32(80))
	assert.Zero(t, hk.Query("another-key"))
}

func TestHeavyKeeper_Decay(t *testing.T) {
	hk := New(3, 10, 0.9) // small width to force collisions

	for i := 0; i < 1000; i++ {
		hk.Add(fmt.Sprintf("noise-%d", i))
	}
	for i := 0; i < 100; i++ {
		hk.Add("heavy")
	}

	count := hk.Query("heavy")
	t.Logf("Heavy key count: %d", count)
	assert.GreaterOrEqual(t, count, uint32(50))
}

func TestHeavyKeeper_Clear(t *testing.T) {
	hk := New(3, 1024, 0.9)
	hk.Add("test")
	assert.NotZero(t, hk.Query("test"))

	hk.Clear()
	assert.Zero(t, hk.Query("test"))
}

func TestTopK(t *testing.T) {
	top := NewTopK(3, 3, 1024, 0.9)

	weights := map[string]int{"a": 50, "b": 40, "c": 30, "d": 5, "e": 1}
	for round := 0; round < 50; round++ {
		for k, w := range weights {
			if round < w {
				top.Add(k)
			}
		}
	}

	assert.Equal(t, []string{"a", "b", "c"}, top.Keys())
	items := top.List()
	assert.Equal(t, uint32(50), items[0].Count)

	top.Reset()
	assert.Empty(t, top.List())
}
