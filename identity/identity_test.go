package identity

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestAllocator_Acquire(t *testing.T) {
	t.Run("identities are fixed width and live", func(t *testing.T) {
		a := NewAllocator(time.Minute)
		id := a.Acquire()
		assert.Len(t, id, 36)
		assert.True(t, a.Live(id))
		assert.Equal(t, 1, a.Count())
	})

	t.Run("collisions with live identities are retried", func(t *testing.T) {
		ids := []string{"aaaa", "aaaa", "bbbb"}
		next := 0
		a := NewAllocator(time.Minute, WithSource(func() string {
			id := ids[next]
			next++
			return id
		}))

		assert.Equal(t, "aaaa", a.Acquire())
		assert.Equal(t, "bbbb", a.Acquire())
	})

	t.Run("a stuck source falls back to a fresh identity", func(t *testing.T) {
		a := NewAllocator(time.Minute, WithSource(func() string { return "same" }))
		first := a.Acquire()
		second := a.Acquire()
		assert.Equal(t, "same", first)
		assert.NotEqual(t, first, second)
	})
}

func TestAllocator_Release(t *testing.T) {
	t.Run("released identity is quarantined", func(t *testing.T) {
		calls := 0
		a := NewAllocator(time.Minute, WithSource(func() string {
			calls++
			if calls <= 2 {
				return "reused"
			}
			return "fresh"
		}))

		id := a.Acquire()
		require.True(t, a.Release(id))
		assert.False(t, a.Live(id))
		assert.False(t, a.Release(id))

		assert.Equal(t, "fresh", a.Acquire())
	})

	t.Run("quarantine expires", func(t *testing.T) {
		a := NewAllocator(20*time.Millisecond, WithSource(func() string { return "reused" }))
		id := a.Acquire()
		a.Release(id)

		time.Sleep(40 * time.Millisecond)
		assert.Equal(t, "reused", a.Acquire())
	})
}

func TestAllocator_concurrentUnique(t *testing.T) {
	a := NewAllocator(time.Minute)
	const n = 200
	ids := make([]string, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = a.Acquire()
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Equal(t, n, a.Count())
}

func TestAllocator_liveSetProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := NewAllocator(time.Minute)
		var held []string
		steps := rapid.IntRange(1, 50).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if len(held) > 0 && rapid.Bool().Draw(t, "release") {
				idx := rapid.IntRange(0, len(held)-1).Draw(t, "idx")
				a.Release(held[idx])
				held = append(held[:idx], held[idx+1:]...)
				continue
			}

			id := a.Acquire()
			for _, h := range held {
				if h == id {
					t.Fatalf("identity %s issued twice while live", id)
				}
			}
			held = append(held, id)
		}

		if a.Count() != len(held) {
			t.Fatalf("live count %d, want %d", a.Count(), len(held))
		}
	})
}
