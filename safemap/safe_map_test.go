package safemap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSafeMap(t *testing.T) {
	m := NewSafeMap[int, uint32]()
	require.NotNil(t, m)
	assert.Equal(t, 0, m.Len())
	_, ok := m.Load(3)
	assert.False(t, ok)
}

func TestSafeMap_StoreLoad(t *testing.T) {
	m := NewSafeMap[int, uint32]()

	t.Run("store then load", func(t *testing.T) {
		m.Store(7, 1)
		v, ok := m.Load(7)
		assert.True(t, ok)
		assert.Equal(t, uint32(1), v)
	})

	t.Run("store overwrites", func(t *testing.T) {
		m.Store(7, 4)
		v, _ := m.Load(7)
		assert.Equal(t, uint32(4), v)
	})

	t.Run("missing key yields zero value", func(t *testing.T) {
		v, ok := m.Load(99)
		assert.False(t, ok)
		assert.Zero(t, v)
	})
}

func TestSafeMap_LoadOrStore(t *testing.T) {
	m := NewSafeMap[int, string]()

	v, loaded := m.LoadOrStore(1, "first")
	assert.False(t, loaded)
	assert.Equal(t, "first", v)

	v, loaded = m.LoadOrStore(1, "second")
	assert.True(t, loaded)
	assert.Equal(t, "first", v)
}

func TestSafeMap_LoadAndDelete(t *testing.T) {
	m := NewSafeMap[int, string]()
	m.Store(1, "x")

	v, ok := m.LoadAndDelete(1)
	assert.True(t, ok)
	assert.Equal(t, "x", v)
	assert.False(t, m.Has(1))

	v, ok = m.LoadAndDelete(1)
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestSafeMap_DeleteHasLen(t *testing.T) {
	m := NewSafeMap[int, int]()
	m.Store(1, 1)
	m.Store(2, 2)
	assert.Equal(t, 2, m.Len())

	m.Delete(1)
	assert.False(t, m.Has(1))
	assert.True(t, m.Has(2))

	m.Delete(42)
	assert.Equal(t, 1, m.Len())
}

func TestSafeMap_RangeAndKeys(t *testing.T) {
	m := NewSafeMap[int, int]()
	for i := 0; i < 5; i++ {
		m.Store(i, i*i)
	}

	t.Run("keys snapshot", func(t *testing.T) {
		assert.ElementsMatch(t, []int{0, 1, 2, 3, 4}, m.Keys())
	})

	t.Run("range stops early", func(t *testing.T) {
		count := 0
		m.Range(func(int, int) bool {
			count++
			return count < 2
		})
		assert.Equal(t, 2, count)
	})
}

func TestSafeMap_Concurrent(t *testing.T) {
	m := NewSafeMap[int, int]()
	const goroutines = 50
	const ops = 500

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := range goroutines {
		go func(id int) {
			defer wg.Done()
			for i := range ops {
				key := id*ops + i
				m.Store(key, key)
				m.LoadOrStore(key, -1)
				m.Has(key)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, goroutines*ops, m.Len())

	wg.Add(goroutines)
	for g := range goroutines {
		go func(id int) {
			defer wg.Done()
			for i := range ops {
				m.LoadAndDelete(id*ops + i)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 0, m.Len())
}
