package chain

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	s := NewMemoryStore()

	_, ok := s.LastHash("dev-1")
	assert.False(t, ok)
	_, ok = s.LastNonce("dev-1")
	assert.False(t, ok)

	s.Update("dev-1", "aaaa", 10)
	h, ok := s.LastHash("dev-1")
	require.True(t, ok)
	assert.Equal(t, "aaaa", h)
	n, ok := s.LastNonce("dev-1")
	require.True(t, ok)
	assert.Equal(t, uint64(10), n)

	// Rows are overwritten, never versioned.
	s.Update("dev-1", "bbbb", 12)
	h, _ = s.LastHash("dev-1")
	n, _ = s.LastNonce("dev-1")
	assert.Equal(t, "bbbb", h)
	assert.Equal(t, uint64(12), n)

	// Devices are independent.
	_, ok = s.LastHash("dev-2")
	assert.False(t, ok)
}

func TestMemoryStoreCompareAndSet(t *testing.T) {
	s := NewMemoryStore()

	// First commit: no prior state expected.
	assert.True(t, s.CompareAndSet("dev-1", "", 0, false, "h1", 1))
	// A second first-commit must lose.
	assert.False(t, s.CompareAndSet("dev-1", "", 0, false, "h1b", 1))

	// Linked commit with matching expectation wins.
	assert.True(t, s.CompareAndSet("dev-1", "h1", 1, true, "h2", 2))
	// Stale expectation loses and writes nothing.
	assert.False(t, s.CompareAndSet("dev-1", "h1", 1, true, "h3", 3))

	h, _ := s.LastHash("dev-1")
	n, _ := s.LastNonce("dev-1")
	assert.Equal(t, "h2", h)
	assert.Equal(t, uint64(2), n)
}

func TestMemoryStoreCompareAndSetConcurrent(t *testing.T) {
	s := NewMemoryStore()
	s.Update("dev-1", "h0", 5)

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan int, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if s.CompareAndSet("dev-1", "h0", 5, true, fmt.Sprintf("h-%d", i), 6) {
				wins <- i
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one racer may commit")
}
