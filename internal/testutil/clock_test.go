package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_DefaultsToEpoch(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	assert.Equal(t, Epoch, clock.Now())
}

func TestFakeClock_OnlyMovesWhenAdvanced(t *testing.T) {
	clock := NewFakeClock(time.Time{})

	assert.Equal(t, clock.Now(), clock.Now())

	got := clock.Advance(90 * time.Second)
	assert.Equal(t, Epoch.Add(90*time.Second), got)
	assert.Equal(t, got, clock.Now())
}

func TestFakeClock_SetConvertsToUTC(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	loc := time.FixedZone("MST", -7*3600)

	clock.Set(time.Date(2025, 3, 1, 8, 0, 0, 0, loc))

	assert.Equal(t, time.UTC, clock.Now().Location())
	assert.Equal(t, 15, clock.Now().Hour())
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	const numGoroutines = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, Epoch.Add(numGoroutines*time.Second), clock.Now())
}

func TestSequenceIDs(t *testing.T) {
	ids := NewSequenceIDs()

	assert.Equal(t, "local-0001", ids.NewID())
	assert.Equal(t, "local-0002", ids.NewID())

	ids.Reset()
	assert.Equal(t, "local-0001", ids.NewID())
}

func TestSequenceIDs_UniqueUnderConcurrency(t *testing.T) {
	ids := NewSequenceIDs()
	const n = 100

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		seen = make(map[string]bool, n)
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			id := ids.NewID()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
}

func TestServerIDs(t *testing.T) {
	var ids ServerIDs
	assert.Equal(t, "srv-1", ids.NewID())
	assert.Equal(t, "srv-2", ids.NewID())
}
