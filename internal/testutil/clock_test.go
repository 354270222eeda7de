package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kestrel/internal/epoch"
)

func TestDeterministicClock_StartsAtStart(t *testing.T) {
	clock := NewDeterministicClock(epoch.FromSeconds(5), time.Second)
	assert.Equal(t, epoch.FromSeconds(5), clock.Current())
}

func TestDeterministicClock_NextAdvancesOneStep(t *testing.T) {
	clock := NewDeterministicClock(epoch.J2000, 10*time.Second)

	assert.Equal(t, epoch.FromSeconds(10), clock.Next())
	assert.Equal(t, epoch.FromSeconds(10), clock.Current())
	assert.Equal(t, epoch.FromSeconds(20), clock.Next())
	assert.Equal(t, epoch.FromSeconds(30), clock.Next())
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClock(epoch.J2000, time.Second)
	clock.Next()
	clock.Next()

	clock.Reset()
	assert.Equal(t, epoch.J2000, clock.Current())
	assert.Equal(t, epoch.FromSeconds(1), clock.Next())
}

func TestDeterministicClock_ThreadSafe(t *testing.T) {
	clock := NewDeterministicClock(epoch.J2000, time.Millisecond)
	const numGoroutines = 50
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	results := make([][]epoch.Epoch, numGoroutines)
	for i := range numGoroutines {
		results[i] = make([]epoch.Epoch, callsPerGoroutine)
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := range callsPerGoroutine {
				results[idx][j] = clock.Next()
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[epoch.Epoch]bool)
	for _, rs := range results {
		for _, v := range rs {
			require.False(t, seen[v], "duplicate time %s", v)
			seen[v] = true
		}
	}
	assert.Len(t, seen, numGoroutines*callsPerGoroutine)
	assert.Equal(t, epoch.J2000.Add(numGoroutines*callsPerGoroutine*time.Millisecond), clock.Current())
}

func TestSequentialRunIDs(t *testing.T) {
	g := NewSequentialRunIDs("tank")
	assert.Equal(t, "tank-1", g.Generate())
	assert.Equal(t, "tank-2", g.Generate())

	assert.Equal(t, "run-1", NewSequentialRunIDs("").Generate())
}
