package testutil

import (
	"sync"

	"github.com/roach88/kestrel/internal/epoch"
)

// DeterministicClock hands out evenly spaced epochs for building
// schedules in tests.
//
// The first call to Next returns start+step. Reset rewinds to start so the
// same schedule can be built twice.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start epoch.Epoch
	step  epoch.Duration
	ticks int64
}

// NewDeterministicClock creates a clock at start that advances by step.
func NewDeterministicClock(start epoch.Epoch, step epoch.Duration) *DeterministicClock {
	return &DeterministicClock{start: start, step: step}
}

// Next advances the clock one step and returns the new time.
func (c *DeterministicClock) Next() epoch.Epoch {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++
	return c.start.Add(epoch.Duration(c.ticks) * c.step)
}

// Current returns the current time without advancing.
func (c *DeterministicClock) Current() epoch.Epoch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start.Add(epoch.Duration(c.ticks) * c.step)
}

// Reset rewinds the clock to its start.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = 0
}
