package engine

import (
	"sync"

	"github.com/roach88/kestrel/internal/epoch"
)

// frontier tracks how far the run has settled: every future keyed at or
// before time has reached a terminal state.
type frontier struct {
	mu      sync.Mutex
	sched   []*future
	pos     int
	time    epoch.Epoch
	waiters []frontierWaiter
	ended   bool
}

type frontierWaiter struct {
	to epoch.Epoch
	ch chan struct{}
}

func newFrontier(sched []*future) *frontier {
	fr := &frontier{sched: sched}
	fr.time = fr.settled()
	return fr
}

func (fr *frontier) settled() epoch.Epoch {
	if fr.pos == len(fr.sched) {
		return epoch.Max
	}
	t := fr.sched[fr.pos].key.Time
	if t == epoch.Min {
		return epoch.Min
	}
	return t - 1
}

// advance moves past finished futures and releases satisfied waiters.
func (fr *frontier) advance() {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fr.ended {
		return
	}
	for fr.pos < len(fr.sched) && fr.sched[fr.pos].finished.Load() {
		fr.pos++
	}
	t := fr.settled()
	if t <= fr.time {
		return
	}
	fr.time = t
	kept := fr.waiters[:0]
	for _, w := range fr.waiters {
		if w.to <= t {
			close(w.ch)
			continue
		}
		kept = append(kept, w)
	}
	clear(fr.waiters[len(kept):])
	fr.waiters = kept
}

// current returns the settled time.
func (fr *frontier) current() epoch.Epoch {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.time
}

// wait returns nil if to is already settled, otherwise a channel closed
// once it is or once the run ends.
func (fr *frontier) wait(to epoch.Epoch) <-chan struct{} {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fr.time >= to {
		return nil
	}
	ch := make(chan struct{})
	if fr.ended {
		close(ch)
		return ch
	}
	fr.waiters = append(fr.waiters, frontierWaiter{to: to, ch: ch})
	return ch
}

// end releases every waiter and drops the schedule.
func (fr *frontier) end() {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.ended = true
	fr.sched = nil
	for _, w := range fr.waiters {
		close(w.ch)
	}
	fr.waiters = nil
}
