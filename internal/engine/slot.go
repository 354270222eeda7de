package engine

import (
	"slices"
	"sync"

	"github.com/roach88/kestrel/internal/epoch"
	"github.com/roach88/kestrel/internal/ir"
	"github.com/roach88/kestrel/internal/resource"
)

type slotState uint8

const (
	slotPending slotState = iota
	slotWritten
	slotSkipped
	slotFailed
	slotCancelled
)

// slot is one declared write of one operation. It starts pending and is
// resolved exactly once by its owner.
type slot struct {
	mu      sync.Mutex
	key     epoch.Key
	id      resource.ID
	state   slotState
	value   resource.Value
	version ir.Digest
	cause   error
	waiters []*future
}

type slotView struct {
	state   slotState
	value   resource.Value
	version ir.Digest
	cause   error
}

// resolve sets the final state and hands back the futures to wake.
func (s *slot) resolve(state slotState, value resource.Value, version ir.Digest, cause error) []*future {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != slotPending {
		return nil
	}
	s.state, s.value, s.version, s.cause = state, value, version, cause
	w := s.waiters
	s.waiters = nil
	return w
}

// await returns the resolved view, or registers f as a waiter and reports
// false. A nil f only peeks.
func (s *slot) await(f *future) (slotView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == slotPending {
		if f != nil {
			f.state = Suspended
			s.waiters = append(s.waiters, f)
		}
		return slotView{}, false
	}
	return slotView{state: s.state, value: s.value, version: s.version, cause: s.cause}, true
}

// track is every write slot of one resource in key order.
type track struct {
	slots []*slot
}

func (t *track) sort() {
	slices.SortFunc(t.slots, func(a, b *slot) int { return a.key.Compare(b.key) })
}

// before returns the index of the last slot keyed strictly before k, or -1.
func (t *track) before(k epoch.Key) int {
	if t == nil {
		return -1
	}
	i, _ := slices.BinarySearchFunc(t.slots, k, func(s *slot, k epoch.Key) int { return s.key.Compare(k) })
	return i - 1
}

// reading is a resolved upstream value as seen by one reader.
type reading struct {
	value    resource.Value
	version  ir.Digest
	elapsed  epoch.Duration
	evolving bool
}

func newReading(v resource.Value, version ir.Digest, written, at epoch.Epoch) reading {
	_, evolving := v.(resource.Evolving)
	elapsed := at.Sub(written)
	return reading{
		value:    resource.At(v, elapsed),
		version:  version,
		elapsed:  elapsed,
		evolving: evolving,
	}
}
