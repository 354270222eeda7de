package engine

// arena is the run's working memory: every future and write slot is
// carved from two slabs sized during setup and dropped together at
// teardown.
type arena struct {
	futures []future
	slots   []slot
	nf, ns  int
}

func newArena(futures, slots int) *arena {
	return &arena{
		futures: make([]future, futures),
		slots:   make([]slot, slots),
	}
}

func (a *arena) future() *future {
	f := &a.futures[a.nf]
	a.nf++
	return f
}

func (a *arena) slot() *slot {
	s := &a.slots[a.ns]
	a.ns++
	return s
}

// live returns the number of futures and slots still held.
func (a *arena) live() (futures, slots int) {
	return len(a.futures), len(a.slots)
}

func (a *arena) release() {
	clear(a.futures)
	clear(a.slots)
	a.futures, a.slots = nil, nil
	a.nf, a.ns = 0, 0
}
