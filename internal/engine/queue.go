package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// deque holds ready futures for one worker.
//
// The owner pushes and pops at the back (LIFO keeps a worker on the chain
// it just woke); thieves take from the front, where the oldest and
// usually earliest work sits.
type deque struct {
	mu    sync.Mutex
	items []*future
}

func (d *deque) push(f *future) {
	d.mu.Lock()
	d.items = append(d.items, f)
	d.mu.Unlock()
}

func (d *deque) pop() *future {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.items)
	if n == 0 {
		return nil
	}
	f := d.items[n-1]
	d.items[n-1] = nil
	d.items = d.items[:n-1]
	return f
}

func (d *deque) steal() *future {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.items) == 0 {
		return nil
	}
	f := d.items[0]
	// Nil out the slot so the backing array does not pin the future.
	d.items[0] = nil
	if len(d.items) == 1 {
		d.items = d.items[:0]
	} else {
		d.items = d.items[1:]
	}
	return f
}

func (d *deque) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// pool is a fixed set of workers sharing work by stealing.
//
// outstanding counts futures that have not reached a terminal state; the
// pool stops when it drops to zero or the context is done.
type pool struct {
	deques      []*deque
	wake        chan struct{}
	stop        chan struct{}
	stopOnce    sync.Once
	outstanding atomic.Int64
}

func newPool(workers int) *pool {
	p := &pool{
		deques: make([]*deque, workers),
		wake:   make(chan struct{}, workers),
		stop:   make(chan struct{}),
	}
	for i := range p.deques {
		p.deques[i] = &deque{}
	}
	return p
}

// submit queues f on worker w's deque and signals an idle worker.
func (p *pool) submit(w int, f *future) {
	p.deques[w%len(p.deques)].push(f)
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// done records one future reaching a terminal state.
func (p *pool) done() {
	if p.outstanding.Add(-1) == 0 {
		p.halt()
	}
}

func (p *pool) halt() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *pool) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// next returns work for worker w: its own newest item, else the oldest
// item of another worker.
func (p *pool) next(w int) *future {
	if f := p.deques[w].pop(); f != nil {
		return f
	}
	n := len(p.deques)
	for i := 1; i < n; i++ {
		if f := p.deques[(w+i)%n].steal(); f != nil {
			return f
		}
	}
	return nil
}

// run starts the workers and blocks until the pool stops.
func (p *pool) run(ctx context.Context, exec func(w int, f *future)) {
	if p.outstanding.Load() == 0 {
		p.halt()
	}
	go func() {
		select {
		case <-ctx.Done():
			p.halt()
		case <-p.stop:
		}
	}()

	var wg sync.WaitGroup
	for w := range p.deques {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if p.stopped() {
					return
				}
				if f := p.next(w); f != nil {
					exec(w, f)
					continue
				}
				select {
				case <-p.stop:
					return
				case <-p.wake:
				}
			}
		}()
	}
	wg.Wait()
}
