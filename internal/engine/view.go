package engine

import (
	"context"

	"github.com/roach88/kestrel/internal/epoch"
	"github.com/roach88/kestrel/internal/resource"
)

// View returns the values written to id with from <= Time <= to.
//
// If the frontier has already passed to, the answer is immediate.
// Otherwise the call parks until it does and then returns one complete
// snapshot. A run that ends without reaching to returns its error.
func (r *Run) View(ctx context.Context, id resource.ID, from, to epoch.Epoch) ([]resource.Point, error) {
	if err := r.await(ctx, to); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.released {
		return window(r.written[id], from, to), nil
	}
	return r.points(id, from, to), nil
}

// Sample returns the value of id at t: the latest write at or before t,
// evolved to t, or the initial condition.
func (r *Run) Sample(ctx context.Context, id resource.ID, t epoch.Epoch) (resource.Value, error) {
	if err := r.await(ctx, t); err != nil {
		return nil, err
	}
	var pts []resource.Point
	r.mu.RLock()
	if r.released {
		pts = window(r.written[id], epoch.Min, t)
	} else {
		pts = r.points(id, epoch.Min, t)
	}
	r.mu.RUnlock()

	if n := len(pts); n > 0 {
		last := pts[n-1]
		return resource.At(last.Value, t.Sub(last.Time)), nil
	}
	init, err := r.initialFor(id)
	if err != nil {
		return nil, err
	}
	return resource.At(init.value, t.Sub(r.from)), nil
}

// await parks until the frontier reaches to.
func (r *Run) await(ctx context.Context, to epoch.Epoch) error {
	if to > r.to {
		to = r.to
	}
	ch := r.frontier.wait(to)
	if ch == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
	}
	if r.frontier.current() >= to {
		return nil
	}
	<-r.done
	return r.result.Err()
}

func window(pts []resource.Point, from, to epoch.Epoch) []resource.Point {
	var out []resource.Point
	for _, p := range pts {
		if p.Time >= from && p.Time <= to {
			out = append(out, p)
		}
	}
	return out
}
