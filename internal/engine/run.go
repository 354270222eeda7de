package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/kestrel/internal/epoch"
	"github.com/roach88/kestrel/internal/history"
	"github.com/roach88/kestrel/internal/ir"
	"github.com/roach88/kestrel/internal/resource"
	"github.com/roach88/kestrel/internal/timeline"
)

// Run is one execution of a Timeline version over [From, To].
//
// A Run owns its working memory exclusively; it is released in bulk when
// the run ends, after the result has been captured.
type Run struct {
	id       string
	from, to epoch.Epoch
	since    epoch.Epoch
	cache    *history.Cache
	logger   *slog.Logger
	trace    bool

	given   map[resource.ID]resource.Value
	initMu  sync.RWMutex
	initial map[resource.ID]initial

	arena    *arena
	tracks   map[resource.ID]*track
	sched    []*future
	pool     *pool
	frontier *frontier
	failures collector

	fatalOnce sync.Once
	fatal     error

	tlMu sync.Mutex
	tl   *timeline.Timeline

	stats struct {
		hits, misses, computed, fired atomic.Int64
	}

	mu       sync.RWMutex
	released bool
	result   *Result
	// written keeps every write in [from, to] after release, for View and
	// Sample; result.Timelines may start later.
	written map[resource.ID][]resource.Point

	done   chan struct{}
	cancel context.CancelFunc
}

type initial struct {
	value   resource.Value
	version ir.Digest
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Cancel requests cooperative cancellation.
func (r *Run) Cancel() { r.cancel() }

// Done is closed when the run has ended and its result is available.
func (r *Run) Done() <-chan struct{} { return r.done }

// Frontier returns the latest time up to which every operation has
// settled.
func (r *Run) Frontier() epoch.Epoch { return r.frontier.current() }

// Wait blocks until the run ends or ctx is done.
func (r *Run) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return r.result, nil
	}
}

// Timeline returns the run's Timeline version, including the daemon
// instances that have fired so far.
func (r *Run) Timeline() *timeline.Timeline {
	r.tlMu.Lock()
	defer r.tlMu.Unlock()
	return r.tl
}

func (r *Run) initialFor(id resource.ID) (initial, error) {
	r.initMu.RLock()
	init, ok := r.initial[id]
	r.initMu.RUnlock()
	if ok {
		return init, nil
	}

	v, ok := r.given[id]
	if !ok {
		var err error
		if v, err = resource.Default(id); err != nil {
			return initial{}, err
		}
	}
	version, err := initialVersion(id, v)
	if err != nil {
		return initial{}, err
	}
	init = initial{value: v, version: version}
	r.initMu.Lock()
	r.initial[id] = init
	r.initMu.Unlock()
	return init, nil
}

func (r *Run) insertInstance(f *future) {
	r.stats.fired.Add(1)
	r.tlMu.Lock()
	tl, err := r.tl.Insert(timeline.Node{Key: f.key, Op: f.op})
	if err == nil {
		r.tl = tl
	}
	r.tlMu.Unlock()
	if err != nil {
		r.abort(fmt.Errorf("insert daemon instance %s: %w", f.key, err))
		return
	}
	r.logger.Debug("daemon fired",
		"run_id", r.id,
		"daemon", f.op.ID(),
		"trigger", f.trigger.key.ID,
		"time", f.key.Time)
}

// abort stops the run on an unrecoverable error.
func (r *Run) abort(err error) {
	r.fatalOnce.Do(func() {
		code := ErrCodeInvalidRequest
		if history.IsIntegrityFault(err) {
			code = ErrCodeIntegrity
		}
		r.fatal = &RuntimeError{Code: code, Message: "run aborted", RunID: r.id, Err: err}
		r.logger.Error("run aborted", "run_id", r.id, "error", err)
	})
	r.pool.halt()
}

func (r *Run) execute(ctx context.Context) {
	start := time.Now()
	workers := len(r.pool.deques)
	r.logger.Info("run starting",
		"run_id", r.id,
		"from", r.from,
		"since", r.since,
		"to", r.to,
		"operations", len(r.sched),
		"workers", workers)

	r.pool.outstanding.Store(int64(len(r.sched)))
	for i := len(r.sched) - 1; i >= 0; i-- {
		r.pool.submit(i%workers, r.sched[i])
	}
	r.pool.run(ctx, r.poll)

	cancelled := false
	for _, f := range r.sched {
		if f.finished.Load() {
			continue
		}
		cancelled = true
		f.state = Cancelled
		for _, s := range f.writes {
			s.resolve(slotCancelled, nil, ir.Digest{}, nil)
		}
	}

	written := r.collect()
	res := &Result{
		RunID:     r.id,
		From:      r.since,
		To:        r.to,
		Timeline:  r.Timeline(),
		Timelines: clip(written, r.since, r.to),
		Failures:  r.failures.sorted(),
		Fatal:     r.fatal,
		Stats: Stats{
			Operations: len(r.sched),
			Hits:       int(r.stats.hits.Load()),
			Misses:     int(r.stats.misses.Load()),
			Computed:   int(r.stats.computed.Load()),
			Failed:     r.failures.len(),
			Fired:      int(r.stats.fired.Load()),
		},
	}
	switch {
	case r.fatal != nil:
		res.Status = StatusFailed
	case cancelled:
		res.Status = StatusCancelled
	case len(res.Failures) > 0:
		res.Status = StatusFailed
	default:
		res.Status = StatusComplete
	}

	r.mu.Lock()
	r.result = res
	r.written = written
	r.arena.release()
	r.tracks = nil
	r.sched = nil
	r.released = true
	r.mu.Unlock()

	r.frontier.end()
	close(r.done)
	r.cancel()

	r.logger.Info("run finished",
		"run_id", r.id,
		"status", res.Status,
		"hits", res.Stats.Hits,
		"computed", res.Stats.Computed,
		"failed", res.Stats.Failed,
		"daemons_fired", res.Stats.Fired,
		"duration", time.Since(start))
}

// collect snapshots every written value inside the window.
func (r *Run) collect() map[resource.ID][]resource.Point {
	out := make(map[resource.ID][]resource.Point)
	for id := range r.tracks {
		if pts := r.points(id, r.from, r.to); len(pts) > 0 {
			out[id] = pts
		}
	}
	return out
}

// clip keeps the points of each resource with from <= Time <= to.
func clip(all map[resource.ID][]resource.Point, from, to epoch.Epoch) map[resource.ID][]resource.Point {
	out := make(map[resource.ID][]resource.Point, len(all))
	for id, pts := range all {
		if w := window(pts, from, to); len(w) > 0 {
			out[id] = w
		}
	}
	return out
}

// points lists written values of id with from <= Time <= to. Callers hold
// r.mu or run before release.
func (r *Run) points(id resource.ID, from, to epoch.Epoch) []resource.Point {
	tr := r.tracks[id]
	if tr == nil {
		return nil
	}
	var out []resource.Point
	for _, s := range tr.slots[tr.before(epoch.First(from))+1:] {
		if s.key.Time > to {
			break
		}
		if v, ok := s.await(nil); ok && v.state == slotWritten {
			out = append(out, resource.Point{Time: s.key.Time, Value: v.value})
		}
	}
	return out
}
