package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"

	"github.com/roach88/kestrel/internal/epoch"
	"github.com/roach88/kestrel/internal/history"
	"github.com/roach88/kestrel/internal/logging"
	"github.com/roach88/kestrel/internal/operation"
	"github.com/roach88/kestrel/internal/resource"
	"github.com/roach88/kestrel/internal/timeline"
)

// Engine runs Timeline versions against a shared history cache.
//
// Thread-safety model:
//   - Start(), Simulate(): safe from any goroutine; runs are independent
//   - the history cache is the only state runs share
type Engine struct {
	cache   *history.Cache
	workers int
	runIDs  RunIDGenerator
	logger  *slog.Logger
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithWorkers sets the number of worker goroutines per run.
//
// Default: runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithRunIDGenerator sets the run id source. Tests use FixedGenerator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) { e.runIDs = g }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine over cache. A nil cache gets a private one.
func New(cache *history.Cache, opts ...Option) *Engine {
	if cache == nil {
		cache = history.New()
	}
	e := &Engine{
		cache:   cache,
		workers: runtime.GOMAXPROCS(0),
		runIDs:  UUIDv7Generator{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cache returns the engine's history cache.
func (e *Engine) Cache() *history.Cache {
	return e.cache
}

// Request describes one run.
type Request struct {
	// Timeline is the version to execute. Reactive nodes left over from an
	// earlier run are ignored; daemons are re-derived.
	Timeline *timeline.Timeline
	Daemons  []operation.Daemon
	// Initial holds values at From. Resources without one start at their
	// registered default.
	Initial map[resource.ID]resource.Value
	// From and To bound the run, inclusive.
	From, To epoch.Epoch
	// Since, when set, limits Result.Timelines to writes at or after it.
	// Operations in [From, Since) still run, so reads after Since see
	// their writes. It must lie inside [From, To].
	Since *epoch.Epoch
}

// Simulate starts a run and waits for it. The result is returned even when
// the run did not complete; err is then result.Err().
func (e *Engine) Simulate(ctx context.Context, req Request) (*Result, error) {
	run, err := e.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	res, err := run.Wait(context.Background())
	if err != nil {
		return nil, err
	}
	return res, res.Err()
}

// Start validates req, sets the run up and executes it in the background.
// Cancelling ctx cancels the run.
func (e *Engine) Start(ctx context.Context, req Request) (*Run, error) {
	if req.From > req.To {
		return nil, &RuntimeError{Code: ErrCodeInvalidRequest, Message: fmt.Sprintf("window %s..%s is empty", req.From, req.To)}
	}
	since := req.From
	if req.Since != nil {
		if *req.Since < req.From || *req.Since > req.To {
			return nil, &RuntimeError{Code: ErrCodeInvalidRequest, Message: fmt.Sprintf("reporting start %s outside window %s..%s", *req.Since, req.From, req.To)}
		}
		since = *req.Since
	}
	for _, d := range req.Daemons {
		if err := d.Validate(); err != nil {
			return nil, &RuntimeError{Code: ErrCodeInvalidRequest, Message: "invalid daemon", Err: err}
		}
	}
	for id, v := range req.Initial {
		if err := resource.Check(id, v); err != nil {
			return nil, &RuntimeError{Code: ErrCodeInvalidRequest, Message: "invalid initial condition", Err: err}
		}
	}

	base, err := withoutReactive(req.Timeline)
	if err != nil {
		return nil, &RuntimeError{Code: ErrCodeInvalidRequest, Message: "invalid timeline", Err: err}
	}
	var nodes []timeline.Node
	for _, n := range base.Range(req.From, req.To) {
		if err := operation.Validate(n.Op); err != nil {
			return nil, &RuntimeError{Code: ErrCodeInvalidRequest, Message: "invalid operation", Err: err}
		}
		nodes = append(nodes, n)
	}
	if err := base.CheckWrites(req.From, req.To, req.Daemons...); err != nil {
		return nil, &RuntimeError{Code: ErrCodeConflict, Message: "write conflict", Err: err}
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &Run{
		id:      e.runIDs.Generate(),
		from:    req.From,
		since:   since,
		to:      req.To,
		cache:   e.cache,
		logger:  e.logger,
		trace:   e.logger.Enabled(ctx, logging.LevelTrace),
		given:   req.Initial,
		initial: make(map[resource.ID]initial),
		tl:      base,
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	if err := r.setup(nodes, req.Daemons); err != nil {
		cancel()
		return nil, &RuntimeError{Code: ErrCodeInvalidRequest, Message: "setup failed", Err: err}
	}
	r.pool = newPool(e.workers)
	go r.execute(runCtx)
	return r, nil
}

// setup allocates futures and slots, builds the per-resource tracks and
// resolves initial conditions for every resource the run may read.
func (r *Run) setup(nodes []timeline.Node, daemons []operation.Daemon) error {
	type instance struct {
		daemon int
		subs   []int
	}
	instances := make([][]instance, len(nodes))
	nf, ns := len(nodes), 0
	for i, n := range nodes {
		downs := n.Op.Downstreams()
		ns += len(downs)
		for d, dm := range daemons {
			var subs []int
			for j, w := range downs {
				if dm.Subscribes(w.Resource) {
					subs = append(subs, j)
				}
			}
			if len(subs) == 0 {
				continue
			}
			instances[i] = append(instances[i], instance{daemon: d, subs: subs})
			nf++
			ns += len(dm.Op.Downstreams())
		}
	}

	r.arena = newArena(nf, ns)
	r.tracks = make(map[resource.ID]*track)
	r.sched = make([]*future, 0, nf)
	reads := make(map[resource.ID]bool)

	add := func(key epoch.Key, op operation.Operation) *future {
		f := r.arena.future()
		f.key = key
		f.op = op
		f.daemon = -1
		f.downs = op.Downstreams()
		f.ups = slices.Clone(op.Upstreams())
		slices.SortFunc(f.ups, resource.ID.Compare)
		f.writes = make([]*slot, len(f.downs))
		for j, w := range f.downs {
			s := r.arena.slot()
			s.key = key
			s.id = w.Resource
			f.writes[j] = s
			tr := r.tracks[w.Resource]
			if tr == nil {
				tr = &track{}
				r.tracks[w.Resource] = tr
			}
			tr.slots = append(tr.slots, s)
		}
		for _, id := range f.ups {
			reads[id] = true
		}
		r.sched = append(r.sched, f)
		return f
	}

	for i, n := range nodes {
		trigger := add(n.Key, n.Op)
		for _, inst := range instances[i] {
			dm := daemons[inst.daemon]
			f := add(n.Key.Reactive(uint32(inst.daemon)+1), dm.Op)
			f.daemon = inst.daemon
			f.trigger = trigger
			f.subs = inst.subs
			for _, j := range inst.subs {
				reads[trigger.downs[j].Resource] = true
			}
		}
	}
	for _, tr := range r.tracks {
		tr.sort()
	}
	slices.SortFunc(r.sched, func(a, b *future) int { return a.key.Compare(b.key) })

	for id := range reads {
		if _, err := r.initialFor(id); err != nil {
			return err
		}
	}
	r.frontier = newFrontier(r.sched)
	return nil
}

// withoutReactive drops daemon instances recorded by an earlier run.
func withoutReactive(tl *timeline.Timeline) (*timeline.Timeline, error) {
	var keys []epoch.Key
	tl.Each(func(n timeline.Node) bool {
		if n.Key.IsReactive() {
			keys = append(keys, n.Key)
		}
		return true
	})
	if len(keys) == 0 {
		if tl == nil {
			return timeline.Empty(), nil
		}
		return tl, nil
	}
	return tl.Remove(keys...)
}
