// Package plan is the editing surface over a Timeline.
//
// A Session owns the history cache and the engine; every Plan created from
// it shares them, so simulating an edited plan (or a sibling plan) reuses
// every operation whose inputs did not change. A Plan holds initial
// conditions, daemons and activities. Each activity decomposes into
// operations at offsets from its start time; inserting or removing an
// activity is one atomic Timeline batch.
package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/kestrel/internal/engine"
	"github.com/roach88/kestrel/internal/epoch"
	"github.com/roach88/kestrel/internal/history"
	"github.com/roach88/kestrel/internal/operation"
	"github.com/roach88/kestrel/internal/resource"
	"github.com/roach88/kestrel/internal/timeline"
)

// ErrUnknownActivity is returned when removing an id the plan does not hold.
var ErrUnknownActivity = errors.New("plan: unknown activity")

// ActivityID identifies an inserted activity within its plan.
type ActivityID uint32

func (id ActivityID) String() string { return fmt.Sprintf("act%d", uint32(id)) }

// Step is one operation of an activity, placed at Offset after the
// activity's start.
type Step struct {
	Offset   epoch.Duration
	Priority int32
	Op       operation.Operation
}

// Activity decomposes into a fixed set of steps.
type Activity interface {
	Decompose(start epoch.Epoch) ([]Step, error)
}

// Steps is an activity given directly by its steps.
type Steps []Step

// Decompose implements Activity.
func (s Steps) Decompose(epoch.Epoch) ([]Step, error) { return s, nil }

// Single is an activity of one operation at its start.
func Single(op operation.Operation) Steps {
	return Steps{{Op: op}}
}

// Session shares a history cache and engine across plans.
type Session struct {
	cache  *history.Cache
	engine *engine.Engine
	logger *slog.Logger
}

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	cache   *history.Cache
	engine  []engine.Option
	logger  *slog.Logger
	history []history.Option
}

// WithCache uses an existing cache, for example one restored from disk.
func WithCache(c *history.Cache) SessionOption {
	return func(cfg *sessionConfig) { cfg.cache = c }
}

// WithHistoryOptions configures a cache the session creates itself.
func WithHistoryOptions(opts ...history.Option) SessionOption {
	return func(cfg *sessionConfig) { cfg.history = append(cfg.history, opts...) }
}

// WithEngineOptions passes options to the session's engine.
func WithEngineOptions(opts ...engine.Option) SessionOption {
	return func(cfg *sessionConfig) { cfg.engine = append(cfg.engine, opts...) }
}

// WithLogger sets the logger for the session, its cache and engine.
func WithLogger(l *slog.Logger) SessionOption {
	return func(cfg *sessionConfig) { cfg.logger = l }
}

// NewSession creates a session.
func NewSession(opts ...SessionOption) *Session {
	cfg := sessionConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	cache := cfg.cache
	if cache == nil {
		cache = history.New(append([]history.Option{history.WithLogger(cfg.logger)}, cfg.history...)...)
	}
	eng := engine.New(cache, append([]engine.Option{engine.WithLogger(cfg.logger)}, cfg.engine...)...)
	return &Session{cache: cache, engine: eng, logger: cfg.logger}
}

// History returns the shared cache.
func (s *Session) History() *history.Cache { return s.cache }

// Engine returns the shared engine.
func (s *Session) Engine() *engine.Engine { return s.engine }

// NewPlan creates an empty plan starting at start.
func (s *Session) NewPlan(start epoch.Epoch, initial map[resource.ID]resource.Value, daemons ...operation.Daemon) (*Plan, error) {
	for id, v := range initial {
		if err := resource.Check(id, v); err != nil {
			return nil, fmt.Errorf("initial condition: %w", err)
		}
	}
	for _, d := range daemons {
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}
	return &Plan{
		session:    s,
		start:      start,
		initial:    maps.Clone(initial),
		daemons:    slices.Clone(daemons),
		tl:         timeline.Empty(),
		activities: make(map[ActivityID][]epoch.Key),
	}, nil
}

// Plan is an editable set of activities. Methods are safe for concurrent
// use; a run started from a plan keeps the Timeline version it started
// with.
type Plan struct {
	session *Session
	start   epoch.Epoch
	initial map[resource.ID]resource.Value
	daemons []operation.Daemon

	mu         sync.Mutex
	tl         *timeline.Timeline
	activities map[ActivityID][]epoch.Key
	next       ActivityID
}

// Placed is an activity at a start time, for InsertBatch.
type Placed struct {
	At       epoch.Epoch
	Activity Activity
}

// Start returns the plan's start time.
func (p *Plan) Start() epoch.Epoch { return p.start }

// Insert adds an activity and returns its id.
func (p *Plan) Insert(at epoch.Epoch, a Activity) (ActivityID, error) {
	ids, err := p.InsertBatch([]Placed{{At: at, Activity: a}})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// InsertBatch adds activities atomically: either all are inserted or the
// plan is unchanged.
func (p *Plan) InsertBatch(items []Placed) ([]ActivityID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var batch []timeline.Edit
	ids := make([]ActivityID, len(items))
	keys := make([][]epoch.Key, len(items))
	for i, it := range items {
		if it.At < p.start {
			return nil, fmt.Errorf("activity at %s starts before plan start %s", it.At, p.start)
		}
		id := p.next + ActivityID(i)
		steps, err := it.Activity.Decompose(it.At)
		if err != nil {
			return nil, fmt.Errorf("decompose activity %s: %w", id, err)
		}
		for _, st := range steps {
			if err := operation.Validate(st.Op); err != nil {
				return nil, fmt.Errorf("activity %s: %w", id, err)
			}
			k := epoch.At(it.At.Add(st.Offset), st.Priority, id.String()+"/"+st.Op.ID())
			keys[i] = append(keys[i], k)
			batch = append(batch, timeline.InsertEdit(timeline.Node{Key: k, Op: st.Op}))
		}
		ids[i] = id
	}
	tl, err := p.tl.Apply(batch)
	if err != nil {
		return nil, err
	}
	p.tl = tl
	for i, id := range ids {
		p.activities[id] = keys[i]
	}
	p.next += ActivityID(len(items))
	return ids, nil
}

// Remove deletes activities atomically.
func (p *Plan) Remove(ids ...ActivityID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var batch []timeline.Edit
	for _, id := range ids {
		keys, ok := p.activities[id]
		if !ok {
			return fmt.Errorf("remove %s: %w", id, ErrUnknownActivity)
		}
		for _, k := range keys {
			batch = append(batch, timeline.RemoveEdit(k))
		}
	}
	tl, err := p.tl.Apply(batch)
	if err != nil {
		return err
	}
	p.tl = tl
	for _, id := range ids {
		delete(p.activities, id)
	}
	return nil
}

// Activities returns the ids of the plan's activities in insertion order.
func (p *Plan) Activities() []ActivityID {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := slices.Collect(maps.Keys(p.activities))
	slices.Sort(ids)
	return ids
}

// Timeline returns the current Timeline version.
func (p *Plan) Timeline() *timeline.Timeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tl
}

// request always executes from the plan start, where the initial
// conditions hold; from only trims what the result reports.
func (p *Plan) request(from, to epoch.Epoch) (engine.Request, error) {
	if from < p.start {
		return engine.Request{}, fmt.Errorf("window starts at %s, before plan start %s", from, p.start)
	}
	return engine.Request{
		Timeline: p.Timeline(),
		Daemons:  p.daemons,
		Initial:  p.initial,
		From:     p.start,
		To:       to,
		Since:    &from,
	}, nil
}

// Run starts simulating [from, to] in the background. Activities between
// the plan start and from still run; the result reports [from, to].
func (p *Plan) Run(ctx context.Context, from, to epoch.Epoch) (*engine.Run, error) {
	req, err := p.request(from, to)
	if err != nil {
		return nil, err
	}
	return p.session.engine.Start(ctx, req)
}

// Simulate runs [from, to] to the end. See engine.Engine.Simulate.
func (p *Plan) Simulate(ctx context.Context, from, to epoch.Epoch) (*engine.Result, error) {
	req, err := p.request(from, to)
	if err != nil {
		return nil, err
	}
	return p.session.engine.Simulate(ctx, req)
}

// View simulates from the plan start and returns the values written to id
// in [from, to]. The run stops once the view is answered.
func (p *Plan) View(ctx context.Context, id resource.ID, from, to epoch.Epoch) ([]resource.Point, error) {
	run, err := p.Run(ctx, p.start, to)
	if err != nil {
		return nil, err
	}
	defer run.Cancel()
	return run.View(ctx, id, from, to)
}
