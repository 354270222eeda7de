package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/roach88/kestrel/internal/epoch"
	"github.com/roach88/kestrel/internal/history"
	"github.com/roach88/kestrel/internal/ir"
	"github.com/roach88/kestrel/internal/logging"
	"github.com/roach88/kestrel/internal/operation"
	"github.com/roach88/kestrel/internal/resource"
)

// State is the lifecycle state of an operation future.
type State uint32

const (
	// Pending futures have not been polled.
	Pending State = iota
	// Suspended futures wait on an unresolved write.
	Suspended
	// Ready futures are being polled.
	Ready
	// Completed futures wrote their deltas.
	Completed
	// Failed futures returned, replayed or inherited a model error.
	Failed
	// Cancelled futures were still open when the run stopped.
	Cancelled
	// Skipped futures are daemon instances whose trigger changed nothing.
	Skipped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Suspended:
		return "suspended"
	case Ready:
		return "ready"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	case Skipped:
		return "skipped"
	}
	return fmt.Sprintf("state(%d)", uint32(s))
}

// future is one operation instance in a run. Only the worker currently
// polling it touches its fields; finished is read by the frontier.
type future struct {
	key    epoch.Key
	op     operation.Operation
	downs  []operation.Write
	writes []*slot
	ups    []resource.ID

	// daemon instances only
	daemon  int
	trigger *future
	subs    []int
	fired   bool

	state    State
	finished atomic.Bool
	decided  int
	readings []reading
}

func (f *future) isDaemon() bool { return f.trigger != nil }

// poll drives f as far as it can go.
func (r *Run) poll(w int, f *future) {
	if r.pool.stopped() {
		return
	}
	f.state = Ready

	if f.isDaemon() && !f.fired {
		fired, ok, err := r.decide(f)
		if !ok {
			return
		}
		if err != nil {
			r.fail(w, f, err)
			return
		}
		if !fired {
			r.skip(w, f)
			return
		}
		f.fired = true
		r.insertInstance(f)
	}

	for len(f.readings) < len(f.ups) {
		id := f.ups[len(f.readings)]
		rd, ok, err := r.readAt(f, id, f.key)
		if !ok {
			return
		}
		if err != nil {
			r.fail(w, f, err)
			return
		}
		f.readings = append(f.readings, rd)
	}
	r.run(w, f)
}

// decide reports whether the trigger of daemon instance f changed any
// subscribed resource.
func (r *Run) decide(f *future) (fired, ok bool, err error) {
	t := f.trigger
	for f.decided < len(f.subs) {
		i := f.subs[f.decided]
		s := t.writes[i]
		v, ok := s.await(f)
		if !ok {
			return false, false, nil
		}
		switch v.state {
		case slotFailed:
			return false, true, &UpstreamError{Op: f.op.ID(), Key: f.key, Resource: s.id, Writer: s.key, Cause: v.cause}
		case slotCancelled:
			return false, false, nil
		case slotWritten:
			prior, ok, err := r.readAt(f, s.id, t.key)
			if !ok {
				return false, false, nil
			}
			if err != nil {
				return false, true, err
			}
			if !prior.value.Equal(v.value) {
				return true, true, nil
			}
		}
		f.decided++
	}
	return false, true, nil
}

// readAt resolves id as seen from key at. It returns ok=false when f was
// registered as a waiter on an unresolved write.
func (r *Run) readAt(f *future, id resource.ID, at epoch.Key) (reading, bool, error) {
	tr := r.tracks[id]
	for i := tr.before(at); i >= 0; i-- {
		s := tr.slots[i]
		v, ok := s.await(f)
		if !ok {
			return reading{}, false, nil
		}
		switch v.state {
		case slotSkipped:
			continue
		case slotWritten:
			return newReading(v.value, v.version, s.key.Time, at.Time), true, nil
		case slotFailed:
			return reading{}, true, &UpstreamError{Op: f.op.ID(), Key: f.key, Resource: id, Writer: s.key, Cause: v.cause}
		case slotCancelled:
			return reading{}, false, nil
		}
	}
	init, err := r.initialFor(id)
	if err != nil {
		return reading{}, true, err
	}
	return newReading(init.value, init.version, r.from, at.Time), true, nil
}

// run looks up the cache and either replays or computes.
func (r *Run) run(w int, f *future) {
	fp, err := r.fingerprint(f)
	if err != nil {
		r.fail(w, f, &operation.ModelError{Op: f.op.ID(), Key: f.key, Err: err})
		return
	}

	entry, ok := r.cache.Lookup(fp)
	if r.trace {
		r.logger.Log(context.Background(), logging.LevelTrace, "history lookup",
			"op", f.op.ID(),
			"key", f.key.String(),
			"fingerprint", fp.Short(),
			"hit", ok)
	}
	if ok {
		if entry.Failed {
			r.stats.hits.Add(1)
			r.fail(w, f, &operation.ModelError{Op: f.op.ID(), Key: f.key, Err: entry.Err(), Replayed: true})
			return
		}
		deltas, err := entry.Values()
		if err == nil {
			r.stats.hits.Add(1)
			r.complete(w, f, fp, deltas)
			return
		}
		r.logger.Warn("cached entry failed to decode, recomputing",
			"op", f.op.ID(),
			"fingerprint", fp.Short(),
			"error", &history.SerializationError{Fingerprint: fp, Err: err})
	}
	r.stats.misses.Add(1)

	deltas, panicked, err := r.compute(f)
	if err == nil {
		if cerr := operation.CheckDeltas(f.op, deltas); cerr != nil {
			r.fail(w, f, &operation.ModelError{Op: f.op.ID(), Key: f.key, Err: cerr})
			return
		}
	}
	if err != nil {
		if !panicked {
			if _, ierr := r.cache.Insert(fp, history.FailedEntry(err)); ierr != nil {
				r.abort(ierr)
				return
			}
		}
		r.fail(w, f, &operation.ModelError{Op: f.op.ID(), Key: f.key, Err: err})
		return
	}

	entry, err = history.NewEntry(deltas)
	if err != nil {
		r.fail(w, f, &operation.ModelError{Op: f.op.ID(), Key: f.key, Err: err})
		return
	}
	if _, err := r.cache.Insert(fp, entry); err != nil {
		r.abort(err)
		return
	}
	r.complete(w, f, fp, deltas)
}

// compute calls the model, turning a panic into an error.
func (r *Run) compute(f *future) (deltas []resource.Delta, panicked bool, err error) {
	values := make(map[resource.ID]resource.Value, len(f.ups))
	for i, id := range f.ups {
		values[id] = f.readings[i].value
	}
	defer func() {
		if p := recover(); p != nil {
			deltas, panicked, err = nil, true, fmt.Errorf("panic: %v", p)
		}
	}()
	r.stats.computed.Add(1)
	deltas, err = f.op.Compute(operation.NewInputs(f.key.Time, values))
	return deltas, false, err
}

func (r *Run) complete(w int, f *future, fp ir.Digest, deltas []resource.Delta) {
	byID := make(map[resource.ID]resource.Value, len(deltas))
	for _, d := range deltas {
		byID[d.Resource] = d.Value
	}
	for i, s := range f.writes {
		id := f.downs[i].Resource
		if v, ok := byID[id]; ok {
			r.wake(w, s.resolve(slotWritten, v, writeVersion(fp, id), nil))
		} else {
			r.wake(w, s.resolve(slotSkipped, nil, ir.Digest{}, nil))
		}
	}
	r.finish(f, Completed)
}

func (r *Run) skip(w int, f *future) {
	for _, s := range f.writes {
		r.wake(w, s.resolve(slotSkipped, nil, ir.Digest{}, nil))
	}
	r.finish(f, Skipped)
}

func (r *Run) fail(w int, f *future, err error) {
	cause := err
	var ue *UpstreamError
	if errors.As(err, &ue) {
		cause = ue.Cause
	}
	for _, s := range f.writes {
		r.wake(w, s.resolve(slotFailed, nil, ir.Digest{}, cause))
	}
	r.failures.push(Failure{Key: f.key, Op: f.op.ID(), Err: err})
	r.logger.Debug("operation failed",
		"run_id", r.id,
		"op", f.op.ID(),
		"time", f.key.Time,
		"error", err)
	r.finish(f, Failed)
}

func (r *Run) wake(w int, waiters []*future) {
	for _, f := range waiters {
		r.pool.submit(w, f)
	}
}

func (r *Run) finish(f *future, s State) {
	f.state = s
	f.finished.Store(true)
	r.frontier.advance()
	r.pool.done()
}
