package timeline

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/kestrel/internal/epoch"
	"github.com/roach88/kestrel/internal/operation"
	"github.com/roach88/kestrel/internal/resource"
)

// ConflictError reports two operations that cannot share an instant:
// either the same operation id scheduled twice, or an exclusive write of a
// resource that another operation also writes at that instant.
type ConflictError struct {
	Time epoch.Epoch
	// Resource is set for write conflicts.
	Resource *resource.ID
	// Ops lists the implicated operation ids in key order.
	Ops    []string
	Reason string
}

func (e *ConflictError) Error() string {
	if e.Resource != nil {
		return fmt.Sprintf("conflict at %s on %s: %s (%s)", e.Time, e.Resource, e.Reason, strings.Join(e.Ops, ", "))
	}
	return fmt.Sprintf("conflict at %s: %s (%s)", e.Time, e.Reason, strings.Join(e.Ops, ", "))
}

// IsConflict reports whether err is or wraps a *ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// CheckWrites scans [from, to] for write conflicts. Two or more writers of
// one resource at one instant conflict when any of them is exclusive. The
// first conflict in time order is returned.
//
// Each daemon counts as a writer at every instant where a node writes a
// resource it subscribes to, whether or not the instance would fire, so the
// outcome does not depend on computed values. Reactive nodes already in t
// are skipped; their writes are covered through their daemon.
func (t *Timeline) CheckWrites(from, to epoch.Epoch, daemons ...operation.Daemon) error {
	type writer struct {
		op   string
		mode operation.WriteMode
	}
	var (
		cur     epoch.Epoch
		started bool
		writers map[resource.ID][]writer
	)
	flush := func() error {
		ids := make([]resource.ID, 0, len(writers))
		for id := range writers {
			ids = append(ids, id)
		}
		slices.SortFunc(ids, resource.ID.Compare)
		for _, id := range ids {
			ws := writers[id]
			if len(ws) < 2 {
				continue
			}
			if !slices.ContainsFunc(ws, func(w writer) bool { return w.mode == operation.Exclusive }) {
				continue
			}
			ops := make([]string, len(ws))
			for i, w := range ws {
				ops[i] = w.op
			}
			res := id
			return &ConflictError{Time: cur, Resource: &res, Ops: ops, Reason: "exclusive write shared with another writer"}
		}
		return nil
	}
	for _, n := range t.Range(from, to) {
		if !started || n.Key.Time != cur {
			if started {
				if err := flush(); err != nil {
					return err
				}
			}
			cur, started = n.Key.Time, true
			writers = make(map[resource.ID][]writer)
		}
		if n.Key.IsReactive() && len(daemons) > 0 {
			continue
		}
		downs := n.Op.Downstreams()
		for _, w := range downs {
			writers[w.Resource] = append(writers[w.Resource], writer{op: n.Key.ID, mode: w.Mode})
		}
		for _, d := range daemons {
			if !slices.ContainsFunc(downs, func(w operation.Write) bool { return d.Subscribes(w.Resource) }) {
				continue
			}
			for _, w := range d.Op.Downstreams() {
				writers[w.Resource] = append(writers[w.Resource], writer{op: d.Name, mode: w.Mode})
			}
		}
	}
	if started {
		return flush()
	}
	return nil
}
