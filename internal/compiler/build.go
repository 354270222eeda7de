package compiler

import (
	"fmt"

	"github.com/roach88/kestrel/internal/epoch"
	"github.com/roach88/kestrel/internal/operation"
	"github.com/roach88/kestrel/internal/plan"
	"github.com/roach88/kestrel/internal/resource"
)

// Compiled is a document built into a plan.
type Compiled struct {
	Plan       *plan.Plan
	Activities []plan.ActivityID
	Resources  map[string]resource.ID

	// From and To are the document's window, or the plan start through
	// the last scheduled step.
	From, To epoch.Epoch

	Warnings []Warning

	windowed bool
}

// Build validates doc and builds it into a plan on s. An invalid document
// returns ValidationErrors holding every problem found.
func Build(s *plan.Session, doc *Document) (*Compiled, error) {
	if errs := Validate(doc); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	ids := make(map[string]resource.ID, len(doc.Resources))
	for name, tag := range doc.Resources {
		ids[name] = resource.New(tag, name)
	}

	initial := make(map[resource.ID]resource.Value, len(doc.Initial))
	for name, raw := range doc.Initial {
		v, err := resource.FromAny(ids[name].Type, raw)
		if err != nil {
			return nil, fmt.Errorf("initial.%s: %w", name, err)
		}
		initial[ids[name]] = v
	}

	daemons := make([]operation.Daemon, 0, len(doc.Daemons))
	for _, d := range doc.Daemons {
		name := d.Op.Name
		if name == "" {
			name = d.Name
		}
		op, err := buildOp(d.Op, name, ids)
		if err != nil {
			return nil, fmt.Errorf("daemon %s: %w", d.Name, err)
		}
		subs := make([]resource.ID, len(d.Subscribe))
		for i, name := range d.Subscribe {
			subs[i] = ids[name]
		}
		daemons = append(daemons, operation.Daemon{Name: d.Name, Subscriptions: subs, Op: op})
	}

	start := doc.Start.Epoch()
	p, err := s.NewPlan(start, initial, daemons...)
	if err != nil {
		return nil, err
	}

	last := start
	placed := make([]plan.Placed, len(doc.Activities))
	for i, a := range doc.Activities {
		pl, end, err := buildActivity(a, ids)
		if err != nil {
			return nil, fmt.Errorf("activities[%d]: %w", i, err)
		}
		placed[i] = pl
		last = max(last, end)
	}
	acts, err := p.InsertBatch(placed)
	if err != nil {
		return nil, err
	}

	c := &Compiled{
		Plan:       p,
		Activities: acts,
		Resources:  ids,
		From:       start,
		To:         last,
		Warnings:   AnalyzeDaemons(doc),
	}
	if doc.Window != nil {
		c.From, c.To = doc.Window.From.Epoch(), doc.Window.To.Epoch()
		c.windowed = true
	}
	return c, nil
}

// Insert validates a and schedules it on the compiled plan. Without a
// document window, To grows to cover the new steps.
func (c *Compiled) Insert(a ActivityDoc) (plan.ActivityID, error) {
	tags := make(map[string]string, len(c.Resources))
	for name, id := range c.Resources {
		tags[name] = id.Type
	}
	if errs := Validate(&Document{Resources: tags, Activities: []ActivityDoc{a}}); len(errs) > 0 {
		return 0, ValidationErrors(errs)
	}
	pl, end, err := buildActivity(a, c.Resources)
	if err != nil {
		return 0, err
	}
	id, err := c.Plan.Insert(pl.At, pl.Activity)
	if err != nil {
		return 0, err
	}
	c.Activities = append(c.Activities, id)
	if !c.windowed {
		c.To = max(c.To, end)
	}
	return id, nil
}

// Remove unschedules the activities at the given positions of
// c.Activities, atomically.
func (c *Compiled) Remove(indices ...int) error {
	ids := make([]plan.ActivityID, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(c.Activities) {
			return fmt.Errorf("remove activity %d: have %d activities", idx, len(c.Activities))
		}
		ids[i] = c.Activities[idx]
	}
	return c.Plan.Remove(ids...)
}

// buildActivity builds a validated activity and returns it with the
// instant of its last step.
func buildActivity(a ActivityDoc, ids map[string]resource.ID) (plan.Placed, epoch.Epoch, error) {
	end := a.At.Epoch()
	steps := make(plan.Steps, len(a.Steps))
	for j, sd := range a.Steps {
		op, err := buildOp(sd, stepName(sd, j), ids)
		if err != nil {
			return plan.Placed{}, 0, err
		}
		steps[j] = plan.Step{Offset: sd.Offset.Duration(), Priority: sd.Priority, Op: op}
		end = max(end, a.At.Epoch().Add(sd.Offset.Duration()))
	}
	return plan.Placed{At: a.At.Epoch(), Activity: steps}, end, nil
}

// buildOp turns a validated step into a builtin operation.
func buildOp(s StepDoc, name string, ids map[string]resource.ID) (operation.Operation, error) {
	mode := operation.Ordered
	if s.Mode == operation.Exclusive.String() {
		mode = operation.Exclusive
	}

	switch s.Kind {
	case KindSet:
		target := ids[s.Target]
		v, err := resource.FromAny(target.Type, s.Value)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", name, err)
		}
		return operation.Set{Name: name, Target: target, Value: v, Mode: mode}, nil
	case KindAdd:
		target := ids[s.Target]
		amount, err := resource.FromAny(amountType(s, target), s.Amount)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", name, err)
		}
		return operation.Add{Name: name, Target: target, Amount: amount}, nil
	case KindCopy:
		op := operation.Copy{Name: name, From: ids[s.From], To: ids[s.To], Mode: mode}
		if s.Amount != nil {
			offset, err := resource.FromAny(amountType(s, op.From), s.Amount)
			if err != nil {
				return nil, fmt.Errorf("step %s: %w", name, err)
			}
			op.Offset = offset
		}
		return op, nil
	case KindFail:
		op := operation.Fail{Name: name, Message: s.Message}
		if op.Message == "" {
			op.Message = "step " + name + " failed"
		}
		for _, r := range s.Reads {
			op.Reads = append(op.Reads, ids[r])
		}
		for _, w := range s.Writes {
			op.Writes = append(op.Writes, operation.Write{Resource: ids[w], Mode: mode})
		}
		return op, nil
	}
	return nil, fmt.Errorf("step %s: unknown kind %q", name, s.Kind)
}
