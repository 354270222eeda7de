package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/kestrel/internal/epoch"
)

var (
	documentFields = []string{"start", "window", "resources", "initial", "daemons", "activities"}
	stepFields     = []string{"kind", "name", "offset", "priority", "target", "from", "to", "value", "amount", "type", "mode", "reads", "writes", "message"}
)

// LoadCUE loads a CUE plan from a directory or a single .cue file.
func LoadCUE(path string) (*Document, error) {
	dir, args := path, []string{"."}
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		dir, args = filepath.Dir(path), []string{filepath.Base(path)}
	}

	instances := load.Instances(args, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("load %s: no CUE instances", path)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}

	v := cuecontext.New().BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileCUE(v)
}

// CompileCUE extracts a plan document from a CUE value. The value must be
// concrete.
func CompileCUE(v cue.Value) (*Document, error) {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}
	if err := rejectUnknown(v, "", documentFields); err != nil {
		return nil, err
	}

	doc := &Document{}

	if sv := v.LookupPath(cue.ParsePath("start")); sv.Exists() {
		e, err := cueInstant(sv)
		if err != nil {
			return nil, err
		}
		doc.Start = Instant(e)
	}

	if wv := v.LookupPath(cue.ParsePath("window")); wv.Exists() {
		from, err := cueInstant(wv.LookupPath(cue.ParsePath("from")))
		if err != nil {
			return nil, err
		}
		to, err := cueInstant(wv.LookupPath(cue.ParsePath("to")))
		if err != nil {
			return nil, err
		}
		doc.Window = &Window{From: Instant(from), To: Instant(to)}
	}

	resVal := v.LookupPath(cue.ParsePath("resources"))
	if !resVal.Exists() {
		return nil, &CompileError{
			Field:   "resources",
			Message: "resources are required",
			Pos:     v.Pos(),
		}
	}
	doc.Resources = make(map[string]string)
	iter, err := resVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		tag, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		doc.Resources[iter.Selector().Unquoted()] = tag
	}

	if iv := v.LookupPath(cue.ParsePath("initial")); iv.Exists() {
		doc.Initial = make(map[string]any)
		iter, err := iv.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			val, err := cueAny(iter.Value())
			if err != nil {
				return nil, err
			}
			doc.Initial[iter.Selector().Unquoted()] = val
		}
	}

	if dv := v.LookupPath(cue.ParsePath("daemons")); dv.Exists() {
		list, err := dv.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for list.Next() {
			d, err := cueDaemon(list.Value())
			if err != nil {
				return nil, err
			}
			doc.Daemons = append(doc.Daemons, d)
		}
	}

	av := v.LookupPath(cue.ParsePath("activities"))
	if av.Exists() {
		list, err := av.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for list.Next() {
			a, err := cueActivity(list.Value())
			if err != nil {
				return nil, err
			}
			doc.Activities = append(doc.Activities, a)
		}
	}

	return doc, nil
}

func cueDaemon(v cue.Value) (DaemonDoc, error) {
	var d DaemonDoc
	name, err := cueString(v, "name")
	if err != nil {
		return d, err
	}
	d.Name = name
	if d.Subscribe, err = cueStrings(v, "subscribe"); err != nil {
		return d, err
	}
	op := v.LookupPath(cue.ParsePath("op"))
	if !op.Exists() {
		return d, &CompileError{
			Field:   "daemons." + name + ".op",
			Message: "daemon operation is required",
			Pos:     v.Pos(),
		}
	}
	d.Op, err = cueStep(op)
	return d, err
}

func cueActivity(v cue.Value) (ActivityDoc, error) {
	var a ActivityDoc
	at := v.LookupPath(cue.ParsePath("at"))
	if !at.Exists() {
		return a, &CompileError{
			Field:   "activities.at",
			Message: "activity start is required",
			Pos:     v.Pos(),
		}
	}
	e, err := cueInstant(at)
	if err != nil {
		return a, err
	}
	a.At = Instant(e)

	steps := v.LookupPath(cue.ParsePath("steps"))
	if !steps.Exists() {
		return a, nil
	}
	list, err := steps.List()
	if err != nil {
		return a, formatCUEError(err)
	}
	for list.Next() {
		s, err := cueStep(list.Value())
		if err != nil {
			return a, err
		}
		a.Steps = append(a.Steps, s)
	}
	return a, nil
}

func cueStep(v cue.Value) (StepDoc, error) {
	s := StepDoc{line: v.Pos().Line()}
	if err := rejectUnknown(v, "step.", stepFields); err != nil {
		return s, err
	}

	var err error
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"kind", &s.Kind}, {"name", &s.Name}, {"target", &s.Target}, {"from", &s.From},
		{"to", &s.To}, {"type", &s.Type}, {"mode", &s.Mode}, {"message", &s.Message},
	} {
		if *f.dst, err = cueString(v, f.name); err != nil {
			return s, err
		}
	}
	if s.Reads, err = cueStrings(v, "reads"); err != nil {
		return s, err
	}
	if s.Writes, err = cueStrings(v, "writes"); err != nil {
		return s, err
	}

	if ov := v.LookupPath(cue.ParsePath("offset")); ov.Exists() {
		d, err := cueSpan(ov)
		if err != nil {
			return s, err
		}
		s.Offset = Span(d)
	}
	if pv := v.LookupPath(cue.ParsePath("priority")); pv.Exists() {
		p, err := pv.Int64()
		if err != nil {
			return s, formatCUEError(err)
		}
		s.Priority = int32(p)
	}
	if vv := v.LookupPath(cue.ParsePath("value")); vv.Exists() {
		if s.Value, err = cueAny(vv); err != nil {
			return s, err
		}
	}
	if av := v.LookupPath(cue.ParsePath("amount")); av.Exists() {
		if s.Amount, err = cueAny(av); err != nil {
			return s, err
		}
	}
	return s, nil
}

// rejectUnknown fails on regular fields of v not listed in known.
func rejectUnknown(v cue.Value, prefix string, known []string) error {
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		label := iter.Selector().Unquoted()
		if !slices.Contains(known, label) {
			return &CompileError{
				Field:   prefix + label,
				Message: "unknown field",
				Pos:     iter.Value().Pos(),
			}
		}
	}
	return nil
}

// cueString returns the string at field, or "" when it is absent.
func cueString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func cueStrings(v cue.Value, field string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, nil
	}
	list, err := fv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for list.Next() {
		s, err := list.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

func cueInstant(v cue.Value) (epoch.Epoch, error) {
	switch v.IncompleteKind() {
	case cue.IntKind, cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return 0, formatCUEError(err)
		}
		return epoch.FromSeconds(f), nil
	case cue.StringKind:
		s, _ := v.String()
		e, err := epoch.Parse(s)
		if err != nil {
			return 0, &CompileError{Field: "instant", Message: err.Error(), Pos: v.Pos()}
		}
		return e, nil
	}
	return 0, &CompileError{
		Field:   "instant",
		Message: fmt.Sprintf("must be seconds or an epoch string, got %v", v.IncompleteKind()),
		Pos:     v.Pos(),
	}
}

func cueSpan(v cue.Value) (epoch.Duration, error) {
	switch v.IncompleteKind() {
	case cue.IntKind, cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return 0, formatCUEError(err)
		}
		d, err := secondsToDuration(f)
		if err != nil {
			return 0, &CompileError{Field: "offset", Message: err.Error(), Pos: v.Pos()}
		}
		return d, nil
	case cue.StringKind:
		s, _ := v.String()
		d, err := parseSpan("!!str", s)
		if err != nil {
			return 0, &CompileError{Field: "offset", Message: err.Error(), Pos: v.Pos()}
		}
		return d, nil
	}
	return 0, &CompileError{
		Field:   "offset",
		Message: fmt.Sprintf("must be seconds or a duration string, got %v", v.IncompleteKind()),
		Pos:     v.Pos(),
	}
}

// cueAny converts a concrete CUE value to the plain Go form that YAML
// decoding produces, so both document formats share one validation path.
func cueAny(v cue.Value) (any, error) {
	switch v.IncompleteKind() {
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return n, nil
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return f, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return b, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return s, nil
	case cue.StructKind:
		out := make(map[string]any)
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			fv, err := cueAny(iter.Value())
			if err != nil {
				return nil, err
			}
			out[iter.Selector().Unquoted()] = fv
		}
		return out, nil
	case cue.ListKind:
		var out []any
		list, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for list.Next() {
			ev, err := cueAny(list.Value())
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
		}
		return out, nil
	}
	return nil, &CompileError{
		Field:   "value",
		Message: fmt.Sprintf("unsupported value kind: %v", v.IncompleteKind()),
		Pos:     v.Pos(),
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
