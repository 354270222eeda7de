package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/kestrel/internal/operation"
	"github.com/roach88/kestrel/internal/resource"
)

// Validation error codes (E100-E199)
const (
	ErrInvalidWindow      = "E101" // window ends before it starts
	ErrUnknownType        = "E102" // resource type tag not registered
	ErrUndeclaredResource = "E103" // reference to a resource not in resources
	ErrUnknownKind        = "E104" // step kind not set/add/copy/fail
	ErrDuplicateName      = "E105" // daemon or step name reused
	ErrInvalidValue       = "E106" // literal does not fit the resource type
	ErrInvalidMode        = "E107" // write mode not ordered/exclusive
	ErrMissingField       = "E108" // required field absent
	ErrInvalidDaemon      = "E109" // daemon declaration rejected
	ErrNoActivities       = "E110" // document schedules nothing
)

// ValidationError represents a document validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors is the error returned by Build for an invalid document.
type ValidationErrors []ValidationError

func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d validation error(s):\n  %s", len(es), strings.Join(msgs, "\n  "))
}

// Validate checks a document against the schema rules and returns all
// errors found (does not fail-fast).
func Validate(doc *Document) []ValidationError {
	v := &validator{doc: doc}

	if doc.Window != nil && doc.Window.To.Epoch().Before(doc.Window.From.Epoch()) {
		v.add("window", ErrInvalidWindow, 0, "to %s is before from %s", doc.Window.To.Epoch(), doc.Window.From.Epoch())
	}

	for _, name := range sortedKeys(doc.Resources) {
		if _, ok := resource.Lookup(doc.Resources[name]); !ok {
			v.add("resources."+name, ErrUnknownType, 0, "unknown type tag %q (registered: %s)",
				doc.Resources[name], strings.Join(resource.Tags(), ", "))
		}
	}

	for _, name := range sortedKeys(doc.Initial) {
		id, ok := v.resolve("initial."+name, name, 0)
		if !ok {
			continue
		}
		if _, err := resource.FromAny(id.Type, doc.Initial[name]); err != nil {
			v.add("initial."+name, ErrInvalidValue, 0, "%v", err)
		}
	}

	daemons := make(map[string]bool)
	for i, d := range doc.Daemons {
		field := fmt.Sprintf("daemons[%d]", i)
		if d.Name == "" {
			v.add(field+".name", ErrMissingField, d.Op.line, "daemon name is required")
		} else if daemons[d.Name] {
			v.add(field+".name", ErrDuplicateName, d.Op.line, "daemon %q declared twice", d.Name)
		}
		daemons[d.Name] = true
		if len(d.Subscribe) == 0 {
			v.add(field+".subscribe", ErrInvalidDaemon, d.Op.line, "daemon subscribes to nothing")
		}
		for _, s := range d.Subscribe {
			v.resolve(field+".subscribe", s, d.Op.line)
		}
		if d.Op.Mode == operation.Exclusive.String() {
			v.add(field+".op.mode", ErrInvalidDaemon, d.Op.line, "reactive writes are always ordered")
		}
		v.step(field+".op", d.Op)
	}

	if len(doc.Activities) == 0 {
		v.add("activities", ErrNoActivities, 0, "at least one activity is required")
	}
	for i, a := range doc.Activities {
		field := fmt.Sprintf("activities[%d]", i)
		if len(a.Steps) == 0 {
			v.add(field+".steps", ErrMissingField, 0, "activity has no steps")
		}
		names := make(map[string]bool)
		for j, s := range a.Steps {
			sf := fmt.Sprintf("%s.steps[%d]", field, j)
			name := stepName(s, j)
			if names[name] {
				v.add(sf+".name", ErrDuplicateName, s.line, "step name %q used twice in one activity", name)
			}
			names[name] = true
			v.step(sf, s)
		}
	}

	return v.errs
}

type validator struct {
	doc  *Document
	errs []ValidationError
}

func (v *validator) add(field, code string, line int, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
		Line:    line,
	})
}

// resolve looks up a declared resource by name.
func (v *validator) resolve(field, name string, line int) (resource.ID, bool) {
	tag, ok := v.doc.Resources[name]
	if !ok {
		v.add(field, ErrUndeclaredResource, line, "resource %q is not declared", name)
		return resource.ID{}, false
	}
	if _, ok := resource.Lookup(tag); !ok {
		// reported once under resources
		return resource.ID{}, false
	}
	return resource.New(tag, name), true
}

func (v *validator) required(field, value string, line int) bool {
	if value == "" {
		v.add(field, ErrMissingField, line, "required for this step kind")
		return false
	}
	return true
}

func (v *validator) step(field string, s StepDoc) {
	if s.Mode != "" && s.Mode != operation.Ordered.String() && s.Mode != operation.Exclusive.String() {
		v.add(field+".mode", ErrInvalidMode, s.line, "mode %q must be ordered or exclusive", s.Mode)
	}
	if s.Type != "" {
		if _, ok := resource.Lookup(s.Type); !ok {
			v.add(field+".type", ErrUnknownType, s.line, "unknown type tag %q", s.Type)
		}
	}

	switch s.Kind {
	case KindSet:
		if !v.required(field+".target", s.Target, s.line) {
			return
		}
		if id, ok := v.resolve(field+".target", s.Target, s.line); ok {
			if s.Value == nil {
				v.add(field+".value", ErrMissingField, s.line, "set needs a value")
			} else if _, err := resource.FromAny(id.Type, s.Value); err != nil {
				v.add(field+".value", ErrInvalidValue, s.line, "%v", err)
			}
		}
	case KindAdd:
		if !v.required(field+".target", s.Target, s.line) {
			return
		}
		if id, ok := v.resolve(field+".target", s.Target, s.line); ok {
			if s.Amount == nil {
				v.add(field+".amount", ErrMissingField, s.line, "add needs an amount")
				return
			}
			amount, err := resource.FromAny(amountType(s, id), s.Amount)
			if err != nil {
				v.add(field+".amount", ErrInvalidValue, s.line, "%v", err)
				return
			}
			if _, err := operation.Sum(mustDefault(id), amount); err != nil {
				v.add(field+".amount", ErrInvalidValue, s.line, "%v", err)
			}
		}
	case KindCopy:
		okFrom := v.required(field+".from", s.From, s.line)
		okTo := v.required(field+".to", s.To, s.line)
		if !okFrom || !okTo {
			return
		}
		from, ok1 := v.resolve(field+".from", s.From, s.line)
		to, ok2 := v.resolve(field+".to", s.To, s.line)
		if ok1 && ok2 && s.Amount == nil && from.Type != to.Type {
			v.add(field, ErrInvalidValue, s.line, "copy from %s to %s changes type without an amount", from, to)
		}
		if ok1 && ok2 && s.Amount != nil {
			offset, err := resource.FromAny(amountType(s, from), s.Amount)
			if err != nil {
				v.add(field+".amount", ErrInvalidValue, s.line, "%v", err)
				return
			}
			sum, err := operation.Sum(mustDefault(from), offset)
			if err != nil {
				v.add(field+".amount", ErrInvalidValue, s.line, "%v", err)
			} else if sum.TypeTag() != to.Type {
				v.add(field, ErrInvalidValue, s.line, "copy from %s to %s produces %s", from, to, sum.TypeTag())
			}
		}
	case KindFail:
		for _, r := range s.Reads {
			v.resolve(field+".reads", r, s.line)
		}
		for _, w := range s.Writes {
			v.resolve(field+".writes", w, s.line)
		}
	case "":
		v.add(field+".kind", ErrMissingField, s.line, "step kind is required")
	default:
		v.add(field+".kind", ErrUnknownKind, s.line, "unknown step kind %q (want set, add, copy or fail)", s.Kind)
	}
}

// amountType is the type tag of an add or copy amount: explicit, or the
// type of the resource it applies to.
func amountType(s StepDoc, id resource.ID) string {
	if s.Type != "" {
		return s.Type
	}
	return id.Type
}

func mustDefault(id resource.ID) resource.Value {
	v, err := resource.Default(id)
	if err != nil {
		return resource.Int(0)
	}
	return v
}

func stepName(s StepDoc, index int) string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("%s-%d", s.Kind, index)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
