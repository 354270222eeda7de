// Package compiler turns plan documents authored in YAML or CUE into
// executable plans.
//
// A document declares typed resources by name, their initial conditions,
// daemons, and activities. Activities and daemons are built from the
// builtin operations (set, add, copy, fail). Documents are validated in
// full before anything is built, so an author sees every problem at once.
package compiler

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/kestrel/internal/epoch"
)

// Document is the parsed form of a plan document.
type Document struct {
	Start      Instant           `yaml:"start"`
	Window     *Window           `yaml:"window,omitempty"`
	Resources  map[string]string `yaml:"resources"`
	Initial    map[string]any    `yaml:"initial,omitempty"`
	Daemons    []DaemonDoc       `yaml:"daemons,omitempty"`
	Activities []ActivityDoc     `yaml:"activities"`
}

// Window is the simulated interval. Without one a plan runs from its
// start to the last activity.
type Window struct {
	From Instant `yaml:"from"`
	To   Instant `yaml:"to"`
}

// DaemonDoc declares a reactive operation.
type DaemonDoc struct {
	Name      string   `yaml:"name"`
	Subscribe []string `yaml:"subscribe"`
	Op        StepDoc  `yaml:"op"`
}

// ActivityDoc places a group of steps at an instant.
type ActivityDoc struct {
	At    Instant   `yaml:"at"`
	Steps []StepDoc `yaml:"steps"`
}

// StepDoc describes one builtin operation. Which fields apply depends on
// Kind:
//
//	set:  target, value, mode
//	add:  target, amount, type
//	copy: from, to, amount (offset), mode
//	fail: reads, writes, message
type StepDoc struct {
	Kind     string   `yaml:"kind"`
	Name     string   `yaml:"name,omitempty"`
	Offset   Span     `yaml:"offset,omitempty"`
	Priority int32    `yaml:"priority,omitempty"`
	Target   string   `yaml:"target,omitempty"`
	From     string   `yaml:"from,omitempty"`
	To       string   `yaml:"to,omitempty"`
	Value    any      `yaml:"value,omitempty"`
	Amount   any      `yaml:"amount,omitempty"`
	Type     string   `yaml:"type,omitempty"`
	Mode     string   `yaml:"mode,omitempty"`
	Reads    []string `yaml:"reads,omitempty"`
	Writes   []string `yaml:"writes,omitempty"`
	Message  string   `yaml:"message,omitempty"`

	line int
}

// Step kinds.
const (
	KindSet  = "set"
	KindAdd  = "add"
	KindCopy = "copy"
	KindFail = "fail"
)

// Instant is an epoch written either as seconds past J2000 or in the
// epoch string form ("J2000+12.5s").
type Instant epoch.Epoch

// Epoch returns the instant as an epoch.
func (i Instant) Epoch() epoch.Epoch { return epoch.Epoch(i) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (i *Instant) UnmarshalYAML(node *yaml.Node) error {
	e, err := parseInstant(node.Tag, node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*i = Instant(e)
	return nil
}

// ParseInstant parses an instant given on a command line: seconds past
// J2000 ("12.5") or the epoch string form.
func ParseInstant(s string) (epoch.Epoch, error) {
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return parseInstant("!!float", s)
	}
	return parseInstant("!!str", s)
}

func parseInstant(tag, raw string) (epoch.Epoch, error) {
	switch tag {
	case "!!int", "!!float":
		s, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("instant %q: %w", raw, err)
		}
		return epoch.FromSeconds(s), nil
	}
	return epoch.Parse(raw)
}

// Span is a duration written either as seconds or as a Go duration string
// ("1m30s").
type Span epoch.Duration

// Duration returns the span as a duration.
func (s Span) Duration() epoch.Duration { return epoch.Duration(s) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Span) UnmarshalYAML(node *yaml.Node) error {
	d, err := parseSpan(node.Tag, node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*s = Span(d)
	return nil
}

func parseSpan(tag, raw string) (epoch.Duration, error) {
	switch tag {
	case "!!int", "!!float":
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("span %q: %w", raw, err)
		}
		return secondsToDuration(secs)
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("span %q: %w", raw, err)
	}
	return d, nil
}

func secondsToDuration(secs float64) (epoch.Duration, error) {
	ns := math.Round(secs * float64(time.Second))
	if math.IsNaN(ns) || ns > math.MaxInt64 || ns < math.MinInt64 {
		return 0, fmt.Errorf("span %gs out of range", secs)
	}
	return epoch.Duration(ns), nil
}

// UnmarshalYAML records the step's line for validation messages.
func (s *StepDoc) UnmarshalYAML(node *yaml.Node) error {
	type plain StepDoc
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*s = StepDoc(p)
	s.line = node.Line
	return nil
}

// ParseYAML parses a YAML plan document. Unknown fields are rejected.
func ParseYAML(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse plan document: %w", err)
	}
	return &doc, nil
}

// Load reads a plan document from path. Files ending in .yaml or .yml are
// parsed as YAML; .cue files and directories are loaded as CUE.
func Load(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load plan document: %w", err)
	}
	if info.IsDir() {
		return LoadCUE(path)
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load plan document: %w", err)
		}
		return ParseYAML(data)
	case ".cue":
		return LoadCUE(path)
	default:
		return nil, fmt.Errorf("load plan document %s: unsupported extension %q", path, filepath.Ext(path))
	}
}
