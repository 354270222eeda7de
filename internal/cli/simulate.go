package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/kestrel/internal/compiler"
	"github.com/roach88/kestrel/internal/engine"
	"github.com/roach88/kestrel/internal/epoch"
	"github.com/roach88/kestrel/internal/history"
	"github.com/roach88/kestrel/internal/operation"
	"github.com/roach88/kestrel/internal/plan"
	"github.com/roach88/kestrel/internal/store"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	From    string
	To      string
	Samples []string // "resource@instant"

	// Flags bound to config keys; read through RootOptions.config.
	workers int
	history string
	record  bool

	// RunIDs overrides the engine's run id source (for testing).
	RunIDs engine.RunIDGenerator
}

// SimulateResult is the output of one simulation.
type SimulateResult struct {
	RunID     string             `json:"run_id"`
	Status    string             `json:"status"`
	From      string             `json:"from"`
	To        string             `json:"to"`
	Resources []ResourceOutput   `json:"resources"`
	Samples   []SampleOutput     `json:"samples,omitempty"`
	Failures  []FailureOutput    `json:"failures,omitempty"`
	Stats     engine.Stats       `json:"stats"`
	History   *HistoryActivity   `json:"history,omitempty"`
	Warnings  []compiler.Warning `json:"warnings,omitempty"`
}

// ResourceOutput lists the values written to one resource.
type ResourceOutput struct {
	Name   string        `json:"name"`
	Type   string        `json:"type"`
	Points []PointOutput `json:"points"`
}

// PointOutput is one write.
type PointOutput struct {
	Time  string `json:"time"`
	Value string `json:"value"`
}

// SampleOutput is a resource value read at an instant.
type SampleOutput struct {
	Resource string `json:"resource"`
	Time     string `json:"time"`
	Value    string `json:"value"`
}

// FailureOutput is one failed operation.
type FailureOutput struct {
	Key     string `json:"key"`
	Op      string `json:"op"`
	Message string `json:"message"`
}

// HistoryActivity reports what the run exchanged with the history store.
type HistoryActivity struct {
	Path     string `json:"path"`
	Loaded   int    `json:"loaded"`
	Skipped  int    `json:"skipped"`
	Stale    int    `json:"stale"`
	Inserted int    `json:"inserted"`
	Recorded bool   `json:"recorded"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	return newSimulateCommand(&SimulateOptions{RootOptions: rootOpts})
}

func newSimulateCommand(opts *SimulateOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate <plan>",
		Short: "Simulate a plan and print resource histories",
		Long: `Simulate a YAML or CUE plan document over its window.

With a history store (--history or history_path in the config), results
of earlier runs are loaded before simulating and new results are saved
after, so rerunning an edited plan recomputes only what changed. The run
itself is recorded in the same store unless --record=false.

Exit codes:
  0 - Run completed
  1 - Run failed, was cancelled, or was rejected for conflicting writes
  2 - Command error (plan not found, invalid plan, store unusable)

Examples:
  kestrel simulate ./plans/rover.yaml
  kestrel simulate ./plans/tank --history ./kestrel.db
  kestrel simulate ./plans/rover.yaml --to J2000+60s --sample battery@J2000+30s
  kestrel simulate ./plans/rover.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.setup(cmd); err != nil {
				return err
			}
			return runSimulate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "window start (seconds past J2000 or J2000+<n>s); defaults to the plan's")
	cmd.Flags().StringVar(&opts.To, "to", "", "window end; defaults to the plan's")
	cmd.Flags().StringSliceVar(&opts.Samples, "sample", nil, "sample a resource at an instant (resource@instant), repeatable")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "worker goroutines (default from config, GOMAXPROCS)")
	cmd.Flags().StringVar(&opts.history, "history", "", "path to the SQLite history store")
	cmd.Flags().BoolVar(&opts.record, "record", true, "record the run in the history store")

	return cmd
}

type sampleRequest struct {
	name string
	at   epoch.Epoch
}

func runSimulate(opts *SimulateOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	cfg := opts.config()
	logger := opts.logger

	doc, err := loadPlan(formatter, path)
	if err != nil {
		return err
	}
	samples, err := parseSamples(opts.Samples, doc)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeLoad, "invalid --sample", err)
	}

	// Stop cleanly on Ctrl-C: the run is cancelled and reported
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engineOpts := []engine.Option{engine.WithWorkers(cfg.Workers)}
	if opts.RunIDs != nil {
		engineOpts = append(engineOpts, engine.WithRunIDGenerator(opts.RunIDs))
	}
	session := plan.NewSession(
		plan.WithLogger(logger),
		plan.WithHistoryOptions(history.WithVerifyDuplicates(cfg.VerifyDuplicates)),
		plan.WithEngineOptions(engineOpts...),
	)

	var (
		st       *store.Store
		activity *HistoryActivity
	)
	if cfg.HistoryPath != "" {
		st, err = store.Open(cfg.HistoryPath)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeStore, "failed to open history store", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing history store", "error", closeErr)
			}
		}()
		lr, err := st.LoadHistory(ctx, session.History())
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeStore, "failed to load history", err)
		}
		logger.Info("history loaded", "path", cfg.HistoryPath, "loaded", lr.Loaded, "skipped", lr.Skipped, "stale", lr.Stale)
		activity = &HistoryActivity{Path: cfg.HistoryPath, Loaded: lr.Loaded, Skipped: lr.Skipped, Stale: lr.Stale}
	}

	compiled, err := compiler.Build(session, doc)
	if err != nil {
		var verrs compiler.ValidationErrors
		if errors.As(err, &verrs) {
			return outputValidationErrors(formatter, verrs)
		}
		return formatter.fail(ExitCommandError, ErrCodeBuild, "failed to build plan", err)
	}
	for _, w := range compiled.Warnings {
		if w.Level == "warning" {
			logger.Warn(w.Message)
		} else {
			logger.Debug(w.Message)
		}
	}

	from, to, err := window(opts, compiled)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeLoad, "invalid window", err)
	}

	logger.Info("simulation starting", "plan", path, "from", from, "to", to, "workers", cfg.Workers)
	run, err := compiled.Plan.Run(ctx, from, to)
	if err != nil {
		code := ErrCodeRejected
		var re *engine.RuntimeError
		if errors.As(err, &re) && re.Code == engine.ErrCodeInvalidRequest {
			return formatter.fail(ExitCommandError, code, "run rejected", err)
		}
		return formatter.fail(ExitFailure, code, "run rejected", err)
	}
	res, err := run.Wait(context.Background())
	if err != nil {
		return formatter.fail(ExitFailure, ErrCodeRun, "run did not finish", err)
	}
	logger.Info("simulation finished",
		"run_id", res.RunID,
		"status", res.Status,
		"operations", res.Stats.Operations,
		"hits", res.Stats.Hits,
		"computed", res.Stats.Computed)

	result := buildSimulateResult(res, compiled.Warnings)
	for _, s := range samples {
		v, err := run.Sample(context.Background(), compiled.Resources[s.name], s.at)
		if err != nil {
			return formatter.fail(ExitFailure, ErrCodeRun, fmt.Sprintf("sample %s at %s", s.name, s.at), err)
		}
		result.Samples = append(result.Samples, SampleOutput{Resource: s.name, Time: s.at.String(), Value: v.String()})
	}

	if st != nil {
		if err := persist(context.Background(), st, session, res, cfg.RecordRuns, activity, logger); err != nil {
			return formatter.fail(ExitCommandError, ErrCodeStore, "failed to save history", err)
		}
		result.History = activity
	}

	if formatter.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		printSimulateText(formatter, result)
	}

	if runErr := res.Err(); runErr != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("%s: run %s", ErrCodeRun, res.Status), runErr)
	}
	return nil
}

// persist saves the session history and, if record is set, the run.
func persist(ctx context.Context, st *store.Store, session *plan.Session, res *engine.Result, record bool, activity *HistoryActivity, logger *slog.Logger) error {
	sr, err := st.SaveHistory(ctx, session.History())
	if err != nil {
		return err
	}
	activity.Inserted = sr.Inserted
	logger.Info("history saved", "inserted", sr.Inserted, "existing", sr.Existing)
	if record {
		if err := st.WriteRun(ctx, res); err != nil {
			return err
		}
		activity.Recorded = true
	}
	return nil
}

// window resolves --from and --to against the compiled plan window.
func window(opts *SimulateOptions, c *compiler.Compiled) (epoch.Epoch, epoch.Epoch, error) {
	from, to := c.From, c.To
	if opts.From != "" {
		e, err := compiler.ParseInstant(opts.From)
		if err != nil {
			return 0, 0, fmt.Errorf("--from: %w", err)
		}
		from = e
	}
	if opts.To != "" {
		e, err := compiler.ParseInstant(opts.To)
		if err != nil {
			return 0, 0, fmt.Errorf("--to: %w", err)
		}
		to = e
	}
	return from, to, nil
}

// parseSamples parses resource@instant pairs naming declared resources.
func parseSamples(raw []string, doc *compiler.Document) ([]sampleRequest, error) {
	out := make([]sampleRequest, 0, len(raw))
	for _, r := range raw {
		name, at, ok := strings.Cut(r, "@")
		if !ok {
			return nil, fmt.Errorf("%q: want resource@instant", r)
		}
		if _, declared := doc.Resources[name]; !declared {
			return nil, fmt.Errorf("%q: resource %s is not declared", r, name)
		}
		e, err := compiler.ParseInstant(at)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", r, err)
		}
		out = append(out, sampleRequest{name: name, at: e})
	}
	return out, nil
}

func buildSimulateResult(res *engine.Result, warnings []compiler.Warning) SimulateResult {
	result := SimulateResult{
		RunID:     res.RunID,
		Status:    res.Status.String(),
		From:      res.From.String(),
		To:        res.To.String(),
		Resources: []ResourceOutput{},
		Stats:     res.Stats,
		Warnings:  warnings,
	}
	for id, pts := range res.Timelines {
		ro := ResourceOutput{Name: id.Name, Type: id.Type, Points: make([]PointOutput, len(pts))}
		for i, p := range pts {
			ro.Points[i] = PointOutput{Time: p.Time.String(), Value: p.Value.String()}
		}
		result.Resources = append(result.Resources, ro)
	}
	slices.SortFunc(result.Resources, func(a, b ResourceOutput) int { return strings.Compare(a.Name, b.Name) })
	for _, f := range res.Failures {
		result.Failures = append(result.Failures, FailureOutput{Key: f.Key.String(), Op: f.Op, Message: failureMessage(f.Err)})
	}
	return result
}

// failureMessage drops the operation and time the failure key already
// shows.
func failureMessage(err error) string {
	var ue *engine.UpstreamError
	if errors.As(err, &ue) {
		return fmt.Sprintf("upstream %s from %s failed", ue.Resource, ue.Writer.ID)
	}
	var me *operation.ModelError
	if errors.As(err, &me) && me.Err != nil {
		return me.Err.Error()
	}
	return err.Error()
}

func printSimulateText(formatter *OutputFormatter, r SimulateResult) {
	w := formatter.Writer
	mark := "✓"
	if r.Status != engine.StatusComplete.String() {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s Run %s %s (%s .. %s)\n", mark, r.RunID, r.Status, r.From, r.To)
	for _, ro := range r.Resources {
		fmt.Fprintf(w, "  %s (%s)\n", ro.Name, ro.Type)
		for _, p := range ro.Points {
			fmt.Fprintf(w, "    %-16s %s\n", p.Time, p.Value)
		}
	}
	if len(r.Samples) > 0 {
		fmt.Fprintln(w, "Samples:")
		for _, s := range r.Samples {
			fmt.Fprintf(w, "  %s @ %s = %s\n", s.Resource, s.Time, s.Value)
		}
	}
	if len(r.Failures) > 0 {
		fmt.Fprintln(w, "Failures:")
		for _, f := range r.Failures {
			fmt.Fprintf(w, "  %s: %s\n", f.Key, f.Message)
		}
	}
	st := r.Stats
	fmt.Fprintf(w, "Operations: %d (computed %d, reused %d, failed %d, daemons fired %d)\n",
		st.Operations, st.Computed, st.Hits, st.Failed, st.Fired)
	if h := r.History; h != nil {
		fmt.Fprintf(w, "History: %s (loaded %d, saved %d)\n", h.Path, h.Loaded, h.Inserted)
	}
	printWarnings(formatter, r.Warnings)
}
