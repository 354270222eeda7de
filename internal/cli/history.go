package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/kestrel/internal/history"
	"github.com/roach88/kestrel/internal/store"
)

// HistoryOptions holds flags shared by the history subcommands.
type HistoryOptions struct {
	*RootOptions
	history string // bound to history_path
	Limit   int
}

// HistoryStatsResult describes a history store.
type HistoryStatsResult struct {
	Path string `json:"path"`
	store.HistoryStats
	Runs int `json:"runs"`
}

// TransferResult reports an export or import.
type TransferResult struct {
	File     string `json:"file"`
	Entries  int    `json:"entries"`
	Skipped  int    `json:"skipped"`
	Inserted int    `json:"inserted"`
	Existing int    `json:"existing"`
}

// NewHistoryCommand creates the history command group.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and move the persisted simulation history",
		Long: `Inspect and move the history store used by simulate.

The store path comes from --history or history_path in the config.
Export and import use the portable binary history format, which is
checked against the registered value types on import.`,
	}
	cmd.PersistentFlags().StringVar(&opts.history, "history", "", "path to the SQLite history store")

	cmd.AddCommand(
		historySubcommand(opts, "stats", "Count stored entries and runs", cobra.NoArgs, runHistoryStats),
		historySubcommand(opts, "export <file>", "Write stored entries to a binary history file", cobra.ExactArgs(1), runHistoryExport),
		historySubcommand(opts, "import <file>", "Add entries from a binary history file to the store", cobra.ExactArgs(1), runHistoryImport),
		historySubcommand(opts, "prune", "Delete entries written under other value types", cobra.NoArgs, runHistoryPrune),
	)
	runs := historySubcommand(opts, "runs", "List recorded runs", cobra.NoArgs, runHistoryRuns)
	runs.Flags().IntVar(&opts.Limit, "limit", 0, "show at most this many runs (0 = all)")
	cmd.AddCommand(runs)

	return cmd
}

type historyFunc func(opts *HistoryOptions, st *store.Store, formatter *OutputFormatter, cmd *cobra.Command, args []string) error

// historySubcommand wires a subcommand that needs the opened store.
func historySubcommand(opts *HistoryOptions, use, short string, args cobra.PositionalArgs, fn historyFunc) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          args,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.setup(cmd); err != nil {
				return err
			}
			formatter := newFormatter(opts.RootOptions, cmd)
			path := opts.config().HistoryPath
			if path == "" {
				return formatter.fail(ExitCommandError, ErrCodeStore, "no history store: set --history or history_path", nil)
			}
			st, err := store.Open(path)
			if err != nil {
				return formatter.fail(ExitCommandError, ErrCodeStore, "failed to open history store", err)
			}
			defer func() {
				if closeErr := st.Close(); closeErr != nil {
					opts.logger.Error("error closing history store", "error", closeErr)
				}
			}()
			return fn(opts, st, formatter, cmd, args)
		},
	}
}

func runHistoryStats(opts *HistoryOptions, st *store.Store, formatter *OutputFormatter, cmd *cobra.Command, _ []string) error {
	stats, err := st.HistoryStats(cmd.Context())
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "failed to read history stats", err)
	}
	runs, err := st.ListRuns(cmd.Context(), 0)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "failed to list runs", err)
	}
	result := HistoryStatsResult{Path: opts.config().HistoryPath, HistoryStats: stats, Runs: len(runs)}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "History %s\n", result.Path)
	fmt.Fprintf(w, "  entries: %d (%d failed, %d stale)\n", stats.Entries, stats.Failed, stats.Stale)
	fmt.Fprintf(w, "  payload: %d bytes\n", stats.Bytes)
	fmt.Fprintf(w, "  runs:    %d\n", result.Runs)
	formatter.VerboseLog("schema %s", stats.Schema)
	return nil
}

func runHistoryExport(opts *HistoryOptions, st *store.Store, formatter *OutputFormatter, cmd *cobra.Command, args []string) error {
	cache := history.New(history.WithLogger(opts.logger))
	lr, err := st.LoadHistory(cmd.Context(), cache)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "failed to load history", err)
	}

	f, err := os.Create(args[0])
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "failed to create export file", err)
	}
	if err := cache.Encode(f); err != nil {
		f.Close()
		return formatter.fail(ExitCommandError, ErrCodeStore, "failed to export history", err)
	}
	if err := f.Close(); err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "failed to export history", err)
	}
	opts.logger.Info("history exported", "file", args[0], "entries", cache.Len())

	result := TransferResult{File: args[0], Entries: cache.Len(), Skipped: lr.Skipped}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Exported %d entries to %s", result.Entries, result.File)
	if result.Skipped > 0 {
		fmt.Fprintf(formatter.Writer, " (%d undecodable skipped)", result.Skipped)
	}
	fmt.Fprintln(formatter.Writer)
	return nil
}

func runHistoryImport(opts *HistoryOptions, st *store.Store, formatter *OutputFormatter, cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, "failed to open import file", err)
	}
	defer f.Close()

	cache := history.New(history.WithLogger(opts.logger))
	dr, err := cache.Decode(f)
	if err != nil {
		return formatter.fail(ExitFailure, ErrCodeLoad, "failed to import history", err)
	}
	sr, err := st.SaveHistory(cmd.Context(), cache)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "failed to save imported history", err)
	}
	opts.logger.Info("history imported", "file", args[0], "entries", dr.Loaded, "inserted", sr.Inserted)

	result := TransferResult{
		File:     args[0],
		Entries:  dr.Loaded,
		Skipped:  len(dr.Skipped),
		Inserted: sr.Inserted,
		Existing: sr.Existing,
	}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Imported %d entries from %s (%d new, %d already stored)\n",
		result.Entries, result.File, result.Inserted, result.Existing)
	for _, se := range dr.Skipped {
		formatter.VerboseLog("skipped: %v", se)
	}
	return nil
}

func runHistoryPrune(_ *HistoryOptions, st *store.Store, formatter *OutputFormatter, cmd *cobra.Command, _ []string) error {
	n, err := st.PruneStale(cmd.Context())
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "failed to prune history", err)
	}
	if formatter.Format == "json" {
		return formatter.Success(map[string]int64{"pruned": n})
	}
	fmt.Fprintf(formatter.Writer, "✓ Pruned %d stale entries\n", n)
	return nil
}

func runHistoryRuns(opts *HistoryOptions, st *store.Store, formatter *OutputFormatter, cmd *cobra.Command, _ []string) error {
	runs, err := st.ListRuns(cmd.Context(), opts.Limit)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "failed to list runs", err)
	}
	if formatter.Format == "json" {
		return formatter.Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(formatter.Writer, "No runs recorded.")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(formatter.Writer, "%s  %-9s %s .. %s  ops=%d computed=%d hits=%d failed=%d\n",
			r.ID, r.Status, r.From, r.To, r.Stats.Operations, r.Stats.Computed, r.Stats.Hits, r.Stats.Failed)
	}
	return nil
}
