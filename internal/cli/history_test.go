package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kestrel/internal/testutil"
)

func historyCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewHistoryCommand(&RootOptions{Format: format, LogLevel: "error"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestHistory_ExportImport(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.db")
	dst := filepath.Join(dir, "dst.db")
	file := filepath.Join(dir, "history.bin")

	_, err := simulate(t, "text", nil, countChainPlan, "--history", src)
	require.NoError(t, err)

	out, err := historyCmd(t, "text", "export", file, "--history", src)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Exported 6 entries to "+file)

	out, err = historyCmd(t, "json", "import", file, "--history", dst)
	require.NoError(t, err)
	var imported TransferResult
	decodeData(t, out, &imported)
	assert.Equal(t, TransferResult{File: file, Entries: 6, Inserted: 6}, imported)

	// Importing again stores nothing new
	out, err = historyCmd(t, "text", "import", file, "--history", dst)
	require.NoError(t, err)
	assert.Contains(t, out, "(0 new, 6 already stored)")

	out, err = historyCmd(t, "json", "stats", "--history", dst)
	require.NoError(t, err)
	var stats HistoryStatsResult
	decodeData(t, out, &stats)
	assert.Equal(t, 6, stats.Entries)
	assert.Equal(t, 0, stats.Runs)

	// A plan simulated against the imported history computes nothing
	out, err = simulate(t, "json", testutil.NewSequentialRunIDs("imported"), countChainPlan, "--history", dst)
	require.NoError(t, err)
	var warm SimulateResult
	decodeData(t, out, &warm)
	assert.Equal(t, 0, warm.Stats.Computed)

	out, err = historyCmd(t, "text", "runs", "--history", dst)
	require.NoError(t, err)
	assert.Contains(t, out, "imported-1  complete")
	assert.Contains(t, out, "ops=6 computed=0 hits=6")
}

func TestHistory_StatsTextAndPrune(t *testing.T) {
	db := filepath.Join(t.TempDir(), "h.db")
	_, err := simulate(t, "text", nil, countChainPlan, "--history", db)
	require.NoError(t, err)

	out, err := historyCmd(t, "text", "stats", "--history", db)
	require.NoError(t, err)
	assert.Contains(t, out, "History "+db)
	assert.Contains(t, out, "entries: 6 (0 failed, 0 stale)")
	assert.Contains(t, out, "runs:    1")

	out, err = historyCmd(t, "text", "prune", "--history", db)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Pruned 0 stale entries")
}

func TestHistory_RunsLimit(t *testing.T) {
	db := filepath.Join(t.TempDir(), "h.db")
	ids := testutil.NewSequentialRunIDs("lim")
	for range 3 {
		_, err := simulate(t, "text", ids, countChainPlan, "--history", db)
		require.NoError(t, err)
	}

	out, err := historyCmd(t, "json", "runs", "--limit", "2", "--history", db)
	require.NoError(t, err)
	var runs []map[string]any
	decodeData(t, out, &runs)
	require.Len(t, runs, 2)
	assert.Equal(t, "lim-1", runs[0]["run_id"])
	assert.Equal(t, "lim-2", runs[1]["run_id"])
}

func TestHistory_Errors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.bin")
	require.NoError(t, os.WriteFile(garbage, []byte("not a history file"), 0o644))
	db := filepath.Join(dir, "h.db")

	t.Run("no store", func(t *testing.T) {
		t.Setenv("KESTREL_HISTORY_PATH", "")
		_, err := historyCmd(t, "text", "stats")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), "no history store")
	})

	t.Run("bad import", func(t *testing.T) {
		out, err := historyCmd(t, "text", "import", garbage, "--history", db)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, out, "Error [E001]: failed to import history")
	})

	t.Run("missing import file", func(t *testing.T) {
		_, err := historyCmd(t, "text", "import", filepath.Join(dir, "absent.bin"), "--history", db)
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})
}
