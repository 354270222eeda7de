package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "kestrel", cmd.Use)
	assert.Contains(t, cmd.Long, "content-addressed history")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{
		{"simulate"},
		{"validate"},
		{"test"},
		{"history", "stats"},
		{"history", "export"},
		{"history", "import"},
		{"history", "prune"},
		{"history", "runs"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	for flag, def := range map[string]string{"format": "text", "config": "", "log-level": "info"} {
		f := cmd.PersistentFlags().Lookup(flag)
		require.NotNil(t, f, flag)
		assert.Equal(t, def, f.DefValue, flag)
	}
}

func TestRoot_InvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--format", "xml", "validate", countChainPlan})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestRoot_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "configured.db")
	cfgPath := filepath.Join(dir, "kestrel.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("history_path: "+db+"\nworkers: 2\nlog_level: error\n"), 0o644))

	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", cfgPath, "simulate", countChainPlan})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "History: "+db+" (loaded 0, saved 6)")

	// The flag beats the config file
	other := filepath.Join(dir, "flag.db")
	out.Reset()
	cmd = NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", cfgPath, "simulate", countChainPlan, "--history", other})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "History: "+other+" (loaded 0, saved 6)")
}

func TestRoot_EnvFormat(t *testing.T) {
	t.Setenv("KESTREL_FORMAT", "json")
	t.Setenv("KESTREL_LOG_LEVEL", "error")

	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"validate", countChainPlan})
	require.NoError(t, cmd.Execute())

	var result ValidationResult
	decodeData(t, out.String(), &result)
	assert.True(t, result.Valid)
}

func TestRoot_MissingConfigFile(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "validate", countChainPlan})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}
