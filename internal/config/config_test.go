package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, Config{
		Workers:          runtime.GOMAXPROCS(0),
		LogLevel:         "info",
		VerifyDuplicates: true,
		Format:           "text",
		RecordRuns:       true,
	}, cfg)
}

func TestInit_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kestrel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers: 3
history_path: /var/lib/kestrel/history.db
log_level: debug
verify_duplicates: false
`), 0o644))
	t.Setenv("KESTREL_FORMAT", "json")
	t.Setenv("KESTREL_LOG_LEVEL", "trace")

	v := viper.New()
	require.NoError(t, Init(v, path))
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, "/var/lib/kestrel/history.db", cfg.HistoryPath)
	assert.Equal(t, "trace", cfg.LogLevel) // env beats file
	assert.False(t, cfg.VerifyDuplicates)
	assert.Equal(t, "json", cfg.Format)
}

func TestInit_MissingExplicitFile(t *testing.T) {
	err := Init(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestInit_NoDefaultFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	assert.NoError(t, Init(viper.New(), ""))
}

func TestValidate(t *testing.T) {
	base := Config{Workers: 1, LogLevel: "info", Format: "text"}
	require.NoError(t, base.Validate())

	bad := base
	bad.Workers = 0
	assert.ErrorContains(t, bad.Validate(), "workers")

	bad = base
	bad.Format = "xml"
	assert.ErrorContains(t, bad.Validate(), "format")

	bad = base
	bad.LogLevel = "loud"
	assert.ErrorContains(t, bad.Validate(), "log level")
}
