// Package config loads kestrel's runtime configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: KESTREL_WORKERS, KESTREL_LOG_LEVEL, ...
const EnvPrefix = "KESTREL"

// Config holds all runtime configuration.
// Values are populated from .kestrel.yaml, KESTREL_* env vars, and CLI flags.
type Config struct {
	Workers          int    `mapstructure:"workers"`
	HistoryPath      string `mapstructure:"history_path"`
	LogLevel         string `mapstructure:"log_level"`
	VerifyDuplicates bool   `mapstructure:"verify_duplicates"`
	Format           string `mapstructure:"format"`
	RecordRuns       bool   `mapstructure:"record_runs"`
}

// SetDefaults registers built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workers", runtime.GOMAXPROCS(0))
	v.SetDefault("history_path", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("verify_duplicates", true)
	v.SetDefault("format", "text")
	v.SetDefault("record_runs", true)
}

// Init points v at a config file and the environment. An explicit file
// must exist; otherwise .kestrel.yaml is looked up in the working and
// home directories and may be absent.
func Init(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".kestrel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// Load reads configuration from v, applying built-in defaults for any
// values not set by config file, environment, or flags.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values no command can run with.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be at least 1, got %d", c.Workers)
	}
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: format %q must be text or json", c.Format)
	}
	switch strings.ToLower(c.LogLevel) {
	case "error", "warn", "info", "debug", "trace":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}
