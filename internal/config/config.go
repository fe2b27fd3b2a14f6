// Package config loads the TOML configuration file: the target launch
// spec, control listener, log capture, history sink and pattern
// breakpoints seeded at startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nodetap/nodetap/internal/logger"
	"github.com/nodetap/nodetap/internal/metrics"
	"github.com/nodetap/nodetap/internal/supervisor"
)

// FileConfig is the top-level TOML structure.
type FileConfig struct {
	// Listen is the control API address; empty disables the HTTP surface.
	Listen string `toml:"listen" mapstructure:"listen"`
	// History is a sink DSN (sqlite path, postgres:// or clickhouse://).
	History string `toml:"history" mapstructure:"history"`
	// BreakpointStore is the sqlite file holding persisted breakpoints.
	BreakpointStore string `toml:"breakpoint_store" mapstructure:"breakpoint_store"`
	// RingSize bounds the in-memory log buffer; 0 means the default.
	RingSize int `toml:"ring_size" mapstructure:"ring_size"`

	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool     `toml:"use_os_env" mapstructure:"use_os_env"`

	Target   TargetConfig    `toml:"target" mapstructure:"target"`
	Log      *LogConfig      `toml:"log" mapstructure:"log"`
	Metrics  *MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
	Patterns []PatternConfig `toml:"patterns" mapstructure:"patterns"`
}

// TargetConfig describes the supervised process.
type TargetConfig struct {
	Name        string   `toml:"name" mapstructure:"name"`
	Command     string   `toml:"command" mapstructure:"command"`
	Args        []string `toml:"args" mapstructure:"args"`
	WorkDir     string   `toml:"workdir" mapstructure:"workdir"`
	Env         []string `toml:"env" mapstructure:"env"`
	Interactive bool     `toml:"interactive" mapstructure:"interactive"`
	Inject      bool     `toml:"inject" mapstructure:"inject"`
	Eval        bool     `toml:"eval" mapstructure:"eval"`
	Debug       bool     `toml:"debug" mapstructure:"debug"`
	DebugHost   string   `toml:"debug_host" mapstructure:"debug_host"`

	AutoRestart    bool          `toml:"autorestart" mapstructure:"autorestart"`
	RestartBackoff time.Duration `toml:"restart_backoff" mapstructure:"restart_backoff"`
	StopTimeout    time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`
	SettleDelay    time.Duration `toml:"settle_delay" mapstructure:"settle_delay"`

	Watch WatchConfig `toml:"watch" mapstructure:"watch"`
}

// WatchConfig mirrors the supervisor's watch settings.
type WatchConfig struct {
	Paths      []string      `toml:"paths" mapstructure:"paths"`
	Debounce   time.Duration `toml:"debounce" mapstructure:"debounce"`
	Extensions []string      `toml:"extensions" mapstructure:"extensions"`
}

// LogConfig configures rotated capture files for target output.
type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// MetricsConfig configures the resource usage collector.
type MetricsConfig struct {
	Enabled    bool          `toml:"enabled" mapstructure:"enabled"`
	Interval   time.Duration `toml:"interval" mapstructure:"interval"`
	MaxHistory int           `toml:"max_history" mapstructure:"max_history"`
}

// PatternConfig seeds one log-pattern breakpoint at startup.
type PatternConfig struct {
	Pattern string `toml:"pattern" mapstructure:"pattern"`
	Label   string `toml:"label" mapstructure:"label"`
}

// Load reads and validates the configuration file.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	if fc.Target.Command == "" {
		return nil, fmt.Errorf("config %s: target.command is required", path)
	}
	for _, p := range fc.Patterns {
		if p.Pattern == "" {
			return nil, fmt.Errorf("config %s: pattern entries need a pattern", path)
		}
	}
	return &fc, nil
}

// TargetSpec converts the file form into the supervisor's launch spec.
// Supervisor defaults fill anything left zero here.
func (fc *FileConfig) TargetSpec() supervisor.Spec {
	t := fc.Target
	spec := supervisor.Spec{
		Name:           t.Name,
		Command:        t.Command,
		Args:           t.Args,
		WorkDir:        t.WorkDir,
		Env:            t.Env,
		Interactive:    t.Interactive,
		Inject:         t.Inject,
		Eval:           t.Eval,
		Debug:          t.Debug,
		DebugHost:      t.DebugHost,
		AutoRestart:    t.AutoRestart,
		RestartBackoff: t.RestartBackoff,
		StopTimeout:    t.StopTimeout,
		SettleDelay:    t.SettleDelay,
		Watch: supervisor.WatchConfig{
			Paths:      t.Watch.Paths,
			Debounce:   t.Watch.Debounce,
			Extensions: t.Watch.Extensions,
		},
	}
	if fc.Log != nil {
		spec.Log = logger.Capture{
			Dir:      fc.Log.Dir,
			Stdout:   fc.Log.Stdout,
			Stderr:   fc.Log.Stderr,
			RotateMB: fc.Log.MaxSizeMB,
			Keep:     fc.Log.MaxBackups,
			KeepDays: fc.Log.MaxAgeDays,
			Compress: fc.Log.Compress,
		}
	}
	return spec
}

// CollectorConfig converts the metrics section, or returns a disabled
// collector configuration when the section is absent.
func (fc *FileConfig) CollectorConfig() metrics.CollectorConfig {
	if fc.Metrics == nil {
		return metrics.CollectorConfig{}
	}
	return metrics.CollectorConfig{
		Enabled:    fc.Metrics.Enabled,
		Interval:   fc.Metrics.Interval,
		MaxHistory: fc.Metrics.MaxHistory,
	}
}

// GlobalEnv merges the environment for the target. Precedence: OS env
// (when enabled) is the base, env_files apply over it in order, and the
// top-level env list overrides last.
func (fc *FileConfig) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	if fc.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// LoadEnvFile parses a simple .env file into "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses KEY=VALUE lines (no export keyword, no quoting).
// Blank lines and lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
