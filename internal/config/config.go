// Package config handles configuration loading, validation, and hot reload
// for ghostkeys.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"ghostkeys/internal/logging"
	"ghostkeys/internal/state"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete application configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Remap controls the mapping pipeline.
	Remap RemapConfig `toml:"remap" json:"remap" yaml:"remap"`

	// Interceptor selects and tunes the keyboard hook backend.
	Interceptor InterceptorConfig `toml:"interceptor" json:"interceptor" yaml:"interceptor"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Controller configures the mode controllers.
	Controller ControllerConfig `toml:"controller" json:"controller" yaml:"controller"`

	// Notify configures desktop notifications.
	Notify NotifyConfig `toml:"notify" json:"notify" yaml:"notify"`

	// Crash configures crash reports.
	Crash CrashConfig `toml:"crash" json:"crash" yaml:"crash"`

	// Metrics configures the metrics dump.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`
}

// RemapConfig controls the mapping pipeline.
type RemapConfig struct {
	// Mode is "active" or "passthrough". Changing it in the file while
	// running switches the mode live.
	Mode string `toml:"mode" json:"mode" yaml:"mode"`
}

// InterceptorConfig selects and tunes the keyboard hook backend.
type InterceptorConfig struct {
	// Backend is "auto" (the platform hook) or "simulated".
	Backend string `toml:"backend" json:"backend" yaml:"backend"`

	// TickMs is the period of the hook thread's housekeeping tick, which
	// flushes timed-out accents and observes exit requests.
	TickMs int `toml:"tick_ms" json:"tick_ms" yaml:"tick_ms"`

	// StopTimeoutMs bounds how long Stop waits for the hook thread before
	// releasing the hook directly.
	StopTimeoutMs int `toml:"stop_timeout_ms" json:"stop_timeout_ms" yaml:"stop_timeout_ms"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level         string `toml:"level" json:"level" yaml:"level"`
	Format        string `toml:"format" json:"format" yaml:"format"`
	Output        string `toml:"output" json:"output" yaml:"output"`
	FilePath      string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB     int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups    int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	Compress      bool   `toml:"compress" json:"compress" yaml:"compress"`
	LogCharacters bool   `toml:"log_characters" json:"log_characters" yaml:"log_characters"`
}

// ControllerConfig configures the mode controllers.
type ControllerConfig struct {
	// Console enables the raw-terminal controller (p toggles, q quits).
	Console bool `toml:"console" json:"console" yaml:"console"`

	// Signals enables SIGUSR1 (toggle) and SIGHUP (reload) on Unix.
	Signals bool `toml:"signals" json:"signals" yaml:"signals"`
}

// NotifyConfig configures desktop notifications.
type NotifyConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`
}

// CrashConfig configures crash reports.
type CrashConfig struct {
	Dir string `toml:"dir" json:"dir" yaml:"dir"`

	// MaxAgeDays removes older reports at startup. 0 keeps everything.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
}

// MetricsConfig configures the metrics dump.
type MetricsConfig struct {
	// DumpOnExit logs the metrics in Prometheus text format at shutdown.
	DumpOnExit bool `toml:"dump_on_exit" json:"dump_on_exit" yaml:"dump_on_exit"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Remap: RemapConfig{
			Mode: "active",
		},
		Interceptor: InterceptorConfig{
			Backend:       "auto",
			TickMs:        25,
			StopTimeoutMs: 250,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(logging.StateDir(), logging.AppName+".log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   true,
		},
		Controller: ControllerConfig{
			Console: true,
			Signals: true,
		},
		Notify: NotifyConfig{
			Enabled: true,
		},
		Crash: CrashConfig{
			Dir:        logging.DefaultCrashDir(),
			MaxAgeDays: 30,
		},
		Metrics: MetricsConfig{
			DumpOnExit: true,
		},
	}
}

// ConfigDir returns the platform-specific configuration directory, or
// GHOSTKEYS_CONFIG_DIR when set.
func ConfigDir() string {
	if dir := os.Getenv("GHOSTKEYS_CONFIG_DIR"); dir != "" {
		return dir
	}
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = os.Getenv("LOCALAPPDATA")
		}
		return filepath.Join(appData, logging.AppName)
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", logging.AppName)
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, _ := os.UserHomeDir()
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, logging.AppName)
	}
}

// ConfigPath returns the default config file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// SupportedFormats lists config file extensions in search order.
func SupportedFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile returns the first config.<ext> found in the current
// directory or ConfigDir, or "" when there is none.
func FindConfigFile() string {
	for _, dir := range []string{".", ConfigDir()} {
		for _, ext := range SupportedFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// ApplyEnvOverrides applies GHOSTKEYS_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("GHOSTKEYS_MODE"); v != "" {
		c.Remap.Mode = v
	}
	if v := os.Getenv("GHOSTKEYS_BACKEND"); v != "" {
		c.Interceptor.Backend = v
	}
	if v := os.Getenv("GHOSTKEYS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("GHOSTKEYS_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// Mode returns the configured operation mode. Validate guarantees it
// parses.
func (c *Config) Mode() state.OperationMode {
	m, _ := state.ParseMode(c.Remap.Mode)
	return m
}

// Tick returns the interceptor tick period.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.Interceptor.TickMs) * time.Millisecond
}

// StopTimeout returns the interceptor stop timeout.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Interceptor.StopTimeoutMs) * time.Millisecond
}

// LogLevel returns the configured log level.
func (c *Config) LogLevel() logging.Level {
	l, _ := logging.ParseLevel(c.Logging.Level)
	return l
}

// LoggingConfig converts the logging section to a logging.Config.
func (c *Config) LoggingConfig() *logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.LogLevel()
	lc.Format, _ = logging.ParseFormat(c.Logging.Format)
	lc.Output = c.Logging.Output
	if c.Logging.FilePath != "" {
		lc.FilePath = c.Logging.FilePath
	}
	lc.MaxSize = int64(c.Logging.MaxSizeMB)
	lc.MaxBackups = c.Logging.MaxBackups
	lc.Compress = c.Logging.Compress
	lc.LogCharacters = c.Logging.LogCharacters
	return lc
}

// Validate checks the configuration and returns ValidationErrors.
func (c *Config) Validate() error {
	if errs := ValidateConfig(c); len(errs) > 0 {
		return errs
	}
	return nil
}
