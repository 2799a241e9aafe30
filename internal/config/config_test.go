package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghostkeys/internal/logging"
	"ghostkeys/internal/state"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, state.ModeActive, cfg.Mode())
	assert.Equal(t, 25*time.Millisecond, cfg.Tick())
	assert.Equal(t, 250*time.Millisecond, cfg.StopTimeout())
	assert.Equal(t, logging.LevelInfo, cfg.LogLevel())
	assert.Equal(t, "auto", cfg.Interceptor.Backend)
	assert.True(t, cfg.Controller.Console)
}

func TestConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GHOSTKEYS_CONFIG_DIR", dir)

	assert.Equal(t, dir, ConfigDir())
	assert.Equal(t, filepath.Join(dir, "config.toml"), ConfigPath())
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Remap, cfg.Remap)
}

func TestLoad_Formats(t *testing.T) {
	files := map[string]string{
		"config.toml": `
version = 1
[remap]
mode = "passthrough"
[interceptor]
tick_ms = 10
[logging]
level = "debug"
`,
		"config.json": `{"version": 1, "remap": {"mode": "passthrough"}, "interceptor": {"tick_ms": 10}, "logging": {"level": "debug"}}`,
		"config.yaml": `
version: 1
remap:
  mode: passthrough
interceptor:
  tick_ms: 10
logging:
  level: debug
`,
		"config": `
version = 1
[remap]
mode = "passthrough"
[interceptor]
tick_ms = 10
[logging]
level = "debug"
`,
	}

	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, os.WriteFile(path, []byte(body), 0600))

			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, state.ModePassthrough, cfg.Mode())
			assert.Equal(t, 10*time.Millisecond, cfg.Tick())
			assert.Equal(t, logging.LevelDebug, cfg.LogLevel())
			// Unset fields keep their defaults.
			assert.Equal(t, 250, cfg.Interceptor.StopTimeoutMs)
		})
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[remap\nmode="), 0600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("GHOSTKEYS_MODE", "passthrough")
	t.Setenv("GHOSTKEYS_BACKEND", "simulated")
	t.Setenv("GHOSTKEYS_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, state.ModePassthrough, cfg.Mode())
	assert.Equal(t, "simulated", cfg.Interceptor.Backend)
	assert.Equal(t, logging.LevelWarn, cfg.LogLevel())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"version", func(c *Config) { c.Version = 9 }, "version"},
		{"mode", func(c *Config) { c.Remap.Mode = "sideways" }, "remap.mode"},
		{"backend", func(c *Config) { c.Interceptor.Backend = "x11" }, "interceptor.backend"},
		{"tick low", func(c *Config) { c.Interceptor.TickMs = 1 }, "interceptor.tick_ms"},
		{"tick high", func(c *Config) { c.Interceptor.TickMs = 500 }, "interceptor.tick_ms"},
		{"stop timeout", func(c *Config) { c.Interceptor.StopTimeoutMs = 0 }, "interceptor.stop_timeout_ms"},
		{"level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"output", func(c *Config) { c.Logging.Output = "syslog" }, "logging.output"},
		{"file path", func(c *Config) { c.Logging.Output = "file"; c.Logging.FilePath = "" }, "logging.file_path"},
		{"max size", func(c *Config) { c.Logging.MaxSizeMB = 0 }, "logging.max_size_mb"},
		{"crash age", func(c *Config) { c.Crash.MaxAgeDays = -1 }, "crash.max_age_days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidationErrors
			require.ErrorAs(t, err, &verrs)
			assert.Contains(t, verrs.Fields(), tt.field)
			assert.True(t, strings.Contains(err.Error(), tt.field))
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, ext := range SupportedFormats() {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "config."+ext)
			cfg := DefaultConfig()
			cfg.Remap.Mode = "passthrough"
			cfg.Logging.LogCharacters = true
			require.NoError(t, Save(cfg, path))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestLoggingConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Format = "json"
	cfg.Logging.Level = "error"
	cfg.Logging.LogCharacters = true

	lc := cfg.LoggingConfig()
	assert.Equal(t, logging.FormatJSON, lc.Format)
	assert.Equal(t, logging.LevelError, lc.Level)
	assert.True(t, lc.LogCharacters)
	assert.Equal(t, int64(10), lc.MaxSize)
}

func TestLoader_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(DefaultConfig(), path))

	l := NewLoader(path)
	_, err := l.Load()
	require.NoError(t, err)

	var gotOld, gotNew *Config
	l.OnChange(func(old, new *Config) { gotOld, gotNew = old, new })

	cfg := DefaultConfig()
	cfg.Remap.Mode = "passthrough"
	require.NoError(t, Save(cfg, path))
	require.NoError(t, l.Reload())

	require.NotNil(t, gotNew)
	assert.Equal(t, state.ModeActive, gotOld.Mode())
	assert.Equal(t, state.ModePassthrough, gotNew.Mode())
	assert.Same(t, gotNew, l.Config())

	// An invalid file keeps the previous configuration.
	require.NoError(t, os.WriteFile(path, []byte("[remap]\nmode = \"nope\"\n"), 0600))
	assert.Error(t, l.Reload())
	assert.Same(t, gotNew, l.Config())
}

func TestLoader_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(DefaultConfig(), path))

	l := NewLoader(path)
	_, err := l.Load()
	require.NoError(t, err)

	changed := make(chan state.OperationMode, 4)
	l.OnChange(func(_, new *Config) { changed <- new.Mode() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, l.Watch(ctx))
	defer l.Close()

	cfg := DefaultConfig()
	cfg.Remap.Mode = "passthrough"
	require.NoError(t, Save(cfg, path))

	select {
	case m := <-changed:
		assert.Equal(t, state.ModePassthrough, m)
	case err := <-l.Errors():
		t.Fatalf("watch error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
}

func TestLoader_WatchUsesSpawner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(DefaultConfig(), path))

	l := NewLoader(path)
	_, err := l.Load()
	require.NoError(t, err)
	l.OnChange(func(_, _ *Config) { panic("bad callback") })

	var (
		mu    sync.Mutex
		names []string
	)
	panics := make(chan any, 4)
	l.SetSpawner(func(name string, fn func()) {
		mu.Lock()
		names = append(names, name)
		mu.Unlock()
		go func() {
			defer func() {
				if r := recover(); r != nil {
					panics <- r
				}
			}()
			fn()
		}()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, l.Watch(ctx))
	defer l.Close()

	cfg := DefaultConfig()
	cfg.Remap.Mode = "passthrough"
	require.NoError(t, Save(cfg, path))

	select {
	case r := <-panics:
		assert.Equal(t, "bad callback", r)
	case <-time.After(5 * time.Second):
		t.Fatal("reload did not run through the spawner")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "config-watch", names[0])
	assert.Contains(t, names, "config-reload")
}
