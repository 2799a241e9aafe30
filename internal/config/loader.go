package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// DebounceDelay coalesces bursts of file events into one reload.
const DebounceDelay = 100 * time.Millisecond

// Load reads path (defaults when it does not exist), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := decode(path, data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err == nil {
			return nil
		}
		if err := json.Unmarshal(data, cfg); err == nil {
			return nil
		}
		if err := yaml.Unmarshal(data, cfg); err == nil {
			return nil
		}
		return errors.New("parse config: unable to parse config file (tried TOML, JSON, YAML)")
	}
	return nil
}

// Encode writes cfg to w as format ("toml", "json", "yaml" or "yml").
func Encode(cfg *Config, w io.Writer, format string) error {
	var err error
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		err = enc.Encode(cfg)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		err = enc.Encode(cfg)
		if err == nil {
			err = enc.Close()
		}
	case "toml", "":
		if _, err = io.WriteString(w, "# ghostkeys configuration\n\n"); err == nil {
			err = toml.NewEncoder(w).Encode(cfg)
		}
	default:
		return fmt.Errorf("encode config: unsupported format %q", format)
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// Save writes cfg to path in the format implied by its extension (TOML by
// default), creating the directory if needed.
func Save(cfg *Config, path string) error {
	format := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if format != "json" && format != "yaml" && format != "yml" {
		format = "toml"
	}
	var buf bytes.Buffer
	if err := Encode(cfg, &buf, format); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Spawner starts fn on a new goroutine under name. lifecycle.Guard.Go
// satisfies it.
type Spawner func(name string, fn func())

func plainSpawn(_ string, fn func()) { go fn() }

// Loader holds the current configuration and reloads it when the file
// changes on disk.
type Loader struct {
	path  string
	spawn Spawner

	mu       sync.RWMutex
	config   *Config
	onChange []func(old, new *Config)

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
	errChan chan error
}

// NewLoader creates a loader for path.
func NewLoader(path string) *Loader {
	return &Loader{
		path:    path,
		spawn:   plainSpawn,
		errChan: make(chan error, 1),
	}
}

// SetSpawner routes the watch loop and debounced reloads through sp, so a
// panic in an OnChange callback reaches the process fault boundary. Call
// before Watch.
func (l *Loader) SetSpawner(sp Spawner) {
	if sp == nil {
		sp = plainSpawn
	}
	l.spawn = sp
}

// Path returns the watched file.
func (l *Loader) Path() string { return l.path }

// Load reads the configuration and makes it current.
func (l *Loader) Load() (*Config, error) {
	cfg, err := Load(l.path)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Config returns the current configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// OnChange registers cb to run after every successful reload.
func (l *Loader) OnChange(cb func(old, new *Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, cb)
}

// Errors reports reload failures. A failed reload keeps the previous
// configuration.
func (l *Loader) Errors() <-chan error {
	return l.errChan
}

// Watch starts watching the configuration file until ctx is done or Close
// is called. The parent directory is watched so editors that replace the
// file are handled.
func (l *Loader) Watch(ctx context.Context) error {
	if l.path == "" {
		return errors.New("config: no file to watch")
	}
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	l.watcher = watcher
	l.cancel = cancel
	l.done = make(chan struct{})
	l.spawn("config-watch", func() { l.watchLoop(ctx) })
	return nil
}

func (l *Loader) watchLoop(ctx context.Context) {
	defer close(l.done)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	name := filepath.Base(l.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(DebounceDelay, func() {
				l.spawn("config-reload", func() {
					if err := l.Reload(); err != nil {
						l.report(err)
					}
				})
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.report(err)
		}
	}
}

func (l *Loader) report(err error) {
	select {
	case l.errChan <- err:
	default:
	}
}

// Reload re-reads the file now. Callbacks run only when the new
// configuration is valid.
func (l *Loader) Reload() error {
	newCfg, err := Load(l.path)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	l.mu.Lock()
	old := l.config
	l.config = newCfg
	callbacks := make([]func(old, new *Config), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()

	if old == nil {
		old = DefaultConfig()
	}
	for _, cb := range callbacks {
		cb(old, newCfg)
	}
	return nil
}

// Close stops the watcher.
func (l *Loader) Close() error {
	if l.cancel == nil {
		return nil
	}
	l.cancel()
	err := l.watcher.Close()
	<-l.done
	return err
}
