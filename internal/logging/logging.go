// Package logging provides structured logging with slog for ghostkeys.
//
// Features:
//   - JSON and text output formats
//   - Runtime level changes (config hot reload)
//   - Run IDs correlating log lines and crash reports
//   - Masking of typed characters unless explicitly enabled
//   - Size-based log rotation
//   - Platform-specific default paths
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// AppName is used for default paths and the default component attribute.
const AppName = "ghostkeys"

// Level represents a logging level.
type Level = slog.Level

// Log levels.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format represents the output format for logs.
type Format int

const (
	// FormatText outputs human-readable text logs.
	FormatText Format = iota
	// FormatJSON outputs JSON-structured logs.
	FormatJSON
)

// Attribute keys that carry typed characters. Their values are masked
// unless Config.LogCharacters is set.
const (
	KeyChars = "chars"
	KeyRune  = "rune"
)

const masked = "[MASKED]"

// Config holds the logging configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level Level

	// Format is the output format (text or JSON).
	Format Format

	// Output is "stdout", "stderr", "file", or "both" (stderr and file).
	Output string

	// FilePath is the log file used when Output includes a file.
	FilePath string

	// MaxSize is the size in megabytes at which the log file rotates.
	MaxSize int64

	// MaxBackups is the number of rotated files kept.
	MaxBackups int

	// Compress gzips rotated files.
	Compress bool

	// AddSource adds source file and line to log entries.
	AddSource bool

	// LogCharacters disables masking of typed characters. Only for
	// debugging a mapping problem on a trusted machine.
	LogCharacters bool

	// Component is the name of the component using this logger.
	Component string
}

// DefaultConfig returns a default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     "stderr",
		FilePath:   filepath.Join(StateDir(), AppName+".log"),
		MaxSize:    10,
		MaxBackups: 3,
		Compress:   true,
		Component:  AppName,
	}
}

// StateDir returns the platform-specific directory for logs and crash
// reports.
func StateDir() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Logs", AppName)
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, AppName, "logs")
	default:
		stateHome := os.Getenv("XDG_STATE_HOME")
		if stateHome == "" {
			homeDir, _ := os.UserHomeDir()
			stateHome = filepath.Join(homeDir, ".local", "state")
		}
		return filepath.Join(stateHome, AppName)
	}
}

// Logger wraps slog.Logger with a shared, adjustable level and the
// rotating file it may write to.
type Logger struct {
	*slog.Logger
	config  *Config
	level   *slog.LevelVar
	rotator *FileRotator
	runID   string
}

var (
	defaultLogger atomic.Pointer[Logger]
	defaultOnce   sync.Once
)

// Default returns the default global logger.
func Default() *Logger {
	defaultOnce.Do(func() {
		if defaultLogger.Load() != nil {
			return
		}
		l, err := New(DefaultConfig())
		if err != nil {
			l = &Logger{Logger: slog.Default(), config: DefaultConfig(), level: new(slog.LevelVar)}
		}
		defaultLogger.CompareAndSwap(nil, l)
	})
	return defaultLogger.Load()
}

// SetDefault sets the default global logger and slog's default.
func SetDefault(l *Logger) {
	defaultLogger.Store(l)
	slog.SetDefault(l.Logger)
}

// New creates a Logger with the given configuration.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Logger{config: cfg, level: new(slog.LevelVar)}
	l.level.Set(cfg.Level)

	w, err := l.openOutput()
	if err != nil {
		return nil, fmt.Errorf("setup writers: %w", err)
	}
	return l.build(w), nil
}

// NewWithWriter creates a Logger that writes to w, ignoring Output and
// FilePath. Used by tests and the simulate command.
func NewWithWriter(cfg *Config, w io.Writer) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	l := &Logger{config: cfg, level: new(slog.LevelVar)}
	l.level.Set(cfg.Level)
	return l.build(w)
}

func (l *Logger) build(w io.Writer) *Logger {
	showChars := l.config.LogCharacters
	opts := &slog.HandlerOptions{
		Level:     l.level,
		AddSource: l.config.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if !showChars && (a.Key == KeyChars || a.Key == KeyRune) {
				a.Value = slog.StringValue(masked)
			}
			return a
		},
	}

	var handler slog.Handler
	switch l.config.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	if l.config.Component != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("component", l.config.Component)})
	}
	l.Logger = slog.New(handler)
	return l
}

func (l *Logger) openOutput() (io.Writer, error) {
	switch strings.ToLower(l.config.Output) {
	case "stdout":
		return os.Stdout, nil
	case "file":
		r, err := NewFileRotator(l.config)
		if err != nil {
			return nil, err
		}
		l.rotator = r
		return r, nil
	case "both":
		r, err := NewFileRotator(l.config)
		if err != nil {
			return nil, err
		}
		l.rotator = r
		return io.MultiWriter(os.Stderr, r), nil
	default:
		return os.Stderr, nil
	}
}

func (l *Logger) derive(sl *slog.Logger) *Logger {
	return &Logger{
		Logger:  sl,
		config:  l.config,
		level:   l.level,
		rotator: l.rotator,
		runID:   l.runID,
	}
}

// WithComponent returns a logger with a different component name. It
// shares the level and output of l.
func (l *Logger) WithComponent(name string) *Logger {
	return l.derive(l.Logger.With(slog.String("component", name)))
}

// WithRunID returns a logger tagged with id.
func (l *Logger) WithRunID(id string) *Logger {
	d := l.derive(l.Logger.With(slog.String("run_id", id)))
	d.runID = id
	return d
}

// RunID returns the run ID attached with WithRunID, if any.
func (l *Logger) RunID() string { return l.runID }

// NewRunID returns a fresh random run ID.
func NewRunID() string {
	return uuid.NewString()
}

// SetLevel changes the minimum level of l and every logger derived from it.
func (l *Logger) SetLevel(level Level) {
	l.level.Set(level)
}

// GetLevel returns the current minimum level.
func (l *Logger) GetLevel() Level {
	return l.level.Level()
}

// Config returns the configuration l was built from.
func (l *Logger) Config() *Config { return l.config }

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

// Sync flushes the log file, if any.
func (l *Logger) Sync() error {
	if l.rotator != nil {
		return l.rotator.Sync()
	}
	return nil
}

// Chars returns an attribute holding typed characters. The value is masked
// unless the logger was built with LogCharacters.
func Chars(r []rune) slog.Attr {
	return slog.String(KeyChars, string(r))
}

// Convenience functions for the default logger.

// Debug logs at debug level using the default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }

// Info logs at info level using the default logger.
func Info(msg string, args ...any) { Default().Info(msg, args...) }

// Warn logs at warn level using the default logger.
func Warn(msg string, args ...any) { Default().Warn(msg, args...) }

// Error logs at error level using the default logger.
func Error(msg string, args ...any) { Default().Error(msg, args...) }

// ErrorContext logs at error level with context.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	Default().ErrorContext(ctx, msg, args...)
}

// ParseLevel parses a string into a log level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// LevelString returns the string representation of a log level.
func LevelString(level Level) string {
	switch level {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseFormat parses "text" or "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format: %s", s)
	}
}
