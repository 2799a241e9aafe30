package logging

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// Crash kinds.
const (
	CrashPanic = "panic"
	CrashFatal = "fatal"
)

// CrashReport is written as JSON to the crash directory when the process
// dies from a panic or a fatal error.
type CrashReport struct {
	Timestamp    time.Time      `json:"timestamp"`
	Kind         string         `json:"kind"`
	Version      string         `json:"version,omitempty"`
	Component    string         `json:"component"`
	RunID        string         `json:"run_id,omitempty"`
	GOOS         string         `json:"goos"`
	GOARCH       string         `json:"goarch"`
	GoVersion    string         `json:"go_version"`
	NumGoroutine int            `json:"num_goroutine"`
	Cause        string         `json:"cause"`
	StackTrace   string         `json:"stack_trace"`
	HookReleased bool           `json:"hook_released"`
	Context      map[string]any `json:"context,omitempty"`
}

// CrashHandlerConfig configures the crash handler.
type CrashHandlerConfig struct {
	// CrashDir is the directory crash reports are written to.
	CrashDir string

	// Version is the application version.
	Version string

	// Component is the component name.
	Component string

	// OnCrash is called after the report is written.
	OnCrash func(CrashReport)
}

// DefaultCrashDir returns the platform-specific default crash directory.
func DefaultCrashDir() string {
	return filepath.Join(StateDir(), "crashes")
}

// CrashHandler writes crash reports.
type CrashHandler struct {
	mu        sync.Mutex
	crashDir  string
	version   string
	component string
	runID     string
	onCrash   func(CrashReport)
}

// NewCrashHandler creates a CrashHandler. The crash directory is created
// lazily on the first report.
func NewCrashHandler(cfg *CrashHandlerConfig) *CrashHandler {
	if cfg == nil {
		cfg = &CrashHandlerConfig{}
	}
	dir := cfg.CrashDir
	if dir == "" {
		dir = DefaultCrashDir()
	}
	component := cfg.Component
	if component == "" {
		component = AppName
	}
	return &CrashHandler{
		crashDir:  dir,
		version:   cfg.Version,
		component: component,
		onCrash:   cfg.OnCrash,
	}
}

// Dir returns the crash directory.
func (h *CrashHandler) Dir() string { return h.crashDir }

// SetRunID tags future reports with id.
func (h *CrashHandler) SetRunID(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runID = id
}

// RecoverGoroutine records a panic in the calling goroutine and swallows
// it. Usage: go func() { defer h.RecoverGoroutine(); ... }()
func (h *CrashHandler) RecoverGoroutine() {
	if r := recover(); r != nil {
		h.HandlePanic(r, map[string]any{"type": "goroutine"})
	}
}

// HandlePanic writes a panic crash report and returns its path.
func (h *CrashHandler) HandlePanic(panicValue any, contextInfo map[string]any) string {
	report := h.NewReport(CrashPanic, fmt.Sprint(panicValue), contextInfo)
	path, _ := h.Write(report)
	return path
}

// NewReport builds a report for the calling goroutine without writing it.
func (h *CrashHandler) NewReport(kind, cause string, contextInfo map[string]any) CrashReport {
	h.mu.Lock()
	runID := h.runID
	h.mu.Unlock()

	return CrashReport{
		Timestamp:    time.Now().UTC(),
		Kind:         kind,
		Version:      h.version,
		Component:    h.component,
		RunID:        runID,
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		Cause:        cause,
		StackTrace:   string(debug.Stack()),
		Context:      contextInfo,
	}
}

// Write stores report in the crash directory, echoes a summary to stderr
// and runs the OnCrash callback.
func (h *CrashHandler) Write(report CrashReport) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	path, err := h.writeFile(report)

	fmt.Fprintf(os.Stderr, "\n=== %s CRASH REPORT ===\n", h.component)
	fmt.Fprintf(os.Stderr, "Time: %s\n", report.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(os.Stderr, "%s: %s\n", report.Kind, report.Cause)
	fmt.Fprintf(os.Stderr, "Keyboard hook released: %t\n", report.HookReleased)
	if err == nil {
		fmt.Fprintf(os.Stderr, "Report: %s\n", path)
	}

	if h.onCrash != nil {
		h.onCrash(report)
	}
	return path, err
}

func (h *CrashHandler) writeFile(report CrashReport) (string, error) {
	if err := os.MkdirAll(h.crashDir, 0750); err != nil {
		return "", fmt.Errorf("create crash dir: %w", err)
	}
	name := fmt.Sprintf("crash-%s-%s.json", report.Component, report.Timestamp.Format("20060102-150405.000000"))
	path := filepath.Join(h.crashDir, name)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal crash report: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("write crash report: %w", err)
	}
	return path, nil
}

// Reports reads every crash report in the crash directory. Unreadable
// files are skipped.
func (h *CrashHandler) Reports() ([]CrashReport, error) {
	files, err := filepath.Glob(filepath.Join(h.crashDir, "crash-*.json"))
	if err != nil {
		return nil, err
	}
	reports := make([]CrashReport, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		var report CrashReport
		if err := json.Unmarshal(data, &report); err != nil {
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// CleanupOldReports removes reports older than maxAge.
func (h *CrashHandler) CleanupOldReports(maxAge time.Duration) error {
	files, err := filepath.Glob(filepath.Join(h.crashDir, "crash-*.json"))
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	var errs []error
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(file); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
