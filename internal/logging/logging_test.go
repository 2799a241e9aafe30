package logging

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"invalid", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expected, level)
			assert.Equal(t, strings.TrimSuffix(strings.ToLower(test.input), "ing"), LevelString(level))
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func newJSONLogger(t *testing.T, cfg *Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.Format = FormatJSON
	return NewWithWriter(cfg, &buf), &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestLogger_MasksCharacters(t *testing.T) {
	l, buf := newJSONLogger(t, nil)
	l.Info("injected", Chars([]rune("ção")), KeyRune, "x")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, masked, lines[0][KeyChars])
	assert.Equal(t, masked, lines[0][KeyRune])
	assert.Equal(t, AppName, lines[0]["component"])
}

func TestLogger_LogCharactersOptIn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogCharacters = true
	l, buf := newJSONLogger(t, cfg)
	l.Info("injected", Chars([]rune("é")))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "é", lines[0][KeyChars])
}

func TestLogger_SetLevelPropagates(t *testing.T) {
	l, buf := newJSONLogger(t, nil)
	child := l.WithComponent("interceptor")

	child.Debug("hidden")
	assert.Empty(t, buf.String())

	l.SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, child.GetLevel())
	child.Debug("shown")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "interceptor", lines[0]["component"])
}

func TestLogger_WithRunID(t *testing.T) {
	l, buf := newJSONLogger(t, nil)
	id := NewRunID()
	rl := l.WithRunID(id)
	assert.Equal(t, id, rl.RunID())
	assert.Equal(t, id, rl.WithComponent("x").RunID())

	rl.Info("hello")
	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, id, lines[0]["run_id"])
	assert.NotEqual(t, id, NewRunID())
}

func TestNew_FileOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = filepath.Join(dir, "logs", "gk.log")

	l, err := New(cfg)
	require.NoError(t, err)
	l.Info("to file")
	require.NoError(t, l.Sync())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(cfg.FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestSetDefault(t *testing.T) {
	orig := Default()
	t.Cleanup(func() { SetDefault(orig) })

	l, buf := newJSONLogger(t, nil)
	SetDefault(l)
	Warn("via default")
	assert.Contains(t, buf.String(), "via default")
}

// =============================================================================
// Rotation
// =============================================================================

func TestFileRotator_RotatesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		FilePath:   filepath.Join(dir, "gk.log"),
		MaxSize:    1,
		MaxBackups: 2,
		Compress:   true,
	}
	r, err := NewFileRotator(cfg)
	require.NoError(t, err)

	chunk := bytes.Repeat([]byte("x"), 700*1024)
	for i := 0; i < 4; i++ {
		_, err := r.Write(chunk)
		require.NoError(t, err)
		// Distinct timestamp suffixes.
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, r.Close())

	backups, err := r.Backups()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), 2)
	require.NotEmpty(t, backups)

	last := backups[len(backups)-1]
	require.True(t, strings.HasSuffix(last, ".gz"), last)
	f, err := os.Open(last)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	n, err := io.Copy(io.Discard, gz)
	require.NoError(t, err)
	assert.Equal(t, int64(len(chunk)), n)

	info, err := os.Stat(cfg.FilePath)
	require.NoError(t, err)
	assert.Equal(t, int64(len(chunk)), info.Size())
}

// =============================================================================
// Crash reports
// =============================================================================

func compileCrashSchema(t *testing.T) *jsonschema.Schema {
	t.Helper()
	path := filepath.Join("testdata", "crash_report.schema.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	require.NoError(t, compiler.AddResource(path, bytes.NewReader(data)))
	schema, err := compiler.Compile(path)
	require.NoError(t, err)
	return schema
}

func TestCrashHandler_ReportMatchesSchema(t *testing.T) {
	dir := t.TempDir()
	var seen []CrashReport
	h := NewCrashHandler(&CrashHandlerConfig{
		CrashDir:  dir,
		Version:   "1.2.3",
		Component: "ghostkeys",
		OnCrash:   func(r CrashReport) { seen = append(seen, r) },
	})
	h.SetRunID(NewRunID())

	report := h.NewReport(CrashFatal, "interceptor: mode value poisoned", map[string]any{"backend": "simulated"})
	report.HookReleased = true
	path, err := h.Write(report)
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.True(t, seen[0].HookReleased)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var instance any
	require.NoError(t, json.Unmarshal(data, &instance))
	assert.NoError(t, compileCrashSchema(t).Validate(instance))
}

func TestCrashHandler_RecoverGoroutine(t *testing.T) {
	dir := t.TempDir()
	h := NewCrashHandler(&CrashHandlerConfig{CrashDir: dir})

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer h.RecoverGoroutine()
		panic("boom")
	}()
	<-done

	reports, err := h.Reports()
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, CrashPanic, reports[0].Kind)
	assert.Equal(t, "boom", reports[0].Cause)
	assert.Equal(t, "goroutine", reports[0].Context["type"])
	assert.Contains(t, reports[0].StackTrace, "RecoverGoroutine")

	var instance any
	raw, err := json.Marshal(reports[0])
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &instance))
	assert.NoError(t, compileCrashSchema(t).Validate(instance))

	require.NoError(t, h.CleanupOldReports(0))
	reports, err = h.Reports()
	require.NoError(t, err)
	assert.Empty(t, reports)
}
