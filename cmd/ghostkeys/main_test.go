package main

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghostkeys/internal/interceptor"
	"ghostkeys/internal/mapper"
	"ghostkeys/internal/metrics"
	"ghostkeys/internal/state"
)

func scriptOptions() interceptor.Options {
	return interceptor.Options{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: metrics.NewPipeline(metrics.NewRegistry("test")),
	}
}

func TestRunScript(t *testing.T) {
	tests := []struct {
		name   string
		script string
		mode   state.OperationMode
		want   string
	}{
		{"accents and cedilla", "[a ' o ;", state.ModeActive, "áõç"},
		{"word", "a;'ao", state.ModeActive, "ação"},
		{"shifted accents", `{a "e`, state.ModeActive, "àê"},
		{"accent then space", "[ space", state.ModeActive, "´"},
		{"accent flushed at end", "[", state.ModeActive, "´"},
		{"accent timeout", "' wait a", state.ModeActive, "~a"},
		{"no combination", "[b", state.ModeActive, "´b"},
		{"accent then position key", "[;", state.ModeActive, "´ç"},
		{"brackets moved", `]\/?`, state.ModeActive, "[];:"},
		{"plain letters", "Hello space World", state.ModeActive, "Hello World"},
		{"passthrough", "[a;", state.ModePassthrough, "[a;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := runScript(tt.script, tt.mode, scriptOptions())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunScript_UnknownKey(t *testing.T) {
	_, err := runScript("a1", state.ModeActive, scriptOptions())
	assert.Error(t, err)
}

func TestUSChar(t *testing.T) {
	assert.Equal(t, 'a', usChar(mapper.KeyA, false))
	assert.Equal(t, 'A', usChar(mapper.KeyA, true))
	assert.Equal(t, ':', usChar(mapper.KeySemicolon, true))
	assert.Equal(t, ' ', usChar(mapper.KeySpace, true))
}

func TestPrintTables(t *testing.T) {
	var buf bytes.Buffer
	printTables(&buf, mapper.DefaultTables())

	out := buf.String()
	assert.Contains(t, out, "POSITION")
	assert.Contains(t, out, "ç")
	assert.Contains(t, out, "DEAD KEY")
	assert.Contains(t, out, "ã")
}
