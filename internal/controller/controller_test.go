package controller

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghostkeys/internal/state"
)

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordingNotifier) Notify(title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestToggler(t *testing.T) {
	modes := state.New(state.ModeActive)
	n := &recordingNotifier{}
	tg := NewToggler(modes, quietLogger(), n)

	tg.Toggle()
	m, err := modes.Mode()
	require.NoError(t, err)
	assert.Equal(t, state.ModePassthrough, m)

	tg.Set(state.ModePassthrough)
	tg.Set(state.ModeActive)

	assert.Equal(t, []string{"ghostkeys: passthrough", "ghostkeys: active"}, n.titles)
}

func waitDone(t *testing.T, c *Console) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("console did not stop")
	}
}

func TestConsole_Commands(t *testing.T) {
	modes := state.New(state.ModeActive)
	var out bytes.Buffer
	c := NewConsole(modes, NewToggler(modes, quietLogger(), nil), ConsoleOptions{
		Input:  strings.NewReader("xpsPq"),
		Output: &out,
	})

	require.NoError(t, c.Start())
	waitDone(t, c)
	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())

	assert.True(t, modes.ShouldExit())
	m, err := modes.Mode()
	require.NoError(t, err)
	assert.Equal(t, state.ModeActive, m, "toggled twice")

	lines := strings.Split(strings.TrimSpace(out.String()), "\r\n")
	assert.Equal(t, []string{
		"[p] toggle  [s] status  [q] quit",
		"mode: active",
		"mode: passthrough",
		"mode: passthrough",
		"mode: active",
		"quitting",
	}, lines)
}

func TestConsole_StatusLines(t *testing.T) {
	modes := state.New(state.ModeActive)
	var out bytes.Buffer
	c := NewConsole(modes, NewToggler(modes, quietLogger(), nil), ConsoleOptions{
		Input:  strings.NewReader("sq"),
		Output: &out,
		Status: func() []string { return []string{"health: healthy", "  hook: healthy"} },
	})

	require.NoError(t, c.Start())
	waitDone(t, c)
	require.NoError(t, c.Stop())

	lines := strings.Split(strings.TrimSpace(out.String()), "\r\n")
	assert.Equal(t, []string{
		"[p] toggle  [s] status  [q] quit",
		"mode: active",
		"mode: active",
		"health: healthy",
		"  hook: healthy",
		"quitting",
	}, lines)
}

func TestConsole_ReadLoopRunsUnderSpawner(t *testing.T) {
	modes := state.New(state.ModeActive)
	panics := make(chan any, 1)
	var spawned string
	c := NewConsole(modes, NewToggler(modes, quietLogger(), nil), ConsoleOptions{
		Input:  strings.NewReader("s"),
		Status: func() []string { panic("status failed") },
		Go: func(name string, fn func()) {
			spawned = name
			go func() {
				defer func() { panics <- recover() }()
				fn()
			}()
		},
	})

	require.NoError(t, c.Start())
	assert.Equal(t, "console", spawned)
	select {
	case r := <-panics:
		assert.Equal(t, "status failed", r)
	case <-time.After(2 * time.Second):
		t.Fatal("panic did not reach the spawner")
	}
	require.NoError(t, c.Stop())
}

func TestConsole_CtrlC(t *testing.T) {
	modes := state.New(state.ModeActive)
	c := NewConsole(modes, NewToggler(modes, quietLogger(), nil), ConsoleOptions{
		Input: strings.NewReader("\x03p"),
	})
	require.NoError(t, c.Start())
	waitDone(t, c)

	assert.True(t, modes.ShouldExit())
	m, _ := modes.Mode()
	assert.Equal(t, state.ModeActive, m, "keys after quit are ignored")
}

func TestConsole_EOF(t *testing.T) {
	modes := state.New(state.ModeActive)
	c := NewConsole(modes, NewToggler(modes, quietLogger(), nil), ConsoleOptions{
		Input:          strings.NewReader(""),
		ManageTerminal: true,
	})
	require.NoError(t, c.Start())
	waitDone(t, c)
	assert.False(t, modes.ShouldExit())

	assert.Error(t, c.Start(), "still running until stopped")
	require.NoError(t, c.Stop())
}

func TestConsole_NoInput(t *testing.T) {
	modes := state.New(state.ModeActive)
	c := NewConsole(modes, NewToggler(modes, quietLogger(), nil), ConsoleOptions{})
	assert.Error(t, c.Start())
}
