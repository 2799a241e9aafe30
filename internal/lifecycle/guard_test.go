package lifecycle

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghostkeys/internal/logging"
)

type fakeHook struct {
	releases atomic.Int32
	err      error
}

func (f *fakeHook) EmergencyRelease() error {
	f.releases.Add(1)
	return f.err
}

type fakeNotifier struct {
	mu    sync.Mutex
	title string
	body  string
}

func (n *fakeNotifier) Notify(title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.title, n.body = title, body
	return nil
}

type exitRecorder struct {
	codes chan int
}

func newExitRecorder() *exitRecorder {
	return &exitRecorder{codes: make(chan int, 4)}
}

func (e *exitRecorder) exit(code int) { e.codes <- code }

func (e *exitRecorder) wait(t *testing.T) int {
	t.Helper()
	select {
	case code := <-e.codes:
		return code
	case <-time.After(2 * time.Second):
		t.Fatal("exit not called")
		return -1
	}
}

func testGuard(t *testing.T) (*Guard, *exitRecorder, *logging.CrashHandler, *fakeNotifier) {
	t.Helper()
	exits := newExitRecorder()
	crash := logging.NewCrashHandler(&logging.CrashHandlerConfig{
		CrashDir:  t.TempDir(),
		Version:   "test",
		Component: "ghostkeys-test",
	})
	notifier := &fakeNotifier{}
	g := NewGuard(Options{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Crash:    crash,
		Notifier: notifier,
		Exit:     exits.exit,
	})
	return g, exits, crash, notifier
}

func TestGuard_ArmRelease(t *testing.T) {
	g, _, _, _ := testGuard(t)
	hook := &fakeHook{}

	assert.False(t, g.Release(), "nothing armed")
	g.Arm(hook)
	assert.True(t, g.Armed())
	assert.True(t, g.Release())
	assert.False(t, g.Release(), "release happens once")
	assert.Equal(t, int32(1), hook.releases.Load())

	g.Arm(hook)
	g.Disarm()
	assert.False(t, g.Release())
	assert.Equal(t, int32(1), hook.releases.Load())
}

func TestGuard_ReleaseFailure(t *testing.T) {
	g, _, _, _ := testGuard(t)
	hook := &fakeHook{err: errors.New("refused")}
	g.Arm(hook)
	assert.False(t, g.Release())
	assert.False(t, g.Armed())
}

func TestGuard_Fatal(t *testing.T) {
	g, exits, crash, notifier := testGuard(t)
	hook := &fakeHook{}
	g.Arm(hook)

	g.Fatal(errors.New("mode flag poisoned"), map[string]any{"source": "test"})
	assert.Equal(t, ExitFatal, exits.wait(t))
	assert.True(t, g.Fatalled())
	assert.Equal(t, int32(1), hook.releases.Load())

	reports, err := crash.Reports()
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, logging.CrashFatal, reports[0].Kind)
	assert.Equal(t, "mode flag poisoned", reports[0].Cause)
	assert.True(t, reports[0].HookReleased)
	assert.Equal(t, "test", reports[0].Context["source"])

	notifier.mu.Lock()
	assert.Contains(t, notifier.body, "mode flag poisoned")
	notifier.mu.Unlock()

	// Only the first fatal acts.
	g.Fatal(errors.New("again"), nil)
	assert.Empty(t, exits.codes)
	reports, err = crash.Reports()
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}

func TestGuard_GoRecoversPanic(t *testing.T) {
	g, exits, crash, _ := testGuard(t)
	hook := &fakeHook{}
	g.Arm(hook)

	g.Go("worker", func() { panic("boom") })
	assert.Equal(t, ExitFatal, exits.wait(t))
	assert.Equal(t, int32(1), hook.releases.Load())

	reports, err := crash.Reports()
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, logging.CrashPanic, reports[0].Kind)
	assert.Contains(t, reports[0].Cause, "boom")
	assert.Equal(t, "worker", reports[0].Context["goroutine"])
}

func TestGuard_Run(t *testing.T) {
	g, exits, _, _ := testGuard(t)

	want := errors.New("plain error")
	assert.Equal(t, want, g.Run("ok", func() error { return want }))
	assert.False(t, g.Fatalled())

	assert.NoError(t, g.Run("panics", func() error { panic("bad") }))
	assert.Equal(t, ExitFatal, exits.wait(t))
}

func TestGuard_OnFatal(t *testing.T) {
	g, exits, crash, _ := testGuard(t)
	g.OnFatal(errors.New("hook failure"))
	assert.Equal(t, ExitFatal, exits.wait(t))

	reports, err := crash.Reports()
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.False(t, reports[0].HookReleased)
	assert.Equal(t, "hook", reports[0].Context["source"])
}

type stuckNotifier struct {
	unblock chan struct{}
}

func (n *stuckNotifier) Notify(string, string) error {
	<-n.unblock
	return nil
}

func TestGuard_FatalDoesNotWaitForStuckNotifier(t *testing.T) {
	exits := newExitRecorder()
	notifier := &stuckNotifier{unblock: make(chan struct{})}
	defer close(notifier.unblock)

	g := NewGuard(Options{
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Notifier:      notifier,
		Exit:          exits.exit,
		NotifyTimeout: 20 * time.Millisecond,
	})
	hook := &fakeHook{}
	g.Arm(hook)

	start := time.Now()
	go g.Fatal(errors.New("hook failure"), nil)
	assert.Equal(t, ExitFatal, exits.wait(t))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), hook.releases.Load())
}

func TestGuard_OnExitRunsBeforeExit(t *testing.T) {
	g, exits, _, _ := testGuard(t)
	hook := &fakeHook{}
	g.Arm(hook)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}
	g.OnExit(func() { record("first") })
	g.OnExit(func() { panic("cleanup failed") })
	g.OnExit(func() {
		record("restore terminal")
		assert.Equal(t, int32(1), hook.releases.Load(), "hook released before cleanups")
	})

	g.Fatal(errors.New("boom"), nil)
	assert.Equal(t, ExitFatal, exits.wait(t))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"restore terminal", "first"}, order)
}
