//go:build unix

package lifecycle

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"ghostkeys/internal/state"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, sigExit, classify(unix.SIGINT))
	assert.Equal(t, sigExit, classify(unix.SIGTERM))
	assert.Equal(t, sigToggle, classify(unix.SIGUSR1))
	assert.Equal(t, sigReload, classify(unix.SIGHUP))
	assert.Equal(t, sigIgnore, classify(unix.SIGUSR2))
}

func TestWatchSignals(t *testing.T) {
	g, exits, _, _ := testGuard(t)
	modes := state.New(state.ModeActive)

	var toggles, reloads atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	WatchSignals(ctx, g, modes, SignalHandlers{
		Toggle: func() { toggles.Add(1) },
		Reload: func() { reloads.Add(1) },
	}, nil)

	pid := os.Getpid()
	require.NoError(t, unix.Kill(pid, unix.SIGUSR1))
	require.Eventually(t, func() bool { return toggles.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, unix.Kill(pid, unix.SIGHUP))
	require.Eventually(t, func() bool { return reloads.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, unix.Kill(pid, unix.SIGTERM))
	require.Eventually(t, modes.ShouldExit, 2*time.Second, 5*time.Millisecond)
	assert.False(t, g.Fatalled())

	// A second terminate while exiting escalates.
	require.NoError(t, unix.Kill(pid, unix.SIGTERM))
	assert.Equal(t, ExitFatal, exits.wait(t))
}
