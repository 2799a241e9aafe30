// Package lifecycle makes sure the keyboard hook never outlives a healthy
// process.
//
// A Guard is armed with the running interceptor. Every exit path that is
// not an orderly Stop (panic on a guarded goroutine, fatal pipeline error,
// repeated interrupt) goes through Fatal, which unregisters the hook
// before doing anything else, then records a crash report and terminates.
package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"ghostkeys/internal/logging"
)

// ExitFatal is the process exit code after Fatal.
const ExitFatal = 2

// NotifyTimeout bounds the user notification on the fatal path.
const NotifyTimeout = 250 * time.Millisecond

// Releaser unregisters a hook without coordination. interceptor.Interceptor
// satisfies it.
type Releaser interface {
	EmergencyRelease() error
}

// Notifier shows a message to the user. Failures are ignored.
type Notifier interface {
	Notify(title, body string) error
}

// Options configures a Guard.
type Options struct {
	Logger   *slog.Logger
	Crash    *logging.CrashHandler
	Notifier Notifier

	// Exit terminates the process. Defaults to os.Exit.
	Exit func(code int)

	// NotifyTimeout overrides the default notification bound.
	NotifyTimeout time.Duration
}

type releaserBox struct{ r Releaser }

// Guard owns the emergency release path.
type Guard struct {
	releaser atomic.Pointer[releaserBox]
	fatal    atomic.Bool

	log           *slog.Logger
	crash         *logging.CrashHandler
	notify        Notifier
	notifyTimeout time.Duration
	exit          func(int)

	cleanupMu sync.Mutex
	cleanups  []func()
}

// NewGuard creates a disarmed guard.
func NewGuard(opts Options) *Guard {
	g := &Guard{
		log:    opts.Logger,
		crash:  opts.Crash,
		notify: opts.Notifier,
		exit:   opts.Exit,

		notifyTimeout: opts.NotifyTimeout,
	}
	if g.notifyTimeout <= 0 {
		g.notifyTimeout = NotifyTimeout
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	if g.exit == nil {
		g.exit = os.Exit
	}
	return g
}

// Arm registers r for emergency release.
func (g *Guard) Arm(r Releaser) {
	g.releaser.Store(&releaserBox{r: r})
}

// Disarm forgets the releaser after an orderly shutdown.
func (g *Guard) Disarm() {
	g.releaser.Store(nil)
}

// Armed reports whether a releaser is registered.
func (g *Guard) Armed() bool {
	return g.releaser.Load() != nil
}

// OnExit registers fn to run on the fatal path after the hook is released
// and before the process exits, such as restoring the terminal. Functions
// run in reverse order of registration; a panic in one is logged and the
// rest still run.
func (g *Guard) OnExit(fn func()) {
	g.cleanupMu.Lock()
	g.cleanups = append(g.cleanups, fn)
	g.cleanupMu.Unlock()
}

func (g *Guard) runCleanups() {
	g.cleanupMu.Lock()
	fns := append([]func(){}, g.cleanups...)
	g.cleanupMu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		func() {
			defer func() {
				if r := recover(); r != nil {
					g.log.Error("exit cleanup panicked", "panic", r)
				}
			}()
			fns[i]()
		}()
	}
}

// notifyBounded tells the user without letting a stuck notification daemon
// hold up termination.
func (g *Guard) notifyBounded(title, body string) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { _ = recover() }()
		if err := g.notify.Notify(title, body); err != nil {
			g.log.Debug("fatal notification failed", "error", err)
		}
	}()

	timer := time.NewTimer(g.notifyTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		g.log.Warn("fatal notification timed out", "timeout", g.notifyTimeout)
	}
}

// Release unregisters the hook at most once and reports whether a hook was
// released.
func (g *Guard) Release() bool {
	box := g.releaser.Swap(nil)
	if box == nil {
		return false
	}
	if err := box.r.EmergencyRelease(); err != nil {
		g.log.Error("emergency hook release failed", "error", err)
		return false
	}
	return true
}

// Fatal releases the hook, records a crash report, tells the user and
// exits with ExitFatal. Only the first call does anything.
func (g *Guard) Fatal(cause error, context map[string]any) {
	g.die(logging.CrashFatal, cause, context)
}

// OnFatal adapts Fatal to interceptor.Options.OnFatal.
func (g *Guard) OnFatal(err error) {
	g.Fatal(err, map[string]any{"source": "hook"})
}

func (g *Guard) die(kind string, cause error, context map[string]any) {
	if !g.fatal.CompareAndSwap(false, true) {
		return
	}
	if cause == nil {
		cause = errors.New("unknown failure")
	}

	released := g.Release()
	g.log.Error("fatal error, shutting down", "kind", kind, "error", cause, "hook_released", released)

	if g.crash != nil {
		report := g.crash.NewReport(kind, cause.Error(), context)
		report.HookReleased = released
		if _, err := g.crash.Write(report); err != nil {
			g.log.Error("crash report not written", "error", err)
		}
	}
	g.runCleanups()
	if g.notify != nil {
		g.notifyBounded(logging.AppName+" stopped", "Keyboard remapping stopped after an error: "+cause.Error())
	}
	g.exit(ExitFatal)
}

// Fatalled reports whether Fatal ran.
func (g *Guard) Fatalled() bool { return g.fatal.Load() }

// Recover turns a panic in the calling goroutine into Fatal. Use as
// defer g.Recover("name").
func (g *Guard) Recover(name string) {
	if r := recover(); r != nil {
		g.die(logging.CrashPanic, fmt.Errorf("panic in %s: %v", name, r), map[string]any{"goroutine": name})
	}
}

// Run calls fn with panic protection.
func (g *Guard) Run(name string, fn func() error) error {
	defer g.Recover(name)
	return fn()
}

// Go runs fn on a new goroutine with panic protection.
func (g *Guard) Go(name string, fn func()) {
	go func() {
		defer g.Recover(name)
		fn()
	}()
}
