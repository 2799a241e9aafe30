// Package interceptor owns the OS keyboard hook.
//
// Exactly one backend is active per process. Every backend runs the same
// pipeline on a single dedicated OS thread:
//
//	OS event -> recursion guard -> mode check -> mapper -> suppress/inject
//
// The Mapper and the recursion flag live in a context created on that
// thread and never leave it; the only shared state is the mode flag, read
// with a single atomic load per event.
//
// Platform support:
//   - Windows: WH_KEYBOARD_LL hook and SendInput (pure Go, no cgo)
//   - Linux/macOS with cgo: observe-only development backend on gohook
//   - everywhere: the in-process Simulated backend used by tests
package interceptor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ghostkeys/internal/mapper"
	"ghostkeys/internal/metrics"
	"ghostkeys/internal/state"
)

// Backend names accepted by New.
const (
	BackendAuto      = "auto"
	BackendSimulated = "simulated"
)

// Default timings.
const (
	DefaultTick        = 25 * time.Millisecond
	DefaultStopTimeout = 250 * time.Millisecond
)

// Interceptor is the capability set every backend implements.
type Interceptor interface {
	// Start installs the hook and begins processing on a dedicated thread.
	// It returns once the hook is installed or installation failed.
	Start(ctx context.Context, modes state.ModeSource) error

	// Stop uninstalls the hook. It is idempotent and returns within the
	// configured stop timeout.
	Stop() error

	// IsRunning reports whether the hook is installed.
	IsRunning() bool

	// EmergencyRelease unregisters the hook without coordinating with the
	// hook thread. It takes no locks and is safe from a crashing goroutine.
	EmergencyRelease() error

	// Name identifies the backend.
	Name() string
}

// Injector synthesizes characters into the OS input stream.
type Injector interface {
	Inject(chars []rune) error
}

// InjectorFunc adapts a function to Injector.
type InjectorFunc func(chars []rune) error

func (f InjectorFunc) Inject(chars []rune) error { return f(chars) }

// Options configures a backend.
type Options struct {
	// Logger receives hook lifecycle events and failures. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// Metrics records per-event counters. Defaults to a pipeline on
	// metrics.Default().
	Metrics *metrics.Pipeline

	// Tick is the housekeeping period of the hook thread.
	Tick time.Duration

	// StopTimeout bounds Stop.
	StopTimeout time.Duration

	// MapperOptions are passed to mapper.New when the hook starts.
	MapperOptions []mapper.Option

	// OnFatal is called on the hook thread when processing cannot
	// continue (poisoned state). The lifecycle guard releases the hook and
	// terminates the process.
	OnFatal func(error)
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewPipeline(nil)
	}
	if o.Tick <= 0 {
		o.Tick = DefaultTick
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
	if o.OnFatal == nil {
		o.OnFatal = func(error) {}
	}
	return o
}

// New returns the interceptor for backend: BackendAuto selects the
// platform hook, BackendSimulated the in-process backend.
func New(backend string, opts Options) (Interceptor, error) {
	switch backend {
	case BackendAuto, "":
		return newPlatform(opts.withDefaults()), nil
	case BackendSimulated:
		return NewSimulated(opts), nil
	}
	return nil, fmt.Errorf("interceptor: unknown backend %q", backend)
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Events            uint64
	Passed            uint64
	Suppressed        uint64
	Replaced          uint64
	InjectedRunes     uint64
	InjectionFailures uint64
	RecursionSkips    uint64
	Passthrough       uint64
	AccentTimeouts    uint64
}

// StatsFrom reads the pipeline counters.
func StatsFrom(p *metrics.Pipeline) Stats {
	return Stats{
		Events:            p.EventsTotal.Value(),
		Passed:            p.PassedTotal.Value(),
		Suppressed:        p.SuppressedTotal.Value(),
		Replaced:          p.ReplacedTotal.Value(),
		InjectedRunes:     p.InjectedRunesTotal.Value(),
		InjectionFailures: p.InjectionFailuresTotal.Value(),
		RecursionSkips:    p.RecursionSkipsTotal.Value(),
		Passthrough:       p.PassthroughTotal.Value(),
		AccentTimeouts:    p.AccentTimeoutsTotal.Value(),
	}
}
