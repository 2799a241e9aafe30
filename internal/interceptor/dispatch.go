package interceptor

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"ghostkeys/internal/logging"
	"ghostkeys/internal/mapper"
	"ghostkeys/internal/metrics"
	"ghostkeys/internal/state"
)

// Verdict tells a backend what to do with the OS event.
type Verdict uint8

const (
	// Forward passes the event to the next hook.
	Forward Verdict = iota
	// Block swallows the event.
	Block
)

func (v Verdict) String() string {
	if v == Block {
		return "block"
	}
	return "forward"
}

// RawKey is a keyboard event translated by a backend.
type RawKey struct {
	// Code is the backend's native key code, used to pair a keyup with
	// the keydown it belongs to. Only the low 8 bits are significant.
	Code uint16

	// Key is the physical position, KeyOther when not remapped.
	Key mapper.Key

	// Shift is true when either shift key is held.
	Shift bool

	// Chord is true when Ctrl, Alt or the system key is held. Chords are
	// shortcuts and are never remapped.
	Chord bool

	// Injected is true when the OS reports the event as synthesized.
	Injected bool

	// Time is when the event happened.
	Time time.Time
}

// hookContext is the state owned by the hook thread. It is created on that
// thread when the hook starts and is only touched from it.
type hookContext struct {
	backend  string
	mapper   *mapper.Mapper
	modes    state.ModeSource
	injector Injector
	log      *slog.Logger
	metrics  *metrics.Pipeline
	onFatal  func(error)

	// emergency unregisters the hook from inside event processing after a
	// panic. Backends that recover outside the event path leave it nil.
	emergency func() error

	// injecting is the recursion flag: set while our own characters are
	// being synthesized.
	injecting bool

	lastMode state.OperationMode
	failed   bool

	// blocked marks keys whose keydown was swallowed so the matching keyup
	// is swallowed too.
	blocked [256]bool

	buf [2]rune
}

func newHookContext(backend string, modes state.ModeSource, inj Injector, opts Options) *hookContext {
	h := &hookContext{
		backend:  backend,
		mapper:   mapper.New(opts.MapperOptions...),
		modes:    modes,
		injector: inj,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		onFatal:  opts.OnFatal,
	}
	if m, err := modes.Mode(); err == nil {
		h.lastMode = m
	}
	return h
}

// keyDown runs the pipeline for one keydown.
func (h *hookContext) keyDown(ev RawKey) Verdict {
	start := time.Now()
	h.metrics.EventsTotal.Inc()

	if h.injecting || ev.Injected {
		h.metrics.RecursionSkipsTotal.Inc()
		return Forward
	}
	if h.failed {
		return Forward
	}

	mode, ok := h.observeMode()
	if !ok {
		return Forward
	}
	if mode == state.ModePassthrough {
		h.metrics.PassthroughTotal.Inc()
		return Forward
	}
	if ev.Key == mapper.KeyOther || ev.Chord {
		h.metrics.PassedTotal.Inc()
		return Forward
	}

	v := h.execute(h.mapper.ProcessKey(ev.Key, ev.Shift, ev.Time))
	if v == Block {
		h.blocked[uint8(ev.Code)] = true
	}
	h.metrics.ProcessingSeconds.Since(start)
	return v
}

// keyUp swallows the release of a key whose press was swallowed.
func (h *hookContext) keyUp(ev RawKey) Verdict {
	if h.injecting || ev.Injected {
		return Forward
	}
	idx := uint8(ev.Code)
	if h.blocked[idx] {
		h.blocked[idx] = false
		return Block
	}
	return Forward
}

// tick is the periodic housekeeping on the hook thread: it observes mode
// changes, flushes a timed-out accent and reports whether exit was
// requested.
func (h *hookContext) tick(now time.Time) (exit bool) {
	if h.modes.ShouldExit() {
		return true
	}
	if h.failed {
		return false
	}
	if _, ok := h.observeMode(); !ok {
		return false
	}
	if action, ok := h.mapper.CheckTimeout(now); ok {
		h.metrics.AccentTimeoutsTotal.Inc()
		h.execute(action)
	}
	return false
}

// observeMode reads the shared mode and resets the mapper when it changed
// since the last observation.
func (h *hookContext) observeMode() (state.OperationMode, bool) {
	mode, err := h.modes.Mode()
	if err != nil {
		h.fail(hookErr(h.backend, "read mode", ErrStatePoisoned, err))
		return 0, false
	}
	if mode != h.lastMode {
		h.mapper.Reset()
		h.lastMode = mode
		h.metrics.ModeChangesTotal.Inc()
		h.log.Debug("mode changed", "mode", mode.String())
	}
	return mode, true
}

func (h *hookContext) fail(err error) {
	if h.failed {
		return
	}
	h.failed = true
	h.log.Error("keyboard pipeline stopped", "error", err)
	h.onFatal(err)
}

func (h *hookContext) execute(a mapper.KeyAction) Verdict {
	switch a.Kind {
	case mapper.ActionPass:
		h.metrics.PassedTotal.Inc()
		return Forward
	case mapper.ActionSuppress:
		h.metrics.SuppressedTotal.Inc()
		return Block
	default:
		h.metrics.ReplacedTotal.Inc()
		h.inject(a)
		return Block
	}
}

// inject synthesizes the action's characters with the recursion flag set.
// A failure drops the keystroke; the original key stays blocked.
func (h *hookContext) inject(a mapper.KeyAction) {
	chars := a.AppendRunes(h.buf[:0])
	err := h.guardedInject(chars)
	if err != nil {
		h.metrics.InjectionFailuresTotal.Inc()
		h.log.Warn("dropped keystroke",
			"error", hookErr(h.backend, "inject", ErrInjection, err),
			logging.Chars(chars))
		return
	}
	h.metrics.InjectedRunesTotal.Add(uint64(len(chars)))
}

func (h *hookContext) guardedInject(chars []rune) (err error) {
	h.injecting = true
	defer func() {
		h.injecting = false
		if r := recover(); r != nil {
			err = fmt.Errorf("injector panic: %v", r)
		}
	}()
	return h.injector.Inject(chars)
}

// recovered handles a panic caught while processing an event: the pipeline
// stops forwarding through the mapper and the panic becomes fatal.
func (h *hookContext) recovered(r any, release func() error) {
	h.failed = true
	if release == nil {
		release = func() error { return nil }
	}
	hookPanic(h.backend, h.log, h.onFatal, r, release)
}

// hookPanic releases the hook, then reports a recovered hook-thread panic
// to onFatal. Call it from the deferred function that recovered.
func hookPanic(backend string, log *slog.Logger, onFatal func(error), r any, release func() error) {
	if err := release(); err != nil {
		log.Error("hook release after panic failed", "error", err)
	}
	err := hookErr(backend, "process", ErrHookPanic, fmt.Errorf("%v", r))
	log.Error("keyboard hook thread panicked", "error", err, "stack", string(debug.Stack()))
	onFatal(err)
}

// release clears per-run state when the hook stops.
func (h *hookContext) release() {
	h.mapper.Reset()
	h.blocked = [256]bool{}
}
