//go:build (linux || darwin) && cgo

package interceptor

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	hook "github.com/robotn/gohook"

	"ghostkeys/internal/logging"
	"ghostkeys/internal/mapper"
	"ghostkeys/internal/state"
)

const backendGohook = "gohook"

// libuiohook virtual key codes (set 1 scan codes).
var vcKeys = map[uint16]mapper.Key{
	0x1E: mapper.KeyA, 0x30: mapper.KeyB, 0x2E: mapper.KeyC, 0x20: mapper.KeyD,
	0x12: mapper.KeyE, 0x21: mapper.KeyF, 0x22: mapper.KeyG, 0x23: mapper.KeyH,
	0x17: mapper.KeyI, 0x24: mapper.KeyJ, 0x25: mapper.KeyK, 0x26: mapper.KeyL,
	0x32: mapper.KeyM, 0x31: mapper.KeyN, 0x18: mapper.KeyO, 0x19: mapper.KeyP,
	0x10: mapper.KeyQ, 0x13: mapper.KeyR, 0x1F: mapper.KeyS, 0x14: mapper.KeyT,
	0x16: mapper.KeyU, 0x2F: mapper.KeyV, 0x11: mapper.KeyW, 0x2D: mapper.KeyX,
	0x15: mapper.KeyY, 0x2C: mapper.KeyZ,

	0x39: mapper.KeySpace,
	0x27: mapper.KeySemicolon,
	0x28: mapper.KeyApostrophe,
	0x1A: mapper.KeyLeftBracket,
	0x1B: mapper.KeyRightBracket,
	0x2B: mapper.KeyBackslash,
	0x35: mapper.KeySlash,
}

const (
	maskShift = 1<<0 | 1<<4
	maskChord = 1<<1 | 1<<2 | 1<<3 | 1<<5 | 1<<6 | 1<<7
)

// gohookHook runs the pipeline on libuiohook events. libuiohook cannot
// swallow events, so this backend only observes: verdicts and would-be
// injections are logged at debug level. It exists for development on
// machines without the Windows hook.
type gohookHook struct {
	opts Options

	mu      sync.Mutex
	running atomic.Bool
	quit    chan struct{}
	done    chan struct{}
}

func newPlatform(opts Options) Interceptor {
	return &gohookHook{opts: opts}
}

func (g *gohookHook) Name() string { return backendGohook }

func (g *gohookHook) IsRunning() bool { return g.running.Load() }

func (g *gohookHook) Start(ctx context.Context, modes state.ModeSource) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running.Load() {
		return hookErr(g.Name(), "start", ErrAlreadyRunning, nil)
	}

	g.quit = make(chan struct{})
	g.done = make(chan struct{})
	ready := make(chan struct{})
	go g.run(ctx, modes, ready, g.quit, g.done)
	select {
	case <-ready:
	case <-g.done:
		return hookErr(g.Name(), "start", ErrHookInstall, errors.New("hook thread exited during start"))
	}

	g.opts.Metrics.HookStartsTotal.Inc()
	g.opts.Metrics.HookRunning.SetBool(true)
	g.opts.Logger.Warn("keyboard hook installed in observe-only mode", "backend", g.Name())
	return nil
}

func (g *gohookHook) run(ctx context.Context, modes state.ModeSource, ready, quit, done chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			hookPanic(g.Name(), g.opts.Logger, g.opts.OnFatal, r, g.EmergencyRelease)
		}
	}()

	log := g.opts.Logger
	h := newHookContext(g.Name(), modes, InjectorFunc(func(chars []rune) error {
		log.Debug("would inject", logging.Chars(chars))
		return nil
	}), g.opts)

	events := hook.Start()
	g.running.Store(true)
	close(ready)

	defer func() {
		h.release()
		g.release()
	}()

	ticker := time.NewTicker(g.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		case now := <-ticker.C:
			if h.tick(now) {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			g.dispatch(h, ev)
		}
	}
}

func (g *gohookHook) dispatch(h *hookContext, ev hook.Event) {
	key, ok := vcKeys[ev.Keycode]
	if !ok {
		key = mapper.KeyOther
	}
	raw := RawKey{
		Code:  ev.Keycode,
		Key:   key,
		Shift: ev.Mask&maskShift != 0,
		Chord: ev.Mask&maskChord != 0,
		Time:  ev.When,
	}
	if raw.Time.IsZero() {
		raw.Time = time.Now()
	}

	var v Verdict
	switch ev.Kind {
	case hook.KeyHold:
		v = h.keyDown(raw)
	case hook.KeyUp:
		v = h.keyUp(raw)
	default:
		return
	}
	if v == Block {
		g.opts.Logger.Debug("would block key", "key", key.String())
	}
}

func (g *gohookHook) release() {
	if g.running.Swap(false) {
		hook.End()
		g.opts.Metrics.HookRunning.SetBool(false)
	}
}

func (g *gohookHook) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.done == nil {
		return nil
	}
	select {
	case <-g.done:
		return nil
	default:
	}

	select {
	case <-g.quit:
	default:
		close(g.quit)
	}
	timer := time.NewTimer(g.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-g.done:
		g.opts.Logger.Info("keyboard hook released", "backend", g.Name())
		return nil
	case <-timer.C:
		g.opts.Logger.Warn("hook thread did not stop in time, releasing directly",
			"backend", g.Name(), "timeout", g.opts.StopTimeout)
		return g.EmergencyRelease()
	}
}

func (g *gohookHook) EmergencyRelease() error {
	g.release()
	return nil
}
