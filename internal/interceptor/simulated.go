package interceptor

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"ghostkeys/internal/mapper"
	"ghostkeys/internal/state"
)

// Simulated is an in-process backend. Key events are delivered by calling
// KeyDown and KeyUp; injected characters are recorded and also fed back
// through the hook the way the OS delivers synthesized input, so the
// recursion guard is exercised.
//
// Accent timeouts only advance when Tick is called.
type Simulated struct {
	opts Options

	mu  sync.Mutex // serializes Start and Stop
	run atomic.Pointer[simRun]

	failInject  atomic.Bool
	injectDelay atomic.Int64

	outMu  sync.Mutex
	output []rune
}

// simRun is one Start..Stop cycle. A hook thread abandoned by Stop keeps its
// own run and cannot touch the next one.
type simRun struct {
	reqs    chan simRequest
	quit    chan struct{}
	done    chan struct{}
	running atomic.Bool
}

type simOp uint8

const (
	simKeyDown simOp = iota
	simKeyUp
	simTick
)

type simRequest struct {
	op    simOp
	ev    RawKey
	reply chan Verdict
}

// NewSimulated creates a stopped simulated backend.
func NewSimulated(opts Options) *Simulated {
	return &Simulated{opts: opts.withDefaults()}
}

func (s *Simulated) Name() string { return BackendSimulated }

// Start spawns the hook thread.
func (s *Simulated) Start(ctx context.Context, modes state.ModeSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.IsRunning() {
		return hookErr(s.Name(), "start", ErrAlreadyRunning, nil)
	}
	if modes == nil {
		return hookErr(s.Name(), "start", ErrHookInstall, errors.New("no mode source"))
	}

	run := &simRun{
		reqs: make(chan simRequest),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	s.run.Store(run)
	ready := make(chan struct{})

	go s.loop(ctx, modes, run, ready)
	select {
	case <-ready:
	case <-run.done:
		return hookErr(s.Name(), "start", ErrHookInstall, errors.New("hook thread exited during start"))
	}

	s.opts.Metrics.HookStartsTotal.Inc()
	s.opts.Metrics.HookRunning.SetBool(true)
	s.opts.Logger.Info("keyboard hook installed", "backend", s.Name())
	return nil
}

func (s *Simulated) loop(ctx context.Context, modes state.ModeSource, run *simRun, ready chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(run.done)
	defer func() {
		if r := recover(); r != nil {
			hookPanic(s.Name(), s.opts.Logger, s.opts.OnFatal, r, func() error {
				s.release(run)
				return nil
			})
		}
	}()

	var h *hookContext
	h = newHookContext(s.Name(), modes, InjectorFunc(func(chars []rune) error {
		return s.inject(h, chars)
	}), s.opts)
	defer func() {
		h.release()
		s.release(run)
	}()

	run.running.Store(true)
	close(ready)

	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-run.quit:
			return
		case <-ticker.C:
			if modes.ShouldExit() {
				return
			}
		case req := <-run.reqs:
			switch req.op {
			case simKeyDown:
				req.reply <- h.keyDown(req.ev)
			case simKeyUp:
				req.reply <- h.keyUp(req.ev)
			case simTick:
				if h.tick(req.ev.Time) {
					req.reply <- Forward
					return
				}
				req.reply <- Forward
			}
		}
	}
}

// release marks run as unhooked. The gauge only follows the current run.
func (s *Simulated) release(run *simRun) {
	if run.running.Swap(false) && s.run.Load() == run {
		s.opts.Metrics.HookRunning.SetBool(false)
	}
}

// inject records chars, then redelivers each one as a keydown on the hook
// thread. Those nested events must be forwarded by the recursion guard.
func (s *Simulated) inject(h *hookContext, chars []rune) error {
	if d := time.Duration(s.injectDelay.Load()); d > 0 {
		time.Sleep(d)
	}
	if s.failInject.Load() {
		return errors.New("simulated injection failure")
	}

	s.outMu.Lock()
	s.output = append(s.output, chars...)
	s.outMu.Unlock()

	for _, r := range chars {
		k, shift, err := mapper.ParseKey(string(r))
		if err != nil {
			k, shift = mapper.KeyOther, false
		}
		ev := RawKey{Code: uint16(k), Key: k, Shift: shift, Time: time.Now()}
		h.keyDown(ev)
		h.keyUp(ev)
	}
	return nil
}

func (s *Simulated) send(op simOp, ev RawKey) Verdict {
	run := s.run.Load()
	if run == nil || !run.running.Load() {
		return Forward
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.Code == 0 {
		ev.Code = uint16(ev.Key)
	}
	reply := make(chan Verdict, 1)
	select {
	case run.reqs <- simRequest{op: op, ev: ev, reply: reply}:
	case <-run.done:
		return Forward
	}
	select {
	case v := <-reply:
		return v
	case <-run.done:
		return Forward
	}
}

// KeyDown delivers a keydown and returns what the OS would be told.
func (s *Simulated) KeyDown(ev RawKey) Verdict { return s.send(simKeyDown, ev) }

// KeyUp delivers a keyup.
func (s *Simulated) KeyUp(ev RawKey) Verdict { return s.send(simKeyUp, ev) }

// Press delivers a keydown followed by its keyup at the same instant.
func (s *Simulated) Press(k mapper.Key, shift bool, at time.Time) Verdict {
	ev := RawKey{Key: k, Shift: shift, Time: at}
	v := s.KeyDown(ev)
	s.KeyUp(ev)
	return v
}

// Tick runs hook-thread housekeeping as if the timer fired at now.
func (s *Simulated) Tick(now time.Time) {
	s.send(simTick, RawKey{Time: now})
}

// Output returns the characters injected so far.
func (s *Simulated) Output() []rune {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	return append([]rune(nil), s.output...)
}

// ResetOutput discards recorded output.
func (s *Simulated) ResetOutput() {
	s.outMu.Lock()
	s.output = s.output[:0]
	s.outMu.Unlock()
}

// SetInjectFailure makes every injection fail while on is true.
func (s *Simulated) SetInjectFailure(on bool) { s.failInject.Store(on) }

// SetInjectDelay stalls every injection by d.
func (s *Simulated) SetInjectDelay(d time.Duration) { s.injectDelay.Store(int64(d)) }

// IsRunning reports whether the simulated hook is installed.
func (s *Simulated) IsRunning() bool {
	run := s.run.Load()
	return run != nil && run.running.Load()
}

// Stop asks the hook thread to exit and waits up to the stop timeout. A
// thread that does not answer in time is abandoned and the hook is
// released directly.
func (s *Simulated) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := s.run.Load()
	if run == nil {
		return nil
	}
	select {
	case <-run.done:
		return nil
	default:
	}

	select {
	case <-run.quit:
	default:
		close(run.quit)
	}
	timer := time.NewTimer(s.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-run.done:
		s.opts.Logger.Info("keyboard hook released", "backend", s.Name())
		return nil
	case <-timer.C:
		s.opts.Logger.Warn("hook thread did not stop in time, releasing directly",
			"backend", s.Name(), "timeout", s.opts.StopTimeout)
		return s.EmergencyRelease()
	}
}

// EmergencyRelease marks the hook as removed. Pending and later events are
// forwarded untouched.
func (s *Simulated) EmergencyRelease() error {
	if run := s.run.Load(); run != nil {
		s.release(run)
	}
	return nil
}
