// Package state holds the process-wide operation mode and exit request.
//
// Both values are read on the keyboard hook thread for every event, so all
// reads are single atomic loads and never block. Writers (tray, console,
// signals, config reload) may run on any goroutine.
package state

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// OperationMode selects whether keys are remapped.
type OperationMode uint32

const (
	// ModeActive remaps keys.
	ModeActive OperationMode = iota
	// ModePassthrough forwards every key unmodified.
	ModePassthrough
)

// ErrPoisoned is returned when the stored mode holds a value that is not a
// valid OperationMode.
var ErrPoisoned = errors.New("state: mode value poisoned")

// Valid reports whether m is a known mode.
func (m OperationMode) Valid() bool {
	return m == ModeActive || m == ModePassthrough
}

func (m OperationMode) String() string {
	switch m {
	case ModeActive:
		return "active"
	case ModePassthrough:
		return "passthrough"
	}
	return fmt.Sprintf("OperationMode(%d)", uint32(m))
}

// ParseMode parses "active" or "passthrough" (case-insensitive). "paused"
// is accepted as an alias for passthrough.
func ParseMode(s string) (OperationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active", "on", "":
		return ModeActive, nil
	case "passthrough", "paused", "off":
		return ModePassthrough, nil
	}
	return ModeActive, fmt.Errorf("state: unknown mode %q", s)
}

// ModeSource is the read side consumed by the interception layer.
type ModeSource interface {
	Mode() (OperationMode, error)
	ShouldExit() bool
}

// Shared is the mode flag and exit request shared between the hook thread
// and its controllers. The zero value is not usable; call New.
type Shared struct {
	mode atomic.Uint32
	exit atomic.Bool

	doneOnce sync.Once
	done     chan struct{}

	mu        sync.Mutex
	observers []func(OperationMode)
}

// New returns a Shared in the given initial mode.
func New(initial OperationMode) *Shared {
	s := &Shared{done: make(chan struct{})}
	if !initial.Valid() {
		initial = ModeActive
	}
	s.mode.Store(uint32(initial))
	return s
}

// Mode returns the current mode. It fails only if the stored value was
// corrupted.
func (s *Shared) Mode() (OperationMode, error) {
	m := OperationMode(s.mode.Load())
	if !m.Valid() {
		return m, ErrPoisoned
	}
	return m, nil
}

// SetMode stores m and notifies observers when the mode changed.
func (s *Shared) SetMode(m OperationMode) error {
	if !m.Valid() {
		return fmt.Errorf("state: set mode %d: %w", uint32(m), ErrPoisoned)
	}
	if old := OperationMode(s.mode.Swap(uint32(m))); old != m {
		s.notify(m)
	}
	return nil
}

// Toggle flips between active and passthrough and returns the new mode.
func (s *Shared) Toggle() (OperationMode, error) {
	for {
		old := s.mode.Load()
		var next OperationMode
		switch OperationMode(old) {
		case ModeActive:
			next = ModePassthrough
		case ModePassthrough:
			next = ModeActive
		default:
			return OperationMode(old), ErrPoisoned
		}
		if s.mode.CompareAndSwap(old, uint32(next)) {
			s.notify(next)
			return next, nil
		}
	}
}

// OnChange registers fn to run after every mode change. fn runs on the
// goroutine that changed the mode, never on the hook thread.
func (s *Shared) OnChange(fn func(OperationMode)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *Shared) notify(m OperationMode) {
	s.mu.Lock()
	obs := make([]func(OperationMode), len(s.observers))
	copy(obs, s.observers)
	s.mu.Unlock()
	for _, fn := range obs {
		fn(m)
	}
}

// RequestExit asks every component to shut down. It is safe to call more
// than once.
func (s *Shared) RequestExit() {
	s.exit.Store(true)
	s.doneOnce.Do(func() { close(s.done) })
}

// ShouldExit reports whether RequestExit was called.
func (s *Shared) ShouldExit() bool {
	return s.exit.Load()
}

// Done is closed by RequestExit.
func (s *Shared) Done() <-chan struct{} {
	return s.done
}
