// Package mapper translates US keyboard positions into the characters an
// ABNT2 (Brazilian) keyboard produces at the same physical positions.
//
// The Mapper is a small state machine:
//
//	Idle --trigger--> PendingAccent --any key / timeout--> Idle
//
// Position-mapped keys are replaced while Idle. Dead-key triggers are
// swallowed and remembered until the next key decides what to emit: a
// precomposed letter (á, ã, ô ...), the bare accent on Space, or the bare
// accent followed by the key's own character.
//
// The package does no I/O and never fails. A Mapper is not safe for
// concurrent use; it belongs to the goroutine that drives the keyboard hook.
package mapper

import "time"

// AccentTimeout is how long a pending accent waits before it is flushed as
// its bare character.
const AccentTimeout = 500 * time.Millisecond

// StateKind distinguishes the two Mapper states.
type StateKind uint8

const (
	StateIdle StateKind = iota
	StatePendingAccent
)

func (k StateKind) String() string {
	if k == StatePendingAccent {
		return "pending_accent"
	}
	return "idle"
}

// State is a snapshot of the Mapper state. Accent and Since are only
// meaningful when Kind is StatePendingAccent.
type State struct {
	Kind   StateKind
	Accent Accent
	Since  time.Time
}

// Pending reports whether an accent is waiting for its next key.
func (s State) Pending() bool { return s.Kind == StatePendingAccent }

// Mapper is the position and dead-key translator.
type Mapper struct {
	tables  *Tables
	timeout time.Duration
	state   State
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithTimeout overrides AccentTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(m *Mapper) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithTables makes the Mapper use t instead of DefaultTables.
func WithTables(t *Tables) Option {
	return func(m *Mapper) {
		if t != nil {
			m.tables = t
		}
	}
}

// New returns an idle Mapper.
func New(opts ...Option) *Mapper {
	m := &Mapper{
		tables:  DefaultTables(),
		timeout: AccentTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Mapper) State() State { return m.state }

// Tables returns the lookup tables used by m.
func (m *Mapper) Tables() *Tables { return m.tables }

// Timeout returns the pending accent timeout.
func (m *Mapper) Timeout() time.Duration { return m.timeout }

// ProcessKey decides what to do with a keydown of k. now is the event time
// and starts the timeout clock when k is a dead-key trigger.
func (m *Mapper) ProcessKey(k Key, shift bool, now time.Time) KeyAction {
	if m.state.Pending() {
		return m.processPending(k, shift)
	}
	if r, ok := m.tables.Position(k, shift); ok {
		return Replace(r)
	}
	if a, ok := m.tables.Trigger(k, shift); ok {
		m.state = State{Kind: StatePendingAccent, Accent: a, Since: now}
		return Suppress()
	}
	return Pass()
}

func (m *Mapper) processPending(k Key, shift bool) KeyAction {
	accent := m.state.Accent
	m.state = State{}

	bare := accent.Bare()
	if k == KeySpace {
		return Replace(bare)
	}
	c, ok := m.charOf(k, shift)
	if !ok {
		return Replace(bare)
	}
	if combined, ok := m.tables.Combine(accent, c); ok {
		return Replace(combined)
	}
	return ReplaceMultiple(bare, c)
}

// charOf returns the character k would produce on its own: the letter for
// letter keys, the ABNT2 character for position keys, and the bare accent
// for triggers.
func (m *Mapper) charOf(k Key, shift bool) (rune, bool) {
	if k.IsLetter() {
		return k.Letter(shift), true
	}
	if r, ok := m.tables.Position(k, shift); ok {
		return r, true
	}
	if a, ok := m.tables.Trigger(k, shift); ok {
		return a.Bare(), true
	}
	return 0, false
}

// CheckTimeout flushes a pending accent whose timeout has elapsed at now.
// It returns false when there is nothing to emit.
func (m *Mapper) CheckTimeout(now time.Time) (KeyAction, bool) {
	if !m.state.Pending() {
		return KeyAction{}, false
	}
	if now.Sub(m.state.Since) < m.timeout {
		return KeyAction{}, false
	}
	bare := m.state.Accent.Bare()
	m.state = State{}
	return Replace(bare), true
}

// Deadline returns when the pending accent will time out.
func (m *Mapper) Deadline() (time.Time, bool) {
	if !m.state.Pending() {
		return time.Time{}, false
	}
	return m.state.Since.Add(m.timeout), true
}

// Reset drops any pending accent without emitting it.
func (m *Mapper) Reset() {
	m.state = State{}
}
