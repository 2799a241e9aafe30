// Package controller lets the user switch the operation mode and stop the
// program while the hook runs: console keys, signals and config reloads
// all end up here.
package controller

import (
	"log/slog"

	"ghostkeys/internal/logging"
	"ghostkeys/internal/state"
)

// Notifier shows a message to the user.
type Notifier interface {
	Notify(title, body string) error
}

// Toggler flips the shared mode and reports the result.
type Toggler struct {
	modes    *state.Shared
	log      *slog.Logger
	notifier Notifier
}

// NewToggler creates a Toggler. notifier may be nil.
func NewToggler(modes *state.Shared, log *slog.Logger, notifier Notifier) *Toggler {
	if log == nil {
		log = slog.Default()
	}
	return &Toggler{modes: modes, log: log, notifier: notifier}
}

// Toggle switches between active and passthrough.
func (t *Toggler) Toggle() {
	m, err := t.modes.Toggle()
	if err != nil {
		t.log.Error("toggle failed", "error", err)
		return
	}
	t.announce(m)
}

// Set switches to m. Setting the current mode is a no-op.
func (t *Toggler) Set(m state.OperationMode) {
	cur, err := t.modes.Mode()
	if err == nil && cur == m {
		return
	}
	if err := t.modes.SetMode(m); err != nil {
		t.log.Error("set mode failed", "error", err)
		return
	}
	t.announce(m)
}

func (t *Toggler) announce(m state.OperationMode) {
	t.log.Info("mode changed", "mode", m.String())
	if t.notifier == nil {
		return
	}
	body := "Remapping to ABNT2 is on"
	if m == state.ModePassthrough {
		body = "Keys pass through unchanged"
	}
	if err := t.notifier.Notify(logging.AppName+": "+m.String(), body); err != nil {
		t.log.Debug("notification failed", "error", err)
	}
}
