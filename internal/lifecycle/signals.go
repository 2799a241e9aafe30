package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"

	"ghostkeys/internal/state"
)

// SignalHandlers are the actions bound to process signals.
type SignalHandlers struct {
	// Toggle flips the operation mode (SIGUSR1).
	Toggle func()

	// Reload re-reads the configuration (SIGHUP).
	Reload func()
}

// WatchSignals handles process signals until ctx is done. The first
// interrupt or terminate requests an orderly exit; a second one while the
// exit is pending goes through Fatal so the hook is released even when the
// orderly path is stuck.
func WatchSignals(ctx context.Context, g *Guard, modes *state.Shared, h SignalHandlers, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, watchedSignals()...)

	g.Go("signals", func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				switch classify(sig) {
				case sigExit:
					if modes.ShouldExit() {
						g.Fatal(errors.New("second "+sig.String()+" during shutdown"), map[string]any{"signal": sig.String()})
						return
					}
					log.Info("exit requested", "signal", sig.String())
					modes.RequestExit()
				case sigToggle:
					if h.Toggle != nil {
						h.Toggle()
					}
				case sigReload:
					if h.Reload != nil {
						h.Reload()
					}
				}
			}
		}
	})
}

type sigAction uint8

const (
	sigIgnore sigAction = iota
	sigExit
	sigToggle
	sigReload
)
