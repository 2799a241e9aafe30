//go:build !windows && !((linux || darwin) && cgo)

package interceptor

import (
	"context"

	"ghostkeys/internal/state"
)

type unavailableHook struct{}

func newPlatform(Options) Interceptor { return unavailableHook{} }

func (unavailableHook) Name() string { return "unavailable" }

func (u unavailableHook) Start(context.Context, state.ModeSource) error {
	return hookErr(u.Name(), "start", ErrHookInstall, ErrNotAvailable)
}

func (unavailableHook) Stop() error             { return nil }
func (unavailableHook) IsRunning() bool         { return false }
func (unavailableHook) EmergencyRelease() error { return nil }
