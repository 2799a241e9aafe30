package interceptor

import (
	"errors"
	"fmt"
)

// Errors returned by interceptors.
var (
	// ErrHookInstall means the OS hook could not be registered. The
	// process must not run without it.
	ErrHookInstall = errors.New("interceptor: hook installation failed")

	// ErrHookRelease means the OS refused to unregister the hook. Logged;
	// shutdown continues.
	ErrHookRelease = errors.New("interceptor: hook release failed")

	// ErrStatePoisoned means the shared mode could not be read. Fatal.
	ErrStatePoisoned = errors.New("interceptor: shared state poisoned")

	// ErrHookPanic means the hook thread panicked. The hook is released
	// and the failure is reported as fatal.
	ErrHookPanic = errors.New("interceptor: hook thread panicked")

	// ErrInjection means synthesizing characters failed. The keystroke is
	// dropped and the original key is not replayed.
	ErrInjection = errors.New("interceptor: key injection failed")

	ErrAlreadyRunning = errors.New("interceptor: already running")
	ErrNotRunning     = errors.New("interceptor: not running")
	ErrNotAvailable   = errors.New("interceptor: keyboard hook not available on this platform")
)

// HookError adds the failing operation and backend to one of the sentinel
// errors above. Match it with errors.Is against the sentinel.
type HookError struct {
	Op      string
	Backend string
	Err     error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("interceptor %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// hookErr wraps cause under kind so both match with errors.Is.
func hookErr(backend, op string, kind, cause error) error {
	if cause == nil {
		return &HookError{Op: op, Backend: backend, Err: kind}
	}
	return &HookError{Op: op, Backend: backend, Err: fmt.Errorf("%w: %w", kind, cause)}
}
