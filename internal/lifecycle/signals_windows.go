package lifecycle

import (
	"os"
	"syscall"
)

// Windows delivers Ctrl+C, Ctrl+Break and console close as SIGINT or
// SIGTERM. There is no toggle or reload signal.
func watchedSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}

func classify(sig os.Signal) sigAction {
	switch sig {
	case os.Interrupt, syscall.SIGTERM:
		return sigExit
	}
	return sigIgnore
}
