//go:build unix

package lifecycle

import (
	"os"

	"golang.org/x/sys/unix"
)

func watchedSignals() []os.Signal {
	return []os.Signal{unix.SIGINT, unix.SIGTERM, unix.SIGUSR1, unix.SIGHUP}
}

func classify(sig os.Signal) sigAction {
	switch sig {
	case unix.SIGINT, unix.SIGTERM:
		return sigExit
	case unix.SIGUSR1:
		return sigToggle
	case unix.SIGHUP:
		return sigReload
	}
	return sigIgnore
}
