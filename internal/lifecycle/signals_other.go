//go:build !unix && !windows

package lifecycle

import "os"

func watchedSignals() []os.Signal { return []os.Signal{os.Interrupt} }

func classify(sig os.Signal) sigAction {
	if sig == os.Interrupt {
		return sigExit
	}
	return sigIgnore
}
