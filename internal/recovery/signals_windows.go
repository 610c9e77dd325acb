//go:build windows

package recovery

import (
	"os"
	"syscall"
)

// processSignals are the OS signals WatchProcess listens for. Windows has
// no job control, so there is no Freeze.
var processSignals = []os.Signal{
	os.Interrupt,
	syscall.SIGTERM,
}

func classifySignal(s os.Signal) Signal {
	return Unload{Cause: s.String()}
}

func suspend() {}

func resumed(chan<- os.Signal) {}
