//go:build unix

package recovery

import (
	"os"
	"os/signal"
	"syscall"
)

// processSignals are the OS signals WatchProcess listens for. SIGCONT is
// only used to re-arm the suspend handler after the process is resumed.
var processSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGHUP,
	syscall.SIGTSTP,
	syscall.SIGCONT,
}

// classifySignal maps an OS signal to a lifecycle signal, or nil for
// SIGCONT.
func classifySignal(s os.Signal) Signal {
	switch s {
	case syscall.SIGTSTP:
		return Freeze{}
	case syscall.SIGCONT:
		return nil
	default:
		return Unload{Cause: s.String()}
	}
}

// suspend stops the process the way an unhandled SIGTSTP would.
func suspend() {
	signal.Reset(syscall.SIGTSTP)
	_ = syscall.Kill(os.Getpid(), syscall.SIGTSTP)
}

// resumed re-arms the suspend handler after SIGCONT.
func resumed(ch chan<- os.Signal) {
	signal.Notify(ch, syscall.SIGTSTP)
}
