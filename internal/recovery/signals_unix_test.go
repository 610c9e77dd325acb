//go:build unix

package recovery

import (
	"syscall"
	"testing"
)

func TestClassifySignal(t *testing.T) {
	tests := []struct {
		name string
		sig  syscall.Signal
		want Signal
	}{
		{name: "interrupt", sig: syscall.SIGINT, want: Unload{Cause: syscall.SIGINT.String()}},
		{name: "terminate", sig: syscall.SIGTERM, want: Unload{Cause: syscall.SIGTERM.String()}},
		{name: "hangup", sig: syscall.SIGHUP, want: Unload{Cause: syscall.SIGHUP.String()}},
		{name: "suspend", sig: syscall.SIGTSTP, want: Freeze{}},
		{name: "continue", sig: syscall.SIGCONT, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifySignal(tt.sig); got != tt.want {
				t.Errorf("classifySignal(%v) = %#v, want %#v", tt.sig, got, tt.want)
			}
		})
	}
}
