package recovery

import "github.com/Iron-Ham/packline/internal/realtime"

// Signal is a lifecycle notice that may mean the user walked away from the
// open session. The set of variants is closed.
type Signal interface {
	// Name identifies the signal in logs and release events.
	Name() string
	signal()
}

// Unload is the end of the session context: the process is terminating.
type Unload struct {
	Cause string // e.g. the OS signal name
}

// PageHide means the view was hidden. A persisted view may come back
// intact and is left alone.
type PageHide struct {
	Persisted bool
}

// Freeze means the process was suspended and may never be resumed.
type Freeze struct{}

// Offline means the network went away.
type Offline struct{}

// Disconnect is the realtime connection ending.
type Disconnect struct {
	Reason realtime.Reason
}

func (Unload) Name() string     { return "unload" }
func (PageHide) Name() string   { return "pagehide" }
func (Freeze) Name() string     { return "freeze" }
func (Offline) Name() string    { return "offline" }
func (Disconnect) Name() string { return "disconnect" }

func (Unload) signal()     {}
func (PageHide) signal()   {}
func (Freeze) signal()     {}
func (Offline) signal()    {}
func (Disconnect) signal() {}
