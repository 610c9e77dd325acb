package event

import "time"

// Event is the interface that all events must implement.
// It provides a common way to identify and timestamp events.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Realtime events use the wire name (e.g. "cursor_updated"); local
	// events use "category.action" (e.g. "session.revoked").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Base provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type Base struct {
	eventType string
	timestamp time.Time
}

func (e Base) EventType() string    { return e.eventType }
func (e Base) Timestamp() time.Time { return e.timestamp }

// NewBase creates a Base with the current time.
func NewBase(eventType string) Base {
	return Base{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// Local event types.
const (
	TypeToast                = "toast"
	TypeRefreshRequested     = "refresh.requested"
	TypeSessionRevoked       = "session.revoked"
	TypeActiveSessionChanged = "active_session.changed"
	TypeSessionReleased      = "session.released"
)

// ToastLevel selects how a toast is presented.
type ToastLevel int

const (
	ToastInfo ToastLevel = iota
	ToastSuccess
	ToastWarning
	ToastError
)

func (l ToastLevel) String() string {
	switch l {
	case ToastSuccess:
		return "success"
	case ToastWarning:
		return "warning"
	case ToastError:
		return "error"
	default:
		return "info"
	}
}

// ToastEvent is a transient notice for the user.
type ToastEvent struct {
	Base
	Level   ToastLevel
	Message string
}

// NewToastEvent creates a ToastEvent.
func NewToastEvent(level ToastLevel, message string) ToastEvent {
	return ToastEvent{
		Base:    NewBase(TypeToast),
		Level:   level,
		Message: message,
	}
}

// RefreshRequestedEvent asks views to re-fetch their data from the backend.
// It never carries data itself.
type RefreshRequestedEvent struct {
	Base
	Source string // event or component that asked for the refresh
}

// NewRefreshRequestedEvent creates a RefreshRequestedEvent.
func NewRefreshRequestedEvent(source string) RefreshRequestedEvent {
	return RefreshRequestedEvent{
		Base:   NewBase(TypeRefreshRequested),
		Source: source,
	}
}

// RevokeCause identifies why the open session was taken away.
type RevokeCause string

const (
	RevokeForceCancelled RevokeCause = "force_cancelled"
	RevokeCancelled      RevokeCause = "cancelled"
	RevokeAssigned       RevokeCause = "assigned"
	RevokeTakenOver      RevokeCause = "taken_over"
	RevokeTransferred    RevokeCause = "transferred"
)

// SessionRevokedEvent is published when the session open in this process
// was cancelled, reassigned, or taken over by someone else.
type SessionRevokedEvent struct {
	Base
	SessionID string
	Cause     RevokeCause
	Reason    string // optional human-readable reason supplied by the actor
	NewOwner  string
}

// NewSessionRevokedEvent creates a SessionRevokedEvent.
func NewSessionRevokedEvent(sessionID string, cause RevokeCause, reason, newOwner string) SessionRevokedEvent {
	return SessionRevokedEvent{
		Base:      NewBase(TypeSessionRevoked),
		SessionID: sessionID,
		Cause:     cause,
		Reason:    reason,
		NewOwner:  newOwner,
	}
}

// ActiveSessionChangedEvent is published whenever the active-work token
// changes value. Previous or Current may be empty.
type ActiveSessionChangedEvent struct {
	Base
	Previous string
	Current  string
}

// NewActiveSessionChangedEvent creates an ActiveSessionChangedEvent.
func NewActiveSessionChangedEvent(previous, current string) ActiveSessionChangedEvent {
	return ActiveSessionChangedEvent{
		Base:     NewBase(TypeActiveSessionChanged),
		Previous: previous,
		Current:  current,
	}
}

// SessionReleasedEvent is published after an abandoned session was handed
// back to the backend as a draft.
type SessionReleasedEvent struct {
	Base
	SessionID string
	Trigger   string // lifecycle signal that caused the release
}

// NewSessionReleasedEvent creates a SessionReleasedEvent.
func NewSessionReleasedEvent(sessionID, trigger string) SessionReleasedEvent {
	return SessionReleasedEvent{
		Base:      NewBase(TypeSessionReleased),
		SessionID: sessionID,
		Trigger:   trigger,
	}
}
