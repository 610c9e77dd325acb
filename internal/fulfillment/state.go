package fulfillment

import (
	"github.com/Iron-Ham/packline/internal/api"
	"github.com/Iron-Ham/packline/internal/event"
)

// State is where the controller is in a session's lifecycle.
type State string

const (
	StateNoSession           State = "no_session"
	StateChecking            State = "checking"
	StateDraftAvailable      State = "draft_available"
	StateInProgressElsewhere State = "in_progress_elsewhere"
	StateInProgress          State = "in_progress"
	StateCompleted           State = "completed"
	StateCancelled           State = "cancelled"
	StateRevoked             State = "revoked"
)

// stateForCheck maps a check answer to the state it leaves the controller in.
func stateForCheck(s api.CheckStatus) State {
	switch s {
	case api.CheckDraft:
		return StateDraftAvailable
	case api.CheckInProgress:
		return StateInProgressElsewhere
	case api.CheckCompleted:
		return StateCompleted
	case api.CheckCancelled:
		return StateCancelled
	default:
		return StateNoSession
	}
}

// Control is a user-triggerable action. Each control is disabled while its
// own request is in flight.
type Control string

const (
	ControlOpen     Control = "open"
	ControlScan     Control = "scan"
	ControlComplete Control = "complete"
	ControlCancel   Control = "cancel"
	ControlRefresh  Control = "refresh"
)

// Snapshot is a point-in-time copy of the controller's view model.
type Snapshot struct {
	State      State
	Order      string
	Session    *api.Session
	Check      *api.CheckResult
	Revocation *event.SessionRevokedEvent
	Release    *event.SessionReleasedEvent
	Busy       []Control
}

func cloneSession(s *api.Session) *api.Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Items = append([]api.Item(nil), s.Items...)
	out.AuditLogs = append([]api.AuditLogEntry(nil), s.AuditLogs...)
	return &out
}
