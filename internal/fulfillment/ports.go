package fulfillment

import (
	"context"

	"github.com/Iron-Ham/packline/internal/api"
	"github.com/Iron-Ham/packline/internal/event"
	"github.com/Iron-Ham/packline/internal/realtime"
)

// Backend is the part of the REST API the controller calls. *api.Client
// implements it.
type Backend interface {
	CheckSession(ctx context.Context, orderNumber string) (*api.CheckResult, error)
	StartSession(ctx context.Context, orderNumber string, sessionType api.SessionType) (*api.Session, error)
	ClaimSession(ctx context.Context, sessionID string) (string, error)
	Scan(ctx context.Context, req api.ScanRequest) (*api.ScanResult, error)
	SessionStatus(ctx context.Context, sessionID string) (*api.Session, error)
	CompleteSession(ctx context.Context, sessionID string, force bool) error
	CancelSession(ctx context.Context, sessionID string) error
}

var _ Backend = (*api.Client)(nil)

// Prompt is a yes/no question put to the user before a destructive or
// ownership-changing request.
type Prompt struct {
	Title        string
	Message      string
	ConfirmLabel string
	Destructive  bool
}

// Prompter asks the user to confirm an action.
type Prompter interface {
	Confirm(ctx context.Context, p Prompt) (bool, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, p Prompt) (bool, error)

// Confirm calls f.
func (f PrompterFunc) Confirm(ctx context.Context, p Prompt) (bool, error) { return f(ctx, p) }

// Navigator moves the user to another page.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

// Navigate calls f.
func (f NavigatorFunc) Navigate(path string) { f(path) }

// Notifier shows a transient message.
type Notifier interface {
	Notify(level event.ToastLevel, message string)
}

// BusNotifier publishes notices as toast events.
type BusNotifier struct {
	Bus *event.Bus
}

// Notify publishes a ToastEvent.
func (n BusNotifier) Notify(level event.ToastLevel, message string) {
	if n.Bus != nil {
		n.Bus.Publish(event.NewToastEvent(level, message))
	}
}

// Subscriber is the part of the realtime channel the controller listens on.
type Subscriber interface {
	On(name string, handler func(realtime.Event)) string
	Off(id string) bool
}
