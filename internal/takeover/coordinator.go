// Package takeover implements ownership changes made over the head of a
// session's current owner: admin force-cancel, force-assign, and takeover,
// plus the watcher that tells a client its open session was taken away.
//
// A client learns about a remote transfer from the pushed realtime notice,
// never from polling. On such a notice for the open session it publishes
// event.SessionRevokedEvent, which the lifecycle controller turns into an
// abandoned view.
package takeover

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Iron-Ham/packline/internal/api"
	"github.com/Iron-Ham/packline/internal/deeplink"
	"github.com/Iron-Ham/packline/internal/errors"
	"github.com/Iron-Ham/packline/internal/event"
	"github.com/Iron-Ham/packline/internal/fulfillment"
	"github.com/Iron-Ham/packline/internal/logging"
)

// Backend is the part of the REST API the coordinator calls.
type Backend interface {
	ForceCancel(ctx context.Context, sessionID, reason string) error
	ForceAssign(ctx context.Context, sessionID, targetUser string) error
	Takeover(ctx context.Context, sessionID string) (*api.TakeoverResult, error)
}

var _ Backend = (*api.Client)(nil)

// Resumer opens a session from its deep link. Vacant refuses while the
// view is working a session other than sessionID.
type Resumer interface {
	Resume(ctx context.Context, path string) (*api.Session, error)
	Vacant(sessionID string) error
}

var _ Resumer = (*fulfillment.Controller)(nil)

// Config holds the coordinator's dependencies. Backend is required.
type Config struct {
	Backend    Backend
	Bus        *event.Bus
	Prompter   fulfillment.Prompter
	Navigator  fulfillment.Navigator
	Notifier   fulfillment.Notifier
	Resumer    Resumer
	Negotiator Negotiator
	Logger     *logging.Logger

	// OpenSession returns the session shown in this view, or "".
	OpenSession func() string

	UserID   string
	Username string
	// Admin unlocks the forced operations on the client. The backend
	// enforces the real rule.
	Admin    bool
	BasePath string
}

// Coordinator runs forced ownership changes and watches for ones made by
// others.
type Coordinator struct {
	backend    Backend
	bus        *event.Bus
	prompter   fulfillment.Prompter
	nav        fulfillment.Navigator
	notifier   fulfillment.Notifier
	resumer    Resumer
	negotiator Negotiator
	logger     *logging.Logger
	open       func() string
	userID     string
	username   string
	admin      bool
	basePath   string

	mu   sync.Mutex
	busy map[string]bool
	sub  fulfillment.Subscriber
	subs []string
}

// New creates a coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Backend == nil {
		return nil, errors.New("takeover: Backend is required")
	}
	prompter := cfg.Prompter
	if prompter == nil {
		prompter = fulfillment.PrompterFunc(func(context.Context, fulfillment.Prompt) (bool, error) { return false, nil })
	}
	nav := cfg.Navigator
	if nav == nil {
		nav = fulfillment.NavigatorFunc(func(string) {})
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = fulfillment.BusNotifier{Bus: cfg.Bus}
	}
	open := cfg.OpenSession
	if open == nil {
		open = func() string { return "" }
	}
	return &Coordinator{
		backend:    cfg.Backend,
		bus:        cfg.Bus,
		prompter:   prompter,
		nav:        nav,
		notifier:   notifier,
		resumer:    cfg.Resumer,
		negotiator: cfg.Negotiator,
		logger:     logging.OrNop(cfg.Logger).WithComponent("takeover").WithUser(cfg.UserID),
		open:       open,
		userID:     cfg.UserID,
		username:   cfg.Username,
		admin:      cfg.Admin,
		basePath:   deeplink.NormalizeBase(cfg.BasePath),
		busy:       make(map[string]bool),
	}, nil
}

// ForceCancel terminates a session whoever owns it. The owner's client
// shows reason, if one is given.
func (c *Coordinator) ForceCancel(ctx context.Context, sessionID, reason string) error {
	if err := c.precheck(sessionID); err != nil {
		return err
	}
	return c.guard("force-cancel:"+sessionID, func() error {
		if err := c.confirm(ctx, fulfillment.Prompt{
			Title:        "Force cancel",
			Message:      fmt.Sprintf("Cancel session %s? Its owner loses any unsaved progress and this cannot be undone.", sessionID),
			ConfirmLabel: "Force cancel",
			Destructive:  true,
		}); err != nil {
			return err
		}
		if err := c.backend.ForceCancel(ctx, sessionID, strings.TrimSpace(reason)); err != nil {
			return err
		}
		c.logger.Info("session force-cancelled", "session_id", sessionID, "reason", reason)
		c.notifier.Notify(event.ToastSuccess, "Session "+sessionID+" cancelled")
		return nil
	})
}

// ForceAssign hands a session to targetUser without asking its owner.
func (c *Coordinator) ForceAssign(ctx context.Context, sessionID, targetUser string) error {
	if err := c.precheck(sessionID); err != nil {
		return err
	}
	targetUser = strings.TrimSpace(targetUser)
	if targetUser == "" {
		return errors.NewValidationError("target user is required").WithField("target_user_id")
	}
	return c.guard("force-assign:"+sessionID, func() error {
		if err := c.confirm(ctx, fulfillment.Prompt{
			Title:        "Reassign session",
			Message:      fmt.Sprintf("Assign session %s to %s? The current owner is sent back to the order list.", sessionID, targetUser),
			ConfirmLabel: "Reassign",
			Destructive:  true,
		}); err != nil {
			return err
		}
		if err := c.backend.ForceAssign(ctx, sessionID, targetUser); err != nil {
			return err
		}
		c.logger.Info("session force-assigned", "session_id", sessionID, "target", targetUser)
		c.notifier.Notify(event.ToastSuccess, fmt.Sprintf("Session %s assigned to %s", sessionID, targetUser))
		return nil
	})
}

// Takeover makes the caller the session's owner and opens it. It returns
// the session's deep link.
func (c *Coordinator) Takeover(ctx context.Context, sessionID string) (string, error) {
	if err := c.precheck(sessionID); err != nil {
		return "", err
	}
	if c.resumer != nil {
		// One session at a time: the open one must be finished first.
		if err := c.resumer.Vacant(sessionID); err != nil {
			return "", err
		}
	}
	var path string
	err := c.guard("takeover:"+sessionID, func() error {
		if err := c.confirm(ctx, takeoverPrompt(sessionID, "")); err != nil {
			return err
		}
		p, err := c.takeover(ctx, sessionID)
		if err != nil {
			return err
		}
		path = p
		if c.resumer != nil {
			_, err = c.resumer.Resume(ctx, path)
			return err
		}
		c.nav.Navigate(path)
		return nil
	})
	return path, err
}

// Offer is made when the user opens an order someone else is working.
// Admins are offered a takeover and, on success, get the deep link to
// open. Everyone else can only ask the owner through the Negotiator.
func (c *Coordinator) Offer(ctx context.Context, sessionID, owner string) (string, error) {
	if owner == "" {
		owner = "another user"
	}
	if !c.admin {
		if c.negotiator == nil {
			return "", errors.NewConflictError(fmt.Sprintf("This session is being worked by %s", owner)).
				WithCode("owned_by_other").
				WithCause(errors.ErrSessionOwnedByOther)
		}
		if _, err := c.negotiator.Request(ctx, sessionID, ""); err != nil {
			return "", err
		}
		return "", errors.NewConflictError(fmt.Sprintf("%s is working on this session. They have been asked to hand it over.", owner)).
			WithCode("takeover_requested").
			WithCause(errors.ErrSessionOwnedByOther)
	}
	if err := c.confirm(ctx, takeoverPrompt(sessionID, owner)); err != nil {
		return "", err
	}
	return c.takeover(ctx, sessionID)
}

// AsTakeoverFunc adapts Offer for the lifecycle controller.
func (c *Coordinator) AsTakeoverFunc() fulfillment.TakeoverFunc {
	return c.Offer
}

func (c *Coordinator) takeover(ctx context.Context, sessionID string) (string, error) {
	res, err := c.backend.Takeover(ctx, sessionID)
	if err != nil {
		return "", err
	}
	path, err := deeplink.Generate(c.basePath, res.OrderNumber, res.InvoiceNumber)
	if err != nil {
		return "", errors.Wrap(err, "takeover response has no usable deep link")
	}
	c.logger.Info("session taken over", "session_id", sessionID, "order", res.OrderNumber)
	return path, nil
}

func takeoverPrompt(sessionID, owner string) fulfillment.Prompt {
	msg := fmt.Sprintf("Take over session %s? The current owner is sent back to the order list.", sessionID)
	if owner != "" {
		msg = fmt.Sprintf("%s is working on session %s. Take it over? They are sent back to the order list.", owner, sessionID)
	}
	return fulfillment.Prompt{
		Title:        "Take over session",
		Message:      msg,
		ConfirmLabel: "Take over",
		Destructive:  true,
	}
}

// precheck applies the client-side admin gate and input validation.
func (c *Coordinator) precheck(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.NewValidationError("session id is required").WithField("session_id")
	}
	if !c.admin {
		return errors.Wrap(errors.ErrForbidden, "this action requires the admin role")
	}
	return nil
}

func (c *Coordinator) guard(key string, fn func() error) error {
	c.mu.Lock()
	if c.busy[key] {
		c.mu.Unlock()
		return errors.ErrBusy
	}
	c.busy[key] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.busy, key)
		c.mu.Unlock()
	}()
	return fn()
}

func (c *Coordinator) confirm(ctx context.Context, p fulfillment.Prompt) error {
	ok, err := c.prompter.Confirm(ctx, p)
	if err != nil {
		return err
	}
	if !ok {
		return errors.ErrDeclined
	}
	return nil
}

func (c *Coordinator) isSelf(user string) bool {
	return user != "" && (user == c.userID || user == c.username)
}
