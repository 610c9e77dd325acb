// Package fulfillment drives one order's fulfillment session through its
// lifecycle: check, start or claim, scan, then complete or cancel.
//
// The backend is the sole authority. Every successful mutation is followed
// by a fresh fetch of the session, and pushed realtime notices for the open
// session trigger the same fetch; the controller never patches session data
// from its own guesses. Each control is disabled while its request is in
// flight and re-enabled afterwards whether the request succeeded or not.
// Nothing is retried automatically.
package fulfillment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/packline/internal/activework"
	"github.com/Iron-Ham/packline/internal/api"
	"github.com/Iron-Ham/packline/internal/deeplink"
	"github.com/Iron-Ham/packline/internal/errors"
	"github.com/Iron-Ham/packline/internal/event"
	"github.com/Iron-Ham/packline/internal/logging"
	"github.com/Iron-Ham/packline/internal/realtime"
)

// DefaultScanField is the item field a scan increments when none is named.
const DefaultScanField = "qty_scanned"

// refreshTimeout bounds the fetch triggered by a pushed session notice.
const refreshTimeout = 30 * time.Second

// TakeoverFunc offers to take sessionID over from owner. On success it
// returns the deep link of the session now owned by the caller.
type TakeoverFunc func(ctx context.Context, sessionID, owner string) (string, error)

// Config holds the controller's dependencies. Backend and Token are
// required. A nil Prompter declines every confirmation; a nil Notifier
// publishes toasts on Bus.
type Config struct {
	Backend   Backend
	Token     *activework.Token
	Bus       *event.Bus
	Prompter  Prompter
	Navigator Navigator
	Notifier  Notifier
	Logger    *logging.Logger

	UserID   string
	Username string
	// Admin unlocks ForceComplete. It only gates the client; the backend
	// enforces the real rule.
	Admin    bool
	BasePath string

	// OnAuthError runs when the backend rejects the caller's credentials.
	OnAuthError func(error)
}

// Controller is the session lifecycle state machine for one view.
type Controller struct {
	backend  Backend
	token    *activework.Token
	bus      *event.Bus
	prompter Prompter
	nav      Navigator
	notifier Notifier
	logger   *logging.Logger
	userID   string
	username string
	admin    bool
	basePath string
	onAuth   func(error)

	mu         sync.Mutex
	state      State
	order      string
	session    *api.Session
	checked    *api.CheckResult
	revocation *event.SessionRevokedEvent
	release    *event.SessionReleasedEvent
	busy       map[Control]bool
	takeover   TakeoverFunc
	sub        Subscriber
	subs       []string
	busSubs    []string
	onChange   []func()

	ctx        context.Context
	cancel     context.CancelFunc
	background conc.WaitGroup
}

// New creates a controller in StateNoSession.
func New(cfg Config) (*Controller, error) {
	if cfg.Backend == nil {
		return nil, errors.New("fulfillment: Backend is required")
	}
	if cfg.Token == nil {
		return nil, errors.New("fulfillment: Token is required")
	}

	prompter := cfg.Prompter
	if prompter == nil {
		prompter = PrompterFunc(func(context.Context, Prompt) (bool, error) { return false, nil })
	}
	nav := cfg.Navigator
	if nav == nil {
		nav = NavigatorFunc(func(string) {})
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = BusNotifier{Bus: cfg.Bus}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		backend:  cfg.Backend,
		token:    cfg.Token,
		bus:      cfg.Bus,
		prompter: prompter,
		nav:      nav,
		notifier: notifier,
		logger:   logging.OrNop(cfg.Logger).WithComponent("fulfillment").WithUser(cfg.UserID),
		userID:   cfg.UserID,
		username: cfg.Username,
		admin:    cfg.Admin,
		basePath: deeplink.NormalizeBase(cfg.BasePath),
		onAuth:   cfg.OnAuthError,
		state:    StateNoSession,
		busy:     make(map[Control]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
	if cfg.Bus != nil {
		c.busSubs = cfg.Bus.SubscribeMany([]string{event.TypeSessionRevoked, event.TypeSessionReleased}, c.onBus)
	}
	return c, nil
}

// SetTakeover installs the offer made for orders another user is working.
func (c *Controller) SetTakeover(fn TakeoverFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.takeover = fn
}

// Watch subscribes to pushed session notices so the open session is
// re-fetched whenever the server reports a change to it.
func (c *Controller) Watch(sub Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil || sub == nil {
		return
	}
	c.sub = sub
	for _, name := range []string{
		realtime.EventSessionUpdated,
		realtime.EventSessionCompleted,
		realtime.EventSessionCancelled,
		realtime.EventSessionDrafted,
	} {
		c.subs = append(c.subs, sub.On(name, c.Handle))
	}
}

// OnChange registers fn to run after the view model changes.
func (c *Controller) OnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// Close drops subscriptions and waits for background refreshes.
func (c *Controller) Close() {
	c.mu.Lock()
	sub, subs, busSubs := c.sub, c.subs, c.busSubs
	c.sub, c.subs, c.busSubs = nil, nil, nil
	c.mu.Unlock()

	for _, id := range subs {
		sub.Off(id)
	}
	for _, id := range busSubs {
		c.bus.Unsubscribe(id)
	}
	c.cancel()
	c.background.Wait()
}

// Check asks the backend what exists for orderNumber.
func (c *Controller) Check(ctx context.Context, orderNumber string) (*api.CheckResult, error) {
	var res *api.CheckResult
	err := c.guard(ControlOpen, func() (err error) {
		res, err = c.check(ctx, orderNumber)
		return err
	})
	return res, err
}

// Open runs the whole entry flow for an order: check, then start, claim a
// draft, offer a takeover, or refuse, depending on what exists.
func (c *Controller) Open(ctx context.Context, orderNumber string, sessionType api.SessionType) (*api.Session, error) {
	if !sessionType.Valid() {
		return nil, errors.NewValidationError("session type must be pick or return").
			WithField("session_type").
			WithValue(string(sessionType))
	}
	var sess *api.Session
	err := c.guard(ControlOpen, func() error {
		if open := c.openFor(strings.TrimSpace(orderNumber)); open != nil {
			sess = open
			return nil
		}
		res, err := c.check(ctx, orderNumber)
		if err != nil {
			return err
		}
		sess, err = c.decide(ctx, strings.TrimSpace(orderNumber), sessionType, res)
		return err
	})
	return sess, err
}

// Start begins a new session for orderNumber.
func (c *Controller) Start(ctx context.Context, orderNumber string, sessionType api.SessionType) (*api.Session, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if err := validateOrder(orderNumber); err != nil {
		return nil, err
	}
	if !sessionType.Valid() {
		return nil, errors.NewValidationError("session type must be pick or return").WithField("session_type")
	}
	var sess *api.Session
	err := c.guard(ControlOpen, func() (err error) {
		sess, err = c.start(ctx, orderNumber, sessionType)
		return err
	})
	return sess, err
}

// Claim reactivates a draft session and makes it the caller's.
func (c *Controller) Claim(ctx context.Context, sessionID string) (*api.Session, error) {
	if sessionID == "" {
		return nil, errors.NewValidationError("session id is required").WithField("session_id")
	}
	var sess *api.Session
	err := c.guard(ControlOpen, func() (err error) {
		sess, err = c.claim(ctx, sessionID)
		return err
	})
	return sess, err
}

// Resume opens the session behind a deep link, following fallback
// redirects. Only a session already in progress for the caller is adopted;
// any other link ends on the listing page with ErrNoActiveSession.
func (c *Controller) Resume(ctx context.Context, path string) (*api.Session, error) {
	var sess *api.Session
	err := c.guard(ControlOpen, func() (err error) {
		sess, err = c.resume(ctx, path)
		return err
	})
	return sess, err
}

// Scan records qty units of sku against the session. Overpicking is
// allowed and reported as a warning.
func (c *Controller) Scan(ctx context.Context, sessionID, sku string, qty decimal.Decimal, field string) (*api.ScanResult, error) {
	sku = strings.TrimSpace(sku)
	switch {
	case sessionID == "":
		return nil, errors.NewValidationError("session id is required").WithField("session_id")
	case sku == "":
		return nil, errors.NewValidationError("SKU is required").WithField("sku")
	case !qty.IsPositive():
		return nil, errors.NewValidationError("quantity must be greater than zero").
			WithField("quantity").
			WithValue(qty.String())
	}
	if field == "" {
		field = DefaultScanField
	}
	if err := c.usable(sessionID); err != nil {
		return nil, err
	}

	var res *api.ScanResult
	err := c.guard(ControlScan, func() error {
		r, err := c.backend.Scan(ctx, api.ScanRequest{SessionID: sessionID, SKU: sku, Quantity: qty, Field: field})
		if err != nil {
			return err
		}
		res = r
		if r.IsOverpicked {
			c.notifier.Notify(event.ToastWarning, fmt.Sprintf("%s is overpicked", sku))
		}
		if _, err := c.fetch(ctx, sessionID); err != nil {
			c.logger.Warn("refresh after scan failed", "session_id", sessionID, "error", err)
		}
		return nil
	})
	return res, err
}

// Complete finishes the session. It refuses without a request unless every
// item is complete; the backend applies the same rule.
func (c *Controller) Complete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.NewValidationError("session id is required").WithField("session_id")
	}
	if err := c.usable(sessionID); err != nil {
		return err
	}
	return c.guard(ControlComplete, func() error {
		sess, err := c.current(ctx, sessionID)
		if err != nil {
			return err
		}
		if !sess.AllItemsComplete() {
			return errors.NewConflictError(fmt.Sprintf("%d of %d items are complete", sess.CompletedItems, sess.TotalItems)).
				WithCode("incomplete")
		}
		return c.finish(ctx, sessionID, false)
	})
}

// ForceComplete finishes the session whatever its item counts. Admin only.
func (c *Controller) ForceComplete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.NewValidationError("session id is required").WithField("session_id")
	}
	if !c.admin {
		return errors.Wrap(errors.ErrForbidden, "force complete requires the admin role")
	}
	if err := c.usable(sessionID); err != nil {
		return err
	}
	return c.guard(ControlComplete, func() error {
		if err := c.confirm(ctx, Prompt{
			Title:        "Force complete",
			Message:      "Complete this session even though some items are not fully scanned?",
			ConfirmLabel: "Force complete",
			Destructive:  true,
		}); err != nil {
			return err
		}
		return c.finish(ctx, sessionID, true)
	})
}

// Cancel discards the session after the user confirms. It cannot be undone.
func (c *Controller) Cancel(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.NewValidationError("session id is required").WithField("session_id")
	}
	if err := c.usable(sessionID); err != nil {
		return err
	}
	return c.guard(ControlCancel, func() error {
		if err := c.confirm(ctx, Prompt{
			Title:        "Cancel session",
			Message:      "Cancel this session? Scanned progress is discarded and this cannot be undone.",
			ConfirmLabel: "Cancel session",
			Destructive:  true,
		}); err != nil {
			return err
		}
		if err := c.backend.CancelSession(ctx, sessionID); err != nil {
			return err
		}
		c.closeOut(sessionID, StateCancelled, api.StatusCancelled)
		c.notifier.Notify(event.ToastInfo, "Session cancelled")
		c.nav.Navigate(c.basePath)
		return nil
	})
}

// Refresh re-fetches the open session.
func (c *Controller) Refresh(ctx context.Context) (*api.Session, error) {
	c.mu.Lock()
	open := c.session
	c.mu.Unlock()
	if open == nil {
		return nil, errors.ErrNoActiveSession
	}
	var sess *api.Session
	err := c.guard(ControlRefresh, func() (err error) {
		sess, err = c.fetch(ctx, open.SessionID)
		return err
	})
	return sess, err
}

// Handle reacts to a pushed session notice. Notices for other sessions are
// ignored; for the open session an authoritative fetch runs in the
// background.
func (c *Controller) Handle(e realtime.Event) {
	ev, ok := e.(*realtime.SessionEvent)
	if !ok {
		return
	}
	c.mu.Lock()
	open := c.session != nil && c.session.SessionID == ev.SessionID
	c.mu.Unlock()
	if !open {
		return
	}
	id := ev.SessionID
	c.background.Go(func() {
		ctx, cancel := context.WithTimeout(c.ctx, refreshTimeout)
		defer cancel()
		if _, err := c.fetch(ctx, id); err != nil {
			c.logger.Debug("pushed refresh failed", "session_id", id, "event", ev.EventType(), "error", err)
		}
	})
}

// Revoke abandons the open session after someone else cancelled,
// reassigned, or took it over. It reports whether ev concerned the open
// session.
func (c *Controller) Revoke(ev event.SessionRevokedEvent) bool {
	c.mu.Lock()
	if c.session == nil || c.session.SessionID != ev.SessionID {
		c.mu.Unlock()
		return false
	}
	switch c.state {
	case StateRevoked, StateCompleted, StateCancelled:
		c.mu.Unlock()
		return false
	}
	c.state = StateRevoked
	c.revocation = &ev
	c.mu.Unlock()

	c.token.Clear(ev.SessionID)
	c.logger.Warn("session revoked",
		"session_id", ev.SessionID,
		"cause", string(ev.Cause),
		"reason", ev.Reason,
		"new_owner", ev.NewOwner,
	)
	c.notifier.Notify(event.ToastWarning, RevokeMessage(ev))
	c.nav.Navigate(c.basePath)
	c.changed()
	return true
}

// Released leaves the open session after it was handed back as a draft
// without the user asking, e.g. on a dropped connection or a suspend. It
// reports whether ev concerned the open session. Redirecting is left to
// whoever released the session.
func (c *Controller) Released(ev event.SessionReleasedEvent) bool {
	c.mu.Lock()
	if c.state != StateInProgress || c.session == nil || c.session.SessionID != ev.SessionID {
		c.mu.Unlock()
		return false
	}
	c.state = StateDraftAvailable
	c.session.Status = api.StatusDraft
	c.release = &ev
	order := c.session.OrderNumber
	c.mu.Unlock()

	c.token.Clear(ev.SessionID)
	c.logger.Info("session saved as draft", "session_id", ev.SessionID, "trigger", ev.Trigger)
	c.notifier.Notify(event.ToastInfo, ReleaseMessage(order, ev))
	c.changed()
	return true
}

func (c *Controller) onBus(e event.Event) {
	switch ev := e.(type) {
	case event.SessionRevokedEvent:
		c.Revoke(ev)
	case event.SessionReleasedEvent:
		c.Released(ev)
	}
}

// ReleaseMessage is the notice shown when the open session was saved as a
// draft on the user's behalf.
func ReleaseMessage(orderNumber string, ev event.SessionReleasedEvent) string {
	msg := fmt.Sprintf("Order %s was saved as a draft", orderNumber)
	switch ev.Trigger {
	case "disconnect", "offline":
		return msg + " because the connection was lost"
	case "freeze":
		return msg + " while the process was suspended"
	}
	return msg
}

// RevokeMessage is the notice shown when the open session is taken away.
// The actor's reason is appended when one was given.
func RevokeMessage(ev event.SessionRevokedEvent) string {
	var msg string
	switch ev.Cause {
	case event.RevokeForceCancelled:
		msg = "This session was cancelled by an administrator"
	case event.RevokeCancelled:
		msg = "This session was cancelled"
	case event.RevokeAssigned:
		msg = "This session was reassigned"
		if ev.NewOwner != "" {
			msg += " to " + ev.NewOwner
		}
	case event.RevokeTakenOver:
		msg = "This session was taken over"
		if ev.NewOwner != "" {
			msg += " by " + ev.NewOwner
		}
	default:
		msg = "This session was transferred"
		if ev.NewOwner != "" {
			msg += " to " + ev.NewOwner
		}
	}
	if reason := strings.TrimSpace(ev.Reason); reason != "" {
		msg += ": " + reason
	}
	return msg
}

// ClaimPrompt is the confirmation shown before claiming a draft. It tells
// the user whether the draft is their own or someone else's.
func ClaimPrompt(orderNumber, owner string, own bool) Prompt {
	whose := "your own draft"
	if !own {
		if owner == "" {
			owner = "another user"
		}
		whose = owner + "'s draft"
	}
	return Prompt{
		Title:        "Resume draft",
		Message:      fmt.Sprintf("Order %s has %s. Claim it and continue where it left off?", orderNumber, whose),
		ConfirmLabel: "Claim draft",
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a copy of the open session, or nil.
func (c *Controller) Session() *api.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneSession(c.session)
}

// OpenSessionID returns the id of the session shown in this view, or "".
func (c *Controller) OpenSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.SessionID
}

// Snapshot returns a copy of the whole view model.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		State:   c.state,
		Order:   c.order,
		Session: cloneSession(c.session),
	}
	if c.checked != nil {
		checked := *c.checked
		s.Check = &checked
	}
	if c.revocation != nil {
		rev := *c.revocation
		s.Revocation = &rev
	}
	if c.release != nil {
		rel := *c.release
		s.Release = &rel
	}
	for _, ctl := range []Control{ControlOpen, ControlScan, ControlComplete, ControlCancel, ControlRefresh} {
		if c.busy[ctl] {
			s.Busy = append(s.Busy, ctl)
		}
	}
	return s
}

// Enabled reports whether ctl can be triggered now.
func (c *Controller) Enabled(ctl Control) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy[ctl] {
		return false
	}
	switch ctl {
	case ControlOpen:
		return c.state != StateChecking
	case ControlScan, ControlCancel:
		return c.state == StateInProgress
	case ControlComplete:
		return c.canCompleteLocked()
	case ControlRefresh:
		return c.session != nil
	default:
		return false
	}
}

// CanComplete reports whether every item of the open session is complete.
func (c *Controller) CanComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canCompleteLocked()
}

// ScanEnabled reports whether scan affordances should be shown.
func (c *Controller) ScanEnabled() bool {
	return c.Enabled(ControlScan)
}

func (c *Controller) canCompleteLocked() bool {
	return c.state == StateInProgress && c.session != nil && c.session.AllItemsComplete()
}

// guard runs fn with ctl disabled. A second trigger while fn runs gets
// ErrBusy. ctl is enabled again however fn returns.
func (c *Controller) guard(ctl Control, fn func() error) error {
	c.mu.Lock()
	if c.busy[ctl] {
		c.mu.Unlock()
		return errors.ErrBusy
	}
	c.busy[ctl] = true
	c.mu.Unlock()
	c.changed()

	defer func() {
		c.mu.Lock()
		delete(c.busy, ctl)
		c.mu.Unlock()
		c.changed()
	}()

	err := fn()
	if err != nil {
		c.observe(ctl, err)
	}
	return err
}

func (c *Controller) observe(ctl Control, err error) {
	kind := errors.KindOf(err)
	c.logger.Debug("lifecycle request failed", "control", string(ctl), "kind", string(kind), "error", err)
	if kind == errors.KindAuth && c.onAuth != nil {
		c.onAuth(err)
	}
}

func (c *Controller) check(ctx context.Context, orderNumber string) (*api.CheckResult, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if err := validateOrder(orderNumber); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.state == StateInProgress && c.order != orderNumber {
		open := c.order
		c.mu.Unlock()
		return nil, openConflict(open)
	}
	prev := c.state
	stay := prev == StateInProgress && c.session != nil
	c.state = StateChecking
	c.mu.Unlock()
	c.changed()

	res, err := c.backend.CheckSession(ctx, orderNumber)

	c.mu.Lock()
	if err != nil {
		c.state = prev
		c.mu.Unlock()
		c.changed()
		return nil, err
	}
	if c.session == nil || c.session.OrderNumber != orderNumber {
		c.session = nil
		c.revocation = nil
		c.release = nil
	}
	c.order = orderNumber
	c.checked = res
	c.state = stateForCheck(res.Status)
	if stay {
		// Checking the order already open here must not close it.
		c.state = prev
	}
	c.mu.Unlock()
	c.changed()

	c.logger.Debug("session checked", "order", orderNumber, "status", string(res.Status), "can_claim", res.CanClaim)
	return res, nil
}

func (c *Controller) decide(ctx context.Context, orderNumber string, sessionType api.SessionType, res *api.CheckResult) (*api.Session, error) {
	switch res.Status {
	case api.CheckNone:
		return c.start(ctx, orderNumber, sessionType)

	case api.CheckDraft:
		if !res.CanClaim || res.SessionID == "" {
			return nil, errors.NewConflictError(fmt.Sprintf("The draft for order %s cannot be claimed", orderNumber)).
				WithCode("not_claimable")
		}
		if err := c.confirm(ctx, ClaimPrompt(orderNumber, res.User, c.isSelf(res.User))); err != nil {
			return nil, err
		}
		return c.claim(ctx, res.SessionID)

	case api.CheckInProgress:
		if c.isSelf(res.User) {
			return nil, errors.NewConflictError(fmt.Sprintf(
				"You already have order %s open elsewhere. Finish it there, or close that window so it is saved as a draft.",
				orderNumber)).
				WithCode("owned_elsewhere").
				WithCause(errors.ErrSessionOwnedElsewhere)
		}
		c.mu.Lock()
		offer := c.takeover
		c.mu.Unlock()
		if res.CanClaim && res.SessionID != "" && offer != nil {
			path, err := offer(ctx, res.SessionID, res.User)
			if err != nil {
				return nil, err
			}
			return c.resume(ctx, path)
		}
		owner := res.User
		if owner == "" {
			owner = "another user"
		}
		return nil, errors.NewConflictError(fmt.Sprintf("Order %s is being worked by %s", orderNumber, owner)).
			WithCode("owned_by_other").
			WithCause(errors.ErrSessionOwnedByOther)

	case api.CheckCompleted:
		return nil, errors.NewConflictError(fmt.Sprintf("Order %s has already been completed", orderNumber)).
			WithCode("already_completed").
			WithCause(errors.ErrSessionCompleted)

	case api.CheckCancelled:
		if err := c.confirm(ctx, Prompt{
			Title:        "Start fresh",
			Message:      fmt.Sprintf("The last session for order %s was cancelled. Start a new one?", orderNumber),
			ConfirmLabel: "Start new session",
		}); err != nil {
			return nil, err
		}
		return c.start(ctx, orderNumber, sessionType)

	default:
		return nil, errors.NewConflictError(fmt.Sprintf("Order %s has unknown session status %q", orderNumber, res.Status)).
			WithCode("unknown_status")
	}
}

func (c *Controller) start(ctx context.Context, orderNumber string, sessionType api.SessionType) (*api.Session, error) {
	if err := c.Vacant(""); err != nil {
		return nil, err
	}
	sess, err := c.backend.StartSession(ctx, orderNumber, sessionType)
	if err != nil {
		return nil, err
	}
	c.adopt(sess)
	c.navigateTo(sess)
	return cloneSession(sess), nil
}

func (c *Controller) claim(ctx context.Context, sessionID string) (*api.Session, error) {
	if err := c.Vacant(sessionID); err != nil {
		return nil, err
	}
	claimed, err := c.backend.ClaimSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if claimed == "" {
		claimed = sessionID
	}
	sess, err := c.backend.SessionStatus(ctx, claimed)
	if err != nil {
		return nil, err
	}
	c.adopt(sess)
	c.navigateTo(sess)
	return cloneSession(sess), nil
}

func (c *Controller) resume(ctx context.Context, path string) (*api.Session, error) {
	var found *api.Session
	final, err := deeplink.Follow(ctx, path, deeplink.DefaultMaxHops, func(ctx context.Context, p string) (deeplink.Step, error) {
		found = nil
		link, err := deeplink.Parse(c.basePath, p)
		if err != nil {
			return deeplink.Stay(), nil
		}
		res, err := c.backend.CheckSession(ctx, link.OrderNumber)
		if err != nil {
			return deeplink.Step{}, err
		}
		if res.Status != api.CheckInProgress || res.SessionID == "" || !c.isSelf(res.User) {
			return deeplink.RedirectTo(c.basePath), nil
		}
		sess, err := c.backend.SessionStatus(ctx, res.SessionID)
		if err != nil {
			return deeplink.Step{}, err
		}
		canonical, err := deeplink.Generate(c.basePath, sess.OrderNumber, sess.InvoiceNumber)
		if err == nil && canonical != p {
			return deeplink.RedirectTo(canonical), nil
		}
		found = sess
		return deeplink.Stay(), nil
	})
	if err != nil {
		return nil, err
	}
	if found != nil {
		if err := c.Vacant(found.SessionID); err != nil {
			return nil, err
		}
	}
	c.nav.Navigate(final)
	if found == nil {
		return nil, errors.Wrapf(errors.ErrNoActiveSession, "nothing to resume at %s", path)
	}
	c.adopt(found)
	return cloneSession(found), nil
}

func (c *Controller) finish(ctx context.Context, sessionID string, force bool) error {
	if err := c.backend.CompleteSession(ctx, sessionID, force); err != nil {
		return err
	}
	c.closeOut(sessionID, StateCompleted, api.StatusCompleted)
	c.notifier.Notify(event.ToastSuccess, "Session completed")
	c.nav.Navigate(c.basePath)
	return nil
}

// adopt makes s the open session and the active work.
func (c *Controller) adopt(s *api.Session) {
	c.mu.Lock()
	c.session = cloneSession(s)
	c.order = s.OrderNumber
	c.state = StateInProgress
	c.revocation = nil
	c.release = nil
	c.mu.Unlock()

	c.token.Set(s.SessionID)
	c.logger.Info("session opened", "session_id", s.SessionID, "order", s.OrderNumber)
	c.changed()
}

// closeOut records a terminal transition the backend acknowledged.
func (c *Controller) closeOut(sessionID string, state State, status api.Status) {
	c.mu.Lock()
	if c.session != nil && c.session.SessionID == sessionID {
		c.state = state
		c.session.Status = status
	}
	c.mu.Unlock()

	c.token.Clear(sessionID)
	c.logger.Info("session closed", "session_id", sessionID, "status", string(status))
	c.changed()
}

// fetch loads the session and folds it into the view if it is the open one.
func (c *Controller) fetch(ctx context.Context, sessionID string) (*api.Session, error) {
	sess, err := c.backend.SessionStatus(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	c.apply(sess)
	return cloneSession(sess), nil
}

func (c *Controller) apply(s *api.Session) {
	c.mu.Lock()
	if c.session == nil || c.session.SessionID != s.SessionID {
		c.mu.Unlock()
		return
	}
	c.session = cloneSession(s)
	prev := c.state
	if prev != StateRevoked {
		switch s.Status {
		case api.StatusCompleted:
			c.state = StateCompleted
		case api.StatusCancelled:
			c.state = StateCancelled
		case api.StatusDraft:
			c.state = StateDraftAvailable
		case api.StatusInProgress:
			if s.CurrentOwner != "" && !c.isSelf(s.CurrentOwner) {
				c.state = StateInProgressElsewhere
			} else {
				c.state = StateInProgress
			}
		}
	}
	left := prev == StateInProgress && c.state != StateInProgress
	c.mu.Unlock()

	if left {
		c.token.Clear(s.SessionID)
	}
	c.changed()
}

// current returns the open session if it is sessionID, or fetches it.
func (c *Controller) current(ctx context.Context, sessionID string) (*api.Session, error) {
	c.mu.Lock()
	if c.session != nil && c.session.SessionID == sessionID {
		s := cloneSession(c.session)
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()
	return c.backend.SessionStatus(ctx, sessionID)
}

// openFor returns the open session if it is in progress for orderNumber.
func (c *Controller) openFor(orderNumber string) *api.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateInProgress || c.session == nil || c.session.OrderNumber != orderNumber {
		return nil
	}
	return cloneSession(c.session)
}

// Vacant returns a session_open conflict while this view is working a
// session other than sessionID. An empty sessionID matches no session.
func (c *Controller) Vacant(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateInProgress || c.session == nil || c.session.SessionID == sessionID {
		return nil
	}
	return openConflict(c.session.OrderNumber)
}

func openConflict(orderNumber string) error {
	return errors.NewConflictError(fmt.Sprintf("Order %s is still open here. Complete or cancel it first.", orderNumber)).
		WithCode("session_open")
}

// usable rejects work on the open session once this view no longer owns it.
func (c *Controller) usable(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.SessionID != sessionID {
		return nil
	}
	var err *errors.SessionError
	switch c.state {
	case StateRevoked:
		msg := "This session is no longer yours"
		if c.revocation != nil {
			msg = RevokeMessage(*c.revocation)
		}
		err = errors.NewSessionError(msg, errors.ErrSessionRevoked)
	case StateCompleted:
		err = errors.NewSessionError("This session is already completed", errors.ErrSessionCompleted)
	case StateCancelled:
		err = errors.NewSessionError("This session was cancelled", errors.ErrSessionCancelled)
	case StateDraftAvailable:
		msg := "This session was saved as a draft"
		if c.release != nil {
			msg = ReleaseMessage(c.session.OrderNumber, *c.release)
		}
		err = errors.NewSessionError(msg, errors.ErrSessionReleased).WithSeverity(errors.SeverityWarning)
	default:
		return nil
	}
	return err.WithSessionID(sessionID).WithOrder(c.session.OrderNumber)
}

func (c *Controller) confirm(ctx context.Context, p Prompt) error {
	ok, err := c.prompter.Confirm(ctx, p)
	if err != nil {
		return err
	}
	if !ok {
		return errors.ErrDeclined
	}
	return nil
}

func (c *Controller) navigateTo(s *api.Session) {
	path, err := deeplink.Generate(c.basePath, s.OrderNumber, s.InvoiceNumber)
	if err != nil {
		c.logger.Warn("no deep link for session", "session_id", s.SessionID, "error", err)
		return
	}
	c.nav.Navigate(path)
}

func (c *Controller) isSelf(user string) bool {
	return user != "" && (user == c.userID || user == c.username)
}

func (c *Controller) changed() {
	c.mu.Lock()
	fns := append([]func(){}, c.onChange...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func validateOrder(orderNumber string) error {
	if orderNumber == "" {
		return errors.NewValidationError("order number is required").WithField("order_number")
	}
	return nil
}

// ParseQuantity reads a scan quantity typed by the user. Fractional values
// are allowed; zero and negative values are not.
func ParseQuantity(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, errors.NewValidationError("quantity is required").WithField("quantity")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.NewValidationError("quantity must be a number").
			WithField("quantity").
			WithValue(s).
			WithCause(err)
	}
	if !d.IsPositive() {
		return decimal.Zero, errors.NewValidationError("quantity must be greater than zero").
			WithField("quantity").
			WithValue(s)
	}
	return d, nil
}
