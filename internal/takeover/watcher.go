package takeover

import (
	"github.com/Iron-Ham/packline/internal/event"
	"github.com/Iron-Ham/packline/internal/fulfillment"
	"github.com/Iron-Ham/packline/internal/realtime"
)

// Watch subscribes to the notices that can take the open session away and
// to peer takeover requests. Calling it again has no effect.
func (c *Coordinator) Watch(sub fulfillment.Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil || sub == nil {
		return
	}
	c.sub = sub
	for _, name := range []string{
		realtime.EventSessionForcedCancel,
		realtime.EventSessionAssigned,
		realtime.EventSessionForcedTakeover,
		realtime.EventSessionTransferred,
		realtime.EventTakeoverRequest,
		realtime.EventTakeoverResponse,
	} {
		c.subs = append(c.subs, sub.On(name, c.Handle))
	}
}

// Close drops the subscriptions made by Watch.
func (c *Coordinator) Close() {
	c.mu.Lock()
	sub, subs := c.sub, c.subs
	c.sub, c.subs = nil, nil
	c.mu.Unlock()
	for _, id := range subs {
		sub.Off(id)
	}
}

// Handle applies one pushed notice.
func (c *Coordinator) Handle(e realtime.Event) {
	switch ev := e.(type) {
	case *realtime.SessionEvent:
		c.sessionChanged(ev)
	case *realtime.TakeoverRequestEvent:
		c.takeoverRequested(ev)
	case *realtime.TakeoverResponseEvent:
		c.takeoverAnswered(ev)
	}
}

func (c *Coordinator) sessionChanged(ev *realtime.SessionEvent) {
	open := c.open()
	if open == "" || ev.SessionID != open {
		return
	}

	newOwner := ev.NewOwner
	if ev.TargetUserID != "" {
		newOwner = ev.TargetUserID
	}
	var cause event.RevokeCause
	switch ev.EventType() {
	case realtime.EventSessionForcedCancel:
		cause = event.RevokeForceCancelled
		newOwner = ""
	case realtime.EventSessionAssigned:
		cause = event.RevokeAssigned
	case realtime.EventSessionForcedTakeover:
		cause = event.RevokeTakenOver
	case realtime.EventSessionTransferred:
		cause = event.RevokeTransferred
	default:
		return
	}
	// A transfer to this user is not a loss.
	if cause != event.RevokeForceCancelled && c.isSelf(newOwner) {
		return
	}

	c.logger.Info("open session revoked remotely",
		"session_id", ev.SessionID,
		"event", ev.EventType(),
		"by", ev.User,
		"new_owner", newOwner,
	)
	if c.bus != nil {
		c.bus.Publish(event.NewSessionRevokedEvent(ev.SessionID, cause, ev.Reason, newOwner))
	}
}

func (c *Coordinator) takeoverRequested(ev *realtime.TakeoverRequestEvent) {
	open := c.open()
	if open == "" || ev.SessionID != open || c.isSelf(ev.RequesterID) {
		return
	}
	who := ev.RequesterName
	if who == "" {
		who = ev.RequesterID
	}
	msg := who + " asked to take over this session"
	if ev.Message != "" {
		msg += ": " + ev.Message
	}
	c.notifier.Notify(event.ToastWarning, msg)
	if c.negotiator != nil {
		c.negotiator.Requested(ev)
	}
}

func (c *Coordinator) takeoverAnswered(ev *realtime.TakeoverResponseEvent) {
	if c.negotiator == nil || !c.negotiator.Pending(ev.RequestID) {
		return
	}
	c.negotiator.Answered(ev)
	who := ev.ResponderID
	if who == "" {
		who = "The owner"
	}
	if ev.Accepted {
		c.notifier.Notify(event.ToastSuccess, who+" released the session. Open the order again to claim it.")
		return
	}
	msg := who + " declined the takeover request"
	if ev.Message != "" {
		msg += ": " + ev.Message
	}
	c.notifier.Notify(event.ToastInfo, msg)
}
