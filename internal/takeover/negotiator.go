package takeover

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Iron-Ham/packline/internal/errors"
	"github.com/Iron-Ham/packline/internal/realtime"
)

var errNotConnected = errors.New("realtime is not connected")

// Negotiator is the cooperative, ask-first side of a takeover. Only the
// notification half exists: a request reaches the owner as a toast, and
// the answer reaches the requester the same way. Neither side changes
// ownership; the owner releases and the requester claims the draft.
type Negotiator interface {
	// Request asks the owner of sessionID to hand it over and returns the
	// request id.
	Request(ctx context.Context, sessionID, message string) (string, error)
	// Respond answers a request received earlier.
	Respond(ctx context.Context, req *realtime.TakeoverRequestEvent, accept bool, message string) error
	// Requested records a request addressed to this user.
	Requested(req *realtime.TakeoverRequestEvent)
	// Pending reports whether requestID was sent by this user and is unanswered.
	Pending(requestID string) bool
	// Answered records the answer to one of this user's requests.
	Answered(resp *realtime.TakeoverResponseEvent)
}

// Emitter sends outbound realtime frames. Emit drops frames while
// disconnected, so callers that need delivery check Connected first.
type Emitter interface {
	Emit(name string, payload any) error
	Connected() bool
}

// ChannelNegotiator carries takeover requests over the realtime channel.
type ChannelNegotiator struct {
	emitter  Emitter
	self     realtime.Identity
	mu       sync.Mutex
	pending  map[string]string
	incoming map[string]*realtime.TakeoverRequestEvent
}

var _ Negotiator = (*ChannelNegotiator)(nil)

// NewChannelNegotiator returns a Negotiator speaking as self.
func NewChannelNegotiator(emitter Emitter, self realtime.Identity) *ChannelNegotiator {
	return &ChannelNegotiator{
		emitter:  emitter,
		self:     self,
		pending:  make(map[string]string),
		incoming: make(map[string]*realtime.TakeoverRequestEvent),
	}
}

// Request emits a takeover_request frame. It fails without sending
// anything while the realtime connection is down.
func (n *ChannelNegotiator) Request(_ context.Context, sessionID, message string) (string, error) {
	if !n.emitter.Connected() {
		return "", errors.NewTransportError("takeover request", errNotConnected)
	}
	id := uuid.NewString()
	err := n.emitter.Emit(realtime.EventTakeoverRequest, map[string]any{
		"request_id":     id,
		"session_id":     sessionID,
		"requester_id":   n.self.UserID,
		"requester_name": n.self.Username,
		"message":        message,
	})
	if err != nil {
		return "", err
	}
	n.mu.Lock()
	n.pending[id] = sessionID
	n.mu.Unlock()
	return id, nil
}

// Respond emits a takeover_response frame.
func (n *ChannelNegotiator) Respond(_ context.Context, req *realtime.TakeoverRequestEvent, accept bool, message string) error {
	n.mu.Lock()
	delete(n.incoming, req.RequestID)
	n.mu.Unlock()
	return n.emitter.Emit(realtime.EventTakeoverResponse, map[string]any{
		"request_id":   req.RequestID,
		"session_id":   req.SessionID,
		"responder_id": n.self.UserID,
		"accepted":     accept,
		"message":      message,
	})
}

// Requested remembers req until it is answered.
func (n *ChannelNegotiator) Requested(req *realtime.TakeoverRequestEvent) {
	if req.RequestID == "" {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.incoming[req.RequestID] = req
}

// Incoming returns the unanswered requests addressed to this user, oldest
// first.
func (n *ChannelNegotiator) Incoming() []*realtime.TakeoverRequestEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*realtime.TakeoverRequestEvent, 0, len(n.incoming))
	for _, r := range n.incoming {
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp().Before(out[j].Timestamp())
	})
	return out
}

// Pending reports whether requestID is one of ours awaiting an answer.
func (n *ChannelNegotiator) Pending(requestID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.pending[requestID]
	return ok
}

// Answered forgets the request resp answers.
func (n *ChannelNegotiator) Answered(resp *realtime.TakeoverResponseEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.pending, resp.RequestID)
}
