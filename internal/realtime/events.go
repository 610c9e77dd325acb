package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/Iron-Ham/packline/internal/event"
)

// Inbound event names.
const (
	EventConnected       = "connected"
	EventDisconnected    = "disconnected"
	EventReconnectFailed = "reconnect_failed"

	EventRoomJoined       = "room_joined"
	EventUserJoined       = "user_joined"
	EventUserLeft         = "user_left"
	EventCursorUpdated    = "cursor_updated"
	EventInventoryChanged = "inventory_changed"
	EventPresenceUpdate   = "presence_update"

	EventSessionStarted        = "session_started"
	EventSessionUpdated        = "session_updated"
	EventSessionCompleted      = "session_completed"
	EventSessionCancelled      = "session_cancelled"
	EventSessionDrafted        = "session_drafted"
	EventSessionTransferred    = "session_transferred"
	EventSessionForcedCancel   = "session_forced_cancel"
	EventSessionForcedTakeover = "session_forced_takeover"
	EventSessionAssigned       = "session_assigned"

	EventTakeoverRequest  = "takeover_request"
	EventTakeoverResponse = "takeover_response"
)

// Outbound event names.
const (
	EmitJoinRoom        = "join_inventory_room"
	EmitUpdateCursor    = "update_cursor"
	EmitInventoryUpdate = "inventory_update"
)

// SessionEventNames lists every session lifecycle notice the server pushes.
var SessionEventNames = []string{
	EventSessionStarted,
	EventSessionUpdated,
	EventSessionCompleted,
	EventSessionCancelled,
	EventSessionDrafted,
	EventSessionTransferred,
	EventSessionForcedCancel,
	EventSessionForcedTakeover,
	EventSessionAssigned,
}

// Frame is the wire envelope for every message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// User is a roster entry as the server describes it.
type User struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Color    string `json:"color,omitempty"`
}

// Event is the closed set of events delivered by a Channel. Only types in
// this package implement it.
type Event interface {
	event.Event
	realtimeEvent()
}

type base struct{ event.Base }

func (base) realtimeEvent() {}

func newBase(name string) base { return base{event.NewBase(name)} }

// ConnectedEvent is published each time a connection is established.
type ConnectedEvent struct {
	base
	Attempt int // 0 for a first connection, otherwise the reconnect attempt that succeeded
}

// DisconnectedEvent is published when an established connection ends.
type DisconnectedEvent struct {
	base
	Reason Reason
}

// ReconnectFailedEvent is published once automatic reconnection gives up.
type ReconnectFailedEvent struct {
	base
	Attempts int
}

// RoomJoinedEvent acknowledges our own room join with the full roster.
type RoomJoinedEvent struct {
	base
	Room  string `json:"room"`
	User  User   `json:"user"`
	Users []User `json:"users"`
}

// UserJoinedEvent announces another viewer.
type UserJoinedEvent struct {
	base
	User User `json:"user"`
}

// UserLeftEvent announces a viewer leaving.
type UserLeftEvent struct {
	base
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// CursorUpdatedEvent reports where another viewer's cursor is. An empty
// RowID or Field means the viewer is not focused on any cell.
type CursorUpdatedEvent struct {
	base
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	Color    string `json:"color,omitempty"`
	RowID    string `json:"row_id"`
	Field    string `json:"field"`
	Position int    `json:"position"`
}

// InventoryChangedEvent reports that another viewer changed inventory data.
type InventoryChangedEvent struct {
	base
	UserID   string          `json:"user_id,omitempty"`
	Username string          `json:"username,omitempty"`
	SKU      string          `json:"sku,omitempty"`
	Field    string          `json:"field,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// PresenceUpdateEvent replaces the roster.
type PresenceUpdateEvent struct {
	base
	Users []User `json:"users"`
}

// SessionEvent is any session lifecycle notice. EventType distinguishes
// the variants; fields the server did not send are empty.
type SessionEvent struct {
	base
	SessionID     string `json:"session_id"`
	OrderNumber   string `json:"order_number,omitempty"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
	Status        string `json:"status,omitempty"`
	User          string `json:"user,omitempty"`
	PreviousOwner string `json:"previous_owner,omitempty"`
	NewOwner      string `json:"new_owner,omitempty"`
	TargetUserID  string `json:"target_user_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// TakeoverRequestEvent asks the current owner to hand a session over.
type TakeoverRequestEvent struct {
	base
	RequestID     string `json:"request_id,omitempty"`
	SessionID     string `json:"session_id"`
	RequesterID   string `json:"requester_id"`
	RequesterName string `json:"requester_name,omitempty"`
	Message       string `json:"message,omitempty"`
}

// TakeoverResponseEvent is the owner's answer to a TakeoverRequestEvent.
type TakeoverResponseEvent struct {
	base
	RequestID   string `json:"request_id,omitempty"`
	SessionID   string `json:"session_id"`
	ResponderID string `json:"responder_id,omitempty"`
	Accepted    bool   `json:"accepted"`
	Message     string `json:"message,omitempty"`
}

// UnknownEvent carries a frame whose name this client does not recognize.
type UnknownEvent struct {
	base
	Data json.RawMessage
}

// Decode turns a wire frame into its typed event.
func Decode(f Frame) (Event, error) {
	b := newBase(f.Event)
	var (
		ev     Event
		target any
	)
	switch f.Event {
	case EventRoomJoined:
		e := &RoomJoinedEvent{base: b}
		ev, target = e, e
	case EventUserJoined:
		e := &UserJoinedEvent{base: b}
		ev, target = e, e
	case EventUserLeft:
		e := &UserLeftEvent{base: b}
		ev, target = e, e
	case EventCursorUpdated:
		e := &CursorUpdatedEvent{base: b}
		ev, target = e, e
	case EventInventoryChanged:
		e := &InventoryChangedEvent{base: b}
		ev, target = e, e
	case EventPresenceUpdate:
		e := &PresenceUpdateEvent{base: b}
		ev, target = e, e
	case EventSessionStarted, EventSessionUpdated, EventSessionCompleted, EventSessionCancelled,
		EventSessionDrafted, EventSessionTransferred, EventSessionForcedCancel,
		EventSessionForcedTakeover, EventSessionAssigned:
		e := &SessionEvent{base: b}
		ev, target = e, e
	case EventTakeoverRequest:
		e := &TakeoverRequestEvent{base: b}
		ev, target = e, e
	case EventTakeoverResponse:
		e := &TakeoverResponseEvent{base: b}
		ev, target = e, e
	case "":
		return nil, fmt.Errorf("frame has no event name")
	case EventConnected, EventDisconnected, EventReconnectFailed:
		return nil, fmt.Errorf("%s is a local event and cannot arrive over the wire", f.Event)
	default:
		return &UnknownEvent{base: b, Data: f.Data}, nil
	}

	if len(f.Data) > 0 && string(f.Data) != "null" {
		if err := json.Unmarshal(f.Data, target); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Event, err)
		}
	}
	return ev, nil
}

// Encode wraps a payload in a wire frame.
func Encode(name string, payload any) ([]byte, error) {
	f := Frame{Event: name}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		f.Data = data
	}
	return json.Marshal(f)
}
