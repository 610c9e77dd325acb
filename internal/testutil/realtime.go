package testutil

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/packline/internal/api"
)

// Frame is one inbound realtime message the backend received.
type Frame struct {
	Event string
	Data  map[string]any
	User  string // user_id from the peer's room join, if any
}

var palette = []string{"#e6194b", "#3cb44b", "#4363d8", "#f58231", "#911eb4"}

type peer struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	userID   string
	username string
	color    string
	rooms    map[string]bool
}

func (p *peer) send(name string, data any) {
	payload, err := json.Marshal(map[string]any{"event": name, "data": data})
	if err != nil {
		return
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_ = p.conn.WriteMessage(websocket.TextMessage, payload)
}

func (p *peer) user() map[string]any {
	return map[string]any{"user_id": p.userID, "username": p.username, "color": p.color}
}

type realtimeHub struct {
	mu       sync.Mutex
	peers    map[*peer]bool
	frames   []Frame
	accepted int
	reject   bool
}

func (h *realtimeHub) init() {
	h.peers = make(map[*peer]bool)
}

func (h *realtimeHub) handle(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	reject := h.reject
	h.mu.Unlock()
	if reject {
		http.Error(w, "realtime unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{conn: conn, rooms: make(map[string]bool)}

	h.mu.Lock()
	p.color = palette[h.accepted%len(palette)]
	h.accepted++
	h.peers[p] = true
	h.mu.Unlock()

	go h.serve(p)
}

func (h *realtimeHub) serve(p *peer) {
	defer func() {
		h.mu.Lock()
		delete(h.peers, p)
		left := p.userID
		h.mu.Unlock()
		_ = p.conn.Close()
		if left != "" {
			h.broadcast(p, "user_left", map[string]any{"user_id": left, "username": p.username})
		}
	}()

	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		var f struct {
			Event string         `json:"event"`
			Data  map[string]any `json:"data"`
		}
		if json.Unmarshal(raw, &f) != nil {
			continue
		}

		h.mu.Lock()
		if f.Event == "join_inventory_room" {
			p.userID, _ = f.Data["user_id"].(string)
			p.username, _ = f.Data["username"].(string)
			room, _ := f.Data["room"].(string)
			p.rooms[room] = true
		}
		h.frames = append(h.frames, Frame{Event: f.Event, Data: f.Data, User: p.userID})
		h.mu.Unlock()

		switch f.Event {
		case "join_inventory_room":
			room, _ := f.Data["room"].(string)
			p.send("room_joined", map[string]any{"room": room, "user": p.user(), "users": h.roster(room)})
			h.broadcast(p, "user_joined", map[string]any{"user": p.user()})
		case "update_cursor":
			data := p.user()
			for k, v := range f.Data {
				data[k] = v
			}
			h.broadcast(p, "cursor_updated", data)
		case "inventory_update":
			data := p.user()
			for k, v := range f.Data {
				data[k] = v
			}
			h.broadcast(p, "inventory_changed", data)
		case "takeover_request", "takeover_response":
			h.broadcast(p, f.Event, f.Data)
		}
	}
}

func (h *realtimeHub) roster(room string) []map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	var users []map[string]any
	for p := range h.peers {
		if p.rooms[room] && p.userID != "" {
			users = append(users, p.user())
		}
	}
	return users
}

func (h *realtimeHub) snapshot() []*peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		out = append(out, p)
	}
	return out
}

// broadcast sends to every peer except from.
func (h *realtimeHub) broadcast(from *peer, name string, data any) {
	for _, p := range h.snapshot() {
		if p != from {
			p.send(name, data)
		}
	}
}

func (h *realtimeHub) pushSession(name string, s api.Session, extra map[string]any) {
	data := map[string]any{
		"session_id":     s.SessionID,
		"order_number":   s.OrderNumber,
		"invoice_number": s.InvoiceNumber,
		"status":         string(s.Status),
		"new_owner":      s.CurrentOwner,
	}
	for k, v := range extra {
		data[k] = v
	}
	h.broadcast(nil, name, data)
}

func (h *realtimeHub) closeAll() {
	for _, p := range h.snapshot() {
		_ = p.conn.Close()
	}
}

// Push sends an event to every connected realtime peer.
func (b *Backend) Push(name string, data any) {
	b.rt.broadcast(nil, name, data)
}

// DropConnections severs every realtime connection without a close frame,
// as a network failure would.
func (b *Backend) DropConnections() {
	b.rt.closeAll()
}

// DisconnectAll closes every realtime connection with a normal close frame,
// as a deliberate server-side disconnect would.
func (b *Backend) DisconnectAll() {
	for _, p := range b.rt.snapshot() {
		p.writeMu.Lock()
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutdown"),
			time.Now().Add(time.Second))
		p.writeMu.Unlock()
	}
}

// RejectRealtime makes new realtime handshakes fail while on is true.
func (b *Backend) RejectRealtime(on bool) {
	b.rt.mu.Lock()
	defer b.rt.mu.Unlock()
	b.rt.reject = on
}

// Accepted returns how many realtime connections have been accepted.
func (b *Backend) Accepted() int {
	b.rt.mu.Lock()
	defer b.rt.mu.Unlock()
	return b.rt.accepted
}

// Peers returns how many realtime connections are currently open.
func (b *Backend) Peers() int {
	b.rt.mu.Lock()
	defer b.rt.mu.Unlock()
	return len(b.rt.peers)
}

// Frames returns inbound frames, optionally filtered by event name.
func (b *Backend) Frames(name string) []Frame {
	b.rt.mu.Lock()
	defer b.rt.mu.Unlock()
	var out []Frame
	for _, f := range b.rt.frames {
		if name == "" || f.Event == name {
			out = append(out, f)
		}
	}
	return out
}
