// Package presence tracks who else is viewing the shared inventory room,
// where their cursors are, and which cells they are editing.
//
// The roster and cell locks are rebuilt from every room_joined and
// presence_update event, so nothing is assumed to survive a reconnect.
// Inventory change notices only raise a toast and a refresh request; local
// table data is never patched from them.
package presence

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/Iron-Ham/packline/internal/event"
	"github.com/Iron-Ham/packline/internal/logging"
	"github.com/Iron-Ham/packline/internal/realtime"
)

// User is one roster entry.
type User struct {
	UserID   string
	Username string
	Color    string
	IsSelf   bool
}

// Indicator is one remote editor shown on a cell.
type Indicator struct {
	UserID   string
	Username string
	Color    string
}

// Palette colors users the server did not color.
var Palette = []string{
	"#3b82f6", "#ef4444", "#10b981", "#f59e0b",
	"#8b5cf6", "#ec4899", "#14b8a6", "#f97316",
}

// ColorFor returns the fallback color for userID. The same id always gets
// the same color.
func ColorFor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return Palette[h.Sum32()%uint32(len(Palette))]
}

// Channel is the part of the realtime channel the tracker uses.
type Channel interface {
	On(name string, handler func(realtime.Event)) string
	Off(id string) bool
	Emit(name string, payload any) error
}

// Tracker is the presence view model for one room.
type Tracker struct {
	self   realtime.Identity
	ch     Channel
	bus    *event.Bus
	logger *logging.Logger

	mu       sync.RWMutex
	roster   map[string]User
	locks    *LockIndex
	focus    Cell
	subs     []string
	onChange []func()
}

// NewTracker creates a tracker for self. Toasts and refresh requests are
// published on bus, which may be nil.
func NewTracker(self realtime.Identity, ch Channel, bus *event.Bus, logger *logging.Logger) *Tracker {
	return &Tracker{
		self:   self,
		ch:     ch,
		bus:    bus,
		logger: logging.OrNop(logger).WithComponent("presence").WithUser(self.UserID),
		roster: make(map[string]User),
		locks:  NewLockIndex(),
	}
}

// Start subscribes to the presence events on the channel. Calling it twice
// has no further effect.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.subs) > 0 || t.ch == nil {
		return
	}
	for _, name := range []string{
		realtime.EventRoomJoined,
		realtime.EventUserJoined,
		realtime.EventUserLeft,
		realtime.EventCursorUpdated,
		realtime.EventPresenceUpdate,
		realtime.EventInventoryChanged,
		realtime.EventDisconnected,
	} {
		t.subs = append(t.subs, t.ch.On(name, t.Handle))
	}
}

// Stop removes the tracker's subscriptions.
func (t *Tracker) Stop() {
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()
	for _, id := range subs {
		t.ch.Off(id)
	}
}

// OnChange registers fn to run after the roster or locks change.
func (t *Tracker) OnChange(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, fn)
}

// Handle applies one realtime event.
func (t *Tracker) Handle(e realtime.Event) {
	changed := false
	switch ev := e.(type) {
	case *realtime.RoomJoinedEvent:
		changed = t.reseed(ev.Users, true)
	case *realtime.PresenceUpdateEvent:
		changed = t.reseed(ev.Users, false)
	case *realtime.UserJoinedEvent:
		changed = t.join(ev.User)
	case *realtime.UserLeftEvent:
		changed = t.leave(ev.UserID)
	case *realtime.CursorUpdatedEvent:
		changed = t.cursor(ev)
	case *realtime.InventoryChangedEvent:
		t.inventoryChanged(ev)
	case *realtime.DisconnectedEvent:
		// Remote cursors are unknowable until the next room_joined.
		t.mu.Lock()
		changed = t.locks.Len() > 0
		t.locks.Reset()
		t.mu.Unlock()
	default:
		return
	}
	if changed {
		t.notify()
	}
}

func (t *Tracker) reseed(users []realtime.User, clearLocks bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.roster = make(map[string]User, len(users)+1)
	t.roster[t.self.UserID] = t.userLocked(realtime.User{UserID: t.self.UserID, Username: t.self.Username})
	for _, u := range users {
		if u.UserID == "" {
			continue
		}
		t.roster[u.UserID] = t.userLocked(u)
	}

	if clearLocks {
		t.locks.Reset()
	} else {
		t.locks.Retain(func(id string) bool {
			_, ok := t.roster[id]
			return ok
		})
	}
	t.logger.Debug("roster reseeded", "users", len(t.roster), "locks", t.locks.Len())
	return true
}

func (t *Tracker) userLocked(u realtime.User) User {
	color := u.Color
	if color == "" {
		color = ColorFor(u.UserID)
	}
	name := u.Username
	if name == "" {
		name = u.UserID
	}
	return User{UserID: u.UserID, Username: name, Color: color, IsSelf: u.UserID == t.self.UserID}
}

func (t *Tracker) join(u realtime.User) bool {
	if u.UserID == "" || u.UserID == t.self.UserID {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roster[u.UserID] = t.userLocked(u)
	return true
}

func (t *Tracker) leave(userID string) bool {
	if userID == "" || userID == t.self.UserID {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, present := t.roster[userID]
	delete(t.roster, userID)
	_, released := t.locks.Move(userID, Cell{})
	return present || released
}

func (t *Tracker) cursor(ev *realtime.CursorUpdatedEvent) bool {
	if ev.UserID == "" || ev.UserID == t.self.UserID {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, known := t.roster[ev.UserID]; !known {
		t.roster[ev.UserID] = t.userLocked(realtime.User{UserID: ev.UserID, Username: ev.Username, Color: ev.Color})
	}
	_, changed := t.locks.Move(ev.UserID, Cell{SKU: ev.RowID, Field: ev.Field})
	return changed
}

func (t *Tracker) inventoryChanged(ev *realtime.InventoryChangedEvent) {
	if ev.UserID != "" && ev.UserID == t.self.UserID {
		return
	}
	if t.bus == nil {
		return
	}
	msg := ev.Message
	if msg == "" {
		who := ev.Username
		if who == "" {
			who = "Another user"
		}
		msg = who + " updated inventory"
		if ev.SKU != "" {
			msg = fmt.Sprintf("%s updated %s", who, ev.SKU)
		}
	}
	t.bus.Publish(event.NewToastEvent(event.ToastInfo, msg))
	t.bus.Publish(event.NewRefreshRequestedEvent(realtime.EventInventoryChanged))
}

func (t *Tracker) notify() {
	t.mu.RLock()
	fns := append([]func(){}, t.onChange...)
	t.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

// Roster returns the current viewers, self first, then by username.
func (t *Tracker) Roster() []User {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]User, 0, len(t.roster))
	for _, u := range t.roster {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsSelf != out[j].IsSelf {
			return out[i].IsSelf
		}
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Indicators returns one entry per remote user editing the cell.
func (t *Tracker) Indicators(sku, field string) []Indicator {
	t.mu.RLock()
	defer t.mu.RUnlock()
	holders := t.locks.Holders(Cell{SKU: sku, Field: field})
	out := make([]Indicator, 0, len(holders))
	for _, id := range holders {
		u, ok := t.roster[id]
		if !ok {
			u = User{UserID: id, Username: id, Color: ColorFor(id)}
		}
		out = append(out, Indicator{UserID: id, Username: u.Username, Color: u.Color})
	}
	return out
}

// LockedCells returns every cell with at least one remote editor.
func (t *Tracker) LockedCells() []Cell {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.locks.Cells()
}

// Focus announces that this user's cursor is on a cell.
func (t *Tracker) Focus(sku, field string, position int) {
	t.mu.Lock()
	t.focus = Cell{SKU: sku, Field: field}
	t.mu.Unlock()
	t.emit(realtime.EmitUpdateCursor, map[string]any{"row_id": sku, "field": field, "position": position})
}

// Blur announces that this user's cursor left the table.
func (t *Tracker) Blur() {
	t.mu.Lock()
	had := !t.focus.IsZero()
	t.focus = Cell{}
	t.mu.Unlock()
	if had {
		t.emit(realtime.EmitUpdateCursor, map[string]any{"row_id": "", "field": "", "position": 0})
	}
}

// Focused returns the cell this user is focused on.
func (t *Tracker) Focused() (Cell, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.focus, !t.focus.IsZero()
}

// ReportEdit broadcasts a local inventory edit to the other viewers.
func (t *Tracker) ReportEdit(sku, field string, value any) {
	t.emit(realtime.EmitInventoryUpdate, map[string]any{
		"user_id":  t.self.UserID,
		"username": t.self.Username,
		"sku":      sku,
		"field":    field,
		"value":    value,
	})
}

func (t *Tracker) emit(name string, payload map[string]any) {
	if t.ch == nil {
		return
	}
	if err := t.ch.Emit(name, payload); err != nil {
		t.logger.Debug("presence emit failed", "event", name, "error", err)
	}
}
