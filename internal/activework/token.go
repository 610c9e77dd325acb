// Package activework holds the process-wide pointer to the session the
// user is actively working. At most one session id is held at a time.
//
// Only two kinds of caller write it: the lifecycle controller when a
// session is started, claimed, or resumed, and the recovery manager when a
// session is abandoned, finished, or revoked. Everything else reads.
package activework

import (
	"sync"

	"github.com/Iron-Ham/packline/internal/event"
)

// Token is the active-work pointer. The zero value is ready to use.
type Token struct {
	mu        sync.Mutex
	sessionID string
	bus       *event.Bus
}

// New returns a Token that publishes ActiveSessionChangedEvent on bus
// whenever its value changes. bus may be nil.
func New(bus *event.Bus) *Token {
	return &Token{bus: bus}
}

// Current returns the held session id, or "" when none is held.
func (t *Token) Current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Active reports whether a session id is held.
func (t *Token) Active() bool {
	return t.Current() != ""
}

// Set replaces the held session id.
func (t *Token) Set(sessionID string) {
	t.mu.Lock()
	prev := t.sessionID
	t.sessionID = sessionID
	t.mu.Unlock()
	t.publish(prev, sessionID)
}

// Take clears the token and returns what it held. Concurrent callers race
// for the value; exactly one of them receives it and the rest get "".
func (t *Token) Take() string {
	t.mu.Lock()
	prev := t.sessionID
	t.sessionID = ""
	t.mu.Unlock()
	t.publish(prev, "")
	return prev
}

// Clear empties the token only if it still holds sessionID, so a stale
// caller cannot wipe a newer session. It reports whether it cleared.
func (t *Token) Clear(sessionID string) bool {
	t.mu.Lock()
	if sessionID == "" || t.sessionID != sessionID {
		t.mu.Unlock()
		return false
	}
	t.sessionID = ""
	t.mu.Unlock()
	t.publish(sessionID, "")
	return true
}

func (t *Token) publish(prev, next string) {
	if t.bus == nil || prev == next {
		return
	}
	t.bus.Publish(event.NewActiveSessionChangedEvent(prev, next))
}
