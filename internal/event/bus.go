package event

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/packline/internal/logging"
)

// Handler is a function that handles an event.
type Handler func(Event)

// wildcard is the subscription key for handlers that receive every event.
const wildcard = "*"

type subscription struct {
	id      string
	handler Handler
}

// Bus is a simple synchronous pub-sub event bus.
// It allows components to communicate without direct dependencies.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]subscription // eventType -> subscriptions
	index         map[string]string         // id -> eventType
	nextID        atomic.Uint64
	logger        *logging.Logger
}

// NewBus creates a new event bus. Handler panics are reported to logger;
// a nil logger discards them.
func NewBus(logger *logging.Logger) *Bus {
	return &Bus{
		subscriptions: make(map[string][]subscription),
		index:         make(map[string]string),
		logger:        logging.OrNop(logger).WithComponent("event"),
	}
}

// Subscribe registers a handler for a specific event type.
// Returns a subscription ID that can be used to unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := fmt.Sprintf("sub-%d", b.nextID.Add(1))
	b.subscriptions[eventType] = append(b.subscriptions[eventType], subscription{id: id, handler: handler})
	b.index[id] = eventType
	return id
}

// SubscribeMany registers one handler for several event types and returns
// the subscription IDs in the same order.
func (b *Bus) SubscribeMany(eventTypes []string, handler Handler) []string {
	ids := make([]string, 0, len(eventTypes))
	for _, t := range eventTypes {
		ids = append(ids, b.Subscribe(t, handler))
	}
	return ids
}

// SubscribeAll registers a handler for all event types.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(wildcard, handler)
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription was found and removed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	eventType, ok := b.index[id]
	if !ok {
		return false
	}
	delete(b.index, id)

	subs := b.subscriptions[eventType]
	for i, sub := range subs {
		if sub.id == id {
			// Copy so that in-flight Publish snapshots are not disturbed.
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			b.subscriptions[eventType] = append(next, subs[i+1:]...)
			break
		}
	}
	if len(b.subscriptions[eventType]) == 0 {
		delete(b.subscriptions, eventType)
	}
	return true
}

// Publish dispatches an event to all registered handlers.
// Specific handlers are called first, followed by wildcard handlers.
// Within each group, handlers are called in registration order.
// If a handler panics, the panic is logged, recovered, and publishing
// continues to remaining handlers.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	specific := b.subscriptions[e.EventType()]
	all := b.subscriptions[wildcard]
	b.mu.RUnlock()

	for _, sub := range specific {
		b.safeCall(sub.handler, e)
	}
	for _, sub := range all {
		b.safeCall(sub.handler, e)
	}
}

func (b *Bus) safeCall(handler Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", e.EventType(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	handler(e)
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = make(map[string][]subscription)
	b.index = make(map[string]string)
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.index)
}
