// Package event provides a pub-sub event bus for decoupled inter-component
// communication in packline.
//
// The realtime channel publishes every inbound frame on the bus, and the
// presence tracker, lifecycle controller, takeover coordinator, recovery
// manager, and dashboard aggregator subscribe to the event types they care
// about. Components also publish local notices (toasts, refresh requests,
// revocations) that the CLI or TUI render.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//   - [Base]: Embeddable implementation of Event for other packages
//
// # Local Events
//
//   - [ToastEvent]: a transient, human-readable notice
//   - [RefreshRequestedEvent]: generic "re-fetch your data" signal
//   - [SessionRevokedEvent]: the open session was cancelled, reassigned, or taken over remotely
//   - [ActiveSessionChangedEvent]: the active-work token changed
//   - [SessionReleasedEvent]: an abandoned session was released as a draft
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Handlers are called
// synchronously on the publishing goroutine and are protected against
// panics: a panicking handler is logged and recovered, and the remaining
// handlers still run. Handlers must tolerate duplicate delivery.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//
//	id := bus.Subscribe(event.TypeToast, func(e event.Event) {
//	    toast := e.(event.ToastEvent)
//	    fmt.Println(toast.Message)
//	})
//	defer bus.Unsubscribe(id)
//
//	bus.Publish(event.NewToastEvent(event.ToastInfo, "Inventory changed"))
package event
