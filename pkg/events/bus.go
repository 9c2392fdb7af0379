package events

import "sync"

// Handler receives every emitted event.
type Handler func(Event)

// Bus broadcasts events to subscribers. Handlers run on their own
// goroutine so a slow subscriber never blocks the orchestration core.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all subsequent events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Emit delivers the event to every subscriber asynchronously.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		go h(e)
	}
}
