package bus

import (
	"context"
	"sync"
)

// MemoryBridge implements the event bridge in-process, for single-process
// development mode and tests.
type MemoryBridge struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

// NewMemoryBridge creates a new in-process bridge.
func NewMemoryBridge() *MemoryBridge {
	return &MemoryBridge{handlers: make(map[int]Handler)}
}

// Publish delivers an event synchronously to every subscribed handler.
// Synchronous delivery keeps event order deterministic, which tests rely on.
func (b *MemoryBridge) Publish(ctx context.Context, e Event) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
	return nil
}

// Subscribe registers a handler for all published events.
func (b *MemoryBridge) Subscribe(ctx context.Context, h Handler) (func(), error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}, nil
}

// Close removes all subscriptions.
func (b *MemoryBridge) Close() error {
	b.mu.Lock()
	b.handlers = make(map[int]Handler)
	b.mu.Unlock()
	return nil
}
