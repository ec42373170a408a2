package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryBus is an in-process Bus used by tests and the single-binary dev
// mode. Delivery is synchronous and FIFO per subscriber, matching the
// per-connection ordering the Redis transport provides.
type MemoryBus struct {
	mu       sync.Mutex
	handlers map[string][]Handler
}

// NewMemoryBus constructs an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string][]Handler)}
}

// Publish delivers the payload to every subscriber currently registered on
// the channel. With no subscribers the message is dropped, mirroring the
// at-most-once transport contract.
func (m *MemoryBus) Publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	m.mu.Lock()
	subs := make([]Handler, len(m.handlers[channel]))
	copy(subs, m.handlers[channel])
	m.mu.Unlock()
	for _, h := range subs {
		h(ctx, data)
	}
	return nil
}

// Subscribe registers the handler for the channel. The ctx is ignored beyond
// the contract signature; in-process subscriptions live as long as the bus.
func (m *MemoryBus) Subscribe(_ context.Context, channel string, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[channel] = append(m.handlers[channel], h)
	return nil
}
