package api

import (
	"sync"
)

// SSEEvent is one live-tracking event, fanned out to SSE and websocket
// subscribers of a shipment.
type SSEEvent struct {
	Type string
	Data map[string]any
}

// Broker is the in-process fan-out used when no Redis is configured.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan SSEEvent]struct{} // dspOrderId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(dspID string) chan SSEEvent {
	ch := make(chan SSEEvent, 8)
	b.mu.Lock()
	if b.subs[dspID] == nil {
		b.subs[dspID] = map[chan SSEEvent]struct{}{}
	}
	b.subs[dspID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(dspID string, ch chan SSEEvent) {
	b.mu.Lock()
	if m := b.subs[dspID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, dspID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

// Publish never blocks; slow subscribers drop events.
func (b *Broker) Publish(dspID string, evt SSEEvent) {
	b.mu.Lock()
	for ch := range b.subs[dspID] {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
