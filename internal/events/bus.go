package events

import (
	"context"
	"sync"
	"time"

	"cryptoTradeEngine/internal/ports"
)

// Type identifies a lifecycle event category.
type Type string

const (
	EngineStarted     Type = "EngineStarted"
	EngineStopped     Type = "EngineStopped"
	OrderPlaced       Type = "OrderPlaced"
	OrderFailed       Type = "OrderFailed"
	PositionOpened    Type = "PositionOpened"
	PositionClosed    Type = "PositionClosed"
	SignalRejected    Type = "SignalRejected"
	CooldownActivated Type = "CooldownActivated"
)

// Event is a fire-and-forget notification consumed by external notifiers
// and UI. Fields carries event-specific payload (pnl, reason, until, ...).
type Event struct {
	Type   Type
	Symbol string
	At     time.Time
	Fields map[string]interface{}
}

// Bus broadcasts events to subscribers in emission order. Publishing never
// blocks the engine: a subscriber that falls behind loses events rather than
// stalling order placement.
type Bus struct {
	mu     sync.Mutex
	subs   []chan Event
	logger ports.Logger
	closed bool
}

const subscriberBuffer = 64

// NewBus creates an event bus.
func NewBus(logger ports.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers a new consumer. Events published after the call are
// delivered in emission order on the returned channel.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			if b.logger != nil {
				b.logger.Warn(context.Background(), "Event dropped for slow subscriber", map[string]interface{}{"type": evt.Type, "symbol": evt.Symbol})
			}
		}
	}
}

// Close shuts the bus down; subscriber channels are closed after any
// already-published events.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
