// Package bus distributes pipeline events to observers: the run metrics
// collector, the incident reporter and the status server.
package bus

import (
	"fmt"
	"sync"
)

const (
	// DefaultHistorySize is the number of recent events retained for the
	// status endpoint.
	DefaultHistorySize = 1000

	// DefaultChannelBuffer is the buffer size for subscriber channels.
	DefaultChannelBuffer = 256
)

// SubscriptionID is a unique identifier for event subscriptions.
type SubscriptionID string

// Subscription represents a single event subscription.
type Subscription struct {
	ID        SubscriptionID
	EventType EventType
	Handler   func(Event)
	Channel   chan Event
}

// Bus is an in-process pub/sub hub. Delivery is lossless: Publish blocks
// while a subscriber's buffer is full, and Close delivers every published
// event before returning. Handlers run on one goroutine per subscription and
// must not publish.
type Bus struct {
	mu           sync.RWMutex
	closed       bool
	subCounter   uint64
	typedSubs    map[EventType]map[SubscriptionID]*Subscription
	wildcardSubs map[SubscriptionID]*Subscription
	wg           sync.WaitGroup

	history     []Event
	historyMu   sync.RWMutex
	historySize int
}

// NewBus creates a bus with the default history size.
func NewBus() *Bus {
	return NewBusWithConfig(DefaultHistorySize)
}

// NewBusWithConfig creates a bus retaining historySize recent events.
func NewBusWithConfig(historySize int) *Bus {
	return &Bus{
		typedSubs:    make(map[EventType]map[SubscriptionID]*Subscription),
		wildcardSubs: make(map[SubscriptionID]*Subscription),
		history:      make([]Event, 0, historySize),
		historySize:  historySize,
	}
}

// Subscribe registers a handler for a specific event type.
// Use EventType("") to subscribe to all events.
func (b *Bus) Subscribe(eventType EventType, handler func(Event)) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ""
	}

	b.subCounter++
	sub := &Subscription{
		ID:        SubscriptionID(fmt.Sprintf("sub_%d", b.subCounter)),
		EventType: eventType,
		Handler:   handler,
		Channel:   make(chan Event, DefaultChannelBuffer),
	}

	if eventType == "" {
		b.wildcardSubs[sub.ID] = sub
	} else {
		if b.typedSubs[eventType] == nil {
			b.typedSubs[eventType] = make(map[SubscriptionID]*Subscription)
		}
		b.typedSubs[eventType][sub.ID] = sub
	}

	b.wg.Add(1)
	go b.handleSubscription(sub)

	return sub.ID
}

// handleSubscription drains a subscription until its channel is closed.
func (b *Bus) handleSubscription(sub *Subscription) {
	defer b.wg.Done()
	for event := range sub.Channel {
		sub.Handler(event)
	}
}

// Unsubscribe removes a subscription. Events already queued for it are still
// handled.
func (b *Bus) Unsubscribe(id SubscriptionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	if sub, ok := b.wildcardSubs[id]; ok {
		delete(b.wildcardSubs, id)
		close(sub.Channel)
		return nil
	}
	for eventType, subs := range b.typedSubs {
		if sub, ok := subs[id]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.typedSubs, eventType)
			}
			close(sub.Channel)
			return nil
		}
	}
	return fmt.Errorf("subscription %s not found", id)
}

// Publish delivers an event to all matching subscribers.
func (b *Bus) Publish(event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	b.addToHistory(event)

	for _, sub := range b.wildcardSubs {
		sub.Channel <- event
	}
	for _, sub := range b.typedSubs[event.Type] {
		sub.Channel <- event
	}
	return nil
}

// addToHistory appends an event to the history ring.
func (b *Bus) addToHistory(event Event) {
	if b.historySize <= 0 {
		return
	}
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	b.history = append(b.history, event)
	if len(b.history) > b.historySize {
		b.history = b.history[len(b.history)-b.historySize:]
	}
}

// GetHistorySlice returns the last n events.
func (b *Bus) GetHistorySlice(n int) []Event {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()

	if n > len(b.history) || n < 0 {
		n = len(b.history)
	}
	result := make([]Event, n)
	copy(result, b.history[len(b.history)-n:])
	return result
}

// SubscriptionsCount returns the number of active subscriptions.
func (b *Bus) SubscriptionsCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.wildcardSubs)
	for _, subs := range b.typedSubs {
		n += len(subs)
	}
	return n
}

// Close stops accepting events and waits until every subscriber has handled
// everything published before the call.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("bus already closed")
	}
	b.closed = true

	for _, sub := range b.wildcardSubs {
		close(sub.Channel)
	}
	for _, subs := range b.typedSubs {
		for _, sub := range subs {
			close(sub.Channel)
		}
	}
	b.wildcardSubs = make(map[SubscriptionID]*Subscription)
	b.typedSubs = make(map[EventType]map[SubscriptionID]*Subscription)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}
