// Package events provides the in-process event bus carrying signal,
// regime and alert notifications between the engine and its observers.
package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventRegimeChange     EventType = "REGIME_CHANGE"
	EventBlackSwanAlert   EventType = "BLACK_SWAN_ALERT"
	EventWhaleDetected    EventType = "WHALE_DETECTED"
	EventVolatilitySignal EventType = "VOLATILITY_SIGNAL"
	EventScalpSignal      EventType = "SCALP_SIGNAL"
	EventEnhancedSignal   EventType = "ENHANCED_SIGNAL"
	EventSignalRejected   EventType = "SIGNAL_REJECTED"
	EventSignalExpired    EventType = "SIGNAL_EXPIRED"
	EventEngineStarted    EventType = "ENGINE_STARTED"
	EventEngineStopped    EventType = "ENGINE_STOPPED"
	EventError            EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Symbol    string                 `json:"symbol,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Bus manages event publishing and subscriptions
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.allSubs = append(b.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific subscribers
	if subs, ok := b.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	// Notify all-event subscribers
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishRegimeChange publishes a volatility regime transition
func (b *Bus) PublishRegimeChange(symbol, from, to string, confidence float64, ts time.Time) {
	b.Publish(Event{
		Type:      EventRegimeChange,
		Symbol:    symbol,
		Timestamp: ts,
		Data: map[string]interface{}{
			"from":       from,
			"to":         to,
			"confidence": confidence,
		},
	})
}

// PublishBlackSwan publishes a black swan alert
func (b *Bus) PublishBlackSwan(symbol, alertType, action string, severity float64, ts time.Time) {
	b.Publish(Event{
		Type:      EventBlackSwanAlert,
		Symbol:    symbol,
		Timestamp: ts,
		Data: map[string]interface{}{
			"alert_type": alertType,
			"action":     action,
			"severity":   severity,
		},
	})
}

// PublishWhale publishes a detected whale trade
func (b *Bus) PublishWhale(symbol, side string, price, valueUSD float64, ts time.Time) {
	b.Publish(Event{
		Type:      EventWhaleDetected,
		Symbol:    symbol,
		Timestamp: ts,
		Data: map[string]interface{}{
			"side":      side,
			"price":     price,
			"value_usd": valueUSD,
		},
	})
}

// PublishVolatilitySignal publishes a regime-driven signal
func (b *Bus) PublishVolatilitySignal(symbol, signalType, direction string, confidence float64, ts time.Time) {
	b.Publish(Event{
		Type:      EventVolatilitySignal,
		Symbol:    symbol,
		Timestamp: ts,
		Data: map[string]interface{}{
			"signal_type": signalType,
			"direction":   direction,
			"confidence":  confidence,
		},
	})
}

// PublishScalpSignal publishes an order-flow scalp signal
func (b *Bus) PublishScalpSignal(symbol, direction string, entry, confidence float64, ts time.Time) {
	b.Publish(Event{
		Type:      EventScalpSignal,
		Symbol:    symbol,
		Timestamp: ts,
		Data: map[string]interface{}{
			"direction":  direction,
			"entry":      entry,
			"confidence": confidence,
		},
	})
}

// PublishEnhancedSignal publishes a fully scored and sized signal
func (b *Bus) PublishEnhancedSignal(symbol, direction string, score, confidence, sizeUSD float64, ts time.Time) {
	b.Publish(Event{
		Type:      EventEnhancedSignal,
		Symbol:    symbol,
		Timestamp: ts,
		Data: map[string]interface{}{
			"direction":  direction,
			"score":      score,
			"confidence": confidence,
			"size_usd":   sizeUSD,
		},
	})
}

// PublishSignalRejected publishes a pipeline gate rejection
func (b *Bus) PublishSignalRejected(symbol, stage, reason string, ts time.Time) {
	b.Publish(Event{
		Type:      EventSignalRejected,
		Symbol:    symbol,
		Timestamp: ts,
		Data: map[string]interface{}{
			"stage":  stage,
			"reason": reason,
		},
	})
}

// PublishSignalExpired publishes expiry of an active signal
func (b *Bus) PublishSignalExpired(symbol, signalID string, ts time.Time) {
	b.Publish(Event{
		Type:      EventSignalExpired,
		Symbol:    symbol,
		Timestamp: ts,
		Data: map[string]interface{}{
			"signal_id": signalID,
		},
	})
}

// PublishError publishes an error event
func (b *Bus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
