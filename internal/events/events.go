// Package events publishes gateway events to push channels.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/femasgate/internal/metrics"
)

// Topics. Market ticks are also published on MarketTopic(instrument) and
// ExchangeTopic(exchange).
const (
	TopicConnection = "connection"
	TopicLogin      = "login"
	TopicOrders     = "orders"
	TopicTrades     = "trades"
	TopicMarket     = "market"
)

// MarketTopic returns the per-instrument market topic.
func MarketTopic(instrumentID string) string {
	return TopicMarket + "." + instrumentID
}

// ExchangeTopic returns the per-exchange market topic.
func ExchangeTopic(exchangeID string) string {
	return TopicMarket + ".exchange." + exchangeID
}

// Event is the envelope pushed to subscribers.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Topic     string          `json:"topic"`
	Source    string          `json:"source"`
	Success   bool            `json:"success"`
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent builds an event with data encoded as JSON.
func NewEvent(topic, source string, success bool, message string, data any) (Event, error) {
	ev := Event{
		ID:        uuid.New(),
		Topic:     topic,
		Source:    source,
		Success:   success,
		Message:   message,
		Timestamp: time.Now(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("failed to marshal event data: %w", err)
		}
		ev.Data = raw
	}
	return ev, nil
}

// Publisher delivers events. Implementations must be safe for concurrent use
// and must not block on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

type namedPublisher struct {
	name string
	pub  Publisher
}

// Fanout publishes each event to every registered publisher.
type Fanout struct {
	mu   sync.RWMutex
	subs []namedPublisher
}

// NewFanout creates an empty fanout.
func NewFanout() *Fanout {
	return &Fanout{}
}

// Add registers p under name, which labels the publish metrics.
func (f *Fanout) Add(name string, p Publisher) {
	if p == nil {
		return
	}
	f.mu.Lock()
	f.subs = append(f.subs, namedPublisher{name: name, pub: p})
	f.mu.Unlock()
}

// Len returns the number of registered publishers.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Publish delivers ev to all publishers and joins their errors. A failing
// publisher does not stop delivery to the others.
func (f *Fanout) Publish(ctx context.Context, ev Event) error {
	f.mu.RLock()
	subs := f.subs
	f.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		err := s.pub.Publish(ctx, ev)
		metrics.RecordPublish(s.name, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
