// Package bus is the in-process publish/subscribe channel shared by the
// dispatcher and the monitor, built on asaskevich/EventBus.
package bus

import (
	"sort"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
)

// Well-known topics.
const (
	// TopicMessages carries Message values from external producers.
	TopicMessages = "migration:messages"
	// TopicEvents is the same-process channel carrying domain.EventPayload values.
	TopicEvents = "migration:events"
)

// Message is an inbound domain message, e.g. {Type: "PROJECT_UPDATED"}.
type Message struct {
	Type      string         `json:"type"`
	Source    string         `json:"source,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler receives one published value.
type Handler func(payload any)

// Bus fans published values out to per-topic subscribers. Delivery is
// asynchronous but ordered per topic; a handler must not publish to its own topic.
type Bus struct {
	bus evbus.Bus

	mu       sync.RWMutex
	nextID   uint64
	handlers map[string]map[uint64]Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		bus:      evbus.New(),
		handlers: make(map[string]map[uint64]Handler),
	}
}

// Subscription is returned by Subscribe and cancels it.
type Subscription struct {
	bus   *Bus
	topic string
	id    uint64
	once  sync.Once
}

// Unsubscribe stops delivery to the handler. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		delete(s.bus.handlers[s.topic], s.id)
	})
}

// Subscribe registers fn for topic.
func (b *Bus) Subscribe(topic string, fn Handler) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.handlers[topic]; !ok {
		if err := b.bus.SubscribeAsync(topic, b.dispatcher(topic), true); err != nil {
			return nil, err
		}
		b.handlers[topic] = make(map[uint64]Handler)
	}

	b.nextID++
	b.handlers[topic][b.nextID] = fn
	return &Subscription{bus: b, topic: topic, id: b.nextID}, nil
}

// Publish sends payload to every subscriber of topic.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	_, ok := b.handlers[topic]
	b.mu.RUnlock()
	if !ok {
		return
	}
	b.bus.Publish(topic, payload)
}

// HasSubscribers reports whether topic has at least one live subscriber.
func (b *Bus) HasSubscribers(topic string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic]) > 0
}

// WaitAsync blocks until every in-flight delivery has finished.
func (b *Bus) WaitAsync() {
	b.bus.WaitAsync()
}

func (b *Bus) dispatcher(topic string) func(any) {
	return func(payload any) {
		b.mu.RLock()
		ids := make([]uint64, 0, len(b.handlers[topic]))
		for id := range b.handlers[topic] {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		fns := make([]Handler, 0, len(ids))
		for _, id := range ids {
			fns = append(fns, b.handlers[topic][id])
		}
		b.mu.RUnlock()

		for _, fn := range fns {
			fn(payload)
		}
	}
}
