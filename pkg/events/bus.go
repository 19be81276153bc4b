// Package events carries change notifications between components: node
// created/updated payloads and the one-shot store availability signal.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soundprediction/go-timeline/pkg/types"
)

// Topic names a notification stream.
type Topic string

const (
	TopicCreated        Topic = "created"
	TopicUpdated        Topic = "updated"
	TopicStoreAvailable Topic = "store_available"
)

// Event is a single notification.
type Event struct {
	Topic   Topic            `json:"topic"`
	Payload *types.ResultSet `json:"payload,omitempty"`
	At      time.Time        `json:"at"`
}

// Handler receives events. Handlers run on the publishing goroutine and must
// not block.
type Handler func(ctx context.Context, ev Event)

// Publisher announces store mutations.
type Publisher interface {
	PublishCreated(ctx context.Context, rs *types.ResultSet)
	PublishUpdated(ctx context.Context, rs *types.ResultSet)
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) PublishCreated(context.Context, *types.ResultSet) {}
func (discard) PublishUpdated(context.Context, *types.ResultSet) {}

// Subscription is returned by Subscribe.
type Subscription interface {
	// Cancel removes the subscription. It is safe to call more than once.
	Cancel()
}

// Bus is an in-process fan-out of events to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic]map[uint64]Handler
	nextID uint64
	logger *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[Topic]map[uint64]Handler),
		logger: logger,
	}
}

// Subscribe registers h for topic.
func (b *Bus) Subscribe(topic Topic, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]Handler)
	}
	b.subs[topic][id] = h
	return &subscription{bus: b, topic: topic, id: id}
}

// SubscribeOnce registers h for the first event on topic only. The
// subscription is removed before h runs.
func (b *Bus) SubscribeOnce(topic Topic, h Handler) Subscription {
	var fired atomic.Bool
	var sub Subscription
	var ready sync.WaitGroup
	ready.Add(1)

	sub = b.Subscribe(topic, func(ctx context.Context, ev Event) {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		ready.Wait()
		sub.Cancel()
		h(ctx, ev)
	})
	ready.Done()
	return sub
}

// Publish delivers ev to every subscriber of its topic.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[ev.Topic]))
	for _, h := range b.subs[ev.Topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	b.logger.Debug("Publishing event", "topic", ev.Topic, "subscribers", len(handlers))
	for _, h := range handlers {
		h(ctx, ev)
	}
}

func (b *Bus) PublishCreated(ctx context.Context, rs *types.ResultSet) {
	b.Publish(ctx, Event{Topic: TopicCreated, Payload: rs})
}

func (b *Bus) PublishUpdated(ctx context.Context, rs *types.ResultSet) {
	b.Publish(ctx, Event{Topic: TopicUpdated, Payload: rs})
}

// PublishStoreAvailable signals that the graph store answered.
func (b *Bus) PublishStoreAvailable(ctx context.Context) {
	b.Publish(ctx, Event{Topic: TopicStoreAvailable})
}

// Subscribers returns the number of handlers registered for topic.
func (b *Bus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

type subscription struct {
	bus   *Bus
	topic Topic
	id    uint64
}

func (s *subscription) Cancel() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs[s.topic], s.id)
}

// Stream forwards events on topics to the returned channel until ctx ends.
// Events are dropped while the channel buffer is full.
func (b *Bus) Stream(ctx context.Context, buffer int, topics ...Topic) <-chan Event {
	ch := make(chan Event, buffer)
	var mu sync.Mutex
	closed := false

	forward := func(_ context.Context, ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		default:
			b.logger.Warn("Dropping event for slow stream", "topic", ev.Topic)
		}
	}

	subs := make([]Subscription, 0, len(topics))
	for _, topic := range topics {
		subs = append(subs, b.Subscribe(topic, forward))
	}

	go func() {
		<-ctx.Done()
		for _, sub := range subs {
			sub.Cancel()
		}
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch
}

// Subscriber is the subscribing half of a Bus.
type Subscriber interface {
	Subscribe(topic Topic, h Handler) Subscription
	SubscribeOnce(topic Topic, h Handler) Subscription
}
