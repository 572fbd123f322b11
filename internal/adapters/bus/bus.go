// Package bus is the in-process notification channel between components.
//
// Delivery is synchronous and ordered: a subscriber registered before an
// emission receives it, in registration order. There is nothing durable
// here; a restart forgets everything, by contract.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/sbellone/carnet/pkg/logger"
	"github.com/sbellone/carnet/pkg/metrics"
)

// Topic names the three fixed notification channels.
type Topic string

const (
	TopicSkillUpdated   Topic = "skill-updated"
	TopicCarnetUpdated  Topic = "carnet-updated"
	TopicStudentUpdated Topic = "student-updated"
)

// Event is the fixed payload shape carried on every topic.
type Event struct {
	Topic     Topic
	StudentID string
	SkillID   string // set for skill-updated only
	At        time.Time
}

// Handler receives events for one topic.
type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

// Bus implements the notifier. Construct with New and pass by reference to
// every component that needs it; there is no package-level instance.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[Topic][]subscription
	logger logger.Logger
}

// Option applies a configuration option to the Bus.
type Option func(*Bus)

// WithLogger sets a custom logger for the bus.
func WithLogger(l logger.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// New constructs an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs: make(map[Topic][]subscription),
	}

	// Apply all options
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Subscribe registers fn on the topic and returns its unsubscribe func.
func (b *Bus) Subscribe(topic Topic, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, fn: fn})
	metrics.UpdateBusSubscribers(b.countLocked())

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[topic]
		for i, sub := range subs {
			if sub.id == id {
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		metrics.UpdateBusSubscribers(b.countLocked())
	}
}

// Publish delivers the event to every subscriber of its topic, in
// registration order. It never blocks on missing subscribers and never
// fails; a panicking subscriber is contained and logged.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.Lock()
	subs := make([]subscription, len(b.subs[e.Topic]))
	copy(subs, b.subs[e.Topic])
	b.mu.Unlock()

	metrics.RecordEventPublished(string(e.Topic))

	for _, sub := range subs {
		b.deliver(ctx, sub, e)
	}
}

func (b *Bus) deliver(ctx context.Context, sub subscription, e Event) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Error(ctx, "subscriber panicked",
				logger.String("topic", string(e.Topic)),
				logger.Any("panic", r),
			)
		}
	}()
	sub.fn(e)
}

// SubscriberCount returns the number of subscribers on one topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

func (b *Bus) countLocked() int {
	total := 0
	for _, subs := range b.subs {
		total += len(subs)
	}
	return total
}
