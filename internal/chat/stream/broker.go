// Package stream fans change signals out to live-view subscribers.
//
// The broker carries no payloads: a publish on a topic only tells
// subscribers that the state behind the topic changed, and they re-read a
// full snapshot from the store. Signals coalesce, so a slow subscriber sees
// at most one pending wake-up regardless of how many publishes it missed.
// Nothing is lost, because snapshots are full-state.
package stream

import "sync"

// Topic names one change feed.
type Topic string

// ConversationsTopic is the change feed for one user's conversation list.
func ConversationsTopic(userID string) Topic {
	return Topic("conversations/" + userID)
}

// MessagesTopic is the change feed for one conversation's message log.
func MessagesTopic(conversationID string) Topic {
	return Topic("messages/" + conversationID)
}

// Broker routes publish signals to topic subscribers.
type Broker struct {
	mu     sync.Mutex
	nextID int
	topics map[Topic]map[int]chan struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{topics: make(map[Topic]map[int]chan struct{})}
}

// Ticket is one subscriber's registration on a topic.
//
// Cancel is idempotent and releases the broker slot immediately; no signal
// is delivered after Cancel returns.
type Ticket struct {
	broker *Broker
	topic  Topic
	id     int
	signal chan struct{}
	once   sync.Once
}

// C returns the wake-up channel. It receives one value per coalesced batch
// of publishes and is never closed.
func (t *Ticket) C() <-chan struct{} {
	return t.signal
}

// Cancel removes the subscription from the broker.
func (t *Ticket) Cancel() {
	if t == nil || t.broker == nil {
		return
	}
	t.once.Do(func() {
		t.broker.mu.Lock()
		defer t.broker.mu.Unlock()
		subscribers, ok := t.broker.topics[t.topic]
		if !ok {
			return
		}
		delete(subscribers, t.id)
		if len(subscribers) == 0 {
			delete(t.broker.topics, t.topic)
		}
	})
}

// Subscribe registers a subscriber on a topic.
func (b *Broker) Subscribe(topic Topic) *Ticket {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	ticket := &Ticket{
		broker: b,
		topic:  topic,
		id:     b.nextID,
		signal: make(chan struct{}, 1),
	}
	subscribers, ok := b.topics[topic]
	if !ok {
		subscribers = make(map[int]chan struct{})
		b.topics[topic] = subscribers
	}
	subscribers[ticket.id] = ticket.signal
	return ticket
}

// Publish wakes every subscriber of the given topics. A subscriber with a
// signal already pending is not woken twice.
func (b *Broker) Publish(topics ...Topic) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, topic := range topics {
		for _, signal := range b.topics[topic] {
			select {
			case signal <- struct{}{}:
			default:
			}
		}
	}
}

// SubscriberCount reports how many subscribers a topic currently has.
func (b *Broker) SubscriberCount(topic Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}
