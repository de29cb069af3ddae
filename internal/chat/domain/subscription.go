package domain

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/foundline/chat/internal/chat/stream"
)

// Subscription delivers full-state snapshots of a live view.
//
// The first snapshot is sent immediately; later snapshots follow every
// change to the underlying state. Only the newest snapshot is ever pending,
// so a slow consumer skips intermediates rather than falling behind.
// Updates is closed after Cancel (or context cancellation) and no snapshot
// is delivered afterward.
type Subscription[T any] struct {
	updates chan T
	done    chan struct{}
	once    sync.Once
}

// Updates returns the snapshot channel.
func (s *Subscription[T]) Updates() <-chan T {
	return s.updates
}

// Cancel stops delivery and releases subscription resources. Idempotent.
func (s *Subscription[T]) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() { close(s.done) })
}

// SubscribeConversations streams snapshots of the user's conversation list,
// ordered by LastMessageAt descending.
func (s *Service) SubscribeConversations(ctx context.Context, userID string) (*Subscription[[]Conversation], error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	load := func(ctx context.Context) ([]Conversation, error) {
		return s.store.ConversationsByParticipant(ctx, userID)
	}
	return runSubscription(ctx, s.feed, stream.ConversationsTopic(userID), load)
}

// SubscribeMessages streams snapshots of a conversation's full ordered
// message log. The conversation must exist.
func (s *Service) SubscribeMessages(ctx context.Context, conversationID string) (*Subscription[[]Message], error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, ErrConversationIDRequired
	}

	if _, err := s.store.ConversationByID(ctx, conversationID); err != nil {
		return nil, err
	}
	load := func(ctx context.Context) ([]Message, error) {
		return s.store.MessagesByConversation(ctx, conversationID)
	}
	return runSubscription(ctx, s.feed, stream.MessagesTopic(conversationID), load)
}

// runSubscription registers the broker ticket before taking the initial
// snapshot, so a change that commits while the snapshot is being read still
// wakes the subscription. The wake-up may re-read unchanged state; snapshots
// are full-state, so that is harmless.
func runSubscription[T any](ctx context.Context, feed *stream.Broker, topic stream.Topic, load func(context.Context) (T, error)) (*Subscription[T], error) {
	ticket := feed.Subscribe(topic)
	initial, err := load(ctx)
	if err != nil {
		ticket.Cancel()
		return nil, err
	}

	subscription := &Subscription[T]{
		updates: make(chan T, 1),
		done:    make(chan struct{}),
	}
	subscription.updates <- initial

	go func() {
		defer close(subscription.updates)
		defer ticket.Cancel()

		for {
			select {
			case <-subscription.done:
				return
			case <-ctx.Done():
				subscription.Cancel()
				return
			case <-ticket.C():
			}

			snapshot, err := load(ctx)
			if err != nil {
				if ctx.Err() != nil {
					subscription.Cancel()
					return
				}
				log.Printf("chat: reload %s snapshot: %v", topic, err)
				continue
			}
			replaceLatest(subscription.updates, snapshot, subscription.done)
		}
	}()
	return subscription, nil
}

// replaceLatest ensures ch holds the newest snapshot without blocking on a
// consumer that has not drained the previous one.
func replaceLatest[T any](ch chan T, value T, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ch <- value:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
