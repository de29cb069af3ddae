package stream

import (
	"testing"
	"time"
)

func TestPublishWakesSubscriber(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ticket := broker.Subscribe(ConversationsTopic("user-1"))
	defer ticket.Cancel()

	broker.Publish(ConversationsTopic("user-1"))

	select {
	case <-ticket.C():
	case <-time.After(time.Second):
		t.Fatal("expected wake-up signal")
	}
}

func TestPublishCoalesces(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ticket := broker.Subscribe(MessagesTopic("conv-1"))
	defer ticket.Cancel()

	for range 5 {
		broker.Publish(MessagesTopic("conv-1"))
	}

	select {
	case <-ticket.C():
	case <-time.After(time.Second):
		t.Fatal("expected first wake-up signal")
	}
	select {
	case <-ticket.C():
		t.Fatal("expected coalesced publishes to deliver a single signal")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishIgnoresOtherTopics(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	ticket := broker.Subscribe(ConversationsTopic("user-1"))
	defer ticket.Cancel()

	broker.Publish(ConversationsTopic("user-2"), MessagesTopic("conv-1"))

	select {
	case <-ticket.C():
		t.Fatal("expected no signal for unrelated topics")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelReleasesSubscription(t *testing.T) {
	t.Parallel()

	broker := NewBroker()
	topic := ConversationsTopic("user-1")
	ticket := broker.Subscribe(topic)
	if got := broker.SubscriberCount(topic); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}

	ticket.Cancel()
	ticket.Cancel() // idempotent
	if got := broker.SubscriberCount(topic); got != 0 {
		t.Fatalf("expected 0 subscribers after cancel, got %d", got)
	}

	broker.Publish(topic)
	select {
	case <-ticket.C():
		t.Fatal("expected no signal after cancel")
	case <-time.After(50 * time.Millisecond):
	}
}
