package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/foundline/chat/internal/chat/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	})
	return store
}

func conversationFixture(id string, pairA string, pairB string, at time.Time) storage.ConversationRecord {
	return storage.ConversationRecord{
		ID:      id,
		PairKey: pairA + "|" + pairB,
		Participants: [2]storage.ParticipantRecord{
			{UserID: pairA, DisplayName: "User " + pairA, Email: pairA + "@example.com"},
			{UserID: pairB, DisplayName: "User " + pairB, Email: pairB + "@example.com"},
		},
		LastMessageAt: at,
		CreatedAt:     at,
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(" "); err == nil {
		t.Fatal("Open() expected error for blank path")
	}
}

func TestCreateConversationRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	record := conversationFixture("conv-1", "alice", "bob", created)
	if err := store.CreateConversation(ctx, record); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}

	got, err := store.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if got.PairKey != "alice|bob" {
		t.Fatalf("PairKey = %q, want %q", got.PairKey, "alice|bob")
	}
	if got.Participants[0].UserID != "alice" || got.Participants[1].UserID != "bob" {
		t.Fatalf("participants = %q, %q; want alice, bob", got.Participants[0].UserID, got.Participants[1].UserID)
	}
	if got.Participants[0].Email != "alice@example.com" {
		t.Fatalf("participant email = %q", got.Participants[0].Email)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if !got.LastMessageAt.Equal(created) {
		t.Fatalf("LastMessageAt = %v, want %v", got.LastMessageAt, created)
	}

	byKey, err := store.GetConversationByPairKey(ctx, "alice|bob")
	if err != nil {
		t.Fatalf("GetConversationByPairKey() error = %v", err)
	}
	if byKey.ID != "conv-1" {
		t.Fatalf("ID = %q, want conv-1", byKey.ID)
	}
}

func TestCreateConversationPairKeyConflict(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	if err := store.CreateConversation(ctx, conversationFixture("conv-1", "alice", "bob", at)); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	err := store.CreateConversation(ctx, conversationFixture("conv-2", "alice", "bob", at))
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("CreateConversation() error = %v, want ErrConflict", err)
	}

	// The losing insert must leave nothing behind.
	if _, err := store.GetConversation(ctx, "conv-2"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetConversation(conv-2) error = %v, want ErrNotFound", err)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	if _, err := store.GetConversation(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetConversation() error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetConversationByPairKey(context.Background(), "a|b"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetConversationByPairKey() error = %v, want ErrNotFound", err)
	}
}

func TestAppendMessageAssignsSeqAndIncrementsUnread(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	if err := store.CreateConversation(ctx, conversationFixture("conv-1", "alice", "bob", at)); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}

	first, err := store.AppendMessage(ctx, storage.MessageRecord{
		ID:             "msg-1",
		ConversationID: "conv-1",
		SenderID:       "alice",
		Kind:           "text",
		Payload:        "hi bob",
		CreatedAt:      at.Add(time.Minute),
	}, "hi bob")
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if first.Seq != 1 {
		t.Fatalf("Seq = %d, want 1", first.Seq)
	}

	second, err := store.AppendMessage(ctx, storage.MessageRecord{
		ID:             "msg-2",
		ConversationID: "conv-1",
		SenderID:       "alice",
		Kind:           "text",
		Payload:        "still there?",
		CreatedAt:      at.Add(2 * time.Minute),
	}, "still there?")
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if second.Seq != 2 {
		t.Fatalf("Seq = %d, want 2", second.Seq)
	}

	conversation, err := store.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if conversation.LastMessagePreview != "still there?" {
		t.Fatalf("LastMessagePreview = %q", conversation.LastMessagePreview)
	}
	if !conversation.LastMessageAt.Equal(at.Add(2 * time.Minute)) {
		t.Fatalf("LastMessageAt = %v", conversation.LastMessageAt)
	}
	if got := conversation.Participants[0].UnreadCount; got != 0 {
		t.Fatalf("sender unread = %d, want 0", got)
	}
	if got := conversation.Participants[1].UnreadCount; got != 2 {
		t.Fatalf("recipient unread = %d, want 2", got)
	}
}

func TestAppendMessageMissingConversation(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	_, err := store.AppendMessage(context.Background(), storage.MessageRecord{
		ID:             "msg-1",
		ConversationID: "missing",
		SenderID:       "alice",
		Kind:           "text",
		Payload:        "hello",
		CreatedAt:      time.Now(),
	}, "hello")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("AppendMessage() error = %v, want ErrNotFound", err)
	}
}

func TestAppendMessageKeepsLastMessageAtMonotonic(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	if err := store.CreateConversation(ctx, conversationFixture("conv-1", "alice", "bob", at)); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	if _, err := store.AppendMessage(ctx, storage.MessageRecord{
		ID: "msg-1", ConversationID: "conv-1", SenderID: "alice",
		Kind: "text", Payload: "later", CreatedAt: at.Add(time.Hour),
	}, "later"); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if _, err := store.AppendMessage(ctx, storage.MessageRecord{
		ID: "msg-2", ConversationID: "conv-1", SenderID: "alice",
		Kind: "text", Payload: "earlier clock", CreatedAt: at.Add(time.Minute),
	}, "earlier clock"); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	conversation, err := store.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if !conversation.LastMessageAt.Equal(at.Add(time.Hour)) {
		t.Fatalf("LastMessageAt = %v, want %v", conversation.LastMessageAt, at.Add(time.Hour))
	}
	if conversation.LastMessagePreview != "earlier clock" {
		t.Fatalf("LastMessagePreview = %q", conversation.LastMessagePreview)
	}
}

func TestListMessagesOrdersByTimeThenSeq(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	if err := store.CreateConversation(ctx, conversationFixture("conv-1", "alice", "bob", at)); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	// Two messages share a timestamp; seq breaks the tie.
	for i, id := range []string{"msg-1", "msg-2", "msg-3"} {
		created := at
		if i == 2 {
			created = at.Add(time.Second)
		}
		if _, err := store.AppendMessage(ctx, storage.MessageRecord{
			ID: id, ConversationID: "conv-1", SenderID: "alice",
			Kind: "text", Payload: id, CreatedAt: created,
		}, id); err != nil {
			t.Fatalf("AppendMessage(%s) error = %v", id, err)
		}
	}

	messages, err := store.ListMessages(ctx, "conv-1")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("len(messages) = %d, want 3", len(messages))
	}
	for i, want := range []string{"msg-1", "msg-2", "msg-3"} {
		if messages[i].ID != want {
			t.Fatalf("messages[%d].ID = %q, want %q", i, messages[i].ID, want)
		}
		if messages[i].Seq != int64(i+1) {
			t.Fatalf("messages[%d].Seq = %d, want %d", i, messages[i].Seq, i+1)
		}
	}
}

func TestResetUnread(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	if err := store.CreateConversation(ctx, conversationFixture("conv-1", "alice", "bob", at)); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	if _, err := store.AppendMessage(ctx, storage.MessageRecord{
		ID: "msg-1", ConversationID: "conv-1", SenderID: "alice",
		Kind: "text", Payload: "hello", CreatedAt: at.Add(time.Minute),
	}, "hello"); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	if err := store.ResetUnread(ctx, "conv-1", "bob"); err != nil {
		t.Fatalf("ResetUnread() error = %v", err)
	}
	conversation, err := store.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if got := conversation.Participants[1].UnreadCount; got != 0 {
		t.Fatalf("unread after reset = %d, want 0", got)
	}

	if err := store.ResetUnread(ctx, "conv-1", "stranger"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("ResetUnread(stranger) error = %v, want ErrNotFound", err)
	}
}

func TestTotalUnreadSumsAcrossConversations(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	if err := store.CreateConversation(ctx, conversationFixture("conv-1", "alice", "bob", at)); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	if err := store.CreateConversation(ctx, conversationFixture("conv-2", "bob", "carol", at)); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	for i, spec := range []struct{ conv, sender string }{
		{"conv-1", "alice"},
		{"conv-1", "alice"},
		{"conv-2", "carol"},
	} {
		if _, err := store.AppendMessage(ctx, storage.MessageRecord{
			ID:             fmt.Sprintf("msg-%d", i),
			ConversationID: spec.conv,
			SenderID:       spec.sender,
			Kind:           "text",
			Payload:        "ping",
			CreatedAt:      at.Add(time.Duration(i) * time.Minute),
		}, "ping"); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	total, err := store.TotalUnread(ctx, "bob")
	if err != nil {
		t.Fatalf("TotalUnread() error = %v", err)
	}
	if total != 3 {
		t.Fatalf("TotalUnread(bob) = %d, want 3", total)
	}

	total, err = store.TotalUnread(ctx, "nobody")
	if err != nil {
		t.Fatalf("TotalUnread() error = %v", err)
	}
	if total != 0 {
		t.Fatalf("TotalUnread(nobody) = %d, want 0", total)
	}
}

func TestListConversationsByParticipantOrder(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	if err := store.CreateConversation(ctx, conversationFixture("conv-1", "alice", "bob", at)); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	if err := store.CreateConversation(ctx, conversationFixture("conv-2", "alice", "carol", at.Add(time.Minute))); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	if err := store.CreateConversation(ctx, conversationFixture("conv-3", "bob", "carol", at.Add(2*time.Minute))); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}

	// Activity in conv-1 moves it to the top of alice's list.
	if _, err := store.AppendMessage(ctx, storage.MessageRecord{
		ID: "msg-1", ConversationID: "conv-1", SenderID: "bob",
		Kind: "text", Payload: "bump", CreatedAt: at.Add(time.Hour),
	}, "bump"); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	conversations, err := store.ListConversationsByParticipant(ctx, "alice")
	if err != nil {
		t.Fatalf("ListConversationsByParticipant() error = %v", err)
	}
	if len(conversations) != 2 {
		t.Fatalf("len(conversations) = %d, want 2", len(conversations))
	}
	if conversations[0].ID != "conv-1" || conversations[1].ID != "conv-2" {
		t.Fatalf("order = %q, %q; want conv-1, conv-2", conversations[0].ID, conversations[1].ID)
	}
	if conversations[0].Participants[0].UserID != "alice" || conversations[0].Participants[1].UserID != "bob" {
		t.Fatalf("participants = %q, %q", conversations[0].Participants[0].UserID, conversations[0].Participants[1].UserID)
	}
}
