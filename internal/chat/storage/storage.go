// Package storage defines the persistence records and store contracts for
// chat state.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested conversation or message row is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a requested write conflicts with uniqueness constraints.
	ErrConflict = errors.New("record conflict")
)

// ParticipantRecord stores one participant row: the denormalized identity
// snapshot plus the unread counter.
type ParticipantRecord struct {
	UserID      string
	DisplayName string
	PhotoURL    string
	Email       string
	UnreadCount int
}

// ConversationRecord stores one conversation row with its two participant
// rows. Participants are ordered by user id, matching the pair key.
type ConversationRecord struct {
	ID                 string
	PairKey            string
	Participants       [2]ParticipantRecord
	LastMessagePreview string
	LastMessageAt      time.Time
	CreatedAt          time.Time
}

// MessageRecord stores one message row. Seq is assigned by the store
// inside the append transaction, unique and increasing per conversation.
type MessageRecord struct {
	ID             string
	ConversationID string
	Seq            int64
	SenderID       string
	Kind           string
	Payload        string
	CreatedAt      time.Time
}

// ConversationStore persists conversation and unread-counter state.
type ConversationStore interface {
	// CreateConversation inserts a conversation with its participant rows.
	// A pair-key or id collision yields ErrConflict and writes nothing.
	CreateConversation(ctx context.Context, record ConversationRecord) error
	GetConversation(ctx context.Context, conversationID string) (ConversationRecord, error)
	GetConversationByPairKey(ctx context.Context, pairKey string) (ConversationRecord, error)
	// ListConversationsByParticipant returns the user's conversations
	// ordered by last_message_at descending, newest first.
	ListConversationsByParticipant(ctx context.Context, userID string) ([]ConversationRecord, error)
	// ResetUnread sets one participant's counter to exactly zero.
	ResetUnread(ctx context.Context, conversationID string, userID string) error
	// TotalUnread sums the user's counters across all conversations.
	TotalUnread(ctx context.Context, userID string) (int, error)
}

// MessageStore persists the append-only message logs.
type MessageStore interface {
	// AppendMessage atomically inserts the message with the next
	// per-conversation seq, updates the conversation preview and
	// last_message_at, and adds 1 to every participant counter except the
	// sender's. Either all effects land or none do.
	AppendMessage(ctx context.Context, record MessageRecord, preview string) (MessageRecord, error)
	// ListMessages returns the conversation's full log ordered by
	// created_at then seq.
	ListMessages(ctx context.Context, conversationID string) ([]MessageRecord, error)
}
