package domain

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/foundline/chat/internal/chat/stream"
	"github.com/foundline/chat/internal/platform/id"
)

var (
	// ErrSelfContact indicates a user tried to open a conversation with
	// themselves. Callers should surface it as "cannot message yourself".
	ErrSelfContact = errors.New("cannot message yourself")
	// ErrNotFound indicates a referenced conversation or user is absent.
	ErrNotFound = errors.New("conversation not found")
	// ErrForbidden indicates the acting user is not a participant.
	ErrForbidden = errors.New("user is not a conversation participant")
	// ErrConflict indicates a write conflicted with existing uniqueness constraints.
	ErrConflict = errors.New("conversation conflict")
	// ErrEmptyPayload indicates a message with no content.
	ErrEmptyPayload = errors.New("message payload is required")
	// ErrUnknownKind indicates an unrecognized message kind.
	ErrUnknownKind = errors.New("unknown message kind")
	// ErrStoreNotConfigured indicates the service is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("chat store is not configured")
	// ErrUserIDRequired indicates an operation is missing the acting user id.
	ErrUserIDRequired = errors.New("user id is required")
	// ErrConversationIDRequired indicates an operation is missing the conversation id.
	ErrConversationIDRequired = errors.New("conversation id is required")
)

const notifyTimeout = 5 * time.Second

// Store is the domain persistence boundary.
//
// CreateConversation must enforce pair-key uniqueness with ErrConflict;
// AppendMessage must land the message insert, the conversation preview and
// timestamp update, and the recipient unread add as one atomic unit.
type Store interface {
	CreateConversation(ctx context.Context, conversation Conversation) error
	ConversationByID(ctx context.Context, conversationID string) (Conversation, error)
	ConversationByPairKey(ctx context.Context, pairKey string) (Conversation, error)
	ConversationsByParticipant(ctx context.Context, userID string) ([]Conversation, error)
	AppendMessage(ctx context.Context, message Message, preview string) (Message, error)
	MessagesByConversation(ctx context.Context, conversationID string) ([]Message, error)
	ResetUnread(ctx context.Context, conversationID string, userID string) error
	TotalUnread(ctx context.Context, userID string) (int, error)
}

// IdentityStore resolves denormalized participant snapshots at
// conversation-creation time. A missing user yields ErrNotFound.
type IdentityStore interface {
	UserProfile(ctx context.Context, userID string) (Profile, error)
}

// NewMessageNotification carries template variables for one new-message
// notification.
type NewMessageNotification struct {
	RecipientEmail string
	RecipientName  string
	SenderName     string
	Preview        string
}

// Notifier delivers best-effort new-message notifications. Failures are
// logged and swallowed by the service, never surfaced to senders.
type Notifier interface {
	NotifyNewMessage(ctx context.Context, notification NewMessageNotification) error
}

// Config wires the service's collaborators.
type Config struct {
	Store    Store
	Identity IdentityStore
	Notifier Notifier
	Feed     *stream.Broker
	Clock    func() time.Time
	NewID    func() (string, error)
}

// Service orchestrates conversation resolution, message appends, unread
// tracking, and live subscriptions.
type Service struct {
	store    Store
	identity IdentityStore
	notifier Notifier
	feed     *stream.Broker
	clock    func() time.Time
	newID    func() (string, error)
}

// NewService constructs chat domain use-cases.
func NewService(cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = id.NewID
	}
	if cfg.Feed == nil {
		cfg.Feed = stream.NewBroker()
	}
	return &Service{
		store:    cfg.Store,
		identity: cfg.Identity,
		notifier: cfg.Notifier,
		feed:     cfg.Feed,
		clock:    cfg.Clock,
		newID:    cfg.NewID,
	}
}

// FindOrCreateConversationInput describes one resolver request. The
// fallback profiles are used when the identity store has no record for a
// participant, mirroring denormalized data the caller already holds.
type FindOrCreateConversationInput struct {
	RequesterID       string
	TargetID          string
	RequesterFallback Profile
	TargetFallback    Profile
}

// FindOrCreateConversation returns the unique conversation between two
// users, creating it on first contact.
//
// Creation is idempotent under races: a create losing the pair-key
// uniqueness race re-reads and returns the winner, so interleaved calls
// for (A,B) and (B,A) converge on one conversation id.
func (s *Service) FindOrCreateConversation(ctx context.Context, input FindOrCreateConversationInput) (Conversation, error) {
	if s == nil || s.store == nil {
		return Conversation{}, ErrStoreNotConfigured
	}
	requesterID := strings.TrimSpace(input.RequesterID)
	targetID := strings.TrimSpace(input.TargetID)
	if requesterID == "" || targetID == "" {
		return Conversation{}, ErrUserIDRequired
	}
	if requesterID == targetID {
		return Conversation{}, ErrSelfContact
	}

	pairKey := PairKey(requesterID, targetID)
	existing, err := s.store.ConversationByPairKey(ctx, pairKey)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Conversation{}, err
	}

	conversationID, err := s.newID()
	if err != nil {
		return Conversation{}, err
	}
	now := s.nowUTC()
	conversation := Conversation{
		ID:             conversationID,
		ParticipantIDs: SortParticipants(requesterID, targetID),
		ParticipantInfo: map[string]Profile{
			requesterID: s.resolveProfile(ctx, requesterID, input.RequesterFallback),
			targetID:    s.resolveProfile(ctx, targetID, input.TargetFallback),
		},
		LastMessagePreview: "",
		LastMessageAt:      now,
		CreatedAt:          now,
		UnreadCounts: map[string]int{
			requesterID: 0,
			targetID:    0,
		},
	}

	if err := s.store.CreateConversation(ctx, conversation); err != nil {
		if errors.Is(err, ErrConflict) {
			winner, lookupErr := s.store.ConversationByPairKey(ctx, pairKey)
			if lookupErr == nil {
				return winner, nil
			}
			if errors.Is(lookupErr, ErrNotFound) {
				return Conversation{}, err
			}
			return Conversation{}, lookupErr
		}
		return Conversation{}, err
	}

	s.feed.Publish(
		stream.ConversationsTopic(requesterID),
		stream.ConversationsTopic(targetID),
	)
	return conversation, nil
}

// AppendMessageInput describes one message send.
type AppendMessageInput struct {
	ConversationID string
	SenderID       string
	Kind           MessageKind
	Payload        string
}

// AppendMessage appends one message to a conversation's log, updating the
// conversation preview and the recipient's unread counter as one atomic
// unit, then dispatches a best-effort notification.
func (s *Service) AppendMessage(ctx context.Context, input AppendMessageInput) (Message, error) {
	if s == nil || s.store == nil {
		return Message{}, ErrStoreNotConfigured
	}
	conversationID := strings.TrimSpace(input.ConversationID)
	if conversationID == "" {
		return Message{}, ErrConversationIDRequired
	}
	senderID := strings.TrimSpace(input.SenderID)
	if senderID == "" {
		return Message{}, ErrUserIDRequired
	}
	if !ValidKind(input.Kind) {
		return Message{}, ErrUnknownKind
	}
	payload := strings.TrimSpace(input.Payload)
	if payload == "" {
		return Message{}, ErrEmptyPayload
	}

	conversation, err := s.store.ConversationByID(ctx, conversationID)
	if err != nil {
		return Message{}, err
	}
	recipientID, ok := conversation.OtherParticipant(senderID)
	if !ok {
		return Message{}, ErrForbidden
	}

	messageID, err := s.newID()
	if err != nil {
		return Message{}, err
	}
	message := Message{
		ID:             messageID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Kind:           input.Kind,
		Payload:        payload,
		CreatedAt:      s.nowUTC(),
	}
	preview := PreviewFor(input.Kind, payload)

	appended, err := s.store.AppendMessage(ctx, message, preview)
	if err != nil {
		return Message{}, err
	}

	s.feed.Publish(
		stream.MessagesTopic(conversationID),
		stream.ConversationsTopic(senderID),
		stream.ConversationsTopic(recipientID),
	)
	s.dispatchNotification(conversation, senderID, recipientID, preview)
	return appended, nil
}

// ResetUnread sets the user's unread counter for a conversation to zero.
// It returns only after the store acknowledges; callers wanting instant
// badge feedback reconcile on the next subscription snapshot.
func (s *Service) ResetUnread(ctx context.Context, conversationID string, userID string) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return ErrConversationIDRequired
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrUserIDRequired
	}

	conversation, err := s.store.ConversationByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conversation.HasParticipant(userID) {
		return ErrForbidden
	}

	if err := s.store.ResetUnread(ctx, conversationID, userID); err != nil {
		return err
	}
	s.feed.Publish(stream.ConversationsTopic(userID))
	return nil
}

// TotalUnread sums the user's unread counters across all conversations,
// for the global badge.
func (s *Service) TotalUnread(ctx context.Context, userID string) (int, error) {
	if s == nil || s.store == nil {
		return 0, ErrStoreNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, ErrUserIDRequired
	}
	return s.store.TotalUnread(ctx, userID)
}

// Conversation returns one conversation by id.
func (s *Service) Conversation(ctx context.Context, conversationID string) (Conversation, error) {
	if s == nil || s.store == nil {
		return Conversation{}, ErrStoreNotConfigured
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return Conversation{}, ErrConversationIDRequired
	}
	return s.store.ConversationByID(ctx, conversationID)
}

// ListConversations returns the user's conversations ordered by
// LastMessageAt descending.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	return s.store.ConversationsByParticipant(ctx, userID)
}

// ListMessages returns a conversation's full ordered message log.
func (s *Service) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, ErrConversationIDRequired
	}
	return s.store.MessagesByConversation(ctx, conversationID)
}

func (s *Service) resolveProfile(ctx context.Context, userID string, fallback Profile) Profile {
	if s.identity == nil {
		return fallback
	}
	profile, err := s.identity.UserProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("chat: identity lookup failed user=%q, using fallback snapshot: %v", userID, err)
		}
		return fallback
	}
	return profile
}

func (s *Service) dispatchNotification(conversation Conversation, senderID string, recipientID string, preview string) {
	if s.notifier == nil {
		return
	}
	recipient := conversation.ParticipantInfo[recipientID]
	if strings.TrimSpace(recipient.Email) == "" {
		return
	}
	notification := NewMessageNotification{
		RecipientEmail: recipient.Email,
		RecipientName:  recipient.DisplayName,
		SenderName:     conversation.ParticipantInfo[senderID].DisplayName,
		Preview:        preview,
	}

	// Detached from the request context: a cancelled send must not cancel
	// the notification, and a slow provider must not block the sender.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyNewMessage(ctx, notification); err != nil {
			log.Printf("chat: new message notification failed conversation=%q: %v", conversation.ID, err)
		}
	}()
}

func (s *Service) nowUTC() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}
