package server

import (
	"context"
	"errors"

	"github.com/foundline/chat/internal/chat/domain"
	"github.com/foundline/chat/internal/chat/storage"
)

type domainStoreAdapter struct {
	conversationStore storage.ConversationStore
	messageStore      storage.MessageStore
}

func newDomainStoreAdapter(conversationStore storage.ConversationStore, messageStore storage.MessageStore) *domainStoreAdapter {
	return &domainStoreAdapter{
		conversationStore: conversationStore,
		messageStore:      messageStore,
	}
}

func (a *domainStoreAdapter) CreateConversation(ctx context.Context, conversation domain.Conversation) error {
	if a == nil || a.conversationStore == nil {
		return domain.ErrStoreNotConfigured
	}
	return mapStorageError(a.conversationStore.CreateConversation(ctx, toStorageConversation(conversation)))
}

func (a *domainStoreAdapter) ConversationByID(ctx context.Context, conversationID string) (domain.Conversation, error) {
	if a == nil || a.conversationStore == nil {
		return domain.Conversation{}, domain.ErrStoreNotConfigured
	}
	record, err := a.conversationStore.GetConversation(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, mapStorageError(err)
	}
	return toDomainConversation(record), nil
}

func (a *domainStoreAdapter) ConversationByPairKey(ctx context.Context, pairKey string) (domain.Conversation, error) {
	if a == nil || a.conversationStore == nil {
		return domain.Conversation{}, domain.ErrStoreNotConfigured
	}
	record, err := a.conversationStore.GetConversationByPairKey(ctx, pairKey)
	if err != nil {
		return domain.Conversation{}, mapStorageError(err)
	}
	return toDomainConversation(record), nil
}

func (a *domainStoreAdapter) ConversationsByParticipant(ctx context.Context, userID string) ([]domain.Conversation, error) {
	if a == nil || a.conversationStore == nil {
		return nil, domain.ErrStoreNotConfigured
	}
	records, err := a.conversationStore.ListConversationsByParticipant(ctx, userID)
	if err != nil {
		return nil, mapStorageError(err)
	}
	conversations := make([]domain.Conversation, 0, len(records))
	for _, record := range records {
		conversations = append(conversations, toDomainConversation(record))
	}
	return conversations, nil
}

func (a *domainStoreAdapter) AppendMessage(ctx context.Context, message domain.Message, preview string) (domain.Message, error) {
	if a == nil || a.messageStore == nil {
		return domain.Message{}, domain.ErrStoreNotConfigured
	}
	record, err := a.messageStore.AppendMessage(ctx, toStorageMessage(message), preview)
	if err != nil {
		return domain.Message{}, mapStorageError(err)
	}
	return toDomainMessage(record), nil
}

func (a *domainStoreAdapter) MessagesByConversation(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if a == nil || a.messageStore == nil {
		return nil, domain.ErrStoreNotConfigured
	}
	records, err := a.messageStore.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, mapStorageError(err)
	}
	messages := make([]domain.Message, 0, len(records))
	for _, record := range records {
		messages = append(messages, toDomainMessage(record))
	}
	return messages, nil
}

func (a *domainStoreAdapter) ResetUnread(ctx context.Context, conversationID string, userID string) error {
	if a == nil || a.conversationStore == nil {
		return domain.ErrStoreNotConfigured
	}
	return mapStorageError(a.conversationStore.ResetUnread(ctx, conversationID, userID))
}

func (a *domainStoreAdapter) TotalUnread(ctx context.Context, userID string) (int, error) {
	if a == nil || a.conversationStore == nil {
		return 0, domain.ErrStoreNotConfigured
	}
	total, err := a.conversationStore.TotalUnread(ctx, userID)
	if err != nil {
		return 0, mapStorageError(err)
	}
	return total, nil
}

func toStorageConversation(conversation domain.Conversation) storage.ConversationRecord {
	record := storage.ConversationRecord{
		ID:                 conversation.ID,
		PairKey:            conversation.PairKey(),
		LastMessagePreview: conversation.LastMessagePreview,
		LastMessageAt:      conversation.LastMessageAt,
		CreatedAt:          conversation.CreatedAt,
	}
	for i, userID := range conversation.ParticipantIDs {
		profile := conversation.ParticipantInfo[userID]
		record.Participants[i] = storage.ParticipantRecord{
			UserID:      userID,
			DisplayName: profile.DisplayName,
			PhotoURL:    profile.PhotoURL,
			Email:       profile.Email,
			UnreadCount: conversation.UnreadCounts[userID],
		}
	}
	return record
}

func toDomainConversation(record storage.ConversationRecord) domain.Conversation {
	conversation := domain.Conversation{
		ID:                 record.ID,
		LastMessagePreview: record.LastMessagePreview,
		LastMessageAt:      record.LastMessageAt,
		CreatedAt:          record.CreatedAt,
		ParticipantInfo:    make(map[string]domain.Profile, len(record.Participants)),
		UnreadCounts:       make(map[string]int, len(record.Participants)),
	}
	for i, participant := range record.Participants {
		conversation.ParticipantIDs[i] = participant.UserID
		conversation.ParticipantInfo[participant.UserID] = domain.Profile{
			DisplayName: participant.DisplayName,
			PhotoURL:    participant.PhotoURL,
			Email:       participant.Email,
		}
		conversation.UnreadCounts[participant.UserID] = participant.UnreadCount
	}
	return conversation
}

func toStorageMessage(message domain.Message) storage.MessageRecord {
	return storage.MessageRecord{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		Seq:            message.Seq,
		SenderID:       message.SenderID,
		Kind:           string(message.Kind),
		Payload:        message.Payload,
		CreatedAt:      message.CreatedAt,
	}
}

func toDomainMessage(record storage.MessageRecord) domain.Message {
	return domain.Message{
		ID:             record.ID,
		ConversationID: record.ConversationID,
		Seq:            record.Seq,
		SenderID:       record.SenderID,
		Kind:           domain.MessageKind(record.Kind),
		Payload:        record.Payload,
		CreatedAt:      record.CreatedAt,
	}
}

func mapStorageError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return domain.ErrNotFound
	case errors.Is(err, storage.ErrConflict):
		return domain.ErrConflict
	default:
		return err
	}
}
