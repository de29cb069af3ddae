package domain

import (
	"strings"
	"time"
)

// Profile is a denormalized snapshot of a participant's identity record.
//
// Snapshots are captured at conversation-creation time and are not
// live-synced afterward; staleness is an accepted trade-off against extra
// identity reads on every list.
type Profile struct {
	DisplayName string
	PhotoURL    string
	Email       string
}

// Conversation is the durable 1:1 messaging thread between two users.
type Conversation struct {
	ID                 string
	ParticipantIDs     [2]string
	ParticipantInfo    map[string]Profile
	LastMessagePreview string
	LastMessageAt      time.Time
	CreatedAt          time.Time
	UnreadCounts       map[string]int
}

// PairKey returns the deterministic key for an unordered participant pair.
// At most one conversation exists per key.
func PairKey(userA string, userB string) string {
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + "|" + userB
}

// SortParticipants returns the pair in stored (sorted) order.
func SortParticipants(userA string, userB string) [2]string {
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userB < userA {
		userA, userB = userB, userA
	}
	return [2]string{userA, userB}
}

// PairKey returns the conversation's deterministic participant-pair key.
func (c Conversation) PairKey() string {
	return PairKey(c.ParticipantIDs[0], c.ParticipantIDs[1])
}

// HasParticipant reports whether userID is one of the two participants.
func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.ParticipantIDs[0] == userID || c.ParticipantIDs[1] == userID)
}

// OtherParticipant returns the participant opposite userID.
func (c Conversation) OtherParticipant(userID string) (string, bool) {
	switch userID {
	case c.ParticipantIDs[0]:
		return c.ParticipantIDs[1], true
	case c.ParticipantIDs[1]:
		return c.ParticipantIDs[0], true
	default:
		return "", false
	}
}
