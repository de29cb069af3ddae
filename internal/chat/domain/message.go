package domain

import "time"

// MessageKind tags the payload variant of a message.
type MessageKind string

const (
	// MessageKindText carries the text body in Payload.
	MessageKindText MessageKind = "text"
	// MessageKindImage carries a hosted image URL in Payload.
	MessageKindImage MessageKind = "image"
)

// ImagePreviewPlaceholder is the fixed conversation preview shown for image
// messages instead of the image URL.
const ImagePreviewPlaceholder = "📷 Photo"

// Message is one append-only entry in a conversation's log.
//
// Messages are totally ordered by CreatedAt with Seq breaking ties in
// insertion order; Seq is assigned by the store inside the append
// transaction and never reused.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Kind           MessageKind
	Payload        string
	Seq            int64
	CreatedAt      time.Time
}

// ValidKind reports whether kind is a known message kind.
func ValidKind(kind MessageKind) bool {
	return kind == MessageKindText || kind == MessageKindImage
}

// PreviewFor returns the conversation preview for a message payload:
// the text verbatim, or the fixed placeholder for images.
func PreviewFor(kind MessageKind, payload string) string {
	if kind == MessageKindImage {
		return ImagePreviewPlaceholder
	}
	return payload
}
