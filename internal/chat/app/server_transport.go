package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/foundline/chat/internal/chat/domain"
	"golang.org/x/net/websocket"
)

const (
	tokenCookieName = "fl_token"

	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3

	maxMessageBodyRunes = 2000
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type profilePayload struct {
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url"`
	Email       string `json:"email"`
}

// openPayload carries the client's denormalized profile snapshots. The
// fallbacks stand in when no identity service is configured or a profile
// lookup misses; self_fallback keeps the requester's own name available for
// notifications and the peer's conversation view.
type openPayload struct {
	TargetUserID string         `json:"target_user_id"`
	Fallback     profilePayload `json:"fallback"`
	SelfFallback profilePayload `json:"self_fallback"`
}

type sendPayload struct {
	ConversationID string `json:"conversation_id"`
	Kind           string `json:"kind"`
	Payload        string `json:"payload"`
}

type readPayload struct {
	ConversationID string `json:"conversation_id"`
}

type watchPayload struct {
	ConversationID string `json:"conversation_id"`
}

type conversationView struct {
	ConversationID     string                    `json:"conversation_id"`
	ParticipantIDs     [2]string                 `json:"participant_ids"`
	Participants       map[string]profilePayload `json:"participants"`
	LastMessagePreview string                    `json:"last_message_preview"`
	LastMessageAt      string                    `json:"last_message_at"`
	CreatedAt          string                    `json:"created_at"`
	UnreadCounts       map[string]int            `json:"unread_counts"`
}

type messageView struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Kind           string `json:"kind"`
	Payload        string `json:"payload"`
	Seq            int64  `json:"seq"`
	SentAt         string `json:"sent_at"`
}

type ackEnvelope struct {
	Result ackResult `json:"result"`
}

type ackResult struct {
	Status       string            `json:"status"`
	Conversation *conversationView `json:"conversation,omitempty"`
	Message      *messageView      `json:"message,omitempty"`
	UnreadTotal  *int              `json:"unread_total,omitempty"`
}

type conversationsEnvelope struct {
	Conversations []conversationView `json:"conversations"`
}

type messagesEnvelope struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []messageView `json:"messages"`
}

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

type wsSession struct {
	mu     sync.Mutex
	userID string
	peer   *wsPeer
	inbox  *domain.Subscription[[]domain.Conversation]
	watch  *domain.Subscription[[]domain.Message]
}

func newWSSession(userID string, peer *wsPeer) *wsSession {
	return &wsSession{
		userID: userID,
		peer:   peer,
	}
}

func (s *wsSession) setInbox(next *domain.Subscription[[]domain.Conversation]) *domain.Subscription[[]domain.Conversation] {
	s.mu.Lock()
	previous := s.inbox
	s.inbox = next
	s.mu.Unlock()
	return previous
}

func (s *wsSession) setWatch(next *domain.Subscription[[]domain.Message]) *domain.Subscription[[]domain.Message] {
	s.mu.Lock()
	previous := s.watch
	s.watch = next
	s.mu.Unlock()
	return previous
}

func (s *wsSession) teardown() {
	s.setInbox(nil).Cancel()
	s.setWatch(nil).Cancel()
}

type wsUserIDContextKey struct{}

// NewHandler creates chat routes for tests and offline paths.
// WebSocket auth is intentionally disabled in this constructor.
func NewHandler(service *domain.Service) http.Handler {
	return newHandler(service, nil, false)
}

// NewHandlerWithAuthorizer creates chat routes with enforced websocket identity checks.
func NewHandlerWithAuthorizer(service *domain.Service, authorizer wsAuthorizer) http.Handler {
	return newHandler(service, authorizer, true)
}

func newHandler(service *domain.Service, authorizer wsAuthorizer, requireAuth bool) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, service)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if requireAuth {
			if authorizer == nil {
				http.Error(w, "websocket auth is not configured", http.StatusServiceUnavailable)
				return
			}

			accessToken := accessTokenFromRequest(r)
			if accessToken == "" {
				log.Printf("chat: websocket unauthorized: missing fl_token for host=%q remote=%s path=%q", r.Host, r.RemoteAddr, r.URL.Path)
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}

			userID, err := authorizer.Authenticate(r.Context(), accessToken)
			if err != nil || strings.TrimSpace(userID) == "" {
				if err != nil {
					log.Printf("chat: websocket unauthorized: token verification failed for host=%q remote=%s path=%q err=%v", r.Host, r.RemoteAddr, r.URL.Path, err)
				} else {
					log.Printf("chat: websocket unauthorized: empty user id after auth for host=%q remote=%s path=%q", r.Host, r.RemoteAddr, r.URL.Path)
				}
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), wsUserIDContextKey{}, strings.TrimSpace(userID))
			r = r.WithContext(ctx)
		}

		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

func accessTokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	cookie, err := r.Cookie(tokenCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func handleWSConn(conn *websocket.Conn, service *domain.Service) {
	defer func() {
		_ = conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	peer := newWSPeer(json.NewEncoder(conn))
	ctx := context.Background()
	userID := ""
	if request := conn.Request(); request != nil {
		ctx = request.Context()
		if resolved, ok := request.Context().Value(wsUserIDContextKey{}).(string); ok {
			userID = strings.TrimSpace(resolved)
		}
	}
	if userID == "" {
		userID = "anonymous"
	}
	session := newWSSession(userID, peer)
	defer session.teardown()

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(session.peer, "", "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeWSError(session.peer, frame.RequestID, "RESOURCE_EXHAUSTED", "rate limit exceeded")
			return
		}

		switch frame.Type {
		case "chat.open":
			handleOpenFrame(ctx, session, service, frame)
		case "chat.send":
			handleSendFrame(ctx, session, service, frame)
		case "chat.read":
			handleReadFrame(ctx, session, service, frame)
		case "chat.badge":
			handleBadgeFrame(ctx, session, service, frame)
		case "chat.inbox":
			handleInboxFrame(ctx, session, service, frame)
		case "chat.watch":
			handleWatchFrame(ctx, session, service, frame)
		default:
			_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "unsupported frame type")
		}
	}
}

func handleOpenFrame(ctx context.Context, session *wsSession, service *domain.Service, frame wsFrame) {
	var payload openPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid open payload")
		return
	}
	if strings.TrimSpace(payload.TargetUserID) == "" {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "target_user_id is required")
		return
	}

	conversation, err := service.FindOrCreateConversation(ctx, domain.FindOrCreateConversationInput{
		RequesterID: session.userID,
		TargetID:    payload.TargetUserID,
		RequesterFallback: domain.Profile{
			DisplayName: payload.SelfFallback.DisplayName,
			PhotoURL:    payload.SelfFallback.PhotoURL,
			Email:       payload.SelfFallback.Email,
		},
		TargetFallback: domain.Profile{
			DisplayName: payload.Fallback.DisplayName,
			PhotoURL:    payload.Fallback.PhotoURL,
			Email:       payload.Fallback.Email,
		},
	})
	if err != nil {
		writeDomainError(session.peer, frame.RequestID, err)
		return
	}

	view := toConversationView(conversation)
	_ = session.peer.writeFrame(wsFrame{
		Type:      "chat.ack",
		RequestID: frame.RequestID,
		Payload: mustJSON(ackEnvelope{
			Result: ackResult{
				Status:       "ok",
				Conversation: &view,
			},
		}),
	})
}

func handleSendFrame(ctx context.Context, session *wsSession, service *domain.Service, frame wsFrame) {
	var payload sendPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid send payload")
		return
	}

	body := strings.TrimSpace(payload.Payload)
	if body == "" {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "payload is required")
		return
	}
	if utf8.RuneCountInString(body) > maxMessageBodyRunes {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "payload must be at most 2000 characters")
		return
	}

	message, err := service.AppendMessage(ctx, domain.AppendMessageInput{
		ConversationID: payload.ConversationID,
		SenderID:       session.userID,
		Kind:           domain.MessageKind(payload.Kind),
		Payload:        body,
	})
	if err != nil {
		writeDomainError(session.peer, frame.RequestID, err)
		return
	}

	view := toMessageView(message)
	_ = session.peer.writeFrame(wsFrame{
		Type:      "chat.ack",
		RequestID: frame.RequestID,
		Payload: mustJSON(ackEnvelope{
			Result: ackResult{
				Status:  "ok",
				Message: &view,
			},
		}),
	})
}

func handleReadFrame(ctx context.Context, session *wsSession, service *domain.Service, frame wsFrame) {
	var payload readPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid read payload")
		return
	}

	if err := service.ResetUnread(ctx, payload.ConversationID, session.userID); err != nil {
		writeDomainError(session.peer, frame.RequestID, err)
		return
	}

	_ = session.peer.writeFrame(wsFrame{
		Type:      "chat.ack",
		RequestID: frame.RequestID,
		Payload:   mustJSON(ackEnvelope{Result: ackResult{Status: "ok"}}),
	})
}

func handleBadgeFrame(ctx context.Context, session *wsSession, service *domain.Service, frame wsFrame) {
	total, err := service.TotalUnread(ctx, session.userID)
	if err != nil {
		writeDomainError(session.peer, frame.RequestID, err)
		return
	}

	_ = session.peer.writeFrame(wsFrame{
		Type:      "chat.ack",
		RequestID: frame.RequestID,
		Payload: mustJSON(ackEnvelope{
			Result: ackResult{
				Status:      "ok",
				UnreadTotal: &total,
			},
		}),
	})
}

func handleInboxFrame(ctx context.Context, session *wsSession, service *domain.Service, frame wsFrame) {
	subscription, err := service.SubscribeConversations(ctx, session.userID)
	if err != nil {
		writeDomainError(session.peer, frame.RequestID, err)
		return
	}

	session.setInbox(subscription).Cancel()

	// Ack before the first snapshot so clients see a deterministic order.
	_ = session.peer.writeFrame(wsFrame{
		Type:      "chat.ack",
		RequestID: frame.RequestID,
		Payload:   mustJSON(ackEnvelope{Result: ackResult{Status: "ok"}}),
	})
	go forwardConversationSnapshots(session.peer, subscription)
}

func handleWatchFrame(ctx context.Context, session *wsSession, service *domain.Service, frame wsFrame) {
	var payload watchPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid watch payload")
		return
	}

	conversation, err := service.Conversation(ctx, payload.ConversationID)
	if err != nil {
		writeDomainError(session.peer, frame.RequestID, err)
		return
	}
	if !conversation.HasParticipant(session.userID) {
		_ = writeWSError(session.peer, frame.RequestID, "FORBIDDEN", "participant access required for conversation")
		return
	}

	subscription, err := service.SubscribeMessages(ctx, payload.ConversationID)
	if err != nil {
		writeDomainError(session.peer, frame.RequestID, err)
		return
	}

	session.setWatch(subscription).Cancel()

	_ = session.peer.writeFrame(wsFrame{
		Type:      "chat.ack",
		RequestID: frame.RequestID,
		Payload:   mustJSON(ackEnvelope{Result: ackResult{Status: "ok"}}),
	})
	go forwardMessageSnapshots(session.peer, conversation.ID, subscription)
}

func forwardConversationSnapshots(peer *wsPeer, subscription *domain.Subscription[[]domain.Conversation]) {
	for snapshot := range subscription.Updates() {
		views := make([]conversationView, 0, len(snapshot))
		for _, conversation := range snapshot {
			views = append(views, toConversationView(conversation))
		}
		_ = peer.writeFrame(wsFrame{
			Type:    "chat.conversations",
			Payload: mustJSON(conversationsEnvelope{Conversations: views}),
		})
	}
}

func forwardMessageSnapshots(peer *wsPeer, conversationID string, subscription *domain.Subscription[[]domain.Message]) {
	for snapshot := range subscription.Updates() {
		views := make([]messageView, 0, len(snapshot))
		for _, message := range snapshot {
			views = append(views, toMessageView(message))
		}
		_ = peer.writeFrame(wsFrame{
			Type: "chat.messages",
			Payload: mustJSON(messagesEnvelope{
				ConversationID: conversationID,
				Messages:       views,
			}),
		})
	}
}

func toConversationView(conversation domain.Conversation) conversationView {
	view := conversationView{
		ConversationID:     conversation.ID,
		ParticipantIDs:     conversation.ParticipantIDs,
		Participants:       make(map[string]profilePayload, len(conversation.ParticipantInfo)),
		LastMessagePreview: conversation.LastMessagePreview,
		LastMessageAt:      conversation.LastMessageAt.UTC().Format(time.RFC3339),
		CreatedAt:          conversation.CreatedAt.UTC().Format(time.RFC3339),
		UnreadCounts:       make(map[string]int, len(conversation.UnreadCounts)),
	}
	for userID, profile := range conversation.ParticipantInfo {
		view.Participants[userID] = profilePayload{
			DisplayName: profile.DisplayName,
			PhotoURL:    profile.PhotoURL,
			Email:       profile.Email,
		}
	}
	for userID, count := range conversation.UnreadCounts {
		view.UnreadCounts[userID] = count
	}
	return view
}

func toMessageView(message domain.Message) messageView {
	return messageView{
		MessageID:      message.ID,
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		Kind:           string(message.Kind),
		Payload:        message.Payload,
		Seq:            message.Seq,
		SentAt:         message.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func writeDomainError(peer *wsPeer, requestID string, err error) {
	switch {
	case errors.Is(err, domain.ErrSelfContact):
		_ = writeWSError(peer, requestID, "SELF_CONTACT", "cannot message yourself")
	case errors.Is(err, domain.ErrNotFound):
		_ = writeWSError(peer, requestID, "NOT_FOUND", "conversation not found")
	case errors.Is(err, domain.ErrForbidden):
		_ = writeWSError(peer, requestID, "FORBIDDEN", "participant access required for conversation")
	case errors.Is(err, domain.ErrEmptyPayload),
		errors.Is(err, domain.ErrUnknownKind),
		errors.Is(err, domain.ErrUserIDRequired),
		errors.Is(err, domain.ErrConversationIDRequired):
		_ = writeWSError(peer, requestID, "INVALID_ARGUMENT", err.Error())
	default:
		log.Printf("chat: operation failed: %v", err)
		_ = writeWSError(peer, requestID, "UNAVAILABLE", "chat operation unavailable")
	}
}

func writeWSError(peer *wsPeer, requestID string, code string, message string) error {
	return peer.writeFrame(wsFrame{
		Type:      "chat.error",
		RequestID: requestID,
		Payload: mustJSON(wsErrorEnvelope{
			Error: wsError{
				Code:      code,
				Message:   message,
				Retryable: false,
			},
		}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
