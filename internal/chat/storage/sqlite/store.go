package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/foundline/chat/internal/chat/storage"
	"github.com/foundline/chat/internal/chat/storage/sqlite/migrations"
	"github.com/foundline/chat/internal/platform/storage/sqlitemigrate"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for chat state.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a chat SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := ensureForeignKeysEnabled(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func ensureForeignKeysEnabled(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("sqlite db is required")
	}
	var enabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&enabled); err != nil {
		return fmt.Errorf("check sqlite foreign key pragma: %w", err)
	}
	if enabled != 1 {
		return fmt.Errorf("sqlite foreign keys are disabled")
	}
	return nil
}

// CreateConversation inserts one conversation with its participant rows.
func (s *Store) CreateConversation(ctx context.Context, record storage.ConversationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	normalized, err := normalizeConversationRecord(record)
	if err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin conversation create: %w", err)
	}
	rollbackWith := func(cause error) error {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w: rollback conversation create: %v", cause, rollbackErr)
		}
		return cause
	}

	if _, err := tx.ExecContext(ctx, `
	INSERT INTO conversations (id, pair_key, last_message_preview, last_message_at, created_at)
	VALUES (?, ?, ?, ?, ?)
	`,
		normalized.ID,
		normalized.PairKey,
		normalized.LastMessagePreview,
		toMillis(normalized.LastMessageAt),
		toMillis(normalized.CreatedAt),
	); err != nil {
		if isUniqueConstraintError(err) {
			return rollbackWith(storage.ErrConflict)
		}
		return rollbackWith(fmt.Errorf("insert conversation: %w", err))
	}

	for _, participant := range normalized.Participants {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id, display_name, photo_url, email, unread_count)
		VALUES (?, ?, ?, ?, ?, ?)
		`,
			normalized.ID,
			participant.UserID,
			participant.DisplayName,
			participant.PhotoURL,
			participant.Email,
			participant.UnreadCount,
		); err != nil {
			if isUniqueConstraintError(err) {
				return rollbackWith(storage.ErrConflict)
			}
			return rollbackWith(fmt.Errorf("insert conversation participant: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit conversation create: %w", err)
	}
	return nil
}

// GetConversation loads one conversation with its participant rows.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (storage.ConversationRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ConversationRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ConversationRecord{}, fmt.Errorf("storage is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return storage.ConversationRecord{}, fmt.Errorf("conversation id is required")
	}
	return s.getConversationWhere(ctx, "c.id = ?", conversationID)
}

// GetConversationByPairKey loads one conversation by its participant-pair key.
func (s *Store) GetConversationByPairKey(ctx context.Context, pairKey string) (storage.ConversationRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ConversationRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ConversationRecord{}, fmt.Errorf("storage is not configured")
	}
	pairKey = strings.TrimSpace(pairKey)
	if pairKey == "" {
		return storage.ConversationRecord{}, fmt.Errorf("pair key is required")
	}
	return s.getConversationWhere(ctx, "c.pair_key = ?", pairKey)
}

// ListConversationsByParticipant lists one user's conversations newest-first.
func (s *Store) ListConversationsByParticipant(ctx context.Context, userID string) ([]storage.ConversationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, conversationSelect+`
WHERE c.id IN (SELECT conversation_id FROM conversation_participants WHERE user_id = ?)
ORDER BY c.last_message_at DESC, c.id DESC, p.user_id ASC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

// ResetUnread sets one participant counter to exactly zero.
func (s *Store) ResetUnread(ctx context.Context, conversationID string, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	userID = strings.TrimSpace(userID)
	if conversationID == "" {
		return fmt.Errorf("conversation id is required")
	}
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE conversation_participants
SET unread_count = 0
WHERE conversation_id = ? AND user_id = ?
`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reset unread rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// TotalUnread sums one user's counters across all conversations.
func (s *Store) TotalUnread(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("user id is required")
	}

	var total int
	if err := s.sqlDB.QueryRowContext(ctx, `
SELECT COALESCE(SUM(unread_count), 0)
FROM conversation_participants
WHERE user_id = ?
`, userID).Scan(&total); err != nil {
		return 0, fmt.Errorf("total unread: %w", err)
	}
	return total, nil
}

// AppendMessage atomically inserts one message, bumps the conversation
// preview/timestamp, and adds 1 to the non-sender counters.
func (s *Store) AppendMessage(ctx context.Context, record storage.MessageRecord, preview string) (storage.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.MessageRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.MessageRecord{}, fmt.Errorf("storage is not configured")
	}
	normalized, err := normalizeMessageRecord(record)
	if err != nil {
		return storage.MessageRecord{}, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.MessageRecord{}, fmt.Errorf("begin message append: %w", err)
	}
	rollbackWith := func(cause error) (storage.MessageRecord, error) {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return storage.MessageRecord{}, fmt.Errorf("%w: rollback message append: %v", cause, rollbackErr)
		}
		return storage.MessageRecord{}, cause
	}

	// last_message_at stays monotonic even if a lagging clock hands the
	// append an older timestamp than the previous one.
	result, err := tx.ExecContext(ctx, `
UPDATE conversations
SET last_message_preview = ?, last_message_at = MAX(last_message_at, ?)
WHERE id = ?
`, preview, toMillis(normalized.CreatedAt), normalized.ConversationID)
	if err != nil {
		return rollbackWith(fmt.Errorf("update conversation preview: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return rollbackWith(fmt.Errorf("update conversation preview rows affected: %w", err))
	}
	if affected == 0 {
		return rollbackWith(storage.ErrNotFound)
	}

	if err := tx.QueryRowContext(ctx, `
SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?
`, normalized.ConversationID).Scan(&normalized.Seq); err != nil {
		return rollbackWith(fmt.Errorf("assign message seq: %w", err))
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO messages (id, conversation_id, seq, sender_id, kind, payload, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		normalized.ID,
		normalized.ConversationID,
		normalized.Seq,
		normalized.SenderID,
		normalized.Kind,
		normalized.Payload,
		toMillis(normalized.CreatedAt),
	); err != nil {
		if isUniqueConstraintError(err) {
			return rollbackWith(storage.ErrConflict)
		}
		return rollbackWith(fmt.Errorf("insert message: %w", err))
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE conversation_participants
SET unread_count = unread_count + 1
WHERE conversation_id = ? AND user_id != ?
`, normalized.ConversationID, normalized.SenderID); err != nil {
		return rollbackWith(fmt.Errorf("increment recipient unread: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return storage.MessageRecord{}, fmt.Errorf("commit message append: %w", err)
	}
	return normalized, nil
}

// ListMessages returns one conversation's log in (created_at, seq) order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]storage.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, fmt.Errorf("conversation id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, conversation_id, seq, sender_id, kind, payload, created_at
FROM messages
WHERE conversation_id = ?
ORDER BY created_at ASC, seq ASC
`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var results []storage.MessageRecord
	for rows.Next() {
		record, scanErr := scanMessage(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan message row: %w", scanErr)
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return results, nil
}

const conversationSelect = `
SELECT c.id, c.pair_key, c.last_message_preview, c.last_message_at, c.created_at,
       p.user_id, p.display_name, p.photo_url, p.email, p.unread_count
FROM conversations c
JOIN conversation_participants p ON p.conversation_id = c.id
`

func (s *Store) getConversationWhere(ctx context.Context, where string, arg string) (storage.ConversationRecord, error) {
	rows, err := s.sqlDB.QueryContext(ctx, conversationSelect+"WHERE "+where+"\nORDER BY p.user_id ASC", arg)
	if err != nil {
		return storage.ConversationRecord{}, fmt.Errorf("get conversation: %w", err)
	}
	defer rows.Close()

	records, err := collectConversations(rows)
	if err != nil {
		return storage.ConversationRecord{}, err
	}
	if len(records) == 0 {
		return storage.ConversationRecord{}, storage.ErrNotFound
	}
	return records[0], nil
}

type scanner func(dest ...any) error

func collectConversations(rows *sql.Rows) ([]storage.ConversationRecord, error) {
	var results []storage.ConversationRecord
	var current storage.ConversationRecord
	participants := 0

	for rows.Next() {
		var record storage.ConversationRecord
		var participant storage.ParticipantRecord
		var lastMessageAt int64
		var createdAt int64
		if err := rows.Scan(
			&record.ID,
			&record.PairKey,
			&record.LastMessagePreview,
			&lastMessageAt,
			&createdAt,
			&participant.UserID,
			&participant.DisplayName,
			&participant.PhotoURL,
			&participant.Email,
			&participant.UnreadCount,
		); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		record.LastMessageAt = fromMillis(lastMessageAt)
		record.CreatedAt = fromMillis(createdAt)

		if current.ID != record.ID {
			if participants > 0 {
				results = append(results, current)
			}
			current = record
			participants = 0
		}
		if participants < len(current.Participants) {
			current.Participants[participants] = participant
		}
		participants++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	if participants > 0 {
		results = append(results, current)
	}
	return results, nil
}

func scanMessage(scan scanner) (storage.MessageRecord, error) {
	var record storage.MessageRecord
	var createdAt int64
	if err := scan(
		&record.ID,
		&record.ConversationID,
		&record.Seq,
		&record.SenderID,
		&record.Kind,
		&record.Payload,
		&createdAt,
	); err != nil {
		return storage.MessageRecord{}, err
	}
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

func normalizeConversationRecord(record storage.ConversationRecord) (storage.ConversationRecord, error) {
	record.ID = strings.TrimSpace(record.ID)
	record.PairKey = strings.TrimSpace(record.PairKey)
	if record.ID == "" {
		return storage.ConversationRecord{}, fmt.Errorf("conversation id is required")
	}
	if record.PairKey == "" {
		return storage.ConversationRecord{}, fmt.Errorf("pair key is required")
	}
	if record.CreatedAt.IsZero() {
		return storage.ConversationRecord{}, fmt.Errorf("created_at is required")
	}
	if record.LastMessageAt.IsZero() {
		record.LastMessageAt = record.CreatedAt
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.LastMessageAt = record.LastMessageAt.UTC()

	for i := range record.Participants {
		record.Participants[i].UserID = strings.TrimSpace(record.Participants[i].UserID)
		if record.Participants[i].UserID == "" {
			return storage.ConversationRecord{}, fmt.Errorf("participant user id is required")
		}
		if record.Participants[i].UnreadCount < 0 {
			return storage.ConversationRecord{}, fmt.Errorf("unread count must be non-negative")
		}
	}
	if record.Participants[0].UserID == record.Participants[1].UserID {
		return storage.ConversationRecord{}, fmt.Errorf("participants must be distinct")
	}
	return record, nil
}

func normalizeMessageRecord(record storage.MessageRecord) (storage.MessageRecord, error) {
	record.ID = strings.TrimSpace(record.ID)
	record.ConversationID = strings.TrimSpace(record.ConversationID)
	record.SenderID = strings.TrimSpace(record.SenderID)
	record.Kind = strings.TrimSpace(record.Kind)
	if record.ID == "" {
		return storage.MessageRecord{}, fmt.Errorf("message id is required")
	}
	if record.ConversationID == "" {
		return storage.MessageRecord{}, fmt.Errorf("conversation id is required")
	}
	if record.SenderID == "" {
		return storage.MessageRecord{}, fmt.Errorf("sender id is required")
	}
	if record.Kind == "" {
		return storage.MessageRecord{}, fmt.Errorf("message kind is required")
	}
	if record.Payload == "" {
		return storage.MessageRecord{}, fmt.Errorf("message payload is required")
	}
	if record.CreatedAt.IsZero() {
		return storage.MessageRecord{}, fmt.Errorf("created_at is required")
	}
	record.CreatedAt = record.CreatedAt.UTC()
	return record, nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "unique constraint failed")
}
