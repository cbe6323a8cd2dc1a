package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Message represents an archived telegram message.
// Identity is the composite (DialogID, ID): telegram reuses message ids
// across dialogs, so ID alone is not unique.
type Message struct {
	ID           int64     `json:"id"`
	DialogID     int64     `json:"dialog_id"`
	Text         string    `json:"text"`
	Created      time.Time `json:"created"`
	GroupedID    *int64    `json:"grouped_id,omitempty"` // media-group id linking album messages
	ReplyToMsgID *int64    `json:"reply_to_msg_id,omitempty"`
}

// MessageFilter filters out message ids at or below the stored watermark
type MessageFilter struct {
	lastID int64
}

// NewMessageFilter creates a filter from the last archived message id
func NewMessageFilter(lastID int64) *MessageFilter {
	return &MessageFilter{lastID: lastID}
}

// Allows reports whether an id lies above the watermark
func (f *MessageFilter) Allows(id int64) bool {
	return id > f.lastID
}

// FilterNew returns only message ids newer than the watermark
func (f *MessageFilter) FilterNew(messageIDs []int64) []int64 {
	if len(messageIDs) == 0 {
		return []int64{}
	}

	var newIDs []int64
	for _, id := range messageIDs {
		if f.Allows(id) {
			newIDs = append(newIDs, id)
		}
	}

	if newIDs == nil {
		return []int64{}
	}
	return newIDs
}

// MessagesRepository handles messages table operations
type MessagesRepository struct {
	pool *pgxpool.Pool
}

// NewMessagesRepository creates a new messages repository
func NewMessagesRepository(pool *pgxpool.Pool) *MessagesRepository {
	return &MessagesRepository{pool: pool}
}

// InsertBatch stores messages for a dialog in one round trip.
// Re-ingesting an already archived (dialog_id, id) pair is a no-op, which
// makes sync runs idempotent. Returns the number of newly inserted rows.
func (r *MessagesRepository) InsertBatch(ctx context.Context, messages []Message) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, m := range messages {
		batch.Queue(`
			INSERT INTO messages (id, dialog_id, text, created, grouped_id, reply_to_msg_id)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (dialog_id, id) DO NOTHING
		`, m.ID, m.DialogID, m.Text, m.Created, m.GroupedID, m.ReplyToMsgID)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range messages {
		tag, err := results.Exec()
		if err != nil {
			return inserted, mapConstraintError(fmt.Errorf("insert message: %w", err), ErrDialogNotFound)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// LastMessageID returns the highest archived message id for a dialog.
// Returns 0 when the dialog has no messages yet, meaning everything is new.
func (r *MessagesRepository) LastMessageID(ctx context.Context, dialogID int64) (int64, error) {
	var lastID int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(id), 0) FROM messages WHERE dialog_id = $1
	`, dialogID).Scan(&lastID)
	if err != nil {
		return 0, fmt.Errorf("get last message id: %w", err)
	}
	return lastID, nil
}

// GetByDialog returns messages of a dialog ordered by id, paged by offset/limit
func (r *MessagesRepository) GetByDialog(ctx context.Context, dialogID int64, offset, limit int) ([]Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, dialog_id, text, created, grouped_id, reply_to_msg_id
		FROM messages
		WHERE dialog_id = $1
		ORDER BY id
		OFFSET $2 LIMIT $3
	`, dialogID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("get messages by dialog: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.DialogID, &m.Text, &m.Created, &m.GroupedID, &m.ReplyToMsgID); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// Count returns the number of archived messages for a dialog
func (r *MessagesRepository) Count(ctx context.Context, dialogID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages WHERE dialog_id = $1
	`, dialogID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}
