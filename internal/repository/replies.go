package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Reply represents a comment-thread response to a specific message within a
// specific dialog. Reply ids are message ids of the linked discussion group,
// so the primary key includes the (main_dialog_id, main_message_id) pair.
type Reply struct {
	ID              int64     `json:"id"`
	MainDialogID    int64     `json:"main_dialog_id"`
	MainMessageID   int64     `json:"main_message_id"`
	ReplyToDialogID *int64    `json:"reply_to_dialog_id,omitempty"`
	ReplyToMsgID    *int64    `json:"reply_to_msg_id,omitempty"`
	Content         string    `json:"content"`
	SenderID        *int64    `json:"sender_id,omitempty"`
	Date            time.Time `json:"date"`
}

// RepliesRepository handles replies table operations
type RepliesRepository struct {
	pool *pgxpool.Pool
}

// NewRepliesRepository creates a new replies repository
func NewRepliesRepository(pool *pgxpool.Pool) *RepliesRepository {
	return &RepliesRepository{pool: pool}
}

// Insert stores a reply. The composite FK requires the target
// (main_dialog_id, main_message_id) pair to exist in messages.
func (r *RepliesRepository) Insert(ctx context.Context, reply *Reply) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO replies (id, main_dialog_id, main_message_id,
		                     reply_to_dialog_id, reply_to_msg_id, content, sender_id, date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id, main_dialog_id, main_message_id) DO NOTHING
	`, reply.ID, reply.MainDialogID, reply.MainMessageID,
		reply.ReplyToDialogID, reply.ReplyToMsgID, reply.Content, reply.SenderID, reply.Date)
	if err != nil {
		return mapConstraintError(fmt.Errorf("insert reply: %w", err), ErrMessageNotFound)
	}
	return nil
}

// LastReplyID returns the highest archived reply id for a message.
// Returns 0 when the message has no replies yet.
func (r *RepliesRepository) LastReplyID(ctx context.Context, dialogID, messageID int64) (int64, error) {
	var lastID int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(id), 0)
		FROM replies
		WHERE main_dialog_id = $1 AND main_message_id = $2
	`, dialogID, messageID).Scan(&lastID)
	if err != nil {
		return 0, fmt.Errorf("get last reply id: %w", err)
	}
	return lastID, nil
}

// GetByMessage returns replies of a message ordered by id
func (r *RepliesRepository) GetByMessage(ctx context.Context, dialogID, messageID int64) ([]Reply, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, main_dialog_id, main_message_id,
		       reply_to_dialog_id, reply_to_msg_id, content, sender_id, date
		FROM replies
		WHERE main_dialog_id = $1 AND main_message_id = $2
		ORDER BY id
	`, dialogID, messageID)
	if err != nil {
		return nil, fmt.Errorf("get replies by message: %w", err)
	}
	defer rows.Close()

	var replies []Reply
	for rows.Next() {
		var rp Reply
		if err := rows.Scan(&rp.ID, &rp.MainDialogID, &rp.MainMessageID,
			&rp.ReplyToDialogID, &rp.ReplyToMsgID, &rp.Content, &rp.SenderID, &rp.Date); err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		replies = append(replies, rp)
	}
	return replies, nil
}

// Count returns the number of archived replies for a dialog
func (r *RepliesRepository) Count(ctx context.Context, dialogID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM replies WHERE main_dialog_id = $1
	`, dialogID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count replies: %w", err)
	}
	return count, nil
}
