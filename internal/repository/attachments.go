package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Attachment represents a downloaded media file bound to exactly one
// message within one dialog.
type Attachment struct {
	ID        int64  `json:"id"`
	TypeID    int    `json:"type_id"`
	TypeName  string `json:"type"`
	MessageID int64  `json:"message_id"`
	DialogID  int64  `json:"dialog_id"`
	FilePath  string `json:"file_path"`
}

// AttachmentsRepository handles attachments and attachmenttypes table operations
type AttachmentsRepository struct {
	pool *pgxpool.Pool
}

// NewAttachmentsRepository creates a new attachments repository
func NewAttachmentsRepository(pool *pgxpool.Pool) *AttachmentsRepository {
	return &AttachmentsRepository{pool: pool}
}

// EnsureType returns the id of an attachment type, creating the row if missing
func (r *AttachmentsRepository) EnsureType(ctx context.Context, name string) (int, error) {
	var id int
	err := r.pool.QueryRow(ctx, `
		INSERT INTO attachmenttypes (type)
		VALUES ($1)
		ON CONFLICT (type) DO UPDATE SET type = EXCLUDED.type
		RETURNING id
	`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure attachment type: %w", err)
	}
	return id, nil
}

// Insert stores an attachment row. The composite FK requires the owning
// (dialog_id, message_id) pair to exist in messages; a violation maps to
// ErrMessageNotFound.
func (r *AttachmentsRepository) Insert(ctx context.Context, a *Attachment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO attachments (id, type_id, message_id, dialog_id, file_path)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, a.ID, a.TypeID, a.MessageID, a.DialogID, a.FilePath)
	if err != nil {
		return mapConstraintError(fmt.Errorf("insert attachment: %w", err), ErrMessageNotFound)
	}
	return nil
}

// GetByMessage returns attachments of a message within a dialog
func (r *AttachmentsRepository) GetByMessage(ctx context.Context, dialogID, messageID int64) ([]Attachment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.type_id, t.type, a.message_id, a.dialog_id, a.file_path
		FROM attachments a
		JOIN attachmenttypes t ON t.id = a.type_id
		WHERE a.dialog_id = $1 AND a.message_id = $2
		ORDER BY a.id
	`, dialogID, messageID)
	if err != nil {
		return nil, fmt.Errorf("get attachments by message: %w", err)
	}
	defer rows.Close()

	var attachments []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.TypeID, &a.TypeName, &a.MessageID, &a.DialogID, &a.FilePath); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		attachments = append(attachments, a)
	}
	return attachments, nil
}

// Count returns the number of stored attachments for a dialog
func (r *AttachmentsRepository) Count(ctx context.Context, dialogID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM attachments WHERE dialog_id = $1
	`, dialogID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count attachments: %w", err)
	}
	return count, nil
}
