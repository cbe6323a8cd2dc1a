package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Dialog represents a telegram conversation container (channel, chat or user)
type Dialog struct {
	ID       int64  `json:"id"`
	TypeID   int    `json:"type_id"`
	TypeName string `json:"type"`
	Name     string `json:"name"`
}

// DialogsRepository handles dialogs and dialogtypes table operations
type DialogsRepository struct {
	pool *pgxpool.Pool
}

// NewDialogsRepository creates a new dialogs repository
func NewDialogsRepository(pool *pgxpool.Pool) *DialogsRepository {
	return &DialogsRepository{pool: pool}
}

// EnsureType returns the id of a dialog type, creating the row if missing.
// Type names come straight from the telegram peer class (Channel, Chat, User).
func (r *DialogsRepository) EnsureType(ctx context.Context, name string) (int, error) {
	var id int
	err := r.pool.QueryRow(ctx, `
		INSERT INTO dialogtypes (name)
		VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure dialog type: %w", err)
	}
	return id, nil
}

// Upsert creates the dialog row or refreshes its name and type.
// Dialog ids are the external source's stable identifiers, so the id is
// supplied by the caller rather than generated.
func (r *DialogsRepository) Upsert(ctx context.Context, d *Dialog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO dialogs (id, dialogtype_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id)
		DO UPDATE SET dialogtype_id = $2, name = $3
	`, d.ID, d.TypeID, d.Name)
	if err != nil {
		return mapConstraintError(fmt.Errorf("upsert dialog: %w", err), ErrDialogTypeNotFound)
	}
	return nil
}

// GetByID returns a dialog by id, ErrDialogNotFound when unknown
func (r *DialogsRepository) GetByID(ctx context.Context, id int64) (*Dialog, error) {
	var d Dialog
	err := r.pool.QueryRow(ctx, `
		SELECT d.id, d.dialogtype_id, t.name, d.name
		FROM dialogs d
		JOIN dialogtypes t ON t.id = d.dialogtype_id
		WHERE d.id = $1
	`, id).Scan(&d.ID, &d.TypeID, &d.TypeName, &d.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDialogNotFound
		}
		return nil, fmt.Errorf("get dialog by id: %w", err)
	}
	return &d, nil
}

// List returns all dialogs ordered by name
func (r *DialogsRepository) List(ctx context.Context) ([]Dialog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT d.id, d.dialogtype_id, t.name, d.name
		FROM dialogs d
		JOIN dialogtypes t ON t.id = d.dialogtype_id
		ORDER BY d.name
	`)
	if err != nil {
		return nil, fmt.Errorf("list dialogs: %w", err)
	}
	defer rows.Close()

	var dialogs []Dialog
	for rows.Next() {
		var d Dialog
		if err := rows.Scan(&d.ID, &d.TypeID, &d.TypeName, &d.Name); err != nil {
			return nil, fmt.Errorf("scan dialog: %w", err)
		}
		dialogs = append(dialogs, d)
	}
	return dialogs, nil
}

// Count returns the number of archived dialogs
func (r *DialogsRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dialogs`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count dialogs: %w", err)
	}
	return count, nil
}
