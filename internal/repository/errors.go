package repository

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// domain errors surfaced from schema constraint violations
var (
	ErrDialogTypeNotFound = errors.New("dialog type does not exist")
	ErrDialogNotFound     = errors.New("dialog does not exist")
	ErrMessageNotFound    = errors.New("message does not exist in dialog")
	ErrDuplicate          = errors.New("row already exists")
)

// mapConstraintError converts postgres constraint violations into domain errors.
// The schema enforces referential integrity natively; here we just translate
// the driver error so callers can branch without parsing sqlstate codes.
func mapConstraintError(err error, fkErr error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.ForeignKeyViolation:
			return fkErr
		case pgerrcode.UniqueViolation:
			return ErrDuplicate
		}
	}
	return err
}
