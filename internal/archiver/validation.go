package archiver

import (
	"errors"
	"time"
)

var (
	ErrInvalidLimit    = errors.New("limit must be between 0 and 10000")
	ErrInvalidUntil    = errors.New("until must be a valid RFC3339 timestamp")
	ErrInvalidDialogID = errors.New("dialog_id must be positive")
)

// SyncRequest is the body of a sync trigger request.
type SyncRequest struct {
	// DialogID restricts the run to one dialog. Zero means all dialogs.
	DialogID int64 `json:"dialog_id,omitempty"`
	// Limit caps the number of messages fetched per dialog. Zero means no cap.
	Limit int `json:"limit,omitempty"`
	// Until skips messages newer than this RFC3339 timestamp.
	Until string `json:"until,omitempty"`
}

const maxSyncLimit = 10000

// Validate checks the request fields.
func (r *SyncRequest) Validate() error {
	if r.DialogID < 0 {
		return ErrInvalidDialogID
	}
	if r.Limit < 0 || r.Limit > maxSyncLimit {
		return ErrInvalidLimit
	}
	if r.Until != "" {
		if _, err := time.Parse(time.RFC3339, r.Until); err != nil {
			return ErrInvalidUntil
		}
	}
	return nil
}

// Options converts a validated request into sync options.
func (r *SyncRequest) Options() (SyncOptions, error) {
	if err := r.Validate(); err != nil {
		return SyncOptions{}, err
	}

	opts := SyncOptions{
		DialogID: r.DialogID,
		Limit:    r.Limit,
	}
	if r.Until != "" {
		t, err := time.Parse(time.RFC3339, r.Until)
		if err != nil {
			return SyncOptions{}, ErrInvalidUntil
		}
		opts.Until = &t
	}
	return opts, nil
}

// SyncOptions controls a single sync run.
type SyncOptions struct {
	DialogID int64
	Limit    int
	Until    *time.Time
}
