package telegram

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/celestix/gotgproto/storage"
	"github.com/gotd/td/session"
)

var errNoSessionData = errors.New("no session data")

// ConvertToGotgprotoSession wraps gotd session.Data in the row format
// gotgproto persists: the session JSON under the current storage version.
// Sessions imported via QR login or tdesktop go through this before they
// land in the sessions table.
func ConvertToGotgprotoSession(data *session.Data) (*storage.Session, error) {
	if data == nil {
		return nil, errNoSessionData
	}
	if data.AuthKey == nil {
		return nil, fmt.Errorf("%w: missing auth key", errNoSessionData)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal session data: %w", err)
	}

	return &storage.Session{Version: storage.LatestVersion, Data: raw}, nil
}
