package telegram

import (
	"context"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"github.com/dialogport/tg-archiver/internal/config"
)

// QRClientBundle groups the pieces a QR login needs: a raw gotd client,
// the dispatcher that delivers the login-token update, and the in-memory
// storage the session lands in. The session only moves to the database
// after auth succeeds, so a failed scan leaves no trace.
type QRClientBundle struct {
	Client     *telegram.Client
	Dispatcher tg.UpdateDispatcher
	Storage    *session.StorageMemory
}

// NewQRClient builds a raw td/telegram client for QR auth. gotgproto's
// NewClient is unsuitable here since it falls back to interactive CLI auth.
func NewQRClient(cfg *config.Config) (*QRClientBundle, error) {
	// the dispatcher constructor initializes its handler map
	dispatcher := tg.NewUpdateDispatcher()
	storage := &session.StorageMemory{}

	return &QRClientBundle{
		Client: telegram.NewClient(cfg.TGApiID, cfg.TGApiHash, telegram.Options{
			SessionStorage: storage,
			UpdateHandler:  &dispatcher,
		}),
		Dispatcher: dispatcher,
		Storage:    storage,
	}, nil
}

// LoadSession reads the captured session out of the in-memory storage.
// Call only after a successful QR auth.
func (b *QRClientBundle) LoadSession(ctx context.Context) (*session.Data, error) {
	loader := session.Loader{Storage: b.Storage}
	return loader.Load(ctx)
}
