package telegram

import (
	"context"
	"fmt"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"gorm.io/gorm"

	"github.com/dialogport/tg-archiver/internal/config"
)

// NewPersistentClient creates a telegram client that uses the database for
// session storage. Session updates (auth key refreshes) are persisted back
// to the sessions table automatically.
func NewPersistentClient(ctx context.Context, cfg *config.Config, db *gorm.DB) (*gotgproto.Client, error) {
	sessionConstructor := sessionMaker.SqlSession(db.Dialector)

	clientOpts := &gotgproto.ClientOpts{
		Session:          sessionConstructor,
		DisableCopyright: true,
		InMemory:         false,
	}

	client, err := gotgproto.NewClient(
		cfg.TGApiID,
		cfg.TGApiHash,
		gotgproto.ClientTypePhone(""), // empty = use stored session
		clientOpts,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}

	return client, nil
}
