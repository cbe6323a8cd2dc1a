// Package media stores downloaded message attachments on disk.
package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gotd/td/tg"

	"github.com/dialogport/tg-archiver/internal/logger"
	"github.com/dialogport/tg-archiver/internal/telegram"
)

// Downloader fetches a media file to a local path.
type Downloader interface {
	DownloadAttachment(ctx context.Context, loc tg.InputFileLocationClass, path string) error
}

// Saver writes attachments into the bind-mounted media directories:
// photos under imagesPath, documents under attachmentsPath.
type Saver struct {
	imagesPath      string
	attachmentsPath string
	log             *logger.Logger
}

// NewSaver creates a Saver and ensures both target directories exist.
func NewSaver(imagesPath, attachmentsPath string) (*Saver, error) {
	if err := os.MkdirAll(imagesPath, 0755); err != nil {
		return nil, fmt.Errorf("create images dir: %w", err)
	}
	if err := os.MkdirAll(attachmentsPath, 0755); err != nil {
		return nil, fmt.Errorf("create attachments dir: %w", err)
	}

	return &Saver{
		imagesPath:      imagesPath,
		attachmentsPath: attachmentsPath,
		log:             logger.Get(),
	}, nil
}

// PathFor returns the target path for an attachment, or empty string for
// kinds that are not archived (audio, voice, video, stickers, previews).
func (s *Saver) PathFor(att telegram.Attachment) string {
	switch att.Kind {
	case "photo":
		return filepath.Join(s.imagesPath, strconv.FormatInt(att.ID, 10)+".jpg")
	case "document":
		return filepath.Join(s.attachmentsPath, strconv.FormatInt(att.ID, 10)+att.Ext)
	}
	return ""
}

// Save downloads the attachment and returns the stored file path.
// Returns an empty path without error for unsupported kinds.
func (s *Saver) Save(ctx context.Context, dl Downloader, att telegram.Attachment) (string, error) {
	path := s.PathFor(att)
	if path == "" {
		return "", nil
	}

	if att.Location == nil {
		return "", fmt.Errorf("attachment %d has no download location", att.ID)
	}

	if err := dl.DownloadAttachment(ctx, att.Location, path); err != nil {
		return "", fmt.Errorf("save attachment %d: %w", att.ID, err)
	}

	s.log.Debug().Int64("attachment_id", att.ID).Str("path", path).Msg("media: attachment stored")
	return path, nil
}
