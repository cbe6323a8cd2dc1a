package archiver

import (
	"context"
	"fmt"
	"time"

	"github.com/gotd/td/tg"

	"github.com/dialogport/tg-archiver/internal/events"
	"github.com/dialogport/tg-archiver/internal/logger"
	"github.com/dialogport/tg-archiver/internal/media"
	"github.com/dialogport/tg-archiver/internal/repository"
	"github.com/dialogport/tg-archiver/internal/telegram"
)

// TelegramClient defines the telegram operations the sync engine needs
type TelegramClient interface {
	GetDialogs(ctx context.Context) ([]telegram.Dialog, error)
	GetNewMessages(ctx context.Context, dialog telegram.Dialog, offsetID int64, limit int) ([]telegram.Message, error)
	GetReplies(ctx context.Context, dialog telegram.Dialog, messageID int, limit int) ([]telegram.Reply, error)
	DownloadAttachment(ctx context.Context, loc tg.InputFileLocationClass, path string) error
	GetStatus() telegram.Status
}

// DialogsRepo persists dialogs and their types
type DialogsRepo interface {
	EnsureType(ctx context.Context, name string) (int, error)
	Upsert(ctx context.Context, d *repository.Dialog) error
}

// MessagesRepo persists messages and tracks per-dialog watermarks
type MessagesRepo interface {
	InsertBatch(ctx context.Context, messages []repository.Message) (int, error)
	LastMessageID(ctx context.Context, dialogID int64) (int64, error)
}

// AttachmentsRepo persists downloaded attachment records
type AttachmentsRepo interface {
	EnsureType(ctx context.Context, name string) (int, error)
	Insert(ctx context.Context, a *repository.Attachment) error
}

// RepliesRepo persists comment-thread replies and their watermarks
type RepliesRepo interface {
	Insert(ctx context.Context, reply *repository.Reply) error
	LastReplyID(ctx context.Context, dialogID, messageID int64) (int64, error)
}

// AttachmentSaver stores attachment files on disk
type AttachmentSaver interface {
	Save(ctx context.Context, dl media.Downloader, att telegram.Attachment) (string, error)
}

// EventPublisher publishes archive events to the message bus
type EventPublisher interface {
	PublishMessageArchived(ctx context.Context, event MessageArchivedEvent) error
}

// Broadcaster pushes sync progress to websocket subscribers
type Broadcaster interface {
	Broadcast(eventType string, payload interface{})
}

// MessageArchivedEvent is emitted for every newly archived message
type MessageArchivedEvent struct {
	DialogID   int64     `json:"dialog_id"`
	MessageID  int64     `json:"message_id"`
	Text       string    `json:"text"`
	Created    time.Time `json:"created"`
	ArchivedAt time.Time `json:"archived_at"`
}

// SyncResult contains sync run statistics
type SyncResult struct {
	Dialogs      int
	TotalFetched int
	NewMessages  int
	Attachments  int
	Replies      int
	Errors       int
}

// Limits carries the per-request fetch limits for a sync run
type Limits struct {
	MessageFetch int // messages per history request
	ReplyFetch   int // replies per thread request
	// floors the message watermark for the debug dialog
	DebugMessageIDThreshold int64
}

// Service orchestrates the archiving process
type Service struct {
	tgClient    TelegramClient
	dialogs     DialogsRepo
	messages    MessagesRepo
	attachments AttachmentsRepo
	replies     RepliesRepo
	saver       AttachmentSaver
	publisher   EventPublisher
	broadcaster Broadcaster
	filter      *DialogFilter
	limits      Limits
	log         *logger.Logger
}

// NewService creates a new archiver service
func NewService(
	tgClient TelegramClient,
	dialogs DialogsRepo,
	messages MessagesRepo,
	attachments AttachmentsRepo,
	replies RepliesRepo,
	saver AttachmentSaver,
	publisher EventPublisher,
	broadcaster Broadcaster,
	filter *DialogFilter,
	limits Limits,
	log *logger.Logger,
) *Service {
	if limits.MessageFetch <= 0 {
		limits.MessageFetch = 50
	}
	if limits.ReplyFetch <= 0 {
		limits.ReplyFetch = 5
	}

	return &Service{
		tgClient:    tgClient,
		dialogs:     dialogs,
		messages:    messages,
		attachments: attachments,
		replies:     replies,
		saver:       saver,
		publisher:   publisher,
		broadcaster: broadcaster,
		filter:      filter,
		limits:      limits,
		log:         log,
	}
}

// GetTelegramStatus returns the current telegram connection status
func (s *Service) GetTelegramStatus() telegram.Status {
	return s.tgClient.GetStatus()
}

// Sync performs a full archive pass over the account's dialogs.
// Per-dialog failures are logged and counted but never abort the run:
// one broken dialog must not starve the rest of the account.
func (s *Service) Sync(ctx context.Context, opts SyncOptions) (*SyncResult, error) {
	result := &SyncResult{}

	if status := s.tgClient.GetStatus(); status != telegram.StatusReady {
		return nil, fmt.Errorf("telegram client not ready: %s", status)
	}

	s.log.Info().Msg("starting sync")
	s.notify(events.EventSyncStart, nil)

	dialogs, err := s.tgClient.GetDialogs(ctx)
	if err != nil {
		s.notify(events.EventSyncEnd, result)
		return nil, fmt.Errorf("get dialogs: %w", err)
	}

	for _, dialog := range dialogs {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sync cancelled")
			s.notify(events.EventSyncEnd, result)
			return result, nil
		default:
		}

		if opts.DialogID != 0 && dialog.ID != opts.DialogID {
			continue
		}
		if s.filter != nil && !s.filter.Allowed(dialog) {
			continue
		}

		stats, err := s.syncDialog(ctx, dialog, opts)
		if err != nil {
			s.log.Error().Err(err).Int64("dialog_id", dialog.ID).Str("title", dialog.Title).Msg("failed to sync dialog")
			result.Errors++
			continue
		}

		result.Dialogs++
		result.TotalFetched += stats.TotalFetched
		result.NewMessages += stats.NewMessages
		result.Attachments += stats.Attachments
		result.Replies += stats.Replies
		result.Errors += stats.Errors

		s.notify(events.EventDialogSynced, events.DialogSyncedPayload{
			DialogID:    dialog.ID,
			Title:       dialog.Title,
			NewMessages: stats.NewMessages,
			Attachments: stats.Attachments,
			Replies:     stats.Replies,
		})
	}

	s.log.Info().
		Int("dialogs", result.Dialogs).
		Int("total", result.TotalFetched).
		Int("new", result.NewMessages).
		Int("attachments", result.Attachments).
		Int("replies", result.Replies).
		Int("errors", result.Errors).
		Msg("sync completed")

	s.notify(events.EventSyncEnd, result)
	return result, nil
}

// syncDialog archives one dialog: upserts its row, then pages new messages
// above the stored watermark, storing attachments and replies along the way.
func (s *Service) syncDialog(ctx context.Context, dialog telegram.Dialog, opts SyncOptions) (*SyncResult, error) {
	stats := &SyncResult{}

	typeID, err := s.dialogs.EnsureType(ctx, dialog.Type)
	if err != nil {
		return nil, fmt.Errorf("ensure dialog type: %w", err)
	}

	if err := s.dialogs.Upsert(ctx, &repository.Dialog{
		ID:     dialog.ID,
		TypeID: typeID,
		Name:   dialog.Title,
	}); err != nil {
		return nil, fmt.Errorf("upsert dialog: %w", err)
	}

	watermark, err := s.messages.LastMessageID(ctx, dialog.ID)
	if err != nil {
		return nil, fmt.Errorf("get watermark: %w", err)
	}
	if opts.DialogID != 0 && opts.DialogID == dialog.ID && s.limits.DebugMessageIDThreshold > watermark {
		watermark = s.limits.DebugMessageIDThreshold
	}

	s.log.Info().Int64("dialog_id", dialog.ID).Str("title", dialog.Title).Int64("watermark", watermark).Msg("syncing dialog")

	for {
		select {
		case <-ctx.Done():
			return stats, nil
		default:
		}

		batch, err := s.tgClient.GetNewMessages(ctx, dialog, watermark, s.limits.MessageFetch)
		if err != nil {
			s.log.Error().Err(err).Int64("dialog_id", dialog.ID).Msg("failed to get messages")
			stats.Errors++
			break
		}

		if len(batch) == 0 {
			break
		}

		stats.TotalFetched += len(batch)

		// the history endpoint is expected to return only ids above the
		// offset, but the watermark contract belongs here
		pageFilter := repository.NewMessageFilter(watermark)

		var rows []repository.Message
		for _, msg := range batch {
			if !pageFilter.Allows(int64(msg.ID)) {
				continue
			}
			if opts.Until != nil && msg.Date.After(*opts.Until) {
				continue
			}
			rows = append(rows, repository.Message{
				ID:           int64(msg.ID),
				DialogID:     msg.DialogID,
				Text:         msg.Text,
				Created:      msg.Date,
				GroupedID:    msg.GroupedID,
				ReplyToMsgID: int64Ptr(msg.ReplyToMsgID),
			})
		}

		inserted, err := s.messages.InsertBatch(ctx, rows)
		if err != nil {
			s.log.Error().Err(err).Int64("dialog_id", dialog.ID).Msg("failed to insert messages")
			stats.Errors++
			break
		}
		stats.NewMessages += inserted

		for _, msg := range batch {
			if !pageFilter.Allows(int64(msg.ID)) {
				continue
			}
			if opts.Until != nil && msg.Date.After(*opts.Until) {
				continue
			}

			saved, err := s.archiveAttachments(ctx, dialog, msg)
			if err != nil {
				s.log.Error().Err(err).Int64("dialog_id", dialog.ID).Int("message_id", msg.ID).Msg("failed to archive attachments")
				stats.Errors++
			}
			stats.Attachments += saved

			if msg.HasComments {
				archived, err := s.archiveReplies(ctx, dialog, msg)
				if err != nil {
					s.log.Error().Err(err).Int64("dialog_id", dialog.ID).Int("message_id", msg.ID).Msg("failed to archive replies")
					stats.Errors++
				}
				stats.Replies += archived
			}

			s.publishArchived(ctx, msg)
		}

		// batches come oldest first, so the last id advances the watermark
		watermark = int64(batch[len(batch)-1].ID)

		if opts.Limit > 0 && stats.TotalFetched >= opts.Limit {
			break
		}

		// small delay between pages to be gentle on the api
		time.Sleep(100 * time.Millisecond)
	}

	return stats, nil
}

// archiveAttachments downloads a message's media and records it.
// Returns the number of files stored.
func (s *Service) archiveAttachments(ctx context.Context, dialog telegram.Dialog, msg telegram.Message) (int, error) {
	saved := 0
	for _, att := range msg.Attachments {
		path, err := s.saver.Save(ctx, s.tgClient, att)
		if err != nil {
			return saved, err
		}
		if path == "" {
			continue // unsupported kind
		}

		typeID, err := s.attachments.EnsureType(ctx, att.Kind)
		if err != nil {
			return saved, err
		}

		if err := s.attachments.Insert(ctx, &repository.Attachment{
			ID:        att.ID,
			TypeID:    typeID,
			MessageID: int64(msg.ID),
			DialogID:  dialog.ID,
			FilePath:  path,
		}); err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}

// archiveReplies fetches the comment thread of a message and stores replies
// above the per-message reply watermark.
func (s *Service) archiveReplies(ctx context.Context, dialog telegram.Dialog, msg telegram.Message) (int, error) {
	lastReplyID, err := s.replies.LastReplyID(ctx, dialog.ID, int64(msg.ID))
	if err != nil {
		return 0, err
	}
	filter := repository.NewMessageFilter(lastReplyID)

	replies, err := s.tgClient.GetReplies(ctx, dialog, msg.ID, s.limits.ReplyFetch)
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, reply := range replies {
		if !filter.Allows(int64(reply.ID)) {
			continue
		}

		if err := s.replies.Insert(ctx, &repository.Reply{
			ID:              int64(reply.ID),
			MainDialogID:    dialog.ID,
			MainMessageID:   int64(msg.ID),
			ReplyToDialogID: reply.ReplyToDialogID,
			ReplyToMsgID:    int64Ptr(reply.ReplyToMsgID),
			Content:         reply.Text,
			SenderID:        reply.SenderID,
			Date:            reply.Date,
		}); err != nil {
			return archived, err
		}
		archived++
	}

	return archived, nil
}

// publishArchived emits the bus event for a newly archived message.
func (s *Service) publishArchived(ctx context.Context, msg telegram.Message) {
	if s.publisher == nil {
		return
	}

	event := MessageArchivedEvent{
		DialogID:   msg.DialogID,
		MessageID:  int64(msg.ID),
		Text:       msg.Text,
		Created:    msg.Date,
		ArchivedAt: time.Now(),
	}
	if err := s.publisher.PublishMessageArchived(ctx, event); err != nil {
		s.log.Warn().Err(err).Msg("failed to publish archive event")
	}
}

// notify broadcasts a progress event when a hub is attached.
func (s *Service) notify(eventType string, payload interface{}) {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(eventType, payload)
	}
}

func int64Ptr(v *int) *int64 {
	if v == nil {
		return nil
	}
	p := int64(*v)
	return &p
}
