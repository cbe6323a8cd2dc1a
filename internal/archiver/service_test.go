package archiver

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/gotd/td/tg"

	"github.com/dialogport/tg-archiver/internal/logger"
	"github.com/dialogport/tg-archiver/internal/media"
	"github.com/dialogport/tg-archiver/internal/repository"
	"github.com/dialogport/tg-archiver/internal/telegram"
)

// MockTelegram serves canned dialogs and messages.
// GetNewMessages honors the offset the way the real client does:
// only ids above the watermark come back, oldest first.
type MockTelegram struct {
	Status   telegram.Status
	Dialogs  []telegram.Dialog
	Messages map[int64][]telegram.Message
	Replies  map[int][]telegram.Reply

	DialogsErr  error
	MessagesErr map[int64]error

	Downloads int
}

func (m *MockTelegram) GetStatus() telegram.Status {
	if m.Status == "" {
		return telegram.StatusReady
	}
	return m.Status
}

func (m *MockTelegram) GetDialogs(ctx context.Context) ([]telegram.Dialog, error) {
	return m.Dialogs, m.DialogsErr
}

func (m *MockTelegram) GetNewMessages(ctx context.Context, dialog telegram.Dialog, offsetID int64, limit int) ([]telegram.Message, error) {
	if err := m.MessagesErr[dialog.ID]; err != nil {
		return nil, err
	}

	var out []telegram.Message
	for _, msg := range m.Messages[dialog.ID] {
		if int64(msg.ID) > offsetID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockTelegram) GetReplies(ctx context.Context, dialog telegram.Dialog, messageID int, limit int) ([]telegram.Reply, error) {
	replies := m.Replies[messageID]
	if len(replies) > limit {
		replies = replies[:limit]
	}
	return replies, nil
}

func (m *MockTelegram) DownloadAttachment(ctx context.Context, loc tg.InputFileLocationClass, path string) error {
	m.Downloads++
	return nil
}

// MockStore collects everything the sync run persists.
type MockStore struct {
	DialogTypes     map[string]int
	Dialogs         []repository.Dialog
	Messages        []repository.Message
	Watermarks      map[int64]int64
	Attachments     []repository.Attachment
	AttachmentTypes map[string]int
	Replies         []repository.Reply
	ReplyWatermarks map[[2]int64]int64
}

func NewMockStore() *MockStore {
	return &MockStore{
		DialogTypes:     map[string]int{},
		Watermarks:      map[int64]int64{},
		AttachmentTypes: map[string]int{},
		ReplyWatermarks: map[[2]int64]int64{},
	}
}

func (s *MockStore) EnsureType(ctx context.Context, name string) (int, error) {
	if id, ok := s.DialogTypes[name]; ok {
		return id, nil
	}
	id := len(s.DialogTypes) + 1
	s.DialogTypes[name] = id
	return id, nil
}

func (s *MockStore) Upsert(ctx context.Context, d *repository.Dialog) error {
	s.Dialogs = append(s.Dialogs, *d)
	return nil
}

func (s *MockStore) InsertBatch(ctx context.Context, messages []repository.Message) (int, error) {
	s.Messages = append(s.Messages, messages...)
	return len(messages), nil
}

func (s *MockStore) LastMessageID(ctx context.Context, dialogID int64) (int64, error) {
	return s.Watermarks[dialogID], nil
}

type mockAttachments struct{ store *MockStore }

func (a *mockAttachments) EnsureType(ctx context.Context, name string) (int, error) {
	if id, ok := a.store.AttachmentTypes[name]; ok {
		return id, nil
	}
	id := len(a.store.AttachmentTypes) + 1
	a.store.AttachmentTypes[name] = id
	return id, nil
}

func (a *mockAttachments) Insert(ctx context.Context, att *repository.Attachment) error {
	a.store.Attachments = append(a.store.Attachments, *att)
	return nil
}

type mockReplies struct{ store *MockStore }

func (r *mockReplies) Insert(ctx context.Context, reply *repository.Reply) error {
	r.store.Replies = append(r.store.Replies, *reply)
	return nil
}

func (r *mockReplies) LastReplyID(ctx context.Context, dialogID, messageID int64) (int64, error) {
	return r.store.ReplyWatermarks[[2]int64{dialogID, messageID}], nil
}

// staleTelegram replays its canned batch once regardless of the offset,
// imitating a history response that slides below the watermark.
type staleTelegram struct {
	MockTelegram
	served bool
}

func (m *staleTelegram) GetNewMessages(ctx context.Context, dialog telegram.Dialog, offsetID int64, limit int) ([]telegram.Message, error) {
	if m.served {
		return nil, nil
	}
	m.served = true
	return m.Messages[dialog.ID], nil
}

type mockSaver struct{ saved []telegram.Attachment }

func (s *mockSaver) Save(ctx context.Context, dl media.Downloader, att telegram.Attachment) (string, error) {
	s.saved = append(s.saved, att)
	return "/data/images/" + att.Kind + ".jpg", nil
}

type mockPublisher struct{ events []MessageArchivedEvent }

func (p *mockPublisher) PublishMessageArchived(ctx context.Context, event MessageArchivedEvent) error {
	p.events = append(p.events, event)
	return nil
}

func newTestService(tgc TelegramClient, store *MockStore, filter *DialogFilter) (*Service, *mockSaver, *mockPublisher) {
	saver := &mockSaver{}
	publisher := &mockPublisher{}
	svc := NewService(
		tgc,
		store,
		store,
		&mockAttachments{store: store},
		&mockReplies{store: store},
		saver,
		publisher,
		nil,
		filter,
		Limits{MessageFetch: 50, ReplyFetch: 5},
		logger.Get(),
	)
	return svc, saver, publisher
}

func msg(dialogID int64, id int, text string) telegram.Message {
	return telegram.Message{
		ID:       id,
		DialogID: dialogID,
		Text:     text,
		Date:     time.Date(2026, 1, 1, 0, 0, id, 0, time.UTC),
	}
}

func TestService_Sync(t *testing.T) {
	t.Run("fails when telegram not ready", func(t *testing.T) {
		svc, _, _ := newTestService(&MockTelegram{Status: telegram.StatusUnauthorized}, NewMockStore(), nil)

		if _, err := svc.Sync(context.Background(), SyncOptions{}); err == nil {
			t.Error("Sync() should fail when client is unauthorized")
		}
	})

	t.Run("archives new messages above watermark", func(t *testing.T) {
		dialog := telegram.Dialog{ID: 10, Type: telegram.DialogTypeChannel, Title: "news"}
		tgc := &MockTelegram{
			Dialogs: []telegram.Dialog{dialog},
			Messages: map[int64][]telegram.Message{
				10: {msg(10, 1, "old"), msg(10, 2, "old too"), msg(10, 3, "new"), msg(10, 4, "newer")},
			},
		}
		store := NewMockStore()
		store.Watermarks[10] = 2

		svc, _, publisher := newTestService(tgc, store, nil)

		result, err := svc.Sync(context.Background(), SyncOptions{})
		if err != nil {
			t.Fatalf("Sync() error: %v", err)
		}

		if result.NewMessages != 2 {
			t.Errorf("NewMessages = %d, want 2", result.NewMessages)
		}
		if len(store.Messages) != 2 {
			t.Fatalf("stored %d messages, want 2", len(store.Messages))
		}
		if store.Messages[0].ID != 3 || store.Messages[1].ID != 4 {
			t.Errorf("stored ids = %d, %d, want 3, 4", store.Messages[0].ID, store.Messages[1].ID)
		}
		if store.Messages[0].DialogID != 10 {
			t.Errorf("stored dialog id = %d, want 10", store.Messages[0].DialogID)
		}
		if len(publisher.events) != 2 {
			t.Errorf("published %d events, want 2", len(publisher.events))
		}
	})

	t.Run("drops stale ids at or below the watermark", func(t *testing.T) {
		dialog := telegram.Dialog{ID: 11, Type: telegram.DialogTypeChannel, Title: "replayed"}
		tgc := &staleTelegram{MockTelegram: MockTelegram{
			Dialogs: []telegram.Dialog{dialog},
			Messages: map[int64][]telegram.Message{
				11: {msg(11, 6, "seen"), msg(11, 7, "seen too"), msg(11, 8, "new")},
			},
		}}
		store := NewMockStore()
		store.Watermarks[11] = 7

		svc, _, publisher := newTestService(tgc, store, nil)
		result, err := svc.Sync(context.Background(), SyncOptions{})
		if err != nil {
			t.Fatalf("Sync() error: %v", err)
		}

		if result.NewMessages != 1 {
			t.Errorf("NewMessages = %d, want 1", result.NewMessages)
		}
		if len(store.Messages) != 1 || store.Messages[0].ID != 8 {
			t.Errorf("stored messages = %+v, want only id 8", store.Messages)
		}
		if len(publisher.events) != 1 {
			t.Errorf("published %d events, want 1 (stale ids must not be re-announced)", len(publisher.events))
		}
	})

	t.Run("upserts dialog with its type", func(t *testing.T) {
		tgc := &MockTelegram{
			Dialogs: []telegram.Dialog{{ID: 20, Type: telegram.DialogTypeChat, Title: "friends"}},
		}
		store := NewMockStore()

		svc, _, _ := newTestService(tgc, store, nil)
		if _, err := svc.Sync(context.Background(), SyncOptions{}); err != nil {
			t.Fatalf("Sync() error: %v", err)
		}

		if len(store.Dialogs) != 1 {
			t.Fatalf("stored %d dialogs, want 1", len(store.Dialogs))
		}
		if store.Dialogs[0].Name != "friends" {
			t.Errorf("dialog name = %s, want friends", store.Dialogs[0].Name)
		}
		if _, ok := store.DialogTypes[telegram.DialogTypeChat]; !ok {
			t.Error("dialog type Chat was not ensured")
		}
	})

	t.Run("restricts run to requested dialog", func(t *testing.T) {
		tgc := &MockTelegram{
			Dialogs: []telegram.Dialog{
				{ID: 1, Type: telegram.DialogTypeChannel, Title: "a"},
				{ID: 2, Type: telegram.DialogTypeChannel, Title: "b"},
			},
			Messages: map[int64][]telegram.Message{
				1: {msg(1, 1, "x")},
				2: {msg(2, 1, "y")},
			},
		}
		store := NewMockStore()

		svc, _, _ := newTestService(tgc, store, nil)
		result, err := svc.Sync(context.Background(), SyncOptions{DialogID: 2})
		if err != nil {
			t.Fatalf("Sync() error: %v", err)
		}

		if result.Dialogs != 1 {
			t.Errorf("Dialogs = %d, want 1", result.Dialogs)
		}
		if len(store.Messages) != 1 || store.Messages[0].DialogID != 2 {
			t.Errorf("stored messages = %+v, want only dialog 2", store.Messages)
		}
	})

	t.Run("applies dialog filter", func(t *testing.T) {
		tgc := &MockTelegram{
			Dialogs: []telegram.Dialog{
				{ID: 1, Type: telegram.DialogTypeChannel, Title: "keep"},
				{ID: 2, Type: telegram.DialogTypeUser, Title: "skip"},
			},
		}
		store := NewMockStore()
		filter := &DialogFilter{IncludeTypes: []string{telegram.DialogTypeChannel}}

		svc, _, _ := newTestService(tgc, store, filter)
		result, err := svc.Sync(context.Background(), SyncOptions{})
		if err != nil {
			t.Fatalf("Sync() error: %v", err)
		}

		if result.Dialogs != 1 {
			t.Errorf("Dialogs = %d, want 1", result.Dialogs)
		}
		if len(store.Dialogs) != 1 || store.Dialogs[0].ID != 1 {
			t.Errorf("stored dialogs = %+v, want only id 1", store.Dialogs)
		}
	})

	t.Run("dialog error does not abort the run", func(t *testing.T) {
		tgc := &MockTelegram{
			Dialogs: []telegram.Dialog{
				{ID: 1, Type: telegram.DialogTypeChannel, Title: "broken"},
				{ID: 2, Type: telegram.DialogTypeChannel, Title: "fine"},
			},
			Messages: map[int64][]telegram.Message{
				2: {msg(2, 1, "ok")},
			},
			MessagesErr: map[int64]error{1: errors.New("CHANNEL_PRIVATE")},
		}
		store := NewMockStore()

		svc, _, _ := newTestService(tgc, store, nil)
		result, err := svc.Sync(context.Background(), SyncOptions{})
		if err != nil {
			t.Fatalf("Sync() error: %v", err)
		}

		if result.Errors == 0 {
			t.Error("Errors should be counted for the broken dialog")
		}
		if len(store.Messages) != 1 || store.Messages[0].DialogID != 2 {
			t.Errorf("stored messages = %+v, want dialog 2 only", store.Messages)
		}
	})

	t.Run("floors watermark for debug dialog", func(t *testing.T) {
		dialog := telegram.Dialog{ID: 1380524958, Type: telegram.DialogTypeChannel, Title: "debug"}
		tgc := &MockTelegram{
			Dialogs: []telegram.Dialog{dialog},
			Messages: map[int64][]telegram.Message{
				dialog.ID: {msg(dialog.ID, 1344, "below"), msg(dialog.ID, 1346, "above")},
			},
		}
		store := NewMockStore()

		saver := &mockSaver{}
		svc := NewService(
			tgc, store, store,
			&mockAttachments{store: store}, &mockReplies{store: store},
			saver, nil, nil, nil,
			Limits{MessageFetch: 50, ReplyFetch: 5, DebugMessageIDThreshold: 1345},
			logger.Get(),
		)

		if _, err := svc.Sync(context.Background(), SyncOptions{DialogID: dialog.ID}); err != nil {
			t.Fatalf("Sync() error: %v", err)
		}

		if len(store.Messages) != 1 || store.Messages[0].ID != 1346 {
			t.Errorf("stored messages = %+v, want only id 1346", store.Messages)
		}
	})

	t.Run("skips messages newer than until", func(t *testing.T) {
		dialog := telegram.Dialog{ID: 5, Type: telegram.DialogTypeChannel, Title: "c"}
		tgc := &MockTelegram{
			Dialogs: []telegram.Dialog{dialog},
			Messages: map[int64][]telegram.Message{
				5: {msg(5, 1, "early"), msg(5, 50, "late")},
			},
		}
		store := NewMockStore()

		svc, _, _ := newTestService(tgc, store, nil)
		until := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)
		if _, err := svc.Sync(context.Background(), SyncOptions{Until: &until}); err != nil {
			t.Fatalf("Sync() error: %v", err)
		}

		if len(store.Messages) != 1 || store.Messages[0].ID != 1 {
			t.Errorf("stored messages = %+v, want only id 1", store.Messages)
		}
	})

	t.Run("archives attachments", func(t *testing.T) {
		dialog := telegram.Dialog{ID: 7, Type: telegram.DialogTypeChannel, Title: "pics"}
		m := msg(7, 1, "photo post")
		m.Attachments = []telegram.Attachment{
			{ID: 900, Kind: "photo", Ext: ".jpg"},
		}
		tgc := &MockTelegram{
			Dialogs:  []telegram.Dialog{dialog},
			Messages: map[int64][]telegram.Message{7: {m}},
		}
		store := NewMockStore()

		svc, saver, _ := newTestService(tgc, store, nil)
		result, err := svc.Sync(context.Background(), SyncOptions{})
		if err != nil {
			t.Fatalf("Sync() error: %v", err)
		}

		if result.Attachments != 1 {
			t.Errorf("Attachments = %d, want 1", result.Attachments)
		}
		if len(saver.saved) != 1 || saver.saved[0].ID != 900 {
			t.Errorf("saved attachments = %+v, want id 900", saver.saved)
		}
		if len(store.Attachments) != 1 {
			t.Fatalf("stored %d attachment rows, want 1", len(store.Attachments))
		}
		att := store.Attachments[0]
		if att.DialogID != 7 || att.MessageID != 1 {
			t.Errorf("attachment keys = (%d, %d), want (7, 1)", att.DialogID, att.MessageID)
		}
	})

	t.Run("archives replies above reply watermark", func(t *testing.T) {
		dialog := telegram.Dialog{ID: 9, Type: telegram.DialogTypeChannel, Title: "discussed"}
		m := msg(9, 4, "hot take")
		m.HasComments = true
		tgc := &MockTelegram{
			Dialogs:  []telegram.Dialog{dialog},
			Messages: map[int64][]telegram.Message{9: {m}},
			Replies: map[int][]telegram.Reply{
				4: {
					{ID: 100, Text: "seen already", Date: time.Now()},
					{ID: 101, Text: "fresh", Date: time.Now()},
				},
			},
		}
		store := NewMockStore()
		store.ReplyWatermarks[[2]int64{9, 4}] = 100

		svc, _, _ := newTestService(tgc, store, nil)
		result, err := svc.Sync(context.Background(), SyncOptions{})
		if err != nil {
			t.Fatalf("Sync() error: %v", err)
		}

		if result.Replies != 1 {
			t.Errorf("Replies = %d, want 1", result.Replies)
		}
		if len(store.Replies) != 1 {
			t.Fatalf("stored %d replies, want 1", len(store.Replies))
		}
		reply := store.Replies[0]
		if reply.ID != 101 || reply.MainDialogID != 9 || reply.MainMessageID != 4 {
			t.Errorf("reply keys = (%d, %d, %d), want (101, 9, 4)", reply.ID, reply.MainDialogID, reply.MainMessageID)
		}
	})

	t.Run("stops after limit", func(t *testing.T) {
		dialog := telegram.Dialog{ID: 3, Type: telegram.DialogTypeChannel, Title: "big"}
		var msgs []telegram.Message
		for i := 1; i <= 200; i++ {
			msgs = append(msgs, msg(3, i, "m"))
		}
		tgc := &MockTelegram{
			Dialogs:  []telegram.Dialog{dialog},
			Messages: map[int64][]telegram.Message{3: msgs},
		}
		store := NewMockStore()

		svc, _, _ := newTestService(tgc, store, nil)
		result, err := svc.Sync(context.Background(), SyncOptions{Limit: 50})
		if err != nil {
			t.Fatalf("Sync() error: %v", err)
		}

		if result.TotalFetched != 50 {
			t.Errorf("TotalFetched = %d, want 50", result.TotalFetched)
		}
	})
}
