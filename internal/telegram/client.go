// Package telegram provides Telegram MTProto client wrapper.
package telegram

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"github.com/dialogport/tg-archiver/internal/logger"
)

// Client wraps the managed protocol client and provides the high-level
// operations the archiver needs: dialog listing, incremental history,
// comment threads and media download. All calls go through the rate
// limiter and feed FLOOD_WAIT hints back into it.
type Client struct {
	manager     *Manager
	rateLimiter *RateLimiter
	log         *logger.Logger
}

// NewClient creates a new telegram client wrapper using the Manager.
func NewClient(manager *Manager) *Client {
	return &Client{
		manager:     manager,
		rateLimiter: DefaultRateLimiter(),
		log:         logger.Get(),
	}
}

// Close stops the client via the manager.
func (c *Client) Close() {
	if c.manager != nil {
		c.manager.Stop()
	}
}

// GetStatus returns the current status of the telegram client.
func (c *Client) GetStatus() Status {
	return c.manager.GetStatus()
}

// StartQR starts the QR login flow, proxying to the manager.
func (c *Client) StartQR(ctx context.Context, onQRCode func(url string)) error {
	return c.manager.StartQR(ctx, onQRCode)
}

// IsQRInProgress returns true if a QR login flow is currently in progress.
func (c *Client) IsQRInProgress() bool {
	return c.manager.IsQRInProgress()
}

// CancelQR cancels any ongoing QR login flow.
func (c *Client) CancelQR() {
	c.manager.CancelQR()
}

// API returns the raw tg.Client for direct API calls.
func (c *Client) API() (*tg.Client, error) {
	proto := c.manager.GetClient()
	if proto == nil {
		return nil, fmt.Errorf("telegram client not authorized")
	}
	return proto.API(), nil
}

// GetDialogs returns the account's dialog list: channels, group chats and
// user conversations, paged through messages.getDialogs.
func (c *Client) GetDialogs(ctx context.Context) ([]Dialog, error) {
	api, err := c.API()
	if err != nil {
		return nil, err
	}

	var (
		dialogs    []Dialog
		offsetDate int
		offsetID   int
		offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}
	)

	for {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      100,
		})
		if err != nil {
			if wait := c.checkFloodWait(err); wait > 0 {
				c.log.Warn().Int("wait_seconds", wait).Msg("telegram: FLOOD_WAIT in GetDialogs, updating rate limiter")
				c.rateLimiter.SetFloodWait(wait)
			}
			return nil, fmt.Errorf("get dialogs: %w", err)
		}

		var (
			page     []Dialog
			rawCount int
			messages []tg.MessageClass
		)

		switch d := resp.(type) {
		case *tg.MessagesDialogs:
			page = extractDialogs(d.Dialogs, d.Chats, d.Users)
			rawCount = len(d.Dialogs)
			messages = d.Messages
		case *tg.MessagesDialogsSlice:
			page = extractDialogs(d.Dialogs, d.Chats, d.Users)
			rawCount = len(d.Dialogs)
			messages = d.Messages
		default:
			return dialogs, nil
		}

		dialogs = append(dialogs, page...)

		// a short page means the list is drained
		if rawCount < 100 {
			break
		}

		// advance offsets from the last top message of the page
		offsetDate, offsetID, offsetPeer = nextDialogOffset(messages, page)
		if offsetPeer == nil {
			break
		}
	}

	c.log.Info().Int("count", len(dialogs)).Msg("telegram: fetched dialog list")
	return dialogs, nil
}

// extractDialogs maps raw dialog peers onto their chat/user entities.
func extractDialogs(raw []tg.DialogClass, chats []tg.ChatClass, users []tg.UserClass) []Dialog {
	channelsByID := make(map[int64]*tg.Channel)
	chatsByID := make(map[int64]*tg.Chat)
	for _, ch := range chats {
		switch e := ch.(type) {
		case *tg.Channel:
			channelsByID[e.ID] = e
		case *tg.Chat:
			chatsByID[e.ID] = e
		}
	}
	usersByID := make(map[int64]*tg.User)
	for _, u := range users {
		if e, ok := u.(*tg.User); ok {
			usersByID[e.ID] = e
		}
	}

	var out []Dialog
	for _, rd := range raw {
		d, ok := rd.(*tg.Dialog)
		if !ok {
			continue
		}

		switch peer := d.Peer.(type) {
		case *tg.PeerChannel:
			if ch, ok := channelsByID[peer.ChannelID]; ok {
				out = append(out, Dialog{
					ID:         ch.ID,
					Type:       DialogTypeChannel,
					Title:      ch.Title,
					AccessHash: ch.AccessHash,
				})
			}
		case *tg.PeerChat:
			if ch, ok := chatsByID[peer.ChatID]; ok {
				out = append(out, Dialog{
					ID:    ch.ID,
					Type:  DialogTypeChat,
					Title: ch.Title,
				})
			}
		case *tg.PeerUser:
			if u, ok := usersByID[peer.UserID]; ok {
				title := strings.TrimSpace(u.FirstName + " " + u.LastName)
				if title == "" {
					title = u.Username
				}
				out = append(out, Dialog{
					ID:         u.ID,
					Type:       DialogTypeUser,
					Title:      title,
					AccessHash: u.AccessHash,
				})
			}
		}
	}
	return out
}

// nextDialogOffset derives messages.getDialogs offsets from the last page.
func nextDialogOffset(messages []tg.MessageClass, page []Dialog) (int, int, tg.InputPeerClass) {
	if len(messages) == 0 || len(page) == 0 {
		return 0, 0, nil
	}

	last, ok := messages[len(messages)-1].(*tg.Message)
	if !ok {
		return 0, 0, nil
	}

	lastDialog := page[len(page)-1]
	return last.Date, last.ID, InputPeer(lastDialog)
}

// InputPeer builds the request peer for a dialog.
func InputPeer(d Dialog) tg.InputPeerClass {
	switch d.Type {
	case DialogTypeChannel:
		return &tg.InputPeerChannel{ChannelID: d.ID, AccessHash: d.AccessHash}
	case DialogTypeChat:
		return &tg.InputPeerChat{ChatID: d.ID}
	default:
		return &tg.InputPeerUser{UserID: d.ID, AccessHash: d.AccessHash}
	}
}

// GetNewMessages fetches messages of a dialog newer than offsetID,
// oldest first. limit caps a single request (telegram api max is 100).
func (c *Client) GetNewMessages(ctx context.Context, dialog Dialog, offsetID int64, limit int) ([]Message, error) {
	if limit > 100 {
		limit = 100 // telegram api limit
	}

	c.log.Debug().Int64("dialog_id", dialog.ID).Int64("offset_id", offsetID).Int("limit", limit).Msg("telegram: waiting for rate limiter before GetNewMessages")
	if err := c.rateLimiter.Wait(ctx); err != nil {
		c.log.Error().Err(err).Msg("telegram: rate limiter wait failed")
		return nil, err
	}

	api, err := c.API()
	if err != nil {
		return nil, err
	}

	// add_offset = -limit with offset_id = watermark returns the window of
	// messages directly above the watermark
	history, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:      InputPeer(dialog),
		OffsetID:  int(offsetID),
		AddOffset: -limit,
		Limit:     limit,
	})
	if err != nil {
		if wait := c.checkFloodWait(err); wait > 0 {
			c.log.Warn().Int("wait_seconds", wait).Msg("telegram: FLOOD_WAIT in GetNewMessages, updating rate limiter")
			c.rateLimiter.SetFloodWait(wait)
		}
		c.log.Error().Err(err).Int64("offset_id", offsetID).Msg("telegram: MessagesGetHistory failed")
		return nil, fmt.Errorf("get history: %w", err)
	}

	messages := c.extractMessages(history, dialog.ID)

	// history comes newest first; keep only ids above the watermark and
	// hand them to the caller in archive order
	var fresh []Message
	for _, m := range messages {
		if int64(m.ID) > offsetID {
			fresh = append(fresh, m)
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].ID < fresh[j].ID })

	return fresh, nil
}

// GetReplies fetches the newest replies of a message's comment thread.
func (c *Client) GetReplies(ctx context.Context, dialog Dialog, messageID int, limit int) ([]Reply, error) {
	if limit > 100 {
		limit = 100
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	api, err := c.API()
	if err != nil {
		return nil, err
	}

	result, err := api.MessagesGetReplies(ctx, &tg.MessagesGetRepliesRequest{
		Peer:  InputPeer(dialog),
		MsgID: messageID,
		Limit: limit,
	})
	if err != nil {
		if wait := c.checkFloodWait(err); wait > 0 {
			c.rateLimiter.SetFloodWait(wait)
		}
		return nil, fmt.Errorf("get replies: %w", err)
	}

	var replies []Reply
	switch h := result.(type) {
	case *tg.MessagesChannelMessages:
		replies = extractReplies(h.Messages)
	case *tg.MessagesMessages:
		replies = extractReplies(h.Messages)
	case *tg.MessagesMessagesSlice:
		replies = extractReplies(h.Messages)
	}

	sort.Slice(replies, func(i, j int) bool { return replies[i].ID < replies[j].ID })
	return replies, nil
}

// extractReplies converts discussion-thread messages to Reply values.
func extractReplies(messages []tg.MessageClass) []Reply {
	var out []Reply
	for _, raw := range messages {
		m, ok := raw.(*tg.Message)
		if !ok {
			continue
		}

		reply := Reply{
			ID:   m.ID,
			Text: m.Message,
			Date: time.Unix(int64(m.Date), 0),
		}

		// replies live in the linked discussion group, not the channel itself
		if peer, ok := m.PeerID.(*tg.PeerChannel); ok {
			id := peer.ChannelID
			reply.ReplyToDialogID = &id
		}

		if m.ReplyTo != nil {
			if header, ok := m.ReplyTo.(*tg.MessageReplyHeader); ok {
				msgID := header.ReplyToMsgID
				reply.ReplyToMsgID = &msgID
			}
		}

		if m.FromID != nil {
			if from, ok := m.FromID.(*tg.PeerUser); ok {
				id := from.UserID
				reply.SenderID = &id
			}
		}

		out = append(out, reply)
	}
	return out
}

// DownloadAttachment downloads a media file to the given path.
func (c *Client) DownloadAttachment(ctx context.Context, loc tg.InputFileLocationClass, path string) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	api, err := c.API()
	if err != nil {
		return err
	}

	if _, err := downloader.NewDownloader().Download(api, loc).ToPath(ctx, path); err != nil {
		if wait := c.checkFloodWait(err); wait > 0 {
			c.rateLimiter.SetFloodWait(wait)
		}
		return fmt.Errorf("download media: %w", err)
	}
	return nil
}

// Location builds the download location for an attachment of a message.
// Returns nil for attachment kinds we do not archive.
func (c *Client) Location(msg *tg.Message) (tg.InputFileLocationClass, *Attachment) {
	if msg == nil || msg.Media == nil {
		return nil, nil
	}

	switch media := msg.Media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := media.Photo.(*tg.Photo)
		if !ok {
			return nil, nil
		}
		loc := &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     largestPhotoSize(photo),
		}
		return loc, &Attachment{
			ID:       photo.ID,
			Kind:     "photo",
			Ext:      ".jpg",
			Location: loc,
		}
	case *tg.MessageMediaDocument:
		doc, ok := media.Document.(*tg.Document)
		if !ok {
			return nil, nil
		}
		loc := &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}
		return loc, &Attachment{
			ID:       doc.ID,
			Kind:     "document",
			Ext:      documentExt(doc),
			Location: loc,
		}
	}

	// web previews, polls and the rest are not archived
	return nil, nil
}

// largestPhotoSize returns the type tag of the biggest available thumb.
func largestPhotoSize(photo *tg.Photo) string {
	size := ""
	for _, s := range photo.Sizes {
		switch v := s.(type) {
		case *tg.PhotoSize:
			size = v.Type
		case *tg.PhotoSizeProgressive:
			size = v.Type
		}
	}
	return size
}

// documentExt derives the file extension from document attributes.
func documentExt(doc *tg.Document) string {
	for _, attr := range doc.Attributes {
		if fn, ok := attr.(*tg.DocumentAttributeFilename); ok {
			if ext := filepath.Ext(fn.FileName); ext != "" {
				return ext
			}
		}
	}

	// fall back to the mime subtype
	if idx := strings.LastIndex(doc.MimeType, "/"); idx >= 0 && idx < len(doc.MimeType)-1 {
		return "." + doc.MimeType[idx+1:]
	}
	return ".bin"
}

// extractMessages converts a telegram history response to Message values.
func (c *Client) extractMessages(messagesClass tg.MessagesMessagesClass, dialogID int64) []Message {
	var messages []Message

	appendParsed := func(raw []tg.MessageClass) {
		for _, msg := range raw {
			if m := c.parseMessage(msg, dialogID); m != nil {
				messages = append(messages, *m)
			}
		}
	}

	switch h := messagesClass.(type) {
	case *tg.MessagesChannelMessages:
		appendParsed(h.Messages)
	case *tg.MessagesMessages:
		appendParsed(h.Messages)
	case *tg.MessagesMessagesSlice:
		appendParsed(h.Messages)
	}

	return messages
}

// parseMessage converts a single telegram message to our Message type
func (c *Client) parseMessage(msg tg.MessageClass, dialogID int64) *Message {
	m, ok := msg.(*tg.Message)
	if !ok {
		return nil
	}

	out := &Message{
		ID:       m.ID,
		DialogID: dialogID,
		Text:     m.Message,
		Date:     time.Unix(int64(m.Date), 0),
	}

	if m.GroupedID != 0 {
		gid := m.GroupedID
		out.GroupedID = &gid
	}

	if m.ReplyTo != nil {
		if header, ok := m.ReplyTo.(*tg.MessageReplyHeader); ok {
			msgID := header.ReplyToMsgID
			out.ReplyToMsgID = &msgID
		}
	}

	// comment threads are announced on the message itself
	if replies, ok := m.GetReplies(); ok && replies.Comments {
		out.HasComments = true
	}

	if _, att := c.Location(m); att != nil {
		out.Attachments = append(out.Attachments, *att)
	}

	return out
}

// checkFloodWait checks if error is a FLOOD_WAIT error and returns wait seconds
func (c *Client) checkFloodWait(err error) int {
	if err == nil {
		return 0
	}

	// gotd errors are usually wrapped; the error string is the most reliable
	// signal without deep coupling to the tg error definitions
	str := err.Error()
	if strings.Contains(str, "FLOOD_WAIT_") {
		// format is usually FLOOD_WAIT_X where X is seconds
		var seconds int
		parts := strings.Split(str, "FLOOD_WAIT_")
		if len(parts) > 1 {
			numStr := strings.TrimSpace(parts[1])
			_, _ = fmt.Sscanf(numStr, "%d", &seconds)
			return seconds
		}
	}
	return 0
}
