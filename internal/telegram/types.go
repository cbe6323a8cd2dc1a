package telegram

import (
	"time"

	"github.com/gotd/td/tg"
)

// DialogType enumerates the telegram peer classes we archive
const (
	DialogTypeChannel = "Channel"
	DialogTypeChat    = "Chat"
	DialogTypeUser    = "User"
)

// Dialog represents a conversation container from the account's dialog list
type Dialog struct {
	ID         int64  // peer id (stable external identifier)
	Type       string // Channel, Chat or User
	Title      string // dialog title (username for user dialogs)
	AccessHash int64  // access hash for channel/user api calls
}

// Attachment represents a downloadable media item of a message
type Attachment struct {
	ID       int64                    // telegram media id (photo id or document id)
	Kind     string                   // "photo" or "document"
	Ext      string                   // file extension including the dot
	Location tg.InputFileLocationClass // download location for the file api
}

// Message represents a parsed telegram message
type Message struct {
	ID           int          // message id (unique within its dialog only)
	DialogID     int64        // owning dialog id
	Text         string       // message text content
	Date         time.Time    // message creation timestamp
	GroupedID    *int64       // media-group id (nil for standalone messages)
	ReplyToMsgID *int         // id of the replied-to message, if any
	HasComments  bool         // message carries a comment thread
	Attachments  []Attachment // archivable media of this message
}

// Reply represents a comment-thread response to a message
type Reply struct {
	ID              int       // reply id within the discussion thread
	ReplyToDialogID *int64    // discussion group id the reply lives in
	ReplyToMsgID    *int      // id of the message the reply answers
	SenderID        *int64    // sender peer id, nil for anonymous posts
	Text            string    // reply text content
	Date            time.Time // reply timestamp
}
