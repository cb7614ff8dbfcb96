package kit

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

// MediaKind mirrors the Telegram media classes the editor understands.
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaDocument  MediaKind = "document"
	MediaAnimation MediaKind = "animation"
	MediaAudio     MediaKind = "audio"
	MediaVoice     MediaKind = "voice"
)

// IsAlbumKind reports whether entries of this kind may be grouped
// into a Telegram media group.
func (k MediaKind) IsAlbumKind() bool {
	return k == MediaPhoto || k == MediaVideo
}

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string

	// Media is set when the message carried a photo/video/document/
	// animation/audio/voice. Caption (if any) arrives in Text.
	Media *MediaRef
}

// MediaRef is an opaque handle to a media object already stored by
// Telegram. FileID is never interpreted, only passed back on send.
type MediaRef struct {
	Kind   MediaKind
	FileID string
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
	// Channel is a @username destination; when set it takes precedence
	// over ChatID.
	Channel string
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// AlbumItem is one entry of a media group. Only the lead item of a
// group may carry a caption.
type AlbumItem struct {
	Media   MediaRef
	Caption string
}

// Identity describes the authenticated bot account, used for startup
// diagnostics only.
type Identity struct {
	ID       int64
	Username string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendMedia(ctx context.Context, to ChatTarget, media MediaRef, caption string, opt *SendOptions) (MessageRef, error)
	SendAlbum(ctx context.Context, to ChatTarget, items []AlbumItem, opt *SendOptions) error
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	Self() Identity
}
