package core

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Editor   EditorConfig   `json:"editor"`
	Logging  LoggingConfig  `json:"logging"`
	History  HistoryConfig  `json:"history"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerUserID is the single operator allowed to control the bot.
	OwnerUserID int64 `json:"owner_user_id"`
	// Channel is the fixed destination, e.g. "@mychannel".
	Channel string `json:"channel"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout"`
	// RequestTimeout bounds each outbound Bot API call.
	RequestTimeout string `json:"request_timeout"`
}

type EditorConfig struct {
	// Timezone is the IANA zone used for timer expressions.
	Timezone string `json:"timezone"`
	// PublishTimeout bounds the transport call of a fired job.
	PublishTimeout string `json:"publish_timeout"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Relay   LoggingRelay `json:"relay"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingRelay mirrors warn+ log lines to a Telegram chat.
type LoggingRelay struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type HistoryConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	// Retention is a Go duration string; entries older than this are
	// pruned by the daily sweep. "0s" keeps everything.
	Retention string `json:"retention"`
	// PruneAt is the local HH:MM of the daily sweep.
	PruneAt string `json:"prune_at"`
}
