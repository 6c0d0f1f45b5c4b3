package domain

import "time"

// MediaKind identifies the kind of media payload attached to a message.
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaDocument  MediaKind = "document"
	MediaAudio     MediaKind = "audio"
	MediaVoice     MediaKind = "voice"
	MediaAnimation MediaKind = "animation"
)

// Media is an opaque reference to a media payload already held by the
// messaging platform. It can be re-sent without downloading it.
type Media struct {
	Kind   MediaKind
	FileID string
}

// Message is an inbound message as delivered by the transport.
type Message struct {
	ChatID    int64
	MessageID int
	SenderID  int64
	Text      string // body or caption, empty when absent
	Media     *Media // nil when the message carries no media
	Timestamp time.Time
}

// HasMedia reports whether the message carries a media payload.
func (m Message) HasMedia() bool {
	return m.Media != nil
}
