package domain

import "time"

// Event types the engine cares about.
const (
	EventTypeMessage   = "m.room.message"
	EventTypeEncrypted = "m.room.encrypted"
)

// RedactionReason is attached to every redaction issued by the engine.
const RedactionReason = "deactivated"

// RoomEvent is a room timeline event as seen by the engine. A resolved
// identifier is a RoomEvent whose Body carried the tag.
type RoomEvent struct {
	ID        string
	RoomID    string
	Sender    string
	Type      string
	Body      string
	Timestamp time.Time
	// Raw is the protocol-native event. Only the chat client adapter looks
	// inside it, e.g. to decrypt.
	Raw any
}

// Encrypted reports whether the event still needs decryption.
func (e RoomEvent) Encrypted() bool {
	return e.Type == EventTypeEncrypted
}

// Direction is the pagination direction for history fetches.
type Direction string

const (
	DirectionForward  Direction = "f"
	DirectionBackward Direction = "b"
)

// MessagesPage is one page of room history.
type MessagesPage struct {
	Events []RoomEvent
	Start  string
	End    string
}

// TextContent is a text message with an HTML rendering.
type TextContent struct {
	Body          string
	FormattedBody string
}

// MediaInfo describes uploaded media.
type MediaInfo struct {
	URL      string
	MimeType string
	Width    int
	Height   int
	Size     int
}

// ImageContent is an m.image message.
type ImageContent struct {
	Body      string
	Media     MediaInfo
	Thumbnail *MediaInfo
}
