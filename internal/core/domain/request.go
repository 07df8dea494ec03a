// Package domain holds the types shared by the message-lifecycle engine:
// inbound requests, room events, expiry records and the error taxonomy.
package domain

import "strings"

// OperationKind names one of the five room operations a request can ask for.
type OperationKind string

const (
	OperationMessage   OperationKind = "message"
	OperationEdit      OperationKind = "edit"
	OperationRedaction OperationKind = "redaction"
	OperationReaction  OperationKind = "reaction"
	OperationImage     OperationKind = "image"
)

// OperationKinds lists every supported kind in wire order.
var OperationKinds = []OperationKind{
	OperationMessage,
	OperationEdit,
	OperationRedaction,
	OperationReaction,
	OperationImage,
}

// ParseOperationKind maps the "type" field of a webhook payload to an
// OperationKind. The empty string means MESSAGE. Unknown values report
// ok=false so callers can reject the request instead of guessing.
func ParseOperationKind(s string) (OperationKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "message":
		return OperationMessage, true
	case "edit":
		return OperationEdit, true
	case "redaction":
		return OperationRedaction, true
	case "reaction":
		return OperationReaction, true
	case "image":
		return OperationImage, true
	default:
		return "", false
	}
}

// Image is the optional image payload of a request.
type Image struct {
	// Content is the base64 encoded image.
	Content       string
	ContentType   string
	Name          string
	ThumbnailSize int
}

// HasContent reports whether the payload carries image bytes.
func (i *Image) HasContent() bool {
	return i != nil && i.Content != ""
}

// Request is one inbound lifecycle intent, already decoded from the
// transport that carried it.
type Request struct {
	RoomID      string
	Kind        OperationKind
	Message     string
	Identifier  Identifier
	CallbackURL string
	// LifetimeMinutes <= 0 means the message never expires.
	LifetimeMinutes int
	Image           *Image
}

// Normalize applies the pre-dispatch rules: an empty kind means MESSAGE and
// image content always wins over the requested kind. It returns
// ErrMissingImageContent when IMAGE is requested without content.
func (r *Request) Normalize() error {
	if r.Kind == "" {
		r.Kind = OperationMessage
	}
	if r.Image.HasContent() {
		r.Kind = OperationImage
		return nil
	}
	if r.Kind == OperationImage {
		return ErrMissingImageContent
	}
	return nil
}
