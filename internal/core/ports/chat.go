// Package ports defines the capability interfaces the lifecycle engine
// consumes. Adapters under internal/adapters and internal/storage implement
// them.
package ports

import (
	"context"

	"github.com/tjfontaine/hass-matrix-gateway/internal/core/domain"
)

// ChatClient is the chat-protocol surface used by the engine.
//
// Implementations map protocol permission failures to
// domain.ErrPermissionDenied and missing events to domain.ErrNotFound.
type ChatClient interface {
	// UserID returns the identity the client is logged in as.
	UserID() string

	// SendText posts a text message and returns its event id.
	SendText(ctx context.Context, roomID string, content domain.TextContent) (string, error)

	// SendImage posts an image message and returns its event id.
	SendImage(ctx context.Context, roomID string, content domain.ImageContent) (string, error)

	// Edit replaces the content of a previously sent message.
	Edit(ctx context.Context, roomID, targetEventID string, content domain.TextContent) (string, error)

	// React annotates an event with a reaction key.
	React(ctx context.Context, roomID, targetEventID, key string) (string, error)

	// Redact removes an event and returns the redaction event id.
	Redact(ctx context.Context, roomID, eventID, reason string) (string, error)

	// GetEvent fetches a single event.
	GetEvent(ctx context.Context, roomID, eventID string) (domain.RoomEvent, error)

	// SyncPosition returns the room's current timeline pagination token.
	SyncPosition(ctx context.Context, roomID string) (string, error)

	// Messages fetches one page of room history.
	Messages(ctx context.Context, roomID string, dir domain.Direction, from string, limit int) (domain.MessagesPage, error)

	// Decrypt turns an encrypted event into its plaintext form.
	Decrypt(ctx context.Context, evt domain.RoomEvent) (domain.RoomEvent, error)

	// UploadMedia stores bytes on the homeserver and returns the content URI.
	UploadMedia(ctx context.Context, data []byte, contentType string) (string, error)
}
