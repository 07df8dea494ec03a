// Package matrix implements ports.ChatClient over the Matrix client-server
// API using mautrix.
package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/tjfontaine/hass-matrix-gateway/internal/core/domain"
	"github.com/tjfontaine/hass-matrix-gateway/internal/core/ports"
)

// Config holds the credentials of the bot account.
type Config struct {
	HomeserverURL string
	UserID        string
	AccessToken   string
	DeviceID      string
}

// Client adapts a mautrix client to ports.ChatClient.
type Client struct {
	cli        *mautrix.Client
	logger     *slog.Logger
	encryption *EncryptionConfig
	crypto     *cryptohelper.CryptoHelper

	// Sync handlers are registered once; ListenCommands may be re-entered
	// after a failed sync and only swaps the command settings.
	handlersOnce sync.Once
	handlersErr  error
	cmdMu        sync.RWMutex
	cmdPrefix    string
	cmdHandler   CommandHandler
}

var _ ports.ChatClient = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New logs in with an existing access token.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.HomeserverURL == "" || cfg.UserID == "" || cfg.AccessToken == "" {
		return nil, errors.New("matrix: homeserver url, user id and access token are required")
	}
	cli, err := mautrix.NewClient(cfg.HomeserverURL, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}
	cli.DeviceID = id.DeviceID(cfg.DeviceID)

	c := &Client{cli: cli, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "matrix"))
	if c.encryption != nil {
		if err := c.setupEncryption(*c.encryption); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Mautrix exposes the underlying client.
func (c *Client) Mautrix() *mautrix.Client {
	return c.cli
}

func (c *Client) UserID() string {
	return c.cli.UserID.String()
}

func (c *Client) SendText(ctx context.Context, roomID string, content domain.TextContent) (string, error) {
	resp, err := c.cli.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, textContent(content))
	if err != nil {
		return "", mapError("send message", err)
	}
	return resp.EventID.String(), nil
}

func (c *Client) SendImage(ctx context.Context, roomID string, content domain.ImageContent) (string, error) {
	msg := &event.MessageEventContent{
		MsgType: event.MsgImage,
		Body:    content.Body,
		URL:     id.ContentURIString(content.Media.URL),
		Info:    fileInfo(content.Media),
	}
	if content.Thumbnail != nil {
		msg.Info.ThumbnailURL = id.ContentURIString(content.Thumbnail.URL)
		msg.Info.ThumbnailInfo = fileInfo(*content.Thumbnail)
	}
	resp, err := c.cli.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, msg)
	if err != nil {
		return "", mapError("send image", err)
	}
	return resp.EventID.String(), nil
}

func (c *Client) Edit(ctx context.Context, roomID, targetEventID string, content domain.TextContent) (string, error) {
	msg := textContent(content)
	msg.SetEdit(id.EventID(targetEventID))
	resp, err := c.cli.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, msg)
	if err != nil {
		return "", mapError("edit message", err)
	}
	return resp.EventID.String(), nil
}

func (c *Client) React(ctx context.Context, roomID, targetEventID, key string) (string, error) {
	resp, err := c.cli.SendReaction(ctx, id.RoomID(roomID), id.EventID(targetEventID), key)
	if err != nil {
		return "", mapError("send reaction", err)
	}
	return resp.EventID.String(), nil
}

func (c *Client) Redact(ctx context.Context, roomID, eventID, reason string) (string, error) {
	resp, err := c.cli.RedactEvent(ctx, id.RoomID(roomID), id.EventID(eventID), mautrix.ReqRedact{Reason: reason})
	if err != nil {
		return "", mapError("redact event", err)
	}
	return resp.EventID.String(), nil
}

func (c *Client) GetEvent(ctx context.Context, roomID, eventID string) (domain.RoomEvent, error) {
	evt, err := c.cli.GetEvent(ctx, id.RoomID(roomID), id.EventID(eventID))
	if err != nil {
		return domain.RoomEvent{}, mapError("get event", err)
	}
	return toRoomEvent(evt), nil
}

// syncFilter limits a position lookup to the latest timeline event of one
// room.
func syncFilter(roomID string) string {
	filter := map[string]any{
		"room": map[string]any{
			"rooms":        []string{roomID},
			"timeline":     map[string]any{"limit": 1},
			"state":        map[string]any{"lazy_load_members": true},
			"ephemeral":    map[string]any{"types": []string{}},
			"account_data": map[string]any{"types": []string{}},
		},
		"presence":     map[string]any{"types": []string{}},
		"account_data": map[string]any{"types": []string{}},
	}
	b, _ := json.Marshal(filter)
	return string(b)
}

// SyncPosition returns the prev_batch token of the room's latest timeline
// slice.
func (c *Client) SyncPosition(ctx context.Context, roomID string) (string, error) {
	resp, err := c.cli.SyncRequest(ctx, 0, "", syncFilter(roomID), false, event.PresenceOffline)
	if err != nil {
		return "", mapError("sync", err)
	}
	room, ok := resp.Rooms.Join[id.RoomID(roomID)]
	if !ok {
		return "", fmt.Errorf("%w: room %s is not joined", domain.ErrNotFound, roomID)
	}
	return room.Timeline.PrevBatch, nil
}

func (c *Client) Messages(ctx context.Context, roomID string, dir domain.Direction, from string, limit int) (domain.MessagesPage, error) {
	direction := mautrix.DirectionForward
	if dir == domain.DirectionBackward {
		direction = mautrix.DirectionBackward
	}
	resp, err := c.cli.Messages(ctx, id.RoomID(roomID), from, "", direction, nil, limit)
	if err != nil {
		return domain.MessagesPage{}, mapError("fetch messages", err)
	}
	page := domain.MessagesPage{
		Start:  resp.Start,
		End:    resp.End,
		Events: make([]domain.RoomEvent, 0, len(resp.Chunk)),
	}
	for _, evt := range resp.Chunk {
		if evt.RoomID == "" {
			evt.RoomID = id.RoomID(roomID)
		}
		page.Events = append(page.Events, toRoomEvent(evt))
	}
	return page, nil
}

func (c *Client) Decrypt(ctx context.Context, evt domain.RoomEvent) (domain.RoomEvent, error) {
	if c.cli.Crypto == nil {
		return domain.RoomEvent{}, errors.New("decrypt: encryption is not enabled")
	}
	raw, ok := evt.Raw.(*event.Event)
	if !ok || raw == nil {
		return domain.RoomEvent{}, fmt.Errorf("decrypt: event %s has no protocol payload", evt.ID)
	}
	if err := raw.Content.ParseRaw(raw.Type); err != nil && !errors.Is(err, event.ErrContentAlreadyParsed) {
		return domain.RoomEvent{}, fmt.Errorf("decrypt: parse content: %w", err)
	}
	decrypted, err := c.cli.Crypto.Decrypt(ctx, raw)
	if err != nil {
		return domain.RoomEvent{}, fmt.Errorf("decrypt %s: %w", evt.ID, err)
	}
	return toRoomEvent(decrypted), nil
}

func (c *Client) UploadMedia(ctx context.Context, data []byte, contentType string) (string, error) {
	resp, err := c.cli.UploadBytes(ctx, data, contentType)
	if err != nil {
		return "", mapError("upload media", err)
	}
	return string(resp.ContentURI.CUString()), nil
}

func textContent(content domain.TextContent) *event.MessageEventContent {
	msg := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    content.Body,
	}
	if content.FormattedBody != "" {
		msg.Format = event.FormatHTML
		msg.FormattedBody = content.FormattedBody
	}
	return msg
}

func fileInfo(m domain.MediaInfo) *event.FileInfo {
	return &event.FileInfo{
		MimeType: m.MimeType,
		Width:    m.Width,
		Height:   m.Height,
		Size:     m.Size,
	}
}

func toRoomEvent(evt *event.Event) domain.RoomEvent {
	re := domain.RoomEvent{
		ID:        evt.ID.String(),
		RoomID:    evt.RoomID.String(),
		Sender:    evt.Sender.String(),
		Type:      evt.Type.Type,
		Timestamp: time.UnixMilli(evt.Timestamp),
		Raw:       evt,
	}
	if body, ok := evt.Content.Raw["body"].(string); ok {
		re.Body = body
	} else if msg, ok := evt.Content.Parsed.(*event.MessageEventContent); ok {
		re.Body = msg.Body
	}
	return re
}

// mapError translates Matrix error codes into domain errors.
func mapError(op string, err error) error {
	switch {
	case errors.Is(err, mautrix.MForbidden):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrPermissionDenied, err)
	case errors.Is(err, mautrix.MNotFound):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrNotFound, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
