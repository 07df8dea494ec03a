package matrix

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/tjfontaine/hass-matrix-gateway/internal/core/domain"
)

// CommandHandler produces the reply to a command issued in roomID.
type CommandHandler func(ctx context.Context, roomID string) (domain.TextContent, error)

// IsCommand reports whether body invokes "!<prefix>", optionally followed by
// arguments.
func IsCommand(body, prefix string) bool {
	if prefix == "" {
		return false
	}
	cmd := "!" + prefix
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, cmd) {
		return false
	}
	rest := body[len(cmd):]
	return rest == "" || rest[0] == ' ' || rest[0] == '\t' || rest[0] == '\n'
}

// ListenCommands syncs until ctx is cancelled. Invites are accepted and
// "!<prefix>" messages from other users are answered with handler's reply.
// Events from before the first sync are ignored. It may be called again after
// it returns an error; the sync handlers stay registered exactly once.
func (c *Client) ListenCommands(ctx context.Context, prefix string, handler CommandHandler) error {
	c.cmdMu.Lock()
	c.cmdPrefix, c.cmdHandler = prefix, handler
	c.cmdMu.Unlock()

	c.handlersOnce.Do(func() {
		c.handlersErr = c.registerHandlers()
	})
	if c.handlersErr != nil {
		return c.handlersErr
	}

	c.logger.Info("listening for commands", slog.String("prefix", "!"+prefix))
	err := c.cli.SyncWithContext(ctx)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Client) registerHandlers() error {
	syncer, ok := c.cli.Syncer.(mautrix.ExtensibleSyncer)
	if !ok {
		return errors.New("matrix: syncer does not accept handlers")
	}
	if ds, ok := c.cli.Syncer.(*mautrix.DefaultSyncer); ok {
		ds.OnSync(c.cli.DontProcessOldEvents)
	}

	syncer.OnEventType(event.StateMember, func(ctx context.Context, evt *event.Event) {
		if evt.GetStateKey() != c.UserID() {
			return
		}
		member := evt.Content.AsMember()
		if member.Membership != event.MembershipInvite {
			return
		}
		if _, err := c.cli.JoinRoomByID(ctx, evt.RoomID); err != nil {
			c.logger.Warn("failed to join room",
				slog.String("room_id", evt.RoomID.String()),
				slog.String("error", err.Error()))
			return
		}
		c.logger.Info("joined room", slog.String("room_id", evt.RoomID.String()))
	})

	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		c.cmdMu.RLock()
		prefix, handler := c.cmdPrefix, c.cmdHandler
		c.cmdMu.RUnlock()
		c.handleCommand(ctx, evt, prefix, handler)
	})
	return nil
}

func (c *Client) handleCommand(ctx context.Context, evt *event.Event, prefix string, handler CommandHandler) {
	if evt.Sender == id.UserID(c.UserID()) {
		return
	}
	msg := evt.Content.AsMessage()
	if msg == nil || !IsCommand(msg.Body, prefix) {
		return
	}

	roomID := evt.RoomID.String()
	reply, err := handler(ctx, roomID)
	if err != nil {
		c.logger.Error("command failed",
			slog.String("room_id", roomID),
			slog.String("error", err.Error()))
		return
	}
	if _, err := c.SendText(ctx, roomID, reply); err != nil {
		c.logger.Error("failed to answer command",
			slog.String("room_id", roomID),
			slog.String("error", err.Error()))
	}
}
