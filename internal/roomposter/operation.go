// Package roomposter executes lifecycle requests against a chat room.
package roomposter

import (
	"context"
	"fmt"

	"github.com/tjfontaine/hass-matrix-gateway/internal/core/domain"
)

// Operation is one of the five room operations. The set is closed: every
// variant dispatches to its own OperationHandler method.
type Operation interface {
	Kind() domain.OperationKind
	Room() string
	dispatch(ctx context.Context, h OperationHandler) (Result, error)
}

// OperationHandler executes each operation variant.
type OperationHandler interface {
	PostMessage(ctx context.Context, op Message) (Result, error)
	PostEdit(ctx context.Context, op Edit) (Result, error)
	PostRedaction(ctx context.Context, op Redaction) (Result, error)
	PostReaction(ctx context.Context, op Reaction) (Result, error)
	PostImage(ctx context.Context, op Image) (Result, error)
}

// Result is the outcome of a successful operation. EventID is empty when the
// operation produced no event, e.g. a redaction whose target was not found.
type Result struct {
	Kind    domain.OperationKind
	EventID string
}

// Message sends a new text message, optionally tagged and self-expiring.
type Message struct {
	RoomID          string
	Text            string
	Identifier      domain.Identifier
	CallbackURL     string
	LifetimeMinutes int
}

// Edit replaces the text of a previously sent message.
type Edit struct {
	RoomID     string
	Text       string
	Identifier domain.Identifier
}

// Redaction removes a previously sent message.
type Redaction struct {
	RoomID      string
	Identifier  domain.Identifier
	CallbackURL string
}

// Reaction annotates a previously sent message with Key.
type Reaction struct {
	RoomID     string
	Key        string
	Identifier domain.Identifier
}

// Image uploads and sends an image.
type Image struct {
	RoomID      string
	Payload     *domain.Image
	CallbackURL string
}

func (Message) Kind() domain.OperationKind   { return domain.OperationMessage }
func (Edit) Kind() domain.OperationKind      { return domain.OperationEdit }
func (Redaction) Kind() domain.OperationKind { return domain.OperationRedaction }
func (Reaction) Kind() domain.OperationKind  { return domain.OperationReaction }
func (Image) Kind() domain.OperationKind     { return domain.OperationImage }

func (op Message) Room() string   { return op.RoomID }
func (op Edit) Room() string      { return op.RoomID }
func (op Redaction) Room() string { return op.RoomID }
func (op Reaction) Room() string  { return op.RoomID }
func (op Image) Room() string     { return op.RoomID }

func (op Message) dispatch(ctx context.Context, h OperationHandler) (Result, error) {
	return h.PostMessage(ctx, op)
}

func (op Edit) dispatch(ctx context.Context, h OperationHandler) (Result, error) {
	return h.PostEdit(ctx, op)
}

func (op Redaction) dispatch(ctx context.Context, h OperationHandler) (Result, error) {
	return h.PostRedaction(ctx, op)
}

func (op Reaction) dispatch(ctx context.Context, h OperationHandler) (Result, error) {
	return h.PostReaction(ctx, op)
}

func (op Image) dispatch(ctx context.Context, h OperationHandler) (Result, error) {
	return h.PostImage(ctx, op)
}

// Dispatch routes op to the matching handler method.
func Dispatch(ctx context.Context, h OperationHandler, op Operation) (Result, error) {
	return op.dispatch(ctx, h)
}

// FromRequest normalizes req and builds its operation. Image content forces
// an Image operation; IMAGE without content is domain.ErrMissingImageContent.
func FromRequest(req domain.Request) (Operation, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}

	switch req.Kind {
	case domain.OperationMessage:
		return Message{
			RoomID:          req.RoomID,
			Text:            req.Message,
			Identifier:      req.Identifier,
			CallbackURL:     req.CallbackURL,
			LifetimeMinutes: req.LifetimeMinutes,
		}, nil
	case domain.OperationEdit:
		return Edit{RoomID: req.RoomID, Text: req.Message, Identifier: req.Identifier}, nil
	case domain.OperationRedaction:
		return Redaction{RoomID: req.RoomID, Identifier: req.Identifier, CallbackURL: req.CallbackURL}, nil
	case domain.OperationReaction:
		return Reaction{RoomID: req.RoomID, Key: req.Message, Identifier: req.Identifier}, nil
	case domain.OperationImage:
		return Image{RoomID: req.RoomID, Payload: req.Image, CallbackURL: req.CallbackURL}, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownOperation, req.Kind)
	}
}
