package roomposter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tjfontaine/hass-matrix-gateway/internal/codec"
	"github.com/tjfontaine/hass-matrix-gateway/internal/core/domain"
	"github.com/tjfontaine/hass-matrix-gateway/internal/core/ports"
	"github.com/tjfontaine/hass-matrix-gateway/internal/resolver"
)

var tracer = otel.Tracer("github.com/tjfontaine/hass-matrix-gateway/internal/roomposter")

// EventResolver finds the event an identifier refers to.
type EventResolver interface {
	Resolve(ctx context.Context, roomID string, id domain.Identifier) (domain.RoomEvent, bool, error)
}

// Poster executes operations against the chat client.
type Poster struct {
	chat       ports.ChatClient
	store      ports.LifetimeStore
	resolver   EventResolver
	notifier   ports.Notifier
	images     ports.ImageProcessor
	keepDelTag bool
	logger     *slog.Logger
	now        func() time.Time
}

var _ OperationHandler = (*Poster)(nil)

// Option configures a Poster.
type Option func(*Poster)

// WithResolver replaces the default history resolver.
func WithResolver(r EventResolver) Option {
	return func(p *Poster) {
		p.resolver = r
	}
}

// WithNotifier sets the callback notifier.
func WithNotifier(n ports.Notifier) Option {
	return func(p *Poster) {
		p.notifier = n
	}
}

// WithImageProcessor replaces the default image processor.
func WithImageProcessor(ip ports.ImageProcessor) Option {
	return func(p *Poster) {
		p.images = ip
	}
}

// WithKeepDelTag keeps the text of <del> spans in edited plain-text bodies
// instead of dropping it.
func WithKeepDelTag(keep bool) Option {
	return func(p *Poster) {
		p.keepDelTag = keep
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poster) {
		p.logger = logger
	}
}

// WithClock overrides the time source used for lifetime scheduling.
func WithClock(now func() time.Time) Option {
	return func(p *Poster) {
		p.now = now
	}
}

// New creates a Poster. The lifetime store is shared with the expiry
// scheduler.
func New(chat ports.ChatClient, store ports.LifetimeStore, opts ...Option) *Poster {
	p := &Poster{
		chat:     chat,
		store:    store,
		notifier: ports.NopNotifier{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("component", "roomposter"))
	if p.resolver == nil {
		p.resolver = resolver.New(chat, resolver.WithLogger(p.logger))
	}
	if p.images == nil {
		p.images = codec.NewImageProcessor()
	}
	return p
}

// Execute validates req and runs the resulting operation.
func (p *Poster) Execute(ctx context.Context, req domain.Request) (Result, error) {
	op, err := FromRequest(req)
	if err != nil {
		kind := string(req.Kind)
		if _, ok := domain.ParseOperationKind(kind); !ok {
			kind = "unknown"
		} else if kind == "" {
			kind = string(domain.OperationMessage)
		}
		operationsTotal.WithLabelValues(kind, string(domain.Classify(err))).Inc()
		return Result{}, err
	}
	return p.Dispatch(ctx, op)
}

// Dispatch runs op with tracing and metrics.
func (p *Poster) Dispatch(ctx context.Context, op Operation) (Result, error) {
	kind := string(op.Kind())
	ctx, span := tracer.Start(ctx, "roomposter."+kind)
	defer span.End()
	span.SetAttributes(
		attribute.String("operation", kind),
		attribute.String("room_id", op.Room()),
	)

	start := time.Now()
	res, err := Dispatch(ctx, p, op)
	operationDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if err != nil {
		operationsTotal.WithLabelValues(kind, string(domain.Classify(err))).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{Kind: op.Kind()}, err
	}

	operationsTotal.WithLabelValues(kind, "success").Inc()
	span.SetAttributes(attribute.String("event_id", res.EventID))
	res.Kind = op.Kind()
	return res, nil
}

// PostMessage sends the text, schedules its expiry and notifies the caller.
func (p *Poster) PostMessage(ctx context.Context, op Message) (Result, error) {
	if op.Text == "" {
		return Result{}, domain.ErrMissingMessage
	}

	body := op.Text
	if !op.Identifier.IsEmpty() {
		body = fmt.Sprintf("%s by %s", op.Text, op.Identifier)
	}

	eventID, err := p.chat.SendText(ctx, op.RoomID, domain.TextContent{
		Body:          body,
		FormattedBody: codec.RenderMarkdown(op.Text),
	})
	if err != nil {
		return Result{}, p.protocolError("send message", op.RoomID, err)
	}
	p.logger.Debug("message sent",
		slog.String("room_id", op.RoomID),
		slog.String("event_id", eventID))

	if op.LifetimeMinutes > 0 {
		end := domain.NewLifetimeEnd(op.RoomID, eventID, p.now(), op.LifetimeMinutes)
		if err := p.store.Insert(ctx, &end); err != nil {
			// The message is already in the room; a failed schedule only
			// means it will not expire.
			p.logger.Error("failed to schedule message expiry",
				slog.String("room_id", op.RoomID),
				slog.String("event_id", eventID),
				slog.String("error", err.Error()))
		} else {
			lifetimesScheduled.Inc()
			p.logger.Info("message expiry scheduled",
				slog.String("event_id", eventID),
				slog.Time("end_date", end.EndDate))
		}
	}

	p.notify(ctx, op.CallbackURL, eventID)
	return Result{EventID: eventID}, nil
}

// PostEdit replaces the content of the message the identifier resolves to.
func (p *Poster) PostEdit(ctx context.Context, op Edit) (Result, error) {
	if op.Text == "" {
		return Result{}, domain.ErrMissingMessage
	}

	target, err := p.resolveTarget(ctx, op.RoomID, op.Identifier)
	if err != nil {
		return Result{}, err
	}

	eventID, err := p.chat.Edit(ctx, op.RoomID, target.ID, domain.TextContent{
		Body:          codec.FilterDeleted(op.Text, p.keepDelTag),
		FormattedBody: codec.RenderMarkdown(op.Text),
	})
	if err != nil {
		return Result{}, p.protocolError("edit message", op.RoomID, err)
	}
	return Result{EventID: eventID}, nil
}

// PostRedaction redacts the addressed message. A tag that matches nothing is
// logged and reported as success so repeated redactions stay harmless.
func (p *Poster) PostRedaction(ctx context.Context, op Redaction) (Result, error) {
	targetID, ok := op.Identifier.EventID()
	if !ok {
		target, found, err := p.resolver.Resolve(ctx, op.RoomID, op.Identifier)
		if err != nil && errors.Is(err, domain.ErrPermissionDenied) {
			return Result{}, p.protocolError("resolve identifier", op.RoomID, err)
		}
		if err != nil || !found {
			attrs := []any{
				slog.String("room_id", op.RoomID),
				slog.String("identifier", op.Identifier.String()),
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}
			p.logger.Warn("nothing to redact", attrs...)
			return Result{}, nil
		}
		targetID = target.ID
	}

	eventID, err := p.chat.Redact(ctx, op.RoomID, targetID, domain.RedactionReason)
	if err != nil {
		return Result{}, p.protocolError("redact event", op.RoomID, err)
	}
	p.logger.Debug("event redacted",
		slog.String("room_id", op.RoomID),
		slog.String("target_event_id", targetID),
		slog.String("event_id", eventID))

	p.notify(ctx, op.CallbackURL, eventID)
	return Result{EventID: eventID}, nil
}

// PostReaction reacts to the message the identifier resolves to.
func (p *Poster) PostReaction(ctx context.Context, op Reaction) (Result, error) {
	if op.Key == "" {
		return Result{}, domain.ErrMissingMessage
	}

	target, err := p.resolveTarget(ctx, op.RoomID, op.Identifier)
	if err != nil {
		return Result{}, err
	}

	eventID, err := p.chat.React(ctx, op.RoomID, target.ID, op.Key)
	if err != nil {
		return Result{}, p.protocolError("send reaction", op.RoomID, err)
	}
	return Result{EventID: eventID}, nil
}

// PostImage uploads the image and its thumbnail and sends an m.image event.
func (p *Poster) PostImage(ctx context.Context, op Image) (Result, error) {
	prepared, err := p.images.Prepare(op.Payload)
	if err != nil {
		return Result{}, err
	}

	media, err := p.upload(ctx, prepared)
	if err != nil {
		return Result{}, p.protocolError("upload image", op.RoomID, err)
	}
	content := domain.ImageContent{Body: prepared.Name, Media: media}
	if prepared.Thumbnail != nil {
		thumb, err := p.upload(ctx, prepared.Thumbnail)
		if err != nil {
			return Result{}, p.protocolError("upload thumbnail", op.RoomID, err)
		}
		content.Thumbnail = &thumb
	}

	eventID, err := p.chat.SendImage(ctx, op.RoomID, content)
	if err != nil {
		return Result{}, p.protocolError("send image", op.RoomID, err)
	}

	p.notify(ctx, op.CallbackURL, eventID)
	return Result{EventID: eventID}, nil
}

func (p *Poster) upload(ctx context.Context, img *domain.PreparedImage) (domain.MediaInfo, error) {
	url, err := p.chat.UploadMedia(ctx, img.Data, img.MimeType)
	if err != nil {
		return domain.MediaInfo{}, err
	}
	return domain.MediaInfo{
		URL:      url,
		MimeType: img.MimeType,
		Width:    img.Width,
		Height:   img.Height,
		Size:     len(img.Data),
	}, nil
}

// resolveTarget resolves id and turns absence into domain.ErrNotFound.
func (p *Poster) resolveTarget(ctx context.Context, roomID string, id domain.Identifier) (domain.RoomEvent, error) {
	target, found, err := p.resolver.Resolve(ctx, roomID, id)
	if err != nil {
		return domain.RoomEvent{}, p.protocolError("resolve identifier", roomID, err)
	}
	if !found {
		p.logger.Error("could not find a matching event",
			slog.String("room_id", roomID),
			slog.String("identifier", id.String()))
		return domain.RoomEvent{}, domain.NewError(domain.ErrorTypeNotFound,
			fmt.Sprintf("no event matches %q", id), domain.ErrNotFound)
	}
	return target, nil
}

// protocolError logs a chat client failure and wraps it.
func (p *Poster) protocolError(action, roomID string, err error) error {
	if errors.Is(err, domain.ErrPermissionDenied) {
		p.logger.Error("permission denied in room",
			slog.String("action", action),
			slog.String("room_id", roomID),
			slog.String("error", err.Error()))
	} else {
		p.logger.Error("chat client call failed",
			slog.String("action", action),
			slog.String("room_id", roomID),
			slog.String("error", err.Error()))
	}
	return fmt.Errorf("%s: %w", action, err)
}

func (p *Poster) notify(ctx context.Context, url, eventID string) {
	if url == "" || eventID == "" {
		return
	}
	p.notifier.Send(ctx, url, eventID)
}
