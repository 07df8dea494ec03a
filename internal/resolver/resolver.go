// Package resolver maps message identifiers to room events.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tjfontaine/hass-matrix-gateway/internal/core/domain"
	"github.com/tjfontaine/hass-matrix-gateway/internal/core/ports"
)

var tracer = otel.Tracer("github.com/tjfontaine/hass-matrix-gateway/internal/resolver")

// Resolver finds the event an identifier refers to.
type Resolver struct {
	client           ports.ChatClient
	logger           *slog.Logger
	pageSize         int
	maxBackwardPages int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithPageSize sets the number of events requested per history page.
func WithPageSize(n int) Option {
	return func(r *Resolver) {
		r.pageSize = n
	}
}

// WithMaxBackwardPages bounds how far back a scan reaches.
func WithMaxBackwardPages(n int) Option {
	return func(r *Resolver) {
		r.maxBackwardPages = n
	}
}

// New creates a Resolver on top of client.
func New(client ports.ChatClient, opts ...Option) *Resolver {
	r := &Resolver{
		client:           client,
		logger:           slog.Default(),
		pageSize:         defaultPageSize,
		maxBackwardPages: defaultMaxBackwardPages,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "resolver"))
	return r
}

// Scan returns the bounded history scan used for tag lookups in roomID.
func (r *Resolver) Scan(roomID string) *HistoryScan {
	return &HistoryScan{
		Client:           r.client,
		RoomID:           roomID,
		PageSize:         r.pageSize,
		MaxBackwardPages: r.maxBackwardPages,
		Logger:           r.logger,
	}
}

// Resolve returns the event addressed by id in roomID.
//
// A direct reference is fetched as-is without scanning. A tag resolves to
// the newest own message whose body contains it. The bool is false when
// nothing matched; err is reserved for protocol failures.
func (r *Resolver) Resolve(ctx context.Context, roomID string, id domain.Identifier) (domain.RoomEvent, bool, error) {
	ctx, span := tracer.Start(ctx, "resolver.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("room_id", roomID))

	if eventID, ok := id.EventID(); ok {
		span.SetAttributes(attribute.String("mode", "direct"))
		evt, err := r.client.GetEvent(ctx, roomID, eventID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			resolutions.WithLabelValues("direct", "not_found").Inc()
			return domain.RoomEvent{}, false, nil
		case err != nil:
			resolutions.WithLabelValues("direct", "error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return domain.RoomEvent{}, false, fmt.Errorf("get event %s: %w", eventID, err)
		}
		resolutions.WithLabelValues("direct", "found").Inc()
		return evt, true, nil
	}

	span.SetAttributes(attribute.String("mode", "scan"))
	if id.IsEmpty() {
		resolutions.WithLabelValues("scan", "not_found").Inc()
		return domain.RoomEvent{}, false, nil
	}

	scanned := 0
	for evt, err := range r.Scan(roomID).Events(ctx) {
		if err != nil {
			resolutions.WithLabelValues("scan", "error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return domain.RoomEvent{}, false, err
		}
		scanned++
		if id.Matches(evt.Body) {
			span.SetAttributes(attribute.Int("scanned", scanned))
			resolutions.WithLabelValues("scan", "found").Inc()
			return evt, true, nil
		}
	}

	span.SetAttributes(attribute.Int("scanned", scanned))
	resolutions.WithLabelValues("scan", "not_found").Inc()
	r.logger.Debug("no matching event",
		slog.String("room_id", roomID),
		slog.String("identifier", id.String()),
		slog.Int("scanned", scanned))
	return domain.RoomEvent{}, false, nil
}
