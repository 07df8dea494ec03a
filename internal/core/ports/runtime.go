package ports

import (
	"context"

	"github.com/tjfontaine/hass-matrix-gateway/internal/core/domain"
)

// Notifier delivers the resulting event id of an operation to a
// caller-supplied URL. Send must not block on delivery and never fails the
// calling operation.
type Notifier interface {
	Send(ctx context.Context, url, eventID string)
}

// ImageProcessor decodes an inbound image payload for upload.
type ImageProcessor interface {
	Prepare(img *domain.Image) (*domain.PreparedImage, error)
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Send(context.Context, string, string) {}
