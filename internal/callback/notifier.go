// Package callback delivers resulting event ids to caller-supplied URLs.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/hass-matrix-gateway/internal/core/ports"
	"github.com/tjfontaine/hass-matrix-gateway/internal/pkg/safehttp"
)

const (
	// DefaultTimeout bounds one delivery attempt.
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 512
)

var tracer = otel.Tracer("github.com/tjfontaine/hass-matrix-gateway/internal/callback")

// Payload is the JSON body posted to a callback URL.
type Payload struct {
	EventID string `json:"event_id"`
}

// Notifier posts {"event_id": ...} to callback URLs.
type Notifier struct {
	client       *http.Client
	timeout      time.Duration
	allowPrivate bool
	headers      map[string]string
	logger       *slog.Logger
}

var _ ports.Notifier = (*Notifier)(nil)

// Option configures a Notifier.
type Option func(*Notifier)

// WithHTTPClient replaces the HTTP client. The private-address policy is then
// the client's responsibility.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) {
		n.client = c
	}
}

// WithTimeout bounds each delivery.
func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		n.timeout = d
	}
}

// WithAllowPrivate permits callbacks to private and loopback addresses.
func WithAllowPrivate(allow bool) Option {
	return func(n *Notifier) {
		n.allowPrivate = allow
	}
}

// WithHeaders adds headers to every callback request.
func WithHeaders(h map[string]string) Option {
	return func(n *Notifier) {
		n.headers = h
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// New creates a Notifier. Private addresses are allowed unless disabled,
// since Home Assistant usually runs on the local network.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		timeout:      DefaultTimeout,
		allowPrivate: true,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.client == nil {
		n.client = safehttp.NewClient(n.timeout, n.allowPrivate)
	}
	n.logger = n.logger.With(slog.String("component", "callback"))
	return n
}

// Notify posts the event id to url and waits for a 2xx response.
func (n *Notifier) Notify(ctx context.Context, url, eventID string) (err error) {
	ctx, span := tracer.Start(ctx, "callback.Notify",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("event_id", eventID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	body, err := json.Marshal(Payload{EventID: eventID})
	if err != nil {
		return fmt.Errorf("marshal callback payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("callback returned status %d: %s", resp.StatusCode, string(respBody))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Send delivers in the background. Failures are logged and never reach the
// caller. The delivery is not tied to the lifetime of ctx.
func (n *Notifier) Send(ctx context.Context, url, eventID string) {
	if url == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()

		if err := n.Notify(ctx, url, eventID); err != nil {
			deliveries.WithLabelValues("failed").Inc()
			n.logger.Warn("callback delivery failed",
				slog.String("url", url),
				slog.String("event_id", eventID),
				slog.String("error", err.Error()))
			return
		}
		deliveries.WithLabelValues("delivered").Inc()
		n.logger.Debug("callback delivered",
			slog.String("url", url),
			slog.String("event_id", eventID))
	}()
}
