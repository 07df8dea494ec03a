// Package webhook exposes the lifecycle engine over HTTP for Home Assistant.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/hass-matrix-gateway/internal/core/domain"
	"github.com/tjfontaine/hass-matrix-gateway/internal/roomposter"
	"github.com/tjfontaine/hass-matrix-gateway/internal/server"
	"github.com/tjfontaine/hass-matrix-gateway/internal/setup"
)

const (
	// DefaultMessageKey is the payload field that carries the message text.
	DefaultMessageKey = "message"

	maxBodyBytes = 32 << 20
)

// Executor runs lifecycle requests. *roomposter.Poster implements it.
type Executor interface {
	Execute(ctx context.Context, req domain.Request) (roomposter.Result, error)
}

// Handler serves the push, health and setup endpoints.
type Handler struct {
	executor   Executor
	messageKey string
	baseURL    string
	pluginPath string
	rps        float64
	burst      int
	logger     *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithMessageKey sets the payload field read as message text.
func WithMessageKey(key string) Option {
	return func(h *Handler) {
		h.messageKey = key
	}
}

// WithSetup sets the public base URL and plugin path used in setup
// instructions. Without a base URL the request host is used.
func WithSetup(baseURL, pluginPath string) Option {
	return func(h *Handler) {
		h.baseURL = baseURL
		h.pluginPath = pluginPath
	}
}

// WithRateLimit limits push requests. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(h *Handler) {
		h.rps = rps
		h.burst = burst
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func NewHandler(executor Executor, opts ...Option) *Handler {
	h := &Handler{
		executor:   executor,
		messageKey: DefaultMessageKey,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With(slog.String("component", "webhook"))
	return h
}

// Register mounts the endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.With(server.RateLimitMiddleware(h.rps, h.burst)).Post("/push/{room_id}", h.HandlePush)
	r.Get("/health", h.HandleHealth)
	r.Get("/setup/{room_id}", h.HandleSetup)
}

// HandlePush executes one lifecycle request for the room in the URL.
func (h *Handler) HandlePush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomID := roomParam(r)
	server.AddLogField(ctx, "room_id", roomID)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		server.AddError(ctx, err)
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.logger.Debug("push received",
		slog.String("room_id", roomID),
		slog.String("payload", string(body)))

	p, err := decodePayload(body)
	if err != nil {
		server.AddError(ctx, err)
		w.WriteHeader(http.StatusNotFound)
		return
	}

	req, warnings := p.toRequest(roomID, h.messageKey)
	for _, warn := range warnings {
		h.logger.Warn("ignoring malformed field",
			slog.String("room_id", roomID),
			slog.String("error", warn.Error()))
	}
	server.AddLogField(ctx, "operation", string(req.Kind))

	result, err := h.executor.Execute(ctx, req)
	if err != nil {
		server.AddError(ctx, err)
		h.writeError(w, err)
		return
	}
	server.AddLogField(ctx, "event_id", result.EventID)

	switch result.Kind {
	case domain.OperationMessage, domain.OperationImage:
		writeJSON(w, http.StatusOK, map[string]string{"event_id": result.EventID})
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var domainErr *domain.Error
	if !errors.As(err, &domainErr) {
		domainErr = domain.NewError(domain.Classify(err), clientMessage(err), err)
	}
	status := domainErr.HTTPStatusCode()
	if status == http.StatusBadRequest {
		writeJSON(w, status, map[string]any{"success": false, "error": domainErr.Message})
		return
	}
	w.WriteHeader(status)
}

// clientMessage returns the text shown to callers for input errors.
func clientMessage(err error) string {
	if errors.Is(err, domain.ErrMissingImageContent) {
		return domain.ErrMissingImageContent.Error()
	}
	return err.Error()
}

// HandleHealth always reports 200.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// HandleSetup returns the setup instructions of a room as markdown.
func (h *Handler) HandleSetup(w http.ResponseWriter, r *http.Request) {
	baseURL := h.baseURL
	if baseURL == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		baseURL = scheme + "://" + r.Host + "/"
	}
	instructions := setup.New(baseURL, h.pluginPath, roomParam(r))

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, instructions.Markdown())
}

// roomParam returns the unescaped room id path parameter.
func roomParam(r *http.Request) string {
	raw := chi.URLParam(r, "room_id")
	if roomID, err := url.PathUnescape(raw); err == nil {
		return roomID
	}
	return raw
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
