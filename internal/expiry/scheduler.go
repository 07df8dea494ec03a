// Package expiry redacts messages whose lifetime has elapsed.
package expiry

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tjfontaine/hass-matrix-gateway/internal/core/domain"
	"github.com/tjfontaine/hass-matrix-gateway/internal/core/ports"
	"github.com/tjfontaine/hass-matrix-gateway/internal/roomposter"
)

var tracer = otel.Tracer("github.com/tjfontaine/hass-matrix-gateway/internal/expiry")

const (
	// DefaultCron wakes the scheduler at every minute boundary.
	DefaultCron = "* * * * *"
	// DefaultLookahead catches records that fall due before the next tick.
	DefaultLookahead = time.Minute

	defaultRedactTimeout = 30 * time.Second
	retryDelay           = 30 * time.Second
)

// Dispatcher executes room operations. *roomposter.Poster implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, op roomposter.Operation) (roomposter.Result, error)
}

// Scheduler periodically removes due LifetimeEnd records and redacts the
// corresponding messages.
type Scheduler struct {
	store         ports.LifetimeStore
	dispatcher    Dispatcher
	cron          string
	lookahead     time.Duration
	redactTimeout time.Duration
	logger        *slog.Logger
	now           func() time.Time
	after         func(time.Duration) <-chan time.Time

	inFlight atomic.Int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCron sets the wake-up schedule.
func WithCron(expr string) Option {
	return func(s *Scheduler) {
		s.cron = expr
	}
}

// WithLookahead sets how far past the tick a sweep reaches.
func WithLookahead(d time.Duration) Option {
	return func(s *Scheduler) {
		s.lookahead = d
	}
}

// WithRedactTimeout bounds each triggered redaction.
func WithRedactTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.redactTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithClock replaces the wall clock and the timer used to wait for ticks.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
		s.after = after
	}
}

// New creates a Scheduler. It fails on an invalid cron expression.
func New(store ports.LifetimeStore, dispatcher Dispatcher, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		store:         store,
		dispatcher:    dispatcher,
		cron:          DefaultCron,
		lookahead:     DefaultLookahead,
		redactTimeout: defaultRedactTimeout,
		logger:        slog.Default(),
		now:           time.Now,
		after:         time.After,
	}
	for _, opt := range opts {
		opt(s)
	}
	if !gronx.IsValid(s.cron) {
		return nil, fmt.Errorf("invalid expiry cron expression: %q", s.cron)
	}
	s.logger = s.logger.With(slog.String("component", "expiry"))
	return s, nil
}

// NextTick returns the first scheduled tick strictly after now, in UTC.
func (s *Scheduler) NextTick(now time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(s.cron, now.UTC(), false)
	if err != nil {
		return time.Time{}, err
	}
	return next.UTC(), nil
}

// InFlight returns the number of triggered redactions still running.
func (s *Scheduler) InFlight() int {
	return int(s.inFlight.Load())
}

// Handle owns a running scheduler loop.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	s      *Scheduler
}

// Start runs the loop in the background until ctx is cancelled or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{}), s: s}
	go func() {
		defer close(h.done)
		s.run(ctx)
	}()
	return h
}

// Stop cancels the loop and waits for it to exit. Redactions triggered by the
// last sweep keep running and are not awaited.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
	if n := h.s.InFlight(); n > 0 {
		h.s.logger.Warn("expiry scheduler stopped with redactions in flight",
			slog.Int("in_flight", n))
	}
}

// Wait blocks until the loop has exited.
func (h *Handle) Wait() {
	<-h.done
}

func (s *Scheduler) run(ctx context.Context) {
	s.logger.Debug("lifetime watcher loop started", slog.String("cron", s.cron))
	defer s.logger.Debug("lifetime watcher loop stopped")

	for {
		now := s.now()
		next, err := s.NextTick(now)
		if err != nil {
			s.logger.Error("failed to compute next tick",
				slog.String("cron", s.cron),
				slog.String("error", err.Error()))
			next = now.Add(retryDelay)
		}

		select {
		case <-ctx.Done():
			return
		case <-s.after(next.Sub(now)):
		}

		s.sweepSafely(ctx, next)
	}
}

// sweepSafely contains any panic raised during one sweep.
func (s *Scheduler) sweepSafely(ctx context.Context, tick time.Time) {
	defer func() {
		if r := recover(); r != nil {
			sweepFaults.Inc()
			s.logger.Error("exception in lifetime watcher loop",
				slog.Time("tick", tick),
				slog.Any("panic", r))
		}
	}()
	s.Sweep(ctx, tick)
}

// Sweep processes every record due at or before tick plus the lookahead. Each
// record is removed before its redaction is triggered; the redaction runs on
// its own goroutine. It returns the number of redactions triggered.
func (s *Scheduler) Sweep(ctx context.Context, tick time.Time) int {
	ctx, span := tracer.Start(ctx, "expiry.Sweep")
	defer span.End()
	sweepsTotal.Inc()

	// Closed at the upper end; a microsecond is the finest resolution every
	// backend stores.
	until := tick.UTC().Add(s.lookahead + time.Microsecond)
	span.SetAttributes(attribute.String("until", until.Format(time.RFC3339Nano)))

	triggered := 0
	for end, err := range s.store.ExpiringBefore(ctx, until) {
		if err != nil {
			sweepFaults.Inc()
			s.logger.Error("failed to list lifetime ends", slog.String("error", err.Error()))
			break
		}
		if s.process(ctx, end) {
			triggered++
		}
	}

	span.SetAttributes(attribute.Int("triggered", triggered))
	return triggered
}

// process removes one record and triggers its redaction. A failure here
// never affects the other records of the sweep.
func (s *Scheduler) process(ctx context.Context, end domain.LifetimeEnd) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			expirations.WithLabelValues("fault").Inc()
			s.logger.Error("failed to process lifetime end",
				slog.String("event_id", end.EventID),
				slog.Any("panic", r))
			ok = false
		}
	}()

	if err := s.store.Remove(ctx, end.EventID); err != nil {
		// The record stays and is picked up again by the next sweep.
		expirations.WithLabelValues("remove_failed").Inc()
		s.logger.Error("failed to remove lifetime end",
			slog.String("event_id", end.EventID),
			slog.String("error", err.Error()))
		return false
	}

	s.logger.Debug("lifetime ends for event",
		slog.String("room_id", end.RoomID),
		slog.String("event_id", end.EventID),
		slog.Time("end_date", end.EndDate))
	expirations.WithLabelValues("triggered").Inc()
	s.trigger(ctx, end)
	return true
}

// trigger redacts the event on its own goroutine. The redaction outlives a
// cancelled scheduler context.
func (s *Scheduler) trigger(ctx context.Context, end domain.LifetimeEnd) {
	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				expirations.WithLabelValues("fault").Inc()
				s.logger.Error("redaction panicked",
					slog.String("event_id", end.EventID),
					slog.Any("panic", r))
			}
		}()

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.redactTimeout)
		defer cancel()

		_, err := s.dispatcher.Dispatch(rctx, roomposter.Redaction{
			RoomID:     end.RoomID,
			Identifier: domain.DirectReference(end.EventID),
		})
		if err != nil {
			expirations.WithLabelValues("failed").Inc()
			s.logger.Error("expired message could not be redacted",
				slog.String("room_id", end.RoomID),
				slog.String("event_id", end.EventID),
				slog.String("error", err.Error()))
			return
		}
		expirations.WithLabelValues("redacted").Inc()
	}()
}
