package resolver

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"

	"github.com/tjfontaine/hass-matrix-gateway/internal/core/domain"
	"github.com/tjfontaine/hass-matrix-gateway/internal/core/ports"
)

const (
	defaultPageSize         = 100
	defaultMaxBackwardPages = 10
)

// HistoryScan walks the recent history of one room, newest first, yielding
// the plaintext message events authored by the client's own identity.
//
// It fetches one forward page from the current sync position followed by at
// most MaxBackwardPages backward pages. Events that fail to decrypt are
// dropped. An error is yielded only when a page cannot be fetched, and ends
// the scan.
type HistoryScan struct {
	Client           ports.ChatClient
	RoomID           string
	PageSize         int
	MaxBackwardPages int
	Logger           *slog.Logger
}

// Events returns the lazy event sequence. Every call starts a fresh scan.
func (s *HistoryScan) Events(ctx context.Context) iter.Seq2[domain.RoomEvent, error] {
	return func(yield func(domain.RoomEvent, error) bool) {
		pageSize := s.PageSize
		if pageSize <= 0 {
			pageSize = defaultPageSize
		}
		maxBackward := s.MaxBackwardPages
		if maxBackward <= 0 {
			maxBackward = defaultMaxBackwardPages
		}
		self := s.Client.UserID()

		prevBatch, err := s.Client.SyncPosition(ctx, s.RoomID)
		if err != nil {
			yield(domain.RoomEvent{}, fmt.Errorf("sync position: %w", err))
			return
		}

		forward, err := s.Client.Messages(ctx, s.RoomID, domain.DirectionForward, prevBatch, pageSize)
		if err != nil {
			yield(domain.RoomEvent{}, fmt.Errorf("forward page: %w", err))
			return
		}
		historyPages.WithLabelValues(string(domain.DirectionForward)).Inc()

		events := slices.Clone(forward.Events)
		slices.Reverse(events)
		if !s.emit(ctx, events, self, yield) {
			return
		}

		from := forward.Start
		if from == "" {
			from = prevBatch
		}
		for page := 0; page < maxBackward; page++ {
			if err := ctx.Err(); err != nil {
				yield(domain.RoomEvent{}, err)
				return
			}
			backward, err := s.Client.Messages(ctx, s.RoomID, domain.DirectionBackward, from, pageSize)
			if err != nil {
				yield(domain.RoomEvent{}, fmt.Errorf("backward page %d: %w", page+1, err))
				return
			}
			historyPages.WithLabelValues(string(domain.DirectionBackward)).Inc()

			if !s.emit(ctx, backward.Events, self, yield) {
				return
			}
			if backward.End == "" || len(backward.Events) == 0 {
				return
			}
			from = backward.End
		}
	}
}

// emit decrypts and filters one page. It reports false once the consumer
// stops.
func (s *HistoryScan) emit(ctx context.Context, events []domain.RoomEvent, self string, yield func(domain.RoomEvent, error) bool) bool {
	for _, evt := range events {
		if evt.Sender != self {
			continue
		}
		if evt.Encrypted() {
			decrypted, err := s.Client.Decrypt(ctx, evt)
			if err != nil {
				decryptFailures.Inc()
				s.logger().Debug("skipping undecryptable event",
					slog.String("room_id", s.RoomID),
					slog.String("event_id", evt.ID),
					slog.String("error", err.Error()))
				continue
			}
			evt = decrypted
		}
		if evt.Type != domain.EventTypeMessage {
			continue
		}
		if !yield(evt, nil) {
			return false
		}
	}
	return true
}

func (s *HistoryScan) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
