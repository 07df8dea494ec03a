// Package memory provides an in-process LifetimeStore for embedded use and
// tests. Records do not survive a restart.
package memory

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/hass-matrix-gateway/internal/core/domain"
	"github.com/tjfontaine/hass-matrix-gateway/internal/core/ports"
)

// Store is an in-memory implementation of ports.LifetimeStore
type Store struct {
	mu     sync.RWMutex
	nextID int64
	ends   map[string]domain.LifetimeEnd // keyed by event id
}

var _ ports.LifetimeStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		ends: make(map[string]domain.LifetimeEnd),
	}
}

// Insert stores end. A second insert for the same event id replaces the
// schedule and keeps the original ID.
func (s *Store) Insert(ctx context.Context, end *domain.LifetimeEnd) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.ends[end.EventID]; ok {
		end.ID = existing.ID
	} else {
		s.nextID++
		end.ID = s.nextID
	}
	end.EndDate = end.EndDate.UTC()
	s.ends[end.EventID] = *end
	return nil
}

// ExpiringBefore yields the records due before t ordered by end date. The
// matching set is captured when iteration starts so Remove may be called
// from inside the loop.
func (s *Store) ExpiringBefore(ctx context.Context, t time.Time) iter.Seq2[domain.LifetimeEnd, error] {
	return func(yield func(domain.LifetimeEnd, error) bool) {
		s.mu.RLock()
		var due []domain.LifetimeEnd
		for _, end := range s.ends {
			if end.EndDate.Before(t) {
				due = append(due, end)
			}
		}
		s.mu.RUnlock()

		sort.Slice(due, func(i, j int) bool {
			if due[i].EndDate.Equal(due[j].EndDate) {
				return due[i].ID < due[j].ID
			}
			return due[i].EndDate.Before(due[j].EndDate)
		})

		for _, end := range due {
			if err := ctx.Err(); err != nil {
				yield(domain.LifetimeEnd{}, err)
				return
			}
			if !yield(end, nil) {
				return
			}
		}
	}
}

// Remove deletes the record for eventID if present.
func (s *Store) Remove(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.ends, eventID)
	return nil
}

// Len returns the number of live records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ends)
}

// Close is a no-op for the in-memory store
func (s *Store) Close() error {
	return nil
}
