package ports

import (
	"context"
	"iter"
	"time"

	"github.com/tjfontaine/hass-matrix-gateway/internal/core/domain"
)

// LifetimeStore persists pending message expirations.
//
// Implementations must be safe for concurrent use: request handlers insert
// while the expiry scheduler lists and removes.
type LifetimeStore interface {
	// Insert stores the record and assigns its ID.
	Insert(ctx context.Context, end *domain.LifetimeEnd) error

	// ExpiringBefore yields every live record with EndDate < t. Each call
	// re-queries the store.
	ExpiringBefore(ctx context.Context, t time.Time) iter.Seq2[domain.LifetimeEnd, error]

	// Remove deletes the record with the given event id. Removing an absent
	// event id is not an error.
	Remove(ctx context.Context, eventID string) error

	// Close releases the underlying storage.
	Close() error
}
