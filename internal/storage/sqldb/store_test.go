package sqldb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjfontaine/hass-matrix-gateway/internal/core/domain"
)

func newTestStore(t *testing.T, name string) *Store {
	t.Helper()
	store, err := NewSQLite("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func eventIDs(t *testing.T, store *Store, before time.Time) []string {
	t.Helper()
	var ids []string
	for end, err := range store.ExpiringBefore(context.Background(), before) {
		if err != nil {
			t.Fatalf("ExpiringBefore() error = %v", err)
		}
		ids = append(ids, end.EventID)
	}
	return ids
}

func TestSQLDBStore_Insert(t *testing.T) {
	store := newTestStore(t, "lifetime_insert")
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	first := domain.NewLifetimeEnd("!room:example", "$a", now, 5)
	if err := store.Insert(ctx, &first); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	second := domain.NewLifetimeEnd("!room:example", "$b", now, 5)
	if err := store.Insert(ctx, &second); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if first.ID == 0 || second.ID == 0 {
		t.Fatalf("IDs not assigned: %d, %d", first.ID, second.ID)
	}
	if first.ID == second.ID {
		t.Errorf("IDs should be unique, both = %d", first.ID)
	}
}

func TestSQLDBStore_InsertSameEventOnce(t *testing.T) {
	store := newTestStore(t, "lifetime_upsert")
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	end := domain.NewLifetimeEnd("!room:example", "$a", now, 5)
	if err := store.Insert(ctx, &end); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	again := domain.NewLifetimeEnd("!room:example", "$a", now, 7)
	if err := store.Insert(ctx, &again); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if ids := eventIDs(t, store, now.Add(6*time.Minute)); len(ids) != 0 {
		t.Errorf("old schedule still due: %v", ids)
	}
	if ids := eventIDs(t, store, now.Add(8*time.Minute)); len(ids) != 1 {
		t.Errorf("new schedule not due: %v", ids)
	}
}

func TestSQLDBStore_ExpiringBefore(t *testing.T) {
	store := newTestStore(t, "lifetime_expiring")
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"$c", "$a", "$b"} {
		end := domain.NewLifetimeEnd("!room:example", id, now, 3-i)
		if err := store.Insert(ctx, &end); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		before time.Time
		want   []string
	}{
		{"none due", now, nil},
		{"strictly before", now.Add(time.Minute), nil},
		{"one due", now.Add(time.Minute + time.Second), []string{"$b"}},
		{"all due in order", now.Add(time.Hour), []string{"$b", "$a", "$c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := eventIDs(t, store, tt.before)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("record %d = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSQLDBStore_ExpiringBeforeFields(t *testing.T) {
	store := newTestStore(t, "lifetime_fields")
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	end := domain.NewLifetimeEnd("!room:example", "$a", now, 2)
	if err := store.Insert(ctx, &end); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	for got, err := range store.ExpiringBefore(ctx, now.Add(time.Hour)) {
		if err != nil {
			t.Fatalf("ExpiringBefore() error = %v", err)
		}
		if got.ID != end.ID {
			t.Errorf("ID = %d, want %d", got.ID, end.ID)
		}
		if got.RoomID != "!room:example" {
			t.Errorf("RoomID = %q", got.RoomID)
		}
		if !got.EndDate.Equal(now.Add(2 * time.Minute)) {
			t.Errorf("EndDate = %v, want %v", got.EndDate, now.Add(2*time.Minute))
		}
		if got.EndDate.Location() != time.UTC {
			t.Errorf("EndDate location = %v, want UTC", got.EndDate.Location())
		}
	}
}

func TestSQLDBStore_RemoveDuringIteration(t *testing.T) {
	store := newTestStore(t, "lifetime_remove_iter")
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{"$a", "$b", "$c"} {
		end := domain.NewLifetimeEnd("!room:example", id, now, 1)
		if err := store.Insert(ctx, &end); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	for end, err := range store.ExpiringBefore(ctx, now.Add(time.Hour)) {
		if err != nil {
			t.Fatalf("ExpiringBefore() error = %v", err)
		}
		if err := store.Remove(ctx, end.EventID); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
	}

	if ids := eventIDs(t, store, now.Add(time.Hour)); len(ids) != 0 {
		t.Errorf("records left after removal: %v", ids)
	}
}

func TestSQLDBStore_RemoveIdempotent(t *testing.T) {
	store := newTestStore(t, "lifetime_remove_idem")
	ctx := context.Background()

	if err := store.Remove(ctx, "$missing"); err != nil {
		t.Errorf("Remove() of absent event error = %v", err)
	}

	end := domain.NewLifetimeEnd("!room:example", "$a", time.Now(), 1)
	if err := store.Insert(ctx, &end); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := store.Remove(ctx, "$a"); err != nil {
			t.Errorf("Remove() #%d error = %v", i, err)
		}
	}
}

func TestSQLDBStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lifetimes.db")
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	store, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	end := domain.NewLifetimeEnd("!room:example", "$durable", now, 3)
	if err := store.Insert(ctx, &end); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite() reopen error = %v", err)
	}
	defer reopened.Close()

	ids := eventIDs(t, reopened, now.Add(time.Hour))
	if len(ids) != 1 || ids[0] != "$durable" {
		t.Errorf("after reopen = %v, want [$durable]", ids)
	}
}

func TestNew_UnsupportedDriver(t *testing.T) {
	if _, err := New(Config{Driver: "mysql", DSN: "x"}); err == nil {
		t.Error("New() with mysql driver should fail")
	}
}
