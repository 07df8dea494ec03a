package expiry

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tjfontaine/hass-matrix-gateway/internal/core/domain"
	"github.com/tjfontaine/hass-matrix-gateway/internal/roomposter"
	"github.com/tjfontaine/hass-matrix-gateway/internal/storage/memory"
)

const room = "!room:example"

type fakeDispatcher struct {
	ops     chan roomposter.Operation
	release chan struct{}
	err     error
	onCall  func(op roomposter.Operation)
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{ops: make(chan roomposter.Operation, 64)}
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, op roomposter.Operation) (roomposter.Result, error) {
	if d.onCall != nil {
		d.onCall(op)
	}
	d.ops <- op
	if d.release != nil {
		<-d.release
	}
	return roomposter.Result{Kind: op.Kind(), EventID: "$redaction"}, d.err
}

func (d *fakeDispatcher) next(t *testing.T) roomposter.Redaction {
	t.Helper()
	select {
	case op := <-d.ops:
		r, ok := op.(roomposter.Redaction)
		if !ok {
			t.Fatalf("dispatched %T, want roomposter.Redaction", op)
		}
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for redaction")
		return roomposter.Redaction{}
	}
}

func (d *fakeDispatcher) none(t *testing.T) {
	t.Helper()
	select {
	case op := <-d.ops:
		t.Fatalf("unexpected dispatch %+v", op)
	case <-time.After(50 * time.Millisecond):
	}
}

func insert(t *testing.T, store *memory.Store, eventID string, endDate time.Time) {
	t.Helper()
	end := domain.LifetimeEnd{EndDate: endDate, RoomID: room, EventID: eventID}
	if err := store.Insert(context.Background(), &end); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
}

func TestNew_InvalidCron(t *testing.T) {
	if _, err := New(memory.New(), newFakeDispatcher(), WithCron("not a cron")); err == nil {
		t.Error("New() should reject an invalid cron expression")
	}
}

func TestNextTick(t *testing.T) {
	s, err := New(memory.New(), newFakeDispatcher())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"mid minute", time.Date(2026, 10, 16, 12, 0, 30, 0, time.UTC), time.Date(2026, 10, 16, 12, 1, 0, 0, time.UTC)},
		{"on boundary is strictly after", time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC), time.Date(2026, 10, 16, 12, 1, 0, 0, time.UTC)},
		{"end of hour", time.Date(2026, 10, 16, 12, 59, 59, 0, time.UTC), time.Date(2026, 10, 16, 13, 0, 0, 0, time.UTC)},
		{"non utc input", time.Date(2026, 10, 16, 14, 0, 30, 0, time.FixedZone("CEST", 2*60*60)), time.Date(2026, 10, 16, 12, 1, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.NextTick(tt.now)
			if err != nil {
				t.Fatalf("NextTick() error = %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextTick() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSweep_Window(t *testing.T) {
	endDate := time.Date(2026, 10, 16, 12, 5, 0, 0, time.UTC)

	tests := []struct {
		name        string
		tick        time.Time
		wantTrigger bool
	}{
		{"window start", endDate.Add(-60 * time.Second), true},
		{"mid window", endDate.Add(-30 * time.Second), true},
		{"just before due", endDate.Add(-time.Second), true},
		{"overdue", endDate.Add(5 * time.Minute), true},
		{"too early", endDate.Add(-61 * time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			dispatcher := newFakeDispatcher()
			s, err := New(store, dispatcher)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			insert(t, store, "$expiring", endDate)

			n := s.Sweep(context.Background(), tt.tick)

			if !tt.wantTrigger {
				if n != 0 || store.Len() != 1 {
					t.Errorf("Sweep() = %d, records = %d; want untouched", n, store.Len())
				}
				dispatcher.none(t)
				return
			}
			if n != 1 {
				t.Fatalf("Sweep() = %d, want 1", n)
			}
			if store.Len() != 0 {
				t.Errorf("record still stored after sweep")
			}
			r := dispatcher.next(t)
			if r.RoomID != room {
				t.Errorf("RoomID = %q", r.RoomID)
			}
			if id, ok := r.Identifier.EventID(); !ok || id != "$expiring" {
				t.Errorf("Identifier = %q, want direct reference to $expiring", r.Identifier)
			}
			dispatcher.none(t)
		})
	}
}

func TestSweep_RemovesBeforeRedaction(t *testing.T) {
	store := memory.New()
	dispatcher := newFakeDispatcher()
	var stillStored atomic.Bool
	dispatcher.onCall = func(roomposter.Operation) {
		stillStored.Store(store.Len() != 0)
	}
	s, err := New(store, dispatcher)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	insert(t, store, "$a", now)
	s.Sweep(context.Background(), now)
	dispatcher.next(t)

	if stillStored.Load() {
		t.Error("redaction triggered before the record was removed")
	}
}

func TestSweep_SlowRedactionNotRepeated(t *testing.T) {
	store := memory.New()
	dispatcher := newFakeDispatcher()
	dispatcher.release = make(chan struct{})
	defer close(dispatcher.release)

	s, err := New(store, dispatcher)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	insert(t, store, "$slow", now)

	if n := s.Sweep(context.Background(), now); n != 1 {
		t.Fatalf("first Sweep() = %d, want 1", n)
	}
	dispatcher.next(t)
	if n := s.Sweep(context.Background(), now.Add(time.Minute)); n != 0 {
		t.Errorf("second Sweep() = %d, want 0", n)
	}
	if s.InFlight() != 1 {
		t.Errorf("InFlight() = %d, want 1", s.InFlight())
	}
}

func TestSweep_FailedRedactionIsDropped(t *testing.T) {
	store := memory.New()
	dispatcher := newFakeDispatcher()
	dispatcher.err = domain.ErrPermissionDenied
	s, err := New(store, dispatcher)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	insert(t, store, "$a", now)
	s.Sweep(context.Background(), now)
	dispatcher.next(t)

	if store.Len() != 0 {
		t.Error("failed redaction must not restore the record")
	}
}

// flakyStore fails or panics on selected calls.
type flakyStore struct {
	*memory.Store
	mu          sync.Mutex
	failRemove  map[string]bool
	panicRemove map[string]bool
	panicLists  int
	listErr     error
}

func (f *flakyStore) Remove(ctx context.Context, eventID string) error {
	f.mu.Lock()
	fail, boom := f.failRemove[eventID], f.panicRemove[eventID]
	f.mu.Unlock()
	if boom {
		panic("remove exploded")
	}
	if fail {
		return errors.New("disk full")
	}
	return f.Store.Remove(ctx, eventID)
}

func (f *flakyStore) ExpiringBefore(ctx context.Context, t time.Time) iter.Seq2[domain.LifetimeEnd, error] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicLists > 0 {
		f.panicLists--
		panic("query exploded")
	}
	if f.listErr != nil {
		err := f.listErr
		return func(yield func(domain.LifetimeEnd, error) bool) {
			yield(domain.LifetimeEnd{}, err)
		}
	}
	return f.Store.ExpiringBefore(ctx, t)
}

func TestSweep_RecordFailuresAreIsolated(t *testing.T) {
	store := &flakyStore{
		Store:       memory.New(),
		failRemove:  map[string]bool{"$fail": true},
		panicRemove: map[string]bool{"$panic": true},
	}
	dispatcher := newFakeDispatcher()
	s, err := New(store, dispatcher)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	insert(t, store.Store, "$fail", now.Add(-3*time.Second))
	insert(t, store.Store, "$panic", now.Add(-2*time.Second))
	insert(t, store.Store, "$ok", now.Add(-time.Second))

	if n := s.Sweep(context.Background(), now); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	r := dispatcher.next(t)
	if id, _ := r.Identifier.EventID(); id != "$ok" {
		t.Errorf("redacted %q, want $ok", id)
	}
	dispatcher.none(t)

	// A record whose removal failed stays for the next sweep.
	if store.Store.Len() != 2 {
		t.Errorf("records = %d, want 2", store.Store.Len())
	}
}

func TestSweep_ListErrorIsContained(t *testing.T) {
	store := &flakyStore{Store: memory.New(), listErr: errors.New("connection reset")}
	s, err := New(store, newFakeDispatcher())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if n := s.Sweep(context.Background(), time.Now()); n != 0 {
		t.Errorf("Sweep() = %d, want 0", n)
	}
}

// manualClock feeds ticks to the scheduler loop.
type manualClock struct {
	now   time.Time
	ticks chan time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) After(time.Duration) <-chan time.Time { return c.ticks }

func TestStart_LoopSurvivesFaults(t *testing.T) {
	store := &flakyStore{Store: memory.New(), panicLists: 1}
	dispatcher := newFakeDispatcher()
	clock := &manualClock{
		now:   time.Date(2026, 10, 16, 12, 0, 30, 0, time.UTC),
		ticks: make(chan time.Time),
	}
	s, err := New(store, dispatcher, WithClock(clock.Now, clock.After))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	insert(t, store.Store, "$later", clock.now.Add(time.Minute))

	h := s.Start(context.Background())
	defer h.Stop()

	// First tick panics inside the query.
	clock.ticks <- clock.now
	// Second tick sweeps normally.
	clock.ticks <- clock.now

	r := dispatcher.next(t)
	if id, _ := r.Identifier.EventID(); id != "$later" {
		t.Errorf("redacted %q, want $later", id)
	}
}

func TestHandle_Stop(t *testing.T) {
	clock := &manualClock{now: time.Now(), ticks: make(chan time.Time)}
	s, err := New(memory.New(), newFakeDispatcher(), WithClock(clock.Now, clock.After))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	h := s.Start(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}
	h.Wait()
}

func TestHandle_ParentCancel(t *testing.T) {
	clock := &manualClock{now: time.Now(), ticks: make(chan time.Time)}
	s, err := New(memory.New(), newFakeDispatcher(), WithClock(clock.Now, clock.After))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		h.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after parent cancellation")
	}
}
