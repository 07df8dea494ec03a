package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tjfontaine/hass-matrix-gateway/internal/core/domain"
	"github.com/tjfontaine/hass-matrix-gateway/internal/testutil"
)

const (
	bot   = "@hass:example"
	room  = "!room:example"
	other = "@alice:example"
)

func TestResolve_DirectReferenceNeverScans(t *testing.T) {
	chat := testutil.NewFakeChat(bot)
	id := chat.Seed(room, bot, "Die Post ist da! by letterbox.status", false)

	r := New(chat)
	evt, ok, err := r.Resolve(context.Background(), room, domain.DirectReference(id))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !ok || evt.ID != id {
		t.Fatalf("Resolve() = %q, %v, want %q", evt.ID, ok, id)
	}
	if chat.MessagesCalls != 0 || chat.SyncCalls != 0 {
		t.Errorf("direct reference scanned history: messages=%d sync=%d", chat.MessagesCalls, chat.SyncCalls)
	}
	if chat.GetEventCalls != 1 {
		t.Errorf("GetEventCalls = %d, want 1", chat.GetEventCalls)
	}
}

func TestResolve_DirectReferenceMissing(t *testing.T) {
	chat := testutil.NewFakeChat(bot)

	_, ok, err := New(chat).Resolve(context.Background(), room, domain.DirectReference("$gone"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ok {
		t.Error("Resolve() found an event that does not exist")
	}
}

func TestResolve_Tag(t *testing.T) {
	tests := []struct {
		name    string
		seed    func(chat *testutil.FakeChat) string
		tag     domain.Identifier
		wantHit bool
	}{
		{
			name: "own plaintext message",
			seed: func(chat *testutil.FakeChat) string {
				chat.Seed(room, bot, "unrelated", false)
				return chat.Seed(room, bot, "Die Post ist da! by letterbox.status", false)
			},
			tag:     "letterbox.status",
			wantHit: true,
		},
		{
			name: "newest match wins",
			seed: func(chat *testutil.FakeChat) string {
				chat.Seed(room, bot, "first by door.state", false)
				return chat.Seed(room, bot, "second by door.state", false)
			},
			tag:     "door.state",
			wantHit: true,
		},
		{
			name: "other senders are ignored",
			seed: func(chat *testutil.FakeChat) string {
				want := chat.Seed(room, bot, "mine by door.state", false)
				chat.Seed(room, other, "quoting door.state", false)
				return want
			},
			tag:     "door.state",
			wantHit: true,
		},
		{
			name: "encrypted message is decrypted",
			seed: func(chat *testutil.FakeChat) string {
				return chat.Seed(room, bot, "secret by alarm.armed", true)
			},
			tag:     "alarm.armed",
			wantHit: true,
		},
		{
			name: "undecryptable event is skipped",
			seed: func(chat *testutil.FakeChat) string {
				want := chat.Seed(room, bot, "older by alarm.armed", true)
				broken := chat.Seed(room, bot, "newer by alarm.armed", true)
				chat.FailDecrypt(broken)
				return want
			},
			tag:     "alarm.armed",
			wantHit: true,
		},
		{
			name: "no match",
			seed: func(chat *testutil.FakeChat) string {
				chat.Seed(room, bot, "something else", false)
				return ""
			},
			tag:     "letterbox.status",
			wantHit: false,
		},
		{
			name: "empty tag matches nothing",
			seed: func(chat *testutil.FakeChat) string {
				chat.Seed(room, bot, "anything", false)
				return ""
			},
			tag:     "",
			wantHit: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := testutil.NewFakeChat(bot)
			want := tt.seed(chat)

			evt, ok, err := New(chat).Resolve(context.Background(), room, tt.tag)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if ok != tt.wantHit {
				t.Fatalf("Resolve() ok = %v, want %v", ok, tt.wantHit)
			}
			if ok && evt.ID != want {
				t.Errorf("Resolve() = %s (%q), want %s", evt.ID, evt.Body, want)
			}
		})
	}
}

func TestResolve_ScanIsBounded(t *testing.T) {
	chat := testutil.NewFakeChat(bot)
	chat.Seed(room, bot, "ancient by letterbox.status", false)
	for i := 0; i < 1500; i++ {
		chat.Seed(room, bot, fmt.Sprintf("filler %d", i), false)
	}

	r := New(chat)
	_, ok, err := r.Resolve(context.Background(), room, "letterbox.status")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ok {
		t.Error("Resolve() reached beyond the scan window")
	}
	if chat.MessagesCalls != 1+defaultMaxBackwardPages {
		t.Errorf("MessagesCalls = %d, want %d", chat.MessagesCalls, 1+defaultMaxBackwardPages)
	}

	scanned := 0
	for _, err := range r.Scan(room).Events(context.Background()) {
		if err != nil {
			t.Fatalf("Events() error = %v", err)
		}
		scanned++
	}
	if scanned > defaultPageSize*(1+defaultMaxBackwardPages) {
		t.Errorf("scanned %d events, want at most %d", scanned, defaultPageSize*(1+defaultMaxBackwardPages))
	}
}

func TestResolve_ScanStopsAtStartOfRoom(t *testing.T) {
	chat := testutil.NewFakeChat(bot)
	chat.Seed(room, bot, "only by letterbox.status", false)
	for i := 0; i < 20; i++ {
		chat.Seed(room, bot, fmt.Sprintf("filler %d", i), false)
	}

	_, ok, err := New(chat).Resolve(context.Background(), room, "missing.tag")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ok {
		t.Fatal("Resolve() found a missing tag")
	}
	// One forward page plus one backward page that reaches the first event.
	if chat.MessagesCalls != 2 {
		t.Errorf("MessagesCalls = %d, want 2", chat.MessagesCalls)
	}
}

func TestScan_IsLazy(t *testing.T) {
	chat := testutil.NewFakeChat(bot)
	for i := 0; i < 500; i++ {
		chat.Seed(room, bot, fmt.Sprintf("message %d", i), false)
	}

	scan := New(chat).Scan(room)
	for evt, err := range scan.Events(context.Background()) {
		if err != nil {
			t.Fatalf("Events() error = %v", err)
		}
		if evt.Body != "message 499" {
			t.Errorf("first event = %q, want newest", evt.Body)
		}
		break
	}
	if chat.MessagesCalls != 1 {
		t.Errorf("MessagesCalls = %d, want 1", chat.MessagesCalls)
	}
}

func TestScan_Restartable(t *testing.T) {
	chat := testutil.NewFakeChat(bot)
	chat.Seed(room, bot, "a", false)
	chat.Seed(room, bot, "b", false)

	scan := New(chat).Scan(room)
	count := func() int {
		n := 0
		for _, err := range scan.Events(context.Background()) {
			if err != nil {
				t.Fatalf("Events() error = %v", err)
			}
			n++
		}
		return n
	}

	if got := count(); got != 2 {
		t.Fatalf("first pass = %d, want 2", got)
	}
	chat.Seed(room, bot, "c", false)
	if got := count(); got != 3 {
		t.Errorf("second pass = %d, want 3", got)
	}
}

func TestResolve_PermissionDenied(t *testing.T) {
	chat := testutil.NewFakeChat(bot)
	chat.Forbid(room)

	_, ok, err := New(chat).Resolve(context.Background(), room, "letterbox.status")
	if ok {
		t.Error("Resolve() should not find anything")
	}
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Errorf("Resolve() error = %v, want ErrPermissionDenied", err)
	}
}
