package testutil

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/tjfontaine/hass-matrix-gateway/internal/core/domain"
	"github.com/tjfontaine/hass-matrix-gateway/internal/core/ports"
)

// ChatCall records one mutating call made against FakeChat.
type ChatCall struct {
	Method  string
	RoomID  string
	EventID string // target event for edit/react/redact
	Body    string
	Key     string
	Reason  string
}

// FakeChat is an in-memory ports.ChatClient. Each room is a single
// chronological timeline; pagination tokens are timeline offsets.
type FakeChat struct {
	mu sync.Mutex

	self      string
	rooms     map[string][]domain.RoomEvent
	forbidden map[string]bool
	undecrypt map[string]bool
	nextID    int

	// RecentCount is how many trailing events lie after the sync position.
	RecentCount int
	// SendErr, when set, fails every send-type call.
	SendErr error

	Calls         []ChatCall
	MessagesCalls int
	GetEventCalls int
	SyncCalls     int
	Uploads       [][]byte
}

var _ ports.ChatClient = (*FakeChat)(nil)

// NewFakeChat returns a client logged in as self.
func NewFakeChat(self string) *FakeChat {
	return &FakeChat{
		self:        self,
		rooms:       make(map[string][]domain.RoomEvent),
		forbidden:   make(map[string]bool),
		undecrypt:   make(map[string]bool),
		RecentCount: 10,
	}
}

// Forbid makes every call against roomID fail with ErrPermissionDenied.
func (f *FakeChat) Forbid(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forbidden[roomID] = true
}

// FailDecrypt makes decryption of eventID fail.
func (f *FakeChat) FailDecrypt(eventID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.undecrypt[eventID] = true
}

// Seed appends a message event to the room timeline and returns its id.
// Encrypted events carry their plaintext body and only expose it through
// Decrypt.
func (f *FakeChat) Seed(roomID, sender, body string, encrypted bool) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	typ := domain.EventTypeMessage
	if encrypted {
		typ = domain.EventTypeEncrypted
	}
	return f.appendLocked(roomID, sender, typ, body)
}

// Event returns the current state of an event.
func (f *FakeChat) Event(roomID, eventID string) (domain.RoomEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, evt := range f.rooms[roomID] {
		if evt.ID == eventID {
			return evt, true
		}
	}
	return domain.RoomEvent{}, false
}

// CallsTo returns the recorded calls of one method.
func (f *FakeChat) CallsTo(method string) []ChatCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ChatCall
	for _, c := range f.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *FakeChat) appendLocked(roomID, sender, typ, body string) string {
	f.nextID++
	id := fmt.Sprintf("$ev%d", f.nextID)
	f.rooms[roomID] = append(f.rooms[roomID], domain.RoomEvent{
		ID:     id,
		RoomID: roomID,
		Sender: sender,
		Type:   typ,
		Body:   body,
	})
	return id
}

func (f *FakeChat) checkLocked(roomID string) error {
	if f.forbidden[roomID] {
		return fmt.Errorf("room %s: %w", roomID, domain.ErrPermissionDenied)
	}
	return nil
}

func (f *FakeChat) UserID() string {
	return f.self
}

func (f *FakeChat) SendText(ctx context.Context, roomID string, content domain.TextContent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, ChatCall{Method: "SendText", RoomID: roomID, Body: content.Body})
	if err := f.checkLocked(roomID); err != nil {
		return "", err
	}
	if f.SendErr != nil {
		return "", f.SendErr
	}
	return f.appendLocked(roomID, f.self, domain.EventTypeMessage, content.Body), nil
}

func (f *FakeChat) SendImage(ctx context.Context, roomID string, content domain.ImageContent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, ChatCall{Method: "SendImage", RoomID: roomID, Body: content.Body})
	if err := f.checkLocked(roomID); err != nil {
		return "", err
	}
	if f.SendErr != nil {
		return "", f.SendErr
	}
	return f.appendLocked(roomID, f.self, domain.EventTypeMessage, content.Body), nil
}

func (f *FakeChat) Edit(ctx context.Context, roomID, targetEventID string, content domain.TextContent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, ChatCall{Method: "Edit", RoomID: roomID, EventID: targetEventID, Body: content.Body})
	if err := f.checkLocked(roomID); err != nil {
		return "", err
	}
	return f.appendLocked(roomID, f.self, domain.EventTypeMessage, "* "+content.Body), nil
}

func (f *FakeChat) React(ctx context.Context, roomID, targetEventID, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, ChatCall{Method: "React", RoomID: roomID, EventID: targetEventID, Key: key})
	if err := f.checkLocked(roomID); err != nil {
		return "", err
	}
	return f.appendLocked(roomID, f.self, "m.reaction", ""), nil
}

func (f *FakeChat) Redact(ctx context.Context, roomID, eventID, reason string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, ChatCall{Method: "Redact", RoomID: roomID, EventID: eventID, Reason: reason})
	if err := f.checkLocked(roomID); err != nil {
		return "", err
	}
	for i, evt := range f.rooms[roomID] {
		if evt.ID == eventID {
			f.rooms[roomID][i].Body = ""
		}
	}
	return f.appendLocked(roomID, f.self, "m.room.redaction", ""), nil
}

func (f *FakeChat) GetEvent(ctx context.Context, roomID, eventID string) (domain.RoomEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetEventCalls++
	if err := f.checkLocked(roomID); err != nil {
		return domain.RoomEvent{}, err
	}
	for _, evt := range f.rooms[roomID] {
		if evt.ID == eventID {
			return evt, nil
		}
	}
	return domain.RoomEvent{}, fmt.Errorf("event %s: %w", eventID, domain.ErrNotFound)
}

func (f *FakeChat) SyncPosition(ctx context.Context, roomID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SyncCalls++
	if err := f.checkLocked(roomID); err != nil {
		return "", err
	}
	pos := max(len(f.rooms[roomID])-f.RecentCount, 0)
	return token(pos), nil
}

func (f *FakeChat) Messages(ctx context.Context, roomID string, dir domain.Direction, from string, limit int) (domain.MessagesPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MessagesCalls++
	if err := f.checkLocked(roomID); err != nil {
		return domain.MessagesPage{}, err
	}
	pos, err := parseToken(from)
	if err != nil {
		return domain.MessagesPage{}, err
	}
	timeline := f.rooms[roomID]
	pos = min(pos, len(timeline))

	page := domain.MessagesPage{Start: from}
	switch dir {
	case domain.DirectionForward:
		end := min(pos+limit, len(timeline))
		page.Events = slices.Clone(timeline[pos:end])
		page.End = token(end)
	case domain.DirectionBackward:
		start := max(pos-limit, 0)
		page.Events = slices.Clone(timeline[start:pos])
		slices.Reverse(page.Events)
		if start > 0 {
			page.End = token(start)
		}
	default:
		return domain.MessagesPage{}, fmt.Errorf("unknown direction %q", dir)
	}
	return page, nil
}

func (f *FakeChat) Decrypt(ctx context.Context, evt domain.RoomEvent) (domain.RoomEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.undecrypt[evt.ID] {
		return domain.RoomEvent{}, errors.New("no session for event")
	}
	evt.Type = domain.EventTypeMessage
	return evt, nil
}

func (f *FakeChat) UploadMedia(ctx context.Context, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Uploads = append(f.Uploads, data)
	return fmt.Sprintf("mxc://example/media%d", len(f.Uploads)), nil
}

func token(pos int) string {
	return "t" + strconv.Itoa(pos)
}

func parseToken(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(s, "t"))
	if err != nil {
		return 0, fmt.Errorf("bad pagination token %q", s)
	}
	return n, nil
}
