package domain

import "time"

// LifetimeEnd schedules the redaction of a sent message.
type LifetimeEnd struct {
	ID      int64
	EndDate time.Time
	RoomID  string
	EventID string
}

// NewLifetimeEnd builds the record for a message sent at now that should
// disappear after the given number of minutes.
func NewLifetimeEnd(roomID, eventID string, now time.Time, minutes int) LifetimeEnd {
	return LifetimeEnd{
		EndDate: now.UTC().Add(time.Duration(minutes) * time.Minute),
		RoomID:  roomID,
		EventID: eventID,
	}
}
