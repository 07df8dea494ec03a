package domain

import "strings"

// EventIDPrefix marks an identifier that carries a literal event id.
const EventIDPrefix = "event_id."

// Identifier addresses a previously sent message. It is either a direct
// reference ("event_id.<id>") or a free-text tag that was embedded in the
// message body when the message was sent.
type Identifier string

// EventID returns the embedded event id of a direct reference.
func (i Identifier) EventID() (string, bool) {
	s := string(i)
	if !strings.HasPrefix(s, EventIDPrefix) {
		return "", false
	}
	id := s[len(EventIDPrefix):]
	if id == "" {
		return "", false
	}
	return id, true
}

// IsEmpty reports whether no tag was supplied.
func (i Identifier) IsEmpty() bool {
	return i == ""
}

// Matches reports whether body carries the tag as a contiguous substring.
func (i Identifier) Matches(body string) bool {
	return i != "" && strings.Contains(body, string(i))
}

func (i Identifier) String() string {
	return string(i)
}

// DirectReference builds the identifier form for a known event id.
func DirectReference(eventID string) Identifier {
	return Identifier(EventIDPrefix + eventID)
}

// ParseIdentifier reads the "identifier" field of a request. The value is kept
// verbatim since tags are matched as substrings.
func ParseIdentifier(s string) Identifier {
	return Identifier(s)
}
