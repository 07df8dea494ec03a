package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tjfontaine/hass-matrix-gateway/internal/core/domain"
)

// payload is the decoded JSON body of a push request. Values keep their JSON
// type so numeric fields can arrive as numbers or strings.
type payload map[string]any

func decodePayload(body []byte) (payload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var p payload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("decode payload: body is not a JSON object")
	}
	return p, nil
}

// str returns the field as text. Numbers and booleans are formatted, objects
// and null read as empty.
func (p payload) str(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// integer reads an int given as a JSON number or a numeric string. present is
// false when the field is absent, null or the empty string.
func (p payload) integer(key string) (n int, present bool, err error) {
	raw := strings.TrimSpace(p.str(key))
	if raw == "" {
		return 0, false, nil
	}
	n, err = strconv.Atoi(raw)
	if err != nil {
		return 0, true, fmt.Errorf("%s %q is not an integer", key, raw)
	}
	return n, true, nil
}

// toRequest maps the payload of roomID to a lifecycle request. Problems with
// optional numeric fields are returned as warnings and leave the field unset.
func (p payload) toRequest(roomID, messageKey string) (domain.Request, []error) {
	var warnings []error

	kind := domain.OperationKind(strings.ToLower(strings.TrimSpace(p.str("type"))))
	if parsed, ok := domain.ParseOperationKind(string(kind)); ok {
		kind = parsed
	}

	req := domain.Request{
		RoomID:      roomID,
		Kind:        kind,
		Message:     p.str(messageKey),
		Identifier:  domain.ParseIdentifier(p.str("identifier")),
		CallbackURL: p.str("callback_url"),
	}

	lifetime, present, err := p.integer("lifetime")
	switch {
	case err != nil:
		warnings = append(warnings, err)
	case present && lifetime > 0:
		req.LifetimeMinutes = lifetime
	}

	if content := p.str("content"); content != "" || kind == domain.OperationImage {
		img := &domain.Image{
			Content:     content,
			ContentType: p.str("contentType"),
			Name:        p.str("name"),
		}
		size, _, err := p.integer("thumbnailSize")
		if err != nil {
			warnings = append(warnings, err)
		} else if size > 0 {
			img.ThumbnailSize = size
		}
		req.Image = img
	}

	return req, warnings
}
