package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEvent marks a poison stream entry. The consumer logs and
// acknowledges these immediately so they cannot block the stream.
var ErrMalformedEvent = errors.New("malformed inbound event")

// InboundEvent is the parsed payload of one stream entry.
type InboundEvent struct {
	TenantID string `json:"tenant_id"`
	From     string `json:"from"`
	Text     string `json:"text"`
}

// ParseInboundEvent decodes a stream payload. Missing tenant or sender
// makes the event unprocessable.
func ParseInboundEvent(raw []byte) (*InboundEvent, error) {
	var ev InboundEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.TenantID == "" || ev.From == "" {
		return nil, fmt.Errorf("%w: missing tenant_id or from", ErrMalformedEvent)
	}
	return &ev, nil
}
