// Package onebot implements the OneBot v11 JSON wire format: event envelopes,
// API calls, API responses, and the message segment model.
package onebot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID carries a OneBot numeric identifier (message_id, user_id, group_id,
// self_id, ...) that different implementations emit as either a JSON number
// or a numeric JSON string. ID preserves whichever shape it was decoded from
// so that re-serializing an untouched envelope reproduces the original byte
// shape, not just the original value.
type ID struct {
	raw      string
	isString bool
	valid    bool
}

// NewID builds an ID that will always marshal as a JSON number, for values
// synthesized internally (e.g. target-0 responses) rather than decoded from
// a peer.
func NewID(v int64) ID {
	return ID{raw: strconv.FormatInt(v, 10), valid: true}
}

// Int64 returns the numeric value and whether the ID carries one at all
// (an absent/null field decodes to a zero-value ID with valid == false).
func (id ID) Int64() (int64, bool) {
	if !id.valid {
		return 0, false
	}
	v, err := strconv.ParseInt(id.raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// IsZero reports whether the ID was never set.
func (id ID) IsZero() bool { return !id.valid }

func (id ID) String() string {
	if !id.valid {
		return ""
	}
	return id.raw
}

func (id ID) MarshalJSON() ([]byte, error) {
	if !id.valid {
		return []byte("null"), nil
	}
	if id.isString {
		return json.Marshal(id.raw)
	}
	return []byte(id.raw), nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		*id = ID{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("onebot: decoding string id: %w", err)
		}
		if _, err := strconv.ParseInt(s, 10, 64); err != nil {
			return fmt.Errorf("onebot: string id %q is not numeric: %w", s, err)
		}
		*id = ID{raw: s, isString: true, valid: true}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("onebot: decoding numeric id: %w", err)
	}
	*id = ID{raw: n.String(), valid: true}
	return nil
}
