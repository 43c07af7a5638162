// Package activity turns the raw Procare daily-activity feed into uniform
// records suitable for display.
package activity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Record is one normalized activity. Title and Details are always set,
// possibly to the empty string.
type Record struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Title     string `json:"title"`
	Details   string `json:"details"`
	PhotoURL  string `json:"photo_url"`
	Staff     string `json:"staff"`
}

// Kid is a roster entry that can be linked to a configuration.
type Kid struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Text is a lenient JSON string. Numbers decode to their literal form and
// null decodes to the empty string.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("activity: expected string or number, got %s", b)
	}
	*t = Text(n.String())
	return nil
}

// String returns the text.
func (t Text) String() string { return string(t) }

// optional is a Text that remembers whether the key was present and non-null.
type optional struct {
	Value Text
	Set   bool
}

func (o *optional) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	if err := o.Value.UnmarshalJSON(b); err != nil {
		return err
	}
	o.Set = true
	return nil
}

func (o optional) or(def string) string {
	if !o.Set {
		return def
	}
	return string(o.Value)
}

// raw is the wire shape of one daily activity.
type raw struct {
	ID           Text            `json:"id"`
	ActivityType optional        `json:"activity_type"`
	ActivityTime Text            `json:"activity_time"`
	Comment      Text            `json:"comment"`
	Data         json.RawMessage `json:"data"`
	Activiable   json.RawMessage `json:"activiable"`
	PhotoURL     Text            `json:"photo_url"`
	Staff        Text            `json:"staff_present_name"`
}

// payload decodes the type-specific data object. A missing or empty payload
// reports ok=false.
func (r raw) payload(v any) (ok bool, err error) {
	return decodeObject(r.Data, v)
}

// decodeObject decodes msg into v when it is a non-empty object. A missing
// or falsy payload (null, false, 0, "", [] or {}) reports ok=false.
func decodeObject(msg json.RawMessage, v any) (bool, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return false, nil
	}
	var shape any
	if err := json.Unmarshal(msg, &shape); err != nil {
		return false, fmt.Errorf("activity: decode payload: %w", err)
	}
	m, isObject := shape.(map[string]any)
	switch {
	case !isObject && falsy(shape):
		return false, nil
	case !isObject:
		return false, fmt.Errorf("activity: payload is not an object: %s", msg)
	case len(m) == 0:
		return false, nil
	}
	if err := json.Unmarshal(msg, v); err != nil {
		return false, fmt.Errorf("activity: decode payload: %w", err)
	}
	return true, nil
}

func falsy(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case bool:
		return !x
	case float64:
		return x == 0
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	}
	return false
}

// kidWire is the roster wire shape.
type kidWire struct {
	ID        Text `json:"id"`
	FirstName Text `json:"first_name"`
	LastName  Text `json:"last_name"`
}

// DecodeKid converts a roster entry into a Kid.
func DecodeKid(msg json.RawMessage) (Kid, error) {
	var k kidWire
	if err := json.Unmarshal(msg, &k); err != nil {
		return Kid{}, fmt.Errorf("activity: decode kid: %w", err)
	}
	return Kid{
		ID:   string(k.ID),
		Name: strings.TrimSpace(string(k.FirstName) + " " + string(k.LastName)),
	}, nil
}
