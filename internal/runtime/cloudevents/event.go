// Package cloudevents provides the CloudEvents v1.0 envelope used to export
// management events, plus flowscope extension attributes for exchange
// correlation and redelivery state.
package cloudevents

import (
	"fmt"
	"time"

	idspkg "github.com/drblury/flowscope/internal/runtime/ids"
	"github.com/drblury/flowscope/internal/runtime/jsoncodec"
)

// SpecVersion is the CloudEvents specification version implemented.
const SpecVersion = "1.0"

// ContentTypeJSON is the structured mode content type.
const ContentTypeJSON = "application/cloudevents+json"

// Event is a CloudEvents v1.0 event. Extensions are flattened into the
// top-level JSON object.
type Event struct {
	SpecVersion string
	// Type is "<resource>.<action>", for example flowscope.exchange.completed.
	Type   string
	Source string
	// ID defaults to a ULID.
	ID string

	Time            time.Time
	DataContentType string
	Subject         string
	Data            any

	Extensions map[string]any
}

// New creates an event with a generated id and the current time.
func New(eventType, source string, data any) Event {
	return Event{
		SpecVersion:     SpecVersion,
		Type:            eventType,
		Source:          source,
		ID:              idspkg.CreateULID(),
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            data,
		Extensions:      make(map[string]any),
	}
}

func (e Event) WithSubject(subject string) Event {
	e.Subject = subject
	return e
}

func (e Event) WithTime(t time.Time) Event {
	e.Time = t.UTC()
	return e
}

// WithExtension sets an extension attribute on a copy of the event.
func (e Event) WithExtension(key string, value any) Event {
	ext := make(map[string]any, len(e.Extensions)+1)
	for k, v := range e.Extensions {
		ext[k] = v
	}
	ext[key] = value
	e.Extensions = ext
	return e
}

func (e Event) Extension(key string) (any, bool) {
	v, ok := e.Extensions[key]
	return v, ok
}

// ExtensionString returns the extension formatted as a string.
func (e Event) ExtensionString(key string) string {
	v, ok := e.Extensions[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// ExtensionInt accepts the numeric shapes produced by decoding JSON.
func (e Event) ExtensionInt(key string) int {
	switch n := e.Extensions[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// Validate checks the required context attributes.
func (e Event) Validate() error {
	switch {
	case e.SpecVersion != SpecVersion:
		return fmt.Errorf("specversion must be %q, got %q", SpecVersion, e.SpecVersion)
	case e.Type == "":
		return fmt.Errorf("type is required")
	case e.Source == "":
		return fmt.Errorf("source is required")
	case e.ID == "":
		return fmt.Errorf("id is required")
	}
	for k := range e.Extensions {
		if !validExtensionName(k) {
			return fmt.Errorf("invalid extension name %q", k)
		}
	}
	return nil
}

// Extension names are lower case ASCII letters and digits.
func validExtensionName(name string) bool {
	if name == "" || len(name) > 20 {
		return false
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

var reserved = map[string]bool{
	"specversion": true, "type": true, "source": true, "id": true,
	"time": true, "datacontenttype": true, "subject": true, "data": true,
}

// MarshalJSON encodes the structured content mode representation.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 8+len(e.Extensions))
	for k, v := range e.Extensions {
		m[k] = v
	}
	m["specversion"] = e.SpecVersion
	m["type"] = e.Type
	m["source"] = e.Source
	m["id"] = e.ID
	if !e.Time.IsZero() {
		m["time"] = e.Time.Format(time.RFC3339Nano)
	}
	if e.DataContentType != "" {
		m["datacontenttype"] = e.DataContentType
	}
	if e.Subject != "" {
		m["subject"] = e.Subject
	}
	if e.Data != nil {
		m["data"] = e.Data
	}
	return jsoncodec.Marshal(m)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := jsoncodec.Unmarshal(data, &m); err != nil {
		return err
	}
	str := func(key string) (string, error) {
		v, ok := m[key]
		if !ok || v == nil {
			return "", nil
		}
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("invalid %s: expected string", key)
		}
		return s, nil
	}

	var err error
	if e.SpecVersion, err = str("specversion"); err != nil {
		return err
	}
	if e.Type, err = str("type"); err != nil {
		return err
	}
	if e.Source, err = str("source"); err != nil {
		return err
	}
	if e.ID, err = str("id"); err != nil {
		return err
	}
	if e.DataContentType, err = str("datacontenttype"); err != nil {
		return err
	}
	if e.Subject, err = str("subject"); err != nil {
		return err
	}
	ts, err := str("time")
	if err != nil {
		return err
	}
	if ts != "" {
		if e.Time, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return fmt.Errorf("invalid time: %w", err)
		}
	}
	e.Data = m["data"]

	e.Extensions = make(map[string]any)
	for k, v := range m {
		if !reserved[k] {
			e.Extensions[k] = v
		}
	}
	return nil
}
