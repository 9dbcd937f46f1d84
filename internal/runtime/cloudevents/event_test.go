package cloudevents

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/flowscope/internal/runtime/jsoncodec"
)

func TestNew(t *testing.T) {
	data := map[string]string{"key": "value"}
	evt := New("flowscope.exchange.created", "/flowscope/ctx", data)

	assert.Equal(t, SpecVersion, evt.SpecVersion)
	assert.Equal(t, "flowscope.exchange.created", evt.Type)
	assert.Equal(t, "/flowscope/ctx", evt.Source)
	assert.NotEmpty(t, evt.ID)
	assert.False(t, evt.Time.IsZero())
	assert.Equal(t, data, evt.Data)
	assert.NoError(t, evt.Validate())
}

func TestWithExtensionCopies(t *testing.T) {
	base := New("t", "s", nil)
	derived := base.WithExtension("custom", "value")

	_, ok := base.Extension("custom")
	assert.False(t, ok)
	assert.Equal(t, "value", derived.ExtensionString("custom"))
	assert.Empty(t, derived.ExtensionString("missing"))
}

func TestExtensionInt(t *testing.T) {
	evt := New("t", "s", nil).
		WithExtension("a", 3).
		WithExtension("b", int64(4)).
		WithExtension("c", float64(5)).
		WithExtension("d", "x")

	assert.Equal(t, 3, evt.ExtensionInt("a"))
	assert.Equal(t, 4, evt.ExtensionInt("b"))
	assert.Equal(t, 5, evt.ExtensionInt("c"))
	assert.Zero(t, evt.ExtensionInt("d"))
	assert.Zero(t, evt.ExtensionInt("missing"))
}

func TestValidate(t *testing.T) {
	valid := New("t", "s", nil)
	tests := []struct {
		name    string
		mutate  func(Event) Event
		wantErr string
	}{
		{name: "valid", mutate: func(e Event) Event { return e }},
		{name: "specversion", mutate: func(e Event) Event { e.SpecVersion = "0.3"; return e }, wantErr: "specversion"},
		{name: "type", mutate: func(e Event) Event { e.Type = ""; return e }, wantErr: "type is required"},
		{name: "source", mutate: func(e Event) Event { e.Source = ""; return e }, wantErr: "source is required"},
		{name: "id", mutate: func(e Event) Event { e.ID = ""; return e }, wantErr: "id is required"},
		{name: "extension name", mutate: func(e Event) Event { return e.WithExtension("Bad_Name", 1) }, wantErr: "invalid extension name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mutate(valid).Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestJSONStructuredMode(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 123, time.UTC)
	evt := New("flowscope.exchange.failed", "/flowscope/ctx", map[string]any{"routeId": "route1"}).
		WithSubject("route1").
		WithTime(at)
	evt = WithExchange(evt, "ID-1", "route1", "direct://start", "")
	evt = WithAttempt(evt, 2, 4)
	evt = WithDeadLetter(evt, errors.New("boom"))

	raw, err := jsoncodec.Marshal(evt)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, jsoncodec.Unmarshal(raw, &flat))
	assert.Equal(t, "1.0", flat["specversion"])
	assert.Equal(t, "ID-1", flat[ExtExchangeID])
	assert.Equal(t, "boom", flat[ExtErrorMessage])
	assert.NotContains(t, flat, ExtCorrelationID)

	var decoded Event
	require.NoError(t, jsoncodec.Unmarshal(raw, &decoded))
	assert.Equal(t, evt.ID, decoded.ID)
	assert.Equal(t, "route1", decoded.Subject)
	assert.True(t, at.Equal(decoded.Time))
	assert.Equal(t, 2, Attempt(decoded))
	assert.Equal(t, 4, decoded.ExtensionInt(ExtMaxAttempts))
	assert.True(t, IsDeadLetter(decoded))
	assert.Equal(t, "route1", decoded.ExtensionString(ExtRouteID))
	assert.Equal(t, map[string]any{"routeId": "route1"}, decoded.Data)
	assert.NoError(t, decoded.Validate())
}

func TestUnmarshalErrors(t *testing.T) {
	var evt Event
	assert.Error(t, jsoncodec.Unmarshal([]byte(`{not json`), &evt))
	assert.ErrorContains(t, jsoncodec.Unmarshal([]byte(`{"type": 5}`), &evt), "invalid type")
	assert.ErrorContains(t, jsoncodec.Unmarshal([]byte(`{"time": "yesterday"}`), &evt), "invalid time")
}
