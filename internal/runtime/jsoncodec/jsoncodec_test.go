package jsoncodec

import (
	"bytes"
	"strings"
	"testing"
)

type testPayload struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestMarshalAndUnmarshal(t *testing.T) {
	in := testPayload{ID: 42, Name: "flowscope"}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !Valid(data) {
		t.Fatalf("expected valid json, got %s", data)
	}

	var out testPayload
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out != in {
		t.Fatalf("expected round trip to match, got %#v", out)
	}

	indented, err := MarshalIndent(in, "", "  ")
	if err != nil {
		t.Fatalf("marshal indent failed: %v", err)
	}
	if !strings.Contains(string(indented), "\n  \"id\"") {
		t.Fatalf("expected indented output, got %s", string(indented))
	}
}

func TestEncodeAndDecode(t *testing.T) {
	buf := &bytes.Buffer{}
	payload := testPayload{ID: 7, Name: "stream"}

	if err := Encode(buf, payload); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var decoded testPayload
	if err := Decode(buf, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded != payload {
		t.Fatalf("expected decoded payload to match, got %#v", decoded)
	}
}

func TestOrderedObjectKeepsInsertionOrder(t *testing.T) {
	obj := NewOrderedObject().
		Set("kind", "parameter").
		Set("group", "common").
		Set("type", "integer").
		Set("group", "advanced")

	data, err := Marshal(obj)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	want := `{"kind":"parameter","group":"advanced","type":"integer"}`
	if string(data) != want {
		t.Fatalf("expected %s, got %s", want, data)
	}
	if obj.Len() != 3 {
		t.Fatalf("expected 3 keys, got %d", obj.Len())
	}
}

func TestOrderedObjectNested(t *testing.T) {
	inner := NewOrderedObject().Set("z", 1).Set("a", 2)
	outer := NewOrderedObject().Set("properties", inner)

	got, err := MarshalToString(outer)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if got != `{"properties":{"z":1,"a":2}}` {
		t.Fatalf("unexpected nested output %s", got)
	}
}
