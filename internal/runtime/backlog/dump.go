package backlog

import (
	"encoding/xml"
	"fmt"
	"reflect"
	"time"
	"unicode/utf8"

	"github.com/drblury/flowscope/internal/runtime/exchange"
	"github.com/drblury/flowscope/internal/runtime/jsoncodec"
)

// DefaultBodyMaxChars bounds rendered bodies.
const DefaultBodyMaxChars = 128 * 1024

const nullBody = "[Body is null]"

// MessageDump is the rendered form of an exchange message. Text values are
// escaped by encoding/xml when marshalled.
type MessageDump struct {
	XMLName    xml.Name     `xml:"message" json:"-"`
	ExchangeID string       `xml:"exchangeId,attr" json:"exchangeId"`
	Headers    *HeadersDump `xml:"headers" json:"headers,omitempty"`
	Body       *BodyDump    `xml:"body" json:"body,omitempty"`
}

type HeadersDump struct {
	Headers []HeaderDump `xml:"header" json:"header"`
}

type HeaderDump struct {
	Key   string `xml:"key,attr" json:"key"`
	Type  string `xml:"type,attr,omitempty" json:"type,omitempty"`
	Value string `xml:",chardata" json:"value"`
}

type BodyDump struct {
	Type  string `xml:"type,attr,omitempty" json:"type,omitempty"`
	Size  *int   `xml:"size,attr,omitempty" json:"size,omitempty"`
	Value string `xml:",chardata" json:"value"`
}

// Dump renders the message of ex. Headers keep insertion order. A body
// longer than bodyMaxChars characters is clipped; zero disables clipping.
func Dump(ex *exchange.Exchange, includeBody bool, bodyMaxChars int) MessageDump {
	d := MessageDump{ExchangeID: ex.ID}
	msg := ex.In
	if msg == nil {
		msg = exchange.NewMessage(nil)
	}
	if msg.Headers.Len() > 0 {
		h := &HeadersDump{}
		msg.Headers.Range(func(key string, value any) bool {
			hd := HeaderDump{Key: key, Type: TypeName(value)}
			if value != nil {
				hd.Value = render(value)
			}
			h.Headers = append(h.Headers, hd)
			return true
		})
		d.Headers = h
	}
	if includeBody {
		d.Body = dumpBody(msg.Body, bodyMaxChars)
	}
	return d
}

func dumpBody(body any, maxChars int) *BodyDump {
	if body == nil {
		return &BodyDump{Value: nullBody}
	}
	b := &BodyDump{Type: TypeName(body), Value: clip(render(body), maxChars)}
	if rv := reflect.ValueOf(body); rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		n := rv.Len()
		b.Size = &n
	}
	return b
}

func clip(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	total := utf8.RuneCountInString(s)
	if total <= maxChars {
		return s
	}
	runes := []rune(s)
	return fmt.Sprintf("%s... [Body clipped after %d chars, total length is %d]", string(runes[:maxChars]), maxChars, total)
}

func render(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	case error:
		return t.Error()
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
		return fmt.Sprint(t)
	}
	if s, err := jsoncodec.MarshalToString(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}

// XML renders the dump as an indented <message> element.
func (d MessageDump) XML() string {
	return marshalXML(d, "")
}

// DumpMessageAsXML is Dump followed by XML.
func DumpMessageAsXML(ex *exchange.Exchange, includeBody bool, bodyMaxChars int) string {
	return Dump(ex, includeBody, bodyMaxChars).XML()
}

type messageList struct {
	XMLName  xml.Name      `xml:"messages"`
	Messages []MessageDump `xml:"message"`
}

// DumpMessagesAsXML wraps the dumps of exchanges in a <messages> element.
func DumpMessagesAsXML(exchanges []*exchange.Exchange, includeBody bool, bodyMaxChars int) string {
	list := messageList{Messages: make([]MessageDump, 0, len(exchanges))}
	for _, ex := range exchanges {
		list.Messages = append(list.Messages, Dump(ex, includeBody, bodyMaxChars))
	}
	return marshalXML(list, "")
}

func marshalXML(v any, prefix string) string {
	out, err := xml.MarshalIndent(v, prefix, "  ")
	if err != nil {
		return ""
	}
	return string(out)
}
