package backlog

import (
	"encoding/xml"
	"time"

	"github.com/drblury/flowscope/internal/runtime/exchange"
	"github.com/drblury/flowscope/internal/runtime/jsoncodec"
)

// TimestampLayout formats trace timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000-0700"

// TracedMessage is a snapshot of an exchange taken at a node.
type TracedMessage struct {
	UID        int64       `json:"uid"`
	Timestamp  time.Time   `json:"timestamp"`
	RouteID    string      `json:"routeId"`
	ToNode     string      `json:"toNode"`
	ExchangeID string      `json:"exchangeId"`
	Message    MessageDump `json:"message"`
}

// NewTracedMessage renders ex immediately so later mutations are not seen.
func NewTracedMessage(uid int64, at time.Time, routeID, nodeID string, ex *exchange.Exchange, bodyMaxChars int) *TracedMessage {
	return &TracedMessage{
		UID:        uid,
		Timestamp:  at,
		RouteID:    routeID,
		ToNode:     nodeID,
		ExchangeID: ex.ID,
		Message:    Dump(ex, true, bodyMaxChars),
	}
}

type tracedXML struct {
	XMLName    xml.Name    `xml:"backlogTracerEventMessage"`
	UID        int64       `xml:"uid"`
	Timestamp  string      `xml:"timestamp"`
	RouteID    string      `xml:"routeId"`
	ToNode     string      `xml:"toNode"`
	ExchangeID string      `xml:"exchangeId"`
	Message    MessageDump `xml:"message"`
}

func (m *TracedMessage) xmlValue() tracedXML {
	return tracedXML{
		UID:        m.UID,
		Timestamp:  m.Timestamp.Format(TimestampLayout),
		RouteID:    m.RouteID,
		ToNode:     m.ToNode,
		ExchangeID: m.ExchangeID,
		Message:    m.Message,
	}
}

func (m *TracedMessage) ToXML() string {
	return marshalXML(m.xmlValue(), "")
}

func (m *TracedMessage) ToJSON() (string, error) {
	return jsoncodec.MarshalToString(m)
}

type tracedList struct {
	XMLName  xml.Name    `xml:"backlogTracerEventMessages"`
	Messages []tracedXML `xml:"backlogTracerEventMessage"`
}

// MessagesToXML wraps messages in a <backlogTracerEventMessages> element.
func MessagesToXML(messages []*TracedMessage) string {
	list := tracedList{Messages: make([]tracedXML, 0, len(messages))}
	for _, m := range messages {
		list.Messages = append(list.Messages, m.xmlValue())
	}
	return marshalXML(list, "")
}
