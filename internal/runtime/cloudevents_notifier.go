package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/ThreeDotsLabs/watermill/message"

	ce "github.com/drblury/flowscope/internal/runtime/cloudevents"
	"github.com/drblury/flowscope/internal/runtime/events"
	exchangepkg "github.com/drblury/flowscope/internal/runtime/exchange"
	"github.com/drblury/flowscope/internal/runtime/jsoncodec"
)

const eventTypePrefix = "flowscope."

// CloudEventsNotifier exports management events as structured CloudEvents
// on a watermill publisher.
type CloudEventsNotifier struct {
	publisher message.Publisher
	topic     string
	source    string
	filter    func(events.Event) bool
}

func NewCloudEventsNotifier(publisher message.Publisher, topic, source string) *CloudEventsNotifier {
	return &CloudEventsNotifier{publisher: publisher, topic: topic, source: source}
}

// WithFilter limits the exported events. Without one every event is sent.
func (n *CloudEventsNotifier) WithFilter(fn func(events.Event) bool) *CloudEventsNotifier {
	n.filter = fn
	return n
}

func (n *CloudEventsNotifier) IsEnabled(evt events.Event) bool {
	return n.filter == nil || n.filter(evt)
}

func (n *CloudEventsNotifier) Notify(ctx context.Context, evt events.Event) error {
	if n.publisher == nil {
		return errors.New("cloudevents notifier requires a publisher")
	}
	msg, err := n.toMessage(ctx, ToCloudEvent(evt, n.source))
	if err != nil {
		return err
	}
	return n.publisher.Publish(n.topic, msg)
}

func (n *CloudEventsNotifier) toMessage(ctx context.Context, evt ce.Event) (*message.Message, error) {
	payload, err := jsoncodec.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal cloudevent %s: %w", evt.Type, err)
	}
	msg := message.NewMessage(evt.ID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("content-type", ce.ContentTypeJSON)
	msg.Metadata.Set("ce_specversion", evt.SpecVersion)
	msg.Metadata.Set("ce_type", evt.Type)
	msg.Metadata.Set("ce_source", evt.Source)
	msg.Metadata.Set("ce_id", evt.ID)
	msg.Metadata.Set("ce_time", evt.Time.Format(time.RFC3339Nano))
	if evt.Subject != "" {
		msg.Metadata.Set("ce_subject", evt.Subject)
	}
	return msg, nil
}

// ToCloudEvent converts a management event. Exchange events carry the
// exchange extensions, redeliveries the attempt and dead letter deliveries
// the dead letter marker.
func ToCloudEvent(evt events.Event, source string) ce.Event {
	data := map[string]any{
		"kind":    evt.Kind().String(),
		"context": evt.ContextName(),
	}
	if evt.RouteID() != "" {
		data["routeId"] = evt.RouteID()
	}
	if evt.ServiceName() != "" {
		data["service"] = evt.ServiceName()
	}
	if evt.EndpointURI() != "" {
		data["endpointUri"] = evt.EndpointURI()
	}
	if evt.Elapsed() > 0 {
		data["elapsedMillis"] = evt.Elapsed().Milliseconds()
	}
	if err := evt.Err(); err != nil {
		data["error"] = err.Error()
	}
	if evt.Kind() == events.ExchangeFailureHandled {
		data["handled"] = evt.Handled()
	}

	out := ce.New(EventType(evt.Kind()), source, data).WithTime(evt.Timestamp())
	out.ID = evt.ID()

	if evt.Category() == events.CategoryExchange {
		out = out.WithSubject(evt.ExchangeID())
		var correlation string
		if ex := evt.Exchange(); ex != nil {
			if v, ok := ex.Property(exchangepkg.PropertyCorrelationID); ok {
				correlation = fmt.Sprint(v)
			}
		}
		out = ce.WithExchange(out, evt.ExchangeID(), evt.RouteID(), evt.EndpointURI(), correlation)
	}
	if evt.Kind() == events.ExchangeRedelivery {
		out = ce.WithAttempt(out, evt.Attempt(), 0)
	}
	if evt.DeadLetterURI() != "" && evt.Kind() == events.ExchangeFailureHandled {
		out = ce.WithDeadLetter(out, evt.Err())
	}
	return out
}

// EventType maps a kind to its CloudEvents type, for example
// ExchangeFailureHandled becomes flowscope.exchange.failure_handled.
func EventType(kind events.Kind) string {
	words := splitCamel(kind.String())
	if len(words) == 0 {
		return eventTypePrefix + "unknown"
	}
	rest := strings.ToLower(strings.Join(words[1:], "_"))
	return eventTypePrefix + strings.ToLower(words[0]) + "." + rest
}

func splitCamel(s string) []string {
	var words []string
	start := 0
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			words = append(words, s[start:i])
			start = i
		}
	}
	if start < len(s) {
		words = append(words, s[start:])
	}
	return words
}
