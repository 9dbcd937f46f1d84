package metadata

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	exchangepkg "github.com/drblury/flowscope/internal/runtime/exchange"
	"github.com/drblury/flowscope/internal/runtime/jsoncodec"
)

// ToWatermill encodes an exchange as a watermill message. Headers are
// rendered as strings; the body encoding is recorded so FromWatermill can
// restore strings and raw bytes exactly.
func ToWatermill(ex *exchangepkg.Exchange) (*message.Message, error) {
	payload, bodyType, err := encodeBody(ex.In.Body)
	if err != nil {
		return nil, fmt.Errorf("encode body of %s: %w", ex.ID, err)
	}

	msg := message.NewMessage(ex.ID, payload)
	ex.In.Headers.Range(func(k string, v any) bool {
		if v != nil {
			msg.Metadata.Set(k, fmt.Sprint(v))
		}
		return true
	})
	msg.Metadata.Set(KeyExchangeID, ex.ID)
	msg.Metadata.Set(KeyBodyType, bodyType)
	if ex.RouteID != "" {
		msg.Metadata.Set(KeyRouteID, ex.RouteID)
	}
	if ex.FromEndpoint != "" {
		msg.Metadata.Set(KeyFromEndpoint, ex.FromEndpoint)
	}
	return msg, nil
}

// FromWatermill decodes a watermill message into a new exchange. Messages
// produced outside flowscope get a fresh exchange id and a []byte body.
func FromWatermill(msg *message.Message) (*exchangepkg.Exchange, error) {
	body, err := decodeBody(msg.Metadata.Get(KeyBodyType), msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode body of message %s: %w", msg.UUID, err)
	}

	ex := exchangepkg.New(body)
	if id := msg.Metadata.Get(KeyExchangeID); id != "" {
		ex.ID = id
	}
	for k, v := range msg.Metadata {
		if IsReserved(k) {
			continue
		}
		ex.In.Headers.Set(k, v)
	}
	return ex, nil
}

// FromMessageMetadata copies watermill metadata into a Metadata value.
func FromMessageMetadata(md message.Metadata) Metadata {
	result := make(Metadata, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, BodyNull, nil
	case string:
		return []byte(b), BodyString, nil
	case []byte:
		return b, BodyBytes, nil
	default:
		data, err := jsoncodec.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return data, BodyJSON, nil
	}
}

func decodeBody(bodyType string, payload []byte) (any, error) {
	switch bodyType {
	case BodyNull:
		return nil, nil
	case BodyString:
		return string(payload), nil
	case BodyJSON:
		var v any
		if err := jsoncodec.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return payload, nil
	}
}
