package runtime

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
	exchangepkg "github.com/drblury/flowscope/internal/runtime/exchange"
	"github.com/drblury/flowscope/internal/runtime/jsoncodec"
)

// DataFormat converts message bodies to and from bytes for marshal and
// unmarshal steps.
type DataFormat interface {
	Name() string
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

const headerContentType = "Content-Type"

// JSONDataFormat encodes bodies as JSON. Unmarshal yields New() when set,
// otherwise generic maps and slices.
type JSONDataFormat struct {
	New func() any
}

func (JSONDataFormat) Name() string        { return "json" }
func (JSONDataFormat) ContentType() string { return "application/json" }

func (f JSONDataFormat) Marshal(v any) ([]byte, error) {
	return jsoncodec.Marshal(v)
}

func (f JSONDataFormat) Unmarshal(data []byte) (any, error) {
	if f.New != nil {
		target := f.New()
		if err := jsoncodec.Unmarshal(data, target); err != nil {
			return nil, err
		}
		return target, nil
	}
	var out any
	if err := jsoncodec.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ProtoDataFormat encodes proto messages, as protojson when JSON is set and
// in the binary wire format otherwise. Unmarshal needs New.
type ProtoDataFormat struct {
	New  func() proto.Message
	JSON bool
}

func (f ProtoDataFormat) Name() string {
	if f.JSON {
		return "protobuf-json"
	}
	return "protobuf"
}

func (f ProtoDataFormat) ContentType() string {
	if f.JSON {
		return "application/json"
	}
	return "application/x-protobuf"
}

func (f ProtoDataFormat) Marshal(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a proto message", errspkg.ErrInvalidArgument, v)
	}
	if f.JSON {
		return protojson.Marshal(msg)
	}
	return proto.Marshal(msg)
}

func (f ProtoDataFormat) Unmarshal(data []byte) (any, error) {
	if f.New == nil {
		return nil, fmt.Errorf("%w: proto data format needs a message factory", errspkg.ErrInvalidArgument)
	}
	msg := f.New()
	var err error
	if f.JSON {
		err = protojson.UnmarshalOptions{DiscardUnknown: true}.Unmarshal(data, msg)
	} else {
		err = proto.Unmarshal(data, msg)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func dataFormatName(df DataFormat) string {
	if df == nil {
		return ""
	}
	return df.Name()
}

func marshalStep(df DataFormat) func(context.Context, *exchangepkg.Exchange) error {
	return func(_ context.Context, ex *exchangepkg.Exchange) error {
		data, err := df.Marshal(ex.In.Body)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", df.Name(), err)
		}
		ex.In.Body = data
		ex.In.Headers.Set(headerContentType, df.ContentType())
		return nil
	}
}

func unmarshalStep(df DataFormat) func(context.Context, *exchangepkg.Exchange) error {
	return func(_ context.Context, ex *exchangepkg.Exchange) error {
		var data []byte
		switch b := ex.In.Body.(type) {
		case []byte:
			data = b
		case string:
			data = []byte(b)
		default:
			return fmt.Errorf("%w: unmarshal %s needs a []byte or string body, got %T", errspkg.ErrInvalidArgument, df.Name(), ex.In.Body)
		}
		v, err := df.Unmarshal(data)
		if err != nil {
			return fmt.Errorf("unmarshal %s: %w", df.Name(), err)
		}
		ex.In.Body = v
		return nil
	}
}
