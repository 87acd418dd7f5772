package receivers

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	errspkg "github.com/drblury/txnode/internal/runtime/errors"
	idspkg "github.com/drblury/txnode/internal/runtime/ids"
	"github.com/drblury/txnode/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/txnode/internal/runtime/metadata"
)

// ErrUnsupportedContentType is returned for payload encodings other than JSON
// and protobuf.
var ErrUnsupportedContentType = errors.New("receivers: unsupported content type")

// Decode fills target from the payload of msg. JSON payloads are decoded
// directly; protobuf payloads carry a structpb.Struct whose JSON form is
// decoded into target.
func Decode(msg *message.Message, target any) error {
	md := metadatapkg.FromMessage(msg)
	switch ct := md.ContentType(); ct {
	case metadatapkg.ContentTypeJSON:
		return jsoncodec.Unmarshal(msg.Payload, target)
	case metadatapkg.ContentTypeProtobuf:
		var s structpb.Struct
		if err := proto.Unmarshal(msg.Payload, &s); err != nil {
			return fmt.Errorf("decode protobuf payload: %w", err)
		}
		raw, err := protojson.Marshal(&s)
		if err != nil {
			return err
		}
		return jsoncodec.Unmarshal(raw, target)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedContentType, ct)
	}
}

// NewMessage encodes v as a JSON event with a fresh ULID.
func NewMessage(v any, md metadatapkg.Metadata) (*message.Message, error) {
	payload, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return newMessage(payload, md.With(metadatapkg.KeyContentType, metadatapkg.ContentTypeJSON)), nil
}

// NewProtoMessage encodes v as a structpb.Struct event. v must marshal to a
// JSON object.
func NewProtoMessage(v any, md metadatapkg.Metadata) (*message.Message, error) {
	raw, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	var s structpb.Struct
	if err := protojson.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("event payload is not an object: %w", err)
	}
	payload, err := proto.Marshal(&s)
	if err != nil {
		return nil, err
	}
	return newMessage(payload, md.With(metadatapkg.KeyContentType, metadatapkg.ContentTypeProtobuf)), nil
}

func newMessage(payload []byte, md metadatapkg.Metadata) *message.Message {
	return metadatapkg.Stamp(message.NewMessage(idspkg.CreateULID(), payload), md)
}

// Publish encodes v as JSON and publishes it to topic.
func Publish(ctx context.Context, publisher message.Publisher, topic string, v any, md metadatapkg.Metadata) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	msg, err := NewMessage(v, md)
	if err != nil {
		return err
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return publisher.Publish(topic, msg)
}
