package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// ProtoSerializer marshals payloads as Protocol Buffers. Payloads must
// implement proto.Message; anything else is a serialization error, which the
// lifecycle converts into the minimal fallback response.
type ProtoSerializer struct{}

// NewProto creates a Protocol Buffers serializer.
func NewProto() *ProtoSerializer {
	return &ProtoSerializer{}
}

// ContentType returns the protobuf content type.
func (s *ProtoSerializer) ContentType() string {
	return "application/x-protobuf"
}

// Marshal encodes the payload using the protobuf wire format.
func (s *ProtoSerializer) Marshal(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("proto serializer: %T does not implement proto.Message", v)
	}
	return proto.Marshal(msg)
}

// Unmarshal decodes protobuf data into v, which must implement proto.Message.
func (s *ProtoSerializer) Unmarshal(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("proto serializer: %T does not implement proto.Message", v)
	}
	return proto.Unmarshal(data, msg)
}
