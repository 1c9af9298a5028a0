package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype the controller speaks; requests
// travel as application/grpc+json.
const CodecName = "json"

// jsonCodec marshals gRPC messages with encoding/json. Registering it lets
// plain Go structs serve as wire messages without a protoc step, and lets
// the REST front-end call the service from any language with a JSON codec.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s message: %w", CodecName, err)
	}
	return nil
}

func (jsonCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
