package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc's codec registry and used as the
// wire content-subtype for every call in this package.
const codecName = "json"

// jsonCodec implements encoding.Codec. There is no .proto definition for
// this service and no generated stub to build one from, so messages are
// plain Go structs marshaled with encoding/json instead of protobuf wire
// format. grpc-go only requires a registered Codec; it never requires the
// messages themselves to be protobuf.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
