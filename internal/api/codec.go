package api

import (
	"encoding/json"
)

// JSONCodec marshals plain Go structs. It replaces connect's built-in "json"
// codec, which only accepts protobuf messages.
type JSONCodec struct{}

func (JSONCodec) Name() string {
	return "json"
}

func (JSONCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (JSONCodec) Unmarshal(data []byte, msg any) error {
	return json.Unmarshal(data, msg)
}
