package codec

import "encoding/json"

// jsonCodec uses the standard library encoding/json. Pros: human-readable,
// cross-language, easy to debug. Cons: slower than the binary formats due to
// reflection and string escaping, and a larger wire payload.
type jsonCodec struct{}

func (jsonCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Type() Type { return Json }
