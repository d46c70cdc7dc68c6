package codec

import "github.com/fxamacker/cbor/v2"

// cborCodec uses github.com/fxamacker/cbor/v2, the CBOR implementation used by
// gravitational/teleport and projectcontour/contour, for a compact self-describing
// binary encoding.
type cborCodec struct{}

func (cborCodec) Encode(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func (cborCodec) Decode(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

func (cborCodec) Type() Type { return Cbor }
