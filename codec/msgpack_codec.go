package codec

import mpcodec "github.com/hashicorp/go-msgpack/codec"

// msgpackCodec uses github.com/hashicorp/go-msgpack (the same MessagePack
// implementation hashicorp/serf's RPC client uses) for a compact, cross-language binary
// encoding without hand-rolling a frame format.
type msgpackCodec struct {
	handle *mpcodec.MsgpackHandle
}

func (c msgpackCodec) Encode(v any) ([]byte, error) {
	var buf []byte
	enc := mpcodec.NewEncoderBytes(&buf, c.handle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c msgpackCodec) Decode(data []byte, v any) error {
	dec := mpcodec.NewDecoderBytes(data, c.handle)
	return dec.Decode(v)
}

func (c msgpackCodec) Type() Type { return MessagePack }
