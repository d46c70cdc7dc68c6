// Package codec provides the serialization layer for lrcall.
//
// It defines a pluggable Codec interface with four implementations, named to match the
// codec identifiers negotiated out of band between client and server:
//
//   - Json:       encoding/json, human-readable, easiest to debug.
//   - Bincode:    a binary encoding built on the standard library's encoding/gob.
//   - MessagePack: github.com/hashicorp/go-msgpack, compact and cross-language.
//   - Cbor:       github.com/fxamacker/cbor/v2, compact, cross-language, self-describing.
//
// The codec type is negotiated out of band (both sides configure the same Type when
// building their RpcConfig / server config); the wire itself carries no codec tag, per
// the dispatch core's external interface contract.
package codec

import (
	"fmt"

	mpcodec "github.com/hashicorp/go-msgpack/codec"
)

// Type identifies the serialization format negotiated for a channel.
type Type byte

const (
	Bincode Type = iota
	Json
	MessagePack
	Cbor
)

func (t Type) String() string {
	switch t {
	case Bincode:
		return "Bincode"
	case Json:
		return "Json"
	case MessagePack:
		return "MessagePack"
	case Cbor:
		return "Cbor"
	default:
		return "Unknown"
	}
}

// Codec serializes and deserializes values for a given item/sink type. Implementing
// this interface lets a new wire format be added (e.g. Protobuf) without changing the
// transport or dispatch layers — the codec is the only thing that knows bytes.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() Type
}

// Get is a factory function returning the appropriate codec for a Type. It panics on an
// unknown type since Type values only ever originate from this package's own constants
// or from a value round-tripped through Type itself.
func Get(t Type) Codec {
	switch t {
	case Json:
		return jsonCodec{}
	case MessagePack:
		return msgpackCodec{handle: &mpcodec.MsgpackHandle{}}
	case Cbor:
		return cborCodec{}
	case Bincode:
		return bincodeCodec{}
	default:
		panic(fmt.Sprintf("codec: unknown type %d", t))
	}
}
