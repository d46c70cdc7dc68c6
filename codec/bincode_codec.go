package codec

import (
	"bytes"
	"encoding/gob"
)

// bincodeCodec is the compact binary format named "Bincode" to mirror the identifier
// used by the reference implementation (which encodes with Rust's bincode crate). Go has
// no equivalent third-party binary serializer for arbitrary generic structs — bincode
// itself is Rust-specific — so, like the teacher's own hand-rolled BinaryCodec (which
// only ever had one fixed struct shape to encode), this variant reaches for the standard
// library's encoding/gob rather than inventing a bespoke format for arbitrary payload
// types. See DESIGN.md for the full justification.
type bincodeCodec struct{}

func (bincodeCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (bincodeCodec) Decode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (bincodeCodec) Type() Type { return Bincode }
