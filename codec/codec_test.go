package codec

import "testing"

type sample struct {
	Name    string
	Payload []byte
	Count   int
}

func TestRoundTripAllCodecs(t *testing.T) {
	types := []Type{Bincode, Json, MessagePack, Cbor}
	for _, typ := range types {
		typ := typ
		t.Run(typ.String(), func(t *testing.T) {
			c := Get(typ)
			original := sample{Name: "Arith.Add", Payload: []byte(`{"a":1,"b":2}`), Count: 7}

			data, err := c.Encode(&original)
			if err != nil {
				t.Fatalf("%s Encode failed: %v", typ, err)
			}

			var decoded sample
			if err := c.Decode(data, &decoded); err != nil {
				t.Fatalf("%s Decode failed: %v", typ, err)
			}

			if decoded.Name != original.Name {
				t.Errorf("%s: Name mismatch: got %s, want %s", typ, decoded.Name, original.Name)
			}
			if string(decoded.Payload) != string(original.Payload) {
				t.Errorf("%s: Payload mismatch: got %s, want %s", typ, decoded.Payload, original.Payload)
			}
			if decoded.Count != original.Count {
				t.Errorf("%s: Count mismatch: got %d, want %d", typ, decoded.Count, original.Count)
			}
			if c.Type() != typ {
				t.Errorf("Type() returned %s, want %s", c.Type(), typ)
			}
		})
	}
}

func TestGetUnknownTypePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Get to panic on an unknown codec type")
		}
	}()
	Get(Type(99))
}
