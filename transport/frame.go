// Package transport implements the length-prefixed framing used to carry
// wire.ClientMessage and wire.Response values over any bidirectional byte stream —
// a TCP socket, a Unix domain socket, or an in-memory pipe. It solves the same sticky
// packet problem a raw TCP stream always has: a frame header states exactly how many
// body bytes follow, so the reader never has to guess where one message ends and the
// next begins.
//
// Frame format:
//
//	0      3  4  5         9
//	┌──────┬──┬──┬─────────┬───────────────┐
//	│magic │v │mt│ bodyLen │    body ...    │
//	│ lrc  │01│  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴─────────┴───────────────┘
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	magic0, magic1, magic2 = 'l', 'r', 'c'
	version                = 0x01
	headerSize             = 3 + 1 + 1 + 4
)

// frameKind distinguishes a request/cancel frame from a response frame on the wire.
type frameKind byte

const (
	frameRequest frameKind = iota
	frameCancel
	frameResponse
)

// writeFrame writes one complete frame (header + body) to w. body may be nil only for
// frames that carry no payload (there are none at present, but the format allows it).
func writeFrame(w io.Writer, kind frameKind, body []byte) error {
	header := make([]byte, headerSize)
	header[0], header[1], header[2] = magic0, magic1, magic2
	header[3] = version
	header[4] = byte(kind)
	binary.BigEndian.PutUint32(header[5:9], uint32(len(body)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("transport: write frame header: %w", err)
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return fmt.Errorf("transport: write frame body: %w", err)
		}
	}
	return nil
}

// readFrame reads one complete frame from r, enforcing maxFrameLen (0 means unbounded,
// per the boundary behavior required of RpcConfig.MaxFrameLen / TcpConfig.MaxFrameLen).
func readFrame(r io.Reader, maxFrameLen uint32) (frameKind, []byte, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	if header[0] != magic0 || header[1] != magic1 || header[2] != magic2 {
		return 0, nil, fmt.Errorf("transport: invalid magic number %x", header[0:3])
	}
	if header[3] != version {
		return 0, nil, fmt.Errorf("transport: unsupported frame version %d", header[3])
	}
	kind := frameKind(header[4])
	if kind != frameRequest && kind != frameCancel && kind != frameResponse {
		return 0, nil, fmt.Errorf("transport: unsupported frame kind %d", kind)
	}
	bodyLen := binary.BigEndian.Uint32(header[5:9])
	if maxFrameLen != 0 && bodyLen > maxFrameLen {
		return 0, nil, fmt.Errorf("transport: frame of %d bytes exceeds max frame length %d", bodyLen, maxFrameLen)
	}
	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return 0, nil, err
		}
	}
	return kind, body, nil
}
