package transport

import (
	"fmt"
	"net"
	"sync"

	"lrcall/address"
	"lrcall/codec"
	"lrcall/wire"
)

// Transport is a bidirectional framed message stream carrying wire.ClientMessage
// (client → server) and wire.Response (server → client) values over a single
// underlying connection. It abstracts TCP, Unix domain sockets, and in-memory pipes:
// whichever net.Conn it wraps, the framing and serialization above it are identical.
//
// A single Transport is used from both ends of the call: the client side calls
// WriteClientMessage/ReadResponse, the server side calls ReadClientMessage/
// WriteResponse. Concurrent writers must still serialize amongst themselves (see
// writeMu) since frames from different goroutines must not interleave on the wire;
// concurrent reading is never required because each side owns exactly one read loop.
type Transport struct {
	conn        net.Conn
	codec       codec.Codec
	maxFrameLen uint32

	writeMu sync.Mutex
}

// New wraps conn with framing and the given codec. maxFrameLen of 0 means unbounded,
// per the dispatch core's boundary contract for RpcConfig.MaxFrameLen.
func New(conn net.Conn, c codec.Codec, maxFrameLen uint32) *Transport {
	return &Transport{conn: conn, codec: c, maxFrameLen: maxFrameLen}
}

// Conn returns the underlying connection, e.g. so a server can key admission by peer
// address.
func (t *Transport) Conn() net.Conn { return t.conn }

// Close closes the underlying connection. Any blocked reader returns an error.
func (t *Transport) Close() error { return t.conn.Close() }

// WriteClientMessage serializes and writes a request or cancel envelope.
func (t *Transport) WriteClientMessage(msg *wire.ClientMessage) error {
	body, err := t.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("transport: encode client message: %w", err)
	}
	kind := frameRequest
	if msg.Kind == wire.MsgCancel {
		kind = frameCancel
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return writeFrame(t.conn, kind, body)
}

// WriteResponse serializes and writes a response envelope.
func (t *Transport) WriteResponse(resp *wire.Response) error {
	body, err := t.codec.Encode(resp)
	if err != nil {
		return fmt.Errorf("transport: encode response: %w", err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return writeFrame(t.conn, frameResponse, body)
}

// ReadClientMessage blocks until the next request/cancel frame arrives, decodes it, and
// returns it. Only the server side of a Transport calls this.
func (t *Transport) ReadClientMessage() (*wire.ClientMessage, error) {
	kind, body, err := readFrame(t.conn, t.maxFrameLen)
	if err != nil {
		return nil, err
	}
	if kind != frameRequest && kind != frameCancel {
		return nil, fmt.Errorf("transport: expected client message frame, got kind %d", kind)
	}
	msg := &wire.ClientMessage{}
	if err := t.codec.Decode(body, msg); err != nil {
		return nil, fmt.Errorf("transport: decode client message: %w", err)
	}
	return msg, nil
}

// ReadResponse blocks until the next response frame arrives, decodes it, and returns
// it. Only the client side of a Transport calls this.
func (t *Transport) ReadResponse() (*wire.Response, error) {
	kind, body, err := readFrame(t.conn, t.maxFrameLen)
	if err != nil {
		return nil, err
	}
	if kind != frameResponse {
		return nil, fmt.Errorf("transport: expected response frame, got kind %d", kind)
	}
	resp := &wire.Response{}
	if err := t.codec.Decode(body, resp); err != nil {
		return nil, fmt.Errorf("transport: decode response: %w", err)
	}
	return resp, nil
}

// Dial opens a new Transport to addr, choosing TCP or Unix dialing based on the
// address kind.
func Dial(addr address.Address, c codec.Codec, maxFrameLen uint32) (*Transport, error) {
	conn, err := net.Dial(addr.Network(), addr.DialString())
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return New(conn, c, maxFrameLen), nil
}

// Listen opens a net.Listener for addr, applying the dual-stack-favoring rewrite for
// unspecified IP addresses.
func Listen(addr address.Address) (net.Listener, error) {
	addr = address.FavorDualStack(addr)
	l, err := net.Listen(addr.Network(), addr.DialString())
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return l, nil
}

// Pipe returns two in-process Transports connected by an in-memory net.Pipe, for tests
// and for Lpc-mode callers that still want to exercise the wire protocol without a real
// socket.
func Pipe(c codec.Codec, maxFrameLen uint32) (client, server *Transport) {
	a, b := net.Pipe()
	return New(a, c, maxFrameLen), New(b, c, maxFrameLen)
}
