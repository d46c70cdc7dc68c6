package server

import (
	"context"
	"net"
	"testing"
	"time"

	"lrcall/address"
	"lrcall/codec"
	"lrcall/transport"
	"lrcall/wire"
)

type Args struct{ A, B int }
type Reply struct{ Result int }

type Arith struct{}

func (a *Arith) Add(ctx context.Context, args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

func (a *Arith) Boom(ctx context.Context, args *Args, reply *Reply) error {
	panic("boom")
}

func (a *Arith) Slow(ctx context.Context, args *Args, reply *Reply) error {
	select {
	case <-time.After(500 * time.Millisecond):
		reply.Result = args.A
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func dialServer(t *testing.T, l net.Listener) (*net.TCPConn, codec.Codec) {
	t.Helper()
	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn.(*net.TCPConn), codec.Get(codec.Json)
}

func startServer(t *testing.T) (net.Listener, func()) {
	t.Helper()
	addr, err := address.Parse("127.0.0.1:0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	l, err := listenAt(addr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := New()
	if err := s.Register("Arith", &Arith{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go s.serveConn(conn, codec.Json, 0, Config{}, func() {})
		}
	}()
	return l, func() { l.Close() }
}

// TestPendingResponseBufferDefaultsToTen is testable property B2: a configured
// PendingResponseBuffer of 0 must be interpreted as 10, not as an unbuffered (or
// unbounded) queue.
func TestPendingResponseBufferDefaultsToTen(t *testing.T) {
	if got := pendingResponseBuffer(0); got != 10 {
		t.Fatalf("expected 0 to default to 10, got %d", got)
	}
	if got := pendingResponseBuffer(-3); got != 10 {
		t.Fatalf("expected a negative value to default to 10, got %d", got)
	}
	if got := pendingResponseBuffer(5); got != 5 {
		t.Fatalf("expected an explicit positive value to pass through unchanged, got %d", got)
	}
}

func TestServerRoundTrip(t *testing.T) {
	l, stop := startServer(t)
	defer stop()

	conn, c := dialServer(t, l)
	defer conn.Close()
	tr := transport.New(conn, c, 0)

	payload, _ := c.Encode(&Args{A: 3, B: 5})
	if err := tr.WriteClientMessage(&wire.ClientMessage{Kind: wire.MsgRequest, ID: 1, RequestName: "Arith.Add", Payload: payload}); err != nil {
		t.Fatalf("WriteClientMessage: %v", err)
	}

	resp, err := tr.ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.Err != nil {
		t.Fatalf("unexpected server error: %v", resp.Err)
	}
	var reply Reply
	if err := c.Decode(resp.Payload, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Result != 8 {
		t.Fatalf("expected 8, got %d", reply.Result)
	}
}

func TestServerUnknownOperationReturnsServerError(t *testing.T) {
	l, stop := startServer(t)
	defer stop()

	conn, c := dialServer(t, l)
	defer conn.Close()
	tr := transport.New(conn, c, 0)

	if err := tr.WriteClientMessage(&wire.ClientMessage{Kind: wire.MsgRequest, ID: 1, RequestName: "Arith.Missing"}); err != nil {
		t.Fatalf("WriteClientMessage: %v", err)
	}
	resp, err := tr.ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.Err == nil || resp.Err.Kind != wire.KindUnimplemented {
		t.Fatalf("expected Unimplemented, got %v", resp.Err)
	}
}

func TestServerHandlerPanicBecomesServerError(t *testing.T) {
	l, stop := startServer(t)
	defer stop()

	conn, c := dialServer(t, l)
	defer conn.Close()
	tr := transport.New(conn, c, 0)

	payload, _ := c.Encode(&Args{})
	if err := tr.WriteClientMessage(&wire.ClientMessage{Kind: wire.MsgRequest, ID: 1, RequestName: "Arith.Boom", Payload: payload}); err != nil {
		t.Fatalf("WriteClientMessage: %v", err)
	}
	resp, err := tr.ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.Err == nil || resp.Err.Kind != wire.KindInternal {
		t.Fatalf("expected Internal, got %v", resp.Err)
	}

	// The connection must still be usable after a handler panic.
	payload, _ = c.Encode(&Args{A: 1, B: 1})
	if err := tr.WriteClientMessage(&wire.ClientMessage{Kind: wire.MsgRequest, ID: 2, RequestName: "Arith.Add", Payload: payload}); err != nil {
		t.Fatalf("WriteClientMessage: %v", err)
	}
	resp, err = tr.ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.Err != nil {
		t.Fatalf("unexpected error after recovering from panic: %v", resp.Err)
	}
}

func TestServerCancelDropsInFlightSlot(t *testing.T) {
	l, stop := startServer(t)
	defer stop()

	conn, c := dialServer(t, l)
	defer conn.Close()
	tr := transport.New(conn, c, 0)

	payload, _ := c.Encode(&Args{A: 7})
	if err := tr.WriteClientMessage(&wire.ClientMessage{Kind: wire.MsgRequest, ID: 1, RequestName: "Arith.Slow", Payload: payload}); err != nil {
		t.Fatalf("WriteClientMessage: %v", err)
	}
	if err := tr.WriteClientMessage(&wire.ClientMessage{Kind: wire.MsgCancel, ID: 1}); err != nil {
		t.Fatalf("WriteClientMessage cancel: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, err := tr.ReadResponse(); err == nil {
		t.Fatal("expected no response for a cancelled call")
	}
}

func TestMaxChannelsPerKeyRejectsExcessConnections(t *testing.T) {
	addr, err := address.Parse("127.0.0.1:0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	l, err := listenAt(addr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	s := New()
	cfg := NewTcpConfig(addr).WithMaxChannelsPerKey(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		adm := newAdmission(cfg.maxChannelsPerKey)
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			release, ok := adm.tryAdmit(peerIPKey(conn.RemoteAddr()))
			if !ok {
				conn.Close()
				continue
			}
			go s.serveConn(conn, codec.Json, 0, Config{}, release)
		}
	}()

	first, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	defer first.Close()

	second, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()

	_ = second.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 1)
	if _, err := second.Read(buf); err == nil {
		t.Fatal("expected the second connection from the same key to be closed")
	}
}
