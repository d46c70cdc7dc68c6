package rpcchannel

import (
	"context"
	"net"
	"testing"
	"time"

	"lrcall/address"
	"lrcall/codec"
	"lrcall/discover"
	"lrcall/transport"
	"lrcall/wire"
)

// echoServer accepts one connection and answers every request with its id echoed back
// as the payload, until the listener is closed.
func echoServer(t *testing.T, l net.Listener) {
	t.Helper()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		tr := transport.New(conn, codec.Get(codec.Json), 0)
		for {
			msg, err := tr.ReadClientMessage()
			if err != nil {
				return
			}
			if msg.Kind != wire.MsgRequest {
				continue
			}
			_ = tr.WriteResponse(&wire.Response{ID: msg.ID, Payload: []byte("ok")})
		}
	}()
}

func listen(t *testing.T) (net.Listener, address.Address) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr, err := address.Parse(l.Addr().String())
	if err != nil {
		t.Fatalf("parse %s: %v", l.Addr(), err)
	}
	return l, addr
}

func TestRpcChannelCallRoundTrip(t *testing.T) {
	l, addr := listen(t)
	defer l.Close()
	echoServer(t, l)

	rc, err := New(&discover.Instance{Address: addr, Weight: 1}, Config{Codec: codec.Json})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rc.Close()

	resp, rerr := rc.Call(context.Background(), &wire.ClientMessage{Kind: wire.MsgRequest, RequestName: "Arith.Add"})
	if rerr != nil {
		t.Fatalf("Call: %v", rerr)
	}
	if string(resp.Payload) != "ok" {
		t.Fatalf("unexpected payload: %s", resp.Payload)
	}
	if rc.Weight() != 1 {
		t.Fatalf("unexpected weight: %d", rc.Weight())
	}
}

func TestRpcChannelReconnect(t *testing.T) {
	l, addr := listen(t)
	defer l.Close()
	echoServer(t, l)

	rc, err := New(&discover.Instance{Address: addr, Weight: 1}, Config{Codec: codec.Json})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rc.Close()

	if _, rerr := rc.Call(context.Background(), &wire.ClientMessage{Kind: wire.MsgRequest, RequestName: "Arith.Add"}); rerr != nil {
		t.Fatalf("first Call: %v", rerr)
	}

	if err := rc.Reconnect(); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	echoServer(t, l)

	if _, rerr := rc.Call(context.Background(), &wire.ClientMessage{Kind: wire.MsgRequest, RequestName: "Arith.Add"}); rerr != nil {
		t.Fatalf("Call after reconnect: %v", rerr)
	}
}

func TestRpcChannelCallFailsWhenDisconnected(t *testing.T) {
	l, addr := listen(t)
	echoServer(t, l)

	rc, err := New(&discover.Instance{Address: addr, Weight: 1}, Config{Codec: codec.Json})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Close()
	rc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, rerr := rc.Call(ctx, &wire.ClientMessage{Kind: wire.MsgRequest, RequestName: "Arith.Add"}); rerr == nil {
		t.Fatal("expected Call on a closed channel to fail")
	}
}

func TestWithInstanceSharesConnection(t *testing.T) {
	l, addr := listen(t)
	defer l.Close()
	echoServer(t, l)

	rc, err := New(&discover.Instance{Address: addr, Weight: 1}, Config{Codec: codec.Json})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rc.Close()

	rc2 := rc.WithInstance(&discover.Instance{Address: addr, Weight: 5, Tags: map[string]string{"az": "us-east"}})
	if rc2.Weight() != 5 {
		t.Fatalf("unexpected weight: %d", rc2.Weight())
	}
	if _, rerr := rc2.Call(context.Background(), &wire.ClientMessage{Kind: wire.MsgRequest, RequestName: "Arith.Add"}); rerr != nil {
		t.Fatalf("Call on cloned channel: %v", rerr)
	}
}

// TestWithInstanceCloneSeesShutdownFromOriginal covers the case the shared metadata
// clone exists for: a discovery update that only changes weight/tags shares the same
// underlying connection, so a shutdown observed through either clone must be visible
// through the other -- they describe one physical connection, not two.
func TestWithInstanceCloneSeesShutdownFromOriginal(t *testing.T) {
	l, addr := listen(t)
	defer l.Close()

	serverConns := make(chan net.Conn, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		serverConns <- conn
		tr := transport.New(conn, codec.Get(codec.Json), 0)
		for {
			msg, err := tr.ReadClientMessage()
			if err != nil {
				return
			}
			if msg.Kind != wire.MsgRequest {
				continue
			}
			if err := tr.WriteResponse(&wire.Response{ID: msg.ID, Payload: []byte("ok")}); err != nil {
				return
			}
		}
	}()

	rc, err := New(&discover.Instance{Address: addr, Weight: 1}, Config{Codec: codec.Json})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rc.Close()

	rc2 := rc.WithInstance(&discover.Instance{Address: addr, Weight: 2})

	if _, rerr := rc.Call(context.Background(), &wire.ClientMessage{Kind: wire.MsgRequest, RequestName: "Arith.Add"}); rerr != nil {
		t.Fatalf("initial call: %v", rerr)
	}

	// Kill the server-side connection out from under both clones.
	serverConn := <-serverConns
	serverConn.Close()

	// Drain until the transport reports shutdown through rc.
	deadline := time.Now().Add(2 * time.Second)
	var rerr error
	for time.Now().Before(deadline) {
		_, rerr = rc.Call(context.Background(), &wire.ClientMessage{Kind: wire.MsgRequest, RequestName: "Arith.Add"})
		if rerr != nil {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if rerr == nil {
		t.Fatal("expected rc.Call to eventually observe shutdown")
	}

	// rc2 shares the same cell, so it must see the shutdown too, without ever having
	// made a call of its own.
	if _, rerr2 := rc2.Call(context.Background(), &wire.ClientMessage{Kind: wire.MsgRequest, RequestName: "Arith.Add"}); rerr2 == nil {
		t.Fatal("expected rc2 to observe the same shutdown as rc, since they share a cell")
	}
}
