package corechannel

import (
	"context"
	"sync"
	"testing"
	"time"

	"lrcall/codec"
	"lrcall/transport"
	"lrcall/wire"
)

func TestCallRoundTrip(t *testing.T) {
	client, server := transport.Pipe(codec.Get(codec.Json), 0)
	defer server.Close()

	go func() {
		msg, err := server.ReadClientMessage()
		if err != nil {
			return
		}
		_ = server.WriteResponse(&wire.Response{ID: msg.ID, Payload: []byte("8")})
	}()

	c := New(client, Config{})
	defer c.Close()

	resp, rerr := c.Call(context.Background(), &wire.ClientMessage{Kind: wire.MsgRequest, RequestName: "Arith.Add", Payload: []byte(`{"A":3,"B":5}`)})
	if rerr != nil {
		t.Fatalf("Call: %v", rerr)
	}
	if string(resp.Payload) != "8" {
		t.Fatalf("unexpected payload: %s", resp.Payload)
	}
}

func TestCallReportsServerError(t *testing.T) {
	client, server := transport.Pipe(codec.Get(codec.Json), 0)
	defer server.Close()

	go func() {
		msg, err := server.ReadClientMessage()
		if err != nil {
			return
		}
		_ = server.WriteResponse(&wire.Response{ID: msg.ID, Err: &wire.ServerError{Kind: wire.KindInternal, Detail: "boom"}})
	}()

	c := New(client, Config{})
	defer c.Close()

	_, rerr := c.Call(context.Background(), &wire.ClientMessage{Kind: wire.MsgRequest, RequestName: "Arith.Add"})
	if rerr == nil {
		t.Fatal("expected an error")
	}
	if _, ok := rerr.(*ErrServer); !ok {
		t.Fatalf("expected *ErrServer, got %T: %v", rerr, rerr)
	}
}

func TestCallCancelledByContextReleasesSlot(t *testing.T) {
	client, server := transport.Pipe(codec.Get(codec.Json), 0)
	defer client.Close()
	defer server.Close()

	// Server reads the request and the follow-up cancel, but never answers.
	go func() {
		for i := 0; i < 2; i++ {
			if _, err := server.ReadClientMessage(); err != nil {
				return
			}
		}
	}()

	c := New(client, Config{})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, rerr := c.Call(ctx, &wire.ClientMessage{Kind: wire.MsgRequest, RequestName: "Arith.Add"})
	if rerr == nil {
		t.Fatal("expected deadline exceeded")
	}
	if _, ok := rerr.(*ErrDeadlineExceeded); !ok {
		t.Fatalf("expected *ErrDeadlineExceeded, got %T", rerr)
	}

	deadline := time.Now().Add(time.Second)
	for c.InFlight() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("slot was not released after cancellation")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCloseFailsPendingCallsExactlyOnce(t *testing.T) {
	client, server := transport.Pipe(codec.Get(codec.Json), 0)
	defer server.Close()

	// Server reads the request but never answers, then the test closes the client.
	go func() {
		_, _ = server.ReadClientMessage()
	}()

	c := New(client, Config{})

	results := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, rerr := c.Call(context.Background(), &wire.ClientMessage{Kind: wire.MsgRequest, RequestName: "Arith.Add"})
			results <- rerr
		}()
	}

	time.Sleep(10 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for i := 0; i < 4; i++ {
		select {
		case err := <-results:
			if _, ok := err.(*ErrShutdown); !ok {
				t.Fatalf("expected *ErrShutdown, got %T: %v", err, err)
			}
		case <-time.After(time.Second):
			t.Fatal("a pending Call never completed after Close")
		}
	}
}

func TestMaxInFlightRequestsBoundsSlots(t *testing.T) {
	client, server := transport.Pipe(codec.Get(codec.Json), 0)
	defer client.Close()
	defer server.Close()

	// Server never reads, so every Call stays pending until ctx expires.
	c := New(client, Config{MaxInFlightRequests: 2, PendingRequestBuffer: 1})
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			_, _ = c.Call(ctx, &wire.ClientMessage{Kind: wire.MsgRequest, RequestName: "Arith.Add"})
		}()
		if c.InFlight() > 2 {
			t.Fatalf("InFlight exceeded MaxInFlightRequests: %d", c.InFlight())
		}
	}
	wg.Wait()
}
