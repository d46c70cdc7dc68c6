// Package corechannel implements the client-side multiplexed request/response
// pairing over a single Transport: C6 in the dispatch core's component map. It is
// deliberately unaware of reconnection, load balancing, or discovery — those are
// layered on top by client/rpcchannel and the lrcall dispatcher.
package corechannel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"lrcall/transport"
	"lrcall/wire"
)

// RpcError is implemented by every error this package (and the layers built on it)
// can return from Call.
type RpcError interface {
	error
	rpcError()
}

// ErrShutdown is returned by every pending and future Call once the underlying
// transport has closed.
type ErrShutdown struct{ Cause error }

func (e *ErrShutdown) Error() string {
	if e.Cause == nil {
		return "corechannel: shutdown"
	}
	return fmt.Sprintf("corechannel: shutdown: %v", e.Cause)
}
func (*ErrShutdown) rpcError()       {}
func (e *ErrShutdown) Unwrap() error { return e.Cause }

// ErrSend is returned when a request could not be enqueued because the outbound path
// is already closed.
type ErrSend struct{ Cause error }

func (e *ErrSend) Error() string { return fmt.Sprintf("corechannel: send: %v", e.Cause) }
func (*ErrSend) rpcError()       {}
func (e *ErrSend) Unwrap() error { return e.Cause }

// ErrDeadlineExceeded is returned when ctx's deadline elapses before a response
// arrives.
type ErrDeadlineExceeded struct{}

func (*ErrDeadlineExceeded) Error() string { return "corechannel: deadline exceeded" }
func (*ErrDeadlineExceeded) rpcError()     {}

// ErrServer wraps a server-reported failure, propagated to the caller unchanged.
type ErrServer struct{ Err *wire.ServerError }

func (e *ErrServer) Error() string { return "corechannel: server error: " + e.Err.Error() }
func (*ErrServer) rpcError()       {}
func (e *ErrServer) Unwrap() error { return e.Err }

// Config bounds the resources one Channel may use.
type Config struct {
	// MaxInFlightRequests bounds the slot map; Call blocks (applying backpressure)
	// once it is full. Zero means unbounded.
	MaxInFlightRequests int
	// PendingRequestBuffer bounds the outbound queue depth. Zero (or a negative value)
	// selects a depth of 64 rather than an unbuffered queue, which would serialize Call
	// with the write loop.
	PendingRequestBuffer int
}

type pending struct {
	done chan *wire.Response
}

// Channel holds the in-flight request map keyed by request id, pairs requests with
// responses read back from the Transport, and reports ErrShutdown to every pending
// (and future) caller once the transport closes.
type Channel struct {
	t      *transport.Transport
	config Config

	nextID   uint64
	mu       sync.Mutex
	slots    map[uint64]*pending
	closed   bool
	closeErr error

	outbound chan *wire.ClientMessage
	sem      chan struct{} // in-flight admission; nil when unbounded
	closeCh  chan struct{}

	wg sync.WaitGroup
}

// New wraps t with multiplexing: it spawns the dispatch loop (outbound writer +
// inbound reader) and returns immediately.
func New(t *transport.Transport, config Config) *Channel {
	c := &Channel{
		t:        t,
		config:   config,
		slots:    make(map[uint64]*pending),
		outbound: make(chan *wire.ClientMessage, bufferSize(config.PendingRequestBuffer)),
		closeCh:  make(chan struct{}),
	}
	if config.MaxInFlightRequests > 0 {
		c.sem = make(chan struct{}, config.MaxInFlightRequests)
	}
	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
	return c
}

func bufferSize(n int) int {
	if n <= 0 {
		return 64
	}
	return n
}

// Call allocates a request id, enqueues a Request frame, and blocks until the matching
// Response arrives, ctx is done, or the channel shuts down. If ctx is cancelled before
// completion, a Cancel frame is emitted for the id and the slot is released, so the
// channel never leaks a slot waiting for a response nobody wants anymore.
func (c *Channel) Call(ctx context.Context, req *wire.ClientMessage) (*wire.Response, RpcError) {
	if c.sem != nil {
		select {
		case c.sem <- struct{}{}:
			defer func() { <-c.sem }()
		case <-ctx.Done():
			return nil, &ErrDeadlineExceeded{}
		}
	}

	id := atomic.AddUint64(&c.nextID, 1)
	req.ID = id
	slot := &pending{done: make(chan *wire.Response, 1)}

	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return nil, &ErrShutdown{Cause: err}
	}
	c.slots[id] = slot
	c.mu.Unlock()

	select {
	case c.outbound <- req:
	case <-ctx.Done():
		c.removeSlot(id)
		return nil, &ErrDeadlineExceeded{}
	case <-c.closeCh:
		c.removeSlot(id)
		c.mu.Lock()
		err := c.closeErr
		c.mu.Unlock()
		return nil, &ErrShutdown{Cause: err}
	}

	select {
	case resp, ok := <-slot.done:
		if !ok {
			c.mu.Lock()
			err := c.closeErr
			c.mu.Unlock()
			return nil, &ErrShutdown{Cause: err}
		}
		if resp.Err != nil {
			return nil, &ErrServer{Err: resp.Err}
		}
		return resp, nil
	case <-ctx.Done():
		c.cancel(id)
		return nil, &ErrDeadlineExceeded{}
	}
}

// removeSlot deletes a slot without sending a Cancel frame, used when the request was
// never actually written to the wire.
func (c *Channel) removeSlot(id uint64) {
	c.mu.Lock()
	delete(c.slots, id)
	c.mu.Unlock()
}

// cancel releases id's slot and enqueues a Cancel frame for it when the outbound queue
// has room. The slot is always released, so no slot is left waiting for a response
// nobody wants; the Cancel frame is not sent when the outbound queue is full or the
// channel is shutting down.
func (c *Channel) cancel(id uint64) {
	c.removeSlot(id)
	msg := &wire.ClientMessage{Kind: wire.MsgCancel, ID: id}
	select {
	case c.outbound <- msg:
	case <-c.closeCh:
		// Channel is already shutting down; the server will notice the connection
		// drop and abort the handler on its own.
	default:
		// Outbound is full; drop the cancel rather than block the caller further.
		// The in-flight handler keeps running server-side, but the slot is already
		// released, so no completion is lost.
	}
}

func (c *Channel) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case msg := <-c.outbound:
			if err := c.t.WriteClientMessage(msg); err != nil {
				c.shutdown(err)
				return
			}
		case <-c.closeCh:
			return
		}
	}
}

func (c *Channel) readLoop() {
	defer c.wg.Done()
	for {
		resp, err := c.t.ReadResponse()
		if err != nil {
			c.shutdown(err)
			return
		}
		c.mu.Lock()
		slot, ok := c.slots[resp.ID]
		if ok {
			delete(c.slots, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			slot.done <- resp
		}
	}
}

// shutdown marks the channel closed and completes every pending slot with
// ErrShutdown. It runs at most once (guarded by closed) and detaches the slot map under
// the lock before closing each detached slot's channel exactly once, so no caller ever
// observes two completions for the same request id.
func (c *Channel) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = cause
	slots := c.slots
	c.slots = make(map[uint64]*pending)
	c.mu.Unlock()

	close(c.closeCh)
	for _, slot := range slots {
		close(slot.done)
	}
}

// Close closes the underlying transport, which drives both loops to exit and every
// pending caller to observe ErrShutdown. It blocks until both loops have exited.
func (c *Channel) Close() error {
	err := c.t.Close()
	c.shutdown(err)
	c.wg.Wait()
	return err
}

// InFlight reports the current slot map size, for tests asserting that
// MaxInFlightRequests actually bounds concurrent requests.
func (c *Channel) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}
