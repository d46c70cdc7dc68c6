// Package server implements the per-connection request engine (C5): the BaseChannel
// that decodes incoming ClientMessages, dispatches each Request to a registered
// service method by reflection (the same mechanism the generated per-contract router
// delegates to), and writes back Responses, plus the admission and listen surface
// built around it.
package server

import (
	"context"
	"fmt"
	"log"
	"sync"

	"lrcall/codec"
	"lrcall/transport"
	"lrcall/wire"
)

// Config parameterizes one BaseChannel.
type Config struct {
	// PendingResponseBuffer bounds the outbound response queue; once full, in-flight
	// handlers block on completion instead of piling up unboundedly. Zero is
	// interpreted as 10.
	PendingResponseBuffer int
}

func pendingResponseBuffer(n int) int {
	if n <= 0 {
		return 10
	}
	return n
}

// engine is one BaseChannel: the decode/dispatch/encode loop for a single accepted
// connection.
type engine struct {
	t        *transport.Transport
	codec    codec.Codec
	services map[string]*service
	config   Config

	outbound chan *wire.Response

	mu       sync.Mutex
	inflight map[uint64]context.CancelFunc

	wg sync.WaitGroup
}

func newEngine(t *transport.Transport, c codec.Codec, services map[string]*service, config Config) *engine {
	return &engine{
		t:        t,
		codec:    c,
		services: services,
		config:   config,
		outbound: make(chan *wire.Response, pendingResponseBuffer(config.PendingResponseBuffer)),
		inflight: make(map[uint64]context.CancelFunc),
	}
}

// serve runs the read/write loops until the connection closes, then waits for every
// in-flight handler to finish before returning.
func (e *engine) serve() {
	writeDone := make(chan struct{})
	go e.writeLoop(writeDone)

	for {
		msg, err := e.t.ReadClientMessage()
		if err != nil {
			break
		}
		switch msg.Kind {
		case wire.MsgRequest:
			e.accept(msg)
		case wire.MsgCancel:
			e.cancel(msg.ID)
		}
	}

	e.cancelAll()
	close(e.outbound)
	<-writeDone
	e.wg.Wait()
}

func (e *engine) writeLoop(done chan<- struct{}) {
	defer close(done)
	for resp := range e.outbound {
		if err := e.t.WriteResponse(resp); err != nil {
			log.Printf("server: write response: %v", err)
			return
		}
	}
}

// accept starts an in-flight slot for msg's id and schedules the service method in its
// own goroutine so a slow handler never blocks the read loop or other in-flight
// handlers on the same connection.
func (e *engine) accept(msg *wire.ClientMessage) {
	ctx := context.Background()
	var cancel context.CancelFunc
	if !msg.Deadline.IsZero() {
		ctx, cancel = context.WithDeadline(ctx, msg.Deadline)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	e.mu.Lock()
	e.inflight[msg.ID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.handle(ctx, cancel, msg)
}

// cancel aborts the in-flight handler for id, if any: its context is cancelled and its
// slot removed, so the handler goroutine (once it notices ctx.Done()) delivers no
// response at all.
func (e *engine) cancel(id uint64) {
	cancel, ok := e.removeSlot(id)
	if ok {
		cancel()
	}
}

func (e *engine) cancelAll() {
	e.mu.Lock()
	cancels := e.inflight
	e.inflight = make(map[uint64]context.CancelFunc)
	e.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (e *engine) removeSlot(id uint64) (context.CancelFunc, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cancel, ok := e.inflight[id]
	if ok {
		delete(e.inflight, id)
	}
	return cancel, ok
}

// handle decodes the payload, invokes the matching service method by reflection, and
// enqueues the Response. A handler panic is converted into a ServerError response
// instead of taking down the connection; a decode or dispatch failure likewise becomes
// a ServerError rather than closing the channel. Only a frame-level read failure closes
// the connection.
func (e *engine) handle(ctx context.Context, cancel context.CancelFunc, msg *wire.ClientMessage) {
	defer e.wg.Done()
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			e.deliver(ctx, msg.ID, nil, &wire.ServerError{Kind: wire.KindInternal, Detail: fmt.Sprintf("panic: %v", r)})
		}
	}()

	resp, svcErr := e.dispatch(ctx, msg)
	e.deliver(ctx, msg.ID, resp, svcErr)
}

func (e *engine) dispatch(ctx context.Context, msg *wire.ClientMessage) ([]byte, *wire.ServerError) {
	contract, op, ok := splitRequestName(msg.RequestName)
	if !ok {
		return nil, &wire.ServerError{Kind: wire.KindInvalidArgument, Detail: "malformed request name: " + msg.RequestName}
	}
	svc, ok := e.services[contract]
	if !ok {
		return nil, &wire.ServerError{Kind: wire.KindNotFound, Detail: "unknown contract: " + contract}
	}
	return dispatchOne(ctx, svc, op, msg.RequestName, msg.Payload, e.codec)
}

// deliver enqueues the Response, unless id's slot was already removed by a Cancel or
// the request context is already done: a cancelled call never receives a completion.
func (e *engine) deliver(ctx context.Context, id uint64, payload []byte, svcErr *wire.ServerError) {
	if _, ok := e.removeSlot(id); !ok {
		return
	}
	if ctx.Err() != nil {
		return
	}
	resp := &wire.Response{ID: id, Payload: payload, Err: svcErr}
	select {
	case e.outbound <- resp:
	case <-ctx.Done():
	}
}

func splitRequestName(name string) (contract, op string, ok bool) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i], name[i+1:], true
		}
	}
	return "", "", false
}
