// Package lrcall is the dispatch core's top-level entry point (C10): it wires a local
// service implementation, a discoverer, and a load balancer into one LRCall value whose
// Call method decides, per invocation, whether to run the request in-process or forward
// it to a remote instance, with reconnect, retry, and graceful fallback to local.
package lrcall

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"lrcall/address"
	"lrcall/balance"
	"lrcall/client/corechannel"
	"lrcall/client/rpcchannel"
	"lrcall/codec"
	"lrcall/component"
	"lrcall/discover"
	"lrcall/server"
	"lrcall/wire"
)

// ErrDiscover wraps a failure from the initial discover(endpoint) lookup during
// TrySpawn.
type ErrDiscover struct{ Cause error }

func (e *ErrDiscover) Error() string { return fmt.Sprintf("lrcall: discover: %v", e.Cause) }
func (e *ErrDiscover) Unwrap() error { return e.Cause }

// ErrNewBalance wraps a failure installing the initial channel set on the balancer
// during TrySpawn.
type ErrNewBalance struct{ Cause error }

func (e *ErrNewBalance) Error() string { return fmt.Sprintf("lrcall: new balance: %v", e.Cause) }
func (e *ErrNewBalance) Unwrap() error { return e.Cause }

// ErrNewLRCall wraps any other setup-time failure during TrySpawn.
type ErrNewLRCall struct{ Cause error }

func (e *ErrNewLRCall) Error() string { return fmt.Sprintf("lrcall: new lrcall: %v", e.Cause) }
func (e *ErrNewLRCall) Unwrap() error { return e.Cause }

// ErrClientUnconfigured is returned by Call when no execution path is available at
// all: mode is Rpc, the picker is exhausted, and no local serve was configured to fall
// back to.
type ErrClientUnconfigured struct{ CallType string }

func (e *ErrClientUnconfigured) Error() string {
	return "lrcall: no call path configured for " + e.CallType
}

// RetryFunc decides whether to retry a failed attempt. attempt is 1-based (the first
// try is attempt 1). It is consulted after both local and remote failures. Retries are
// at-least-once: a retried call may run the server-side handler again if an earlier
// attempt executed but its response was lost.
type RetryFunc func(err error, attempt int) bool

// Builder assembles an LRCall. All fields except Component and Discover are optional.
type Builder struct {
	Component *component.Component[*server.LocalService]
	Discover  discover.Discover
	Balancer  balance.LoadBalance
	Codec     codec.Type
	Core      corechannel.Config
	MaxFrameLen uint32
	RetryFn   RetryFunc
}

// LRCall is the live dispatcher produced by Builder.TrySpawn.
type LRCall struct {
	component *component.Component[*server.LocalService]
	balancer  balance.LoadBalance
	codecType codec.Type
	codec     codec.Codec
	core      corechannel.Config
	maxFrameLen uint32
	retryFn   RetryFunc

	mode atomic.Int32 // discover.Mode, accessed only via atomics

	channelsMu sync.Mutex
	channels   map[string]*rpcchannel.RpcChannel // keyed by address.Key(), owned by the watch loop

	backoff *rate.Limiter

	stopWatch context.CancelFunc
}

func modeValue(m discover.Mode) int32 { return int32(m) }

// TrySpawn performs the warm-up sequence described by the dispatch core's setup
// contract: one discovery lookup, opening RpcChannels for every surfaced instance
// (logging and skipping failures), handing the survivors to the balancer, and -- if the
// discoverer supports it -- starting a background watch loop that keeps the balancer in
// sync.
func (b *Builder) TrySpawn(ctx context.Context) (*LRCall, error) {
	if b.Balancer == nil {
		b.Balancer = balance.NewWeightedRandom()
	}

	lr := &LRCall{
		component:   b.Component,
		balancer:    b.Balancer,
		codecType:   b.Codec,
		codec:       codec.Get(b.Codec),
		core:        b.Core,
		maxFrameLen: b.MaxFrameLen,
		retryFn:     b.RetryFn,
		channels:    make(map[string]*rpcchannel.RpcChannel),
		backoff:     rate.NewLimiter(rate.Limit(1), 1), // at most one reconnect attempt per second per dispatcher
	}

	disc, err := b.Discover.Discover(ctx, b.Component.Endpoint)
	if err != nil {
		return nil, &ErrDiscover{Cause: err}
	}

	if disc.Mode == discover.Lpc {
		lr.mode.Store(modeValue(discover.Lpc))
	} else {
		lr.mode.Store(modeValue(discover.Rpc))
		// openChannels logs and skips any instance that fails to dial, per spec.md
		// §4.7 step 2; the survivors (possibly none) are handed to the balancer
		// unconditionally. A picker left with nothing to try isn't a setup failure —
		// callRemote's picker-exhaustion path falls back to local serve for it.
		channels := lr.openChannels(disc.Instances)
		b.Balancer.StartBalance(channels)
	}

	watchCh, err := b.Discover.Watch(ctx, b.Component.Endpoint)
	if err != nil {
		return nil, &ErrNewLRCall{Cause: err}
	}
	if watchCh != nil {
		watchCtx, cancel := context.WithCancel(ctx)
		lr.stopWatch = cancel
		go lr.watchLoop(watchCtx, watchCh)
	}

	return lr, nil
}

// openChannels dials every instance, logging and skipping any that fail, and records
// the survivors in lr.channels keyed by address so later diffs can find them again.
func (lr *LRCall) openChannels(instances []*discover.Instance) []*rpcchannel.RpcChannel {
	lr.channelsMu.Lock()
	defer lr.channelsMu.Unlock()

	channels := make([]*rpcchannel.RpcChannel, 0, len(instances))
	for _, inst := range instances {
		rc, err := rpcchannel.New(inst, rpcchannel.Config{Codec: lr.codecType, Core: lr.core, MaxFrameLen: lr.maxFrameLen})
		if err != nil {
			log.Printf("lrcall: skipping instance %s: %v", inst.Address, err)
			continue
		}
		lr.channels[inst.Address.Key()] = rc
		channels = append(channels, rc)
	}
	return channels
}

// watchLoop serially applies discovery Change events until ctx is cancelled or the
// channel closes.
func (lr *LRCall) watchLoop(ctx context.Context, watchCh <-chan discover.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-watchCh:
			if !ok {
				return
			}
			lr.applyChange(change)
		}
	}
}

func (lr *LRCall) applyChange(change discover.Change) {
	if change.Mode == discover.Lpc {
		lr.mode.Store(modeValue(discover.Lpc))
		lr.balancer.Rebalance(nil)
		lr.clearChannels()
		return
	}

	lr.mode.Store(modeValue(discover.Rpc))

	lr.channelsMu.Lock()
	var added, updated []*rpcchannel.RpcChannel
	for _, inst := range change.Change.Added {
		rc, err := rpcchannel.New(inst, rpcchannel.Config{Codec: lr.codecType, Core: lr.core, MaxFrameLen: lr.maxFrameLen})
		if err != nil {
			log.Printf("lrcall: skipping added instance %s: %v", inst.Address, err)
			continue
		}
		lr.channels[inst.Address.Key()] = rc
		added = append(added, rc)
	}
	for _, inst := range change.Change.Updated {
		if existing, ok := lr.channels[inst.Address.Key()]; ok {
			rebuilt := existing.WithInstance(inst)
			lr.channels[inst.Address.Key()] = rebuilt
			updated = append(updated, rebuilt)
		}
	}
	var removed []address.Address
	for _, inst := range change.Change.Removed {
		if existing, ok := lr.channels[inst.Address.Key()]; ok {
			existing.Close()
			delete(lr.channels, inst.Address.Key())
		}
		removed = append(removed, inst.Address)
	}
	all := make([]*rpcchannel.RpcChannel, 0, len(lr.channels))
	for _, rc := range lr.channels {
		all = append(all, rc)
	}
	lr.channelsMu.Unlock()

	lr.balancer.Rebalance(&balance.Change{All: all, Added: added, Updated: updated, Removed: removed})
}

func (lr *LRCall) clearChannels() {
	lr.channelsMu.Lock()
	for k, rc := range lr.channels {
		rc.Close()
		delete(lr.channels, k)
	}
	lr.channelsMu.Unlock()
}

// Close stops the background watch loop, if any, and closes every remote channel.
func (lr *LRCall) Close() {
	if lr.stopWatch != nil {
		lr.stopWatch()
	}
	lr.clearChannels()
}

// Call executes requestName with payload, choosing a local or remote path based on the
// dispatcher's current mode. requestName is "<Contract>.<operation>", payload is already
// encoded with the configured codec.
func (lr *LRCall) Call(ctx context.Context, requestName string, payload []byte) ([]byte, error) {
	if discover.Mode(lr.mode.Load()) == discover.Lpc {
		return lr.callLocalWithRetry(ctx, requestName, payload)
	}
	return lr.callRemote(ctx, requestName, payload)
}

func (lr *LRCall) callLocal(ctx context.Context, requestName string, payload []byte) ([]byte, error) {
	if lr.component == nil || lr.component.Serve == nil {
		return nil, &ErrClientUnconfigured{CallType: requestName}
	}
	out, svcErr := lr.component.Serve.Call(ctx, requestName, payload, lr.codec)
	if svcErr != nil {
		return nil, &corechannel.ErrServer{Err: svcErr}
	}
	return out, nil
}

func (lr *LRCall) callLocalWithRetry(ctx context.Context, requestName string, payload []byte) ([]byte, error) {
	attempt := 1
	for {
		out, err := lr.callLocal(ctx, requestName, payload)
		if err == nil || lr.retryFn == nil || !lr.retryFn(err, attempt) {
			return out, err
		}
		attempt++
	}
}

// callRemote tries successive picks from the balancer, retrying per retryFn, and falls
// back to local execution if the picker is exhausted without a success -- graceful
// degradation rather than a hard failure.
func (lr *LRCall) callRemote(ctx context.Context, requestName string, payload []byte) ([]byte, error) {
	picker := lr.balancer.Picker()
	attempt := 1
	var lastErr error

	for {
		ch, ok := picker.Next()
		if !ok {
			break
		}
		out, rerr := ch.Call(ctx, requestMessage(requestName, payload, ctx))
		if rerr == nil {
			return out.Payload, nil
		}
		lastErr = rerr
		if _, shutdown := rerr.(*corechannel.ErrShutdown); shutdown {
			lr.scheduleReconnect(ch)
		}
		if lr.retryFn != nil && !lr.retryFn(rerr, attempt) {
			break
		}
		attempt++
	}

	if lr.component != nil && lr.component.Serve != nil {
		log.Printf("lrcall: %s: no remote path succeeded (%v), falling back to local", requestName, lastErr)
		return lr.callLocal(ctx, requestName, payload)
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &ErrClientUnconfigured{CallType: requestName}
}

// requestMessage builds the wire envelope for one remote call attempt. The id is left
// zero; corechannel.Channel.Call assigns it when the request is actually enqueued.
func requestMessage(requestName string, payload []byte, ctx context.Context) *wire.ClientMessage {
	msg := &wire.ClientMessage{Kind: wire.MsgRequest, RequestName: requestName, Payload: payload}
	if deadline, ok := ctx.Deadline(); ok {
		msg.Deadline = deadline
	}
	return msg
}

// scheduleReconnect kicks off a best-effort reconnect for a channel that reported
// Shutdown, rate-limited so a persistently down instance doesn't spin.
func (lr *LRCall) scheduleReconnect(ch *rpcchannel.RpcChannel) {
	if !lr.backoff.Allow() {
		return
	}
	go func() {
		if err := ch.Reconnect(); err != nil {
			log.Printf("lrcall: reconnect to %s failed: %v", ch.Address(), err)
		}
	}()
}
