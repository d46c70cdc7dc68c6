// Package rpcchannel wraps one corechannel.Channel with the identity and reconnection
// discipline the load balancer needs: an address and routing metadata it can pick on,
// and a single "live channel or disconnected" cell that many concurrent callers read
// from and at most one reconnect attempt writes to at a time.
package rpcchannel

import (
	"context"
	"fmt"
	"sync"

	"lrcall/address"
	"lrcall/client/corechannel"
	"lrcall/codec"
	"lrcall/discover"
	"lrcall/transport"
	"lrcall/wire"
)

// Config carries everything needed to dial and operate one channel.
type Config struct {
	Codec       codec.Type
	Core        corechannel.Config
	MaxFrameLen uint32
}

// cell is the "live channel or disconnected" slot spec.md §4.4/§9 describes as an
// atomic-option slot: many concurrent readers take the read lock for Call, and at
// most one writer at a time clears it on shutdown or installs a fresh connection on
// reconnect. It is held behind a pointer so that RpcChannel.WithInstance clones that
// advertise new metadata for the same address still observe the one physical
// connection's state — a shutdown seen through one clone is a shutdown seen through
// all of them, since they are the same transport under different metadata.
type cell struct {
	mu   sync.RWMutex
	conn *corechannel.Channel // nil when disconnected
}

// RpcChannel is a single remote instance as the balancer sees it: a stable address,
// routing metadata, and a shared cell holding the live corechannel.Channel.
type RpcChannel struct {
	config Config
	addr   address.Address
	cell   *cell

	metaMu sync.RWMutex
	weight uint32
	tags   map[string]string
}

// New dials addr and returns a live RpcChannel advertising inst's weight and tags.
func New(inst *discover.Instance, config Config) (*RpcChannel, error) {
	rc := &RpcChannel{
		config: config,
		addr:   inst.Address,
		weight: inst.Weight,
		tags:   inst.Tags,
		cell:   &cell{},
	}
	if err := rc.dial(); err != nil {
		return nil, err
	}
	return rc, nil
}

func (rc *RpcChannel) dial() error {
	t, err := transport.Dial(rc.addr, codec.Get(rc.config.Codec), rc.config.MaxFrameLen)
	if err != nil {
		return fmt.Errorf("rpcchannel: dial %s: %w", rc.addr, err)
	}
	conn := corechannel.New(t, rc.config.Core)
	rc.cell.mu.Lock()
	rc.cell.conn = conn
	rc.cell.mu.Unlock()
	return nil
}

// Address returns the instance address this channel was created for.
func (rc *RpcChannel) Address() address.Address { return rc.addr }

// Weight returns the balancer weight currently advertised for this instance. A weight
// of 0 means the balancer must never pick it.
func (rc *RpcChannel) Weight() uint32 {
	rc.metaMu.RLock()
	defer rc.metaMu.RUnlock()
	return rc.weight
}

// Tags returns the routing tags currently advertised for this instance.
func (rc *RpcChannel) Tags() map[string]string {
	rc.metaMu.RLock()
	defer rc.metaMu.RUnlock()
	return rc.tags
}

// UpdateMetadata applies a discovery update (new weight/tags for the same address)
// without touching the underlying connection.
func (rc *RpcChannel) UpdateMetadata(inst *discover.Instance) {
	rc.metaMu.Lock()
	rc.weight = inst.Weight
	rc.tags = inst.Tags
	rc.metaMu.Unlock()
}

// Call forwards to the live corechannel.Channel, or fails immediately with an
// ErrShutdown-shaped error if the channel is currently disconnected (e.g. between a
// dial failure and the next Reconnect). The live channel handle is copied out of the
// cell under the read lock and never held across the actual network round trip, so
// Reconnect never blocks behind an in-flight Call.
//
// A RpcError::Shutdown result clears the cell to nil so every subsequent Call fails
// fast without retrying a transport that has already been torn down, until Reconnect
// installs a fresh one.
func (rc *RpcChannel) Call(ctx context.Context, req *wire.ClientMessage) (*wire.Response, corechannel.RpcError) {
	rc.cell.mu.RLock()
	conn := rc.cell.conn
	rc.cell.mu.RUnlock()
	if conn == nil {
		return nil, &corechannel.ErrShutdown{Cause: fmt.Errorf("rpcchannel: %s is disconnected", rc.addr)}
	}
	resp, rerr := conn.Call(ctx, req)
	if _, ok := rerr.(*corechannel.ErrShutdown); ok {
		rc.cell.mu.Lock()
		if rc.cell.conn == conn {
			rc.cell.conn = nil
		}
		rc.cell.mu.Unlock()
	}
	return resp, rerr
}

// Reconnect closes any existing connection and dials a fresh one to the same address.
// It holds the write side of the cell only for the instant the new channel is swapped
// in, so a long-running Call already in flight through the old channel is unaffected
// except that it will observe ErrShutdown once the old transport closes. Because the
// cell is shared with every WithInstance clone of this channel, the new connection
// becomes visible through all of them at once.
func (rc *RpcChannel) Reconnect() error {
	rc.cell.mu.Lock()
	old := rc.cell.conn
	rc.cell.conn = nil
	rc.cell.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return rc.dial()
}

// Close tears down the underlying connection for good; the RpcChannel must not be used
// again afterward. Since the cell is shared, every WithInstance clone of this channel
// is closed too.
func (rc *RpcChannel) Close() error {
	rc.cell.mu.Lock()
	conn := rc.cell.conn
	rc.cell.conn = nil
	rc.cell.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// WithInstance returns a shallow copy of rc advertising inst's weight and tags but
// sharing the same cell, for the common discovery-update case where only an instance's
// metadata changed and re-dialing would be wasted work. Sharing the cell (not just
// copying the connection pointer out of it once) keeps a shutdown-clear or reconnect
// on either clone visible to the other, since both describe the same physical
// connection.
func (rc *RpcChannel) WithInstance(inst *discover.Instance) *RpcChannel {
	return &RpcChannel{
		config: rc.config,
		addr:   rc.addr,
		weight: inst.Weight,
		tags:   inst.Tags,
		cell:   rc.cell,
	}
}
