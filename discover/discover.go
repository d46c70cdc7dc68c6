// Package discover defines the service-discovery interface the dispatch core consults
// to decide whether a call should run locally or be routed to a set of remote
// instances, plus two reference implementations: FixedDiscover (an explicit address
// list) and DummyDiscover (always empty).
package discover

import (
	"context"

	"lrcall/address"
	"lrcall/component"
)

// Instance is a concrete addressable endpoint with a weight (used by the balancer; a
// weight of 0 excludes the instance from picking) and opaque routing tags. Instances
// are immutable once observed — an update produces a new Instance, never a mutation.
type Instance struct {
	Address address.Address
	Weight  uint32
	Tags    map[string]string
}

// Mode selects whether a Discovery result means "call the local implementation" or
// "call one of these remote instances".
type Mode byte

const (
	// Lpc signals: call locally, ignore any remote endpoints.
	Lpc Mode = iota
	// Rpc signals: the instance list is authoritative for this moment in time.
	Rpc
)

// Discovery is the authoritative statement returned by a one-shot lookup or pushed by
// a watch: either Lpc (Instances is always empty and ignored) or Rpc, carrying the
// current instance list.
type Discovery struct {
	Key       string
	Mode      Mode
	Instances []*Instance
}

// Change is a single update pushed by Watch: either a transition to Lpc mode, or an Rpc
// mode update carrying the diff against the previous Rpc instance list.
type Change struct {
	Key    string
	Mode   Mode
	Change RpcChange // meaningful only when Mode == Rpc
}

// RpcChange carries the difference between the current discovery result and the
// previous one, so a load balancer can apply an incremental update instead of
// recomputing from scratch.
type RpcChange struct {
	All     []*Instance
	Added   []*Instance
	Updated []*Instance
	Removed []*Instance
}

// Discover is the service-discovery interface the dispatch core depends on. A one-shot
// Discover call is mandatory; Watch is optional — a nil channel (or a discoverer that
// never pushes) means the core behaves as if discovery is static after warm-up.
type Discover interface {
	// Discover performs a one-shot lookup for endpoint.
	Discover(ctx context.Context, endpoint *component.Endpoint) (Discovery, error)
	// Watch returns a channel of incremental Change events for endpoint, or nil if this
	// discoverer does not support push updates.
	Watch(ctx context.Context, endpoint *component.Endpoint) (<-chan Change, error)
}

// DiffByAddress compares prev and next purely by address (ignoring weight/tag changes,
// which is why Updated is always empty here) and reports whether there was any
// difference at all. A discoverer should skip dispatching an event when changed is
// false — applying the same next set twice must be a no-op (idempotence), and this is
// the building block that guarantees it.
func DiffByAddress(prev, next []*Instance) (change RpcChange, changed bool) {
	prevByAddr := make(map[string]*Instance, len(prev))
	nextByAddr := make(map[string]*Instance, len(next))
	for _, inst := range prev {
		prevByAddr[inst.Address.Key()] = inst
	}
	for _, inst := range next {
		nextByAddr[inst.Address.Key()] = inst
	}

	var added, removed []*Instance
	for _, inst := range next {
		if _, ok := prevByAddr[inst.Address.Key()]; !ok {
			added = append(added, inst)
		}
	}
	for _, inst := range prev {
		if _, ok := nextByAddr[inst.Address.Key()]; !ok {
			removed = append(removed, inst)
		}
	}

	change = RpcChange{All: next, Added: added, Removed: removed}
	return change, len(added) > 0 || len(removed) > 0
}
