// Package balance implements client-side load balancing among the RpcChannels a
// discoverer has surfaced for one endpoint. The default policy is weighted random
// selection with retry-on-different-instance; callers needing a different policy
// implement LoadBalance themselves.
package balance

import (
	"lrcall/address"
	"lrcall/client/rpcchannel"
)

// Change carries the difference between the current channel set and the previous one,
// used by Rebalance to apply an incremental update. A nil *Change passed to Rebalance
// means "clear the channel set".
type Change struct {
	All     []*rpcchannel.RpcChannel
	Added   []*rpcchannel.RpcChannel
	Updated []*rpcchannel.RpcChannel
	Removed []address.Address
}

// Picker is a single-use iterator over the channels that should be tried, in order,
// for one call attempt chain.
type Picker interface {
	// Next returns the next channel to try, or ok=false if the picker is exhausted.
	Next() (ch *rpcchannel.RpcChannel, ok bool)
}

// LoadBalance keeps the current set of RpcChannels for one endpoint and exposes a
// picker for each call.
type LoadBalance interface {
	// StartBalance installs the initial channel set.
	StartBalance(channels []*rpcchannel.RpcChannel)
	// Picker returns a single-use iterator over the current channel set.
	Picker() Picker
	// Rebalance atomically replaces the internal set. A nil change clears it.
	Rebalance(change *Change)
}
