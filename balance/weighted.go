package balance

import (
	"math/rand"
	"sync/atomic"

	"lrcall/client/rpcchannel"
)

// WeightedRandom is a LoadBalance that picks among the current channel set with
// probability proportional to each channel's advertised weight, same algorithm as a
// weighted-random balancer: sum the weights, draw uniformly in [0, sum), and walk the
// list subtracting weights until the draw goes negative.
//
// Channels are excluded as they're tried within a single call attempt chain so a retry
// never hits the same instance twice; a channel with weight 0 is never picked, so it
// acts as "drained" without having to be removed from the set.
//
// The current channel set is held behind an atomic pointer so Rebalance can swap it in
// one step: every Picker created before the swap keeps iterating over the snapshot it
// was handed, and every Picker created after sees the new set, with no lock contention
// between concurrent callers.
type WeightedRandom struct {
	current atomic.Pointer[[]*rpcchannel.RpcChannel]
}

// NewWeightedRandom returns an empty balancer; StartBalance or Rebalance must be called
// before Picker is useful.
func NewWeightedRandom() *WeightedRandom {
	wr := &WeightedRandom{}
	empty := []*rpcchannel.RpcChannel{}
	wr.current.Store(&empty)
	return wr
}

func (wr *WeightedRandom) StartBalance(channels []*rpcchannel.RpcChannel) {
	snap := append([]*rpcchannel.RpcChannel(nil), channels...)
	wr.current.Store(&snap)
}

func (wr *WeightedRandom) Rebalance(change *Change) {
	if change == nil {
		empty := []*rpcchannel.RpcChannel{}
		wr.current.Store(&empty)
		return
	}
	snap := append([]*rpcchannel.RpcChannel(nil), change.All...)
	wr.current.Store(&snap)
}

func (wr *WeightedRandom) Picker() Picker {
	current := *wr.current.Load()
	pool := make([]*rpcchannel.RpcChannel, 0, len(current))
	for _, ch := range current {
		if ch.Weight() > 0 {
			pool = append(pool, ch)
		}
	}
	return &weightedPicker{pool: pool}
}

// weightedPicker draws without replacement from pool: each Next call removes its result
// from the remaining pool, so a retry chain never revisits an instance it already
// tried and never hands out a channel whose address was already picked.
type weightedPicker struct {
	pool []*rpcchannel.RpcChannel
}

func (p *weightedPicker) Next() (*rpcchannel.RpcChannel, bool) {
	if len(p.pool) == 0 {
		return nil, false
	}
	var total uint32
	for _, ch := range p.pool {
		total += ch.Weight()
	}
	if total == 0 {
		return nil, false
	}
	r := rand.Int63n(int64(total))
	idx := 0
	for i, ch := range p.pool {
		r -= int64(ch.Weight())
		if r < 0 {
			idx = i
			break
		}
	}
	chosen := p.pool[idx]
	p.pool = append(p.pool[:idx], p.pool[idx+1:]...)
	return chosen, true
}
