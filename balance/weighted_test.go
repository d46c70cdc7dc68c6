package balance

import (
	"net"
	"testing"

	"lrcall/address"
	"lrcall/client/rpcchannel"
	"lrcall/codec"
	"lrcall/discover"
)

// idleListener accepts and immediately parks connections; these tests only exercise
// picking, never Call, so nothing needs to answer requests.
func idleListener(t *testing.T) (net.Listener, address.Address) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				buf := make([]byte, 1)
				for {
					if _, err := conn.Read(buf); err != nil {
						conn.Close()
						return
					}
				}
			}()
		}
	}()
	addr, err := address.Parse(l.Addr().String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return l, addr
}

func newChannel(t *testing.T, weight uint32) (*rpcchannel.RpcChannel, net.Listener) {
	t.Helper()
	l, addr := idleListener(t)
	rc, err := rpcchannel.New(&discover.Instance{Address: addr, Weight: weight}, rpcchannel.Config{Codec: codec.Json})
	if err != nil {
		t.Fatalf("rpcchannel.New: %v", err)
	}
	return rc, l
}

func TestWeightedRandomRespectsWeightRatio(t *testing.T) {
	a, la := newChannel(t, 10)
	b, lb := newChannel(t, 5)
	c, lc := newChannel(t, 10)
	defer la.Close()
	defer lb.Close()
	defer lc.Close()
	defer a.Close()
	defer b.Close()
	defer c.Close()

	wr := NewWeightedRandom()
	wr.StartBalance([]*rpcchannel.RpcChannel{a, b, c})

	counts := map[string]int{}
	const n = 10000
	for i := 0; i < n; i++ {
		p := wr.Picker()
		ch, ok := p.Next()
		if !ok {
			t.Fatal("expected a channel")
		}
		counts[ch.Address().String()]++
	}

	ratio := float64(counts[a.Address().String()]) / float64(counts[b.Address().String()])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio a/b = %.2f, expected ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeightNeverPicked(t *testing.T) {
	a, la := newChannel(t, 0)
	b, lb := newChannel(t, 1)
	defer la.Close()
	defer lb.Close()
	defer a.Close()
	defer b.Close()

	wr := NewWeightedRandom()
	wr.StartBalance([]*rpcchannel.RpcChannel{a, b})

	for i := 0; i < 200; i++ {
		p := wr.Picker()
		ch, ok := p.Next()
		if !ok {
			t.Fatal("expected a channel")
		}
		if ch.Address().Equal(a.Address()) {
			t.Fatal("a channel with weight 0 must never be picked")
		}
	}
}

func TestPickerExcludesPreviouslyPickedWithinOneChain(t *testing.T) {
	a, la := newChannel(t, 1)
	b, lb := newChannel(t, 1)
	defer la.Close()
	defer lb.Close()
	defer a.Close()
	defer b.Close()

	wr := NewWeightedRandom()
	wr.StartBalance([]*rpcchannel.RpcChannel{a, b})

	p := wr.Picker()
	first, ok := p.Next()
	if !ok {
		t.Fatal("expected a first pick")
	}
	second, ok := p.Next()
	if !ok {
		t.Fatal("expected a second pick")
	}
	if first.Address().Equal(second.Address()) {
		t.Fatal("the same channel was picked twice within one chain")
	}
	if _, ok := p.Next(); ok {
		t.Fatal("expected the picker to be exhausted after trying every channel")
	}
}

func TestRebalanceExcludesRemovedAddresses(t *testing.T) {
	a, la := newChannel(t, 1)
	b, lb := newChannel(t, 1)
	defer la.Close()
	defer lb.Close()
	defer a.Close()
	defer b.Close()

	wr := NewWeightedRandom()
	wr.StartBalance([]*rpcchannel.RpcChannel{a, b})

	wr.Rebalance(&Change{All: []*rpcchannel.RpcChannel{b}, Removed: []address.Address{a.Address()}})

	for i := 0; i < 50; i++ {
		p := wr.Picker()
		ch, ok := p.Next()
		if !ok {
			t.Fatal("expected a channel")
		}
		if ch.Address().Equal(a.Address()) {
			t.Fatal("a removed address was picked after rebalance")
		}
	}
}

func TestRebalanceNilClearsChannelSet(t *testing.T) {
	a, la := newChannel(t, 1)
	defer la.Close()
	defer a.Close()

	wr := NewWeightedRandom()
	wr.StartBalance([]*rpcchannel.RpcChannel{a})
	wr.Rebalance(nil)

	p := wr.Picker()
	if _, ok := p.Next(); ok {
		t.Fatal("expected no channels after a nil rebalance")
	}
}
