package discover

import (
	"context"

	"lrcall/address"
	"lrcall/component"
)

// FixedDiscover is a Discover implementation that always returns the same fixed list of
// instances. It never pushes watch updates. This is the non-etcd discovery backend
// required by the dispatch core's testable scenarios (single remote, retry/fallback,
// etc.), and the building block most unit tests in this module are written against.
type FixedDiscover struct {
	instances []*Instance
}

// NewFixed builds a FixedDiscover from an explicit instance list.
func NewFixed(instances []*Instance) *FixedDiscover {
	return &FixedDiscover{instances: instances}
}

// NewFixedFromAddresses builds a FixedDiscover giving every address weight 1 and no
// tags — the common case of "just call these hosts".
func NewFixedFromAddresses(addrs []address.Address) *FixedDiscover {
	instances := make([]*Instance, 0, len(addrs))
	for _, a := range addrs {
		instances = append(instances, &Instance{Address: a, Weight: 1})
	}
	return &FixedDiscover{instances: instances}
}

func (d *FixedDiscover) Discover(_ context.Context, endpoint *component.Endpoint) (Discovery, error) {
	return Discovery{Key: endpoint.Key(), Mode: Rpc, Instances: d.instances}, nil
}

func (d *FixedDiscover) Watch(_ context.Context, _ *component.Endpoint) (<-chan Change, error) {
	return nil, nil
}

// DummyDiscover always reports an empty remote instance list. Callers that never
// configure a real discoverer but still want a working LRCall fall back entirely to
// local execution through this discoverer once the picker finds nothing to try.
type DummyDiscover struct{}

func (DummyDiscover) Discover(_ context.Context, endpoint *component.Endpoint) (Discovery, error) {
	return Discovery{Key: endpoint.Key(), Mode: Rpc, Instances: nil}, nil
}

func (DummyDiscover) Watch(_ context.Context, _ *component.Endpoint) (<-chan Change, error) {
	return nil, nil
}
