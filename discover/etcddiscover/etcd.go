// Package etcddiscover implements discover.Discover on top of etcd, in the same style
// the teacher's registry package uses: each service instance is a lease-backed key under
// a "/lrcall/<service>/<addr>" prefix, and Watch re-reads the full instance list on any
// prefix change rather than trying to interpret individual watch events.
//
// This package is explicitly outside the dispatch core: the core depends only on the
// discover.Discover interface, never on etcd directly, per spec.md's scope boundary
// ("concrete discovery backends ... only the trait they satisfy matters").
package etcddiscover

import (
	"context"
	"encoding/json"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"

	"lrcall/address"
	"lrcall/component"
	"lrcall/discover"
)

const keyPrefix = "/lrcall/"

// record is the JSON value stored under each instance's etcd key.
type record struct {
	Addr   string            `json:"addr"`
	Weight uint32            `json:"weight"`
	Tags   map[string]string `json:"tags"`
}

// Discover is a discover.Discover backed by an etcd v3 client.
type Discover struct {
	client *clientv3.Client
}

// New connects to the given etcd endpoints.
func New(endpoints []string) (*Discover, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, fmt.Errorf("etcddiscover: connect: %w", err)
	}
	return &Discover{client: c}, nil
}

// Register publishes one instance under the given service name with a TTL-backed
// lease; the lease is kept alive in the background for the lifetime of ctx, and the
// key is automatically removed if the process dies without deregistering (the lease
// simply expires).
func (d *Discover) Register(ctx context.Context, serviceName string, inst discover.Instance, ttlSeconds int64) error {
	lease, err := d.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return fmt.Errorf("etcddiscover: grant lease: %w", err)
	}
	// Addr must be in the form list parses back with address.Parse.
	addr := inst.Address.String()
	if inst.Address.Kind == address.KindUnix {
		addr = "unix:" + inst.Address.Unix
	}
	val, err := json.Marshal(record{Addr: addr, Weight: inst.Weight, Tags: inst.Tags})
	if err != nil {
		return fmt.Errorf("etcddiscover: marshal instance: %w", err)
	}
	key := keyPrefix + serviceName + "/" + inst.Address.Key()
	if _, err := d.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("etcddiscover: put: %w", err)
	}
	keepAlive, err := d.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("etcddiscover: keepalive: %w", err)
	}
	go func() {
		for range keepAlive {
		}
	}()
	return nil
}

// Deregister removes one instance's key, e.g. during graceful shutdown before the
// lease would otherwise expire on its own.
func (d *Discover) Deregister(ctx context.Context, serviceName string, addr address.Address) error {
	key := keyPrefix + serviceName + "/" + addr.Key()
	_, err := d.client.Delete(ctx, key)
	if err != nil {
		return fmt.Errorf("etcddiscover: delete: %w", err)
	}
	return nil
}

func (d *Discover) Discover(ctx context.Context, endpoint *component.Endpoint) (discover.Discovery, error) {
	instances, err := d.list(ctx, endpoint.ServiceName)
	if err != nil {
		return discover.Discovery{}, err
	}
	return discover.Discovery{Key: endpoint.Key(), Mode: discover.Rpc, Instances: instances}, nil
}

func (d *Discover) Watch(ctx context.Context, endpoint *component.Endpoint) (<-chan discover.Change, error) {
	prefix := keyPrefix + endpoint.ServiceName + "/"
	watchChan := d.client.Watch(ctx, prefix, clientv3.WithPrefix())
	out := make(chan discover.Change, 1)

	go func() {
		defer close(out)
		var prev []*discover.Instance
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watchChan:
				if !ok {
					return
				}
				next, err := d.list(ctx, endpoint.ServiceName)
				if err != nil {
					continue
				}
				change, changed := discover.DiffByAddress(prev, next)
				prev = next
				if !changed {
					continue
				}
				out <- discover.Change{Key: endpoint.Key(), Mode: discover.Rpc, Change: change}
			}
		}
	}()

	return out, nil
}

func (d *Discover) list(ctx context.Context, serviceName string) ([]*discover.Instance, error) {
	prefix := keyPrefix + serviceName + "/"
	resp, err := d.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcddiscover: get %s: %w", prefix, err)
	}
	instances := make([]*discover.Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var rec record
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			continue
		}
		addr, err := address.Parse(rec.Addr)
		if err != nil {
			continue
		}
		instances = append(instances, &discover.Instance{Address: addr, Weight: rec.Weight, Tags: rec.Tags})
	}
	return instances, nil
}
