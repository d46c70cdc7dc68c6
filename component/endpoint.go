// Package component defines the Endpoint descriptor used to name a service for
// discovery, and the Component pairing that descriptor with a local implementation.
package component

import "lrcall/address"

// Endpoint is a logical service identity: a short name, optional explicit address, a
// set of opaque routing tags, and an optional key-derivation hook used by discovery
// caches.
type Endpoint struct {
	ServiceName string
	Address     *address.Address
	Tags        map[string]string
	KeyFn       func(*Endpoint) string
}

// New creates an endpoint named serviceName with no address, tags, or key function.
func New(serviceName string) *Endpoint {
	return &Endpoint{ServiceName: serviceName, Tags: make(map[string]string)}
}

// WithKeyFn installs a custom key-derivation hook and returns the endpoint for
// chaining.
func (e *Endpoint) WithKeyFn(fn func(*Endpoint) string) *Endpoint {
	e.KeyFn = fn
	return e
}

// WithAddress sets an explicit address and returns the endpoint for chaining.
func (e *Endpoint) WithAddress(addr address.Address) *Endpoint {
	e.Address = &addr
	return e
}

// WithTag sets a routing tag and returns the endpoint for chaining.
func (e *Endpoint) WithTag(key, value string) *Endpoint {
	if e.Tags == nil {
		e.Tags = make(map[string]string)
	}
	e.Tags[key] = value
	return e
}

// Key returns the cache key for this endpoint: the result of KeyFn if set, otherwise
// the service name.
func (e *Endpoint) Key() string {
	if e.KeyFn != nil {
		return e.KeyFn(e)
	}
	return e.ServiceName
}

// Component pairs a local service implementation with its endpoint descriptor. S is
// left as `any` here; the generated per-contract client/server pair narrows it to a
// concrete service interface.
type Component[S any] struct {
	Serve    S
	Endpoint *Endpoint
}
