package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"

	"lrcall/address"
	"lrcall/codec"
	"lrcall/component"
	"lrcall/transport"
)

// Server registers service implementations and accepts connections for them. One
// Server can back many listen calls (TCP, UDS, or both) sharing the same service map.
type Server struct {
	services map[string]*service
}

// New returns a Server with no registered services.
func New() *Server {
	return &Server{services: make(map[string]*service)}
}

// Register adds rcvr's RPC-compatible methods under name, the contract name used as
// the first segment of every "<Contract>.<operation>" request name routed to it.
func (s *Server) Register(name string, rcvr any) error {
	svc, err := newService(name, rcvr)
	if err != nil {
		return err
	}
	s.services[name] = svc
	return nil
}

// TcpConfig configures a TCP listener: frame length cap, per-connection outbound
// buffer depth, per-key connection admission, and wire codec.
type TcpConfig struct {
	addr               address.Address
	codec              codec.Type
	maxFrameLen        uint32
	pendingResponseBuf int
	maxChannelsPerKey  int
	keyFn              func(net.Addr) string
}

// NewTcpConfig configures a listener bound to addr with JSON as the default codec.
func NewTcpConfig(addr address.Address) *TcpConfig {
	return &TcpConfig{addr: addr, codec: codec.Json, keyFn: peerIPKey}
}

func (c *TcpConfig) WithCodec(t codec.Type) *TcpConfig { c.codec = t; return c }

// WithMaxFrameLen caps the size of any single frame; 0 means unbounded.
func (c *TcpConfig) WithMaxFrameLen(n uint32) *TcpConfig { c.maxFrameLen = n; return c }

// WithPendingResponseBuffer bounds each connection's outbound queue; 0 means 10.
func (c *TcpConfig) WithPendingResponseBuffer(n int) *TcpConfig {
	c.pendingResponseBuf = n
	return c
}

// WithBufferUnordered is an alias for WithPendingResponseBuffer, naming the bound the
// way the external interface contract names it: how many out-of-order completions the
// connection may buffer before a slow consumer applies backpressure.
func (c *TcpConfig) WithBufferUnordered(n int) *TcpConfig { return c.WithPendingResponseBuffer(n) }

// WithMaxChannelsPerKey caps concurrent connections sharing the same admission key
// (default: peer IP); 0 means unlimited.
func (c *TcpConfig) WithMaxChannelsPerKey(n int) *TcpConfig { c.maxChannelsPerKey = n; return c }

// WithKeyFn overrides the admission key derived from each accepted connection's
// remote address; the default groups by peer IP.
func (c *TcpConfig) WithKeyFn(fn func(net.Addr) string) *TcpConfig { c.keyFn = fn; return c }

func peerIPKey(addr net.Addr) string {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String()
	}
	return addr.String()
}

// UnixConfig configures a Unix domain socket listener. Per-key admission does not
// apply: every connection to a UDS shares one peer identity (the socket itself), so
// only a process-wide limiter distinguishing connections would make sense, and the
// dispatch core does not need one.
type UnixConfig struct {
	addr               address.Address
	codec              codec.Type
	maxFrameLen        uint32
	pendingResponseBuf int
}

// NewUnixConfig configures a listener bound to a Unix domain socket address.
func NewUnixConfig(addr address.Address) *UnixConfig {
	return &UnixConfig{addr: addr, codec: codec.Json}
}

func (c *UnixConfig) WithCodec(t codec.Type) *UnixConfig        { c.codec = t; return c }
func (c *UnixConfig) WithMaxFrameLen(n uint32) *UnixConfig      { c.maxFrameLen = n; return c }
func (c *UnixConfig) WithPendingResponseBuffer(n int) *UnixConfig {
	c.pendingResponseBuf = n
	return c
}
func (c *UnixConfig) WithBufferUnordered(n int) *UnixConfig { return c.WithPendingResponseBuffer(n) }

// admission enforces MaxChannelsPerKey: each key gets a live connection counter, and a
// connection is admitted only while that counter is below the limit. A key with no
// configured limit is always admitted. This is a concurrency cap, not a rate limit --
// golang.org/x/time/rate governs throughput over time and cannot express "at most N
// simultaneous", so it is used elsewhere (the dispatcher's retry backoff) rather than
// bent to a job it doesn't fit.
type admission struct {
	mu     sync.Mutex
	limit  int
	counts map[string]int
}

func newAdmission(limit int) *admission {
	return &admission{limit: limit, counts: make(map[string]int)}
}

// tryAdmit reports whether key is currently under its concurrent-connection limit and,
// if so, reserves one slot; release must be called exactly once when the connection
// this admission covers closes.
func (a *admission) tryAdmit(key string) (release func(), ok bool) {
	if a.limit <= 0 {
		return func() {}, true
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.counts[key] >= a.limit {
		return nil, false
	}
	a.counts[key]++
	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			a.counts[key]--
			a.mu.Unlock()
		})
	}, true
}

// ListenTcp listens on cfg.addr, accepting connections for every service registered on
// s, until ctx is cancelled. Each accepted connection runs its own engine in its own
// goroutine.
func (s *Server) ListenTcp(ctx context.Context, cfg *TcpConfig) error {
	l, err := listenAt(cfg.addr)
	if err != nil {
		return err
	}
	defer l.Close()
	go closeOnDone(ctx, l)

	adm := newAdmission(cfg.maxChannelsPerKey)
	engineConfig := Config{PendingResponseBuffer: cfg.pendingResponseBuf}

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		key := cfg.keyFn(conn.RemoteAddr())
		release, ok := adm.tryAdmit(key)
		if !ok {
			log.Printf("server: rejecting connection from %s: max channels per key exceeded", key)
			conn.Close()
			continue
		}
		go s.serveConn(conn, cfg.codec, cfg.maxFrameLen, engineConfig, release)
	}
}

// ListenUnix listens on cfg.addr (a Unix domain socket address), accepting connections
// for every service registered on s, until ctx is cancelled.
func (s *Server) ListenUnix(ctx context.Context, cfg *UnixConfig) error {
	l, err := listenAt(cfg.addr)
	if err != nil {
		return err
	}
	defer l.Close()
	go closeOnDone(ctx, l)

	engineConfig := Config{PendingResponseBuffer: cfg.pendingResponseBuf}

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.serveConn(conn, cfg.codec, cfg.maxFrameLen, engineConfig, func() {})
	}
}

func listenAt(addr address.Address) (net.Listener, error) {
	addr = address.FavorDualStack(addr)
	l, err := net.Listen(addr.Network(), addr.DialString())
	if err != nil {
		return nil, fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return l, nil
}

func closeOnDone(ctx context.Context, l net.Listener) {
	<-ctx.Done()
	l.Close()
}

func (s *Server) serveConn(conn net.Conn, codecType codec.Type, maxFrameLen uint32, config Config, release func()) {
	defer release()
	defer conn.Close()
	t := transport.New(conn, codec.Get(codecType), maxFrameLen)
	e := newEngine(t, codec.Get(codecType), s.services, config)
	e.serve()
}

// ServeOne runs one engine for an already-accepted connection, with no admission
// release to call. It is for callers that manage their own accept loop and admission
// policy instead of using ListenTcp/ListenUnix directly (the dispatch core's own tests,
// and a generated binary embedding the server inside a larger accept loop).
func (s *Server) ServeOne(conn net.Conn, codecType codec.Type, maxFrameLen uint32, config Config) {
	s.serveConn(conn, codecType, maxFrameLen, config, func() {})
}

// Listen is the single entry point named by the external interface contract: it
// chooses ListenTcp or ListenUnix based on cfg's type (*TcpConfig or *UnixConfig) and
// runs until ctx is cancelled. endpoint.Address must be set, but the listener binds the
// address held in cfg.
func Listen(ctx context.Context, s *Server, endpoint *component.Endpoint, cfg any) error {
	if endpoint.Address == nil {
		return fmt.Errorf("server: endpoint %s has no bound address", endpoint.ServiceName)
	}
	switch c := cfg.(type) {
	case *TcpConfig:
		return s.ListenTcp(ctx, c)
	case *UnixConfig:
		return s.ListenUnix(ctx, c)
	default:
		return fmt.Errorf("server: unsupported config type %T", cfg)
	}
}
