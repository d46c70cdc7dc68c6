package address

import (
	"net"
	"strconv"
)

// FavorDualStack rewrites an unspecified IPv4 bind address ("0.0.0.0:<port>") to the
// unspecified IPv6 address ("[::]:<port>") when the host either lacks a usable plain
// IPv4 stack or supports v4-mapped IPv6 connections, so a single listener accepts both
// v4 (via v4-mapped v6) and v6 traffic. Named addresses and Unix sockets pass through
// unchanged.
//
// This mirrors the startup dual-stack probe used by the reference implementation this
// module was distilled from: binding "::" only works for both families if the kernel
// supports v4-mapped addresses, so the probe checks for that before preferring it.
func FavorDualStack(a Address) Address {
	if a.Kind != KindIP || a.IP == nil || !a.IP.IP.IsUnspecified() {
		return a
	}
	if !shouldFavorIPv6() {
		return a
	}
	dup := *a.IP
	dup.IP = net.IPv6unspecified
	return FromTCPAddr(&dup)
}

// shouldFavorIPv6 reports whether the host should bind the IPv6 unspecified address to
// reach both IPv4 and IPv6 peers. It probes by attempting to listen on both families.
func shouldFavorIPv6() bool {
	hasIPv4 := probeListen("tcp4")
	hasV4Mapped := probeDualStack()
	return !hasIPv4 || hasV4Mapped
}

func probeListen(network string) bool {
	l, err := net.Listen(network, "127.0.0.1:0")
	if network == "tcp4" {
		l, err = net.Listen(network, "0.0.0.0:0")
	}
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

func probeDualStack() bool {
	l, err := net.Listen("tcp6", "[::]:0")
	if err != nil {
		return false
	}
	defer l.Close()
	tcpAddr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return false
	}
	conn, err := net.Dial("tcp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(tcpAddr.Port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
