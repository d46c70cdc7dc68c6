// Package address provides a unified address type that covers both IP sockets and
// Unix domain sockets, so the rest of the dispatch core never has to branch on
// transport kind when it just wants to key, compare, or print an endpoint.
package address

import (
	"fmt"
	"net"
)

// Kind distinguishes the two address families this module supports.
type Kind byte

const (
	// KindIP identifies a TCP/IP socket address.
	KindIP Kind = iota
	// KindUnix identifies a Unix domain socket address (path-named or abstract).
	KindUnix
)

// Address is a tagged union over an IP socket address and a Unix domain socket
// address. Exactly one of the two payload fields is meaningful, selected by Kind.
type Address struct {
	Kind Kind
	IP   *net.TCPAddr // set iff Kind == KindIP
	Unix string       // set iff Kind == KindUnix; "" means an unnamed/abstract socket
}

// FromTCPAddr wraps a resolved TCP address.
func FromTCPAddr(addr *net.TCPAddr) Address {
	return Address{Kind: KindIP, IP: addr}
}

// FromUnixPath wraps a Unix domain socket path (or Linux abstract name, conventionally
// prefixed with "@").
func FromUnixPath(path string) Address {
	return Address{Kind: KindUnix, Unix: path}
}

// Parse parses a string address. "unix:<path>" and "unix-abstract:<name>" select a Unix
// domain socket; anything else is parsed as a TCP host:port.
func Parse(s string) (Address, error) {
	if after, ok := cut(s, "unix-abstract:"); ok {
		return Address{Kind: KindUnix, Unix: "@" + after}, nil
	}
	if after, ok := cut(s, "unix:"); ok {
		return Address{Kind: KindUnix, Unix: after}, nil
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp", s)
	if err != nil {
		return Address{}, fmt.Errorf("address: parse %q: %w", s, err)
	}
	return FromTCPAddr(tcpAddr), nil
}

func cut(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return "", false
}

// Equal reports whether two addresses identify the same endpoint.
//
// Two unnamed Unix sockets compare equal: identity for an anonymous UDS can only be
// established by the caller's own bookkeeping (e.g. the connection it came from), never
// by the address value itself, so treating them as equal here avoids spuriously
// splitting a single logical channel into many balancer entries.
func (a Address) Equal(b Address) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindIP:
		if a.IP == nil || b.IP == nil {
			return a.IP == b.IP
		}
		return a.IP.IP.Equal(b.IP.IP) && a.IP.Port == b.IP.Port && a.IP.Zone == b.IP.Zone
	case KindUnix:
		if a.Unix == "" && b.Unix == "" {
			return true
		}
		return a.Unix == b.Unix
	default:
		return false
	}
}

// Key returns a string uniquely identifying this address for use as a map key, e.g. in
// discovery diffing and the balancer snapshot. Key is derived from the address value
// alone, so two unnamed Unix sockets share the Key "unix:", just as Equal treats them as
// the same endpoint.
func (a Address) Key() string {
	switch a.Kind {
	case KindIP:
		if a.IP == nil {
			return "ip:"
		}
		return "ip:" + a.IP.String()
	case KindUnix:
		return "unix:" + a.Unix
	default:
		return "invalid"
	}
}

func (a Address) String() string {
	switch a.Kind {
	case KindIP:
		if a.IP == nil {
			return "(nil)"
		}
		return a.IP.String()
	case KindUnix:
		if a.Unix == "" {
			return "(unnamed)"
		}
		return a.Unix
	default:
		return "(invalid)"
	}
}

// Network returns the net.Dial/net.Listen network name for this address ("tcp" or
// "unix").
func (a Address) Network() string {
	if a.Kind == KindUnix {
		return "unix"
	}
	return "tcp"
}

// DialString returns the string to pass as the address argument to net.Dial / net.Listen
// for this address.
func (a Address) DialString() string {
	if a.Kind == KindUnix {
		return a.Unix
	}
	if a.IP == nil {
		return ""
	}
	return a.IP.String()
}
