// Package wire defines the envelope types carried over a Transport: the client-to-server
// request/cancel union and the server-to-client response union, plus the trace context
// threaded through both. These are the types a Codec serializes and deserializes; they
// are deliberately independent of any particular contract's request/response payloads,
// which travel as opaque []byte (already encoded by the per-contract codec) inside
// Payload.
package wire

import "time"

// TraceContext identifies the current trace/span for a call, propagated from client to
// server so server-side logs and the (out-of-scope) tracing exporter can correlate
// events across the network hop.
type TraceContext struct {
	TraceID          [16]byte
	SpanID           uint64
	ParentSpanID     uint64
	HasParentSpan    bool
	SamplingDecision byte
}

// MsgKind distinguishes the two ClientMessage variants on the wire.
type MsgKind byte

const (
	// MsgRequest carries a new call.
	MsgRequest MsgKind = iota
	// MsgCancel carries a cancellation of a previously sent request.
	MsgCancel
)

// ClientMessage is the client-to-server envelope. It is a tagged union: Kind selects
// which fields are meaningful. Request carries Deadline/RequestName/Payload; Cancel
// carries none of those.
type ClientMessage struct {
	Kind     MsgKind
	ID       uint64
	Deadline time.Time
	Trace    TraceContext

	// RequestName is "<Contract>.<Operation>", set only when Kind == MsgRequest.
	RequestName string
	// Payload is the contract-codec-encoded request arguments, set only when
	// Kind == MsgRequest.
	Payload []byte
}

// ServerErrorKind enumerates the POSIX-style error categories a server handler (or the
// dispatch core itself) can report back to the caller.
type ServerErrorKind byte

const (
	KindNotFound ServerErrorKind = iota
	KindPermissionDenied
	KindInvalidArgument
	KindResourceExhausted
	KindInternal
	KindUnavailable
	KindCanceled
	KindUnimplemented
)

func (k ServerErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindResourceExhausted:
		return "ResourceExhausted"
	case KindInternal:
		return "Internal"
	case KindUnavailable:
		return "Unavailable"
	case KindCanceled:
		return "Canceled"
	case KindUnimplemented:
		return "Unimplemented"
	default:
		return "Unknown"
	}
}

// ServerError is the structured error a server handler can return; it crosses the wire
// verbatim in Response.Err when a call fails server-side.
type ServerError struct {
	Kind   ServerErrorKind
	Detail string
}

func (e *ServerError) Error() string {
	if e == nil {
		return "<nil server error>"
	}
	return e.Kind.String() + ": " + e.Detail
}

// Response is the server-to-client envelope. Exactly one of Payload / Err is set.
type Response struct {
	ID      uint64
	Payload []byte
	Err     *ServerError
}
