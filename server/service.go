package server

import (
	"context"
	"fmt"
	"reflect"
	"unicode"

	"lrcall/codec"
	"lrcall/wire"
)

// methodType stores the reflection metadata for one RPC-compatible method.
type methodType struct {
	method    reflect.Method
	ArgType   reflect.Type
	ReplyType reflect.Type
}

// service wraps a user-defined struct (the generated router's receiver) and its
// RPC-compatible methods, keyed by name for dynamic dispatch from a decoded
// "<Contract>.<operation>" request name.
type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

var (
	errorType = reflect.TypeOf((*error)(nil)).Elem()
	ctxType   = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// newService validates rcvr and scans its exported methods for the RPC signature
// convention:
//
//	func (receiver) Method(ctx context.Context, args *ArgsType, reply *ReplyType) error
//
// Methods that don't match are silently skipped, mirroring the teacher's service
// scanner; this lets a contract's generated router struct carry helper methods
// alongside its operations.
func newService(name string, rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("server: rcvr must be a pointer, got %s", typ.Kind())
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("server: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}

	svc := &service{
		name:   name,
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	svc.registerMethods()
	return svc, nil
}

func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		m := s.typ.Method(i)
		if m.Type.NumIn() != 4 || m.Type.NumOut() != 1 {
			continue
		}
		if m.Type.Out(0) != errorType {
			continue
		}
		if !m.Type.In(1).Implements(ctxType) {
			continue
		}
		if m.Type.In(2).Kind() != reflect.Ptr || m.Type.In(3).Kind() != reflect.Ptr {
			continue
		}
		s.method[m.Name] = &methodType{
			method:    m,
			ArgType:   m.Type.In(2).Elem(),
			ReplyType: m.Type.In(3).Elem(),
		}
	}
}

// call invokes the registered method via reflection, passing ctx through so handlers
// can observe cancellation and deadlines.
func (s *service) call(ctx context.Context, mt *methodType, argv, replyv reflect.Value) error {
	args := [4]reflect.Value{s.rcvr, reflect.ValueOf(ctx), argv, replyv}
	results := mt.method.Func.Call(args[:])
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}

// dispatchOne decodes payload into op's argument type, invokes it on svc by reflection,
// and re-encodes the reply, the same three steps the per-connection engine runs for a
// remote request. requestName is carried through only for error messages.
func dispatchOne(ctx context.Context, svc *service, op, requestName string, payload []byte, c codec.Codec) ([]byte, *wire.ServerError) {
	mt, ok := svc.method[op]
	if !ok && op != "" {
		// Generated routers name each method after the operation's upper-camel-cased
		// variant, while the request name carries the operation name as declared.
		r := []rune(op)
		r[0] = unicode.ToUpper(r[0])
		mt, ok = svc.method[string(r)]
	}
	if !ok {
		return nil, &wire.ServerError{Kind: wire.KindUnimplemented, Detail: "unknown operation: " + requestName}
	}

	argv := reflect.New(mt.ArgType)
	if err := c.Decode(payload, argv.Interface()); err != nil {
		return nil, &wire.ServerError{Kind: wire.KindInvalidArgument, Detail: "decode args: " + err.Error()}
	}
	replyv := reflect.New(mt.ReplyType)

	if err := svc.call(ctx, mt, argv, replyv); err != nil {
		return nil, &wire.ServerError{Kind: wire.KindInternal, Detail: err.Error()}
	}

	out, err := c.Encode(replyv.Interface())
	if err != nil {
		return nil, &wire.ServerError{Kind: wire.KindInternal, Detail: "encode reply: " + err.Error()}
	}
	return out, nil
}

// LocalService exposes the same reflection-based dispatch the server engine uses for
// remote requests, so an in-process (Lpc) call and a network (Rpc) call to the same
// contract run through identical decode/invoke/encode steps. An lrcall.Builder's
// component.Component[*server.LocalService] carries one of these as its local serve path.
type LocalService struct {
	svc *service
}

// NewLocalService builds a LocalService from name and rcvr the same way Server.Register
// does, without needing a Server at all.
func NewLocalService(name string, rcvr any) (*LocalService, error) {
	svc, err := newService(name, rcvr)
	if err != nil {
		return nil, err
	}
	return &LocalService{svc: svc}, nil
}

// Call dispatches requestName's "<Contract>.<operation>" suffix against the wrapped
// service.
func (l *LocalService) Call(ctx context.Context, requestName string, payload []byte, c codec.Codec) ([]byte, *wire.ServerError) {
	_, op, ok := splitRequestName(requestName)
	if !ok {
		return nil, &wire.ServerError{Kind: wire.KindInvalidArgument, Detail: "malformed request name: " + requestName}
	}
	return dispatchOne(ctx, l.svc, op, requestName, payload, c)
}
