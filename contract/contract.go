// Package contract is C4's schema surface: the declarative description of a set of
// operations that cmd/lrcallgen consumes to synthesize a request union, a response
// union, a server-side router, and a typed client handle. The schema itself carries no
// code; it is the small, serializable input a generator needs, mirroring the way the
// teacher's service.go discovers a contract's operations at runtime by reflection over
// method signatures -- here the same naming and shape rules are checked ahead of time,
// at generation time, instead of per-call.
package contract

import (
	"fmt"
	"strings"
	"unicode"
)

// Param is one ordered, typed parameter of an Operation. TypeExpr is a Go type
// expression exactly as it should appear in generated source (e.g. "string",
// "*big.Int", "[]byte"); the generator never attempts to infer or validate it beyond
// copying it verbatim into the struct field it emits.
type Param struct {
	Name     string
	TypeExpr string
}

// Operation is one named remote-callable function: an ordered parameter list and a
// return type expression. A return type of "" means the operation returns no value
// beyond success/failure (the generated response variant carries no payload field).
type Operation struct {
	Name       string
	Params     []Param
	ReturnExpr string
}

// VariantName upper-camel-cases Name for use as the request/response tagged-union
// variant identifier, per spec.md's naming contract ("operation identifiers map to the
// response/request variant identifier by upper-camel-casing").
func (op Operation) VariantName() string {
	if op.Name == "" {
		return ""
	}
	r := []rune(op.Name)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// Spec is a complete declarative contract: a name (used as the first segment of every
// "<Contract>.<operation>" request name) and its ordered operations.
type Spec struct {
	Name       string
	Operations []Operation
}

// reservedNames are the operation names reserved for constructor and serve-hook names.
// Validate rejects them case-insensitively; cmd/lrcallgen's current template emits no
// method called New or Serve, so the reservation is enforced by Validate alone.
var reservedNames = map[string]bool{
	"new":   true,
	"serve": true,
}

// Validate checks the naming contract described in spec.md §4.1: no duplicate
// operation names, no operation colliding with a generated constructor name, and every
// operation must have a non-empty Name.
func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("contract: spec has no name")
	}
	seen := make(map[string]bool, len(s.Operations))
	for _, op := range s.Operations {
		if op.Name == "" {
			return fmt.Errorf("contract %s: operation with empty name", s.Name)
		}
		lower := strings.ToLower(op.Name)
		if reservedNames[lower] {
			return fmt.Errorf("contract %s: operation %q collides with a generated constructor name", s.Name, op.Name)
		}
		if seen[lower] {
			return fmt.Errorf("contract %s: duplicate operation %q", s.Name, op.Name)
		}
		seen[lower] = true
		for _, p := range op.Params {
			if p.Name == "" {
				return fmt.Errorf("contract %s: operation %q has an unnamed parameter", s.Name, op.Name)
			}
		}
	}
	return nil
}

// ServeName returns the stable "<Contract>.<operation>" string used on the wire and in
// logs/metrics for op, matching spec.md §4.1's serve_name() hook.
func (s Spec) ServeName(op Operation) string {
	return s.Name + "." + op.Name
}
