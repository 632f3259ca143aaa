// Package transform is the catalog of operation kinds known to the
// compiler: wiring arity, structural kind and ordered parameters for every
// operation name, built once from the runtime's declarations.
package transform

import "fmt"

// Kind is the structural kind of an operation. It determines how many
// input edges a node needs and how its arguments are passed.
type Kind int

const (
	KindSource       Kind = iota // generator, no inputs
	KindCoord                    // unary, transforms coordinates
	KindColor                    // unary, transforms color
	KindCombine                  // binary, mixes two chains
	KindCombineCoord             // binary, modulates coordinates by a chain
)

func (k Kind) String() string {
	switch k {
	case KindSource:
		return "src"
	case KindCoord:
		return "coord"
	case KindColor:
		return "color"
	case KindCombine:
		return "combine"
	case KindCombineCoord:
		return "combineCoord"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Arity returns the number of input edges the kind consumes.
func (k Kind) Arity() int {
	switch k {
	case KindCoord, KindColor:
		return 1
	case KindCombine, KindCombineCoord:
		return 2
	default:
		return 0
	}
}

// Binary reports whether the kind takes a second chain as its first formal.
func (k Kind) Binary() bool {
	return k.Arity() == 2
}

// ParseKind maps a runtime declaration type name to a Kind.
func ParseKind(name string) (Kind, bool) {
	switch name {
	case "src":
		return KindSource, true
	case "coord":
		return KindCoord, true
	case "color":
		return KindColor, true
	case "combine":
		return KindCombine, true
	case "combineCoord":
		return KindCombineCoord, true
	}
	return 0, false
}
