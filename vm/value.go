package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// Ref is a generation-checked handle to a heap object.
//
// The index selects a slot in the heap arena and the generation must match
// the slot's current generation for the Ref to be live. Slot generations
// start at 1, so the zero Ref never denotes an object. A Ref that outlives
// its object is stale: the slot's generation moves on when the object is
// reclaimed, even if the slot is later reused.
type Ref struct {
	index uint32
	gen   uint32
}

// Nil is the zero Ref. It never denotes an object.
var Nil Ref

// IsNil returns true if r is the zero Ref.
func (r Ref) IsNil() bool {
	return r.gen == 0
}

// Index returns the arena slot index of r.
func (r Ref) Index() uint32 {
	return r.index
}

// Generation returns the slot generation r was issued for.
func (r Ref) Generation() uint32 {
	return r.gen
}

// String formats r as "index.generation", or "nil".
func (r Ref) String() string {
	if r.IsNil() {
		return "nil"
	}
	return fmt.Sprintf("%d.%d", r.index, r.gen)
}

// ParseRef parses the form produced by Ref.String.
func ParseRef(s string) (Ref, error) {
	if s == "nil" {
		return Nil, nil
	}
	idx, gen, ok := strings.Cut(s, ".")
	if !ok {
		return Nil, fmt.Errorf("invalid ref %q: missing generation", s)
	}
	i, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return Nil, fmt.Errorf("invalid ref %q: %w", s, err)
	}
	g, err := strconv.ParseUint(gen, 10, 32)
	if err != nil {
		return Nil, fmt.Errorf("invalid ref %q: %w", s, err)
	}
	if g == 0 {
		return Nil, fmt.Errorf("invalid ref %q: generation 0", s)
	}
	return Ref{index: uint32(i), gen: uint32(g)}, nil
}
