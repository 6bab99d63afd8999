package vm

import (
	"errors"
)

// ---------------------------------------------------------------------------
// Fatal conditions
// ---------------------------------------------------------------------------

// Sentinel errors matched by FatalError through errors.Is.
var (
	ErrStackOverflow  = errors.New("stack overflow")
	ErrStackUnderflow = errors.New("stack underflow")
	ErrInvalidRef     = errors.New("invalid reference")
	ErrHeapExhausted  = errors.New("heap exhausted")
	ErrShutdown       = errors.New("vm is shut down")
)

// FatalKind classifies a contract violation by the embedding host.
type FatalKind uint8

const (
	StackOverflow FatalKind = iota + 1
	StackUnderflow
	InvalidRef
	HeapExhausted
	Shutdown
)

func (k FatalKind) sentinel() error {
	switch k {
	case StackOverflow:
		return ErrStackOverflow
	case StackUnderflow:
		return ErrStackUnderflow
	case InvalidRef:
		return ErrInvalidRef
	case HeapExhausted:
		return ErrHeapExhausted
	case Shutdown:
		return ErrShutdown
	default:
		return nil
	}
}

// String returns the sentinel message for the kind.
func (k FatalKind) String() string {
	if err := k.sentinel(); err != nil {
		return err.Error()
	}
	return "unknown fatal condition"
}

// FatalError is raised when the host breaks the VM's contract: stack
// overflow or underflow, a stale or mistyped Ref, an exhausted heap, or use
// after Shutdown. The VM panics with it; there is no rollback of partial
// state.
type FatalError struct {
	Kind FatalKind
	Msg  string
}

func (e *FatalError) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Msg
}

// Unwrap exposes the kind's sentinel so errors.Is(err, ErrStackOverflow)
// holds for overflow errors.
func (e *FatalError) Unwrap() error {
	return e.Kind.sentinel()
}

// Guard runs fn and converts a FatalError panic into a returned error.
// Other panics propagate unchanged.
func Guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			fe, ok := r.(*FatalError)
			if !ok {
				panic(r)
			}
			err = fe
		}
	}()
	fn()
	return nil
}

// AsFatal reports whether err is, or wraps, a FatalError.
func AsFatal(err error) (*FatalError, bool) {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
