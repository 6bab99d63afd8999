package vm

import (
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// Option configures a VM.
type Option func(*options)

type options struct {
	id               uuid.UUID
	stackCapacity    int
	initialThreshold int
	maxObjects       int
	logger           commonlog.Logger
	onFatal          func(*FatalError)
	observers        []Observer
}

func defaultOptions() options {
	return options{
		stackCapacity:    DefaultStackCapacity,
		initialThreshold: DefaultInitialThreshold,
	}
}

// WithID sets the heap identifier. By default a random UUID is used.
func WithID(id uuid.UUID) Option {
	return func(o *options) { o.id = id }
}

// WithStackCapacity sets the operand stack capacity. Values below 1 are
// ignored.
func WithStackCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.stackCapacity = n
		}
	}
}

// WithInitialThreshold sets the live-object count that triggers the first
// automatic collection. Negative values are ignored.
func WithInitialThreshold(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.initialThreshold = n
		}
	}
}

// WithMaxObjects caps the number of live objects. Allocating past the cap,
// after a collection has failed to free room, is a fatal HeapExhausted
// condition. 0 leaves the heap uncapped.
func WithMaxObjects(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxObjects = n
		}
	}
}

// WithLogger replaces the "pairvm.vm" logger.
func WithLogger(log commonlog.Logger) Option {
	return func(o *options) { o.logger = log }
}

// WithFatalHandler installs a callback that sees every FatalError before the
// VM panics with it. A handler may terminate the process; if it returns, the
// panic proceeds.
func WithFatalHandler(fn func(*FatalError)) Option {
	return func(o *options) { o.onFatal = fn }
}

// WithObserver registers a collection observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}
