package vm

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// VM is one virtual machine instance: an operand stack of roots and the heap
// it roots. A VM is single-threaded. Collections run synchronously inside
// allocations and never interleave with other calls; sharing a VM across
// goroutines needs an external boundary such as server.VMWorker.
type VM struct {
	id        uuid.UUID
	stack     *OperandStack
	heap      *Heap
	collector *Collector
	log       commonlog.Logger
	onFatal   func(*FatalError)
	shutdown  bool
}

// New creates a VM with an empty stack and an empty heap.
func New(opts ...Option) *VM {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == uuid.Nil {
		o.id = uuid.New()
	}
	if o.logger == nil {
		o.logger = commonlog.GetLogger("pairvm.vm")
	}

	vm := &VM{
		id:      o.id,
		stack:   newOperandStack(o.stackCapacity),
		heap:    newHeap(o.initialThreshold, o.maxObjects),
		log:     o.logger,
		onFatal: o.onFatal,
	}
	vm.collector = newCollector(vm.heap, vm.stack, vm.log)
	for _, obs := range o.observers {
		vm.collector.Observe(obs)
	}
	return vm
}

// ID returns the heap identifier.
func (vm *VM) ID() uuid.UUID {
	return vm.id
}

// Heap exposes the allocation ledger for inspection.
func (vm *VM) Heap() *Heap {
	return vm.heap
}

// Stack exposes the operand stack for inspection.
func (vm *VM) Stack() *OperandStack {
	return vm.stack
}

// Collector exposes the collector for inspection and observer registration.
func (vm *VM) Collector() *Collector {
	return vm.collector
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

// PushInt allocates an integer and pushes it.
func (vm *VM) PushInt(value int64) Ref {
	vm.checkOpen()
	if vm.stack.Depth() >= vm.stack.Cap() {
		vm.fatal(StackOverflow, "push beyond capacity %d", vm.stack.Cap())
	}
	r, obj := vm.allocate(KindInt)
	obj.initInt(value)
	vm.stack.push(r)
	return r
}

// PushPair pops the top two entries and pushes a pair of them. The entry
// closer to the top becomes the tail.
//
// The pair is allocated before its operands are popped, so both stay rooted
// if the allocation runs a collection.
func (vm *VM) PushPair() Ref {
	vm.checkOpen()
	if vm.stack.Depth() < 2 {
		vm.fatal(StackUnderflow, "pair needs 2 operands, have %d", vm.stack.Depth())
	}
	r, obj := vm.allocate(KindPair)
	tail, _ := vm.stack.pop()
	head, _ := vm.stack.pop()
	obj.initPair(head, tail)
	vm.stack.push(r)
	return r
}

// Push pushes an existing live object.
func (vm *VM) Push(r Ref) {
	vm.checkOpen()
	vm.object(r)
	if !vm.stack.push(r) {
		vm.fatal(StackOverflow, "push beyond capacity %d", vm.stack.Cap())
	}
}

// Pop removes and returns the top entry. The object stays allocated until a
// cycle finds it unreachable.
func (vm *VM) Pop() Ref {
	vm.checkOpen()
	r, ok := vm.stack.pop()
	if !ok {
		vm.fatal(StackUnderflow, "pop from empty stack")
	}
	return r
}

// Peek returns the top entry without removing it.
func (vm *VM) Peek() Ref {
	vm.checkOpen()
	r, ok := vm.stack.peek(0)
	if !ok {
		vm.fatal(StackUnderflow, "peek at empty stack")
	}
	return r
}

// Depth returns the operand stack depth.
func (vm *VM) Depth() int {
	return vm.stack.Depth()
}

// ---------------------------------------------------------------------------
// Object access
// ---------------------------------------------------------------------------

// IsLive reports whether r still denotes an allocated object.
func (vm *VM) IsLive(r Ref) bool {
	_, ok := vm.heap.lookup(r)
	return ok
}

// Kind returns the kind of a live object.
func (vm *VM) Kind(r Ref) Kind {
	return vm.object(r).kind
}

// Int returns the value of a live integer.
func (vm *VM) Int(r Ref) int64 {
	return vm.objectOfKind(r, KindInt).value
}

// Head returns the head of a live pair.
func (vm *VM) Head(r Ref) Ref {
	return vm.objectOfKind(r, KindPair).head
}

// Tail returns the tail of a live pair.
func (vm *VM) Tail(r Ref) Ref {
	return vm.objectOfKind(r, KindPair).tail
}

// SetHead rewires the head of a live pair to another live object.
func (vm *VM) SetHead(pair, head Ref) {
	vm.checkOpen()
	obj := vm.objectOfKind(pair, KindPair)
	vm.object(head)
	obj.head = head
}

// SetTail rewires the tail of a live pair to another live object.
func (vm *VM) SetTail(pair, tail Ref) {
	vm.checkOpen()
	obj := vm.objectOfKind(pair, KindPair)
	vm.object(tail)
	obj.tail = tail
}

// ---------------------------------------------------------------------------
// Collection and lifecycle
// ---------------------------------------------------------------------------

// NumObjects returns the number of live objects.
func (vm *VM) NumObjects() int {
	return vm.heap.Count()
}

// Threshold returns the live-object count that triggers the next automatic
// collection.
func (vm *VM) Threshold() int {
	return vm.heap.Threshold()
}

// GC runs a full collection cycle now.
func (vm *VM) GC() GCStats {
	vm.checkOpen()
	return vm.collector.collect(TriggerForced)
}

// Shutdown clears the stack and runs a final cycle, which reclaims every
// object, then releases the heap storage. The VM cannot be used afterwards.
// Calling Shutdown again is a no-op.
func (vm *VM) Shutdown() GCStats {
	if vm.shutdown {
		return GCStats{}
	}
	vm.stack.clear()
	stats := vm.collector.collect(TriggerShutdown)
	vm.heap.reset()
	vm.shutdown = true
	vm.log.Debug("vm shut down", "heap", vm.id.String(), "cycles", stats.Cycle)
	return stats
}

// IsShutdown reports whether Shutdown has been called.
func (vm *VM) IsShutdown() bool {
	return vm.shutdown
}

// HeapStats is a point-in-time summary of a VM's heap.
type HeapStats struct {
	ID        string
	Objects   int
	Ints      int
	Pairs     int
	Threshold int
	Limit     int
	Depth     int
	StackCap  int
	Cycles    uint64
}

// Stats summarizes the heap and stack.
func (vm *VM) Stats() HeapStats {
	ints, pairs := vm.heap.KindCounts()
	return HeapStats{
		ID:        vm.id.String(),
		Objects:   vm.heap.Count(),
		Ints:      ints,
		Pairs:     pairs,
		Threshold: vm.heap.Threshold(),
		Limit:     vm.heap.Limit(),
		Depth:     vm.stack.Depth(),
		StackCap:  vm.stack.Cap(),
		Cycles:    vm.collector.Cycles(),
	}
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

func (vm *VM) allocate(kind Kind) (Ref, *Object) {
	r, obj, ok := vm.heap.allocate(kind)
	if !ok {
		vm.fatal(HeapExhausted, "%d live objects at cap %d", vm.heap.Count(), vm.heap.Limit())
	}
	return r, obj
}

func (vm *VM) object(r Ref) *Object {
	obj, ok := vm.heap.lookup(r)
	if !ok {
		vm.fatal(InvalidRef, "%s does not denote a live object", r)
	}
	return obj
}

func (vm *VM) objectOfKind(r Ref, kind Kind) *Object {
	obj := vm.object(r)
	if obj.kind != kind {
		vm.fatal(InvalidRef, "%s is %s, want %s", r, obj.kind, kind)
	}
	return obj
}

func (vm *VM) checkOpen() {
	if vm.shutdown {
		vm.fatal(Shutdown, "heap %s", vm.id)
	}
}

// fatal reports a contract violation and panics with it. It never returns.
func (vm *VM) fatal(kind FatalKind, format string, args ...any) {
	err := &FatalError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
	vm.log.Error(err.Error(), "heap", vm.id.String())
	if vm.onFatal != nil {
		vm.onFatal(err)
	}
	panic(err)
}
