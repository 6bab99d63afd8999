package vm

// Kind tags a heap object. It is fixed when the object is allocated.
type Kind uint8

const (
	KindInt  Kind = iota + 1 // integer leaf
	KindPair                 // head/tail node
)

// String returns the lower-case kind name.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindPair:
		return "pair"
	default:
		return "invalid"
	}
}

// Object is a heap-resident value.
//
// An Object lives in a heap slot and is addressed through a Ref. The mark bit
// and the registry link belong to the collector; the mutator only sees the
// payload through the accessor methods.
type Object struct {
	kind   Kind
	marked bool

	// next is the registry link: the slot index of the next older object,
	// or noSlot at the end of the list.
	next int32

	// Payload. Integers use value; pairs use head and tail.
	value int64
	head  Ref
	tail  Ref
}

// Kind returns the object's kind.
func (o *Object) Kind() Kind {
	return o.kind
}

// Value returns the payload of an integer object. Zero for pairs.
func (o *Object) Value() int64 {
	return o.value
}

// Head returns the first slot of a pair object. Nil for integers.
func (o *Object) Head() Ref {
	return o.head
}

// Tail returns the second slot of a pair object. Nil for integers.
func (o *Object) Tail() Ref {
	return o.tail
}

// ---------------------------------------------------------------------------
// Payload construction
// ---------------------------------------------------------------------------

func (o *Object) initInt(value int64) {
	o.value = value
}

func (o *Object) initPair(head, tail Ref) {
	o.head = head
	o.tail = tail
}
