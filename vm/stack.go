package vm

// DefaultStackCapacity is the operand stack size used when none is configured.
const DefaultStackCapacity = 256

// OperandStack is the VM's bounded stack of roots. Every entry refers to a
// live object.
type OperandStack struct {
	slots []Ref
	sp    int // next free slot
}

func newOperandStack(capacity int) *OperandStack {
	return &OperandStack{slots: make([]Ref, capacity)}
}

// Depth returns the number of entries on the stack.
func (s *OperandStack) Depth() int {
	return s.sp
}

// Cap returns the stack capacity.
func (s *OperandStack) Cap() int {
	return len(s.slots)
}

// push reports false if the stack is full.
func (s *OperandStack) push(r Ref) bool {
	if s.sp >= len(s.slots) {
		return false
	}
	s.slots[s.sp] = r
	s.sp++
	return true
}

// pop reports false if the stack is empty.
func (s *OperandStack) pop() (Ref, bool) {
	if s.sp <= 0 {
		return Nil, false
	}
	s.sp--
	r := s.slots[s.sp]
	s.slots[s.sp] = Nil
	return r, true
}

// peek returns the entry n places below the top (0 is the top).
func (s *OperandStack) peek(n int) (Ref, bool) {
	if n < 0 || n >= s.sp {
		return Nil, false
	}
	return s.slots[s.sp-1-n], true
}

// At returns the entry at position i counted from the bottom.
func (s *OperandStack) At(i int) Ref {
	if i < 0 || i >= s.sp {
		return Nil
	}
	return s.slots[i]
}

func (s *OperandStack) clear() {
	for i := 0; i < s.sp; i++ {
		s.slots[i] = Nil
	}
	s.sp = 0
}

// eachRoot visits the entries bottom to top.
func (s *OperandStack) eachRoot(fn func(Ref)) {
	for i := 0; i < s.sp; i++ {
		fn(s.slots[i])
	}
}
