package vm

// ---------------------------------------------------------------------------
// Heap: the allocation ledger
// ---------------------------------------------------------------------------

const (
	// DefaultInitialThreshold is the live-object count that triggers the
	// first automatic collection.
	DefaultInitialThreshold = 8

	// GrowthFactor scales the threshold from the survivor count after each
	// cycle.
	GrowthFactor = 2

	noSlot int32 = -1
)

// slot is one cell of the heap arena. Freed slots keep their generation so
// stale Refs into them can be detected.
type slot struct {
	obj  Object
	gen  uint32
	live bool
}

// Heap tracks every allocated object, decides when a collection is due and
// owns allocation and reclamation.
//
// Objects live in an arena of slots with stable indices. Live slots are
// threaded into the registry list through Object.next, newest first; the
// registry is the only way to find objects the stack cannot reach. Freed
// slots go on a free list and are reused with a bumped generation.
type Heap struct {
	slots []slot
	free  []uint32
	first int32 // registry head

	numObjects int
	threshold  int
	limit      int // 0 means no cap

	collector *Collector
}

func newHeap(threshold, limit int) *Heap {
	return &Heap{
		first:     noSlot,
		threshold: threshold,
		limit:     limit,
	}
}

// Count returns the number of live objects.
func (h *Heap) Count() int {
	return h.numObjects
}

// Threshold returns the live-object count at which the next allocation
// triggers a collection.
func (h *Heap) Threshold() int {
	return h.threshold
}

// Limit returns the configured object cap, or 0 if the heap is uncapped.
func (h *Heap) Limit() int {
	return h.limit
}

// Due reports whether the next allocation will run a collection first.
func (h *Heap) Due() bool {
	return h.numObjects >= h.threshold
}

// allocate returns a fresh, unmarked object of the given kind spliced at the
// registry head. If a collection is due it runs first, synchronously. The
// second result is false if the heap cap is still reached after collecting.
func (h *Heap) allocate(kind Kind) (Ref, *Object, bool) {
	collected := false
	if h.Due() {
		h.collector.collect(TriggerAuto)
		collected = true
	}
	if h.limit > 0 && h.numObjects >= h.limit {
		if !collected {
			h.collector.collect(TriggerAuto)
		}
		if h.numObjects >= h.limit {
			return Nil, nil, false
		}
	}
	r, obj := h.place(kind)
	return r, obj, true
}

// place takes a slot and splices it at the registry head without consulting
// the trigger.
func (h *Heap) place(kind Kind) (Ref, *Object) {
	var idx uint32
	if n := len(h.free); n > 0 {
		idx = h.free[n-1]
		h.free = h.free[:n-1]
	} else {
		h.slots = append(h.slots, slot{gen: 1})
		idx = uint32(len(h.slots) - 1)
	}

	s := &h.slots[idx]
	s.live = true
	s.obj = Object{kind: kind, next: h.first}
	h.first = int32(idx)
	h.numObjects++

	return Ref{index: idx, gen: s.gen}, &s.obj
}

// lookup resolves r to its object. It fails for Nil, out-of-range and stale
// Refs.
func (h *Heap) lookup(r Ref) (*Object, bool) {
	if r.IsNil() || int(r.index) >= len(h.slots) {
		return nil, false
	}
	s := &h.slots[r.index]
	if !s.live || s.gen != r.gen {
		return nil, false
	}
	return &s.obj, true
}

// reclaimUnmarked walks the registry once. Unmarked objects are unlinked and
// their slots released; marked objects have their mark cleared for the next
// cycle. Returns the number of objects reclaimed.
func (h *Heap) reclaimUnmarked() int {
	swept := 0
	prev := noSlot
	for i := h.first; i != noSlot; {
		obj := &h.slots[i].obj
		next := obj.next
		if !obj.marked {
			if prev == noSlot {
				h.first = next
			} else {
				h.slots[prev].obj.next = next
			}
			h.release(uint32(i))
			h.numObjects--
			swept++
		} else {
			obj.marked = false
			prev = i
		}
		i = next
	}
	return swept
}

// rescaleThreshold sets the next trigger point from the survivor count. A
// heap with no survivors gets a threshold of 0, so the next allocation
// collects again.
func (h *Heap) rescaleThreshold() {
	h.threshold = h.numObjects * GrowthFactor
}

func (h *Heap) release(idx uint32) {
	s := &h.slots[idx]
	s.obj = Object{}
	s.live = false
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	h.free = append(h.free, idx)
}

// Walk calls fn for every live object in registry order, newest first, until
// fn returns false. fn must not allocate or mutate the heap.
func (h *Heap) Walk(fn func(Ref, *Object) bool) {
	for i := h.first; i != noSlot; {
		s := &h.slots[i]
		next := s.obj.next
		if !fn(Ref{index: uint32(i), gen: s.gen}, &s.obj) {
			return
		}
		i = next
	}
}

// KindCounts returns the number of live integers and pairs.
func (h *Heap) KindCounts() (ints, pairs int) {
	h.Walk(func(_ Ref, obj *Object) bool {
		switch obj.kind {
		case KindInt:
			ints++
		case KindPair:
			pairs++
		}
		return true
	})
	return ints, pairs
}

// reset drops every object without running a cycle.
func (h *Heap) reset() {
	h.slots = nil
	h.free = nil
	h.first = noSlot
	h.numObjects = 0
}
