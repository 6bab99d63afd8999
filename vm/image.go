package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Heap image: CBOR snapshot of a VM's live objects and stack
// ---------------------------------------------------------------------------

// ImageMagic identifies a pairvm heap image.
const ImageMagic = "PVMI"

// ImageVersion is the current image format version.
// v1: initial format
const ImageVersion uint32 = 1

// imageEncMode uses canonical encoding so equal heaps encode to equal bytes.
var imageEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	imageEncMode = em
}

// imageFile is the top-level image record. Objects are stored oldest first;
// pair children and stack entries are positions in Objects.
type imageFile struct {
	Magic     string        `cbor:"1,keyasint"`
	Version   uint32        `cbor:"2,keyasint"`
	ID        []byte        `cbor:"3,keyasint"`
	Threshold int           `cbor:"4,keyasint"`
	StackCap  int           `cbor:"5,keyasint"`
	Objects   []imageObject `cbor:"6,keyasint"`
	Stack     []int         `cbor:"7,keyasint"`
}

type imageObject struct {
	_     struct{} `cbor:",toarray"`
	Kind  Kind
	Value int64
	Head  int
	Tail  int
}

// MarshalImage encodes the live heap and the operand stack.
func (vm *VM) MarshalImage() ([]byte, error) {
	if vm.shutdown {
		return nil, ErrShutdown
	}

	// The registry runs newest first; reverse it so loading replays the
	// allocations in their original order.
	var refs []Ref
	vm.heap.Walk(func(r Ref, _ *Object) bool {
		refs = append(refs, r)
		return true
	})
	for i, j := 0, len(refs)-1; i < j; i, j = i+1, j-1 {
		refs[i], refs[j] = refs[j], refs[i]
	}

	pos := make(map[Ref]int, len(refs))
	for i, r := range refs {
		pos[r] = i
	}

	img := imageFile{
		Magic:     ImageMagic,
		Version:   ImageVersion,
		ID:        vm.id[:],
		Threshold: vm.heap.Threshold(),
		StackCap:  vm.stack.Cap(),
		Objects:   make([]imageObject, len(refs)),
		Stack:     make([]int, 0, vm.stack.Depth()),
	}
	for i, r := range refs {
		obj, _ := vm.heap.lookup(r)
		rec := imageObject{Kind: obj.kind, Head: -1, Tail: -1}
		switch obj.kind {
		case KindInt:
			rec.Value = obj.value
		case KindPair:
			rec.Head = pos[obj.head]
			rec.Tail = pos[obj.tail]
		}
		img.Objects[i] = rec
	}
	vm.stack.eachRoot(func(r Ref) {
		img.Stack = append(img.Stack, pos[r])
	})

	data, err := imageEncMode.Marshal(&img)
	if err != nil {
		return nil, fmt.Errorf("vm: marshal image: %w", err)
	}
	return data, nil
}

// LoadImage rebuilds a VM from an image produced by MarshalImage. The image
// supplies the heap ID and stack capacity; opts are applied after them and
// may override either. No collection runs while the heap is rebuilt.
func LoadImage(data []byte, opts ...Option) (*VM, error) {
	var img imageFile
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("vm: unmarshal image: %w", err)
	}
	if img.Magic != ImageMagic {
		return nil, fmt.Errorf("vm: not a heap image (magic %q)", img.Magic)
	}
	if img.Version != ImageVersion {
		return nil, fmt.Errorf("vm: unsupported image version %d", img.Version)
	}
	id, err := uuid.FromBytes(img.ID)
	if err != nil {
		return nil, fmt.Errorf("vm: image heap id: %w", err)
	}
	if img.Threshold < 0 {
		return nil, fmt.Errorf("vm: negative image threshold %d", img.Threshold)
	}

	base := []Option{WithID(id)}
	if img.StackCap > 0 {
		base = append(base, WithStackCapacity(img.StackCap))
	}
	vm := New(append(base, opts...)...)

	n := len(img.Objects)
	if limit := vm.heap.Limit(); limit > 0 && n > limit {
		return nil, fmt.Errorf("vm: image holds %d objects, cap is %d", n, limit)
	}
	if len(img.Stack) > vm.stack.Cap() {
		return nil, fmt.Errorf("vm: image stack depth %d exceeds capacity %d", len(img.Stack), vm.stack.Cap())
	}

	inRange := func(i int) bool { return i >= 0 && i < n }

	refs := make([]Ref, n)
	for i, rec := range img.Objects {
		switch rec.Kind {
		case KindInt:
		case KindPair:
			if !inRange(rec.Head) || !inRange(rec.Tail) {
				return nil, fmt.Errorf("vm: image object %d: pair child out of range", i)
			}
		default:
			return nil, fmt.Errorf("vm: image object %d: unknown kind %d", i, rec.Kind)
		}
		refs[i], _ = vm.heap.place(rec.Kind)
	}
	// Payloads are filled once every slot exists; placing can grow the
	// arena and move earlier objects.
	for i, rec := range img.Objects {
		obj, _ := vm.heap.lookup(refs[i])
		switch rec.Kind {
		case KindInt:
			obj.initInt(rec.Value)
		case KindPair:
			obj.initPair(refs[rec.Head], refs[rec.Tail])
		}
	}
	for _, p := range img.Stack {
		if !inRange(p) {
			return nil, fmt.Errorf("vm: image stack entry %d out of range", p)
		}
		vm.stack.push(refs[p])
	}
	vm.heap.threshold = img.Threshold

	return vm, nil
}
