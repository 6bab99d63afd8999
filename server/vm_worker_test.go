package server

import (
	"errors"
	"sync"
	"testing"

	"github.com/chazu/pairvm/vm"
)

func TestVMWorkerDo(t *testing.T) {
	w := NewVMWorker(vm.New())
	defer w.Stop()

	result, err := w.Do(func(v *vm.VM) interface{} {
		v.PushInt(7)
		return v.Int(v.Peek())
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if result.(int64) != 7 {
		t.Errorf("result = %v, want 7", result)
	}
}

func TestVMWorkerRecoversFatal(t *testing.T) {
	w := NewVMWorker(vm.New())
	defer w.Stop()

	_, err := w.Do(func(v *vm.VM) interface{} {
		return v.Pop()
	})
	if !errors.Is(err, vm.ErrStackUnderflow) {
		t.Fatalf("error = %v, want stack underflow", err)
	}
	if _, ok := vm.AsFatal(err); !ok {
		t.Errorf("error %T is not a FatalError", err)
	}

	// The worker keeps serving after a fatal condition.
	result, err := w.Do(func(v *vm.VM) interface{} {
		return v.Depth()
	})
	if err != nil || result.(int) != 0 {
		t.Errorf("Do after fatal = %v, %v", result, err)
	}
}

func TestVMWorkerRecoversOtherPanics(t *testing.T) {
	w := NewVMWorker(vm.New())
	defer w.Stop()

	_, err := w.Do(func(v *vm.VM) interface{} {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected an error from a panicking request")
	}
	if _, ok := vm.AsFatal(err); ok {
		t.Error("plain panic reported as a FatalError")
	}
}

func TestVMWorkerStop(t *testing.T) {
	w := NewVMWorker(vm.New())
	w.Stop()
	w.Stop()

	if _, err := w.Do(func(v *vm.VM) interface{} { return nil }); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("Do after Stop = %v, want ErrWorkerStopped", err)
	}
}

func TestVMWorkerSerializesAccess(t *testing.T) {
	w := NewVMWorker(vm.New(vm.WithInitialThreshold(4)))
	defer w.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := w.Do(func(v *vm.VM) interface{} {
				v.PushInt(int64(i))
				v.PushInt(int64(-i))
				v.PushPair()
				return v.Pop()
			})
			if err != nil {
				t.Errorf("Do returned error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	result, _ := w.Do(func(v *vm.VM) interface{} {
		v.GC()
		return v.Stats()
	})
	stats := result.(vm.HeapStats)
	if stats.Depth != 0 || stats.Objects != 0 {
		t.Errorf("after GC: depth %d, objects %d, want 0/0", stats.Depth, stats.Objects)
	}
}
