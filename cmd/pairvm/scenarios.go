package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/chazu/pairvm/vm"
)

// scenario is one demonstration of the collector, checked as it runs.
type scenario struct {
	name string
	opts []vm.Option
	run  func(v *vm.VM) error
}

// scenarioResult is the outcome of running a scenario on a fresh VM.
type scenarioResult struct {
	Name    string
	Err     error
	Objects int
	Depth   int
	Cycles  uint64
}

func (r scenarioResult) Passed() bool {
	return r.Err == nil
}

var scenarios = []scenario{
	{
		name: "Objects on the stack are preserved",
		run: func(v *vm.VM) error {
			v.PushInt(1)
			v.PushInt(2)
			v.GC()
			return expect("live objects", v.NumObjects(), 2)
		},
	},
	{
		name: "Unreached objects are collected",
		run: func(v *vm.VM) error {
			v.PushInt(1)
			v.PushInt(2)
			v.Pop()
			v.Pop()
			v.GC()
			return expect("live objects", v.NumObjects(), 0)
		},
	},
	{
		name: "Reach nested objects",
		run: func(v *vm.VM) error {
			v.PushInt(1)
			v.PushInt(2)
			v.PushPair()
			v.PushInt(3)
			v.PushInt(4)
			v.PushPair()
			v.PushPair()
			if err := expect("stack depth", v.Depth(), 1); err != nil {
				return err
			}
			return expect("live objects", v.NumObjects(), 7)
		},
	},
	{
		name: "Handle cycles",
		run: func(v *vm.VM) error {
			crossLink(v)
			if err := expect("stack depth", v.Depth(), 2); err != nil {
				return err
			}
			if err := expect("live objects before collection", v.NumObjects(), 6); err != nil {
				return err
			}
			v.GC()
			if err := expect("live objects after collection", v.NumObjects(), 4); err != nil {
				return err
			}
			return expect("registry length", registryLength(v), 4)
		},
	},
	{
		name: "VM triggers a collection by itself at the threshold",
		opts: []vm.Option{vm.WithInitialThreshold(vm.DefaultInitialThreshold)},
		run: func(v *vm.VM) error {
			crossLink(v)
			v.PushInt(5)
			v.PushInt(6)
			v.PushPair()
			if err := expect("collections", int(v.Collector().Cycles()), 1); err != nil {
				return err
			}
			if err := expect("stack depth", v.Depth(), 3); err != nil {
				return err
			}
			if err := expect("live objects", v.NumObjects(), 7); err != nil {
				return err
			}
			return expect("registry length", registryLength(v), 7)
		},
	},
}

// crossLink builds two pairs whose tails point at each other, leaving the
// integers 2 and 4 unreachable.
func crossLink(v *vm.VM) {
	v.PushInt(1)
	v.PushInt(2)
	a := v.PushPair()
	v.PushInt(3)
	v.PushInt(4)
	b := v.PushPair()
	v.SetTail(a, b)
	v.SetTail(b, a)
}

func registryLength(v *vm.VM) int {
	n := 0
	v.Heap().Walk(func(vm.Ref, *vm.Object) bool {
		n++
		return true
	})
	return n
}

func expect(what string, got, want int) error {
	if got != want {
		return fmt.Errorf("%s = %d, want %d", what, got, want)
	}
	return nil
}

// scenarioRunner runs scenarios on fresh VMs built from opts.
type scenarioRunner struct {
	opts []vm.Option

	// attach runs on each new VM before the scenario.
	attach func(*vm.VM)
	// inspect runs on each VM after the scenario, before shutdown.
	inspect func(name string, v *vm.VM)
}

func (r *scenarioRunner) run(s scenario) (res scenarioResult) {
	opts := append(append([]vm.Option(nil), r.opts...), s.opts...)
	v := vm.New(opts...)
	defer v.Shutdown()

	if r.attach != nil {
		r.attach(v)
	}

	res.Name = s.name
	if err := vm.Guard(func() { res.Err = s.run(v) }); err != nil {
		res.Err = err
	}
	res.Objects = v.NumObjects()
	res.Depth = v.Depth()
	res.Cycles = v.Collector().Cycles()

	if r.inspect != nil {
		r.inspect(s.name, v)
	}
	return res
}

// runAll runs every scenario and reports a PASS/FAIL line for each. It
// returns the number of failures.
func (r *scenarioRunner) runAll(out io.Writer, verbose bool) int {
	pass := color.New(color.FgGreen, color.Bold).SprintFunc()
	fail := color.New(color.FgRed, color.Bold).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()

	failed := 0
	for i, s := range scenarios {
		res := r.run(s)
		if res.Passed() {
			fmt.Fprintf(out, "%s Test %d: %s\n", pass("PASS"), i+1, res.Name)
		} else {
			failed++
			fmt.Fprintf(out, "%s Test %d: %s: %v\n", fail("FAIL"), i+1, res.Name, res.Err)
		}
		if verbose {
			fmt.Fprintf(out, "     %s\n", faint(fmt.Sprintf("objects %d, depth %d, cycles %d",
				res.Objects, res.Depth, res.Cycles)))
		}
	}
	return failed
}
