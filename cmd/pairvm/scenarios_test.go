package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/chazu/pairvm/config"
	"github.com/chazu/pairvm/vm"
)

func TestScenariosPass(t *testing.T) {
	r := &scenarioRunner{}
	for i, s := range scenarios {
		res := r.run(s)
		if !res.Passed() {
			t.Errorf("scenario %d (%s) failed: %v", i+1, s.name, res.Err)
		}
	}
}

func TestScenarioObservations(t *testing.T) {
	var names []string
	var attached int
	r := &scenarioRunner{
		attach: func(*vm.VM) { attached++ },
		inspect: func(name string, v *vm.VM) {
			names = append(names, name)
		},
	}

	last := r.run(scenarios[len(scenarios)-1])
	if last.Cycles != 1 || last.Depth != 3 || last.Objects != 7 {
		t.Errorf("auto-trigger scenario = %+v, want 1 cycle, depth 3, 7 objects", last)
	}
	if attached != 1 || len(names) != 1 || names[0] != last.Name {
		t.Errorf("hooks saw attach=%d inspect=%v", attached, names)
	}
}

// The auto-trigger scenario pins its threshold, so a configured one does
// not change the outcome.
func TestScenarioIgnoresConfiguredThreshold(t *testing.T) {
	r := &scenarioRunner{opts: []vm.Option{vm.WithInitialThreshold(1000)}}
	if res := r.run(scenarios[4]); !res.Passed() {
		t.Errorf("auto-trigger scenario failed: %v", res.Err)
	}
}

func TestRunAllReportsFailures(t *testing.T) {
	color.NoColor = true

	var out bytes.Buffer
	r := &scenarioRunner{opts: []vm.Option{vm.WithStackCapacity(1)}}
	failed := r.runAll(&out, true)

	// Every scenario pushes at least two entries.
	if failed != len(scenarios) {
		t.Errorf("failed = %d, want %d\n%s", failed, len(scenarios), out.String())
	}
	if strings.Count(out.String(), "FAIL") != len(scenarios) {
		t.Errorf("output:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "stack overflow") {
		t.Errorf("output does not name the fatal condition:\n%s", out.String())
	}
}

func TestRunAllPasses(t *testing.T) {
	color.NoColor = true

	var out bytes.Buffer
	if failed := (&scenarioRunner{}).runAll(&out, false); failed != 0 {
		t.Fatalf("failed = %d\n%s", failed, out.String())
	}
	if got := strings.Count(out.String(), "PASS"); got != len(scenarios) {
		t.Errorf("PASS lines = %d, want %d", got, len(scenarios))
	}
}

func TestScenarioCapturesFatal(t *testing.T) {
	s := scenario{
		name: "underflow",
		run: func(v *vm.VM) error {
			v.Pop()
			return nil
		},
	}
	res := (&scenarioRunner{}).run(s)
	if !errors.Is(res.Err, vm.ErrStackUnderflow) {
		t.Errorf("Err = %v, want stack underflow", res.Err)
	}
}

// A configured object cap makes the nested scenario exhaust the heap; the
// runner reports it as a failure instead of ending the process.
func TestScenarioFatalUnderConfiguredCap(t *testing.T) {
	cfg := config.Default()
	cfg.Heap.MaxObjects = 3

	res := (&scenarioRunner{opts: cfg.VMOptions()}).run(scenarios[2])
	if !errors.Is(res.Err, vm.ErrHeapExhausted) {
		t.Errorf("Err = %v, want heap exhausted", res.Err)
	}
}
