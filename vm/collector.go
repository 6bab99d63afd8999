package vm

import (
	"time"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Collector: mark from the operand stack, sweep the registry
// ---------------------------------------------------------------------------

// Trigger records why a collection cycle ran.
type Trigger uint8

const (
	TriggerAuto     Trigger = iota + 1 // allocation reached the threshold
	TriggerForced                      // explicit VM.GC call
	TriggerShutdown                    // final cycle in VM.Shutdown
)

// String returns the trigger name used in logs and the journal.
func (t Trigger) String() string {
	switch t {
	case TriggerAuto:
		return "auto"
	case TriggerForced:
		return "forced"
	case TriggerShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// ParseTrigger is the inverse of Trigger.String.
func ParseTrigger(s string) Trigger {
	switch s {
	case "auto":
		return TriggerAuto
	case "forced":
		return TriggerForced
	case "shutdown":
		return TriggerShutdown
	default:
		return 0
	}
}

// GCStats holds statistics from a single collection cycle.
type GCStats struct {
	Cycle     uint64
	Trigger   Trigger
	Before    int // live objects when the cycle started
	Marked    int
	Swept     int
	Survivors int
	Threshold int // threshold after rescaling
	Duration  time.Duration
	Timestamp time.Time
}

// Observer receives the stats of every completed cycle. Observers run on the
// mutator's goroutine, after the threshold has been rescaled, and must not
// call back into the VM.
type Observer func(GCStats)

// rootSet enumerates the references the collector treats as live.
type rootSet interface {
	eachRoot(fn func(Ref))
}

// Collector runs mark-and-sweep cycles over a Heap.
type Collector struct {
	heap  *Heap
	roots rootSet
	log   commonlog.Logger

	// work is the mark stack, kept between cycles to reuse its storage.
	work []Ref

	cycles    uint64
	lastStats GCStats
	observers []Observer
}

func newCollector(heap *Heap, roots rootSet, log commonlog.Logger) *Collector {
	c := &Collector{
		heap:  heap,
		roots: roots,
		log:   log,
	}
	heap.collector = c
	return c
}

// Cycles returns the number of completed cycles.
func (c *Collector) Cycles() uint64 {
	return c.cycles
}

// LastStats returns the stats of the most recent cycle. The second result is
// false if no cycle has run yet.
func (c *Collector) LastStats() (GCStats, bool) {
	return c.lastStats, c.cycles > 0
}

// Observe registers an observer for completed cycles.
func (c *Collector) Observe(obs Observer) {
	if obs != nil {
		c.observers = append(c.observers, obs)
	}
}

// collect runs one full cycle: mark, sweep, rescale.
func (c *Collector) collect(trigger Trigger) GCStats {
	start := time.Now()
	stats := GCStats{
		Cycle:     c.cycles + 1,
		Trigger:   trigger,
		Before:    c.heap.numObjects,
		Timestamp: start,
	}

	if trigger == TriggerAuto {
		c.log.Info("automatic collection", "live", stats.Before, "threshold", c.heap.threshold)
	}

	stats.Marked = c.markAll()
	stats.Swept = c.heap.reclaimUnmarked()
	c.heap.rescaleThreshold()

	stats.Survivors = c.heap.numObjects
	stats.Threshold = c.heap.threshold
	stats.Duration = time.Since(start)

	c.cycles = stats.Cycle
	c.lastStats = stats

	c.log.Debug("collection finished",
		"cycle", stats.Cycle,
		"trigger", stats.Trigger.String(),
		"marked", stats.Marked,
		"swept", stats.Swept,
		"threshold", stats.Threshold)

	for _, obs := range c.observers {
		obs(stats)
	}
	return stats
}

// markAll marks the reachable closure of every root and returns the number
// of objects newly marked.
func (c *Collector) markAll() int {
	marked := 0
	c.roots.eachRoot(func(r Ref) {
		marked += c.mark(r)
	})
	return marked
}

// mark traces from root with an explicit work list. An object that is
// already marked is not expanded again, which bounds the trace on cyclic
// graphs.
func (c *Collector) mark(root Ref) int {
	marked := 0
	work := append(c.work[:0], root)
	for len(work) > 0 {
		r := work[len(work)-1]
		work = work[:len(work)-1]

		obj, ok := c.heap.lookup(r)
		if !ok || obj.marked {
			continue
		}
		obj.marked = true
		marked++

		if obj.kind == KindPair {
			work = append(work, obj.tail, obj.head)
		}
	}
	c.work = work[:0]
	return marked
}
