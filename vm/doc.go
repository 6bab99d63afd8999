// Package vm implements the pairvm heap: a stack machine whose only heap
// values are integers and pairs, managed by a tracing collector.
//
// This package contains:
//   - generation-checked Refs and the two-kind object model
//   - the allocation ledger (Heap) with its count-based collection trigger
//   - the mark-and-sweep Collector rooted at the operand stack
//   - the VM instance, its fatal conditions, and the CBOR heap image
package vm
