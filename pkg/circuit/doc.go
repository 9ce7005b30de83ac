// Package circuit implements the operator graph and its step-by-step
// execution semantics. A circuit owns its operators and their traces, drives
// them through synchronized evaluation rounds (one step per input batch),
// and guarantees that a step's effects become visible to sinks only after
// the step commits.
//
// A step walks the state machine Idle → Dispatching → Executing →
// Committing → Idle. Dispatching validates the input batches against the
// declared table schemas, Executing runs the operators in topological order
// (independent operators in parallel on a fixed worker pool), and Committing
// journals every stateful operator's trace delta to the write-ahead log
// before the traces and the global step counter advance. A failure anywhere
// before commit aborts the step: traces roll back, no WAL records are
// published, and the circuit stays at its last committed state.
//
// Recursive subgraphs are wrapped as Region operators with their own nested
// clock and an iteration cap, so the outer graph stays acyclic.
//
// Checkpointing takes exclusive (non-stepping) access through the circuit's
// StateProvider methods: stepping and checkpointing are mutually exclusive,
// each internally parallel across operators.
package circuit
