// Package trace implements the accumulated, time-indexed state a stateful
// operator needs to compute future deltas: an index from tuple to (net
// weight, logical step of last change).
//
// Mutations are staged per step: an operator applies its state delta during
// a circuit step, and the circuit either commits the step (all staged
// changes become durable and the trace's committed step advances) or aborts
// it (staged changes are rolled back, leaving the trace at its last
// committed state). Commit returns the staged delta so the caller can record
// it to the write-ahead log before downstream consumers observe the step.
//
// Traces snapshot to and restore from self-describing binary blobs carrying
// a format tag and a content checksum, so a checkpoint can rebuild the exact
// state in a fresh process using nothing but operator ids and blob bytes.
package trace
