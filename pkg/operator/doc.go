// Package operator implements the incremental operators the circuit wires
// together: stateless map/filter, the bilinear incremental join, group-by
// aggregation with retraction semantics, multiset-to-set distinct, and the
// integrator/differentiator/delay plumbing operators of the delta calculus.
//
// Every operator consumes one Z-set delta per input edge and produces one
// output delta per step. Stateful operators keep their materialized history
// in traces (package trace) and expose them through the Stateful interface,
// which is how the circuit journals state mutations to the write-ahead log
// and how the checkpoint manager snapshots and restores operator state by
// stable operator id.
package operator
