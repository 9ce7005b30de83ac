// Package zset implements Z-sets, the change-set representation used by the
// incremental computation engine: a mapping from a tuple to a signed integer
// weight. A positive weight is a net insertion, a negative weight a net
// deletion, and a weight of zero means the tuple is absent (zero-weight
// entries are pruned automatically after every operation).
//
// Z-set addition is commutative and associative with the empty Z-set as
// identity, which is what makes results order-independent when independent
// operators run concurrently.
//
// Tuples are unstructured maps keyed by their canonical JSON representation,
// so any JSON-shaped value can participate. An optional Schema can be bound
// at the ingestion boundary to reject malformed tuples before they ever
// reach an operator trace.
//
// Example usage:
//
//	delta := zset.New()
//	delta.AddTupleMutate(tuple, 1) // insert with weight 1
//	out, err := delta.Add(other)
package zset
