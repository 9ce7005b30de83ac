package operator

import (
	"fmt"

	"github.com/l7mp/deltaflow/pkg/trace"
	"github.com/l7mp/deltaflow/pkg/zset"
)

// Mapper transforms a tuple into zero or more output tuples.
type Mapper interface {
	Map(zset.Tuple) ([]zset.Tuple, error)
	fmt.Stringer
}

// Predicate decides whether a tuple passes a filter.
type Predicate interface {
	Match(zset.Tuple) (bool, error)
	fmt.Stringer
}

// Extractor extracts a value (join key, group key, aggregated value) from a
// tuple. Returning nil skips the tuple.
type Extractor interface {
	Extract(zset.Tuple) (any, error)
	fmt.Stringer
}

// Combiner merges a matched pair of tuples into zero or more join outputs.
type Combiner interface {
	Combine(left, right zset.Tuple) ([]zset.Tuple, error)
	fmt.Stringer
}

// Type classifies operators by their incremental semantics.
type Type int

const (
	// TypeLinear operators are their own incremental form (Op^Δ = Op).
	TypeLinear Type = iota
	// TypeBilinear operators need the three-term delta expansion (joins).
	TypeBilinear
	// TypeNonLinear operators need dedicated stateful handling (distinct,
	// aggregation).
	TypeNonLinear
	// TypeStructural operators shape the graph (add, negate, delay).
	TypeStructural
)

// Operator represents a unit of incremental computation: it is called
// exactly once per circuit step with one input delta per input edge, already
// computed in dependency order, and produces the step's output delta.
type Operator interface {
	// Process evaluates the operator for one step.
	Process(step uint64, inputs ...*zset.ZSet) (*zset.ZSet, error)
	// Name returns the operator name for debugging and journaling.
	Name() string
	// Arity returns the number of inputs expected.
	Arity() int
	// OpType classifies the operator's incremental semantics.
	OpType() Type
}

// Stateful is implemented by operators that hold materialized traces. The
// circuit commits or aborts the traces with the step, the storage layer
// journals their per-step deltas and snapshots them at checkpoints.
type Stateful interface {
	Operator
	// Traces returns the operator's traces under stable names. The
	// returned map must not change over the operator's lifetime.
	Traces() map[string]*trace.Trace
}

// BaseOp carries the name/arity boilerplate shared by all operators.
type BaseOp struct {
	arity int
	name  string
}

// NewBaseOp creates the operator base.
func NewBaseOp(name string, arity int) BaseOp {
	return BaseOp{arity: arity, name: name}
}

func (n *BaseOp) Name() string { return n.name }
func (n *BaseOp) Arity() int   { return n.arity }

func (n *BaseOp) validateInputs(inputs []*zset.ZSet) error {
	if len(inputs) != n.arity {
		return fmt.Errorf("operator %s expects %d inputs, got %d", n.name, n.arity, len(inputs))
	}
	return nil
}
