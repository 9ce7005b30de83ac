package operator

import (
	"github.com/l7mp/deltaflow/pkg/trace"
	"github.com/l7mp/deltaflow/pkg/zset"
)

// DistinctOp converts weighted multiset semantics into set semantics. It
// keeps a trace of cumulative multiplicities and emits a delta only when a
// tuple's sign crosses zero: weight +1 when the tuple first becomes present,
// weight -1 when it fully disappears.
type DistinctOp struct {
	BaseOp
	mults  *trace.Trace
	traces map[string]*trace.Trace
}

// NewDistinct creates a new incremental distinct op.
func NewDistinct() *DistinctOp {
	op := &DistinctOp{
		BaseOp: NewBaseOp("distinct", 1),
		mults:  trace.New(),
	}
	op.traces = map[string]*trace.Trace{"multiplicities": op.mults}
	return op
}

func (op *DistinctOp) OpType() Type { return TypeNonLinear }

// Traces exposes the multiplicity trace for journaling and checkpointing.
func (op *DistinctOp) Traces() map[string]*trace.Trace { return op.traces }

// Process evaluates the op.
func (op *DistinctOp) Process(step uint64, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := op.validateInputs(inputs); err != nil {
		return nil, err
	}

	result := zset.New()

	for _, e := range inputs[0].Entries() {
		old, err := op.mults.Weight(e.Tuple)
		if err != nil {
			return nil, err
		}
		cur := old + e.Weight

		change := zset.New()
		if err := change.AddTupleMutate(e.Tuple, e.Weight); err != nil {
			return nil, err
		}
		if err := op.mults.Apply(step, change); err != nil {
			return nil, err
		}

		switch {
		case old <= 0 && cur > 0:
			err = result.AddTupleMutate(e.Tuple, 1)
		case old > 0 && cur <= 0:
			err = result.AddTupleMutate(e.Tuple, -1)
		}
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}
