package operator

import (
	"github.com/l7mp/deltaflow/pkg/zset"
)

// MapOp applies a tuple transformation to every entry of the input delta.
// Stateless and linear: the snapshot operator is its own incremental form.
type MapOp struct {
	BaseOp
	mapper Mapper
}

// NewMap creates a new map op.
func NewMap(mapper Mapper) *MapOp {
	return &MapOp{
		BaseOp: NewBaseOp("map", 1),
		mapper: mapper,
	}
}

func (n *MapOp) OpType() Type { return TypeLinear }

// Process evaluates the op.
func (n *MapOp) Process(_ uint64, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}

	result := zset.New()

	for _, e := range inputs[0].Entries() {
		// The mapper may modify the tuple.
		mapped, err := n.mapper.Map(zset.DeepCopyTuple(e.Tuple))
		if err != nil {
			return nil, err
		}

		for _, t := range mapped {
			if err := result.AddTupleMutate(t, e.Weight); err != nil {
				return nil, err
			}
		}
	}

	return result, nil
}

// FilterOp passes through entries whose tuple matches the predicate,
// preserving weights. Stateless and linear.
type FilterOp struct {
	BaseOp
	pred Predicate
}

// NewFilter creates a new filter op.
func NewFilter(pred Predicate) *FilterOp {
	return &FilterOp{
		BaseOp: NewBaseOp("filter", 1),
		pred:   pred,
	}
}

func (n *FilterOp) OpType() Type { return TypeLinear }

// Process evaluates the op.
func (n *FilterOp) Process(_ uint64, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}

	return inputs[0].Filter(n.pred.Match)
}
