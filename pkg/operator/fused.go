package operator

import (
	"fmt"
	"strings"

	"github.com/l7mp/deltaflow/pkg/zset"
)

// tupleStage is a linear single-input operator that can be applied tuple by
// tuple, which is what makes it fusable.
type tupleStage interface {
	Operator
	applyTuple(zset.Tuple) ([]zset.Tuple, error)
}

func (n *MapOp) applyTuple(t zset.Tuple) ([]zset.Tuple, error) {
	return n.mapper.Map(zset.DeepCopyTuple(t))
}

func (n *FilterOp) applyTuple(t zset.Tuple) ([]zset.Tuple, error) {
	ok, err := n.pred.Match(t)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return []zset.Tuple{t}, nil
}

// FusedOp runs a chain of stateless linear stages in a single pass over the
// input delta, without materializing the intermediate Z-sets. Fusing linear
// stages is sound because linearity distributes over the chain.
type FusedOp struct {
	BaseOp
	stages []tupleStage
}

// NewFused fuses two or more linear single-input operators (maps and
// filters) into one.
func NewFused(ops ...Operator) (*FusedOp, error) {
	if len(ops) < 2 {
		return nil, fmt.Errorf("fusion needs at least two stages, got %d", len(ops))
	}

	stages := make([]tupleStage, 0, len(ops))
	names := make([]string, 0, len(ops))
	for _, op := range ops {
		stage, ok := op.(tupleStage)
		if !ok || op.OpType() != TypeLinear || op.Arity() != 1 {
			return nil, fmt.Errorf("operator %s is not a fusable linear stage", op.Name())
		}
		stages = append(stages, stage)
		names = append(names, op.Name())
	}

	return &FusedOp{
		BaseOp: NewBaseOp(fmt.Sprintf("[%s]", strings.Join(names, "->")), 1),
		stages: stages,
	}, nil
}

func (n *FusedOp) OpType() Type { return TypeLinear }

// Process evaluates the op.
func (n *FusedOp) Process(_ uint64, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}

	result := zset.New()

	for _, e := range inputs[0].Entries() {
		tuples := []zset.Tuple{e.Tuple}
		for _, stage := range n.stages {
			next := make([]zset.Tuple, 0, len(tuples))
			for _, t := range tuples {
				out, err := stage.applyTuple(t)
				if err != nil {
					return nil, err
				}
				next = append(next, out...)
			}
			tuples = next
			if len(tuples) == 0 {
				break
			}
		}

		for _, t := range tuples {
			if err := result.AddTupleMutate(t, e.Weight); err != nil {
				return nil, err
			}
		}
	}

	return result, nil
}
