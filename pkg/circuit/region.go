package circuit

import (
	"fmt"

	"github.com/l7mp/deltaflow/pkg/operator"
	"github.com/l7mp/deltaflow/pkg/trace"
	"github.com/l7mp/deltaflow/pkg/zset"
)

// Region is a recursive sub-computation embedded in an outer circuit as a
// single operator. It wraps an inner graph with a designated feedback table
// and runs its own nested iteration loop within each outer step: iteration
// zero delivers the outer input deltas, every later iteration delivers only
// the previous iteration's output delta through the feedback table, until
// the output delta is empty. The region's output is the sum of all
// iteration deltas.
//
// Inner stateful operators stage into their traces across iterations; the
// outer circuit commits or aborts them with the enclosing step, so a
// diverged or failed region leaves no residue.
type Region struct {
	operator.BaseOp
	graph       *Graph
	inputTables []string
	feedbackID  string
	outputID    string
	iterCap     int
	lastIters   int
}

// DefaultIterationCap bounds nested fixed-point loops unless overridden.
const DefaultIterationCap = 1000

// NewRegion creates a recursive region over the inner graph. The input
// tables are bound positionally to the region's operator inputs; the
// feedback table must be a distinct inner input table, and outputID names
// the inner node whose delta is both fed back and emitted.
func NewRegion(name string, inner *Graph, inputTables []string, feedbackTable, outputID string, iterCap int) (*Region, error) {
	if err := inner.MarkOutput(outputID); err != nil {
		return nil, err
	}
	if err := inner.Validate(); err != nil {
		return nil, err
	}

	for _, table := range inputTables {
		if table == feedbackTable {
			return nil, NewInvalidGraphError(
				fmt.Sprintf("region %s: feedback table %q cannot be an input table", name, table), nil)
		}
		if _, ok := inner.InputNode(table); !ok {
			return nil, NewInvalidGraphError(
				fmt.Sprintf("region %s: input table %q not found in inner graph", name, table), nil)
		}
	}
	feedback, ok := inner.InputNode(feedbackTable)
	if !ok {
		return nil, NewInvalidGraphError(
			fmt.Sprintf("region %s: feedback table %q not found in inner graph", name, feedbackTable), nil)
	}

	if iterCap <= 0 {
		iterCap = DefaultIterationCap
	}

	return &Region{
		BaseOp:      operator.NewBaseOp(name, len(inputTables)),
		graph:       inner,
		inputTables: inputTables,
		feedbackID:  feedback.ID,
		outputID:    outputID,
		iterCap:     iterCap,
	}, nil
}

func (r *Region) OpType() operator.Type { return operator.TypeNonLinear }

// Process runs the nested iteration loop for one outer step.
func (r *Region) Process(step uint64, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if len(inputs) != r.Arity() {
		return nil, fmt.Errorf("region %s expects %d inputs, got %d", r.Name(), r.Arity(), len(inputs))
	}

	current := map[string]*zset.ZSet{}
	for i, table := range r.inputTables {
		node, _ := r.graph.InputNode(table)
		current[node.ID] = inputs[i]
	}

	total := zset.New()
	for iter := 0; ; iter++ {
		if iter >= r.iterCap {
			return nil, &DivergedComputationError{Region: r.Name(), Iterations: iter}
		}

		delta, err := r.evalOnce(step, current)
		if err != nil {
			return nil, fmt.Errorf("region %s iteration %d: %w", r.Name(), iter, err)
		}
		if delta.IsZero() {
			r.lastIters = iter
			break
		}

		merged, err := total.Add(delta)
		if err != nil {
			return nil, fmt.Errorf("region %s iteration %d: %w", r.Name(), iter, err)
		}
		total = merged
		current = map[string]*zset.ZSet{r.feedbackID: delta}
	}

	return total, nil
}

// LastIterations returns the number of iterations the most recent step
// needed to reach its fixed point.
func (r *Region) LastIterations() int { return r.lastIters }

// evalOnce evaluates the inner graph for one iteration. Inner nodes run
// sequentially in level order; an outer step already parallelizes across
// operators.
func (r *Region) evalOnce(step uint64, inputDeltas map[string]*zset.ZSet) (*zset.ZSet, error) {
	outputs := map[string]*zset.ZSet{}

	for _, level := range r.graph.Levels() {
		for _, node := range level {
			if node.IsInput() {
				delta := inputDeltas[node.ID]
				if delta == nil {
					delta = zset.New()
				}
				outputs[node.ID] = delta
				continue
			}

			ins := make([]*zset.ZSet, 0, len(node.Inputs))
			for _, src := range node.Inputs {
				in := outputs[src.ID]
				if in == nil {
					in = zset.New()
				}
				ins = append(ins, in)
			}

			delta, err := node.Op.Process(step, ins...)
			if err != nil {
				return nil, fmt.Errorf("operator %s: %w", node.ID, err)
			}
			outputs[node.ID] = delta
		}
	}

	return outputs[r.outputID], nil
}

// Traces exposes the inner stateful operators' traces under flattened ids so
// the outer circuit journals and checkpoints them with everything else.
func (r *Region) Traces() map[string]*trace.Trace {
	traces := map[string]*trace.Trace{}
	for id, op := range r.graph.statefulNodes() {
		for name, tr := range op.Traces() {
			traces[id+"/"+name] = tr
		}
	}
	return traces
}

var _ operator.Stateful = &Region{}
