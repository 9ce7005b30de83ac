package operator

import (
	"github.com/l7mp/deltaflow/pkg/trace"
	"github.com/l7mp/deltaflow/pkg/zset"
)

// IntegratorOp implements the I operator: it converts a delta stream into a
// snapshot stream by accumulating all deltas seen so far.
//
//	I(s)[t] = Σ(i=0..t) s[i]
type IntegratorOp struct {
	BaseOp
	state  *trace.Trace
	traces map[string]*trace.Trace
}

// NewIntegrator creates a new integrator.
func NewIntegrator() *IntegratorOp {
	op := &IntegratorOp{
		BaseOp: NewBaseOp("integrate", 1),
		state:  trace.New(),
	}
	op.traces = map[string]*trace.Trace{"state": op.state}
	return op
}

func (n *IntegratorOp) OpType() Type { return TypeLinear }

// Traces exposes the accumulated state for journaling and checkpointing.
func (n *IntegratorOp) Traces() map[string]*trace.Trace { return n.traces }

// Process evaluates the op.
func (n *IntegratorOp) Process(step uint64, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}

	if err := n.state.Apply(step, inputs[0]); err != nil {
		return nil, err
	}

	return n.state.AsZSet()
}

// DifferentiatorOp implements the D operator: it converts a snapshot stream
// into a delta stream.
//
//	D(s)[t] = s[t] - s[t-1]
type DifferentiatorOp struct {
	BaseOp
	prev   *trace.Trace
	traces map[string]*trace.Trace
}

// NewDifferentiator creates a new differentiator.
func NewDifferentiator() *DifferentiatorOp {
	op := &DifferentiatorOp{
		BaseOp: NewBaseOp("differentiate", 1),
		prev:   trace.New(),
	}
	op.traces = map[string]*trace.Trace{"previous": op.prev}
	return op
}

func (n *DifferentiatorOp) OpType() Type { return TypeLinear }

// Traces exposes the previous snapshot for journaling and checkpointing.
func (n *DifferentiatorOp) Traces() map[string]*trace.Trace { return n.traces }

// Process evaluates the op.
func (n *DifferentiatorOp) Process(step uint64, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}

	prev, err := n.prev.AsZSet()
	if err != nil {
		return nil, err
	}

	delta, err := inputs[0].Subtract(prev)
	if err != nil {
		return nil, err
	}

	// prev + delta = current snapshot.
	if err := n.prev.Apply(step, delta); err != nil {
		return nil, err
	}

	return delta, nil
}

// DelayOp implements the z^-1 operator: it delays the stream by one step,
// emitting the empty Z-set on the first step. Delay is what closes the
// feedback edge inside a recursive region.
type DelayOp struct {
	BaseOp
	buffer *trace.Trace
	traces map[string]*trace.Trace
}

// NewDelay creates a new delay op.
func NewDelay() *DelayOp {
	op := &DelayOp{
		BaseOp: NewBaseOp("delay", 1),
		buffer: trace.New(),
	}
	op.traces = map[string]*trace.Trace{"buffer": op.buffer}
	return op
}

func (n *DelayOp) OpType() Type { return TypeStructural }

// Traces exposes the delay buffer for journaling and checkpointing.
func (n *DelayOp) Traces() map[string]*trace.Trace { return n.traces }

// Process evaluates the op.
func (n *DelayOp) Process(step uint64, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}

	output, err := n.buffer.AsZSet()
	if err != nil {
		return nil, err
	}

	// Replace the buffer contents with the current input.
	change, err := inputs[0].Subtract(output)
	if err != nil {
		return nil, err
	}
	if err := n.buffer.Apply(step, change); err != nil {
		return nil, err
	}

	return output, nil
}

// AddOp merges two deltas by weight-wise addition.
type AddOp struct {
	BaseOp
}

// NewAdd creates a new addition op.
func NewAdd() *AddOp {
	return &AddOp{BaseOp: NewBaseOp("add", 2)}
}

func (n *AddOp) OpType() Type { return TypeStructural }

// Process evaluates the op.
func (n *AddOp) Process(_ uint64, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	return inputs[0].Add(inputs[1])
}

// NegateOp flips the sign of every weight.
type NegateOp struct {
	BaseOp
}

// NewNegate creates a new negation op.
func NewNegate() *NegateOp {
	return &NegateOp{BaseOp: NewBaseOp("negate", 1)}
}

func (n *NegateOp) OpType() Type { return TypeStructural }

// Process evaluates the op.
func (n *NegateOp) Process(_ uint64, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	return inputs[0].Negate()
}
