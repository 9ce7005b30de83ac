package operator

import (
	"fmt"

	"github.com/l7mp/deltaflow/pkg/trace"
	"github.com/l7mp/deltaflow/pkg/zset"
)

// JoinOp implements an incremental binary equi-join. Each side keeps a trace
// of its accumulated input indexed by the join key; on a step the op
// evaluates the bilinear expansion
//
//	ΔL ⋈ R_prev  +  L_prev ⋈ ΔR  +  ΔL ⋈ ΔR
//
// where both traces are the state *before* the step's update, so the
// simultaneous-delta term is counted exactly once. The traces are updated
// only after all three terms are produced.
type JoinOp struct {
	BaseOp
	leftKey, rightKey Extractor
	combiner          Combiner
	left, right       *trace.Trace
	traces            map[string]*trace.Trace
}

// NewJoin creates a new incremental binary join.
func NewJoin(leftKey, rightKey Extractor, combiner Combiner) *JoinOp {
	op := &JoinOp{
		BaseOp:   NewBaseOp("join", 2),
		leftKey:  leftKey,
		rightKey: rightKey,
		combiner: combiner,
	}
	op.left = trace.NewKeyed(extractorKeyFunc(leftKey))
	op.right = trace.NewKeyed(extractorKeyFunc(rightKey))
	op.traces = map[string]*trace.Trace{"left": op.left, "right": op.right}
	return op
}

func (op *JoinOp) OpType() Type { return TypeBilinear }

// Traces exposes the per-side traces for journaling and checkpointing.
func (op *JoinOp) Traces() map[string]*trace.Trace { return op.traces }

// Process evaluates the op.
func (op *JoinOp) Process(step uint64, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := op.validateInputs(inputs); err != nil {
		return nil, err
	}

	deltaL, deltaR := inputs[0], inputs[1]
	result := zset.New()

	// Term 1: ΔL ⋈ R_prev.
	if err := op.joinDeltaTrace(deltaL, op.leftKey, op.right, false, result); err != nil {
		return nil, fmt.Errorf("ΔL ⋈ R_prev failed: %w", err)
	}

	// Term 2: L_prev ⋈ ΔR.
	if err := op.joinDeltaTrace(deltaR, op.rightKey, op.left, true, result); err != nil {
		return nil, fmt.Errorf("L_prev ⋈ ΔR failed: %w", err)
	}

	// Term 3: ΔL ⋈ ΔR, computed exactly once.
	if err := op.joinDeltaDelta(deltaL, deltaR, result); err != nil {
		return nil, fmt.Errorf("ΔL ⋈ ΔR failed: %w", err)
	}

	// Update both traces for the next step.
	if err := op.left.Apply(step, deltaL); err != nil {
		return nil, err
	}
	if err := op.right.Apply(step, deltaR); err != nil {
		return nil, err
	}

	return result, nil
}

// joinDeltaTrace matches one side's delta against the other side's trace.
// When swap is set the delta is the right side.
func (op *JoinOp) joinDeltaTrace(delta *zset.ZSet, deltaKey Extractor, other *trace.Trace, swap bool, out *zset.ZSet) error {
	for _, e := range delta.Entries() {
		key, ok, err := extractKey(deltaKey, e.Tuple)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		for _, m := range other.EntriesByKey(key) {
			left, right := e.Tuple, m.Tuple
			if swap {
				left, right = m.Tuple, e.Tuple
			}
			if err := op.emit(left, right, e.Weight*m.Weight, out); err != nil {
				return err
			}
		}
	}
	return nil
}

func (op *JoinOp) joinDeltaDelta(deltaL, deltaR *zset.ZSet, out *zset.ZSet) error {
	// Index the right delta by join key.
	byKey := make(map[string][]zset.Entry)
	for _, e := range deltaR.Entries() {
		key, ok, err := extractKey(op.rightKey, e.Tuple)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		byKey[key] = append(byKey[key], e)
	}

	for _, e := range deltaL.Entries() {
		key, ok, err := extractKey(op.leftKey, e.Tuple)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		for _, m := range byKey[key] {
			if err := op.emit(e.Tuple, m.Tuple, e.Weight*m.Weight, out); err != nil {
				return err
			}
		}
	}
	return nil
}

func (op *JoinOp) emit(left, right zset.Tuple, weight int, out *zset.ZSet) error {
	joined, err := op.combiner.Combine(zset.DeepCopyTuple(left), zset.DeepCopyTuple(right))
	if err != nil {
		return err
	}
	for _, t := range joined {
		if err := out.AddTupleMutate(t, weight); err != nil {
			return err
		}
	}
	return nil
}

// extractorKeyFunc adapts an Extractor into a trace key function.
func extractorKeyFunc(ex Extractor) trace.KeyFunc {
	return func(t zset.Tuple) (string, error) {
		key, ok, err := extractKey(ex, t)
		if err != nil || !ok {
			return "", err
		}
		return key, nil
	}
}

// extractKey canonicalizes the extracted key value. A nil key means the
// tuple does not participate in the join.
func extractKey(ex Extractor, t zset.Tuple) (string, bool, error) {
	val, err := ex.Extract(t)
	if err != nil {
		return "", false, fmt.Errorf("key extraction failed: %w", err)
	}
	if val == nil {
		return "", false, nil
	}
	key, err := zset.CanonicalAny(val)
	if err != nil {
		return "", false, err
	}
	return key, true, nil
}
