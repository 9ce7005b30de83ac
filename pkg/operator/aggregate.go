package operator

import (
	"fmt"
	"math"

	"github.com/l7mp/deltaflow/pkg/trace"
	"github.com/l7mp/deltaflow/pkg/zset"
)

// Aggregator folds weighted values into an algebraic per-group total.
// Deletions arrive as negative weights, so the fold must be a group
// homomorphism: folding a value with weight -w undoes folding it with
// weight w.
type Aggregator interface {
	// Zero returns the total of an empty group.
	Zero() any
	// Fold combines a weighted value into the running total.
	Fold(total any, value any, weight int) (any, error)
	fmt.Stringer
}

// AggregateOp implements incremental group-by aggregation. It keeps one
// trace entry per live group holding the group key, the running total and
// the group's membership count. On a delta it updates only the affected
// groups and emits a retraction/insertion pair for every group whose value
// changed:
//
//	{key: k, value: old} × -1,  {key: k, value: new} × +1
//
// A group whose membership count drops to zero only emits the retraction.
type AggregateOp struct {
	BaseOp
	groupKey Extractor
	value    Extractor
	agg      Aggregator
	groups   *trace.Trace
	traces   map[string]*trace.Trace
}

// NewAggregate creates a new incremental group-by aggregation. The value
// extractor may be nil for aggregators that only use weights (count).
func NewAggregate(groupKey, value Extractor, agg Aggregator) *AggregateOp {
	op := &AggregateOp{
		BaseOp:   NewBaseOp(fmt.Sprintf("aggregate:%s", agg), 1),
		groupKey: groupKey,
		value:    value,
		agg:      agg,
	}
	op.groups = trace.NewKeyed(func(t zset.Tuple) (string, error) {
		return zset.CanonicalAny(t["key"])
	})
	op.traces = map[string]*trace.Trace{"groups": op.groups}
	return op
}

func (op *AggregateOp) OpType() Type { return TypeNonLinear }

// Traces exposes the group trace for journaling and checkpointing.
func (op *AggregateOp) Traces() map[string]*trace.Trace { return op.traces }

// Process evaluates the op.
func (op *AggregateOp) Process(step uint64, inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := op.validateInputs(inputs); err != nil {
		return nil, err
	}

	// Collect the per-group deltas first so a group touched by several
	// entries of the same input delta is updated once.
	type groupDelta struct {
		key     any
		values  []zset.Entry
		members int
	}
	deltas := make(map[string]*groupDelta)

	for _, e := range inputs[0].Entries() {
		key, err := op.groupKey.Extract(e.Tuple)
		if err != nil {
			return nil, fmt.Errorf("group key extraction failed: %w", err)
		}
		if key == nil {
			continue
		}

		var val any
		if op.value != nil {
			val, err = op.value.Extract(e.Tuple)
			if err != nil {
				return nil, fmt.Errorf("value extraction failed: %w", err)
			}
		}

		keyStr, err := zset.CanonicalAny(key)
		if err != nil {
			return nil, err
		}

		gd := deltas[keyStr]
		if gd == nil {
			gd = &groupDelta{key: key}
			deltas[keyStr] = gd
		}
		gd.values = append(gd.values, zset.Entry{Tuple: zset.Tuple{"value": val}, Weight: e.Weight})
		gd.members += e.Weight
	}

	result := zset.New()

	for keyStr, gd := range deltas {
		oldState := op.groups.EntriesByKey(keyStr)
		oldTotal := op.agg.Zero()
		oldMembers := 0
		hadGroup := len(oldState) > 0
		if hadGroup {
			oldTotal = oldState[0].Tuple["total"]
			oldMembers = asInt(oldState[0].Tuple["count"])
		}

		newTotal := oldTotal
		var err error
		for _, v := range gd.values {
			newTotal, err = op.agg.Fold(newTotal, v.Tuple["value"], v.Weight)
			if err != nil {
				return nil, fmt.Errorf("aggregation failed for group %s: %w", keyStr, err)
			}
		}
		newMembers := oldMembers + gd.members
		if newMembers < 0 {
			return nil, fmt.Errorf("group %s has negative membership %d", keyStr, newMembers)
		}
		hasGroup := newMembers > 0

		// Emit the old/new value pair for groups whose value changed.
		changed := hadGroup != hasGroup
		if !changed && hadGroup {
			changed, err = totalsDiffer(oldTotal, newTotal)
			if err != nil {
				return nil, err
			}
		}

		stateDelta := zset.New()
		if hadGroup {
			old := zset.Tuple{"key": gd.key, "total": oldTotal, "count": int64(oldMembers)}
			if err := stateDelta.AddTupleMutate(old, -1); err != nil {
				return nil, err
			}
			if changed {
				if err := result.AddTupleMutate(zset.Tuple{"key": gd.key, "value": oldTotal}, -1); err != nil {
					return nil, err
				}
			}
		}
		if hasGroup {
			cur := zset.Tuple{"key": gd.key, "total": newTotal, "count": int64(newMembers)}
			if err := stateDelta.AddTupleMutate(cur, 1); err != nil {
				return nil, err
			}
			if changed {
				if err := result.AddTupleMutate(zset.Tuple{"key": gd.key, "value": newTotal}, 1); err != nil {
					return nil, err
				}
			}
		}

		if err := op.groups.Apply(step, stateDelta); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func totalsDiffer(a, b any) (bool, error) {
	ka, err := zset.CanonicalAny(a)
	if err != nil {
		return false, err
	}
	kb, err := zset.CanonicalAny(b)
	if err != nil {
		return false, err
	}
	return ka != kb, nil
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// CountAggregator counts group members: the total is the sum of weights.
type CountAggregator struct{}

// NewCount creates a count aggregator.
func NewCount() *CountAggregator { return &CountAggregator{} }

func (a *CountAggregator) Zero() any { return int64(0) }

func (a *CountAggregator) Fold(total any, _ any, weight int) (any, error) {
	return addInt64(toInt64(total), int64(weight))
}

func (a *CountAggregator) String() string { return "count" }

// SumAggregator sums a numeric field weighted by multiplicity.
type SumAggregator struct{}

// NewSum creates a sum aggregator.
func NewSum() *SumAggregator { return &SumAggregator{} }

func (a *SumAggregator) Zero() any { return int64(0) }

func (a *SumAggregator) Fold(total any, value any, weight int) (any, error) {
	switch v := value.(type) {
	case int, int32, int64:
		inc, err := mulInt64(toInt64(v), int64(weight))
		if err != nil {
			return nil, err
		}
		return addInt64(toInt64(total), inc)
	case float64:
		t, ok := total.(float64)
		if !ok {
			t = float64(toInt64(total))
		}
		return t + v*float64(weight), nil
	case nil:
		return total, nil
	default:
		return nil, fmt.Errorf("cannot sum value of type %T", value)
	}
}

func (a *SumAggregator) String() string { return "sum" }

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// addInt64 adds with overflow detection: an overflowing total aborts the
// step instead of silently wrapping.
func addInt64(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, fmt.Errorf("aggregate overflow: %d + %d", a, b)
	}
	return sum, nil
}

func mulInt64(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	prod := a * b
	if prod/b != a || (a == math.MinInt64 && b == -1) {
		return 0, fmt.Errorf("aggregate overflow: %d * %d", a, b)
	}
	return prod, nil
}
