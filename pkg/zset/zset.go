package zset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/l7mp/deltaflow/pkg/util"
)

// ZSet implements Z-sets over atomic tuples. Tuples are treated as opaque
// units keyed by their canonical JSON representation since maps are not
// directly comparable.
type ZSet struct {
	tuples  map[string]Tuple // canonical key -> original tuple
	weights map[string]int   // canonical key -> signed weight
}

// New creates an empty ZSet.
func New() *ZSet {
	return &ZSet{
		tuples:  make(map[string]Tuple),
		weights: make(map[string]int),
	}
}

// Singleton creates a Z-set containing a single tuple with weight 1.
func Singleton(t Tuple) (*ZSet, error) {
	z := New()
	return z.AddTuple(t, 1)
}

// FromTuples creates a Z-set from a slice of tuples, each with weight 1.
func FromTuples(tuples []Tuple) (*ZSet, error) {
	result := New()

	for i, t := range tuples {
		if err := result.AddTupleMutate(t, 1); err != nil {
			return nil, NewZSetError(fmt.Sprintf("failed to add tuple at index %d", i), err)
		}
	}

	return result, nil
}

// AddTuple adds a tuple with the given weight and returns a new ZSet,
// leaving the receiver untouched.
func (z *ZSet) AddTuple(t Tuple, weight int) (*ZSet, error) {
	result := z.ShallowCopy()
	err := result.AddTupleMutate(t, weight)
	return result, err
}

// AddTupleMutate adds a tuple with the given weight by modifying the Z-set
// in place. This is the core operation for building Z-sets. Entries whose
// weight reaches zero are pruned.
func (z *ZSet) AddTupleMutate(t Tuple, weight int) error {
	if weight == 0 {
		return nil
	}

	key, err := canonicalKey(t)
	if err != nil {
		return err
	}

	if _, exists := z.weights[key]; exists {
		z.weights[key] += weight
	} else {
		z.tuples[key] = t
		z.weights[key] = weight
	}

	if z.weights[key] == 0 {
		delete(z.weights, key)
		delete(z.tuples, key)
	}

	return nil
}

// Add performs Z-set addition (weight-wise union). Addition is commutative
// and associative with the empty Z-set as identity.
func (z *ZSet) Add(other *ZSet) (*ZSet, error) {
	if other == nil {
		return z.DeepCopy(), nil
	}

	result := z.DeepCopy()

	for key, weight := range other.weights {
		if err := result.AddTupleMutate(other.tuples[key], weight); err != nil {
			return nil, NewZSetError("failed to add tuple during Z-set addition", err)
		}
	}

	return result, nil
}

// Subtract performs Z-set subtraction.
func (z *ZSet) Subtract(other *ZSet) (*ZSet, error) {
	if other == nil {
		return z.DeepCopy(), nil
	}

	result := z.DeepCopy()

	for key, weight := range other.weights {
		if err := result.AddTupleMutate(other.tuples[key], -weight); err != nil {
			return nil, NewZSetError("failed to subtract tuple during Z-set subtraction", err)
		}
	}

	return result, nil
}

// Negate returns the Z-set with all weights negated.
func (z *ZSet) Negate() (*ZSet, error) {
	result := New()

	for key, weight := range z.weights {
		if err := result.AddTupleMutate(DeepCopyTuple(z.tuples[key]), -weight); err != nil {
			return nil, NewZSetError("failed to negate tuple", err)
		}
	}

	return result, nil
}

// Filter returns the subset of entries whose tuple satisfies the predicate.
// Weights, including negative ones, are carried through unchanged.
func (z *ZSet) Filter(pred func(Tuple) (bool, error)) (*ZSet, error) {
	result := New()

	for key, weight := range z.weights {
		keep, err := pred(z.tuples[key])
		if err != nil {
			return nil, NewZSetError("predicate failed during 'filter' operation", err)
		}
		if !keep {
			continue
		}
		if err := result.AddTupleMutate(DeepCopyTuple(z.tuples[key]), weight); err != nil {
			return nil, NewZSetError("failed to add tuple during 'filter' operation", err)
		}
	}

	return result, nil
}

// DistinctSnapshot converts the Z-set to set semantics: every tuple with
// positive weight appears with weight 1, non-positive weights are dropped.
func (z *ZSet) DistinctSnapshot() (*ZSet, error) {
	result := New()

	for key, weight := range z.weights {
		if weight > 0 {
			if err := result.AddTupleMutate(z.tuples[key], 1); err != nil {
				return nil, NewZSetError("failed to add tuple during 'distinct' operation", err)
			}
		}
	}

	return result, nil
}

// ShallowCopy creates a shallow copy of the ZSet: weights are copied, tuple
// references are shared.
func (z *ZSet) ShallowCopy() *ZSet {
	result := &ZSet{
		tuples:  make(map[string]Tuple, len(z.tuples)),
		weights: make(map[string]int, len(z.weights)),
	}

	for key, t := range z.tuples {
		result.tuples[key] = t
	}
	for key, weight := range z.weights {
		result.weights[key] = weight
	}

	return result
}

// DeepCopy creates a deep copy of the ZSet.
func (z *ZSet) DeepCopy() *ZSet {
	result := &ZSet{
		tuples:  make(map[string]Tuple, len(z.tuples)),
		weights: make(map[string]int, len(z.weights)),
	}

	for key, t := range z.tuples {
		result.tuples[key] = DeepCopyTuple(t)
		result.weights[key] = z.weights[key]
	}

	return result
}

// Entry represents a tuple with its weight in a Z-set.
type Entry struct {
	Tuple  Tuple
	Weight int
}

// Entries returns all entries (including negative weights) ordered by the
// canonical key. The order is deterministic for a given Z-set instance and
// the sequence is restartable: calling Entries again yields the same order.
func (z *ZSet) Entries() []Entry {
	keys := make([]string, 0, len(z.weights))
	for key := range z.weights {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Entry, 0, len(keys))
	for _, key := range keys {
		result = append(result, Entry{
			Tuple:  DeepCopyTuple(z.tuples[key]),
			Weight: z.weights[key],
		})
	}

	return result
}

// Weight returns the weight of a specific tuple, zero if absent.
func (z *ZSet) Weight(t Tuple) (int, error) {
	key, err := canonicalKey(t)
	if err != nil {
		return 0, NewZSetError("failed to compute tuple key", err)
	}

	return z.weights[key], nil
}

// Contains checks if a tuple exists in the Z-set with positive weight.
func (z *ZSet) Contains(t Tuple) (bool, error) {
	weight, err := z.Weight(t)
	if err != nil {
		return false, err
	}
	return weight > 0, nil
}

// IsZero checks if the Z-set is empty.
func (z *ZSet) IsZero() bool {
	return len(z.weights) == 0
}

// Size returns the number of tuples counting only positive weights.
func (z *ZSet) Size() int {
	total := 0
	for _, weight := range z.weights {
		if weight > 0 {
			total += weight
		}
	}
	return total
}

// TotalSize returns the total number of tuples, counting the magnitude of
// both positive and negative weights.
func (z *ZSet) TotalSize() int {
	total := 0
	for _, weight := range z.weights {
		if weight > 0 {
			total += weight
		} else {
			total += -weight
		}
	}
	return total
}

// UniqueCount returns the number of unique tuples with positive weight.
func (z *ZSet) UniqueCount() int {
	count := 0
	for _, weight := range z.weights {
		if weight > 0 {
			count++
		}
	}
	return count
}

// String returns a string representation of the Z-set for debugging.
func (z *ZSet) String() string {
	if z.IsZero() {
		return "∅"
	}

	return fmt.Sprintf("{%s}", strings.Join(util.Map(func(e Entry) string {
		return fmt.Sprintf("%s×%d", util.Stringify(e.Tuple), e.Weight)
	}, z.Entries()), ", "))
}
