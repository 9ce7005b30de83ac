package trace

import (
	"fmt"

	"github.com/l7mp/deltaflow/pkg/zset"
)

// KeyFunc extracts a secondary index key from a tuple, typically the join or
// group key. Returning an empty key leaves the tuple unindexed.
type KeyFunc func(zset.Tuple) (string, error)

// Entry is one indexed tuple of a trace.
type Entry struct {
	Tuple zset.Tuple
	// Weight is the current net weight, i.e. the sum of all recorded
	// per-step weights for this tuple.
	Weight int
	// LastStep is the logical step at which the tuple last changed.
	LastStep uint64
}

type record struct {
	tuple    zset.Tuple
	weight   int
	lastStep uint64
	indexKey string
}

// Trace maintains the materialized state of a stateful operator. All
// mutations go through Apply and become permanent only on Commit; Abort
// restores the last committed state.
type Trace struct {
	keyFn     KeyFunc
	records   map[string]*record             // canonical tuple key -> record
	index     map[string]map[string]struct{} // index key -> tuple keys
	lastStep  uint64                         // last committed step
	watermark uint64                         // compaction watermark

	// Per-step staging, discarded on abort.
	pending   *zset.ZSet
	prevState map[string]*record // touched keys -> record before this step (nil if absent)
}

// New creates an empty, unindexed trace.
func New() *Trace {
	return NewKeyed(nil)
}

// NewKeyed creates an empty trace with a secondary index maintained by
// keyFn.
func NewKeyed(keyFn KeyFunc) *Trace {
	return &Trace{
		keyFn:     keyFn,
		records:   make(map[string]*record),
		index:     make(map[string]map[string]struct{}),
		pending:   zset.New(),
		prevState: make(map[string]*record),
	}
}

// Apply stages a state delta. The staged change is immediately visible to
// reads (an operator may query its own trace later in the same step or in a
// nested fixed-point iteration) but is rolled back if the step aborts.
func (tr *Trace) Apply(step uint64, delta *zset.ZSet) error {
	if delta == nil {
		return nil
	}

	for _, e := range delta.Entries() {
		if err := tr.applyOne(step, e.Tuple, e.Weight); err != nil {
			return err
		}
		if err := tr.pending.AddTupleMutate(e.Tuple, e.Weight); err != nil {
			return err
		}
	}

	return nil
}

func (tr *Trace) applyOne(step uint64, t zset.Tuple, weight int) error {
	key, err := zset.CanonicalAny(t)
	if err != nil {
		return fmt.Errorf("failed to compute tuple key: %w", err)
	}

	rec := tr.records[key]

	// Remember the pre-step state of this key exactly once.
	if _, touched := tr.prevState[key]; !touched {
		if rec != nil {
			saved := *rec
			tr.prevState[key] = &saved
		} else {
			tr.prevState[key] = nil
		}
	}

	if rec == nil {
		indexKey := ""
		if tr.keyFn != nil {
			indexKey, err = tr.keyFn(t)
			if err != nil {
				return fmt.Errorf("failed to compute index key: %w", err)
			}
		}
		rec = &record{tuple: zset.DeepCopyTuple(t), indexKey: indexKey}
		tr.records[key] = rec
		tr.addToIndex(indexKey, key)
	}

	rec.weight += weight
	rec.lastStep = step

	if rec.weight == 0 {
		tr.removeFromIndex(rec.indexKey, key)
		delete(tr.records, key)
	}

	return nil
}

// Commit makes all staged changes of the given step permanent and returns
// the committed state delta, to be recorded to the WAL.
func (tr *Trace) Commit(step uint64) *zset.ZSet {
	delta := tr.pending
	tr.pending = zset.New()
	tr.prevState = make(map[string]*record)
	if step > tr.lastStep {
		tr.lastStep = step
	}
	return delta
}

// Pending returns a copy of the staged, not yet committed state delta.
func (tr *Trace) Pending() *zset.ZSet {
	return tr.pending.DeepCopy()
}

// Abort discards all staged changes and restores the last committed state.
func (tr *Trace) Abort() {
	for key, prev := range tr.prevState {
		if cur, ok := tr.records[key]; ok {
			tr.removeFromIndex(cur.indexKey, key)
			delete(tr.records, key)
		}
		if prev != nil {
			restored := *prev
			tr.records[key] = &restored
			tr.addToIndex(restored.indexKey, key)
		}
	}
	tr.pending = zset.New()
	tr.prevState = make(map[string]*record)
}

// ApplyReplay re-applies a WAL state delta during recovery. Deltas at or
// below the trace's committed step are skipped, which makes replaying the
// same WAL segment twice harmless.
func (tr *Trace) ApplyReplay(step uint64, delta *zset.ZSet) error {
	if step <= tr.lastStep {
		return nil
	}
	if err := tr.Apply(step, delta); err != nil {
		tr.Abort()
		return err
	}
	tr.Commit(step)
	return nil
}

// Weight returns the current net weight of a tuple, staged changes included.
func (tr *Trace) Weight(t zset.Tuple) (int, error) {
	key, err := zset.CanonicalAny(t)
	if err != nil {
		return 0, fmt.Errorf("failed to compute tuple key: %w", err)
	}
	if rec, ok := tr.records[key]; ok {
		return rec.weight, nil
	}
	return 0, nil
}

// Lookup returns the trace entry of a tuple, if present.
func (tr *Trace) Lookup(t zset.Tuple) (Entry, bool, error) {
	key, err := zset.CanonicalAny(t)
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to compute tuple key: %w", err)
	}
	rec, ok := tr.records[key]
	if !ok {
		return Entry{}, false, nil
	}
	return Entry{Tuple: zset.DeepCopyTuple(rec.tuple), Weight: rec.weight, LastStep: rec.lastStep}, true, nil
}

// EntriesByKey returns all entries whose secondary index key equals key.
// Only meaningful for keyed traces.
func (tr *Trace) EntriesByKey(key string) []Entry {
	tupleKeys, ok := tr.index[key]
	if !ok {
		return nil
	}

	result := make([]Entry, 0, len(tupleKeys))
	for tk := range tupleKeys {
		rec := tr.records[tk]
		result = append(result, Entry{
			Tuple:    zset.DeepCopyTuple(rec.tuple),
			Weight:   rec.weight,
			LastStep: rec.lastStep,
		})
	}
	return result
}

// EntriesSince returns all entries last changed at or after the given step.
func (tr *Trace) EntriesSince(step uint64) []Entry {
	result := make([]Entry, 0)
	for _, rec := range tr.records {
		if rec.lastStep >= step {
			result = append(result, Entry{
				Tuple:    zset.DeepCopyTuple(rec.tuple),
				Weight:   rec.weight,
				LastStep: rec.lastStep,
			})
		}
	}
	return result
}

// AsZSet materializes the current net contents of the trace as a Z-set.
func (tr *Trace) AsZSet() (*zset.ZSet, error) {
	result := zset.New()
	for _, rec := range tr.records {
		if err := result.AddTupleMutate(zset.DeepCopyTuple(rec.tuple), rec.weight); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Compact merges all change times older than the watermark into the
// watermark itself. Net weights are unaffected: compaction only coarsens
// the time index once no consumer can query older steps.
func (tr *Trace) Compact(watermark uint64) {
	if watermark <= tr.watermark {
		return
	}
	for _, rec := range tr.records {
		if rec.lastStep < watermark {
			rec.lastStep = watermark
		}
	}
	tr.watermark = watermark
}

// LastStep returns the last committed step of the trace.
func (tr *Trace) LastStep() uint64 { return tr.lastStep }

// Watermark returns the current compaction watermark.
func (tr *Trace) Watermark() uint64 { return tr.watermark }

// Len returns the number of live entries.
func (tr *Trace) Len() int { return len(tr.records) }

func (tr *Trace) addToIndex(indexKey, tupleKey string) {
	if tr.keyFn == nil {
		return
	}
	bucket, ok := tr.index[indexKey]
	if !ok {
		bucket = make(map[string]struct{})
		tr.index[indexKey] = bucket
	}
	bucket[tupleKey] = struct{}{}
}

func (tr *Trace) removeFromIndex(indexKey, tupleKey string) {
	if tr.keyFn == nil {
		return
	}
	if bucket, ok := tr.index[indexKey]; ok {
		delete(bucket, tupleKey)
		if len(bucket) == 0 {
			delete(tr.index, indexKey)
		}
	}
}
