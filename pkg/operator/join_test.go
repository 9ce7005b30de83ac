package operator

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/deltaflow/pkg/zset"
)

// snapshotJoin computes the full L ⋈ R over two cumulative Z-sets, the
// reference semantics the incremental join must track.
func snapshotJoin(left, right *zset.ZSet, leftKey, rightKey Extractor, c Combiner) *zset.ZSet {
	out := zset.New()
	for _, l := range left.Entries() {
		lk, ok, err := extractKey(leftKey, l.Tuple)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		if !ok {
			continue
		}
		for _, r := range right.Entries() {
			rk, ok, err := extractKey(rightKey, r.Tuple)
			ExpectWithOffset(1, err).NotTo(HaveOccurred())
			if !ok || lk != rk {
				continue
			}
			joined, err := c.Combine(l.Tuple, r.Tuple)
			ExpectWithOffset(1, err).NotTo(HaveOccurred())
			for _, t := range joined {
				ExpectWithOffset(1, out.AddTupleMutate(t, l.Weight*r.Weight)).To(Succeed())
			}
		}
	}
	return out
}

var _ = Describe("Join operator", func() {
	var join *JoinOp
	var combiner *MergeCombiner
	var alice, bob, projA, projB zset.Tuple

	BeforeEach(func() {
		combiner = NewMergeCombiner("left", "right")
		join = NewJoin(NewFieldExtractor("id"), NewFieldExtractor("owner"), combiner)
		alice = zset.Tuple{"id": int64(1), "name": "Alice"}
		bob = zset.Tuple{"id": int64(2), "name": "Bob"}
		projA = zset.Tuple{"owner": int64(1), "project": "alpha"}
		projB = zset.Tuple{"owner": int64(2), "project": "beta"}
	})

	Context("Basic matching", func() {
		It("should join matching tuples", func() {
			out := stepAndCommit(join, 1, delta(alice, 1), delta(projA, 1))
			Expect(out.Weight(zset.Tuple{"left": alice, "right": projA})).To(Equal(1))
			Expect(out.UniqueCount()).To(Equal(1))
		})

		It("should not join non-matching tuples", func() {
			out := stepAndCommit(join, 1, delta(alice, 1), delta(projB, 1))
			Expect(out.IsZero()).To(BeTrue())
		})

		It("should multiply weights", func() {
			out := stepAndCommit(join, 1, delta(alice, 2), delta(projA, 3))
			Expect(out.Weight(zset.Tuple{"left": alice, "right": projA})).To(Equal(6))
		})

		It("should propagate retractions", func() {
			stepAndCommit(join, 1, delta(alice, 1), delta(projA, 1))
			out := stepAndCommit(join, 2, delta(alice, -1), zset.New())
			Expect(out.Weight(zset.Tuple{"left": alice, "right": projA})).To(Equal(-1))
		})
	})

	Context("Simultaneous deltas", func() {
		It("should count the delta-delta term exactly once", func() {
			// Both sides change in the same step: the match must
			// appear with weight 1, not 2.
			out := stepAndCommit(join, 1, delta(alice, 1), delta(projA, 1))
			Expect(out.TotalSize()).To(Equal(1))
		})

		It("should handle a relation joined with itself", func() {
			selfJoin := NewJoin(NewFieldExtractor("id"), NewFieldExtractor("id"),
				NewMergeCombiner("l", "r"))
			d := delta(alice, 1, bob, 1)

			out := stepAndCommit(selfJoin, 1, d, d.DeepCopy())
			Expect(out.Weight(zset.Tuple{"l": alice, "r": alice})).To(Equal(1))
			Expect(out.Weight(zset.Tuple{"l": bob, "r": bob})).To(Equal(1))
			Expect(out.UniqueCount()).To(Equal(2))
		})
	})

	Context("Incremental correctness", func() {
		It("should match a full recomputation over any delta sequence", func() {
			leftSteps := []*zset.ZSet{
				delta(alice, 1),
				delta(bob, 2),
				delta(alice, -1),
				zset.New(),
			}
			rightSteps := []*zset.ZSet{
				delta(projA, 1, projB, 1),
				zset.New(),
				delta(projB, 1),
				delta(projA, -1),
			}

			left, right := zset.New(), zset.New()
			output := zset.New()
			for i := range leftSteps {
				left = accumulate(left, leftSteps[i])
				right = accumulate(right, rightSteps[i])
				output = accumulate(output, stepAndCommit(join, uint64(i+1), leftSteps[i], rightSteps[i]))

				expected := snapshotJoin(left, right,
					NewFieldExtractor("id"), NewFieldExtractor("owner"), combiner)
				Expect(output.Entries()).To(Equal(expected.Entries()))
			}
		})
	})

	Context("Key handling", func() {
		It("should skip tuples with a missing join key", func() {
			orphan := zset.Tuple{"name": "NoID"}
			out := stepAndCommit(join, 1, delta(orphan, 1), delta(projA, 1))
			Expect(out.IsZero()).To(BeTrue())
		})
	})
})
