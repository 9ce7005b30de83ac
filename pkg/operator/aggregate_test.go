package operator

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/deltaflow/pkg/zset"
)

var _ = Describe("Aggregate operator", func() {
	Context("Global count", func() {
		var count *AggregateOp

		BeforeEach(func() {
			count = NewAggregate(NewConstExtractor("all"), nil, NewCount())
		})

		It("should track insertions and deletions through retract/insert pairs", func() {
			t1 := zset.Tuple{"id": int64(1), "name": "a"}
			t2 := zset.Tuple{"id": int64(2), "name": "b"}

			// Step 1: first member, count becomes 1.
			out := stepAndCommit(count, 1, delta(t1, 1))
			Expect(out.Weight(zset.Tuple{"key": "all", "value": int64(1)})).To(Equal(1))
			Expect(out.UniqueCount()).To(Equal(1))

			// Step 2: second member, 1 is retracted and 2 inserted.
			out = stepAndCommit(count, 2, delta(t2, 1))
			Expect(out.Weight(zset.Tuple{"key": "all", "value": int64(1)})).To(Equal(-1))
			Expect(out.Weight(zset.Tuple{"key": "all", "value": int64(2)})).To(Equal(1))

			// Step 3: first member deleted, back to 1.
			out = stepAndCommit(count, 3, delta(t1, -1))
			Expect(out.Weight(zset.Tuple{"key": "all", "value": int64(2)})).To(Equal(-1))
			Expect(out.Weight(zset.Tuple{"key": "all", "value": int64(1)})).To(Equal(1))
		})

		It("should emit nothing when the count does not change", func() {
			t1 := zset.Tuple{"id": int64(1)}
			t2 := zset.Tuple{"id": int64(2)}
			stepAndCommit(count, 1, delta(t1, 1))

			// Swap one member for another within a step.
			out := stepAndCommit(count, 2, delta(t1, -1, t2, 1))
			Expect(out.IsZero()).To(BeTrue())
		})

		It("should retract the last value when the group empties", func() {
			t1 := zset.Tuple{"id": int64(1)}
			stepAndCommit(count, 1, delta(t1, 1))

			out := stepAndCommit(count, 2, delta(t1, -1))
			Expect(out.Weight(zset.Tuple{"key": "all", "value": int64(1)})).To(Equal(-1))
			Expect(out.UniqueCount()).To(Equal(1))
		})
	})

	Context("Grouped sum", func() {
		var sum *AggregateOp

		BeforeEach(func() {
			sum = NewAggregate(NewFieldExtractor("dept"), NewFieldExtractor("salary"), NewSum())
		})

		It("should maintain one total per group", func() {
			a := zset.Tuple{"dept": "eng", "salary": int64(100)}
			b := zset.Tuple{"dept": "eng", "salary": int64(50)}
			c := zset.Tuple{"dept": "ops", "salary": int64(70)}

			out := stepAndCommit(sum, 1, delta(a, 1, b, 1, c, 1))
			Expect(out.Weight(zset.Tuple{"key": "eng", "value": int64(150)})).To(Equal(1))
			Expect(out.Weight(zset.Tuple{"key": "ops", "value": int64(70)})).To(Equal(1))

			out = stepAndCommit(sum, 2, delta(b, -1))
			Expect(out.Weight(zset.Tuple{"key": "eng", "value": int64(150)})).To(Equal(-1))
			Expect(out.Weight(zset.Tuple{"key": "eng", "value": int64(100)})).To(Equal(1))
		})

		It("should weight values by multiplicity", func() {
			a := zset.Tuple{"dept": "eng", "salary": int64(10)}
			out := stepAndCommit(sum, 1, delta(a, 3))
			Expect(out.Weight(zset.Tuple{"key": "eng", "value": int64(30)})).To(Equal(1))
		})

		It("should fail the step on overflow", func() {
			a := zset.Tuple{"dept": "eng", "salary": int64(math.MaxInt64)}
			b := zset.Tuple{"dept": "eng", "salary": int64(1)}
			stepAndCommit(sum, 1, delta(a, 1))

			_, err := sum.Process(2, delta(b, 1))
			Expect(err).To(HaveOccurred())
		})

		It("should match a full recomputation over any delta sequence", func() {
			a := zset.Tuple{"dept": "eng", "salary": int64(100)}
			b := zset.Tuple{"dept": "eng", "salary": int64(50)}
			c := zset.Tuple{"dept": "ops", "salary": int64(70)}
			steps := []*zset.ZSet{
				delta(a, 1, c, 2),
				delta(b, 1, c, -1),
				delta(a, -1),
				delta(b, -1, c, -1),
			}

			input := zset.New()
			output := zset.New()
			for i, d := range steps {
				input = accumulate(input, d)
				output = accumulate(output, stepAndCommit(sum, uint64(i+1), d))
				Expect(output.Entries()).To(Equal(snapshotSum(input).Entries()))
			}
		})
	})
})

// snapshotSum computes grouped sums over a cumulative input from scratch.
func snapshotSum(input *zset.ZSet) *zset.ZSet {
	totals := map[string]int64{}
	members := map[string]int{}
	for _, e := range input.Entries() {
		dept := e.Tuple["dept"].(string)
		salary := e.Tuple["salary"].(int64)
		totals[dept] += salary * int64(e.Weight)
		members[dept] += e.Weight
	}

	out := zset.New()
	for dept, total := range totals {
		if members[dept] <= 0 {
			continue
		}
		ExpectWithOffset(1, out.AddTupleMutate(zset.Tuple{"key": dept, "value": total}, 1)).To(Succeed())
	}
	return out
}
