package operator

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/deltaflow/pkg/zset"
)

var _ = Describe("Distinct operator", func() {
	var distinct *DistinctOp
	var alice, bob zset.Tuple

	BeforeEach(func() {
		distinct = NewDistinct()
		alice = zset.Tuple{"id": int64(1), "name": "Alice"}
		bob = zset.Tuple{"id": int64(2), "name": "Bob"}
	})

	It("should emit weight one when a tuple first appears", func() {
		out := stepAndCommit(distinct, 1, delta(alice, 3))
		Expect(out.Weight(alice)).To(Equal(1))
	})

	It("should stay silent while the multiplicity stays positive", func() {
		stepAndCommit(distinct, 1, delta(alice, 2))
		out := stepAndCommit(distinct, 2, delta(alice, 5))
		Expect(out.IsZero()).To(BeTrue())

		out = stepAndCommit(distinct, 3, delta(alice, -6))
		Expect(out.IsZero()).To(BeTrue())
	})

	It("should emit weight minus one when a tuple fully disappears", func() {
		stepAndCommit(distinct, 1, delta(alice, 2))
		out := stepAndCommit(distinct, 2, delta(alice, -2))
		Expect(out.Weight(alice)).To(Equal(-1))
	})

	It("should not emit for tuples that never become positive", func() {
		out := stepAndCommit(distinct, 1, delta(alice, -2))
		Expect(out.IsZero()).To(BeTrue())

		out = stepAndCommit(distinct, 2, delta(alice, 1))
		Expect(out.IsZero()).To(BeTrue())

		// Only the crossing into positive territory emits.
		out = stepAndCommit(distinct, 3, delta(alice, 2))
		Expect(out.Weight(alice)).To(Equal(1))
	})

	It("should match a full recomputation over any delta sequence", func() {
		steps := []*zset.ZSet{
			delta(alice, 2, bob, 1),
			delta(alice, -1, bob, -1),
			delta(alice, -1, bob, 1),
		}

		input := zset.New()
		output := zset.New()
		for i, d := range steps {
			input = accumulate(input, d)
			output = accumulate(output, stepAndCommit(distinct, uint64(i+1), d))

			expected, err := input.DistinctSnapshot()
			Expect(err).NotTo(HaveOccurred())
			Expect(output.Entries()).To(Equal(expected.Entries()))
		}
	})
})
