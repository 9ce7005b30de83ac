package operator

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/deltaflow/pkg/zset"
)

var _ = Describe("Stream operators", func() {
	var alice, bob zset.Tuple

	BeforeEach(func() {
		alice = zset.Tuple{"id": int64(1)}
		bob = zset.Tuple{"id": int64(2)}
	})

	Context("Integrator", func() {
		It("should accumulate deltas into snapshots", func() {
			i := NewIntegrator()

			out := stepAndCommit(i, 1, delta(alice, 1))
			Expect(out.Weight(alice)).To(Equal(1))

			out = stepAndCommit(i, 2, delta(alice, 1, bob, 1))
			Expect(out.Weight(alice)).To(Equal(2))
			Expect(out.Weight(bob)).To(Equal(1))

			out = stepAndCommit(i, 3, delta(alice, -2))
			Expect(out.Contains(alice)).To(BeFalse())
			Expect(out.Weight(bob)).To(Equal(1))
		})
	})

	Context("Differentiator", func() {
		It("should recover deltas from snapshots", func() {
			d := NewDifferentiator()

			out := stepAndCommit(d, 1, delta(alice, 1))
			Expect(out.Weight(alice)).To(Equal(1))

			out = stepAndCommit(d, 2, delta(alice, 1, bob, 1))
			Expect(out.Contains(alice)).To(BeFalse())
			Expect(out.Weight(bob)).To(Equal(1))

			out = stepAndCommit(d, 3, delta(bob, 1))
			Expect(out.Weight(alice)).To(Equal(-1))
			Expect(out.Contains(bob)).To(BeFalse())
		})

		It("should invert the integrator", func() {
			i := NewIntegrator()
			d := NewDifferentiator()
			steps := []*zset.ZSet{
				delta(alice, 1),
				delta(bob, 2, alice, -1),
				delta(bob, -2),
			}

			for s, in := range steps {
				snapshot := stepAndCommit(i, uint64(s+1), in)
				back := stepAndCommit(d, uint64(s+1), snapshot)
				Expect(back.Entries()).To(Equal(in.Entries()))
			}
		})
	})

	Context("Delay", func() {
		It("should emit the empty Z-set on the first step", func() {
			z := NewDelay()
			out := stepAndCommit(z, 1, delta(alice, 1))
			Expect(out.IsZero()).To(BeTrue())
		})

		It("should shift the stream by one step", func() {
			z := NewDelay()
			first := delta(alice, 1)
			second := delta(bob, 2)

			stepAndCommit(z, 1, first)
			out := stepAndCommit(z, 2, second)
			Expect(out.Entries()).To(Equal(first.Entries()))

			out = stepAndCommit(z, 3, zset.New())
			Expect(out.Entries()).To(Equal(second.Entries()))
		})
	})

	Context("Add and negate", func() {
		It("should add weight-wise", func() {
			a := NewAdd()
			out := stepAndCommit(a, 1, delta(alice, 1, bob, -1), delta(bob, 1))
			Expect(out.Weight(alice)).To(Equal(1))
			Expect(out.Contains(bob)).To(BeFalse())
		})

		It("should negate weights", func() {
			n := NewNegate()
			out := stepAndCommit(n, 1, delta(alice, 2, bob, -1))
			Expect(out.Weight(alice)).To(Equal(-2))
			Expect(out.Weight(bob)).To(Equal(1))
		})
	})
})
