package operator

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/deltaflow/pkg/zset"
)

var _ = Describe("Linear operators", func() {
	var alice, bob, carol zset.Tuple

	BeforeEach(func() {
		alice = zset.Tuple{"id": int64(1), "name": "Alice", "age": int64(30)}
		bob = zset.Tuple{"id": int64(2), "name": "Bob", "age": int64(17)}
		carol = zset.Tuple{"id": int64(3), "name": "Carol", "age": int64(25)}
	})

	Context("Map", func() {
		It("should project each tuple preserving weights", func() {
			m := NewMap(NewProjectMapper("name"))
			out := stepAndCommit(m, 1, delta(alice, 2, bob, -1))

			Expect(out.Weight(zset.Tuple{"name": "Alice"})).To(Equal(2))
			Expect(out.Weight(zset.Tuple{"name": "Bob"})).To(Equal(-1))
		})

		It("should merge tuples that collide after projection", func() {
			m := NewMap(NewProjectMapper("name"))
			twin := zset.Tuple{"id": int64(9), "name": "Alice", "age": int64(44)}
			out := stepAndCommit(m, 1, delta(alice, 1, twin, 1))

			Expect(out.Weight(zset.Tuple{"name": "Alice"})).To(Equal(2))
			Expect(out.UniqueCount()).To(Equal(1))
		})

		It("should match a full recomputation over any delta sequence", func() {
			m := NewMap(NewProjectMapper("id"))
			steps := []*zset.ZSet{
				delta(alice, 1, bob, 1),
				delta(alice, -1, carol, 2),
				delta(bob, -1),
			}

			input := zset.New()
			output := zset.New()
			for i, d := range steps {
				input = accumulate(input, d)
				output = accumulate(output, stepAndCommit(m, uint64(i+1), d))

				// Snapshot semantics over the cumulative input.
				expected := zset.New()
				for _, e := range input.Entries() {
					Expect(expected.AddTupleMutate(zset.Tuple{"id": e.Tuple["id"]}, e.Weight)).To(Succeed())
				}
				Expect(output.Entries()).To(Equal(expected.Entries()))
			}
		})
	})

	Context("Filter", func() {
		adult := func(t zset.Tuple) (bool, error) {
			age, _ := t["age"].(int64)
			return age >= 18, nil
		}

		It("should pass matching tuples unchanged", func() {
			f := NewFilter(predFunc{fn: adult})
			out := stepAndCommit(f, 1, delta(alice, 1, bob, 1, carol, -2))

			Expect(out.Weight(alice)).To(Equal(1))
			Expect(out.Contains(bob)).To(BeFalse())
			Expect(out.Weight(carol)).To(Equal(-2))
		})

		It("should match a full recomputation over any delta sequence", func() {
			f := NewFilter(predFunc{fn: adult})
			steps := []*zset.ZSet{
				delta(alice, 1, bob, 2),
				delta(carol, 1, alice, -1),
				delta(bob, -2),
			}

			input := zset.New()
			output := zset.New()
			for i, d := range steps {
				input = accumulate(input, d)
				output = accumulate(output, stepAndCommit(f, uint64(i+1), d))

				expected, err := input.Filter(adult)
				Expect(err).NotTo(HaveOccurred())
				Expect(output.Entries()).To(Equal(expected.Entries()))
			}
		})
	})
})

// predFunc adapts a plain function to the Predicate interface.
type predFunc struct {
	fn func(zset.Tuple) (bool, error)
}

func (p predFunc) Match(t zset.Tuple) (bool, error) { return p.fn(t) }
func (p predFunc) String() string                   { return "pred" }
