package operator

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/deltaflow/pkg/zset"
)

var _ = Describe("Fused operator", func() {
	var alice, bob, carol zset.Tuple

	adult := func(t zset.Tuple) (bool, error) {
		age, _ := t["age"].(int64)
		return age >= 18, nil
	}

	BeforeEach(func() {
		alice = zset.Tuple{"id": int64(1), "name": "Alice", "age": int64(30)}
		bob = zset.Tuple{"id": int64(2), "name": "Bob", "age": int64(17)}
		carol = zset.Tuple{"id": int64(3), "name": "Carol", "age": int64(25)}
	})

	It("should match the sequential application of its stages", func() {
		filter := NewFilter(predFunc{fn: adult})
		project := NewMap(NewProjectMapper("name"))
		fused, err := NewFused(filter, project)
		Expect(err).NotTo(HaveOccurred())

		in := delta(alice, 2, bob, 1, carol, -1)
		sequential := stepAndCommit(project, 1, stepAndCommit(filter, 1, in))
		fusedOut := stepAndCommit(fused, 1, in)

		Expect(fusedOut.Entries()).To(Equal(sequential.Entries()))
		Expect(fusedOut.Weight(zset.Tuple{"name": "Alice"})).To(Equal(2))
		Expect(fusedOut.Contains(zset.Tuple{"name": "Bob"})).To(BeFalse())
	})

	It("should stop a tuple at the first stage that drops it", func() {
		fused, err := NewFused(
			NewFilter(predFunc{fn: adult}),
			NewFilter(predFunc{fn: func(t zset.Tuple) (bool, error) {
				return t["name"] == "Carol", nil
			}}),
			NewMap(NewProjectMapper("id")),
		)
		Expect(err).NotTo(HaveOccurred())

		out := stepAndCommit(fused, 1, delta(alice, 1, bob, 1, carol, 3))
		Expect(out.Weight(zset.Tuple{"id": int64(3)})).To(Equal(3))
		Expect(out.UniqueCount()).To(Equal(1))
	})

	It("should name itself after its stages", func() {
		fused, err := NewFused(NewFilter(predFunc{fn: adult}), NewMap(NewProjectMapper("id")))
		Expect(err).NotTo(HaveOccurred())
		Expect(fused.Name()).To(Equal("[filter->map]"))
	})

	It("should refuse stateful or multi-input stages", func() {
		_, err := NewFused(NewMap(NewProjectMapper("id")), NewDistinct())
		Expect(err).To(HaveOccurred())

		_, err = NewFused(NewMap(NewProjectMapper("id")))
		Expect(err).To(HaveOccurred())
	})
})
