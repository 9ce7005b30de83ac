package circuit

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/deltaflow/pkg/operator"
	"github.com/l7mp/deltaflow/pkg/zset"
)

// pathCombiner composes a path with an edge: (a,b) ⋈ (b,c) -> (a,c).
type pathCombiner struct{}

func (pathCombiner) Combine(path, edge zset.Tuple) ([]zset.Tuple, error) {
	return []zset.Tuple{{"from": path["from"], "to": edge["to"]}}, nil
}

func (pathCombiner) String() string { return "compose" }

func edge(from, to int64) zset.Tuple {
	return zset.Tuple{"from": from, "to": to}
}

// closureRegion builds the transitive closure as a recursive region:
//
//	paths = distinct(edges + (paths ⋈ edges))
func closureRegion(iterCap int) *Region {
	inner := NewGraph()
	edges, err := inner.AddInput("edges", nil)
	Expect(err).NotTo(HaveOccurred())
	paths, err := inner.AddInput("paths", nil)
	Expect(err).NotTo(HaveOccurred())

	join, err := inner.AddOperator(operator.NewJoin(
		operator.NewFieldExtractor("to"),
		operator.NewFieldExtractor("from"),
		pathCombiner{}), paths, edges)
	Expect(err).NotTo(HaveOccurred())
	add, err := inner.AddOperator(operator.NewAdd(), edges, join)
	Expect(err).NotTo(HaveOccurred())
	out, err := inner.AddOperator(operator.NewDistinct(), add)
	Expect(err).NotTo(HaveOccurred())

	region, err := NewRegion("closure", inner, []string{"edges"}, "paths", out, iterCap)
	Expect(err).NotTo(HaveOccurred())
	return region
}

var _ = Describe("Recursive region", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	closureCircuit := func(iterCap int) (*Circuit, string) {
		g := NewGraph()
		in, err := g.AddInput("edges", nil)
		Expect(err).NotTo(HaveOccurred())
		r, err := g.AddOperator(closureRegion(iterCap), in)
		Expect(err).NotTo(HaveOccurred())
		Expect(g.MarkOutput(r)).To(Succeed())

		c, err := New(g)
		Expect(err).NotTo(HaveOccurred())
		return c, r
	}

	It("should reach the fixed point of a transitive closure", func() {
		c, out := closureCircuit(0)

		res, err := c.Step(ctx, InputBatch{
			Table: "edges",
			Delta: delta(edge(1, 2), 1, edge(2, 3), 1, edge(3, 4), 1),
		})
		Expect(err).NotTo(HaveOccurred())

		paths := res.Outputs[out]
		Expect(paths.UniqueCount()).To(Equal(6))
		for _, p := range [][2]int64{{1, 2}, {2, 3}, {3, 4}, {1, 3}, {2, 4}, {1, 4}} {
			Expect(paths.Weight(edge(p[0], p[1]))).To(Equal(1), "path %v", p)
		}
	})

	It("should report the iterations needed to stabilize", func() {
		region := closureRegion(0)
		g := NewGraph()
		in, err := g.AddInput("edges", nil)
		Expect(err).NotTo(HaveOccurred())
		r, err := g.AddOperator(region, in)
		Expect(err).NotTo(HaveOccurred())
		Expect(g.MarkOutput(r)).To(Succeed())
		c, err := New(g)
		Expect(err).NotTo(HaveOccurred())

		_, err = c.Step(ctx, InputBatch{
			Table: "edges",
			Delta: delta(edge(1, 2), 1, edge(2, 3), 1, edge(3, 4), 1),
		})
		Expect(err).NotTo(HaveOccurred())

		// Path lengths 1, 2 and 3 are derived in successive iterations,
		// then one more iteration produces the empty delta.
		Expect(region.LastIterations()).To(Equal(3))
	})

	It("should extend the closure incrementally on later steps", func() {
		c, out := closureCircuit(0)

		_, err := c.Step(ctx, InputBatch{
			Table: "edges",
			Delta: delta(edge(1, 2), 1, edge(2, 3), 1, edge(3, 4), 1),
		})
		Expect(err).NotTo(HaveOccurred())

		res, err := c.Step(ctx, InputBatch{
			Table: "edges",
			Delta: delta(edge(4, 5), 1),
		})
		Expect(err).NotTo(HaveOccurred())

		paths := res.Outputs[out]
		Expect(paths.UniqueCount()).To(Equal(4))
		for _, p := range [][2]int64{{4, 5}, {3, 5}, {2, 5}, {1, 5}} {
			Expect(paths.Weight(edge(p[0], p[1]))).To(Equal(1), "path %v", p)
		}
	})

	It("should retract derived paths when an edge disappears", func() {
		c, out := closureCircuit(0)

		_, err := c.Step(ctx, InputBatch{
			Table: "edges",
			Delta: delta(edge(1, 2), 1, edge(2, 3), 1),
		})
		Expect(err).NotTo(HaveOccurred())

		res, err := c.Step(ctx, InputBatch{
			Table: "edges",
			Delta: delta(edge(2, 3), -1),
		})
		Expect(err).NotTo(HaveOccurred())

		paths := res.Outputs[out]
		Expect(paths.Weight(edge(2, 3))).To(Equal(-1))
		Expect(paths.Weight(edge(1, 3))).To(Equal(-1))
		Expect(paths.Contains(edge(1, 2))).To(BeFalse())
	})

	It("should abort the step when the iteration cap is hit", func() {
		// A closure over a 3-edge chain needs 4 iterations to converge.
		c, _ := closureCircuit(2)

		_, err := c.Step(ctx, InputBatch{
			Table: "edges",
			Delta: delta(edge(1, 2), 1, edge(2, 3), 1, edge(3, 4), 1),
		})
		Expect(err).To(HaveOccurred())
		Expect(IsDivergedComputation(err)).To(BeTrue())
		Expect(c.StepCount()).To(Equal(uint64(0)))

		// No residue from the aborted iterations.
		for _, tr := range c.Traces() {
			Expect(tr.Len()).To(Equal(0))
			Expect(tr.Pending().IsZero()).To(BeTrue())
		}
	})

	It("should reject a feedback table that is also an input table", func() {
		inner := NewGraph()
		edges, err := inner.AddInput("edges", nil)
		Expect(err).NotTo(HaveOccurred())
		out, err := inner.AddOperator(operator.NewDistinct(), edges)
		Expect(err).NotTo(HaveOccurred())

		_, err = NewRegion("bad", inner, []string{"edges"}, "edges", out, 0)
		Expect(err).To(HaveOccurred())
		Expect(IsInvalidGraph(err)).To(BeTrue())
	})

	It("should reject an unknown feedback table", func() {
		inner := NewGraph()
		edges, err := inner.AddInput("edges", nil)
		Expect(err).NotTo(HaveOccurred())
		out, err := inner.AddOperator(operator.NewDistinct(), edges)
		Expect(err).NotTo(HaveOccurred())

		_, err = NewRegion("bad", inner, []string{"edges"}, "ghosts", out, 0)
		Expect(err).To(HaveOccurred())
		Expect(IsInvalidGraph(err)).To(BeTrue())
	})
})
