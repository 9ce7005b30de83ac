package circuit

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/l7mp/deltaflow/pkg/trace"
	"github.com/l7mp/deltaflow/pkg/zset"
)

// Phase is the circuit's step state machine position.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDispatching
	PhaseExecuting
	PhaseCommitting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseDispatching:
		return "Dispatching"
	case PhaseExecuting:
		return "Executing"
	case PhaseCommitting:
		return "Committing"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// InputBatch is one table's delta for a step, tagged with the source offset
// that produced it. The offset is journaled with the step so recovery can
// tell the source where to resume.
type InputBatch struct {
	Table  string
	Offset int64
	Delta  *zset.ZSet
}

// StepResult carries the committed step's output deltas keyed by output
// node id.
type StepResult struct {
	Step    uint64
	Outputs map[string]*zset.ZSet
}

// Journal is the write-ahead log contract the circuit commits through.
// *storage.WAL satisfies it.
type Journal interface {
	Append(ctx context.Context, step uint64, traceID string, delta *zset.ZSet) error
	Commit(ctx context.Context, step uint64, offsets map[string]int64) error
	Discard()
}

// Circuit executes a validated operator graph one step at a time. Steps are
// serialized; within a step, operators of the same topological level run
// concurrently on a bounded worker pool. A step is atomic: it either commits
// all trace updates (journaled first when a Journal is attached) or leaves
// the circuit exactly at the previous commit.
type Circuit struct {
	graph   *Graph
	journal Journal
	workers int

	mu      sync.Mutex // serializes Step against Quiesce
	phase   Phase
	step    uint64 // last committed step
	offsets map[string]int64

	metrics *Metrics
	logger  logr.Logger
	log     logr.Logger
}

// Option configures a Circuit.
type Option func(*Circuit)

// WithJournal attaches a write-ahead log. Every committed step's trace
// deltas are made durable before they become visible.
func WithJournal(j Journal) Option {
	return func(c *Circuit) { c.journal = j }
}

// WithWorkers bounds the per-level operator parallelism.
func WithWorkers(n int) Option {
	return func(c *Circuit) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logr.Logger) Option {
	return func(c *Circuit) { c.logger = logger }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(c *Circuit) { c.metrics = m }
}

// New validates the graph and creates a circuit over it.
func New(graph *Graph, opts ...Option) (*Circuit, error) {
	if err := graph.Validate(); err != nil {
		return nil, err
	}

	c := &Circuit{
		graph:   graph,
		workers: runtime.GOMAXPROCS(0),
		phase:   PhaseIdle,
		offsets: map[string]int64{},
		logger:  logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.logger.WithName("circuit")

	return c, nil
}

// Step runs one atomic evaluation of the circuit over the given input
// batches. Missing tables receive an empty delta. On error the circuit's
// state is unchanged and the error is a StepFailedError.
func (c *Circuit) Step(ctx context.Context, batches ...InputBatch) (*StepResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	step := c.step + 1
	start := time.Now()
	c.log.V(2).Info("step starting", "step", step, "batches", len(batches))

	// Dispatching: admit and validate the input batches.
	c.phase = PhaseDispatching
	inputDeltas, offsets, err := c.dispatch(batches)
	if err != nil {
		return nil, c.abort(step, "", err)
	}

	// Executing: evaluate the graph level by level.
	c.phase = PhaseExecuting
	outputs, failedOp, err := c.execute(ctx, step, inputDeltas)
	if err != nil {
		return nil, c.abort(step, failedOp, err)
	}

	// Committing: journal first, then flip traces.
	c.phase = PhaseCommitting
	if err := c.commit(ctx, step, offsets); err != nil {
		return nil, c.abort(step, "", err)
	}

	c.step = step
	for table, off := range offsets {
		c.offsets[table] = off
	}
	c.phase = PhaseIdle

	if c.metrics != nil {
		c.metrics.StepsCommitted.Inc()
		c.metrics.StepDuration.Observe(time.Since(start).Seconds())
	}
	c.log.V(1).Info("step committed", "step", step, "duration", time.Since(start))

	result := &StepResult{Step: step, Outputs: map[string]*zset.ZSet{}}
	for _, id := range c.graph.Outputs() {
		delta, ok := outputs[id]
		if !ok || delta == nil {
			delta = zset.New()
		}
		result.Outputs[id] = delta
	}
	return result, nil
}

// dispatch validates the batches against the declared tables and schemas and
// maps them onto input node ids.
func (c *Circuit) dispatch(batches []InputBatch) (map[string]*zset.ZSet, map[string]int64, error) {
	inputDeltas := map[string]*zset.ZSet{}
	offsets := map[string]int64{}

	for _, batch := range batches {
		node, ok := c.graph.InputNode(batch.Table)
		if !ok {
			return nil, nil, fmt.Errorf("unknown input table %q", batch.Table)
		}
		if _, seen := inputDeltas[node.ID]; seen {
			return nil, nil, fmt.Errorf("duplicate batch for table %q", batch.Table)
		}

		delta := batch.Delta
		if delta == nil {
			delta = zset.New()
		}
		if node.Schema != nil {
			for _, e := range delta.Entries() {
				if err := node.Schema.Validate(e.Tuple); err != nil {
					return nil, nil, fmt.Errorf("table %q: %w", batch.Table, err)
				}
			}
		}

		inputDeltas[node.ID] = delta
		offsets[batch.Table] = batch.Offset
	}

	return inputDeltas, offsets, nil
}

// execute runs the level schedule. Nodes within a level are independent and
// run concurrently, bounded by the worker pool.
func (c *Circuit) execute(ctx context.Context, step uint64, inputDeltas map[string]*zset.ZSet) (map[string]*zset.ZSet, string, error) {
	outputs := map[string]*zset.ZSet{}
	var outMu sync.Mutex

	var failedOp string
	var failMu sync.Mutex

	for _, level := range c.graph.Levels() {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.workers)

		for _, node := range level {
			node := node
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}

				var delta *zset.ZSet
				if node.IsInput() {
					delta = inputDeltas[node.ID]
					if delta == nil {
						delta = zset.New()
					}
				} else {
					ins := make([]*zset.ZSet, 0, len(node.Inputs))
					outMu.Lock()
					for _, src := range node.Inputs {
						in := outputs[src.ID]
						if in == nil {
							in = zset.New()
						}
						ins = append(ins, in)
					}
					outMu.Unlock()

					var err error
					delta, err = node.Op.Process(step, ins...)
					if err != nil {
						failMu.Lock()
						if failedOp == "" {
							failedOp = node.ID
						}
						failMu.Unlock()
						if c.metrics != nil {
							c.metrics.OperatorFailures.WithLabelValues(node.ID).Inc()
						}
						return fmt.Errorf("operator %s: %w", node.ID, err)
					}
				}

				if region, ok := node.Op.(*Region); ok && c.metrics != nil {
					c.metrics.RegionIterations.Observe(float64(region.LastIterations()))
				}

				outMu.Lock()
				outputs[node.ID] = delta
				outMu.Unlock()
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return nil, failedOp, err
		}
	}

	return outputs, "", nil
}

// commit makes the step durable and then visible. Pending trace deltas are
// journaled before any trace flips, so a crash between the two leaves a
// replayable WAL and never a half-visible step.
func (c *Circuit) commit(ctx context.Context, step uint64, offsets map[string]int64) error {
	traces := c.Traces()

	if c.journal != nil {
		for id, tr := range traces {
			pending := tr.Pending()
			if pending.IsZero() {
				continue
			}
			if err := c.journal.Append(ctx, step, id, pending); err != nil {
				return fmt.Errorf("journal append for %s: %w", id, err)
			}
		}

		merged := make(map[string]int64, len(c.offsets)+len(offsets))
		for table, off := range c.offsets {
			merged[table] = off
		}
		for table, off := range offsets {
			merged[table] = off
		}
		if err := c.journal.Commit(ctx, step, merged); err != nil {
			return fmt.Errorf("journal commit: %w", err)
		}
	}

	for _, tr := range traces {
		tr.Commit(step)
	}
	return nil
}

// abort rolls every trace back to the last commit and resets the phase.
func (c *Circuit) abort(step uint64, failedOp string, cause error) error {
	for _, tr := range c.Traces() {
		tr.Abort()
	}
	if c.journal != nil {
		c.journal.Discard()
	}
	c.phase = PhaseIdle

	if c.metrics != nil {
		c.metrics.StepsFailed.Inc()
	}
	c.log.Error(cause, "step aborted", "step", step, "operator", failedOp)

	var diverged *DivergedComputationError
	if errors.As(cause, &diverged) {
		return diverged
	}
	return &StepFailedError{Step: step, Operator: failedOp, Cause: cause}
}

// Compact drops last-changed bookkeeping below the watermark in every trace.
// Callers must guarantee no replay will target steps at or below it.
func (c *Circuit) Compact(watermark uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tr := range c.Traces() {
		tr.Compact(watermark)
	}
}

// Phase returns the current phase. Meaningful only between steps or from
// within a quiesced section.
func (c *Circuit) Phase() Phase { return c.phase }

// Quiesce blocks until no step is in flight and holds off further steps
// until the returned release function is called. Part of the checkpoint
// manager's StateProvider contract.
func (c *Circuit) Quiesce() (release func()) {
	c.mu.Lock()
	return c.mu.Unlock
}

// StepCount returns the last committed step. Callers must hold the circuit
// quiesced.
func (c *Circuit) StepCount() uint64 { return c.step }

// Offsets returns a copy of the last committed input offsets. Callers must
// hold the circuit quiesced.
func (c *Circuit) Offsets() map[string]int64 {
	out := make(map[string]int64, len(c.offsets))
	for table, off := range c.offsets {
		out[table] = off
	}
	return out
}

// Traces returns every stateful operator's traces keyed by the stable id
// "<nodeID>/<traceName>". The ids survive restarts as long as the graph is
// rebuilt the same way.
func (c *Circuit) Traces() map[string]*trace.Trace {
	traces := map[string]*trace.Trace{}
	for id, op := range c.graph.statefulNodes() {
		for name, tr := range op.Traces() {
			traces[id+"/"+name] = tr
		}
	}
	return traces
}

// Restore resets the committed step counter and input offsets after the
// traces have been loaded from a checkpoint. Callers must hold the circuit
// quiesced.
func (c *Circuit) Restore(step uint64, offsets map[string]int64) {
	c.step = step
	c.offsets = make(map[string]int64, len(offsets))
	for table, off := range offsets {
		c.offsets[table] = off
	}
}

var _ interface {
	Quiesce() func()
	StepCount() uint64
	Offsets() map[string]int64
	Traces() map[string]*trace.Trace
	Restore(uint64, map[string]int64)
} = &Circuit{}
