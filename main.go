package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/l7mp/deltaflow/internal/buildinfo"
	"github.com/l7mp/deltaflow/pkg/circuit"
	"github.com/l7mp/deltaflow/pkg/config"
	"github.com/l7mp/deltaflow/pkg/operator"
	"github.com/l7mp/deltaflow/pkg/storage"
	"github.com/l7mp/deltaflow/pkg/visualize"
	"github.com/l7mp/deltaflow/pkg/zset"
)

// inputLine is one stdin record: a single-tuple delta for an input table.
// A zero weight means insert (+1), a zero offset autoincrements.
type inputLine struct {
	Table  string     `json:"table"`
	Offset int64      `json:"offset,omitempty"`
	Tuple  zset.Tuple `json:"tuple"`
	Weight int        `json:"weight,omitempty"`
}

const shutdownTimeout = 30 * time.Second

func main() {
	var configFile, metricsAddr, printGraph string
	flag.StringVar(&configFile, "config", "", "Path to the YAML config file.")
	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8080",
		"The address the metric endpoint binds to.")
	flag.StringVar(&printGraph, "print-graph", "",
		"Print the dataflow graph in the given format (dot or mermaid) and exit.")
	flag.Parse()

	cfg := config.Default()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			fmt.Fprintf(os.Stderr, "cannot load config: %v\n", err)
			os.Exit(1)
		}
	}

	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.Level(-cfg.LogLevel))
	zapLog, err := zc.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot create logger: %v\n", err)
		os.Exit(1)
	}
	logger := zapr.NewLogger(zapLog).WithName("deltaflow")
	setupLog := logger.WithName("setup")

	setupLog.Info(fmt.Sprintf("starting deltaflow %s", buildinfo.Get().String()))

	graph, err := reachabilityGraph(cfg.IterationCap)
	if err != nil {
		setupLog.Error(err, "cannot build dataflow graph")
		os.Exit(1)
	}

	switch printGraph {
	case "":
	case "dot":
		g := &visualize.DotGenerator{}
		fmt.Println(g.Generate("reachability", graph))
		return
	case "mermaid":
		g := &visualize.MermaidGenerator{}
		fmt.Println(g.Generate("reachability", graph))
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown graph format %q\n", printGraph)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()

	// A nil storage config disables journaling and checkpoints.
	var wal *storage.WAL
	var bs storage.Blobstore
	var sm *storage.Metrics
	if cfg.Storage != nil {
		sm = storage.NewMetrics(reg)
		bs, err = newBlobstore(cfg.Storage)
		if err != nil {
			setupLog.Error(err, "cannot create blob store")
			os.Exit(1)
		}
		wal = storage.NewWAL(bs,
			storage.WithWALLogger(logger),
			storage.WithWALMetrics(sm),
			storage.WithWALRetry(cfg.Storage.RetryInterval, uint64(cfg.Storage.RetryMax)))
	}

	copts := []circuit.Option{
		circuit.WithWorkers(cfg.Workers),
		circuit.WithLogger(logger),
		circuit.WithMetrics(circuit.NewMetrics(reg)),
	}
	if wal != nil {
		copts = append(copts, circuit.WithJournal(wal))
	}
	circ, err := circuit.New(graph, copts...)
	if err != nil {
		setupLog.Error(err, "cannot create circuit")
		os.Exit(1)
	}

	var mgr *storage.Manager
	if wal != nil {
		mgr = storage.NewManager(bs, wal, circ,
			storage.WithManagerLogger(logger),
			storage.WithManagerMetrics(sm),
			storage.WithManagerRetry(cfg.Storage.RetryInterval, uint64(cfg.Storage.RetryMax)))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var seq int64
	if mgr != nil {
		if id, ok, err := mgr.LatestCheckpoint(ctx); err != nil {
			setupLog.Error(err, "cannot list checkpoints")
			os.Exit(1)
		} else if ok {
			offsets, err := mgr.Restore(ctx, id)
			if err != nil {
				setupLog.Error(err, "cannot restore checkpoint", "id", id)
				os.Exit(1)
			}
			seq = offsets["edges"]
			setupLog.Info("restored checkpoint", "id", id, "offsets", offsets)
		}
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			setupLog.Error(err, "metrics server failed")
		}
	}()

	if err := run(ctx, logger, circ, seq); err != nil {
		logger.Error(err, "run failed")
	}

	if mgr == nil {
		return
	}

	setupLog.Info("shutting down, writing checkpoint")
	cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	id, err := mgr.Checkpoint(cctx)
	if err != nil {
		setupLog.Error(err, "final checkpoint failed")
		os.Exit(1)
	}
	if err := mgr.GCRetain(cctx, id, cfg.Storage.CheckpointsKept); err != nil {
		setupLog.Error(err, "checkpoint GC failed")
	}
	setupLog.Info("checkpoint written", "id", id)
}

// run feeds stdin records into the circuit, one step per line, and prints
// each step's output deltas.
func run(ctx context.Context, log logr.Logger, circ *circuit.Circuit, seq int64) error {
	lines := make(chan []byte)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := append([]byte{}, scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			if len(line) == 0 {
				continue
			}
			var in inputLine
			if err := json.Unmarshal(line, &in); err != nil {
				log.Error(err, "skipping malformed input", "line", string(line))
				continue
			}
			if in.Weight == 0 {
				in.Weight = 1
			}
			if in.Offset == 0 {
				seq++
				in.Offset = seq
			} else {
				seq = in.Offset
			}
			delta := zset.New()
			if err := delta.AddTupleMutate(in.Tuple, in.Weight); err != nil {
				log.Error(err, "skipping invalid tuple", "line", string(line))
				continue
			}
			res, err := circ.Step(ctx, circuit.InputBatch{
				Table:  in.Table,
				Offset: in.Offset,
				Delta:  delta,
			})
			if err != nil {
				log.Error(err, "step failed", "table", in.Table, "offset", in.Offset)
				continue
			}
			for id, out := range res.Outputs {
				if out.IsZero() {
					continue
				}
				fmt.Printf("step %d %s: %s\n", res.Step, id, out.String())
			}
		}
	}
}

// reachabilityGraph builds the demo circuit: an edges(from,to) input feeding
// a recursive region that computes the transitive closure
// paths = distinct(edges + (paths join edges on paths.to = edges.from)).
func reachabilityGraph(iterCap int) (*circuit.Graph, error) {
	inner := circuit.NewGraph()
	edgesID, err := inner.AddInput("edges", nil)
	if err != nil {
		return nil, err
	}
	pathsID, err := inner.AddInput("paths", nil)
	if err != nil {
		return nil, err
	}
	join := operator.NewJoin(
		operator.NewFieldExtractor("to"),
		operator.NewFieldExtractor("from"),
		hopCombiner{})
	joinID, err := inner.AddOperator(join, pathsID, edgesID)
	if err != nil {
		return nil, err
	}
	addID, err := inner.AddOperator(operator.NewAdd(), edgesID, joinID)
	if err != nil {
		return nil, err
	}
	distinctID, err := inner.AddOperator(operator.NewDistinct(), addID)
	if err != nil {
		return nil, err
	}

	region, err := circuit.NewRegion("reach", inner, []string{"edges"}, "paths",
		distinctID, iterCap)
	if err != nil {
		return nil, err
	}

	g := circuit.NewGraph()
	schema := zset.Schema{"from": zset.KindInt, "to": zset.KindInt}
	inID, err := g.AddInput("edges", schema)
	if err != nil {
		return nil, err
	}
	regionID, err := g.AddOperator(region, inID)
	if err != nil {
		return nil, err
	}
	if err := g.MarkOutput(regionID); err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func newBlobstore(cfg *config.StorageConfig) (storage.Blobstore, error) {
	switch cfg.Backend {
	case config.BackendLocal:
		return storage.NewLocalBlobstore(cfg.Path)
	default:
		return storage.NewInMemoryBlobstore(), nil
	}
}

// hopCombiner extends a path tuple with the endpoint of a matching edge.
type hopCombiner struct{}

func (hopCombiner) Combine(path, edge zset.Tuple) ([]zset.Tuple, error) {
	return []zset.Tuple{{"from": path["from"], "to": edge["to"]}}, nil
}

func (hopCombiner) String() string { return "hop" }
