package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/l7mp/deltaflow/pkg/trace"
	"github.com/l7mp/deltaflow/pkg/zset"
)

const (
	checkpointPrefix = "checkpoints/"
	manifestName     = "MANIFEST"
	manifestVersion  = 1
)

// StateProvider is the circuit-side contract of the checkpoint manager: it
// grants exclusive (non-stepping) access to operator state, addressed purely
// through stable trace ids so state can be rebuilt in a fresh process.
type StateProvider interface {
	// Quiesce blocks until no step is in flight and returns a release
	// function. No step runs until release is called.
	Quiesce() (release func())
	// StepCount returns the last committed step.
	StepCount() uint64
	// Offsets returns the last committed input offsets per table.
	Offsets() map[string]int64
	// Traces returns every stateful operator's traces keyed by stable id.
	Traces() map[string]*trace.Trace
	// Restore resets the committed step counter and input offsets after
	// the traces have been loaded from a checkpoint.
	Restore(step uint64, offsets map[string]int64)
}

// Manifest is the atomic commit marker of a checkpoint: a checkpoint is
// visible if and only if its manifest object exists.
type Manifest struct {
	Version      int              `json:"version"`
	CheckpointID uint64           `json:"checkpointId"`
	Step         uint64           `json:"step"`
	CreatedAt    time.Time        `json:"createdAt"`
	Offsets      map[string]int64 `json:"offsets,omitempty"`
	Snapshots    []ManifestEntry  `json:"snapshots"`
}

// ManifestEntry locates one operator trace snapshot.
type ManifestEntry struct {
	TraceID  string `json:"traceId"`
	Location string `json:"location"`
	Version  string `json:"blobVersion,omitempty"`
}

// Manager drives checkpointing, recovery and garbage collection of operator
// state. Checkpoints are serialized: only one may be in flight.
type Manager struct {
	bs       Blobstore
	wal      *WAL
	provider StateProvider
	policy   retryPolicy
	log      logr.Logger
	metrics  *Metrics

	mu     sync.Mutex // serializes Checkpoint/Restore/GC
	lastID uint64
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger.
func WithManagerLogger(log logr.Logger) ManagerOption {
	return func(m *Manager) { m.log = log.WithName("checkpoint") }
}

// WithManagerMetrics sets the metrics collector.
func WithManagerMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithManagerRetry overrides the transient-failure retry policy.
func WithManagerRetry(interval time.Duration, maxRetries uint64) ManagerOption {
	return func(m *Manager) {
		m.policy = retryPolicy{initialInterval: interval, maxRetries: maxRetries}
	}
}

// NewManager creates a checkpoint manager.
func NewManager(bs Blobstore, wal *WAL, provider StateProvider, opts ...ManagerOption) *Manager {
	m := &Manager{
		bs:       bs,
		wal:      wal,
		provider: provider,
		policy:   defaultRetryPolicy(),
		log:      logr.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Checkpoint snapshots every stateful operator's trace at a quiescent point
// and atomically publishes the result by writing the manifest. It returns
// the new checkpoint id.
func (m *Manager) Checkpoint(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()

	if m.lastID == 0 {
		latest, _, err := m.latestID(ctx)
		if err != nil {
			return 0, err
		}
		m.lastID = latest
	}
	id := m.lastID + 1

	release := m.provider.Quiesce()
	defer release()

	step := m.provider.StepCount()
	offsets := m.provider.Offsets()
	traces := m.provider.Traces()

	manifest := &Manifest{
		Version:      manifestVersion,
		CheckpointID: id,
		Step:         step,
		CreatedAt:    time.Now().UTC(),
		Offsets:      offsets,
		Snapshots:    make([]ManifestEntry, 0, len(traces)),
	}

	// Snapshot traces in parallel; the manifest is written only after
	// every snapshot blob is durable.
	var manifestMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for traceID, tr := range traces {
		traceID, tr := traceID, tr
		g.Go(func() error {
			blob, err := tr.Snapshot()
			if err != nil {
				return fmt.Errorf("failed to snapshot trace %s: %w", traceID, err)
			}

			location := m.snapshotKey(id, traceID)
			var version string
			err = withRetry(gctx, m.log, m.policy, "checkpoint write", func() error {
				version, err = m.bs.Put(gctx, location, blob)
				return err
			})
			if err != nil {
				return err
			}

			manifestMu.Lock()
			manifest.Snapshots = append(manifest.Snapshots, ManifestEntry{
				TraceID:  traceID,
				Location: location,
				Version:  version,
			})
			manifestMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if m.metrics != nil {
			m.metrics.CheckpointFailures.Inc()
		}
		return 0, err
	}

	sort.Slice(manifest.Snapshots, func(i, j int) bool {
		return manifest.Snapshots[i].TraceID < manifest.Snapshots[j].TraceID
	})

	data, err := json.Marshal(manifest)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	err = withRetry(ctx, m.log, m.policy, "manifest write", func() error {
		_, err := m.bs.Put(ctx, m.manifestKey(id), data)
		return err
	})
	if err != nil {
		if m.metrics != nil {
			m.metrics.CheckpointFailures.Inc()
		}
		return 0, err
	}

	m.lastID = id
	if m.metrics != nil {
		m.metrics.Checkpoints.Inc()
		m.metrics.CheckpointDuration.Observe(time.Since(start).Seconds())
	}
	m.log.Info("checkpoint published", "id", id, "step", step, "traces", len(manifest.Snapshots))

	return id, nil
}

// Restore loads the checkpoint with the given id (or the most recent one if
// id is zero), reconstructs every operator trace from its snapshot, and
// replays the WAL tail. Restore is safe to re-run: snapshots reset the
// traces and replay fences on the traces' committed step, so duplicate
// delivery never double-applies. The returned offsets tell each source
// where to resume.
func (m *Manager) Restore(ctx context.Context, id uint64) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	release := m.provider.Quiesce()
	defer release()

	manifest, err := m.readManifest(ctx, id)
	if err != nil {
		return nil, err
	}

	traces := m.provider.Traces()

	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range manifest.Snapshots {
		entry := entry
		tr, ok := traces[entry.TraceID]
		if !ok {
			return nil, NewInvalidCheckpointError(fmt.Sprintf(
				"checkpoint %d references unknown trace %s", manifest.CheckpointID, entry.TraceID))
		}
		g.Go(func() error {
			var blob []byte
			err := withRetry(gctx, m.log, m.policy, "snapshot read", func() error {
				var err error
				blob, _, err = m.bs.Get(gctx, entry.Location)
				return err
			})
			if err != nil {
				return err
			}
			if err := tr.LoadSnapshot(blob); err != nil {
				return fmt.Errorf("failed to restore trace %s: %w", entry.TraceID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m.provider.Restore(manifest.Step, manifest.Offsets)

	// Replay the WAL tail on top of the snapshots.
	lastStep, offsets, replayErr := m.wal.Replay(ctx, manifest.Step,
		func(step uint64, traceID string, delta *zset.ZSet) error {
			tr, ok := traces[traceID]
			if !ok {
				return fmt.Errorf("WAL references unknown trace %s", traceID)
			}
			return tr.ApplyReplay(step, delta)
		})
	if replayErr != nil && !IsPartialRecovery(replayErr) {
		return nil, replayErr
	}

	if offsets == nil {
		offsets = manifest.Offsets
	}
	m.provider.Restore(lastStep, offsets)
	m.lastID = manifest.CheckpointID

	if m.metrics != nil {
		m.metrics.Restores.Inc()
	}
	m.log.Info("state restored", "checkpoint", manifest.CheckpointID,
		"checkpointStep", manifest.Step, "replayedTo", lastStep)

	// Surface the PartialRecovery condition after a successful partial
	// restore so the caller can decide whether to accept it.
	return offsets, replayErr
}

// GC removes all checkpoints with an id strictly below keep, and all WAL
// segments older than the step of the oldest retained checkpoint.
func (m *Manager) GC(ctx context.Context, keep uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keepManifest, err := m.readManifest(ctx, keep)
	if err != nil {
		return err
	}

	keys, err := m.bs.List(ctx, checkpointPrefix)
	if err != nil {
		return NewIOError("checkpoint gc", err)
	}

	for _, key := range keys {
		id, err := m.idFromKey(key)
		if err != nil || id >= keep {
			continue
		}
		if err := m.bs.Delete(ctx, key); err != nil {
			return NewIOError("checkpoint gc", err)
		}
	}

	// WAL records at or below the retained checkpoint's step are covered
	// by its snapshots.
	return m.wal.GC(ctx, keepManifest.Step+1)
}

// GCRetain keeps the kept most recent checkpoints and removes everything
// older. latest is the id of the most recent published checkpoint; a no-op
// until more than kept checkpoints exist.
func (m *Manager) GCRetain(ctx context.Context, latest, kept uint64) error {
	if kept == 0 || latest <= kept {
		return nil
	}
	return m.GC(ctx, latest-kept+1)
}

// LatestCheckpoint returns the id of the most recent published checkpoint,
// or false if none exists.
func (m *Manager) LatestCheckpoint(ctx context.Context) (uint64, bool, error) {
	id, ok, err := m.latestID(ctx)
	return id, ok, err
}

func (m *Manager) latestID(ctx context.Context) (uint64, bool, error) {
	keys, err := m.bs.List(ctx, checkpointPrefix)
	if err != nil {
		return 0, false, NewIOError("checkpoint list", err)
	}

	var latest uint64
	found := false
	for _, key := range keys {
		if !strings.HasSuffix(key, "/"+manifestName) {
			continue
		}
		id, err := m.idFromKey(key)
		if err != nil {
			continue
		}
		if id > latest {
			latest = id
			found = true
		}
	}
	return latest, found, nil
}

func (m *Manager) readManifest(ctx context.Context, id uint64) (*Manifest, error) {
	if id == 0 {
		latest, ok, err := m.latestID(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, NewInvalidCheckpointError("no checkpoint found")
		}
		id = latest
	}

	var data []byte
	err := withRetry(ctx, m.log, m.policy, "manifest read", func() error {
		var err error
		data, _, err = m.bs.Get(ctx, m.manifestKey(id))
		return err
	})
	if err != nil {
		if IsNotFoundError(err) {
			return nil, NewInvalidCheckpointError(fmt.Sprintf("checkpoint %d has no manifest", id))
		}
		return nil, err
	}

	manifest := &Manifest{}
	if err := json.Unmarshal(data, manifest); err != nil {
		return nil, errors.Wrapf(err, "failed to decode manifest of checkpoint %d", id)
	}
	if manifest.Version != manifestVersion {
		return nil, NewInvalidCheckpointError(fmt.Sprintf(
			"unsupported manifest version %d in checkpoint %d", manifest.Version, id))
	}

	return manifest, nil
}

func (m *Manager) manifestKey(id uint64) string {
	return fmt.Sprintf("%s%020d/%s", checkpointPrefix, id, manifestName)
}

func (m *Manager) snapshotKey(id uint64, traceID string) string {
	return fmt.Sprintf("%s%020d/%s.snap", checkpointPrefix, id, traceID)
}

func (m *Manager) idFromKey(key string) (uint64, error) {
	rest := strings.TrimPrefix(key, checkpointPrefix)
	idx := strings.Index(rest, "/")
	if idx < 0 {
		return 0, fmt.Errorf("malformed checkpoint key %q", key)
	}
	return strconv.ParseUint(rest[:idx], 10, 64)
}
