package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/l7mp/deltaflow/pkg/zset"
)

const (
	walMagic   = "DFWL"
	walVersion = byte(1)
	walPrefix  = "wal/"

	// offsetsTraceID marks the per-step record carrying the committed
	// input offsets instead of an operator state delta.
	offsetsTraceID = "__offsets__"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// WAL is the write-ahead log of per-step operator state deltas. Records are
// buffered during a step and written as a single segment object at commit:
// the presence of the segment is what makes the step durable, so a crash
// mid-step leaves no partial records behind.
type WAL struct {
	bs      Blobstore
	prefix  string
	policy  retryPolicy
	log     logr.Logger
	metrics *Metrics

	mu          sync.Mutex
	pendingStep uint64
	pending     []walRecord
}

type walRecord struct {
	step    uint64
	traceID string
	payload []byte
}

// WALOption customizes a WAL.
type WALOption func(*WAL)

// WithWALLogger sets the logger.
func WithWALLogger(log logr.Logger) WALOption {
	return func(w *WAL) { w.log = log.WithName("wal") }
}

// WithWALMetrics sets the metrics collector.
func WithWALMetrics(m *Metrics) WALOption {
	return func(w *WAL) { w.metrics = m }
}

// WithWALRetry overrides the transient-failure retry policy.
func WithWALRetry(interval time.Duration, maxRetries uint64) WALOption {
	return func(w *WAL) {
		w.policy = retryPolicy{initialInterval: interval, maxRetries: maxRetries}
	}
}

// NewWAL creates a write-ahead log on top of a blob store.
func NewWAL(bs Blobstore, opts ...WALOption) *WAL {
	w := &WAL{
		bs:     bs,
		prefix: walPrefix,
		policy: defaultRetryPolicy(),
		log:    logr.Discard(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Append buffers a state delta record for the in-flight step. Records become
// durable only when Commit writes the step's segment.
func (w *WAL) Append(_ context.Context, step uint64, traceID string, delta *zset.ZSet) error {
	if delta == nil || delta.IsZero() {
		return nil
	}

	payload, err := encodeZSet(delta)
	if err != nil {
		return fmt.Errorf("failed to encode WAL record for %s: %w", traceID, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) > 0 && w.pendingStep != step {
		return fmt.Errorf("WAL has pending records for step %d, cannot append for step %d",
			w.pendingStep, step)
	}
	w.pendingStep = step
	w.pending = append(w.pending, walRecord{step: step, traceID: traceID, payload: payload})

	return nil
}

// Commit writes the step's segment object, making the step durable. The
// committed input offsets are recorded alongside the state deltas so
// recovery can report where each source should resume.
func (w *WAL) Commit(ctx context.Context, step uint64, offsets map[string]int64) error {
	w.mu.Lock()
	records := w.pending
	w.pending = nil
	w.pendingStep = 0
	w.mu.Unlock()

	payload, err := json.Marshal(offsets)
	if err != nil {
		return fmt.Errorf("failed to encode offsets: %w", err)
	}
	records = append(records, walRecord{step: step, traceID: offsetsTraceID, payload: payload})

	segment := encodeSegment(records)
	key := w.segmentKey(step)

	err = withRetry(ctx, w.log, w.policy, "wal append", func() error {
		_, err := w.bs.Put(ctx, key, segment)
		return err
	})
	if err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.WALSegmentsWritten.Inc()
		w.metrics.WALBytesWritten.Add(float64(len(segment)))
	}
	w.log.V(2).Info("committed WAL segment", "step", step, "records", len(records), "bytes", len(segment))

	return nil
}

// Discard drops all buffered records of an aborted step.
func (w *WAL) Discard() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = nil
	w.pendingStep = 0
}

// ReplayFunc is called for every state delta record during replay, in step
// order.
type ReplayFunc func(step uint64, traceID string, delta *zset.ZSet) error

// Replay re-reads all WAL segments with a step id greater than afterStep in
// step order and hands every state delta to fn. It returns the last replayed
// step and the input offsets committed with it. A corrupt or incomplete tail
// is truncated (the offending segments are deleted) and reported through a
// PartialRecoveryError; the records before the truncation point have been
// delivered.
func (w *WAL) Replay(ctx context.Context, afterStep uint64, fn ReplayFunc) (uint64, map[string]int64, error) {
	keys, err := w.bs.List(ctx, w.prefix)
	if err != nil {
		return 0, nil, NewIOError("wal list", err)
	}

	steps := make([]uint64, 0, len(keys))
	for _, key := range keys {
		step, err := w.stepFromKey(key)
		if err != nil {
			w.log.Info("ignoring unrecognized WAL object", "key", key)
			continue
		}
		if step > afterStep {
			steps = append(steps, step)
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i] < steps[j] })

	lastStep := afterStep
	var offsets map[string]int64

	for _, step := range steps {
		// Steps commit strictly in order, so a gap means the tail is
		// not trustworthy.
		if step != lastStep+1 {
			cause := fmt.Errorf("missing WAL segment for step %d", lastStep+1)
			return lastStep, offsets, w.truncateFrom(ctx, steps, step, cause)
		}

		var data []byte
		err := withRetry(ctx, w.log, w.policy, "wal read", func() error {
			var err error
			data, _, err = w.bs.Get(ctx, w.segmentKey(step))
			return err
		})
		if err != nil {
			return lastStep, offsets, w.truncateFrom(ctx, steps, step, err)
		}

		records, err := decodeSegment(data)
		if err != nil {
			return lastStep, offsets, w.truncateFrom(ctx, steps, step, err)
		}

		for _, rec := range records {
			if rec.traceID == offsetsTraceID {
				var offs map[string]int64
				if err := json.Unmarshal(rec.payload, &offs); err != nil {
					return lastStep, offsets, w.truncateFrom(ctx, steps, step, err)
				}
				offsets = offs
				continue
			}

			delta, err := decodeZSet(rec.payload)
			if err != nil {
				return lastStep, offsets, w.truncateFrom(ctx, steps, step, err)
			}
			if err := fn(rec.step, rec.traceID, delta); err != nil {
				return lastStep, offsets, fmt.Errorf("replay failed at step %d: %w", rec.step, err)
			}
		}

		lastStep = step
	}

	return lastStep, offsets, nil
}

// GC removes all WAL segments with a step id strictly below beforeStep.
func (w *WAL) GC(ctx context.Context, beforeStep uint64) error {
	keys, err := w.bs.List(ctx, w.prefix)
	if err != nil {
		return NewIOError("wal gc", err)
	}

	for _, key := range keys {
		step, err := w.stepFromKey(key)
		if err != nil || step >= beforeStep {
			continue
		}
		if err := w.bs.Delete(ctx, key); err != nil {
			return NewIOError("wal gc", err)
		}
		if w.metrics != nil {
			w.metrics.WALSegmentsDeleted.Inc()
		}
	}

	return nil
}

// truncateFrom deletes the segment at step and everything after it, then
// wraps the cause as a PartialRecovery condition.
func (w *WAL) truncateFrom(ctx context.Context, steps []uint64, from uint64, cause error) error {
	for _, step := range steps {
		if step < from {
			continue
		}
		if err := w.bs.Delete(ctx, w.segmentKey(step)); err != nil {
			w.log.Info("failed to remove truncated WAL segment", "step", step, "error", err.Error())
			continue
		}
		if w.metrics != nil {
			w.metrics.WALSegmentsDeleted.Inc()
		}
	}

	w.log.Info("truncated corrupt WAL tail", "from", from, "cause", cause.Error())
	return &PartialRecoveryError{TruncatedAt: from, Cause: cause}
}

func (w *WAL) segmentKey(step uint64) string {
	return fmt.Sprintf("%s%020d.seg", w.prefix, step)
}

func (w *WAL) stepFromKey(key string) (uint64, error) {
	name := strings.TrimPrefix(key, w.prefix)
	name = strings.TrimSuffix(name, ".seg")
	return strconv.ParseUint(name, 10, 64)
}

// Segment encoding: a magic+version header followed by length-prefixed,
// CRC-protected records.
func encodeSegment(records []walRecord) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString(walMagic)
	buf.WriteByte(walVersion)

	for _, rec := range records {
		body := &bytes.Buffer{}
		_ = binary.Write(body, binary.LittleEndian, rec.step)
		_ = binary.Write(body, binary.LittleEndian, uint32(len(rec.traceID)))
		body.WriteString(rec.traceID)
		_ = binary.Write(body, binary.LittleEndian, uint32(len(rec.payload)))
		body.Write(rec.payload)

		buf.Write(body.Bytes())
		_ = binary.Write(buf, binary.LittleEndian, crc32.Checksum(body.Bytes(), crcTable))
	}

	return buf.Bytes()
}

func decodeSegment(data []byte) ([]walRecord, error) {
	if len(data) < 5 || string(data[:4]) != walMagic {
		return nil, errors.New("not a WAL segment")
	}
	if data[4] != walVersion {
		return nil, errors.Errorf("unsupported WAL segment version %d", data[4])
	}

	records := make([]walRecord, 0)
	rest := data[5:]

	for len(rest) > 0 {
		// step + traceID length.
		if len(rest) < 12 {
			return nil, errors.New("truncated WAL record header")
		}
		step := binary.LittleEndian.Uint64(rest[0:8])
		// Lengths widen to int before any arithmetic: a corrupted length
		// field near MaxUint32 must not wrap the bounds check.
		idLen := int(binary.LittleEndian.Uint32(rest[8:12]))
		if len(rest) < 12+idLen+4 {
			return nil, errors.New("truncated WAL record id")
		}
		traceID := string(rest[12 : 12+idLen])
		off := 12 + idLen

		payloadLen := int(binary.LittleEndian.Uint32(rest[off : off+4]))
		off += 4
		if len(rest) < off+payloadLen+4 {
			return nil, errors.New("truncated WAL record payload")
		}
		payload := rest[off : off+payloadLen]
		off += payloadLen

		sum := binary.LittleEndian.Uint32(rest[off : off+4])
		if crc32.Checksum(rest[:off], crcTable) != sum {
			return nil, errors.Errorf("WAL record checksum mismatch at step %d", step)
		}
		off += 4

		records = append(records, walRecord{step: step, traceID: traceID, payload: payload})
		rest = rest[off:]
	}

	return records, nil
}

type zsetEntry struct {
	Tuple  zset.Tuple `json:"tuple"`
	Weight int        `json:"weight"`
}

func encodeZSet(z *zset.ZSet) ([]byte, error) {
	entries := z.Entries()
	out := make([]zsetEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, zsetEntry{Tuple: e.Tuple, Weight: e.Weight})
	}
	return json.Marshal(out)
}

func decodeZSet(data []byte) (*zset.ZSet, error) {
	var entries []zsetEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	result := zset.New()
	for _, e := range entries {
		if err := result.AddTupleMutate(e.Tuple, e.Weight); err != nil {
			return nil, err
		}
	}
	return result, nil
}
