package trace

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/l7mp/deltaflow/pkg/zset"
)

// Snapshot blob layout: a 4-byte magic, a format tag byte, the xxhash64 of
// the body, then a JSON body. The format tag lets future versions change the
// body encoding without breaking old checkpoints.
const (
	snapshotMagic   = "DFTR"
	snapshotVersion = byte(1)
)

type snapshotBody struct {
	LastStep  uint64          `json:"lastStep"`
	Watermark uint64          `json:"watermark"`
	Entries   []snapshotEntry `json:"entries"`
}

type snapshotEntry struct {
	Tuple    zset.Tuple `json:"tuple"`
	Weight   int        `json:"weight"`
	LastStep uint64     `json:"lastStep"`
}

// Snapshot serializes the committed contents of the trace into a versioned,
// checksummed blob. Staged (uncommitted) changes must not exist when a
// snapshot is taken: checkpoints run only at quiescent points.
func (tr *Trace) Snapshot() ([]byte, error) {
	if !tr.pending.IsZero() {
		return nil, fmt.Errorf("cannot snapshot trace with staged changes")
	}

	body := snapshotBody{
		LastStep:  tr.lastStep,
		Watermark: tr.watermark,
		Entries:   make([]snapshotEntry, 0, len(tr.records)),
	}
	for _, rec := range tr.records {
		body.Entries = append(body.Entries, snapshotEntry{
			Tuple:    rec.tuple,
			Weight:   rec.weight,
			LastStep: rec.lastStep,
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trace snapshot: %w", err)
	}

	buf := bytes.NewBuffer(make([]byte, 0, len(payload)+13))
	buf.WriteString(snapshotMagic)
	buf.WriteByte(snapshotVersion)
	if err := binary.Write(buf, binary.LittleEndian, xxhash.Sum64(payload)); err != nil {
		return nil, err
	}
	buf.Write(payload)

	return buf.Bytes(), nil
}

// LoadSnapshot replaces the contents of the trace with the state recorded in
// a snapshot blob. The trace must have been constructed with the same key
// function its operator uses, so the secondary index can be rebuilt.
func (tr *Trace) LoadSnapshot(data []byte) error {
	if len(data) < 13 || string(data[:4]) != snapshotMagic {
		return fmt.Errorf("not a trace snapshot")
	}
	if data[4] != snapshotVersion {
		return fmt.Errorf("unsupported trace snapshot version %d", data[4])
	}

	sum := binary.LittleEndian.Uint64(data[5:13])
	payload := data[13:]
	if xxhash.Sum64(payload) != sum {
		return fmt.Errorf("trace snapshot checksum mismatch")
	}

	var body snapshotBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("failed to unmarshal trace snapshot: %w", err)
	}

	tr.records = make(map[string]*record, len(body.Entries))
	tr.index = make(map[string]map[string]struct{})
	tr.pending = zset.New()
	tr.prevState = make(map[string]*record)
	tr.lastStep = body.LastStep
	tr.watermark = body.Watermark

	for _, e := range body.Entries {
		key, err := zset.CanonicalAny(e.Tuple)
		if err != nil {
			return fmt.Errorf("failed to compute tuple key: %w", err)
		}
		indexKey := ""
		if tr.keyFn != nil {
			indexKey, err = tr.keyFn(e.Tuple)
			if err != nil {
				return fmt.Errorf("failed to compute index key: %w", err)
			}
		}
		tr.records[key] = &record{
			tuple:    e.Tuple,
			weight:   e.Weight,
			lastStep: e.LastStep,
			indexKey: indexKey,
		}
		tr.addToIndex(indexKey, key)
	}

	return nil
}
