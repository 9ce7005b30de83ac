// Package storage implements durable persistence for operator state: a
// write-ahead log of per-step state deltas, periodic checkpoints written to
// a blob store, and crash recovery that restores the most recent consistent
// checkpoint and replays the WAL tail.
//
// Layout in the blob store:
//
//	wal/<step>.seg                   one segment object per committed step
//	checkpoints/<id>/<trace-id>.snap one snapshot blob per operator trace
//	checkpoints/<id>/MANIFEST        atomic commit marker of the checkpoint
//
// A checkpoint exists if and only if its manifest exists: snapshot blobs
// without a manifest are invisible to recovery, so a crash in the middle of
// a checkpoint can never expose partial state. WAL segment objects are
// written atomically at the commit of a step; a step without a segment was
// never committed.
//
// Recovery loads the latest manifest, restores every trace from its
// snapshot, then replays WAL segments with a step id greater than the
// checkpoint's step counter in step order. Replay is idempotent (traces
// fence on their committed step), and a corrupt or incomplete WAL tail is
// truncated and reported as a PartialRecovery condition.
package storage
