package store

import (
	"github.com/nibble-app/nibblesync/internal/record"
)

// MergeOutcome reports what applying a remote record did locally
type MergeOutcome int

const (
	// MergeApplied - the remote version was written to the local store
	MergeApplied MergeOutcome = iota
	// MergeUnchanged - the local store already held this version;
	// applying it again had no side effects
	MergeUnchanged
	// MergeDeferred - the record references an entity not present
	// locally yet; it is buffered until the referent arrives
	MergeDeferred
	// MergeConflict - a dirty local copy exists; the caller must route
	// both versions through the conflict resolver
	MergeConflict
	// MergeSkipped - the record failed validation and was dropped from
	// this batch (logged, never aborting the rest)
	MergeSkipped
)

// String returns a human-readable representation of the merge outcome
func (o MergeOutcome) String() string {
	switch o {
	case MergeApplied:
		return "applied"
	case MergeUnchanged:
		return "unchanged"
	case MergeDeferred:
		return "deferred"
	case MergeConflict:
		return "conflict"
	case MergeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Adapter is the local persistence surface the sync engine works
// against. Implementations must serialize writes so the engine and
// ordinary application mutations never interleave partial updates.
type Adapter interface {
	// Get returns the live (non-tombstoned) record with the id
	Get(id string) (*record.Record, error)

	// Put writes an application-side mutation exactly as given
	Put(rec *record.Record) error

	// LoadDirtyRecords returns all live records in the scope mutated
	// since their last confirmed upload, oldest first
	LoadDirtyRecords(scope string) ([]*record.Record, error)

	// ApplyRemoteRecord merges a fetched record into the local store.
	// Idempotent: applying the same remote record twice produces no
	// additional side effects and no duplicate local entities.
	ApplyRemoteRecord(rec *record.Record) (MergeOutcome, error)

	// FlushDeferred retries buffered forward-reference records whose
	// referents may have arrived since. Returns how many applied.
	FlushDeferred() (int, error)

	// DeferredCount returns how many records are still buffered
	// waiting for a referent
	DeferredCount() int

	// MarkClean clears the dirty flag and stores the remote version
	// tag. Only the sync orchestrator calls this.
	MarkClean(id, remoteTag string) error

	// MarkDeleted tombstones a record
	MarkDeleted(id string) error

	// SetBlocked marks a record as excluded from sync while a manual
	// conflict awaits external resolution
	SetBlocked(id string, blocked bool) error

	// BlockedRecords lists ids awaiting manual resolution in a scope
	BlockedRecords(scope string) ([]string, error)
}
