package queue

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nibble-app/nibblesync/internal/db"
	"github.com/nibble-app/nibblesync/internal/record"
)

// Op is the kind of mutation a queue entry carries
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// ParseOp validates and returns a queue operation
func ParseOp(s string) (Op, error) {
	switch Op(s) {
	case OpCreate, OpUpdate, OpDelete:
		return Op(s), nil
	default:
		return "", fmt.Errorf("queue: unknown op %q", s)
	}
}

// Entry is one pending mutation. Snapshot holds the record's encoded
// state at enqueue time, not a live reference, so later local
// mutations of the same record cannot corrupt what gets sent.
type Entry struct {
	Seq          int64
	ID           string
	RecordID     string
	Kind         record.Kind
	Op           Op
	Snapshot     []byte
	EnqueuedAt   time.Time
	AttemptCount int
	LastError    string
}

// Record decodes the payload snapshot back into a record
func (e *Entry) Record() (*record.Record, error) {
	return record.Decode(e.Snapshot)
}

// Queue is the durable, ordered list of mutations that could not be
// sent immediately. Every mutation commits to sqlite before returning,
// so a crash loses at most the in-flight network call, never queue
// state. Entries for the same record are processed in enqueue order.
type Queue struct {
	db     *db.DB
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates a queue over an opened database
func New(database *db.DB, logger *slog.Logger) *Queue {
	return &Queue{
		db:     database,
		logger: logger,
	}
}

// Enqueue records a pending mutation, coalescing against entries
// already queued for the same record:
//
//   - an update replaces the payload of a pending create or update in
//     place (last write wins inside the local queue)
//   - a delete supersedes and removes pending creates and updates; if
//     a pending create existed the record never reached the server, so
//     the pair collapses to nothing enqueued at all
//
// Returns the resulting entry, or nil when the mutation collapsed.
func (q *Queue) Enqueue(rec *record.Record, op Op) (*Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshot, err := rec.Clone().Encode()
	if err != nil {
		return nil, fmt.Errorf("queue: snapshot %s: %w", rec.ID, err)
	}

	now := time.Now().UTC()
	var result *Entry

	err = q.db.WithTransaction(func(tx *db.Tx) error {
		pending, err := tx.ListQueueEntriesForRecord(rec.ID)
		if err != nil {
			return err
		}

		switch op {
		case OpDelete:
			hadCreate := false
			for _, p := range pending {
				if Op(p.Op) == OpCreate {
					hadCreate = true
				}
			}

			if err := tx.DeleteQueueEntriesForRecord(rec.ID); err != nil {
				return err
			}

			if hadCreate {
				// Never synced; nothing to send
				q.logger.Debug("create+delete collapsed to no-op",
					"record_id", rec.ID)
				return nil
			}

			result = q.newEntry(rec, OpDelete, snapshot, now)
			return tx.InsertQueueEntry(entryToRow(result))

		case OpUpdate:
			// Coalesce into the last pending non-delete entry
			for i := len(pending) - 1; i >= 0; i-- {
				p := pending[i]
				if Op(p.Op) == OpDelete {
					continue
				}
				if err := tx.UpdateQueueSnapshot(p.ID, string(snapshot), now); err != nil {
					return err
				}
				result = rowToEntry(p)
				result.Snapshot = snapshot
				result.EnqueuedAt = now
				return nil
			}

			result = q.newEntry(rec, OpUpdate, snapshot, now)
			return tx.InsertQueueEntry(entryToRow(result))

		case OpCreate:
			result = q.newEntry(rec, OpCreate, snapshot, now)
			return tx.InsertQueueEntry(entryToRow(result))

		default:
			return fmt.Errorf("queue: unknown op %q", op)
		}
	})
	if err != nil {
		return nil, err
	}

	if result != nil {
		q.logger.Debug("enqueued mutation",
			"record_id", rec.ID,
			"op", string(result.Op),
			"entry_id", result.ID)
	}

	return result, nil
}

func (q *Queue) newEntry(rec *record.Record, op Op, snapshot []byte, now time.Time) *Entry {
	return &Entry{
		ID:         uuid.NewString(),
		RecordID:   rec.ID,
		Kind:       rec.Kind,
		Op:         op,
		Snapshot:   snapshot,
		EnqueuedAt: now,
	}
}

// Drain returns all pending entries in enqueue order. Entries are not
// removed; callers Remove each one only after confirmed remote
// acknowledgment.
func (q *Queue) Drain() ([]*Entry, error) {
	rows, err := q.db.ListQueueEntries()
	if err != nil {
		return nil, err
	}

	out := make([]*Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToEntry(row))
	}
	return out, nil
}

// PeekPending returns pending entries for one record in enqueue order
func (q *Queue) PeekPending(recordID string) ([]*Entry, error) {
	rows, err := q.db.ListQueueEntriesByRecord(recordID)
	if err != nil {
		return nil, err
	}

	out := make([]*Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToEntry(row))
	}
	return out, nil
}

// Remove deletes an entry after the remote service acknowledged it
func (q *Queue) Remove(entryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.db.DeleteQueueEntry(entryID)
}

// RecordFailure bumps the retry counter and stores the latest error.
// The entry stays queued; exhausted entries are retried again on the
// next scheduled sync cycle.
func (q *Queue) RecordFailure(entryID string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return q.db.BumpQueueAttempt(entryID, msg)
}

// ResetAttempts zeroes the retry counter for an entry
func (q *Queue) ResetAttempts(entryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.db.ResetQueueAttempts(entryID)
}

// Len returns the number of pending entries
func (q *Queue) Len() (int, error) {
	return q.db.CountQueueEntries()
}

// Row conversion

func entryToRow(e *Entry) *db.QueueRow {
	return &db.QueueRow{
		Seq:          e.Seq,
		ID:           e.ID,
		RecordID:     e.RecordID,
		Kind:         string(e.Kind),
		Op:           string(e.Op),
		Snapshot:     string(e.Snapshot),
		EnqueuedAt:   e.EnqueuedAt,
		AttemptCount: e.AttemptCount,
		LastError:    e.LastError,
	}
}

func rowToEntry(row *db.QueueRow) *Entry {
	return &Entry{
		Seq:          row.Seq,
		ID:           row.ID,
		RecordID:     row.RecordID,
		Kind:         record.Kind(row.Kind),
		Op:           Op(row.Op),
		Snapshot:     []byte(row.Snapshot),
		EnqueuedAt:   row.EnqueuedAt,
		AttemptCount: row.AttemptCount,
		LastError:    row.LastError,
	}
}
