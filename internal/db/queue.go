package db

import (
	"database/sql"
	"time"
)

// =============================================================================
// Sync Queue Operations
// =============================================================================

// QueueRow is the persisted shape of a pending mutation. Seq is
// assigned by the database and fixes the drain order.
type QueueRow struct {
	Seq          int64
	ID           string
	RecordID     string
	Kind         string
	Op           string
	Snapshot     string
	EnqueuedAt   time.Time
	AttemptCount int
	LastError    string
}

const queueColumns = `seq, id, record_id, kind, op, snapshot, enqueued_at, attempt_count, last_error`

func scanQueueRow(scanner interface{ Scan(...any) error }) (*QueueRow, error) {
	row := &QueueRow{}
	err := scanner.Scan(
		&row.Seq,
		&row.ID,
		&row.RecordID,
		&row.Kind,
		&row.Op,
		&row.Snapshot,
		&row.EnqueuedAt,
		&row.AttemptCount,
		&row.LastError,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// InsertQueueEntry appends a queue row within a transaction
func (tx *Tx) InsertQueueEntry(row *QueueRow) error {
	query := `
		INSERT INTO sync_queue (id, record_id, kind, op, snapshot, enqueued_at, attempt_count, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := tx.Exec(query,
		row.ID, row.RecordID, row.Kind, row.Op, row.Snapshot,
		row.EnqueuedAt, row.AttemptCount, row.LastError)
	if err != nil {
		return err
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return err
	}
	row.Seq = seq

	return nil
}

// UpdateQueueSnapshot replaces a pending entry's payload in place,
// keeping its queue position
func (tx *Tx) UpdateQueueSnapshot(entryID, snapshot string, enqueuedAt time.Time) error {
	result, err := tx.Exec(
		`UPDATE sync_queue SET snapshot = ?, enqueued_at = ? WHERE id = ?`,
		snapshot, enqueuedAt, entryID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteQueueEntriesForRecord removes all pending entries for a record
// within a transaction
func (tx *Tx) DeleteQueueEntriesForRecord(recordID string) error {
	_, err := tx.Exec(`DELETE FROM sync_queue WHERE record_id = ?`, recordID)
	return err
}

// ListQueueEntriesForRecord retrieves pending entries for a record in
// enqueue order, within a transaction
func (tx *Tx) ListQueueEntriesForRecord(recordID string) ([]*QueueRow, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue WHERE record_id = ? ORDER BY seq ASC`

	rows, err := tx.Query(query, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectQueueRows(rows)
}

// ListQueueEntries retrieves all pending entries in enqueue order
func (db *DB) ListQueueEntries() ([]*QueueRow, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue ORDER BY seq ASC`

	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectQueueRows(rows)
}

// ListQueueEntriesByRecord retrieves pending entries for a record in
// enqueue order
func (db *DB) ListQueueEntriesByRecord(recordID string) ([]*QueueRow, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue WHERE record_id = ? ORDER BY seq ASC`

	rows, err := db.Query(query, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectQueueRows(rows)
}

func collectQueueRows(rows *sql.Rows) ([]*QueueRow, error) {
	var out []*QueueRow
	for rows.Next() {
		row, err := scanQueueRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// DeleteQueueEntry removes a single entry after remote acknowledgment
func (db *DB) DeleteQueueEntry(entryID string) error {
	result, err := db.Exec(`DELETE FROM sync_queue WHERE id = ?`, entryID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// BumpQueueAttempt increments the retry counter and stores the latest
// error for an entry that failed to upload
func (db *DB) BumpQueueAttempt(entryID, lastError string) error {
	result, err := db.Exec(
		`UPDATE sync_queue SET attempt_count = attempt_count + 1, last_error = ? WHERE id = ?`,
		lastError, entryID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// ResetQueueAttempts zeroes the retry counter for an entry, used when
// a new sync cycle begins after successful passes
func (db *DB) ResetQueueAttempts(entryID string) error {
	_, err := db.Exec(
		`UPDATE sync_queue SET attempt_count = 0, last_error = '' WHERE id = ?`,
		entryID)
	return err
}

// CountQueueEntries returns the number of pending entries
func (db *DB) CountQueueEntries() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(1) FROM sync_queue`).Scan(&n)
	return n, err
}
