package store

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nibble-app/nibblesync/internal/db"
	"github.com/nibble-app/nibblesync/internal/record"
)

// SQLiteStore implements Adapter on the shared sqlite database. A
// single mutex covers every write so the orchestrator and application
// mutations go through one serialized path.
type SQLiteStore struct {
	db     *db.DB
	logger *slog.Logger

	mu sync.Mutex

	// Records buffered because a reference field named an entity not
	// yet present locally, keyed by the missing referent id.
	deferred map[string][]*record.Record
}

// NewSQLite creates a store adapter over an opened database
func NewSQLite(database *db.DB, logger *slog.Logger) *SQLiteStore {
	return &SQLiteStore{
		db:       database,
		logger:   logger,
		deferred: make(map[string][]*record.Record),
	}
}

// Get implements Adapter.Get
func (s *SQLiteStore) Get(id string) (*record.Record, error) {
	row, err := s.db.GetRecord(id)
	if err != nil {
		return nil, err
	}
	if row.Deleted {
		return nil, db.ErrNotFound
	}
	return rowToRecord(row)
}

// Put implements Adapter.Put
func (s *SQLiteStore) Put(rec *record.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := recordToRow(rec)
	if err != nil {
		return err
	}

	// Carry the manual-conflict marker across application writes so a
	// blocked record stays blocked until explicitly resolved
	if existing, err := s.db.GetRecord(rec.ID); err == nil {
		row.Blocked = existing.Blocked
	}

	return s.db.UpsertRecord(row)
}

// LoadDirtyRecords implements Adapter.LoadDirtyRecords
func (s *SQLiteStore) LoadDirtyRecords(scope string) ([]*record.Record, error) {
	rows, err := s.db.ListDirtyRecords(scope)
	if err != nil {
		return nil, err
	}

	out := make([]*record.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := rowToRecord(row)
		if err != nil {
			s.logger.Warn("skipping undecodable dirty record",
				"record_id", row.ID,
				"error", err)
			continue
		}
		out = append(out, rec)
	}

	return out, nil
}

// ApplyRemoteRecord implements Adapter.ApplyRemoteRecord
func (s *SQLiteStore) ApplyRemoteRecord(rec *record.Record) (MergeOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.applyLocked(rec)
}

func (s *SQLiteStore) applyLocked(rec *record.Record) (MergeOutcome, error) {
	if err := rec.Validate(); err != nil {
		s.logger.Warn("skipping invalid remote record",
			"record_id", rec.ID,
			"error", err)
		return MergeSkipped, nil
	}

	existing, err := s.db.GetRecord(rec.ID)
	if err != nil && !db.IsNotFound(err) {
		return MergeSkipped, err
	}

	if db.IsNotFound(err) {
		// New to this device. Hold it back if it points at an entity
		// we have not seen yet (out-of-order delivery).
		if missing := s.missingReferent(rec); missing != "" {
			s.deferred[missing] = append(s.deferred[missing], rec)
			return MergeDeferred, nil
		}
		return s.writeRemote(rec)
	}

	if existing.Dirty {
		return MergeConflict, nil
	}

	if existing.RemoteTag == rec.RemoteTag && !existing.Deleted {
		// Same version already applied; idempotent no-op
		return MergeUnchanged, nil
	}

	return s.writeRemote(rec)
}

// writeRemote persists a remote record as the clean local copy
func (s *SQLiteStore) writeRemote(rec *record.Record) (MergeOutcome, error) {
	clean := rec.Clone()
	clean.Dirty = false

	row, err := recordToRow(clean)
	if err != nil {
		return MergeSkipped, err
	}
	if err := s.db.UpsertRecord(row); err != nil {
		return MergeSkipped, err
	}

	return MergeApplied, nil
}

// missingReferent returns the first referenced id not present locally,
// or empty if all referents exist
func (s *SQLiteStore) missingReferent(rec *record.Record) string {
	for _, ref := range rec.References() {
		exists, err := s.db.RecordExists(ref)
		if err != nil {
			s.logger.Warn("reference check failed",
				"record_id", rec.ID,
				"referent", ref,
				"error", err)
			continue
		}
		if !exists {
			return ref
		}
	}
	return ""
}

// FlushDeferred implements Adapter.FlushDeferred. Loops until a full
// pass applies nothing, so chains of forward references settle in one
// call.
func (s *SQLiteStore) FlushDeferred() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for {
		progress := false

		for missing, waiting := range s.deferred {
			exists, err := s.db.RecordExists(missing)
			if err != nil {
				return applied, err
			}
			if !exists {
				continue
			}

			delete(s.deferred, missing)
			for _, rec := range waiting {
				outcome, err := s.applyLocked(rec)
				if err != nil {
					return applied, err
				}
				if outcome == MergeApplied {
					applied++
					progress = true
				}
			}
		}

		if !progress {
			return applied, nil
		}
	}
}

// DeferredCount implements Adapter.DeferredCount
func (s *SQLiteStore) DeferredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, waiting := range s.deferred {
		n += len(waiting)
	}
	return n
}

// MarkClean implements Adapter.MarkClean
func (s *SQLiteStore) MarkClean(id, remoteTag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.MarkRecordClean(id, remoteTag)
}

// MarkDeleted implements Adapter.MarkDeleted
func (s *SQLiteStore) MarkDeleted(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.MarkRecordDeleted(id)
}

// SetBlocked implements Adapter.SetBlocked
func (s *SQLiteStore) SetBlocked(id string, blocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.SetRecordBlocked(id, blocked)
}

// BlockedRecords implements Adapter.BlockedRecords
func (s *SQLiteStore) BlockedRecords(scope string) ([]string, error) {
	return s.db.ListBlockedRecords(scope)
}

// Row conversion

func recordToRow(rec *record.Record) (*db.RecordRow, error) {
	fieldsJSON, err := record.EncodeFields(rec.Fields)
	if err != nil {
		return nil, fmt.Errorf("store: encode fields for %s: %w", rec.ID, err)
	}

	return &db.RecordRow{
		ID:           rec.ID,
		Kind:         string(rec.Kind),
		OwnerScope:   rec.OwnerScope,
		FieldsJSON:   string(fieldsJSON),
		LocalVersion: rec.LocalVersion,
		RemoteTag:    rec.RemoteTag,
		ModifiedAt:   rec.ModifiedAt,
		Dirty:        rec.Dirty,
	}, nil
}

func rowToRecord(row *db.RecordRow) (*record.Record, error) {
	fields, err := record.DecodeFields([]byte(row.FieldsJSON))
	if err != nil {
		return nil, fmt.Errorf("store: decode fields for %s: %w", row.ID, err)
	}

	kind, err := record.ParseKind(row.Kind)
	if err != nil {
		return nil, err
	}

	return &record.Record{
		ID:           row.ID,
		Kind:         kind,
		OwnerScope:   row.OwnerScope,
		Fields:       fields,
		LocalVersion: row.LocalVersion,
		RemoteTag:    row.RemoteTag,
		ModifiedAt:   row.ModifiedAt,
		Dirty:        row.Dirty,
	}, nil
}
