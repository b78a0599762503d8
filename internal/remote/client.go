package remote

import (
	"context"

	"github.com/nibble-app/nibblesync/internal/record"
)

// DefaultBatchSize caps how many records travel in one save or delete
// request. Larger pending sets are split into sequential batches, each
// independently retryable.
const DefaultBatchSize = 100

// ResultStatus is the per-record outcome of a batch operation
type ResultStatus int

const (
	// StatusSaved - the record was written; NewTag holds the version
	// tag the service issued for it
	StatusSaved ResultStatus = iota
	// StatusConflict - the service holds a different version than the
	// one the client believed it was updating; ServerRecord holds it
	StatusConflict
	// StatusFailed - the record was not written; Err holds the cause
	StatusFailed
)

// String returns a human-readable representation of the result status
func (s ResultStatus) String() string {
	switch s {
	case StatusSaved:
		return "saved"
	case StatusConflict:
		return "conflict"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one record within a batch. Batches are not
// atomic across records; callers must handle partial batch success.
type Result struct {
	RecordID     string
	Status       ResultStatus
	NewTag       string         // set when Status == StatusSaved
	ServerRecord *record.Record // set when Status == StatusConflict
	Err          error          // set when Status == StatusFailed
}

// ChangePage is one page of a delta fetch. HasMore means the caller
// must fetch again with NextToken before treating the accumulated
// result as a consistent snapshot; the stored cursor must not advance
// until pagination is exhausted.
type ChangePage struct {
	Records    []*record.Record
	DeletedIDs []string
	NextToken  string
	HasMore    bool
}

// Client is the thin interface to the remote record service. Any
// implementation satisfying the fetch/save/delete/subscribe contract
// is acceptable; nothing here assumes a specific vendor.
type Client interface {
	// FetchChanges returns records changed in the scope since the
	// given token. An empty token means "from the beginning".
	FetchChanges(ctx context.Context, scope, sinceToken string) (*ChangePage, error)

	// SaveBatch writes records and reports a per-record outcome.
	SaveBatch(ctx context.Context, records []*record.Record) ([]Result, error)

	// DeleteBatch removes records by id with per-record outcomes.
	DeleteBatch(ctx context.Context, scope string, ids []string) ([]Result, error)

	// Subscribe registers for push-style change notifications.
	// Failure is non-fatal; callers fall back to periodic polling.
	Subscribe(ctx context.Context, scope string) error
}
