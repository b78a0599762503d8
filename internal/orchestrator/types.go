package orchestrator

import (
	"fmt"
	"time"

	"github.com/nibble-app/nibblesync/internal/record"
)

// Config defines configuration for the sync orchestrator
type Config struct {
	// How often a periodic sync pass runs
	Interval time.Duration `toml:"interval"`

	// Maximum records per save/delete batch
	BatchSize int `toml:"batch_size"`

	// Attempts per remote call before an entry is surfaced as a sync
	// error and left for the next cycle
	MaxRetries int `toml:"max_retries"`

	// Exponential backoff between retry attempts
	RetryBaseDelay time.Duration `toml:"retry_base_delay"`
	MaxRetryDelay  time.Duration `toml:"max_retry_delay"`

	// Bound on each individual network call
	RequestTimeout time.Duration `toml:"request_timeout"`

	// How many recent sync errors Status retains
	ErrorHistory int `toml:"error_history"`

	// Buffer sizes for the trigger and event inboxes
	TriggerBufferSize int `toml:"trigger_buffer_size"`
	EventBufferSize   int `toml:"event_buffer_size"`
}

// DefaultConfig returns orchestrator configuration defaults
func DefaultConfig() Config {
	return Config{
		Interval:          5 * time.Minute,
		BatchSize:         100,
		MaxRetries:        3,
		RetryBaseDelay:    500 * time.Millisecond,
		MaxRetryDelay:     30 * time.Second,
		RequestTimeout:    10 * time.Second,
		ErrorHistory:      20,
		TriggerBufferSize: 32,
		EventBufferSize:   64,
	}
}

// validateConfig validates orchestrator configuration and returns error if invalid
func validateConfig(config Config) error {
	if config.Interval <= 0 {
		return fmt.Errorf("Interval must be positive, got %v", config.Interval)
	}

	if config.BatchSize <= 0 {
		return fmt.Errorf("BatchSize must be positive, got %d", config.BatchSize)
	}

	if config.MaxRetries <= 0 {
		return fmt.Errorf("MaxRetries must be positive, got %d", config.MaxRetries)
	}

	if config.RetryBaseDelay <= 0 {
		return fmt.Errorf("RetryBaseDelay must be positive, got %v", config.RetryBaseDelay)
	}

	if config.RequestTimeout <= 0 {
		return fmt.Errorf("RequestTimeout must be positive, got %v", config.RequestTimeout)
	}

	if config.ErrorHistory <= 0 {
		return fmt.Errorf("ErrorHistory must be positive, got %d", config.ErrorHistory)
	}

	return nil
}

// Trigger identifies what started a sync pass
type Trigger int

const (
	TriggerTimer      Trigger = iota // periodic interval elapsed
	TriggerForeground                // application became active
	TriggerPush                      // remote change notification
	TriggerManual                    // explicit request
	TriggerReconnect                 // connectivity restored
)

// String returns a human-readable representation of the trigger
func (t Trigger) String() string {
	switch t {
	case TriggerTimer:
		return "timer"
	case TriggerForeground:
		return "foreground"
	case TriggerPush:
		return "push"
	case TriggerManual:
		return "manual"
	case TriggerReconnect:
		return "reconnect"
	default:
		return "unknown"
	}
}

// Connectivity is the signal source the orchestrator watches for
// online/offline transitions. Changes delivers true on reconnect,
// which triggers an immediate sync pass.
type Connectivity interface {
	Online() bool
	Changes() <-chan bool
}

// CursorStore persists the per-scope change token. Satisfied by
// *db.DB. Only the orchestrator advances a cursor.
type CursorStore interface {
	GetCursor(scope string) (string, error)
	SaveCursor(scope, token string) error
}

// Event is any of the *Msg types below
type Event any

// SyncCompletedMsg notifies that a sync pass finished successfully
type SyncCompletedMsg struct {
	At         time.Time
	Uploaded   int
	Downloaded int
	Conflicts  int
	Resolved   int
}

// SyncFailedMsg notifies that a sync pass aborted
type SyncFailedMsg struct {
	At     time.Time
	Reason error
	Fatal  bool
}

// ConflictDetectedMsg notifies that a record needs manual resolution.
// The record stays excluded from sync until ResolveManual is called.
type ConflictDetectedMsg struct {
	RecordID string
	Local    *record.Record
	Remote   *record.Record
}

// WentOfflineMsg notifies that a pass ended because the remote service
// was unreachable
type WentOfflineMsg struct {
	At time.Time
}

// SyncError is one entry in the bounded recent-errors list
type SyncError struct {
	RecordID  string    `json:"record_id,omitempty"`
	Operation string    `json:"operation"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Stats accumulates sync activity across passes
type Stats struct {
	TotalPasses     int64     `json:"total_passes"`
	TotalUploaded   int64     `json:"total_uploaded"`
	TotalDownloaded int64     `json:"total_downloaded"`
	TotalConflicts  int64     `json:"total_conflicts"`
	TotalResolved   int64     `json:"total_resolved"`
	TotalErrors     int64     `json:"total_errors"`
	LastSuccessful  time.Time `json:"last_successful"`
	LastFailed      time.Time `json:"last_failed"`
}

// Status is the externally visible snapshot of the orchestrator. The
// engine always exposes its current state rather than failing silently.
type Status struct {
	State        string      `json:"state"`
	Syncing      bool        `json:"syncing"`
	LastSyncAt   time.Time   `json:"last_sync_at"`
	RecentErrors []SyncError `json:"recent_errors"`
	Unresolved   []string    `json:"unresolved"`
	Stats        Stats       `json:"stats"`
}
