package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nibble-app/nibblesync/internal/bus"
	"github.com/nibble-app/nibblesync/internal/conflict"
	"github.com/nibble-app/nibblesync/internal/queue"
	"github.com/nibble-app/nibblesync/internal/record"
	"github.com/nibble-app/nibblesync/internal/remote"
	"github.com/nibble-app/nibblesync/internal/store"
)

// pendingConflict holds both versions of a record awaiting manual
// resolution
type pendingConflict struct {
	local  *record.Record
	remote *record.Record
}

// Orchestrator drives the full sync cycle for one owner scope: drain
// the offline queue, fetch remote changes, merge them locally, resolve
// conflicts, advance the cursor. At most one pass runs at a time;
// triggers that arrive mid-pass coalesce into a single follow-up pass.
type Orchestrator struct {
	// Core identification
	scope  string
	config Config

	// Dependencies
	store    store.Adapter
	remote   remote.Client
	queue    *queue.Queue
	resolver *conflict.Resolver
	cursors  CursorStore
	conn     Connectivity
	logger   *slog.Logger

	backoff remote.Backoff

	// Communication channels
	triggers *bus.Inbox[Trigger]
	events   *bus.Inbox[Event]

	// State management
	mu           sync.Mutex
	state        State
	syncing      bool
	runAgain     bool
	lastSyncAt   time.Time
	recentErrors []SyncError
	unresolved   map[string]pendingConflict
	stats        Stats
	fatalErr     error

	// Optional state recorder for testing
	recorder *StateRecorder
}

// New creates a sync orchestrator for the given scope. Records already
// blocked on manual conflicts (from a previous process) are reloaded
// so they stay excluded from sync.
func New(
	scope string,
	config Config,
	st store.Adapter,
	client remote.Client,
	q *queue.Queue,
	resolver *conflict.Resolver,
	cursors CursorStore,
	conn Connectivity,
	logger *slog.Logger,
) (*Orchestrator, error) {
	if scope == "" {
		return nil, fmt.Errorf("orchestrator: scope is required")
	}
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("orchestrator: invalid config: %w", err)
	}

	o := &Orchestrator{
		scope:    scope,
		config:   config,
		store:    st,
		remote:   client,
		queue:    q,
		resolver: resolver,
		cursors:  cursors,
		conn:     conn,
		logger:   logger,
		backoff: remote.Backoff{
			Base: config.RetryBaseDelay,
			Max:  config.MaxRetryDelay,
		},
		state:      &IdleState{},
		triggers:   bus.New[Trigger](config.TriggerBufferSize, time.Second, logger),
		events:     bus.New[Event](config.EventBufferSize, time.Second, logger),
		unresolved: make(map[string]pendingConflict),
	}

	blocked, err := st.BlockedRecords(scope)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: loading blocked records: %w", err)
	}
	for _, id := range blocked {
		local, err := st.Get(id)
		if err != nil {
			logger.Warn("blocked record unreadable, skipping",
				"record_id", id,
				"error", err)
			continue
		}
		o.unresolved[id] = pendingConflict{local: local}
	}

	return o, nil
}

// SetRecorder attaches a state recorder (for testing)
func (o *Orchestrator) SetRecorder(r *StateRecorder) {
	o.recorder = r
}

// Events returns the channel sync lifecycle events are published on.
// Events are dropped, not blocked on, when the consumer falls behind.
func (o *Orchestrator) Events() <-chan Event {
	return o.events.C()
}

// Trigger requests a sync pass. If a pass is already running the
// request coalesces into one follow-up pass instead of queueing.
func (o *Orchestrator) Trigger(t Trigger) {
	o.mu.Lock()
	if o.syncing {
		o.runAgain = true
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	o.triggers.Send(t)
}

// SyncNow requests an immediate sync pass
func (o *Orchestrator) SyncNow() {
	o.Trigger(TriggerManual)
}

// NotifyForegrounded signals that the application became active
func (o *Orchestrator) NotifyForegrounded() {
	o.Trigger(TriggerForeground)
}

// NotifyRemoteChange signals a push notification from the service
func (o *Orchestrator) NotifyRemoteChange() {
	o.Trigger(TriggerPush)
}

// ClearFatal re-enables syncing after a fatal remote error, e.g. once
// the application has re-authenticated
func (o *Orchestrator) ClearFatal() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fatalErr != nil {
		o.logger.Info("fatal sync error cleared", "error", o.fatalErr)
		o.fatalErr = nil
	}
}

// ResolveManual completes a manually-resolved conflict. The chosen
// record is written dirty and the block on the record lifted; the next
// pass uploads it.
func (o *Orchestrator) ResolveManual(recordID string, chosen *record.Record) error {
	o.mu.Lock()
	_, ok := o.unresolved[recordID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: record %s has no pending conflict", recordID)
	}
	if chosen == nil || chosen.ID != recordID {
		return fmt.Errorf("orchestrator: chosen record must carry id %s", recordID)
	}

	resolved := chosen.Clone()
	resolved.Dirty = true
	if err := o.store.Put(resolved); err != nil {
		return fmt.Errorf("orchestrator: storing resolved record: %w", err)
	}
	if err := o.store.SetBlocked(recordID, false); err != nil {
		return fmt.Errorf("orchestrator: unblocking record: %w", err)
	}

	// Refresh any stale queued snapshot with the chosen version
	op := queue.OpUpdate
	if resolved.RemoteTag == "" {
		op = queue.OpCreate
	}
	if _, err := o.queue.Enqueue(resolved, op); err != nil {
		return fmt.Errorf("orchestrator: queueing resolved record: %w", err)
	}

	o.mu.Lock()
	delete(o.unresolved, recordID)
	o.stats.TotalResolved++
	o.mu.Unlock()

	o.logger.Info("manual conflict resolved", "record_id", recordID)
	o.Trigger(TriggerManual)
	return nil
}

// UnresolvedConflicts returns the pending manual conflicts, both
// versions each, sorted by record id
func (o *Orchestrator) UnresolvedConflicts() []ConflictDetectedMsg {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ConflictDetectedMsg, 0, len(o.unresolved))
	for id, pc := range o.unresolved {
		out = append(out, ConflictDetectedMsg{RecordID: id, Local: pc.local, Remote: pc.remote})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	return out
}

// Status returns a snapshot of the orchestrator's current state
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	name := o.state.Name()
	if !o.syncing && len(o.unresolved) > 0 {
		name = (&ConflictState{}).Name()
	}

	errs := make([]SyncError, len(o.recentErrors))
	copy(errs, o.recentErrors)

	unresolved := make([]string, 0, len(o.unresolved))
	for id := range o.unresolved {
		unresolved = append(unresolved, id)
	}
	sort.Strings(unresolved)

	return Status{
		State:        name,
		Syncing:      o.syncing,
		LastSyncAt:   o.lastSyncAt,
		RecentErrors: errs,
		Unresolved:   unresolved,
		Stats:        o.stats,
	}
}

// Run processes triggers until the context is cancelled. Passes run
// serially on this goroutine. Subscribe failure is non-fatal; polling
// covers for missing push notifications.
func (o *Orchestrator) Run(ctx context.Context) {
	if err := o.remote.Subscribe(ctx, o.scope); err != nil {
		o.logger.Warn("push subscription failed, relying on polling",
			"scope", o.scope,
			"error", err)
	}

	ticker := time.NewTicker(o.config.Interval)
	defer ticker.Stop()

	var connCh <-chan bool
	if o.conn != nil {
		connCh = o.conn.Changes()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.syncUntilQuiet(ctx, TriggerTimer)
		case online, ok := <-connCh:
			if !ok {
				connCh = nil
				continue
			}
			if online {
				o.syncUntilQuiet(ctx, TriggerReconnect)
			} else {
				o.logger.Info("connectivity lost", "scope", o.scope)
			}
		case t, ok := <-o.triggers.C():
			if !ok {
				return
			}
			o.syncUntilQuiet(ctx, t)
		}
	}
}

// Close shuts down the trigger and event inboxes. Call after Run has
// returned.
func (o *Orchestrator) Close() {
	o.triggers.Close()
	o.events.Close()
}

// syncUntilQuiet runs passes until no trigger arrived mid-pass
func (o *Orchestrator) syncUntilQuiet(ctx context.Context, t Trigger) {
	for {
		o.runPass(ctx, t)

		o.mu.Lock()
		again := o.runAgain
		o.runAgain = false
		o.mu.Unlock()

		// Triggers that queued while syncing collapse into one pass
		for {
			next, ok := o.triggers.TryReceive()
			if !ok {
				break
			}
			again = true
			t = next
		}

		if !again || ctx.Err() != nil {
			return
		}
	}
}

// transitionTo performs a state transition and logs it
func (o *Orchestrator) transitionTo(newState State) {
	o.mu.Lock()
	oldName := o.state.Name()
	o.state = newState
	o.mu.Unlock()

	if o.recorder != nil {
		o.recorder.Record(newState)
	}

	o.logger.Debug("state transition",
		"from", oldName,
		"to", newState.Name(),
		"scope", o.scope)
}

// currentState returns the state under lock
func (o *Orchestrator) currentState() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// isUnresolved reports whether a record is blocked on a manual conflict
func (o *Orchestrator) isUnresolved(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.unresolved[id]
	return ok
}

// markUnresolved records a manual conflict, blocks the record from
// further sync, and notifies the application
func (o *Orchestrator) markUnresolved(local, remoteRec *record.Record) {
	id := local.ID
	if err := o.store.SetBlocked(id, true); err != nil {
		o.logger.Error("failed to block conflicted record",
			"record_id", id,
			"error", err)
	}

	o.mu.Lock()
	o.unresolved[id] = pendingConflict{local: local, remote: remoteRec}
	o.mu.Unlock()

	o.events.TrySend(ConflictDetectedMsg{RecordID: id, Local: local, Remote: remoteRec})
	o.logger.Info("conflict requires manual resolution", "record_id", id)
}

// recordError appends to the bounded recent-errors list
func (o *Orchestrator) recordError(pass *syncPass, recordID, op string, err error) {
	pass.errorCount++

	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats.TotalErrors++
	o.recentErrors = append(o.recentErrors, SyncError{
		RecordID:  recordID,
		Operation: op,
		Message:   err.Error(),
		At:        time.Now().UTC(),
	})
	if n := len(o.recentErrors) - o.config.ErrorHistory; n > 0 {
		o.recentErrors = o.recentErrors[n:]
	}
}

// setFatal stops further passes until ClearFatal is called
func (o *Orchestrator) setFatal(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fatalErr = err
	o.logger.Error("fatal sync error, pausing until cleared", "error", err)
}
