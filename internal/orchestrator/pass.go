package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nibble-app/nibblesync/internal/conflict"
	"github.com/nibble-app/nibblesync/internal/db"
	"github.com/nibble-app/nibblesync/internal/queue"
	"github.com/nibble-app/nibblesync/internal/record"
	"github.com/nibble-app/nibblesync/internal/remote"
	"github.com/nibble-app/nibblesync/internal/store"
)

// syncPass carries the accumulating results of a single pass through
// the state machine
type syncPass struct {
	trigger Trigger
	timing  PassTiming

	uploaded   int
	downloaded int
	conflicts  int
	resolved   int
	errorCount int

	// Fetch accumulates every page before anything is applied; the
	// cursor only advances once the accumulated set has been applied
	fetched    []*record.Record
	deletedIDs []string
	finalToken string
	fetchDone  bool

	failure error
	fatal   bool
}

// runPass executes one full sync pass. Exactly one pass runs at a
// time; a pass requested while one is running sets runAgain instead.
func (o *Orchestrator) runPass(ctx context.Context, trigger Trigger) {
	o.mu.Lock()
	if o.syncing {
		o.runAgain = true
		o.mu.Unlock()
		return
	}
	if o.fatalErr != nil {
		err := o.fatalErr
		o.mu.Unlock()
		o.logger.Warn("sync paused by earlier fatal error", "error", err)
		return
	}
	o.syncing = true
	o.state = &IdleState{}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.syncing = false
		o.state = &IdleState{}
		o.mu.Unlock()
	}()

	pass := &syncPass{trigger: trigger}
	pass.timing.StartedAt = time.Now()

	o.logger.Info("sync pass starting",
		"scope", o.scope,
		"trigger", trigger.String())

	for {
		switch s := o.currentState().(type) {
		case *IdleState:
			o.runIdle(s)
		case *DrainingState:
			o.runDraining(ctx, s, pass)
		case *FetchingState:
			o.runFetching(ctx, s, pass)
		case *ApplyingState:
			o.runApplying(ctx, s, pass)
		case *ConflictState:
			o.runConflict(s)
		case *RecheckingState:
			o.runRechecking(s, pass)
		case *CompletedState:
			o.finishCompleted(pass)
			return
		case *FailedState:
			o.finishFailed(pass)
			return
		case *OfflineState:
			o.finishOffline(pass)
			return
		case *CancelledState:
			o.finishCancelled(pass)
			return
		default:
			o.logger.Error("unknown state type", "state", fmt.Sprintf("%T", s))
			o.transitionTo(&FailedState{})
		}
	}
}

// runIdle checks connectivity before any work starts
func (o *Orchestrator) runIdle(state *IdleState) {
	if o.conn != nil && !o.conn.Online() {
		o.transitionTo(state.ToOffline())
		return
	}
	o.transitionTo(state.ToDraining())
}

// runDraining uploads queued local mutations in order. Saves and
// deletes travel in separate batches but relative order between them
// is preserved.
func (o *Orchestrator) runDraining(ctx context.Context, state *DrainingState, pass *syncPass) {
	// Dirty records that never made it into the queue (e.g. the app
	// wrote through the store directly) get entries first
	if err := o.enqueueDirty(); err != nil {
		pass.failure = err
		o.transitionTo(state.ToFailed())
		return
	}

	entries, err := o.queue.Drain()
	if err != nil {
		pass.failure = fmt.Errorf("draining queue: %w", err)
		o.transitionTo(state.ToFailed())
		return
	}

	pending := make([]*queue.Entry, 0, len(entries))
	for _, e := range entries {
		if o.isUnresolved(e.RecordID) {
			continue
		}
		pending = append(pending, e)
	}

	for _, batch := range chunkEntries(pending, o.config.BatchSize) {
		if ctx.Err() != nil {
			o.transitionTo(state.ToCancelled())
			return
		}
		var ok bool
		if batch[0].Op == queue.OpDelete {
			ok = o.sendDeleteBatch(ctx, state, batch, pass)
		} else {
			ok = o.sendSaveBatch(ctx, state, batch, pass)
		}
		if !ok {
			// A transition already happened
			return
		}
	}

	pass.timing.QueueDrainedAt = time.Now()
	o.transitionTo(state.ToFetching())
}

// sendSaveBatch uploads one batch of creates/updates. Returns false
// if the batch error forced a state transition.
func (o *Orchestrator) sendSaveBatch(ctx context.Context, state *DrainingState, batch []*queue.Entry, pass *syncPass) bool {
	records := make([]*record.Record, 0, len(batch))
	byID := make(map[string]*queue.Entry, len(batch))
	for _, e := range batch {
		rec, err := e.Record()
		if err != nil {
			// Undecodable snapshot cannot ever succeed; drop it
			o.recordError(pass, e.RecordID, "decode", err)
			if rmErr := o.queue.Remove(e.ID); rmErr != nil {
				o.logger.Warn("failed to drop corrupt queue entry",
					"entry_id", e.ID,
					"error", rmErr)
			}
			continue
		}
		records = append(records, rec)
		byID[e.RecordID] = e
	}
	if len(records) == 0 {
		return true
	}

	var results []remote.Result
	err := o.withRetry(ctx, "save", func(callCtx context.Context) error {
		var callErr error
		results, callErr = o.remote.SaveBatch(callCtx, records)
		return callErr
	})
	if err != nil {
		return o.handleBatchError(state, batch, pass, "save", err)
	}

	for _, res := range results {
		entry := byID[res.RecordID]
		if entry == nil {
			continue
		}
		switch res.Status {
		case remote.StatusSaved:
			if err := o.store.MarkClean(res.RecordID, res.NewTag); err != nil {
				o.recordError(pass, res.RecordID, "save", err)
				continue
			}
			if err := o.queue.Remove(entry.ID); err != nil {
				o.recordError(pass, res.RecordID, "save", err)
				continue
			}
			pass.uploaded++

		case remote.StatusConflict:
			local, err := o.store.Get(res.RecordID)
			if err != nil {
				// Fall back to the snapshot we tried to send
				local, err = entry.Record()
				if err != nil {
					o.recordError(pass, res.RecordID, "conflict", err)
					continue
				}
			}
			if o.handleConflict(local, res.ServerRecord, pass) {
				if err := o.queue.Remove(entry.ID); err != nil {
					o.recordError(pass, res.RecordID, "conflict", err)
				}
			}

		case remote.StatusFailed:
			resErr := res.Err
			if resErr == nil {
				resErr = fmt.Errorf("save rejected")
			}
			o.recordError(pass, res.RecordID, "save", resErr)
			if qErr := o.queue.RecordFailure(entry.ID, resErr); qErr != nil {
				o.logger.Warn("failed to record queue failure",
					"entry_id", entry.ID,
					"error", qErr)
			}
		}
	}
	return true
}

// sendDeleteBatch uploads one batch of deletes. A delete conflicting
// with a newer remote update resurrects the server's version locally.
func (o *Orchestrator) sendDeleteBatch(ctx context.Context, state *DrainingState, batch []*queue.Entry, pass *syncPass) bool {
	ids := make([]string, 0, len(batch))
	byID := make(map[string]*queue.Entry, len(batch))
	for _, e := range batch {
		ids = append(ids, e.RecordID)
		byID[e.RecordID] = e
	}

	var results []remote.Result
	err := o.withRetry(ctx, "delete", func(callCtx context.Context) error {
		var callErr error
		results, callErr = o.remote.DeleteBatch(callCtx, o.scope, ids)
		return callErr
	})
	if err != nil {
		return o.handleBatchError(state, batch, pass, "delete", err)
	}

	for _, res := range results {
		entry := byID[res.RecordID]
		if entry == nil {
			continue
		}
		switch res.Status {
		case remote.StatusSaved:
			if err := o.queue.Remove(entry.ID); err != nil {
				o.recordError(pass, res.RecordID, "delete", err)
				continue
			}
			pass.uploaded++

		case remote.StatusConflict:
			pass.conflicts++
			if res.ServerRecord != nil {
				if _, applyErr := o.store.ApplyRemoteRecord(res.ServerRecord); applyErr != nil {
					o.recordError(pass, res.RecordID, "delete", applyErr)
					continue
				}
				pass.downloaded++
				pass.resolved++
			}
			if err := o.queue.Remove(entry.ID); err != nil {
				o.recordError(pass, res.RecordID, "delete", err)
			}

		case remote.StatusFailed:
			resErr := res.Err
			if resErr == nil {
				resErr = fmt.Errorf("delete rejected")
			}
			o.recordError(pass, res.RecordID, "delete", resErr)
			if qErr := o.queue.RecordFailure(entry.ID, resErr); qErr != nil {
				o.logger.Warn("failed to record queue failure",
					"entry_id", entry.ID,
					"error", qErr)
			}
		}
	}
	return true
}

// handleBatchError classifies a whole-batch failure. Transient
// exhaustion keeps the entries queued and continues with the next
// batch; offline and fatal errors end the pass.
func (o *Orchestrator) handleBatchError(state *DrainingState, batch []*queue.Entry, pass *syncPass, op string, err error) bool {
	switch {
	case errors.Is(err, context.Canceled):
		o.transitionTo(state.ToCancelled())
		return false
	case remote.IsOffline(err):
		o.transitionTo(state.ToOffline())
		return false
	case remote.IsFatal(err):
		o.setFatal(err)
		pass.failure = err
		pass.fatal = true
		o.transitionTo(state.ToFailed())
		return false
	}

	for _, e := range batch {
		o.recordError(pass, e.RecordID, op, err)
		if qErr := o.queue.RecordFailure(e.ID, err); qErr != nil {
			o.logger.Warn("failed to record queue failure",
				"entry_id", e.ID,
				"error", qErr)
		}
	}
	return true
}

// runFetching paginates remote changes since the saved cursor. The
// cursor in sqlite stays untouched; an interrupted pagination is
// simply refetched next cycle.
func (o *Orchestrator) runFetching(ctx context.Context, state *FetchingState, pass *syncPass) {
	token, err := o.cursors.GetCursor(o.scope)
	if err != nil {
		pass.failure = fmt.Errorf("loading cursor: %w", err)
		o.transitionTo(state.ToFailed())
		return
	}

	for {
		if ctx.Err() != nil {
			o.transitionTo(state.ToCancelled())
			return
		}

		var page *remote.ChangePage
		err := o.withRetry(ctx, "fetch", func(callCtx context.Context) error {
			var callErr error
			page, callErr = o.remote.FetchChanges(callCtx, o.scope, token)
			return callErr
		})
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled):
				o.transitionTo(state.ToCancelled())
			case remote.IsOffline(err):
				o.transitionTo(state.ToOffline())
			case remote.IsFatal(err):
				o.setFatal(err)
				pass.failure = err
				pass.fatal = true
				o.transitionTo(state.ToFailed())
			default:
				pass.failure = fmt.Errorf("fetching changes: %w", err)
				o.transitionTo(state.ToFailed())
			}
			return
		}

		pass.fetched = append(pass.fetched, page.Records...)
		pass.deletedIDs = append(pass.deletedIDs, page.DeletedIDs...)
		token = page.NextToken
		if !page.HasMore {
			break
		}
	}

	pass.finalToken = token
	pass.fetchDone = true
	pass.timing.FetchedAt = time.Now()
	o.transitionTo(state.ToApplying())
}

// runApplying merges the accumulated remote changes into the store
func (o *Orchestrator) runApplying(ctx context.Context, state *ApplyingState, pass *syncPass) {
	for _, id := range pass.deletedIDs {
		if o.isUnresolved(id) {
			continue
		}
		if err := o.store.MarkDeleted(id); err != nil {
			if db.IsNotFound(err) {
				continue
			}
			o.recordError(pass, id, "apply", err)
			continue
		}
		pass.downloaded++
	}

	for _, rec := range pass.fetched {
		if ctx.Err() != nil {
			o.transitionTo(state.ToCancelled())
			return
		}
		if o.isUnresolved(rec.ID) {
			continue
		}

		outcome, err := o.store.ApplyRemoteRecord(rec)
		if err != nil {
			o.recordError(pass, rec.ID, "apply", err)
			continue
		}
		switch outcome {
		case store.MergeApplied:
			pass.downloaded++
		case store.MergeConflict:
			local, err := o.store.Get(rec.ID)
			if err != nil {
				o.recordError(pass, rec.ID, "conflict", err)
				continue
			}
			o.handleConflict(local, rec, pass)
		case store.MergeSkipped:
			o.recordError(pass, rec.ID, "apply", fmt.Errorf("invalid remote record"))
		}
		// MergeUnchanged and MergeDeferred need nothing here
	}

	// Records deferred on forward references may now have their
	// referents
	flushed, err := o.store.FlushDeferred()
	if err != nil {
		o.recordError(pass, "", "apply", err)
	}
	pass.downloaded += flushed
	if n := o.store.DeferredCount(); n > 0 {
		o.logger.Warn("records still deferred awaiting referents",
			"scope", o.scope,
			"count", n)
	}

	pass.timing.AppliedAt = time.Now()

	if o.resolver.Strategy() == conflict.StrategyManual && o.hasUnresolved() {
		o.transitionTo(state.ToConflict())
		return
	}
	o.transitionTo(state.ToRechecking())
}

// runConflict notes the records left blocked and moves on; the pass
// itself still completes so the cursor can advance past everything
// that did apply
func (o *Orchestrator) runConflict(state *ConflictState) {
	o.mu.Lock()
	n := len(o.unresolved)
	o.mu.Unlock()
	o.logger.Info("records blocked awaiting manual resolution", "count", n)
	o.transitionTo(state.ToRechecking())
}

// runRechecking queues records dirtied mid-pass (merge winners, app
// writes during sync) for the next cycle, then advances the cursor
func (o *Orchestrator) runRechecking(state *RecheckingState, pass *syncPass) {
	if err := o.enqueueDirty(); err != nil {
		pass.failure = err
		o.transitionTo(state.ToFailed())
		return
	}

	if pass.fetchDone && pass.finalToken != "" {
		if err := o.cursors.SaveCursor(o.scope, pass.finalToken); err != nil {
			pass.failure = fmt.Errorf("advancing cursor: %w", err)
			o.transitionTo(state.ToFailed())
			return
		}
	}

	o.transitionTo(state.ToCompleted())
}

// finishCompleted records pass results and notifies the application
func (o *Orchestrator) finishCompleted(pass *syncPass) {
	pass.timing.FinishedAt = time.Now()

	// Entries that stayed queued (transient failures) retry with a
	// fresh attempt budget next cycle
	if entries, err := o.queue.Drain(); err == nil {
		for _, e := range entries {
			if e.AttemptCount == 0 {
				continue
			}
			if rErr := o.queue.ResetAttempts(e.ID); rErr != nil {
				o.logger.Warn("failed to reset queue attempts",
					"entry_id", e.ID,
					"error", rErr)
			}
		}
	}

	o.mu.Lock()
	o.lastSyncAt = pass.timing.FinishedAt
	o.accumulateLocked(pass)
	o.stats.LastSuccessful = pass.timing.FinishedAt
	o.mu.Unlock()

	o.events.TrySend(SyncCompletedMsg{
		At:         pass.timing.FinishedAt,
		Uploaded:   pass.uploaded,
		Downloaded: pass.downloaded,
		Conflicts:  pass.conflicts,
		Resolved:   pass.resolved,
	})

	o.logger.Info("sync pass completed",
		"scope", o.scope,
		"trigger", pass.trigger.String(),
		"uploaded", pass.uploaded,
		"downloaded", pass.downloaded,
		"conflicts", pass.conflicts,
		"resolved", pass.resolved,
		"errors", pass.errorCount,
		"duration", pass.timing.FinishedAt.Sub(pass.timing.StartedAt))
}

// finishFailed records the abort and notifies the application
func (o *Orchestrator) finishFailed(pass *syncPass) {
	pass.timing.FinishedAt = time.Now()

	o.mu.Lock()
	o.accumulateLocked(pass)
	o.stats.LastFailed = pass.timing.FinishedAt
	o.mu.Unlock()

	o.events.TrySend(SyncFailedMsg{
		At:     pass.timing.FinishedAt,
		Reason: pass.failure,
		Fatal:  pass.fatal,
	})

	o.logger.Error("sync pass failed",
		"scope", o.scope,
		"trigger", pass.trigger.String(),
		"fatal", pass.fatal,
		"error", pass.failure)
}

// finishOffline ends the pass quietly; reconnect triggers the next one
func (o *Orchestrator) finishOffline(pass *syncPass) {
	o.events.TrySend(WentOfflineMsg{At: time.Now()})
	o.logger.Info("sync pass deferred, service unreachable",
		"scope", o.scope,
		"trigger", pass.trigger.String())
}

// finishCancelled ends the pass on shutdown; queue and cursor are
// untouched beyond what already committed
func (o *Orchestrator) finishCancelled(pass *syncPass) {
	o.logger.Info("sync pass cancelled",
		"scope", o.scope,
		"trigger", pass.trigger.String())
}

// accumulateLocked folds pass counters into the running stats.
// Caller holds o.mu.
func (o *Orchestrator) accumulateLocked(pass *syncPass) {
	o.stats.TotalPasses++
	o.stats.TotalUploaded += int64(pass.uploaded)
	o.stats.TotalDownloaded += int64(pass.downloaded)
	o.stats.TotalConflicts += int64(pass.conflicts)
	o.stats.TotalResolved += int64(pass.resolved)
}

// handleConflict resolves a local/remote divergence and writes the
// outcome. Returns true when the conflict resolved automatically;
// false means the record is now blocked on manual resolution (or the
// resolution itself failed).
func (o *Orchestrator) handleConflict(local, remoteRec *record.Record, pass *syncPass) bool {
	pass.conflicts++

	if remoteRec == nil {
		o.recordError(pass, local.ID, "conflict", fmt.Errorf("conflict result missing server record"))
		return false
	}

	res, err := o.resolver.Resolve(local, remoteRec)
	if err != nil {
		o.recordError(pass, local.ID, "conflict", err)
		return false
	}

	if res.Manual {
		o.markUnresolved(local, remoteRec)
		return false
	}

	if err := o.store.Put(res.Winner); err != nil {
		o.recordError(pass, local.ID, "conflict", err)
		return false
	}
	pass.resolved++
	return true
}

// enqueueDirty gives queue entries to dirty records that have none
func (o *Orchestrator) enqueueDirty() error {
	dirty, err := o.store.LoadDirtyRecords(o.scope)
	if err != nil {
		return fmt.Errorf("loading dirty records: %w", err)
	}
	for _, rec := range dirty {
		if o.isUnresolved(rec.ID) {
			continue
		}
		pending, err := o.queue.PeekPending(rec.ID)
		if err != nil {
			return fmt.Errorf("checking pending entries: %w", err)
		}
		if len(pending) > 0 {
			continue
		}
		op := queue.OpUpdate
		if rec.RemoteTag == "" {
			op = queue.OpCreate
		}
		if _, err := o.queue.Enqueue(rec, op); err != nil {
			return fmt.Errorf("enqueueing dirty record: %w", err)
		}
	}
	return nil
}

// hasUnresolved reports whether any manual conflicts are pending
func (o *Orchestrator) hasUnresolved() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.unresolved) > 0
}

// withRetry runs a remote call with a per-call timeout and exponential
// backoff. Offline and fatal errors return immediately without
// consuming the attempt budget.
func (o *Orchestrator) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < o.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.backoff.Delay(attempt - 1)):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, o.config.RequestTimeout)
		err = fn(callCtx)
		cancel()

		if err == nil {
			return nil
		}
		if remote.IsOffline(err) || remote.IsFatal(err) || ctx.Err() != nil {
			return err
		}
		o.logger.Warn("remote call failed, will retry",
			"op", op,
			"attempt", attempt+1,
			"error", err)
	}
	return err
}

// chunkEntries splits the ordered queue into batches. Consecutive
// entries of the same category (delete vs save) share a batch, capped
// at size, so relative ordering across categories is preserved.
func chunkEntries(entries []*queue.Entry, size int) [][]*queue.Entry {
	var out [][]*queue.Entry
	var cur []*queue.Entry
	curDelete := false
	for _, e := range entries {
		isDelete := e.Op == queue.OpDelete
		if len(cur) > 0 && (isDelete != curDelete || len(cur) >= size) {
			out = append(out, cur)
			cur = nil
		}
		if len(cur) == 0 {
			curDelete = isDelete
		}
		cur = append(cur, e)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}
