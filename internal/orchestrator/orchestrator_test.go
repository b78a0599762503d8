package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nibble-app/nibblesync/internal/conflict"
	"github.com/nibble-app/nibblesync/internal/db"
	"github.com/nibble-app/nibblesync/internal/queue"
	"github.com/nibble-app/nibblesync/internal/record"
	"github.com/nibble-app/nibblesync/internal/remote"
	"github.com/nibble-app/nibblesync/internal/store"
	"github.com/nibble-app/nibblesync/internal/testutil"
)

const testScope = "user-1"

// fixture wires an orchestrator over a real sqlite store and queue
// with a scriptable remote
type fixture struct {
	orch     *Orchestrator
	store    *store.SQLiteStore
	queue    *queue.Queue
	database *db.DB
	rem      *testutil.MockRemote
	conn     *testutil.MockConnectivity
	recorder *StateRecorder
	logs     *testutil.TestLogger
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	cfg.MaxRetries = 2
	cfg.RetryBaseDelay = time.Millisecond
	cfg.MaxRetryDelay = 5 * time.Millisecond
	cfg.RequestTimeout = time.Second
	return cfg
}

func newFixture(t *testing.T, strategy conflict.Strategy) *fixture {
	t.Helper()

	database, err := db.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.InitSchema())

	logs := testutil.NewTestLogger()
	logger := logs.Logger()
	st := store.NewSQLite(database, logger)
	q := queue.New(database, logger)

	conflictCfg := conflict.DefaultConfig()
	conflictCfg.Strategy = string(strategy)
	resolver, err := conflict.New(conflictCfg, logger)
	require.NoError(t, err)

	rem := testutil.NewMockRemote()
	conn := testutil.NewMockConnectivity(true)

	orch, err := New(testScope, testConfig(), st, rem, q, resolver, database, conn, logger)
	require.NoError(t, err)
	t.Cleanup(orch.Close)

	recorder := NewStateRecorder()
	orch.SetRecorder(recorder)

	return &fixture{
		orch:     orch,
		store:    st,
		queue:    q,
		database: database,
		rem:      rem,
		conn:     conn,
		recorder: recorder,
		logs:     logs,
	}
}

// dirtyPet writes a new application record through the store
func (f *fixture) dirtyPet(t *testing.T, name string) *record.Record {
	t.Helper()
	rec := record.New(record.KindPet, testScope)
	rec.SetField("name", record.String(name))
	rec.SetField("experience", record.Number(10))
	require.NoError(t, f.store.Put(rec))
	return rec
}

// syncedPet lands a clean remote record in the store
func (f *fixture) syncedPet(t *testing.T, id, tag string) *record.Record {
	t.Helper()
	rec := record.New(record.KindPet, testScope)
	rec.ID = id
	rec.SetField("name", record.String("remote"))
	rec.RemoteTag = tag
	rec.Dirty = false
	outcome, err := f.store.ApplyRemoteRecord(rec)
	require.NoError(t, err)
	require.Equal(t, store.MergeApplied, outcome)
	return rec
}

func (f *fixture) runPass(t *testing.T) {
	t.Helper()
	f.orch.runPass(context.Background(), TriggerManual)
}

func (f *fixture) drainEvents() []Event {
	var out []Event
	for {
		select {
		case ev := <-f.orch.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

// ==============================================================================
// Upload Tests - queued local mutations reach the remote
// ==============================================================================

func TestFirstSyncUploadsNewRecord(t *testing.T) {
	f := newFixture(t, conflict.StrategyFieldMerge)
	rec := f.dirtyPet(t, "Mochi")

	f.runPass(t)

	saved := f.rem.SavedRecords()
	require.Len(t, saved, 1)
	assert.Equal(t, rec.ID, saved[0].ID)

	// Acknowledgment marks the local copy clean with the issued tag
	got, err := f.store.Get(rec.ID)
	require.NoError(t, err)
	assert.False(t, got.Dirty)
	assert.NotEmpty(t, got.RemoteTag)

	n, err := f.queue.Len()
	require.NoError(t, err)
	assert.Zero(t, n, "acknowledged entry must leave the queue")
}

func TestUploadBatchRespectsQueueOrder(t *testing.T) {
	f := newFixture(t, conflict.StrategyFieldMerge)
	a := f.dirtyPet(t, "a")
	b := f.dirtyPet(t, "b")

	// a was modified first, so it drains first
	require.True(t, a.ModifiedAt.Before(b.ModifiedAt) || a.ModifiedAt.Equal(b.ModifiedAt))

	f.runPass(t)

	saved := f.rem.SavedRecords()
	require.Len(t, saved, 2)
}

func TestDeleteUpload(t *testing.T) {
	f := newFixture(t, conflict.StrategyFieldMerge)
	rec := f.syncedPet(t, "pet-1", "tag-1")

	// Application deletes locally and queues the mutation
	require.NoError(t, f.store.MarkDeleted(rec.ID))
	_, err := f.queue.Enqueue(rec, queue.OpDelete)
	require.NoError(t, err)

	f.runPass(t)

	assert.Equal(t, []string{"pet-1"}, f.rem.DeletedIDs())
	n, _ := f.queue.Len()
	assert.Zero(t, n)
}

func TestPartialBatchFailureContinues(t *testing.T) {
	f := newFixture(t, conflict.StrategyFieldMerge)
	good := f.dirtyPet(t, "good")
	bad := f.dirtyPet(t, "bad")
	f.rem.SetResult(bad.ID, remote.Result{
		Status: remote.StatusFailed,
		Err:    remote.ErrUnavailable,
	})

	f.runPass(t)

	// The good record uploaded and the pass still completed
	gotGood, err := f.store.Get(good.ID)
	require.NoError(t, err)
	assert.False(t, gotGood.Dirty)

	// The bad record stays queued with its failure recorded
	pending, err := f.queue.PeekPending(bad.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.NotEmpty(t, pending[0].LastError)

	status := f.orch.Status()
	assert.NotEmpty(t, status.RecentErrors)
	assert.Equal(t, int64(1), status.Stats.TotalUploaded)
}

func TestTransientBatchErrorKeepsEntries(t *testing.T) {
	f := newFixture(t, conflict.StrategyFieldMerge)
	f.dirtyPet(t, "stuck")

	// Both attempts fail; the pass moves on and the entry survives
	f.rem.QueueSaveError(remote.ErrUnavailable)
	f.rem.QueueSaveError(remote.ErrUnavailable)

	f.runPass(t)

	n, _ := f.queue.Len()
	assert.Equal(t, 1, n, "transient failure must never drop queued work")
	assert.Equal(t, 2, f.rem.SaveCalls(), "save retried up to the attempt budget")
	assert.GreaterOrEqual(t, f.rem.FetchCalls(), 1, "fetch phase still ran")

	// Each failed attempt surfaces as a warning, not an error
	assert.True(t, f.logs.HasWarning())
	assert.NotEmpty(t, f.logs.GetEntriesByLevel("WARN"))
}

func TestRetryWarningClearedBetweenPasses(t *testing.T) {
	f := newFixture(t, conflict.StrategyFieldMerge)
	f.dirtyPet(t, "flaky")

	// One transient failure, then the retry succeeds
	f.rem.QueueSaveError(remote.ErrUnavailable)
	f.runPass(t)
	assert.True(t, f.logs.HasWarning(), "transient retry logs a warning")
	assert.False(t, f.logs.HasError())

	f.logs.Clear()
	f.runPass(t)
	assert.False(t, f.logs.HasWarning(), "clean pass logs no warnings")
}

// ==============================================================================
// Download Tests - remote changes reach the store
// ==============================================================================

func TestFetchAppliesRemoteChanges(t *testing.T) {
	f := newFixture(t, conflict.StrategyFieldMerge)

	incoming := record.New(record.KindPet, testScope)
	incoming.ID = "pet-9"
	incoming.SetField("name", record.String("Visitor"))
	incoming.RemoteTag = "tag-9"
	incoming.Dirty = false

	f.rem.SetPages(&remote.ChangePage{
		Records:   []*record.Record{incoming},
		NextToken: "cursor-1",
	})

	f.runPass(t)

	got, err := f.store.Get("pet-9")
	require.NoError(t, err)
	assert.False(t, got.Dirty)

	token, err := f.database.GetCursor(testScope)
	require.NoError(t, err)
	assert.Equal(t, "cursor-1", token)

	status := f.orch.Status()
	assert.Equal(t, int64(1), status.Stats.TotalDownloaded)
}

func TestRemoteDeletionApplies(t *testing.T) {
	f := newFixture(t, conflict.StrategyFieldMerge)
	f.syncedPet(t, "pet-1", "tag-1")

	f.rem.SetPages(&remote.ChangePage{
		DeletedIDs: []string{"pet-1"},
		NextToken:  "cursor-1",
	})

	f.runPass(t)

	_, err := f.store.Get("pet-1")
	assert.True(t, db.IsNotFound(err), "deleted record should read as gone")
}

func TestPaginationAccumulatesAllPages(t *testing.T) {
	f := newFixture(t, conflict.StrategyFieldMerge)

	page1Rec := record.New(record.KindPet, testScope)
	page1Rec.ID = "p1"
	page1Rec.RemoteTag = "t1"
	page1Rec.Dirty = false
	page2Rec := record.New(record.KindPet, testScope)
	page2Rec.ID = "p2"
	page2Rec.RemoteTag = "t2"
	page2Rec.Dirty = false

	f.rem.SetPages(
		&remote.ChangePage{Records: []*record.Record{page1Rec}, NextToken: "c1", HasMore: true},
		&remote.ChangePage{Records: []*record.Record{page2Rec}, NextToken: "c2"},
	)

	f.runPass(t)

	assert.Equal(t, 2, f.rem.FetchCalls())
	_, err := f.store.Get("p1")
	assert.NoError(t, err)
	_, err = f.store.Get("p2")
	assert.NoError(t, err)

	token, _ := f.database.GetCursor(testScope)
	assert.Equal(t, "c2", token, "cursor advances only to the final page token")
}

func TestFailedFetchLeavesCursorUntouched(t *testing.T) {
	f := newFixture(t, conflict.StrategyFieldMerge)
	require.NoError(t, f.database.SaveCursor(testScope, "c0"))

	// Fetch fails through the whole attempt budget
	f.rem.QueueFetchError(remote.ErrUnavailable)
	f.rem.QueueFetchError(remote.ErrUnavailable)

	f.runPass(t)

	token, err := f.database.GetCursor(testScope)
	require.NoError(t, err)
	assert.Equal(t, "c0", token, "cursor must not advance past an incomplete fetch")
	assert.Equal(t, 2, f.rem.FetchCalls())

	status := f.orch.Status()
	assert.False(t, status.Stats.LastFailed.IsZero())
}

func TestDeferredForwardReferenceSettlesWithinPass(t *testing.T) {
	f := newFixture(t, conflict.StrategyFieldMerge)

	stats := record.New(record.KindStats, testScope)
	stats.ID = "stats-1"
	stats.SetField("pet", record.Reference("pet-1"))
	stats.RemoteTag = "t-s"
	stats.Dirty = false

	pet := record.New(record.KindPet, testScope)
	pet.ID = "pet-1"
	pet.RemoteTag = "t-p"
	pet.Dirty = false

	// The referencing record arrives a page before its referent
	f.rem.SetPages(
		&remote.ChangePage{Records: []*record.Record{stats}, NextToken: "c1", HasMore: true},
		&remote.ChangePage{Records: []*record.Record{pet}, NextToken: "c2"},
	)

	f.runPass(t)

	_, err := f.store.Get("stats-1")
	assert.NoError(t, err, "deferred record should flush once the referent applied")
	_, err = f.store.Get("pet-1")
	assert.NoError(t, err)
}

// ==============================================================================
// Conflict Tests
// ==============================================================================

func conflictResult(local *record.Record, tag string) remote.Result {
	server := local.Clone()
	server.SetField("name", record.String("ServerSide"))
	server.SetField("experience", record.Number(50))
	server.RemoteTag = tag
	server.Dirty = false
	server.ModifiedAt = local.ModifiedAt.Add(-time.Minute)
	server.LocalVersion = 1
	return remote.Result{Status: remote.StatusConflict, ServerRecord: server}
}

func TestUploadConflictAutoResolves(t *testing.T) {
	f := newFixture(t, conflict.StrategyFieldMerge)
	rec := f.dirtyPet(t, "Mochi")
	f.rem.SetResult(rec.ID, conflictResult(rec, "tag-s"))

	f.runPass(t)

	got, err := f.store.Get(rec.ID)
	require.NoError(t, err)

	// Monotonic field merged to max, winner re-queued for upload
	exp, _ := got.Field("experience")
	assert.Equal(t, float64(50), exp.Num)
	assert.True(t, got.Dirty, "merged winner must re-upload")
	assert.Equal(t, "tag-s", got.RemoteTag)

	pending, err := f.queue.PeekPending(rec.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "recheck queues the merged winner for the next cycle")

	status := f.orch.Status()
	assert.Equal(t, int64(1), status.Stats.TotalConflicts)
	assert.Equal(t, int64(1), status.Stats.TotalResolved)
}

func TestUploadConflictRemoteWins(t *testing.T) {
	f := newFixture(t, conflict.StrategyRemoteWins)
	rec := f.dirtyPet(t, "LocalName")
	f.rem.SetResult(rec.ID, conflictResult(rec, "tag-s"))

	f.runPass(t)

	got, err := f.store.Get(rec.ID)
	require.NoError(t, err)
	name, _ := got.Field("name")
	assert.Equal(t, "ServerSide", name.Str)
	assert.False(t, got.Dirty, "remote winner needs no re-upload")
	assert.Equal(t, "tag-s", got.RemoteTag)

	n, _ := f.queue.Len()
	assert.Zero(t, n, "resolved entry leaves the queue")
}

func TestManualConflictBlocksRecord(t *testing.T) {
	f := newFixture(t, conflict.StrategyManual)
	rec := f.dirtyPet(t, "Mine")
	f.rem.SetResult(rec.ID, conflictResult(rec, "tag-s"))

	f.runPass(t)

	status := f.orch.Status()
	require.Equal(t, []string{rec.ID}, status.Unresolved)
	assert.Equal(t, "conflict", status.State)

	// Both versions surfaced to the application
	events := f.drainEvents()
	var conflictMsg *ConflictDetectedMsg
	for _, ev := range events {
		if msg, ok := ev.(ConflictDetectedMsg); ok {
			conflictMsg = &msg
		}
	}
	require.NotNil(t, conflictMsg)
	assert.Equal(t, rec.ID, conflictMsg.RecordID)
	assert.NotNil(t, conflictMsg.Local)
	assert.NotNil(t, conflictMsg.Remote)

	// The blocked record is excluded from the next pass
	f.rem.ClearResult(rec.ID)
	f.runPass(t)
	assert.Empty(t, f.rem.SavedRecords(), "blocked record must not upload")
}

func TestResolveManualUnblocksAndSyncs(t *testing.T) {
	f := newFixture(t, conflict.StrategyManual)
	rec := f.dirtyPet(t, "Mine")
	f.rem.SetResult(rec.ID, conflictResult(rec, "tag-s"))

	f.runPass(t)
	require.NotEmpty(t, f.orch.Status().Unresolved)

	conflicts := f.orch.UnresolvedConflicts()
	require.Len(t, conflicts, 1)

	chosen := conflicts[0].Local.Clone()
	chosen.SetField("name", record.String("Decided"))
	f.rem.ClearResult(rec.ID)
	require.NoError(t, f.orch.ResolveManual(rec.ID, chosen))

	assert.Empty(t, f.orch.Status().Unresolved)

	f.runPass(t)
	saved := f.rem.SavedRecords()
	require.NotEmpty(t, saved)
	name, _ := saved[len(saved)-1].Field("name")
	assert.Equal(t, "Decided", name.Str)
}

func TestResolveManualRejectsUnknownRecord(t *testing.T) {
	f := newFixture(t, conflict.StrategyManual)
	err := f.orch.ResolveManual("nope", record.New(record.KindPet, testScope))
	assert.Error(t, err)
}

// Two devices edit the same stats record offline. Whichever reconnects
// second merges against the other's accepted copy, so syncing A then B
// must land on the same record as syncing B then A.
func TestTwoDeviceStatsMergeOrderIndependent(t *testing.T) {
	baseTime := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	mkBase := func() *record.Record {
		rec := record.New(record.KindStats, testScope)
		rec.ID = "stats-1"
		rec.SetField("experience", record.Number(50))
		rec.SetField("level", record.Number(3))
		rec.SetField("badges", record.List([]string{"first-feed"}))
		rec.RemoteTag = "tag-1"
		rec.Dirty = false
		rec.LocalVersion = 1
		rec.ModifiedAt = baseTime
		return rec
	}
	deviceA := func() *record.Record {
		rec := mkBase()
		rec.SetField("experience", record.Number(120))
		rec.SetField("badges", record.List([]string{"first-feed", "night-owl"}))
		rec.LocalVersion = 2
		rec.ModifiedAt = baseTime.Add(time.Hour)
		rec.Dirty = true
		return rec
	}
	deviceB := func() *record.Record {
		rec := mkBase()
		rec.SetField("experience", record.Number(90))
		rec.SetField("level", record.Number(4))
		rec.SetField("badges", record.List([]string{"first-feed", "week-streak"}))
		rec.LocalVersion = 2
		rec.ModifiedAt = baseTime.Add(30 * time.Minute)
		rec.Dirty = true
		return rec
	}

	// sync runs one device's pass against a server that has already
	// accepted the other device's version
	sync := func(t *testing.T, local, accepted *record.Record) *record.Record {
		t.Helper()
		f := newFixture(t, conflict.StrategyFieldMerge)
		require.NoError(t, f.store.Put(local))

		server := accepted.Clone()
		server.RemoteTag = "tag-2"
		server.Dirty = false
		f.rem.SetResult(local.ID, remote.Result{Status: remote.StatusConflict, ServerRecord: server})

		f.runPass(t)

		got, err := f.store.Get(local.ID)
		require.NoError(t, err)
		return got
	}

	onB := sync(t, deviceB(), deviceA()) // A reconnected first
	onA := sync(t, deviceA(), deviceB()) // B reconnected first

	exp, _ := onB.Field("experience")
	assert.Equal(t, float64(120), exp.Num, "monotonic field takes the maximum")
	lvl, _ := onB.Field("level")
	assert.Equal(t, float64(4), lvl.Num)
	badges, _ := onB.Field("badges")
	assert.Equal(t, []string{"first-feed", "night-owl", "week-streak"}, badges.List)

	require.Equal(t, onA.FieldNames(), onB.FieldNames())
	encA, err := record.EncodeFields(onA.Fields)
	require.NoError(t, err)
	encB, err := record.EncodeFields(onB.Fields)
	require.NoError(t, err)
	assert.Equal(t, encA, encB, "merged payload diverged between reconnect orders")
	assert.Equal(t, onA.ModifiedAt, onB.ModifiedAt)
}

// ==============================================================================
// Offline and Fatal Error Tests
// ==============================================================================

func TestOfflineSkipsPassAndKeepsQueue(t *testing.T) {
	f := newFixture(t, conflict.StrategyFieldMerge)
	rec := f.dirtyPet(t, "waiting")
	_, err := f.queue.Enqueue(rec, queue.OpCreate)
	require.NoError(t, err)
	f.conn.SetOnline(false)

	f.runPass(t)

	assert.Equal(t, 0, f.rem.SaveCalls())
	n, _ := f.queue.Len()
	assert.Equal(t, 1, n, "queue intact while offline")

	events := f.drainEvents()
	require.Len(t, events, 1)
	_, ok := events[0].(WentOfflineMsg)
	assert.True(t, ok)
}

func TestMidPassConnectionLossGoesOffline(t *testing.T) {
	f := newFixture(t, conflict.StrategyFieldMerge)
	f.dirtyPet(t, "doomed-upload")
	f.rem.QueueSaveError(remote.ErrOffline)

	f.runPass(t)

	n, _ := f.queue.Len()
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.rem.SaveCalls(), "offline error must not burn the retry budget")
	assert.Equal(t, 0, f.rem.FetchCalls(), "pass ends at the offline transition")
}

func TestFatalErrorPausesUntilCleared(t *testing.T) {
	f := newFixture(t, conflict.StrategyFieldMerge)
	f.rem.QueueFetchError(remote.ErrAuth)

	f.runPass(t)

	events := f.drainEvents()
	var failed *SyncFailedMsg
	for _, ev := range events {
		if msg, ok := ev.(SyncFailedMsg); ok {
			failed = &msg
		}
	}
	require.NotNil(t, failed)
	assert.True(t, failed.Fatal)

	// Next pass refuses to run
	f.recorder.Reset()
	f.runPass(t)
	assert.Empty(t, f.recorder.Path(), "sync stays paused after a fatal error")

	// Re-auth clears the pause
	f.orch.ClearFatal()
	f.recorder.Reset()
	f.runPass(t)
	assert.NotEmpty(t, f.recorder.Path())
}

// ==============================================================================
// Trigger and Status Tests
// ==============================================================================

func TestTriggerCoalescesWhileSyncing(t *testing.T) {
	f := newFixture(t, conflict.StrategyFieldMerge)

	f.orch.mu.Lock()
	f.orch.syncing = true
	f.orch.mu.Unlock()

	f.orch.Trigger(TriggerPush)
	f.orch.Trigger(TriggerForeground)

	f.orch.mu.Lock()
	runAgain := f.orch.runAgain
	f.orch.syncing = false
	f.orch.mu.Unlock()

	assert.True(t, runAgain)
	assert.Zero(t, f.orch.triggers.Len(), "mid-pass triggers coalesce instead of queueing")
}

func TestRunLoopProcessesManualTrigger(t *testing.T) {
	f := newFixture(t, conflict.StrategyFieldMerge)
	rec := f.dirtyPet(t, "looped")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.orch.Run(ctx)
	}()

	f.orch.SyncNow()
	testutil.WaitFor(t, func() bool {
		return f.orch.Status().Stats.TotalPasses >= 1
	}, time.Second, "loop never ran a pass")

	cancel()
	<-done

	saved := f.rem.SavedRecords()
	require.Len(t, saved, 1)
	assert.Equal(t, rec.ID, saved[0].ID)
}

func TestStatusReflectsOutcomes(t *testing.T) {
	f := newFixture(t, conflict.StrategyFieldMerge)
	f.dirtyPet(t, "counted")

	f.runPass(t)

	status := f.orch.Status()
	assert.Equal(t, "idle", status.State)
	assert.False(t, status.Syncing)
	assert.False(t, status.LastSyncAt.IsZero())
	assert.Equal(t, int64(1), status.Stats.TotalPasses)
	assert.Equal(t, int64(1), status.Stats.TotalUploaded)
	assert.False(t, status.Stats.LastSuccessful.IsZero())
}

func TestRecentErrorsBounded(t *testing.T) {
	f := newFixture(t, conflict.StrategyFieldMerge)

	pass := &syncPass{}
	for i := 0; i < 50; i++ {
		f.orch.recordError(pass, "rec", "save", remote.ErrUnavailable)
	}

	status := f.orch.Status()
	assert.Len(t, status.RecentErrors, f.orch.config.ErrorHistory)
	assert.Equal(t, int64(50), status.Stats.TotalErrors)
}

func TestBlockedRecordsSurviveRestart(t *testing.T) {
	f := newFixture(t, conflict.StrategyManual)
	rec := f.dirtyPet(t, "Mine")
	f.rem.SetResult(rec.ID, conflictResult(rec, "tag-s"))
	f.runPass(t)
	require.NotEmpty(t, f.orch.Status().Unresolved)

	// New orchestrator over the same database reloads the block
	logger := testutil.NewTestLogger().Logger()
	resolver, err := conflict.New(conflict.Config{Strategy: string(conflict.StrategyManual)}, logger)
	require.NoError(t, err)
	orch2, err := New(testScope, testConfig(), f.store, f.rem, f.queue, resolver, f.database, f.conn, logger)
	require.NoError(t, err)
	defer orch2.Close()

	assert.Equal(t, []string{rec.ID}, orch2.Status().Unresolved)
}

// ==============================================================================
// Batching Tests
// ==============================================================================

func TestChunkEntries(t *testing.T) {
	mk := func(op string, n int) []*queue.Entry {
		out := make([]*queue.Entry, n)
		for i := range out {
			out[i] = &queue.Entry{Op: queue.Op(op)}
		}
		return out
	}

	var entries []*queue.Entry
	entries = append(entries, mk("create", 3)...)
	entries = append(entries, mk("delete", 2)...)
	entries = append(entries, mk("update", 5)...)

	batches := chunkEntries(entries, 4)
	require.Len(t, batches, 4)
	assert.Len(t, batches[0], 3) // creates
	assert.Len(t, batches[1], 2) // deletes split saves
	assert.Len(t, batches[2], 4) // updates capped at batch size
	assert.Len(t, batches[3], 1)
}

func TestChunkEntriesEmpty(t *testing.T) {
	assert.Empty(t, chunkEntries(nil, 10))
}
