package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nibble-app/nibblesync/internal/record"
	"github.com/nibble-app/nibblesync/internal/remote"
)

// MockRemote is a scriptable in-memory record service. Fetch pages,
// per-record outcomes, and call errors are queued up front; everything
// sent to it is captured for assertions.
type MockRemote struct {
	mu sync.Mutex

	pages      []*remote.ChangePage
	fetchErrs  []error
	saveErrs   []error
	deleteErrs []error

	// Per-record outcome overrides; records without one save cleanly
	results map[string]remote.Result

	saved      []*record.Record
	deleted    []string
	fetchCalls int
	saveCalls  int
	delCalls   int
	subCalls   int

	subscribeErr error
	tagSeq       int
}

func NewMockRemote() *MockRemote {
	return &MockRemote{
		results: make(map[string]remote.Result),
	}
}

// SetPages scripts the pages FetchChanges serves in order. Once
// exhausted it serves empty pages that keep the cursor where it is.
func (m *MockRemote) SetPages(pages ...*remote.ChangePage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages = pages
}

// QueueFetchError makes the next FetchChanges call fail
func (m *MockRemote) QueueFetchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErrs = append(m.fetchErrs, err)
}

// QueueSaveError makes the next SaveBatch call fail wholesale
func (m *MockRemote) QueueSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErrs = append(m.saveErrs, err)
}

// QueueDeleteError makes the next DeleteBatch call fail wholesale
func (m *MockRemote) QueueDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErrs = append(m.deleteErrs, err)
}

// SetResult overrides the outcome for one record id in subsequent
// save and delete batches
func (m *MockRemote) SetResult(recordID string, res remote.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res.RecordID = recordID
	m.results[recordID] = res
}

// ClearResult removes a per-record override
func (m *MockRemote) ClearResult(recordID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.results, recordID)
}

// SetSubscribeError makes Subscribe fail
func (m *MockRemote) SetSubscribeError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeErr = err
}

func (m *MockRemote) FetchChanges(_ context.Context, _ string, sinceToken string) (*remote.ChangePage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls++

	if len(m.fetchErrs) > 0 {
		err := m.fetchErrs[0]
		m.fetchErrs = m.fetchErrs[1:]
		return nil, err
	}

	if len(m.pages) > 0 {
		page := m.pages[0]
		m.pages = m.pages[1:]
		return page, nil
	}

	return &remote.ChangePage{NextToken: sinceToken}, nil
}

func (m *MockRemote) SaveBatch(_ context.Context, records []*record.Record) ([]remote.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++

	if len(m.saveErrs) > 0 {
		err := m.saveErrs[0]
		m.saveErrs = m.saveErrs[1:]
		return nil, err
	}

	results := make([]remote.Result, 0, len(records))
	for _, rec := range records {
		if res, ok := m.results[rec.ID]; ok {
			results = append(results, res)
			continue
		}
		m.saved = append(m.saved, rec.Clone())
		m.tagSeq++
		results = append(results, remote.Result{
			RecordID: rec.ID,
			Status:   remote.StatusSaved,
			NewTag:   fmt.Sprintf("tag-%d", m.tagSeq),
		})
	}
	return results, nil
}

func (m *MockRemote) DeleteBatch(_ context.Context, _ string, ids []string) ([]remote.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delCalls++

	if len(m.deleteErrs) > 0 {
		err := m.deleteErrs[0]
		m.deleteErrs = m.deleteErrs[1:]
		return nil, err
	}

	results := make([]remote.Result, 0, len(ids))
	for _, id := range ids {
		if res, ok := m.results[id]; ok {
			results = append(results, res)
			continue
		}
		m.deleted = append(m.deleted, id)
		results = append(results, remote.Result{
			RecordID: id,
			Status:   remote.StatusSaved,
		})
	}
	return results, nil
}

func (m *MockRemote) Subscribe(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subCalls++
	return m.subscribeErr
}

func (m *MockRemote) SavedRecords() []*record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*record.Record, len(m.saved))
	copy(out, m.saved)
	return out
}

func (m *MockRemote) DeletedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.deleted))
	copy(out, m.deleted)
	return out
}

func (m *MockRemote) FetchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls
}

func (m *MockRemote) SaveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCalls
}

func (m *MockRemote) DeleteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delCalls
}

// MockConnectivity is a controllable connectivity signal
type MockConnectivity struct {
	mu     sync.Mutex
	online bool
	ch     chan bool
}

func NewMockConnectivity(online bool) *MockConnectivity {
	return &MockConnectivity{
		online: online,
		ch:     make(chan bool, 8),
	}
}

func (m *MockConnectivity) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *MockConnectivity) Changes() <-chan bool {
	return m.ch
}

func (m *MockConnectivity) SetOnline(online bool) {
	m.mu.Lock()
	m.online = online
	m.mu.Unlock()
	m.ch <- online
}

// TestLogger provides a logger that captures logs for testing
type TestLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]interface{}
}

func NewTestLogger() *TestLogger {
	return &TestLogger{
		entries: make([]LogEntry, 0),
	}
}

func (l *TestLogger) log(level, msg string, fields ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := LogEntry{
		Level:   level,
		Message: msg,
		Fields:  make(map[string]interface{}),
	}

	for i := 0; i < len(fields); i += 2 {
		if i+1 < len(fields) {
			key := fmt.Sprintf("%v", fields[i])
			entry.Fields[key] = fields[i+1]
		}
	}

	l.entries = append(l.entries, entry)
}

func (l *TestLogger) GetEntries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]LogEntry, len(l.entries))
	copy(result, l.entries)
	return result
}

func (l *TestLogger) GetEntriesByLevel(level string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]LogEntry, 0)
	for _, entry := range l.entries {
		if entry.Level == level {
			result = append(result, entry)
		}
	}
	return result
}

func (l *TestLogger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make([]LogEntry, 0)
}

func (l *TestLogger) HasError() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, entry := range l.entries {
		if entry.Level == "ERROR" {
			return true
		}
	}
	return false
}

func (l *TestLogger) HasWarning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, entry := range l.entries {
		if entry.Level == "WARN" {
			return true
		}
	}
	return false
}

// Logger returns a *slog.Logger that writes to this TestLogger
func (l *TestLogger) Logger() *slog.Logger {
	return slog.New(&testLogHandler{logger: l})
}

// testLogHandler implements slog.Handler for TestLogger
type testLogHandler struct {
	logger *TestLogger
	attrs  []slog.Attr
	groups []string
}

func (h *testLogHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (h *testLogHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make([]interface{}, 0, r.NumAttrs()*2)
	r.Attrs(func(a slog.Attr) bool {
		fields = append(fields, a.Key, a.Value.Any())
		return true
	})

	for _, attr := range h.attrs {
		fields = append(fields, attr.Key, attr.Value.Any())
	}

	h.logger.log(r.Level.String(), r.Message, fields...)
	return nil
}

func (h *testLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)
	return &testLogHandler{
		logger: h.logger,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *testLogHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups[len(h.groups)] = name
	return &testLogHandler{
		logger: h.logger,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

// WaitFor waits for a condition to be true with timeout
func WaitFor(t TestingT, condition func() bool, timeout time.Duration, msgAndArgs ...interface{}) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return true
		}

		<-ticker.C
		if time.Now().After(deadline) {
			t.Errorf("timeout waiting for condition: %v", msgAndArgs)
			return false
		}
	}
}

// TestingT is a minimal interface for testing
type TestingT interface {
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}
