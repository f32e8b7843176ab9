package cluster

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testLogger() log.FieldLogger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeScheduler serves the scheduler REST API, walking each job through a
// fixed state sequence, one step per poll.
type fakeScheduler struct {
	mu        sync.Mutex
	sequence  []string
	polls     int
	cancelled []string
}

func (f *fakeScheduler) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /jobs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(submitResponse{JobID: "42"})
	})

	mux.HandleFunc("GET /jobs/{name}/state", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		state := f.sequence[len(f.sequence)-1]
		if f.polls < len(f.sequence) {
			state = f.sequence[f.polls]
		}
		f.polls++
		f.mu.Unlock()

		json.NewEncoder(w).Encode(stateResponse{State: state})
	})

	mux.HandleFunc("POST /jobs/{name}/cancel", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.cancelled = append(f.cancelled, r.PathValue("name"))
		f.mu.Unlock()
	})

	return mux
}

func newTestCluster(t *testing.T, schedulerURL string) *Cluster {
	t.Helper()

	dir := t.TempDir()
	c, err := New(Config{
		SchedulerURL: schedulerURL,
		Queue:        "mx",
		JobsDir:      filepath.Join(dir, "jobs"),
		LedgerPath:   filepath.Join(dir, "ledger.sqlite3"),
		PollPeriod:   5 * time.Millisecond,
		MaxWait:      2 * time.Second,
		ResultWait:   time.Second,
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return c
}

func TestSubmitWritesPayload(t *testing.T) {
	fake := &fakeScheduler{sequence: []string{"PENDING"}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestCluster(t, srv.URL)

	job, err := c.Submit(context.Background(), "autoproc", Spec{
		Plugin:    "autoproc",
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(job.Name, "autoproc-"))
	assert.Equal(t, StatePending, job.State())

	// The payload file holds the spec, with queue and name filled in
	data, err := os.ReadFile(job.PayloadPath)
	require.NoError(t, err)

	var spec Spec
	require.NoError(t, yaml.Unmarshal(data, &spec))
	assert.Equal(t, job.Name, spec.Name)
	assert.Equal(t, "mx", spec.Queue)
	assert.Equal(t, "autoproc", spec.Plugin)

	// And the ledger knows about the submission
	entry, err := c.Lookup(job.Name)
	require.NoError(t, err)
	assert.Equal(t, "autoproc", entry.Flavor)
	assert.Equal(t, string(StatePending), entry.State)
	assert.False(t, entry.Done)
}

func TestWaitDoneCompleted(t *testing.T) {
	fake := &fakeScheduler{sequence: []string{"PENDING", "PENDING", "RUNNING", "COMPLETED"}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestCluster(t, srv.URL)

	job, err := c.Submit(context.Background(), "characterisation", Spec{Plugin: "strategy"})
	require.NoError(t, err)

	state, err := c.WaitDone(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)

	entry, err := c.Lookup(job.Name)
	require.NoError(t, err)
	assert.True(t, entry.Done)
	assert.Equal(t, string(StateCompleted), entry.State)
	assert.Empty(t, entry.Error)
}

func TestWaitDoneFailure(t *testing.T) {
	// An unknown terminal state string counts as failure
	fake := &fakeScheduler{sequence: []string{"RUNNING", "NODE_FAIL"}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestCluster(t, srv.URL)

	job, err := c.Submit(context.Background(), "autoproc", Spec{Plugin: "autoproc"})
	require.NoError(t, err)

	state, err := c.WaitDone(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, State("NODE_FAIL"), state)
	assert.True(t, state.Terminal())

	entry, err := c.Lookup(job.Name)
	require.NoError(t, err)
	assert.True(t, entry.Done)
	assert.Contains(t, entry.Error, "NODE_FAIL")
}

func TestWaitDoneTimeout(t *testing.T) {
	fake := &fakeScheduler{sequence: []string{"RUNNING"}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	dir := t.TempDir()
	c, err := New(Config{
		SchedulerURL: srv.URL,
		JobsDir:      filepath.Join(dir, "jobs"),
		LedgerPath:   filepath.Join(dir, "ledger.sqlite3"),
		PollPeriod:   5 * time.Millisecond,
		MaxWait:      20 * time.Millisecond,
	}, testLogger())
	require.NoError(t, err)
	defer c.Close()

	job, err := c.Submit(context.Background(), "autoproc", Spec{Plugin: "autoproc"})
	require.NoError(t, err)

	_, err = c.WaitDone(context.Background(), job)
	assert.ErrorIs(t, err, ErrJobTimeout)
}

func TestWaitDoneContextCancelled(t *testing.T) {
	fake := &fakeScheduler{sequence: []string{"RUNNING"}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestCluster(t, srv.URL)

	job, err := c.Submit(context.Background(), "autoproc", Spec{Plugin: "autoproc"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	_, err = c.WaitDone(ctx, job)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitResult(t *testing.T) {
	fake := &fakeScheduler{sequence: []string{"COMPLETED"}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestCluster(t, srv.URL)

	outputDir := t.TempDir()
	job, err := c.Submit(context.Background(), "autoproc", Spec{
		Plugin:     "autoproc",
		OutputDir:  outputDir,
		ResultFile: "result.yaml",
	})
	require.NoError(t, err)

	// The result file appears a little after the job completes
	go func() {
		time.Sleep(20 * time.Millisecond)
		os.WriteFile(job.ResultPath, []byte("ok"), 0644)
	}()

	path, err := c.WaitResult(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outputDir, "result.yaml"), path)
}

func TestWaitResultMissing(t *testing.T) {
	fake := &fakeScheduler{sequence: []string{"COMPLETED"}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	dir := t.TempDir()
	c, err := New(Config{
		SchedulerURL: srv.URL,
		JobsDir:      filepath.Join(dir, "jobs"),
		LedgerPath:   filepath.Join(dir, "ledger.sqlite3"),
		PollPeriod:   5 * time.Millisecond,
		ResultWait:   20 * time.Millisecond,
	}, testLogger())
	require.NoError(t, err)
	defer c.Close()

	job, err := c.Submit(context.Background(), "autoproc", Spec{
		Plugin:     "autoproc",
		OutputDir:  dir,
		ResultFile: "never.yaml",
	})
	require.NoError(t, err)

	_, err = c.WaitResult(context.Background(), job)
	assert.Error(t, err)
}

func TestCancel(t *testing.T) {
	fake := &fakeScheduler{sequence: []string{"PENDING"}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestCluster(t, srv.URL)

	job, err := c.Submit(context.Background(), "autoproc", Spec{Plugin: "autoproc"})
	require.NoError(t, err)

	require.NoError(t, c.Cancel(context.Background(), job))
	assert.Equal(t, []string{job.Name}, fake.cancelled)
}

func TestWaitDoneLedgerFailure(t *testing.T) {
	fake := &fakeScheduler{sequence: []string{"COMPLETED"}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	logger, hook := logtest.NewNullLogger()

	dir := t.TempDir()
	c, err := New(Config{
		SchedulerURL: srv.URL,
		JobsDir:      filepath.Join(dir, "jobs"),
		LedgerPath:   filepath.Join(dir, "ledger.sqlite3"),
		PollPeriod:   5 * time.Millisecond,
		MaxWait:      2 * time.Second,
	}, logger)
	require.NoError(t, err)
	defer c.Close()

	job, err := c.Submit(context.Background(), "autoproc", Spec{Plugin: "autoproc"})
	require.NoError(t, err)

	// A broken ledger must not fail the wait, only show up in the log
	require.NoError(t, c.ledger.Close())

	state, err := c.WaitDone(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)

	var logged bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == log.ErrorLevel && strings.Contains(entry.Message, "ledger") {
			logged = true
		}
	}
	assert.True(t, logged, "expected an error log about the ledger")
}

func TestStateTerminal(t *testing.T) {
	assert.False(t, StateUnknown.Terminal())
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, State("FAILED").Terminal())
	assert.True(t, State("CANCELLED").Terminal())
}

func TestLedgerList(t *testing.T) {
	fake := &fakeScheduler{sequence: []string{"PENDING"}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestCluster(t, srv.URL)

	_, err := c.Submit(context.Background(), "autoproc", Spec{Plugin: "autoproc"})
	require.NoError(t, err)
	second, err := c.Submit(context.Background(), "rebuild", Spec{Plugin: "autoproc"})
	require.NoError(t, err)

	entries, err := c.Jobs()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first
	assert.Equal(t, second.Name, entries[0].Name)
}
