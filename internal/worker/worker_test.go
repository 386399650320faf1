package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/merchantpulse/sync-worker/internal/config"
	"github.com/merchantpulse/sync-worker/internal/models"
	"github.com/merchantpulse/sync-worker/internal/progress"
	"github.com/merchantpulse/sync-worker/internal/queue"
)

type mockJobQueue struct {
	mu        sync.Mutex
	jobs      []*models.SyncJob
	wake      chan struct{}
	cancelled map[string]bool
	forgotten []string
}

func newMockJobQueue(jobs ...*models.SyncJob) *mockJobQueue {
	return &mockJobQueue{
		jobs:      jobs,
		wake:      make(chan struct{}, 1),
		cancelled: make(map[string]bool),
	}
}

func (m *mockJobQueue) Dequeue(ctx context.Context) (*models.SyncJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.jobs) == 0 {
		return nil, queue.ErrJobNotFound
	}
	job := m.jobs[0]
	m.jobs = m.jobs[1:]
	return job, nil
}

func (m *mockJobQueue) Wake() <-chan struct{} { return m.wake }

func (m *mockJobQueue) CancelRequested(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled[jobID]
}

func (m *mockJobQueue) Forget(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forgotten = append(m.forgotten, jobID)
}

type mockJobStore struct {
	mu                sync.Mutex
	attempts          int
	completed         *models.SyncResults
	completedCalls    int
	failed            string
	markCompletedFunc func(call int) error
}

func (m *mockJobStore) IncrementAttempts(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	return nil
}

func (m *mockJobStore) MarkCompleted(ctx context.Context, jobID string, results *models.SyncResults) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completedCalls++
	if m.markCompletedFunc != nil {
		if err := m.markCompletedFunc(m.completedCalls); err != nil {
			return err
		}
	}
	m.completed = results
	return nil
}

func (m *mockJobStore) MarkFailed(ctx context.Context, jobID string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = reason
	return nil
}

type mockRunner struct {
	mu      sync.Mutex
	calls   int
	runFunc func(call int) (*models.SyncResults, error)
}

func (m *mockRunner) Run(ctx context.Context, job *models.SyncJob) (*models.SyncResults, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()
	return m.runFunc(call)
}

type mockHub struct {
	mu        sync.Mutex
	events    []progress.Event
	terminals []progress.Event
}

func (m *mockHub) Publish(ev progress.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockHub) PublishTerminal(ev progress.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminals = append(m.terminals, ev)
}

func testConfig() *config.Config {
	return &config.Config{
		WorkerConcurrency: 1,
		PollInterval:      10 * time.Millisecond,
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
	}
}

func TestWorker_JobSucceedsFirstTry(t *testing.T) {
	q := newMockJobQueue()
	store := &mockJobStore{}
	hub := &mockHub{}
	results := &models.SyncResults{Summary: models.SyncSummary{TotalRecords: 5}}
	runner := &mockRunner{runFunc: func(int) (*models.SyncResults, error) {
		return results, nil
	}}

	w := New(testConfig(), q, store, runner, hub, zap.NewNop())
	w.process(context.Background(), &models.SyncJob{ID: "job-1"})

	if store.attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", store.attempts)
	}
	if store.completed != results {
		t.Error("expected job marked completed with runner results")
	}
	if len(hub.terminals) != 1 || hub.terminals[0].Type != progress.EventDone {
		t.Errorf("expected one done terminal event, got %+v", hub.terminals)
	}
	if hub.terminals[0].Progress != 100 {
		t.Errorf("expected terminal progress 100, got %d", hub.terminals[0].Progress)
	}
}

func TestWorker_RetriesThenSucceeds(t *testing.T) {
	q := newMockJobQueue()
	store := &mockJobStore{}
	hub := &mockHub{}
	runner := &mockRunner{runFunc: func(call int) (*models.SyncResults, error) {
		if call < 2 {
			return nil, errors.New("storage hiccup")
		}
		return &models.SyncResults{}, nil
	}}

	w := New(testConfig(), q, store, runner, hub, zap.NewNop())
	w.process(context.Background(), &models.SyncJob{ID: "job-1"})

	if runner.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", runner.calls)
	}
	if store.completed == nil {
		t.Error("expected job completed after retry")
	}
	if store.failed != "" {
		t.Errorf("job must not be failed, got %q", store.failed)
	}
	if len(hub.events) != 1 || hub.events[0].Type != progress.EventError {
		t.Errorf("expected one non-terminal error event, got %+v", hub.events)
	}
}

func TestWorker_ExhaustsRetryCeiling(t *testing.T) {
	q := newMockJobQueue()
	store := &mockJobStore{}
	hub := &mockHub{}
	runner := &mockRunner{runFunc: func(int) (*models.SyncResults, error) {
		return nil, errors.New("database down")
	}}

	w := New(testConfig(), q, store, runner, hub, zap.NewNop())

	start := time.Now()
	w.process(context.Background(), &models.SyncJob{ID: "job-1"})
	elapsed := time.Since(start)

	if runner.calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", runner.calls)
	}
	if store.attempts != 3 {
		t.Errorf("expected 3 persisted attempts, got %d", store.attempts)
	}
	if store.failed == "" {
		t.Error("expected job marked failed")
	}
	if len(hub.terminals) != 1 || hub.terminals[0].Type != progress.EventError {
		t.Errorf("expected one terminal error event, got %+v", hub.terminals)
	}
	// two backoff pauses: base and doubled base
	if elapsed < 3*time.Millisecond {
		t.Errorf("expected backoff delays between attempts, took %v", elapsed)
	}
	if len(q.forgotten) != 1 {
		t.Errorf("expected cancellation state cleared, got %v", q.forgotten)
	}
}

func TestWorker_RetriesWhenCompletionPersistFails(t *testing.T) {
	q := newMockJobQueue()
	store := &mockJobStore{markCompletedFunc: func(call int) error {
		if call == 1 {
			return errors.New("connection lost")
		}
		return nil
	}}
	hub := &mockHub{}
	runner := &mockRunner{runFunc: func(int) (*models.SyncResults, error) {
		return &models.SyncResults{}, nil
	}}

	w := New(testConfig(), q, store, runner, hub, zap.NewNop())
	w.process(context.Background(), &models.SyncJob{ID: "job-1"})

	if runner.calls != 2 {
		t.Errorf("expected the attempt to be retried, got %d runs", runner.calls)
	}
	if store.completed == nil {
		t.Error("expected the job to end up completed")
	}
	if store.failed != "" {
		t.Errorf("job must not be failed, got %q", store.failed)
	}
	if len(hub.terminals) != 1 || hub.terminals[0].Type != progress.EventDone {
		t.Errorf("expected a single done terminal event, got %+v", hub.terminals)
	}
}

func TestWorker_FailsWhenCompletionNeverPersists(t *testing.T) {
	q := newMockJobQueue()
	store := &mockJobStore{markCompletedFunc: func(int) error {
		return errors.New("database down")
	}}
	hub := &mockHub{}
	runner := &mockRunner{runFunc: func(int) (*models.SyncResults, error) {
		return &models.SyncResults{}, nil
	}}

	w := New(testConfig(), q, store, runner, hub, zap.NewNop())
	w.process(context.Background(), &models.SyncJob{ID: "job-1"})

	if runner.calls != 3 {
		t.Errorf("expected the retry ceiling to apply, got %d runs", runner.calls)
	}
	if store.failed == "" {
		t.Error("expected job marked failed after persistence kept failing")
	}
	if len(hub.terminals) != 1 || hub.terminals[0].Type != progress.EventError {
		t.Errorf("expected a terminal error event, got %+v", hub.terminals)
	}
}

func TestWorker_ResumesAttemptCountAfterRecovery(t *testing.T) {
	q := newMockJobQueue()
	store := &mockJobStore{}
	hub := &mockHub{}
	runner := &mockRunner{runFunc: func(int) (*models.SyncResults, error) {
		return nil, errors.New("still broken")
	}}

	w := New(testConfig(), q, store, runner, hub, zap.NewNop())
	// a job re-queued after a crash already burned two attempts
	w.process(context.Background(), &models.SyncJob{ID: "job-1", Attempts: 2})

	if runner.calls != 1 {
		t.Errorf("expected only the final attempt, got %d", runner.calls)
	}
	if store.failed == "" {
		t.Error("expected job marked failed")
	}
}

func TestWorker_CancelSuppressesRetries(t *testing.T) {
	q := newMockJobQueue()
	q.cancelled["job-1"] = true
	store := &mockJobStore{}
	hub := &mockHub{}
	runner := &mockRunner{runFunc: func(int) (*models.SyncResults, error) {
		return nil, errors.New("flaky provider")
	}}

	w := New(testConfig(), q, store, runner, hub, zap.NewNop())
	w.process(context.Background(), &models.SyncJob{ID: "job-1"})

	if runner.calls != 1 {
		t.Errorf("expected a single attempt after cancellation, got %d", runner.calls)
	}
	if store.failed == "" {
		t.Error("expected job marked failed")
	}
}

func TestWorker_RunDrainsOnContextCancel(t *testing.T) {
	q := newMockJobQueue(&models.SyncJob{ID: "job-1"})
	store := &mockJobStore{}
	hub := &mockHub{}
	runner := &mockRunner{runFunc: func(int) (*models.SyncResults, error) {
		return &models.SyncResults{}, nil
	}}

	w := New(testConfig(), q, store, runner, hub, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	deadline := time.After(time.Second)
	for {
		store.mu.Lock()
		finished := store.completed != nil
		store.mu.Unlock()
		if finished {
			break
		}
		select {
		case <-deadline:
			t.Fatal("job was never processed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker pool did not stop after context cancel")
	}
}
