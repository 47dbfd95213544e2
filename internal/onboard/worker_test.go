package onboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/datalens/internal/storage"
	"github.com/kalambet/datalens/internal/table"
)

type mockSessions struct {
	mu        sync.Mutex
	tables    map[string][]*table.Table
	questions map[string][]string
}

func newMockSessions(ids ...string) *mockSessions {
	m := &mockSessions{tables: map[string][]*table.Table{}, questions: map[string][]string{}}
	for _, id := range ids {
		m.tables[id] = fixtures()
	}
	return m
}

func (m *mockSessions) Tables(id string) ([]*table.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.tables[id]
	if !ok {
		return nil, fmt.Errorf("session %s: not found", id)
	}
	return ts, nil
}

func (m *mockSessions) SetQuestions(id string, qs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questions[id] = qs
	return nil
}

func (m *mockSessions) get(id string) ([]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	qs, ok := m.questions[id]
	return qs, ok
}

type mockSource struct {
	fn func(ctx context.Context, tables []*table.Table) ([]string, error)
}

func (m *mockSource) Questions(ctx context.Context, tables []*table.Table) ([]string, error) {
	return m.fn(ctx, tables)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// resetRunAfter makes a backed-off job claimable again.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID); err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func TestWorker_StoresQuestions(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	sessions := newMockSessions("s1")
	src := &mockSource{fn: func(_ context.Context, tables []*table.Table) ([]string, error) {
		if len(tables) != 2 {
			t.Errorf("got %d tables, want 2", len(tables))
		}
		return []string{"q1", "q2", "q3"}, nil
	}}

	jobID, err := Enqueue(ctx, store, "s1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := NewWorker(store, sessions, src, time.Millisecond)
	done, err := w.RunOnce(ctx)
	if err != nil || !done {
		t.Fatalf("RunOnce = %v, %v; want true, nil", done, err)
	}

	qs, ok := sessions.get("s1")
	if !ok || len(qs) != 3 || qs[0] != "q1" {
		t.Errorf("questions = %v, %v", qs, ok)
	}
	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != storage.JobCompleted {
		t.Errorf("status = %q, want %q", job.Status, storage.JobCompleted)
	}
}

func TestWorker_NoJobs(t *testing.T) {
	w := NewWorker(openTestStore(t), newMockSessions(), &mockSource{}, 0)
	done, err := w.RunOnce(context.Background())
	if err != nil || done {
		t.Fatalf("RunOnce = %v, %v; want false, nil", done, err)
	}
}

func TestWorker_RetriesThenGivesUp(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	sessions := newMockSessions("s1")
	calls := 0
	src := &mockSource{fn: func(context.Context, []*table.Table) ([]string, error) {
		calls++
		return nil, errors.New("model offline")
	}}

	jobID, err := Enqueue(ctx, store, "s1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	w := NewWorker(store, sessions, src, time.Millisecond)

	for attempt := 1; attempt <= 3; attempt++ {
		done, err := w.RunOnce(ctx)
		if err != nil || !done {
			t.Fatalf("attempt %d: RunOnce = %v, %v", attempt, done, err)
		}
		job, err := store.GetJob(ctx, jobID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if attempt < 3 {
			if job.Status != storage.JobPending {
				t.Fatalf("attempt %d: status = %q, want pending", attempt, job.Status)
			}
			if _, ok := sessions.get("s1"); ok {
				t.Fatalf("attempt %d: questions set before final attempt", attempt)
			}
			resetRunAfter(t, store, jobID)
			continue
		}
		if job.Status != storage.JobFailed {
			t.Errorf("final status = %q, want failed", job.Status)
		}
		if job.LastError != "model offline" {
			t.Errorf("last_error = %q", job.LastError)
		}
	}

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	qs, ok := sessions.get("s1")
	if !ok || len(qs) != 0 {
		t.Errorf("questions = %v, %v; want empty and set", qs, ok)
	}
}

func TestWorker_MissingSessionCompletes(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	src := &mockSource{fn: func(context.Context, []*table.Table) ([]string, error) {
		t.Error("suggester called for a missing session")
		return nil, nil
	}}

	jobID, err := Enqueue(ctx, store, "gone")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := NewWorker(store, newMockSessions(), src, 0).RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	job, _ := store.GetJob(ctx, jobID)
	if job.Status != storage.JobCompleted {
		t.Errorf("status = %q, want completed", job.Status)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := openTestStore(t)
	sessions := newMockSessions("s1")
	src := &mockSource{fn: func(context.Context, []*table.Table) ([]string, error) {
		return []string{"q"}, nil
	}}
	if _, err := Enqueue(ctx, store, "s1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	finished := make(chan struct{})
	go func() {
		NewWorker(store, sessions, src, 5*time.Millisecond).Run(ctx)
		close(finished)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := sessions.get("s1"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("job was not processed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
