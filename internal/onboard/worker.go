package onboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/datalens/internal/storage"
	"github.com/kalambet/datalens/internal/table"
)

// JobType is the jobs-queue type for question suggestion.
const JobType = "suggest_questions"

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

// SessionStore gives the worker access to live sessions.
type SessionStore interface {
	Tables(id string) ([]*table.Table, error)
	SetQuestions(id string, qs []string) error
}

// QuestionSource produces suggestions for a set of tables.
type QuestionSource interface {
	Questions(ctx context.Context, tables []*table.Table) ([]string, error)
}

type suggestPayload struct {
	SessionID string `json:"session_id"`
}

// Enqueue schedules question suggestion for a session and returns the job id.
func Enqueue(ctx context.Context, jobs JobStore, sessionID string) (string, error) {
	payload, err := json.Marshal(suggestPayload{SessionID: sessionID})
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	if err := jobs.EnqueueJob(ctx, storage.Job{ID: id, Type: JobType, PayloadJSON: string(payload)}); err != nil {
		return "", fmt.Errorf("enqueueing %s job: %w", JobType, err)
	}
	return id, nil
}

// Worker processes suggest_questions jobs from the SQLite job queue.
type Worker struct {
	jobs      JobStore
	sessions  SessionStore
	questions QuestionSource
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(jobs JobStore, sessions SessionStore, questions QuestionSource, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		jobs:      jobs,
		sessions:  sessions,
		questions: questions,
		poll:      pollInterval,
		logger:    slog.Default().With("component", "onboard"),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single suggest_questions job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNextJob(ctx, []string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.jobs.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.jobs.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload suggestPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	tables, err := w.sessions.Tables(payload.SessionID)
	if err != nil {
		// The session is gone; nothing left to suggest for.
		w.logger.Info("dropping suggestion for missing session", "session_id", payload.SessionID)
		return nil
	}

	qs, err := w.questions.Questions(ctx, tables)
	if err != nil {
		if job.Attempts+1 >= job.MaxAttempts {
			// Last attempt: mark the session as done with no suggestions.
			_ = w.sessions.SetQuestions(payload.SessionID, []string{})
		}
		return err
	}
	if err := w.sessions.SetQuestions(payload.SessionID, qs); err != nil {
		return fmt.Errorf("storing questions: %w", err)
	}
	w.logger.Debug("questions suggested", "session_id", payload.SessionID, "count", len(qs))
	return nil
}
