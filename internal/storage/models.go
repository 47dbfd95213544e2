package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction is one answered question, kept for the status report and
// history export.
type Interaction struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Scope      string    `json:"scope"`
	State      string    `json:"state"` // "done", "exhausted" or "cached"
	Steps      int       `json:"steps"`
	Cached     bool      `json:"cached"`
	HasChart   bool      `json:"has_chart"`
	DurationMs int64     `json:"duration_ms"`
}

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// Counts summarises the database for the status command.
type Counts struct {
	Interactions int
	CacheEntries int
	PendingJobs  int
	FailedJobs   int
}
