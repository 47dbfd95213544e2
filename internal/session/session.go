// Package session holds the per-user analysis context: the loaded tables,
// the active data scope and the append-only conversation history.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/datalens/internal/chart"
	"github.com/kalambet/datalens/internal/table"
)

// ScopeAll selects every loaded table, concatenated.
const ScopeAll = "all"

// ScopeAllLabel is how ScopeAll is presented to users and the planner.
const ScopeAllLabel = "Analyze all together"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind distinguishes what a Turn carries.
type Kind string

const (
	KindText        Kind = "text"
	KindThought     Kind = "thought"
	KindObservation Kind = "observation"
	KindChart       Kind = "chart"
)

// Turn is one history entry. Text is set for text, thought and observation
// turns; Tool names the tool behind an observation; Chart is set for chart turns.
type Turn struct {
	Role  Role          `json:"role"`
	Kind  Kind          `json:"kind"`
	Text  string        `json:"text,omitempty"`
	Tool  string        `json:"tool,omitempty"`
	Chart *chart.Figure `json:"chart,omitempty"`
	At    time.Time     `json:"at"`
}

// ScopeNotFoundError reports a scope that names no loaded table.
type ScopeNotFoundError struct {
	Scope     string
	Available []string
}

func (e *ScopeNotFoundError) Error() string {
	return fmt.Sprintf("no data found for scope %q (available: %s)", e.Scope, strings.Join(e.Available, ", "))
}

// Session is safe for concurrent use. Tables are never mutated after
// creation; Resolve hands out copies.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu        sync.RWMutex
	tables    map[string]*table.Table
	scope     string
	history   []Turn
	charts    int
	questions []string
	suggested bool
}

// New creates a session over tables, scoped to all of them.
func New(tables []*table.Table) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		tables:    make(map[string]*table.Table, len(tables)),
		scope:     ScopeAll,
	}
	for _, t := range tables {
		s.tables[t.Name] = t
	}
	return s
}

// TableNames lists loaded table names in lexical order.
func (s *Session) TableNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return table.SortedNames(s.tables)
}

// Table returns the stored table by name. Callers must not modify it.
func (s *Session) Table(name string) (*table.Table, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	return t, ok
}

// Tables returns the stored tables in name order. Callers must not modify them.
func (s *Session) Tables() []*table.Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*table.Table, 0, len(s.tables))
	for _, n := range table.SortedNames(s.tables) {
		out = append(out, s.tables[n])
	}
	return out
}

// Scopes lists every selectable scope, ScopeAll first.
func (s *Session) Scopes() []string {
	return append([]string{ScopeAll}, s.TableNames()...)
}

func (s *Session) Scope() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scope
}

// ScopeLabel is the active scope as shown to the planner.
func (s *Session) ScopeLabel() string {
	if sc := s.Scope(); sc != ScopeAll {
		return sc
	}
	return ScopeAllLabel
}

// SetScope changes the active scope.
func (s *Session) SetScope(scope string) error {
	if scope == ScopeAllLabel {
		scope = ScopeAll
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if scope != ScopeAll {
		if _, ok := s.tables[scope]; !ok {
			return &ScopeNotFoundError{Scope: scope, Available: table.SortedNames(s.tables)}
		}
	}
	s.scope = scope
	return nil
}

// Resolve returns a private copy of the data behind scope: every table
// concatenated for ScopeAll, or the named table.
func (s *Session) Resolve(scope string) (*table.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if scope == ScopeAll || scope == ScopeAllLabel {
		if len(s.tables) == 0 {
			return nil, &ScopeNotFoundError{Scope: ScopeAll}
		}
		names := table.SortedNames(s.tables)
		parts := make([]*table.Table, len(names))
		for i, n := range names {
			parts[i] = s.tables[n]
		}
		return table.Concat(ScopeAll, parts...), nil
	}

	t, ok := s.tables[scope]
	if !ok {
		return nil, &ScopeNotFoundError{Scope: scope, Available: table.SortedNames(s.tables)}
	}
	return t.Clone(), nil
}

// Append adds a turn to the history, stamping it if needed. For a chart turn
// it returns the chart's index as used by Chart; otherwise -1.
func (s *Session) Append(t Turn) int {
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}
	if t.Kind == "" {
		t.Kind = KindText
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, t)
	if t.Kind != KindChart {
		return -1
	}
	s.charts++
	return s.charts - 1
}

// History returns a copy of every turn in order.
func (s *Session) History() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Turn(nil), s.history...)
}

// Conversation returns only the user and assistant text turns, the part of
// the history that is fed back to the planner.
func (s *Session) Conversation() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Turn
	for _, t := range s.history {
		if t.Kind == KindText {
			out = append(out, t)
		}
	}
	return out
}

// Chart returns the n-th chart produced in this session (0-based).
func (s *Session) Chart(n int) (*chart.Figure, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := 0
	for _, t := range s.history {
		if t.Kind != KindChart {
			continue
		}
		if i == n {
			return t.Chart, true
		}
		i++
	}
	return nil, false
}

// SetQuestions records suggested starter questions.
func (s *Session) SetQuestions(qs []string) {
	s.mu.Lock()
	s.questions = append([]string(nil), qs...)
	s.suggested = true
	s.mu.Unlock()
}

// Questions returns the suggested questions and whether suggestion has run.
func (s *Session) Questions() ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.questions...), s.suggested
}
