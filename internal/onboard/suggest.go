package onboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/datalens/internal/engine"
	"github.com/kalambet/datalens/internal/table"
)

const defaultSuggestTimeout = 60 * time.Second

// ErrNoQuestions is returned when the model reply holds no list items.
var ErrNoQuestions = errors.New("no questions in model reply")

// Suggester asks a language model for starter questions about the data.
type Suggester struct {
	chat    engine.Chatter
	model   string
	timeout time.Duration
}

// NewSuggester creates a Suggester. A non-positive timeout uses 60s.
func NewSuggester(chat engine.Chatter, model string, timeout time.Duration) *Suggester {
	if timeout <= 0 {
		timeout = defaultSuggestTimeout
	}
	return &Suggester{chat: chat, model: model, timeout: timeout}
}

// Questions returns the suggested questions or the reason there are none.
func (s *Suggester) Questions(ctx context.Context, tables []*table.Table) ([]string, error) {
	if len(tables) == 0 {
		return nil, table.ErrNoTables
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.chat.Chat(ctx, s.model, BuildPrompt(tables), nil)
	if err != nil {
		return nil, fmt.Errorf("suggesting questions: %w", err)
	}
	qs := ParseQuestions(raw)
	if len(qs) == 0 {
		return nil, ErrNoQuestions
	}
	return qs, nil
}

// Suggest is Questions that never fails: any error yields an empty list so
// uploads are not blocked by the model.
func (s *Suggester) Suggest(ctx context.Context, tables []*table.Table) []string {
	qs, err := s.Questions(ctx, tables)
	if err != nil {
		slog.Warn("question suggestion failed", "error", err)
		return []string{}
	}
	return qs
}
