package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/kalambet/datalens/internal/engine"
)

// Planner produces the raw text for the next step.
type Planner interface {
	Plan(ctx context.Context, in PlanInput) (string, error)
}

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(ctx context.Context, in PlanInput) (string, error)

func (f PlannerFunc) Plan(ctx context.Context, in PlanInput) (string, error) { return f(ctx, in) }

// LLMPlanner calls a language model once per step, without retries.
type LLMPlanner struct {
	chat  engine.Chatter
	model string
}

func NewPlanner(chat engine.Chatter, model string) *LLMPlanner {
	return &LLMPlanner{chat: chat, model: model}
}

// Plan sends the assembled prompt as a single user message and returns the
// reply verbatim.
func (p *LLMPlanner) Plan(ctx context.Context, in PlanInput) (string, error) {
	start := time.Now()
	out, err := p.chat.Chat(ctx, p.model, []engine.Message{
		{Role: engine.RoleUser, Content: BuildPrompt(in)},
	}, nil)
	slog.Debug("planner call", "model", p.model, "observations", len(in.Observations), "elapsed", time.Since(start), "error", err)
	return out, err
}
