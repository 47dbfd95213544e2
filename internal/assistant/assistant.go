// Package assistant answers questions within a session: semantic cache
// first, then the agent loop, recording every turn on the session.
package assistant

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/datalens/internal/agent"
	"github.com/kalambet/datalens/internal/chart"
	"github.com/kalambet/datalens/internal/engine"
	"github.com/kalambet/datalens/internal/semcache"
	"github.com/kalambet/datalens/internal/session"
	"github.com/kalambet/datalens/internal/storage"
)

// StateCached is the reply state for answers served from the cache.
const StateCached = "cached"

// Cache is the semantic cache surface used per question.
type Cache interface {
	Search(ctx context.Context, query string) (semcache.Hit, bool, error)
	Add(ctx context.Context, question, answer string) (int64, error)
}

// InteractionLog persists answered questions.
type InteractionLog interface {
	SaveInteraction(ctx context.Context, i storage.Interaction) error
}

// Reply is the outcome of one question.
type Reply struct {
	ID     string
	Answer string
	Chart  *chart.Figure
	// ChartIndex is the session chart number of Chart, or -1.
	ChartIndex int
	Cached     bool
	State      string
	Steps      int
	Duration   time.Duration
}

// Assistant is safe for concurrent use across sessions.
type Assistant struct {
	loop   *agent.Loop
	cache  Cache
	log    InteractionLog
	logger *slog.Logger
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithCache enables the semantic cache. A nil cache disables it.
func WithCache(c Cache) Option {
	return func(a *Assistant) { a.cache = c }
}

// WithInteractionLog records each answered question.
func WithInteractionLog(l InteractionLog) Option {
	return func(a *Assistant) { a.log = l }
}

func New(loop *agent.Loop, opts ...Option) *Assistant {
	a := &Assistant{loop: loop, logger: slog.Default().With("component", "assistant")}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Loop exposes the underlying agent loop.
func (a *Assistant) Loop() *agent.Loop { return a.loop }

// Ask answers query in sess. Cache failures are logged and skipped; the loop
// itself never fails, so Ask always produces a reply.
func (a *Assistant) Ask(ctx context.Context, sess *session.Session, query string) Reply {
	start := time.Now()
	sess.Append(session.Turn{Role: session.RoleUser, Kind: session.KindText, Text: query})

	if hit, ok := a.lookup(ctx, query); ok {
		sess.Append(session.Turn{Role: session.RoleAssistant, Kind: session.KindText, Text: hit.Answer})
		r := Reply{
			ID:         uuid.New().String(),
			Answer:     hit.Answer,
			ChartIndex: -1,
			Cached:     true,
			State:      StateCached,
			Duration:   time.Since(start),
		}
		a.record(ctx, sess, query, r)
		return r
	}

	out := a.loop.Run(ctx, agent.Request{
		Query:      query,
		Scope:      sess.Scope(),
		ScopeLabel: sess.ScopeLabel(),
		History:    History(sess),
		Data:       sess,
		Observer: func(e agent.Event) {
			switch e.Kind {
			case agent.EventThought:
				sess.Append(session.Turn{Role: session.RoleAssistant, Kind: session.KindThought, Text: e.Text})
			case agent.EventObservation:
				sess.Append(session.Turn{Role: session.RoleAssistant, Kind: session.KindObservation, Text: e.Text, Tool: e.Tool})
			}
		},
	})

	r := Reply{
		ID:         uuid.New().String(),
		Answer:     out.Answer,
		ChartIndex: -1,
		State:      out.State.String(),
		Steps:      out.Steps,
	}
	if out.Chart != nil {
		r.ChartIndex = sess.Append(session.Turn{Role: session.RoleAssistant, Kind: session.KindChart, Text: out.Answer, Chart: out.Chart})
		r.Chart = out.Chart
	} else {
		sess.Append(session.Turn{Role: session.RoleAssistant, Kind: session.KindText, Text: out.Answer})
		if out.State == agent.Done && out.Err == nil {
			a.store(ctx, query, out.Answer)
		}
	}
	r.Duration = time.Since(start)
	a.record(ctx, sess, query, r)
	return r
}

func (a *Assistant) lookup(ctx context.Context, query string) (semcache.Hit, bool) {
	if a.cache == nil {
		return semcache.Hit{}, false
	}
	hit, ok, err := a.cache.Search(ctx, query)
	if err != nil {
		a.logger.Warn("cache search failed", "error", err)
		return semcache.Hit{}, false
	}
	if ok {
		a.logger.Info("cache hit", "id", hit.ID, "similarity", hit.Similarity)
	}
	return hit, ok
}

func (a *Assistant) store(ctx context.Context, query, answer string) {
	if a.cache == nil {
		return
	}
	if _, err := a.cache.Add(ctx, query, answer); err != nil {
		a.logger.Warn("cache add failed", "error", err)
	}
}

func (a *Assistant) record(ctx context.Context, sess *session.Session, query string, r Reply) {
	if a.log == nil {
		return
	}
	err := a.log.SaveInteraction(ctx, storage.Interaction{
		ID:         r.ID,
		SessionID:  sess.ID,
		CreatedAt:  time.Now().UTC(),
		Question:   query,
		Answer:     r.Answer,
		Scope:      sess.Scope(),
		State:      r.State,
		Steps:      r.Steps,
		Cached:     r.Cached,
		HasChart:   r.Chart != nil,
		DurationMs: r.Duration.Milliseconds(),
	})
	if err != nil {
		a.logger.Warn("saving interaction failed", "error", err)
	}
}

// History converts the session conversation into planner messages.
func History(sess *session.Session) []engine.Message {
	turns := sess.Conversation()
	msgs := make([]engine.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, engine.Message{Role: string(t.Role), Content: t.Text})
	}
	return msgs
}
