package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/kalambet/datalens/internal/agent"
	"github.com/kalambet/datalens/internal/assistant"
	"github.com/kalambet/datalens/internal/config"
	"github.com/kalambet/datalens/internal/engine"
	"github.com/kalambet/datalens/internal/onboard"
	"github.com/kalambet/datalens/internal/sandbox"
	"github.com/kalambet/datalens/internal/semcache"
	"github.com/kalambet/datalens/internal/session"
	"github.com/kalambet/datalens/internal/storage"
	"github.com/kalambet/datalens/internal/table"
	"github.com/kalambet/datalens/internal/websearch"
)

// app holds the components shared by serve, ask and chat.
type app struct {
	cfg       config.Config
	chat      engine.Engine
	store     *storage.Store
	cache     *semcache.Cache // nil when disabled
	tools     *agent.Registry
	assistant *assistant.Assistant
	suggester *onboard.Suggester
	closers   []io.Closer
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// newApp opens the inference engines and storage and assembles the agent.
// Model readiness output goes to progress.
func newApp(ctx context.Context, cfg config.Config, progress io.Writer) (*app, error) {
	a := &app{cfg: cfg}

	chat, err := engine.Open(ctx, engine.ProviderConfig{
		Provider:      cfg.LLM.Provider,
		APIKey:        cfg.LLM.APIKey,
		BaseURL:       cfg.LLM.BaseURL,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		Timeout:       cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s engine: %w", cfg.LLM.Provider, err)
	}
	a.chat = chat
	a.track(chat)

	models := []string{cfg.LLM.Model}
	sameEngine := strings.EqualFold(cfg.Embed.Provider, cfg.LLM.Provider)
	if cfg.Cache.Enabled && sameEngine {
		models = append(models, cfg.Embed.Model)
	}
	if err := engine.EnsureReady(ctx, chat, models, progress); err != nil {
		a.Close()
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.store = store
	a.track(store)

	if cfg.Cache.Enabled {
		a.cache, err = a.openCache(ctx, sameEngine, progress)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	var search agent.Searcher
	if cfg.Search.MaxResults > 0 {
		search = websearch.New(cfg.Search.Timeout)
	}
	a.tools = agent.NewRegistry(agent.Deps{
		Executor:      sandbox.NewJSExecutor(cfg.Agent.ExecTimeout),
		Search:        search,
		SearchResults: cfg.Search.MaxResults,
	})

	loop := agent.NewLoop(agent.NewPlanner(chat, cfg.LLM.Model), a.tools, agent.WithMaxSteps(cfg.Agent.MaxSteps))
	opts := []assistant.Option{assistant.WithInteractionLog(store)}
	if a.cache != nil {
		opts = append(opts, assistant.WithCache(a.cache))
	}
	a.assistant = assistant.New(loop, opts...)
	a.suggester = onboard.NewSuggester(chat, cfg.LLM.Model, 0)
	return a, nil
}

// openCache builds the semantic cache. A provider without embeddings
// disables the cache with a warning rather than failing startup.
func (a *app) openCache(ctx context.Context, sameEngine bool, progress io.Writer) (*semcache.Cache, error) {
	cfg := a.cfg
	if !engine.CanEmbed(cfg.Embed.Provider) {
		slog.Warn("embedding provider has no embeddings endpoint, semantic cache disabled", "provider", cfg.Embed.Provider)
		return nil, nil
	}

	var emb engine.Engine = a.chat
	if !sameEngine {
		var err error
		emb, err = engine.Open(ctx, engine.ProviderConfig{
			Provider:      cfg.Embed.Provider,
			APIKey:        cfg.Embed.APIKey,
			OllamaBaseURL: cfg.Ollama.BaseURL,
			Timeout:       cfg.LLM.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("opening %s embedding engine: %w", cfg.Embed.Provider, err)
		}
		a.track(emb)
		if err := engine.EnsureReady(ctx, emb, []string{cfg.Embed.Model}, progress); err != nil {
			return nil, err
		}
	}

	return semcache.New(a.store.DB(), semcache.NewEmbedder(emb, cfg.Embed.Model),
		semcache.WithThreshold(cfg.Cache.Threshold)), nil
}

func (a *app) track(v any) {
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
}

// Close releases everything newApp opened, newest first.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// loadSession reads a data file into a fresh session. With suggest set the
// starter questions are generated before it returns.
func (a *app) loadSession(ctx context.Context, path string, suggest bool) (*session.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	tables, err := table.Load(ctx, path, data)
	if err != nil {
		return nil, err
	}
	sess := session.New(tables)
	if suggest {
		sess.SetQuestions(a.suggester.Suggest(ctx, tables))
	}
	return sess, nil
}
