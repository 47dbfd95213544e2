package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "DATALENS_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "DATALENS_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "llm.provider", typ: kString, env: "DATALENS_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.model", typ: kString, env: "DATALENS_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.base_url", typ: kString, env: "DATALENS_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.api_key", typ: kString, env: "DATALENS_LLM_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.timeout", typ: kDuration, env: "DATALENS_LLM_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.LLM.Timeout },
	},
	{
		key: "embed.provider", typ: kString, env: "DATALENS_EMBED_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embed.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embed.Provider },
	},
	{
		key: "embed.model", typ: kString, env: "DATALENS_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embed.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embed.Model },
	},
	{
		key: "embed.api_key", typ: kString, env: "DATALENS_EMBED_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Embed.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Embed.APIKey },
	},
	{
		key: "ollama.base_url", typ: kString, env: "DATALENS_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DATALENS_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "DATALENS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "agent.max_steps", typ: kInt, env: "DATALENS_AGENT_MAX_STEPS",
		apply:   func(cfg *Config, v any) { cfg.Agent.MaxSteps = v.(int) },
		extract: func(cfg Config) any { return cfg.Agent.MaxSteps },
	},
	{
		key: "exec.timeout", typ: kDuration, env: "DATALENS_EXEC_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Agent.ExecTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Agent.ExecTimeout },
	},
	{
		key: "cache.enabled", typ: kBool, env: "DATALENS_CACHE_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Cache.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Cache.Enabled },
	},
	{
		key: "cache.threshold", typ: kFloat, env: "DATALENS_CACHE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Cache.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Cache.Threshold },
	},
	{
		key: "search.max_results", typ: kInt, env: "DATALENS_SEARCH_MAX_RESULTS",
		apply:   func(cfg *Config, v any) { cfg.Search.MaxResults = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.MaxResults },
	},
	{
		key: "search.timeout", typ: kDuration, env: "DATALENS_SEARCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Search.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Search.Timeout },
	},
	{
		key: "session.ttl", typ: kDuration, env: "DATALENS_SESSION_TTL",
		apply:   func(cfg *Config, v any) { cfg.Session.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Session.TTL },
	},
}

// parse converts raw text into the spec's Go type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kString:
		return raw, nil
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	}
	return nil, fmt.Errorf("unknown key type %d", s.typ)
}

func (s keySpec) typeName() string {
	switch s.typ {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	}
	return "string"
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}
		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typeName(), s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typeName(), s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
