package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	LLM     LLMConfig
	Embed   EmbedConfig
	Ollama  OllamaConfig
	Storage StorageConfig
	Log     LogConfig
	Agent   AgentConfig
	Cache   CacheConfig
	Search  SearchConfig
	Session SessionConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

// LLMConfig selects the planner model. Provider is one of ollama, openai,
// anthropic or gemini.
type LLMConfig struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

// EmbedConfig selects the model used for semantic cache embeddings.
type EmbedConfig struct {
	Provider string
	Model    string
	APIKey   string
}

type OllamaConfig struct {
	BaseURL string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type AgentConfig struct {
	MaxSteps    int
	ExecTimeout time.Duration
}

type CacheConfig struct {
	Enabled   bool
	Threshold float64
}

type SearchConfig struct {
	MaxResults int
	Timeout    time.Duration
}

type SessionConfig struct {
	TTL time.Duration
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		LLM: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1",
			Timeout:  120 * time.Second,
		},
		Embed: EmbedConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Agent: AgentConfig{
			MaxSteps:    7,
			ExecTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Threshold: 0.9,
		},
		Search: SearchConfig{
			MaxResults: 3,
			Timeout:    15 * time.Second,
		},
		Session: SessionConfig{
			TTL: 2 * time.Hour,
		},
	}
}

// Load reads configuration in increasing precedence: defaults, the JSON file
// at $XDG_CONFIG_HOME/datalens/config.json, a .env file in the working
// directory, DATALENS_* environment variables, and finally the secrets file
// for API keys still unset.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "[WARN] could not read .env: %v\n", err)
	}
	return loadWith(newFileBackend(configFilePath()), fileSecrets{path: secretsFilePath()})
}

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(account string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applyProviderKeys(&cfg)

	if cfg.LLM.APIKey == "" {
		if key, err := secrets.Get(cfg.LLM.Provider + "_api_key"); err == nil && key != "" {
			cfg.LLM.APIKey = key
		}
	}
	if cfg.Embed.APIKey == "" {
		if cfg.Embed.Provider == cfg.LLM.Provider {
			cfg.Embed.APIKey = cfg.LLM.APIKey
		} else if key, err := secrets.Get(cfg.Embed.Provider + "_api_key"); err == nil && key != "" {
			cfg.Embed.APIKey = key
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// providerEnv lists the conventional API key variables per hosted provider.
var providerEnv = map[string][]string{
	"openai":    {"OPENAI_API_KEY", "OPENROUTER_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
	"gemini":    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

func applyProviderKeys(cfg *Config) {
	lookup := func(provider string) string {
		for _, env := range providerEnv[provider] {
			if v := os.Getenv(env); v != "" {
				return v
			}
		}
		return ""
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = lookup(cfg.LLM.Provider)
	}
	if cfg.Embed.APIKey == "" {
		cfg.Embed.APIKey = lookup(cfg.Embed.Provider)
	}
}

func (cfg Config) validate() error {
	switch cfg.LLM.Provider {
	case "ollama", "openai", "anthropic", "gemini":
	default:
		return fmt.Errorf("invalid llm.provider %q: want ollama, openai, anthropic or gemini", cfg.LLM.Provider)
	}
	switch cfg.Embed.Provider {
	case "ollama", "openai", "gemini":
	default:
		return fmt.Errorf("invalid embed.provider %q: want ollama, openai or gemini", cfg.Embed.Provider)
	}
	if cfg.LLM.Provider != "ollama" && cfg.LLM.APIKey == "" && cfg.LLM.BaseURL == "" {
		envs := strings.Join(providerEnv[cfg.LLM.Provider], " or ")
		return fmt.Errorf("missing required config: API key for provider %s. Set DATALENS_LLM_API_KEY or %s", cfg.LLM.Provider, envs)
	}
	if cfg.Agent.MaxSteps < 1 {
		return fmt.Errorf("invalid agent.max_steps %d: must be at least 1", cfg.Agent.MaxSteps)
	}
	if cfg.Cache.Threshold <= 0 || cfg.Cache.Threshold > 1 {
		return fmt.Errorf("invalid cache.threshold %v: must be in (0, 1]", cfg.Cache.Threshold)
	}
	return nil
}
