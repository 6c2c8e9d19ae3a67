// Package config loads mindstream configuration from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Provider names accepted by llm.provider and embed.provider.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderClaude    = "claude"
	ProviderBedrock   = "bedrock"
	ProviderVoyage    = "voyage"
	ProviderHash      = "hash"
)

// Store backends accepted by store.backend.
const (
	BackendSurreal = "surreal"
	BackendSQLite  = "sqlite"
	BackendChromem = "chromem"
)

// Config holds all configuration values.
type Config struct {
	Agent     AgentConfig     `mapstructure:"agent"`
	Store     StoreConfig     `mapstructure:"store"`
	SurrealDB SurrealDBConfig `mapstructure:"surrealdb"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embed     EmbedConfig     `mapstructure:"embed"`
	OpenAI    APIConfig       `mapstructure:"openai"`
	Anthropic APIConfig       `mapstructure:"anthropic"`
	Voyage    APIConfig       `mapstructure:"voyage"`
	Ollama    OllamaConfig    `mapstructure:"ollama"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

// AgentConfig is the persona of the single agent served by this process.
type AgentConfig struct {
	Name         string   `mapstructure:"name"`
	Age          int      `mapstructure:"age"`
	Traits       string   `mapstructure:"traits"`
	Status       string   `mapstructure:"status"`
	CoreMemories []string `mapstructure:"core_memories"`
}

// StoreConfig selects the embedding store backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	// Path is the sqlite database file or the chromem persistence directory.
	// An empty path keeps chromem purely in memory.
	Path       string `mapstructure:"path"`
	Collection string `mapstructure:"collection"`
}

// SurrealDBConfig holds SurrealDB connection settings.
type SurrealDBConfig struct {
	URL       string `mapstructure:"url"`
	Namespace string `mapstructure:"namespace"`
	Database  string `mapstructure:"database"`
	User      string `mapstructure:"user"`
	Pass      string `mapstructure:"pass"`
	AuthLevel string `mapstructure:"auth_level"`
}

// LLMConfig configures the language model used for dialogue, scoring and reflection.
type LLMConfig struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	MaxAttempts int     `mapstructure:"max_attempts"`
}

// EmbedConfig configures the embedding provider.
type EmbedConfig struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
	CacheSize int64  `mapstructure:"cache_size"`
}

// APIConfig carries credentials for hosted providers.
type APIConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// OllamaConfig points at a local Ollama server.
type OllamaConfig struct {
	Host string `mapstructure:"host"`
}

// MemoryConfig holds the retrieval and reflection tunables.
type MemoryConfig struct {
	HalfLife            time.Duration `mapstructure:"half_life"`
	TopN                int           `mapstructure:"top_n"`
	K                   int           `mapstructure:"k"`
	ImportanceWeight    float64       `mapstructure:"importance_weight"`
	ReflectionThreshold float64       `mapstructure:"reflection_threshold"`
	ReflectionWindow    int           `mapstructure:"reflection_window"`
	EvidenceK           int           `mapstructure:"evidence_k"`
	SummaryRefresh      time.Duration `mapstructure:"summary_refresh"`
}

// ServerConfig configures the chat server.
type ServerConfig struct {
	Port              string        `mapstructure:"port"`
	StreamDelay       time.Duration `mapstructure:"stream_delay"`
	IngestConcurrency int           `mapstructure:"ingest_concurrency"`
	URL               string        `mapstructure:"url"`
}

// LogConfig configures logging.
type LogConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

var defaults = map[string]any{
	"agent.name":   "Agent",
	"agent.age":    30,
	"agent.traits": "curious, reflective",
	"agent.status": "chatting with an interviewer",

	"store.backend":    BackendSurreal,
	"store.path":       "",
	"store.collection": "documents",

	"surrealdb.url":        "ws://localhost:8000/rpc",
	"surrealdb.namespace":  "mindstream",
	"surrealdb.database":   "agent",
	"surrealdb.user":       "root",
	"surrealdb.pass":       "root",
	"surrealdb.auth_level": "root",

	"llm.provider":     ProviderOpenAI,
	"llm.model":        "gpt-4",
	"llm.temperature":  0.9,
	"llm.max_tokens":   1024,
	"llm.max_attempts": 3,

	"embed.provider":   ProviderOpenAI,
	"embed.model":      "text-embedding-3-small",
	"embed.dimension":  1536,
	"embed.cache_size": 10000,

	"openai.api_key":    "",
	"anthropic.api_key": "",
	"voyage.api_key":    "",
	"ollama.host":       "http://localhost:11434",

	"memory.half_life":            "69h",
	"memory.top_n":                100,
	"memory.k":                    15,
	"memory.importance_weight":    1.0,
	"memory.reflection_threshold": 8.0,
	"memory.reflection_window":    50,
	"memory.evidence_k":           10,
	"memory.summary_refresh":      "1h",

	"server.port":               "8484",
	"server.stream_delay":       "5ms",
	"server.ingest_concurrency": 1,
	"server.url":                "http://localhost:8484",

	"log.file":  "/tmp/mindstream.log",
	"log.level": "INFO",
}

// Load reads configuration from configFile (optional) with environment overrides.
// Nested keys map to upper-case env vars with dots replaced by underscores,
// so agent.name is AGENT_NAME and surrealdb.url is SURREALDB_URL.
func Load(configFile string) (Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot produce a working engine.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendSurreal, BackendSQLite, BackendChromem:
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	switch c.LLM.Provider {
	case ProviderOllama, ProviderOpenAI, ProviderAnthropic, ProviderClaude, ProviderBedrock:
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLM.Provider))
	}
	switch c.Embed.Provider {
	case ProviderOllama, ProviderOpenAI, ProviderVoyage, ProviderHash:
	default:
		errs = append(errs, fmt.Errorf("unknown embed provider %q", c.Embed.Provider))
	}
	if c.Store.Backend == BackendSQLite && c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required for the sqlite backend"))
	}
	if c.Embed.Dimension <= 0 {
		errs = append(errs, errors.New("embed.dimension must be positive"))
	}
	if c.Memory.HalfLife <= 0 {
		errs = append(errs, errors.New("memory.half_life must be positive"))
	}
	if c.Memory.ReflectionThreshold <= 0 {
		errs = append(errs, errors.New("memory.reflection_threshold must be positive"))
	}
	if c.Memory.K < 0 || c.Memory.TopN < c.Memory.K {
		errs = append(errs, fmt.Errorf("memory.top_n (%d) must be >= memory.k (%d) >= 0", c.Memory.TopN, c.Memory.K))
	}
	return errors.Join(errs...)
}

// LogLevel returns the configured slog level.
func (c Config) LogLevel() slog.Level {
	return parseLogLevel(c.Log.Level)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
