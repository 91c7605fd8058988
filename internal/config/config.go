// Package config provides configuration loading and structs for the dalil assistant.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Source    SourceConfig    `yaml:"source"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Chat      ChatConfig      `yaml:"chat"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host                  string          `yaml:"host"`
	Port                  int             `yaml:"port"`
	RequestTimeoutSeconds int             `yaml:"request_timeout_seconds"`
	RateLimit             RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig is a token bucket applied to chat turns. A negative rate disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// StorageConfig holds the two durable stores: the vector index directory and the turn log.
type StorageConfig struct {
	IndexDir   string `yaml:"index_dir"`
	Collection string `yaml:"collection"`
	MemoryPath string `yaml:"memory_path"`
}

// SourceConfig describes the knowledge document the assistant answers from.
type SourceConfig struct {
	Path          string `yaml:"path"`
	DocID         string `yaml:"doc_id"`
	Watch         bool   `yaml:"watch"`
	IngestOnStart *bool  `yaml:"ingest_on_start"`
}

// IngestOnStartOrDefault returns whether to ingest the source at startup; defaults to true when unset.
func (s *SourceConfig) IngestOnStartOrDefault() bool {
	if s.IngestOnStart != nil {
		return *s.IngestOnStart
	}
	return true
}

// OpenAIConfig holds credentials and transport settings shared by embeddings and completions.
type OpenAIConfig struct {
	APIKey         string `yaml:"api_key"`
	APIKeyEnv      string `yaml:"api_key_env"`
	BaseURL        string `yaml:"base_url"`
	MaxRetries     int    `yaml:"max_retries"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ResolveAPIKey returns the configured key, falling back to the environment variable named by APIKeyEnv.
func (o *OpenAIConfig) ResolveAPIKey() string {
	if o.APIKey != "" {
		return o.APIKey
	}
	if o.APIKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(o.APIKeyEnv))
	}
	return ""
}

// Embedding providers.
const (
	ProviderOpenAI  = "openai"
	ProviderONNX    = "onnx"
	ProviderHashing = "hashing"
)

// EmbeddingConfig selects and tunes the embedding function.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
	CacheSize  int    `yaml:"cache_size"`
	ModelPath  string `yaml:"model_path"`
	MaxTokens  int    `yaml:"max_tokens"`
}

// ChunkingConfig holds chunker settings. Unit is "chars" or "words".
// Overlap and SentenceLookback are pointers so an explicit 0 can be told apart from unset.
type ChunkingConfig struct {
	Unit             string `yaml:"unit"`
	Size             int    `yaml:"size"`
	Overlap          *int   `yaml:"overlap"`
	SentenceLookback *int   `yaml:"sentence_lookback"`
}

// OverlapOrDefault returns the configured overlap, or a fifth of Size when unset.
func (c *ChunkingConfig) OverlapOrDefault() int {
	if c.Overlap != nil {
		return *c.Overlap
	}
	return c.Size / 5
}

// SentenceLookbackOrDefault returns the configured lookback, or a tenth of Size when unset.
// 0 disables sentence boundary refinement.
func (c *ChunkingConfig) SentenceLookbackOrDefault() int {
	if c.SentenceLookback != nil {
		return *c.SentenceLookback
	}
	return c.Size / 10
}

// ChatConfig holds dialogue settings.
type ChatConfig struct {
	Model        string `yaml:"model"`
	TopK         int    `yaml:"top_k"`
	HistoryLimit int    `yaml:"history_limit"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.ExpandPaths(configDir)

	return &cfg, nil
}

// ExpandPaths resolves every filesystem path in cfg against configDir.
func (c *Config) ExpandPaths(configDir string) {
	c.Storage.IndexDir = expandPath(c.Storage.IndexDir, configDir)
	c.Storage.MemoryPath = expandPath(c.Storage.MemoryPath, configDir)
	c.Source.Path = expandPath(c.Source.Path, configDir)
	if c.Embedding.ModelPath != "" {
		c.Embedding.ModelPath = expandPath(c.Embedding.ModelPath, configDir)
	}
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
