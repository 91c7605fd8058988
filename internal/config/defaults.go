package config

import (
	"errors"
	"fmt"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.RequestTimeoutSeconds == 0 {
		cfg.Server.RequestTimeoutSeconds = 60
	}
	if cfg.Server.RateLimit.RequestsPerSecond == 0 {
		cfg.Server.RateLimit.RequestsPerSecond = 10
	}
	if cfg.Server.RateLimit.Burst == 0 {
		cfg.Server.RateLimit.Burst = 20
	}
	if cfg.Storage.IndexDir == "" {
		cfg.Storage.IndexDir = "./data/index"
	}
	if cfg.Storage.Collection == "" {
		cfg.Storage.Collection = "store_docs"
	}
	if cfg.Storage.MemoryPath == "" {
		cfg.Storage.MemoryPath = "./data/db/chatbot.db"
	}
	if cfg.Source.Path == "" {
		cfg.Source.Path = "./data/store_manual.txt"
	}
	if cfg.Source.DocID == "" {
		cfg.Source.DocID = "store_manual"
	}
	if cfg.OpenAI.APIKeyEnv == "" {
		cfg.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.OpenAI.MaxRetries == 0 {
		cfg.OpenAI.MaxRetries = 2
	}
	if cfg.OpenAI.TimeoutSeconds == 0 {
		cfg.OpenAI.TimeoutSeconds = 60
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderOpenAI
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		switch cfg.Embedding.Provider {
		case ProviderONNX:
			cfg.Embedding.Dimensions = 384
		case ProviderHashing:
			cfg.Embedding.Dimensions = 512
		default:
			cfg.Embedding.Dimensions = 1536
		}
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 100
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Chunking.Unit == "" {
		cfg.Chunking.Unit = "chars"
	}
	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 1000
	}
	if cfg.Chat.Model == "" {
		cfg.Chat.Model = "gpt-4o-mini"
	}
	if cfg.Chat.TopK == 0 {
		cfg.Chat.TopK = 3
	}
	if cfg.Chat.HistoryLimit == 0 {
		cfg.Chat.HistoryLimit = 10
	}
}

// NeedsAPIKey reports whether an OpenAI key is required. Completions always call OpenAI;
// embeddings only do with the openai provider.
func (c *Config) NeedsAPIKey(chat bool) bool {
	return chat || c.Embedding.Provider == ProviderOpenAI
}

// Validate reports configuration errors that must stop the process before it serves requests.
// chat is true for commands that call the completion engine.
func (c *Config) Validate(chat bool) error {
	var errs []error
	switch c.Embedding.Provider {
	case ProviderOpenAI, ProviderONNX, ProviderHashing:
	default:
		errs = append(errs, fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("embedding dimensions must be positive"))
	}
	if c.Embedding.Provider == ProviderONNX && c.Embedding.ModelPath == "" {
		errs = append(errs, fmt.Errorf("embedding.model_path is required for the onnx provider"))
	}
	switch c.Chunking.Unit {
	case "chars", "words":
	default:
		errs = append(errs, fmt.Errorf("unknown chunking unit %q (use chars or words)", c.Chunking.Unit))
	}
	if c.Chunking.Size <= 0 {
		errs = append(errs, fmt.Errorf("chunking size must be positive"))
	} else if overlap := c.Chunking.OverlapOrDefault(); overlap < 0 || overlap >= c.Chunking.Size {
		errs = append(errs, fmt.Errorf("chunking overlap (%d) must be in [0, size %d)", overlap, c.Chunking.Size))
	}
	if c.Chunking.SentenceLookbackOrDefault() < 0 {
		errs = append(errs, fmt.Errorf("chunking sentence_lookback must not be negative"))
	}
	if c.Storage.Collection == "" {
		errs = append(errs, fmt.Errorf("storage.collection is required"))
	}
	if c.NeedsAPIKey(chat) && c.OpenAI.ResolveAPIKey() == "" {
		errs = append(errs, fmt.Errorf("missing OpenAI API key: set openai.api_key or %s", c.OpenAI.APIKeyEnv))
	}
	return errors.Join(errs...)
}
