package server

import (
	"context"
	"fmt"

	"github.com/hyperjump/dalil/internal/config"
	"github.com/hyperjump/dalil/internal/models"
	"github.com/hyperjump/dalil/internal/storage"
)

// Status summarizes the index, the turn log and the active configuration.
type Status struct {
	Documents      []*models.Document     `json:"documents"`
	Chunks         int                    `json:"chunks"`
	Turns          int64                  `json:"turns"`
	DiskUsageBytes int64                  `json:"disk_usage_bytes"`
	Config         map[string]interface{} `json:"config"`
}

// CollectStatus gathers a Status from the index and turn log.
func CollectStatus(ctx context.Context, idx IndexStats, mem TurnLog, cfg *config.Config) (*Status, error) {
	docs, err := idx.Documents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	turns, err := mem.CountAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count turns: %w", err)
	}
	paths := idx.Paths()
	st := &Status{
		Documents: docs,
		Chunks:    idx.Count(),
		Turns:     turns,
		Config: map[string]interface{}{
			"embedding_provider":   cfg.Embedding.Provider,
			"embedding_model":      cfg.Embedding.Model,
			"embedding_dimensions": idx.Dimensions(),
			"chat_model":           cfg.Chat.Model,
			"top_k":                cfg.Chat.TopK,
			"history_limit":        cfg.Chat.HistoryLimit,
			"chunk_unit":           cfg.Chunking.Unit,
			"chunk_size":           cfg.Chunking.Size,
			"chunk_overlap":        cfg.Chunking.OverlapOrDefault(),
			"sentence_lookback":    cfg.Chunking.SentenceLookbackOrDefault(),
			"collection":           cfg.Storage.Collection,
			"index_dir":            paths.Dir,
			"memory_path":          cfg.Storage.MemoryPath,
			"source_path":          cfg.Source.Path,
		},
	}
	if n, err := storage.DiskUsageBytes(paths.Dir, cfg.Storage.MemoryPath); err == nil {
		st.DiskUsageBytes = n
	}
	return st, nil
}
