package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"histsync/internal/config"
)

// NewStoreFromConfig opens a Store based on the store config type.
func NewStoreFromConfig(ctx context.Context, cfg config.StoreConfig, userID string, opts Options) (*Store, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite store")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		name := "cache"
		if userID != "" {
			name = userID
		}
		return Open(ctx, filepath.Join(cfg.DataDir, name+".db"), opts)
	case "memory":
		return Open(ctx, MemoryPath, opts)
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
