package blob

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const (
	ModeMemory = "memory"
	ModeS3     = "s3"
	ModeAuto   = "auto"
)

// NewStore builds a store for mode memory|s3|auto and reports the mode in
// effect. Auto falls back to memory when S3 is not configured or fails to
// initialize; forced s3 returns the error instead.
func NewStore(ctx context.Context, mode string, cfg S3Config, logger *slog.Logger) (Store, string, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = ModeAuto
	}

	switch mode {
	case ModeMemory:
		logger.Info("blob store selected", "mode", ModeMemory, "reason", "forced")
		return NewMemoryStore(), ModeMemory, nil

	case ModeAuto:
		if !cfg.IsConfigured() {
			logger.Info("blob store selected", "mode", ModeMemory, "reason", "s3 not configured",
				"missing", cfg.MissingRequired())
			return NewMemoryStore(), ModeMemory, nil
		}
		store, err := NewS3Store(ctx, cfg)
		if err != nil {
			logger.Warn("s3 init failed, fallback to memory", "error", err)
			return NewMemoryStore(), ModeMemory, nil
		}
		logger.Info("blob store selected", "mode", ModeS3, "bucket", cfg.Bucket, "endpoint", cfg.Endpoint)
		return store, ModeS3, nil

	case ModeS3:
		if !cfg.IsConfigured() {
			return nil, "", fmt.Errorf("BLOB_MODE=s3 requested but missing required config: %s",
				strings.Join(cfg.MissingRequired(), ", "))
		}
		store, err := NewS3Store(ctx, cfg)
		if err != nil {
			return nil, "", fmt.Errorf("BLOB_MODE=s3 init failed: %w", err)
		}
		logger.Info("blob store selected", "mode", ModeS3, "bucket", cfg.Bucket, "endpoint", cfg.Endpoint)
		return store, ModeS3, nil

	default:
		return nil, "", fmt.Errorf("unsupported blob mode: %s", mode)
	}
}
