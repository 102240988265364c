package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/layerdaw/internal/config"
	"github.com/satindergrewal/layerdaw/internal/logger"
	"github.com/satindergrewal/layerdaw/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:   "layerdaw",
	Short: "layerdaw is a layered music workstation built on stem-by-stem generation.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		return logger.InitLogger(logger.Config{
			Level:      logger.LogLevel(cfg.LogLevel),
			OutputPath: cfg.LogPath,
			MaxSize:    cfg.LogMaxSize,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAge,
			Compress:   cfg.LogCompress,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openBlobs connects the configured blob backend. The returned close func is
// never nil.
func openBlobs(ctx context.Context, cfg config.Config) (storage.BlobStore, func(), error) {
	switch cfg.BlobBackend {
	case "", "memory":
		return storage.NewMemoryStore(), func() {}, nil
	case "redis":
		r, err := storage.NewRedisStore(ctx, storage.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.RedisTTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	case "minio":
		m, err := storage.NewMinioStore(ctx, storage.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, nil, err
		}
		return m, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}
