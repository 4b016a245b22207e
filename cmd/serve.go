package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fotique/selfie-match/internal/config"
	"github.com/fotique/selfie-match/internal/database"
	"github.com/fotique/selfie-match/internal/database/postgres"
	"github.com/fotique/selfie-match/internal/database/redis"
	"github.com/fotique/selfie-match/internal/faces"
	"github.com/fotique/selfie-match/internal/indexer"
	"github.com/fotique/selfie-match/internal/logging"
	"github.com/fotique/selfie-match/internal/match"
	"github.com/fotique/selfie-match/internal/ratelimit"
	"github.com/fotique/selfie-match/internal/session"
	"github.com/fotique/selfie-match/internal/storage"
	"github.com/fotique/selfie-match/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the selfie-match API server",
	Long: `Start the selfie-match HTTP API. Requires PostgreSQL
(DATABASE_URL), the two GCS buckets, the face-recognition service URL
and a guest session secret; REDIS_ADDR optionally moves rate-limit
accounting to Redis.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("index-workers", 2, "Background face-indexing workers")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

func validateServeConfig(cfg *config.Config) error {
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	if cfg.Storage.SelfieBucket == "" || cfg.Storage.PhotoBucket == "" {
		return errors.New("SELFIE_GCS_BUCKET and PHOTO_GCS_BUCKET environment variables are required")
	}
	if cfg.FaceAPI.URL == "" {
		return errors.New("FACE_API_URL environment variable is required")
	}
	if cfg.Session.Secret == "" {
		return errors.New("GUEST_SESSION_SECRET environment variable is required")
	}
	return nil
}

// buildAttemptStore picks the rate-limit backing: Redis when configured,
// the PostgreSQL attempts table otherwise.
func buildAttemptStore(cfg *config.Config, pool *postgres.Pool, log *zap.Logger) (database.AttemptStore, error) {
	if cfg.Redis.Addr == "" {
		log.Info("rate-limit attempts stored in PostgreSQL")
		return postgres.NewAttemptRepository(pool), nil
	}
	store, err := redis.NewAttemptStore(&cfg.Redis, cfg.RateLimit.Window)
	if err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}
	log.Info("rate-limit attempts stored in Redis", zap.String("addr", cfg.Redis.Addr))
	return store, nil
}

// startAttemptJanitor schedules hourly pruning of expired rate-limit
// attempts. Expired rows are already invisible to the limiter; this only
// keeps the table from growing forever.
func startAttemptJanitor(attempts database.AttemptStore, window time.Duration, log *zap.Logger) *gocron.Scheduler {
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.Every(1).Hour().Do(func() {
		cutoff := time.Now().Add(-window)
		deleted, err := attempts.DeleteBefore(context.Background(), cutoff)
		if err != nil {
			log.Error("pruning rate-limit attempts failed", zap.Error(err))
			return
		}
		if deleted > 0 {
			log.Info("pruned rate-limit attempts", zap.Int64("deleted", deleted))
		}
	})
	scheduler.StartAsync()
	return scheduler
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if err := validateServeConfig(cfg); err != nil {
		return err
	}

	log := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		FilePath:   cfg.Log.FilePath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	defer pool.Close()

	if err := pool.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	selfieCache := postgres.NewSelfieCacheRepository(pool)
	galleries := postgres.NewGalleryRepository(pool)

	attempts, err := buildAttemptStore(cfg, pool, log)
	if err != nil {
		return err
	}

	objectStore, err := storage.NewGCSStore(ctx, &cfg.Storage)
	if err != nil {
		return fmt.Errorf("creating GCS store: %w", err)
	}

	provider, err := faces.NewClient(&cfg.FaceAPI)
	if err != nil {
		return fmt.Errorf("creating face API client: %w", err)
	}

	sessions, err := session.NewIssuer(cfg.Session.Secret, cfg.Session.TTL)
	if err != nil {
		return fmt.Errorf("creating session issuer: %w", err)
	}

	limiter := ratelimit.New(attempts, cfg.RateLimit.MaxAttempts, cfg.RateLimit.Window, log)
	orchestrator := match.New(galleries, selfieCache, limiter, objectStore, provider, log, match.Options{
		SimilarityThreshold: cfg.Matching.SimilarityThreshold,
		MaxImageDimension:   cfg.Matching.MaxImageDimension,
		JPEGQuality:         cfg.Matching.JPEGQuality,
		SignedURLTTL:        cfg.Matching.SignedURLTTL,
	})

	ix := indexer.New(provider, objectStore, log, indexer.Options{
		Workers: mustGetInt(cmd, "index-workers"),
	})
	ix.Start(ctx)
	defer ix.Stop()

	janitor := startAttemptJanitor(attempts, cfg.RateLimit.Window, log)
	defer janitor.Stop()

	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(web.Dependencies{
		Orchestrator: orchestrator,
		SelfieCache:  selfieCache,
		ObjectStore:  objectStore,
		Indexer:      ix,
		Sessions:     sessions,
		Log:          log,
	}, host, port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("error during shutdown", zap.Error(err))
		}
	}()

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
