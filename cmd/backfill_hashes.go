package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/fotique/selfie-match/internal/config"
	"github.com/fotique/selfie-match/internal/database/postgres"
	"github.com/fotique/selfie-match/internal/fingerprint"
	"github.com/fotique/selfie-match/internal/storage"
)

var backfillHashesCmd = &cobra.Command{
	Use:   "backfill-hashes",
	Short: "Recompute perceptual fingerprints for stored selfies",
	Long: `Download every cached selfie that still has a stored object and
recompute its perceptual fingerprint. Useful after a fingerprint
algorithm or normalization change; records whose hash is already
current are left untouched.`,
	RunE: runBackfillHashes,
}

func init() {
	rootCmd.AddCommand(backfillHashesCmd)

	backfillHashesCmd.Flags().String("gallery", "", "Limit the backfill to one gallery")
	backfillHashesCmd.Flags().Bool("dry-run", false, "Report changes without writing them")
	backfillHashesCmd.Flags().Bool("force", false, "Rewrite hashes even when within the similarity tolerance")
}

func runBackfillHashes(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	if cfg.Storage.SelfieBucket == "" {
		return errors.New("SELFIE_GCS_BUCKET environment variable is required")
	}

	galleryID := mustGetString(cmd, "gallery")
	dryRun := mustGetBool(cmd, "dry-run")
	force := mustGetBool(cmd, "force")

	ctx := context.Background()

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	defer pool.Close()

	objectStore, err := storage.NewGCSStore(ctx, &cfg.Storage)
	if err != nil {
		return fmt.Errorf("creating GCS store: %w", err)
	}

	cache := postgres.NewSelfieCacheRepository(pool)
	records, err := cache.ListWithSelfieKeys(ctx, galleryID)
	if err != nil {
		return fmt.Errorf("listing selfie records: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No selfie records with stored objects found")
		return nil
	}

	bar := progressbar.Default(int64(len(records)), "recomputing fingerprints")

	var updated, failed int
	for _, rec := range records {
		bar.Add(1)

		data, err := objectStore.Download(ctx, rec.SelfieKey, storage.BucketCategorySelfie)
		if err != nil {
			fmt.Printf("\nWarning: downloading %s failed: %v\n", rec.SelfieKey, err)
			failed++
			continue
		}

		newHash := fingerprint.Hash(data)
		if newHash == rec.ImageHash {
			continue
		}
		// Drift within the tolerance is re-encoding noise, not a real
		// algorithm change; rewriting it would churn rows for nothing.
		if !force && fingerprint.Similar(newHash, rec.ImageHash, cfg.Matching.HashDistanceThreshold) {
			continue
		}

		if !dryRun {
			if err := cache.UpdateImageHash(ctx, rec.ID, newHash); err != nil {
				fmt.Printf("\nWarning: updating record %d failed: %v\n", rec.ID, err)
				failed++
				continue
			}
		}
		updated++
	}

	if dryRun {
		fmt.Printf("Dry run: %d of %d records would change (%d failures)\n", updated, len(records), failed)
	} else {
		fmt.Printf("Updated %d of %d records (%d failures)\n", updated, len(records), failed)
	}
	return nil
}
