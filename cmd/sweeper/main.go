// Command sweeper reconciles the staging namespace against pending
// submissions. Staged objects that no pending submission references — crashed
// uploads, failed rollbacks, rejection stragglers — are deleted once they are
// older than the retention window. Run it from cron; it is safe to run while
// the API server is live because anything younger than the retention window
// is left alone.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"scanhub/internal/storage"
	"scanhub/internal/submission"
	"scanhub/pkg/database"
	"scanhub/pkg/logging"
	"scanhub/pkg/utils"
)

func main() {
	var (
		retention = flag.Duration("retention", 48*time.Hour, "minimum age before an unreferenced staged object is deleted")
		dryRun    = flag.Bool("dry-run", false, "report what would be deleted without deleting")
	)
	flag.Parse()

	_ = godotenv.Load()
	logging.InitLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db := database.MustOpen(database.DefaultConfig())
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		slog.Error("db migrate failed", "err", err)
		os.Exit(1)
	}

	store, err := buildStore(ctx)
	if err != nil {
		slog.Error("storage init failed", "err", err)
		os.Exit(1)
	}

	subRepo := submission.NewRepo(db)
	keep, err := subRepo.PendingManifestPaths(ctx)
	if err != nil {
		slog.Error("load pending manifests failed", "err", err)
		os.Exit(1)
	}

	objects, err := store.List(ctx, "staging/")
	if err != nil {
		slog.Error("list staging namespace failed", "err", err)
		os.Exit(1)
	}

	cutoff := time.Now().Add(-*retention)
	var scanned, kept, young, deleted, failed int

	for _, obj := range objects {
		scanned++

		if keep[obj.Path] {
			kept++
			continue
		}
		if obj.ModTime.After(cutoff) {
			// could be an upload in flight whose record is about to land
			young++
			continue
		}

		if *dryRun {
			slog.Info("would delete", "path", obj.Path, "age", time.Since(obj.ModTime).Round(time.Minute))
			deleted++
			continue
		}

		if err := store.Delete(ctx, obj.Path); err != nil {
			slog.Warn("delete failed", "path", obj.Path, "err", err)
			failed++
			continue
		}
		deleted++
	}

	slog.Info("sweep complete",
		"scanned", scanned,
		"referenced", kept,
		"too_young", young,
		"deleted", deleted,
		"failed", failed,
		"dry_run", *dryRun,
	)
	if failed > 0 {
		os.Exit(1)
	}
}

func buildStore(ctx context.Context) (storage.Store, error) {
	cfg := utils.LoadStorageConfig()
	if cfg.Backend == "s3" {
		return storage.NewS3Store(ctx, cfg)
	}
	return storage.NewLocalStore(cfg.LocalDir, cfg.BaseURL)
}
