package review

import (
	"context"
	"log/slog"

	"scanhub/internal/storage"
	"scanhub/pkg/models"
)

// Cleaner removes a rejected submission's staged assets. Deletion failures
// are warnings, never fatal: a moderator's decision is already committed and
// stragglers are bounded in cost and reclaimed by the sweeper.
type Cleaner struct {
	Store storage.Store
	Log   *slog.Logger
}

func NewCleaner(store storage.Store) *Cleaner {
	return &Cleaner{Store: store, Log: slog.Default()}
}

// Run deletes every staged path in the manifest, returning the paths that
// could not be deleted.
func (cl *Cleaner) Run(ctx context.Context, sub *models.Submission, reason string) []string {
	var failed []string
	for _, e := range sub.Manifest {
		if err := cl.Store.Delete(ctx, e.Path); err != nil {
			cl.Log.Warn("staged asset delete failed during rejection",
				"submission", sub.ID, "path", e.Path, "reason", reason, "err", err)
			failed = append(failed, e.Path)
		}
	}
	return failed
}
