// Package staging validates submitted assets and writes them into the
// staging namespace of object storage. Staged content never exists without a
// corresponding submission record: any failure rolls the whole attempt back.
package staging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"scanhub/internal/pipeline"
	"scanhub/internal/storage"
	"scanhub/pkg/models"
)

const (
	DefaultMaxBytes = 20 << 20 // per asset, before normalization
	DefaultMaxWidth = 1600
	DefaultQuality  = 80
)

// Asset is one raw submitted file.
type Asset struct {
	Name string
	Role string // models.RolePage, RoleCover or RoleExtra
	Data []byte
}

type Uploader struct {
	Store    storage.Store
	MaxBytes int64
	MaxWidth int
	Quality  int
	Log      *slog.Logger
}

func NewUploader(store storage.Store) *Uploader {
	return &Uploader{
		Store:    store,
		MaxBytes: DefaultMaxBytes,
		MaxWidth: DefaultMaxWidth,
		Quality:  DefaultQuality,
		Log:      slog.Default(),
	}
}

// StagedPath builds the deterministic staging path for one entry. The path is
// fully derived from (kind, groupSlug, ident) plus the entry itself, so a
// partial attempt can be inspected or reclaimed by path pattern alone.
func StagedPath(kind, groupSlug, ident string, role string, index int) string {
	base := fmt.Sprintf("staging/%s/%s/%s", kind, groupSlug, ident)
	switch role {
	case models.RoleCover:
		return base + "/cover.jpg"
	case models.RoleExtra:
		return fmt.Sprintf("%s/extra-%d.jpg", base, index)
	default:
		return fmt.Sprintf("%s/%03d.jpg", base, index)
	}
}

// StagingPrefix is the path prefix shared by every staged object of a
// submission attempt, used for cleanup and the reconciliation sweep.
func StagingPrefix(kind, groupSlug, ident string) string {
	return fmt.Sprintf("staging/%s/%s/%s", kind, groupSlug, ident)
}

// Stage validates, normalizes and uploads the assets in order, returning the
// manifest in the same order (page order is meaningful end-to-end).
//
// Uploads are sequential so a failure aborts the remaining pages early; on
// any failure everything already staged for this attempt is deleted before
// the error is returned.
func (u *Uploader) Stage(ctx context.Context, kind, groupSlug, ident string, assets []Asset) ([]models.ManifestEntry, error) {
	// Cheap checks on every asset before the first network write.
	for _, a := range assets {
		if int64(len(a.Data)) > u.MaxBytes {
			return nil, &pipeline.ValidationError{
				Field:  a.Name,
				Reason: fmt.Sprintf("file exceeds %d byte limit", u.MaxBytes),
			}
		}
		if len(a.Data) == 0 {
			return nil, &pipeline.ValidationError{Field: a.Name, Reason: "empty file"}
		}
		if ct := http.DetectContentType(a.Data); !allowedTypes[ct] {
			return nil, &pipeline.ValidationError{
				Field:  a.Name,
				Reason: fmt.Sprintf("unsupported content type %s", ct),
			}
		}
	}

	manifest := make([]models.ManifestEntry, 0, len(assets))
	pageIndex := 0
	extraIndex := 0

	for _, a := range assets {
		index := 0
		switch a.Role {
		case models.RolePage:
			pageIndex++
			index = pageIndex
		case models.RoleExtra:
			extraIndex++
			index = extraIndex
		}

		data, err := normalize(a.Data, u.MaxWidth, u.Quality)
		if err != nil {
			u.Discard(ctx, manifest)
			return nil, &pipeline.ValidationError{Field: a.Name, Reason: "not a decodable image"}
		}

		path := StagedPath(kind, groupSlug, ident, a.Role, index)
		if _, err := u.Store.Put(ctx, path, data, "image/jpeg"); err != nil {
			u.Discard(ctx, manifest)
			return nil, &pipeline.StagingError{Err: fmt.Errorf("upload %s: %w", a.Name, err)}
		}

		manifest = append(manifest, models.ManifestEntry{Path: path, Role: a.Role, Index: index})
	}

	return manifest, nil
}

// Discard deletes whatever this attempt already staged. Intake also uses it
// when the pending-record insert loses a duplicate race after staging.
// Failures here only leave staging-namespace stragglers for the sweeper.
func (u *Uploader) Discard(ctx context.Context, staged []models.ManifestEntry) {
	for _, e := range staged {
		if err := u.Store.Delete(ctx, e.Path); err != nil {
			u.Log.Warn("staging rollback delete failed", "path", e.Path, "err", err)
		}
	}
}
