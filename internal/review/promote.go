package review

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"scanhub/internal/pipeline"
	"scanhub/internal/storage"
	"scanhub/internal/submission"
	"scanhub/pkg/models"
)

// Promoter moves staged assets to canonical paths and writes the canonical
// record. Moves are copy-verify-delete and idempotent by destination path, so
// a failed approval can be retried and only re-attempts the missing assets.
type Promoter struct {
	Store storage.Store
	Subs  *submission.Repo
	Log   *slog.Logger
}

func NewPromoter(store storage.Store, subs *submission.Repo) *Promoter {
	return &Promoter{Store: store, Subs: subs, Log: slog.Default()}
}

// PromotionResult reports a committed approval.
type PromotionResult struct {
	CanonicalID string   `json:"canonical_id"`
	URLs        []string `json:"urls"`
	Warnings    []string `json:"warnings,omitempty"`
}

// canonicalPath computes the final, stable, public path for one staged entry.
func canonicalPath(sub *models.Submission, e models.ManifestEntry) string {
	var base string
	switch sub.Kind {
	case models.KindSeries:
		base = "series/" + models.Slugify(sub.Metadata.Title)
	default:
		base = fmt.Sprintf("series/%s/ch-%s/%s",
			sub.Metadata.SeriesID, models.Slugify(sub.Metadata.ChapterNumber), sub.GroupID)
	}

	switch e.Role {
	case models.RoleCover:
		return base + "/cover.jpg"
	case models.RoleExtra:
		return fmt.Sprintf("%s/extra-%d.jpg", base, e.Index)
	default:
		return fmt.Sprintf("%s/%03d.jpg", base, e.Index)
	}
}

// Promote runs the approve path for a pending submission: move every staged
// asset, then commit the canonical record and the status transition together.
// The submission stays pending unless everything required confirms.
//
// Returns AlreadyProcessedError when a concurrent approval won the commit.
func (p *Promoter) Promote(ctx context.Context, sub *models.Submission, reviewerID string) (*PromotionResult, error) {
	res := &PromotionResult{}
	urls := make(map[string]string) // staged path -> public URL

	for _, e := range sub.Manifest {
		dst := canonicalPath(sub, e)
		if err := p.moveObject(ctx, e.Path, dst); err != nil {
			if e.Role == models.RolePage {
				// a missing page blocks publication; already-moved assets
				// stay put for the retry
				return nil, &pipeline.PromotionError{Err: fmt.Errorf("page %d: %w", e.Index, err)}
			}
			// non-critical asset: publish without it, flag for follow-up
			warning := fmt.Sprintf("%s asset not promoted: %v", e.Role, err)
			p.Log.Warn("non-critical asset move failed",
				"submission", sub.ID, "role", e.Role, "path", e.Path, "err", err)
			res.Warnings = append(res.Warnings, warning)
			continue
		}
		urls[e.Path] = p.Store.URL(dst)
	}

	committed, err := p.commit(ctx, sub, reviewerID, urls, res)
	if err != nil {
		return nil, err
	}
	if !committed {
		return nil, &pipeline.AlreadyProcessedError{Status: models.StatusApproved}
	}
	return res, nil
}

func (p *Promoter) commit(ctx context.Context, sub *models.Submission, reviewerID string, urls map[string]string, res *PromotionResult) (bool, error) {
	switch sub.Kind {
	case models.KindSeries:
		s := models.Series{
			ID:          models.Slugify(sub.Metadata.Title),
			Title:       sub.Metadata.Title,
			Genres:      sub.Metadata.Genres,
			Status:      "ongoing",
			Description: sub.Metadata.Description,
			GroupID:     sub.GroupID,
		}
		for _, e := range sub.Manifest {
			if e.Role == models.RoleCover {
				s.CoverURL = urls[e.Path]
			}
		}
		res.CanonicalID = s.ID
		if s.CoverURL != "" {
			res.URLs = []string{s.CoverURL}
		}
		return p.Subs.CommitSeriesApproval(ctx, sub.ID, reviewerID, s)

	case models.KindChapter:
		ch := models.Chapter{
			ID:       uuid.NewString(),
			SeriesID: sub.Metadata.SeriesID,
			GroupID:  sub.GroupID,
			Number:   sub.Metadata.ChapterNumber,
			Title:    sub.Metadata.ChapterTitle,
		}
		for _, e := range sub.Pages() {
			ch.Pages = append(ch.Pages, urls[e.Path])
		}
		res.CanonicalID = ch.ID
		res.URLs = ch.Pages
		return p.Subs.CommitChapterApproval(ctx, sub.ID, reviewerID, ch)

	default:
		return false, fmt.Errorf("unknown submission kind %q", sub.Kind)
	}
}

// moveObject is copy, verify, then delete source. Re-running it against an
// already-promoted destination only cleans up the leftover source.
func (p *Promoter) moveObject(ctx context.Context, src, dst string) error {
	exists, err := p.Store.Exists(ctx, dst)
	if err != nil {
		return fmt.Errorf("check destination: %w", err)
	}
	if !exists {
		if err := p.Store.Copy(ctx, src, dst); err != nil {
			return fmt.Errorf("copy: %w", err)
		}
		ok, err := p.Store.Exists(ctx, dst)
		if err != nil {
			return fmt.Errorf("verify copy: %w", err)
		}
		if !ok {
			return fmt.Errorf("copy not visible at %s", dst)
		}
	}

	// source delete is best effort: the asset is safely at its destination,
	// a leftover staged copy is the sweeper's problem
	if err := p.Store.Delete(ctx, src); err != nil {
		p.Log.Warn("staged source delete failed after promotion", "path", src, "err", err)
	}
	return nil
}
