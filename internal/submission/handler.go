package submission

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"scanhub/internal/auth"
	"scanhub/internal/catalog"
	"scanhub/internal/dupcheck"
	"scanhub/internal/modhub"
	"scanhub/internal/pipeline"
	"scanhub/internal/ratelimit"
	"scanhub/internal/staging"
	"scanhub/pkg/models"
)

const maxPagesPerChapter = 200

type Handler struct {
	Repo     *Repo
	Auth     *auth.Repo
	Catalog  *catalog.Repo
	Limiter  *ratelimit.Limiter
	Detector *dupcheck.Detector
	Uploader *staging.Uploader
	Hub      *modhub.Hub
	Log      *slog.Logger
}

func NewHandler(repo *Repo, authRepo *auth.Repo, catalogRepo *catalog.Repo, limiter *ratelimit.Limiter, detector *dupcheck.Detector, uploader *staging.Uploader, hub *modhub.Hub) *Handler {
	return &Handler{
		Repo:     repo,
		Auth:     authRepo,
		Catalog:  catalogRepo,
		Limiter:  limiter,
		Detector: detector,
		Uploader: uploader,
		Hub:      hub,
		Log:      slog.Default(),
	}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/series", h.submitSeries)
	rg.POST("/chapter", h.submitChapter)
	rg.GET("/:id", h.getOwn)
}

func (h *Handler) submitSeries(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	groupID := strings.TrimSpace(c.PostForm("group_id"))
	meta := models.SubmissionMeta{
		Title:       strings.TrimSpace(c.PostForm("title")),
		Description: strings.TrimSpace(c.PostForm("description")),
		Notes:       strings.TrimSpace(c.PostForm("notes")),
	}
	if g := strings.TrimSpace(c.PostForm("genres")); g != "" {
		for _, part := range strings.Split(g, ",") {
			if part = strings.TrimSpace(part); part != "" {
				meta.Genres = append(meta.Genres, part)
			}
		}
	}

	if groupID == "" {
		respondPipelineError(c, &pipeline.ValidationError{Field: "group_id", Reason: "required"})
		return
	}
	if len(meta.Title) < 1 || len(meta.Title) > 200 {
		respondPipelineError(c, &pipeline.ValidationError{Field: "title", Reason: "must be 1-200 chars"})
		return
	}
	if models.Slugify(meta.Title) == "" {
		respondPipelineError(c, &pipeline.ValidationError{Field: "title", Reason: "has no usable characters"})
		return
	}
	if len(meta.Description) > 4000 {
		respondPipelineError(c, &pipeline.ValidationError{Field: "description", Reason: "too long"})
		return
	}

	// cover is optional for series
	var assets []staging.Asset
	cover, err := formFile(c, "cover", h.Uploader.MaxBytes)
	if err != nil {
		respondPipelineError(c, err)
		return
	}
	if cover != nil {
		cover.Role = models.RoleCover
		assets = append(assets, *cover)
	}

	h.intake(c, claims, models.KindSeries, groupID, models.SeriesContentKey(meta.Title), models.Slugify(meta.Title), meta, assets)
}

func (h *Handler) submitChapter(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	groupID := strings.TrimSpace(c.PostForm("group_id"))
	meta := models.SubmissionMeta{
		SeriesID:      strings.TrimSpace(c.PostForm("series_id")),
		ChapterNumber: strings.TrimSpace(c.PostForm("chapter_number")),
		ChapterTitle:  strings.TrimSpace(c.PostForm("chapter_title")),
		Notes:         strings.TrimSpace(c.PostForm("notes")),
	}

	if groupID == "" {
		respondPipelineError(c, &pipeline.ValidationError{Field: "group_id", Reason: "required"})
		return
	}
	if meta.SeriesID == "" {
		respondPipelineError(c, &pipeline.ValidationError{Field: "series_id", Reason: "required"})
		return
	}
	if meta.ChapterNumber == "" || len(meta.ChapterNumber) > 20 {
		respondPipelineError(c, &pipeline.ValidationError{Field: "chapter_number", Reason: "must be 1-20 chars"})
		return
	}

	exists, err := h.Catalog.SeriesExists(c.Request.Context(), meta.SeriesID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "series lookup failed"})
		return
	}
	if !exists {
		respondPipelineError(c, &pipeline.ValidationError{Field: "series_id", Reason: "unknown series"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		respondPipelineError(c, &pipeline.ValidationError{Field: "pages", Reason: "invalid multipart form"})
		return
	}

	pages := form.File["pages"]
	if len(pages) == 0 {
		respondPipelineError(c, &pipeline.ValidationError{Field: "pages", Reason: "at least one page required"})
		return
	}
	if len(pages) > maxPagesPerChapter {
		respondPipelineError(c, &pipeline.ValidationError{Field: "pages", Reason: "too many pages"})
		return
	}

	// Page order is reading order: form part order is preserved end-to-end.
	var assets []staging.Asset
	for _, fh := range pages {
		a, err := readFileHeader(fh, h.Uploader.MaxBytes)
		if err != nil {
			respondPipelineError(c, err)
			return
		}
		a.Role = models.RolePage
		assets = append(assets, *a)
	}

	// up to two optional non-page assets
	for _, field := range []string{"cover", "extra"} {
		a, err := formFile(c, field, h.Uploader.MaxBytes)
		if err != nil {
			respondPipelineError(c, err)
			return
		}
		if a != nil {
			if field == "cover" {
				a.Role = models.RoleCover
			} else {
				a.Role = models.RoleExtra
			}
			assets = append(assets, *a)
		}
	}

	key := models.ChapterContentKey(meta.SeriesID, meta.ChapterNumber, groupID)
	ident := meta.SeriesID + "-ch-" + models.Slugify(meta.ChapterNumber)
	h.intake(c, claims, models.KindChapter, groupID, key, ident, meta, assets)
}

// intake is the shared admission pipeline: authz -> rate check -> duplicate
// pre-filter -> staging -> pending record -> quota charge -> broadcast.
func (h *Handler) intake(c *gin.Context, claims *auth.Claims, kind, groupID, contentKey, ident string, meta models.SubmissionMeta, assets []staging.Asset) {
	ctx := c.Request.Context()

	group, err := h.Auth.GetGroup(ctx, groupID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "group lookup failed"})
		return
	}
	if group == nil {
		respondPipelineError(c, &pipeline.ValidationError{Field: "group_id", Reason: "unknown group"})
		return
	}

	member, err := h.Auth.IsGroupMember(ctx, groupID, claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this group"})
		return
	}

	origin := c.ClientIP()
	quota, err := h.Limiter.Check(ctx, kind, claims.UserID, origin)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rate check failed"})
		return
	}
	if !quota.Allowed {
		respondPipelineError(c, quota.Err(time.Now()))
		return
	}

	// Fast duplicate pre-filter; the pending unique index below is the
	// authoritative guard under concurrency.
	dup, err := h.Detector.IsDuplicate(ctx, kind, meta, groupID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "duplicate check failed"})
		return
	}
	if dup {
		respondPipelineError(c, &pipeline.DuplicateError{ContentKey: contentKey, Kind: kind})
		return
	}

	manifest, err := h.Uploader.Stage(ctx, kind, group.Slug, ident, assets)
	if err != nil {
		respondPipelineError(c, err)
		return
	}

	sub := models.Submission{
		ID:          uuid.NewString(),
		Kind:        kind,
		ContentKey:  contentKey,
		GroupID:     groupID,
		SubmitterID: claims.UserID,
		Manifest:    manifest,
		Metadata:    meta,
		Status:      models.StatusPending,
	}

	if err := h.Repo.Create(ctx, sub); err != nil {
		var dupErr *pipeline.DuplicateError
		if errors.As(err, &dupErr) {
			// lost a concurrent duplicate race after staging: roll back
			h.Uploader.Discard(ctx, manifest)
			respondPipelineError(c, dupErr)
			return
		}
		h.Uploader.Discard(ctx, manifest)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create submission failed"})
		return
	}

	// Quota is charged only after the submission is fully admitted, so
	// attempts failing validation or duplication don't burn it.
	if err := h.Limiter.Charge(ctx, kind, claims.UserID, origin); err != nil {
		h.Log.Warn("quota charge failed", "submission", sub.ID, "err", err)
	}

	if h.Hub != nil {
		go h.Hub.BroadcastJSON(modhub.SubmissionEvent{
			Type:         modhub.EventSubmissionCreated,
			SubmissionID: sub.ID,
			Kind:         kind,
			ContentKey:   contentKey,
			GroupID:      groupID,
			Status:       models.StatusPending,
			At:           time.Now().UTC(),
		})
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":          sub.ID,
		"kind":        kind,
		"content_key": contentKey,
		"status":      models.StatusPending,
		"pages":       len(sub.Pages()),
		"manifest":    manifest,
	})
}

func (h *Handler) getOwn(c *gin.Context) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sub, err := h.Repo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get failed"})
		return
	}
	if sub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if sub.SubmitterID != claims.UserID && !claims.Moderator {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your submission"})
		return
	}
	c.JSON(http.StatusOK, sub)
}

// formFile reads a single optional file field. Returns nil when absent.
func formFile(c *gin.Context, field string, maxBytes int64) (*staging.Asset, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, &pipeline.ValidationError{Field: field, Reason: "unreadable file"}
	}
	return readFileHeader(fh, maxBytes)
}

func readFileHeader(fh *multipart.FileHeader, maxBytes int64) (*staging.Asset, error) {
	if fh.Size > maxBytes {
		return nil, &pipeline.ValidationError{Field: fh.Filename, Reason: "file too large"}
	}

	f, err := fh.Open()
	if err != nil {
		return nil, &pipeline.ValidationError{Field: fh.Filename, Reason: "unreadable file"}
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, &pipeline.ValidationError{Field: fh.Filename, Reason: "unreadable file"}
	}
	if int64(len(data)) > maxBytes {
		return nil, &pipeline.ValidationError{Field: fh.Filename, Reason: "file too large"}
	}

	return &staging.Asset{Name: fh.Filename, Data: data}, nil
}

// respondPipelineError maps the pipeline error taxonomy to HTTP responses.
// Every structured detail a client needs to react (remaining quota,
// conflicting key, retryability) rides in the body.
func respondPipelineError(c *gin.Context, err error) {
	var (
		valErr  *pipeline.ValidationError
		rateErr *pipeline.RateLimitedError
		dupErr  *pipeline.DuplicateError
		stgErr  *pipeline.StagingError
	)

	switch {
	case errors.As(err, &valErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation failed",
			"field":  valErr.Field,
			"detail": valErr.Reason,
		})
	case errors.As(err, &rateErr):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":               "rate limited",
			"dimension":           rateErr.Dimension,
			"user_remaining":      rateErr.UserRemaining,
			"origin_remaining":    rateErr.OriginRemaining,
			"retry_after_seconds": int(rateErr.RetryAfter.Seconds()),
		})
	case errors.As(err, &dupErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":       "duplicate submission",
			"content_key": dupErr.ContentKey,
			"kind":        dupErr.Kind,
		})
	case errors.As(err, &stgErr):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     "staging failed, nothing was kept",
			"retryable": true,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
