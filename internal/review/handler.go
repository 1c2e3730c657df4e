package review

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"scanhub/internal/auth"
	"scanhub/internal/modhub"
	"scanhub/internal/pipeline"
	"scanhub/internal/submission"
	"scanhub/pkg/models"
)

// Handler serves the moderation queue. All routes sit behind
// auth.RequireModerator.
type Handler struct {
	Repo     *submission.Repo
	Promoter *Promoter
	Cleaner  *Cleaner
	Hub      *modhub.Hub
	Log      *slog.Logger
}

func NewHandler(repo *submission.Repo, promoter *Promoter, cleaner *Cleaner, hub *modhub.Hub) *Handler {
	return &Handler{
		Repo:     repo,
		Promoter: promoter,
		Cleaner:  cleaner,
		Hub:      hub,
		Log:      slog.Default(),
	}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/submissions", h.list)               // GET /mod/submissions?status=pending
	rg.GET("/submissions/:id", h.getByID)        // GET /mod/submissions/:id
	rg.POST("/submissions/:id/approve", h.approve)
	rg.POST("/submissions/:id/reject", h.reject)
}

func (h *Handler) list(c *gin.Context) {
	status := strings.ToLower(strings.TrimSpace(c.DefaultQuery("status", models.StatusPending)))
	switch status {
	case models.StatusPending, models.StatusApproved, models.StatusRejected:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, total, err := h.Repo.ListByStatus(c.Request.Context(), status, limit, offset)
	if err != nil {
		h.Log.Error("list submissions failed", "status", status, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"total":  total,
		"items":  items,
	})
}

func (h *Handler) getByID(c *gin.Context) {
	sub, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sub)
}

type decisionRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) approve(c *gin.Context) {
	claims := auth.MustGetClaims(c)

	sub, ok := h.load(c)
	if !ok {
		return
	}

	// retrying an approve on an approved submission is a no-op success
	switch sub.Status {
	case models.StatusApproved:
		c.JSON(http.StatusOK, gin.H{
			"status":            sub.Status,
			"canonical_id":      sub.CanonicalID,
			"already_processed": true,
		})
		return
	case models.StatusRejected:
		c.JSON(http.StatusConflict, gin.H{
			"error":  "already processed",
			"status": sub.Status,
		})
		return
	}

	res, err := h.Promoter.Promote(c.Request.Context(), sub, claims.UserID)
	if err != nil {
		var promErr *pipeline.PromotionError
		if errors.As(err, &promErr) {
			// nothing committed, assets already moved stay idempotent
			h.Log.Error("promotion failed, submission stays pending",
				"submission", sub.ID, "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":     "promotion failed, retry approval",
				"retryable": true,
			})
			return
		}

		var dupErr *pipeline.AlreadyProcessedError
		if errors.As(err, &dupErr) {
			// lost the commit race: report whatever decision won
			h.concurrentDecision(c)
			return
		}

		h.Log.Error("approve failed", "submission", sub.ID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "approve failed"})
		return
	}

	h.Log.Info("submission approved",
		"submission", sub.ID, "kind", sub.Kind, "canonical", res.CanonicalID,
		"reviewer", claims.UserID, "warnings", len(res.Warnings))

	h.Hub.BroadcastJSON(modhub.SubmissionEvent{
		Type:         modhub.EventSubmissionApproved,
		SubmissionID: sub.ID,
		Kind:         sub.Kind,
		ContentKey:   sub.ContentKey,
		GroupID:      sub.GroupID,
		Status:       models.StatusApproved,
		CanonicalID:  res.CanonicalID,
		At:           time.Now().UTC(),
	})

	c.JSON(http.StatusOK, gin.H{
		"status":       models.StatusApproved,
		"canonical_id": res.CanonicalID,
		"urls":         res.URLs,
		"warnings":     res.Warnings,
	})
}

func (h *Handler) reject(c *gin.Context) {
	claims := auth.MustGetClaims(c)

	var req decisionRequest
	_ = c.ShouldBindJSON(&req)

	sub, ok := h.load(c)
	if !ok {
		return
	}

	switch sub.Status {
	case models.StatusRejected:
		c.JSON(http.StatusOK, gin.H{
			"status":            sub.Status,
			"already_processed": true,
		})
		return
	case models.StatusApproved:
		c.JSON(http.StatusConflict, gin.H{
			"error":  "already processed",
			"status": sub.Status,
		})
		return
	}

	// decision first; asset cleanup only after the rejected status is durable
	flipped, err := h.Repo.MarkRejected(c.Request.Context(), sub.ID, claims.UserID, req.Notes)
	if err != nil {
		h.Log.Error("reject failed", "submission", sub.ID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reject failed"})
		return
	}
	if !flipped {
		h.concurrentDecision(c)
		return
	}

	failed := h.Cleaner.Run(c.Request.Context(), sub, "rejected")

	h.Log.Info("submission rejected",
		"submission", sub.ID, "kind", sub.Kind,
		"reviewer", claims.UserID, "cleanup_failures", len(failed))

	h.Hub.BroadcastJSON(modhub.SubmissionEvent{
		Type:         modhub.EventSubmissionRejected,
		SubmissionID: sub.ID,
		Kind:         sub.Kind,
		ContentKey:   sub.ContentKey,
		GroupID:      sub.GroupID,
		Status:       models.StatusRejected,
		At:           time.Now().UTC(),
	})

	c.JSON(http.StatusOK, gin.H{
		"status": models.StatusRejected,
	})
}

// load fetches the submission for :id, writing the error response itself when
// it cannot.
func (h *Handler) load(c *gin.Context) (*models.Submission, bool) {
	id := c.Param("id")
	sub, err := h.Repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.Log.Error("get submission failed", "id", id, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get failed"})
		return nil, false
	}
	if sub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return nil, false
	}
	return sub, true
}

// concurrentDecision re-reads the submission after losing a status CAS and
// reports the decision that won.
func (h *Handler) concurrentDecision(c *gin.Context) {
	sub, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusConflict, gin.H{
		"error":        "already processed",
		"status":       sub.Status,
		"canonical_id": sub.CanonicalID,
	})
}
