package review

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanhub/internal/auth"
	"scanhub/internal/modhub"
	"scanhub/pkg/models"
)

func newTestRouter(t *testing.T, h *Handler) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(auth.CtxClaimsKey, &auth.Claims{UserID: "mod-1", Username: "moderator", Moderator: true})
	})
	h.RegisterRoutes(router.Group("/mod"))
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestApprove_ThenRetryIsIdempotent(t *testing.T) {
	p, cl, repo, store, _ := newTestEnv(t)
	sub := seedSeriesSubmission(t, repo, store)
	router := newTestRouter(t, NewHandler(repo, p, cl, modhub.NewHub()))

	rec := doJSON(t, router, http.MethodPost, "/mod/submissions/"+sub.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode(t, rec)
	assert.Equal(t, models.StatusApproved, first["status"])
	assert.Equal(t, "solo-leveling", first["canonical_id"])

	rec = doJSON(t, router, http.MethodPost, "/mod/submissions/"+sub.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode(t, rec)
	assert.Equal(t, true, second["already_processed"])
	assert.Equal(t, "solo-leveling", second["canonical_id"])
}

func TestReject_CleansStagingAndRepeatsAsNoOp(t *testing.T) {
	p, cl, repo, store, db := newTestEnv(t)
	sub := seedChapterSubmission(t, repo, store, db)
	router := newTestRouter(t, NewHandler(repo, p, cl, modhub.NewHub()))

	rec := doJSON(t, router, http.MethodPost, "/mod/submissions/"+sub.ID+"/reject",
		map[string]string{"notes": "wrong series"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err := repo.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, got.Status)
	assert.Equal(t, "wrong series", got.ReviewNotes)

	objs, err := store.List(context.Background(), "staging/")
	require.NoError(t, err)
	assert.Empty(t, objs, "staged assets removed after the decision")

	rec = doJSON(t, router, http.MethodPost, "/mod/submissions/"+sub.ID+"/reject", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["already_processed"])
}

func TestApprove_AfterRejectConflicts(t *testing.T) {
	p, cl, repo, store, _ := newTestEnv(t)
	sub := seedSeriesSubmission(t, repo, store)
	router := newTestRouter(t, NewHandler(repo, p, cl, modhub.NewHub()))

	rec := doJSON(t, router, http.MethodPost, "/mod/submissions/"+sub.ID+"/reject", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/mod/submissions/"+sub.ID+"/approve", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, models.StatusRejected, decode(t, rec)["status"])
}

func TestApprove_MissingSubmission(t *testing.T) {
	p, cl, repo, _, _ := newTestEnv(t)
	router := newTestRouter(t, NewHandler(repo, p, cl, modhub.NewHub()))

	rec := doJSON(t, router, http.MethodPost, "/mod/submissions/ghost/approve", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestList_FiltersByStatus(t *testing.T) {
	p, cl, repo, store, _ := newTestEnv(t)
	sub := seedSeriesSubmission(t, repo, store)
	router := newTestRouter(t, NewHandler(repo, p, cl, modhub.NewHub()))

	rec := doJSON(t, router, http.MethodGet, "/mod/submissions?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["total"])

	ok, err := repo.MarkRejected(context.Background(), sub.ID, "mod-1", "no")
	require.NoError(t, err)
	require.True(t, ok)

	rec = doJSON(t, router, http.MethodGet, "/mod/submissions?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decode(t, rec)["total"])

	rec = doJSON(t, router, http.MethodGet, "/mod/submissions?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
