package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/pr-o-meter/internal/database"
	"github.com/ZanzyTHEbar/pr-o-meter/internal/stats"
)

func newTestRouter(t *testing.T, defaultDays int) (*gin.Engine, *database.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := New(db, nil, nil, stats.NewReader(db), defaultDays)
	r := gin.New()
	h.Register(r)

	return r, db
}

func TestReadStatsUsesConfiguredDefaultWindow(t *testing.T) {
	r, db := newTestRouter(t, 30)

	err := db.UpsertFact(&database.PullRequestFact{
		Owner:     "o",
		Repo:      "r",
		PRURL:     "https://github.com/o/r/pull/1",
		MergedAt:  time.Now().UTC().Add(-24 * time.Hour),
		Title:     "feat: recent",
		Author:    "alice",
		AuthorURL: "https://github.com/alice",
		Kind:      "feat",
		Score:     3,
		RawID:     1,
		FetchedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/repos/o/r/stats", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool             `json:"success"`
		Result  stats.ReadResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 30, resp.Result.Days, "configured lookback governs when no days param is given")
	require.Len(t, resp.Result.Authors, 1)
	assert.Equal(t, "alice", resp.Result.Authors[0].Author)
}

func TestReadStatsDaysParamOverridesDefault(t *testing.T) {
	r, _ := newTestRouter(t, 30)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/repos/o/r/stats?days=90", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Result stats.ReadResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 90, resp.Result.Days)
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t, 0)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
