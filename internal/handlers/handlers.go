// Package handlers exposes the sync, recompute, and read operations over
// HTTP. The handlers validate input, call the services, and map failures to
// the response envelope; all domain logic lives in the service packages.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/pr-o-meter/internal/database"
	apperrors "github.com/ZanzyTHEbar/pr-o-meter/internal/errors"
	"github.com/ZanzyTHEbar/pr-o-meter/internal/ingest"
	"github.com/ZanzyTHEbar/pr-o-meter/internal/stats"
)

// Handler wires the service layer to the gin router.
type Handler struct {
	db          *database.DB
	ingestSvc   *ingest.Service
	statsSvc    *stats.Service
	reader      *stats.Reader
	defaultDays int
}

// New creates the API handler set. defaultDays is the lookback window applied
// when a request carries no days parameter.
func New(db *database.DB, ingestSvc *ingest.Service, statsSvc *stats.Service, reader *stats.Reader, defaultDays int) *Handler {
	if defaultDays <= 0 {
		defaultDays = ingest.DefaultDays
	}
	return &Handler{
		db:          db,
		ingestSvc:   ingestSvc,
		statsSvc:    statsSvc,
		reader:      reader,
		defaultDays: defaultDays,
	}
}

// Register mounts all API routes.
func (h *Handler) Register(r *gin.Engine) {
	api := r.Group("/api/v1")
	api.POST("/repos/:owner/:repo/sync", h.Sync)
	api.POST("/repos/:owner/:repo/stats/recompute", h.Recompute)
	api.GET("/repos/:owner/:repo/stats", h.ReadStats)
	api.GET("/raw", h.ListRaw)

	r.GET("/healthz", h.Health)
}

// Sync triggers a full discovery run for one repository.
func (h *Handler) Sync(c *gin.Context) {
	owner := c.Param("owner")
	repo := c.Param("repo")

	days := intQuery(c, "days", h.defaultDays)
	maxDetails := intQuery(c, "max_details", 0)
	maxPages := intQuery(c, "max_pages", 0)

	summary, err := h.ingestSvc.Sync(c.Request.Context(), owner, repo, days, maxDetails, maxPages)
	if err != nil {
		var rl *ingest.RateLimitError
		if errors.As(err, &rl) {
			// Partial progress is preserved; the caller reschedules after reset.
			c.JSON(http.StatusTooManyRequests, gin.H{
				"success":        false,
				"message":        "origin rate limit exhausted, retry after reset",
				"partial":        true,
				"summary":        rl.Summary,
				"rate_remaining": rl.Summary.RateRemaining,
				"rate_reset":     rl.Summary.RateReset,
			})
			return
		}
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"summary": summary,
	})
}

// Recompute rebuilds author statistics for one repository window.
func (h *Handler) Recompute(c *gin.Context) {
	owner := c.Param("owner")
	repo := c.Param("repo")
	days := intQuery(c, "days", h.defaultDays)

	result, err := h.statsSvc.Recompute(c.Request.Context(), owner, repo, days)
	if err != nil {
		c.Error(err)
		return
	}

	// Stored leaderboards changed; cached reads are stale.
	h.reader.InvalidateCache()

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result":  result,
	})
}

// ReadStats serves the leaderboard, falling back to on-the-fly aggregation
// from facts. This path never calls the origin API.
func (h *Handler) ReadStats(c *gin.Context) {
	owner := c.Param("owner")
	repo := c.Param("repo")
	days := intQuery(c, "days", h.defaultDays)
	rank := c.DefaultQuery("rank", "overall")

	result, err := h.reader.Read(c.Request.Context(), owner, repo, days, rank)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result":  result,
	})
}

// ListRaw exposes the recent raw-response log for debugging and audit.
func (h *Handler) ListRaw(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	source := c.Query("source")

	rows, err := h.db.ListRecentRaw(limit, source)
	if err != nil {
		c.Error(apperrors.NewInternalError("failed to list raw responses", err))
		return
	}

	// Payloads can be large; the listing returns metadata only.
	type rawMeta struct {
		ID        int64     `json:"id"`
		Source    string    `json:"source"`
		Endpoint  string    `json:"endpoint"`
		Status    int       `json:"status"`
		Checksum  string    `json:"checksum"`
		FetchedAt time.Time `json:"fetched_at"`
	}
	out := make([]rawMeta, 0, len(rows))
	for _, r := range rows {
		out = append(out, rawMeta{
			ID: r.ID, Source: r.Source, Endpoint: r.Endpoint,
			Status: r.Status, Checksum: r.Checksum, FetchedAt: r.FetchedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"responses": out,
	})
}

// Health reports service liveness.
func (h *Handler) Health(c *gin.Context) {
	if err := h.db.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func intQuery(c *gin.Context, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
