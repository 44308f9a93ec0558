package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/ZanzyTHEbar/pr-o-meter/internal/cache"
	"github.com/ZanzyTHEbar/pr-o-meter/internal/database"
	apperrors "github.com/ZanzyTHEbar/pr-o-meter/internal/errors"
)

// ReadResult is a leaderboard read. Fallback is true when no precomputed
// rows existed and the result was aggregated from facts on the fly.
type ReadResult struct {
	Owner    string                `json:"owner"`
	Repo     string                `json:"repo"`
	Days     int                   `json:"days"`
	Rank     string                `json:"rank"`
	Authors  []database.AuthorStat `json:"authors"`
	Fallback bool                  `json:"fallback"`
}

// Reader serves aggregated statistics without ever calling the origin API.
type Reader struct {
	db    *database.DB
	cache *cache.Cache
}

// NewReader creates a read-path service with a short response cache.
func NewReader(db *database.DB) *Reader {
	return &Reader{
		db:    db,
		cache: cache.NewCache(time.Minute),
	}
}

// Read returns precomputed stats ordered by the ranking key. When none exist
// it aggregates directly from facts using read-time window boundaries and
// persists the result for reuse.
func (r *Reader) Read(ctx context.Context, owner, repo string, days int, rankKey string) (*ReadResult, error) {
	if !ValidWindow(days) {
		return nil, apperrors.NewValidationError("days must be one of 30, 60, 90")
	}
	if !database.ValidRankKey(rankKey) {
		return nil, apperrors.NewValidationError("rank must be one of overall, feat, fix, chore, revert, other")
	}

	key := cache.Key("stats", owner, repo, days, rankKey)
	if cached, ok := r.cache.Get(key); ok {
		return cached.(*ReadResult), nil
	}

	rows, err := r.db.GetAuthorStats(owner, repo, days, rankKey, TopN)
	if err != nil {
		return nil, err
	}

	result := &ReadResult{Owner: owner, Repo: repo, Days: days, Rank: rankKey, Authors: rows}

	if len(rows) == 0 {
		fallback, err := r.aggregateFallback(owner, repo, days, rankKey)
		if err != nil {
			return nil, err
		}
		result.Authors = fallback
		result.Fallback = true
	}

	r.cache.Set(key, result)

	return result, nil
}

// aggregateFallback computes stats straight from facts and opportunistically
// persists them so the next read is served from the stats table.
func (r *Reader) aggregateFallback(owner, repo string, days int, rankKey string) ([]database.AuthorStat, error) {
	until := time.Now().UTC()
	since := until.AddDate(0, 0, -days)

	groups, err := r.db.AggregateAuthorStats(owner, repo, since, until, TopN)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, nil
	}

	for i := range groups {
		row := database.NewAuthorStat(owner, repo, days, groups[i].Author)
		row.AuthorURL = groups[i].AuthorURL
		row.TotalScore = groups[i].TotalScore
		row.PRCount = groups[i].PRCount
		row.FeatCount = groups[i].FeatCount
		row.FixCount = groups[i].FixCount
		row.ChoreCount = groups[i].ChoreCount
		row.RevertCount = groups[i].RevertCount
		row.OtherCount = groups[i].OtherCount
		row.Since = since
		row.Until = until
		row.ComputedAt = until

		if err := r.db.UpsertAuthorStat(row); err != nil {
			// Persisting is opportunistic; the read still succeeds.
			slog.Warn("Failed to persist fallback aggregation", "owner", owner, "repo", repo, "error", err)
		}
	}

	// Re-read so the requested ranking key applies.
	return r.db.GetAuthorStats(owner, repo, days, rankKey, TopN)
}

// InvalidateCache drops cached read responses, used after a recompute.
func (r *Reader) InvalidateCache() {
	r.cache.InvalidateAll()
}
