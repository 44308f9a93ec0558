// Package stats aggregates derived facts into per-author leaderboard rows
// and serves them back, with on-the-fly fallback aggregation when no
// precomputed rows exist.
package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/ZanzyTHEbar/pr-o-meter/internal/database"
	apperrors "github.com/ZanzyTHEbar/pr-o-meter/internal/errors"
	"github.com/ZanzyTHEbar/pr-o-meter/internal/facts"
)

// TopN caps the leaderboard. Policy constant, not configurable per call.
const TopN = 5

// allowedWindows are the day-windows the stats surface accepts.
var allowedWindows = map[int]bool{30: true, 60: true, 90: true}

// ValidWindow reports whether days is a supported stats window.
func ValidWindow(days int) bool {
	return allowedWindows[days]
}

// ScoreSummary describes the score distribution across the leaderboard.
type ScoreSummary struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
}

// RecomputeResult is the outcome of one explicit recomputation.
type RecomputeResult struct {
	Window       *facts.Window          `json:"window"`
	TopAuthors   []database.AuthorStat  `json:"top_authors"`
	ScoreSummary *ScoreSummary          `json:"score_summary,omitempty"`
	ComputedAt   time.Time              `json:"computed_at"`
	RowsWritten  int                    `json:"rows_written"`
}

// Service aggregates facts into author stats.
type Service struct {
	deriver *facts.Deriver
	db      *database.DB
}

// NewService creates an aggregation service.
func NewService(deriver *facts.Deriver, db *database.DB) *Service {
	return &Service{deriver: deriver, db: db}
}

// Recompute re-derives facts and rebuilds the per-author aggregates for the
// window, replacing the stored leaderboard so authors that dropped out of
// the top ranks do not linger.
func (s *Service) Recompute(ctx context.Context, owner, repo string, days int) (*RecomputeResult, error) {
	if !ValidWindow(days) {
		return nil, apperrors.NewValidationError("days must be one of 30, 60, 90")
	}

	window, err := s.deriver.Derive(ctx, owner, repo, days)
	if err != nil {
		return nil, err
	}

	groups, err := s.db.AggregateAuthorStats(owner, repo, window.Since, window.Until, TopN)
	if err != nil {
		return nil, err
	}

	if err := s.db.DeleteAuthorStats(owner, repo, days); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	written := 0
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
		row.Since = window.Since
		row.Until = window.Until
		row.ComputedAt = now

		if err := s.db.UpsertAuthorStat(row); err != nil {
			return nil, err
		}
		groups[i] = *row
		written++
	}

	slog.Info("Author stats recomputed",
		"owner", owner, "repo", repo, "days", days, "rows_written", written,
	)

	return &RecomputeResult{
		Window:       window,
		TopAuthors:   groups,
		ScoreSummary: summarizeScores(groups),
		ComputedAt:   now,
		RowsWritten:  written,
	}, nil
}

// summarizeScores computes the leaderboard score distribution. Nil when the
// leaderboard is empty.
func summarizeScores(rows []database.AuthorStat) *ScoreSummary {
	if len(rows) == 0 {
		return nil
	}

	scores := make([]float64, len(rows))
	for i, r := range rows {
		scores[i] = r.TotalScore
	}

	mean, err := stats.Mean(scores)
	if err != nil {
		return nil
	}
	median, err := stats.Median(scores)
	if err != nil {
		return nil
	}

	return &ScoreSummary{Mean: mean, Median: median}
}
