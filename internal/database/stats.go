package database

import (
	"fmt"
)

// rankColumns maps a ranking key to its ORDER BY column. Values are fixed
// identifiers, never user input interpolated into SQL.
var rankColumns = map[string]string{
	"overall": "total_score",
	"feat":    "feat_count",
	"fix":     "fix_count",
	"chore":   "chore_count",
	"revert":  "revert_count",
	"other":   "other_count",
}

// ValidRankKey reports whether key names a supported leaderboard ordering.
func ValidRankKey(key string) bool {
	_, ok := rankColumns[key]
	return ok
}

// UpsertAuthorStat writes an aggregate row, fully overwriting all derived
// fields when the (owner, repo, days, author) key already exists.
func (db *DB) UpsertAuthorStat(s *AuthorStat) error {
	stmt, err := db.GetPreparedStatement("upsert_author_stat")
	if err != nil {
		return err
	}

	_, err = stmt.Exec(
		s.ID, s.Owner, s.Repo, s.Days, s.Author, s.AuthorURL,
		s.TotalScore, s.PRCount,
		s.FeatCount, s.FixCount, s.ChoreCount, s.RevertCount, s.OtherCount,
		s.Since.UTC(), s.Until.UTC(), s.ComputedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert author stat: %w", err)
	}

	return nil
}

// DeleteAuthorStats removes all stored aggregates for one repo window, so a
// recomputation replaces the leaderboard instead of layering over authors
// that dropped out of the top ranks.
func (db *DB) DeleteAuthorStats(owner, repo string, days int) error {
	_, err := db.Exec(`DELETE FROM author_stats WHERE owner = ? AND repo = ? AND days = ?`,
		owner, repo, days)
	if err != nil {
		return fmt.Errorf("failed to delete author stats: %w", err)
	}
	return nil
}

// GetAuthorStats returns up to limit precomputed stats for a repo window
// ordered by the given ranking key, ties broken by PR count.
func (db *DB) GetAuthorStats(owner, repo string, days int, rankKey string, limit int) ([]AuthorStat, error) {
	col, ok := rankColumns[rankKey]
	if !ok {
		return nil, fmt.Errorf("invalid rank key: %s", rankKey)
	}
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`SELECT id, owner, repo, days, author, author_url,
			total_score, pr_count, feat_count, fix_count, chore_count, revert_count, other_count,
			since, until, computed_at
		FROM author_stats
		WHERE owner = ? AND repo = ? AND days = ?
		ORDER BY %s DESC, pr_count DESC
		LIMIT ?`, col)

	rows, err := db.Query(query, owner, repo, days, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query author stats: %w", err)
	}
	defer rows.Close()

	var out []AuthorStat
	for rows.Next() {
		var s AuthorStat
		if err := rows.Scan(
			&s.ID, &s.Owner, &s.Repo, &s.Days, &s.Author, &s.AuthorURL,
			&s.TotalScore, &s.PRCount,
			&s.FeatCount, &s.FixCount, &s.ChoreCount, &s.RevertCount, &s.OtherCount,
			&s.Since, &s.Until, &s.ComputedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan author stat: %w", err)
		}
		out = append(out, s)
	}

	return out, rows.Err()
}
