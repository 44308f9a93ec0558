package database

import (
	"fmt"
	"time"
)

// UpsertFact writes a derived pull-request fact, fully overwriting the
// derived fields when the (owner, repo, pr_url) key already exists.
func (db *DB) UpsertFact(f *PullRequestFact) error {
	stmt, err := db.GetPreparedStatement("upsert_fact")
	if err != nil {
		return err
	}

	_, err = stmt.Exec(
		f.Owner, f.Repo, f.PRURL, f.MergedAt.UTC(), f.Title,
		f.Author, f.AuthorURL, f.Kind, f.Score, f.RawID, f.FetchedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert fact: %w", err)
	}

	return nil
}

// CountFacts returns the number of fact rows for a repository.
func (db *DB) CountFacts(owner, repo string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pr_facts WHERE owner = ? AND repo = ?`, owner, repo).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count facts: %w", err)
	}
	return n, nil
}

// AggregateAuthorStats groups in-window facts by author, excluding bot
// accounts, ordered by total score then PR count descending.
func (db *DB) AggregateAuthorStats(owner, repo string, since, until time.Time, limit int) ([]AuthorStat, error) {
	rows, err := db.Query(`SELECT
			author,
			author_url,
			SUM(score) AS total_score,
			COUNT(*) AS pr_count,
			SUM(CASE WHEN kind = 'feat' THEN 1 ELSE 0 END),
			SUM(CASE WHEN kind = 'fix' THEN 1 ELSE 0 END),
			SUM(CASE WHEN kind = 'chore' THEN 1 ELSE 0 END),
			SUM(CASE WHEN kind = 'revert' THEN 1 ELSE 0 END),
			SUM(CASE WHEN kind = 'other' THEN 1 ELSE 0 END)
		FROM pr_facts
		WHERE owner = ? AND repo = ?
		AND merged_at >= ? AND merged_at <= ?
		AND LOWER(author) NOT LIKE '%[bot]'
		GROUP BY author, author_url
		ORDER BY total_score DESC, pr_count DESC
		LIMIT ?`,
		owner, repo, since.UTC(), until.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate author stats: %w", err)
	}
	defer rows.Close()

	var out []AuthorStat
	for rows.Next() {
		s := AuthorStat{Owner: owner, Repo: repo, Since: since, Until: until}
		if err := rows.Scan(
			&s.Author, &s.AuthorURL, &s.TotalScore, &s.PRCount,
			&s.FeatCount, &s.FixCount, &s.ChoreCount, &s.RevertCount, &s.OtherCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan aggregated stat: %w", err)
		}
		out = append(out, s)
	}

	return out, rows.Err()
}
