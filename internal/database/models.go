package database

import (
	"time"

	"github.com/google/uuid"
)

// RawResponse is one stored copy of an origin API reply. Rows are append-only:
// they are never updated or deleted by the application.
type RawResponse struct {
	ID        int64     `json:"id" db:"id"`
	Source    string    `json:"source" db:"source"`
	Endpoint  string    `json:"endpoint" db:"endpoint"`
	Status    int       `json:"status" db:"status"`
	Payload   string    `json:"payload" db:"payload"`
	Checksum  string    `json:"checksum" db:"checksum"`
	FetchedAt time.Time `json:"fetched_at" db:"fetched_at"`
}

// PullRequestFact is one merged pull request, normalized and classified.
// Unique per (owner, repo, pr_url); re-derivation overwrites in place.
type PullRequestFact struct {
	Owner     string    `json:"owner" db:"owner"`
	Repo      string    `json:"repo" db:"repo"`
	PRURL     string    `json:"pr_url" db:"pr_url"`
	MergedAt  time.Time `json:"merged_at" db:"merged_at"`
	Title     string    `json:"title" db:"title"`
	Author    string    `json:"author" db:"author"`
	AuthorURL string    `json:"author_url" db:"author_url"`
	Kind      string    `json:"kind" db:"kind"`
	Score     float64   `json:"score" db:"score"`
	RawID     int64     `json:"raw_id" db:"raw_id"`
	FetchedAt time.Time `json:"fetched_at" db:"fetched_at"`
}

// AuthorStat is one author's aggregate for one (owner, repo, day-window).
// Recomputation fully overwrites the derived fields for the key.
type AuthorStat struct {
	ID          string    `json:"id" db:"id"`
	Owner       string    `json:"owner" db:"owner"`
	Repo        string    `json:"repo" db:"repo"`
	Days        int       `json:"days" db:"days"`
	Author      string    `json:"author" db:"author"`
	AuthorURL   string    `json:"author_url" db:"author_url"`
	TotalScore  float64   `json:"total_score" db:"total_score"`
	PRCount     int       `json:"pr_count" db:"pr_count"`
	FeatCount   int       `json:"feat_count" db:"feat_count"`
	FixCount    int       `json:"fix_count" db:"fix_count"`
	ChoreCount  int       `json:"chore_count" db:"chore_count"`
	RevertCount int       `json:"revert_count" db:"revert_count"`
	OtherCount  int       `json:"other_count" db:"other_count"`
	Since       time.Time `json:"since" db:"since"`
	Until       time.Time `json:"until" db:"until"`
	ComputedAt  time.Time `json:"computed_at" db:"computed_at"`
}

// NewAuthorStat creates an author stat row with a generated ID.
func NewAuthorStat(owner, repo string, days int, author string) *AuthorStat {
	return &AuthorStat{
		ID:     uuid.New().String(),
		Owner:  owner,
		Repo:   repo,
		Days:   days,
		Author: author,
	}
}
