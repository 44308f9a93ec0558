// Package facts turns stored raw PR details into normalized, classified fact
// rows. Derivation is idempotent: re-running over the same raw data upserts
// the same rows.
package facts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ZanzyTHEbar/pr-o-meter/internal/adapters"
	"github.com/ZanzyTHEbar/pr-o-meter/internal/database"
	apperrors "github.com/ZanzyTHEbar/pr-o-meter/internal/errors"
	"github.com/ZanzyTHEbar/pr-o-meter/internal/payload"
)

// Window is the resolved lookback interval of one derivation run.
type Window struct {
	Since time.Time `json:"since"`
	Until time.Time `json:"until"`
}

// Deriver reads stored raw detail payloads and upserts fact rows.
type Deriver struct {
	client *adapters.GitHubClient
	db     *database.DB
}

// NewDeriver creates a fact deriver. The client is used only when repository
// metadata is missing from the raw store and must be fetched on demand.
func NewDeriver(client *adapters.GitHubClient, db *database.DB) *Deriver {
	return &Deriver{client: client, db: db}
}

// Derive normalizes all qualifying stored detail rows for the repository into
// fact rows: merged into the default branch, inside the lookback window,
// latest stored version per PR number. Rows missing a required field are
// skipped without aborting the batch.
func (d *Deriver) Derive(ctx context.Context, owner, repo string, days int) (*Window, error) {
	if owner == "" || repo == "" {
		return nil, apperrors.NewConfigurationError("owner and repo are required", nil)
	}

	until := time.Now().UTC()
	since := until.AddDate(0, 0, -days)
	window := &Window{Since: since, Until: until}

	defaultBranch, err := d.defaultBranch(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	rows, err := d.db.MergedDetailRows(adapters.SourceGitHub, adapters.PullDetailPrefix(owner, repo), since)
	if err != nil {
		return nil, err
	}

	// Latest-wins: rows arrive ordered by insertion id ascending, so a later
	// stored version of the same PR number overwrites an earlier one.
	latest := make(map[int64]database.RawResponse)
	var order []int64
	for _, row := range rows {
		doc, err := payload.Parse([]byte(row.Payload))
		if err != nil {
			slog.Debug("Skipping unparseable detail row", "raw_id", row.ID, "error", err)
			continue
		}
		num, ok := doc.Int("number")
		if !ok {
			slog.Debug("Skipping detail row without PR number", "raw_id", row.ID)
			continue
		}
		if _, seen := latest[num]; !seen {
			order = append(order, num)
		}
		latest[num] = row
	}

	derived, skipped := 0, 0
	for _, num := range order {
		row := latest[num]
		doc, err := payload.Parse([]byte(row.Payload))
		if err != nil {
			continue
		}

		if base, ok := doc.StringAt("base", "ref"); !ok || base != defaultBranch {
			continue
		}

		fact, ok := buildFact(owner, repo, doc, row)
		if !ok {
			skipped++
			continue
		}

		if err := d.db.UpsertFact(fact); err != nil {
			return nil, err
		}
		derived++
	}

	slog.Info("Facts derived",
		"owner", owner, "repo", repo, "days", days,
		"candidates", len(order), "derived", derived, "skipped", skipped,
	)

	return window, nil
}

// defaultBranch resolves the repository's default branch from the newest
// stored metadata row, fetching and storing it on demand when absent.
func (d *Deriver) defaultBranch(ctx context.Context, owner, repo string) (string, error) {
	endpoint := adapters.RepoEndpoint(owner, repo)

	raw, err := d.db.LatestRawPayload(adapters.SourceGitHub, endpoint)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to read stored repo metadata: %w", err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		resp, ferr := d.client.Fetch(ctx, endpoint)
		if ferr != nil {
			return "", ferr
		}
		if _, serr := d.db.StoreRaw(adapters.SourceGitHub, endpoint, resp.Status, resp.Body); serr != nil {
			return "", serr
		}
		raw = string(resp.Body)
	}

	doc, perr := payload.Parse([]byte(raw))
	if perr != nil {
		return "", apperrors.NewDataIntegrityError("stored repository metadata is not a JSON object")
	}

	branch, ok := doc.String("default_branch")
	if !ok {
		return "", apperrors.NewDataIntegrityError("repository metadata has no default branch")
	}

	return branch, nil
}

// buildFact extracts the four required fields; any absence disqualifies the
// row silently per the malformed-record policy.
func buildFact(owner, repo string, doc payload.Doc, row database.RawResponse) (*database.PullRequestFact, bool) {
	prURL, ok := doc.String("html_url")
	if !ok {
		return nil, false
	}
	mergedAt, ok := doc.Time("merged_at")
	if !ok {
		return nil, false
	}
	title, ok := doc.String("title")
	if !ok {
		return nil, false
	}
	login, ok := doc.StringAt("user", "login")
	if !ok {
		return nil, false
	}

	kind, score := Classify(title)

	return &database.PullRequestFact{
		Owner:     owner,
		Repo:      repo,
		PRURL:     prURL,
		MergedAt:  mergedAt,
		Title:     title,
		Author:    login,
		AuthorURL: "https://github.com/" + login,
		Kind:      kind,
		Score:     score,
		RawID:     row.ID,
		FetchedAt: row.FetchedAt,
	}, true
}
