// Package ingest discovers merged pull requests through paginated listing and
// fetches per-PR detail with bounded concurrency, persisting every origin
// reply through the raw store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/pr-o-meter/internal/adapters"
	"github.com/ZanzyTHEbar/pr-o-meter/internal/database"
	apperrors "github.com/ZanzyTHEbar/pr-o-meter/internal/errors"
	"github.com/ZanzyTHEbar/pr-o-meter/internal/payload"
)

const (
	listPageSize = 100
	previewSize  = 5

	// DefaultWorkers bounds concurrent detail fetches within one run.
	DefaultWorkers = 4
	// DefaultDays is the lookback window applied when the caller passes none.
	DefaultDays = 90
	// DefaultMaxDetails caps how many PR details one run will fetch.
	DefaultMaxDetails = 200
	// DefaultMaxListPages caps the listing walk regardless of window coverage.
	DefaultMaxListPages = 10
)

// errRateLimited cancels the worker group without masking the real cause.
var errRateLimited = errors.New("rate limited")

// PRPreview is a small sample entry included in sync summaries.
type PRPreview struct {
	Number int64  `json:"number"`
	Title  string `json:"title"`
}

// Summary reports the progress of one discovery run. On rate-limit
// exhaustion it reflects everything persisted before the run stopped.
type Summary struct {
	Owner          string      `json:"owner"`
	Repo           string      `json:"repo"`
	Days           int         `json:"days"`
	DefaultBranch  string      `json:"default_branch"`
	PagesFetched   int         `json:"pages_fetched"`
	Discovered     int         `json:"discovered"`
	AlreadyPresent int         `json:"already_present"`
	Fetched        int         `json:"fetched"`
	Stored         int         `json:"stored"`
	MergedInWindow int         `json:"merged_in_window"`
	OldestMerge    *time.Time  `json:"oldest_merge,omitempty"`
	NewestMerge    *time.Time  `json:"newest_merge,omitempty"`
	RateRemaining  int         `json:"rate_remaining"`
	RateReset      *time.Time  `json:"rate_reset,omitempty"`
	Sample         []PRPreview `json:"sample,omitempty"`
}

// RateLimitError carries the partial summary of a run stopped by origin
// rate-limit exhaustion, so no persisted progress is lost to the caller.
type RateLimitError struct {
	*apperrors.AppError
	Summary *Summary
}

func (e *RateLimitError) Unwrap() error {
	return e.AppError
}

// Service is the discovery & detail fetcher.
type Service struct {
	client  *adapters.GitHubClient
	db      *database.DB
	workers int
}

// NewService creates a fetcher with the default worker pool width.
func NewService(client *adapters.GitHubClient, db *database.DB) *Service {
	return &Service{client: client, db: db, workers: DefaultWorkers}
}

// NewServiceWithWorkers creates a fetcher with a custom pool width.
func NewServiceWithWorkers(client *adapters.GitHubClient, db *database.DB, workers int) *Service {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Service{client: client, db: db, workers: workers}
}

// Sync discovers merged PRs for the repository within the lookback window and
// fetches their details. Listing pages are walked sequentially; details are
// fetched through a bounded pool. Every origin reply is raw-stored.
func (s *Service) Sync(ctx context.Context, owner, repo string, days, maxDetails, maxListPages int) (*Summary, error) {
	if owner == "" || repo == "" {
		return nil, apperrors.NewConfigurationError("owner and repo are required", nil)
	}
	if days <= 0 {
		days = DefaultDays
	}
	if maxDetails <= 0 {
		maxDetails = DefaultMaxDetails
	}
	if maxListPages <= 0 {
		maxListPages = DefaultMaxListPages
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	sum := &Summary{Owner: owner, Repo: repo, Days: days, RateRemaining: -1}

	defaultBranch, err := s.fetchDefaultBranch(ctx, owner, repo, sum)
	if err != nil {
		return s.partialOnRateLimit(sum, err)
	}
	sum.DefaultBranch = defaultBranch

	numbers, err := s.discover(ctx, owner, repo, defaultBranch, since, maxDetails, maxListPages, sum)
	if err != nil {
		return s.partialOnRateLimit(sum, err)
	}
	sum.Discovered = len(numbers)

	var pending []int64
	for _, num := range numbers {
		present, err := s.db.HasMergedDetail(adapters.SourceGitHub, adapters.PullDetailEndpoint(owner, repo, num))
		if err != nil {
			return nil, err
		}
		if present {
			sum.AlreadyPresent++
			continue
		}
		pending = append(pending, num)
	}

	if err := s.fetchDetails(ctx, owner, repo, since, pending, sum); err != nil {
		return s.partialOnRateLimit(sum, err)
	}

	slog.Info("Sync completed",
		"owner", owner, "repo", repo, "days", days,
		"pages", sum.PagesFetched, "discovered", sum.Discovered,
		"already_present", sum.AlreadyPresent, "fetched", sum.Fetched,
		"stored", sum.Stored, "merged_in_window", sum.MergedInWindow,
	)

	return sum, nil
}

// fetchDefaultBranch fetches and raw-stores repository metadata, returning
// the default branch name required for listing and derivation.
func (s *Service) fetchDefaultBranch(ctx context.Context, owner, repo string, sum *Summary) (string, error) {
	endpoint := adapters.RepoEndpoint(owner, repo)
	resp, err := s.client.Fetch(ctx, endpoint)
	if err != nil {
		return "", err
	}
	sum.noteRate(resp.RateRemaining, resp.RateReset)

	if _, err := s.db.StoreRaw(adapters.SourceGitHub, endpoint, resp.Status, resp.Body); err != nil {
		return "", err
	}

	doc, err := payload.Parse(resp.Body)
	if err != nil {
		return "", apperrors.NewOriginError("repository metadata is not a JSON object", err)
	}

	branch, ok := doc.String("default_branch")
	if !ok {
		return "", apperrors.NewDataIntegrityError("repository metadata has no default branch")
	}

	return branch, nil
}

// discover walks the closed-PR listing until the window is covered or a cap
// is reached, collecting unique PR numbers in listing order.
func (s *Service) discover(ctx context.Context, owner, repo, branch string, since time.Time, maxDetails, maxListPages int, sum *Summary) ([]int64, error) {
	var numbers []int64
	seen := make(map[int64]bool)

	for page := 1; page <= maxListPages; page++ {
		endpoint := adapters.PullsPageEndpoint(owner, repo, branch, listPageSize, page)
		resp, err := s.client.Fetch(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		sum.noteRate(resp.RateRemaining, resp.RateReset)

		// Listing pages are stored even when their content duplicates an
		// earlier fetch inside the dedup window; the store decides.
		if _, err := s.db.StoreRaw(adapters.SourceGitHub, endpoint, resp.Status, resp.Body); err != nil {
			return nil, err
		}
		sum.PagesFetched++

		docs, err := payload.ParseArray(resp.Body)
		if err != nil {
			return nil, apperrors.NewOriginError("listing page is not a JSON array", err)
		}
		if len(docs) == 0 {
			break
		}

		for _, d := range docs {
			num, ok := d.Int("number")
			if !ok || seen[num] {
				continue
			}
			if len(numbers) >= maxDetails {
				break
			}
			seen[num] = true
			numbers = append(numbers, num)
		}

		if len(numbers) >= maxDetails {
			break
		}

		// Sorted by updated desc: once the last item on a page predates the
		// window there is nothing newer on later pages.
		if updated, ok := docs[len(docs)-1].Time("updated_at"); ok && updated.Before(since) {
			break
		}
	}

	return numbers, nil
}

// fetchDetails fans the pending PR numbers out over the bounded pool. A
// rate-limit failure from any worker stops dispatch; in-flight siblings
// drain and their results stay persisted.
func (s *Service) fetchDetails(ctx context.Context, owner, repo string, since time.Time, pending []int64, sum *Summary) error {
	if len(pending) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	var mu sync.Mutex
	var rateErr *adapters.OriginError

	for _, num := range pending {
		num := num
		g.Go(func() error {
			endpoint := adapters.PullDetailEndpoint(owner, repo, num)
			resp, err := s.client.Fetch(gctx, endpoint)
			if err != nil {
				var oe *adapters.OriginError
				if errors.As(err, &oe) && oe.IsRateLimit() {
					mu.Lock()
					rateErr = oe
					sum.noteRate(oe.RateRemaining, oe.RateReset)
					mu.Unlock()
					return errRateLimited
				}
				return fmt.Errorf("failed to fetch PR %d: %w", num, err)
			}

			mu.Lock()
			defer mu.Unlock()

			sum.Fetched++
			sum.noteRate(resp.RateRemaining, resp.RateReset)

			res, err := s.db.StoreRaw(adapters.SourceGitHub, endpoint, resp.Status, resp.Body)
			if err != nil {
				return err
			}
			if res.Inserted {
				sum.Stored++
			}

			if doc, err := payload.Parse(resp.Body); err == nil {
				sum.noteMerge(doc, num, since)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, errRateLimited) && rateErr != nil {
			return rateErr
		}
		return err
	}

	return nil
}

// partialOnRateLimit converts a rate-limit origin failure into a
// RateLimitError carrying the partial summary; other errors pass through.
func (s *Service) partialOnRateLimit(sum *Summary, err error) (*Summary, error) {
	var oe *adapters.OriginError
	if errors.As(err, &oe) && oe.IsRateLimit() {
		sum.noteRate(oe.RateRemaining, oe.RateReset)
		slog.Warn("Sync stopped by origin rate limit",
			"owner", sum.Owner, "repo", sum.Repo,
			"fetched", sum.Fetched, "stored", sum.Stored,
			"rate_reset", sum.RateReset,
		)
		reset := time.Time{}
		if sum.RateReset != nil {
			reset = *sum.RateReset
		}
		return sum, &RateLimitError{
			AppError: apperrors.NewRateLimitError(sum.RateRemaining, reset),
			Summary:  sum,
		}
	}
	return nil, err
}

func (sum *Summary) noteRate(remaining int, reset time.Time) {
	if remaining >= 0 {
		sum.RateRemaining = remaining
	}
	if !reset.IsZero() {
		r := reset
		sum.RateReset = &r
	}
}

func (sum *Summary) noteMerge(doc payload.Doc, num int64, since time.Time) {
	mergedAt, ok := doc.Time("merged_at")
	if !ok || mergedAt.Before(since) {
		return
	}

	sum.MergedInWindow++
	if sum.OldestMerge == nil || mergedAt.Before(*sum.OldestMerge) {
		t := mergedAt
		sum.OldestMerge = &t
	}
	if sum.NewestMerge == nil || mergedAt.After(*sum.NewestMerge) {
		t := mergedAt
		sum.NewestMerge = &t
	}

	if len(sum.Sample) < previewSize {
		title, _ := doc.String("title")
		sum.Sample = append(sum.Sample, PRPreview{Number: num, Title: title})
	}
}
