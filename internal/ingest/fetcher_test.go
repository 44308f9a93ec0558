package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/pr-o-meter/internal/adapters"
	"github.com/ZanzyTHEbar/pr-o-meter/internal/database"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func newStubClient(t *testing.T, handler http.HandlerFunc) *adapters.GitHubClient {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := adapters.NewGitHubClientWithBaseURL("test-token", srv.URL)
	require.NoError(t, err)

	return client
}

func listEntry(number int, updatedAt time.Time) string {
	return fmt.Sprintf(`{"number": %d, "updated_at": %q}`, number, updatedAt.UTC().Format(time.RFC3339))
}

func detailJSON(number int, title, login string, mergedAt time.Time) string {
	return fmt.Sprintf(`{
		"number": %d,
		"html_url": "https://github.com/o/r/pull/%d",
		"title": %q,
		"merged_at": %q,
		"base": {"ref": "main"},
		"user": {"login": %q}
	}`, number, number, title, mergedAt.UTC().Format(time.RFC3339), login)
}

func TestSyncFetchesAndStoresEverything(t *testing.T) {
	db := newTestDB(t)
	recent := time.Now().UTC().Add(-24 * time.Hour)

	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/repos/o/r":
			fmt.Fprint(w, `{"default_branch": "main"}`)
		case r.URL.Path == "/repos/o/r/pulls":
			if r.URL.Query().Get("page") == "1" {
				fmt.Fprintf(w, "[%s, %s]", listEntry(1, recent), listEntry(2, recent))
				return
			}
			fmt.Fprint(w, `[]`)
		case strings.HasPrefix(r.URL.Path, "/repos/o/r/pulls/"):
			num, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/repos/o/r/pulls/"))
			require.NoError(t, err)
			fmt.Fprint(w, detailJSON(num, fmt.Sprintf("feat: pr %d", num), "alice", recent))
		default:
			t.Errorf("unexpected request: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	svc := NewService(client, db)
	sum, err := svc.Sync(context.Background(), "o", "r", 90, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, "main", sum.DefaultBranch)
	assert.Equal(t, 2, sum.PagesFetched)
	assert.Equal(t, 2, sum.Discovered)
	assert.Equal(t, 0, sum.AlreadyPresent)
	assert.Equal(t, 2, sum.Fetched)
	assert.Equal(t, 2, sum.Stored)
	assert.Equal(t, 2, sum.MergedInWindow)
	assert.Len(t, sum.Sample, 2)
	require.NotNil(t, sum.NewestMerge)

	// Every reply landed in the raw store: metadata, two pages, two details.
	rows, err := db.ListRecentRaw(50, adapters.SourceGitHub)
	require.NoError(t, err)
	assert.Len(t, rows, 5)
}

func TestSyncStopsPagingPastLookbackWindow(t *testing.T) {
	db := newTestDB(t)
	stale := time.Now().UTC().AddDate(0, 0, -200)

	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/repos/o/r":
			fmt.Fprint(w, `{"default_branch": "main"}`)
		case r.URL.Path == "/repos/o/r/pulls":
			if r.URL.Query().Get("page") != "1" {
				t.Errorf("paging must stop after the window boundary, got page %s", r.URL.Query().Get("page"))
			}
			fmt.Fprintf(w, "[%s]", listEntry(1, stale))
		case strings.HasPrefix(r.URL.Path, "/repos/o/r/pulls/"):
			fmt.Fprint(w, detailJSON(1, "feat: old", "alice", stale))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	svc := NewService(client, db)
	sum, err := svc.Sync(context.Background(), "o", "r", 90, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.PagesFetched)
}

func TestSyncSkipsAlreadyStoredDetails(t *testing.T) {
	db := newTestDB(t)
	recent := time.Now().UTC().Add(-24 * time.Hour)

	// PR 1's merged detail is already on disk from a previous run.
	_, err := db.StoreRaw(adapters.SourceGitHub, adapters.PullDetailEndpoint("o", "r", 1), 200,
		[]byte(detailJSON(1, "feat: earlier run", "alice", recent)))
	require.NoError(t, err)

	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/repos/o/r":
			fmt.Fprint(w, `{"default_branch": "main"}`)
		case r.URL.Path == "/repos/o/r/pulls":
			if r.URL.Query().Get("page") == "1" {
				fmt.Fprintf(w, "[%s, %s]", listEntry(1, recent), listEntry(2, recent))
				return
			}
			fmt.Fprint(w, `[]`)
		case r.URL.Path == "/repos/o/r/pulls/1":
			t.Error("detail for an already-stored merged PR must not be refetched")
			w.WriteHeader(http.StatusInternalServerError)
		case r.URL.Path == "/repos/o/r/pulls/2":
			fmt.Fprint(w, detailJSON(2, "fix: new one", "bob", recent))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	svc := NewService(client, db)
	sum, err := svc.Sync(context.Background(), "o", "r", 90, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Discovered)
	assert.Equal(t, 1, sum.AlreadyPresent)
	assert.Equal(t, 1, sum.Fetched)
}

func TestSyncHonorsMaxDetailsCap(t *testing.T) {
	db := newTestDB(t)
	recent := time.Now().UTC().Add(-24 * time.Hour)

	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/repos/o/r":
			fmt.Fprint(w, `{"default_branch": "main"}`)
		case r.URL.Path == "/repos/o/r/pulls":
			if r.URL.Query().Get("page") == "1" {
				fmt.Fprintf(w, "[%s, %s, %s]",
					listEntry(1, recent), listEntry(2, recent), listEntry(3, recent))
				return
			}
			fmt.Fprint(w, `[]`)
		case strings.HasPrefix(r.URL.Path, "/repos/o/r/pulls/"):
			num, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/repos/o/r/pulls/"))
			fmt.Fprint(w, detailJSON(num, "feat: x", "alice", recent))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	svc := NewService(client, db)
	sum, err := svc.Sync(context.Background(), "o", "r", 90, 2, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Discovered)
	assert.Equal(t, 2, sum.Fetched)
}

func TestSyncSurfacesPartialProgressOnRateLimit(t *testing.T) {
	db := newTestDB(t)
	recent := time.Now().UTC().Add(-24 * time.Hour)
	reset := time.Now().UTC().Add(20 * time.Minute).Truncate(time.Second)

	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/repos/o/r":
			fmt.Fprint(w, `{"default_branch": "main"}`)
		case r.URL.Path == "/repos/o/r/pulls":
			if r.URL.Query().Get("page") == "1" {
				fmt.Fprintf(w, "[%s, %s]", listEntry(1, recent), listEntry(2, recent))
				return
			}
			fmt.Fprint(w, `[]`)
		case strings.HasPrefix(r.URL.Path, "/repos/o/r/pulls/"):
			w.Header().Set("x-ratelimit-remaining", "0")
			w.Header().Set("x-ratelimit-reset", strconv.FormatInt(reset.Unix(), 10))
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"message": "API rate limit exceeded"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	// One worker keeps the failure deterministic.
	svc := NewServiceWithWorkers(client, db, 1)
	sum, err := svc.Sync(context.Background(), "o", "r", 90, 0, 0)
	require.Error(t, err)

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	require.NotNil(t, rl.Summary)
	assert.Equal(t, 0, rl.Summary.RateRemaining)
	require.NotNil(t, rl.Summary.RateReset)
	assert.Equal(t, reset.Unix(), rl.Summary.RateReset.Unix())

	// The returned summary is the same partial progress object.
	assert.Equal(t, rl.Summary, sum)
	assert.Equal(t, 2, rl.Summary.Discovered)

	// Everything fetched before the limit hit stays persisted.
	rows, err := db.ListRecentRaw(50, adapters.SourceGitHub)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(rows), 3, "metadata and listing pages persist across the failure")
}

func TestSyncRejectsMissingOwner(t *testing.T) {
	db := newTestDB(t)

	svc := NewService(nil, db)
	_, err := svc.Sync(context.Background(), "", "r", 0, 0, 0)
	assert.Error(t, err)
}

func TestSyncMissingDefaultBranchIsAnError(t *testing.T) {
	db := newTestDB(t)

	client := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"full_name": "o/r"}`)
	})

	svc := NewService(client, db)
	_, err := svc.Sync(context.Background(), "o", "r", 0, 0, 0)
	require.Error(t, err)
	assert.False(t, errors.As(err, new(*RateLimitError)))
}
