package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestStoreRawDedupWindow(t *testing.T) {
	db := newTestDB(t)

	payload := []byte(`{"number": 1, "title": "fix: it"}`)

	first, err := db.StoreRaw("github", "repos/o/r/pulls/1", 200, payload)
	require.NoError(t, err)
	assert.True(t, first.Inserted)
	assert.NotZero(t, first.ID)

	// Identical content inside the window is suppressed.
	second, err := db.StoreRaw("github", "repos/o/r/pulls/1", 200, payload)
	require.NoError(t, err)
	assert.False(t, second.Inserted)
	assert.Equal(t, first.ID, second.ID)
	assert.NotEmpty(t, second.Reason)

	rows, err := db.ListRecentRaw(10, "github")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	// Backdate the stored row past the window; the same content inserts again.
	_, err = db.Exec(`UPDATE raw_responses SET fetched_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-61*time.Minute), first.ID)
	require.NoError(t, err)

	third, err := db.StoreRaw("github", "repos/o/r/pulls/1", 200, payload)
	require.NoError(t, err)
	assert.True(t, third.Inserted)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestStoreRawDistinctContentAlwaysInserts(t *testing.T) {
	db := newTestDB(t)

	first, err := db.StoreRaw("github", "repos/o/r/pulls/1", 200, []byte(`{"title": "v1"}`))
	require.NoError(t, err)
	assert.True(t, first.Inserted)

	second, err := db.StoreRaw("github", "repos/o/r/pulls/1", 200, []byte(`{"title": "v2"}`))
	require.NoError(t, err)
	assert.True(t, second.Inserted)

	rows, err := db.ListRecentRaw(10, "")
	require.NoError(t, err)
	assert.Len(t, rows, 2, "history is retained, not overwritten")
}

func TestListRecentRawFiltersAndOrders(t *testing.T) {
	db := newTestDB(t)

	_, err := db.StoreRaw("github", "repos/o/r", 200, []byte(`{"a": 1}`))
	require.NoError(t, err)
	_, err = db.StoreRaw("gitlab", "projects/1", 200, []byte(`{"b": 2}`))
	require.NoError(t, err)
	_, err = db.StoreRaw("github", "repos/o/r/pulls/5", 200, []byte(`{"c": 3}`))
	require.NoError(t, err)

	rows, err := db.ListRecentRaw(10, "github")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "repos/o/r/pulls/5", rows[0].Endpoint, "newest first")

	all, err := db.ListRecentRaw(10, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestHasMergedDetail(t *testing.T) {
	db := newTestDB(t)

	// Unmerged detail does not count as present.
	_, err := db.StoreRaw("github", "repos/o/r/pulls/1", 200, []byte(`{"number": 1, "merged_at": null}`))
	require.NoError(t, err)

	present, err := db.HasMergedDetail("github", "repos/o/r/pulls/1")
	require.NoError(t, err)
	assert.False(t, present)

	_, err = db.StoreRaw("github", "repos/o/r/pulls/2", 200, []byte(`{"number": 2, "merged_at": "2025-06-01T00:00:00Z"}`))
	require.NoError(t, err)

	present, err = db.HasMergedDetail("github", "repos/o/r/pulls/2")
	require.NoError(t, err)
	assert.True(t, present)
}

func TestMigrationsReachCurrentVersion(t *testing.T) {
	db := newTestDB(t)

	var version int
	require.NoError(t, db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version))
	assert.Equal(t, 2, version)

	// The rebuilt facts table accepts fractional scores.
	_, err := db.Exec(`INSERT INTO pr_facts (owner, repo, pr_url, merged_at, title, author, author_url, kind, score, raw_id, fetched_at)
		VALUES ('o', 'r', 'https://github.com/o/r/pull/1', ?, 'revert: x', 'a', 'https://github.com/a', 'revert', 0.5, 1, ?)`,
		time.Now().UTC(), time.Now().UTC())
	require.NoError(t, err)

	var score float64
	require.NoError(t, db.QueryRow(`SELECT score FROM pr_facts WHERE pr_url = 'https://github.com/o/r/pull/1'`).Scan(&score))
	assert.Equal(t, 0.5, score)
}

func TestInitIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	first, err := Init(dir)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := Init(t.TempDir())
	require.NoError(t, err)
	assert.Same(t, first, second, "Init must return the handle from the first call")
	assert.Same(t, first, Get())
}
