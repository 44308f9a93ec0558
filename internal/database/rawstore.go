package database

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// dedupWindow bounds recent-duplicate suppression. Identical content fetched
// again inside this window is skipped; after it expires a new row is written
// so content drift stays observable in the raw log.
const dedupWindow = 60 * time.Minute

// StoreResult reports the outcome of a raw store attempt. A skipped duplicate
// is a normal outcome, not an error.
type StoreResult struct {
	Inserted bool   `json:"inserted"`
	ID       int64  `json:"id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// StoreRaw persists one fetched payload unless an identical one was stored
// for the same (source, endpoint) within the dedup window.
func (db *DB) StoreRaw(source, endpoint string, status int, payload []byte) (*StoreResult, error) {
	sum := sha256.Sum256(payload)
	checksum := hex.EncodeToString(sum[:])
	now := time.Now().UTC()

	findStmt, err := db.GetPreparedStatement("find_recent_duplicate")
	if err != nil {
		return nil, err
	}

	var existingID int64
	err = findStmt.QueryRow(source, endpoint, checksum, now.Add(-dedupWindow)).Scan(&existingID)
	switch {
	case err == nil:
		return &StoreResult{Inserted: false, ID: existingID, Reason: "duplicate within dedup window"}, nil
	case err != sql.ErrNoRows:
		return nil, fmt.Errorf("failed to check for duplicate raw response: %w", err)
	}

	insertStmt, err := db.GetPreparedStatement("insert_raw")
	if err != nil {
		return nil, err
	}

	res, err := insertStmt.Exec(source, endpoint, status, string(payload), checksum, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert raw response: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read raw response id: %w", err)
	}

	slog.Debug("Stored raw response", "source", source, "endpoint", endpoint, "status", status, "id", id)

	return &StoreResult{Inserted: true, ID: id}, nil
}

// ListRecentRaw returns the newest raw rows, optionally filtered by source.
func (db *DB) ListRecentRaw(limit int, source string) ([]RawResponse, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	query := `SELECT id, source, endpoint, status, payload, checksum, fetched_at
		FROM raw_responses`
	args := []interface{}{}
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY fetched_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw responses: %w", err)
	}
	defer rows.Close()

	var out []RawResponse
	for rows.Next() {
		var r RawResponse
		if err := rows.Scan(&r.ID, &r.Source, &r.Endpoint, &r.Status, &r.Payload, &r.Checksum, &r.FetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan raw response: %w", err)
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

// HasMergedDetail reports whether a successful detail row with a non-null
// merged_at already exists for the endpoint. Merged PR details are treated
// as immutable, so a hit means the fetch can be skipped.
func (db *DB) HasMergedDetail(source, endpoint string) (bool, error) {
	var one int
	err := db.QueryRow(`SELECT 1 FROM raw_responses
		WHERE source = ? AND endpoint = ?
		AND status BETWEEN 200 AND 299
		AND json_extract(payload, '$.merged_at') IS NOT NULL
		LIMIT 1`, source, endpoint).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check for stored detail: %w", err)
	}
	return true, nil
}

// escapeLike neutralizes LIKE wildcards so endpoint prefixes built from
// owner and repo names containing _ or % match literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// MergedDetailRows returns successful detail rows under the endpoint prefix
// whose merged_at falls at or after since, ordered by insertion id ascending
// so callers can apply latest-wins by overwriting per PR number.
func (db *DB) MergedDetailRows(source, endpointPrefix string, since time.Time) ([]RawResponse, error) {
	rows, err := db.Query(`SELECT id, source, endpoint, status, payload, checksum, fetched_at
		FROM raw_responses
		WHERE source = ? AND endpoint LIKE ? ESCAPE '\' AND endpoint NOT LIKE '%?%'
		AND status BETWEEN 200 AND 299
		AND json_extract(payload, '$.merged_at') IS NOT NULL
		AND json_extract(payload, '$.merged_at') >= ?
		ORDER BY id ASC`,
		source, escapeLike(endpointPrefix)+"%", since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query detail rows: %w", err)
	}
	defer rows.Close()

	var out []RawResponse
	for rows.Next() {
		var r RawResponse
		if err := rows.Scan(&r.ID, &r.Source, &r.Endpoint, &r.Status, &r.Payload, &r.Checksum, &r.FetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan detail row: %w", err)
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

// LatestRawPayload returns the payload of the most recently stored successful
// row for an exact endpoint, or sql.ErrNoRows when none exists.
func (db *DB) LatestRawPayload(source, endpoint string) (string, error) {
	var payload string
	err := db.QueryRow(`SELECT payload FROM raw_responses
		WHERE source = ? AND endpoint = ? AND status BETWEEN 200 AND 299
		ORDER BY id DESC LIMIT 1`, source, endpoint).Scan(&payload)
	if err != nil {
		return "", err
	}
	return payload, nil
}
