package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sqlite connection with prepared statements for the hot paths.
type DB struct {
	*sql.DB
	prepared map[string]*sql.Stmt
	mutex    sync.RWMutex
}

var (
	globalDB   *DB
	globalOnce sync.Once
	globalErr  error
)

// Init opens the process-wide database handle exactly once. Repeated calls
// return the result of the first initialization.
func Init(dataDir string) (*DB, error) {
	globalOnce.Do(func() {
		globalDB, globalErr = NewDB(dataDir)
	})
	return globalDB, globalErr
}

// Get returns the handle created by Init, or nil if Init has not run.
func Get() *DB {
	return globalDB
}

// NewDB creates a new database connection and runs migrations.
func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "pr_o_meter.db")

	connStr := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Single connection keeps concurrent upserts serialized at the pool level;
	// sqlite would otherwise return SQLITE_BUSY under write contention.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	database := &DB{
		DB:       db,
		prepared: make(map[string]*sql.Stmt),
	}

	if err := database.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := database.initPreparedStatements(); err != nil {
		return nil, fmt.Errorf("failed to initialize prepared statements: %w", err)
	}

	slog.Info("Database initialized", "path", dbPath)

	return database, nil
}

// migrations are applied in order; schema_migrations records the current version.
var migrations = []struct {
	version int
	queries []string
}{
	{
		version: 1,
		queries: []string{
			`CREATE TABLE IF NOT EXISTS raw_responses (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				source TEXT NOT NULL,
				endpoint TEXT NOT NULL,
				status INTEGER NOT NULL,
				payload TEXT NOT NULL,
				checksum TEXT NOT NULL,
				fetched_at DATETIME NOT NULL
			)`,

			`CREATE TABLE IF NOT EXISTS pr_facts (
				owner TEXT NOT NULL,
				repo TEXT NOT NULL,
				pr_url TEXT NOT NULL,
				merged_at DATETIME NOT NULL,
				title TEXT NOT NULL,
				author TEXT NOT NULL,
				author_url TEXT NOT NULL,
				kind TEXT NOT NULL,
				score INTEGER NOT NULL,
				raw_id INTEGER NOT NULL,
				fetched_at DATETIME NOT NULL,
				UNIQUE(owner, repo, pr_url)
			)`,

			`CREATE TABLE IF NOT EXISTS author_stats (
				id TEXT PRIMARY KEY,
				owner TEXT NOT NULL,
				repo TEXT NOT NULL,
				days INTEGER NOT NULL,
				author TEXT NOT NULL,
				author_url TEXT NOT NULL,
				total_score REAL NOT NULL,
				pr_count INTEGER NOT NULL,
				feat_count INTEGER NOT NULL DEFAULT 0,
				fix_count INTEGER NOT NULL DEFAULT 0,
				chore_count INTEGER NOT NULL DEFAULT 0,
				revert_count INTEGER NOT NULL DEFAULT 0,
				other_count INTEGER NOT NULL DEFAULT 0,
				since DATETIME NOT NULL,
				until DATETIME NOT NULL,
				computed_at DATETIME NOT NULL,
				UNIQUE(owner, repo, days, author)
			)`,

			`CREATE INDEX IF NOT EXISTS idx_raw_responses_dedup ON raw_responses(source, endpoint, checksum, fetched_at)`,
			`CREATE INDEX IF NOT EXISTS idx_raw_responses_fetched ON raw_responses(fetched_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_pr_facts_merged ON pr_facts(owner, repo, merged_at)`,
			`CREATE INDEX IF NOT EXISTS idx_author_stats_window ON author_stats(owner, repo, days)`,
		},
	},
	{
		// PR scores gained fractional buckets (revert/other score 0.5). sqlite has
		// no ALTER COLUMN, so the table is rebuilt with score REAL, keeping all rows.
		version: 2,
		queries: []string{
			`CREATE TABLE IF NOT EXISTS pr_facts_v2 (
				owner TEXT NOT NULL,
				repo TEXT NOT NULL,
				pr_url TEXT NOT NULL,
				merged_at DATETIME NOT NULL,
				title TEXT NOT NULL,
				author TEXT NOT NULL,
				author_url TEXT NOT NULL,
				kind TEXT NOT NULL,
				score REAL NOT NULL,
				raw_id INTEGER NOT NULL,
				fetched_at DATETIME NOT NULL,
				UNIQUE(owner, repo, pr_url)
			)`,
			`INSERT INTO pr_facts_v2 SELECT owner, repo, pr_url, merged_at, title, author, author_url, kind, CAST(score AS REAL), raw_id, fetched_at FROM pr_facts`,
			`DROP TABLE pr_facts`,
			`ALTER TABLE pr_facts_v2 RENAME TO pr_facts`,
			`CREATE INDEX IF NOT EXISTS idx_pr_facts_merged ON pr_facts(owner, repo, merged_at)`,
		},
	},
}

// migrate applies pending schema migrations inside transactions.
func (db *DB) migrate() error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}

		for _, query := range m.queries {
			if _, err := tx.Exec(query); err != nil {
				tx.Rollback()
				return fmt.Errorf("failed to execute migration %d: %w", m.version, err)
			}
		}

		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, m.version, time.Now()); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}

		slog.Info("Applied schema migration", "version", m.version)
	}

	return nil
}

// initPreparedStatements initializes frequently used prepared statements
func (db *DB) initPreparedStatements() error {
	statements := map[string]string{
		"insert_raw": `INSERT INTO raw_responses (source, endpoint, status, payload, checksum, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?)`,

		"find_recent_duplicate": `SELECT id FROM raw_responses
			WHERE source = ? AND endpoint = ? AND checksum = ? AND fetched_at >= ?
			ORDER BY id DESC LIMIT 1`,

		"upsert_fact": `INSERT INTO pr_facts (owner, repo, pr_url, merged_at, title, author, author_url, kind, score, raw_id, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(owner, repo, pr_url) DO UPDATE SET
				merged_at = excluded.merged_at,
				title = excluded.title,
				author = excluded.author,
				author_url = excluded.author_url,
				kind = excluded.kind,
				score = excluded.score,
				raw_id = excluded.raw_id,
				fetched_at = excluded.fetched_at`,

		"upsert_author_stat": `INSERT INTO author_stats (
				id, owner, repo, days, author, author_url, total_score, pr_count,
				feat_count, fix_count, chore_count, revert_count, other_count,
				since, until, computed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(owner, repo, days, author) DO UPDATE SET
				author_url = excluded.author_url,
				total_score = excluded.total_score,
				pr_count = excluded.pr_count,
				feat_count = excluded.feat_count,
				fix_count = excluded.fix_count,
				chore_count = excluded.chore_count,
				revert_count = excluded.revert_count,
				other_count = excluded.other_count,
				since = excluded.since,
				until = excluded.until,
				computed_at = excluded.computed_at`,
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, query := range statements {
		stmt, err := db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		db.prepared[name] = stmt
	}

	return nil
}

// GetPreparedStatement retrieves a prepared statement
func (db *DB) GetPreparedStatement(name string) (*sql.Stmt, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	stmt, exists := db.prepared[name]
	if !exists {
		return nil, fmt.Errorf("prepared statement %s not found", name)
	}

	return stmt, nil
}

// Close closes the database connection and prepared statements
func (db *DB) Close() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, stmt := range db.prepared {
		if err := stmt.Close(); err != nil {
			slog.Warn("Failed to close prepared statement", "name", name, "error", err)
		}
	}

	db.prepared = make(map[string]*sql.Stmt)

	return db.DB.Close()
}
