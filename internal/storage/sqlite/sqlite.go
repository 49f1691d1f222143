// Package sqlite implements the storage interface on SQLite. It is the
// default backend: one file per deployment, WAL mode for concurrent
// workflow writers, no external database to operate.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/civicflow/civicflow/internal/storage"
)

// SQLiteStorage implements storage.Storage using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

var _ storage.Storage = (*SQLiteStorage)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS issues (
	id TEXT PRIMARY KEY,
	city_id TEXT NOT NULL,
	text TEXT NOT NULL,
	language TEXT NOT NULL DEFAULT '',
	location TEXT,
	submitted_at TIMESTAMP NOT NULL,
	citizen_ref TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	workflow_id TEXT NOT NULL DEFAULT '',
	classification TEXT,
	priority TEXT,
	duplicate_of TEXT NOT NULL DEFAULT '',
	affected_count INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	resolved_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_issues_city_status ON issues(city_id, status);
CREATE INDEX IF NOT EXISTS idx_issues_city_submitted ON issues(city_id, submitted_at);

CREATE TABLE IF NOT EXISTS workflows (
	workflow_id TEXT PRIMARY KEY,
	issue_id TEXT NOT NULL,
	city_id TEXT NOT NULL,
	steps TEXT NOT NULL,
	cursor INTEGER NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workflows_city ON workflows(city_id);
CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status);

CREATE TABLE IF NOT EXISTS audit_records (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL,
	workflow_id TEXT NOT NULL,
	issue_id TEXT NOT NULL,
	city_id TEXT NOT NULL DEFAULT '',
	agent_type TEXT NOT NULL DEFAULT '',
	attempt INTEGER NOT NULL DEFAULT 0,
	started_at TIMESTAMP NOT NULL,
	ended_at TIMESTAMP NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	input TEXT,
	output TEXT,
	confidence REAL NOT NULL DEFAULT 0,
	reasoning TEXT NOT NULL DEFAULT '',
	success INTEGER NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_issue ON audit_records(city_id, issue_id);
CREATE INDEX IF NOT EXISTS idx_audit_workflow ON audit_records(workflow_id);
`

// New creates a SQLite storage backend at the given path
func New(path string) (*SQLiteStorage, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL mode so workflow writers do not block trail readers
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
