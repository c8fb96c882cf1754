package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS tracked_items (
  asin             TEXT PRIMARY KEY,
  title            TEXT,
  interval_minutes INTEGER NOT NULL DEFAULT 60,
  priority         INTEGER NOT NULL DEFAULT 1,
  active           INTEGER NOT NULL DEFAULT 1 CHECK (active IN (0,1)),
  created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  last_checked_at  DATETIME
);
CREATE TABLE IF NOT EXISTS snapshots (
  id            INTEGER PRIMARY KEY,
  asin          TEXT NOT NULL,
  fetched_at    DATETIME NOT NULL,
  title         TEXT,
  ranks_json    TEXT NOT NULL,
  categories_json TEXT NOT NULL,
  monthly_sold  INTEGER,
  raw_payload   TEXT
);
CREATE INDEX IF NOT EXISTS idx_snapshots_item ON snapshots(asin, fetched_at DESC);
CREATE TABLE IF NOT EXISTS badge_state (
  asin        TEXT PRIMARY KEY,
  title       TEXT,
  badges_json TEXT NOT NULL,
  ranks_json  TEXT NOT NULL,
  updated_at  DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS transitions (
  id                INTEGER PRIMARY KEY,
  run_id            TEXT NOT NULL,
  asin              TEXT NOT NULL,
  category_id       TEXT NOT NULL,
  category_name     TEXT NOT NULL,
  kind              TEXT NOT NULL CHECK (kind IN ('gained','lost')),
  rank_before       INTEGER,
  rank_after        INTEGER,
  detected_at       DATETIME NOT NULL,
  notification_sent INTEGER NOT NULL DEFAULT 0 CHECK (notification_sent IN (0,1)),
  notified_at       DATETIME,
  UNIQUE(run_id, asin, category_id, kind)
);
CREATE INDEX IF NOT EXISTS idx_transitions_time ON transitions(detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_transitions_unsent ON transitions(notification_sent, detected_at);
CREATE TABLE IF NOT EXISTS batch_runs (
  id                 TEXT PRIMARY KEY,
  started_at         DATETIME NOT NULL,
  completed_at       DATETIME,
  items_attempted    INTEGER NOT NULL DEFAULT 0,
  items_succeeded    INTEGER NOT NULL DEFAULT 0,
  transitions_found  INTEGER NOT NULL DEFAULT 0,
  notifications_sent INTEGER NOT NULL DEFAULT 0,
  cost_tokens        INTEGER NOT NULL DEFAULT 0,
  status             TEXT NOT NULL CHECK (status IN ('running','completed','completed_with_errors','failed'))
);
CREATE TABLE IF NOT EXISTS cost_ledger (
  id              INTEGER PRIMARY KEY,
  run_id          TEXT NOT NULL,
  recorded_at     DATETIME NOT NULL,
  asins_requested INTEGER NOT NULL,
  tokens_consumed INTEGER NOT NULL,
  tokens_left     INTEGER
);
CREATE TABLE IF NOT EXISTS run_errors (
  id          INTEGER PRIMARY KEY,
  run_id      TEXT NOT NULL,
  asin        TEXT,
  stage       TEXT NOT NULL,
  message     TEXT NOT NULL,
  occurred_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_errors_run ON run_errors(run_id);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// fmtTime stores timestamps the way SQLite's CURRENT_TIMESTAMP does.
func fmtTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

// parseTime handles both SQLite CURRENT_TIMESTAMP format and RFC3339.
func parseTime(s string) time.Time {
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func parseNullTime(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	return parseTime(ns.String)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}

func countJSONKeys(s string) int {
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return 0
	}
	return len(m)
}
