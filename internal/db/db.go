package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS companies (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL DEFAULT '',
    name        TEXT NOT NULL,
    url         TEXT NOT NULL DEFAULT '',
    industry    TEXT NOT NULL DEFAULT '',
    product     TEXT NOT NULL DEFAULT '',
    icp         TEXT NOT NULL DEFAULT '',
    notes       TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS boards (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL DEFAULT '',
    name        TEXT NOT NULL,
    created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS tiles (
    id                        TEXT PRIMARY KEY,
    board_id                  TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
    title                     TEXT NOT NULL,
    base_prompt               TEXT NOT NULL,
    ex_answer                 TEXT NOT NULL DEFAULT '',
    "order"                   INTEGER NOT NULL DEFAULT 0,
    last_answer               TEXT NOT NULL DEFAULT '',
    last_run_context_version  INTEGER NOT NULL DEFAULT 0,
    status                    TEXT NOT NULL DEFAULT 'idle' CHECK (status IN ('idle', 'loading', 'error', 'completed')),
    attempt_id                TEXT NOT NULL DEFAULT '',
    created_at                TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at                TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS tile_messages (
    id          TEXT PRIMARY KEY,
    tile_id     TEXT NOT NULL REFERENCES tiles(id) ON DELETE CASCADE,
    role        TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
    content     TEXT NOT NULL,
    created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_tiles_board ON tiles(board_id, "order");
CREATE INDEX IF NOT EXISTS idx_tile_messages_tile ON tile_messages(tile_id);
`

// EnsureDir creates the parent directory of dbPath.
func EnsureDir(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	return nil
}

func Open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running schema migration: %w", err)
	}
	return db, nil
}
