package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/afumu/barlens/store/core"
)

// HistoryDB is the database file inside the work dir.
const HistoryDB = "history.db"

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL,
	ended_at   INTEGER,
	reason     TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS snapshots (
	session_id TEXT NOT NULL,
	taken_at   INTEGER NOT NULL,
	slot       INTEGER NOT NULL,
	caption    TEXT NOT NULL,
	value      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_taken ON snapshots (taken_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots (session_id, taken_at);
CREATE TABLE IF NOT EXISTS transitions (
	at         INTEGER NOT NULL,
	from_state TEXT NOT NULL,
	to_state   TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_transitions_at ON transitions (at);
`

// Repository is the data access layer over the history database.
type Repository struct {
	pool *core.ConnectionPool
	path string
}

// New opens the history database through pool and applies the schema.
func New(ctx context.Context, pool *core.ConnectionPool) (*Repository, error) {
	r := &Repository{pool: pool, path: pool.Path(HistoryDB)}
	db, err := r.db()
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return r, nil
}

func (r *Repository) db() (*sql.DB, error) {
	return r.pool.GetConnection(r.path)
}
