package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/afumu/barlens/internal/model"
	"github.com/afumu/barlens/store/types"
)

func (r *Repository) BeginSession(ctx context.Context, id string, at time.Time) error {
	db, err := r.db()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		"INSERT OR IGNORE INTO sessions (id, started_at) VALUES (?, ?)",
		id, at.UnixMilli())
	return err
}

func (r *Repository) EndSession(ctx context.Context, id string, at time.Time, reason string) error {
	db, err := r.db()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		"UPDATE sessions SET ended_at = ?, reason = ? WHERE id = ? AND ended_at IS NULL",
		at.UnixMilli(), reason, id)
	return err
}

func (r *Repository) RecordTransition(ctx context.Context, t model.Transition) error {
	db, err := r.db()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		"INSERT INTO transitions (at, from_state, to_state, session_id) VALUES (?, ?, ?, ?)",
		t.At.UnixMilli(), t.From, t.To, t.SessionID)
	return err
}

// RecordSnapshot stores every slot of one readout in a single transaction.
func (r *Repository) RecordSnapshot(ctx context.Context, rows []model.SnapshotRow) error {
	if len(rows) == 0 {
		return nil
	}
	db, err := r.db()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO snapshots (session_id, taken_at, slot, caption, value) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.SessionID, row.TakenAt.UnixMilli(), row.Slot, row.Caption, row.Value); err != nil {
			return fmt.Errorf("insert snapshot slot %d: %w", row.Slot, err)
		}
	}
	return tx.Commit()
}

// Snapshots returns recorded slots, newest readout first.
func (r *Repository) Snapshots(ctx context.Context, q types.SnapshotQuery) ([]*model.SnapshotRow, error) {
	db, err := r.db()
	if err != nil {
		return nil, err
	}
	query := "SELECT session_id, taken_at, slot, caption, value FROM snapshots WHERE 1=1"
	var args []any
	if q.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, q.SessionID)
	}
	if !q.Since.IsZero() {
		query += " AND taken_at >= ?"
		args = append(args, q.Since.UnixMilli())
	}
	query += " ORDER BY taken_at DESC, slot ASC LIMIT ? OFFSET ?"
	args = append(args, types.ClampLimit(q.Limit), max(q.Offset, 0))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.SnapshotRow
	for rows.Next() {
		var s model.SnapshotRow
		var taken int64
		if err := rows.Scan(&s.SessionID, &taken, &s.Slot, &s.Caption, &s.Value); err != nil {
			return nil, err
		}
		s.TakenAt = time.UnixMilli(taken)
		out = append(out, &s)
	}
	return out, rows.Err()
}

// Sessions returns recorded sessions, newest first, with their readout
// counts.
func (r *Repository) Sessions(ctx context.Context, q types.SessionQuery) ([]*model.Session, error) {
	db, err := r.db()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
SELECT s.id, s.started_at, s.ended_at, s.reason,
       (SELECT COUNT(DISTINCT taken_at) FROM snapshots WHERE session_id = s.id)
FROM sessions s
ORDER BY s.started_at DESC
LIMIT ? OFFSET ?`, types.ClampLimit(q.Limit), max(q.Offset, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Session
	for rows.Next() {
		var s model.Session
		var started int64
		var ended sql.NullInt64
		if err := rows.Scan(&s.ID, &started, &ended, &s.Reason, &s.Snapshots); err != nil {
			return nil, err
		}
		s.StartedAt = time.UnixMilli(started)
		if ended.Valid {
			t := time.UnixMilli(ended.Int64)
			s.EndedAt = &t
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *Repository) Transitions(ctx context.Context, q types.TransitionQuery) ([]*model.Transition, error) {
	db, err := r.db()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		"SELECT at, from_state, to_state, session_id FROM transitions ORDER BY at DESC, rowid DESC LIMIT ? OFFSET ?",
		types.ClampLimit(q.Limit), max(q.Offset, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Transition
	for rows.Next() {
		var t model.Transition
		var at int64
		if err := rows.Scan(&at, &t.From, &t.To, &t.SessionID); err != nil {
			return nil, err
		}
		t.At = time.UnixMilli(at)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// Prune deletes readouts older than before and returns how many slots
// were removed.
func (r *Repository) Prune(ctx context.Context, before time.Time) (int64, error) {
	db, err := r.db()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, "DELETE FROM snapshots WHERE taken_at < ?", before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
