// Package model holds the records kept in the history database.
package model

import "time"

// Session is one game session of the worker.
type Session struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Snapshots int        `json:"snapshots"`
}

// SnapshotRow is one slot of a recorded readout.
type SnapshotRow struct {
	SessionID string    `json:"session_id"`
	TakenAt   time.Time `json:"taken_at"`
	Slot      int       `json:"slot"`
	Caption   string    `json:"caption"`
	Value     string    `json:"value"`
}

// Transition is a recorded state change.
type Transition struct {
	At        time.Time `json:"at"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	SessionID string    `json:"session_id,omitempty"`
}
