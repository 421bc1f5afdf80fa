package types

import "time"

// SnapshotQuery selects recorded readouts, newest first.
type SnapshotQuery struct {
	SessionID string
	Since     time.Time
	Limit     int
	Offset    int
}

// SessionQuery selects recorded sessions, newest first.
type SessionQuery struct {
	Limit  int
	Offset int
}

// TransitionQuery selects recorded state changes, newest first.
type TransitionQuery struct {
	Limit  int
	Offset int
}

const (
	DefaultLimit = 20
	MaxLimit     = 1000
)

// ClampLimit applies the default and the upper bound to a page size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
