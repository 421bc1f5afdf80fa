package worker

import "time"

// State is the connection and session state of the reader.
type State int32

const (
	NotFound State = iota
	// Found is reserved; the worker goes from NotFound straight to Menu.
	Found
	Menu
	InGame
	Error
)

func (s State) String() string {
	switch s {
	case NotFound:
		return "not_found"
	case Found:
		return "found"
	case Menu:
		return "menu"
	case InGame:
		return "in_game"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Transition is one state change.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	At        time.Time `json:"at"`
	SessionID string    `json:"session_id,omitempty"`
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
