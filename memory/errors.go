package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelShutdown is returned by every read once the channel is
	// stopped. It must reach the outermost worker loop.
	ErrChannelShutdown = errors.New("memory channel is shutting down")
	ErrNullPointer     = errors.New("null pointer")
	ErrChainBroken     = errors.New("pointer chain broken")
	ErrIncompleteRead  = errors.New("incomplete memory read")
	ErrOutOfBounds     = errors.New("length outside expected bounds")
)

// ReadError describes a failed typed read.
type ReadError struct {
	What string
	Addr uint64
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("reading %s at 0x%X: %v", e.What, e.Addr, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// ChainError is returned by ResolveChain at the first broken link.
type ChainError struct {
	Index  int
	Addr   uint64
	Offset uint64
	Err    error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("reading pointer chain at index %d, addr 0x%X + 0x%X: %v", e.Index, e.Addr, e.Offset, e.Err)
}

func (e *ChainError) Unwrap() error { return e.Err }

func (e *ChainError) Is(target error) bool { return target == ErrChainBroken }

// IsShutdown reports whether err carries ErrChannelShutdown.
func IsShutdown(err error) bool {
	return errors.Is(err, ErrChannelShutdown)
}

// IsTransient reports whether err is a read failure the foreign process
// is expected to produce while it rebuilds its object graph.
func IsTransient(err error) bool {
	if err == nil || IsShutdown(err) {
		return false
	}
	var re *ReadError
	return errors.Is(err, ErrNullPointer) ||
		errors.Is(err, ErrChainBroken) ||
		errors.Is(err, ErrIncompleteRead) ||
		errors.As(err, &re)
}

// Class is the handling an error calls for at the worker loop.
type Class int

const (
	// Unclassified errors demote the current session.
	Unclassified Class = iota
	// Shutdown ends the worker.
	Shutdown
	// Recoverable ends the session; a fresh one is built.
	Recoverable
	// Transient means the game state is not readable yet; retry later.
	Transient
)

func (c Class) String() string {
	switch c {
	case Shutdown:
		return "shutdown"
	case Recoverable:
		return "recoverable"
	case Transient:
		return "transient"
	default:
		return "unclassified"
	}
}

// recoverable is implemented by errors that end a game session without
// losing the process.
type recoverable interface {
	Recoverable() bool
}

// Classify maps err onto the error taxonomy of the worker.
func Classify(err error) Class {
	var rec recoverable
	switch {
	case IsShutdown(err):
		return Shutdown
	case errors.As(err, &rec) && rec.Recoverable():
		return Recoverable
	case IsTransient(err):
		return Transient
	default:
		return Unclassified
	}
}
