// Package dma describes the raw memory channel used to read a foreign
// process and the drivers that implement it.
package dma

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrProcessNotFound = errors.New("process not found")
	ErrModuleNotFound  = errors.New("module not found")
	ErrUnknownDriver   = errors.New("unknown channel driver")
	ErrEmptyMemMap     = errors.New("memory map returned no entries")
)

// ReadRequest is a single entry of a scatter batch.
type ReadRequest struct {
	Addr uint64
	Size int
}

// Range is a contiguous span of readable memory [Start, End].
type Range struct {
	Start uint64
	End   uint64
}

// Contains reports whether [addr, addr+size) lies inside the range.
func (r Range) Contains(addr uint64, size int) bool {
	if size <= 0 {
		return false
	}
	end := addr + uint64(size) - 1
	return addr >= r.Start && end <= r.End && end >= addr
}

// Process is an attached foreign process. Every read is one bounded
// hardware transaction; nothing here blocks indefinitely.
type Process interface {
	PID() int
	// ModuleBase returns the load address of the named module, or
	// ErrModuleNotFound.
	ModuleBase(name string) (uint64, error)
	// ReadBytes reads size bytes at addr. A short read is returned as is;
	// callers compare lengths.
	ReadBytes(addr uint64, size int) ([]byte, error)
	// BatchRead performs all requests in one round-trip. The result has
	// one element per request; a nil element is a failed read.
	BatchRead(reqs []ReadRequest) [][]byte
}

// Channel is the process-wide handle to the memory device.
type Channel interface {
	FindProcess(name string) (Process, error)
	MapMemory() ([]Range, error)
	Close() error
}

// Config is handed to a driver when the channel is opened.
type Config struct {
	Driver     string
	Device     string
	MemMapPath string
	PID        int
	// MemMap is filled by Open from the memory map artifact. Empty means
	// the driver must run without one (first start or regeneration).
	MemMap []Range
}

// Factory opens a channel for a driver.
type Factory func(cfg Config) (Channel, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Factory)
)

// Register makes a channel driver available by name. It panics when the
// name is registered twice.
func Register(name string, f Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if f == nil {
		panic("dma: Register factory is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("dma: Register called twice for driver " + name)
	}
	drivers[name] = f
}

// Drivers lists the registered driver names.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookup(name string) (Factory, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	f, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownDriver, name, keys(drivers))
	}
	return f, nil
}

func keys(m map[string]Factory) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
