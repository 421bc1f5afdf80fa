// Package sim is an in-memory dma driver. It backs the tests and the
// "sim" channel used to run the reader without a device attached.
package sim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/afumu/barlens/dma"
	"golang.org/x/text/encoding/unicode"
)

const pageSize = 0x1000

var ErrUnmapped = errors.New("sim: address not mapped")

// Space is a sparse simulated address space of one process.
type Space struct {
	mu      sync.RWMutex
	pid     int
	pages   map[uint64][]byte
	faults  map[uint64]struct{}
	modules map[string]uint64
	next    uint64

	reads   atomic.Int64
	batches atomic.Int64
}

// NewSpace returns an empty address space. Allocations start at base.
func NewSpace(pid int, base uint64) *Space {
	if base == 0 {
		base = 0x10000000
	}
	return &Space{
		pid:     pid,
		pages:   make(map[uint64][]byte),
		faults:  make(map[uint64]struct{}),
		modules: make(map[string]uint64),
		next:    base,
	}
}

func (s *Space) PID() int { return s.pid }

// AddModule registers a module load address.
func (s *Space) AddModule(name string, base uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[strings.ToLower(name)] = base
}

func (s *Space) ModuleBase(name string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	base, ok := s.modules[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", dma.ErrModuleNotFound, name)
	}
	return base, nil
}

// Alloc reserves size zeroed bytes, 16-byte aligned, and maps them.
func (s *Space) Alloc(size int) uint64 {
	s.mu.Lock()
	addr := s.next
	s.next += (uint64(size) + 15) &^ 15
	if size == 0 {
		s.next += 16
	}
	s.mu.Unlock()
	s.Map(addr, size)
	return addr
}

// Map makes [addr, addr+size) readable without changing its contents.
func (s *Space) Map(addr uint64, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := addr &^ (pageSize - 1); p < addr+uint64(size); p += pageSize {
		if _, ok := s.pages[p]; !ok {
			s.pages[p] = make([]byte, pageSize)
		}
	}
}

// Unmap drops the page holding addr.
func (s *Space) Unmap(addr uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pages, addr&^(pageSize-1))
}

// Fault makes every read starting at addr fail.
func (s *Space) Fault(addr uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[addr] = struct{}{}
}

// Write copies b to addr, mapping pages as needed.
func (s *Space) Write(addr uint64, b []byte) {
	s.Map(addr, len(b))
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < len(b); {
		p := (addr + uint64(i)) &^ (pageSize - 1)
		off := int(addr + uint64(i) - p)
		n := copy(s.pages[p][off:], b[i:])
		i += n
	}
}

func (s *Space) PutUint64(addr, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	s.Write(addr, b[:])
}

func (s *Space) PutInt32(addr uint64, v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	s.Write(addr, b[:])
}

func (s *Space) PutBool(addr uint64, v bool) {
	b := []byte{0}
	if v {
		b[0] = 1
	}
	s.Write(addr, b)
}

// PutCString writes a NUL-terminated string.
func (s *Space) PutCString(addr uint64, v string) {
	s.Write(addr, append([]byte(v), 0))
}

// PutUTF16 writes v as little-endian UTF-16 without a length prefix.
func (s *Space) PutUTF16(addr uint64, v string) {
	b, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(v))
	if err != nil {
		panic(err)
	}
	s.Write(addr, b)
}

// ReadCalls counts single reads, BatchCalls counts scatter round-trips.
func (s *Space) ReadCalls() int64  { return s.reads.Load() }
func (s *Space) BatchCalls() int64 { return s.batches.Load() }

// ResetStats zeroes the call counters.
func (s *Space) ResetStats() {
	s.reads.Store(0)
	s.batches.Store(0)
}

func (s *Space) ReadBytes(addr uint64, size int) ([]byte, error) {
	s.reads.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(addr, size)
}

func (s *Space) BatchRead(reqs []dma.ReadRequest) [][]byte {
	s.batches.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]byte, len(reqs))
	for i, req := range reqs {
		b, err := s.read(req.Addr, req.Size)
		if err != nil || len(b) != req.Size {
			continue
		}
		out[i] = b
	}
	return out
}

// read returns the mapped prefix of the request; a request whose first
// byte is unmapped fails.
func (s *Space) read(addr uint64, size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("sim: invalid size %d", size)
	}
	if _, bad := s.faults[addr]; bad {
		return nil, fmt.Errorf("sim: read fault at 0x%x", addr)
	}
	out := make([]byte, 0, size)
	for len(out) < size {
		cur := addr + uint64(len(out))
		p := cur &^ (pageSize - 1)
		page, ok := s.pages[p]
		if !ok {
			break
		}
		off := int(cur - p)
		n := size - len(out)
		if n > pageSize-off {
			n = pageSize - off
		}
		out = append(out, page[off:off+n]...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: 0x%x", ErrUnmapped, addr)
	}
	return out, nil
}

// Ranges returns the mapped pages coalesced into ranges.
func (s *Space) Ranges() []dma.Range {
	s.mu.RLock()
	starts := make([]uint64, 0, len(s.pages))
	for p := range s.pages {
		starts = append(starts, p)
	}
	s.mu.RUnlock()
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	var out []dma.Range
	for _, p := range starts {
		if n := len(out); n > 0 && out[n-1].End+1 == p {
			out[n-1].End = p + pageSize - 1
			continue
		}
		out = append(out, dma.Range{Start: p, End: p + pageSize - 1})
	}
	return out
}

// Channel is a dma.Channel over a set of simulated processes.
type Channel struct {
	mu     sync.Mutex
	procs  map[string]*Space
	closed bool
}

func NewChannel() *Channel {
	return &Channel{procs: make(map[string]*Space)}
}

// AddProcess makes space discoverable under name.
func (c *Channel) AddProcess(name string, space *Space) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.procs[strings.ToLower(name)] = space
}

// RemoveProcess simulates the process exiting.
func (c *Channel) RemoveProcess(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.procs, strings.ToLower(name))
}

func (c *Channel) FindProcess(name string) (dma.Process, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("sim: channel closed")
	}
	space, ok := c.procs[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", dma.ErrProcessNotFound, name)
	}
	return space, nil
}

func (c *Channel) MapMemory() ([]dma.Range, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []dma.Range
	for _, space := range c.procs {
		out = append(out, space.Ranges()...)
	}
	if len(out) == 0 {
		out = []dma.Range{{Start: 0x1000, End: 0x7fffffffffff}}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
