package memory

import (
	"encoding/binary"

	"github.com/afumu/barlens/dma"
)

// EntryState is the outcome of a scatter entry.
type EntryState int

const (
	Pending EntryState = iota
	Succeeded
	Failed
)

func (s EntryState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Source is where an entry's base address comes from: a literal, or the
// pointer value produced by an entry of an earlier round.
type Source struct {
	addr uint64
	from *Entry
}

func Literal(addr uint64) Source { return Source{addr: addr} }

func From(e *Entry) Source { return Source{from: e} }

// Entry is one read in a scatter round, identified by (Row, Column).
type Entry struct {
	Row    int
	Column int
	Offset uint64
	Size   int

	src   Source
	addr  uint64
	state EntryState
	buf   []byte
}

func (e *Entry) State() EntryState { return e.state }

func (e *Entry) Ok() bool { return e != nil && e.state == Succeeded }

// Addr is the absolute address the entry read from, once prepared.
func (e *Entry) Addr() uint64 { return e.addr }

// Bytes returns the raw result, or nil when the entry did not succeed.
func (e *Entry) Bytes() []byte {
	if !e.Ok() {
		return nil
	}
	return e.buf
}

// Uint64 returns the result as a pointer-sized value, zero on failure.
func (e *Entry) Uint64() uint64 {
	if !e.Ok() || len(e.buf) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(e.buf)
}

// Int32 returns the result as an int32, zero on failure.
func (e *Entry) Int32() int32 {
	if !e.Ok() || len(e.buf) < 4 {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(e.buf))
}

// prepare resolves the absolute address. An entry whose dependency is
// missing or zero fails here and never reaches the device.
func (e *Entry) prepare() bool {
	base := e.src.addr
	if e.src.from != nil {
		base = e.src.from.Uint64()
	}
	if base == 0 || e.Size <= 0 {
		e.state = Failed
		return false
	}
	e.addr = base + e.Offset
	return true
}

// ReadScatter runs one round: every address is computed first, then all
// of them go to the device in a single BatchRead. A failed entry never
// aborts the others.
func (r *Reader) ReadScatter(entries []*Entry) error {
	if err := r.checkRunning(); err != nil {
		return err
	}

	reqs := make([]dma.ReadRequest, 0, len(entries))
	prepared := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if e == nil || e.state == Failed {
			continue
		}
		if !e.prepare() {
			continue
		}
		reqs = append(reqs, dma.ReadRequest{Addr: e.addr, Size: e.Size})
		prepared = append(prepared, e)
	}

	results := r.proc.BatchRead(reqs)

	for i, e := range prepared {
		var buf []byte
		if i < len(results) {
			buf = results[i]
		}
		if len(buf) != e.Size {
			e.state = Failed
			continue
		}
		e.buf = buf
		e.state = Succeeded
	}
	return nil
}

// Round is a set of entries with no dependency on each other.
type Round struct {
	m       *ScatterReadMap
	entries []*Entry
}

// AddEntry adds a read of size bytes at src+offset to the round.
func (rd *Round) AddEntry(row, column int, src Source, offset uint64, size int) *Entry {
	e := &Entry{Row: row, Column: column, Offset: offset, Size: size, src: src}
	rd.entries = append(rd.entries, e)
	rd.m.put(e)
	return e
}

// Entries returns the entries added to the round.
func (rd *Round) Entries() []*Entry { return rd.entries }

// ScatterReadMap is an ordered sequence of rounds where round c+1 reads
// addresses produced by round c. It is built per batch and discarded.
type ScatterReadMap struct {
	rounds  []*Round
	results [][]*Entry
}

// NewScatterReadMap creates a map for rows independent units of work.
func NewScatterReadMap(rows int) *ScatterReadMap {
	if rows < 0 {
		rows = 0
	}
	return &ScatterReadMap{results: make([][]*Entry, rows)}
}

func (m *ScatterReadMap) AddRound() *Round {
	rd := &Round{m: m}
	m.rounds = append(m.rounds, rd)
	return rd
}

func (m *ScatterReadMap) Rounds() int { return len(m.rounds) }

func (m *ScatterReadMap) put(e *Entry) {
	for e.Row >= len(m.results) {
		m.results = append(m.results, nil)
	}
	row := m.results[e.Row]
	for e.Column >= len(row) {
		row = append(row, nil)
	}
	row[e.Column] = e
	m.results[e.Row] = row
}

var missing = &Entry{state: Failed}

// Result returns the entry at (row, column). Unknown coordinates yield a
// failed entry rather than nil.
func (m *ScatterReadMap) Result(row, column int) *Entry {
	if row < 0 || row >= len(m.results) {
		return missing
	}
	cols := m.results[row]
	if column < 0 || column >= len(cols) || cols[column] == nil {
		return missing
	}
	return cols[column]
}

// Execute runs the rounds in order, one device round-trip each. Round c+1
// is prepared only after round c has completed.
func (m *ScatterReadMap) Execute(r *Reader) error {
	for _, rd := range m.rounds {
		if err := r.ReadScatter(rd.entries); err != nil {
			return err
		}
	}
	return nil
}
