// Package snapshot publishes the per-tick table readout to its consumers.
package snapshot

import "sync"

// Slots is the number of rows in a readout: four seats and a summary.
const Slots = 5

// SummarySlot holds the dice histogram or the previous card round.
const SummarySlot = Slots - 1

type Row struct {
	Caption string `json:"caption"`
	Value   string `json:"value"`
}

// Rows is one complete readout. Empty slots carry two empty strings.
type Rows [Slots]Row

// Sink receives each readout wholesale.
type Sink interface {
	Publish(rows Rows)
}

// Board keeps the latest readout and fans it out to subscribers. Delivery
// never blocks the publisher: a subscriber that has not drained its
// previous readout misses the new one.
type Board struct {
	mu     sync.RWMutex
	rows   Rows
	seq    uint64
	subs   map[int]chan Rows
	nextID int
}

func NewBoard() *Board {
	return &Board{subs: make(map[int]chan Rows)}
}

func (b *Board) Publish(rows Rows) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = rows
	b.seq++
	for _, ch := range b.subs {
		select {
		case ch <- rows:
		default:
		}
	}
}

// Rows returns a copy of the latest readout and how many readouts have
// been published so far.
func (b *Board) Rows() (Rows, uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rows, b.seq
}

// Clear publishes an empty readout.
func (b *Board) Clear() {
	b.Publish(Rows{})
}

// Subscribe returns a channel receiving each later readout and a cancel
// func that closes it.
func (b *Board) Subscribe() (<-chan Rows, func()) {
	ch := make(chan Rows, 1)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Fanout forwards each readout to several sinks in order.
type Fanout []Sink

func (f Fanout) Publish(rows Rows) {
	for _, s := range f {
		s.Publish(rows)
	}
}
