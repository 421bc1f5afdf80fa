package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/afumu/barlens/internal/model"
	"github.com/afumu/barlens/internal/snapshot"
	"github.com/rs/zerolog/log"
)

const recorderBuffer = 256

type job struct {
	name string
	fn   func(ctx context.Context) error
}

// Recorder writes readouts and worker events to a Store off the worker
// goroutine. When the queue is full new events are dropped.
type Recorder struct {
	store     Store
	now       func() time.Time
	retention time.Duration

	mu      sync.Mutex
	session string
	last    snapshot.Rows
	hasLast bool
	closed  bool

	jobs    chan job
	done    chan struct{}
	dropped atomic.Int64
	once    sync.Once
}

type RecorderOption func(*Recorder)

// WithRetention prunes readouts older than d once an hour.
func WithRetention(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.retention = d }
}

func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

func NewRecorder(s Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store: s,
		now:   time.Now,
		jobs:  make(chan job, recorderBuffer),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drains the queue until Close is called or ctx ends.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)

	var prune <-chan time.Time
	if r.retention > 0 {
		t := time.NewTicker(time.Hour)
		defer t.Stop()
		prune = t.C
	}

	for {
		select {
		case j, ok := <-r.jobs:
			if !ok {
				return
			}
			if err := j.fn(ctx); err != nil {
				log.Warn().Err(err).Str("job", j.name).Msg("history write failed")
			}
		case <-prune:
			n, err := r.store.Prune(ctx, r.now().Add(-r.retention))
			if err != nil {
				log.Warn().Err(err).Msg("history prune failed")
			} else if n > 0 {
				log.Debug().Int64("rows", n).Msg("history pruned")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close stops accepting events and waits for queued ones to be written.
// Run must have been started.
func (r *Recorder) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.jobs)
		r.mu.Unlock()
	})
	<-r.done
}

// Dropped reports how many events were lost to a full queue.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) enqueue(j job) {
	if r.closed {
		return
	}
	select {
	case r.jobs <- j:
	default:
		if r.dropped.Add(1) == 1 {
			log.Warn().Str("job", j.name).Msg("history queue full, dropping events")
		}
	}
}

// Publish records a readout. Blank readouts and repeats of the previous
// readout are skipped.
func (r *Recorder) Publish(rows snapshot.Rows) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rows == (snapshot.Rows{}) || (r.hasLast && rows == r.last) {
		return
	}
	r.last, r.hasLast = rows, true

	at := r.now()
	batch := make([]model.SnapshotRow, 0, snapshot.Slots)
	for i, row := range rows {
		batch = append(batch, model.SnapshotRow{
			SessionID: r.session,
			TakenAt:   at,
			Slot:      i,
			Caption:   row.Caption,
			Value:     row.Value,
		})
	}
	r.enqueue(job{name: "snapshot", fn: func(ctx context.Context) error {
		return r.store.RecordSnapshot(ctx, batch)
	}})
}

func (r *Recorder) SessionStarted(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = id
	r.hasLast = false
	at := r.now()
	r.enqueue(job{name: "begin_session", fn: func(ctx context.Context) error {
		return r.store.BeginSession(ctx, id, at)
	}})
}

func (r *Recorder) SessionEnded(id, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == id {
		r.session = ""
	}
	at := r.now()
	r.enqueue(job{name: "end_session", fn: func(ctx context.Context) error {
		return r.store.EndSession(ctx, id, at, reason)
	}})
}

func (r *Recorder) Transition(t model.Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueue(job{name: "transition", fn: func(ctx context.Context) error {
		return r.store.RecordTransition(ctx, t)
	}})
}
