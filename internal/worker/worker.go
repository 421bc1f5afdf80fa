// Package worker owns the memory channel and drives the attach, wait and
// tick loop on a single goroutine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/afumu/barlens/dma"
	"github.com/afumu/barlens/internal/game"
	"github.com/afumu/barlens/internal/offsets"
	"github.com/afumu/barlens/internal/snapshot"
	"github.com/afumu/barlens/internal/unity"
	"github.com/afumu/barlens/memory"
	"github.com/rs/zerolog/log"
)

type Config struct {
	ProcessName string
	ModuleName  string

	AttachRetry  time.Duration
	TickInterval time.Duration
	SessionPause time.Duration
	ManagerPoll  time.Duration
	Settle       time.Duration
}

func DefaultConfig() Config {
	return Config{
		ProcessName:  "Liar's Bar.exe",
		ModuleName:   "UnityPlayer.dll",
		AttachRetry:  15 * time.Second,
		TickInterval: time.Second,
		SessionPause: 100 * time.Millisecond,
		ManagerPoll:  1500 * time.Millisecond,
		Settle:       time.Second,
	}
}

// Hooks are called on the worker goroutine and must not block.
type Hooks struct {
	OnTransition   func(Transition)
	OnSessionStart func(id string)
	OnSessionEnd   func(id string, reason string)
}

type Status struct {
	State          State         `json:"state"`
	TicksPerSecond int64         `json:"ticks_per_second"`
	PID            int           `json:"pid"`
	UnityBase      uint64        `json:"unity_base"`
	Manager        uint64        `json:"manager"`
	SessionID      string        `json:"session_id"`
	Uptime         time.Duration `json:"uptime"`
	Sessions       int64         `json:"sessions"`
}

type Worker struct {
	cfg     Config
	channel dma.Channel
	tables  *offsets.Holder
	sink    snapshot.Sink
	hooks   Hooks

	sleep unity.SleepFunc
	now   func() time.Time

	stopped atomic.Bool
	restart atomic.Bool
	state   atomic.Int32
	ticks   atomic.Int64

	mu        sync.RWMutex
	pid       int
	unityBase uint64
	manager   uint64
	sessionID string
	attached  time.Time
	sessions  int64

	tickCounter int64
	tickWindow  time.Time

	lifecycle sync.Mutex
	started   bool
	cancel    context.CancelFunc
	done      chan struct{}
	once      sync.Once
}

type Option func(*Worker)

func WithHooks(h Hooks) Option {
	return func(w *Worker) { w.hooks = h }
}

// WithClock replaces the sleep and time source, for tests.
func WithClock(sleep unity.SleepFunc, now func() time.Time) Option {
	return func(w *Worker) {
		if sleep != nil {
			w.sleep = sleep
		}
		if now != nil {
			w.now = now
		}
	}
}

// New creates a worker that becomes the only user of channel.
func New(cfg Config, channel dma.Channel, tables *offsets.Holder, sink snapshot.Sink, opts ...Option) *Worker {
	w := &Worker{
		cfg:     cfg,
		channel: channel,
		tables:  tables,
		sink:    sink,
		sleep:   unity.Sleep,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the worker goroutine. It is a no-op after the first call
// or after Shutdown.
func (w *Worker) Start(ctx context.Context) {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	if w.started || w.stopped.Load() {
		return
	}
	w.started = true
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
}

// RequestRestart asks for a fresh game session; it is honored at the next
// tick.
func (w *Worker) RequestRestart() {
	w.restart.Store(true)
}

// Shutdown stops the worker and releases the channel. It never blocks; the
// returned channel is closed once the worker has exited. Calling it again
// returns the same channel.
func (w *Worker) Shutdown() <-chan struct{} {
	w.once.Do(func() {
		w.lifecycle.Lock()
		defer w.lifecycle.Unlock()
		w.stopped.Store(true)
		if w.cancel != nil {
			w.cancel()
			return
		}
		// never started
		go func() {
			w.releaseChannel()
			close(w.done)
		}()
	})
	return w.done
}

// Done is closed when the worker has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) CurrentState() State { return State(w.state.Load()) }

func (w *Worker) TicksPerSecond() int64 { return w.ticks.Load() }

func (w *Worker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	st := Status{
		State:          w.CurrentState(),
		TicksPerSecond: w.TicksPerSecond(),
		PID:            w.pid,
		UnityBase:      w.unityBase,
		Manager:        w.manager,
		SessionID:      w.sessionID,
		Sessions:       w.sessions,
	}
	if !w.attached.IsZero() {
		st.Uptime = w.now().Sub(w.attached)
	}
	return st
}

func (w *Worker) setState(to State) {
	from := State(w.state.Swap(int32(to)))
	if from == to {
		return
	}
	w.mu.RLock()
	id := w.sessionID
	w.mu.RUnlock()
	log.Info().Str("from", from.String()).Str("to", to.String()).Msg("state changed")
	if w.hooks.OnTransition != nil {
		w.hooks.OnTransition(Transition{From: from, To: to, At: w.now(), SessionID: id})
	}
}

func (w *Worker) releaseChannel() {
	log.Info().Msg("closing memory channel")
	if err := w.channel.Close(); err != nil {
		log.Error().Err(err).Msg("close memory channel")
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.setState(NotFound)
	defer w.releaseChannel()

	for ctx.Err() == nil && !w.stopped.Load() {
		proc, base, err := w.attach()
		if err != nil {
			w.setState(NotFound)
			log.Info().Err(err).Msgf("%s startup failed, trying again in %s", w.cfg.ProcessName, w.cfg.AttachRetry)
			if err := w.sleep(ctx, w.cfg.AttachRetry); err != nil {
				break
			}
			continue
		}
		log.Info().Int("pid", proc.PID()).Msgf("%s located at 0x%X, startup successful", w.cfg.ModuleName, base)

		err = w.runSessions(ctx, proc, base)
		if memory.IsShutdown(err) || ctx.Err() != nil {
			break
		}
		log.Info().Err(err).Msg("game is no longer running, attempting to restart")
		w.detach()
		w.setState(NotFound)
	}
	log.Info().Msg("memory worker stopped")
}

func (w *Worker) attach() (dma.Process, uint64, error) {
	proc, err := w.channel.FindProcess(w.cfg.ProcessName)
	if err != nil {
		return nil, 0, err
	}
	base, err := proc.ModuleBase(w.cfg.ModuleName)
	if err != nil {
		return nil, 0, err
	}
	if base == 0 {
		return nil, 0, fmt.Errorf("%w: %s", dma.ErrModuleNotFound, w.cfg.ModuleName)
	}
	w.mu.Lock()
	w.pid = proc.PID()
	w.unityBase = base
	w.attached = w.now()
	w.mu.Unlock()
	return proc, base, nil
}

func (w *Worker) detach() {
	w.mu.Lock()
	w.pid = 0
	w.unityBase = 0
	w.manager = 0
	w.attached = time.Time{}
	w.mu.Unlock()
}

// runSessions runs game sessions back to back until the process is lost or
// the worker stops.
func (w *Worker) runSessions(ctx context.Context, proc dma.Process, base uint64) error {
	for {
		err := w.session(ctx, proc, base)
		if memory.IsShutdown(err) || ctx.Err() != nil {
			return err
		}
		if perr := w.sleep(ctx, w.cfg.SessionPause); perr != nil {
			return perr
		}
		if errors.Is(err, game.ErrGameNotRunning) {
			return err
		}
	}
}

// session builds a fresh game session, waits for the round and ticks it
// until it ends. A nil return means a restart was requested.
func (w *Worker) session(ctx context.Context, proc dma.Process, base uint64) (err error) {
	table := w.tables.Current()
	r := memory.NewReader(proc,
		memory.WithStopFlag(&w.stopped),
		memory.WithStringLayout(memory.StringLayout{
			LengthOffset: table.UnityString.Length,
			ValueOffset:  table.UnityString.Value,
		}),
	)
	sess := game.NewSession(r, base, table,
		game.WithSleep(w.sleep),
		game.WithTiming(w.cfg.ManagerPoll, w.cfg.Settle),
	)

	w.mu.Lock()
	w.sessionID = sess.ID()
	w.manager = 0
	w.sessions++
	w.mu.Unlock()
	if w.hooks.OnSessionStart != nil {
		w.hooks.OnSessionStart(sess.ID())
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in game session: %v", p)
			log.Error().Str("session", sess.ID()).Err(err).Msg("critical error in game loop")
			w.setState(Error)
		}
		if w.hooks.OnSessionEnd != nil {
			reason := "restart"
			if err != nil {
				reason = err.Error()
			}
			w.hooks.OnSessionEnd(sess.ID(), reason)
		}
	}()

	log.Info().Str("session", sess.ID()).Str("offsets", table.Version).Msg("ready, waiting for game")
	w.setState(Menu)
	if err := sess.WaitForGame(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	w.manager = sess.Manager()
	w.mu.Unlock()
	w.setState(InGame)
	w.tickWindow = w.now()
	w.tickCounter = 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.countTick()

		if w.restart.Swap(false) {
			log.Info().Msg("restarting game, getting a fresh session")
			w.setState(Menu)
			return nil
		}

		rows, ok, err := sess.Tick()
		if err == nil {
			if ok && w.sink != nil {
				w.sink.Publish(rows)
			}
		} else {
			switch memory.Classify(err) {
			case memory.Shutdown:
				return err
			case memory.Recoverable:
				log.Info().Err(err).Msg("game has ended")
				w.setState(Menu)
				return err
			case memory.Transient:
				log.Debug().Err(err).Msg("tick skipped, game state not readable yet")
			default:
				log.Error().Err(err).Str("session", sess.ID()).Msg("critical error in game loop")
				w.setState(Error)
				return err
			}
		}

		if err := w.sleep(ctx, w.cfg.TickInterval); err != nil {
			return err
		}
	}
}

// countTick publishes the number of ticks seen in each one-second window.
// The tick that opens a window counts toward it.
func (w *Worker) countTick() {
	now := w.now()
	if now.Sub(w.tickWindow) >= time.Second {
		w.ticks.Store(w.tickCounter)
		w.tickCounter = 1
		w.tickWindow = now
		return
	}
	w.tickCounter++
}
