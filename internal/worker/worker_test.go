package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/afumu/barlens/dma"
	"github.com/afumu/barlens/dma/sim"
	"github.com/afumu/barlens/internal/game"
	"github.com/afumu/barlens/internal/game/gamesim"
	"github.com/afumu/barlens/internal/offsets"
	"github.com/afumu/barlens/internal/snapshot"
	"github.com/afumu/barlens/internal/unity"
)

const waitTimeout = 5 * time.Second

// quickSleep keeps every worker pause short but still yields.
func quickSleep(ctx context.Context, d time.Duration) error {
	return unity.Sleep(ctx, time.Millisecond)
}

type recorder struct {
	mu     sync.Mutex
	trans  []Transition
	notify chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 1)}
}

func (r *recorder) hook(t Transition) {
	r.mu.Lock()
	r.trans = append(r.trans, t)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recorder) snapshot() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.trans...)
}

// waitFor blocks until the n-th transition into state to has happened and
// returns its index.
func (r *recorder) waitFor(t *testing.T, to State, n int) int {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		seen := 0
		for i, tr := range r.snapshot() {
			if tr.To == to {
				seen++
				if seen == n {
					return i
				}
			}
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for transition #%d to %s; got %v", n, to, r.snapshot())
		}
	}
}

type countingChannel struct {
	dma.Channel
	closes atomic.Int32
}

func (c *countingChannel) Close() error {
	c.closes.Add(1)
	return c.Channel.Close()
}

func dicedWorld() *gamesim.World {
	w := gamesim.New(offsets.Default())
	w.AddManager()
	p := w.AddPlayer("alice")
	p.SetDice([]int32{2, 3})
	w.SetMode(game.ModeDice)
	w.SetStarted(true)
	return w
}

type fixture struct {
	world   *gamesim.World
	sim     *sim.Channel
	channel *countingChannel
	board   *snapshot.Board
	rec     *recorder
	worker  *Worker
}

func newFixture(t *testing.T, world *gamesim.World, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		world: world,
		sim:   sim.NewChannel(),
		board: snapshot.NewBoard(),
		rec:   newRecorder(),
	}
	if world != nil {
		world.Attach(f.sim)
	}
	f.channel = &countingChannel{Channel: f.sim}
	opts = append([]Option{
		WithHooks(Hooks{OnTransition: f.rec.hook}),
		WithClock(quickSleep, nil),
	}, opts...)
	f.worker = New(DefaultConfig(), f.channel, offsets.NewHolder(offsets.Default()), f.board, opts...)
	t.Cleanup(func() {
		select {
		case <-f.worker.Shutdown():
		case <-time.After(waitTimeout):
			t.Error("worker did not stop")
		}
	})
	return f
}

func TestWorkerReachesMenuBeforeInGame(t *testing.T) {
	f := newFixture(t, dicedWorld())
	f.worker.Start(context.Background())

	i := f.rec.waitFor(t, InGame, 1)
	trans := f.rec.snapshot()
	if i != 1 {
		t.Fatalf("in game reached at transition %d: %v", i, trans)
	}
	if trans[0].From != NotFound || trans[0].To != Menu {
		t.Errorf("first transition = %s -> %s, want not_found -> menu", trans[0].From, trans[0].To)
	}
	if trans[1].From != Menu {
		t.Errorf("in game entered from %s, want menu", trans[1].From)
	}

	st := f.worker.Status()
	if st.PID != gamesim.DefaultPID || st.UnityBase != gamesim.DefaultUnityBase {
		t.Errorf("status = %+v", st)
	}
	if st.Manager != f.world.Manager() {
		t.Errorf("status manager = 0x%X, want 0x%X", st.Manager, f.world.Manager())
	}
}

func TestWorkerPublishesReadout(t *testing.T) {
	f := newFixture(t, dicedWorld())
	ch, cancel := f.board.Subscribe()
	defer cancel()
	f.worker.Start(context.Background())

	select {
	case rows := <-ch:
		if rows[0].Caption != "alice" || rows[0].Value != "2 3" {
			t.Errorf("slot 0 = %+v", rows[0])
		}
		if rows[snapshot.SummarySlot].Value != "0 1 1 0 0 0" {
			t.Errorf("summary = %+v", rows[snapshot.SummarySlot])
		}
	case <-time.After(waitTimeout):
		t.Fatal("no readout published")
	}
}

func TestWorkerRetriesUntilProcessAppears(t *testing.T) {
	world := dicedWorld()
	f := newFixture(t, nil)

	var retries atomic.Int32
	sleep := func(ctx context.Context, d time.Duration) error {
		if d == DefaultConfig().AttachRetry && retries.Add(1) == 2 {
			world.Attach(f.sim)
		}
		return quickSleep(ctx, d)
	}
	f.worker.sleep = sleep
	f.worker.Start(context.Background())

	f.rec.waitFor(t, InGame, 1)
	if n := retries.Load(); n != 2 {
		t.Errorf("attach retried %d times, want 2", n)
	}
	for _, tr := range f.rec.snapshot() {
		if tr.From == NotFound && tr.To == InGame {
			t.Errorf("skipped menu: %v", tr)
		}
	}
}

func TestWorkerRestartBuildsFreshSession(t *testing.T) {
	world := dicedWorld()
	f := newFixture(t, world)
	f.worker.Start(context.Background())

	f.rec.waitFor(t, InGame, 1)
	first := f.worker.Status()

	relocated := world.RelocateManager()
	f.worker.RequestRestart()

	i := f.rec.waitFor(t, InGame, 2)
	trans := f.rec.snapshot()
	if prev := trans[i-1]; prev.From != InGame || prev.To != Menu {
		t.Errorf("restart went %s -> %s, want in_game -> menu", prev.From, prev.To)
	}

	second := f.worker.Status()
	if second.SessionID == first.SessionID {
		t.Error("restart reused the session")
	}
	if second.Manager != relocated || second.Manager == first.Manager {
		t.Errorf("manager after restart = 0x%X, want 0x%X (was 0x%X)", second.Manager, relocated, first.Manager)
	}
}

func TestWorkerSessionEndReturnsToMenu(t *testing.T) {
	world := dicedWorld()
	f := newFixture(t, world)
	f.worker.Start(context.Background())

	f.rec.waitFor(t, InGame, 1)
	world.SetStarted(false)
	f.rec.waitFor(t, Menu, 2)
	if s := f.worker.CurrentState(); s != Menu {
		t.Errorf("state = %s, want menu", s)
	}

	world.SetStarted(true)
	f.rec.waitFor(t, InGame, 2)
}

func TestWorkerUnclassifiedErrorDemotesSession(t *testing.T) {
	world := gamesim.New(offsets.Default())
	world.AddManager()
	world.AddPlayer("alice")
	world.SetMode(game.ModeCards)
	world.SetLastRound([]int32{42})
	world.SetStarted(true)

	f := newFixture(t, world)
	f.worker.Start(context.Background())

	i := f.rec.waitFor(t, Error, 1)
	if tr := f.rec.snapshot()[i]; tr.From != InGame {
		t.Errorf("error entered from %s, want in_game", tr.From)
	}
	// the worker keeps running and starts over
	f.rec.waitFor(t, Menu, 2)
}

func TestWorkerGameNotRunningRediscovers(t *testing.T) {
	world := gamesim.New(offsets.Default())
	world.BreakGameObjectManager()
	f := newFixture(t, world)
	f.worker.Start(context.Background())

	f.rec.waitFor(t, NotFound, 2)
	if n := f.worker.Status().Sessions; n < 2 {
		t.Errorf("sessions = %d, want a fresh session per attach", n)
	}
}

func TestWorkerShutdownIdempotent(t *testing.T) {
	f := newFixture(t, dicedWorld())
	f.worker.Start(context.Background())
	f.rec.waitFor(t, InGame, 1)

	d1 := f.worker.Shutdown()
	d2 := f.worker.Shutdown()
	if d1 != d2 {
		t.Error("Shutdown returned different channels")
	}
	select {
	case <-d1:
	case <-time.After(waitTimeout):
		t.Fatal("worker did not stop")
	}
	if n := f.channel.closes.Load(); n != 1 {
		t.Errorf("channel closed %d times, want 1", n)
	}
	if s := f.worker.CurrentState(); s != NotFound {
		t.Errorf("state after shutdown = %s, want not_found", s)
	}

	f.worker.Start(context.Background())
	if n := f.channel.closes.Load(); n != 1 {
		t.Errorf("Start after Shutdown reopened the worker")
	}
}

func TestWorkerShutdownBeforeStart(t *testing.T) {
	f := newFixture(t, dicedWorld())
	select {
	case <-f.worker.Shutdown():
	case <-time.After(waitTimeout):
		t.Fatal("Shutdown before Start did not complete")
	}
	if !f.sim.Closed() {
		t.Error("channel not released")
	}
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	f := newFixture(t, dicedWorld())
	ctx, cancel := context.WithCancel(context.Background())
	f.worker.Start(ctx)
	f.rec.waitFor(t, InGame, 1)
	cancel()

	select {
	case <-f.worker.Done():
	case <-time.After(waitTimeout):
		t.Fatal("worker ignored cancellation")
	}
	if !f.sim.Closed() {
		t.Error("channel not released")
	}
}

func TestCountTick(t *testing.T) {
	clock := time.Unix(1000, 0)
	w := New(DefaultConfig(), sim.NewChannel(), offsets.NewHolder(offsets.Default()), nil,
		WithClock(nil, func() time.Time { return clock }))
	w.tickWindow = clock

	for i := 0; i < 5; i++ {
		w.countTick()
	}
	if n := w.TicksPerSecond(); n != 0 {
		t.Errorf("ticks published early: %d", n)
	}
	clock = clock.Add(time.Second)
	w.countTick()
	if n := w.TicksPerSecond(); n != 5 {
		t.Errorf("TicksPerSecond = %d, want 5", n)
	}
}

func TestCountTickSteadyCadence(t *testing.T) {
	clock := time.Unix(1000, 0)
	w := New(DefaultConfig(), sim.NewChannel(), offsets.NewHolder(offsets.Default()), nil,
		WithClock(nil, func() time.Time { return clock }))
	w.tickWindow = clock

	var got []int64
	for i := 0; i < 6; i++ {
		w.countTick()
		got = append(got, w.TicksPerSecond())
		clock = clock.Add(time.Second)
	}
	// nothing is published until the first window closes
	want := []int64{0, 1, 1, 1, 1, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("TicksPerSecond over time = %v, want %v", got, want)
		}
	}
}

func TestCountTickRollover(t *testing.T) {
	clock := time.Unix(1000, 0)
	w := New(DefaultConfig(), sim.NewChannel(), offsets.NewHolder(offsets.Default()), nil,
		WithClock(nil, func() time.Time { return clock }))
	w.tickWindow = clock

	w.countTick()
	clock = clock.Add(time.Second)
	w.countTick() // opens the second window
	clock = clock.Add(500 * time.Millisecond)
	w.countTick()
	w.countTick()
	clock = clock.Add(500 * time.Millisecond)
	w.countTick()
	if n := w.TicksPerSecond(); n != 3 {
		t.Errorf("TicksPerSecond = %d, want 3", n)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		NotFound: "not_found",
		Found:    "found",
		Menu:     "menu",
		InGame:   "in_game",
		Error:    "error",
		State(9): "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", s, got, want)
		}
	}
}
