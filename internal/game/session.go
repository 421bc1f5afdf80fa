// Package game reads one match of the game: it waits for a round to
// start and then extracts a table readout per tick.
package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/afumu/barlens/internal/offsets"
	"github.com/afumu/barlens/internal/snapshot"
	"github.com/afumu/barlens/internal/unity"
	"github.com/afumu/barlens/memory"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// sessionError ends a session without losing the process.
type sessionError string

func (e sessionError) Error() string { return string(e) }

func (sessionError) Recoverable() bool { return true }

var (
	// ErrGameNotRunning means the engine itself is unreachable and the
	// process should be located again.
	ErrGameNotRunning error = sessionError("game is not running")
	// ErrSessionEnded means the match is over; a new session is needed.
	ErrSessionEnded     error = sessionError("game session ended")
	ErrComponentMissing       = errors.New("component not found")
)

const (
	ModeCards = 0
	ModeDice  = 1

	// MaxSeats is the number of player slots in a readout.
	MaxSeats = snapshot.SummarySlot

	maxListLen  = 256
	managerName = "Manager"

	DiceSummaryCaption = "Summary\n1 2 3 4 5 6"
	LastRoundCaption   = "Last Round"
)

type Session struct {
	id        string
	r         *memory.Reader
	walker    *unity.Walker
	t         *offsets.Table
	unityBase uint64

	gom     *unity.GameObjectManager
	manager uint64
	inGame  bool

	managerPoll time.Duration
	settle      time.Duration
	sleep       unity.SleepFunc
	logger      zerolog.Logger
}

type Option func(*Session)

// WithTiming overrides the manager poll interval and the settle delay
// before a found round is read.
func WithTiming(managerPoll, settle time.Duration) Option {
	return func(s *Session) {
		s.managerPoll = managerPoll
		s.settle = settle
	}
}

func WithSleep(fn unity.SleepFunc) Option {
	return func(s *Session) { s.sleep = fn }
}

// NewSession prepares a session against the engine module at unityBase.
// The table is fixed for the lifetime of the session.
func NewSession(r *memory.Reader, unityBase uint64, t *offsets.Table, opts ...Option) *Session {
	s := &Session{
		id:          uuid.NewString(),
		r:           r,
		t:           t,
		unityBase:   unityBase,
		managerPoll: 1500 * time.Millisecond,
		settle:      time.Second,
		sleep:       unity.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.With().Str("session", s.id).Logger()
	s.walker = unity.NewWalker(r, t, unity.WithSleep(s.sleep))
	return s
}

func (s *Session) ID() string { return s.id }

// Manager returns the manager fields address, 0 before the round started.
func (s *Session) Manager() uint64 { return s.manager }

func (s *Session) InGame() bool { return s.inGame }

// WaitForGame blocks until a round has started. It fails with
// ErrGameNotRunning when the object manager cannot be read.
func (s *Session) WaitForGame(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.readGOM(); err != nil {
			return err
		}
		found, err := s.findManager(ctx)
		if err != nil {
			return err
		}
		if found {
			break
		}
		if err := s.sleep(ctx, s.managerPoll); err != nil {
			return err
		}
	}
	if err := s.sleep(ctx, s.settle); err != nil {
		return err
	}
	s.logger.Info().Msg("game has started")
	s.inGame = true
	return nil
}

func (s *Session) readGOM() error {
	gom, err := s.walker.ReadGameObjectManager(s.unityBase)
	if err != nil {
		if memory.IsShutdown(err) {
			return err
		}
		return fmt.Errorf("%w: reading game object manager: %v", ErrGameNotRunning, err)
	}
	s.gom = gom
	return nil
}

// findManager reports whether the manager object exists and its round
// has started. Read failures here mean "not yet".
func (s *Session) findManager(ctx context.Context) (bool, error) {
	head, tail, err := s.walker.ListBounds(s.gom)
	if err != nil {
		if memory.IsShutdown(err) {
			return false, err
		}
		s.logger.Debug().Err(err).Msg("active object list not readable")
		return false, nil
	}
	obj, err := s.walker.FindObjectByName(ctx, head, tail, managerName)
	if err != nil {
		if memory.IsShutdown(err) || ctx.Err() != nil {
			return false, err
		}
		s.logger.Debug().Err(err).Msg("active object list walk failed")
		return false, nil
	}
	if obj == 0 {
		s.logger.Debug().Msg("unable to find manager object, likely not in game")
		return false, nil
	}

	manager, err := s.r.ResolveChain(obj, s.t.UnityComponent.ToComponent)
	if err != nil {
		if memory.IsShutdown(err) {
			return false, err
		}
		s.logger.Debug().Err(err).Msg("manager component not resolvable")
		return false, nil
	}
	started, err := s.r.ReadBool(manager + s.t.Manager.GameStarted)
	if err != nil {
		if memory.IsShutdown(err) {
			return false, err
		}
		s.logger.Warn().Err(err).Msg("error reading game started flag, retrying")
		return false, nil
	}
	if !started {
		s.logger.Debug().Msg("game hasn't started")
		return false, nil
	}
	s.manager = manager
	s.logger.Info().Msgf("found manager at 0x%X", manager)
	return true, nil
}

// Tick extracts one readout. The bool is false when the current round
// type has nothing to show.
func (s *Session) Tick() (snapshot.Rows, bool, error) {
	if !s.inGame {
		return snapshot.Rows{}, false, ErrSessionEnded
	}
	started, err := s.r.ReadBool(s.manager + s.t.Manager.GameStarted)
	if err != nil {
		if memory.IsShutdown(err) {
			return snapshot.Rows{}, false, err
		}
		s.inGame = false
		return snapshot.Rows{}, false, fmt.Errorf("%w: %v", ErrSessionEnded, err)
	}
	if !started {
		s.inGame = false
		return snapshot.Rows{}, false, ErrSessionEnded
	}

	rows, ok, err := s.DiceInfo()
	if err != nil || ok {
		return rows, ok, err
	}
	return s.DeckInfo()
}

func (s *Session) gameMode() (int32, error) {
	return s.r.ReadInt32(s.manager + s.t.Manager.GameMode)
}

// seat is a living player resolved to the component a round type reads.
type seat struct {
	slot      int
	name      string
	component uint64
}

// seats resolves up to MaxSeats players. Dead players and players whose
// objects cannot be read leave their slot empty.
func (s *Session) seats(component string) ([]seat, error) {
	list, err := s.r.ReadUint64(s.manager + s.t.Manager.Players)
	if err != nil {
		return nil, err
	}
	count, err := s.r.ReadInt32(list + s.t.UnityList.Count)
	if err != nil {
		return nil, err
	}
	items, err := s.r.ReadUint64(list + s.t.UnityList.Base)
	if err != nil {
		return nil, err
	}

	n := min(int(count), MaxSeats)
	out := make([]seat, 0, n)
	for i := 0; i < n; i++ {
		st, err := s.seat(items, i, component)
		if err != nil {
			if memory.IsShutdown(err) {
				return nil, err
			}
			s.logger.Debug().Err(err).Int("slot", i).Msg("player not readable")
			continue
		}
		if st != nil {
			out = append(out, *st)
		}
	}
	return out, nil
}

func (s *Session) seat(items uint64, i int, component string) (*seat, error) {
	player, err := s.r.ReadPointer(items + s.t.UnityListBase.Start + uint64(i)*8)
	if err != nil {
		return nil, err
	}
	namePtr, err := s.r.ReadPointer(player + s.t.PlayerStats.PlayerName)
	if err != nil {
		return nil, err
	}
	name, err := s.r.ReadForeignString(namePtr)
	if err != nil {
		return nil, err
	}
	dead, err := s.r.ReadBool(player + s.t.PlayerStats.Dead)
	if err != nil {
		return nil, err
	}
	if dead {
		return nil, nil
	}

	obj, err := s.r.ResolveChain(player, s.t.UnityComponent.ToGameObject)
	if err != nil {
		return nil, err
	}
	fields, err := s.walker.FindComponentByPrefix(obj, component)
	if err != nil {
		return nil, err
	}
	if fields == 0 {
		return nil, fmt.Errorf("%w: %s on player %q", ErrComponentMissing, component, name)
	}
	return &seat{slot: i, name: name, component: fields}, nil
}

// readIntList reads an engine list of int32 through its header pointer.
func (s *Session) readIntList(list uint64) ([]int32, error) {
	items, err := s.r.ReadPointer(list + s.t.UnityList.Base)
	if err != nil {
		return nil, err
	}
	count, err := s.r.ReadInt32(list + s.t.UnityList.Count)
	if err != nil {
		return nil, err
	}
	if count < 0 || count > maxListLen {
		return nil, &memory.ReadError{What: "list", Addr: list, Err: fmt.Errorf("%w: count %d", memory.ErrOutOfBounds, count)}
	}
	return s.r.ReadInt32s(items+s.t.UnityListBase.Start, int(count))
}

// readSyncList reads a networked list whose header hangs off field.
func (s *Session) readSyncList(field uint64) ([]int32, error) {
	sl, err := s.r.ReadPointer(field)
	if err != nil {
		return nil, err
	}
	list, err := s.r.ReadPointer(sl + s.t.MirrorSyncList.ToList)
	if err != nil {
		return nil, err
	}
	return s.readIntList(list)
}

// DiceInfo renders a dice round: each living player's dice, and a face
// histogram over all of them in the summary slot.
func (s *Session) DiceInfo() (snapshot.Rows, bool, error) {
	var rows snapshot.Rows
	mode, err := s.gameMode()
	if err != nil || mode != ModeDice {
		return rows, false, err
	}
	seats, err := s.seats("DiceGamePlay")
	if err != nil {
		return rows, false, err
	}

	var hist Histogram
	for _, st := range seats {
		dice, err := s.readSyncList(st.component + s.t.DiceGamePlay.DiceValues)
		if err != nil {
			if memory.IsShutdown(err) {
				return rows, false, err
			}
			s.logger.Debug().Err(err).Str("player", st.name).Msg("dice not readable")
			continue
		}
		hist.Add(dice)
		rows[st.slot] = snapshot.Row{Caption: st.name, Value: RenderDice(dice)}
	}

	diceManager, err := s.r.ReadPointer(s.manager + s.t.Manager.DiceGamePlayManager)
	if err != nil {
		return rows, false, err
	}
	diceMode, err := s.r.ReadInt32(diceManager + s.t.DiceGamePlayManager.DiceMode)
	if err != nil {
		return rows, false, err
	}
	if diceMode == 1 {
		hist = hist.FoldWild()
	}
	rows[snapshot.SummarySlot] = snapshot.Row{Caption: DiceSummaryCaption, Value: hist.String()}
	return rows, true, nil
}

// DeckInfo renders a card round: each living player's hand with their
// revolver counters, and the previous round's cards in the summary slot.
func (s *Session) DeckInfo() (snapshot.Rows, bool, error) {
	var rows snapshot.Rows
	mode, err := s.gameMode()
	if err != nil || mode != ModeCards {
		return rows, false, err
	}
	seats, err := s.seats("BlorfGamePlay")
	if err != nil {
		return rows, false, err
	}

	marking := s.t.BlorfGamePlay.CardMarking
	for _, st := range seats {
		row, err := s.hand(st, marking)
		if err != nil {
			if memory.IsShutdown(err) {
				return rows, false, err
			}
			s.logger.Debug().Err(err).Str("player", st.name).Msg("hand not readable")
			continue
		}
		rows[st.slot] = row
	}

	blorfManager, err := s.r.ReadPointer(s.manager + s.t.Manager.BlorfGamePlayManager)
	if err != nil {
		return rows, false, err
	}
	last, err := s.readSyncList(blorfManager + s.t.BlorfGamePlayManager.LastRound)
	if err != nil {
		return rows, false, err
	}
	lastRound, err := RenderCards(marking, last)
	if err != nil {
		return rows, false, err
	}
	rows[snapshot.SummarySlot] = snapshot.Row{Caption: LastRoundCaption, Value: lastRound}
	return rows, true, nil
}

func (s *Session) hand(st seat, marking string) (snapshot.Row, error) {
	list, err := s.r.ReadPointer(st.component + s.t.BlorfGamePlay.CardTypes)
	if err != nil {
		return snapshot.Row{}, err
	}
	codes, err := s.readIntList(list)
	if err != nil {
		return snapshot.Row{}, err
	}
	cards, err := RenderCards(marking, codes)
	if err != nil {
		return snapshot.Row{}, err
	}
	current, err := s.r.ReadInt32(st.component + s.t.BlorfGamePlay.CurrentRevolver)
	if err != nil {
		return snapshot.Row{}, err
	}
	bullet, err := s.r.ReadInt32(st.component + s.t.BlorfGamePlay.RevolverBullet)
	if err != nil {
		return snapshot.Row{}, err
	}
	return snapshot.Row{
		Caption: fmt.Sprintf("%s - %d/%d", st.name, current, bullet+1),
		Value:   cards,
	}, nil
}
