package gamesim

import (
	"context"
	"math/rand"
	"time"

	"github.com/afumu/barlens/dma"
	"github.com/afumu/barlens/dma/sim"
	"github.com/afumu/barlens/internal/offsets"
)

// Demo builds a running four-seat dice table.
func Demo(t *offsets.Table) (*World, []*Player) {
	w := New(t)
	w.AddManager()
	names := []string{"Foxy", "Bristle", "Toar", "Scubby"}
	players := make([]*Player, 0, len(names))
	for _, name := range names {
		p := w.AddPlayer(name)
		p.SetRevolver(0, rand.Int31n(6))
		players = append(players, p)
	}
	w.SetMode(1)
	w.SetStarted(true)
	Roll(w, players)
	return w, players
}

// Roll deals fresh dice and cards to every player.
func Roll(w *World, players []*Player) {
	for _, p := range players {
		dice := make([]int32, 5)
		for i := range dice {
			dice[i] = 1 + rand.Int31n(6)
		}
		p.SetDice(dice)

		cards := make([]int32, 5)
		for i := range cards {
			cards[i] = 1 + rand.Int31n(4)
		}
		p.SetCards(cards)
	}
	w.SetLastRound([]int32{1 + rand.Int31n(4), 1 + rand.Int31n(4)})
}

// Driver returns a dma factory serving a demo table. The table is
// re-rolled every interval until ctx ends, and the round type flips
// between dice and cards every few rolls.
func Driver(ctx context.Context, t *offsets.Table, interval time.Duration) dma.Factory {
	return func(dma.Config) (dma.Channel, error) {
		ch := sim.NewChannel()
		w, players := Demo(t)
		w.Attach(ch)
		if interval > 0 {
			go animate(ctx, w, players, interval)
		}
		return ch, nil
	}
}

func animate(ctx context.Context, w *World, players []*Player, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		Roll(w, players)
		if n%5 == 0 {
			w.SetMode(int32(n/5) % 2)
		}
	}
}
