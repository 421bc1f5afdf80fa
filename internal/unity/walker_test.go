package unity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/afumu/barlens/internal/game/gamesim"
	"github.com/afumu/barlens/internal/offsets"
	"github.com/afumu/barlens/memory"
)

func newWorld(t *testing.T) (*gamesim.World, *Walker) {
	t.Helper()
	table := offsets.Default()
	w := gamesim.New(table)
	return w, NewWalker(memory.NewReader(w.Space), table)
}

func TestFindObjectByName(t *testing.T) {
	w, walker := newWorld(t)
	w.AddObject("A")
	w.AddObject("B")
	target := w.AddObject("Manager")
	w.AddObject("D")

	head, tail := w.ListSlots()
	got, err := walker.FindObjectByName(context.Background(), head, tail, "manager")
	if err != nil {
		t.Fatalf("FindObjectByName: %v", err)
	}
	if got != target {
		t.Errorf("got 0x%X, want 0x%X", got, target)
	}
}

func TestFindObjectByNameFirstMatchWins(t *testing.T) {
	w, walker := newWorld(t)
	w.AddObject("A")
	first := w.AddObject("Manager")
	w.AddObject("Manager")
	w.AddObject("D")

	head, tail := w.ListSlots()
	got, err := walker.FindObjectByName(context.Background(), head, tail, "Manager")
	if err != nil {
		t.Fatal(err)
	}
	if got != first {
		t.Errorf("got 0x%X, want first match 0x%X", got, first)
	}
}

func TestFindObjectByNameTail(t *testing.T) {
	w, walker := newWorld(t)
	w.AddObject("A")
	w.AddObject("B")
	target := w.AddObject("Manager")

	head, tail := w.ListSlots()
	got, err := walker.FindObjectByName(context.Background(), head, tail, "Manager")
	if err != nil {
		t.Fatal(err)
	}
	if got != target {
		t.Errorf("got 0x%X, want tail 0x%X", got, target)
	}
}

func TestFindObjectByNameSingleNode(t *testing.T) {
	w, walker := newWorld(t)
	target := w.AddObject("Manager")

	head, tail := w.ListSlots()
	got, err := walker.FindObjectByName(context.Background(), head, tail, "Manager")
	if err != nil {
		t.Fatal(err)
	}
	if got != target {
		t.Errorf("got 0x%X, want 0x%X", got, target)
	}
}

func TestFindObjectByNameNotFound(t *testing.T) {
	w, walker := newWorld(t)
	w.AddObject("A")
	w.AddObject("B")
	w.AddObject("C")

	head, tail := w.ListSlots()
	got, err := walker.FindObjectByName(context.Background(), head, tail, "Manager")
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("got 0x%X, want 0", got)
	}
}

func TestFindObjectByNameWaitsForTail(t *testing.T) {
	table := offsets.Default()
	w := gamesim.New(table)
	w.AddObject("A")
	target := w.AddObject("Manager")
	tailNode := w.TailNode()
	w.Space.PutUint64(tailNode+table.BaseObject.Object, 0)

	polls := 0
	sleep := func(ctx context.Context, d time.Duration) error {
		polls++
		if polls == 3 {
			w.Space.PutUint64(tailNode+table.BaseObject.Object, target)
		}
		return nil
	}
	walker := NewWalker(memory.NewReader(w.Space), table, WithSleep(sleep))

	head, tail := w.ListSlots()
	got, err := walker.FindObjectByName(context.Background(), head, tail, "Manager")
	if err != nil {
		t.Fatal(err)
	}
	if got != target {
		t.Errorf("got 0x%X, want 0x%X", got, target)
	}
	if polls != 3 {
		t.Errorf("polled %d times, want 3", polls)
	}
}

func TestFindObjectByNameWaitHonorsContext(t *testing.T) {
	table := offsets.Default()
	w := gamesim.New(table)
	w.AddObject("A")
	w.AddObject("B")
	w.Space.PutUint64(w.TailNode()+table.BaseObject.Object, 0)

	walker := NewWalker(memory.NewReader(w.Space), table, WithPollInterval(time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	head, tail := w.ListSlots()
	_, err := walker.FindObjectByName(ctx, head, tail, "B")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestListBoundsFromManager(t *testing.T) {
	w, walker := newWorld(t)
	w.AddObject("A")

	gom, err := walker.ReadGameObjectManager(w.UnityBase)
	if err != nil {
		t.Fatalf("ReadGameObjectManager: %v", err)
	}
	head, tail, err := walker.ListBounds(gom)
	if err != nil {
		t.Fatalf("ListBounds: %v", err)
	}
	wantHead, wantTail := w.ListSlots()
	if head != wantHead || tail != wantTail {
		t.Errorf("bounds = 0x%X, 0x%X; want 0x%X, 0x%X", head, tail, wantHead, wantTail)
	}
}

func TestReadGameObjectManagerNull(t *testing.T) {
	w, walker := newWorld(t)
	w.BreakGameObjectManager()
	_, err := walker.ReadGameObjectManager(w.UnityBase)
	if !errors.Is(err, memory.ErrNullPointer) {
		t.Fatalf("err = %v, want ErrNullPointer", err)
	}
}

func TestFindComponentByPrefix(t *testing.T) {
	w, walker := newWorld(t)
	obj := w.AddObject("Player")
	w.AddComponent(obj, "PlayerStats")
	_, dice := w.AddComponent(obj, "DiceGamePlay")
	w.AddComponent(obj, "BlorfGamePlay")

	w.Space.ResetStats()
	got, err := walker.FindComponentByPrefix(obj, "dicegame")
	if err != nil {
		t.Fatalf("FindComponentByPrefix: %v", err)
	}
	if got != dice {
		t.Errorf("got 0x%X, want 0x%X", got, dice)
	}
	if n := w.Space.BatchCalls(); n != 5 {
		t.Errorf("component scan used %d batch calls, want 5", n)
	}
}

func TestFindComponentByPrefixMissing(t *testing.T) {
	w, walker := newWorld(t)
	obj := w.AddObject("Player")
	w.AddComponent(obj, "PlayerStats")

	got, err := walker.FindComponentByPrefix(obj, "BlorfGamePlay")
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("got 0x%X, want 0", got)
	}
}

func TestFindComponentByPrefixSkipsBrokenSlots(t *testing.T) {
	w, walker := newWorld(t)
	obj := w.AddObject("Player")
	comp, _ := w.AddComponent(obj, "PlayerStats")
	_, blorf := w.AddComponent(obj, "BlorfGamePlay")
	// a component whose fields pointer is gone
	w.Space.PutUint64(comp+offsets.Default().ComponentArray.Fields, 0)
	// a corrupt count is capped
	w.SetComponentCount(obj, 1_000_000)

	got, err := walker.FindComponentByPrefix(obj, "Blorf")
	if err != nil {
		t.Fatal(err)
	}
	if got != blorf {
		t.Errorf("got 0x%X, want 0x%X", got, blorf)
	}
}

func TestFindComponentByPrefixShutdown(t *testing.T) {
	w, _ := newWorld(t)
	obj := w.AddObject("Player")
	w.AddComponent(obj, "PlayerStats")

	r := memory.NewReader(w.Space)
	r.Stop()
	_, err := NewWalker(r, offsets.Default()).FindComponentByPrefix(obj, "Player")
	if !memory.IsShutdown(err) {
		t.Fatalf("err = %v, want shutdown", err)
	}
}
