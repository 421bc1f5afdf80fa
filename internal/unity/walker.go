// Package unity walks the engine's object graph inside the game process.
package unity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/afumu/barlens/internal/offsets"
	"github.com/afumu/barlens/memory"
	"github.com/rs/zerolog/log"
)

const (
	// MaxComponents bounds the scatter batch against a corrupt count.
	MaxComponents = 500
	// MaxNodes bounds a list walk whose links were rewritten under us.
	MaxNodes = 1 << 16

	nameLen = 64
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Walker struct {
	r            *memory.Reader
	table        *offsets.Table
	pollInterval time.Duration
	sleep        SleepFunc
}

type WalkerOption func(*Walker)

func WithPollInterval(d time.Duration) WalkerOption {
	return func(w *Walker) { w.pollInterval = d }
}

func WithSleep(fn SleepFunc) WalkerOption {
	return func(w *Walker) { w.sleep = fn }
}

func NewWalker(r *memory.Reader, table *offsets.Table, opts ...WalkerOption) *Walker {
	w := &Walker{
		r:            r,
		table:        table,
		pollInterval: time.Second,
		sleep:        Sleep,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ReadGameObjectManager reads the manager found through the module-relative
// pointer at unityBase.
func (w *Walker) ReadGameObjectManager(unityBase uint64) (*GameObjectManager, error) {
	addr, err := w.r.ReadPointer(unityBase + w.table.ModuleBase.GameObjectManager)
	if err != nil {
		return nil, err
	}
	gom := NewGameObjectManager(w.table.GameObjectManager)
	if err := w.r.ReadRecord(addr, gom); err != nil {
		return nil, err
	}
	log.Debug().Msgf("found game object manager at 0x%X", addr)
	return gom, nil
}

// ListBounds resolves the head and tail slots of the active-object list.
func (w *Walker) ListBounds(gom *GameObjectManager) (activeNodes, lastActiveNode uint64, err error) {
	if activeNodes, err = w.r.ReadPointer(gom.ActiveNodes); err != nil {
		return 0, 0, err
	}
	if lastActiveNode, err = w.r.ReadPointer(gom.LastActiveNode); err != nil {
		return 0, 0, err
	}
	return activeNodes, lastActiveNode, nil
}

func (w *Walker) readNode(slot uint64) (*BaseObject, error) {
	addr, err := w.r.ReadPointer(slot)
	if err != nil {
		return nil, err
	}
	node := NewBaseObject(w.table.BaseObject)
	if err := w.r.ReadRecord(addr, node); err != nil {
		return nil, err
	}
	return node, nil
}

// ObjectName reads the name of a game object.
func (w *Walker) ObjectName(obj uint64) (string, error) {
	ptr, err := w.r.ReadPointer(obj + w.table.GameObject.ObjectName)
	if err != nil {
		return "", err
	}
	return w.r.ReadString(ptr, nameLen)
}

// FindObjectByName walks the active-object list from head to tail and
// returns the first object whose name equals name, ignoring case. It
// returns 0 when no object matches.
//
// The game may publish the head before the tail; while the tail is still
// unset the walk waits, re-reading it every poll interval.
func (w *Walker) FindObjectByName(ctx context.Context, activeNodes, lastActiveNode uint64, name string) (uint64, error) {
	head, err := w.readNode(activeNodes)
	if err != nil {
		return 0, err
	}
	tail, err := w.readNode(lastActiveNode)
	if err != nil {
		return 0, err
	}

	if head.Object != 0 && tail.Object == 0 {
		log.Debug().Msg("waiting for last active node to be populated")
		for tail.Object == 0 {
			if err := w.sleep(ctx, w.pollInterval); err != nil {
				return 0, err
			}
			if tail, err = w.readNode(lastActiveNode); err != nil {
				return 0, err
			}
		}
	}

	node := head
	for n := 0; node.Object != 0 && node.Object != tail.Object; n++ {
		if n >= MaxNodes {
			return 0, fmt.Errorf("active object list exceeds %d nodes", MaxNodes)
		}
		ok, err := w.nameMatches(node.Object, name)
		if err != nil {
			return 0, err
		}
		if ok {
			log.Debug().Str("name", name).Msgf("found object at 0x%X", node.Object)
			return node.Object, nil
		}
		next := NewBaseObject(w.table.BaseObject)
		if err := w.r.ReadRecord(node.NextObjectLink, next); err != nil {
			return 0, err
		}
		node = next
	}

	if tail.Object != 0 {
		ok, err := w.nameMatches(tail.Object, name)
		if err != nil {
			return 0, err
		}
		if ok {
			log.Debug().Str("name", name).Msgf("found object at list tail 0x%X", tail.Object)
			return tail.Object, nil
		}
	}

	log.Debug().Str("name", name).Msg("object not found in active list")
	return 0, nil
}

func (w *Walker) nameMatches(obj uint64, name string) (bool, error) {
	got, err := w.ObjectName(obj)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(got, name), nil
}

// FindComponentByPrefix returns the fields pointer of the first component
// of gameObject whose class name starts with prefix, ignoring case, or 0
// when there is none. Every candidate's five-hop path is read in one
// scatter round per hop.
func (w *Walker) FindComponentByPrefix(gameObject uint64, prefix string) (uint64, error) {
	count, err := w.r.ReadInt32(gameObject + w.table.GameObject.ComponentCount)
	if err != nil {
		return 0, err
	}
	n := min(int(count), MaxComponents)
	if n <= 1 {
		return 0, nil
	}
	components, err := w.r.ReadPointer(gameObject + w.table.GameObject.ObjectClass)
	if err != nil {
		return 0, err
	}

	arr := w.table.ComponentArray
	chain := w.table.UnityClass.Name
	m := memory.NewScatterReadMap(n)
	rounds := make([]*memory.Round, 2+len(chain))
	for i := range rounds {
		rounds[i] = m.AddRound()
	}
	// slot 0 is the transform
	for i := 1; i < n; i++ {
		comp := rounds[0].AddEntry(i, 0, memory.Literal(components), arr.First+uint64(i)*arr.Stride, 8)
		prev := rounds[1].AddEntry(i, 1, memory.From(comp), arr.Fields, 8)
		for j, off := range chain {
			prev = rounds[2+j].AddEntry(i, 2+j, memory.From(prev), off, 8)
		}
	}
	if err := m.Execute(w.r); err != nil {
		return 0, err
	}

	last := 1 + len(chain)
	for i := 1; i < n; i++ {
		fields := m.Result(i, 1)
		className := m.Result(i, last)
		if !m.Result(i, 0).Ok() || !fields.Ok() || !className.Ok() {
			continue
		}
		cls, err := w.r.ReadString(className.Uint64(), nameLen)
		if err != nil {
			if memory.IsShutdown(err) {
				return 0, err
			}
			continue
		}
		if cls == "" {
			continue
		}
		if len(cls) >= len(prefix) && strings.EqualFold(cls[:len(prefix)], prefix) {
			return fields.Uint64(), nil
		}
	}
	return 0, nil
}
