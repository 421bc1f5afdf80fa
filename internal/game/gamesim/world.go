// Package gamesim lays out a running game inside a simulated address
// space, following an offsets table. It backs the package tests and the
// "sim" channel.
package gamesim

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/afumu/barlens/dma/sim"
	"github.com/afumu/barlens/internal/offsets"
)

const (
	ProcessName = "Liar's Bar.exe"
	ModuleName  = "UnityPlayer.dll"

	DefaultPID       = 4242
	DefaultUnityBase = 0x7FF700000000

	maxComponents = 16
	maxListItems  = 64
)

// World is a game process image. Chains of the table are assumed to
// follow its component array layout, as the built-in table does.
type World struct {
	Space     *sim.Space
	UnityBase uint64

	t          *offsets.Table
	gom        uint64
	headSlot   uint64
	tailSlot   uint64
	nodes      []uint64
	components map[uint64]int

	managerObject uint64
	manager       uint64
	playerItems   uint64
	players       []*Player
	diceManager   uint64
	blorfManager  uint64
}

func New(t *offsets.Table) *World {
	s := sim.NewSpace(DefaultPID, 0x20000000)
	w := &World{
		Space:      s,
		UnityBase:  DefaultUnityBase,
		t:          t,
		components: make(map[uint64]int),
	}
	s.AddModule(ModuleName, w.UnityBase)

	w.gom = s.Alloc(int(max(t.GameObjectManager.ActiveNodes, t.GameObjectManager.LastActiveNode)) + 8)
	s.PutUint64(w.UnityBase+t.ModuleBase.GameObjectManager, w.gom)

	activeCell, lastCell := s.Alloc(8), s.Alloc(8)
	w.headSlot, w.tailSlot = s.Alloc(8), s.Alloc(8)
	s.PutUint64(w.gom+t.GameObjectManager.ActiveNodes, activeCell)
	s.PutUint64(w.gom+t.GameObjectManager.LastActiveNode, lastCell)
	s.PutUint64(activeCell, w.headSlot)
	s.PutUint64(lastCell, w.tailSlot)
	return w
}

// Attach publishes the world as a process of ch.
func (w *World) Attach(ch *sim.Channel) {
	ch.AddProcess(ProcessName, w.Space)
}

// BreakGameObjectManager clears the module pointer to the object manager,
// as seen while the engine is not up.
func (w *World) BreakGameObjectManager() {
	w.Space.PutUint64(w.UnityBase+w.t.ModuleBase.GameObjectManager, 0)
}

// ListSlots returns the head and tail slots the walker starts from.
func (w *World) ListSlots() (activeNodes, lastActiveNode uint64) {
	return w.headSlot, w.tailSlot
}

// TailNode returns the BaseObject at the end of the list.
func (w *World) TailNode() uint64 {
	if len(w.nodes) == 0 {
		return 0
	}
	return w.nodes[len(w.nodes)-1]
}

func (w *World) cString(s string) uint64 {
	addr := w.Space.Alloc(len(s) + 64)
	w.Space.PutCString(addr, s)
	return addr
}

func (w *World) unityString(s string) uint64 {
	units := utf16.Encode([]rune(s))
	addr := w.Space.Alloc(int(w.t.UnityString.Value) + 2*len(units) + 2)
	w.Space.PutInt32(addr+w.t.UnityString.Length, int32(len(units)))
	w.Space.PutUTF16(addr+w.t.UnityString.Value, s)
	return addr
}

// AddObject appends a game object to the active list and returns its
// address.
func (w *World) AddObject(name string) uint64 {
	s, t := w.Space, w.t

	obj := s.Alloc(int(max(t.GameObject.ObjectName, t.GameObject.ObjectClass, t.GameObject.ComponentCount)) + 8)
	s.PutUint64(obj+t.GameObject.ObjectName, w.cString(name))
	arr := s.Alloc(int(t.ComponentArray.First + maxComponents*t.ComponentArray.Stride))
	s.PutUint64(obj+t.GameObject.ObjectClass, arr)
	w.components[obj] = 1
	s.PutInt32(obj+t.GameObject.ComponentCount, 1)

	node := s.Alloc(int(max(t.BaseObject.NextObjectLink, t.BaseObject.Object)) + 8)
	s.PutUint64(node+t.BaseObject.Object, obj)
	if len(w.nodes) > 0 {
		s.PutUint64(w.nodes[len(w.nodes)-1]+t.BaseObject.NextObjectLink, node)
	}
	w.nodes = append(w.nodes, node)
	s.PutUint64(w.headSlot, w.nodes[0])
	s.PutUint64(w.tailSlot, node)
	return obj
}

// RenameObject replaces the name of obj.
func (w *World) RenameObject(obj uint64, name string) {
	w.Space.PutUint64(obj+w.t.GameObject.ObjectName, w.cString(name))
}

// AddComponent attaches a component of class className to obj and returns
// the component and its fields object.
func (w *World) AddComponent(obj uint64, className string) (component, fields uint64) {
	s, t := w.Space, w.t
	idx, ok := w.components[obj]
	if !ok || idx >= maxComponents {
		panic("gamesim: component array full or unknown object")
	}
	arr := w.readUint64(obj + t.GameObject.ObjectClass)

	component = s.Alloc(0x40)
	fields = s.Alloc(0x400)
	s.PutUint64(arr+t.ComponentArray.First+uint64(idx)*t.ComponentArray.Stride, component)
	s.PutUint64(component+t.ComponentArray.Fields, fields)

	p := fields
	chain := t.UnityClass.Name
	for _, off := range chain[:len(chain)-1] {
		next := s.Alloc(0x80)
		s.PutUint64(p+off, next)
		p = next
	}
	s.PutUint64(p+chain[len(chain)-1], w.cString(className))

	w.components[obj] = idx + 1
	s.PutInt32(obj+t.GameObject.ComponentCount, int32(idx+1))
	return component, fields
}

// SetComponentCount overwrites the raw component count of obj.
func (w *World) SetComponentCount(obj uint64, n int32) {
	w.Space.PutInt32(obj+w.t.GameObject.ComponentCount, n)
}

func (w *World) readUint64(addr uint64) uint64 {
	b, err := w.Space.ReadBytes(addr, 8)
	if err != nil {
		panic(err)
	}
	return binary.LittleEndian.Uint64(b)
}

// intList writes values as an engine list and returns the list header.
func (w *World) intList(values []int32) uint64 {
	s, t := w.Space, w.t
	list := s.Alloc(int(max(t.UnityList.Base, t.UnityList.Count)) + 8)
	items := s.Alloc(int(t.UnityListBase.Start) + 4*max(len(values), 1))
	for i, v := range values {
		s.PutInt32(items+t.UnityListBase.Start+uint64(i)*4, v)
	}
	s.PutUint64(list+t.UnityList.Base, items)
	s.PutInt32(list+t.UnityList.Count, int32(len(values)))
	return list
}

// syncList wraps a list header the way the networking layer does.
func (w *World) syncList(values []int32) uint64 {
	sl := w.Space.Alloc(int(w.t.MirrorSyncList.ToList) + 8)
	w.Space.PutUint64(sl+w.t.MirrorSyncList.ToList, w.intList(values))
	return sl
}

// AddManager creates the "Manager" object with its sub-managers and an
// empty player list, and returns the manager fields address.
func (w *World) AddManager() uint64 {
	s, t := w.Space, w.t
	w.managerObject = w.AddObject("Manager")
	_, w.manager = w.AddComponent(w.managerObject, "Manager")

	playerList := s.Alloc(int(max(t.UnityList.Base, t.UnityList.Count)) + 8)
	w.playerItems = s.Alloc(int(t.UnityListBase.Start) + 8*maxListItems)
	s.PutUint64(playerList+t.UnityList.Base, w.playerItems)
	s.PutInt32(playerList+t.UnityList.Count, 0)
	s.PutUint64(w.manager+t.Manager.Players, playerList)
	w.players = nil

	w.diceManager = s.Alloc(int(t.DiceGamePlayManager.DiceMode) + 8)
	s.PutUint64(w.manager+t.Manager.DiceGamePlayManager, w.diceManager)
	w.blorfManager = s.Alloc(int(t.BlorfGamePlayManager.LastRound) + 8)
	s.PutUint64(w.manager+t.Manager.BlorfGamePlayManager, w.blorfManager)
	w.SetLastRound(nil)
	w.SetMode(0)
	return w.manager
}

// Manager returns the current manager fields address.
func (w *World) Manager() uint64 { return w.manager }

// ManagerObject returns the current "Manager" game object.
func (w *World) ManagerObject() uint64 { return w.managerObject }

// RelocateManager retires the current manager object and creates a new
// one carrying the same round state.
func (w *World) RelocateManager() uint64 {
	old := w.managerObject
	started := w.readBool(w.manager + w.t.Manager.GameStarted)
	mode := w.readInt32(w.manager + w.t.Manager.GameMode)
	players := w.players

	w.RenameObject(old, "RetiredManager")
	w.AddManager()
	w.SetStarted(started)
	w.SetMode(mode)
	for _, p := range players {
		w.appendPlayer(p)
	}
	return w.manager
}

func (w *World) readBool(addr uint64) bool {
	b, err := w.Space.ReadBytes(addr, 1)
	if err != nil {
		panic(err)
	}
	return b[0] != 0
}

func (w *World) readInt32(addr uint64) int32 {
	b, err := w.Space.ReadBytes(addr, 4)
	if err != nil {
		panic(err)
	}
	return int32(binary.LittleEndian.Uint32(b))
}

func (w *World) SetStarted(v bool) { w.Space.PutBool(w.manager+w.t.Manager.GameStarted, v) }

// SetMode selects the round type: 0 cards, 1 dice.
func (w *World) SetMode(m int32) { w.Space.PutInt32(w.manager+w.t.Manager.GameMode, m) }

// SetDiceMode sets the dice manager's wild-face flag.
func (w *World) SetDiceMode(m int32) {
	w.Space.PutInt32(w.diceManager+w.t.DiceGamePlayManager.DiceMode, m)
}

// SetLastRound sets the card codes played in the previous round.
func (w *World) SetLastRound(codes []int32) {
	w.Space.PutUint64(w.blorfManager+w.t.BlorfGamePlayManager.LastRound, w.syncList(codes))
}

// Player is one seat at the table.
type Player struct {
	w      *World
	Object uint64
	Stats  uint64
	Dice   uint64
	Blorf  uint64
}

// AddPlayer seats a player with the components both round types read.
func (w *World) AddPlayer(name string) *Player {
	s, t := w.Space, w.t
	obj := w.AddObject(name)
	statsComp, stats := w.AddComponent(obj, "PlayerStats")
	_, dice := w.AddComponent(obj, "DiceGamePlay")
	_, blorf := w.AddComponent(obj, "BlorfGamePlay")

	// fields -> native component -> game object
	s.PutUint64(stats+t.UnityComponent.ToGameObject[0], statsComp)
	s.PutUint64(statsComp+t.UnityComponent.ToGameObject[1], obj)

	p := &Player{w: w, Object: obj, Stats: stats, Dice: dice, Blorf: blorf}
	p.SetName(name)
	p.SetDice(nil)
	p.SetCards(nil)
	w.appendPlayer(p)
	return p
}

func (w *World) appendPlayer(p *Player) {
	t := w.t
	i := len(w.players)
	w.Space.PutUint64(w.playerItems+t.UnityListBase.Start+uint64(i)*8, p.Stats)
	w.players = append(w.players, p)
	playerList := w.readUint64(w.manager + t.Manager.Players)
	w.Space.PutInt32(playerList+t.UnityList.Count, int32(len(w.players)))
}

func (p *Player) SetName(name string) {
	p.w.Space.PutUint64(p.Stats+p.w.t.PlayerStats.PlayerName, p.w.unityString(name))
}

func (p *Player) SetDead(dead bool) {
	p.w.Space.PutBool(p.Stats+p.w.t.PlayerStats.Dead, dead)
}

func (p *Player) SetDice(values []int32) {
	p.w.Space.PutUint64(p.Dice+p.w.t.DiceGamePlay.DiceValues, p.w.syncList(values))
}

func (p *Player) SetCards(codes []int32) {
	p.w.Space.PutUint64(p.Blorf+p.w.t.BlorfGamePlay.CardTypes, p.w.intList(codes))
}

// SetRevolver sets the chamber counter and the zero-based bullet slot.
func (p *Player) SetRevolver(current, bullet int32) {
	p.w.Space.PutInt32(p.Blorf+p.w.t.BlorfGamePlay.CurrentRevolver, current)
	p.w.Space.PutInt32(p.Blorf+p.w.t.BlorfGamePlay.RevolverBullet, bullet)
}
