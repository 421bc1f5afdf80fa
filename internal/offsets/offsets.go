// Package offsets holds the memory layout of the game build being read.
// The table is external, versioned data: nothing here is derived at
// runtime, and a mismatch with the running build is an expected failure.
package offsets

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

type UnityList struct {
	Base  uint64 `mapstructure:"base" json:"base"`
	Count uint64 `mapstructure:"count" json:"count"`
}

type UnityListBase struct {
	Start uint64 `mapstructure:"start" json:"start"`
}

type UnityString struct {
	Length uint64 `mapstructure:"length" json:"length"`
	Value  uint64 `mapstructure:"value" json:"value"`
}

type ModuleBase struct {
	GameObjectManager uint64 `mapstructure:"game_object_manager" json:"game_object_manager"`
}

// GameObjectManager locates the active-object list bounds inside the
// engine's object manager.
type GameObjectManager struct {
	LastActiveNode uint64 `mapstructure:"last_active_node" json:"last_active_node"`
	ActiveNodes    uint64 `mapstructure:"active_nodes" json:"active_nodes"`
}

// BaseObject is a node of the intrusive active-object list.
type BaseObject struct {
	NextObjectLink uint64 `mapstructure:"next_object_link" json:"next_object_link"`
	Object         uint64 `mapstructure:"object" json:"object"`
}

type UnityClass struct {
	Name []uint64 `mapstructure:"name" json:"name"`
}

type UnityComponent struct {
	ToGameObject []uint64 `mapstructure:"to_game_object" json:"to_game_object"`
	ToComponent  []uint64 `mapstructure:"to_component" json:"to_component"`
}

type GameObject struct {
	ObjectClass    uint64 `mapstructure:"object_class" json:"object_class"`
	ObjectName     uint64 `mapstructure:"object_name" json:"object_name"`
	ComponentCount uint64 `mapstructure:"component_count" json:"component_count"`
}

// ComponentArray describes the per-object component slots: slot i sits at
// First + i*Stride and its fields pointer at Fields.
type ComponentArray struct {
	First  uint64 `mapstructure:"first" json:"first"`
	Stride uint64 `mapstructure:"stride" json:"stride"`
	Fields uint64 `mapstructure:"fields" json:"fields"`
}

type MirrorSyncList struct {
	ToList uint64 `mapstructure:"to_list" json:"to_list"`
}

type Manager struct {
	Players                 uint64 `mapstructure:"players" json:"players"`
	DiceGamePlayManager     uint64 `mapstructure:"dice_game_play_manager" json:"dice_game_play_manager"`
	RouletteGamePlayManager uint64 `mapstructure:"roulette_game_play_manager" json:"roulette_game_play_manager"`
	BlorfGamePlayManager    uint64 `mapstructure:"blorf_game_play_manager" json:"blorf_game_play_manager"`
	GameStarted             uint64 `mapstructure:"game_started" json:"game_started"`
	GameMode                uint64 `mapstructure:"game_mode" json:"game_mode"`
}

type PlayerStats struct {
	PlayerName uint64 `mapstructure:"player_name" json:"player_name"`
	Dead       uint64 `mapstructure:"dead" json:"dead"`
}

type DiceGamePlay struct {
	DiceValues uint64 `mapstructure:"dice_values" json:"dice_values"`
}

type DiceGamePlayManager struct {
	DiceMode uint64 `mapstructure:"dice_mode" json:"dice_mode"`
}

type BlorfGamePlay struct {
	// CardTypes: -1 devil, 0 none, 1 king, 2 queen, 3 ace, 4 joker.
	CardTypes       uint64 `mapstructure:"card_types" json:"card_types"`
	CardMarking     string `mapstructure:"card_marking" json:"card_marking"`
	CurrentRevolver uint64 `mapstructure:"current_revolver" json:"current_revolver"`
	RevolverBullet  uint64 `mapstructure:"revolver_bullet" json:"revolver_bullet"`
}

type BlorfGamePlayManager struct {
	LastRound uint64 `mapstructure:"last_round" json:"last_round"`
}

// Table is one versioned layout.
type Table struct {
	Version              string               `mapstructure:"version" json:"version"`
	UnityList            UnityList            `mapstructure:"unity_list" json:"unity_list"`
	UnityListBase        UnityListBase        `mapstructure:"unity_list_base" json:"unity_list_base"`
	UnityString          UnityString          `mapstructure:"unity_string" json:"unity_string"`
	ModuleBase           ModuleBase           `mapstructure:"module_base" json:"module_base"`
	GameObjectManager    GameObjectManager    `mapstructure:"game_object_manager" json:"game_object_manager"`
	BaseObject           BaseObject           `mapstructure:"base_object" json:"base_object"`
	UnityClass           UnityClass           `mapstructure:"unity_class" json:"unity_class"`
	UnityComponent       UnityComponent       `mapstructure:"unity_component" json:"unity_component"`
	GameObject           GameObject           `mapstructure:"game_object" json:"game_object"`
	ComponentArray       ComponentArray       `mapstructure:"component_array" json:"component_array"`
	MirrorSyncList       MirrorSyncList       `mapstructure:"mirror_sync_list" json:"mirror_sync_list"`
	Manager              Manager              `mapstructure:"manager" json:"manager"`
	PlayerStats          PlayerStats          `mapstructure:"player_stats" json:"player_stats"`
	DiceGamePlay         DiceGamePlay         `mapstructure:"dice_game_play" json:"dice_game_play"`
	DiceGamePlayManager  DiceGamePlayManager  `mapstructure:"dice_game_play_manager" json:"dice_game_play_manager"`
	BlorfGamePlay        BlorfGamePlay        `mapstructure:"blorf_game_play" json:"blorf_game_play"`
	BlorfGamePlayManager BlorfGamePlayManager `mapstructure:"blorf_game_play_manager" json:"blorf_game_play_manager"`
}

// Default returns the built-in layout.
func Default() *Table {
	return &Table{
		Version:           "builtin",
		UnityList:         UnityList{Base: 0x10, Count: 0x18},
		UnityListBase:     UnityListBase{Start: 0x20},
		UnityString:       UnityString{Length: 0x10, Value: 0x14},
		ModuleBase:        ModuleBase{GameObjectManager: 0x1D204B0},
		GameObjectManager: GameObjectManager{LastActiveNode: 0x20, ActiveNodes: 0x28},
		BaseObject:        BaseObject{NextObjectLink: 0x8, Object: 0x10},
		UnityClass:        UnityClass{Name: []uint64{0x0, 0x0, 0x48}},
		UnityComponent: UnityComponent{
			ToGameObject: []uint64{0x10, 0x30},
			ToComponent:  []uint64{0x30, 0x18, 0x28},
		},
		GameObject:     GameObject{ObjectClass: 0x30, ObjectName: 0x60, ComponentCount: 0x40},
		ComponentArray: ComponentArray{First: 0x8, Stride: 0x10, Fields: 0x28},
		MirrorSyncList: MirrorSyncList{ToList: 0x60},
		Manager: Manager{
			Players:                 0x70,
			DiceGamePlayManager:     0x80,
			RouletteGamePlayManager: 0x88,
			BlorfGamePlayManager:    0x90,
			GameStarted:             0x204,
			GameMode:                0x208,
		},
		PlayerStats:         PlayerStats{PlayerName: 0x68, Dead: 0x88},
		DiceGamePlay:        DiceGamePlay{DiceValues: 0xF0},
		DiceGamePlayManager: DiceGamePlayManager{DiceMode: 0x170},
		BlorfGamePlay: BlorfGamePlay{
			CardTypes:       0x138,
			CardMarking:     "D-KQAJ",
			CurrentRevolver: 0x194,
			RevolverBullet:  0x198,
		},
		BlorfGamePlayManager: BlorfGamePlayManager{LastRound: 0x70},
	}
}

// Load reads a JSON table from path on top of the built-in defaults.
// Offsets may be written as numbers or as "0x"-prefixed strings.
func Load(path string) (*Table, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read offsets %s: %w", path, err)
	}

	t := Default()
	t.Version = ""
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		hexStringHook,
		mapstructure.StringToSliceHookFunc(","),
	))
	// replace default chains instead of overlaying them element-wise
	zero := func(c *mapstructure.DecoderConfig) { c.ZeroFields = true }
	if err := v.Unmarshal(t, hook, zero); err != nil {
		return nil, fmt.Errorf("decode offsets %s: %w", path, err)
	}
	if t.Version == "" {
		t.Version = path
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("offsets %s: %w", path, err)
	}
	return t, nil
}

func hexStringHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Uint64 {
		return data, nil
	}
	s := strings.TrimSpace(data.(string))
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("bad offset %q: %w", s, err)
	}
	return n, nil
}

var ErrInvalidTable = errors.New("invalid offset table")

// Validate checks the structural invariants the readers rely on.
func (t *Table) Validate() error {
	var problems []string
	if t.ModuleBase.GameObjectManager == 0 {
		problems = append(problems, "module_base.game_object_manager is zero")
	}
	if len(t.UnityComponent.ToGameObject) == 0 {
		problems = append(problems, "unity_component.to_game_object is empty")
	}
	if len(t.UnityComponent.ToComponent) == 0 {
		problems = append(problems, "unity_component.to_component is empty")
	}
	if len(t.UnityClass.Name) != 3 {
		problems = append(problems, fmt.Sprintf("unity_class.name must have 3 steps, has %d", len(t.UnityClass.Name)))
	}
	if len(t.BlorfGamePlay.CardMarking) != 6 {
		problems = append(problems, fmt.Sprintf("blorf_game_play.card_marking must have 6 markings, has %d", len(t.BlorfGamePlay.CardMarking)))
	}
	if t.ComponentArray.Stride == 0 {
		problems = append(problems, "component_array.stride is zero")
	}
	if t.UnityString.Value <= t.UnityString.Length {
		problems = append(problems, "unity_string.value must follow unity_string.length")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTable, strings.Join(problems, "; "))
	}
	return nil
}

// Holder publishes the active table. Readers take a snapshot with
// Current; a reload never mutates a table already handed out.
type Holder struct {
	p atomic.Pointer[Table]
}

func NewHolder(t *Table) *Holder {
	h := &Holder{}
	h.p.Store(t)
	return h
}

func (h *Holder) Current() *Table { return h.p.Load() }

func (h *Holder) Store(t *Table) { h.p.Store(t) }
