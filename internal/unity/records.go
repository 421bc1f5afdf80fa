package unity

import (
	"encoding/binary"
	"fmt"

	"github.com/afumu/barlens/internal/offsets"
)

// GameObjectManager holds the two list-bound pointers of the engine's
// object manager.
type GameObjectManager struct {
	LastActiveNode uint64
	ActiveNodes    uint64

	layout offsets.GameObjectManager
}

func NewGameObjectManager(layout offsets.GameObjectManager) *GameObjectManager {
	return &GameObjectManager{layout: layout}
}

func (g *GameObjectManager) Size() int {
	return int(max(g.layout.LastActiveNode, g.layout.ActiveNodes)) + 8
}

func (g *GameObjectManager) Decode(b []byte) error {
	if len(b) < g.Size() {
		return fmt.Errorf("game object manager: short buffer %d", len(b))
	}
	g.LastActiveNode = binary.LittleEndian.Uint64(b[g.layout.LastActiveNode:])
	g.ActiveNodes = binary.LittleEndian.Uint64(b[g.layout.ActiveNodes:])
	return nil
}

// BaseObject is one node of the active-object list.
type BaseObject struct {
	NextObjectLink uint64
	Object         uint64

	layout offsets.BaseObject
}

func NewBaseObject(layout offsets.BaseObject) *BaseObject {
	return &BaseObject{layout: layout}
}

func (o *BaseObject) Size() int {
	return int(max(o.layout.NextObjectLink, o.layout.Object)) + 8
}

func (o *BaseObject) Decode(b []byte) error {
	if len(b) < o.Size() {
		return fmt.Errorf("base object: short buffer %d", len(b))
	}
	o.NextObjectLink = binary.LittleEndian.Uint64(b[o.layout.NextObjectLink:])
	o.Object = binary.LittleEndian.Uint64(b[o.layout.Object:])
	return nil
}
