package chaindb

import (
	"fmt"
	"math"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

type cellKind int8

const (
	// Objects changed by an uncommitted revision; never evicted.
	pendingCell cellKind = iota
	// Ordinary objects; evicted oldest first.
	lruCell
	// Objects of system tables; never evicted.
	systemCell
)

func (ck cellKind) String() string {
	switch ck {
	case pendingCell:
		return "pending"
	case lruCell:
		return "lru"
	case systemCell:
		return "system"
	}
	return fmt.Sprintf("cellKind(%d)", int(ck))
}

// cacheCell owns the eviction slots of a set of objects, ordered from least to
// most recently used.
type cacheCell struct {
	kind    cellKind
	pos     uint64
	size    int
	objects *simplelru.LRU[*cacheObject, struct{}]
}

func newCacheCell(kind cellKind, pos uint64) *cacheCell {
	objects, err := simplelru.NewLRU[*cacheObject, struct{}](math.MaxInt32, nil)
	if err != nil {
		panic(fmt.Sprintf("chaindb: new cell: %s", err))
	}
	return &cacheCell{
		kind:    kind,
		pos:     pos,
		objects: objects,
	}
}

func (cell *cacheCell) evictable() bool {
	switch cell.kind {
	case pendingCell, systemCell:
		return false
	case lruCell:
		return true
	}
	panic(fmt.Sprintf("chaindb: unexpected cell kind: %s", cell.kind))
}

func (cell *cacheCell) add(obj *cacheObject) {
	if obj.cell != nil {
		panic(fmt.Sprintf("chaindb: object already in %s cell", obj.cell.kind))
	}
	cell.objects.Add(obj, struct{}{})
	cell.size += obj.size
	obj.cell = cell
}

func (cell *cacheCell) remove(obj *cacheObject) {
	if obj.cell != cell {
		panic("chaindb: object not in cell")
	}
	cell.objects.Remove(obj)
	cell.size -= obj.size
	obj.cell = nil
}

func (cell *cacheCell) touch(obj *cacheObject) {
	cell.objects.Get(obj)
}

func (cell *cacheCell) resize(obj *cacheObject, size int) {
	cell.size += size - obj.size
}

func (cell *cacheCell) len() int {
	return cell.objects.Len()
}

// list returns the objects from least to most recently used.
func (cell *cacheCell) list() []*cacheObject {
	return cell.objects.Keys()
}
