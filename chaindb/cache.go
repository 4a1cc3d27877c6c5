package chaindb

import (
	"errors"
	"fmt"
	"math"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	log "github.com/sirupsen/logrus"

	"github.com/leftmike/chaindb/value"
)

const (
	// ObjectOverhead is the estimated memory used by a cached object in
	// addition to its value and blob.
	ObjectOverhead = 160

	DefaultCacheSize = 256 * 1024 * 1024
	DefaultCellSize  = 1024 * 1024
)

// SizeFunc estimates the memory used by a cached object.
type SizeFunc func(obj ObjectValue, blobLen int) int

func DefaultSizeFunc(obj ObjectValue, blobLen int) int {
	return len(value.Encode(obj.Value)) + blobLen + ObjectOverhead
}

type objectStage int8

const (
	stageReleased objectStage = iota
	stageActive
	stageDeleted
)

type objectKey struct {
	code  AccountName
	table TableName
	scope ScopeName
	pk    PrimaryKey
}

func makeObjectKey(info TableInfo, pk PrimaryKey) objectKey {
	return objectKey{
		code:  info.Code,
		table: info.Table.Name,
		scope: info.Scope,
		pk:    pk,
	}
}

func serviceKey(svc ServiceState) objectKey {
	return objectKey{
		code:  svc.Code,
		table: svc.Table,
		scope: svc.Scope,
		pk:    svc.PK,
	}
}

func (ok objectKey) String() string {
	return fmt.Sprintf("%s.%s[%s]:%d", ok.code, ok.table, ok.scope, ok.pk)
}

type cacheObject struct {
	object  ObjectValue
	blob    []byte
	typed   interface{}
	stage   objectStage
	refs    int
	indexes []indexPosition
	cell    *cacheCell
	size    int
}

// ObjectRef is a handle holding one reference to a cached object; the object
// is never evicted while referenced. Release must be called exactly once.
type ObjectRef struct {
	obj *cacheObject
}

func (ref *ObjectRef) object() *cacheObject {
	if ref.obj == nil {
		panic("chaindb: use of released object reference")
	}
	return ref.obj
}

func (ref *ObjectRef) Object() ObjectValue {
	return ref.object().object
}

func (ref *ObjectRef) PK() PrimaryKey {
	return ref.object().object.Service.PK
}

func (ref *ObjectRef) IsDeleted() bool {
	return ref.object().stage == stageDeleted
}

// Blob returns the serialized row, if known.
func (ref *ObjectRef) Blob() []byte {
	return ref.object().blob
}

// SetBlob sets the serialized row and clears any typed payload.
func (ref *ObjectRef) SetBlob(blob []byte) {
	obj := ref.object()
	obj.blob = blob
	obj.typed = nil
}

// Typed returns the decoded payload set by SetTyped, if any.
func (ref *ObjectRef) Typed() interface{} {
	return ref.object().typed
}

// SetTyped sets a decoded payload and clears the serialized row.
func (ref *ObjectRef) SetTyped(typed interface{}) {
	obj := ref.object()
	obj.typed = typed
	obj.blob = nil
}

func (ref *ObjectRef) Clone() *ObjectRef {
	obj := ref.object()
	obj.refs += 1
	return &ObjectRef{obj: obj}
}

func (ref *ObjectRef) Release() {
	obj := ref.object()
	if obj.refs <= 0 {
		panic("chaindb: object reference count underflow")
	}
	obj.refs -= 1
	if obj.refs == 0 && obj.stage == stageDeleted {
		obj.stage = stageReleased
	}
	ref.obj = nil
}

type cacheMap struct {
	driver       Driver
	journal      *journal
	objects      map[objectKey]*cacheObject
	indexes      cacheIndexes
	pending      *cacheCell
	system       *cacheCell
	cells        *simplelru.LRU[uint64, *cacheCell]
	current      *cacheCell
	nextPos      uint64
	cellSize     int
	budget       int
	size         int
	sizeFunc     SizeFunc
	systemTables map[SystemTable]struct{}
}

// SystemTable names a table whose rows are never evicted.
type SystemTable struct {
	Code  AccountName
	Table TableName
}

func newCacheMap(driver Driver, jrnl *journal, budget, cellSize int, sizeFunc SizeFunc,
	systemTables []SystemTable) *cacheMap {

	if budget <= 0 {
		budget = DefaultCacheSize
	}
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	if sizeFunc == nil {
		sizeFunc = DefaultSizeFunc
	}

	cells, err := simplelru.NewLRU[uint64, *cacheCell](math.MaxInt32, nil)
	if err != nil {
		panic(fmt.Sprintf("chaindb: new cells: %s", err))
	}

	cm := &cacheMap{
		driver:       driver,
		journal:      jrnl,
		objects:      map[objectKey]*cacheObject{},
		indexes:      newCacheIndexes(),
		pending:      newCacheCell(pendingCell, 0),
		system:       newCacheCell(systemCell, 0),
		cells:        cells,
		nextPos:      1,
		cellSize:     cellSize,
		budget:       budget,
		sizeFunc:     sizeFunc,
		systemTables: map[SystemTable]struct{}{},
	}
	for _, st := range systemTables {
		cm.systemTables[st] = struct{}{}
	}
	cm.rotate()
	return cm
}

func (cm *cacheMap) rotate() {
	cm.current = newCacheCell(lruCell, cm.nextPos)
	cm.cells.Add(cm.nextPos, cm.current)
	cm.nextPos += 1
}

func (cm *cacheMap) isSystem(key objectKey) bool {
	_, ok := cm.systemTables[SystemTable{Code: key.code, Table: key.table}]
	return ok
}

// place puts an object into its home cell: the system cell or the current
// LRU cell.
func (cm *cacheMap) place(key objectKey, obj *cacheObject) {
	if cm.isSystem(key) {
		cm.system.add(obj)
		return
	}
	if cm.current.size >= cm.cellSize {
		cm.rotate()
	}
	cm.current.add(obj)
}

func (cm *cacheMap) find(key objectKey) *cacheObject {
	return cm.objects[key]
}

func (cm *cacheMap) newRef(obj *cacheObject) *ObjectRef {
	obj.refs += 1
	return &ObjectRef{obj: obj}
}

// touch makes obj the most recently used object.
func (cm *cacheMap) touch(key objectKey, obj *cacheObject) {
	if obj.cell.kind != lruCell {
		obj.cell.touch(obj)
		return
	}
	if obj.cell == cm.current {
		cm.current.touch(obj)
		return
	}
	obj.cell.remove(obj)
	cm.place(key, obj)
}

// getOrLoad returns a reference to the object; on a miss it is read from the
// journal or the driver. Returns ErrNotFound if the row does not exist.
func (cm *cacheMap) getOrLoad(info TableInfo, pk PrimaryKey) (*ObjectRef, error) {
	key := makeObjectKey(info, pk)
	if obj, ok := cm.objects[key]; ok {
		cacheRequests.WithLabelValues("hit").Inc()
		cm.touch(key, obj)
		return cm.newRef(obj), nil
	}
	cacheRequests.WithLabelValues("miss").Inc()

	var ov ObjectValue
	if wv := cm.journal.lookup(key); wv != nil {
		switch wv.Op {
		case OpUnknown, OpRemove:
			return nil, notFound("%s", key)
		case OpInsert, OpUpdate, OpUpdateRevision:
			ov = wv.Object
		default:
			panic(fmt.Sprintf("chaindb: unexpected journal operation: %s", wv.Op))
		}
	} else {
		var err error
		ov, err = cm.driver.ObjectByPK(info, pk)
		if errors.Is(err, ErrNotFound) {
			return nil, notFound("%s", key)
		} else if err != nil {
			return nil, DriverError(err)
		}
		if serviceKey(ov.Service) != key {
			return nil, corruptState("%s: driver returned %s", key, serviceKey(ov.Service))
		}
	}

	obj, err := cm.emplace(info, ov, nil, false)
	if err != nil {
		return nil, err
	}
	ref := cm.newRef(obj)
	cm.evictToBudget(cm.budget)
	return ref, nil
}

// emplace adds a new active object to the cache; pin puts it in the pending
// cell.
func (cm *cacheMap) emplace(info TableInfo, ov ObjectValue, blob []byte,
	pin bool) (*cacheObject, error) {

	key := serviceKey(ov.Service)
	if _, ok := cm.objects[key]; ok {
		return nil, corruptState("%s: already in cache", key)
	}

	obj := &cacheObject{
		object: ov,
		blob:   blob,
		stage:  stageActive,
		size:   cm.sizeFunc(ov, len(blob)),
	}
	err := cm.indexes.add(info, obj)
	if err != nil {
		return nil, err
	}
	cm.objects[key] = obj
	cm.size += obj.size
	if pin {
		cm.pending.add(obj)
	} else {
		cm.place(key, obj)
	}

	log.WithFields(log.Fields{
		"object": key,
		"size":   obj.size,
		"pin":    pin,
	}).Trace("cache emplace")
	return obj, nil
}

// update replaces the value of an active object in place.
func (cm *cacheMap) update(info TableInfo, obj *cacheObject, ov ObjectValue, blob []byte,
	pin bool) error {

	if obj.stage != stageActive {
		panic(fmt.Sprintf("chaindb: update of inactive object: %s", serviceKey(ov.Service)))
	}

	cm.indexes.remove(obj)
	obj.object = ov
	obj.blob = blob
	obj.typed = nil

	size := cm.sizeFunc(ov, len(blob))
	obj.cell.resize(obj, size)
	cm.size += size - obj.size
	obj.size = size

	if pin {
		cm.pin(obj)
	}
	return cm.indexes.add(info, obj)
}

// setRevision changes the revision of an active object without changing its
// value.
func (cm *cacheMap) setRevision(obj *cacheObject, rev Revision) {
	obj.object.Service.Revision = rev
}

func (cm *cacheMap) drop(obj *cacheObject, stage objectStage) {
	key := serviceKey(obj.object.Service)
	if cm.objects[key] != obj {
		panic(fmt.Sprintf("chaindb: dropping object not in cache: %s", key))
	}

	delete(cm.objects, key)
	cm.indexes.remove(obj)
	obj.cell.remove(obj)
	cm.size -= obj.size
	if obj.refs > 0 {
		obj.stage = stage
	} else {
		obj.stage = stageReleased
	}
}

// remove marks an object as deleted; references to it stay valid.
func (cm *cacheMap) remove(obj *cacheObject) {
	cm.drop(obj, stageDeleted)
}

// pin moves obj to the pending cell.
func (cm *cacheMap) pin(obj *cacheObject) {
	if obj.cell == cm.pending {
		return
	}
	obj.cell.remove(obj)
	cm.pending.add(obj)
}

// unpinAll moves every pending object back to its home cell.
func (cm *cacheMap) unpinAll() {
	for _, obj := range cm.pending.list() {
		cm.pending.remove(obj)
		cm.place(serviceKey(obj.object.Service), obj)
	}
	cm.evictToBudget(cm.budget)
}

// evictToBudget evicts unreferenced objects in LRU cells, oldest first, until
// the cache size is at most budget.
func (cm *cacheMap) evictToBudget(budget int) {
	defer cm.updateMetrics()

	if cm.size <= budget {
		return
	}

	evicted := 0
	for _, pos := range cm.cells.Keys() {
		cell, ok := cm.cells.Peek(pos)
		if !ok {
			panic("chaindb: missing cell")
		}
		if !cell.evictable() {
			panic(fmt.Sprintf("chaindb: %s cell in lru cells", cell.kind))
		}

		for _, obj := range cell.list() {
			if cm.size <= budget {
				break
			}
			if obj.refs > 0 {
				continue
			}
			cm.drop(obj, stageReleased)
			evicted += 1
		}
		if cell.len() == 0 && cell != cm.current {
			cm.cells.Remove(pos)
		}
		if cm.size <= budget {
			break
		}
	}

	if evicted > 0 {
		cacheEvictions.Add(float64(evicted))
		log.WithFields(log.Fields{
			"evicted": evicted,
			"size":    cm.size,
			"budget":  budget,
		}).Debug("cache eviction")
	}
}

// invalidate drops an object so that the next access reads it again.
func (cm *cacheMap) invalidate(info TableInfo, pk PrimaryKey) {
	if obj, ok := cm.objects[makeObjectKey(info, pk)]; ok {
		cm.drop(obj, stageReleased)
	}
}

// invalidateCode drops every object of code.
func (cm *cacheMap) invalidateCode(code AccountName) {
	for key, obj := range cm.objects {
		if key.code == code {
			cm.drop(obj, stageReleased)
		}
	}
}

func (cm *cacheMap) findIndex(info IndexInfo, key []byte) *cacheObject {
	return cm.indexes.find(info, key)
}

func (cm *cacheMap) cellSizes() map[cellKind]int {
	sizes := map[cellKind]int{
		pendingCell: cm.pending.size,
		systemCell:  cm.system.size,
	}
	for _, cell := range cm.cells.Values() {
		sizes[lruCell] += cell.size
	}
	return sizes
}
