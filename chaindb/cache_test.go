package chaindb

import (
	"errors"
	"testing"

	"github.com/leftmike/chaindb/value"
)

// mapDriver serves ObjectByPK from a map.
type mapDriver struct {
	Driver
	objects map[objectKey]ObjectValue
	loads   int
}

func (md *mapDriver) ObjectByPK(info TableInfo, pk PrimaryKey) (ObjectValue, error) {
	md.loads += 1
	ov, ok := md.objects[makeObjectKey(info, pk)]
	if !ok {
		return ObjectValue{}, ErrNotFound
	}
	return ov, nil
}

func fixedSize(obj ObjectValue, blobLen int) int {
	return 100
}

func newTestCache(t *testing.T, budget, cellSize int) (*cacheMap, *mapDriver, TableInfo,
	TableInfo) {

	t.Helper()

	info := testTableInfo(t, itemsName, "scope")
	sysInfo := testTableInfo(t, systemName, "scope")
	md := &mapDriver{objects: map[objectKey]ObjectValue{}}
	cm := newCacheMap(md, newJournal(md), budget, cellSize, fixedSize,
		[]SystemTable{{Code: testCode, Table: systemName}})
	return cm, md, info, sysInfo
}

func (cm *cacheMap) checkConsistent(t *testing.T) {
	t.Helper()

	size := 0
	for key, obj := range cm.objects {
		if obj.stage != stageActive {
			t.Errorf("object %s in cache with stage %d", key, obj.stage)
		}
		if obj.cell == nil {
			t.Errorf("object %s in cache without a cell", key)
		}
		if cnt := cm.indexes.entries(obj); cnt != len(obj.indexes) {
			t.Errorf("object %s: %d index entries; want %d", key, cnt, len(obj.indexes))
		}
		for _, pos := range obj.indexes {
			if !cm.indexes.contains(pos, obj) {
				t.Errorf("object %s: missing from index %s", key, pos.tree.index)
			}
		}
		size += obj.size
	}
	if size != cm.size {
		t.Errorf("cache size got %d want %d", cm.size, size)
	}

	cells := cm.pending.size + cm.system.size
	for _, cell := range cm.cells.Values() {
		cells += cell.size
	}
	if cells != cm.size {
		t.Errorf("cell sizes got %d want %d", cells, cm.size)
	}
}

func TestCacheEviction(t *testing.T) {
	cm, md, info, sysInfo := newTestCache(t, 10000, 250)

	for pk := PrimaryKey(1); pk <= 9; pk += 1 {
		_, err := cm.emplace(info, testObject(info, pk, "alice", int64(pk), 1), nil, false)
		if err != nil {
			t.Fatalf("emplace(%d) failed with %s", pk, err)
		}
	}
	cm.checkConsistent(t)

	ref, err := cm.getOrLoad(info, 1)
	if err != nil {
		t.Fatalf("getOrLoad(1) failed with %s", err)
	}
	ref.Release()
	if md.loads != 0 {
		t.Errorf("getOrLoad(1) loaded from the driver")
	}

	cm.evictToBudget(300)
	cm.checkConsistent(t)
	for pk := PrimaryKey(1); pk <= 9; pk += 1 {
		_, cached := cm.objects[makeObjectKey(info, pk)]
		want := pk == 1 || pk == 8 || pk == 9
		if cached != want {
			t.Errorf("evictToBudget(300): object %d cached %v want %v", pk, cached, want)
		}
	}
	if cm.size != 300 {
		t.Errorf("evictToBudget(300): size got %d want 300", cm.size)
	}

	ref8, err := cm.getOrLoad(info, 8)
	if err != nil {
		t.Fatalf("getOrLoad(8) failed with %s", err)
	}
	clone := ref8.Clone()
	ref8.Release()

	obj, err := cm.emplace(info, testObject(info, 20, "bob", 20, 2), nil, true)
	if err != nil {
		t.Fatalf("emplace(20) failed with %s", err)
	}
	_, err = cm.emplace(sysInfo, testObject(sysInfo, 1, "carol", 1, 2), nil, false)
	if err != nil {
		t.Fatalf("emplace(system 1) failed with %s", err)
	}

	cm.evictToBudget(0)
	cm.checkConsistent(t)
	if len(cm.objects) != 3 {
		t.Errorf("evictToBudget(0): %d objects cached; want 3", len(cm.objects))
	}
	if cm.objects[makeObjectKey(info, 8)] != clone.obj {
		t.Errorf("evictToBudget(0): referenced object evicted")
	}
	if cm.objects[makeObjectKey(info, 20)] != obj || obj.cell != cm.pending {
		t.Errorf("evictToBudget(0): pinned object evicted")
	}
	if _, ok := cm.objects[makeObjectKey(sysInfo, 1)]; !ok {
		t.Errorf("evictToBudget(0): system object evicted")
	}
	clone.Release()

	cm.unpinAll()
	cm.checkConsistent(t)
	if obj.cell == cm.pending || cm.pending.len() != 0 {
		t.Errorf("unpinAll() left pinned objects")
	}
	cm.evictToBudget(0)
	if len(cm.objects) != 1 {
		t.Errorf("evictToBudget(0): %d objects cached; want 1", len(cm.objects))
	}

	md.objects[makeObjectKey(info, 30)] = testObject(info, 30, "dave", 30, 1)
	ref, err = cm.getOrLoad(info, 30)
	if err != nil {
		t.Fatalf("getOrLoad(30) failed with %s", err)
	}
	if md.loads != 1 {
		t.Errorf("getOrLoad(30) loads got %d want 1", md.loads)
	}
	if ref.PK() != 30 {
		t.Errorf("getOrLoad(30) got %d", ref.PK())
	}
	ref.Release()

	_, err = cm.getOrLoad(info, 31)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("getOrLoad(31) did not fail with not found: %v", err)
	}
}

func TestCacheJournal(t *testing.T) {
	cm, md, info, _ := newTestCache(t, 10000, 250)

	md.objects[makeObjectKey(info, 1)] = testObject(info, 1, "alice", 1, 1)
	md.objects[makeObjectKey(info, 2)] = testObject(info, 2, "bob", 2, 1)

	err := cm.journal.write(info, 1, dataWV(OpRemove, 1, UnsetRevision,
		testObject(info, 1, "alice", 1, 1)), nil)
	if err != nil {
		t.Fatalf("write() failed with %s", err)
	}
	err = cm.journal.write(info, 2, dataWV(OpUpdate, UnsetRevision, 2,
		testObject(info, 2, "bob", 22, 2)), nil)
	if err != nil {
		t.Fatalf("write() failed with %s", err)
	}

	_, err = cm.getOrLoad(info, 1)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("getOrLoad(1) did not fail with not found: %v", err)
	}
	ref, err := cm.getOrLoad(info, 2)
	if err != nil {
		t.Fatalf("getOrLoad(2) failed with %s", err)
	}
	defer ref.Release()
	amount, _ := ref.Object().Value.Get("amount")
	if amount != int64(22) || ref.Object().Service.Revision != 2 {
		t.Errorf("getOrLoad(2) got %s", ref.Object())
	}
	if md.loads != 0 {
		t.Errorf("getOrLoad() loaded from the driver %d times", md.loads)
	}
}

func TestCacheIndexes(t *testing.T) {
	cm, _, info, _ := newTestCache(t, 10000, 250)
	byowner := IndexInfo{TableInfo: info, Index: &info.Table.Indexes[1]}
	ownerKey := func(owner string) []byte {
		key, err := byowner.Index.RowKey(testObject(info, 0, owner, 0, 0).Value)
		if err != nil {
			t.Fatalf("RowKey() failed with %s", err)
		}
		return key
	}

	var objs []*cacheObject
	for pk, owner := range []string{"alice", "bob", "carol"} {
		obj, err := cm.emplace(info, testObject(info, PrimaryKey(pk), owner, 10, 1), nil,
			false)
		if err != nil {
			t.Fatalf("emplace(%d) failed with %s", pk, err)
		}
		if len(obj.indexes) != 2 {
			t.Errorf("emplace(%d): %d index positions; want 2", pk, len(obj.indexes))
		}
		objs = append(objs, obj)
	}
	cm.checkConsistent(t)

	if cm.findIndex(byowner, ownerKey("bob")) != objs[1] {
		t.Errorf("findIndex(bob) did not find object 1")
	}
	if cm.findIndex(byowner, ownerKey("dave")) != nil {
		t.Errorf("findIndex(dave) found an object")
	}

	err := cm.update(info, objs[1], testObject(info, 1, "dave", 20, 2), []byte{1, 2}, false)
	if err != nil {
		t.Fatalf("update(1) failed with %s", err)
	}
	cm.checkConsistent(t)
	if cm.findIndex(byowner, ownerKey("bob")) != nil {
		t.Errorf("findIndex(bob) found a stale object")
	}
	if cm.findIndex(byowner, ownerKey("dave")) != objs[1] {
		t.Errorf("findIndex(dave) did not find object 1")
	}

	ref := cm.newRef(objs[2])
	cm.remove(objs[2])
	cm.checkConsistent(t)
	if cm.findIndex(byowner, ownerKey("carol")) != nil {
		t.Errorf("findIndex(carol) found a removed object")
	}
	if cm.indexes.entries(objs[2]) != 0 {
		t.Errorf("removed object still in index trees")
	}
	if !ref.IsDeleted() {
		t.Errorf("IsDeleted() got false for a removed object")
	}
	ref.Release()
	if objs[2].stage != stageReleased {
		t.Errorf("Release() of a removed object: stage %d", objs[2].stage)
	}

	cm.invalidate(info, 0)
	cm.checkConsistent(t)
	if cm.findIndex(byowner, ownerKey("alice")) != nil {
		t.Errorf("findIndex(alice) found an invalidated object")
	}
	cm.invalidateCode(testCode)
	cm.checkConsistent(t)
	if len(cm.objects) != 0 || len(cm.indexes.trees) != 0 {
		t.Errorf("invalidateCode() left %d objects and %d trees", len(cm.objects),
			len(cm.indexes.trees))
	}
}

func TestObjectRef(t *testing.T) {
	cm, _, info, _ := newTestCache(t, 10000, 250)

	obj, err := cm.emplace(info, testObject(info, 1, "alice", 1, 1), []byte{1}, false)
	if err != nil {
		t.Fatalf("emplace(1) failed with %s", err)
	}
	ref := cm.newRef(obj)
	if ref.Blob() == nil {
		t.Errorf("Blob() got nil")
	}
	ref.SetTyped(value.Object{})
	if ref.Blob() != nil || ref.Typed() == nil {
		t.Errorf("SetTyped() did not clear the blob")
	}
	ref.SetBlob([]byte{2})
	if ref.Typed() != nil {
		t.Errorf("SetBlob() did not clear the typed value")
	}
	ref.Release()

	defer func() {
		if recover() == nil {
			t.Errorf("Release() twice did not panic")
		}
	}()
	ref.Release()
}
