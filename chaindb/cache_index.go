package chaindb

import (
	"bytes"

	"github.com/google/btree"
)

type indexTreeKey struct {
	code  AccountName
	table TableName
	index IndexName
	scope ScopeName
}

// indexItem is an entry of a secondary index tree: ordered by key and then by
// primary key so that a bare key finds the first entry with that key.
type indexItem struct {
	key []byte
	pk  PrimaryKey
	obj *cacheObject
}

func (ii indexItem) Less(item btree.Item) bool {
	ii2 := item.(indexItem)
	if cmp := bytes.Compare(ii.key, ii2.key); cmp != 0 {
		return cmp < 0
	}
	return ii.pk < ii2.pk
}

// indexPosition is where an object is in one secondary index tree.
type indexPosition struct {
	tree indexTreeKey
	key  []byte
}

type cacheIndexes struct {
	trees map[indexTreeKey]*btree.BTree
}

func newCacheIndexes() cacheIndexes {
	return cacheIndexes{
		trees: map[indexTreeKey]*btree.BTree{},
	}
}

func makeIndexTreeKey(info IndexInfo) indexTreeKey {
	return indexTreeKey{
		code:  info.Code,
		table: info.Table.Name,
		index: info.Index.Name,
		scope: info.Scope,
	}
}

// add puts obj into the trees of every secondary index of its table.
func (ci cacheIndexes) add(info TableInfo, obj *cacheObject) error {
	if len(obj.indexes) > 0 {
		panic("chaindb: object already indexed")
	}

	for idx := 1; idx < len(info.Table.Indexes); idx += 1 {
		id := &info.Table.Indexes[idx]
		key, err := id.RowKey(obj.object.Value)
		if err != nil {
			ci.remove(obj)
			return corruptState("%s: %s", info, err)
		}

		tk := makeIndexTreeKey(IndexInfo{TableInfo: info, Index: id})
		tree, ok := ci.trees[tk]
		if !ok {
			tree = btree.New(16)
			ci.trees[tk] = tree
		}
		tree.ReplaceOrInsert(indexItem{key: key, pk: obj.object.Service.PK, obj: obj})
		obj.indexes = append(obj.indexes, indexPosition{tree: tk, key: key})
	}
	return nil
}

// remove takes obj out of every tree it is in.
func (ci cacheIndexes) remove(obj *cacheObject) {
	for _, pos := range obj.indexes {
		tree, ok := ci.trees[pos.tree]
		if !ok {
			panic("chaindb: missing index tree")
		}
		if tree.Delete(indexItem{key: pos.key, pk: obj.object.Service.PK}) == nil {
			panic("chaindb: object missing from index tree")
		}
		if tree.Len() == 0 {
			delete(ci.trees, pos.tree)
		}
	}
	obj.indexes = nil
}

// find returns the first object with key in the index, or nil.
func (ci cacheIndexes) find(info IndexInfo, key []byte) *cacheObject {
	tree, ok := ci.trees[makeIndexTreeKey(info)]
	if !ok {
		return nil
	}

	var obj *cacheObject
	tree.AscendGreaterOrEqual(indexItem{key: key},
		func(item btree.Item) bool {
			ii := item.(indexItem)
			if bytes.Equal(ii.key, key) {
				obj = ii.obj
			}
			return false
		})
	return obj
}

// contains returns true if the tree at pos holds obj.
func (ci cacheIndexes) contains(pos indexPosition, obj *cacheObject) bool {
	tree, ok := ci.trees[pos.tree]
	if !ok {
		return false
	}
	item := tree.Get(indexItem{key: pos.key, pk: obj.object.Service.PK})
	return item != nil && item.(indexItem).obj == obj
}

// entries returns the number of index entries which refer to obj.
func (ci cacheIndexes) entries(obj *cacheObject) int {
	cnt := 0
	for _, tree := range ci.trees {
		tree.Ascend(
			func(item btree.Item) bool {
				if item.(indexItem).obj == obj {
					cnt += 1
				}
				return true
			})
	}
	return cnt
}
