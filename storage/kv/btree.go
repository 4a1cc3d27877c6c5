package kv

import (
	"bytes"
	"io"
	"sync"

	"github.com/google/btree"
)

var compare = bytes.Compare

type btreeKV struct {
	treeMutex   sync.Mutex
	updateMutex sync.Mutex
	tree        *btree.BTree
}

type btreeIterator struct {
	tree    *btree.BTree
	minKey  []byte
	maxKey  []byte
	key     []byte
	reverse bool
	started bool
}

type btreeUpdater struct {
	bkv  *btreeKV
	tree *btree.BTree
}

type btreeItem struct {
	key []byte
	val []byte
}

func (bi btreeItem) Less(item btree.Item) bool {
	bi2 := item.(btreeItem)
	return bytes.Compare(bi.key, bi2.key) < 0
}

func MakeBTreeKV() (KV, error) {
	return &btreeKV{
		tree: btree.New(16),
	}, nil
}

func (bkv *btreeKV) snapshot() *btree.BTree {
	bkv.treeMutex.Lock()
	defer bkv.treeMutex.Unlock()

	return bkv.tree.Clone()
}

func (bkv *btreeKV) Iterate(minKey, maxKey []byte) (Iterator, error) {
	return &btreeIterator{
		tree:   bkv.snapshot(),
		minKey: minKey,
		maxKey: maxKey,
	}, nil
}

func (bkv *btreeKV) ReverseIterate(minKey, maxKey []byte) (Iterator, error) {
	return &btreeIterator{
		tree:    bkv.snapshot(),
		minKey:  minKey,
		maxKey:  maxKey,
		reverse: true,
	}, nil
}

func (bit *btreeIterator) Item(fn func(key, val []byte) error) error {
	var skip []byte
	var found *btreeItem
	visit := func(item btree.Item) bool {
		bi := item.(btreeItem)
		if skip != nil && bytes.Equal(bi.key, skip) {
			return true
		}
		found = &bi
		return false
	}

	if bit.reverse {
		if bit.started {
			skip = bit.key
		} else {
			skip = bit.maxKey
		}
		if skip == nil {
			bit.tree.Descend(visit)
		} else {
			bit.tree.DescendLessOrEqual(btreeItem{key: skip}, visit)
		}
	} else if bit.started {
		skip = bit.key
		bit.tree.AscendGreaterOrEqual(btreeItem{key: skip}, visit)
	} else {
		bit.tree.AscendGreaterOrEqual(btreeItem{key: bit.minKey}, visit)
	}

	if found == nil || !inRange(found.key, bit.minKey, bit.maxKey) {
		return io.EOF
	}
	bit.started = true
	bit.key = found.key
	return fn(found.key, found.val)
}

func (bit *btreeIterator) Close() {
	// Nothing.
}

func (bkv *btreeKV) Get(key []byte, fn func(val []byte) error) error {
	bkv.treeMutex.Lock()
	tree := bkv.tree
	bkv.treeMutex.Unlock()

	return btreeGet(tree, key, fn)
}

func btreeGet(tree *btree.BTree, key []byte, fn func(val []byte) error) error {
	item := tree.Get(btreeItem{key: key})
	if item == nil {
		return io.EOF
	}
	return fn(item.(btreeItem).val)
}

func (bkv *btreeKV) Updater() (Updater, error) {
	bkv.updateMutex.Lock()

	return btreeUpdater{
		bkv:  bkv,
		tree: bkv.snapshot(),
	}, nil
}

func (bkv *btreeKV) Close() error {
	return nil
}

func (bu btreeUpdater) Get(key []byte, fn func(val []byte) error) error {
	return btreeGet(bu.tree, key, fn)
}

func (bu btreeUpdater) Set(key, val []byte) error {
	bu.tree.ReplaceOrInsert(btreeItem{
		key: append(make([]byte, 0, len(key)), key...),
		val: append(make([]byte, 0, len(val)), val...),
	})
	return nil
}

func (bu btreeUpdater) Delete(key []byte) error {
	bu.tree.Delete(btreeItem{key: key})
	return nil
}

func (bu btreeUpdater) Commit(sync bool) error {
	bu.bkv.treeMutex.Lock()
	bu.bkv.tree = bu.tree
	bu.bkv.treeMutex.Unlock()

	bu.bkv.updateMutex.Unlock()
	return nil
}

func (bu btreeUpdater) Rollback() {
	bu.bkv.updateMutex.Unlock()
}
