package kv

import (
	"io"
	"os"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

type leveldbKV struct {
	mutex sync.Mutex
	db    *leveldb.DB
}

type leveldbIterator struct {
	it      iterator.Iterator
	reverse bool
	valid   bool
}

type leveldbUpdater struct {
	kv      *leveldbKV
	batch   *leveldb.Batch
	pending map[string][]byte
}

func MakeLevelDBKV(dataDir string) (KV, error) {
	os.MkdirAll(dataDir, 0755)

	db, err := leveldb.OpenFile(dataDir, &opt.Options{
		ErrorIfExist: false,
	})
	if err != nil {
		return nil, err
	}
	return &leveldbKV{
		db: db,
	}, nil
}

func (lkv *leveldbKV) iterate(minKey, maxKey []byte, reverse bool) (Iterator, error) {
	it := lkv.db.NewIterator(&util.Range{Start: minKey, Limit: maxKey}, nil)

	var valid bool
	if reverse {
		valid = it.Last()
	} else {
		valid = it.First()
	}

	return &leveldbIterator{
		it:      it,
		reverse: reverse,
		valid:   valid,
	}, nil
}

func (lkv *leveldbKV) Iterate(minKey, maxKey []byte) (Iterator, error) {
	return lkv.iterate(minKey, maxKey, false)
}

func (lkv *leveldbKV) ReverseIterate(minKey, maxKey []byte) (Iterator, error) {
	return lkv.iterate(minKey, maxKey, true)
}

func (lit *leveldbIterator) Item(fn func(key, val []byte) error) error {
	if !lit.valid {
		err := lit.it.Error()
		if err != nil {
			return err
		}
		return io.EOF
	}

	err := fn(lit.it.Key(), lit.it.Value())
	if err != nil {
		return err
	}

	if lit.reverse {
		lit.valid = lit.it.Prev()
	} else {
		lit.valid = lit.it.Next()
	}
	return nil
}

func (lit *leveldbIterator) Close() {
	lit.it.Release()
}

func (lkv *leveldbKV) Get(key []byte, fn func(val []byte) error) error {
	val, err := lkv.db.Get(key, nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return io.EOF
		}
		return err
	}
	return fn(val)
}

func (lkv *leveldbKV) Updater() (Updater, error) {
	lkv.mutex.Lock()

	return &leveldbUpdater{
		kv:      lkv,
		batch:   new(leveldb.Batch),
		pending: map[string][]byte{},
	}, nil
}

func (lkv *leveldbKV) Close() error {
	return lkv.db.Close()
}

func (lu *leveldbUpdater) Get(key []byte, fn func(val []byte) error) error {
	if val, ok := lu.pending[string(key)]; ok {
		if val == nil {
			return io.EOF
		}
		return fn(val)
	}
	return lu.kv.Get(key, fn)
}

func (lu *leveldbUpdater) Set(key, val []byte) error {
	val = append(make([]byte, 0, len(val)), val...)
	lu.pending[string(key)] = val
	lu.batch.Put(key, val)
	return nil
}

func (lu *leveldbUpdater) Delete(key []byte) error {
	lu.pending[string(key)] = nil
	lu.batch.Delete(key)
	return nil
}

func (lu *leveldbUpdater) Commit(sync bool) error {
	err := lu.kv.db.Write(lu.batch, &opt.WriteOptions{Sync: sync})
	lu.kv.mutex.Unlock()
	return err
}

func (lu *leveldbUpdater) Rollback() {
	lu.batch.Reset()
	lu.kv.mutex.Unlock()
}
