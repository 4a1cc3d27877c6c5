package kv

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

var (
	chaindbBucket = []byte{'c', 'h', 'a', 'i', 'n', 'd', 'b'}
)

type bboltKV struct {
	db *bbolt.DB
}

type bboltIterator struct {
	tx      *bbolt.Tx
	cr      *bbolt.Cursor
	minKey  []byte
	maxKey  []byte
	reverse bool
	next    bool
}

type bboltUpdater struct {
	tx  *bbolt.Tx
	bkt *bbolt.Bucket
}

func MakeBBoltKV(dataDir string) (KV, error) {
	os.MkdirAll(dataDir, 0755)

	db, err := bbolt.Open(filepath.Join(dataDir, "chaindb.bbolt"), 0644, nil)
	if err != nil {
		return nil, err
	}
	db.NoFreelistSync = true

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(chaindbBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return bboltKV{
		db: db,
	}, nil
}

func (bkv bboltKV) begin(writable bool) (*bbolt.Tx, *bbolt.Bucket, error) {
	tx, err := bkv.db.Begin(writable)
	if err != nil {
		return nil, nil, fmt.Errorf("bbolt: begin failed: %s", err)
	}
	bkt := tx.Bucket(chaindbBucket)
	if bkt == nil {
		tx.Rollback()
		return nil, nil, errors.New("bbolt: missing chaindb bucket")
	}
	return tx, bkt, nil
}

func (bkv bboltKV) iterate(minKey, maxKey []byte, reverse bool) (Iterator, error) {
	tx, bkt, err := bkv.begin(false)
	if err != nil {
		return nil, err
	}

	return &bboltIterator{
		tx:      tx,
		cr:      bkt.Cursor(),
		minKey:  minKey,
		maxKey:  maxKey,
		reverse: reverse,
	}, nil
}

func (bkv bboltKV) Iterate(minKey, maxKey []byte) (Iterator, error) {
	return bkv.iterate(minKey, maxKey, false)
}

func (bkv bboltKV) ReverseIterate(minKey, maxKey []byte) (Iterator, error) {
	return bkv.iterate(minKey, maxKey, true)
}

func (bit *bboltIterator) Item(fn func(key, val []byte) error) error {
	var key, val []byte
	if bit.next {
		if bit.reverse {
			key, val = bit.cr.Prev()
		} else {
			key, val = bit.cr.Next()
		}
	} else {
		bit.next = true
		if !bit.reverse {
			key, val = bit.cr.Seek(bit.minKey)
		} else if bit.maxKey == nil {
			key, val = bit.cr.Last()
		} else {
			key, val = bit.cr.Seek(bit.maxKey)
			if key == nil {
				key, val = bit.cr.Last()
			} else {
				key, val = bit.cr.Prev()
			}
		}
	}

	if key == nil || !inRange(key, bit.minKey, bit.maxKey) {
		return io.EOF
	}

	return fn(key, val)
}

func (bit *bboltIterator) Close() {
	if bit.tx != nil {
		bit.tx.Rollback()
	}
}

func (bkv bboltKV) Get(key []byte, fn func(val []byte) error) error {
	tx, bkt, err := bkv.begin(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	val := bkt.Get(key)
	if val == nil {
		return io.EOF
	}
	return fn(val)
}

func (bkv bboltKV) Updater() (Updater, error) {
	tx, bkt, err := bkv.begin(true)
	if err != nil {
		return nil, err
	}
	return bboltUpdater{
		tx:  tx,
		bkt: bkt,
	}, nil
}

func (bkv bboltKV) Close() error {
	return bkv.db.Close()
}

func (bu bboltUpdater) Get(key []byte, fn func(val []byte) error) error {
	val := bu.bkt.Get(key)
	if val == nil {
		return io.EOF
	}
	return fn(val)
}

func (bu bboltUpdater) Set(key, val []byte) error {
	return bu.bkt.Put(append(make([]byte, 0, len(key)), key...),
		append(make([]byte, 0, len(val)), val...))
}

func (bu bboltUpdater) Delete(key []byte) error {
	return bu.bkt.Delete(key)
}

func (bu bboltUpdater) Commit(sync bool) error {
	return bu.tx.Commit()
}

func (bu bboltUpdater) Rollback() {
	bu.tx.Rollback()
}
