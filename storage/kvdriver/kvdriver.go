// Package kvdriver stores chaindb tables in an ordered key value store. Each
// row is a document keyed by code, table, scope and primary key; every index,
// including the primary index, has one entry per row.
package kvdriver

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"

	"github.com/leftmike/chaindb/abi"
	"github.com/leftmike/chaindb/chaindb"
	"github.com/leftmike/chaindb/storage/kv"
)

type Driver struct {
	kv    kv.KV
	mutex sync.Mutex
	abis  map[chaindb.AccountName]*abi.ABI
}

// Open opens the key value store named by conn (see kv.Open) as a driver.
func Open(conn string, logger *log.Logger) (*Driver, error) {
	kvs, err := kv.Open(conn, logger)
	if err != nil {
		return nil, err
	}
	d, err := New(kvs)
	if err != nil {
		kvs.Close()
		return nil, err
	}
	return d, nil
}

func New(kvs kv.KV) (*Driver, error) {
	d := &Driver{
		kv:   kvs,
		abis: map[chaindb.AccountName]*abi.ABI{},
	}

	prefix := []byte{abiPrefix}
	err := d.iterate(prefix, prefixEnd(prefix),
		func(key, val []byte) error {
			if len(key) != 9 {
				return fmt.Errorf("kvdriver: bad abi key: %v", key)
			}
			code := chaindb.AccountName(binary.BigEndian.Uint64(key[1:]))
			a, err := abi.ParseJSON(val)
			if err != nil {
				return fmt.Errorf("kvdriver: abi of %s: %s", code, err)
			}
			d.abis[code] = a
			return nil
		})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Driver) iterate(minKey, maxKey []byte, fn func(key, val []byte) error) error {
	it, err := d.kv.Iterate(minKey, maxKey)
	if err != nil {
		return err
	}
	defer it.Close()

	for {
		err = it.Item(fn)
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
	}
}

// keys returns every key starting with prefix.
func (d *Driver) keys(prefix []byte) ([][]byte, error) {
	var keys [][]byte
	err := d.iterate(prefix, prefixEnd(prefix),
		func(key, val []byte) error {
			keys = append(keys, append([]byte(nil), key...))
			return nil
		})
	return keys, err
}

func (d *Driver) update(fn func(upd kv.Updater) error, sync bool) error {
	upd, err := d.kv.Updater()
	if err != nil {
		return err
	}
	err = fn(upd)
	if err != nil {
		upd.Rollback()
		return err
	}
	return upd.Commit(sync)
}

func (d *Driver) ABIs() (map[chaindb.AccountName]*abi.ABI, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	abis := map[chaindb.AccountName]*abi.ABI{}
	for code, a := range d.abis {
		abis[code] = a
	}
	return abis, nil
}

type indexEntry struct {
	key []byte
	pk  chaindb.PrimaryKey
}

func indexEntries(info chaindb.TableInfo, ov chaindb.ObjectValue) ([]indexEntry, error) {
	var entries []indexEntry
	for idx := range info.Table.Indexes {
		id := &info.Table.Indexes[idx]
		okey, err := id.RowKey(ov.Value)
		if err != nil {
			return nil, fmt.Errorf("kvdriver: %s: %d: %s", info, ov.Service.PK, err)
		}
		entries = append(entries,
			indexEntry{
				key: indexKey(chaindb.IndexInfo{TableInfo: info, Index: id}, okey,
					ov.Service.PK),
				pk: ov.Service.PK,
			})
	}
	return entries, nil
}

func pkValue(pk chaindb.PrimaryKey) []byte {
	return appendUint64(make([]byte, 0, 8), uint64(pk))
}

// AddABI registers the ABI of code. The indexes of tables which are kept are
// rebuilt, and the rows of tables which are no longer defined are dropped.
func (d *Driver) AddABI(code chaindb.AccountName, a *abi.ABI) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var deletes [][]byte
	var sets []indexEntry
	if old, ok := d.abis[code]; ok {
		for tdx := range old.Tables {
			tn := old.Tables[tdx].Name
			keys, err := d.keys(tableKey(indexPrefix, code, tn))
			if err != nil {
				return err
			}
			deletes = append(deletes, keys...)

			td := a.Table(tn)
			if td == nil {
				for _, prefix := range []byte{dataPrefix, undoPrefix} {
					keys, err = d.keys(tableKey(prefix, code, tn))
					if err != nil {
						return err
					}
					deletes = append(deletes, keys...)
				}
				continue
			}

			prefix := tableKey(dataPrefix, code, tn)
			err = d.iterate(prefix, prefixEnd(prefix),
				func(key, val []byte) error {
					ov, err := decodeDocument(val)
					if err != nil {
						return err
					}
					info := chaindb.TableInfo{
						Code:  code,
						Scope: ov.Service.Scope,
						ABI:   a,
						Table: td,
					}
					entries, err := indexEntries(info, ov)
					if err != nil {
						return err
					}
					sets = append(sets, entries...)
					return nil
				})
			if err != nil {
				return err
			}
		}
	}

	err := d.update(
		func(upd kv.Updater) error {
			for _, key := range deletes {
				if err := upd.Delete(key); err != nil {
					return err
				}
			}
			for _, ie := range sets {
				if err := upd.Set(ie.key, pkValue(ie.pk)); err != nil {
					return err
				}
			}
			return upd.Set(abiKey(code), a.JSON())
		}, true)
	if err != nil {
		return err
	}

	d.abis[code] = a
	log.WithFields(log.Fields{
		"code":    code,
		"deleted": len(deletes),
		"indexed": len(sets),
	}).Debug("kvdriver: abi added")
	return nil
}

func (d *Driver) RemoveCode(code chaindb.AccountName) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var deletes [][]byte
	for _, prefix := range []byte{dataPrefix, indexPrefix, undoPrefix} {
		keys, err := d.keys(codeKey(prefix, code))
		if err != nil {
			return err
		}
		deletes = append(deletes, keys...)
	}

	err := d.update(
		func(upd kv.Updater) error {
			for _, key := range deletes {
				if err := upd.Delete(key); err != nil {
					return err
				}
			}
			return upd.Delete(abiKey(code))
		}, true)
	if err != nil {
		return err
	}

	delete(d.abis, code)
	return nil
}

func (d *Driver) ObjectByPK(info chaindb.TableInfo, pk chaindb.PrimaryKey) (chaindb.ObjectValue,
	error) {

	var ov chaindb.ObjectValue
	err := d.kv.Get(dataKey(chaindb.ServiceState{
		Code:  info.Code,
		Table: info.Table.Name,
		Scope: info.Scope,
		PK:    pk,
	}),
		func(val []byte) error {
			var err error
			ov, err = decodeDocument(val)
			return err
		})
	if err == io.EOF {
		return ov, fmt.Errorf("%w: %s: %d", chaindb.ErrNotFound, info, pk)
	}
	return ov, err
}

// AvailablePrimaryKey returns one more than the largest primary key in the
// table and scope.
func (d *Driver) AvailablePrimaryKey(info chaindb.TableInfo) (chaindb.PrimaryKey, error) {
	prefix := dataScopeKey(info.Code, info.Table.Name, info.Scope)
	it, err := d.kv.ReverseIterate(prefix, prefixEnd(prefix))
	if err != nil {
		return chaindb.UnsetPrimaryKey, err
	}
	defer it.Close()

	pk := chaindb.PrimaryKey(0)
	err = it.Item(
		func(key, val []byte) error {
			if len(key) != len(prefix)+8 {
				return fmt.Errorf("kvdriver: bad data key: %v", key)
			}
			last := chaindb.PrimaryKey(binary.BigEndian.Uint64(key[len(prefix):]))
			if last >= chaindb.EndPrimaryKey-1 {
				return fmt.Errorf("%w: kvdriver: %s: no available primary key",
					chaindb.ErrNotFound, info)
			}
			pk = last + 1
			return nil
		})
	if err != nil && err != io.EOF {
		return chaindb.UnsetPrimaryKey, err
	}
	return pk, nil
}

func (d *Driver) UndoObjects() ([]chaindb.WriteValue, error) {
	var wvs []chaindb.WriteValue
	prefix := []byte{undoPrefix}
	err := d.iterate(prefix, prefixEnd(prefix),
		func(key, val []byte) error {
			_, rev, err := parseUndoKey(key)
			if err != nil {
				return err
			}
			ov, err := decodeDocument(val)
			if err != nil {
				return err
			}
			wvs = append(wvs,
				chaindb.WriteValue{
					Op:           chaindb.OpInsert,
					FindRevision: rev,
					SetRevision:  rev,
					Object:       ov,
				})
			return nil
		})
	if err != nil {
		return nil, err
	}
	return wvs, nil
}

// Revision returns the last committed revision, or 0 if none has been stored.
func (d *Driver) Revision() (chaindb.Revision, error) {
	var rev chaindb.Revision
	err := d.kv.Get(revisionKey,
		func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("kvdriver: revision: len(val) != 8: %d", len(val))
			}
			rev = chaindb.Revision(binary.BigEndian.Uint64(val))
			return nil
		})
	if err == io.EOF {
		return 0, nil
	}
	return rev, err
}

// Documents calls fn with every stored row, in key order.
func (d *Driver) Documents(fn func(ov chaindb.ObjectValue) error) error {
	prefix := []byte{dataPrefix}
	return d.iterate(prefix, prefixEnd(prefix),
		func(key, val []byte) error {
			ov, err := decodeDocument(val)
			if err != nil {
				return err
			}
			return fn(ov)
		})
}

// Digest returns a SHA3-256 hash of the whole store.
func (d *Driver) Digest() ([]byte, error) {
	h := sha3.New256()
	var buf []byte
	err := d.iterate(nil, nil,
		func(key, val []byte) error {
			buf = binary.AppendUvarint(buf[:0], uint64(len(key)))
			buf = append(buf, key...)
			buf = binary.AppendUvarint(buf, uint64(len(val)))
			buf = append(buf, val...)
			h.Write(buf)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

func (d *Driver) Close() error {
	return d.kv.Close()
}

var (
	errWrongTable = errors.New("kvdriver: write for a different table")

	_ chaindb.Driver = &Driver{}
)
