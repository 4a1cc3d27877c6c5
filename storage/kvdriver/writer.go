package kvdriver

import (
	"fmt"
	"io"

	"github.com/leftmike/chaindb/chaindb"
	"github.com/leftmike/chaindb/storage/kv"
)

type write struct {
	info chaindb.TableInfo
	wv   chaindb.WriteValue
}

type writer struct {
	d           *Driver
	info        chaindb.TableInfo
	started     bool
	prepare     []write
	data        []write
	complete    []write
	revision    chaindb.Revision
	setRevision bool
}

func (d *Driver) NewWriter() chaindb.DriverWriter {
	return &writer{
		d: d,
	}
}

func (w *writer) StartTable(info chaindb.TableInfo) {
	w.info = info
	w.started = true
}

func (w *writer) add(writes []write, wv chaindb.WriteValue) []write {
	if !w.started {
		panic("kvdriver: write before start table")
	}
	svc := wv.Object.Service
	if svc.Code != w.info.Code || svc.Table != w.info.Table.Name || svc.Scope != w.info.Scope {
		panic(fmt.Sprintf("kvdriver: %s: %s", errWrongTable, wv))
	}
	return append(writes, write{info: w.info, wv: wv})
}

func (w *writer) AddData(wv chaindb.WriteValue) {
	w.data = w.add(w.data, wv)
}

func (w *writer) AddPrepareUndo(wv chaindb.WriteValue) {
	w.prepare = w.add(w.prepare, wv)
}

func (w *writer) AddCompleteUndo(wv chaindb.WriteValue) {
	w.complete = w.add(w.complete, wv)
}

func (w *writer) SetRevision(rev chaindb.Revision) {
	w.revision = rev
	w.setRevision = true
}

func (w *writer) Write() error {
	if len(w.prepare) == 0 && len(w.data) == 0 && len(w.complete) == 0 && !w.setRevision {
		return nil
	}

	return w.d.update(
		func(upd kv.Updater) error {
			for _, wr := range w.prepare {
				if err := writeUndo(upd, wr.wv); err != nil {
					return err
				}
			}
			for _, wr := range w.data {
				if err := writeData(upd, wr.info, wr.wv); err != nil {
					return err
				}
			}
			for _, wr := range w.complete {
				if err := writeUndo(upd, wr.wv); err != nil {
					return err
				}
			}
			if w.setRevision {
				return upd.Set(revisionKey, appendUint64(nil, uint64(w.revision)))
			}
			return nil
		}, w.setRevision)
}

func writeUndo(upd kv.Updater, wv chaindb.WriteValue) error {
	switch wv.Op {
	case chaindb.OpInsert, chaindb.OpUpdate:
		return upd.Set(undoKey(wv.Object.Service, wv.SetRevision), encodeDocument(wv.Object))
	case chaindb.OpRemove:
		return upd.Delete(undoKey(wv.Object.Service, wv.FindRevision))
	}
	return fmt.Errorf("kvdriver: unexpected undo write: %s", wv)
}

func getDocument(upd kv.Updater, key []byte) (chaindb.ObjectValue, bool, error) {
	var ov chaindb.ObjectValue
	err := upd.Get(key,
		func(val []byte) error {
			var err error
			ov, err = decodeDocument(val)
			return err
		})
	if err == io.EOF {
		return ov, false, nil
	} else if err != nil {
		return ov, false, err
	}
	return ov, true, nil
}

func writeData(upd kv.Updater, info chaindb.TableInfo, wv chaindb.WriteValue) error {
	if wv.Op == chaindb.OpUnknown {
		return nil
	}

	key := dataKey(wv.Object.Service)
	old, found, err := getDocument(upd, key)
	if err != nil {
		return err
	}

	switch wv.Op {
	case chaindb.OpInsert:
		if found {
			return fmt.Errorf("kvdriver: insert: %s: %d: row exists", info, wv.Object.Service.PK)
		}
	case chaindb.OpUpdateRevision:
		if !found || old.Service.Revision != wv.FindRevision {
			return fmt.Errorf("kvdriver: update revision: %s: %d: revision %d not found", info,
				wv.Object.Service.PK, wv.FindRevision)
		}
	case chaindb.OpUpdate, chaindb.OpRemove:
	default:
		return fmt.Errorf("kvdriver: unexpected data write: %s", wv)
	}

	if found {
		entries, err := indexEntries(info, old)
		if err != nil {
			return err
		}
		for _, ie := range entries {
			if err := upd.Delete(ie.key); err != nil {
				return err
			}
		}
	}

	if wv.Op == chaindb.OpRemove {
		if !found {
			return nil
		}
		return upd.Delete(key)
	}

	entries, err := indexEntries(info, wv.Object)
	if err != nil {
		return err
	}
	for _, ie := range entries {
		if err := upd.Set(ie.key, pkValue(ie.pk)); err != nil {
			return err
		}
	}
	ov := wv.Object
	ov.Service.UndoRec = chaindb.NoUndo
	return upd.Set(key, encodeDocument(ov))
}
