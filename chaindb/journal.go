package chaindb

import (
	"sort"

	"github.com/google/btree"
	log "github.com/sirupsen/logrus"
)

// journalEntry holds the pending writes for one row: the coalesced data write
// and one coalesced undo write per revision.
type journalEntry struct {
	key  objectKey
	info TableInfo
	data *WriteValue
	undo map[Revision]*WriteValue
}

func (je *journalEntry) Less(item btree.Item) bool {
	return lessObjectKey(je.key, item.(*journalEntry).key)
}

func lessObjectKey(k1, k2 objectKey) bool {
	if k1.code != k2.code {
		return k1.code < k2.code
	}
	if k1.table != k2.table {
		return k1.table < k2.table
	}
	if k1.scope != k2.scope {
		return k1.scope < k2.scope
	}
	return k1.pk < k2.pk
}

func (je *journalEntry) empty() bool {
	return je.data == nil && len(je.undo) == 0
}

type journal struct {
	driver  Driver
	entries *btree.BTree
}

func newJournal(driver Driver) *journal {
	return &journal{
		driver:  driver,
		entries: btree.New(16),
	}
}

func (j *journal) len() int {
	return j.entries.Len()
}

// lookup returns the pending data write for a row, or nil.
func (j *journal) lookup(key objectKey) *WriteValue {
	item := j.entries.Get(&journalEntry{key: key})
	if item == nil {
		return nil
	}
	return item.(*journalEntry).data
}

// write adds a data write and an undo write for the row pk of info; either
// may be nil.
func (j *journal) write(info TableInfo, pk PrimaryKey, data, undo *WriteValue) error {
	key := makeObjectKey(info, pk)
	var je *journalEntry
	if item := j.entries.Get(&journalEntry{key: key}); item != nil {
		je = item.(*journalEntry)
	} else {
		je = &journalEntry{
			key:  key,
			undo: map[Revision]*WriteValue{},
		}
	}
	je.info = info

	if data != nil {
		journalWrites.WithLabelValues("data").Inc()
		wv, err := coalesceData(je.data, *data)
		if err != nil {
			return corruptState("%s: %s", key, err)
		}
		je.data = wv
	}
	if undo != nil {
		journalWrites.WithLabelValues("undo").Inc()
		err := je.addUndo(*undo)
		if err != nil {
			return corruptState("%s: %s", key, err)
		}
	}

	if je.empty() {
		j.entries.Delete(je)
	} else {
		j.entries.ReplaceOrInsert(je)
	}
	return nil
}

type coalesceError struct {
	prev, next WriteValue
}

func (ce coalesceError) Error() string {
	return "unable to combine " + ce.prev.String() + " with " + ce.next.String()
}

func coalesceData(prev *WriteValue, next WriteValue) (*WriteValue, error) {
	if prev == nil {
		return &next, nil
	}

	switch prev.Op {
	case OpUnknown:
		if next.Op == OpInsert {
			return &next, nil
		}
	case OpInsert:
		switch next.Op {
		case OpUpdate, OpUpdateRevision:
			return &WriteValue{
				Op:           OpInsert,
				FindRevision: UnsetRevision,
				SetRevision:  next.SetRevision,
				Object:       next.Object,
			}, nil
		case OpRemove:
			return &WriteValue{
				Op:           OpUnknown,
				FindRevision: UnsetRevision,
				SetRevision:  UnsetRevision,
			}, nil
		}
	case OpUpdate:
		switch next.Op {
		case OpUpdate, OpRemove:
			return &next, nil
		case OpUpdateRevision:
			return &WriteValue{
				Op:           OpUpdate,
				FindRevision: UnsetRevision,
				SetRevision:  next.SetRevision,
				Object:       next.Object,
			}, nil
		}
	case OpUpdateRevision:
		switch next.Op {
		case OpUpdate, OpRemove:
			return &next, nil
		case OpUpdateRevision:
			if prev.SetRevision != next.FindRevision {
				break
			}
			return &WriteValue{
				Op:           OpUpdateRevision,
				FindRevision: prev.FindRevision,
				SetRevision:  next.SetRevision,
				Object:       next.Object,
			}, nil
		}
	case OpRemove:
		if next.Op == OpInsert {
			return &WriteValue{
				Op:           OpUpdate,
				FindRevision: UnsetRevision,
				SetRevision:  next.SetRevision,
				Object:       next.Object,
			}, nil
		}
	}
	return nil, coalesceError{prev: *prev, next: next}
}

// addUndo combines an undo write with the pending undo write of the same
// revision. Moving an undo document from one revision to another becomes a
// remove at the old revision and an insert at the new one.
func (je *journalEntry) addUndo(wv WriteValue) error {
	switch wv.Op {
	case OpInsert, OpUpdate:
		return je.coalesceUndo(wv.SetRevision, wv)
	case OpRemove:
		return je.coalesceUndo(wv.FindRevision, wv)
	case OpUpdateRevision:
		err := je.coalesceUndo(wv.FindRevision,
			WriteValue{
				Op:           OpRemove,
				FindRevision: wv.FindRevision,
				SetRevision:  UnsetRevision,
				Object:       wv.Object,
			})
		if err != nil {
			return err
		}
		return je.coalesceUndo(wv.SetRevision,
			WriteValue{
				Op:          OpInsert,
				SetRevision: wv.SetRevision,
				Object:      wv.Object,
			})
	}
	return coalesceError{next: wv}
}

func (je *journalEntry) coalesceUndo(rev Revision, next WriteValue) error {
	prev, ok := je.undo[rev]
	if !ok {
		je.undo[rev] = &next
		return nil
	}

	switch prev.Op {
	case OpInsert:
		switch next.Op {
		case OpUpdate:
			next.Op = OpInsert
			je.undo[rev] = &next
			return nil
		case OpRemove:
			delete(je.undo, rev)
			return nil
		}
	case OpUpdate:
		switch next.Op {
		case OpUpdate, OpRemove:
			je.undo[rev] = &next
			return nil
		}
	case OpRemove:
		if next.Op == OpInsert {
			next.Op = OpUpdate
			je.undo[rev] = &next
			return nil
		}
	}
	return coalesceError{prev: *prev, next: next}
}

func (je *journalEntry) undoRevisions() []Revision {
	revs := make([]Revision, 0, len(je.undo))
	for rev := range je.undo {
		revs = append(revs, rev)
	}
	sort.Slice(revs, func(i, j int) bool { return revs[i] < revs[j] })
	return revs
}

// applyTable writes the pending changes of one table and scope.
func (j *journal) applyTable(info TableInfo) error {
	start := objectKey{code: info.Code, table: info.Table.Name, scope: info.Scope}
	return j.apply("table", start,
		func(key objectKey) bool {
			return key.code == info.Code && key.table == info.Table.Name &&
				key.scope == info.Scope
		}, UnsetRevision)
}

// applyCode writes the pending changes of every table of code.
func (j *journal) applyCode(code AccountName) error {
	return j.apply("code", objectKey{code: code},
		func(key objectKey) bool {
			return key.code == code
		}, UnsetRevision)
}

// applyAll writes every pending change and, unless rev is UnsetRevision, stores
// rev as the last committed revision in the same write.
func (j *journal) applyAll(rev Revision) error {
	return j.apply("all", objectKey{},
		func(key objectKey) bool {
			return true
		}, rev)
}

func (j *journal) apply(scope string, start objectKey, match func(key objectKey) bool,
	rev Revision) error {

	var entries []*journalEntry
	j.entries.AscendGreaterOrEqual(&journalEntry{key: start},
		func(item btree.Item) bool {
			je := item.(*journalEntry)
			if !match(je.key) {
				return false
			}
			entries = append(entries, je)
			return true
		})
	if len(entries) == 0 && rev == UnsetRevision {
		return nil
	}

	journalFlushes.WithLabelValues(scope).Inc()
	w := j.driver.NewWriter()
	var table objectKey
	for edx, je := range entries {
		tk := je.key
		tk.pk = 0
		if edx == 0 || tk != table {
			w.StartTable(je.info)
			table = tk
		}

		if je.data != nil && je.data.Op != OpUnknown {
			w.AddData(*je.data)
		}
		for _, rev := range je.undoRevisions() {
			wv := je.undo[rev]
			if wv.Op == OpInsert {
				w.AddPrepareUndo(*wv)
			} else {
				w.AddCompleteUndo(*wv)
			}
		}
		j.entries.Delete(je)
	}
	if rev != UnsetRevision {
		w.SetRevision(rev)
	}

	log.WithFields(log.Fields{
		"scope":    scope,
		"entries":  len(entries),
		"revision": rev,
	}).Debug("journal apply")

	err := w.Write()
	if err != nil {
		return DriverError(err)
	}
	return nil
}
