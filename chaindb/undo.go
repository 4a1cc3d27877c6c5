package chaindb

import (
	"errors"
	"sort"

	log "github.com/sirupsen/logrus"
)

var errNoSession = errors.New("chaindb: no open session")

// undoRecord is what an undo state remembers about a row: the first change
// wins. For OldValue and RemovedValue, value is the row as it was before the
// revision; for NewValue, it is the inserted row.
type undoRecord struct {
	kind  UndoRecord
	value ObjectValue
}

type undoState struct {
	revision Revision
	records  map[objectKey]*undoRecord
}

func (st *undoState) keys() []objectKey {
	keys := make([]objectKey, 0, len(st.records))
	for key := range st.records {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return lessObjectKey(keys[i], keys[j]) })
	return keys
}

// undoStack is a stack of undo states, one per open session, with strictly
// increasing revisions. Every change to a state is also journaled as a change
// to the undo documents of the driver so that open revisions can be undone
// after a restart.
type undoStack struct {
	cache     *cacheMap
	journal   *journal
	abis      abiMap
	states    []*undoState
	revision  Revision
	committed Revision
}

func newUndoStack(cache *cacheMap, jrnl *journal, abis abiMap) *undoStack {
	return &undoStack{
		cache:   cache,
		journal: jrnl,
		abis:    abis,
	}
}

func (us *undoStack) top() *undoState {
	if len(us.states) == 0 {
		return nil
	}
	return us.states[len(us.states)-1]
}

func (us *undoStack) enabled() bool {
	return len(us.states) > 0
}

// undoDocument is the document stored in the undo collection at revision rev.
func undoDocument(op Operation, rev Revision, kind UndoRecord, ov ObjectValue) *WriteValue {
	ov.Service.UndoRec = kind
	return &WriteValue{
		Op:           op,
		FindRevision: rev,
		SetRevision:  rev,
		Object:       ov,
	}
}

func moveUndoDocument(from, to Revision, kind UndoRecord, ov ObjectValue) *WriteValue {
	ov.Service.UndoRec = kind
	return &WriteValue{
		Op:           OpUpdateRevision,
		FindRevision: from,
		SetRevision:  to,
		Object:       ov,
	}
}

func dataWrite(op Operation, ov ObjectValue) *WriteValue {
	ov.Service.UndoRec = NoUndo
	wv := &WriteValue{
		Op:           op,
		FindRevision: UnsetRevision,
		SetRevision:  ov.Service.Revision,
		Object:       ov,
	}
	if op == OpRemove {
		wv.FindRevision = ov.Service.Revision
		wv.SetRevision = UnsetRevision
	}
	return wv
}

func (us *undoStack) startSession() Revision {
	us.revision += 1
	us.states = append(us.states,
		&undoState{
			revision: us.revision,
			records:  map[objectKey]*undoRecord{},
		})
	return us.revision
}

// insert journals the insert of ov, which must be at the current revision.
func (us *undoStack) insert(info TableInfo, ov ObjectValue) error {
	var undo *WriteValue
	if st := us.top(); st != nil {
		key := serviceKey(ov.Service)
		rec, ok := st.records[key]
		if !ok {
			st.records[key] = &undoRecord{kind: NewValue, value: ov}
			undo = undoDocument(OpInsert, st.revision, NewValue, ov)
		} else if rec.kind == RemovedValue {
			rec.kind = OldValue
			undo = undoDocument(OpUpdate, st.revision, OldValue, rec.value)
		} else {
			return corruptState("%s: insert with %s undo record", key, rec.kind)
		}
	}
	return us.journal.write(info, ov.Service.PK, dataWrite(OpInsert, ov), undo)
}

// update journals the change of old to ov.
func (us *undoStack) update(info TableInfo, old, ov ObjectValue) error {
	var undo *WriteValue
	if st := us.top(); st != nil {
		key := serviceKey(old.Service)
		rec, ok := st.records[key]
		if !ok {
			st.records[key] = &undoRecord{kind: OldValue, value: old}
			undo = undoDocument(OpInsert, st.revision, OldValue, old)
		} else if rec.kind == RemovedValue {
			return corruptState("%s: update with %s undo record", key, rec.kind)
		}
	}
	return us.journal.write(info, ov.Service.PK, dataWrite(OpUpdate, ov), undo)
}

// remove journals the removal of old.
func (us *undoStack) remove(info TableInfo, old ObjectValue) error {
	var undo *WriteValue
	if st := us.top(); st != nil {
		key := serviceKey(old.Service)
		rec, ok := st.records[key]
		if !ok {
			st.records[key] = &undoRecord{kind: RemovedValue, value: old}
			undo = undoDocument(OpInsert, st.revision, RemovedValue, old)
		} else {
			switch rec.kind {
			case NewValue:
				delete(st.records, key)
				undo = undoDocument(OpRemove, st.revision, NewValue, rec.value)
			case OldValue:
				rec.kind = RemovedValue
				undo = undoDocument(OpUpdate, st.revision, RemovedValue, rec.value)
			default:
				return corruptState("%s: remove with %s undo record", key, rec.kind)
			}
		}
	}
	return us.journal.write(info, old.Service.PK, dataWrite(OpRemove, old), undo)
}

// undo reverts every change of the top state.
func (us *undoStack) undo() error {
	st := us.top()
	if st == nil {
		return errNoSession
	}

	for _, key := range st.keys() {
		rec := st.records[key]
		info, err := us.abis.keyInfo(key)
		if err != nil {
			return corruptState("undo %s: %s", key, err)
		}

		var data *WriteValue
		obj := us.cache.find(key)
		switch rec.kind {
		case NewValue:
			if obj != nil {
				us.cache.remove(obj)
			}
			cur := rec.value
			cur.Service.Revision = st.revision
			data = dataWrite(OpRemove, cur)
		case OldValue:
			if obj != nil {
				err = us.cache.update(info, obj, rec.value, nil, false)
				if err != nil {
					return err
				}
			}
			data = dataWrite(OpUpdate, rec.value)
		case RemovedValue:
			if obj != nil {
				return corruptState("undo %s: removed object in cache", key)
			}
			data = dataWrite(OpInsert, rec.value)
		default:
			return corruptState("undo %s: unexpected undo record: %s", key, rec.kind)
		}

		err = us.journal.write(info, key.pk, data,
			undoDocument(OpRemove, st.revision, rec.kind, rec.value))
		if err != nil {
			return err
		}
	}

	log.WithFields(log.Fields{
		"revision": st.revision,
		"records":  len(st.records),
	}).Debug("undo")

	us.states = us.states[:len(us.states)-1]
	us.revision -= 1
	if len(us.states) == 0 {
		us.cache.unpinAll()
	}
	return nil
}

// lowerRevision moves the current value of the row key from revision rev to
// revision rev - 1.
func (us *undoStack) lowerRevision(info TableInfo, key objectKey, rev Revision) error {
	ref, err := us.cache.getOrLoad(info, key.pk)
	if err != nil {
		return corruptState("squash %s: %s", key, err)
	}
	defer ref.Release()

	ov := ref.Object()
	if ov.Service.Revision != rev {
		return corruptState("squash %s: revision %d; expected %d", key, ov.Service.Revision,
			rev)
	}
	us.cache.setRevision(ref.obj, rev-1)
	ov.Service.Revision = rev - 1

	data := dataWrite(OpUpdateRevision, ov)
	data.FindRevision = rev
	return us.journal.write(info, key.pk, data, nil)
}

// squash merges the top state into the one below it; the changes of the top
// state become changes of the previous revision.
func (us *undoStack) squash() error {
	st := us.top()
	if st == nil {
		return errNoSession
	}
	var prev *undoState
	if len(us.states) > 1 {
		prev = us.states[len(us.states)-2]
	}

	for _, key := range st.keys() {
		rec := st.records[key]
		info, err := us.abis.keyInfo(key)
		if err != nil {
			return corruptState("squash %s: %s", key, err)
		}

		if rec.kind != RemovedValue {
			err = us.lowerRevision(info, key, st.revision)
			if err != nil {
				return err
			}
		}

		err = us.mergeRecord(info, key, rec, st.revision, prev)
		if err != nil {
			return err
		}
	}

	log.WithFields(log.Fields{
		"revision": st.revision,
		"records":  len(st.records),
	}).Debug("squash")

	us.states = us.states[:len(us.states)-1]
	us.revision -= 1
	if len(us.states) == 0 {
		us.cache.unpinAll()
	}
	return nil
}

func (us *undoStack) mergeRecord(info TableInfo, key objectKey, rec *undoRecord, rev Revision,
	prev *undoState) error {

	removeRev := func() error {
		return us.journal.write(info, key.pk, nil,
			undoDocument(OpRemove, rev, rec.kind, rec.value))
	}

	if prev == nil {
		return removeRev()
	}

	prec, ok := prev.records[key]
	if !ok {
		prev.records[key] = rec
		return us.journal.write(info, key.pk, nil,
			moveUndoDocument(rev, prev.revision, rec.kind, rec.value))
	}

	switch {
	case rec.kind == NewValue && prec.kind == RemovedValue:
		prec.kind = OldValue
		if err := removeRev(); err != nil {
			return err
		}
		return us.journal.write(info, key.pk, nil,
			undoDocument(OpUpdate, prev.revision, OldValue, prec.value))
	case rec.kind == OldValue && (prec.kind == NewValue || prec.kind == OldValue):
		return removeRev()
	case rec.kind == RemovedValue && prec.kind == NewValue:
		delete(prev.records, key)
		if err := removeRev(); err != nil {
			return err
		}
		return us.journal.write(info, key.pk, nil,
			undoDocument(OpRemove, prev.revision, NewValue, prec.value))
	case rec.kind == RemovedValue && prec.kind == OldValue:
		prec.kind = RemovedValue
		if err := removeRev(); err != nil {
			return err
		}
		return us.journal.write(info, key.pk, nil,
			undoDocument(OpUpdate, prev.revision, RemovedValue, prec.value))
	}
	return corruptState("squash %s: %s undo record over %s undo record", key, rec.kind,
		prec.kind)
}

// commit drops every state with a revision at or below rev; their changes can
// no longer be undone.
func (us *undoStack) commit(rev Revision) error {
	for len(us.states) > 0 && us.states[0].revision <= rev {
		st := us.states[0]
		for _, key := range st.keys() {
			rec := st.records[key]
			info, err := us.abis.keyInfo(key)
			if err != nil {
				return corruptState("commit %s: %s", key, err)
			}
			err = us.journal.write(info, key.pk, nil,
				undoDocument(OpRemove, st.revision, rec.kind, rec.value))
			if err != nil {
				return err
			}
		}
		us.states = us.states[1:]
	}

	if len(us.states) == 0 {
		if rev > us.revision {
			rev = us.revision
		}
		us.cache.unpinAll()
	} else {
		rev = us.states[0].revision - 1
	}
	if rev > us.committed {
		us.committed = rev
	}
	return nil
}

func (us *undoStack) undoAll() error {
	for len(us.states) > 0 {
		err := us.undo()
		if err != nil {
			return err
		}
	}
	return nil
}

func (us *undoStack) setRevision(rev Revision) error {
	if len(us.states) > 0 {
		return errors.New("chaindb: unable to set revision with open sessions")
	}
	if rev < 0 {
		return errors.New("chaindb: revision must not be negative")
	}
	us.revision = rev
	us.committed = rev
	return nil
}

// tables returns the tables of code with undo records.
func (us *undoStack) tables(code AccountName) map[TableName]struct{} {
	tables := map[TableName]struct{}{}
	for _, st := range us.states {
		for key := range st.records {
			if key.code == code {
				tables[key.table] = struct{}{}
			}
		}
	}
	return tables
}

// restore reverts the changes of revisions that were never committed using
// the undo documents found in the driver, and then deletes every undo
// document. The oldest undo document of a row holds its committed state.
func (us *undoStack) restore(driver Driver) (int, error) {
	persisted, err := driver.Revision()
	if err != nil {
		return 0, DriverError(err)
	}
	us.revision = persisted
	us.committed = persisted

	docs, err := driver.UndoObjects()
	if err != nil {
		return 0, DriverError(err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	sort.Slice(docs,
		func(i, j int) bool {
			ki := serviceKey(docs[i].Object.Service)
			kj := serviceKey(docs[j].Object.Service)
			if ki != kj {
				return lessObjectKey(ki, kj)
			}
			return docs[i].SetRevision < docs[j].SetRevision
		})

	w := driver.NewWriter()
	var table objectKey
	var last objectKey
	restored := 0
	for ddx, doc := range docs {
		key := serviceKey(doc.Object.Service)
		info, err := us.abis.keyInfo(key)
		if err != nil {
			return 0, corruptState("restore %s: %s", key, err)
		}

		tk := key
		tk.pk = 0
		if ddx == 0 || tk != table {
			w.StartTable(info)
			table = tk
		}

		if doc.SetRevision > persisted && (ddx == 0 || key != last ||
			docs[ddx-1].SetRevision <= persisted) {

			switch doc.Object.Service.UndoRec {
			case NewValue:
				w.AddData(*dataWrite(OpRemove, doc.Object))
			case OldValue, RemovedValue:
				w.AddData(*dataWrite(OpUpdate, doc.Object))
			default:
				return 0, corruptState("restore %s: unexpected undo record: %s", key,
					doc.Object.Service.UndoRec)
			}
			restored += 1
		}
		w.AddCompleteUndo(*undoDocument(OpRemove, doc.SetRevision,
			doc.Object.Service.UndoRec, doc.Object))
		last = key
	}

	err = w.Write()
	if err != nil {
		return 0, DriverError(err)
	}

	log.WithFields(log.Fields{
		"revision":  persisted,
		"documents": len(docs),
		"restored":  restored,
	}).Info("restored undo state")
	return restored, nil
}
