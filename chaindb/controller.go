package chaindb

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/chaindb/abi"
	"github.com/leftmike/chaindb/value"
)

// FatalHandler is called once when the controller fails with ErrCorruptState
// or ErrDriverFailure.
type FatalHandler func(err error)

type Config struct {
	Driver Driver
	// CacheSize is the byte budget of the object cache.
	CacheSize int
	// CellSize is the byte size at which a new LRU cell is started.
	CellSize     int
	SystemTables []SystemTable
	SizeFunc     SizeFunc
	FatalHandler FatalHandler
}

// Controller is the entry point to the engine. All methods are safe to call
// from multiple goroutines, but changes are expected to come from one block
// at a time.
type Controller struct {
	mutex        sync.Mutex
	failed       error
	fatalHandler FatalHandler
	driver       Driver
	abis         abiMap
	cache        *cacheMap
	journal      *journal
	undo         *undoStack
	cursors      map[AccountName]map[CursorID]*cursor
	lastCursorID CursorID
}

// Open creates a controller over cfg.Driver and reverts any revisions which
// were not committed when the driver was last used.
func Open(cfg Config) (*Controller, error) {
	if cfg.Driver == nil {
		return nil, errors.New("chaindb: missing driver")
	}

	abis, err := cfg.Driver.ABIs()
	if err != nil {
		return nil, DriverError(err)
	}

	jrnl := newJournal(cfg.Driver)
	cache := newCacheMap(cfg.Driver, jrnl, cfg.CacheSize, cfg.CellSize, cfg.SizeFunc,
		cfg.SystemTables)
	ctrl := &Controller{
		fatalHandler: cfg.FatalHandler,
		driver:       cfg.Driver,
		abis:         abiMap(abis),
		cache:        cache,
		journal:      jrnl,
		cursors:      map[AccountName]map[CursorID]*cursor{},
	}
	ctrl.undo = newUndoStack(cache, jrnl, ctrl.abis)

	_, err = ctrl.undo.restore(cfg.Driver)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"revision":   ctrl.undo.revision,
		"codes":      len(abis),
		"cache-size": cache.budget,
	}).Info("chaindb opened")
	return ctrl, nil
}

func (ctrl *Controller) check() error {
	if ctrl.failed != nil {
		return fmt.Errorf("%w: controller failed: %s", ErrCorruptState, ctrl.failed)
	}
	return nil
}

// fatal fails the controller if err is ErrCorruptState or ErrDriverFailure.
func (ctrl *Controller) fatal(err error) error {
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrCorruptState) && !errors.Is(err, ErrDriverFailure) {
		return err
	}
	if ctrl.failed == nil {
		ctrl.failed = err
		log.WithError(err).Error("chaindb failed")
		if ctrl.fatalHandler != nil {
			ctrl.fatalHandler(err)
		}
	}
	return err
}

func (ctrl *Controller) lockedFatal(err error) error {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	return ctrl.fatal(err)
}

// AddCode registers or replaces the ABI of code. The pending changes of code
// are written to the driver and its cursors are closed first.
func (ctrl *Controller) AddCode(code AccountName, a *abi.ABI) error {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	if err := ctrl.check(); err != nil {
		return err
	}
	for tn := range ctrl.undo.tables(code) {
		if a.Table(tn) == nil {
			return fmt.Errorf("chaindb: add code %s: table %s has changes in open sessions",
				code, tn)
		}
	}

	err := ctrl.journal.applyCode(code)
	if err != nil {
		return ctrl.fatal(err)
	}
	ctrl.closeAllCursors(code)
	ctrl.cache.invalidateCode(code)

	err = ctrl.driver.AddABI(code, a)
	if err != nil {
		return ctrl.fatal(DriverError(err))
	}
	ctrl.abis[code] = a

	log.WithFields(log.Fields{
		"code":   code,
		"tables": len(a.Tables),
	}).Info("code added")
	return nil
}

// RemoveCode drops the ABI and every row of code. It fails if code has changes
// in open sessions.
func (ctrl *Controller) RemoveCode(code AccountName) error {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	if err := ctrl.check(); err != nil {
		return err
	}
	if _, ok := ctrl.abis[code]; !ok {
		return notFound("code %s", code)
	}
	if len(ctrl.undo.tables(code)) > 0 {
		return fmt.Errorf("chaindb: remove code %s: changes in open sessions", code)
	}

	err := ctrl.journal.applyCode(code)
	if err != nil {
		return ctrl.fatal(err)
	}
	ctrl.closeAllCursors(code)
	ctrl.cache.invalidateCode(code)

	err = ctrl.driver.RemoveCode(code)
	if err != nil {
		return ctrl.fatal(DriverError(err))
	}
	delete(ctrl.abis, code)

	log.WithField("code", code).Info("code removed")
	return nil
}

func (ctrl *Controller) HasCode(code AccountName) bool {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	_, ok := ctrl.abis[code]
	return ok
}

// ABI returns the registered ABI of code.
func (ctrl *Controller) ABI(code AccountName) (*abi.ABI, bool) {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	a, ok := ctrl.abis[code]
	return a, ok
}

func (ctrl *Controller) TableInfo(req TableRequest) (TableInfo, error) {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	return ctrl.abis.tableInfo(req)
}

func (ctrl *Controller) IndexInfo(req IndexRequest) (IndexInfo, error) {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	return ctrl.abis.indexInfo(req)
}

// Insert adds the row data, serialized as the table type, with primary key pk.
// It returns the change in the size of the stored rows.
func (ctrl *Controller) Insert(req TableRequest, payer AccountName, pk PrimaryKey,
	data []byte) (int, error) {

	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	if err := ctrl.check(); err != nil {
		return 0, err
	}
	info, err := ctrl.abis.tableInfo(req)
	if err != nil {
		return 0, err
	}
	val, err := info.ABI.DecodeRow(info.Table, data)
	if err != nil {
		return 0, fmt.Errorf("chaindb: insert %s: %s", info, err)
	}
	return ctrl.insert(info, payer, pk, val, data)
}

// InsertValue is Insert with a structured row.
func (ctrl *Controller) InsertValue(req TableRequest, payer AccountName, pk PrimaryKey,
	val value.Object) (int, error) {

	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	if err := ctrl.check(); err != nil {
		return 0, err
	}
	info, err := ctrl.abis.tableInfo(req)
	if err != nil {
		return 0, err
	}
	return ctrl.insert(info, payer, pk, val, nil)
}

func checkPrimaryKey(info TableInfo, pk PrimaryKey, val value.Object) error {
	if pk == UnsetPrimaryKey || pk == EndPrimaryKey {
		return fmt.Errorf("chaindb: %s: invalid primary key: %d", info, pk)
	}
	rowPK, err := info.Table.PrimaryKey(val)
	if err != nil {
		return fmt.Errorf("chaindb: %s: %s", info, err)
	}
	if PrimaryKey(rowPK) != pk {
		return fmt.Errorf("chaindb: %s: primary key %d does not match row primary key %d", info,
			pk, rowPK)
	}
	return nil
}

func rowSize(val value.Object, blob []byte) int {
	if blob != nil {
		return len(blob)
	}
	return len(value.Encode(val))
}

// checkUnique returns ErrDuplicateKey if a row other than pk has the same key
// as val in a unique secondary index.
func (ctrl *Controller) checkUnique(info TableInfo, pk PrimaryKey, val value.Object) error {
	flushed := false
	for idx := 1; idx < len(info.Table.Indexes); idx += 1 {
		id := &info.Table.Indexes[idx]
		if !id.Unique {
			continue
		}

		key, err := id.RowKey(val)
		if err != nil {
			return fmt.Errorf("chaindb: %s: %s", info, err)
		}
		ii := IndexInfo{TableInfo: info, Index: id}
		if obj := ctrl.cache.findIndex(ii, key); obj != nil {
			if obj.object.Service.PK != pk {
				return duplicateKey("%s: primary key %d", ii, obj.object.Service.PK)
			}
			continue
		}

		if !flushed {
			err = ctrl.journal.applyTable(info)
			if err != nil {
				return ctrl.fatal(err)
			}
			flushed = true
		}
		cur, err := ctrl.driver.Find(ii, key, UnsetPrimaryKey)
		if err != nil {
			return ctrl.fatal(DriverError(err))
		}
		other := cur.PK()
		cur.Close()
		if other != EndPrimaryKey && other != pk {
			return duplicateKey("%s: primary key %d", ii, other)
		}
	}
	return nil
}

func (ctrl *Controller) insert(info TableInfo, payer AccountName, pk PrimaryKey,
	val value.Object, blob []byte) (int, error) {

	err := checkPrimaryKey(info, pk, val)
	if err != nil {
		return 0, err
	}

	ref, err := ctrl.cache.getOrLoad(info, pk)
	if err == nil {
		ref.Release()
		return 0, duplicateKey("%s: primary key %d", info, pk)
	} else if !errors.Is(err, ErrNotFound) {
		return 0, ctrl.fatal(err)
	}
	err = ctrl.checkUnique(info, pk, val)
	if err != nil {
		return 0, err
	}

	ov := ObjectValue{
		Service: ServiceState{
			Code:     info.Code,
			Scope:    info.Scope,
			Table:    info.Table.Name,
			PK:       pk,
			Revision: ctrl.undo.revision,
			Payer:    payer,
			Size:     rowSize(val, blob),
		},
		Value: val,
	}
	err = ctrl.undo.insert(info, ov)
	if err != nil {
		return 0, ctrl.fatal(err)
	}
	_, err = ctrl.cache.emplace(info, ov, blob, ctrl.undo.enabled())
	if err != nil {
		return 0, ctrl.fatal(err)
	}
	ctrl.cache.evictToBudget(ctrl.cache.budget)
	return ov.Service.Size, nil
}

// Update replaces the row with primary key pk.
func (ctrl *Controller) Update(req TableRequest, payer AccountName, pk PrimaryKey,
	data []byte) (int, error) {

	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	if err := ctrl.check(); err != nil {
		return 0, err
	}
	info, err := ctrl.abis.tableInfo(req)
	if err != nil {
		return 0, err
	}
	val, err := info.ABI.DecodeRow(info.Table, data)
	if err != nil {
		return 0, fmt.Errorf("chaindb: update %s: %s", info, err)
	}
	return ctrl.update(info, payer, pk, val, data)
}

// UpdateValue is Update with a structured row.
func (ctrl *Controller) UpdateValue(req TableRequest, payer AccountName, pk PrimaryKey,
	val value.Object) (int, error) {

	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	if err := ctrl.check(); err != nil {
		return 0, err
	}
	info, err := ctrl.abis.tableInfo(req)
	if err != nil {
		return 0, err
	}
	return ctrl.update(info, payer, pk, val, nil)
}

func (ctrl *Controller) update(info TableInfo, payer AccountName, pk PrimaryKey,
	val value.Object, blob []byte) (int, error) {

	err := checkPrimaryKey(info, pk, val)
	if err != nil {
		return 0, err
	}

	ref, err := ctrl.cache.getOrLoad(info, pk)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, err
		}
		return 0, ctrl.fatal(err)
	}
	defer ref.Release()

	err = ctrl.checkUnique(info, pk, val)
	if err != nil {
		return 0, err
	}

	old := ref.Object()
	ov := ObjectValue{
		Service: old.Service,
		Value:   val,
	}
	ov.Service.Revision = ctrl.undo.revision
	ov.Service.Payer = payer
	ov.Service.Size = rowSize(val, blob)

	err = ctrl.undo.update(info, old, ov)
	if err != nil {
		return 0, ctrl.fatal(err)
	}
	err = ctrl.cache.update(info, ref.obj, ov, blob, ctrl.undo.enabled())
	if err != nil {
		return 0, ctrl.fatal(err)
	}
	return ov.Service.Size - old.Service.Size, nil
}

// Remove deletes the row with primary key pk.
func (ctrl *Controller) Remove(req TableRequest, payer AccountName, pk PrimaryKey) (int, error) {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	if err := ctrl.check(); err != nil {
		return 0, err
	}
	info, err := ctrl.abis.tableInfo(req)
	if err != nil {
		return 0, err
	}

	ref, err := ctrl.cache.getOrLoad(info, pk)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, err
		}
		return 0, ctrl.fatal(err)
	}
	defer ref.Release()

	old := ref.Object()
	err = ctrl.undo.remove(info, old)
	if err != nil {
		return 0, ctrl.fatal(err)
	}
	ctrl.cache.remove(ref.obj)

	log.WithFields(log.Fields{
		"table": info,
		"pk":    pk,
		"payer": payer,
	}).Trace("remove")
	return -old.Service.Size, nil
}

// AvailablePrimaryKey returns one more than the largest primary key in the
// table, or 0 if the table is empty.
func (ctrl *Controller) AvailablePrimaryKey(req TableRequest) (PrimaryKey, error) {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	if err := ctrl.check(); err != nil {
		return UnsetPrimaryKey, err
	}
	info, err := ctrl.abis.tableInfo(req)
	if err != nil {
		return UnsetPrimaryKey, err
	}
	err = ctrl.journal.applyTable(info)
	if err != nil {
		return UnsetPrimaryKey, ctrl.fatal(err)
	}
	pk, err := ctrl.driver.AvailablePrimaryKey(info)
	if err != nil {
		return UnsetPrimaryKey, ctrl.fatal(DriverError(err))
	}
	return pk, nil
}

func (ctrl *Controller) objectRef(req TableRequest, pk PrimaryKey) (TableInfo, *ObjectRef,
	error) {

	if err := ctrl.check(); err != nil {
		return TableInfo{}, nil, err
	}
	info, err := ctrl.abis.tableInfo(req)
	if err != nil {
		return TableInfo{}, nil, err
	}
	ref, err := ctrl.cache.getOrLoad(info, pk)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TableInfo{}, nil, err
		}
		return TableInfo{}, nil, ctrl.fatal(err)
	}
	return info, ref, nil
}

// ObjectRef returns a reference to the cached row; the caller must Release it.
func (ctrl *Controller) ObjectRef(req TableRequest, pk PrimaryKey) (*ObjectRef, error) {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	_, ref, err := ctrl.objectRef(req, pk)
	return ref, err
}

// ReleaseRef releases a reference returned by ObjectRef.
func (ctrl *Controller) ReleaseRef(ref *ObjectRef) {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	ref.Release()
}

func (ctrl *Controller) ObjectByPK(req TableRequest, pk PrimaryKey) (ObjectValue, error) {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	_, ref, err := ctrl.objectRef(req, pk)
	if err != nil {
		return ObjectValue{}, err
	}
	defer ref.Release()
	return ref.Object(), nil
}

// ValueByPK returns the row serialized as the table type.
func (ctrl *Controller) ValueByPK(req TableRequest, pk PrimaryKey) ([]byte, error) {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	info, ref, err := ctrl.objectRef(req, pk)
	if err != nil {
		return nil, err
	}
	defer ref.Release()
	return ctrl.blob(info, ref)
}

func (ctrl *Controller) blob(info TableInfo, ref *ObjectRef) ([]byte, error) {
	if blob := ref.Blob(); blob != nil {
		return blob, nil
	}
	blob, err := info.ABI.EncodeRow(info.Table, ref.Object().Value)
	if err != nil {
		return nil, ctrl.fatal(corruptState("%s: %d: %s", info, ref.PK(), err))
	}
	ref.SetBlob(blob)
	return blob, nil
}

// Revision returns the current revision.
func (ctrl *Controller) Revision() Revision {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	return ctrl.undo.revision
}

// SetRevision sets the current revision; there must be no open sessions.
func (ctrl *Controller) SetRevision(rev Revision) error {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	if err := ctrl.check(); err != nil {
		return err
	}
	return ctrl.undo.setRevision(rev)
}

// Undo reverts the changes of the current revision.
func (ctrl *Controller) Undo() error {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	if err := ctrl.check(); err != nil {
		return err
	}
	return ctrl.fatal(ctrl.undo.undo())
}

func (ctrl *Controller) undoRevision(rev Revision) error {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	if err := ctrl.check(); err != nil {
		return err
	}
	if ctrl.undo.revision != rev {
		return ctrl.fatal(corruptState("undo of revision %d at revision %d", rev,
			ctrl.undo.revision))
	}
	return ctrl.fatal(ctrl.undo.undo())
}

// Squash merges the current revision into the previous one.
func (ctrl *Controller) Squash() error {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	if err := ctrl.check(); err != nil {
		return err
	}
	return ctrl.fatal(ctrl.undo.squash())
}

func (ctrl *Controller) squash(rev Revision) error {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	if err := ctrl.check(); err != nil {
		return err
	}
	if ctrl.undo.revision != rev {
		return ctrl.fatal(corruptState("squash of revision %d at revision %d", rev,
			ctrl.undo.revision))
	}
	return ctrl.fatal(ctrl.undo.squash())
}

func (ctrl *Controller) push(rev Revision) error {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	if err := ctrl.check(); err != nil {
		return err
	}
	// Revisions pushed by inner sessions belong to the outermost one.
	if len(ctrl.undo.states) == 0 || ctrl.undo.states[0].revision != rev {
		return nil
	}
	sessionOps.WithLabelValues("commit").Inc()
	return ctrl.fatal(ctrl.undo.commit(ctrl.undo.revision))
}

// Commit makes every revision up to and including rev permanent. The revision
// is stored by the next ApplyAllChanges.
func (ctrl *Controller) Commit(rev Revision) error {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	if err := ctrl.check(); err != nil {
		return err
	}
	sessionOps.WithLabelValues("commit").Inc()
	return ctrl.fatal(ctrl.undo.commit(rev))
}

// UndoAll reverts the changes of every open session.
func (ctrl *Controller) UndoAll() error {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	if err := ctrl.check(); err != nil {
		return err
	}
	return ctrl.fatal(ctrl.undo.undoAll())
}

// ApplyAllChanges writes every pending change, and the last committed
// revision, to the driver.
func (ctrl *Controller) ApplyAllChanges() error {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	if err := ctrl.check(); err != nil {
		return err
	}
	return ctrl.fatal(ctrl.journal.applyAll(ctrl.undo.committed))
}

// ApplyCodeChanges writes the pending changes of code to the driver.
func (ctrl *Controller) ApplyCodeChanges(code AccountName) error {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	if err := ctrl.check(); err != nil {
		return err
	}
	return ctrl.fatal(ctrl.journal.applyCode(code))
}

// Close writes every pending change and closes the driver. Open sessions are
// not committed; they are reverted when the driver is next opened.
func (ctrl *Controller) Close() error {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	var err error
	if ctrl.failed == nil {
		err = ctrl.journal.applyAll(ctrl.undo.committed)
	}
	for code := range ctrl.cursors {
		ctrl.closeAllCursors(code)
	}
	if cerr := ctrl.driver.Close(); err == nil && cerr != nil {
		err = DriverError(cerr)
	}
	return err
}
