package chaindb

import (
	"fmt"

	"github.com/leftmike/chaindb/value"
)

type cursor struct {
	id   CursorID
	info IndexInfo
	drv  DriverCursor
	ref  *ObjectRef
}

func (c *cursor) release() {
	if c.ref != nil {
		c.ref.Release()
		c.ref = nil
	}
}

func (c *cursor) close() {
	c.release()
	c.drv.Close()
}

// orderKey converts a secondary key serialized by a contract into an order key.
func orderKey(info IndexInfo, key []byte) ([]byte, error) {
	vals, err := info.ABI.DecodeIndexKey(info.Index, key)
	if err != nil {
		return nil, fmt.Errorf("chaindb: %s: %s", info, err)
	}
	return info.Index.OrderKey(vals), nil
}

func driverCursor(drv DriverCursor, err error) (DriverCursor, error) {
	return drv, DriverError(err)
}

func (ctrl *Controller) openCursor(req IndexRequest,
	open func(info IndexInfo) (DriverCursor, error)) (CursorInfo, error) {

	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	if err := ctrl.check(); err != nil {
		return CursorInfo{}, err
	}
	info, err := ctrl.abis.indexInfo(req)
	if err != nil {
		return CursorInfo{}, err
	}
	err = ctrl.journal.applyTable(info.TableInfo)
	if err != nil {
		return CursorInfo{}, ctrl.fatal(err)
	}

	drv, err := open(info)
	if err != nil {
		return CursorInfo{}, ctrl.fatal(err)
	}
	return ctrl.addCursor(info, drv), nil
}

func (ctrl *Controller) addCursor(info IndexInfo, drv DriverCursor) CursorInfo {
	ctrl.lastCursorID += 1
	c := &cursor{
		id:   ctrl.lastCursorID,
		info: info,
		drv:  drv,
	}
	cursors, ok := ctrl.cursors[info.Code]
	if !ok {
		cursors = map[CursorID]*cursor{}
		ctrl.cursors[info.Code] = cursors
	}
	cursors[c.id] = c
	return CursorInfo{ID: c.id, PK: drv.PK()}
}

// LowerBound opens a cursor at the first entry of the index with a key at or
// after key.
func (ctrl *Controller) LowerBound(req IndexRequest, key []byte) (CursorInfo, error) {
	return ctrl.openCursor(req,
		func(info IndexInfo) (DriverCursor, error) {
			okey, err := orderKey(info, key)
			if err != nil {
				return nil, err
			}
			return driverCursor(ctrl.driver.LowerBound(info, okey))
		})
}

// UpperBound opens a cursor at the first entry of the index with a key after
// key.
func (ctrl *Controller) UpperBound(req IndexRequest, key []byte) (CursorInfo, error) {
	return ctrl.openCursor(req,
		func(info IndexInfo) (DriverCursor, error) {
			okey, err := orderKey(info, key)
			if err != nil {
				return nil, err
			}
			return driverCursor(ctrl.driver.UpperBound(info, okey))
		})
}

// Find opens a cursor at the entry (key, pk) of the index; with a pk of
// UnsetPrimaryKey, at the first entry with key. For the primary index, a nil
// key means the key of pk.
func (ctrl *Controller) Find(req IndexRequest, pk PrimaryKey, key []byte) (CursorInfo, error) {
	return ctrl.openCursor(req,
		func(info IndexInfo) (DriverCursor, error) {
			var okey []byte
			if key == nil && info.IsPrimary() {
				okey = info.Index.OrderKey([]value.Value{uint64(pk)})
			} else {
				var err error
				okey, err = orderKey(info, key)
				if err != nil {
					return nil, err
				}
			}
			return driverCursor(ctrl.driver.Find(info, okey, pk))
		})
}

func (ctrl *Controller) Begin(req IndexRequest) (CursorInfo, error) {
	return ctrl.openCursor(req,
		func(info IndexInfo) (DriverCursor, error) {
			return driverCursor(ctrl.driver.Begin(info))
		})
}

func (ctrl *Controller) End(req IndexRequest) (CursorInfo, error) {
	return ctrl.openCursor(req,
		func(info IndexInfo) (DriverCursor, error) {
			return driverCursor(ctrl.driver.End(info))
		})
}

func (ctrl *Controller) findCursor(req CursorRequest) (*cursor, error) {
	if err := ctrl.check(); err != nil {
		return nil, err
	}
	c, ok := ctrl.cursors[req.Code][req.ID]
	if !ok {
		return nil, notFound("cursor %d of %s", req.ID, req.Code)
	}
	return c, nil
}

func (ctrl *Controller) step(req CursorRequest,
	move func(drv DriverCursor) error) (PrimaryKey, error) {

	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	c, err := ctrl.findCursor(req)
	if err != nil {
		return EndPrimaryKey, err
	}
	err = ctrl.journal.applyTable(c.info.TableInfo)
	if err != nil {
		return EndPrimaryKey, ctrl.fatal(err)
	}

	c.release()
	err = move(c.drv)
	if err != nil {
		return EndPrimaryKey, ctrl.fatal(DriverError(err))
	}
	return c.drv.PK(), nil
}

// Next moves the cursor to the next entry and returns its primary key.
func (ctrl *Controller) Next(req CursorRequest) (PrimaryKey, error) {
	return ctrl.step(req,
		func(drv DriverCursor) error {
			return drv.Next()
		})
}

// Prev moves the cursor to the previous entry and returns its primary key.
func (ctrl *Controller) Prev(req CursorRequest) (PrimaryKey, error) {
	return ctrl.step(req,
		func(drv DriverCursor) error {
			return drv.Prev()
		})
}

// Current returns the primary key at the cursor; EndPrimaryKey at the end.
func (ctrl *Controller) Current(req CursorRequest) (PrimaryKey, error) {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	c, err := ctrl.findCursor(req)
	if err != nil {
		return EndPrimaryKey, err
	}
	return c.drv.PK(), nil
}

func (ctrl *Controller) cursorRef(c *cursor) (*ObjectRef, error) {
	pk := c.drv.PK()
	if pk == EndPrimaryKey {
		return nil, notFound("cursor %d of %s at end", c.id, c.info.Code)
	}
	if c.ref != nil && c.ref.PK() == pk && !c.ref.IsDeleted() {
		return c.ref, nil
	}

	c.release()
	ref, err := ctrl.cache.getOrLoad(c.info.TableInfo, pk)
	if err != nil {
		return nil, ctrl.fatal(err)
	}
	c.ref = ref
	return ref, nil
}

// Data returns the row at the cursor serialized as the table type.
func (ctrl *Controller) Data(req CursorRequest) ([]byte, error) {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	c, err := ctrl.findCursor(req)
	if err != nil {
		return nil, err
	}
	ref, err := ctrl.cursorRef(c)
	if err != nil {
		return nil, err
	}
	return ctrl.blob(c.info.TableInfo, ref)
}

// Object returns the row at the cursor.
func (ctrl *Controller) Object(req CursorRequest) (ObjectValue, error) {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	c, err := ctrl.findCursor(req)
	if err != nil {
		return ObjectValue{}, err
	}
	ref, err := ctrl.cursorRef(c)
	if err != nil {
		return ObjectValue{}, err
	}
	return ref.Object(), nil
}

// CloneCursor opens a new cursor at the same position.
func (ctrl *Controller) CloneCursor(req CursorRequest) (CursorInfo, error) {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	c, err := ctrl.findCursor(req)
	if err != nil {
		return CursorInfo{}, err
	}
	return ctrl.addCursor(c.info, c.drv.Clone()), nil
}

func (ctrl *Controller) CloseCursor(req CursorRequest) {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	cursors := ctrl.cursors[req.Code]
	if c, ok := cursors[req.ID]; ok {
		c.close()
		delete(cursors, req.ID)
		if len(cursors) == 0 {
			delete(ctrl.cursors, req.Code)
		}
	}
}

// CloseAllCursors closes every cursor opened on the tables of code.
func (ctrl *Controller) CloseAllCursors(code AccountName) {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	ctrl.closeAllCursors(code)
}

func (ctrl *Controller) closeAllCursors(code AccountName) {
	for _, c := range ctrl.cursors[code] {
		c.close()
	}
	delete(ctrl.cursors, code)
}
