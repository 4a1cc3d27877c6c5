package kvdriver

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/leftmike/chaindb/chaindb"
	"github.com/leftmike/chaindb/storage/kv"
)

// cursor is a position in an index. It holds the key of its entry, not an
// iterator, so every step sees the current contents of the store.
type cursor struct {
	d      *Driver
	prefix []byte
	entry  []byte
	okey   []byte
	pk     chaindb.PrimaryKey
}

func (d *Driver) newCursor(info chaindb.IndexInfo) *cursor {
	return &cursor{
		d:      d,
		prefix: indexScopeKey(info),
	}
}

func (c *cursor) setEntry(key []byte) error {
	if len(key) < len(c.prefix)+8 || !bytes.HasPrefix(key, c.prefix) {
		return fmt.Errorf("kvdriver: bad index key: %v", key)
	}
	c.entry = append([]byte(nil), key...)
	c.okey = c.entry[len(c.prefix) : len(c.entry)-8]
	c.pk = chaindb.PrimaryKey(binary.BigEndian.Uint64(c.entry[len(c.entry)-8:]))
	return nil
}

func (c *cursor) setEnd() {
	c.entry = nil
	c.okey = nil
	c.pk = chaindb.EndPrimaryKey
}

// first moves to the first entry at or after minKey.
func (c *cursor) first(minKey []byte) error {
	it, err := c.d.kv.Iterate(minKey, prefixEnd(c.prefix))
	if err != nil {
		return err
	}
	defer it.Close()
	return c.item(it)
}

// last moves to the last entry before maxKey.
func (c *cursor) last(maxKey []byte) error {
	it, err := c.d.kv.ReverseIterate(c.prefix, maxKey)
	if err != nil {
		return err
	}
	defer it.Close()
	return c.item(it)
}

func (c *cursor) item(it kv.Iterator) error {
	err := it.Item(
		func(key, val []byte) error {
			return c.setEntry(key)
		})
	if err == io.EOF {
		c.setEnd()
		return nil
	}
	return err
}

func (d *Driver) LowerBound(info chaindb.IndexInfo, okey []byte) (chaindb.DriverCursor, error) {
	c := d.newCursor(info)
	err := c.first(append(append([]byte(nil), c.prefix...), okey...))
	if err != nil {
		return nil, err
	}
	return c, nil
}

var maxPK = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

func (d *Driver) UpperBound(info chaindb.IndexInfo, okey []byte) (chaindb.DriverCursor, error) {
	c := d.newCursor(info)
	minKey := append(append([]byte(nil), c.prefix...), okey...)
	err := c.first(append(minKey, maxPK...))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (d *Driver) Find(info chaindb.IndexInfo, okey []byte,
	pk chaindb.PrimaryKey) (chaindb.DriverCursor, error) {

	c := d.newCursor(info)
	if pk == chaindb.UnsetPrimaryKey {
		err := c.first(append(append([]byte(nil), c.prefix...), okey...))
		if err != nil {
			return nil, err
		}
		if c.entry != nil && !bytes.Equal(c.okey, okey) {
			c.setEnd()
		}
		return c, nil
	}

	key := indexKey(info, okey, pk)
	err := d.kv.Get(key,
		func(val []byte) error {
			return nil
		})
	if err == io.EOF {
		c.setEnd()
		return c, nil
	} else if err != nil {
		return nil, err
	}
	err = c.setEntry(key)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (d *Driver) Begin(info chaindb.IndexInfo) (chaindb.DriverCursor, error) {
	c := d.newCursor(info)
	err := c.first(c.prefix)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (d *Driver) End(info chaindb.IndexInfo) (chaindb.DriverCursor, error) {
	c := d.newCursor(info)
	c.setEnd()
	return c, nil
}

func (c *cursor) Clone() chaindb.DriverCursor {
	c2 := &cursor{
		d:      c.d,
		prefix: c.prefix,
	}
	if c.entry == nil {
		c2.setEnd()
	} else {
		err := c2.setEntry(c.entry)
		if err != nil {
			panic(fmt.Sprintf("kvdriver: clone cursor: %s", err))
		}
	}
	return c2
}

func (c *cursor) PK() chaindb.PrimaryKey {
	return c.pk
}

func (c *cursor) Key() []byte {
	return c.okey
}

func (c *cursor) Next() error {
	if c.entry == nil {
		return nil
	}
	return c.first(append(append([]byte(nil), c.entry...), 0))
}

func (c *cursor) Prev() error {
	if c.entry == nil {
		return c.last(prefixEnd(c.prefix))
	}
	return c.last(append([]byte(nil), c.entry...))
}

func (c *cursor) Close() {}
