package abi

import (
	"fmt"

	"github.com/leftmike/chaindb/value"
)

// DecodeRow deserializes a contract row of table td.
func (abi *ABI) DecodeRow(td *TableDef, data []byte) (value.Object, error) {
	val, err := abi.Decode(td.Type, data)
	if err != nil {
		return nil, err
	}
	return val.(value.Object), nil
}

func (abi *ABI) EncodeRow(td *TableDef, obj value.Object) ([]byte, error) {
	return abi.Encode(td.Type, obj)
}

// PrimaryKey returns the value of the primary key field of a row.
func (td *TableDef) PrimaryKey(obj value.Object) (uint64, error) {
	od := td.Indexes[0].Orders[0]
	val, ok := obj.Path(od.Field)
	if !ok {
		return 0, fmt.Errorf("abi: table %s: missing primary key field: %s", td.Name, od.Field)
	}
	pk, ok := val.(uint64)
	if !ok {
		return 0, fmt.Errorf("abi: table %s: primary key field %s: unexpected value: %s",
			td.Name, od.Field, value.Format(val))
	}
	return pk, nil
}

// Values returns the values of the index fields of a row, in index order.
func (id *IndexDef) Values(obj value.Object) ([]value.Value, error) {
	vals := make([]value.Value, 0, len(id.Orders))
	for _, od := range id.Orders {
		val, ok := obj.Path(od.Field)
		if !ok {
			return nil, fmt.Errorf("abi: index %s: missing field: %s", id.Name, od.Field)
		}
		vals = append(vals, val)
	}
	return vals, nil
}

// OrderKey encodes index field values so that bytes.Compare follows the
// index ordering.
func (id *IndexDef) OrderKey(vals []value.Value) []byte {
	if len(vals) != len(id.Orders) {
		panic(fmt.Sprintf("abi: index %s: got %d values want %d", id.Name, len(vals),
			len(id.Orders)))
	}

	var buf []byte
	for odx, od := range id.Orders {
		buf = value.AppendKey(buf, vals[odx], od.Reverse())
	}
	return buf
}

// RowKey is OrderKey of the index fields of a row.
func (id *IndexDef) RowKey(obj value.Object) ([]byte, error) {
	vals, err := id.Values(obj)
	if err != nil {
		return nil, err
	}
	return id.OrderKey(vals), nil
}

// DecodeIndexKey deserializes a secondary key supplied by a contract: the
// index fields serialized one after the other.
func (abi *ABI) DecodeIndexKey(id *IndexDef, data []byte) ([]value.Value, error) {
	dec := decoder{abi: abi, buf: data}
	vals := make([]value.Value, 0, len(id.Orders))
	for _, od := range id.Orders {
		val, err := dec.decode(od.Type)
		if err != nil {
			return nil, err
		}
		vals = append(vals, val)
	}
	if len(dec.buf) > 0 {
		return nil, fmt.Errorf("abi: index %s: %d extra bytes", id.Name, len(dec.buf))
	}
	return vals, nil
}

func (abi *ABI) EncodeIndexKey(id *IndexDef, vals []value.Value) ([]byte, error) {
	if len(vals) != len(id.Orders) {
		return nil, fmt.Errorf("abi: index %s: got %d values want %d", id.Name, len(vals),
			len(id.Orders))
	}

	var buf []byte
	for odx, od := range id.Orders {
		var err error
		buf, err = abi.appendValue(buf, od.Type, vals[odx])
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}
