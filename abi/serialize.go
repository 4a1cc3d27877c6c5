package abi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/leftmike/chaindb/value"
)

var (
	errShortData = errors.New("abi: serialized data too short")
)

type decoder struct {
	abi *ABI
	buf []byte
}

// Decode deserializes data of type typ into a structured value; all of data
// must be used.
func (abi *ABI) Decode(typ string, data []byte) (value.Value, error) {
	dec := decoder{abi: abi, buf: data}
	val, err := dec.decode(typ)
	if err != nil {
		return nil, err
	}
	if len(dec.buf) > 0 {
		return nil, fmt.Errorf("abi: %s: %d extra bytes", typ, len(dec.buf))
	}
	return val, nil
}

func (dec *decoder) fixed(n int) ([]byte, error) {
	if len(dec.buf) < n {
		return nil, errShortData
	}
	b := dec.buf[:n]
	dec.buf = dec.buf[n:]
	return b, nil
}

func (dec *decoder) varuint32() (uint64, error) {
	u, n := binary.Uvarint(dec.buf)
	if n <= 0 || u > math.MaxUint32 {
		return 0, errShortData
	}
	dec.buf = dec.buf[n:]
	return u, nil
}

func (dec *decoder) decode(typ string) (value.Value, error) {
	if strings.HasSuffix(typ, "[]") {
		cnt, err := dec.varuint32()
		if err != nil {
			return nil, err
		}
		if cnt > uint64(len(dec.buf)) {
			return nil, errShortData
		}
		typ = strings.TrimSuffix(typ, "[]")
		arr := make([]value.Value, 0, cnt)
		for ; cnt > 0; cnt -= 1 {
			elem, err := dec.decode(typ)
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	} else if strings.HasSuffix(typ, "?") {
		b, err := dec.fixed(1)
		if err != nil {
			return nil, err
		}
		if b[0] == 0 {
			return nil, nil
		}
		return dec.decode(strings.TrimSuffix(typ, "?"))
	}

	switch typ {
	case "bool":
		b, err := dec.fixed(1)
		if err != nil {
			return nil, err
		}
		return b[0] != 0, nil
	case "int8":
		b, err := dec.fixed(1)
		if err != nil {
			return nil, err
		}
		return int64(int8(b[0])), nil
	case "int16":
		b, err := dec.fixed(2)
		if err != nil {
			return nil, err
		}
		return int64(int16(binary.LittleEndian.Uint16(b))), nil
	case "int32":
		b, err := dec.fixed(4)
		if err != nil {
			return nil, err
		}
		return int64(int32(binary.LittleEndian.Uint32(b))), nil
	case "int64":
		b, err := dec.fixed(8)
		if err != nil {
			return nil, err
		}
		return int64(binary.LittleEndian.Uint64(b)), nil
	case "uint8":
		b, err := dec.fixed(1)
		if err != nil {
			return nil, err
		}
		return uint64(b[0]), nil
	case "uint16":
		b, err := dec.fixed(2)
		if err != nil {
			return nil, err
		}
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case "uint32":
		b, err := dec.fixed(4)
		if err != nil {
			return nil, err
		}
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case "uint64", "name":
		b, err := dec.fixed(8)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.Uint64(b), nil
	case "varuint32":
		return dec.varuint32()
	case "float64":
		b, err := dec.fixed(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	case "string", "bytes":
		n, err := dec.varuint32()
		if err != nil {
			return nil, err
		}
		b, err := dec.fixed(int(n))
		if err != nil {
			return nil, err
		}
		if typ == "string" {
			return string(b), nil
		}
		return append(make([]byte, 0, len(b)), b...), nil
	}

	sd, ok := dec.abi.structs[typ]
	if !ok {
		return nil, fmt.Errorf("abi: unknown type: %s", typ)
	}
	fields := dec.abi.structFields(sd)
	obj := make(value.Object, 0, len(fields))
	for _, fd := range fields {
		val, err := dec.decode(fd.Type)
		if err != nil {
			return nil, err
		}
		obj = append(obj, value.Field{Name: fd.Name, Value: val})
	}
	return obj, nil
}

// Encode serializes a structured value of type typ.
func (abi *ABI) Encode(typ string, val value.Value) ([]byte, error) {
	return abi.appendValue(nil, typ, val)
}

func typeError(typ string, val value.Value) error {
	return fmt.Errorf("abi: %s: unexpected value: %s", typ, value.Format(val))
}

func (abi *ABI) appendValue(buf []byte, typ string, val value.Value) ([]byte, error) {
	if strings.HasSuffix(typ, "[]") {
		arr, ok := val.([]value.Value)
		if !ok {
			return nil, typeError(typ, val)
		}
		buf = binary.AppendUvarint(buf, uint64(len(arr)))
		typ = strings.TrimSuffix(typ, "[]")
		for _, elem := range arr {
			var err error
			buf, err = abi.appendValue(buf, typ, elem)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	} else if strings.HasSuffix(typ, "?") {
		if val == nil {
			return append(buf, 0), nil
		}
		return abi.appendValue(append(buf, 1), strings.TrimSuffix(typ, "?"), val)
	}

	switch typ {
	case "bool":
		b, ok := val.(bool)
		if !ok {
			return nil, typeError(typ, val)
		}
		if b {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	case "int8", "int16", "int32", "int64":
		n, ok := val.(int64)
		if !ok {
			return nil, typeError(typ, val)
		}
		switch typ {
		case "int8":
			if n < math.MinInt8 || n > math.MaxInt8 {
				return nil, typeError(typ, val)
			}
			return append(buf, byte(n)), nil
		case "int16":
			if n < math.MinInt16 || n > math.MaxInt16 {
				return nil, typeError(typ, val)
			}
			return binary.LittleEndian.AppendUint16(buf, uint16(n)), nil
		case "int32":
			if n < math.MinInt32 || n > math.MaxInt32 {
				return nil, typeError(typ, val)
			}
			return binary.LittleEndian.AppendUint32(buf, uint32(n)), nil
		}
		return binary.LittleEndian.AppendUint64(buf, uint64(n)), nil
	case "uint8", "uint16", "uint32", "uint64", "name", "varuint32":
		u, ok := val.(uint64)
		if !ok {
			return nil, typeError(typ, val)
		}
		switch typ {
		case "uint8":
			if u > math.MaxUint8 {
				return nil, typeError(typ, val)
			}
			return append(buf, byte(u)), nil
		case "uint16":
			if u > math.MaxUint16 {
				return nil, typeError(typ, val)
			}
			return binary.LittleEndian.AppendUint16(buf, uint16(u)), nil
		case "uint32", "varuint32":
			if u > math.MaxUint32 {
				return nil, typeError(typ, val)
			}
			if typ == "varuint32" {
				return binary.AppendUvarint(buf, u), nil
			}
			return binary.LittleEndian.AppendUint32(buf, uint32(u)), nil
		}
		return binary.LittleEndian.AppendUint64(buf, u), nil
	case "float64":
		f, ok := val.(float64)
		if !ok {
			return nil, typeError(typ, val)
		}
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(f)), nil
	case "string":
		s, ok := val.(string)
		if !ok {
			return nil, typeError(typ, val)
		}
		buf = binary.AppendUvarint(buf, uint64(len(s)))
		return append(buf, s...), nil
	case "bytes":
		b, ok := val.([]byte)
		if !ok {
			return nil, typeError(typ, val)
		}
		buf = binary.AppendUvarint(buf, uint64(len(b)))
		return append(buf, b...), nil
	}

	sd, ok := abi.structs[typ]
	if !ok {
		return nil, fmt.Errorf("abi: unknown type: %s", typ)
	}
	obj, ok := val.(value.Object)
	if !ok {
		return nil, typeError(typ, val)
	}
	for _, fd := range abi.structFields(sd) {
		fv, ok := obj.Get(fd.Name)
		if !ok && !strings.HasSuffix(fd.Type, "?") {
			return nil, fmt.Errorf("abi: %s: missing field: %s", typ, fd.Name)
		}
		var err error
		buf, err = abi.appendValue(buf, fd.Type, fv)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}
