package value

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	nullValueTag    = 0
	falseValueTag   = 1
	trueValueTag    = 2
	int64ValueTag   = 3
	uint64ValueTag  = 4
	float64ValueTag = 5
	stringValueTag  = 6
	bytesValueTag   = 7
	arrayValueTag   = 8
	objectValueTag  = 9

	maxDepth = 64
)

var (
	errShortValue = errors.New("value: encoded value too short")
)

// Encode returns a self describing encoding of val.
func Encode(val Value) []byte {
	return AppendValue(nil, val)
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func AppendValue(buf []byte, val Value) []byte {
	switch val := val.(type) {
	case nil:
		buf = append(buf, nullValueTag)
	case bool:
		if val {
			buf = append(buf, trueValueTag)
		} else {
			buf = append(buf, falseValueTag)
		}
	case int64:
		buf = append(buf, int64ValueTag)
		buf = binary.AppendVarint(buf, val)
	case uint64:
		buf = append(buf, uint64ValueTag)
		buf = binary.AppendUvarint(buf, val)
	case float64:
		buf = append(buf, float64ValueTag)
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(val))
	case string:
		buf = append(buf, stringValueTag)
		buf = appendBytes(buf, []byte(val))
	case []byte:
		buf = append(buf, bytesValueTag)
		buf = appendBytes(buf, val)
	case []Value:
		buf = append(buf, arrayValueTag)
		buf = binary.AppendUvarint(buf, uint64(len(val)))
		for _, elem := range val {
			buf = AppendValue(buf, elem)
		}
	case Object:
		buf = append(buf, objectValueTag)
		buf = binary.AppendUvarint(buf, uint64(len(val)))
		for _, fld := range val {
			buf = appendBytes(buf, []byte(fld.Name))
			buf = AppendValue(buf, fld.Value)
		}
	default:
		panic(fmt.Sprintf("unexpected type for value.Value: %T: %v", val, val))
	}
	return buf
}

// Decode decodes a value encoded by Encode; the whole buffer must be consumed.
func Decode(buf []byte) (Value, error) {
	val, buf, err := decodeValue(buf, 0)
	if err != nil {
		return nil, err
	}
	if len(buf) > 0 {
		return nil, fmt.Errorf("value: %d extra bytes after encoded value", len(buf))
	}
	return val, nil
}

func decodeUvarint(buf []byte) (uint64, []byte, error) {
	u, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, nil, errShortValue
	}
	return u, buf[n:], nil
}

func decodeBytes(buf []byte) ([]byte, []byte, error) {
	u, buf, err := decodeUvarint(buf)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(buf)) < u {
		return nil, nil, errShortValue
	}
	return buf[:u:u], buf[u:], nil
}

func decodeValue(buf []byte, depth int) (Value, []byte, error) {
	if depth > maxDepth {
		return nil, nil, errors.New("value: encoded value nested too deeply")
	}
	if len(buf) == 0 {
		return nil, nil, errShortValue
	}

	tag := buf[0]
	buf = buf[1:]
	switch tag {
	case nullValueTag:
		return nil, buf, nil
	case falseValueTag:
		return false, buf, nil
	case trueValueTag:
		return true, buf, nil
	case int64ValueTag:
		n, sz := binary.Varint(buf)
		if sz <= 0 {
			return nil, nil, errShortValue
		}
		return n, buf[sz:], nil
	case uint64ValueTag:
		u, buf, err := decodeUvarint(buf)
		if err != nil {
			return nil, nil, err
		}
		return u, buf, nil
	case float64ValueTag:
		if len(buf) < 8 {
			return nil, nil, errShortValue
		}
		return math.Float64frombits(binary.BigEndian.Uint64(buf)), buf[8:], nil
	case stringValueTag:
		b, buf, err := decodeBytes(buf)
		if err != nil {
			return nil, nil, err
		}
		return string(b), buf, nil
	case bytesValueTag:
		b, buf, err := decodeBytes(buf)
		if err != nil {
			return nil, nil, err
		}
		return append(make([]byte, 0, len(b)), b...), buf, nil
	case arrayValueTag:
		cnt, buf, err := decodeUvarint(buf)
		if err != nil {
			return nil, nil, err
		}
		if cnt > uint64(len(buf)) {
			return nil, nil, errShortValue
		}
		arr := make([]Value, 0, cnt)
		for ; cnt > 0; cnt -= 1 {
			var elem Value
			elem, buf, err = decodeValue(buf, depth+1)
			if err != nil {
				return nil, nil, err
			}
			arr = append(arr, elem)
		}
		return arr, buf, nil
	case objectValueTag:
		cnt, buf, err := decodeUvarint(buf)
		if err != nil {
			return nil, nil, err
		}
		if cnt > uint64(len(buf)) {
			return nil, nil, errShortValue
		}
		obj := make(Object, 0, cnt)
		for ; cnt > 0; cnt -= 1 {
			var nam []byte
			nam, buf, err = decodeBytes(buf)
			if err != nil {
				return nil, nil, err
			}
			var val Value
			val, buf, err = decodeValue(buf, depth+1)
			if err != nil {
				return nil, nil, err
			}
			obj = append(obj, Field{Name: string(nam), Value: val})
		}
		return obj, buf, nil
	}
	return nil, nil, fmt.Errorf("value: unexpected tag: %d", tag)
}
