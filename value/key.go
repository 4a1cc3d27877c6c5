package value

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// Key values are encoded as a tag followed by a binary representation
	// of the value.
	NullKeyTag              = 128
	BoolKeyTag              = 129
	Int64NegKeyTag          = 130
	Int64NotNegKeyTag       = 131
	Uint64KeyTag            = 132
	Float64NaNKeyTag        = 140
	Float64NegKeyTag        = 141
	Float64ZeroKeyTag       = 142
	Float64PosKeyTag        = 143
	Float64NaNReverseKeyTag = 144
	StringKeyTag            = 150
	BytesKeyTag             = 160
)

func encodeKeyBytes(buf []byte, bytes []byte, reverse bool) []byte {
	n := len(buf)
	for _, b := range bytes {
		if b == 0 || b == 1 {
			buf = append(buf, 1)
		}
		buf = append(buf, b)
	}
	buf = append(buf, 0)

	if reverse {
		for n < len(buf) {
			buf[n] = ^buf[n]
			n += 1
		}
	}
	return buf
}

// AppendKey appends an order preserving encoding of val to buf: comparing two
// encoded keys with bytes.Compare gives the same order as comparing the values,
// reversed when reverse is true. Only scalar values may be part of a key.
func AppendKey(buf []byte, val Value, reverse bool) []byte {
	switch val := val.(type) {
	case nil:
		buf = append(buf, NullKeyTag)
	case bool:
		if reverse {
			val = !val
		}
		buf = append(buf, BoolKeyTag)
		if val {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case string:
		buf = append(buf, StringKeyTag)
		buf = encodeKeyBytes(buf, []byte(val), reverse)
	case []byte:
		buf = append(buf, BytesKeyTag)
		buf = encodeKeyBytes(buf, val, reverse)
	case float64:
		if reverse {
			val = -val
		}
		if math.IsNaN(val) {
			if reverse {
				buf = append(buf, Float64NaNReverseKeyTag)
			} else {
				buf = append(buf, Float64NaNKeyTag)
			}
		} else if val == 0 {
			buf = append(buf, Float64ZeroKeyTag)
		} else {
			u := math.Float64bits(val)
			if u&(1<<63) != 0 {
				u = ^u
				buf = append(buf, Float64NegKeyTag)
			} else {
				buf = append(buf, Float64PosKeyTag)
			}
			buf = binary.BigEndian.AppendUint64(buf, u)
		}
	case int64:
		if reverse {
			val = ^val
		}
		if val < 0 {
			buf = append(buf, Int64NegKeyTag)
		} else {
			buf = append(buf, Int64NotNegKeyTag)
		}
		buf = binary.BigEndian.AppendUint64(buf, uint64(val))
	case uint64:
		if reverse {
			val = ^val
		}
		buf = append(buf, Uint64KeyTag)
		buf = binary.BigEndian.AppendUint64(buf, val)
	default:
		panic(fmt.Sprintf("unexpected type for key value.Value: %T: %v", val, val))
	}
	return buf
}

// MakeKey encodes a list of values, each with its own direction, into a single key.
func MakeKey(vals []Value, reverse []bool) []byte {
	var buf []byte
	for idx, val := range vals {
		buf = AppendKey(buf, val, reverse != nil && reverse[idx])
	}
	return buf
}
