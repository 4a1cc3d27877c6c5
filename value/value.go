// Package value implements the structured row values stored by chaindb.
package value

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is one of nil, bool, int64, uint64, float64, string, []byte, []Value or Object.
type Value interface{}

type Field struct {
	Name  string
	Value Value
}

// Object is an ordered list of named fields.
type Object []Field

func (o Object) Get(nam string) (Value, bool) {
	for _, fld := range o {
		if fld.Name == nam {
			return fld.Value, true
		}
	}
	return nil, false
}

// Path follows a dotted path of field names through nested objects.
func (o Object) Path(path string) (Value, bool) {
	var val Value = o
	for _, nam := range strings.Split(path, ".") {
		obj, ok := val.(Object)
		if !ok {
			return nil, false
		}
		val, ok = obj.Get(nam)
		if !ok {
			return nil, false
		}
	}
	return val, true
}

func Equal(v1, v2 Value) bool {
	switch v1 := v1.(type) {
	case nil:
		return v2 == nil
	case bool:
		b2, ok := v2.(bool)
		return ok && v1 == b2
	case int64:
		i2, ok := v2.(int64)
		return ok && v1 == i2
	case uint64:
		u2, ok := v2.(uint64)
		return ok && v1 == u2
	case float64:
		f2, ok := v2.(float64)
		return ok && (v1 == f2 || (math.IsNaN(v1) && math.IsNaN(f2)))
	case string:
		s2, ok := v2.(string)
		return ok && v1 == s2
	case []byte:
		b2, ok := v2.([]byte)
		return ok && bytes.Equal(v1, b2)
	case []Value:
		a2, ok := v2.([]Value)
		if !ok || len(v1) != len(a2) {
			return false
		}
		for idx := range v1 {
			if !Equal(v1[idx], a2[idx]) {
				return false
			}
		}
		return true
	case Object:
		o2, ok := v2.(Object)
		if !ok || len(v1) != len(o2) {
			return false
		}
		for idx := range v1 {
			if v1[idx].Name != o2[idx].Name || !Equal(v1[idx].Value, o2[idx].Value) {
				return false
			}
		}
		return true
	default:
		panic(fmt.Sprintf("unexpected type for value.Value: %T: %v", v1, v1))
	}
}

func Format(v Value) string {
	var buf strings.Builder
	format(&buf, v)
	return buf.String()
}

func format(buf *strings.Builder, v Value) {
	switch v := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case int64:
		buf.WriteString(strconv.FormatInt(v, 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(v, 10))
	case float64:
		buf.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	case string:
		buf.WriteString(strconv.Quote(v))
	case []byte:
		fmt.Fprintf(buf, "'\\x%x'", v)
	case []Value:
		buf.WriteByte('[')
		for idx, elem := range v {
			if idx > 0 {
				buf.WriteString(", ")
			}
			format(buf, elem)
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('{')
		for idx, fld := range v {
			if idx > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(fld.Name)
			buf.WriteString(": ")
			format(buf, fld.Value)
		}
		buf.WriteByte('}')
	default:
		panic(fmt.Sprintf("unexpected type for value.Value: %T: %v", v, v))
	}
}
