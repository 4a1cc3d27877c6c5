package abi

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/leftmike/chaindb/name"
	"github.com/leftmike/chaindb/value"
)

// ParseValue converts JSON text into a structured value of type typ. Names may
// be given as strings, and bytes as hex strings.
func (abi *ABI) ParseValue(typ string, s string) (value.Value, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var v interface{}
	err := dec.Decode(&v)
	if err != nil {
		return nil, fmt.Errorf("abi: %s", err)
	}
	return abi.fromJSON(typ, v)
}

func (abi *ABI) fromJSON(typ string, v interface{}) (value.Value, error) {
	if strings.HasSuffix(typ, "[]") {
		arr, ok := v.([]interface{})
		if !ok {
			return nil, fmt.Errorf("abi: %s: expected array: %v", typ, v)
		}
		typ = strings.TrimSuffix(typ, "[]")
		vals := make([]value.Value, 0, len(arr))
		for _, elem := range arr {
			val, err := abi.fromJSON(typ, elem)
			if err != nil {
				return nil, err
			}
			vals = append(vals, val)
		}
		return vals, nil
	} else if strings.HasSuffix(typ, "?") {
		if v == nil {
			return nil, nil
		}
		return abi.fromJSON(strings.TrimSuffix(typ, "?"), v)
	}

	switch typ {
	case "bool":
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("abi: %s: expected boolean: %v", typ, v)
		}
		return b, nil
	case "int8", "int16", "int32", "int64":
		num, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("abi: %s: expected number: %v", typ, v)
		}
		n, err := strconv.ParseInt(string(num), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("abi: %s: %s", typ, err)
		}
		return n, nil
	case "name":
		if s, ok := v.(string); ok {
			n, err := name.ParseName(s)
			if err != nil {
				return nil, err
			}
			return uint64(n), nil
		}
		fallthrough
	case "uint8", "uint16", "uint32", "uint64", "varuint32":
		num, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("abi: %s: expected number: %v", typ, v)
		}
		u, err := strconv.ParseUint(string(num), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("abi: %s: %s", typ, err)
		}
		return u, nil
	case "float64":
		num, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("abi: %s: expected number: %v", typ, v)
		}
		f, err := num.Float64()
		if err != nil {
			return nil, fmt.Errorf("abi: %s: %s", typ, err)
		}
		return f, nil
	case "string":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("abi: %s: expected string: %v", typ, v)
		}
		return s, nil
	case "bytes":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("abi: %s: expected string: %v", typ, v)
		}
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("abi: %s: expected hex: %q", typ, s)
		}
		return b, nil
	}

	sd, ok := abi.structs[typ]
	if !ok {
		return nil, fmt.Errorf("abi: unknown type: %s", typ)
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("abi: %s: expected object: %v", typ, v)
	}
	fields := abi.structFields(sd)
	obj := make(value.Object, 0, len(fields))
	for _, fd := range fields {
		fv, ok := m[fd.Name]
		if !ok && !strings.HasSuffix(fd.Type, "?") {
			return nil, fmt.Errorf("abi: %s: missing field: %s", typ, fd.Name)
		}
		val, err := abi.fromJSON(fd.Type, fv)
		if err != nil {
			return nil, err
		}
		obj = append(obj, value.Field{Name: fd.Name, Value: val})
	}
	if len(m) > len(fields) {
		return nil, fmt.Errorf("abi: %s: unexpected fields", typ)
	}
	return obj, nil
}

// FormatJSON converts a structured value of type typ into JSON text; names are
// formatted as strings.
func (abi *ABI) FormatJSON(typ string, val value.Value) string {
	var buf bytes.Buffer
	abi.toJSON(&buf, typ, val)
	return buf.String()
}

func (abi *ABI) toJSON(buf *bytes.Buffer, typ string, val value.Value) {
	if strings.HasSuffix(typ, "[]") {
		arr, _ := val.([]value.Value)
		typ = strings.TrimSuffix(typ, "[]")
		buf.WriteByte('[')
		for idx, elem := range arr {
			if idx > 0 {
				buf.WriteByte(',')
			}
			abi.toJSON(buf, typ, elem)
		}
		buf.WriteByte(']')
		return
	} else if strings.HasSuffix(typ, "?") {
		if val == nil {
			buf.WriteString("null")
			return
		}
		typ = strings.TrimSuffix(typ, "?")
	}

	switch val := val.(type) {
	case value.Object:
		sd, ok := abi.structs[typ]
		if !ok {
			buf.WriteString(value.Format(val))
			return
		}
		buf.WriteByte('{')
		for idx, fd := range abi.structFields(sd) {
			if idx > 0 {
				buf.WriteByte(',')
			}
			b, _ := json.Marshal(fd.Name)
			buf.Write(b)
			buf.WriteByte(':')
			fv, _ := val.Get(fd.Name)
			abi.toJSON(buf, fd.Type, fv)
		}
		buf.WriteByte('}')
	case uint64:
		if typ == "name" {
			b, _ := json.Marshal(name.Name(val).String())
			buf.Write(b)
		} else {
			buf.WriteString(strconv.FormatUint(val, 10))
		}
	case []byte:
		b, _ := json.Marshal(hex.EncodeToString(val))
		buf.Write(b)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			buf.WriteString("null")
		} else {
			buf.Write(b)
		}
	}
}
