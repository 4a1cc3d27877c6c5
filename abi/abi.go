// Package abi describes the shape of contract tables and converts between the
// binary serialization used by contracts and structured values.
package abi

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/leftmike/chaindb/name"
)

const (
	AscendingOrder  = "asc"
	DescendingOrder = "desc"
)

var (
	PrimaryIndex = name.MustParseName("primary")
)

type FieldDef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type StructDef struct {
	Name   string     `json:"name"`
	Base   string     `json:"base,omitempty"`
	Fields []FieldDef `json:"fields"`
}

type OrderDef struct {
	Field string `json:"field"`
	Order string `json:"order"`
	Type  string `json:"-"`
}

func (od OrderDef) Reverse() bool {
	return od.Order == DescendingOrder
}

type IndexDef struct {
	Name   name.Name  `json:"name"`
	Unique bool       `json:"unique"`
	Orders []OrderDef `json:"orders"`
}

type TableDef struct {
	Name    name.Name  `json:"name"`
	Type    string     `json:"type"`
	Indexes []IndexDef `json:"indexes"`
}

type ABI struct {
	Version string      `json:"version"`
	Structs []StructDef `json:"structs"`
	Tables  []TableDef  `json:"tables"`

	structs map[string]*StructDef
}

var builtinTypes = map[string]struct{}{
	"bool":      {},
	"int8":      {},
	"int16":     {},
	"int32":     {},
	"int64":     {},
	"uint8":     {},
	"uint16":    {},
	"uint32":    {},
	"uint64":    {},
	"varuint32": {},
	"float64":   {},
	"name":      {},
	"string":    {},
	"bytes":     {},
}

func isScalar(typ string) bool {
	_, ok := builtinTypes[typ]
	return ok
}

// ParseJSON parses and validates an ABI in JSON format.
func ParseJSON(b []byte) (*ABI, error) {
	var abi ABI
	err := json.Unmarshal(b, &abi)
	if err != nil {
		return nil, fmt.Errorf("abi: %s", err)
	}
	err = abi.Init()
	if err != nil {
		return nil, err
	}
	return &abi, nil
}

func (abi *ABI) JSON() []byte {
	b, err := json.Marshal(abi)
	if err != nil {
		panic(fmt.Sprintf("abi: marshal failed: %s", err))
	}
	return b
}

// Init validates the ABI and resolves the types of the index fields. It must be
// called before an ABI constructed in code is used.
func (abi *ABI) Init() error {
	abi.structs = map[string]*StructDef{}
	for sdx := range abi.Structs {
		sd := &abi.Structs[sdx]
		if sd.Name == "" || isScalar(sd.Name) {
			return fmt.Errorf("abi: invalid struct name: %q", sd.Name)
		}
		if _, ok := abi.structs[sd.Name]; ok {
			return fmt.Errorf("abi: duplicate struct: %s", sd.Name)
		}
		abi.structs[sd.Name] = sd
	}

	for _, sd := range abi.Structs {
		if sd.Base != "" {
			if _, ok := abi.structs[sd.Base]; !ok {
				return fmt.Errorf("abi: struct %s: unknown base: %s", sd.Name, sd.Base)
			}
		}
		fields := map[string]struct{}{}
		for _, fd := range sd.Fields {
			if _, ok := fields[fd.Name]; ok {
				return fmt.Errorf("abi: struct %s: duplicate field: %s", sd.Name, fd.Name)
			}
			fields[fd.Name] = struct{}{}
			if !abi.validType(fd.Type) {
				return fmt.Errorf("abi: struct %s: field %s: unknown type: %s", sd.Name, fd.Name,
					fd.Type)
			}
		}
	}
	for _, sd := range abi.Structs {
		if abi.circular(sd.Name, map[string]struct{}{}) {
			return fmt.Errorf("abi: struct %s: circular definition", sd.Name)
		}
	}

	tables := map[name.Name]struct{}{}
	for tdx := range abi.Tables {
		td := &abi.Tables[tdx]
		if _, ok := tables[td.Name]; ok {
			return fmt.Errorf("abi: duplicate table: %s", td.Name)
		}
		tables[td.Name] = struct{}{}
		err := abi.initTable(td)
		if err != nil {
			return err
		}
	}
	return nil
}

func (abi *ABI) validType(typ string) bool {
	if strings.HasSuffix(typ, "[]") {
		return abi.validType(strings.TrimSuffix(typ, "[]"))
	} else if strings.HasSuffix(typ, "?") {
		return abi.validType(strings.TrimSuffix(typ, "?"))
	}
	if isScalar(typ) {
		return true
	}
	_, ok := abi.structs[typ]
	return ok
}

func (abi *ABI) circular(typ string, seen map[string]struct{}) bool {
	typ = strings.TrimRight(typ, "[]?")
	sd, ok := abi.structs[typ]
	if !ok {
		return false
	}
	if _, ok := seen[typ]; ok {
		return true
	}
	seen[typ] = struct{}{}
	defer delete(seen, typ)

	if sd.Base != "" && abi.circular(sd.Base, seen) {
		return true
	}
	for _, fd := range sd.Fields {
		if strings.HasSuffix(fd.Type, "[]") {
			continue
		}
		if abi.circular(fd.Type, seen) {
			return true
		}
	}
	return false
}

func (abi *ABI) initTable(td *TableDef) error {
	if _, ok := abi.structs[td.Type]; !ok {
		return fmt.Errorf("abi: table %s: unknown type: %s", td.Name, td.Type)
	}
	if len(td.Indexes) == 0 {
		return fmt.Errorf("abi: table %s: missing primary index", td.Name)
	}

	indexes := map[name.Name]struct{}{}
	for idx := range td.Indexes {
		id := &td.Indexes[idx]
		if _, ok := indexes[id.Name]; ok {
			return fmt.Errorf("abi: table %s: duplicate index: %s", td.Name, id.Name)
		}
		indexes[id.Name] = struct{}{}

		if len(id.Orders) == 0 {
			return fmt.Errorf("abi: table %s: index %s: no fields", td.Name, id.Name)
		}
		for odx := range id.Orders {
			od := &id.Orders[odx]
			if od.Order == "" {
				od.Order = AscendingOrder
			} else if od.Order != AscendingOrder && od.Order != DescendingOrder {
				return fmt.Errorf("abi: table %s: index %s: unexpected order: %s", td.Name,
					id.Name, od.Order)
			}
			typ, ok := abi.fieldType(td.Type, od.Field)
			if !ok {
				return fmt.Errorf("abi: table %s: index %s: unknown field: %s", td.Name, id.Name,
					od.Field)
			}
			if !isScalar(typ) {
				return fmt.Errorf("abi: table %s: index %s: field %s: not a scalar: %s", td.Name,
					id.Name, od.Field, typ)
			}
			od.Type = typ
		}

		if idx == 0 {
			if id.Name != PrimaryIndex || !id.Unique || len(id.Orders) != 1 ||
				(id.Orders[0].Type != "uint64" && id.Orders[0].Type != "name") ||
				id.Orders[0].Order != AscendingOrder {

				return fmt.Errorf(
					"abi: table %s: first index must be unique ascending primary on uint64",
					td.Name)
			}
		} else if id.Name == PrimaryIndex {
			return fmt.Errorf("abi: table %s: primary must be the first index", td.Name)
		}
	}
	return nil
}

func (abi *ABI) structFields(sd *StructDef) []FieldDef {
	if sd.Base == "" {
		return sd.Fields
	}
	fields := abi.structFields(abi.structs[sd.Base])
	return append(append(make([]FieldDef, 0, len(fields)+len(sd.Fields)), fields...),
		sd.Fields...)
}

func (abi *ABI) fieldType(typ, path string) (string, bool) {
	for _, fn := range strings.Split(path, ".") {
		sd, ok := abi.structs[typ]
		if !ok {
			return "", false
		}
		found := false
		for _, fd := range abi.structFields(sd) {
			if fd.Name == fn {
				typ = fd.Type
				found = true
				break
			}
		}
		if !found {
			return "", false
		}
	}
	return typ, true
}

func (abi *ABI) Table(tn name.Name) *TableDef {
	for tdx := range abi.Tables {
		if abi.Tables[tdx].Name == tn {
			return &abi.Tables[tdx]
		}
	}
	return nil
}

func (td *TableDef) Index(in name.Name) *IndexDef {
	for idx := range td.Indexes {
		if td.Indexes[idx].Name == in {
			return &td.Indexes[idx]
		}
	}
	return nil
}

func (td *TableDef) Primary() *IndexDef {
	return &td.Indexes[0]
}
