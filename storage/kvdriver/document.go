package kvdriver

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/leftmike/chaindb/chaindb"
	"github.com/leftmike/chaindb/value"
)

// Fields of a stored document.
const (
	codeField     protowire.Number = 1
	scopeField    protowire.Number = 2
	tableField    protowire.Number = 3
	pkField       protowire.Number = 4
	revisionField protowire.Number = 5
	payerField    protowire.Number = 6
	sizeField     protowire.Number = 7
	undoRecField  protowire.Number = 8
	valueField    protowire.Number = 10
)

func encodeDocument(ov chaindb.ObjectValue) []byte {
	svc := ov.Service
	var buf []byte
	buf = protowire.AppendTag(buf, codeField, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, uint64(svc.Code))
	buf = protowire.AppendTag(buf, scopeField, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, uint64(svc.Scope))
	buf = protowire.AppendTag(buf, tableField, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, uint64(svc.Table))
	buf = protowire.AppendTag(buf, pkField, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(svc.PK))
	buf = protowire.AppendTag(buf, revisionField, protowire.VarintType)
	buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(int64(svc.Revision)))
	buf = protowire.AppendTag(buf, payerField, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, uint64(svc.Payer))
	buf = protowire.AppendTag(buf, sizeField, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(svc.Size))
	if svc.UndoRec != chaindb.NoUndo {
		buf = protowire.AppendTag(buf, undoRecField, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(svc.UndoRec))
	}
	buf = protowire.AppendTag(buf, valueField, protowire.BytesType)
	return protowire.AppendBytes(buf, value.Encode(ov.Value))
}

func corruptDocument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: kvdriver: document: %s", chaindb.ErrCorruptState,
		fmt.Sprintf(format, args...))
}

func decodeDocument(buf []byte) (chaindb.ObjectValue, error) {
	var ov chaindb.ObjectValue
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return ov, corruptDocument("%s", protowire.ParseError(n))
		}
		buf = buf[n:]

		switch {
		case typ == protowire.Fixed64Type &&
			(num == codeField || num == scopeField || num == tableField || num == payerField):
			u64, n := protowire.ConsumeFixed64(buf)
			if n < 0 {
				return ov, corruptDocument("%s", protowire.ParseError(n))
			}
			buf = buf[n:]

			switch num {
			case codeField:
				ov.Service.Code = chaindb.AccountName(u64)
			case scopeField:
				ov.Service.Scope = chaindb.ScopeName(u64)
			case tableField:
				ov.Service.Table = chaindb.TableName(u64)
			case payerField:
				ov.Service.Payer = chaindb.AccountName(u64)
			}
		case typ == protowire.VarintType &&
			(num == pkField || num == revisionField || num == sizeField || num == undoRecField):
			u64, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return ov, corruptDocument("%s", protowire.ParseError(n))
			}
			buf = buf[n:]

			switch num {
			case pkField:
				ov.Service.PK = chaindb.PrimaryKey(u64)
			case revisionField:
				ov.Service.Revision = chaindb.Revision(protowire.DecodeZigZag(u64))
			case sizeField:
				ov.Service.Size = int(u64)
			case undoRecField:
				ov.Service.UndoRec = chaindb.UndoRecord(u64)
			}
		case typ == protowire.BytesType && num == valueField:
			b, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return ov, corruptDocument("%s", protowire.ParseError(n))
			}
			buf = buf[n:]

			val, err := value.Decode(b)
			if err != nil {
				return ov, corruptDocument("%s", err)
			}
			obj, ok := val.(value.Object)
			if !ok && val != nil {
				return ov, corruptDocument("value not an object: %s",
					value.Format(val))
			}
			ov.Value = obj
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return ov, corruptDocument("%s", protowire.ParseError(n))
			}
			buf = buf[n:]
		}
	}
	return ov, nil
}
