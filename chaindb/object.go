package chaindb

import (
	"fmt"

	"github.com/leftmike/chaindb/value"
)

type UndoRecord int8

const (
	NoUndo UndoRecord = iota
	NewValue
	OldValue
	RemovedValue
)

func (ur UndoRecord) String() string {
	switch ur {
	case NoUndo:
		return "none"
	case NewValue:
		return "new"
	case OldValue:
		return "old"
	case RemovedValue:
		return "removed"
	}
	return fmt.Sprintf("UndoRecord(%d)", int(ur))
}

// ServiceState is the envelope stored with every row.
type ServiceState struct {
	Code     AccountName
	Scope    ScopeName
	Table    TableName
	PK       PrimaryKey
	Revision Revision
	Payer    AccountName
	Size     int
	UndoRec  UndoRecord
}

type ObjectValue struct {
	Service ServiceState
	Value   value.Object
}

func (ov ObjectValue) IsNull() bool {
	return ov.Service.PK == UnsetPrimaryKey
}

func (ov ObjectValue) PK() PrimaryKey {
	return ov.Service.PK
}

func (ov ObjectValue) String() string {
	s := fmt.Sprintf("%s.%s[%s]:%d@%d", ov.Service.Code, ov.Service.Table, ov.Service.Scope,
		ov.Service.PK, ov.Service.Revision)
	if ov.Service.UndoRec != NoUndo {
		s += "(" + ov.Service.UndoRec.String() + ")"
	}
	return s + " " + value.Format(ov.Value)
}

type Operation int8

const (
	OpUnknown Operation = iota
	OpInsert
	OpUpdate
	OpUpdateRevision
	OpRemove
)

func (op Operation) String() string {
	switch op {
	case OpUnknown:
		return "unknown"
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpUpdateRevision:
		return "update-revision"
	case OpRemove:
		return "remove"
	}
	return fmt.Sprintf("Operation(%d)", int(op))
}

// WriteValue is one journaled write. For data writes, SetRevision is the
// revision of the row after the write and FindRevision, for OpUpdateRevision,
// the revision of the row before it. For undo writes, SetRevision is the
// revision of the undo document after the write and FindRevision the revision
// of the stored undo document being changed.
type WriteValue struct {
	Op           Operation
	SetRevision  Revision
	FindRevision Revision
	Object       ObjectValue
}

func (wv WriteValue) String() string {
	return fmt.Sprintf("%s(find=%d set=%d) %s", wv.Op, wv.FindRevision, wv.SetRevision,
		wv.Object)
}
