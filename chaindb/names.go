// Package chaindb is a table storage engine for contract state. Rows live in a
// pluggable Driver; the Controller adds an object cache, a journal of pending
// writes and a revision numbered undo stack on top of it.
package chaindb

import (
	"fmt"
	"math"

	"github.com/leftmike/chaindb/abi"
	"github.com/leftmike/chaindb/name"
)

type (
	AccountName = name.Name
	ScopeName   = name.Name
	TableName   = name.Name
	IndexName   = name.Name
)

type PrimaryKey uint64

const (
	UnsetPrimaryKey PrimaryKey = math.MaxUint64
	EndPrimaryKey   PrimaryKey = math.MaxUint64 - 1
)

type Revision int64

const (
	ImpossibleRevision Revision = -1
	UnsetRevision      Revision = -2
	StartRevision      Revision = 1
)

type CursorID uint64

const (
	InvalidCursorID CursorID = 0
)

type TableRequest struct {
	Code  AccountName
	Scope ScopeName
	Table TableName
}

func (tr TableRequest) String() string {
	return fmt.Sprintf("%s.%s[%s]", tr.Code, tr.Table, tr.Scope)
}

type IndexRequest struct {
	Code  AccountName
	Scope ScopeName
	Table TableName
	Index IndexName
}

func (ir IndexRequest) TableRequest() TableRequest {
	return TableRequest{
		Code:  ir.Code,
		Scope: ir.Scope,
		Table: ir.Table,
	}
}

func (ir IndexRequest) String() string {
	return fmt.Sprintf("%s.%s.%s[%s]", ir.Code, ir.Table, ir.Index, ir.Scope)
}

type CursorRequest struct {
	Code AccountName
	ID   CursorID
}

type CursorInfo struct {
	ID CursorID
	PK PrimaryKey
}

// TableInfo is a resolved TableRequest. The ABI and Table pointers are only
// valid while the code's ABI stays registered.
type TableInfo struct {
	Code  AccountName
	Scope ScopeName
	ABI   *abi.ABI
	Table *abi.TableDef
}

func (ti TableInfo) String() string {
	return fmt.Sprintf("%s.%s[%s]", ti.Code, ti.Table.Name, ti.Scope)
}

func (ti TableInfo) PrimaryIndex() IndexInfo {
	return IndexInfo{
		TableInfo: ti,
		Index:     ti.Table.Primary(),
	}
}

// IndexInfo is a resolved IndexRequest.
type IndexInfo struct {
	TableInfo
	Index *abi.IndexDef
}

func (ii IndexInfo) String() string {
	return fmt.Sprintf("%s.%s.%s[%s]", ii.Code, ii.Table.Name, ii.Index.Name, ii.Scope)
}

func (ii IndexInfo) IsPrimary() bool {
	return ii.Index == ii.Table.Primary()
}

// Names of collections and service fields as they appear in the backing store
// and in dumps.
const (
	UndoCollection = "_undo_"
	ABICollection  = "_abi_"
	MetaCollection = "_meta_"

	ServiceField  = "_service_"
	ScopeField    = "scope"
	PKField       = "pk"
	RevisionField = "rev"
	PayerField    = "payer"
	SizeField     = "size"
	UndoRecField  = "undo_rec"
)

// CollectionName is the name of the collection holding the rows of a table.
func CollectionName(code AccountName, table TableName) string {
	return code.String() + "." + table.String()
}

// IndexCollectionName is the name of the collection holding the entries of an index.
func IndexCollectionName(code AccountName, table TableName, index IndexName) string {
	return code.String() + "." + table.String() + "." + index.String()
}
