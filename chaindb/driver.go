package chaindb

import (
	"github.com/leftmike/chaindb/abi"
)

// Driver is the backing store. Index keys passed to and returned by a driver
// are order keys (see abi.IndexDef.OrderKey); entries of an index are ordered
// by (key, primary key) within a scope. Errors other than ErrNotFound are
// treated as driver failures.
type Driver interface {
	// ABIs returns every registered ABI.
	ABIs() (map[AccountName]*abi.ABI, error)
	// AddABI registers or replaces the ABI of code, rebuilding the indexes of
	// tables whose definition changed and dropping tables no longer defined.
	AddABI(code AccountName, a *abi.ABI) error
	// RemoveCode drops the ABI and every row of code.
	RemoveCode(code AccountName) error

	LowerBound(info IndexInfo, key []byte) (DriverCursor, error)
	UpperBound(info IndexInfo, key []byte) (DriverCursor, error)
	// Find positions at the entry (key, pk), or the first entry with key when pk
	// is UnsetPrimaryKey, otherwise at the end.
	Find(info IndexInfo, key []byte, pk PrimaryKey) (DriverCursor, error)
	Begin(info IndexInfo) (DriverCursor, error)
	End(info IndexInfo) (DriverCursor, error)

	// ObjectByPK returns ErrNotFound if the row does not exist.
	ObjectByPK(info TableInfo, pk PrimaryKey) (ObjectValue, error)
	AvailablePrimaryKey(info TableInfo) (PrimaryKey, error)
	// UndoObjects returns every stored undo document; SetRevision is the
	// revision of the document.
	UndoObjects() ([]WriteValue, error)
	// Revision returns the last committed revision stored by a writer.
	Revision() (Revision, error)

	NewWriter() DriverWriter
	Close() error
}

// DriverCursor is a position in an index. At the end, PK returns EndPrimaryKey
// and Key returns nil. Next at the end stays at the end, Prev at the end moves
// to the last entry and Prev at the first entry moves to the end.
type DriverCursor interface {
	Clone() DriverCursor
	PK() PrimaryKey
	Key() []byte
	Next() error
	Prev() error
	Close()
}

// DriverWriter collects writes for one table at a time and applies all of them
// atomically in Write: first the prepare undo writes, then the data writes and
// last the complete undo writes.
type DriverWriter interface {
	StartTable(info TableInfo)
	AddData(wv WriteValue)
	AddPrepareUndo(wv WriteValue)
	AddCompleteUndo(wv WriteValue)
	// SetRevision stores rev as the last committed revision.
	SetRevision(rev Revision)
	Write() error
}
