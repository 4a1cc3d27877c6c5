package kvdriver

import (
	"encoding/binary"
	"fmt"

	"github.com/leftmike/chaindb/chaindb"
)

const (
	abiPrefix   = 'a'
	dataPrefix  = 'd'
	indexPrefix = 'i'
	metaPrefix  = 'm'
	undoPrefix  = 'u'
)

var (
	revisionKey = []byte{metaPrefix, 'r', 'e', 'v', 'i', 's', 'i', 'o', 'n'}
)

func appendUint64(buf []byte, n uint64) []byte {
	return binary.BigEndian.AppendUint64(buf, n)
}

func abiKey(code chaindb.AccountName) []byte {
	return appendUint64([]byte{abiPrefix}, uint64(code))
}

// codeKey is the prefix of every key of code with the given kind.
func codeKey(prefix byte, code chaindb.AccountName) []byte {
	return appendUint64([]byte{prefix}, uint64(code))
}

func tableKey(prefix byte, code chaindb.AccountName, table chaindb.TableName) []byte {
	return appendUint64(codeKey(prefix, code), uint64(table))
}

func dataScopeKey(code chaindb.AccountName, table chaindb.TableName,
	scope chaindb.ScopeName) []byte {

	return appendUint64(tableKey(dataPrefix, code, table), uint64(scope))
}

func dataKey(svc chaindb.ServiceState) []byte {
	return appendUint64(dataScopeKey(svc.Code, svc.Table, svc.Scope), uint64(svc.PK))
}

func indexScopeKey(info chaindb.IndexInfo) []byte {
	buf := tableKey(indexPrefix, info.Code, info.Table.Name)
	buf = appendUint64(buf, uint64(info.Index.Name))
	return appendUint64(buf, uint64(info.Scope))
}

func indexKey(info chaindb.IndexInfo, okey []byte, pk chaindb.PrimaryKey) []byte {
	buf := append(indexScopeKey(info), okey...)
	return appendUint64(buf, uint64(pk))
}

func undoKey(svc chaindb.ServiceState, rev chaindb.Revision) []byte {
	buf := appendUint64(tableKey(undoPrefix, svc.Code, svc.Table), uint64(svc.Scope))
	buf = appendUint64(buf, uint64(svc.PK))
	return appendUint64(buf, uint64(rev))
}

func parseUndoKey(key []byte) (chaindb.ServiceState, chaindb.Revision, error) {
	if len(key) != 41 || key[0] != undoPrefix {
		return chaindb.ServiceState{}, 0, fmt.Errorf("kvdriver: bad undo key: %v", key)
	}
	svc := chaindb.ServiceState{
		Code:  chaindb.AccountName(binary.BigEndian.Uint64(key[1:])),
		Table: chaindb.TableName(binary.BigEndian.Uint64(key[9:])),
		Scope: chaindb.ScopeName(binary.BigEndian.Uint64(key[17:])),
		PK:    chaindb.PrimaryKey(binary.BigEndian.Uint64(key[25:])),
	}
	return svc, chaindb.Revision(binary.BigEndian.Uint64(key[33:])), nil
}

// prefixEnd returns the smallest key greater than every key starting with
// prefix, or nil if there is none.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for idx := len(end) - 1; idx >= 0; idx -= 1 {
		end[idx] += 1
		if end[idx] != 0 {
			return end[:idx+1]
		}
	}
	return nil
}
