package chaindb

import (
	"github.com/leftmike/chaindb/abi"
)

// abiMap holds the registered ABI of every code.
type abiMap map[AccountName]*abi.ABI

func (am abiMap) tableInfo(req TableRequest) (TableInfo, error) {
	a, ok := am[req.Code]
	if !ok {
		return TableInfo{}, notFound("code %s", req.Code)
	}
	td := a.Table(req.Table)
	if td == nil {
		return TableInfo{}, notFound("table %s", req)
	}
	return TableInfo{
		Code:  req.Code,
		Scope: req.Scope,
		ABI:   a,
		Table: td,
	}, nil
}

func (am abiMap) indexInfo(req IndexRequest) (IndexInfo, error) {
	info, err := am.tableInfo(req.TableRequest())
	if err != nil {
		return IndexInfo{}, err
	}
	id := info.Table.Index(req.Index)
	if id == nil {
		return IndexInfo{}, notFound("index %s", req)
	}
	return IndexInfo{
		TableInfo: info,
		Index:     id,
	}, nil
}

func (am abiMap) keyInfo(key objectKey) (TableInfo, error) {
	return am.tableInfo(TableRequest{Code: key.code, Scope: key.scope, Table: key.table})
}
