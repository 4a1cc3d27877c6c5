package kvdriver_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/leftmike/chaindb/abi"
	"github.com/leftmike/chaindb/chaindb"
	"github.com/leftmike/chaindb/name"
	"github.com/leftmike/chaindb/storage/kv"
	"github.com/leftmike/chaindb/storage/kvdriver"
	"github.com/leftmike/chaindb/testutil"
	"github.com/leftmike/chaindb/value"
)

const itemsABI = `{
    "version": "chaindb::abi/1.0",
    "structs": [
        {"name": "item", "fields": [
            {"name": "id", "type": "uint64"},
            {"name": "owner", "type": "name"},
            {"name": "amount", "type": "int64"}
        ]}
    ],
    "tables": [
        {"name": "items", "type": "item", "indexes": [
            {"name": "primary", "unique": true, "orders": [{"field": "id", "order": "asc"}]},
            {"name": "byowner", "orders": [{"field": "owner", "order": "asc"}]},
            {"name": "byamount", "orders": [{"field": "amount", "order": "desc"}]}
        ]},
        {"name": "extras", "type": "item", "indexes": [
            {"name": "primary", "unique": true, "orders": [{"field": "id", "order": "asc"}]}
        ]}
    ]
}`

const itemsABI2 = `{
    "version": "chaindb::abi/1.0",
    "structs": [
        {"name": "item", "fields": [
            {"name": "id", "type": "uint64"},
            {"name": "owner", "type": "name"},
            {"name": "amount", "type": "int64"}
        ]}
    ],
    "tables": [
        {"name": "items", "type": "item", "indexes": [
            {"name": "primary", "unique": true, "orders": [{"field": "id", "order": "asc"}]},
            {"name": "byamount", "orders": [{"field": "amount", "order": "asc"}]}
        ]}
    ]
}`

var (
	testCode   = name.MustParseName("test")
	testScope  = name.MustParseName("scope")
	itemsName  = name.MustParseName("items")
	extrasName = name.MustParseName("extras")
)

func fln() testutil.FileLineNumber {
	return testutil.MakeFileLineNumber()
}

func mustParse(t *testing.T, s string) *abi.ABI {
	t.Helper()

	a, err := abi.ParseJSON([]byte(s))
	if err != nil {
		t.Fatalf("ParseJSON() failed with %s", err)
	}
	return a
}

func item(id uint64, owner string, amount int64) value.Object {
	return value.Object{
		{Name: "id", Value: id},
		{Name: "owner", Value: uint64(name.MustParseName(owner))},
		{Name: "amount", Value: amount},
	}
}

func itemObject(table chaindb.TableName, id uint64, owner string, amount int64,
	rev chaindb.Revision) chaindb.ObjectValue {

	return chaindb.ObjectValue{
		Service: chaindb.ServiceState{
			Code:     testCode,
			Scope:    testScope,
			Table:    table,
			PK:       chaindb.PrimaryKey(id),
			Revision: rev,
			Payer:    testCode,
			Size:     25,
		},
		Value: item(id, owner, amount),
	}
}

func setupDriver(t *testing.T) (*kvdriver.Driver, *abi.ABI) {
	t.Helper()

	kvs, err := kv.MakeBTreeKV()
	if err != nil {
		t.Fatalf("MakeBTreeKV() failed with %s", err)
	}
	d, err := kvdriver.New(kvs)
	if err != nil {
		t.Fatalf("New() failed with %s", err)
	}
	a := mustParse(t, itemsABI)
	err = d.AddABI(testCode, a)
	if err != nil {
		t.Fatalf("AddABI() failed with %s", err)
	}
	return d, a
}

func tableInfo(a *abi.ABI, tn chaindb.TableName) chaindb.TableInfo {
	return chaindb.TableInfo{
		Code:  testCode,
		Scope: testScope,
		ABI:   a,
		Table: a.Table(tn),
	}
}

func indexInfo(a *abi.ABI, in string) chaindb.IndexInfo {
	info := tableInfo(a, itemsName)
	return chaindb.IndexInfo{
		TableInfo: info,
		Index:     info.Table.Index(name.MustParseName(in)),
	}
}

func writeData(t *testing.T, d *kvdriver.Driver, info chaindb.TableInfo,
	wvs ...chaindb.WriteValue) {

	t.Helper()

	w := d.NewWriter()
	w.StartTable(info)
	for _, wv := range wvs {
		w.AddData(wv)
	}
	err := w.Write()
	if err != nil {
		t.Fatalf("Write() failed with %s", err)
	}
}

func insertItems(t *testing.T, d *kvdriver.Driver, a *abi.ABI) {
	t.Helper()

	var wvs []chaindb.WriteValue
	for _, it := range []struct {
		id     uint64
		owner  string
		amount int64
	}{
		{1, "alice", 10},
		{2, "bob", 30},
		{3, "alice", 20},
		{5, "carol", 30},
		{8, "bob", 5},
	} {
		wvs = append(wvs,
			chaindb.WriteValue{
				Op:          chaindb.OpInsert,
				SetRevision: 1,
				Object:      itemObject(itemsName, it.id, it.owner, it.amount, 1),
			})
	}
	writeData(t, d, tableInfo(a, itemsName), wvs...)
}

func TestDocuments(t *testing.T) {
	d, a := setupDriver(t)
	insertItems(t, d, a)
	info := tableInfo(a, itemsName)

	ov, err := d.ObjectByPK(info, 3)
	if err != nil {
		t.Fatalf("ObjectByPK(3) failed with %s", err)
	}
	want := itemObject(itemsName, 3, "alice", 20, 1)
	if ov.Service != want.Service || !value.Equal(ov.Value, want.Value) {
		t.Errorf("ObjectByPK(3) got %s want %s", ov, want)
	}

	_, err = d.ObjectByPK(info, 4)
	if !errors.Is(err, chaindb.ErrNotFound) {
		t.Errorf("ObjectByPK(4) did not fail with not found: %v", err)
	}

	writeData(t, d, info,
		chaindb.WriteValue{
			Op:          chaindb.OpUpdate,
			SetRevision: 2,
			Object:      itemObject(itemsName, 3, "carol", 25, 2),
		},
		chaindb.WriteValue{
			Op:           chaindb.OpRemove,
			FindRevision: 1,
			Object:       itemObject(itemsName, 8, "bob", 5, 1),
		},
		chaindb.WriteValue{
			Op:           chaindb.OpUpdateRevision,
			FindRevision: 1,
			SetRevision:  0,
			Object:       itemObject(itemsName, 1, "alice", 10, 0),
		})

	var got []string
	err = d.Documents(
		func(ov chaindb.ObjectValue) error {
			got = append(got, ov.String())
			return nil
		})
	if err != nil {
		t.Fatalf("Documents() failed with %s", err)
	}
	wantDocs := []string{
		itemObject(itemsName, 1, "alice", 10, 0).String(),
		itemObject(itemsName, 2, "bob", 30, 1).String(),
		itemObject(itemsName, 3, "carol", 25, 2).String(),
		itemObject(itemsName, 5, "carol", 30, 1).String(),
	}
	if len(got) != len(wantDocs) {
		t.Fatalf("Documents() got %v want %v", got, wantDocs)
	}
	for idx := range got {
		if got[idx] != wantDocs[idx] {
			t.Errorf("Documents()[%d] got %s want %s", idx, got[idx], wantDocs[idx])
		}
	}

	pk, err := d.AvailablePrimaryKey(info)
	if err != nil {
		t.Fatalf("AvailablePrimaryKey() failed with %s", err)
	}
	if pk != 6 {
		t.Errorf("AvailablePrimaryKey() got %d want 6", pk)
	}
	pk, err = d.AvailablePrimaryKey(tableInfo(a, extrasName))
	if err != nil {
		t.Fatalf("AvailablePrimaryKey(extras) failed with %s", err)
	}
	if pk != 0 {
		t.Errorf("AvailablePrimaryKey(extras) got %d want 0", pk)
	}

	extras := tableInfo(a, extrasName)
	last := itemObject(extrasName, uint64(chaindb.EndPrimaryKey-1), "dave", 1, 1)
	writeData(t, d, extras,
		chaindb.WriteValue{
			Op:          chaindb.OpInsert,
			SetRevision: 1,
			Object:      last,
		})
	pk, err = d.AvailablePrimaryKey(extras)
	if err == nil {
		t.Errorf("AvailablePrimaryKey(extras) got %d want error", pk)
	}
}

func TestCorruptDocument(t *testing.T) {
	kvs, err := kv.MakeBTreeKV()
	if err != nil {
		t.Fatalf("MakeBTreeKV() failed with %s", err)
	}
	d, err := kvdriver.New(kvs)
	if err != nil {
		t.Fatalf("New() failed with %s", err)
	}
	a := mustParse(t, itemsABI)
	err = d.AddABI(testCode, a)
	if err != nil {
		t.Fatalf("AddABI() failed with %s", err)
	}
	insertItems(t, d, a)

	it, err := kvs.Iterate([]byte{'d'}, []byte{'e'})
	if err != nil {
		t.Fatalf("Iterate() failed with %s", err)
	}
	var keys [][]byte
	for {
		err = it.Item(
			func(key, val []byte) error {
				keys = append(keys, append([]byte(nil), key...))
				return nil
			})
		if err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("Item() failed with %s", err)
		}
	}
	it.Close()
	if len(keys) != 5 {
		t.Fatalf("Iterate() got %d documents want 5", len(keys))
	}

	upd, err := kvs.Updater()
	if err != nil {
		t.Fatalf("Updater() failed with %s", err)
	}
	err = upd.Set(keys[2], []byte{0xff, 0xff, 0xff})
	if err != nil {
		t.Fatalf("Set() failed with %s", err)
	}
	err = upd.Commit(true)
	if err != nil {
		t.Fatalf("Commit() failed with %s", err)
	}

	info := tableInfo(a, itemsName)
	_, err = d.ObjectByPK(info, 3)
	if !errors.Is(err, chaindb.ErrCorruptState) {
		t.Errorf("ObjectByPK(3) did not fail with corrupt state: %v", err)
	}
	_, err = d.ObjectByPK(info, 2)
	if err != nil {
		t.Errorf("ObjectByPK(2) failed with %s", err)
	}
	err = d.Documents(
		func(ov chaindb.ObjectValue) error {
			return nil
		})
	if !errors.Is(err, chaindb.ErrCorruptState) {
		t.Errorf("Documents() did not fail with corrupt state: %v", err)
	}
}

func TestWriteFail(t *testing.T) {
	d, a := setupDriver(t)
	insertItems(t, d, a)
	info := tableInfo(a, itemsName)

	for _, wv := range []chaindb.WriteValue{
		{
			Op:          chaindb.OpInsert,
			SetRevision: 2,
			Object:      itemObject(itemsName, 2, "bob", 30, 2),
		},
		{
			Op:           chaindb.OpUpdateRevision,
			FindRevision: 3,
			SetRevision:  2,
			Object:       itemObject(itemsName, 2, "bob", 30, 2),
		},
		{
			Op:           chaindb.OpUpdateRevision,
			FindRevision: 1,
			SetRevision:  0,
			Object:       itemObject(itemsName, 4, "bob", 30, 0),
		},
	} {
		w := d.NewWriter()
		w.StartTable(info)
		w.AddData(wv)
		w.AddPrepareUndo(chaindb.WriteValue{
			Op:          chaindb.OpInsert,
			SetRevision: 2,
			Object:      itemObject(itemsName, 7, "bob", 30, 1),
		})
		err := w.Write()
		if err == nil {
			t.Errorf("Write(%s) did not fail", wv)
		}
	}

	wvs, err := d.UndoObjects()
	if err != nil {
		t.Fatalf("UndoObjects() failed with %s", err)
	}
	if len(wvs) != 0 {
		t.Errorf("UndoObjects() got %d documents after failed writes", len(wvs))
	}
}

const (
	lowerBoundCmd = iota
	upperBoundCmd
	findCmd
	beginCmd
	endCmd
	nextCmd
	prevCmd
	cloneCmd
)

type cursorCmd struct {
	fln   testutil.FileLineNumber
	cmd   int
	index string
	key   []value.Value
	pk    chaindb.PrimaryKey
	want  chaindb.PrimaryKey
}

func testCursors(t *testing.T, d *kvdriver.Driver, a *abi.ABI, cmds []cursorCmd) {
	t.Helper()

	var cur chaindb.DriverCursor
	for _, cmd := range cmds {
		var ii chaindb.IndexInfo
		var okey []byte
		if cmd.index != "" {
			ii = indexInfo(a, cmd.index)
			if cmd.key != nil {
				okey = ii.Index.OrderKey(cmd.key)
			}
		}

		var err error
		switch cmd.cmd {
		case lowerBoundCmd:
			cur, err = d.LowerBound(ii, okey)
		case upperBoundCmd:
			cur, err = d.UpperBound(ii, okey)
		case findCmd:
			cur, err = d.Find(ii, okey, cmd.pk)
		case beginCmd:
			cur, err = d.Begin(ii)
		case endCmd:
			cur, err = d.End(ii)
		case nextCmd:
			err = cur.Next()
		case prevCmd:
			err = cur.Prev()
		case cloneCmd:
			clone := cur.Clone()
			if clone.PK() != cur.PK() || !bytes.Equal(clone.Key(), cur.Key()) {
				t.Errorf("%sClone() got %d want %d", cmd.fln, clone.PK(), cur.PK())
			}
			err = cur.Next()
			if err == nil && clone.PK() == cur.PK() && cur.PK() != chaindb.EndPrimaryKey {
				t.Errorf("%sClone() moved with the original cursor", cmd.fln)
			}
			clone.Close()
		default:
			panic("unexpected cursor command")
		}
		if err != nil {
			t.Errorf("%scursor command failed with %s", cmd.fln, err)
			continue
		}
		if cur.PK() != cmd.want {
			t.Errorf("%sPK() got %d want %d", cmd.fln, cur.PK(), cmd.want)
		}
	}
}

func owner(s string) value.Value {
	return uint64(name.MustParseName(s))
}

func TestCursors(t *testing.T) {
	d, a := setupDriver(t)
	insertItems(t, d, a)

	end := chaindb.EndPrimaryKey
	testCursors(t, d, a,
		[]cursorCmd{
			{fln: fln(), cmd: beginCmd, index: "primary", want: 1},
			{fln: fln(), cmd: nextCmd, want: 2},
			{fln: fln(), cmd: nextCmd, want: 3},
			{fln: fln(), cmd: nextCmd, want: 5},
			{fln: fln(), cmd: nextCmd, want: 8},
			{fln: fln(), cmd: nextCmd, want: end},
			{fln: fln(), cmd: nextCmd, want: end},
			{fln: fln(), cmd: prevCmd, want: 8},
			{fln: fln(), cmd: lowerBoundCmd, index: "primary", key: []value.Value{uint64(4)},
				want: 5},
			{fln: fln(), cmd: upperBoundCmd, index: "primary", key: []value.Value{uint64(5)},
				want: 8},
			{fln: fln(), cmd: upperBoundCmd, index: "primary", key: []value.Value{uint64(8)},
				want: end},
			{fln: fln(), cmd: lowerBoundCmd, index: "primary", key: []value.Value{uint64(0)},
				want: 1},
			{fln: fln(), cmd: prevCmd, want: end},
			{fln: fln(), cmd: findCmd, index: "primary", key: []value.Value{uint64(3)}, pk: 3,
				want: 3},
			{fln: fln(), cmd: findCmd, index: "primary", key: []value.Value{uint64(4)}, pk: 4,
				want: end},
			{fln: fln(), cmd: endCmd, index: "primary", want: end},
			{fln: fln(), cmd: prevCmd, want: 8},
			{fln: fln(), cmd: cloneCmd, want: end},

			{fln: fln(), cmd: lowerBoundCmd, index: "byowner", key: []value.Value{owner("bob")},
				want: 2},
			{fln: fln(), cmd: nextCmd, want: 8},
			{fln: fln(), cmd: nextCmd, want: 5},
			{fln: fln(), cmd: prevCmd, want: 8},
			{fln: fln(), cmd: upperBoundCmd, index: "byowner", key: []value.Value{owner("alice")},
				want: 2},
			{fln: fln(), cmd: findCmd, index: "byowner", key: []value.Value{owner("bob")},
				pk: chaindb.UnsetPrimaryKey, want: 2},
			{fln: fln(), cmd: findCmd, index: "byowner", key: []value.Value{owner("bob")}, pk: 8,
				want: 8},
			{fln: fln(), cmd: findCmd, index: "byowner", key: []value.Value{owner("dave")},
				pk: chaindb.UnsetPrimaryKey, want: end},
			{fln: fln(), cmd: findCmd, index: "byowner", key: []value.Value{owner("alice")},
				pk: 2, want: end},

			{fln: fln(), cmd: beginCmd, index: "byamount", want: 2},
			{fln: fln(), cmd: nextCmd, want: 5},
			{fln: fln(), cmd: cloneCmd, want: 3},
			{fln: fln(), cmd: nextCmd, want: 1},
			{fln: fln(), cmd: nextCmd, want: 8},
			{fln: fln(), cmd: nextCmd, want: end},
			{fln: fln(), cmd: lowerBoundCmd, index: "byamount", key: []value.Value{int64(25)},
				want: 3},
			{fln: fln(), cmd: lowerBoundCmd, index: "byamount", key: []value.Value{int64(30)},
				want: 2},
			{fln: fln(), cmd: upperBoundCmd, index: "byamount", key: []value.Value{int64(30)},
				want: 3},
		})
}

func TestUndoObjects(t *testing.T) {
	d, a := setupDriver(t)
	info := tableInfo(a, itemsName)

	rev, err := d.Revision()
	if err != nil {
		t.Fatalf("Revision() failed with %s", err)
	}
	if rev != 0 {
		t.Errorf("Revision() got %d want 0", rev)
	}

	undo := itemObject(itemsName, 4, "dave", 40, 3)
	undo.Service.UndoRec = chaindb.OldValue
	w := d.NewWriter()
	w.StartTable(info)
	w.AddPrepareUndo(chaindb.WriteValue{
		Op:          chaindb.OpInsert,
		SetRevision: 7,
		Object:      undo,
	})
	w.AddData(chaindb.WriteValue{
		Op:          chaindb.OpInsert,
		SetRevision: 7,
		Object:      itemObject(itemsName, 4, "dave", 41, 7),
	})
	w.SetRevision(6)
	err = w.Write()
	if err != nil {
		t.Fatalf("Write() failed with %s", err)
	}

	rev, err = d.Revision()
	if err != nil {
		t.Fatalf("Revision() failed with %s", err)
	}
	if rev != 6 {
		t.Errorf("Revision() got %d want 6", rev)
	}

	wvs, err := d.UndoObjects()
	if err != nil {
		t.Fatalf("UndoObjects() failed with %s", err)
	}
	if len(wvs) != 1 {
		t.Fatalf("UndoObjects() got %d documents want 1", len(wvs))
	}
	if wvs[0].SetRevision != 7 || wvs[0].Object.Service != undo.Service ||
		!value.Equal(wvs[0].Object.Value, undo.Value) {

		t.Errorf("UndoObjects() got %s want %s at 7", wvs[0], undo)
	}

	w = d.NewWriter()
	w.StartTable(info)
	w.AddCompleteUndo(chaindb.WriteValue{
		Op:           chaindb.OpRemove,
		FindRevision: 7,
		Object:       undo,
	})
	err = w.Write()
	if err != nil {
		t.Fatalf("Write() failed with %s", err)
	}
	wvs, err = d.UndoObjects()
	if err != nil {
		t.Fatalf("UndoObjects() failed with %s", err)
	}
	if len(wvs) != 0 {
		t.Errorf("UndoObjects() got %d documents want 0", len(wvs))
	}
}

func TestABIs(t *testing.T) {
	d, a := setupDriver(t)
	insertItems(t, d, a)
	writeData(t, d, tableInfo(a, extrasName),
		chaindb.WriteValue{
			Op:          chaindb.OpInsert,
			SetRevision: 1,
			Object:      itemObject(extrasName, 1, "alice", 1, 1),
		})

	a2 := mustParse(t, itemsABI2)
	err := d.AddABI(testCode, a2)
	if err != nil {
		t.Fatalf("AddABI() failed with %s", err)
	}

	abis, err := d.ABIs()
	if err != nil {
		t.Fatalf("ABIs() failed with %s", err)
	}
	if abis[testCode] != a2 {
		t.Errorf("ABIs() did not return the new abi")
	}

	_, err = d.ObjectByPK(tableInfo(a, extrasName), 1)
	if !errors.Is(err, chaindb.ErrNotFound) {
		t.Errorf("ObjectByPK(extras, 1) did not fail with not found: %v", err)
	}

	ii := chaindb.IndexInfo{
		TableInfo: tableInfo(a2, itemsName),
		Index:     a2.Table(itemsName).Index(name.MustParseName("byamount")),
	}
	cur, err := d.Begin(ii)
	if err != nil {
		t.Fatalf("Begin(byamount) failed with %s", err)
	}
	var pks []chaindb.PrimaryKey
	for cur.PK() != chaindb.EndPrimaryKey {
		pks = append(pks, cur.PK())
		err = cur.Next()
		if err != nil {
			t.Fatalf("Next() failed with %s", err)
		}
	}
	want := []chaindb.PrimaryKey{8, 1, 3, 2, 5}
	if len(pks) != len(want) {
		t.Fatalf("byamount got %v want %v", pks, want)
	}
	for idx := range pks {
		if pks[idx] != want[idx] {
			t.Errorf("byamount got %v want %v", pks, want)
			break
		}
	}

	kvs, err := kv.MakeBTreeKV()
	if err != nil {
		t.Fatal(err)
	}
	empty, err := kvdriver.New(kvs)
	if err != nil {
		t.Fatal(err)
	}
	emptyDigest, err := empty.Digest()
	if err != nil {
		t.Fatalf("Digest() failed with %s", err)
	}

	before, err := d.Digest()
	if err != nil {
		t.Fatalf("Digest() failed with %s", err)
	}
	if bytes.Equal(before, emptyDigest) {
		t.Errorf("Digest() same for empty and non-empty stores")
	}

	err = d.RemoveCode(testCode)
	if err != nil {
		t.Fatalf("RemoveCode() failed with %s", err)
	}
	after, err := d.Digest()
	if err != nil {
		t.Fatalf("Digest() failed with %s", err)
	}
	if !bytes.Equal(after, emptyDigest) {
		t.Errorf("Digest() after RemoveCode got %x want %x", after, emptyDigest)
	}
}
