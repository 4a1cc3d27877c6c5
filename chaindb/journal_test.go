package chaindb

import (
	"errors"
	"fmt"
	"testing"

	"github.com/leftmike/chaindb/abi"
	"github.com/leftmike/chaindb/name"
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
            {"name": "byowner", "unique": true, "orders": [{"field": "owner", "order": "asc"}]},
            {"name": "byamount", "orders": [{"field": "amount", "order": "desc"}]}
        ]},
        {"name": "system", "type": "item", "indexes": [
            {"name": "primary", "unique": true, "orders": [{"field": "id", "order": "asc"}]}
        ]}
    ]
}`

var (
	testCode   = name.MustParseName("test")
	itemsName  = name.MustParseName("items")
	systemName = name.MustParseName("system")
)

func fln() testutil.FileLineNumber {
	return testutil.MakeFileLineNumber()
}

func testTableInfo(t *testing.T, tn TableName, scope string) TableInfo {
	t.Helper()

	a, err := abi.ParseJSON([]byte(itemsABI))
	if err != nil {
		t.Fatalf("ParseJSON() failed with %s", err)
	}
	return TableInfo{
		Code:  testCode,
		Scope: name.MustParseName(scope),
		ABI:   a,
		Table: a.Table(tn),
	}
}

func testObject(info TableInfo, pk PrimaryKey, owner string, amount int64,
	rev Revision) ObjectValue {

	return ObjectValue{
		Service: ServiceState{
			Code:     info.Code,
			Scope:    info.Scope,
			Table:    info.Table.Name,
			PK:       pk,
			Revision: rev,
		},
		Value: value.Object{
			{Name: "id", Value: uint64(pk)},
			{Name: "owner", Value: uint64(name.MustParseName(owner))},
			{Name: "amount", Value: amount},
		},
	}
}

// recordingDriver records the calls made to its writers.
type recordingDriver struct {
	Driver
	calls []string
	fail  error
}

type recordingWriter struct {
	rd *recordingDriver
}

func (rd *recordingDriver) NewWriter() DriverWriter {
	return recordingWriter{rd: rd}
}

func (rw recordingWriter) record(kind string, wv WriteValue) {
	amount, _ := wv.Object.Value.Get("amount")
	rw.rd.calls = append(rw.rd.calls,
		fmt.Sprintf("%s %s pk=%d find=%d set=%d amount=%v", kind, wv.Op,
			wv.Object.Service.PK, wv.FindRevision, wv.SetRevision, amount))
}

func (rw recordingWriter) StartTable(info TableInfo) {
	rw.rd.calls = append(rw.rd.calls, "start "+info.String())
}

func (rw recordingWriter) AddData(wv WriteValue) {
	rw.record("data", wv)
}

func (rw recordingWriter) AddPrepareUndo(wv WriteValue) {
	rw.record("prepare", wv)
}

func (rw recordingWriter) AddCompleteUndo(wv WriteValue) {
	rw.record("complete", wv)
}

func (rw recordingWriter) SetRevision(rev Revision) {
	rw.rd.calls = append(rw.rd.calls, fmt.Sprintf("revision %d", rev))
}

func (rw recordingWriter) Write() error {
	rw.rd.calls = append(rw.rd.calls, "write")
	return rw.rd.fail
}

type journalWrite struct {
	data *WriteValue
	undo *WriteValue
}

func dataWV(op Operation, find, set Revision, ov ObjectValue) *WriteValue {
	return &WriteValue{Op: op, FindRevision: find, SetRevision: set, Object: ov}
}

func checkCalls(t *testing.T, fln testutil.FileLineNumber, got, want []string) {
	t.Helper()

	if len(got) != len(want) {
		t.Errorf("%scalls got %q want %q", fln, got, want)
		return
	}
	for idx := range got {
		if got[idx] != want[idx] {
			t.Errorf("%scalls[%d] got %q want %q", fln, idx, got[idx], want[idx])
		}
	}
}

func TestJournalCoalesce(t *testing.T) {
	info := testTableInfo(t, itemsName, "scope")
	start := "start " + info.String()
	obj := func(amount int64, rev Revision) ObjectValue {
		return testObject(info, 1, "alice", amount, rev)
	}

	cases := []struct {
		fln    testutil.FileLineNumber
		writes []journalWrite
		fail   bool
		calls  []string
	}{
		{
			fln: fln(),
			writes: []journalWrite{
				{data: dataWV(OpInsert, UnsetRevision, 1, obj(1, 1))},
				{data: dataWV(OpUpdate, UnsetRevision, 1, obj(2, 1))},
			},
			calls: []string{start, "data insert pk=1 find=-2 set=1 amount=2", "write"},
		},
		{
			fln: fln(),
			writes: []journalWrite{
				{data: dataWV(OpInsert, UnsetRevision, 1, obj(1, 1))},
				{data: dataWV(OpRemove, 1, UnsetRevision, obj(1, 1))},
			},
			calls: []string{start, "write"},
		},
		{
			fln: fln(),
			writes: []journalWrite{
				{data: dataWV(OpInsert, UnsetRevision, 1, obj(1, 1))},
				{data: dataWV(OpRemove, 1, UnsetRevision, obj(1, 1))},
				{data: dataWV(OpInsert, UnsetRevision, 2, obj(3, 2))},
			},
			calls: []string{start, "data insert pk=1 find=-2 set=2 amount=3", "write"},
		},
		{
			fln: fln(),
			writes: []journalWrite{
				{data: dataWV(OpRemove, 1, UnsetRevision, obj(1, 1))},
				{data: dataWV(OpInsert, UnsetRevision, 2, obj(3, 2))},
			},
			calls: []string{start, "data update pk=1 find=-2 set=2 amount=3", "write"},
		},
		{
			fln: fln(),
			writes: []journalWrite{
				{data: dataWV(OpUpdate, UnsetRevision, 2, obj(1, 2))},
				{data: dataWV(OpUpdate, UnsetRevision, 2, obj(2, 2))},
				{data: dataWV(OpUpdateRevision, 2, 1, obj(2, 1))},
			},
			calls: []string{start, "data update pk=1 find=-2 set=1 amount=2", "write"},
		},
		{
			fln: fln(),
			writes: []journalWrite{
				{data: dataWV(OpUpdate, UnsetRevision, 2, obj(1, 2))},
				{data: dataWV(OpRemove, 2, UnsetRevision, obj(1, 2))},
			},
			calls: []string{start, "data remove pk=1 find=2 set=-2 amount=1", "write"},
		},
		{
			fln: fln(),
			writes: []journalWrite{
				{data: dataWV(OpUpdateRevision, 3, 2, obj(1, 2))},
				{data: dataWV(OpUpdateRevision, 2, 1, obj(1, 1))},
			},
			calls: []string{start, "data update-revision pk=1 find=3 set=1 amount=1", "write"},
		},
		{
			fln: fln(),
			writes: []journalWrite{
				{data: dataWV(OpInsert, UnsetRevision, 1, obj(1, 1))},
				{data: dataWV(OpInsert, UnsetRevision, 1, obj(1, 1))},
			},
			fail: true,
		},
		{
			fln: fln(),
			writes: []journalWrite{
				{data: dataWV(OpUpdateRevision, 3, 2, obj(1, 2))},
				{data: dataWV(OpUpdateRevision, 4, 3, obj(1, 3))},
			},
			fail: true,
		},
		{
			fln: fln(),
			writes: []journalWrite{
				{data: dataWV(OpRemove, 1, UnsetRevision, obj(1, 1))},
				{data: dataWV(OpUpdate, UnsetRevision, 1, obj(1, 1))},
			},
			fail: true,
		},
		{
			fln: fln(),
			writes: []journalWrite{
				{undo: dataWV(OpInsert, 2, 2, obj(1, 1))},
				{undo: dataWV(OpUpdate, 2, 2, obj(2, 1))},
			},
			calls: []string{start, "prepare insert pk=1 find=2 set=2 amount=2", "write"},
		},
		{
			fln: fln(),
			writes: []journalWrite{
				{undo: dataWV(OpInsert, 2, 2, obj(1, 1))},
				{undo: dataWV(OpRemove, 2, 2, obj(1, 1))},
			},
			calls: nil,
		},
		{
			fln: fln(),
			writes: []journalWrite{
				{undo: dataWV(OpUpdateRevision, 3, 2, obj(1, 1))},
			},
			calls: []string{
				start,
				"prepare insert pk=1 find=0 set=2 amount=1",
				"complete remove pk=1 find=3 set=-2 amount=1",
				"write",
			},
		},
		{
			fln: fln(),
			writes: []journalWrite{
				{undo: dataWV(OpRemove, 2, 2, obj(1, 1))},
				{undo: dataWV(OpInsert, 2, 2, obj(4, 1))},
			},
			calls: []string{start, "complete update pk=1 find=2 set=2 amount=4", "write"},
		},
		{
			fln: fln(),
			writes: []journalWrite{
				{undo: dataWV(OpUpdate, 2, 2, obj(1, 1))},
				{undo: dataWV(OpInsert, 2, 2, obj(1, 1))},
			},
			fail: true,
		},
		{
			fln: fln(),
			writes: []journalWrite{
				{
					data: dataWV(OpInsert, UnsetRevision, 3, obj(5, 3)),
					undo: dataWV(OpInsert, 3, 3, obj(5, 3)),
				},
				{
					data: dataWV(OpUpdate, UnsetRevision, 3, obj(6, 3)),
					undo: dataWV(OpUpdateRevision, 1, 3, obj(7, 1)),
				},
			},
			fail: true,
		},
		{
			fln: fln(),
			writes: []journalWrite{
				{
					data: dataWV(OpUpdate, UnsetRevision, 3, obj(5, 3)),
					undo: dataWV(OpInsert, 3, 3, obj(1, 1)),
				},
				{
					data: dataWV(OpUpdate, UnsetRevision, 3, obj(6, 3)),
					undo: dataWV(OpInsert, 1, 1, obj(0, 0)),
				},
			},
			calls: []string{
				start,
				"data update pk=1 find=-2 set=3 amount=6",
				"prepare insert pk=1 find=1 set=1 amount=0",
				"prepare insert pk=1 find=3 set=3 amount=1",
				"write",
			},
		},
	}

	for _, c := range cases {
		rd := &recordingDriver{}
		jrnl := newJournal(rd)

		var err error
		for _, jw := range c.writes {
			err = jrnl.write(info, 1, jw.data, jw.undo)
			if err != nil {
				break
			}
		}
		if c.fail {
			if err == nil {
				t.Errorf("%swrite() did not fail", c.fln)
			} else if !errors.Is(err, ErrCorruptState) {
				t.Errorf("%swrite() failed with %s; want corrupt state", c.fln, err)
			}
			continue
		} else if err != nil {
			t.Errorf("%swrite() failed with %s", c.fln, err)
			continue
		}

		err = jrnl.applyAll(UnsetRevision)
		if err != nil {
			t.Errorf("%sapplyAll() failed with %s", c.fln, err)
		}
		checkCalls(t, c.fln, rd.calls, c.calls)
		if jrnl.len() != 0 {
			t.Errorf("%sapplyAll() left %d entries", c.fln, jrnl.len())
		}
	}
}

func TestJournalApply(t *testing.T) {
	info1 := testTableInfo(t, itemsName, "aaa")
	info2 := testTableInfo(t, itemsName, "bbb")
	info3 := testTableInfo(t, systemName, "aaa")

	rd := &recordingDriver{}
	jrnl := newJournal(rd)
	for _, w := range []struct {
		info TableInfo
		pk   PrimaryKey
	}{
		{info3, 1},
		{info2, 1},
		{info1, 2},
		{info1, 1},
	} {
		err := jrnl.write(w.info, w.pk,
			dataWV(OpInsert, UnsetRevision, 1, testObject(w.info, w.pk, "bob", 1, 1)), nil)
		if err != nil {
			t.Fatalf("write() failed with %s", err)
		}
	}

	wv := jrnl.lookup(makeObjectKey(info1, 2))
	if wv == nil || wv.Op != OpInsert {
		t.Errorf("lookup(%s, 2) got %v", info1, wv)
	}
	if jrnl.lookup(makeObjectKey(info1, 3)) != nil {
		t.Errorf("lookup(%s, 3) did not return nil", info1)
	}

	err := jrnl.applyTable(info2)
	if err != nil {
		t.Fatalf("applyTable() failed with %s", err)
	}
	checkCalls(t, fln(), rd.calls,
		[]string{
			"start " + info2.String(),
			"data insert pk=1 find=-2 set=1 amount=1",
			"write",
		})
	if jrnl.len() != 3 {
		t.Errorf("applyTable() left %d entries; want 3", jrnl.len())
	}

	rd.calls = nil
	err = jrnl.applyTable(info2)
	if err != nil {
		t.Fatalf("applyTable() failed with %s", err)
	}
	checkCalls(t, fln(), rd.calls, nil)

	err = jrnl.applyAll(7)
	if err != nil {
		t.Fatalf("applyAll() failed with %s", err)
	}
	checkCalls(t, fln(), rd.calls,
		[]string{
			"start " + info1.String(),
			"data insert pk=1 find=-2 set=1 amount=1",
			"data insert pk=2 find=-2 set=1 amount=1",
			"start " + info3.String(),
			"data insert pk=1 find=-2 set=1 amount=1",
			"revision 7",
			"write",
		})
	if jrnl.len() != 0 {
		t.Errorf("applyAll() left %d entries", jrnl.len())
	}

	rd.calls = nil
	rd.fail = errors.New("disk on fire")
	err = jrnl.write(info1, 3, dataWV(OpInsert, UnsetRevision, 1,
		testObject(info1, 3, "carol", 1, 1)), nil)
	if err != nil {
		t.Fatalf("write() failed with %s", err)
	}
	err = jrnl.applyCode(testCode)
	if !errors.Is(err, ErrDriverFailure) {
		t.Errorf("applyCode() did not fail with driver failure: %v", err)
	}
}
