package repl_test

import (
	"bufio"
	"bytes"
	"io"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leftmike/chaindb/chaindb"
	"github.com/leftmike/chaindb/repl"
	"github.com/leftmike/chaindb/storage/kv"
	"github.com/leftmike/chaindb/storage/kvdriver"
	"github.com/leftmike/chaindb/testutil"
)

const tokenABI = `{
    "version": "chaindb::abi/1.0",
    "structs": [
        {"name": "account", "fields": [
            {"name": "id", "type": "uint64"},
            {"name": "owner", "type": "name"},
            {"name": "amount", "type": "int64"}
        ]}
    ],
    "tables": [
        {"name": "accounts", "type": "account", "indexes": [
            {"name": "primary", "unique": true, "orders": [{"field": "id", "order": "asc"}]},
            {"name": "byamount", "orders": [{"field": "amount", "order": "desc"}]}
        ]}
    ]
}`

type scanner struct {
	s *bufio.Scanner
}

func (s scanner) ReadLine() (string, error) {
	if !s.s.Scan() {
		return "", io.EOF
	}
	return s.s.Text(), nil
}

func TestRepl(t *testing.T) {
	dir := t.TempDir()
	abiFile := filepath.Join(dir, "token.abi")
	err := ioutil.WriteFile(abiFile, []byte(tokenABI), 0666)
	if err != nil {
		t.Fatal(err)
	}

	kvs, err := kv.MakeBTreeKV()
	if err != nil {
		t.Fatalf("MakeBTreeKV() failed with %s", err)
	}
	d, err := kvdriver.New(kvs)
	if err != nil {
		t.Fatalf("New() failed with %s", err)
	}
	ctrl, err := chaindb.Open(chaindb.Config{Driver: d})
	if err != nil {
		t.Fatalf("Open() failed with %s", err)
	}
	defer ctrl.Close()

	run := func(script string) string {
		var b bytes.Buffer
		err := repl.Repl(ctrl, scanner{bufio.NewScanner(strings.NewReader(script))}, &b)
		if err != nil {
			t.Fatalf("Repl() failed with %s", err)
		}
		return b.String()
	}

	got := run(`
# set up the token code
code token ` + abiFile + `
insert token accounts scope {"id": 1, "owner": "alice", "amount": 10}
insert token accounts scope {"id": 2, "owner": "bob", "amount": 30}
insert token accounts scope {"id": 2, "owner": "bob", "amount": 30}
begin
update token accounts scope {"id": 1, "owner": "alice", "amount": 40}
get token accounts scope 1
delete token accounts scope 2
undo
get token accounts scope 1
get token accounts scope 2
delete token accounts scope 3
push
bogus
get token accounts
revision
`)
	want := `inserted 1 (+24 bytes)
inserted 2 (+24 bytes)
chaindb: duplicate key: token.accounts[scope]: primary key 2
revision 1
updated 1 (+0 bytes)
{"id":1,"owner":"alice","amount":40} @1
deleted 2 (-24 bytes)
{"id":1,"owner":"alice","amount":10} @0
{"id":2,"owner":"bob","amount":30} @0
chaindb: not found: token.accounts[scope]:3
repl: no session
repl: unknown command: bogus
repl: usage: get <code> <table> <scope> <pk>
revision 0
`
	if diff := testutil.DiffLines(got, want); diff != "" {
		t.Errorf("Repl() got:\n%s", diff)
	}

	got = run(`
begin
insert token accounts scope {"id": 3, "owner": "carol", "amount": 20}
scan token accounts scope byamount
`)
	lines := strings.Split(strings.TrimSpace(got), "\n")
	var rows []string
	for _, line := range lines {
		if strings.Contains(line, `{"id":`) {
			rows = append(rows, line)
		}
	}
	if len(rows) != 3 || !strings.Contains(rows[0], `"amount":30`) ||
		!strings.Contains(rows[1], `"amount":20`) || !strings.Contains(rows[2], `"amount":10`) {

		t.Errorf("scan byamount got:\n%s", got)
	}
	if lines[len(lines)-1] != "(3 rows)" {
		t.Errorf("scan byamount got:\n%s", got)
	}

	got = run("revision\n")
	if got != "revision 0\n" {
		t.Errorf("open session not undone: %s", got)
	}
}
