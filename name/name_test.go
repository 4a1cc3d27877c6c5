package name_test

import (
	"encoding/json"
	"testing"

	"github.com/leftmike/chaindb/name"
)

func TestParseName(t *testing.T) {
	cases := []struct {
		s    string
		n    uint64
		fail bool
	}{
		{s: "", n: 0},
		{s: "a", n: 0x3000000000000000},
		{s: "eosio", n: 6138663577826885632},
		{s: "eosio.token", n: 6138663591592764928},
		{s: "zzzzzzzzzzzzj", n: 0xFFFFFFFFFFFFFFFF},
		{s: "zzzzzzzzzzzzz", fail: true},
		{s: "abcdefghijklmn", fail: true},
		{s: "ABC", fail: true},
		{s: "a6", fail: true},
		{s: "a.", fail: true},
		{s: ".a", n: 0x0180000000000000},
	}

	for _, c := range cases {
		n, err := name.ParseName(c.s)
		if c.fail {
			if err == nil {
				t.Errorf("ParseName(%q) did not fail", c.s)
			}
			continue
		} else if err != nil {
			t.Errorf("ParseName(%q) failed with %s", c.s, err)
			continue
		}
		if uint64(n) != c.n {
			t.Errorf("ParseName(%q) got %d want %d", c.s, uint64(n), c.n)
		}
		if n.String() != c.s {
			t.Errorf("Name(%d).String() got %q want %q", uint64(n), n.String(), c.s)
		}
	}
}

func TestNameJSON(t *testing.T) {
	type tbl struct {
		Code  name.Name `json:"code"`
		Table name.Name `json:"table"`
	}

	b, err := json.Marshal(tbl{name.MustParseName("alice"), name.MustParseName("accounts")})
	if err != nil {
		t.Fatalf("Marshal() failed with %s", err)
	}
	if string(b) != `{"code":"alice","table":"accounts"}` {
		t.Errorf("Marshal() got %s", string(b))
	}

	var v tbl
	err = json.Unmarshal(b, &v)
	if err != nil {
		t.Fatalf("Unmarshal() failed with %s", err)
	}
	if v.Code.String() != "alice" || v.Table.String() != "accounts" {
		t.Errorf("Unmarshal() got %v", v)
	}

	err = json.Unmarshal([]byte(`{"code":"Alice"}`), &v)
	if err == nil {
		t.Errorf("Unmarshal(Alice) did not fail")
	}
}
