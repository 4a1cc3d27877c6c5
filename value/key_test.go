package value_test

import (
	"bytes"
	"math"
	"testing"

	"github.com/leftmike/chaindb/value"
)

func testAppendKey(t *testing.T, values []value.Value, reverse bool) {
	t.Helper()

	var prev []byte
	for _, val := range values {
		buf := value.AppendKey([]byte{0x55}, val, reverse)
		if bytes.Compare(prev, buf) >= 0 {
			t.Errorf("AppendKey(%s, %v) not greater", value.Format(val), reverse)
		}
		prev = buf
	}
}

func TestAppendKey(t *testing.T) {
	values := []value.Value{
		nil,
		false,
		true,
		int64(math.MinInt64),
		int64(-999),
		int64(-9),
		int64(0),
		int64(9),
		int64(999),
		uint64(0),
		uint64(7),
		uint64(math.MaxUint64),
		math.NaN(),
		-999.9,
		-9.9,
		0.0,
		9.9,
		999.9,
		"A",
		"AA",
		"AAA",
		"AB",
		"BBB",
		"aaa",
		[]byte{0},
		[]byte{0, 0},
		[]byte{0, 0, 0},
		[]byte{0, 1},
		[]byte{1, 1},
		[]byte{2, 0, 0, 0, 1},
		[]byte{2, 0, 0, 1},
		[]byte{2, 0, 0, 2},
		[]byte{2, 2, 0, 0},
		[]byte{254, 0},
		[]byte{254, 0, 0},
		[]byte{254, 255},
		[]byte{255},
	}

	reverseValues := []value.Value{
		nil,
		true,
		false,
		int64(999),
		int64(9),
		int64(0),
		int64(-9),
		int64(-999),
		uint64(math.MaxUint64),
		uint64(7),
		uint64(0),
		999.9,
		9.9,
		0.0,
		-9.9,
		-999.9,
		math.NaN(),
		"aaa",
		"BBB",
		"AB",
		"AAA",
		"AA",
		"A",
		[]byte{255},
		[]byte{254, 255},
		[]byte{254, 0, 0},
		[]byte{254, 0},
		[]byte{2, 2, 0, 0},
		[]byte{2, 0, 0, 2},
		[]byte{2, 0, 0, 1},
		[]byte{2, 0, 0, 0, 1},
		[]byte{1, 1},
		[]byte{0, 1},
		[]byte{0, 0, 0},
		[]byte{0, 0},
		[]byte{0},
	}

	testAppendKey(t, values, false)
	testAppendKey(t, reverseValues, true)
}

func TestMakeKey(t *testing.T) {
	keys := [][]value.Value{
		{"alice", uint64(30)},
		{"alice", uint64(20)},
		{"alice", uint64(10)},
		{"bob", uint64(99)},
		{"bob", uint64(1)},
	}

	var prev []byte
	for _, vals := range keys {
		buf := value.MakeKey(vals, []bool{false, true})
		if bytes.Compare(prev, buf) >= 0 {
			t.Errorf("MakeKey(%s) not greater", value.Format(vals))
		}
		prev = buf
	}
}
