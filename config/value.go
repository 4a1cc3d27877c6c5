package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leftmike/chaindb/chaindb"
)

var sizeSuffixes = []struct {
	suffix string
	mult   int
}{
	{"gib", 1 << 30},
	{"gb", 1 << 30},
	{"g", 1 << 30},
	{"mib", 1 << 20},
	{"mb", 1 << 20},
	{"m", 1 << 20},
	{"kib", 1 << 10},
	{"kb", 1 << 10},
	{"k", 1 << 10},
	{"b", 1},
}

// ParseSize parses a byte size such as 4096, 64k, 256MiB or 1GB. Suffixes
// are powers of 1024.
func ParseSize(s string) (int, error) {
	ls := strings.ToLower(strings.TrimSpace(s))
	mult := 1
	for _, ss := range sizeSuffixes {
		if strings.HasSuffix(ls, ss.suffix) {
			ls = strings.TrimSpace(strings.TrimSuffix(ls, ss.suffix))
			mult = ss.mult
			break
		}
	}
	n, err := strconv.ParseInt(ls, 0, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("config: invalid size: %s", s)
	}
	return int(n) * mult, nil
}

func FormatSize(n int) string {
	switch {
	case n >= 1<<30 && n%(1<<30) == 0:
		return fmt.Sprintf("%dGiB", n>>30)
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%dMiB", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%dKiB", n>>10)
	}
	return strconv.Itoa(n)
}

type sizeValue int

func (sv *sizeValue) Set(s string) error {
	n, err := ParseSize(s)
	if err != nil {
		return err
	}
	*sv = sizeValue(n)
	return nil
}

func (sv *sizeValue) String() string {
	return FormatSize(int(*sv))
}

func (sv *sizeValue) Type() string {
	return "size"
}

type systemTablesValue struct {
	tables  *[]chaindb.SystemTable
	changed bool
}

// Set parses a comma separated list of code:table; the first Set replaces any
// default and later ones append.
func (stv *systemTablesValue) Set(s string) error {
	var tables []chaindb.SystemTable
	for _, st := range strings.Split(s, ",") {
		st = strings.TrimSpace(st)
		if st == "" {
			continue
		}
		tbl, err := ParseSystemTable(st)
		if err != nil {
			return err
		}
		tables = append(tables, tbl)
	}

	if !stv.changed {
		*stv.tables = tables
		stv.changed = true
	} else {
		*stv.tables = append(*stv.tables, tables...)
	}
	return nil
}

func (stv *systemTablesValue) String() string {
	if stv.tables == nil {
		return "[]"
	}
	strs := make([]string, 0, len(*stv.tables))
	for _, st := range *stv.tables {
		strs = append(strs, st.Code.String()+":"+st.Table.String())
	}
	return "[" + strings.Join(strs, ",") + "]"
}

func (stv *systemTablesValue) Type() string {
	return "tables"
}
