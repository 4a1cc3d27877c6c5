// Package config holds the settings used to open a chaindb controller. Each
// setting is a flag; an HCL config file may set any flag which was not given
// on the command line.
package config

import (
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/hashicorp/hcl"
	"github.com/spf13/pflag"

	"github.com/leftmike/chaindb/chaindb"
	"github.com/leftmike/chaindb/name"
)

type Config struct {
	// Store is a connection string; see kv.Open.
	Store        string
	CacheSize    int
	CellSize     int
	SystemTables []chaindb.SystemTable
	MetricsAddr  string
}

func Default() *Config {
	return &Config{
		Store:     "memory:",
		CacheSize: chaindb.DefaultCacheSize,
		CellSize:  chaindb.DefaultCellSize,
	}
}

// Vars are the flags which may be set from a config file, by name.
type Vars map[string]*pflag.Flag

// Flags adds the settings of c to fs as flags and records them in vars.
func (c *Config) Flags(fs *pflag.FlagSet, vars Vars) {
	fs.StringVar(&c.Store, "store", c.Store,
		"`connection` string: memory:, badger:dir, bbolt:dir, pebble:dir, leveldb:dir, "+
			"or postgres://...")
	vars["store"] = fs.Lookup("store")

	fs.Var((*sizeValue)(&c.CacheSize), "cache-size", "`size` of the object cache")
	vars["cache-size"] = fs.Lookup("cache-size")

	fs.Var((*sizeValue)(&c.CellSize), "cell-size", "`size` of each object cache cell")
	vars["cell-size"] = fs.Lookup("cell-size")

	fs.Var(&systemTablesValue{tables: &c.SystemTables}, "system-table",
		"`code:table` which is never evicted from the cache; multiple allowed")
	vars["system-table"] = fs.Lookup("system-table")

	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr,
		"`address` to serve prometheus metrics on")
	vars["metrics-addr"] = fs.Lookup("metrics-addr")
}

// ControllerConfig returns the controller settings of c for drv.
func (c *Config) ControllerConfig(drv chaindb.Driver) chaindb.Config {
	return chaindb.Config{
		Driver:       drv,
		CacheSize:    c.CacheSize,
		CellSize:     c.CellSize,
		SystemTables: c.SystemTables,
	}
}

// Load reads an HCL config file and sets every variable in it which was not
// changed on the command line.
func (vars Vars) Load(filename string) error {
	b, err := ioutil.ReadFile(filename)
	if err != nil {
		return err
	}
	return vars.load(string(b))
}

func (vars Vars) load(s string) error {
	var cfg map[string]interface{}
	err := hcl.Decode(&cfg, s)
	if err != nil {
		return fmt.Errorf("config: %s", err)
	}

	for nam, val := range cfg {
		flg, ok := vars[nam]
		if !ok {
			return fmt.Errorf("config: %s is not a config variable", nam)
		}
		if flg.Changed {
			continue
		}

		switch val := val.(type) {
		case nil:
			return fmt.Errorf("config: %s: missing value", nam)
		case []interface{}:
			if _, ok := flg.Value.(*systemTablesValue); !ok {
				return fmt.Errorf("config: %s: expected a single value", nam)
			}
			if len(val) == 0 {
				return fmt.Errorf("config: %s: missing value", nam)
			}
			strs := make([]string, 0, len(val))
			for _, v := range val {
				strs = append(strs, fmt.Sprintf("%v", v))
			}
			err = flg.Value.Set(strings.Join(strs, ","))
		case []map[string]interface{}:
			return fmt.Errorf("config: %s: unexpected block", nam)
		default:
			s := fmt.Sprintf("%v", val)
			if s == "" {
				return fmt.Errorf("config: %s: missing value", nam)
			}
			err = flg.Value.Set(s)
		}
		if err != nil {
			return fmt.Errorf("config: %s: %s", nam, err)
		}
	}
	return nil
}

// ParseSystemTable parses code:table. Names may contain dots, so a colon
// separates the code from the table.
func ParseSystemTable(s string) (chaindb.SystemTable, error) {
	ss := strings.SplitN(s, ":", 2)
	if len(ss) != 2 || ss[0] == "" || ss[1] == "" {
		return chaindb.SystemTable{}, fmt.Errorf("config: expected code:table; got %s", s)
	}
	code, err := name.ParseName(ss[0])
	if err != nil {
		return chaindb.SystemTable{}, fmt.Errorf("config: %s: %s", s, err)
	}
	tn, err := name.ParseName(ss[1])
	if err != nil {
		return chaindb.SystemTable{}, fmt.Errorf("config: %s: %s", s, err)
	}
	return chaindb.SystemTable{
		Code:  code,
		Table: tn,
	}, nil
}
