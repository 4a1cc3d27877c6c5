// Package kv provides a minimal ordered key value interface with several
// backends.
package kv

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Iterator returns key value pairs one at a time; Item returns io.EOF when
// there are no more pairs. The key and val passed to fn are only valid during
// the call.
type Iterator interface {
	Item(fn func(key, val []byte) error) error
	Close()
}

// Updater collects changes and applies them atomically on Commit. Get sees
// the changes already made by the Updater.
type Updater interface {
	Get(key []byte, fn func(val []byte) error) error
	Set(key, val []byte) error
	Delete(key []byte) error
	Commit(sync bool) error
	Rollback()
}

// KV is an ordered key value store. Iterate returns the keys in [minKey, maxKey)
// in ascending order and ReverseIterate in descending order; a nil maxKey has
// no upper limit. Get returns io.EOF if key is not found. Only one Updater may
// be active at a time.
type KV interface {
	Iterate(minKey, maxKey []byte) (Iterator, error)
	ReverseIterate(minKey, maxKey []byte) (Iterator, error)
	Get(key []byte, fn func(val []byte) error) error
	Updater() (Updater, error)
	Close() error
}

// Open opens the store named by a connection string: memory:, badger:DIR,
// bbolt:DIR, pebble:DIR, leveldb:DIR or a postgres:// URL.
func Open(conn string, logger *log.Logger) (KV, error) {
	if strings.HasPrefix(conn, "postgres://") || strings.HasPrefix(conn, "postgresql://") {
		return MakePostgresKV(conn)
	}

	idx := strings.IndexByte(conn, ':')
	if idx < 0 {
		return nil, fmt.Errorf("kv: %q: expected <store>:<directory>", conn)
	}
	store := conn[:idx]
	dataDir := conn[idx+1:]

	if store == "memory" {
		return MakeBTreeKV()
	}
	if dataDir == "" {
		return nil, fmt.Errorf("kv: %q: missing directory", conn)
	}

	switch store {
	case "badger":
		return MakeBadgerKV(dataDir, logger)
	case "bbolt":
		return MakeBBoltKV(dataDir)
	case "pebble":
		return MakePebbleKV(dataDir, logger)
	case "leveldb":
		return MakeLevelDBKV(dataDir)
	}
	return nil, fmt.Errorf("kv: %q: unknown store: %s", conn, store)
}

func inRange(key, minKey, maxKey []byte) bool {
	return compare(key, minKey) >= 0 && (maxKey == nil || compare(key, maxKey) < 0)
}
