package kv

import (
	"database/sql"
	"fmt"
	"io"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const (
	postgresPageSize = 64
)

type postgresKV struct {
	mutex sync.Mutex
	db    *sqlx.DB
}

type postgresRow struct {
	Key []byte `db:"key"`
	Val []byte `db:"val"`
}

type postgresIterator struct {
	db      *sqlx.DB
	minKey  []byte
	maxKey  []byte
	reverse bool
	last    []byte
	rows    []postgresRow
	done    bool
}

type postgresUpdater struct {
	kv *postgresKV
	tx *sqlx.Tx
}

func MakePostgresKV(conn string) (KV, error) {
	db, err := sqlx.Connect("postgres", conn)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s", err)
	}

	_, err = db.Exec(
		`CREATE TABLE IF NOT EXISTS chaindb_kv (key BYTEA PRIMARY KEY, val BYTEA NOT NULL)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: create table failed: %s", err)
	}

	return &postgresKV{
		db: db,
	}, nil
}

func (pkv *postgresKV) Iterate(minKey, maxKey []byte) (Iterator, error) {
	return &postgresIterator{
		db:     pkv.db,
		minKey: minKey,
		maxKey: maxKey,
	}, nil
}

func (pkv *postgresKV) ReverseIterate(minKey, maxKey []byte) (Iterator, error) {
	return &postgresIterator{
		db:      pkv.db,
		minKey:  minKey,
		maxKey:  maxKey,
		reverse: true,
	}, nil
}

func (pit *postgresIterator) fetch() error {
	var args []interface{}
	where := ""
	cond := func(op string, key []byte) {
		args = append(args, key)
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += fmt.Sprintf("key %s $%d", op, len(args))
	}

	if pit.reverse {
		if pit.minKey != nil {
			cond(">=", pit.minKey)
		}
		if pit.last != nil {
			cond("<", pit.last)
		} else if pit.maxKey != nil {
			cond("<", pit.maxKey)
		}
	} else {
		if pit.last != nil {
			cond(">", pit.last)
		} else if pit.minKey != nil {
			cond(">=", pit.minKey)
		}
		if pit.maxKey != nil {
			cond("<", pit.maxKey)
		}
	}

	order := "ASC"
	if pit.reverse {
		order = "DESC"
	}

	pit.rows = nil
	err := pit.db.Select(&pit.rows,
		fmt.Sprintf("SELECT key, val FROM chaindb_kv%s ORDER BY key %s LIMIT %d", where, order,
			postgresPageSize),
		args...)
	if err != nil {
		return fmt.Errorf("postgres: select failed: %s", err)
	}
	if len(pit.rows) < postgresPageSize {
		pit.done = true
	}
	return nil
}

func (pit *postgresIterator) Item(fn func(key, val []byte) error) error {
	if len(pit.rows) == 0 {
		if pit.done {
			return io.EOF
		}
		err := pit.fetch()
		if err != nil {
			return err
		}
		if len(pit.rows) == 0 {
			return io.EOF
		}
	}

	row := pit.rows[0]
	pit.rows = pit.rows[1:]
	pit.last = row.Key
	return fn(row.Key, row.Val)
}

func (pit *postgresIterator) Close() {
	// Nothing.
}

type getter interface {
	Get(dest interface{}, query string, args ...interface{}) error
}

func postgresGet(g getter, key []byte, fn func(val []byte) error) error {
	var val []byte
	err := g.Get(&val, `SELECT val FROM chaindb_kv WHERE key = $1`, key)
	if err == sql.ErrNoRows {
		return io.EOF
	} else if err != nil {
		return fmt.Errorf("postgres: get failed: %s", err)
	}
	return fn(val)
}

func (pkv *postgresKV) Get(key []byte, fn func(val []byte) error) error {
	return postgresGet(pkv.db, key, fn)
}

func (pkv *postgresKV) Updater() (Updater, error) {
	pkv.mutex.Lock()

	tx, err := pkv.db.Beginx()
	if err != nil {
		pkv.mutex.Unlock()
		return nil, fmt.Errorf("postgres: begin failed: %s", err)
	}
	return postgresUpdater{
		kv: pkv,
		tx: tx,
	}, nil
}

func (pkv *postgresKV) Close() error {
	return pkv.db.Close()
}

func (pu postgresUpdater) Get(key []byte, fn func(val []byte) error) error {
	return postgresGet(pu.tx, key, fn)
}

func (pu postgresUpdater) Set(key, val []byte) error {
	_, err := pu.tx.Exec(
		`INSERT INTO chaindb_kv (key, val) VALUES ($1, $2)
            ON CONFLICT (key) DO UPDATE SET val = EXCLUDED.val`,
		key, val)
	if err != nil {
		return fmt.Errorf("postgres: set failed: %s", err)
	}
	return nil
}

func (pu postgresUpdater) Delete(key []byte) error {
	_, err := pu.tx.Exec(`DELETE FROM chaindb_kv WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("postgres: delete failed: %s", err)
	}
	return nil
}

func (pu postgresUpdater) Commit(sync bool) error {
	err := pu.tx.Commit()
	pu.kv.mutex.Unlock()
	return err
}

func (pu postgresUpdater) Rollback() {
	pu.tx.Rollback()
	pu.kv.mutex.Unlock()
}
