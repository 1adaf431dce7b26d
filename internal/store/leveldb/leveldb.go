package leveldb

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	ldb_opt "github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	ldb_util "github.com/syndtr/goleveldb/leveldb/util"

	"github.com/tobsdb/chainstore/internal/builder"
	"github.com/tobsdb/chainstore/internal/store"
	"github.com/tobsdb/chainstore/internal/types"
)

const (
	rowPrefix   = "r/"
	indexPrefix = "i/"
)

func rowKey(table, key string) []byte { return []byte(rowPrefix + table + "/" + key) }

func tablePrefix(table string) []byte { return []byte(rowPrefix + table + "/") }

func indexKey(table, name string) []byte { return []byte(indexPrefix + table + "/" + name) }

// Store keeps rows as json values under "r/<table>/<primary key>".
type Store struct {
	db *leveldb.DB
}

// Open opens (or creates) a database directory and returns a connector on it.
func Open(path string, schema *builder.Schema) (*store.Engine, error) {
	db, err := leveldb.OpenFile(path, &ldb_opt.Options{ErrorIfMissing: false})
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb %s", path)
	}
	return store.NewEngine(schema, &Store{db: db}), nil
}

// OpenStorage is Open over an arbitrary goleveldb storage, eg. storage.NewMemStorage().
func OpenStorage(stor storage.Storage, schema *builder.Schema) (*store.Engine, error) {
	s, err := NewStore(stor)
	if err != nil {
		return nil, err
	}
	return store.NewEngine(schema, s), nil
}

func NewStore(stor storage.Storage) (*Store, error) {
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open leveldb storage")
	}
	return &Store{db: db}, nil
}

// tables live under a key prefix, nothing to create
func (s *Store) CreateTable(ctx context.Context, table *builder.Table) error { return nil }

// EnsureIndex records the declaration under "i/<table>/<name>". Scans don't
// use it.
func (s *Store) EnsureIndex(ctx context.Context, table *builder.Table, name string, keys []string) error {
	buf, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	return errors.Wrapf(s.db.Put(indexKey(table.Name, name), buf, nil), "ensure index %s on %s", name, table.Name)
}

// Indexes returns the index declarations recorded for table.
func (s *Store) Indexes(table string) (map[string][]string, error) {
	prefix := []byte(indexPrefix + table + "/")
	iter := s.db.NewIterator(ldb_util.BytesPrefix(prefix), nil)
	defer iter.Release()

	res := map[string][]string{}
	for iter.Next() {
		var keys []string
		if err := json.Unmarshal(iter.Value(), &keys); err != nil {
			return nil, err
		}
		res[string(bytes.TrimPrefix(iter.Key(), prefix))] = keys
	}
	return res, iter.Error()
}

func (s *Store) Close() error { return s.db.Close() }

// reader is satisfied by both *leveldb.Snapshot and *leveldb.Transaction
type reader interface {
	Get(key []byte, ro *ldb_opt.ReadOptions) ([]byte, error)
	NewIterator(slice *ldb_util.Range, ro *ldb_opt.ReadOptions) iterator.Iterator
}

func (s *Store) Begin(ctx context.Context, writable bool) (store.Txn, error) {
	if !writable {
		snap, err := s.db.GetSnapshot()
		if err != nil {
			return nil, errors.Wrap(err, "leveldb snapshot")
		}
		return &txn{r: snap, release: snap.Release}, nil
	}

	tr, err := s.db.OpenTransaction()
	if err != nil {
		return nil, errors.Wrap(err, "leveldb transaction")
	}
	return &txn{r: tr, tr: tr, release: tr.Discard}, nil
}

type txn struct {
	r       reader
	tr      *leveldb.Transaction
	release func()
	done    bool
}

func decodeRow(table *builder.Table, data []byte) (builder.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw builder.Row
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrapf(err, "decode row of %s", table.Name)
	}
	for name, v := range raw {
		if field, ok := table.Fields.Idx[name]; ok && field.BuiltinType == types.FieldTypeObject {
			raw[name] = denumber(v)
		}
	}
	return table.NormalizeRow(raw)
}

// denumber turns json.Number values nested in objects back into float64,
// the way encoding/json decodes them by default.
func denumber(v any) any {
	switch v := v.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return v.String()
		}
		return f
	case map[string]any:
		for k, e := range v {
			v[k] = denumber(e)
		}
	case []any:
		for i, e := range v {
			v[i] = denumber(e)
		}
	}
	return v
}

func (t *txn) Scan(table *builder.Table, fn func(key string, row builder.Row) error) error {
	prefix := tablePrefix(table.Name)
	iter := t.r.NewIterator(ldb_util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		row, err := decodeRow(table, iter.Value())
		if err != nil {
			return err
		}
		if err := fn(string(bytes.TrimPrefix(iter.Key(), prefix)), row); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (t *txn) Get(table *builder.Table, key string) (builder.Row, error) {
	data, err := t.r.Get(rowKey(table.Name, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %s %s", table.Name, key)
	}
	return decodeRow(table, data)
}

func (t *txn) Put(table *builder.Table, key string, row builder.Row) error {
	buf, err := json.Marshal(row)
	if err != nil {
		return types.TypeMismatchError(table.Name, types.FieldTypeObject, row)
	}
	return errors.Wrapf(t.tr.Put(rowKey(table.Name, key), buf, nil), "put %s %s", table.Name, key)
}

func (t *txn) Delete(table *builder.Table, key string) error {
	return errors.Wrapf(t.tr.Delete(rowKey(table.Name, key), nil), "delete %s %s", table.Name, key)
}

func (t *txn) Commit() error {
	if t.tr == nil {
		t.Rollback()
		return nil
	}
	if err := t.tr.Commit(); err != nil {
		t.Rollback()
		return errors.Wrap(err, "leveldb commit")
	}
	t.done = true
	return nil
}

func (t *txn) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.release()
}
