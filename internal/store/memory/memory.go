package memory

import (
	"context"

	"github.com/tobsdb/chainstore/internal/builder"
	"github.com/tobsdb/chainstore/internal/query"
	"github.com/tobsdb/chainstore/internal/store"
	"github.com/tobsdb/chainstore/pkg"
	sorted "github.com/tobshub/go-sortedmap"
)

type TableRows = sorted.SortedMap[string, builder.Row]

// Store keeps one sorted map per table, ordered by primary key.
type Store struct {
	tables  pkg.Map[string, *TableRows]
	indexes pkg.Map[string, pkg.Map[string, []string]]
}

// New returns a connector holding every row in memory.
func New(schema *builder.Schema) *store.Engine {
	return store.NewEngine(schema, NewStore())
}

func NewStore() *Store {
	return &Store{
		tables:  pkg.Map[string, *TableRows]{},
		indexes: pkg.Map[string, pkg.Map[string, []string]]{},
	}
}

func rowsComparisonFunc(table *builder.Table) func(a, b builder.Row) bool {
	return func(a, b builder.Row) bool {
		for _, name := range table.PrimaryKey {
			if c, _ := query.Compare(a[name], b[name]); c != 0 {
				return c < 0
			}
		}
		return false
	}
}

func (s *Store) rows(table *builder.Table) *TableRows {
	if !s.tables.Has(table.Name) {
		s.tables.Set(table.Name, sorted.New[string, builder.Row](0, rowsComparisonFunc(table)))
	}
	return s.tables.Get(table.Name)
}

func (s *Store) CreateTable(ctx context.Context, table *builder.Table) error {
	s.rows(table)
	return nil
}

// EnsureIndex only records the declaration, scans don't use indexes.
func (s *Store) EnsureIndex(ctx context.Context, table *builder.Table, name string, keys []string) error {
	if !s.indexes.Has(table.Name) {
		s.indexes.Set(table.Name, pkg.Map[string, []string]{})
	}
	s.indexes.Get(table.Name).Set(name, keys)
	return nil
}

// Indexes returns the index declarations recorded for table.
func (s *Store) Indexes(table string) map[string][]string {
	return s.indexes.Get(table)
}

func (s *Store) Close() error { return nil }

func (s *Store) Begin(ctx context.Context, writable bool) (store.Txn, error) {
	return &txn{store: s, overlay: pkg.Map[string, pkg.Map[string, builder.Row]]{}}, nil
}

// txn buffers writes in an overlay until Commit. A nil row in the overlay
// marks a deletion.
type txn struct {
	store   *Store
	overlay pkg.Map[string, pkg.Map[string, builder.Row]]
	tables  pkg.Map[string, *builder.Table]
}

func (t *txn) changes(table *builder.Table) pkg.Map[string, builder.Row] {
	if !t.overlay.Has(table.Name) {
		t.overlay.Set(table.Name, pkg.Map[string, builder.Row]{})
		if t.tables == nil {
			t.tables = pkg.Map[string, *builder.Table]{}
		}
		t.tables.Set(table.Name, table)
	}
	return t.overlay.Get(table.Name)
}

func (t *txn) Scan(table *builder.Table, fn func(key string, row builder.Row) error) error {
	changes := t.overlay.Get(table.Name)

	if t.store.tables.Has(table.Name) {
		iterCh, err := t.store.tables.Get(table.Name).IterCh()
		// an empty map has nothing to iterate
		if err == nil {
			var cb_err error
			for rec := range iterCh.Records() {
				if cb_err != nil || changes.Has(rec.Key) {
					continue
				}
				cb_err = fn(rec.Key, rec.Val)
			}
			if cb_err != nil {
				return cb_err
			}
		}
	}

	for _, key := range pkg.SortedKeys(changes) {
		row := changes.Get(key)
		if row == nil {
			continue
		}
		if err := fn(key, row); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) Get(table *builder.Table, key string) (builder.Row, error) {
	if changes := t.overlay.Get(table.Name); changes.Has(key) {
		return changes.Get(key), nil
	}
	if !t.store.tables.Has(table.Name) {
		return nil, nil
	}
	row, ok := t.store.tables.Get(table.Name).Get(key)
	if !ok {
		return nil, nil
	}
	return row, nil
}

func (t *txn) Put(table *builder.Table, key string, row builder.Row) error {
	t.changes(table).Set(key, builder.CloneRow(row))
	return nil
}

func (t *txn) Delete(table *builder.Table, key string) error {
	t.changes(table).Set(key, nil)
	return nil
}

func (t *txn) Commit() error {
	for name, changes := range t.overlay {
		rows := t.store.rows(t.tables.Get(name))
		for key, row := range changes {
			if row == nil {
				rows.Delete(key)
				continue
			}
			if !rows.Insert(key, row) {
				rows.Replace(key, row)
			}
		}
	}
	t.overlay = pkg.Map[string, pkg.Map[string, builder.Row]]{}
	return nil
}

func (t *txn) Rollback() {
	t.overlay = pkg.Map[string, pkg.Map[string, builder.Row]]{}
}
