package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/tobsdb/chainstore/internal/builder"
	"github.com/tobsdb/chainstore/internal/query"
	"github.com/tobsdb/chainstore/internal/types"
	"github.com/tobsdb/chainstore/pkg"
)

// Backend is the key/value storage behind an Engine. Rows are keyed by
// builder.Table.KeyOf and handed over already normalized.
type Backend interface {
	Begin(ctx context.Context, writable bool) (Txn, error)
	CreateTable(ctx context.Context, table *builder.Table) error
	EnsureIndex(ctx context.Context, table *builder.Table, name string, keys []string) error
	Close() error
}

// Txn sees its own writes. Rows passed to Scan callbacks and returned by Get
// must not be modified.
type Txn interface {
	Scan(table *builder.Table, fn func(key string, row builder.Row) error) error
	// Get returns nil when key is absent
	Get(table *builder.Table, key string) (builder.Row, error)
	Put(table *builder.Table, key string, row builder.Row) error
	Delete(table *builder.Table, key string) error
	Commit() error
	Rollback()
}

// Engine implements Connector on top of a Backend, evaluating every query
// with the in-memory matcher.
type Engine struct {
	locker  sync.RWMutex
	schema  *builder.Schema
	backend Backend
}

var _ Connector = (*Engine)(nil)

func NewEngine(schema *builder.Schema, backend Backend) *Engine {
	return &Engine{schema: schema, backend: backend}
}

func (e *Engine) GetLocker() *sync.RWMutex { return &e.locker }

func (e *Engine) Schema() *builder.Schema { return e.schema }

func (e *Engine) inTxn(ctx context.Context, writable bool, fn func(*engineTxn) error) error {
	txn, err := e.backend.Begin(ctx, writable)
	if err != nil {
		return err
	}
	if err := fn(&engineTxn{schema: e.schema, txn: txn}); err != nil {
		txn.Rollback()
		return err
	}
	if !writable {
		txn.Rollback()
		return nil
	}
	return txn.Commit()
}

func (e *Engine) write(ctx context.Context, fn func(*engineTxn) error) error {
	return pkg.LockWrapErr(e, func() error { return e.inTxn(ctx, true, fn) })
}

func (e *Engine) read(ctx context.Context, fn func(*engineTxn) error) error {
	return pkg.RLockWrapErr(e, func() error { return e.inTxn(ctx, false, fn) })
}

func (e *Engine) Create(ctx context.Context, collection string, doc builder.Row) (row builder.Row, err error) {
	err = e.write(ctx, func(t *engineTxn) error {
		row, err = t.Create(ctx, collection, doc)
		return err
	})
	return row, err
}

func (e *Engine) CreateMany(ctx context.Context, collection string, docs []builder.Row) ([]builder.Row, error) {
	rows := make([]builder.Row, 0, len(docs))
	err := e.write(ctx, func(t *engineTxn) error {
		for _, doc := range docs {
			row, err := t.Create(ctx, collection, doc)
			if err != nil {
				return err
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (e *Engine) FindMany(ctx context.Context, collection string, args FindArgs) ([]builder.Row, error) {
	var rows []builder.Row
	var table *builder.Table
	err := e.read(ctx, func(t *engineTxn) error {
		var err error
		table, rows, err = t.FindMany(collection, args)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := LoadRelations(ctx, e, table, rows, args.Include); err != nil {
		return nil, err
	}
	return rows, nil
}

func (e *Engine) FindOne(ctx context.Context, collection string, args FindArgs) (builder.Row, error) {
	return FindOne(ctx, e, collection, args)
}

func (e *Engine) Count(ctx context.Context, collection string, where query.Where) (n int, err error) {
	err = e.read(ctx, func(t *engineTxn) error {
		table, where, err := t.prepareWhere(collection, where)
		if err != nil {
			return err
		}
		matches, err := t.scan(table, where)
		n = len(matches)
		return err
	})
	return n, err
}

func (e *Engine) Update(ctx context.Context, collection string, args UpdateArgs) (n int, err error) {
	err = e.write(ctx, func(t *engineTxn) error {
		n, err = t.Update(ctx, collection, args)
		return err
	})
	return n, err
}

func (e *Engine) Upsert(ctx context.Context, collection string, args UpsertArgs) (res *UpsertResult, err error) {
	err = e.write(ctx, func(t *engineTxn) error {
		res, err = t.Upsert(ctx, collection, args)
		return err
	})
	return res, err
}

func (e *Engine) Delete(ctx context.Context, collection string, args DeleteArgs) (n int, err error) {
	err = e.write(ctx, func(t *engineTxn) error {
		n, err = t.Delete(ctx, collection, args)
		return err
	})
	return n, err
}

func (e *Engine) Transaction(ctx context.Context, fn func(*Tx) error) error {
	return RunTransaction(ctx, e.schema, fn, func(ctx context.Context, ops []Op) error {
		return e.write(ctx, func(t *engineTxn) error { return ApplyAll(ctx, t, ops) })
	})
}

func (e *Engine) CreateTables(ctx context.Context, tables []*builder.Table) error {
	return pkg.LockWrapErr(e, func() error {
		added, err := e.schema.AddTables(tables)
		if err != nil {
			return err
		}
		for _, table := range added {
			if err := e.backend.CreateTable(ctx, table); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) EnsureIndex(ctx context.Context, collection, name string, keys []string) error {
	return pkg.LockWrapErr(e, func() error {
		table, err := e.schema.Table(collection)
		if err != nil {
			return err
		}
		if err := ValidateIndex(table, name, keys); err != nil {
			return err
		}
		return e.backend.EnsureIndex(ctx, table, name, keys)
	})
}

func (e *Engine) Close() error { return e.backend.Close() }

// ValidateIndex checks an index declaration against table.
func ValidateIndex(table *builder.Table, name string, keys []string) error {
	if !builder.ValidIdentifier(name) {
		return types.InvalidSchemaError("index name %q is not a valid identifier", name)
	}
	if len(keys) == 0 {
		return types.InvalidSchemaError("index %s has no keys", name)
	}
	for _, key := range keys {
		field, err := table.Field(key)
		if err != nil {
			return err
		}
		if field.IsRelation() {
			return types.UnknownRowError(table.Name, key)
		}
	}
	return nil
}

// engineTxn runs connector operations inside one backend transaction
// without locking.
type engineTxn struct {
	schema *builder.Schema
	txn    Txn
}

type entry struct {
	key string
	row builder.Row
}

func (t *engineTxn) prepareWhere(collection string, where query.Where) (*builder.Table, query.Where, error) {
	table, err := t.schema.Table(collection)
	if err != nil {
		return nil, nil, err
	}
	where, err = query.Validate(table, where)
	if err != nil {
		return nil, nil, err
	}
	return table, where, nil
}

func (t *engineTxn) scan(table *builder.Table, where query.Where) ([]entry, error) {
	matches := []entry{}
	err := t.txn.Scan(table, func(key string, row builder.Row) error {
		if query.Matches(where, row) {
			matches = append(matches, entry{key, row})
		}
		return nil
	})
	return matches, err
}

func (t *engineTxn) checkUnique(table *builder.Table, key string, row builder.Row) error {
	unique := pkg.Filter(table.UniqueFields(), func(f *builder.Field) bool { return row[f.Name] != nil })
	if len(unique) == 0 {
		return nil
	}
	return t.txn.Scan(table, func(other_key string, other builder.Row) error {
		if other_key == key {
			return nil
		}
		for _, field := range unique {
			if query.Equal(other[field.Name], row[field.Name]) {
				return types.DuplicateKeyError(table.Name, fmt.Sprintf("%s = %v", field.Name, row[field.Name]))
			}
		}
		return nil
	})
}

func (t *engineTxn) insert(table *builder.Table, row builder.Row) error {
	key, err := table.KeyOf(row)
	if err != nil {
		return err
	}
	existing, err := t.txn.Get(table, key)
	if err != nil {
		return err
	}
	if existing != nil {
		return types.DuplicateKeyError(table.Name, "primary key "+key)
	}
	if err := t.checkUnique(table, key, row); err != nil {
		return err
	}
	return t.txn.Put(table, key, row)
}

func (t *engineTxn) Create(ctx context.Context, collection string, doc builder.Row) (builder.Row, error) {
	table, err := t.schema.Table(collection)
	if err != nil {
		return nil, err
	}
	row, err := table.PrepareCreate(doc)
	if err != nil {
		return nil, err
	}
	if err := t.insert(table, row); err != nil {
		return nil, err
	}
	return builder.CloneRow(row), nil
}

func (t *engineTxn) FindMany(collection string, args FindArgs) (*builder.Table, []builder.Row, error) {
	table, where, err := t.prepareWhere(collection, args.Where)
	if err != nil {
		return nil, nil, err
	}
	if err := args.OrderBy.Validate(table); err != nil {
		return nil, nil, err
	}
	if err := ValidateInclude(t.schema, table, args.Include); err != nil {
		return nil, nil, err
	}

	matches, err := t.scan(table, where)
	if err != nil {
		return nil, nil, err
	}
	rows := make([]builder.Row, len(matches))
	for i, m := range matches {
		rows[i] = builder.CloneRow(m.row)
	}
	query.Sort(table, rows, args.OrderBy)
	return table, query.Limit(rows, args.Limit), nil
}

func (t *engineTxn) update(table *builder.Table, matches []entry, update builder.Row) (int, error) {
	for _, m := range matches {
		row := builder.ApplyUpdate(m.row, update)
		key, err := table.KeyOf(row)
		if err != nil {
			return 0, err
		}
		if key != m.key {
			existing, err := t.txn.Get(table, key)
			if err != nil {
				return 0, err
			}
			if existing != nil {
				return 0, types.DuplicateKeyError(table.Name, "primary key "+key)
			}
			if err := t.txn.Delete(table, m.key); err != nil {
				return 0, err
			}
		}
		if err := t.checkUnique(table, key, row); err != nil {
			return 0, err
		}
		if err := t.txn.Put(table, key, row); err != nil {
			return 0, err
		}
	}
	return len(matches), nil
}

func (t *engineTxn) Update(ctx context.Context, collection string, args UpdateArgs) (int, error) {
	table, where, err := t.prepareWhere(collection, args.Where)
	if err != nil {
		return 0, err
	}
	update, err := table.PrepareUpdate(args.Update)
	if err != nil || len(update) == 0 {
		return 0, err
	}
	matches, err := t.scan(table, where)
	if err != nil {
		return 0, err
	}
	return t.update(table, matches, update)
}

func (t *engineTxn) Upsert(ctx context.Context, collection string, args UpsertArgs) (*UpsertResult, error) {
	table, where, err := t.prepareWhere(collection, args.Where)
	if err != nil {
		return nil, err
	}
	update, err := table.PrepareUpdate(args.Update)
	if err != nil {
		return nil, err
	}
	row, err := table.PrepareCreate(args.Create)
	if err != nil {
		return nil, err
	}

	matches, err := t.scan(table, where)
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		if len(update) == 0 {
			return &UpsertResult{}, nil
		}
		n, err := t.update(table, matches, update)
		if err != nil {
			return nil, err
		}
		return &UpsertResult{Updated: n}, nil
	}

	if err := t.insert(table, row); err != nil {
		return nil, err
	}
	return &UpsertResult{Created: builder.CloneRow(row)}, nil
}

func (t *engineTxn) Delete(ctx context.Context, collection string, args DeleteArgs) (int, error) {
	table, where, err := t.prepareWhere(collection, args.Where)
	if err != nil {
		return 0, err
	}
	if err := args.OrderBy.Validate(table); err != nil {
		return 0, err
	}
	matches, err := t.scan(table, where)
	if err != nil {
		return 0, err
	}

	if args.Limit > 0 && len(matches) > args.Limit {
		rows := make([]builder.Row, len(matches))
		for i, m := range matches {
			rows[i] = m.row
		}
		query.Sort(table, rows, args.OrderBy)

		matches = make([]entry, 0, args.Limit)
		for _, row := range rows[:args.Limit] {
			key, err := table.KeyOf(row)
			if err != nil {
				return 0, err
			}
			matches = append(matches, entry{key, row})
		}
	}

	for _, m := range matches {
		if err := t.txn.Delete(table, m.key); err != nil {
			return 0, err
		}
	}
	return len(matches), nil
}
