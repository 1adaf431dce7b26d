package transaction

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tobsdb/chainstore/internal/builder"
	"github.com/tobsdb/chainstore/internal/query"
	"github.com/tobsdb/chainstore/internal/store"
	"github.com/tobsdb/chainstore/internal/types"
	"github.com/tobsdb/chainstore/pkg"
)

var ErrUnknownTransaction = errors.New("unknown transaction")

// Cache stages logical transactions in memory on a stack of snapshots and
// writes them to the connector on commit. The stack always holds at least
// one frame; the top frame is what reads see.
type Cache struct {
	locker sync.RWMutex
	conn   store.Connector
	frames []*TransactionCtx
}

func New(conn store.Connector) *Cache {
	return &Cache{conn: conn, frames: []*TransactionCtx{NewTransactionCtx(Snapshot{})}}
}

func (c *Cache) GetLocker() *sync.RWMutex { return &c.locker }

func (c *Cache) top() *TransactionCtx { return c.frames[len(c.frames)-1] }

// Transactions returns the ids on the stack, oldest first.
func (c *Cache) Transactions() (ids []uuid.UUID) {
	pkg.RLockWrap(c, func() {
		for _, frame := range c.frames {
			ids = append(ids, frame.id)
		}
	})
	return ids
}

func (c *Cache) frameIndex(id uuid.UUID) int {
	return slices.IndexFunc(c.frames, func(f *TransactionCtx) bool { return f.id == id })
}

// CachedTransaction pushes a frame on a copy of the top snapshot and runs fn
// against it. On error the frame is dropped and the stack is left as it was.
// fn runs with the cache locked: it must read through the CachedTx, calling
// back into the Cache deadlocks.
func (c *Cache) CachedTransaction(ctx context.Context, fn func(*CachedTx) error) (id uuid.UUID, err error) {
	err = pkg.LockWrapErr(c, func() error {
		frame := NewTransactionCtx(c.top().Snapshot)
		c.frames = append(c.frames, frame)
		if err := fn(&CachedTx{view: view{conn: c.conn, snapshot: frame.Snapshot}}); err != nil {
			c.frames = c.frames[:len(c.frames)-1]
			return err
		}
		id = frame.id
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// CommitTransaction writes the snapshot of frame id, which holds every
// change staged up to it, in one connector transaction. The frame and the
// ones below it are then dropped.
func (c *Cache) CommitTransaction(ctx context.Context, id uuid.UUID) error {
	return pkg.LockWrapErr(c, func() error {
		idx := c.frameIndex(id)
		if idx < 0 {
			return ErrUnknownTransaction
		}
		frame := c.frames[idx]
		if err := c.flush(ctx, frame.Snapshot); err != nil {
			return err
		}

		c.frames = c.frames[idx+1:]
		if len(c.frames) == 0 {
			c.frames = append(c.frames, NewTransactionCtx(Snapshot{}))
		}
		pkg.WithFields(logrus.Fields{"transaction": id, "age": frame.Age()}).Debug("cached transaction committed")
		return nil
	})
}

// RollbackTransaction drops frame id and every frame staged after it.
func (c *Cache) RollbackTransaction(id uuid.UUID) error {
	return pkg.LockWrapErr(c, func() error {
		idx := c.frameIndex(id)
		if idx < 0 {
			return ErrUnknownTransaction
		}
		c.frames = c.frames[:idx]
		if len(c.frames) == 0 {
			c.frames = append(c.frames, NewTransactionCtx(Snapshot{}))
		}
		return nil
	})
}

// flush deletes first so a row moving to a new key, or a unique value moving
// to another row, doesn't collide with its old self.
func (c *Cache) flush(ctx context.Context, snapshot Snapshot) error {
	schema := c.conn.Schema()
	return c.conn.Transaction(ctx, func(tx *store.Tx) error {
		collections := pkg.SortedKeys(snapshot)
		for _, collection := range collections {
			table, err := schema.Table(collection)
			if err != nil {
				return err
			}
			for _, key := range snapshot.Keys(collection) {
				if row, _ := snapshot.Lookup(collection, key); row != nil {
					continue
				}
				where, err := keyWhere(table, key)
				if err != nil {
					return err
				}
				if err := tx.Delete(collection, store.DeleteArgs{Where: where}); err != nil {
					return err
				}
			}
		}

		for _, collection := range collections {
			table, _ := schema.Table(collection)
			for _, key := range snapshot.Keys(collection) {
				row, _ := snapshot.Lookup(collection, key)
				if row == nil {
					continue
				}
				where, err := keyWhere(table, key)
				if err != nil {
					return err
				}
				update := builder.Row{}
				for _, field := range table.Columns() {
					if table.IsPrimaryKey(field.Name) {
						continue
					}
					if v, ok := row[field.Name]; ok {
						update[field.Name] = v
					} else if field.Optional {
						update[field.Name] = nil
					}
				}
				if err := tx.Upsert(collection, store.UpsertArgs{Where: where, Update: update, Create: row}); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func keyWhere(table *builder.Table, key string) (query.Where, error) {
	values, err := table.KeyValues(key)
	if err != nil {
		return nil, err
	}
	return query.Where(values), nil
}

func (c *Cache) topView() view {
	return view{conn: c.conn, snapshot: c.top().Snapshot}
}

// FindMany reads the union of the top snapshot and the connector.
func (c *Cache) FindMany(ctx context.Context, collection string, args store.FindArgs) (rows []builder.Row, err error) {
	err = pkg.RLockWrapErr(c, func() error {
		v := c.topView()
		rows, err = v.FindMany(ctx, collection, args)
		return err
	})
	return rows, err
}

func (c *Cache) FindOne(ctx context.Context, collection string, args store.FindArgs) (builder.Row, error) {
	return store.FindOne(ctx, c, collection, args)
}

func (c *Cache) Count(ctx context.Context, collection string, where query.Where) (n int, err error) {
	err = pkg.RLockWrapErr(c, func() error {
		v := c.topView()
		n, err = v.Count(ctx, collection, where)
		return err
	})
	return n, err
}

// view reads a snapshot layered over the connector.
type view struct {
	conn     store.Connector
	snapshot Snapshot
}

// exclude returns where narrowed to the rows whose key the snapshot doesn't
// know, so the connector never returns a row the snapshot replaced or
// deleted.
func (v view) exclude(table *builder.Table, where query.Where) (query.Where, error) {
	keys := v.snapshot.Keys(table.Name)
	if len(keys) == 0 {
		return where, nil
	}

	clauses := []query.Where{where}
	if len(table.PrimaryKey) == 1 {
		name := table.PrimaryKey[0]
		values := make([]any, len(keys))
		for i, key := range keys {
			row, err := table.KeyValues(key)
			if err != nil {
				return nil, err
			}
			values[i] = row[name]
		}
		clauses = append(clauses, query.Where{name: query.Ops{query.OpNotIn: values}})
		return query.And(clauses...), nil
	}

	for _, key := range keys {
		row, err := table.KeyValues(key)
		if err != nil {
			return nil, err
		}
		ne := make([]query.Where, len(table.PrimaryKey))
		for i, name := range table.PrimaryKey {
			ne[i] = query.Where{name: query.Ops{query.OpNotEqual: row[name]}}
		}
		clauses = append(clauses, query.Or(ne...))
	}
	return query.And(clauses...), nil
}

func (v view) live(table *builder.Table, where query.Where) []builder.Row {
	rows := []builder.Row{}
	for _, key := range v.snapshot.Keys(table.Name) {
		row, _ := v.snapshot.Lookup(table.Name, key)
		if row != nil && query.Matches(where, row) {
			rows = append(rows, builder.CloneRow(row))
		}
	}
	return rows
}

func (v view) prepare(collection string, where query.Where) (*builder.Table, query.Where, error) {
	table, err := v.conn.Schema().Table(collection)
	if err != nil {
		return nil, nil, err
	}
	where, err = query.Validate(table, where)
	if err != nil {
		return nil, nil, err
	}
	return table, where, nil
}

func (v view) FindMany(ctx context.Context, collection string, args store.FindArgs) ([]builder.Row, error) {
	table, where, err := v.prepare(collection, args.Where)
	if err != nil {
		return nil, err
	}
	if err := args.OrderBy.Validate(table); err != nil {
		return nil, err
	}
	if err := store.ValidateInclude(v.conn.Schema(), table, args.Include); err != nil {
		return nil, err
	}

	store_where, err := v.exclude(table, where)
	if err != nil {
		return nil, err
	}
	stored, err := v.conn.FindMany(ctx, collection, store.FindArgs{Where: store_where, OrderBy: args.OrderBy, Limit: args.Limit})
	if err != nil {
		return nil, err
	}

	rows := append(v.live(table, where), stored...)
	query.Sort(table, rows, args.OrderBy)
	rows = query.Limit(rows, args.Limit)

	if err := store.LoadRelations(ctx, v, table, rows, args.Include); err != nil {
		return nil, err
	}
	return rows, nil
}

func (v view) Count(ctx context.Context, collection string, where query.Where) (int, error) {
	table, where, err := v.prepare(collection, where)
	if err != nil {
		return 0, err
	}
	store_where, err := v.exclude(table, where)
	if err != nil {
		return 0, err
	}
	n, err := v.conn.Count(ctx, collection, store_where)
	if err != nil {
		return 0, err
	}
	return n + len(v.live(table, where)), nil
}

// CachedTx stages writes into one frame's snapshot. Its reads see the
// frame's staged state.
type CachedTx struct {
	view
}

var _ store.Writer = (*CachedTx)(nil)

// available checks key against the snapshot first and the connector only
// when the snapshot doesn't know it.
func (tx *CachedTx) available(ctx context.Context, table *builder.Table, key string) error {
	if row, ok := tx.snapshot.Lookup(table.Name, key); ok {
		if row != nil {
			return types.DuplicateKeyError(table.Name, "primary key "+key)
		}
		return nil
	}
	where, err := keyWhere(table, key)
	if err != nil {
		return err
	}
	n, err := tx.conn.Count(ctx, table.Name, where)
	if err != nil {
		return err
	}
	if n > 0 {
		return types.DuplicateKeyError(table.Name, "primary key "+key)
	}
	return nil
}

func (tx *CachedTx) create(ctx context.Context, table *builder.Table, row builder.Row) error {
	key, err := table.KeyOf(row)
	if err != nil {
		return err
	}
	if err := tx.available(ctx, table, key); err != nil {
		return err
	}
	tx.snapshot.Set(table.Name, key, row)
	return nil
}

func (tx *CachedTx) Create(ctx context.Context, collection string, doc builder.Row) (builder.Row, error) {
	table, err := tx.conn.Schema().Table(collection)
	if err != nil {
		return nil, err
	}
	row, err := table.PrepareCreate(doc)
	if err != nil {
		return nil, err
	}
	if err := tx.create(ctx, table, row); err != nil {
		return nil, err
	}
	return builder.CloneRow(row), nil
}

func (tx *CachedTx) update(ctx context.Context, table *builder.Table, rows []builder.Row, update builder.Row) (int, error) {
	for _, row := range rows {
		old_key, err := table.KeyOf(row)
		if err != nil {
			return 0, err
		}
		updated := builder.ApplyUpdate(row, update)
		key, err := table.KeyOf(updated)
		if err != nil {
			return 0, err
		}
		if key != old_key {
			if err := tx.available(ctx, table, key); err != nil {
				return 0, err
			}
			tx.snapshot.Set(table.Name, old_key, nil)
		}
		tx.snapshot.Set(table.Name, key, updated)
	}
	return len(rows), nil
}

func (tx *CachedTx) Update(ctx context.Context, collection string, args store.UpdateArgs) (int, error) {
	table, err := tx.conn.Schema().Table(collection)
	if err != nil {
		return 0, err
	}
	update, err := table.PrepareUpdate(args.Update)
	if err != nil {
		return 0, err
	}
	rows, err := tx.FindMany(ctx, collection, store.FindArgs{Where: args.Where})
	if err != nil || len(update) == 0 {
		return 0, err
	}
	return tx.update(ctx, table, rows, update)
}

func (tx *CachedTx) Upsert(ctx context.Context, collection string, args store.UpsertArgs) (*store.UpsertResult, error) {
	table, err := tx.conn.Schema().Table(collection)
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

	rows, err := tx.FindMany(ctx, collection, store.FindArgs{Where: args.Where})
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		if len(update) == 0 {
			return &store.UpsertResult{}, nil
		}
		n, err := tx.update(ctx, table, rows, update)
		if err != nil {
			return nil, err
		}
		return &store.UpsertResult{Updated: n}, nil
	}

	if err := tx.create(ctx, table, row); err != nil {
		return nil, err
	}
	return &store.UpsertResult{Created: builder.CloneRow(row)}, nil
}

func (tx *CachedTx) Delete(ctx context.Context, collection string, args store.DeleteArgs) (int, error) {
	table, err := tx.conn.Schema().Table(collection)
	if err != nil {
		return 0, err
	}
	find := store.FindArgs{Where: args.Where}
	if args.Limit > 0 {
		find.OrderBy, find.Limit = args.OrderBy, args.Limit
	}
	rows, err := tx.FindMany(ctx, collection, find)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		key, err := table.KeyOf(row)
		if err != nil {
			return 0, err
		}
		tx.snapshot.Set(table.Name, key, nil)
	}
	return len(rows), nil
}

func (tx *CachedTx) CreateMany(ctx context.Context, collection string, docs []builder.Row) ([]builder.Row, error) {
	rows := make([]builder.Row, 0, len(docs))
	for _, doc := range docs {
		row, err := tx.Create(ctx, collection, doc)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (tx *CachedTx) FindOne(ctx context.Context, collection string, args store.FindArgs) (builder.Row, error) {
	return store.FindOne(ctx, tx, collection, args)
}
