package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/tobsdb/chainstore/internal/builder"
	"github.com/tobsdb/chainstore/internal/query"
	"github.com/tobsdb/chainstore/internal/sqlgen"
	"github.com/tobsdb/chainstore/internal/store"
	"github.com/tobsdb/chainstore/internal/types"
	"github.com/tobsdb/chainstore/pkg"
)

// Connector runs every operation as SQL rendered by sqlgen.
type Connector struct {
	locker sync.RWMutex
	schema *builder.Schema
	db     *sql.DB
}

var _ store.Connector = (*Connector)(nil)

// Open connects to the database at dsn (eg. "chain.db" or ":memory:") and
// creates every table of schema that doesn't exist yet.
func Open(ctx context.Context, dsn string, schema *builder.Schema) (*Connector, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", dsn)
	}
	// a single connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "open sqlite %s", dsn)
	}

	c := &Connector{schema: schema, db: db}
	for _, table := range schema.Tables.Values() {
		if _, err := db.ExecContext(ctx, sqlgen.CreateTable(table)); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "create table %s", table.Name)
		}
	}
	pkg.DebugLog("sqlite connector ready on", dsn)
	return c, nil
}

func (c *Connector) GetLocker() *sync.RWMutex { return &c.locker }

func (c *Connector) Schema() *builder.Schema { return c.schema }

func (c *Connector) Close() error { return c.db.Close() }

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (c *Connector) inTx(ctx context.Context, fn func(*session) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite begin")
	}
	if err := fn(&session{schema: c.schema, q: tx}); err != nil {
		if rb_err := tx.Rollback(); rb_err != nil {
			pkg.ErrorLog("sqlite rollback:", rb_err)
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "sqlite commit")
}

func (c *Connector) write(ctx context.Context, fn func(*session) error) error {
	return pkg.LockWrapErr(c, func() error { return c.inTx(ctx, fn) })
}

func (c *Connector) read(fn func(*session) error) error {
	return pkg.RLockWrapErr(c, func() error { return fn(&session{schema: c.schema, q: c.db}) })
}

func (c *Connector) Create(ctx context.Context, collection string, doc builder.Row) (row builder.Row, err error) {
	err = pkg.LockWrapErr(c, func() error {
		row, err = (&session{schema: c.schema, q: c.db}).Create(ctx, collection, doc)
		return err
	})
	return row, err
}

func (c *Connector) CreateMany(ctx context.Context, collection string, docs []builder.Row) ([]builder.Row, error) {
	rows := make([]builder.Row, 0, len(docs))
	err := c.write(ctx, func(s *session) error {
		for _, doc := range docs {
			row, err := s.Create(ctx, collection, doc)
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

func (c *Connector) FindMany(ctx context.Context, collection string, args store.FindArgs) ([]builder.Row, error) {
	var table *builder.Table
	var rows []builder.Row
	err := c.read(func(s *session) error {
		var err error
		table, rows, err = s.FindMany(ctx, collection, args)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := store.LoadRelations(ctx, c, table, rows, args.Include); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Connector) FindOne(ctx context.Context, collection string, args store.FindArgs) (builder.Row, error) {
	return store.FindOne(ctx, c, collection, args)
}

func (c *Connector) Count(ctx context.Context, collection string, where query.Where) (n int, err error) {
	err = c.read(func(s *session) error {
		n, err = s.Count(ctx, collection, where)
		return err
	})
	return n, err
}

func (c *Connector) Update(ctx context.Context, collection string, args store.UpdateArgs) (n int, err error) {
	err = c.write(ctx, func(s *session) error {
		n, err = s.Update(ctx, collection, args)
		return err
	})
	return n, err
}

func (c *Connector) Upsert(ctx context.Context, collection string, args store.UpsertArgs) (res *store.UpsertResult, err error) {
	err = c.write(ctx, func(s *session) error {
		res, err = s.Upsert(ctx, collection, args)
		return err
	})
	return res, err
}

func (c *Connector) Delete(ctx context.Context, collection string, args store.DeleteArgs) (n int, err error) {
	err = c.write(ctx, func(s *session) error {
		n, err = s.Delete(ctx, collection, args)
		return err
	})
	return n, err
}

func (c *Connector) Transaction(ctx context.Context, fn func(*store.Tx) error) error {
	return store.RunTransaction(ctx, c.schema, fn, func(ctx context.Context, ops []store.Op) error {
		return c.write(ctx, func(s *session) error { return store.ApplyAll(ctx, s, ops) })
	})
}

func (c *Connector) CreateTables(ctx context.Context, tables []*builder.Table) error {
	return pkg.LockWrapErr(c, func() error {
		added, err := c.schema.AddTables(tables)
		if err != nil {
			return err
		}
		for _, table := range added {
			if _, err := c.db.ExecContext(ctx, sqlgen.CreateTable(table)); err != nil {
				return errors.Wrapf(err, "create table %s", table.Name)
			}
		}
		return nil
	})
}

func (c *Connector) EnsureIndex(ctx context.Context, collection, name string, keys []string) error {
	return pkg.LockWrapErr(c, func() error {
		table, err := c.schema.Table(collection)
		if err != nil {
			return err
		}
		stmt, err := sqlgen.CreateIndex(table, name, keys)
		if err != nil {
			return err
		}
		_, err = c.db.ExecContext(ctx, stmt)
		return errors.Wrapf(err, "ensure index %s on %s", name, collection)
	})
}

// mapError turns unique and primary key constraint failures into
// DuplicateKey errors.
func mapError(table string, err error) error {
	if err == nil {
		return nil
	}
	var sqlite_err sqlite3.Error
	if errors.As(err, &sqlite_err) {
		switch sqlite_err.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return types.DuplicateKeyError(table, sqlite_err.Error())
		}
	}
	return errors.Wrapf(err, "sqlite %s", table)
}

// session runs connector operations on a database or an open transaction,
// without locking.
type session struct {
	schema *builder.Schema
	q      queryer
}

func (s *session) exec(ctx context.Context, table *builder.Table, stmt string) (int, error) {
	pkg.DebugLog(stmt)
	res, err := s.q.ExecContext(ctx, stmt)
	if err != nil {
		return 0, mapError(table.Name, err)
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "rows affected")
}

func (s *session) Create(ctx context.Context, collection string, doc builder.Row) (builder.Row, error) {
	table, err := s.schema.Table(collection)
	if err != nil {
		return nil, err
	}
	row, err := table.PrepareCreate(doc)
	if err != nil {
		return nil, err
	}
	stmt, err := sqlgen.Insert(table, row)
	if err != nil {
		return nil, err
	}
	if _, err := s.exec(ctx, table, stmt); err != nil {
		return nil, err
	}
	return builder.CloneRow(row), nil
}

func (s *session) FindMany(ctx context.Context, collection string, args store.FindArgs) (*builder.Table, []builder.Row, error) {
	table, err := s.schema.Table(collection)
	if err != nil {
		return nil, nil, err
	}
	if err := store.ValidateInclude(s.schema, table, args.Include); err != nil {
		return nil, nil, err
	}
	stmt, err := sqlgen.Select(table, args.Where, args.OrderBy, args.Limit)
	if err != nil {
		return nil, nil, err
	}

	pkg.DebugLog(stmt)
	rows, err := s.q.QueryContext(ctx, stmt)
	if err != nil {
		return nil, nil, mapError(table.Name, err)
	}
	defer rows.Close()

	columns := table.Columns()
	res := []builder.Row{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, errors.Wrapf(err, "scan %s", table.Name)
		}
		row, err := decodeRow(columns, values)
		if err != nil {
			return nil, nil, err
		}
		row, err = table.NormalizeRow(row)
		if err != nil {
			return nil, nil, err
		}
		res = append(res, row)
	}
	return table, res, errors.Wrapf(rows.Err(), "select %s", table.Name)
}

// decodeRow parses the json text of Object columns.
func decodeRow(columns []*builder.Field, values []any) (builder.Row, error) {
	row := make(builder.Row, len(columns))
	for i, field := range columns {
		v := values[i]
		if v == nil {
			continue
		}
		if field.BuiltinType == types.FieldTypeObject {
			var text []byte
			switch raw := v.(type) {
			case string:
				text = []byte(raw)
			case []byte:
				text = raw
			}
			if text != nil {
				var obj any
				if err := json.Unmarshal(text, &obj); err != nil {
					return nil, errors.Wrapf(err, "decode %s", field.Name)
				}
				v = obj
			}
		}
		row[field.Name] = v
	}
	return row, nil
}

func (s *session) Count(ctx context.Context, collection string, where query.Where) (int, error) {
	table, err := s.schema.Table(collection)
	if err != nil {
		return 0, err
	}
	stmt, err := sqlgen.Count(table, where)
	if err != nil {
		return 0, err
	}
	pkg.DebugLog(stmt)
	var n int
	if err := s.q.QueryRowContext(ctx, stmt).Scan(&n); err != nil {
		return 0, mapError(table.Name, err)
	}
	return n, nil
}

func (s *session) update(ctx context.Context, table *builder.Table, where query.Where, update builder.Row) (int, error) {
	stmt, err := sqlgen.Update(table, where, update)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, table, stmt)
}

func (s *session) Update(ctx context.Context, collection string, args store.UpdateArgs) (int, error) {
	table, err := s.schema.Table(collection)
	if err != nil {
		return 0, err
	}
	if _, err := query.Validate(table, args.Where); err != nil {
		return 0, err
	}
	update, err := table.PrepareUpdate(args.Update)
	if err != nil || len(update) == 0 {
		return 0, err
	}
	return s.update(ctx, table, args.Where, update)
}

func (s *session) Upsert(ctx context.Context, collection string, args store.UpsertArgs) (*store.UpsertResult, error) {
	table, err := s.schema.Table(collection)
	if err != nil {
		return nil, err
	}
	if _, err := query.Validate(table, args.Where); err != nil {
		return nil, err
	}
	update, err := table.PrepareUpdate(args.Update)
	if err != nil {
		return nil, err
	}
	if _, err := table.PrepareCreate(args.Create); err != nil {
		return nil, err
	}

	n, err := s.Count(ctx, collection, args.Where)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		if len(update) == 0 {
			return &store.UpsertResult{}, nil
		}
		updated, err := s.update(ctx, table, args.Where, update)
		if err != nil {
			return nil, err
		}
		return &store.UpsertResult{Updated: updated}, nil
	}

	created, err := s.Create(ctx, collection, args.Create)
	if err != nil {
		return nil, err
	}
	return &store.UpsertResult{Created: created}, nil
}

func (s *session) Delete(ctx context.Context, collection string, args store.DeleteArgs) (int, error) {
	table, err := s.schema.Table(collection)
	if err != nil {
		return 0, err
	}
	if err := args.OrderBy.Validate(table); err != nil {
		return 0, err
	}
	stmt, err := sqlgen.Delete(table, args.Where, args.OrderBy, args.Limit)
	if err != nil {
		return 0, err
	}
	return s.exec(ctx, table, stmt)
}
