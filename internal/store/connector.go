package store

import (
	"context"

	"github.com/tobsdb/chainstore/internal/builder"
	"github.com/tobsdb/chainstore/internal/query"
)

type FindArgs struct {
	Where   query.Where   `json:"where"`
	OrderBy query.OrderBy `json:"order_by"`
	Limit   int           `json:"limit"`
	Include query.Include `json:"include"`
}

type UpdateArgs struct {
	Where  query.Where `json:"where"`
	Update builder.Row `json:"update"`
}

type UpsertArgs struct {
	Where  query.Where `json:"where"`
	Update builder.Row `json:"update"`
	Create builder.Row `json:"create"`
}

type DeleteArgs struct {
	Where   query.Where   `json:"where"`
	OrderBy query.OrderBy `json:"order_by"`
	Limit   int           `json:"limit"`
}

// UpsertResult holds the outcome of whichever branch ran: the number of
// updated rows, or the created row.
type UpsertResult struct {
	Updated int         `json:"updated"`
	Created builder.Row `json:"created,omitempty"`
}

// Writer is the set of mutations a transaction replays.
type Writer interface {
	Create(ctx context.Context, collection string, doc builder.Row) (builder.Row, error)
	Update(ctx context.Context, collection string, args UpdateArgs) (int, error)
	Upsert(ctx context.Context, collection string, args UpsertArgs) (*UpsertResult, error)
	Delete(ctx context.Context, collection string, args DeleteArgs) (int, error)
}

// Finder is the read side shared by connectors and caches.
type Finder interface {
	FindMany(ctx context.Context, collection string, args FindArgs) ([]builder.Row, error)
}

// Connector is implemented by every storage backend.
type Connector interface {
	Writer
	Finder

	Schema() *builder.Schema
	CreateMany(ctx context.Context, collection string, docs []builder.Row) ([]builder.Row, error)
	FindOne(ctx context.Context, collection string, args FindArgs) (builder.Row, error)
	Count(ctx context.Context, collection string, where query.Where) (int, error)
	Transaction(ctx context.Context, fn func(*Tx) error) error
	CreateTables(ctx context.Context, tables []*builder.Table) error
	EnsureIndex(ctx context.Context, collection, name string, keys []string) error
	Close() error
}

// DeleteOne removes the first row matching where in orderBy order.
func DeleteOne(ctx context.Context, conn Writer, collection string, where query.Where, orderBy query.OrderBy) (int, error) {
	return conn.Delete(ctx, collection, DeleteArgs{Where: where, OrderBy: orderBy, Limit: 1})
}

// FindOne runs a FindMany limited to one row, nil when nothing matches.
func FindOne(ctx context.Context, conn Finder, collection string, args FindArgs) (builder.Row, error) {
	args.Limit = 1
	rows, err := conn.FindMany(ctx, collection, args)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}
