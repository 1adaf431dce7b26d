// Package blockcache holds writes tagged with the block that produced them
// until that block has enough confirmations, so a chain reorg can drop them
// before they reach the connector.
package blockcache

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"github.com/tobsdb/chainstore/internal/builder"
	"github.com/tobsdb/chainstore/internal/query"
	"github.com/tobsdb/chainstore/internal/store"
	"github.com/tobsdb/chainstore/internal/store/memory"
	"github.com/tobsdb/chainstore/pkg"
)

var (
	pendingOps = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainstore_blockcache_pending_ops",
		Help: "Number of queued writes waiting for confirmations",
	})
	flushedOpsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainstore_blockcache_flushed_ops_total",
		Help: "Cumulative number of queued writes flushed to the connector",
	})
	flushFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainstore_blockcache_flush_failures_total",
		Help: "Cumulative number of failed flushes of confirmed writes",
	})
	clearedOpsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainstore_blockcache_cleared_ops_total",
		Help: "Cumulative number of queued writes dropped by a reorg",
	})
)

type BlockRef struct {
	Number int64  `json:"number"`
	Hash   string `json:"hash"`
}

// PendingOp is one queued write. Ops are applied together in one connector
// transaction.
type PendingOp struct {
	Block BlockRef
	Ops   []store.Op
}

// Cache queues writes for unconfirmed blocks in front of a connector.
//
// Reads merge the queue with the connector: the rows of the connector that
// the query or any queued write on the collection can see are copied into a
// scratch memory connector, the queued writes are replayed there, and the
// query runs on the result.
type Cache struct {
	locker        sync.RWMutex
	conn          store.Connector
	confirmations int64
	current       int64
	pending       []PendingOp
}

func New(conn store.Connector, confirmations int64) *Cache {
	return &Cache{conn: conn, confirmations: confirmations}
}

func (c *Cache) GetLocker() *sync.RWMutex { return &c.locker }

func (c *Cache) Connector() store.Connector { return c.conn }

func (c *Cache) CurrentBlock() (n int64) {
	pkg.RLockWrap(c, func() { n = c.current })
	return n
}

// Pending returns a copy of the queue in submission order.
func (c *Cache) Pending() (res []PendingOp) {
	pkg.RLockWrap(c, func() {
		res = make([]PendingOp, len(c.pending))
		copy(res, c.pending)
	})
	return res
}

func (c *Cache) confirmed(block BlockRef) bool {
	return c.current-block.Number >= c.confirmations
}

// direct reports whether a write on collection for block can skip the queue.
// A confirmed write still queues behind older writes on the same collection
// that failed to flush, so it lands after them.
func (c *Cache) direct(block BlockRef, collection string) bool {
	return c.confirmed(block) && !c.hasPending(collection)
}

func (c *Cache) hasPending(collection string) bool {
	for _, p := range c.pending {
		for _, op := range p.Ops {
			if op.Collection == collection {
				return true
			}
		}
	}
	return false
}

// view builds the merged state of the collections in clauses. Rows are seeded
// from the connector when they match one of the collection's clauses or the
// filter of a queued write on it.
func (c *Cache) view(ctx context.Context, clauses map[string][]query.Where) (*store.Engine, error) {
	schema := c.conn.Schema()
	for _, p := range c.pending {
		for _, op := range p.Ops {
			if _, ok := clauses[op.Collection]; !ok {
				continue
			}
			table, err := schema.Table(op.Collection)
			if err != nil {
				return nil, err
			}
			clauses[op.Collection] = append(clauses[op.Collection], op.Filter(table))
		}
	}

	view := memory.New(schema)
	for _, collection := range pkg.SortedKeys(clauses) {
		rows, err := c.conn.FindMany(ctx, collection, store.FindArgs{Where: query.Or(clauses[collection]...)})
		if err != nil {
			return nil, err
		}
		if _, err := view.CreateMany(ctx, collection, rows); err != nil {
			return nil, err
		}
	}

	for _, p := range c.pending {
		ops := pkg.Filter(p.Ops, func(op store.Op) bool {
			_, ok := clauses[op.Collection]
			return ok
		})
		if len(ops) == 0 {
			continue
		}
		err := view.Transaction(ctx, func(tx *store.Tx) error {
			for _, op := range ops {
				if err := tx.Push(op); err != nil {
					return err
				}
			}
			return nil
		})
		// the flush will fail the same way, leave it out of the view
		if err != nil {
			pkg.WithFields(logrus.Fields{"block": p.Block.Number, "hash": p.Block.Hash}).Debugf("queued write skipped in view: %v", err)
		}
	}
	return view, nil
}

// stage checks ops against the merged view and queues them as one unit. It
// returns what each op returned on the view.
func (c *Cache) stage(ctx context.Context, block BlockRef, ops []store.Op) ([]any, error) {
	schema := c.conn.Schema()
	prepared := make([]store.Op, len(ops))
	clauses := map[string][]query.Where{}
	for i, op := range ops {
		p, err := op.Prepare(schema)
		if err != nil {
			return nil, err
		}
		table, err := schema.Table(p.Collection)
		if err != nil {
			return nil, err
		}
		prepared[i] = p
		clauses[p.Collection] = append(clauses[p.Collection], p.Filter(table))
	}

	view, err := c.view(ctx, clauses)
	if err != nil {
		return nil, err
	}
	results := make([]any, len(prepared))
	for i, op := range prepared {
		results[i], err = op.Run(ctx, view)
		if err != nil {
			return nil, err
		}
	}

	c.pending = append(c.pending, PendingOp{Block: block, Ops: prepared})
	pendingOps.Inc()
	pkg.WithFields(logrus.Fields{"block": block.Number, "hash": block.Hash, "ops": len(prepared)}).Debug("write queued")
	return results, nil
}

func (c *Cache) Create(ctx context.Context, block BlockRef, collection string, doc builder.Row) (row builder.Row, err error) {
	err = pkg.LockWrapErr(c, func() error {
		if c.direct(block, collection) {
			row, err = c.conn.Create(ctx, collection, doc)
			return err
		}
		res, err := c.stage(ctx, block, []store.Op{store.CreateOp(collection, doc)})
		if err != nil {
			return err
		}
		row = res[0].(builder.Row)
		return nil
	})
	return row, err
}

// CreateMany queues docs as one unit: they are flushed together or not at all.
func (c *Cache) CreateMany(ctx context.Context, block BlockRef, collection string, docs []builder.Row) (rows []builder.Row, err error) {
	err = pkg.LockWrapErr(c, func() error {
		if c.direct(block, collection) {
			rows, err = c.conn.CreateMany(ctx, collection, docs)
			return err
		}
		ops := make([]store.Op, len(docs))
		for i, doc := range docs {
			ops[i] = store.CreateOp(collection, doc)
		}
		res, err := c.stage(ctx, block, ops)
		if err != nil {
			return err
		}
		rows = make([]builder.Row, len(res))
		for i, r := range res {
			rows[i] = r.(builder.Row)
		}
		return nil
	})
	return rows, err
}

// Update returns the number of rows the update changes in the merged view
// when it is queued.
func (c *Cache) Update(ctx context.Context, block BlockRef, collection string, args store.UpdateArgs) (n int, err error) {
	err = pkg.LockWrapErr(c, func() error {
		if c.direct(block, collection) {
			n, err = c.conn.Update(ctx, collection, args)
			return err
		}
		res, err := c.stage(ctx, block, []store.Op{store.UpdateOp(collection, args)})
		if err != nil {
			return err
		}
		n = res[0].(int)
		return nil
	})
	return n, err
}

func (c *Cache) Upsert(ctx context.Context, block BlockRef, collection string, args store.UpsertArgs) (res *store.UpsertResult, err error) {
	err = pkg.LockWrapErr(c, func() error {
		if c.direct(block, collection) {
			res, err = c.conn.Upsert(ctx, collection, args)
			return err
		}
		results, err := c.stage(ctx, block, []store.Op{store.UpsertOp(collection, args)})
		if err != nil {
			return err
		}
		res = results[0].(*store.UpsertResult)
		return nil
	})
	return res, err
}

func (c *Cache) Delete(ctx context.Context, block BlockRef, collection string, args store.DeleteArgs) (n int, err error) {
	err = pkg.LockWrapErr(c, func() error {
		if c.direct(block, collection) {
			n, err = c.conn.Delete(ctx, collection, args)
			return err
		}
		res, err := c.stage(ctx, block, []store.Op{store.DeleteOp(collection, args)})
		if err != nil {
			return err
		}
		n = res[0].(int)
		return nil
	})
	return n, err
}

// Transaction stages fn's writes as one unit. For an unconfirmed block the
// commit hooks run once the writes are queued. Hooks run with the cache
// locked and must not call back into it.
func (c *Cache) Transaction(ctx context.Context, block BlockRef, fn func(*store.Tx) error) error {
	return pkg.LockWrapErr(c, func() error {
		if c.confirmed(block) && len(c.pending) == 0 {
			return c.conn.Transaction(ctx, fn)
		}
		return store.RunTransaction(ctx, c.conn.Schema(), fn, func(ctx context.Context, ops []store.Op) error {
			if len(ops) == 0 {
				return nil
			}
			_, err := c.stage(ctx, block, ops)
			return err
		})
	})
}

func (c *Cache) FindMany(ctx context.Context, collection string, args store.FindArgs) ([]builder.Row, error) {
	table, err := c.conn.Schema().Table(collection)
	if err != nil {
		return nil, err
	}
	if err := store.ValidateInclude(c.conn.Schema(), table, args.Include); err != nil {
		return nil, err
	}

	var rows []builder.Row
	err = pkg.RLockWrapErr(c, func() error {
		query_args := store.FindArgs{Where: args.Where, OrderBy: args.OrderBy, Limit: args.Limit}
		if !c.hasPending(collection) {
			rows, err = c.conn.FindMany(ctx, collection, query_args)
			return err
		}
		view, err := c.view(ctx, map[string][]query.Where{collection: {args.Where}})
		if err != nil {
			return err
		}
		rows, err = view.FindMany(ctx, collection, query_args)
		return err
	})
	if err != nil {
		return nil, err
	}

	// relations see the merged view of their own collection
	if err := store.LoadRelations(ctx, c, table, rows, args.Include); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Cache) FindOne(ctx context.Context, collection string, args store.FindArgs) (builder.Row, error) {
	return store.FindOne(ctx, c, collection, args)
}

func (c *Cache) Count(ctx context.Context, collection string, where query.Where) (n int, err error) {
	err = pkg.RLockWrapErr(c, func() error {
		if !c.hasPending(collection) {
			n, err = c.conn.Count(ctx, collection, where)
			return err
		}
		view, err := c.view(ctx, map[string][]query.Where{collection: {where}})
		if err != nil {
			return err
		}
		n, err = view.Count(ctx, collection, where)
		return err
	})
	return n, err
}

func (c *Cache) flush(ctx context.Context, p PendingOp) error {
	return c.conn.Transaction(ctx, func(tx *store.Tx) error {
		for _, op := range p.Ops {
			if err := tx.Push(op); err != nil {
				return err
			}
		}
		return nil
	})
}

// NewBlock records number as the current block and flushes every queued write
// that is now confirmed, in submission order. The first failure is logged and
// stops the flush: the failed write and everything after it stay queued for
// the next block. It returns the number of writes flushed.
func (c *Cache) NewBlock(ctx context.Context, number int64) (flushed int) {
	pkg.LockWrap(c, func() {
		c.current = number
		remaining := make([]PendingOp, 0, len(c.pending))
		for i, p := range c.pending {
			if !c.confirmed(p.Block) {
				remaining = append(remaining, p)
				continue
			}
			if err := c.flush(ctx, p); err != nil {
				pkg.WithFields(logrus.Fields{"block": p.Block.Number, "hash": p.Block.Hash}).Errorf("flush queued write: %v", err)
				flushFailuresTotal.Inc()
				remaining = append(remaining, c.pending[i:]...)
				break
			}
			flushed++
		}
		c.pending = remaining
	})

	flushedOpsTotal.Add(float64(flushed))
	pendingOps.Sub(float64(flushed))
	if flushed > 0 {
		pkg.WithFields(logrus.Fields{"block": number, "flushed": flushed}).Debug("queued writes flushed")
	}
	return flushed
}

// ClearChangesForBlockHash drops every queued write tagged with hash, without
// touching the connector. It returns the number of writes dropped.
func (c *Cache) ClearChangesForBlockHash(hash string) (cleared int) {
	pkg.LockWrap(c, func() {
		remaining := pkg.Filter(c.pending, func(p PendingOp) bool { return p.Block.Hash != hash })
		cleared = len(c.pending) - len(remaining)
		c.pending = remaining
	})

	clearedOpsTotal.Add(float64(cleared))
	pendingOps.Sub(float64(cleared))
	if cleared > 0 {
		pkg.WithFields(logrus.Fields{"hash": hash, "cleared": cleared}).Info("queued writes cleared")
	}
	return cleared
}
