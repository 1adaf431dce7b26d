package blockcache_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/tobsdb/chainstore/internal/blockcache"
	"github.com/tobsdb/chainstore/internal/builder"
	"github.com/tobsdb/chainstore/internal/query"
	"github.com/tobsdb/chainstore/internal/store"
	"github.com/tobsdb/chainstore/internal/store/memory"
	"github.com/tobsdb/chainstore/internal/store/storetest"
	"github.com/tobsdb/chainstore/internal/types"
	"gotest.tools/assert"
)

func newCache(t *testing.T, confirmations int64) (*blockcache.Cache, store.Connector) {
	schema, err := builder.NewSchemaFromString(storetest.Schema)
	assert.NilError(t, err)
	conn := memory.New(schema)
	return blockcache.New(conn, confirmations), conn
}

func count(t *testing.T, f interface {
	Count(context.Context, string, query.Where) (int, error)
}, where query.Where) int {
	n, err := f.Count(context.Background(), "counters", where)
	assert.NilError(t, err)
	return n
}

var (
	block5  = blockcache.BlockRef{Number: 5, Hash: "0x05"}
	block6  = blockcache.BlockRef{Number: 6, Hash: "0x06"}
	orphan5 = blockcache.BlockRef{Number: 5, Hash: "0x05ff"}
)

func TestConfirmationGating(t *testing.T) {
	ctx := context.Background()
	cache, conn := newCache(t, 2)

	_, err := cache.Create(ctx, block5, "counters", builder.Row{"id": 1, "counter": 1})
	assert.NilError(t, err)
	assert.Equal(t, count(t, conn, nil), 0)
	assert.Equal(t, count(t, cache, nil), 1)
	assert.Equal(t, len(cache.Pending()), 1)

	assert.Equal(t, cache.NewBlock(ctx, 6), 0)
	assert.Equal(t, count(t, conn, nil), 0)

	flushed := testutil.ToFloat64(blockcache.FlushedOpsTotal)
	assert.Equal(t, cache.NewBlock(ctx, 7), 1)
	assert.Equal(t, count(t, conn, nil), 1)
	assert.Equal(t, len(cache.Pending()), 0)
	assert.Equal(t, testutil.ToFloat64(blockcache.FlushedOpsTotal), flushed+1)

	t.Run("confirmed writes go straight through", func(t *testing.T) {
		_, err := cache.Create(ctx, block5, "counters", builder.Row{"id": 2, "counter": 2})
		assert.NilError(t, err)
		assert.Equal(t, count(t, conn, nil), 2)
		assert.Equal(t, len(cache.Pending()), 0)
	})
}

func TestClearChangesForBlockHash(t *testing.T) {
	ctx := context.Background()
	cache, conn := newCache(t, 2)

	_, err := cache.Create(ctx, orphan5, "counters", builder.Row{"id": 1, "counter": 1})
	assert.NilError(t, err)
	_, err = cache.Create(ctx, block6, "counters", builder.Row{"id": 2, "counter": 2})
	assert.NilError(t, err)

	assert.Equal(t, cache.ClearChangesForBlockHash(orphan5.Hash), 1)
	assert.Equal(t, cache.ClearChangesForBlockHash(orphan5.Hash), 0)
	assert.Equal(t, count(t, cache, nil), 1)

	assert.Equal(t, cache.NewBlock(ctx, 10), 1)
	rows, err := conn.FindMany(ctx, "counters", store.FindArgs{})
	assert.NilError(t, err)
	assert.Equal(t, len(rows), 1)
	assert.Equal(t, rows[0]["id"], int64(2))
}

func TestMergedReads(t *testing.T) {
	ctx := context.Background()
	cache, conn := newCache(t, 2)
	storetest.SeedCounters(t, conn, 10)

	n, err := cache.Update(ctx, block5, "counters", store.UpdateArgs{
		Where:  query.Where{"id": 1},
		Update: builder.Row{"counter": 100},
	})
	assert.NilError(t, err)
	assert.Equal(t, n, 1)

	n, err = cache.Delete(ctx, block5, "counters", store.DeleteArgs{Where: query.Where{"id": 2}})
	assert.NilError(t, err)
	assert.Equal(t, n, 1)

	_, err = cache.Create(ctx, block6, "counters", builder.Row{"id": 20, "counter": 20})
	assert.NilError(t, err)

	t.Run("pending update wins", func(t *testing.T) {
		rows, err := cache.FindMany(ctx, "counters", store.FindArgs{Where: query.Where{"counter": map[string]any{"gte": 100}}})
		assert.NilError(t, err)
		assert.Equal(t, len(rows), 1)
		assert.Equal(t, rows[0]["id"], int64(1))

		row, err := cache.FindOne(ctx, "counters", store.FindArgs{Where: query.Where{"counter": 1}})
		assert.NilError(t, err)
		assert.Assert(t, row == nil)

		assert.Equal(t, count(t, conn, query.Where{"counter": 100}), 0)
	})

	t.Run("pending delete hides the row", func(t *testing.T) {
		assert.Equal(t, count(t, cache, query.Where{"id": 2}), 0)
		assert.Equal(t, count(t, cache, nil), 10)
	})

	t.Run("order and limit", func(t *testing.T) {
		rows, err := cache.FindMany(ctx, "counters", store.FindArgs{
			OrderBy: query.OrderBy{{Field: "counter", Desc: true}},
			Limit:   3,
		})
		assert.NilError(t, err)
		got := []any{}
		for _, row := range rows {
			got = append(got, row["id"])
		}
		assert.DeepEqual(t, got, []any{int64(1), int64(20), int64(9)})
	})

	t.Run("flush lands everything", func(t *testing.T) {
		assert.Equal(t, cache.NewBlock(ctx, 8), 3)
		assert.Equal(t, count(t, conn, nil), 10)
		assert.Equal(t, count(t, conn, query.Where{"counter": 100}), 1)
	})
}

func TestStagingValidates(t *testing.T) {
	ctx := context.Background()
	cache, conn := newCache(t, 2)
	storetest.SeedCounters(t, conn, 2)

	_, err := cache.Create(ctx, block5, "counters", builder.Row{"id": 1, "counter": 5})
	assert.Assert(t, errors.Is(err, types.ErrDuplicateKey))

	_, err = cache.Create(ctx, block5, "counters", builder.Row{"id": 3})
	assert.Assert(t, errors.Is(err, types.ErrMissingRequiredField))

	_, err = cache.Update(ctx, block5, "counters", store.UpdateArgs{Where: query.Where{"counter": map[string]any{"like": 1}}})
	assert.Assert(t, errors.Is(err, types.ErrInvalidOperator))

	assert.Equal(t, len(cache.Pending()), 0)
}

func TestFlushFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	cache, conn := newCache(t, 1)

	_, err := cache.Create(ctx, block5, "counters", builder.Row{"id": 1, "counter": 1})
	assert.NilError(t, err)
	_, err = cache.Create(ctx, block5, "counters", builder.Row{"id": 2, "counter": 2})
	assert.NilError(t, err)

	// someone else takes the key before the block confirms
	_, err = conn.Create(ctx, "counters", builder.Row{"id": 1, "counter": 50})
	assert.NilError(t, err)

	failures := testutil.ToFloat64(blockcache.FlushFailuresTotal)
	assert.Equal(t, cache.NewBlock(ctx, 6), 0)
	assert.Equal(t, testutil.ToFloat64(blockcache.FlushFailuresTotal), failures+1)
	assert.Equal(t, len(cache.Pending()), 2)
	assert.Equal(t, count(t, conn, nil), 1)

	_, err = conn.Delete(ctx, "counters", store.DeleteArgs{Where: query.Where{"id": 1}})
	assert.NilError(t, err)
	assert.Equal(t, cache.NewBlock(ctx, 7), 2)
	assert.Equal(t, count(t, conn, nil), 2)
	assert.Equal(t, len(cache.Pending()), 0)
}

func TestConfirmedWritesQueueBehindFailedFlush(t *testing.T) {
	ctx := context.Background()
	cache, conn := newCache(t, 1)

	_, err := cache.Create(ctx, block5, "counters", builder.Row{"id": 1, "counter": 1})
	assert.NilError(t, err)
	_, err = conn.Create(ctx, "counters", builder.Row{"id": 1, "counter": 50})
	assert.NilError(t, err)
	assert.Equal(t, cache.NewBlock(ctx, 6), 0)

	// block 5 is confirmed, but the failed create on counters is still queued
	n, err := cache.Update(ctx, block5, "counters", store.UpdateArgs{
		Where:  query.Where{"id": 1},
		Update: builder.Row{"counter": 7},
	})
	assert.NilError(t, err)
	assert.Equal(t, n, 1)
	assert.Equal(t, len(cache.Pending()), 2)
	assert.Equal(t, count(t, conn, query.Where{"counter": 50}), 1)

	// other collections are not held back
	_, err = cache.Create(ctx, block5, "headers", builder.Row{"hash": "h1", "number": 1})
	assert.NilError(t, err)
	n, _ = conn.Count(ctx, "headers", nil)
	assert.Equal(t, n, 1)

	_, err = conn.Delete(ctx, "counters", store.DeleteArgs{Where: query.Where{"id": 1}})
	assert.NilError(t, err)
	assert.Equal(t, cache.NewBlock(ctx, 7), 2)
	row, err := conn.FindOne(ctx, "counters", store.FindArgs{Where: query.Where{"id": 1}})
	assert.NilError(t, err)
	assert.Equal(t, row["counter"], int64(7))
}

func TestTransaction(t *testing.T) {
	ctx := context.Background()
	cache, conn := newCache(t, 2)

	calls := []string{}
	err := cache.Transaction(ctx, block5, func(tx *store.Tx) error {
		tx.OnCommit(func() { calls = append(calls, "commit") })
		if err := tx.Create("counters", builder.Row{"id": 1, "counter": 1}); err != nil {
			return err
		}
		return tx.Create("headers", builder.Row{"hash": "h1", "number": 1})
	})
	assert.NilError(t, err)
	assert.DeepEqual(t, calls, []string{"commit"})
	assert.Equal(t, len(cache.Pending()), 1)
	assert.Equal(t, len(cache.Pending()[0].Ops), 2)

	err = cache.Transaction(ctx, block5, func(tx *store.Tx) error {
		return tx.Create("counters", builder.Row{"id": 1, "counter": 1})
	})
	assert.Assert(t, errors.Is(err, types.ErrDuplicateKey))
	assert.Equal(t, len(cache.Pending()), 1)

	assert.Equal(t, cache.NewBlock(ctx, 7), 1)
	assert.Equal(t, count(t, conn, nil), 1)
	n, _ := conn.Count(ctx, "headers", nil)
	assert.Equal(t, n, 1)
}

func TestRelationsThroughView(t *testing.T) {
	ctx := context.Background()
	cache, conn := newCache(t, 2)
	_, err := conn.Create(ctx, "headers", builder.Row{"hash": "h1", "number": 1})
	assert.NilError(t, err)

	_, err = cache.CreateMany(ctx, block5, "headers", []builder.Row{
		{"hash": "h2", "number": 2, "parentHash": "h1"},
		{"hash": "h3", "number": 3, "parentHash": "h2"},
	})
	assert.NilError(t, err)

	row, err := cache.FindOne(ctx, "headers", store.FindArgs{
		Where:   query.Where{"hash": "h3"},
		Include: query.Include{"parent": {"parent": nil}},
	})
	assert.NilError(t, err)
	parent := row["parent"].(builder.Row)
	assert.Equal(t, parent["hash"], "h2")
	assert.Equal(t, parent["parent"].(builder.Row)["hash"], "h1")
}
