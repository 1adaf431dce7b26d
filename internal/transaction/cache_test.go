package transaction_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/tobsdb/chainstore/internal/builder"
	"github.com/tobsdb/chainstore/internal/query"
	"github.com/tobsdb/chainstore/internal/store"
	"github.com/tobsdb/chainstore/internal/store/memory"
	"github.com/tobsdb/chainstore/internal/store/storetest"
	"github.com/tobsdb/chainstore/internal/transaction"
	"github.com/tobsdb/chainstore/internal/types"
	"gotest.tools/assert"
)

const notesSchema = `[
  {"name": "notes", "primaryKey": ["nullifier", "index"], "rows": [
    ["nullifier", "String"],
    ["index", "Int"],
    ["value", "Int"]
  ]}
]`

func newCache(t *testing.T, decl string) (*transaction.Cache, store.Connector) {
	schema, err := builder.NewSchemaFromString(decl)
	assert.NilError(t, err)
	conn := memory.New(schema)
	return transaction.New(conn), conn
}

func counterIds(t *testing.T, f store.Finder, where query.Where) []int64 {
	rows, err := f.FindMany(context.Background(), "counters", store.FindArgs{Where: where})
	assert.NilError(t, err)
	res := []int64{}
	for _, row := range rows {
		res = append(res, row["id"].(int64))
	}
	return res
}

func TestCachedTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("stages without touching the store", func(t *testing.T) {
		cache, conn := newCache(t, storetest.Schema)
		storetest.SeedCounters(t, conn, 3)

		id, err := cache.CachedTransaction(ctx, func(tx *transaction.CachedTx) error {
			if _, err := tx.Create(ctx, "counters", builder.Row{"id": 10, "counter": 10}); err != nil {
				return err
			}
			n, err := tx.Update(ctx, "counters", store.UpdateArgs{Where: query.Where{"id": 1}, Update: builder.Row{"counter": 100}})
			if err != nil {
				return err
			}
			assert.Equal(t, n, 1)
			n, err = tx.Delete(ctx, "counters", store.DeleteArgs{Where: query.Where{"id": 2}})
			assert.Equal(t, n, 1)
			return err
		})
		assert.NilError(t, err)
		assert.Assert(t, id != uuid.Nil)
		assert.DeepEqual(t, cache.Transactions()[1:], []uuid.UUID{id})

		assert.DeepEqual(t, counterIds(t, conn, nil), []int64{0, 1, 2})
		assert.DeepEqual(t, counterIds(t, cache, nil), []int64{0, 1, 10})
		assert.DeepEqual(t, counterIds(t, cache, query.Where{"counter": map[string]any{"gte": 10}}), []int64{1, 10})

		n, err := cache.Count(ctx, "counters", nil)
		assert.NilError(t, err)
		assert.Equal(t, n, 3)

		t.Run("commit", func(t *testing.T) {
			assert.NilError(t, cache.CommitTransaction(ctx, id))
			assert.DeepEqual(t, counterIds(t, conn, nil), []int64{0, 1, 10})
			row, _ := conn.FindOne(ctx, "counters", store.FindArgs{Where: query.Where{"id": 1}})
			assert.Equal(t, row["counter"], int64(100))
			assert.Equal(t, len(cache.Transactions()), 1)
			assert.Assert(t, cache.Transactions()[0] != id)
		})

		t.Run("unknown id", func(t *testing.T) {
			err := cache.CommitTransaction(ctx, id)
			assert.Assert(t, errors.Is(err, transaction.ErrUnknownTransaction))
		})
	})

	t.Run("failure drops the frame", func(t *testing.T) {
		cache, conn := newCache(t, storetest.Schema)
		storetest.SeedCounters(t, conn, 1)
		before := cache.Transactions()

		boom := errors.New("boom")
		id, err := cache.CachedTransaction(ctx, func(tx *transaction.CachedTx) error {
			if _, err := tx.Create(ctx, "counters", builder.Row{"id": 5, "counter": 5}); err != nil {
				return err
			}
			return boom
		})
		assert.Equal(t, err, boom)
		assert.Equal(t, id, uuid.Nil)
		assert.DeepEqual(t, cache.Transactions(), before)
		assert.DeepEqual(t, counterIds(t, cache, nil), []int64{0})
	})

	t.Run("create collisions", func(t *testing.T) {
		cache, conn := newCache(t, storetest.Schema)
		storetest.SeedCounters(t, conn, 2)

		// against the store
		_, err := cache.CachedTransaction(ctx, func(tx *transaction.CachedTx) error {
			_, err := tx.Create(ctx, "counters", builder.Row{"id": 1, "counter": 1})
			return err
		})
		assert.Assert(t, errors.Is(err, types.ErrDuplicateKey))

		// against the snapshot
		_, err = cache.CachedTransaction(ctx, func(tx *transaction.CachedTx) error {
			if _, err := tx.Create(ctx, "counters", builder.Row{"id": 7, "counter": 7}); err != nil {
				return err
			}
			_, err := tx.Create(ctx, "counters", builder.Row{"id": 7, "counter": 8})
			return err
		})
		assert.Assert(t, errors.Is(err, types.ErrDuplicateKey))

		// a key deleted in the snapshot is available again
		id, err := cache.CachedTransaction(ctx, func(tx *transaction.CachedTx) error {
			if _, err := tx.Delete(ctx, "counters", store.DeleteArgs{Where: query.Where{"id": 1}}); err != nil {
				return err
			}
			_, err := tx.Create(ctx, "counters", builder.Row{"id": 1, "counter": 42})
			return err
		})
		assert.NilError(t, err)
		assert.NilError(t, cache.CommitTransaction(ctx, id))

		row, _ := conn.FindOne(ctx, "counters", store.FindArgs{Where: query.Where{"id": 1}})
		assert.Equal(t, row["counter"], int64(42))
	})

	t.Run("deleted rows never come back from the store", func(t *testing.T) {
		cache, conn := newCache(t, notesSchema)
		_, err := conn.CreateMany(ctx, "notes", []builder.Row{
			{"nullifier": "a", "index": 0, "value": 1},
			{"nullifier": "a", "index": 1, "value": 2},
			{"nullifier": "b", "index": 0, "value": 3},
		})
		assert.NilError(t, err)

		_, err = cache.CachedTransaction(ctx, func(tx *transaction.CachedTx) error {
			_, err := tx.Delete(ctx, "notes", store.DeleteArgs{Where: query.Where{"nullifier": "a", "index": 0}})
			return err
		})
		assert.NilError(t, err)

		rows, err := cache.FindMany(ctx, "notes", store.FindArgs{})
		assert.NilError(t, err)
		assert.Equal(t, len(rows), 2)
		for _, row := range rows {
			assert.Assert(t, !(row["nullifier"] == "a" && row["index"] == int64(0)))
		}
		n, _ := cache.Count(ctx, "notes", query.Where{"nullifier": "a"})
		assert.Equal(t, n, 1)
	})

	t.Run("stacked frames", func(t *testing.T) {
		cache, conn := newCache(t, storetest.Schema)

		first, err := cache.CachedTransaction(ctx, func(tx *transaction.CachedTx) error {
			_, err := tx.Create(ctx, "counters", builder.Row{"id": 1, "counter": 1})
			return err
		})
		assert.NilError(t, err)
		second, err := cache.CachedTransaction(ctx, func(tx *transaction.CachedTx) error {
			// sees the first frame
			row, err := tx.FindOne(ctx, "counters", store.FindArgs{Where: query.Where{"id": 1}})
			assert.NilError(t, err)
			assert.Assert(t, row != nil)
			res, err := tx.Upsert(ctx, "counters", store.UpsertArgs{
				Where:  query.Where{"id": 2},
				Create: builder.Row{"id": 2, "counter": 2},
			})
			assert.Assert(t, res != nil && res.Created != nil)
			return err
		})
		assert.NilError(t, err)
		assert.Equal(t, len(cache.Transactions()), 3)

		assert.NilError(t, cache.CommitTransaction(ctx, first))
		assert.DeepEqual(t, counterIds(t, conn, nil), []int64{1})
		assert.DeepEqual(t, cache.Transactions(), []uuid.UUID{second})

		assert.NilError(t, cache.RollbackTransaction(second))
		assert.DeepEqual(t, counterIds(t, cache, nil), []int64{1})
		assert.Equal(t, len(cache.Transactions()), 1)
	})
}
