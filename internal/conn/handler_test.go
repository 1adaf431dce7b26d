package conn_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/tobsdb/chainstore/internal/builder"
	. "github.com/tobsdb/chainstore/internal/conn"
	"github.com/tobsdb/chainstore/internal/query"
	"github.com/tobsdb/chainstore/internal/store"
	"github.com/tobsdb/chainstore/internal/store/memory"
	"github.com/tobsdb/chainstore/internal/store/storetest"
	"gotest.tools/assert"
)

func reqEncode(req map[string]any) []byte {
	v, _ := json.Marshal(req)
	return v
}

func newTestServer(t *testing.T) *Server {
	schema, err := builder.NewSchemaFromString(storetest.Schema)
	assert.NilError(t, err)
	return NewServer(memory.New(schema), 2, nil)
}

func newPopulatedTestServer(t *testing.T, n int) *Server {
	s := newTestServer(t)
	storetest.SeedCounters(t, s.Conn, n)
	return s
}

func TestCreateReqHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("table not found", func(t *testing.T) {
		s := newTestServer(t)
		res := CreateReqHandler(ctx, s, reqEncode(map[string]any{"table": "b", "data": map[string]any{"a": 1}}))
		assert.Equal(t, res.Status, http.StatusNotFound, res.Message)
	})

	t.Run("simple create", func(t *testing.T) {
		s := newTestServer(t)
		res := CreateReqHandler(ctx, s, reqEncode(map[string]any{"table": "counters", "data": map[string]any{"id": 1, "counter": 1}}))
		assert.Equal(t, res.Status, http.StatusCreated, res.Message)
		assert.Equal(t, res.Message, "Created new row in table counters")
		assert.Equal(t, res.Data.(builder.Row)["id"], int64(1))
	})

	t.Run("duplicate error", func(t *testing.T) {
		s := newTestServer(t)
		raw := reqEncode(map[string]any{"table": "counters", "data": map[string]any{"id": 1, "counter": 1}})
		CreateReqHandler(ctx, s, raw)
		res := CreateReqHandler(ctx, s, raw)
		assert.Equal(t, res.Status, http.StatusConflict, res.Message)
	})

	t.Run("type mismatch", func(t *testing.T) {
		s := newTestServer(t)
		res := CreateReqHandler(ctx, s, reqEncode(map[string]any{"table": "counters", "data": map[string]any{"id": "x", "counter": 1}}))
		assert.Equal(t, res.Status, http.StatusBadRequest, res.Message)
	})

	t.Run("pending block", func(t *testing.T) {
		s := newTestServer(t)
		res := CreateReqHandler(ctx, s, reqEncode(map[string]any{
			"table": "counters",
			"data":  map[string]any{"id": 1, "counter": 1},
			"block": map[string]any{"number": 5, "hash": "0x05"},
		}))
		assert.Equal(t, res.Status, http.StatusCreated, res.Message)

		n, err := s.Conn.Count(ctx, "counters", nil)
		assert.NilError(t, err)
		assert.Equal(t, n, 0)

		res = CountReqHandler(ctx, s, reqEncode(map[string]any{"table": "counters"}))
		assert.Equal(t, res.Data, 1)

		res = NewBlockReqHandler(ctx, s, reqEncode(map[string]any{"block": map[string]any{"number": 7}}))
		assert.Equal(t, res.Data, 1)
		n, _ = s.Conn.Count(ctx, "counters", nil)
		assert.Equal(t, n, 1)
	})
}

func TestFindReqHandler(t *testing.T) {
	ctx := context.Background()
	s := newPopulatedTestServer(t, 10)

	t.Run("simple find", func(t *testing.T) {
		res := FindReqHandler(ctx, s, reqEncode(map[string]any{"table": "counters", "where": map[string]any{"id": 5}}))
		assert.Equal(t, res.Status, http.StatusOK, res.Message)
		assert.Equal(t, res.Data.(builder.Row)["counter"], int64(5))
	})

	t.Run("not found", func(t *testing.T) {
		res := FindReqHandler(ctx, s, reqEncode(map[string]any{"table": "counters", "where": map[string]any{"id": 100}}))
		assert.Equal(t, res.Status, http.StatusNotFound, res.Message)
	})

	t.Run("find many", func(t *testing.T) {
		res := FindManyReqHandler(ctx, s, reqEncode(map[string]any{
			"table":    "counters",
			"where":    map[string]any{"counter": map[string]any{"gt": 5}},
			"order_by": map[string]any{"counter": "desc"},
			"limit":    2,
		}))
		assert.Equal(t, res.Status, http.StatusOK, res.Message)
		rows := res.Data.([]builder.Row)
		assert.Equal(t, len(rows), 2)
		assert.Equal(t, rows[0]["id"], int64(9))
	})

	t.Run("invalid operator", func(t *testing.T) {
		res := FindManyReqHandler(ctx, s, reqEncode(map[string]any{
			"table": "counters",
			"where": map[string]any{"counter": map[string]any{"like": 5}},
		}))
		assert.Equal(t, res.Status, http.StatusBadRequest, res.Message)
	})
}

func TestUpdateAndDeleteReqHandlers(t *testing.T) {
	ctx := context.Background()
	s := newPopulatedTestServer(t, 5)

	res := UpdateReqHandler(ctx, s, reqEncode(map[string]any{
		"table":  "counters",
		"where":  map[string]any{"counter": map[string]any{"lt": 2}},
		"update": map[string]any{"label": "low"},
	}))
	assert.Equal(t, res.Status, http.StatusOK, res.Message)
	assert.Equal(t, res.Data, 2)

	res = UpsertReqHandler(ctx, s, reqEncode(map[string]any{
		"table":  "counters",
		"where":  map[string]any{"id": 40},
		"update": map[string]any{"counter": 41},
		"create": map[string]any{"id": 40, "counter": 40},
	}))
	assert.Equal(t, res.Status, http.StatusCreated, res.Message)

	res = DeleteOneReqHandler(ctx, s, reqEncode(map[string]any{
		"table":    "counters",
		"order_by": map[string]any{"counter": "desc"},
	}))
	assert.Equal(t, res.Status, http.StatusOK, res.Message)
	assert.Equal(t, res.Data, 1)

	row, err := s.Conn.FindOne(ctx, "counters", store.FindArgs{Where: query.Where{"id": 40}})
	assert.NilError(t, err)
	assert.Assert(t, row == nil)

	res = DeleteReqHandler(ctx, s, reqEncode(map[string]any{"table": "counters", "where": map[string]any{"label": "low"}}))
	assert.Equal(t, res.Data, 2)
}

func TestTransactionReqHandlers(t *testing.T) {
	ctx := context.Background()

	t.Run("atomic", func(t *testing.T) {
		s := newPopulatedTestServer(t, 2)
		res := TransactionReqHandler(ctx, s, reqEncode(map[string]any{"ops": []map[string]any{
			{"kind": "create", "table": "counters", "data": map[string]any{"id": 10, "counter": 10}},
			{"kind": "create", "table": "counters", "data": map[string]any{"id": 1, "counter": 1}},
		}}))
		assert.Equal(t, res.Status, http.StatusConflict, res.Message)
		n, _ := s.Conn.Count(ctx, "counters", nil)
		assert.Equal(t, n, 2)
	})

	t.Run("cached", func(t *testing.T) {
		s := newPopulatedTestServer(t, 2)
		res := CachedTransactionReqHandler(ctx, s, reqEncode(map[string]any{"ops": []map[string]any{
			{"kind": "update", "table": "counters", "where": map[string]any{"id": 0}, "update": map[string]any{"counter": 50}},
		}}))
		assert.Equal(t, res.Status, http.StatusCreated, res.Message)
		id := res.Data.(string)

		row, _ := s.Conn.FindOne(ctx, "counters", store.FindArgs{Where: query.Where{"id": 0}})
		assert.Equal(t, row["counter"], int64(0))

		res = CommitTransactionReqHandler(ctx, s, reqEncode(map[string]any{"id": id}))
		assert.Equal(t, res.Status, http.StatusOK, res.Message)
		row, _ = s.Conn.FindOne(ctx, "counters", store.FindArgs{Where: query.Where{"id": 0}})
		assert.Equal(t, row["counter"], int64(50))

		res = RollbackTransactionReqHandler(s, reqEncode(map[string]any{"id": id}))
		assert.Equal(t, res.Status, http.StatusNotFound, res.Message)

		res = CommitTransactionReqHandler(ctx, s, reqEncode(map[string]any{"id": "nope"}))
		assert.Equal(t, res.Status, http.StatusBadRequest, res.Message)
	})
}

func TestSchemaReqHandlers(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)

	res := CreateTablesReqHandler(ctx, s, reqEncode(map[string]any{"data": []any{
		map[string]any{"name": "logs", "primaryKey": "id", "rows": []any{[]any{"id", "Int"}, []any{"topic", "String"}}},
	}}))
	assert.Equal(t, res.Status, http.StatusCreated, res.Message)

	res = CreateReqHandler(ctx, s, reqEncode(map[string]any{"table": "logs", "data": map[string]any{"id": 1, "topic": "t"}}))
	assert.Equal(t, res.Status, http.StatusCreated, res.Message)

	res = EnsureIndexReqHandler(ctx, s, reqEncode(map[string]any{"table": "logs", "name": "logs_topic", "keys": []string{"topic"}}))
	assert.Equal(t, res.Status, http.StatusCreated, res.Message)

	res = EnsureIndexReqHandler(ctx, s, reqEncode(map[string]any{"table": "logs", "name": "bad", "keys": []string{"nope"}}))
	assert.Assert(t, res.Status >= 400, res.Message)
}
