// Package storetest holds the behavior every store.Connector must share.
// Backends run it from their own tests with a constructor.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/tobsdb/chainstore/internal/builder"
	"github.com/tobsdb/chainstore/internal/query"
	"github.com/tobsdb/chainstore/internal/store"
	"github.com/tobsdb/chainstore/internal/types"
	"gotest.tools/assert"
)

const Schema = `[
  {"name": "counters", "primaryKey": "id", "rows": [
    ["id", "Int"],
    ["counter", "Int", ["index"]],
    ["label", "String", {"optional": true}],
    ["flag", "Bool", {"default": false}],
    {"name": "meta", "type": "Object", "optional": true},
    ["token", "String", ["default(uuid())", "unique"]]
  ]},
  {"name": "slots", "primaryKey": "id", "rows": [
    ["id", "String", ["default(uuid())"]],
    ["slot", "Int", {"default": 7, "unique": true}]
  ]},
  {"name": "headers", "primaryKey": "hash", "rows": [
    ["hash", "String"],
    ["number", "Int", ["unique"]],
    ["parentHash", "String", {"optional": true}],
    ["parent", "String", ["relation(parentHash, headers.hash)"]]
  ]}
]`

// Opener returns a fresh, empty connector with every table of schema created.
type Opener func(t *testing.T, schema *builder.Schema) store.Connector

func open(t *testing.T, opener Opener) store.Connector {
	schema, err := builder.NewSchemaFromString(Schema)
	assert.NilError(t, err)
	conn := opener(t, schema)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// SeedCounters creates n counters with id and counter set to 0..n-1.
func SeedCounters(t *testing.T, conn store.Connector, n int) {
	docs := make([]builder.Row, n)
	for i := range docs {
		docs[i] = builder.Row{"id": i, "counter": i}
	}
	_, err := conn.CreateMany(context.Background(), "counters", docs)
	assert.NilError(t, err)
}

func ids(rows []builder.Row) []int64 {
	res := make([]int64, len(rows))
	for i, row := range rows {
		res[i] = row["id"].(int64)
	}
	return res
}

// Run exercises opener's connectors against the shared connector behavior.
func Run(t *testing.T, opener Opener) {
	ctx := context.Background()

	t.Run("operator scenarios", func(t *testing.T) {
		conn := open(t, opener)
		SeedCounters(t, conn, 10)

		for _, tc := range []struct {
			name  string
			where query.Where
			want  int
		}{
			{"lt", query.Where{"counter": map[string]any{"lt": 3}}, 3},
			{"gte", query.Where{"counter": map[string]any{"gte": 3}}, 7},
			{"ne", query.Where{"counter": map[string]any{"ne": 3}}, 9},
			{"or does not bypass and", query.Where{
				"OR":      []any{map[string]any{"counter": 0}, map[string]any{"counter": 1}},
				"counter": map[string]any{"gt": 5},
			}, 0},
			{"nested", query.Where{"AND": []any{
				map[string]any{"OR": []any{
					map[string]any{"counter": map[string]any{"lt": 4}},
					map[string]any{"counter": map[string]any{"gt": 6}},
				}},
				map[string]any{"counter": []any{1, 5, 8}},
			}}, 2},
		} {
			t.Run(tc.name, func(t *testing.T) {
				rows, err := conn.FindMany(ctx, "counters", store.FindArgs{Where: tc.where})
				assert.NilError(t, err)
				assert.Equal(t, len(rows), tc.want)

				n, err := conn.Count(ctx, "counters", tc.where)
				assert.NilError(t, err)
				assert.Equal(t, n, tc.want)
			})
		}

		rows, _ := conn.FindMany(ctx, "counters", store.FindArgs{Where: query.Where{"AND": []any{
			map[string]any{"OR": []any{
				map[string]any{"counter": map[string]any{"lt": 4}},
				map[string]any{"counter": map[string]any{"gt": 6}},
			}},
			map[string]any{"counter": []any{1, 5, 8}},
		}}})
		assert.DeepEqual(t, ids(rows), []int64{1, 8})
	})

	t.Run("null semantics", func(t *testing.T) {
		conn := open(t, opener)
		_, err := conn.CreateMany(ctx, "counters", []builder.Row{
			{"id": 1, "counter": 1, "label": "a"},
			{"id": 2, "counter": 2},
			{"id": 3, "counter": 3, "label": "b"},
		})
		assert.NilError(t, err)

		for _, tc := range []struct {
			name  string
			where query.Where
			want  []int64
		}{
			{"nil literal", query.Where{"label": nil}, []int64{2}},
			{"eq nil", query.Where{"label": map[string]any{"eq": nil}}, []int64{2}},
			{"ne nil", query.Where{"label": map[string]any{"ne": nil}}, []int64{1, 3}},
			{"ne includes missing", query.Where{"label": map[string]any{"ne": "a"}}, []int64{2, 3}},
			{"list with nil", query.Where{"label": []any{"a", nil}}, []int64{1, 2}},
			{"nin keeps missing", query.Where{"label": map[string]any{"nin": []any{"a"}}}, []int64{2, 3}},
			{"nin with nil", query.Where{"label": map[string]any{"nin": []any{"a", nil}}}, []int64{3}},
			{"gt skips missing", query.Where{"label": map[string]any{"gt": ""}}, []int64{1, 3}},
			{"empty list", query.Where{"label": []any{}}, []int64{}},
		} {
			t.Run(tc.name, func(t *testing.T) {
				rows, err := conn.FindMany(ctx, "counters", store.FindArgs{Where: tc.where})
				assert.NilError(t, err)
				assert.DeepEqual(t, ids(rows), tc.want)
			})
		}
	})

	t.Run("create", func(t *testing.T) {
		t.Run("defaults", func(t *testing.T) {
			conn := open(t, opener)
			a, err := conn.Create(ctx, "counters", builder.Row{"id": 1, "counter": 1})
			assert.NilError(t, err)
			b, err := conn.Create(ctx, "counters", builder.Row{"id": 2, "counter": 1})
			assert.NilError(t, err)

			assert.Equal(t, a["flag"], false)
			assert.Assert(t, a["token"] != nil)
			assert.Assert(t, a["token"] != b["token"])
			_, has_label := a["label"]
			assert.Assert(t, !has_label)

			found, err := conn.FindOne(ctx, "counters", store.FindArgs{Where: query.Where{"id": 1}})
			assert.NilError(t, err)
			assert.DeepEqual(t, found, a)
		})

		t.Run("deterministic unique default", func(t *testing.T) {
			conn := open(t, opener)
			row, err := conn.Create(ctx, "slots", builder.Row{})
			assert.NilError(t, err)
			assert.Equal(t, row["slot"], int64(7))

			_, err = conn.Create(ctx, "slots", builder.Row{})
			assert.Assert(t, errors.Is(err, types.ErrDuplicateKey))
		})

		t.Run("type enforcement", func(t *testing.T) {
			conn := open(t, opener)
			for _, tc := range []struct {
				doc builder.Row
				msg string
			}{
				{builder.Row{"id": 1, "counter": 1, "flag": 0}, "Invalid field type for flag: expected Bool"},
				{builder.Row{"id": 1, "counter": "1"}, "Invalid field type for counter: expected Int"},
				{builder.Row{"id": 1, "counter": float64(1 << 63)}, "Invalid field type for counter: expected Int"},
				{builder.Row{"id": 1, "counter": 1, "label": 5}, "Invalid field type for label: expected String"},
				{builder.Row{"id": 1, "counter": 1, "meta": make(chan int)}, "Invalid field type for meta: expected Object"},
			} {
				_, err := conn.Create(ctx, "counters", tc.doc)
				assert.Assert(t, errors.Is(err, types.ErrTypeMismatch))
				assert.ErrorContains(t, err, tc.msg)
			}
			n, err := conn.Count(ctx, "counters", nil)
			assert.NilError(t, err)
			assert.Equal(t, n, 0)
		})

		t.Run("missing required", func(t *testing.T) {
			conn := open(t, opener)
			_, err := conn.Create(ctx, "counters", builder.Row{"id": 1})
			assert.Assert(t, errors.Is(err, types.ErrMissingRequiredField))
		})

		t.Run("unknown", func(t *testing.T) {
			conn := open(t, opener)
			_, err := conn.Create(ctx, "proposals", builder.Row{"id": 1})
			assert.Assert(t, errors.Is(err, types.ErrUnknownCollection))
			_, err = conn.Create(ctx, "counters", builder.Row{"id": 1, "counter": 1, "size": 2})
			assert.Assert(t, errors.Is(err, types.ErrUnknownRow))
		})

		t.Run("duplicate primary key", func(t *testing.T) {
			conn := open(t, opener)
			SeedCounters(t, conn, 2)
			_, err := conn.Create(ctx, "counters", builder.Row{"id": 1, "counter": 5})
			assert.Assert(t, errors.Is(err, types.ErrDuplicateKey))
		})

		t.Run("object round trip", func(t *testing.T) {
			conn := open(t, opener)
			meta := map[string]any{"tags": []any{"a", "b"}, "weight": 1.5, "nested": map[string]any{"ok": true}}
			_, err := conn.Create(ctx, "counters", builder.Row{"id": 1, "counter": 1, "meta": meta})
			assert.NilError(t, err)

			row, err := conn.FindOne(ctx, "counters", store.FindArgs{Where: query.Where{"meta": meta}})
			assert.NilError(t, err)
			assert.DeepEqual(t, row["meta"], meta)
		})

		t.Run("nul bytes", func(t *testing.T) {
			conn := open(t, opener)
			_, err := conn.Create(ctx, "counters", builder.Row{"id": 1, "counter": 1, "label": "a\x00b"})
			assert.NilError(t, err)
			_, err = conn.Create(ctx, "counters", builder.Row{"id": 2, "counter": 2, "label": "a"})
			assert.NilError(t, err)

			rows, err := conn.FindMany(ctx, "counters", store.FindArgs{Where: query.Where{"label": "a\x00b"}})
			assert.NilError(t, err)
			assert.DeepEqual(t, ids(rows), []int64{1})
			assert.Equal(t, rows[0]["label"], "a\x00b")

			n, err := conn.Count(ctx, "counters", query.Where{"label": map[string]any{"gt": "a"}})
			assert.NilError(t, err)
			assert.Equal(t, n, 1)
		})

		t.Run("create many is atomic", func(t *testing.T) {
			conn := open(t, opener)
			_, err := conn.CreateMany(ctx, "counters", []builder.Row{
				{"id": 1, "counter": 1},
				{"id": 2, "counter": 2},
				{"id": 1, "counter": 3},
			})
			assert.Assert(t, errors.Is(err, types.ErrDuplicateKey))
			n, _ := conn.Count(ctx, "counters", nil)
			assert.Equal(t, n, 0)
		})
	})

	t.Run("find", func(t *testing.T) {
		conn := open(t, opener)
		SeedCounters(t, conn, 10)

		t.Run("order and limit", func(t *testing.T) {
			rows, err := conn.FindMany(ctx, "counters", store.FindArgs{
				Where:   query.Where{"counter": map[string]any{"gte": 2}},
				OrderBy: query.OrderBy{{Field: "counter", Desc: true}},
				Limit:   3,
			})
			assert.NilError(t, err)
			assert.DeepEqual(t, ids(rows), []int64{9, 8, 7})
		})

		t.Run("find one", func(t *testing.T) {
			row, err := conn.FindOne(ctx, "counters", store.FindArgs{Where: query.Where{"counter": 4}})
			assert.NilError(t, err)
			assert.Equal(t, row["id"], int64(4))

			row, err = conn.FindOne(ctx, "counters", store.FindArgs{Where: query.Where{"counter": 40}})
			assert.NilError(t, err)
			assert.Assert(t, row == nil)
		})

		t.Run("count ignores limit", func(t *testing.T) {
			n, err := conn.Count(ctx, "counters", query.Where{})
			assert.NilError(t, err)
			assert.Equal(t, n, 10)
		})

		t.Run("objects order by their json", func(t *testing.T) {
			conn := open(t, opener)
			_, err := conn.CreateMany(ctx, "counters", []builder.Row{
				{"id": 1, "counter": 1, "meta": 9},
				{"id": 2, "counter": 2, "meta": 10},
				{"id": 3, "counter": 3, "meta": "s"},
				{"id": 4, "counter": 4},
			})
			assert.NilError(t, err)

			rows, err := conn.FindMany(ctx, "counters", store.FindArgs{OrderBy: query.OrderBy{{Field: "meta"}}})
			assert.NilError(t, err)
			assert.DeepEqual(t, ids(rows), []int64{4, 3, 2, 1})

			n, err := store.DeleteOne(ctx, conn, "counters", nil, query.OrderBy{{Field: "meta", Desc: true}})
			assert.NilError(t, err)
			assert.Equal(t, n, 1)
			row, err := conn.FindOne(ctx, "counters", store.FindArgs{Where: query.Where{"id": 1}})
			assert.NilError(t, err)
			assert.Assert(t, row == nil)
		})

		t.Run("invalid operator", func(t *testing.T) {
			_, err := conn.FindMany(ctx, "counters", store.FindArgs{Where: query.Where{"counter": map[string]any{"like": 3}}})
			assert.Assert(t, errors.Is(err, types.ErrInvalidOperator))
			_, err = conn.FindMany(ctx, "counters", store.FindArgs{Where: query.Where{"flag": map[string]any{"gt": true}}})
			assert.Assert(t, errors.Is(err, types.ErrInvalidOperator))
		})
	})

	t.Run("update", func(t *testing.T) {
		t.Run("no-op law", func(t *testing.T) {
			conn := open(t, opener)
			SeedCounters(t, conn, 5)
			before, _ := conn.FindMany(ctx, "counters", store.FindArgs{})

			n, err := conn.Update(ctx, "counters", store.UpdateArgs{Where: query.Where{}, Update: builder.Row{}})
			assert.NilError(t, err)
			assert.Equal(t, n, 0)

			after, _ := conn.FindMany(ctx, "counters", store.FindArgs{})
			assert.DeepEqual(t, after, before)
		})

		t.Run("sets and clears", func(t *testing.T) {
			conn := open(t, opener)
			_, err := conn.Create(ctx, "counters", builder.Row{"id": 1, "counter": 1, "label": "x"})
			assert.NilError(t, err)

			n, err := conn.Update(ctx, "counters", store.UpdateArgs{
				Where:  query.Where{"id": 1},
				Update: builder.Row{"label": nil, "flag": true},
			})
			assert.NilError(t, err)
			assert.Equal(t, n, 1)

			row, _ := conn.FindOne(ctx, "counters", store.FindArgs{Where: query.Where{"id": 1}})
			assert.Equal(t, row["flag"], true)
			_, has_label := row["label"]
			assert.Assert(t, !has_label)
		})

		t.Run("required field can't be cleared", func(t *testing.T) {
			conn := open(t, opener)
			SeedCounters(t, conn, 1)
			_, err := conn.Update(ctx, "counters", store.UpdateArgs{Update: builder.Row{"counter": nil}})
			assert.Assert(t, errors.Is(err, types.ErrMissingRequiredField))
		})

		t.Run("unique violation", func(t *testing.T) {
			conn := open(t, opener)
			_, err := conn.CreateMany(ctx, "headers", []builder.Row{{"hash": "a", "number": 1}, {"hash": "b", "number": 2}})
			assert.NilError(t, err)
			_, err = conn.Update(ctx, "headers", store.UpdateArgs{Where: query.Where{"hash": "b"}, Update: builder.Row{"number": 1}})
			assert.Assert(t, errors.Is(err, types.ErrDuplicateKey))
		})

		t.Run("primary key change", func(t *testing.T) {
			conn := open(t, opener)
			SeedCounters(t, conn, 2)
			n, err := conn.Update(ctx, "counters", store.UpdateArgs{Where: query.Where{"id": 1}, Update: builder.Row{"id": 5}})
			assert.NilError(t, err)
			assert.Equal(t, n, 1)

			rows, _ := conn.FindMany(ctx, "counters", store.FindArgs{})
			assert.DeepEqual(t, ids(rows), []int64{0, 5})
		})
	})

	t.Run("upsert exclusivity", func(t *testing.T) {
		conn := open(t, opener)

		res, err := conn.Upsert(ctx, "counters", store.UpsertArgs{
			Where:  query.Where{"id": 1},
			Update: builder.Row{"counter": 10},
			Create: builder.Row{"id": 1, "counter": 1},
		})
		assert.NilError(t, err)
		assert.Equal(t, res.Updated, 0)
		assert.Equal(t, res.Created["counter"], int64(1))

		res, err = conn.Upsert(ctx, "counters", store.UpsertArgs{
			Where:  query.Where{"id": 1},
			Update: builder.Row{"counter": 10},
			Create: builder.Row{"id": 1, "counter": 1},
		})
		assert.NilError(t, err)
		assert.Equal(t, res.Updated, 1)
		assert.Assert(t, res.Created == nil)

		rows, _ := conn.FindMany(ctx, "counters", store.FindArgs{})
		assert.Equal(t, len(rows), 1)
		assert.Equal(t, rows[0]["counter"], int64(10))

		res, err = conn.Upsert(ctx, "counters", store.UpsertArgs{
			Where:  query.Where{"id": 1},
			Update: builder.Row{},
			Create: builder.Row{"id": 1, "counter": 1},
		})
		assert.NilError(t, err)
		assert.Equal(t, res.Updated, 0)
		assert.Assert(t, res.Created == nil)
	})

	t.Run("delete", func(t *testing.T) {
		t.Run("where", func(t *testing.T) {
			conn := open(t, opener)
			SeedCounters(t, conn, 10)
			n, err := conn.Delete(ctx, "counters", store.DeleteArgs{Where: query.Where{"counter": map[string]any{"lt": 4}}})
			assert.NilError(t, err)
			assert.Equal(t, n, 4)
			n, _ = conn.Count(ctx, "counters", nil)
			assert.Equal(t, n, 6)
		})

		t.Run("order and limit", func(t *testing.T) {
			conn := open(t, opener)
			SeedCounters(t, conn, 10)
			n, err := conn.Delete(ctx, "counters", store.DeleteArgs{
				OrderBy: query.OrderBy{{Field: "counter", Desc: true}},
				Limit:   3,
			})
			assert.NilError(t, err)
			assert.Equal(t, n, 3)

			rows, _ := conn.FindMany(ctx, "counters", store.FindArgs{OrderBy: query.OrderBy{{Field: "counter", Desc: true}}, Limit: 1})
			assert.DeepEqual(t, ids(rows), []int64{6})
		})

		t.Run("delete one", func(t *testing.T) {
			conn := open(t, opener)
			SeedCounters(t, conn, 3)
			n, err := store.DeleteOne(ctx, conn, "counters", query.Where{"counter": map[string]any{"gte": 1}}, nil)
			assert.NilError(t, err)
			assert.Equal(t, n, 1)

			rows, _ := conn.FindMany(ctx, "counters", store.FindArgs{})
			assert.DeepEqual(t, ids(rows), []int64{0, 2})
		})
	})

	t.Run("transaction", func(t *testing.T) {
		t.Run("atomicity", func(t *testing.T) {
			conn := open(t, opener)
			calls := []string{}
			err := conn.Transaction(ctx, func(tx *store.Tx) error {
				assert.NilError(t, tx.Create("counters", builder.Row{"id": 1, "counter": 1}))
				assert.NilError(t, tx.Create("counters", builder.Row{"id": 2, "counter": 2}))
				assert.NilError(t, tx.Create("counters", builder.Row{"id": 1, "counter": 3}))
				tx.OnCommit(func() { calls = append(calls, "commit") })
				tx.OnError(func(err error) { calls = append(calls, "error") })
				tx.OnComplete(func(err error) { calls = append(calls, "complete") })
				return nil
			})
			assert.Assert(t, errors.Is(err, types.ErrDuplicateKey))
			assert.DeepEqual(t, calls, []string{"error", "complete"})

			n, err := conn.Count(ctx, "counters", nil)
			assert.NilError(t, err)
			assert.Equal(t, n, 0)
		})

		t.Run("commit", func(t *testing.T) {
			conn := open(t, opener)
			SeedCounters(t, conn, 3)
			calls := []string{}
			err := conn.Transaction(ctx, func(tx *store.Tx) error {
				tx.OnComplete(func(err error) { calls = append(calls, "complete") })
				tx.OnCommit(func() { calls = append(calls, "commit") })
				assert.NilError(t, tx.Update("counters", store.UpdateArgs{Where: query.Where{"id": 0}, Update: builder.Row{"label": "zero"}}))
				assert.NilError(t, tx.Delete("counters", store.DeleteArgs{Where: query.Where{"id": 2}}))
				assert.NilError(t, tx.Upsert("counters", store.UpsertArgs{
					Where:  query.Where{"id": 7},
					Create: builder.Row{"id": 7, "counter": 7},
				}))
				// later ops see earlier ones
				return tx.Update("counters", store.UpdateArgs{Where: query.Where{"label": "zero"}, Update: builder.Row{"counter": 100}})
			})
			assert.NilError(t, err)
			assert.DeepEqual(t, calls, []string{"commit", "complete"})

			rows, _ := conn.FindMany(ctx, "counters", store.FindArgs{})
			assert.DeepEqual(t, ids(rows), []int64{0, 1, 7})
			assert.Equal(t, rows[0]["counter"], int64(100))
		})

		t.Run("closure error", func(t *testing.T) {
			conn := open(t, opener)
			boom := errors.New("boom")
			var got error
			err := conn.Transaction(ctx, func(tx *store.Tx) error {
				assert.NilError(t, tx.Create("counters", builder.Row{"id": 1, "counter": 1}))
				tx.OnError(func(err error) { got = err })
				return boom
			})
			assert.Equal(t, err, boom)
			assert.Equal(t, got, boom)
			n, _ := conn.Count(ctx, "counters", nil)
			assert.Equal(t, n, 0)
		})

		t.Run("panicking hook", func(t *testing.T) {
			conn := open(t, opener)
			completed := false
			err := conn.Transaction(ctx, func(tx *store.Tx) error {
				tx.OnCommit(func() { panic("hook") })
				tx.OnComplete(func(err error) { completed = err == nil })
				return tx.Create("counters", builder.Row{"id": 1, "counter": 1})
			})
			assert.NilError(t, err)
			assert.Assert(t, completed)
		})

		t.Run("staging validates", func(t *testing.T) {
			conn := open(t, opener)
			err := conn.Transaction(ctx, func(tx *store.Tx) error {
				return tx.Create("counters", builder.Row{"id": 1})
			})
			assert.Assert(t, errors.Is(err, types.ErrMissingRequiredField))
		})
	})

	t.Run("relations", func(t *testing.T) {
		conn := open(t, opener)
		_, err := conn.CreateMany(ctx, "headers", []builder.Row{
			{"hash": "h1", "number": 1},
			{"hash": "h2", "number": 2, "parentHash": "h1"},
			{"hash": "h3", "number": 3, "parentHash": "h2"},
			{"hash": "h5", "number": 5, "parentHash": "h4"},
		})
		assert.NilError(t, err)

		t.Run("nested", func(t *testing.T) {
			row, err := conn.FindOne(ctx, "headers", store.FindArgs{
				Where:   query.Where{"hash": "h3"},
				Include: query.Include{"parent": {"parent": nil}},
			})
			assert.NilError(t, err)
			parent := row["parent"].(builder.Row)
			assert.Equal(t, parent["hash"], "h2")
			grandparent := parent["parent"].(builder.Row)
			assert.Equal(t, grandparent["hash"], "h1")
			_, has := grandparent["parent"]
			assert.Assert(t, !has)
		})

		t.Run("not nested", func(t *testing.T) {
			row, err := conn.FindOne(ctx, "headers", store.FindArgs{
				Where:   query.Where{"hash": "h3"},
				Include: query.Include{"parent": nil},
			})
			assert.NilError(t, err)
			_, has := row["parent"].(builder.Row)["parent"]
			assert.Assert(t, !has)
		})

		t.Run("missing target is nil", func(t *testing.T) {
			rows, err := conn.FindMany(ctx, "headers", store.FindArgs{
				Where:   query.Where{"hash": []any{"h1", "h5"}},
				Include: query.Include{"parent": nil},
			})
			assert.NilError(t, err)
			assert.Equal(t, len(rows), 2)
			for _, row := range rows {
				parent, has := row["parent"]
				assert.Assert(t, has)
				assert.Assert(t, parent == nil)
			}
		})

		t.Run("unknown relation", func(t *testing.T) {
			_, err := conn.FindMany(ctx, "headers", store.FindArgs{Include: query.Include{"child": nil}})
			assert.Assert(t, errors.Is(err, types.ErrUnknownRow))
		})
	})

	t.Run("admin", func(t *testing.T) {
		conn := open(t, opener)

		tables, err := builder.ParseDeclaration([]byte(`[
		  {"name": "proposals", "primaryKey": "id", "rows": [["id", "Int"], ["title", "String"]]}
		]`))
		assert.NilError(t, err)
		assert.NilError(t, conn.CreateTables(ctx, tables))

		_, err = conn.Create(ctx, "proposals", builder.Row{"id": 1, "title": "a"})
		assert.NilError(t, err)
		n, _ := conn.Count(ctx, "proposals", nil)
		assert.Equal(t, n, 1)

		// same definition again is fine, a different one is not
		same, _ := builder.ParseDeclaration([]byte(`[
		  {"name": "proposals", "primaryKey": "id", "rows": [["id", "Int"], ["title", "String"]]}
		]`))
		assert.NilError(t, conn.CreateTables(ctx, same))
		changed, _ := builder.ParseDeclaration([]byte(`[
		  {"name": "proposals", "primaryKey": "id", "rows": [["id", "Int"], ["title", "Int"]]}
		]`))
		assert.Assert(t, errors.Is(conn.CreateTables(ctx, changed), types.ErrInvalidSchema))

		assert.NilError(t, conn.EnsureIndex(ctx, "counters", "counter_label", []string{"counter", "label"}))
		assert.NilError(t, conn.EnsureIndex(ctx, "counters", "counter_label", []string{"counter", "label"}))
		assert.Assert(t, errors.Is(conn.EnsureIndex(ctx, "counters", "bad", []string{"size"}), types.ErrUnknownRow))
		assert.Assert(t, errors.Is(conn.EnsureIndex(ctx, "votes", "bad", []string{"id"}), types.ErrUnknownCollection))
	})
}
