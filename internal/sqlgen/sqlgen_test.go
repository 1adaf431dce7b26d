package sqlgen_test

import (
	"errors"
	"testing"

	"github.com/tobsdb/chainstore/internal/builder"
	"github.com/tobsdb/chainstore/internal/query"
	"github.com/tobsdb/chainstore/internal/sqlgen"
	"github.com/tobsdb/chainstore/internal/types"
	"gotest.tools/assert"
)

const testSchema = `[
  {"name": "counters", "primaryKey": "id", "rows": [
    ["id", "Int"],
    ["counter", "Int", {"optional": true}],
    ["label", "String", {"optional": true}],
    ["flag", "Bool", {"optional": true}],
    ["data", "Object", {"optional": true}]
  ]},
  {"name": "links", "primaryKey": ["from", "to"], "rows": [
    ["from", "Int"],
    ["to", "Int"],
    ["name", "String", ["unique"]],
    ["target", "Int", ["relation(to, counters.id)"]]
  ]}
]`

func testTable(t *testing.T, name string) *builder.Table {
	schema, err := builder.NewSchemaFromString(testSchema)
	assert.NilError(t, err)
	table, err := schema.Table(name)
	assert.NilError(t, err)
	return table
}

func TestWhere(t *testing.T) {
	table := testTable(t, "counters")

	cases := []struct {
		name  string
		where query.Where
		sql   string
	}{
		{"empty", query.Where{}, `(1)`},
		{"literal", query.Where{"label": "it's"}, `("label" = 'it''s' AND 1)`},
		{"nul byte", query.Where{"label": "a\x00b"}, `("label" = CAST(X'610062' AS TEXT) AND 1)`},
		{"bool", query.Where{"flag": true}, `("flag" = true AND 1)`},
		{"object", query.Where{"data": map[string]any{"b": 1, "a": "x"}}, `("data" = '{"a":"x","b":1}' AND 1)`},
		{"nil", query.Where{"counter": nil}, `("counter" IS NULL AND 1)`},
		{"lt", query.Where{"counter": map[string]any{"lt": 3}}, `(("counter" < 3) AND 1)`},
		{"range", query.Where{"counter": map[string]any{"gte": 1, "lt": 3}}, `(("counter" >= 1 AND "counter" < 3) AND 1)`},
		{"ne", query.Where{"counter": map[string]any{"ne": 3}}, `((("counter" IS NULL OR "counter" != 3)) AND 1)`},
		{"ne nil", query.Where{"counter": map[string]any{"ne": nil}}, `(("counter" IS NOT NULL) AND 1)`},
		{"eq nil", query.Where{"counter": map[string]any{"eq": nil}}, `(("counter" IS NULL) AND 1)`},
		{"list", query.Where{"counter": []any{1, 2}}, `("counter" IN (1, 2) AND 1)`},
		{"list with nil", query.Where{"counter": []any{1, nil}}, `(("counter" IN (1) OR "counter" IS NULL) AND 1)`},
		{"empty list", query.Where{"counter": []any{}}, `(0 AND 1)`},
		{"nin", query.Where{"counter": map[string]any{"nin": []any{1}}}, `((("counter" IS NULL OR "counter" NOT IN (1))) AND 1)`},
		{"nin with nil", query.Where{"counter": map[string]any{"nin": []any{nil, 1}}}, `((("counter" IS NOT NULL AND "counter" NOT IN (1))) AND 1)`},
		{"empty or", query.Where{"OR": []any{}}, `(0)`},
		{
			"or with top",
			query.Where{"OR": []any{map[string]any{"counter": 0}, map[string]any{"counter": 1}}, "counter": map[string]any{"gt": 5}},
			`(("counter" > 5) AND (("counter" = 0 AND 1) OR ("counter" = 1 AND 1)))`,
		},
		{
			"and",
			query.Where{"AND": []query.Where{{"counter": 1}, {"label": "a"}}},
			`(("counter" = 1 AND 1) AND ("label" = 'a' AND 1) AND 1)`,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			sql, err := sqlgen.Where(table, c.where)
			assert.NilError(t, err)
			assert.Equal(t, sql, c.sql)
		})
	}

	t.Run("invalid", func(t *testing.T) {
		_, err := sqlgen.Where(table, query.Where{"flag": map[string]any{"lt": true}})
		assert.Assert(t, errors.Is(err, types.ErrInvalidOperator))
	})
}

func TestCreateTable(t *testing.T) {
	assert.Equal(t, sqlgen.CreateTable(testTable(t, "counters")),
		`CREATE TABLE IF NOT EXISTS "counters" ("id" INTEGER NOT NULL, "counter" INTEGER, "label" TEXT, `+
			`"flag" BOOLEAN, "data" TEXT, PRIMARY KEY ("id"))`)

	assert.Equal(t, sqlgen.CreateTable(testTable(t, "links")),
		`CREATE TABLE IF NOT EXISTS "links" ("from" INTEGER NOT NULL, "to" INTEGER NOT NULL, "name" TEXT NOT NULL UNIQUE, `+
			`PRIMARY KEY ("from", "to"), FOREIGN KEY ("to") REFERENCES "counters" ("id"))`)
}

func TestStatements(t *testing.T) {
	table := testTable(t, "counters")

	t.Run("insert", func(t *testing.T) {
		sql, err := sqlgen.Insert(table, builder.Row{"id": int64(1), "flag": false, "data": []any{1}})
		assert.NilError(t, err)
		assert.Equal(t, sql, `INSERT INTO "counters" ("id", "flag", "data") VALUES (1, false, '[1]')`)
	})

	t.Run("select", func(t *testing.T) {
		sql, err := sqlgen.Select(table, query.Where{"flag": true}, query.OrderBy{{Field: "counter", Desc: true}}, 2)
		assert.NilError(t, err)
		assert.Equal(t, sql, `SELECT "id", "counter", "label", "flag", "data" FROM "counters" WHERE ("flag" = true AND 1)`+
			` ORDER BY "counter" DESC, "id" ASC LIMIT 2`)
	})

	t.Run("select unknown order field", func(t *testing.T) {
		_, err := sqlgen.Select(table, nil, query.OrderBy{{Field: "nope"}}, 0)
		assert.Assert(t, errors.Is(err, types.ErrUnknownRow))
	})

	t.Run("count", func(t *testing.T) {
		sql, err := sqlgen.Count(table, nil)
		assert.NilError(t, err)
		assert.Equal(t, sql, `SELECT COUNT(*) FROM "counters" WHERE (1)`)
	})

	t.Run("update", func(t *testing.T) {
		sql, err := sqlgen.Update(table, query.Where{"id": 1}, builder.Row{"label": "b", "counter": nil})
		assert.NilError(t, err)
		assert.Equal(t, sql, `UPDATE "counters" SET "counter" = NULL, "label" = 'b' WHERE ("id" = 1 AND 1)`)
	})

	t.Run("delete", func(t *testing.T) {
		sql, err := sqlgen.Delete(table, query.Where{"flag": false}, nil, 0)
		assert.NilError(t, err)
		assert.Equal(t, sql, `DELETE FROM "counters" WHERE ("flag" = false AND 1)`)

		sql, err = sqlgen.Delete(table, query.Where{"flag": false}, query.OrderBy{{Field: "counter"}}, 1)
		assert.NilError(t, err)
		assert.Equal(t, sql, `DELETE FROM "counters" WHERE rowid IN (SELECT rowid FROM "counters" WHERE ("flag" = false AND 1)`+
			` ORDER BY "counter" ASC, "id" ASC LIMIT 1)`)
	})

	t.Run("create index", func(t *testing.T) {
		sql, err := sqlgen.CreateIndex(table, "by_label", []string{"label", "counter"})
		assert.NilError(t, err)
		assert.Equal(t, sql, `CREATE INDEX IF NOT EXISTS "by_label" ON "counters" ("label", "counter")`)

		_, err = sqlgen.CreateIndex(table, "bad name", []string{"label"})
		assert.Assert(t, errors.Is(err, types.ErrInvalidSchema))
	})
}
