package props_test

import (
	"encoding/json"
	"testing"

	"github.com/tobsdb/chainstore/internal/props"
	"gotest.tools/assert"
)

func TestParseRelationPropSafe(t *testing.T) {
	t.Run("simple", func(t *testing.T) {
		local, table, field, err := props.ParseRelationPropSafe("parentHash, headers.hash")
		assert.NilError(t, err)
		assert.Equal(t, "parentHash", local)
		assert.Equal(t, "headers", table)
		assert.Equal(t, "hash", field)
	})

	t.Run("bad syntax", func(t *testing.T) {
		_, _, _, err := props.ParseRelationPropSafe("parentHash, headers:hash")
		assert.ErrorContains(t, err, "Invalid syntax: relation(parentHash, headers:hash)")
	})

	t.Run("missing local field", func(t *testing.T) {
		_, _, _, err := props.ParseRelationPropSafe("headers.hash")
		assert.ErrorContains(t, err, "Invalid syntax: relation(headers.hash)")
	})

	t.Run("missing field", func(t *testing.T) {
		_, _, _, err := props.ParseRelationPropSafe("parentHash, headers.")
		assert.ErrorContains(t, err, "Invalid syntax")
	})
}

func TestParseOptions(t *testing.T) {
	t.Run("words", func(t *testing.T) {
		opts, err := props.ParseOptions(json.RawMessage(`["unique", "optional(false)", "index", "default(5)"]`))
		assert.NilError(t, err)
		assert.Assert(t, opts.Unique)
		assert.Assert(t, !opts.Optional)
		assert.Assert(t, opts.Index)
		assert.Assert(t, opts.HasDefault)
		assert.Equal(t, opts.Default, float64(5))
	})

	t.Run("generator default", func(t *testing.T) {
		opts, err := props.ParseOptions(json.RawMessage(`["default(uuid())"]`))
		assert.NilError(t, err)
		assert.Equal(t, opts.Default, "uuid()")
	})

	t.Run("object", func(t *testing.T) {
		opts, err := props.ParseOptions(json.RawMessage(`{
			"optional": true,
			"relation": {"localField": "a", "foreignField": "b", "foreignTable": "c"}
		}`))
		assert.NilError(t, err)
		assert.Assert(t, opts.Optional)
		assert.DeepEqual(t, *opts.Relation, props.RelationProp{LocalField: "a", ForeignField: "b", ForeignTable: "c"})
	})

	t.Run("relation word", func(t *testing.T) {
		opts, err := props.ParseOptions(json.RawMessage(`["relation(a, c.b)"]`))
		assert.NilError(t, err)
		assert.DeepEqual(t, *opts.Relation, props.RelationProp{LocalField: "a", ForeignField: "b", ForeignTable: "c"})
	})

	t.Run("invalid prop", func(t *testing.T) {
		_, err := props.ParseOptions(json.RawMessage(`["vector(Int, 2)"]`))
		assert.ErrorContains(t, err, "vector is not a valid prop")
	})

	t.Run("invalid flag", func(t *testing.T) {
		_, err := props.ParseOptions(json.RawMessage(`["unique(yes)"]`))
		assert.ErrorContains(t, err, "Invalid syntax: unique(yes)")
	})

	t.Run("empty", func(t *testing.T) {
		opts, err := props.ParseOptions(nil)
		assert.NilError(t, err)
		assert.Assert(t, !opts.Unique && !opts.Optional && !opts.HasDefault)
	})
}
