package pkg_test

import (
	"math"
	"testing"

	. "github.com/tobsdb/chainstore/pkg"
	"gotest.tools/assert"
)

func TestFilter(t *testing.T) {
	res := Filter([]int{1, 2, 3, 4, 5, 6}, func(i int) bool {
		return i%2 == 0
	})

	assert.DeepEqual(t, res, []int{2, 4, 6})
}

func TestToInt64(t *testing.T) {
	t.Run("integers", func(t *testing.T) {
		v, ok := ToInt64(1)
		assert.Assert(t, ok)
		assert.Equal(t, v, int64(1))

		v, ok = ToInt64(uint8(7))
		assert.Assert(t, ok)
		assert.Equal(t, v, int64(7))
	})

	t.Run("integral float", func(t *testing.T) {
		v, ok := ToInt64(float64(42))
		assert.Assert(t, ok)
		assert.Equal(t, v, int64(42))
	})

	t.Run("fractional float", func(t *testing.T) {
		_, ok := ToInt64(1.1)
		assert.Assert(t, !ok)
	})

	t.Run("out of range float", func(t *testing.T) {
		_, ok := ToInt64(float64(1 << 63))
		assert.Assert(t, !ok)
		_, ok = ToInt64(float64(math.MaxInt64))
		assert.Assert(t, !ok)

		v, ok := ToInt64(float64(-(1 << 63)))
		assert.Assert(t, ok)
		assert.Equal(t, v, int64(math.MinInt64))
	})

	t.Run("not a number", func(t *testing.T) {
		_, ok := ToInt64("1")
		assert.Assert(t, !ok)
		_, ok = ToInt64(true)
		assert.Assert(t, !ok)
	})
}

func TestCloneValue(t *testing.T) {
	orig := map[string]any{"a": []any{1, map[string]any{"b": 2}}}
	clone := CloneValue(orig).(map[string]any)
	clone["a"].([]any)[1].(map[string]any)["b"] = 3

	assert.Equal(t, orig["a"].([]any)[1].(map[string]any)["b"], 2)

	t.Run("typed slices", func(t *testing.T) {
		orig := []map[string]any{{"b": 2}, nil}
		clone := CloneValue(orig).([]map[string]any)
		clone[0]["b"] = 3

		assert.Equal(t, orig[0]["b"], 2)
		assert.Assert(t, clone[1] == nil)
	})
}

func TestInsertSortMap(t *testing.T) {
	m := NewInsertSortMap[string, int]()
	m.Push("b", 1)
	m.Push("a", 2)
	m.Push("c", 3)
	m.Delete("a")

	assert.DeepEqual(t, m.Sorted, []string{"b", "c"})
	assert.Equal(t, m.Get("c"), 3)
	assert.Assert(t, !m.Has("a"))
	assert.Equal(t, m.Len(), 2)
}
