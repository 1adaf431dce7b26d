package query

import (
	"encoding/json"
	"strings"

	"github.com/tobsdb/chainstore/internal/builder"
	"github.com/tobsdb/chainstore/pkg"
)

// Matches reports whether doc satisfies where. Every key other than AND/OR
// must pass; AND requires all of its clauses and OR at least one. An empty
// OR list matches nothing.
func Matches(where Where, doc builder.Row) bool {
	for key, cond := range where {
		if key == KeyAnd || key == KeyOr {
			continue
		}
		value, present := lookup(doc, key)
		if !matchCondition(cond, value, present) {
			return false
		}
	}

	if and, ok := where[KeyAnd]; ok {
		clauses, _ := toClauses(and)
		for _, clause := range clauses {
			if !Matches(clause, doc) {
				return false
			}
		}
	}

	if or, ok := where[KeyOr]; ok {
		clauses, _ := toClauses(or)
		for _, clause := range clauses {
			if Matches(clause, doc) {
				return true
			}
		}
		return false
	}

	return true
}

func lookup(doc builder.Row, key string) (any, bool) {
	v := doc[key]
	return v, v != nil
}

func matchCondition(cond any, value any, present bool) bool {
	if cond == nil {
		return !present
	}
	if list, ok := toList(cond); ok {
		return inList(list, value, present)
	}
	if IsOperatorObject(cond) {
		for op, operand := range toOps(cond) {
			if !matchOperator(op, operand, value, present) {
				return false
			}
		}
		return true
	}
	return present && Equal(value, cond)
}

func inList(list []any, value any, present bool) bool {
	for _, e := range list {
		if e == nil {
			if !present {
				return true
			}
			continue
		}
		if present && Equal(value, e) {
			return true
		}
	}
	return false
}

func matchOperator(op Operator, operand, value any, present bool) bool {
	switch op {
	case OpEqual:
		if operand == nil {
			return !present
		}
		return present && Equal(value, operand)
	case OpNotEqual:
		if operand == nil {
			return present
		}
		return !present || !Equal(value, operand)
	case OpNotIn:
		list, _ := toList(operand)
		return !inList(list, value, present)
	}

	if !present || operand == nil {
		return false
	}
	c, ok := Compare(value, operand)
	if !ok {
		return false
	}
	switch op {
	case OpLess:
		return c < 0
	case OpLessOrEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	case OpGreaterOrEqual:
		return c >= 0
	}
	return false
}

// Equal compares two normalized values. Integers compare numerically,
// everything else by its canonical json encoding.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := toInt(a); ok {
		y, ok := toInt(b)
		return ok && x == y
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return Canonical(a) == Canonical(b)
}

func toInt(v any) (int64, bool) {
	switch v.(type) {
	case bool:
		return 0, false
	}
	return pkg.ToInt64(v)
}

// Canonical returns the json encoding used to compare non scalar values.
func Canonical(v any) string {
	buf, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(buf)
}

// Compare orders two values of the same scalar kind. The second return is
// false when they can't be ordered against each other.
func Compare(a, b any) (int, bool) {
	if x, ok := toInt(a); ok {
		y, ok := toInt(b)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	}
	return strings.Compare(Canonical(a), Canonical(b)), true
}
