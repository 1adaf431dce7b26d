package sqlgen

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/tobsdb/chainstore/internal/builder"
	"github.com/tobsdb/chainstore/internal/query"
	"github.com/tobsdb/chainstore/internal/types"
	"github.com/tobsdb/chainstore/pkg"
)

var comparisonOperators = map[query.Operator]string{
	query.OpLess:           "<",
	query.OpLessOrEqual:    "<=",
	query.OpGreater:        ">",
	query.OpGreaterOrEqual: ">=",
	query.OpEqual:          "=",
	query.OpNotEqual:       "!=",
}

// Ident double quotes an identifier. Names are checked by the schema, this
// only guards against stray quotes.
func Ident(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quote renders s as a text literal. Strings holding NUL bytes are written
// as a blob cast, the driver would otherwise cut the statement at the NUL.
func quote(s string) string {
	if strings.IndexByte(s, 0) >= 0 {
		return "CAST(X'" + hex.EncodeToString([]byte(s)) + "' AS TEXT)"
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Value renders v as a literal for field's column.
func Value(field *builder.Field, v any) (string, error) {
	if v == nil {
		return "NULL", nil
	}
	v, err := field.ValidateType(v)
	if err != nil {
		return "", err
	}

	switch field.BuiltinType {
	case types.FieldTypeInt:
		return strconv.FormatInt(v.(int64), 10), nil
	case types.FieldTypeBool:
		if v.(bool) {
			return "true", nil
		}
		return "false", nil
	case types.FieldTypeString:
		return quote(v.(string)), nil
	case types.FieldTypeObject:
		buf, err := json.Marshal(v)
		if err != nil {
			return "", types.TypeMismatchError(field.Name, field.BuiltinType, v)
		}
		return quote(string(buf)), nil
	}
	return "", fmt.Errorf("Unsupported field type for %s: %s", field.Name, field.BuiltinType)
}

// Where renders where as a parenthesized boolean expression over table's
// columns. Every key other than AND/OR becomes one term, ANDed with each AND
// clause and with the OR group.
func Where(table *builder.Table, where query.Where) (string, error) {
	normalized, err := query.Validate(table, where)
	if err != nil {
		return "", err
	}
	return renderWhere(table, normalized)
}

func renderWhere(table *builder.Table, where query.Where) (string, error) {
	terms := []string{}
	for _, key := range pkg.SortedKeys(where) {
		if key == query.KeyAnd || key == query.KeyOr {
			continue
		}
		field, err := table.Field(key)
		if err != nil {
			return "", err
		}
		term, err := renderCondition(field, where[key])
		if err != nil {
			return "", err
		}
		terms = append(terms, term)
	}

	if and, ok := where[query.KeyAnd]; ok {
		for _, clause := range and.([]query.Where) {
			term, err := renderWhere(table, clause)
			if err != nil {
				return "", err
			}
			terms = append(terms, term)
		}
	}

	or_group := "1"
	if or, ok := where[query.KeyOr]; ok {
		clauses := or.([]query.Where)
		or_group = "0"
		if len(clauses) > 0 {
			branches := make([]string, len(clauses))
			for i, clause := range clauses {
				branch, err := renderWhere(table, clause)
				if err != nil {
					return "", err
				}
				branches[i] = branch
			}
			or_group = "(" + strings.Join(branches, " OR ") + ")"
		}
	}
	terms = append(terms, or_group)

	return "(" + strings.Join(terms, " AND ") + ")", nil
}

func renderCondition(field *builder.Field, cond any) (string, error) {
	col := Ident(field.Name)
	switch cond := cond.(type) {
	case nil:
		return col + " IS NULL", nil
	case []any:
		values, has_nil, err := renderList(field, cond)
		if err != nil {
			return "", err
		}
		switch {
		case len(values) == 0 && has_nil:
			return col + " IS NULL", nil
		case len(values) == 0:
			return "0", nil
		case has_nil:
			return fmt.Sprintf("(%s IN (%s) OR %s IS NULL)", col, strings.Join(values, ", "), col), nil
		}
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(values, ", ")), nil
	case query.Ops:
		ops := make([]string, 0, len(cond))
		for op := range cond {
			ops = append(ops, string(op))
		}
		slices.Sort(ops)

		terms := make([]string, 0, len(ops))
		for _, op := range ops {
			term, err := renderOperator(field, query.Operator(op), cond[query.Operator(op)])
			if err != nil {
				return "", err
			}
			terms = append(terms, term)
		}
		return "(" + strings.Join(terms, " AND ") + ")", nil
	}

	v, err := Value(field, cond)
	if err != nil {
		return "", err
	}
	return col + " = " + v, nil
}

func renderOperator(field *builder.Field, op query.Operator, operand any) (string, error) {
	col := Ident(field.Name)

	if op == query.OpNotIn {
		values, has_nil, err := renderList(field, operand.([]any))
		if err != nil {
			return "", err
		}
		switch {
		case len(values) == 0 && has_nil:
			return col + " IS NOT NULL", nil
		case len(values) == 0:
			return "1", nil
		case has_nil:
			return fmt.Sprintf("(%s IS NOT NULL AND %s NOT IN (%s))", col, col, strings.Join(values, ", ")), nil
		}
		return fmt.Sprintf("(%s IS NULL OR %s NOT IN (%s))", col, col, strings.Join(values, ", ")), nil
	}

	if operand == nil {
		switch op {
		case query.OpEqual:
			return col + " IS NULL", nil
		case query.OpNotEqual:
			return col + " IS NOT NULL", nil
		}
		return "", types.InvalidOperatorError(field.Name, string(op), "operand cannot be null")
	}

	sql_op, ok := comparisonOperators[op]
	if !ok {
		return "", types.InvalidOperatorError(field.Name, string(op), "unknown operator")
	}
	v, err := Value(field, operand)
	if err != nil {
		return "", err
	}
	if op == query.OpNotEqual {
		return fmt.Sprintf("(%s IS NULL OR %s != %s)", col, col, v), nil
	}
	return fmt.Sprintf("%s %s %s", col, sql_op, v), nil
}

func renderList(field *builder.Field, list []any) ([]string, bool, error) {
	values := []string{}
	has_nil := false
	for _, e := range list {
		if e == nil {
			has_nil = true
			continue
		}
		v, err := Value(field, e)
		if err != nil {
			return nil, false, err
		}
		values = append(values, v)
	}
	return values, has_nil, nil
}
