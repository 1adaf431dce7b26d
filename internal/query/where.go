package query

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/tobsdb/chainstore/internal/builder"
	"github.com/tobsdb/chainstore/internal/types"
)

// Where filters documents: field -> literal, list of accepted values, or
// operator object. AND and OR hold lists of nested clauses.
type Where map[string]any

// Ops is a validated operator object.
type Ops map[Operator]any

type Operator string

const (
	OpEqual          Operator = "eq"
	OpNotEqual       Operator = "ne"
	OpGreater        Operator = "gt"
	OpLess           Operator = "lt"
	OpGreaterOrEqual Operator = "gte"
	OpLessOrEqual    Operator = "lte"
	OpNotIn          Operator = "nin"
)

var VALID_OPERATORS = []Operator{
	OpEqual, OpNotEqual, OpGreater, OpLess, OpGreaterOrEqual, OpLessOrEqual, OpNotIn,
}

func (op Operator) IsValid() bool { return slices.Contains(VALID_OPERATORS, op) }

func (op Operator) Ordering() bool {
	switch op {
	case OpGreater, OpLess, OpGreaterOrEqual, OpLessOrEqual:
		return true
	}
	return false
}

const (
	KeyAnd = "AND"
	KeyOr  = "OR"
)

// IsOperatorObject reports whether v is a non-empty map whose keys are all
// operator names. Any other map is an Object literal.
func IsOperatorObject(v any) bool {
	switch v := v.(type) {
	case Ops:
		return true
	case map[string]any:
		if len(v) == 0 {
			return false
		}
		for k := range v {
			if !Operator(k).IsValid() {
				return false
			}
		}
		return true
	}
	return false
}

func toOps(v any) Ops {
	switch v := v.(type) {
	case Ops:
		return v
	case map[string]any:
		ops := make(Ops, len(v))
		for k, e := range v {
			ops[Operator(k)] = e
		}
		return ops
	}
	return nil
}

// toList returns the elements of any slice value except []byte.
func toList(v any) ([]any, bool) {
	switch v := v.(type) {
	case []any:
		return v, true
	case []byte, string, nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	list := make([]any, rv.Len())
	for i := range list {
		list[i] = rv.Index(i).Interface()
	}
	return list, true
}

func toClauses(v any) ([]Where, bool) {
	switch v := v.(type) {
	case []Where:
		return v, true
	case []map[string]any:
		clauses := make([]Where, len(v))
		for i, c := range v {
			clauses[i] = c
		}
		return clauses, true
	}
	list, ok := toList(v)
	if !ok {
		return nil, false
	}
	clauses := make([]Where, len(list))
	for i, e := range list {
		switch c := e.(type) {
		case Where:
			clauses[i] = c
		case map[string]any:
			clauses[i] = c
		default:
			return nil, false
		}
	}
	return clauses, true
}

// Validate checks where against the table and returns a normalized copy:
// literals in their stored form, lists as []any, operator objects as Ops and
// AND/OR as []Where.
func Validate(table *builder.Table, where Where) (Where, error) {
	res := make(Where, len(where))
	for key, value := range where {
		if key == KeyAnd || key == KeyOr {
			clauses, ok := toClauses(value)
			if !ok {
				return nil, types.InvalidOperatorError(key, key, "expected a list of clauses")
			}
			normalized := make([]Where, len(clauses))
			for i, clause := range clauses {
				c, err := Validate(table, clause)
				if err != nil {
					return nil, err
				}
				normalized[i] = c
			}
			res[key] = normalized
			continue
		}

		field, err := table.Field(key)
		if err != nil {
			return nil, err
		}
		if field.IsRelation() {
			return nil, types.UnknownRowError(table.Name, key)
		}

		v, err := validateCondition(field, value)
		if err != nil {
			return nil, err
		}
		res[key] = v
	}
	return res, nil
}

func validateCondition(field *builder.Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	if list, ok := toList(value); ok {
		return validateList(field, list)
	}

	if m, ok := value.(map[string]any); ok && field.BuiltinType != types.FieldTypeObject {
		for k := range m {
			if !Operator(k).IsValid() {
				return nil, types.InvalidOperatorError(field.Name, k, "unknown operator")
			}
		}
	}

	if IsOperatorObject(value) {
		ops := toOps(value)
		res := make(Ops, len(ops))
		for op, operand := range ops {
			v, err := validateOperand(field, op, operand)
			if err != nil {
				return nil, err
			}
			res[op] = v
		}
		return res, nil
	}

	return field.ValidateType(value)
}

func validateList(field *builder.Field, list []any) ([]any, error) {
	res := make([]any, len(list))
	for i, e := range list {
		v, err := field.ValidateType(e)
		if err != nil {
			return nil, err
		}
		res[i] = v
	}
	return res, nil
}

func validateOperand(field *builder.Field, op Operator, operand any) (any, error) {
	if !op.IsValid() {
		return nil, types.InvalidOperatorError(field.Name, string(op), "unknown operator")
	}

	switch {
	case op == OpNotIn:
		list, ok := toList(operand)
		if !ok {
			return nil, types.InvalidOperatorError(field.Name, string(op), "expected a list")
		}
		return validateList(field, list)
	case op.Ordering():
		if !field.BuiltinType.Ordered() {
			return nil, types.InvalidOperatorError(field.Name, string(op),
				fmt.Sprintf("not supported on %s fields", field.BuiltinType))
		}
		if operand == nil {
			return nil, types.InvalidOperatorError(field.Name, string(op), "operand cannot be null")
		}
	}
	return field.ValidateType(operand)
}

// Fields returns every field name referenced by where, nested clauses included.
func (where Where) Fields() []string {
	seen := map[string]bool{}
	var walk func(w Where)
	walk = func(w Where) {
		for key, value := range w {
			if key == KeyAnd || key == KeyOr {
				clauses, _ := toClauses(value)
				for _, c := range clauses {
					walk(c)
				}
				continue
			}
			seen[key] = true
		}
	}
	walk(where)

	fields := make([]string, 0, len(seen))
	for k := range seen {
		fields = append(fields, k)
	}
	slices.Sort(fields)
	return fields
}

// Or combines clauses into one that matches any of them.
func Or(clauses ...Where) Where {
	return Where{KeyOr: clauses}
}

// And combines clauses into one that matches all of them.
func And(clauses ...Where) Where {
	return Where{KeyAnd: clauses}
}
