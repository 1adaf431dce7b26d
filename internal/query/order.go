package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/tobsdb/chainstore/internal/builder"
	"github.com/tobsdb/chainstore/internal/types"
)

type Order struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

type OrderBy []Order

// UnmarshalJSON accepts a list of orders or an object of field -> "asc"|"desc".
// Object keys are applied in the order they appear.
func (o *OrderBy) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = nil
		return nil
	}
	if data[0] == '[' {
		var orders []Order
		if err := json.Unmarshal(data, &orders); err != nil {
			return err
		}
		*o = orders
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}
	orders := OrderBy{}
	for dec.More() {
		key, err := dec.Token()
		if err != nil {
			return err
		}
		var dir string
		if err := dec.Decode(&dir); err != nil {
			return err
		}
		switch dir {
		case "asc", "ASC":
			orders = append(orders, Order{Field: key.(string)})
		case "desc", "DESC":
			orders = append(orders, Order{Field: key.(string), Desc: true})
		default:
			return fmt.Errorf("Invalid order direction %q for %v", dir, key)
		}
	}
	*o = orders
	return nil
}

func (o OrderBy) Validate(table *builder.Table) error {
	for _, order := range o {
		field, err := table.Field(order.Field)
		if err != nil {
			return err
		}
		if field.IsRelation() {
			return types.UnknownRowError(table.Name, order.Field)
		}
	}
	return nil
}

// Sort orders docs in place by orderBy, nil first when ascending, ties broken
// by the primary key.
func Sort(table *builder.Table, docs []builder.Row, orderBy OrderBy) {
	slices.SortStableFunc(docs, func(a, b builder.Row) int {
		for _, order := range orderBy {
			c := compareField(table, order.Field, a[order.Field], b[order.Field])
			if order.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		for _, name := range table.PrimaryKey {
			if c := compareNullable(a[name], b[name]); c != 0 {
				return c
			}
		}
		return 0
	})
}

// compareField orders Object values by their canonical json, the text a SQL
// backend stores and sorts them by.
func compareField(table *builder.Table, name string, a, b any) int {
	field, err := table.Field(name)
	if err != nil || field.BuiltinType != types.FieldTypeObject || a == nil || b == nil {
		return compareNullable(a, b)
	}
	return strings.Compare(Canonical(a), Canonical(b))
}

func compareNullable(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	c, _ := Compare(a, b)
	return c
}

// Limit truncates docs to at most n entries, n <= 0 means no limit.
func Limit(docs []builder.Row, n int) []builder.Row {
	if n > 0 && len(docs) > n {
		return docs[:n]
	}
	return docs
}
