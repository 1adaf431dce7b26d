package builder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/tobsdb/chainstore/internal/types"
	"github.com/tobsdb/chainstore/pkg"
)

// Row maps a field name to its saved data
type Row = map[string]any

type Table struct {
	Name       string
	PrimaryKey []string
	Fields     *pkg.InsertSortMap[string, *Field]
	// fields with an index level above none, in declaration order
	Indexes []string

	Schema *Schema `json:"-"`
}

func NewTable(name string, primary_key []string, fields ...*Field) *Table {
	t := &Table{
		Name:       name,
		PrimaryKey: primary_key,
		Fields:     pkg.NewInsertSortMap[string, *Field](),
		Indexes:    []string{},
	}
	for _, field := range fields {
		field.Table = t
		t.Fields.Push(field.Name, field)
	}
	return t
}

func (t *Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name       string   `json:"name"`
		PrimaryKey []string `json:"primaryKey"`
		Rows       []*Field `json:"rows"`
	}{t.Name, t.PrimaryKey, t.Fields.Values()})
}

func (t *Table) IsPrimaryKey(name string) bool { return slices.Contains(t.PrimaryKey, name) }

func (t *Table) Field(name string) (*Field, error) {
	if !t.Fields.Has(name) {
		return nil, types.UnknownRowError(t.Name, name)
	}
	return t.Fields.Get(name), nil
}

// Columns returns every persisted (non-relation) field in declaration order.
func (t *Table) Columns() []*Field {
	return pkg.Filter(t.Fields.Values(), func(f *Field) bool { return !f.IsRelation() })
}

func (t *Table) UniqueFields() []*Field {
	return pkg.Filter(t.Columns(), func(f *Field) bool { return f.Unique })
}

// PrepareCreate builds the row to be inserted from doc: unknown fields are
// rejected, defaults are applied to absent or nil fields, values are
// normalized, and required fields are enforced.
func (t *Table) PrepareCreate(doc Row) (Row, error) {
	for name := range doc {
		field, err := t.Field(name)
		if err != nil {
			return nil, err
		}
		if field.IsRelation() && doc[name] != nil {
			return nil, types.UnknownRowError(t.Name, name)
		}
	}

	row := make(Row, t.Fields.Len())
	for _, field := range t.Columns() {
		input := doc[field.Name]
		if input == nil && field.HasDefault() {
			input = field.DefaultValue()
		}

		value, err := field.ValidateType(input)
		if err != nil {
			return nil, err
		}
		if value == nil {
			if !field.Optional {
				return nil, types.MissingRequiredFieldError(t.Name, field.Name)
			}
			continue
		}
		row[field.Name] = value
	}
	return row, nil
}

// PrepareUpdate validates an update payload. nil values clear optional fields.
func (t *Table) PrepareUpdate(update Row) (Row, error) {
	res := make(Row, len(update))
	for name, input := range update {
		field, err := t.Field(name)
		if err != nil {
			return nil, err
		}
		if field.IsRelation() {
			return nil, types.UnknownRowError(t.Name, name)
		}

		value, err := field.ValidateType(input)
		if err != nil {
			return nil, err
		}
		if value == nil && !field.Optional {
			return nil, types.MissingRequiredFieldError(t.Name, field.Name)
		}
		res[name] = value
	}
	return res, nil
}

// ApplyUpdate returns a copy of row with a prepared update merged in.
func ApplyUpdate(row, update Row) Row {
	res := CloneRow(row)
	for name, value := range update {
		if value == nil {
			delete(res, name)
			continue
		}
		res[name] = pkg.CloneValue(value)
	}
	return res
}

// NormalizeRow coerces values read back from a backend (json numbers,
// sqlite integers for booleans) to their normalized form.
// Unknown and nil fields are dropped.
func (t *Table) NormalizeRow(raw Row) (Row, error) {
	row := make(Row, len(raw))
	for _, field := range t.Columns() {
		value := raw[field.Name]
		if value == nil {
			continue
		}

		switch field.BuiltinType {
		case types.FieldTypeBool:
			if n, ok := pkg.ToInt64(value); ok {
				value = n != 0
			}
		case types.FieldTypeString:
			if b, ok := value.([]byte); ok {
				value = string(b)
			}
		}

		v, err := field.ValidateType(value)
		if err != nil {
			return nil, err
		}
		row[field.Name] = v
	}
	return row, nil
}

// KeyOf returns the canonical identity of a row: the json array of its
// normalized primary key values.
func (t *Table) KeyOf(row Row) (string, error) {
	values := make([]any, len(t.PrimaryKey))
	for i, name := range t.PrimaryKey {
		field, err := t.Field(name)
		if err != nil {
			return "", err
		}
		v, err := field.ValidateType(row[name])
		if err != nil {
			return "", err
		}
		if v == nil {
			return "", types.MissingRequiredFieldError(t.Name, name)
		}
		values[i] = v
	}
	buf, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// KeyValues reverses KeyOf, returning the primary key fields of key.
func (t *Table) KeyValues(key string) (Row, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(key)))
	dec.UseNumber()

	var values []any
	if err := dec.Decode(&values); err != nil {
		return nil, fmt.Errorf("Invalid key %s for table %s: %s", key, t.Name, err.Error())
	}
	if len(values) != len(t.PrimaryKey) {
		return nil, fmt.Errorf("Invalid key %s for table %s", key, t.Name)
	}

	row := make(Row, len(values))
	for i, name := range t.PrimaryKey {
		field, err := t.Field(name)
		if err != nil {
			return nil, err
		}
		v, err := field.ValidateType(values[i])
		if err != nil {
			return nil, err
		}
		row[name] = v
	}
	return row, nil
}

func CloneRow(row Row) Row {
	if row == nil {
		return nil
	}
	res := make(Row, len(row))
	for k, v := range row {
		res[k] = pkg.CloneValue(v)
	}
	return res
}
