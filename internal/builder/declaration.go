package builder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tobsdb/chainstore/internal/props"
	"github.com/tobsdb/chainstore/internal/types"
)

// named generators usable as a default in declarations
var DefaultGenerators = map[string]DefaultFunc{
	"uuid()": func() any { return uuid.NewString() },
	"now()":  func() any { return time.Now().UnixMilli() },
}

// TableDecl is the external declaration of a table.
type TableDecl struct {
	Name string `json:"name"`
	// a single field name or a list of field names
	PrimaryKey json.RawMessage   `json:"primaryKey"`
	Rows       []json.RawMessage `json:"rows"`
}

type rowObject struct {
	Name     string          `json:"name"`
	Type     types.FieldType `json:"type"`
	Unique   bool            `json:"unique"`
	Optional bool            `json:"optional"`
	Index    bool            `json:"index"`
	Default  json.RawMessage `json:"default"`
	Relation *Relation       `json:"relation"`
}

// ParseDeclaration reads a json list of table declarations.
func ParseDeclaration(data []byte) ([]*Table, error) {
	var decls []TableDecl
	if err := json.Unmarshal(data, &decls); err != nil {
		return nil, types.InvalidSchemaError("Invalid schema declaration: %s", err.Error())
	}

	tables := make([]*Table, 0, len(decls))
	for _, decl := range decls {
		table, err := decl.Table()
		if err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}
	return tables, nil
}

// NewSchemaFromString parses and constructs a schema in one step.
func NewSchemaFromString(data string) (*Schema, error) {
	tables, err := ParseDeclaration([]byte(data))
	if err != nil {
		return nil, err
	}
	return ConstructSchema(tables)
}

func (decl TableDecl) Table() (*Table, error) {
	primary_key, err := parsePrimaryKey(decl.PrimaryKey)
	if err != nil {
		return nil, types.InvalidSchemaError("Invalid primary key on table %s: %s", decl.Name, err.Error())
	}

	fields := make([]*Field, 0, len(decl.Rows))
	for _, row := range decl.Rows {
		field, err := Normalize(row)
		if err != nil {
			return nil, types.InvalidSchemaError("Invalid row on table %s: %s", decl.Name, err.Error())
		}
		fields = append(fields, field)
	}
	return NewTable(decl.Name, primary_key, fields...), nil
}

func parsePrimaryKey(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("missing")
	}
	if raw[0] == '"' {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return nil, err
		}
		return []string{name}, nil
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// Normalize expands a row declaration into a Field. A row is either the tuple
// [name, type, options?] or a full object.
func Normalize(decl json.RawMessage) (*Field, error) {
	decl = bytes.TrimSpace(decl)
	if len(decl) == 0 {
		return nil, fmt.Errorf("empty row declaration")
	}

	if decl[0] == '{' {
		var obj rowObject
		if err := json.Unmarshal(decl, &obj); err != nil {
			return nil, err
		}
		field := &Field{
			Name:        obj.Name,
			BuiltinType: obj.Type,
			Unique:      obj.Unique,
			Optional:    obj.Optional,
			Index:       obj.Index,
			Relation:    obj.Relation,
		}
		if len(obj.Default) > 0 && !bytes.Equal(obj.Default, []byte("null")) {
			var value any
			if err := json.Unmarshal(obj.Default, &value); err != nil {
				return nil, err
			}
			field.Default = resolveDefault(value)
		}
		return field, nil
	}

	var tuple []json.RawMessage
	if err := json.Unmarshal(decl, &tuple); err != nil {
		return nil, err
	}
	if len(tuple) < 2 || len(tuple) > 3 {
		return nil, fmt.Errorf("row tuple must have 2 or 3 elements, got %d", len(tuple))
	}

	field := &Field{}
	if err := json.Unmarshal(tuple[0], &field.Name); err != nil {
		return nil, fmt.Errorf("Invalid row name %s", tuple[0])
	}
	if err := json.Unmarshal(tuple[1], &field.BuiltinType); err != nil {
		return nil, fmt.Errorf("Invalid type for row %s: %s", field.Name, tuple[1])
	}
	if len(tuple) == 2 {
		return field, nil
	}

	opts, err := props.ParseOptions(tuple[2])
	if err != nil {
		return nil, fmt.Errorf("row %s: %s", field.Name, err.Error())
	}
	field.Unique = opts.Unique
	field.Optional = opts.Optional
	field.Index = opts.Index
	if opts.HasDefault && opts.Default != nil {
		field.Default = resolveDefault(opts.Default)
	}
	if opts.Relation != nil {
		field.Relation = &Relation{
			LocalField:   opts.Relation.LocalField,
			ForeignField: opts.Relation.ForeignField,
			ForeignTable: opts.Relation.ForeignTable,
		}
	}
	return field, nil
}

func resolveDefault(value any) any {
	if name, ok := value.(string); ok {
		if gen, ok := DefaultGenerators[name]; ok {
			return gen
		}
	}
	return value
}
